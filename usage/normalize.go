// Copyright (C) 2025 SpotLight AI (oss@spotlightai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package usage extracts token-count records from heterogeneous model output.
//
// Model runtimes disagree about where usage lives and what the fields are
// called: some nest it under "usage", some under "token_usage" inside
// "llm_output", some use OpenAI's prompt/completion naming and some use
// input/output naming. Normalize walks the candidate locations and produces
// one canonical Summary, or nil when no usage is present. It never returns an
// error: a malformed count is worth less than a finished stream, so anything
// uncoercible collapses to zero.
package usage

import (
	"reflect"
	"strconv"
	"strings"
	"unicode"
)

// Summary is the canonical token-count record.
type Summary struct {
	PromptTokens     uint64
	CompletionTokens uint64
	TotalTokens      uint64
}

// nestedKeys are the containers worth descending into, in priority order.
var nestedKeys = []string{
	"usage",
	"token_usage",
	"usage_metadata",
	"response_metadata",
	"metadata",
	"llm_output",
}

// usageKeys are the fields whose presence marks a node as a usage record.
var usageKeys = []string{
	"prompt_tokens",
	"completion_tokens",
	"total_tokens",
	"input_tokens",
	"output_tokens",
}

// Normalize walks payload looking for a usage record and returns it in
// canonical form, or nil if none is found.
//
// # Description
//
// The walk is an iterative depth-first search over map-like nodes (maps with
// string keys, and structs viewed through their json tags). A node is
// accepted as soon as it carries any recognized usage field; acceptance stops
// the search. Containers listed in nestedKeys are explored in priority order,
// so a top-level "usage" beats a "token_usage" buried in "llm_output".
//
// # Field Resolution
//
//   - prompt:     prompt_tokens; if absent or zero, input_tokens; if still
//     zero, the sum of prompt_tokens_details.
//   - completion: completion_tokens; if absent or zero, output_tokens; if
//     still zero, the sum of completion_tokens_details.
//   - total:      total_tokens; if absent or zero, prompt + completion.
//
// # Limitations
//
// Values that are not numeric (or numeric strings) coerce to zero. Cyclic
// payloads terminate via an identity set over pointers, maps, and slices.
func Normalize(payload any) *Summary {
	if payload == nil {
		return nil
	}
	visited := make(map[uintptr]struct{})
	stack := []any{payload}

	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if node == nil || !markVisited(visited, node) {
			continue
		}
		m, ok := mapView(node)
		if !ok {
			continue
		}
		if s, found := extract(m); found {
			return s
		}
		// Reverse push so the first nestedKey is popped first.
		for i := len(nestedKeys) - 1; i >= 0; i-- {
			if child, ok := m[nestedKeys[i]]; ok {
				stack = append(stack, child)
			}
		}
	}
	return nil
}

// extract reads a Summary out of a map-like node. found is false when none
// of the recognized usage fields are present.
func extract(m map[string]any) (s *Summary, found bool) {
	present := false
	for _, k := range usageKeys {
		if _, ok := m[k]; ok {
			present = true
			break
		}
	}
	if !present {
		return nil, false
	}

	// A zero primary field is treated the same as an absent one: runtimes
	// that use the input/output naming often carry prompt_tokens: 0 alongside
	// the real counts, so zero means "try the next fallback".
	prompt, ok := coerce(m["prompt_tokens"])
	if !ok || prompt == 0 {
		if prompt, ok = coerce(m["input_tokens"]); !ok || prompt == 0 {
			prompt = sumDetails(m["prompt_tokens_details"])
		}
	}
	completion, ok := coerce(m["completion_tokens"])
	if !ok || completion == 0 {
		if completion, ok = coerce(m["output_tokens"]); !ok || completion == 0 {
			completion = sumDetails(m["completion_tokens_details"])
		}
	}
	total, ok := coerce(m["total_tokens"])
	if !ok || total == 0 {
		total = prompt + completion
	}
	return &Summary{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: total}, true
}

// sumDetails adds up every numeric value in a detail breakdown map.
func sumDetails(v any) uint64 {
	m, ok := mapView(v)
	if !ok {
		return 0
	}
	var sum uint64
	for _, dv := range m {
		if n, ok := coerce(dv); ok {
			sum += n
		}
	}
	return sum
}

// coerce converts a value to a non-negative token count. Numeric strings
// count as numeric. ok is false when the value is absent, non-numeric, or an
// unparsable string; callers treat that as "try the fallback".
func coerce(v any) (uint64, bool) {
	switch n := v.(type) {
	case nil:
		return 0, false
	case string:
		t := strings.TrimSpace(n)
		if t == "" {
			return 0, false
		}
		if u, err := strconv.ParseUint(t, 10, 64); err == nil {
			return u, true
		}
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			if f < 0 {
				return 0, true
			}
			return uint64(f), true
		}
		return 0, false
	case int:
		if n < 0 {
			return 0, true
		}
		return uint64(n), true
	case int32:
		if n < 0 {
			return 0, true
		}
		return uint64(n), true
	case int64:
		if n < 0 {
			return 0, true
		}
		return uint64(n), true
	case uint:
		return uint64(n), true
	case uint32:
		return uint64(n), true
	case uint64:
		return n, true
	case float32:
		if n < 0 {
			return 0, true
		}
		return uint64(n), true
	case float64:
		if n < 0 {
			return 0, true
		}
		return uint64(n), true
	}
	return 0, false
}

// markVisited records identity for reference-like values and reports whether
// the node is new. Value types are always considered new; they cannot form
// cycles.
func markVisited(visited map[uintptr]struct{}, node any) bool {
	rv := reflect.ValueOf(node)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice:
		if rv.IsNil() {
			return false
		}
		p := rv.Pointer()
		if _, seen := visited[p]; seen {
			return false
		}
		visited[p] = struct{}{}
	}
	return true
}

// mapView presents a node as map[string]any when possible: string-keyed maps
// directly, structs through their json tags (snake_case field name when
// untagged).
func mapView(node any) (map[string]any, bool) {
	if m, ok := node.(map[string]any); ok {
		return m, true
	}
	rv := reflect.ValueOf(node)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = iter.Value().Interface()
		}
		return out, true
	case reflect.Struct:
		rt := rv.Type()
		out := make(map[string]any, rt.NumField())
		for i := 0; i < rt.NumField(); i++ {
			f := rt.Field(i)
			if !f.IsExported() {
				continue
			}
			name := f.Name
			if tag, ok := f.Tag.Lookup("json"); ok {
				tagName, _, _ := strings.Cut(tag, ",")
				if tagName == "-" {
					continue
				}
				if tagName != "" {
					name = tagName
				}
			} else {
				name = snakeCase(name)
			}
			out[name] = rv.Field(i).Interface()
		}
		return out, true
	}
	return nil, false
}

func snakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
