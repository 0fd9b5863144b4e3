// Copyright (C) 2025 SpotLight AI (oss@spotlightai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package sse encodes outbound stream events into Server-Sent Event frames.
//
// One frame is one protocol message:
//
//	id: <sequence>
//	event: <type>
//	data: <json>
//	<blank line>
//
// Keepalives are comment-only frames (": keep-alive") that carry no event
// type and no sequence number; conforming clients ignore them. Every data
// frame embeds the session trace_id so a client can correlate streams if
// they are multiplexed at a higher layer.
package sse

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
)

// =============================================================================
// Event Types
// =============================================================================

// EventType identifies the kind of an outbound stream event.
type EventType string

const (
	EventThinking     EventType = "thinking"
	EventToolStart    EventType = "tool_start"
	EventToolResult   EventType = "tool_result"
	EventMessageChunk EventType = "message_chunk"
	EventDone         EventType = "done"
	EventError        EventType = "error"
)

// Usage is the canonical token-count record carried by done frames.
type Usage struct {
	PromptTokens     uint64 `json:"prompt_tokens"`
	CompletionTokens uint64 `json:"completion_tokens"`
	TotalTokens      uint64 `json:"total_tokens"`
}

// =============================================================================
// Payload Shapes
// =============================================================================

type thinkingPayload struct {
	Msg     string `json:"msg"`
	TraceID string `json:"trace_id"`
}

type toolStartPayload struct {
	ToolName string         `json:"tool_name"`
	Args     map[string]any `json:"args"`
	TraceID  string         `json:"trace_id"`
}

type toolResultPayload struct {
	ToolName string          `json:"tool_name"`
	Result   json.RawMessage `json:"result"`
	TraceID  string          `json:"trace_id"`
}

type chunkPayload struct {
	Content string `json:"content"`
	TraceID string `json:"trace_id"`
}

type donePayload struct {
	Usage        Usage  `json:"usage"`
	FinishReason string `json:"finish_reason"`
	TraceID      string `json:"trace_id"`
}

type errorPayload struct {
	Code    int    `json:"code"`
	Msg     string `json:"msg"`
	TraceID string `json:"trace_id"`
}

// =============================================================================
// Encoder
// =============================================================================

// Encoder turns typed events into wire frames for a single stream.
//
// # Description
//
// The encoder assigns a monotonically increasing sequence id at encode time.
// Sequence ids exist only for client-side dedup and resume; the server never
// reorders frames. Encoding is otherwise pure and deterministic: the same
// event with the same sequence produces the same bytes.
//
// # Thread Safety
//
// Safe for concurrent use; the sequence counter is atomic. In practice a
// stream has a single encoding producer plus the heartbeat ticker.
type Encoder struct {
	traceID string
	seq     atomic.Uint64
}

// NewEncoder creates an Encoder bound to the session's trace id.
func NewEncoder(traceID string) *Encoder {
	return &Encoder{traceID: traceID}
}

// TraceID returns the trace id frames are stamped with.
func (e *Encoder) TraceID() string { return e.traceID }

// encode marshals data and wraps it in the SSE frame format.
// Marshal failures degrade to a quoted string payload rather than aborting
// the stream; tool results are the only caller-supplied shapes.
func (e *Encoder) encode(event EventType, data any) []byte {
	body, err := json.Marshal(data)
	if err != nil {
		body, _ = json.Marshal(fmt.Sprintf("%v", data))
	}
	seq := e.seq.Add(1)
	return fmt.Appendf(nil, "id: %d\nevent: %s\ndata: %s\n\n", seq, event, body)
}

// Thinking encodes a progress/thinking frame.
func (e *Encoder) Thinking(msg string) []byte {
	return e.encode(EventThinking, thinkingPayload{Msg: msg, TraceID: e.traceID})
}

// ToolStart encodes a tool invocation frame.
func (e *Encoder) ToolStart(toolName string, args map[string]any) []byte {
	if args == nil {
		args = map[string]any{}
	}
	return e.encode(EventToolStart, toolStartPayload{ToolName: toolName, Args: args, TraceID: e.traceID})
}

// ToolResult encodes a tool completion frame. The result may be any
// JSON-serializable value; non-serializable values are stringified.
func (e *Encoder) ToolResult(toolName string, result any) []byte {
	raw, err := json.Marshal(result)
	if err != nil {
		raw, _ = json.Marshal(fmt.Sprintf("%v", result))
	}
	return e.encode(EventToolResult, toolResultPayload{ToolName: toolName, Result: raw, TraceID: e.traceID})
}

// MessageChunk encodes an assistant content fragment.
func (e *Encoder) MessageChunk(content string) []byte {
	return e.encode(EventMessageChunk, chunkPayload{Content: content, TraceID: e.traceID})
}

// Done encodes the terminal done frame.
//
// usage accepts a Usage record, or a bare integer total for backward
// compatibility with older emitters, in which case it expands to
// {0, 0, total}. Any other shape yields an all-zero usage record.
func (e *Encoder) Done(usage any, finishReason string) []byte {
	return e.encode(EventDone, donePayload{
		Usage:        coerceUsage(usage),
		FinishReason: finishReason,
		TraceID:      e.traceID,
	})
}

// Error encodes an error frame. msg must already be sanitized by the caller;
// raw exception text never belongs on the wire.
func (e *Encoder) Error(code int, msg string) []byte {
	return e.encode(EventError, errorPayload{Code: code, Msg: msg, TraceID: e.traceID})
}

// KeepAlive returns a comment-only keepalive frame. It carries no sequence
// number and no event type.
func KeepAlive() []byte {
	return []byte(": keep-alive\n\n")
}

func coerceUsage(usage any) Usage {
	switch u := usage.(type) {
	case Usage:
		return u
	case *Usage:
		if u != nil {
			return *u
		}
	case int:
		if u > 0 {
			return Usage{TotalTokens: uint64(u)}
		}
	case int64:
		if u > 0 {
			return Usage{TotalTokens: uint64(u)}
		}
	case uint64:
		return Usage{TotalTokens: u}
	}
	return Usage{}
}
