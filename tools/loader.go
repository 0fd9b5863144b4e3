// Copyright (C) 2025 SpotLight AI (oss@spotlightai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package tools builds the per-request tool runtime for workflows.
//
// This file assembles tool configs into a runnable registry and wires the
// observability hooks that surface tool activity as stream frames.
package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/spotlightai/engine/datatypes"
)

// Runner executes one tool invocation.
type Runner interface {
	// Name returns the tool's unique name as declared in the request.
	Name() string
	// Run invokes the tool with model-supplied arguments. The result must be
	// JSON-serializable.
	Run(ctx context.Context, args map[string]any) (any, error)
}

// Hooks observe tool invocations. Each hook fires at most once per
// invocation; when hooks are wired, the caller must rely on them instead of
// forwarding the workflow's native tool events, or clients see duplicates.
type Hooks struct {
	OnStart  func(name string, args map[string]any)
	OnResult func(name string, result any)
	OnError  func(name string, err error)
}

// BuildRuntime assembles the tool registry for one request.
//
// # Inputs
//
//   - cfgs: Validated tool configs from the request payload.
//   - vault: Request-scoped secret vault for auth header injection. May be
//     nil when no tool uses auth_config.
//   - hooks: Optional invocation observers; nil disables hook dispatch.
//   - defaultTimeout: Applied to HTTP tools that do not set their own.
//
// # Outputs
//
//   - map[string]Runner keyed by tool name.
//   - error: Duplicate tool names or an unknown tool type.
func BuildRuntime(cfgs []datatypes.ToolConfig, vault *Vault, hooks *Hooks, defaultTimeout time.Duration) (map[string]Runner, error) {
	runtime := make(map[string]Runner, len(cfgs))
	for _, cfg := range cfgs {
		if _, exists := runtime[cfg.Name]; exists {
			return nil, fmt.Errorf("duplicate tool name %q", cfg.Name)
		}
		var inner Runner
		switch cfg.Type {
		case "HTTP", "":
			inner = newHTTPTool(cfg, vault, defaultTimeout)
		case "NATIVE":
			inner = &nativeTool{name: cfg.Name}
		default:
			return nil, fmt.Errorf("unknown tool type %q for tool %q", cfg.Type, cfg.Name)
		}
		runtime[cfg.Name] = &hookedRunner{inner: inner, hooks: hooks}
	}
	return runtime, nil
}

// nativeTool is a placeholder for in-process tools. Registration succeeds so
// payloads validate, but invocation reports the tool as unimplemented.
type nativeTool struct {
	name string
}

var _ Runner = (*nativeTool)(nil)

func (t *nativeTool) Name() string { return t.name }

func (t *nativeTool) Run(_ context.Context, _ map[string]any) (any, error) {
	return nil, fmt.Errorf("native tool %q is not implemented", t.name)
}

// hookedRunner wraps a Runner with at-most-once hook dispatch.
type hookedRunner struct {
	inner Runner
	hooks *Hooks
}

var _ Runner = (*hookedRunner)(nil)

func (r *hookedRunner) Name() string { return r.inner.Name() }

func (r *hookedRunner) Run(ctx context.Context, args map[string]any) (any, error) {
	if r.hooks != nil && r.hooks.OnStart != nil {
		r.hooks.OnStart(r.inner.Name(), args)
	}
	result, err := r.inner.Run(ctx, args)
	if err != nil {
		if r.hooks != nil && r.hooks.OnError != nil {
			r.hooks.OnError(r.inner.Name(), err)
		}
		return nil, err
	}
	if r.hooks != nil && r.hooks.OnResult != nil {
		r.hooks.OnResult(r.inner.Name(), result)
	}
	return result, nil
}
