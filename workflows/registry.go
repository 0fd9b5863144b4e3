// Copyright (C) 2025 SpotLight AI (oss@spotlightai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package workflows

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownWorkflow marks lookups of unregistered workflow ids. Its message
// is safe to show to clients verbatim.
var ErrUnknownWorkflow = errors.New("unknown workflow_id")

// Registry maps workflow ids to builders.
//
// # Thread Safety
//
// Registration normally happens once at startup, but the registry is
// mutex-guarded so tests can register fixtures concurrently.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{builders: make(map[string]Builder)}
}

// DefaultRegistry returns a registry with the built-in workflows installed.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(AgentChatID, AgentChat)
	return r
}

// Register installs a builder under id, replacing any previous entry.
func (r *Registry) Register(id string, b Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[id] = b
}

// Lookup resolves id to a builder. Unknown ids return ErrUnknownWorkflow
// with the offending id in the message.
func (r *Registry) Lookup(id string) (Builder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.builders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkflow, id)
	}
	return b, nil
}

// List returns the registered workflow ids, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.builders))
	for id := range r.builders {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
