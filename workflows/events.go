// Copyright (C) 2025 SpotLight AI (oss@spotlightai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package workflows defines the engine's workflow boundary and the built-in
// workflow implementations.
//
// A workflow is a builder that turns one validated request into a lazy,
// ordered stream of named sub-events. The streaming layer consumes the stream
// and translates sub-events into wire frames; workflows never touch the
// transport.
package workflows

import (
	"context"

	"github.com/tmc/langchaingo/llms"

	"github.com/spotlightai/engine/datatypes"
	"github.com/spotlightai/engine/tools"
)

// Sub-event names produced by workflows. Payload shapes are deliberately
// loose (map[string]any); consumers pick out the fields they understand and
// skip events they cannot interpret.
const (
	// EventChatModelStream carries one streamed content fragment:
	// {"content": string}.
	EventChatModelStream = "chat_model_stream"
	// EventChatModelEnd marks the end of one model generation and carries
	// usage metadata in the backend's native shape.
	EventChatModelEnd = "chat_model_end"
	// EventToolStart marks a tool invocation: {"tool_name", "args"}.
	EventToolStart = "tool_start"
	// EventToolEnd carries a tool result: {"tool_name", "result"}.
	EventToolEnd = "tool_end"
	// EventToolError carries a failed tool invocation: {"tool_name", "error"}.
	EventToolError = "tool_error"
	// EventChainEnd marks workflow completion: {"finish_reason", "output"}.
	EventChainEnd = "chain_end"
)

// Event is one named sub-event in a workflow's output sequence.
type Event struct {
	Name    string
	Payload any
}

// EventStream yields a workflow's sub-events in order.
//
// # Description
//
// Next blocks until the next event is available, the stream is exhausted
// (io.EOF), or ctx is done. A non-EOF error is a stream-level abort: the
// stream is dead and Next must not be called again. Streams are lazy and
// non-restartable; events already consumed are gone.
type EventStream interface {
	Next(ctx context.Context) (Event, error)
}

// Request is everything a workflow builder needs for one run. The caller
// owns construction of the model client and tool runtime so it can inject
// observability hooks and test doubles.
type Request struct {
	Payload *datatypes.Payload
	Model   llms.Model
	Tools   map[string]tools.Runner
}

// Builder constructs the event stream for one run. Builders validate their
// own preconditions and may fail before any event is produced.
type Builder func(ctx context.Context, req *Request) (EventStream, error)
