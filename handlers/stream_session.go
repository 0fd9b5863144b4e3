// Copyright (C) 2025 SpotLight AI (oss@spotlightai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers provides HTTP request handlers for the engine.
//
// This file implements the streaming session: the producer goroutine that
// drives one workflow run and translates its sub-events into wire frames on
// the session queue, plus the heartbeat ticker that shares the queue.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"sync/atomic"
	"time"

	"github.com/spotlightai/engine/datatypes"
	"github.com/spotlightai/engine/llm"
	"github.com/spotlightai/engine/sse"
	"github.com/spotlightai/engine/tools"
	"github.com/spotlightai/engine/usage"
	"github.com/spotlightai/engine/workflows"
)

// =============================================================================
// Constants
// =============================================================================

// streamQueueCapacity bounds the session frame queue. Frames are small text
// payloads; 256 absorbs model bursts without back-pressuring the producer on
// a healthy client.
const streamQueueCapacity = 256

// identityFinishReason marks runs answered by the identity short-circuit.
const identityFinishReason = "identity"

// identityReply is the canned answer for identity questions.
const identityReply = "I am the SpotLight execution engine, an assistant that runs " +
	"configured workflows and tools on your behalf."

// identityPhrases are matched against the latest user message after
// normalization (lowercase, trailing punctuation stripped).
var identityPhrases = map[string]struct{}{
	"who are you":        {},
	"what are you":       {},
	"who r u":            {},
	"introduce yourself": {},
	"你是谁":                {},
}

// =============================================================================
// Queue Items
// =============================================================================

// queueItem is one entry on the session queue: a wire frame tagged with its
// event type for metrics, or the terminal marker ending the drain loop.
type queueItem struct {
	frame    []byte
	event    string
	terminal bool
}

// =============================================================================
// Stream Session
// =============================================================================

// streamSession owns the producer side of one run_workflow stream.
//
// # Description
//
// The session accumulates streamed text and usage while translating workflow
// sub-events into frames. All mutable state is scoped to one session; nothing
// here is shared across requests.
//
// # Concurrency
//
// run executes on its own goroutine. The queue is written by run and the
// heartbeat ticker, and drained by the request handler. Enqueues give up
// when ctx is cancelled so a vanished client never wedges the producer.
type streamSession struct {
	payload      *datatypes.Payload
	registry     *workflows.Registry
	modelFactory llm.Factory
	toolTimeout  time.Duration
	enc          *sse.Encoder
	queue        chan queueItem
	log          *slog.Logger

	// Producer-scoped accumulation state.
	buf          strings.Builder
	sentLen      int
	usage        *usage.Summary
	finishReason string
	softError    atomic.Bool
	hooksWired   bool
}

func newStreamSession(payload *datatypes.Payload, registry *workflows.Registry, factory llm.Factory, toolTimeout time.Duration, log *slog.Logger) *streamSession {
	return &streamSession{
		payload:      payload,
		registry:     registry,
		modelFactory: factory,
		toolTimeout:  toolTimeout,
		enc:          sse.NewEncoder(payload.TaskMeta.TraceID),
		queue:        make(chan queueItem, streamQueueCapacity),
		log:          log,
		finishReason: "stop",
	}
}

// enqueue places an item on the queue, giving up when ctx is cancelled.
func (s *streamSession) enqueue(ctx context.Context, item queueItem) bool {
	select {
	case <-ctx.Done():
		return false
	case s.queue <- item:
		return true
	}
}

func (s *streamSession) enqueueFrame(ctx context.Context, event sse.EventType, frame []byte) bool {
	return s.enqueue(ctx, queueItem{frame: frame, event: string(event)})
}

// run drives the workflow and produces frames. It always enqueues the
// terminal marker exactly once, on every exit path including panics.
func (s *streamSession) run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("producer panicked", "panic", r)
			s.enqueueFrame(ctx, sse.EventError, s.enc.Error(500, genericStreamError))
		}
		s.enqueue(ctx, queueItem{terminal: true})
	}()

	// Identity questions are answered without building any model or tool
	// resource. Checked exactly once, before everything else.
	if s.isIdentityQuestion() {
		s.enqueueFrame(ctx, sse.EventMessageChunk, s.enc.MessageChunk(identityReply))
		s.enqueueFrame(ctx, sse.EventDone, s.enc.Done(sse.Usage{}, identityFinishReason))
		s.log.Info("identity short-circuit answered")
		return
	}

	s.enqueueFrame(ctx, sse.EventThinking, s.enc.Thinking("Initializing workflow..."))

	builder, err := s.registry.Lookup(s.payload.TaskMeta.WorkflowID)
	if err != nil {
		s.failTopLevel(ctx, err)
		return
	}

	s.enqueueFrame(ctx, sse.EventThinking, s.enc.Thinking("Connecting model service..."))
	model, err := s.modelFactory(s.payload.RuntimeConfig.Model)
	if err != nil {
		s.failTopLevel(ctx, err)
		return
	}

	s.enqueueFrame(ctx, sse.EventThinking, s.enc.Thinking("Loading tools..."))
	vault := tools.NewVault(s.payload.RuntimeConfig.Vault)
	hooks := s.toolHooks(ctx)
	runtime, err := tools.BuildRuntime(s.payload.RuntimeConfig.Tools, vault, hooks, s.toolTimeout)
	if err != nil {
		s.failTopLevel(ctx, err)
		return
	}

	s.enqueueFrame(ctx, sse.EventThinking, s.enc.Thinking("Building workflow..."))
	stream, err := builder(ctx, &workflows.Request{
		Payload: s.payload,
		Model:   model,
		Tools:   runtime,
	})
	if err != nil {
		s.failTopLevel(ctx, err)
		return
	}

	s.enqueueFrame(ctx, sse.EventThinking, s.enc.Thinking("Executing workflow..."))
	for {
		ev, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				// Client is gone; nothing left to tell it.
				return
			}
			// Stream-level abort: whatever text accumulated but never made
			// it onto the queue still reaches the client, then the run
			// completes with done.
			s.log.Error("workflow stream aborted", "error", err)
			s.softError.Store(true)
			break
		}
		s.handleEvent(ctx, ev)
	}

	s.flushPending(ctx)
	s.enqueueFrame(ctx, sse.EventDone, s.enc.Done(s.doneUsage(), s.finishReason))
	s.log.Info("workflow stream completed",
		"finish_reason", s.finishReason,
		"soft_error", s.softError.Load(),
		"content_len", s.buf.Len())
}

// failTopLevel reports a failure that happened before or outside the event
// loop. The client gets a single error frame and no done frame.
func (s *streamSession) failTopLevel(ctx context.Context, err error) {
	code, msg := sanitizeError(err)
	s.log.Error("workflow run failed", "error", err, "client_code", code)
	s.enqueueFrame(ctx, sse.EventError, s.enc.Error(code, msg))
}

// handleEvent processes one workflow sub-event. Handling errors are tier-1
// soft errors: logged, remembered for the completion log, never fatal.
func (s *streamSession) handleEvent(ctx context.Context, ev workflows.Event) {
	switch ev.Name {
	case workflows.EventChatModelStream:
		frag, ok := extractFragment(ev.Payload)
		if !ok {
			s.log.Warn("unreadable content chunk", "payload_type", typeName(ev.Payload))
			s.softError.Store(true)
			return
		}
		s.absorbUsage(ev.Payload)
		if frag == "" {
			return
		}
		s.buf.WriteString(frag)
		if s.enqueueFrame(ctx, sse.EventMessageChunk, s.enc.MessageChunk(frag)) {
			s.sentLen = s.buf.Len()
		}

	case workflows.EventChatModelEnd:
		s.absorbUsage(ev.Payload)

	case workflows.EventToolStart:
		if s.hooksWired {
			return
		}
		name, args := toolEventFields(ev.Payload)
		s.enqueueFrame(ctx, sse.EventToolStart, s.enc.ToolStart(name, args))

	case workflows.EventToolEnd:
		if s.hooksWired {
			return
		}
		name, _ := toolEventFields(ev.Payload)
		s.enqueueFrame(ctx, sse.EventToolResult, s.enc.ToolResult(name, payloadField(ev.Payload, "result")))

	case workflows.EventToolError:
		s.softError.Store(true)
		if s.hooksWired {
			return
		}
		name, _ := toolEventFields(ev.Payload)
		s.enqueueFrame(ctx, sse.EventToolResult, s.enc.ToolResult(name, map[string]any{
			"error": payloadField(ev.Payload, "error"),
		}))

	case workflows.EventChainEnd:
		s.absorbUsage(ev.Payload)
		if reason, ok := payloadField(ev.Payload, "finish_reason").(string); ok && reason != "" {
			s.finishReason = reason
		}
		// A completion event may carry the full output, including text that
		// never went out as chunks; keep the tail for the final flush.
		if out, ok := payloadField(ev.Payload, "output").(string); ok {
			if cur := s.buf.String(); len(out) > len(cur) && strings.HasPrefix(out, cur) {
				s.buf.WriteString(out[len(cur):])
			}
		}

	default:
		s.log.Debug("ignoring unknown sub-event", "name", ev.Name)
	}
}

// flushPending emits text that accumulated but never reached the queue.
func (s *streamSession) flushPending(ctx context.Context) {
	pending := s.buf.String()[s.sentLen:]
	if pending == "" {
		return
	}
	if s.enqueueFrame(ctx, sse.EventMessageChunk, s.enc.MessageChunk(pending)) {
		s.sentLen = s.buf.Len()
	}
}

// absorbUsage runs the usage normalizer on a sub-event payload and keeps the
// result when it yields one.
func (s *streamSession) absorbUsage(payload any) {
	if summary := usage.Normalize(payload); summary != nil {
		s.usage = summary
	}
}

func (s *streamSession) doneUsage() sse.Usage {
	if s.usage == nil {
		return sse.Usage{}
	}
	return sse.Usage{
		PromptTokens:     s.usage.PromptTokens,
		CompletionTokens: s.usage.CompletionTokens,
		TotalTokens:      s.usage.TotalTokens,
	}
}

// toolHooks surfaces tool activity as frames at invocation time. With hooks
// wired, the workflow's native tool sub-events become a duplicate
// notification path, so handleEvent drops them; exactly one of the two paths
// produces frames for any given tool call.
func (s *streamSession) toolHooks(ctx context.Context) *tools.Hooks {
	s.hooksWired = true
	return &tools.Hooks{
		OnStart: func(name string, args map[string]any) {
			s.enqueueFrame(ctx, sse.EventToolStart, s.enc.ToolStart(name, args))
		},
		OnResult: func(name string, result any) {
			s.enqueueFrame(ctx, sse.EventToolResult, s.enc.ToolResult(name, result))
		},
		OnError: func(name string, err error) {
			s.softError.Store(true)
			s.enqueueFrame(ctx, sse.EventToolResult, s.enc.ToolResult(name, map[string]any{
				"error": err.Error(),
			}))
		},
	}
}

// isIdentityQuestion matches the latest user message against the identity
// phrase set.
func (s *streamSession) isIdentityQuestion() bool {
	var latest string
	for _, m := range s.payload.Input.Messages {
		if m.Role == "user" {
			latest = m.ContentString()
		}
	}
	normalized := strings.ToLower(strings.TrimSpace(latest))
	normalized = strings.TrimRight(normalized, "?!.？！。")
	normalized = strings.TrimSpace(normalized)
	_, ok := identityPhrases[normalized]
	return ok
}

// =============================================================================
// Payload Probing
// =============================================================================

// extractFragment pulls a text fragment out of an opaque content-chunk
// payload. Extractors run in fixed priority order: content key, text key,
// struct Content/Text field, then stringification of a non-empty scalar.
func extractFragment(payload any) (string, bool) {
	switch p := payload.(type) {
	case nil:
		return "", false
	case string:
		return p, true
	case map[string]any:
		if v, ok := p["content"].(string); ok {
			return v, true
		}
		if v, ok := p["text"].(string); ok {
			return v, true
		}
		return "", false
	}

	rv := reflect.ValueOf(payload)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return "", false
		}
		rv = rv.Elem()
	}
	if rv.Kind() == reflect.Struct {
		for _, field := range []string{"Content", "Text"} {
			f := rv.FieldByName(field)
			if f.IsValid() && f.Kind() == reflect.String {
				return f.String(), true
			}
		}
	}
	switch rv.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return fmt.Sprint(rv.Interface()), true
	}
	return "", false
}

// payloadField reads one key from a map-shaped payload, nil otherwise.
func payloadField(payload any, key string) any {
	if m, ok := payload.(map[string]any); ok {
		return m[key]
	}
	return nil
}

// toolEventFields extracts the tool name and args from a tool sub-event.
func toolEventFields(payload any) (string, map[string]any) {
	name, _ := payloadField(payload, "tool_name").(string)
	args, _ := payloadField(payload, "args").(map[string]any)
	return name, args
}

func typeName(v any) string {
	if v == nil {
		return "nil"
	}
	return reflect.TypeOf(v).String()
}

// =============================================================================
// Heartbeat
// =============================================================================

// runHeartbeat enqueues keepalive frames every interval until ctx is
// cancelled. Cancellation is re-checked after each tick so a frame is never
// enqueued once cancellation is requested. Callers must not start the
// heartbeat when the interval is zero or negative.
func runHeartbeat(ctx context.Context, interval time.Duration, enqueue func([]byte) bool) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			if !enqueue(sse.KeepAlive()) {
				return
			}
		}
	}
}
