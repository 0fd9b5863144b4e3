// Copyright (C) 2025 SpotLight AI (oss@spotlightai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package workflows defines the engine's workflow boundary and the built-in
// workflow implementations.
//
// This file implements agent_chat: a tool-calling conversation loop. The
// model is invoked with the conversation and the declared tool schemas;
// streamed content surfaces as chat_model_stream events, tool calls are
// executed through the request's tool runtime, and their results are fed
// back until the model stops calling tools or the iteration limit trips.
package workflows

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/tmc/langchaingo/llms"

	"github.com/spotlightai/engine/datatypes"
	"github.com/spotlightai/engine/llm"
	"github.com/spotlightai/engine/tools"
)

// AgentChatID is the registry key for the agent chat workflow.
const AgentChatID = "agent_chat"

// maxToolIterations bounds the generate/execute loop. A model that is still
// requesting tools after this many rounds is looping; the run aborts rather
// than burn tokens indefinitely.
const maxToolIterations = 5

// ErrToolIterationLimit aborts runs whose model never stops calling tools.
var ErrToolIterationLimit = errors.New("tool calling exceeded maximum iterations")

// AgentChat builds the event stream for one agent chat run.
//
// # Description
//
// Message conversion happens eagerly so malformed histories fail before any
// event is produced. The generation loop runs in its own goroutine and hands
// events over a channel; the returned stream is lazy, ordered, and
// non-restartable. Cancelling ctx stops the loop at the next event boundary.
func AgentChat(ctx context.Context, req *Request) (EventStream, error) {
	msgs, err := toModelMessages(req.Payload.Input.Messages)
	if err != nil {
		return nil, err
	}
	s := newChanStream()
	go runAgentChat(ctx, req, msgs, s)
	return s, nil
}

// =============================================================================
// Channel-backed EventStream
// =============================================================================

type streamItem struct {
	event Event
	err   error
}

// chanStream adapts a producing goroutine to the EventStream interface.
// A closed channel means clean exhaustion (io.EOF); an item carrying an
// error is a stream-level abort.
type chanStream struct {
	ch chan streamItem
}

var _ EventStream = (*chanStream)(nil)

func newChanStream() *chanStream {
	return &chanStream{ch: make(chan streamItem)}
}

func (s *chanStream) Next(ctx context.Context) (Event, error) {
	select {
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case item, ok := <-s.ch:
		if !ok {
			return Event{}, io.EOF
		}
		return item.event, item.err
	}
}

// emit delivers an event, reporting false when the consumer is gone.
func (s *chanStream) emit(ctx context.Context, ev Event) bool {
	select {
	case <-ctx.Done():
		return false
	case s.ch <- streamItem{event: ev}:
		return true
	}
}

// fail delivers a stream-level abort. Best effort: a cancelled consumer
// never sees it.
func (s *chanStream) fail(ctx context.Context, err error) {
	select {
	case <-ctx.Done():
	case s.ch <- streamItem{err: err}:
	}
}

// =============================================================================
// Generation Loop
// =============================================================================

func runAgentChat(ctx context.Context, req *Request, msgs []llms.MessageContent, s *chanStream) {
	defer close(s.ch)

	cfg := req.Payload.RuntimeConfig.Model
	baseOpts := llm.CallOptions(cfg)
	if defs := toolDefinitions(req.Payload.RuntimeConfig.Tools); len(defs) > 0 {
		baseOpts = append(baseOpts, llms.WithTools(defs))
	}

	for iter := 0; iter < maxToolIterations; iter++ {
		opts := append([]llms.CallOption{}, baseOpts...)
		opts = append(opts, llms.WithStreamingFunc(func(cbCtx context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			if !s.emit(cbCtx, Event{Name: EventChatModelStream, Payload: map[string]any{"content": string(chunk)}}) {
				return cbCtx.Err()
			}
			return nil
		}))

		resp, err := req.Model.GenerateContent(ctx, msgs, opts...)
		if err != nil {
			s.fail(ctx, fmt.Errorf("model generation: %w", err))
			return
		}
		if len(resp.Choices) == 0 {
			s.fail(ctx, errors.New("model returned no choices"))
			return
		}
		choice := resp.Choices[0]

		if !s.emit(ctx, Event{Name: EventChatModelEnd, Payload: map[string]any{
			"llm_output": map[string]any{"token_usage": generationUsage(choice.GenerationInfo)},
		}}) {
			return
		}

		if len(choice.ToolCalls) == 0 {
			finish := choice.StopReason
			if finish == "" {
				finish = "stop"
			}
			s.emit(ctx, Event{Name: EventChainEnd, Payload: map[string]any{
				"finish_reason": finish,
				"output":        choice.Content,
			}})
			return
		}

		msgs = append(msgs, assistantTurn(choice))
		for _, tc := range choice.ToolCalls {
			reply, ok := s.executeToolCall(ctx, req.Tools, tc)
			if !ok {
				return
			}
			msgs = append(msgs, reply)
		}
	}
	s.fail(ctx, ErrToolIterationLimit)
}

// assistantTurn rebuilds the assistant message that requested the tool
// calls, so the follow-up generation sees its own request in history.
func assistantTurn(choice *llms.ContentChoice) llms.MessageContent {
	turn := llms.MessageContent{Role: llms.ChatMessageTypeAI}
	if choice.Content != "" {
		turn.Parts = append(turn.Parts, llms.TextContent{Text: choice.Content})
	}
	for _, tc := range choice.ToolCalls {
		turn.Parts = append(turn.Parts, tc)
	}
	return turn
}

// executeToolCall runs one requested tool and returns the tool reply message.
// ok is false when the consumer went away mid-execution.
func (s *chanStream) executeToolCall(ctx context.Context, runtime map[string]tools.Runner, tc llms.ToolCall) (llms.MessageContent, bool) {
	name := ""
	args := map[string]any{}
	if tc.FunctionCall != nil {
		name = tc.FunctionCall.Name
		if tc.FunctionCall.Arguments != "" {
			// Tolerate malformed argument JSON; the tool sees empty args and
			// the model gets its error back as a result.
			_ = json.Unmarshal([]byte(tc.FunctionCall.Arguments), &args)
		}
	}

	if !s.emit(ctx, Event{Name: EventToolStart, Payload: map[string]any{"tool_name": name, "args": args}}) {
		return llms.MessageContent{}, false
	}

	var content string
	runner, found := runtime[name]
	if !found {
		err := fmt.Errorf("tool %q is not registered", name)
		if !s.emit(ctx, Event{Name: EventToolError, Payload: map[string]any{"tool_name": name, "error": err.Error()}}) {
			return llms.MessageContent{}, false
		}
		content = toolErrorContent(err)
	} else if result, err := runner.Run(ctx, args); err != nil {
		if !s.emit(ctx, Event{Name: EventToolError, Payload: map[string]any{"tool_name": name, "error": err.Error()}}) {
			return llms.MessageContent{}, false
		}
		content = toolErrorContent(err)
	} else {
		if !s.emit(ctx, Event{Name: EventToolEnd, Payload: map[string]any{"tool_name": name, "result": result}}) {
			return llms.MessageContent{}, false
		}
		content = toolResultContent(result)
	}

	return llms.MessageContent{
		Role: llms.ChatMessageTypeTool,
		Parts: []llms.ContentPart{llms.ToolCallResponse{
			ToolCallID: tc.ID,
			Name:       name,
			Content:    content,
		}},
	}, true
}

func toolResultContent(result any) string {
	b, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("%v", result)
	}
	return string(b)
}

func toolErrorContent(err error) string {
	b, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(b)
}

// generationUsage lifts langchaingo's generation info into the wire-side
// token_usage shape.
func generationUsage(info map[string]any) map[string]any {
	usage := map[string]any{}
	if v, ok := info["PromptTokens"]; ok {
		usage["prompt_tokens"] = v
	}
	if v, ok := info["CompletionTokens"]; ok {
		usage["completion_tokens"] = v
	}
	if v, ok := info["TotalTokens"]; ok {
		usage["total_tokens"] = v
	}
	return usage
}

// =============================================================================
// Message and Tool Conversion
// =============================================================================

// toModelMessages converts request history into model messages. Unknown
// roles are rejected here rather than surfacing as a backend 400 later.
func toModelMessages(in []datatypes.Message) ([]llms.MessageContent, error) {
	out := make([]llms.MessageContent, 0, len(in))
	for i := range in {
		m := &in[i]
		switch m.Role {
		case "system":
			out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, m.ContentString()))
		case "user":
			out = append(out, llms.TextParts(llms.ChatMessageTypeHuman, m.ContentString()))
		case "assistant":
			turn := llms.MessageContent{Role: llms.ChatMessageTypeAI}
			if text := m.ContentString(); text != "" {
				turn.Parts = append(turn.Parts, llms.TextContent{Text: text})
			}
			for _, raw := range m.ToolCalls {
				tc, err := normalizeToolCall(raw)
				if err != nil {
					return nil, fmt.Errorf("message %d: %w", i, err)
				}
				turn.Parts = append(turn.Parts, tc)
			}
			out = append(out, turn)
		case "tool":
			out = append(out, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: m.ToolCallID,
					Content:    m.ContentString(),
				}},
			})
		default:
			return nil, fmt.Errorf("message %d: unsupported role %q", i, m.Role)
		}
	}
	return out, nil
}

// normalizeToolCall accepts both historical tool-call shapes: the OpenAI
// function wrapper ({"id","type","function":{"name","arguments"}}) and the
// flat form ({"name","args"}).
func normalizeToolCall(raw map[string]any) (llms.ToolCall, error) {
	tc := llms.ToolCall{Type: "function"}
	if id, ok := raw["id"].(string); ok {
		tc.ID = id
	}

	var name string
	var args any
	if fn, ok := raw["function"].(map[string]any); ok {
		name, _ = fn["name"].(string)
		args = fn["arguments"]
	} else {
		name, _ = raw["name"].(string)
		args = raw["args"]
		if args == nil {
			args = raw["arguments"]
		}
	}
	if name == "" {
		return llms.ToolCall{}, errors.New("tool call missing function name")
	}
	tc.FunctionCall = &llms.FunctionCall{Name: name, Arguments: stringifyArgs(args)}
	return tc, nil
}

func stringifyArgs(args any) string {
	switch a := args.(type) {
	case nil:
		return "{}"
	case string:
		if a == "" {
			return "{}"
		}
		return a
	default:
		b, err := json.Marshal(a)
		if err != nil {
			return "{}"
		}
		return string(b)
	}
}

// toolDefinitions converts declared tool configs into model tool schemas.
func toolDefinitions(cfgs []datatypes.ToolConfig) []llms.Tool {
	defs := make([]llms.Tool, 0, len(cfgs))
	for _, cfg := range cfgs {
		params := cfg.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		defs = append(defs, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        cfg.Name,
				Description: cfg.Description,
				Parameters:  params,
			},
		})
	}
	return defs
}
