// Copyright (C) 2025 SpotLight AI (oss@spotlightai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package workflows

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/spotlightai/engine/datatypes"
	"github.com/spotlightai/engine/tools"
)

// =============================================================================
// Test Doubles
// =============================================================================

// mockModel scripts GenerateContent responses and replays streaming chunks
// through the caller's streaming func.
type mockModel struct {
	responses    []*llms.ContentResponse
	chunksPerGen [][]string
	err          error

	callCount    int
	seenMessages [][]llms.MessageContent
	seenTools    [][]llms.Tool
}

func (m *mockModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{}
	for _, o := range options {
		o(&opts)
	}
	m.seenMessages = append(m.seenMessages, messages)
	m.seenTools = append(m.seenTools, opts.Tools)

	if m.err != nil {
		return nil, m.err
	}
	idx := m.callCount
	m.callCount++
	if idx < len(m.chunksPerGen) && opts.StreamingFunc != nil {
		for _, chunk := range m.chunksPerGen[idx] {
			if err := opts.StreamingFunc(ctx, []byte(chunk)); err != nil {
				return nil, err
			}
		}
	}
	if idx >= len(m.responses) {
		// Script exhausted: keep returning the last response.
		idx = len(m.responses) - 1
	}
	return m.responses[idx], nil
}

func (m *mockModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	resp, err := m.GenerateContent(ctx, []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)}, options...)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Content, nil
}

type stubRunner struct {
	name   string
	result any
	err    error
	calls  int
}

func (r *stubRunner) Name() string { return r.name }

func (r *stubRunner) Run(_ context.Context, _ map[string]any) (any, error) {
	r.calls++
	return r.result, r.err
}

func textResponse(content, stopReason string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		Content:    content,
		StopReason: stopReason,
		GenerationInfo: map[string]any{
			"PromptTokens":     3,
			"CompletionTokens": 5,
			"TotalTokens":      8,
		},
	}}}
}

func toolCallResponse(toolName, argsJSON string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		StopReason: "tool_calls",
		ToolCalls: []llms.ToolCall{{
			ID:           "call-1",
			Type:         "function",
			FunctionCall: &llms.FunctionCall{Name: toolName, Arguments: argsJSON},
		}},
		GenerationInfo: map[string]any{"TotalTokens": 2},
	}}}
}

func chatRequest(model llms.Model, runtime map[string]tools.Runner, cfgs ...datatypes.ToolConfig) *Request {
	return &Request{
		Payload: &datatypes.Payload{
			TaskMeta: datatypes.TaskMeta{WorkflowID: AgentChatID, TraceID: "t-1"},
			Input: datatypes.Input{
				Messages: []datatypes.Message{{Role: "user", Content: "hi"}},
			},
			RuntimeConfig: datatypes.RuntimeConfig{
				Model: datatypes.ModelConfig{ModelName: "test-model"},
				Tools: cfgs,
			},
		},
		Model: model,
		Tools: runtime,
	}
}

// drain consumes the stream until EOF or error, returning everything seen.
func drain(t *testing.T, s EventStream) ([]Event, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var events []Event
	for {
		ev, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}

func eventNames(events []Event) []string {
	names := make([]string, len(events))
	for i, ev := range events {
		names[i] = ev.Name
	}
	return names
}

// =============================================================================
// Tests
// =============================================================================

func TestAgentChatPlainGeneration(t *testing.T) {
	model := &mockModel{
		responses:    []*llms.ContentResponse{textResponse("Hello there", "stop")},
		chunksPerGen: [][]string{{"Hello", " there"}},
	}
	s, err := AgentChat(context.Background(), chatRequest(model, nil))
	require.NoError(t, err)

	events, err := drain(t, s)
	require.NoError(t, err)
	assert.Equal(t, []string{
		EventChatModelStream, EventChatModelStream, EventChatModelEnd, EventChainEnd,
	}, eventNames(events))

	chunk := events[0].Payload.(map[string]any)
	assert.Equal(t, "Hello", chunk["content"])

	end := events[2].Payload.(map[string]any)
	tokenUsage := end["llm_output"].(map[string]any)["token_usage"].(map[string]any)
	assert.Equal(t, 8, tokenUsage["total_tokens"])

	chain := events[3].Payload.(map[string]any)
	assert.Equal(t, "stop", chain["finish_reason"])
	assert.Equal(t, "Hello there", chain["output"])
}

func TestAgentChatToolLoop(t *testing.T) {
	model := &mockModel{
		responses: []*llms.ContentResponse{
			toolCallResponse("search", `{"query":"go"}`),
			textResponse("Found it", "stop"),
		},
	}
	runner := &stubRunner{name: "search", result: map[string]any{"hits": 1}}
	req := chatRequest(model, map[string]tools.Runner{"search": runner},
		datatypes.ToolConfig{Name: "search", Description: "search things"})

	s, err := AgentChat(context.Background(), req)
	require.NoError(t, err)

	events, err := drain(t, s)
	require.NoError(t, err)
	assert.Equal(t, []string{
		EventChatModelEnd, EventToolStart, EventToolEnd, EventChatModelEnd, EventChainEnd,
	}, eventNames(events))
	assert.Equal(t, 1, runner.calls)

	start := events[1].Payload.(map[string]any)
	assert.Equal(t, "search", start["tool_name"])
	assert.Equal(t, map[string]any{"query": "go"}, start["args"])

	// Tool schemas were bound on the first call.
	require.Len(t, model.seenTools[0], 1)
	assert.Equal(t, "search", model.seenTools[0][0].Function.Name)

	// The second generation saw the assistant turn and the tool reply.
	require.Equal(t, 2, model.callCount)
	assert.Len(t, model.seenMessages[0], 1)
	assert.Len(t, model.seenMessages[1], 3)
}

func TestAgentChatUnregisteredTool(t *testing.T) {
	model := &mockModel{
		responses: []*llms.ContentResponse{
			toolCallResponse("ghost", `{}`),
			textResponse("sorry", "stop"),
		},
	}
	s, err := AgentChat(context.Background(), chatRequest(model, nil))
	require.NoError(t, err)

	events, err := drain(t, s)
	require.NoError(t, err)
	assert.Contains(t, eventNames(events), EventToolError)
	// The run still completes; the model gets the error as a tool reply.
	assert.Equal(t, EventChainEnd, events[len(events)-1].Name)
}

func TestAgentChatToolRunnerError(t *testing.T) {
	model := &mockModel{
		responses: []*llms.ContentResponse{
			toolCallResponse("search", `{}`),
			textResponse("recovered", "stop"),
		},
	}
	runner := &stubRunner{name: "search", err: errors.New("endpoint returned 500")}
	s, err := AgentChat(context.Background(), chatRequest(model, map[string]tools.Runner{"search": runner}))
	require.NoError(t, err)

	events, err := drain(t, s)
	require.NoError(t, err)
	assert.Contains(t, eventNames(events), EventToolError)
	assert.Equal(t, EventChainEnd, events[len(events)-1].Name)
}

func TestAgentChatIterationLimit(t *testing.T) {
	// The model never stops asking for tools.
	model := &mockModel{
		responses: []*llms.ContentResponse{toolCallResponse("search", `{}`)},
	}
	runner := &stubRunner{name: "search", result: "ok"}
	s, err := AgentChat(context.Background(), chatRequest(model, map[string]tools.Runner{"search": runner}))
	require.NoError(t, err)

	_, err = drain(t, s)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrToolIterationLimit)
	assert.Equal(t, 5, model.callCount)
}

func TestAgentChatModelFailure(t *testing.T) {
	model := &mockModel{err: errors.New("connection refused")}
	s, err := AgentChat(context.Background(), chatRequest(model, nil))
	require.NoError(t, err)

	_, err = drain(t, s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model generation")
}

func TestAgentChatRejectsBadHistory(t *testing.T) {
	req := chatRequest(&mockModel{responses: []*llms.ContentResponse{textResponse("x", "stop")}}, nil)
	req.Payload.Input.Messages = []datatypes.Message{{Role: "robot", Content: "beep"}}
	_, err := AgentChat(context.Background(), req)
	assert.Error(t, err)
}

func TestAgentChatCancelledConsumer(t *testing.T) {
	model := &mockModel{responses: []*llms.ContentResponse{textResponse("slow", "stop")}}
	s, err := AgentChat(context.Background(), chatRequest(model, nil))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

// =============================================================================
// Conversion Helpers
// =============================================================================

func TestToModelMessagesRoles(t *testing.T) {
	msgs, err := toModelMessages([]datatypes.Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
		{Role: "tool", Content: `{"ok":true}`, ToolCallID: "call-9"},
	})
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, llms.ChatMessageTypeSystem, msgs[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, msgs[1].Role)
	assert.Equal(t, llms.ChatMessageTypeAI, msgs[2].Role)
	assert.Equal(t, llms.ChatMessageTypeTool, msgs[3].Role)

	reply, ok := msgs[3].Parts[0].(llms.ToolCallResponse)
	require.True(t, ok)
	assert.Equal(t, "call-9", reply.ToolCallID)
}

func TestNormalizeToolCallShapes(t *testing.T) {
	// OpenAI function wrapper.
	tc, err := normalizeToolCall(map[string]any{
		"id":   "call-1",
		"type": "function",
		"function": map[string]any{
			"name":      "search",
			"arguments": `{"q":"go"}`,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "call-1", tc.ID)
	assert.Equal(t, "search", tc.FunctionCall.Name)
	assert.JSONEq(t, `{"q":"go"}`, tc.FunctionCall.Arguments)

	// Flat shape with structured args.
	tc, err = normalizeToolCall(map[string]any{
		"name": "calc",
		"args": map[string]any{"x": float64(2)},
	})
	require.NoError(t, err)
	assert.Equal(t, "calc", tc.FunctionCall.Name)
	assert.JSONEq(t, `{"x":2}`, tc.FunctionCall.Arguments)

	// Missing name is rejected.
	_, err = normalizeToolCall(map[string]any{"args": map[string]any{}})
	assert.Error(t, err)
}

func TestToolDefinitionsDefaultSchema(t *testing.T) {
	defs := toolDefinitions([]datatypes.ToolConfig{{Name: "bare"}})
	require.Len(t, defs, 1)
	params, ok := defs[0].Function.Parameters.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "object", params["type"])
}
