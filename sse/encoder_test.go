// Copyright (C) 2025 SpotLight AI (oss@spotlightai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sse

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// parseFrame splits a wire frame into its id, event, and decoded data payload.
func parseFrame(t *testing.T, frame []byte) (id string, event string, data map[string]any) {
	t.Helper()
	s := string(frame)
	require.True(t, strings.HasSuffix(s, "\n\n"), "frame must end with a blank line")
	lines := strings.Split(strings.TrimSuffix(s, "\n\n"), "\n")
	require.Len(t, lines, 3)
	require.True(t, strings.HasPrefix(lines[0], "id: "))
	require.True(t, strings.HasPrefix(lines[1], "event: "))
	require.True(t, strings.HasPrefix(lines[2], "data: "))
	id = strings.TrimPrefix(lines[0], "id: ")
	event = strings.TrimPrefix(lines[1], "event: ")
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(lines[2], "data: ")), &data))
	return id, event, data
}

func TestEncoderFrameFormat(t *testing.T) {
	enc := NewEncoder("trace-123")

	id, event, data := parseFrame(t, enc.MessageChunk("hello"))
	assert.Equal(t, "1", id)
	assert.Equal(t, "message_chunk", event)
	assert.Equal(t, "hello", data["content"])
	assert.Equal(t, "trace-123", data["trace_id"])
}

func TestEncoderSequenceIsMonotonicPerStream(t *testing.T) {
	enc := NewEncoder("t1")
	other := NewEncoder("t2")

	id1, _, _ := parseFrame(t, enc.Thinking("warming up"))
	id2, _, _ := parseFrame(t, enc.MessageChunk("a"))
	id3, _, _ := parseFrame(t, enc.Done(Usage{}, "stop"))
	assert.Equal(t, []string{"1", "2", "3"}, []string{id1, id2, id3})

	// Streams do not share a counter.
	idOther, _, _ := parseFrame(t, other.Thinking("x"))
	assert.Equal(t, "1", idOther)
}

func TestEncoderToolFrames(t *testing.T) {
	enc := NewEncoder("trace-t")

	_, event, data := parseFrame(t, enc.ToolStart("search", map[string]any{"query": "go"}))
	assert.Equal(t, "tool_start", event)
	assert.Equal(t, "search", data["tool_name"])
	args, ok := data["args"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "go", args["query"])

	_, event, data = parseFrame(t, enc.ToolResult("search", map[string]any{"hits": float64(2)}))
	assert.Equal(t, "tool_result", event)
	result, ok := data["result"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(2), result["hits"])
}

func TestEncoderToolStartNilArgs(t *testing.T) {
	enc := NewEncoder("t")
	_, _, data := parseFrame(t, enc.ToolStart("noop", nil))
	args, ok := data["args"].(map[string]any)
	require.True(t, ok, "nil args must encode as an empty object, not null")
	assert.Empty(t, args)
}

func TestEncoderToolResultUnserializable(t *testing.T) {
	enc := NewEncoder("t")
	// Channels cannot be marshaled; the encoder must degrade, not panic.
	_, event, data := parseFrame(t, enc.ToolResult("bad", make(chan int)))
	assert.Equal(t, "tool_result", event)
	_, isString := data["result"].(string)
	assert.True(t, isString)
}

func TestEncoderDoneUsageShapes(t *testing.T) {
	tests := []struct {
		name  string
		usage any
		want  Usage
	}{
		{"full record", Usage{PromptTokens: 3, CompletionTokens: 5, TotalTokens: 8}, Usage{3, 5, 8}},
		{"pointer record", &Usage{TotalTokens: 7}, Usage{0, 0, 7}},
		{"bare int total", 42, Usage{0, 0, 42}},
		{"negative int", -1, Usage{}},
		{"nil", nil, Usage{}},
		{"garbage", "oops", Usage{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := NewEncoder("t")
			_, event, data := parseFrame(t, enc.Done(tt.usage, "stop"))
			assert.Equal(t, "done", event)
			assert.Equal(t, "stop", data["finish_reason"])
			usage, ok := data["usage"].(map[string]any)
			require.True(t, ok)
			assert.Equal(t, float64(tt.want.PromptTokens), usage["prompt_tokens"])
			assert.Equal(t, float64(tt.want.CompletionTokens), usage["completion_tokens"])
			assert.Equal(t, float64(tt.want.TotalTokens), usage["total_tokens"])
		})
	}
}

func TestEncoderErrorFrame(t *testing.T) {
	enc := NewEncoder("trace-err")
	_, event, data := parseFrame(t, enc.Error(500, "workflow execution failed"))
	assert.Equal(t, "error", event)
	assert.Equal(t, float64(500), data["code"])
	assert.Equal(t, "workflow execution failed", data["msg"])
	assert.Equal(t, "trace-err", data["trace_id"])
}

func TestKeepAliveIsCommentOnly(t *testing.T) {
	frame := string(KeepAlive())
	assert.Equal(t, ": keep-alive\n\n", frame)
	assert.NotContains(t, frame, "event:")
	assert.NotContains(t, frame, "id:")
}
