// Copyright (C) 2025 SpotLight AI (oss@spotlightai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides request and response types for the engine.
//
// This file contains the workflow execution payload: the single request body
// accepted by POST /v1/run_workflow. Knowledge-base types live in
// knowledge.go.
package datatypes

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a single message content.
	// Byte length, not rune count; oversized inputs are rejected before any
	// model call.
	MaxMessageContentBytes = 32 * 1024 // 32KB

	// MaxMessagesPerRequest is the maximum number of messages in a request.
	MaxMessagesPerRequest = 100
)

// ErrInvalidPayload marks request bodies that fail structural validation.
// Its message (and whatever wraps it) is safe to show to clients verbatim.
var ErrInvalidPayload = errors.New("invalid payload")

// =============================================================================
// Shared Validator Instance
// =============================================================================

// payloadValidate is the validator instance for engine datatypes.
// Initialized in init() with custom validators.
var payloadValidate *validator.Validate

func init() {
	payloadValidate = validator.New()
	_ = payloadValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes validates that a field's serialized form does not exceed
// MaxMessageContentBytes.
//
// Message content is schemaless (string, or structured content parts), so
// non-string values are measured by their JSON encoding.
func validateMaxBytes(fl validator.FieldLevel) bool {
	f := fl.Field()
	if f.Kind() == reflect.String {
		return len(f.String()) <= MaxMessageContentBytes
	}
	if !f.CanInterface() {
		return true
	}
	b, err := json.Marshal(f.Interface())
	if err != nil {
		return false
	}
	return len(b) <= MaxMessageContentBytes
}

// =============================================================================
// Workflow Execution Payload
// =============================================================================

// TaskMeta identifies one workflow run.
//
// # Fields
//
//   - WorkflowID: Required. Key into the workflow registry.
//   - TraceID: Required. Client-supplied correlation id, echoed in every
//     frame and log record for this stream.
//   - UserID: Optional. Opaque end-user identifier for audit logs.
type TaskMeta struct {
	WorkflowID string `json:"workflow_id" validate:"required"`
	TraceID    string `json:"trace_id" validate:"required"`
	UserID     string `json:"user_id,omitempty"`
}

// Message is one turn of conversation history.
//
// # Fields
//
//   - Role: Required. One of "system", "user", "assistant", "tool".
//   - Content: The turn content. Usually a string; structured content parts
//     are carried through opaquely. Limited to 32KB serialized.
//   - ToolCalls: Assistant turns only. Tool invocations in either the
//     OpenAI function-wrapper shape or a flat {name, args} shape.
//   - ToolCallID: Tool turns only. The invocation this result answers.
type Message struct {
	Role       string           `json:"role" validate:"required,oneof=system user assistant tool"`
	Content    any              `json:"content" validate:"maxbytes"`
	ToolCalls  []map[string]any `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

// ContentString renders the message content as plain text. Structured
// content falls back to its JSON encoding.
func (m *Message) ContentString() string {
	switch c := m.Content.(type) {
	case nil:
		return ""
	case string:
		return c
	default:
		b, err := json.Marshal(c)
		if err != nil {
			return fmt.Sprintf("%v", c)
		}
		return string(b)
	}
}

// Input carries the conversation and template variables for a run.
type Input struct {
	Messages  []Message      `json:"messages" validate:"required,min=1,max=100,dive"`
	Variables map[string]any `json:"variables,omitempty"`
}

// ModelConfig selects and parameterizes the model backend for a run.
//
// # Fields
//
//   - Provider: Optional backend hint; only OpenAI-protocol backends are
//     supported, so this is informational.
//   - ModelName: Required. Model identifier passed to the backend.
//   - BaseURL: Optional. Overrides the backend endpoint (self-hosted or
//     proxy deployments).
//   - APIKey: Optional. Bearer credential for the backend.
//   - Temperature / MaxTokens: Standard sampling controls. Temperature
//     defaults to 0.7 when unset.
//   - SupportsReasoningEvents: When true the workflow may surface model
//     reasoning as thinking frames.
type ModelConfig struct {
	Provider                string  `json:"provider,omitempty"`
	ModelName               string  `json:"model_name" validate:"required"`
	BaseURL                 string  `json:"base_url,omitempty"`
	APIKey                  string  `json:"api_key,omitempty"`
	Temperature             float64 `json:"temperature" validate:"gte=0,lte=2"`
	MaxTokens               int     `json:"max_tokens" validate:"gte=0"`
	SupportsReasoningEvents bool    `json:"supports_reasoning_events,omitempty"`
}

// AuthConfig describes vault-backed credential injection for an HTTP tool:
// the secret stored under Source in the request vault is sent as the Target
// header on every call.
type AuthConfig struct {
	Source string `json:"source" validate:"required"`
	Target string `json:"target" validate:"required"`
}

// ToolConfig declares one tool available to the workflow.
//
// # Fields
//
//   - Name: Required. Unique within the request; surfaced in tool frames.
//   - Type: "HTTP" (remote endpoint) or "NATIVE" (in-process, currently
//     registration-only). Defaults to HTTP.
//   - Description: Shown to the model as the tool's purpose.
//   - Parameters: JSON-schema object describing the tool arguments.
//   - URL / Method / Headers / AuthConfig / TimeoutSeconds: HTTP transport
//     details. Method defaults to GET; timeout defaults to the engine-wide
//     HTTP tool timeout.
type ToolConfig struct {
	Name           string            `json:"name" validate:"required"`
	Type           string            `json:"type" validate:"omitempty,oneof=HTTP NATIVE"`
	Description    string            `json:"description,omitempty"`
	Parameters     map[string]any    `json:"parameters,omitempty"`
	URL            string            `json:"url,omitempty"`
	Method         string            `json:"method,omitempty" validate:"omitempty,oneof=GET POST PUT DELETE"`
	Headers        map[string]string `json:"headers,omitempty"`
	AuthConfig     *AuthConfig       `json:"auth_config,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty" validate:"gte=0"`
}

// RuntimeConfig carries per-request runtime wiring: the model, the tool set,
// and the secret vault referenced by tool auth configs.
//
// Vault values are request-scoped secrets. They are moved into locked memory
// immediately after binding and must never be logged.
type RuntimeConfig struct {
	Model ModelConfig       `json:"model" validate:"required"`
	Tools []ToolConfig      `json:"tools,omitempty" validate:"omitempty,dive"`
	Vault map[string]string `json:"vault,omitempty"`
}

// Payload is the request body for POST /v1/run_workflow.
type Payload struct {
	TaskMeta      TaskMeta      `json:"task_meta" validate:"required"`
	Input         Input         `json:"input" validate:"required"`
	RuntimeConfig RuntimeConfig `json:"runtime_config" validate:"required"`
}

// Validate validates the payload after JSON binding. Failures wrap
// ErrInvalidPayload so callers can pass the message through to the client.
func (p *Payload) Validate() error {
	if err := payloadValidate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// EnsureDefaults populates default values for optional fields.
func (p *Payload) EnsureDefaults() {
	if p.RuntimeConfig.Model.Temperature == 0 {
		p.RuntimeConfig.Model.Temperature = 0.7
	}
	for i := range p.RuntimeConfig.Tools {
		t := &p.RuntimeConfig.Tools[i]
		if t.Type == "" {
			t.Type = "HTTP"
		}
		if t.Method == "" {
			t.Method = "GET"
		}
	}
}
