// Copyright (C) 2025 SpotLight AI (oss@spotlightai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm builds model clients from per-request configuration.
//
// Every run_workflow request carries its own ModelConfig, so clients are
// constructed per request rather than held globally. Only OpenAI-protocol
// backends are supported; self-hosted deployments point BaseURL at their
// gateway.
package llm

import (
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/spotlightai/engine/datatypes"
)

// Factory constructs a model client for one request. Declared as a function
// type so handlers can inject mock models in tests.
type Factory func(cfg datatypes.ModelConfig) (llms.Model, error)

// NewModel builds an OpenAI-protocol client from the request's model config.
//
// # Inputs
//
//   - cfg: Validated model configuration. ModelName is required; BaseURL and
//     APIKey are optional overrides (APIKey falls back to the OPENAI_API_KEY
//     environment variable inside the client library).
//
// # Outputs
//
//   - llms.Model: Ready-to-call client.
//   - error: Construction failure (missing credentials, bad URL). The caller
//     must sanitize this before it reaches a client.
func NewModel(cfg datatypes.ModelConfig) (llms.Model, error) {
	opts := []openai.Option{
		openai.WithModel(cfg.ModelName),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	if cfg.APIKey != "" {
		opts = append(opts, openai.WithToken(cfg.APIKey))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("building model client for %q: %w", cfg.ModelName, err)
	}
	return model, nil
}

// CallOptions translates the sampling controls in cfg into call options.
// Zero values are omitted so backend defaults apply.
func CallOptions(cfg datatypes.ModelConfig) []llms.CallOption {
	var opts []llms.CallOption
	if cfg.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(cfg.Temperature))
	}
	if cfg.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(cfg.MaxTokens))
	}
	return opts
}
