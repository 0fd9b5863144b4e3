// Copyright (C) 2025 SpotLight AI (oss@spotlightai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package tools builds the per-request tool runtime for workflows.
//
// This file implements the HTTP tool runner: one remote endpoint exposed to
// the model as a callable tool.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/spotlightai/engine/datatypes"
)

// MaxToolResponseBytes caps how much of a tool response body is read.
// Oversized responses are truncated, not rejected; the model still gets the
// leading content.
const MaxToolResponseBytes = 1 << 20 // 1 MiB

// httpTool invokes a remote HTTP endpoint with model-supplied arguments.
//
// # Description
//
// GET and DELETE calls carry args as query parameters (values stringified);
// POST and PUT send args as a JSON body. Static headers from the config are
// applied first, then the vault-backed auth header, so credentials cannot be
// overridden by config. Responses are decoded as JSON when possible and
// otherwise wrapped as {"text": <body>} so tool results are always
// structured.
type httpTool struct {
	cfg    datatypes.ToolConfig
	vault  *Vault
	client *http.Client
}

func newHTTPTool(cfg datatypes.ToolConfig, vault *Vault, defaultTimeout time.Duration) *httpTool {
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &httpTool{
		cfg:    cfg,
		vault:  vault,
		client: &http.Client{Timeout: timeout},
	}
}

var _ Runner = (*httpTool)(nil)

func (t *httpTool) Name() string { return t.cfg.Name }

func (t *httpTool) Run(ctx context.Context, args map[string]any) (any, error) {
	req, err := t.buildRequest(ctx, args)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tool %q: %w", t.cfg.Name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxToolResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("tool %q: reading response: %w", t.cfg.Name, err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("tool %q: endpoint returned %d", t.cfg.Name, resp.StatusCode)
	}

	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return map[string]any{"text": string(body)}, nil
	}
	return decoded, nil
}

func (t *httpTool) buildRequest(ctx context.Context, args map[string]any) (*http.Request, error) {
	var (
		req *http.Request
		err error
	)
	switch t.cfg.Method {
	case http.MethodGet, http.MethodDelete:
		target, qerr := appendQuery(t.cfg.URL, args)
		if qerr != nil {
			return nil, fmt.Errorf("tool %q: %w", t.cfg.Name, qerr)
		}
		req, err = http.NewRequestWithContext(ctx, t.cfg.Method, target, nil)
	case http.MethodPost, http.MethodPut:
		body, merr := json.Marshal(args)
		if merr != nil {
			return nil, fmt.Errorf("tool %q: encoding args: %w", t.cfg.Name, merr)
		}
		req, err = http.NewRequestWithContext(ctx, t.cfg.Method, t.cfg.URL, bytes.NewReader(body))
		if req != nil {
			req.Header.Set("Content-Type", "application/json")
		}
	default:
		return nil, fmt.Errorf("tool %q: unsupported method %q", t.cfg.Name, t.cfg.Method)
	}
	if err != nil {
		return nil, fmt.Errorf("tool %q: %w", t.cfg.Name, err)
	}

	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}
	if auth := t.cfg.AuthConfig; auth != nil {
		if t.vault == nil {
			return nil, fmt.Errorf("tool %q: auth configured but no vault supplied", t.cfg.Name)
		}
		err := t.vault.Use(auth.Source, func(secret string) error {
			req.Header.Set(auth.Target, secret)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("tool %q: %w", t.cfg.Name, err)
		}
	}
	return req, nil
}

// appendQuery merges args into the URL's query string. Non-string values are
// rendered with their JSON encoding so nested args survive the trip.
func appendQuery(rawURL string, args map[string]any) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parsing url: %w", err)
	}
	q := u.Query()
	for k, v := range args {
		switch s := v.(type) {
		case string:
			q.Set(k, s)
		default:
			b, err := json.Marshal(v)
			if err != nil {
				q.Set(k, fmt.Sprintf("%v", v))
				continue
			}
			q.Set(k, string(b))
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
