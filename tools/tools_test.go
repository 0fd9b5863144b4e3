// Copyright (C) 2025 SpotLight AI (oss@spotlightai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spotlightai/engine/datatypes"
)

func TestVaultUse(t *testing.T) {
	v := NewVault(map[string]string{"api_key": "s3cret"})

	assert.True(t, v.Has("api_key"))
	assert.False(t, v.Has("missing"))

	var seen string
	err := v.Use("api_key", func(secret string) error {
		seen = secret
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "s3cret", seen)

	// Enclaves are reusable across invocations.
	require.NoError(t, v.Use("api_key", func(string) error { return nil }))

	err = v.Use("missing", func(string) error { return nil })
	assert.Error(t, err)
}

func TestHTTPToolGetSendsQueryParams(t *testing.T) {
	var gotQuery, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("query")
		gotAuth = r.Header.Get("X-Api-Key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"hits": 3}`))
	}))
	defer srv.Close()

	vault := NewVault(map[string]string{"search_key": "k-123"})
	tool := newHTTPTool(datatypes.ToolConfig{
		Name:       "search",
		Type:       "HTTP",
		URL:        srv.URL,
		Method:     "GET",
		AuthConfig: &datatypes.AuthConfig{Source: "search_key", Target: "X-Api-Key"},
	}, vault, 5*time.Second)

	result, err := tool.Run(context.Background(), map[string]any{"query": "golang"})
	require.NoError(t, err)
	assert.Equal(t, "golang", gotQuery)
	assert.Equal(t, "k-123", gotAuth)
	assert.Equal(t, map[string]any{"hits": float64(3)}, result)
}

func TestHTTPToolPostSendsJSONBody(t *testing.T) {
	var gotBody map[string]any
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	tool := newHTTPTool(datatypes.ToolConfig{
		Name:   "submit",
		URL:    srv.URL,
		Method: "POST",
	}, nil, 5*time.Second)

	_, err := tool.Run(context.Background(), map[string]any{"title": "hello", "count": 2})
	require.NoError(t, err)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "hello", gotBody["title"])
	assert.Equal(t, float64(2), gotBody["count"])
}

func TestHTTPToolNonJSONResponseWrapsAsText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("plain text answer"))
	}))
	defer srv.Close()

	tool := newHTTPTool(datatypes.ToolConfig{Name: "t", URL: srv.URL, Method: "GET"}, nil, time.Second)
	result, err := tool.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"text": "plain text answer"}, result)
}

func TestHTTPToolErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	tool := newHTTPTool(datatypes.ToolConfig{Name: "t", URL: srv.URL, Method: "GET"}, nil, time.Second)
	_, err := tool.Run(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestHTTPToolAuthWithoutVault(t *testing.T) {
	tool := newHTTPTool(datatypes.ToolConfig{
		Name:       "t",
		URL:        "http://localhost:1",
		Method:     "GET",
		AuthConfig: &datatypes.AuthConfig{Source: "k", Target: "X-K"},
	}, nil, time.Second)
	_, err := tool.Run(context.Background(), nil)
	assert.Error(t, err)
}

func TestBuildRuntime(t *testing.T) {
	cfgs := []datatypes.ToolConfig{
		{Name: "search", Type: "HTTP", URL: "http://svc/search", Method: "GET"},
		{Name: "calc", Type: "NATIVE"},
	}
	runtime, err := BuildRuntime(cfgs, nil, nil, 30*time.Second)
	require.NoError(t, err)
	require.Len(t, runtime, 2)
	assert.Equal(t, "search", runtime["search"].Name())

	// NATIVE tools register but refuse to run.
	_, err = runtime["calc"].Run(context.Background(), nil)
	assert.Error(t, err)
}

func TestBuildRuntimeDuplicateNames(t *testing.T) {
	cfgs := []datatypes.ToolConfig{
		{Name: "x", Type: "HTTP"},
		{Name: "x", Type: "HTTP"},
	}
	_, err := BuildRuntime(cfgs, nil, nil, time.Second)
	assert.Error(t, err)
}

func TestHookedRunnerDispatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"answer": 7}`))
	}))
	defer srv.Close()

	var starts, results, errors int
	hooks := &Hooks{
		OnStart:  func(string, map[string]any) { starts++ },
		OnResult: func(string, any) { results++ },
		OnError:  func(string, error) { errors++ },
	}
	runtime, err := BuildRuntime([]datatypes.ToolConfig{
		{Name: "ok", Type: "HTTP", URL: srv.URL, Method: "GET"},
		{Name: "broken", Type: "NATIVE"},
	}, nil, hooks, time.Second)
	require.NoError(t, err)

	_, err = runtime["ok"].Run(context.Background(), map[string]any{"q": "x"})
	require.NoError(t, err)
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, results)
	assert.Equal(t, 0, errors)

	_, err = runtime["broken"].Run(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, 2, starts)
	assert.Equal(t, 1, results, "OnResult must not fire on failure")
	assert.Equal(t, 1, errors)
}
