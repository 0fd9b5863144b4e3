// Copyright (C) 2025 SpotLight AI (oss@spotlightai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config provides environment-backed configuration for the engine.
//
// All knobs are plain environment variables with conservative defaults so the
// service starts with zero configuration in development. Values are read once
// at startup via Load; request handlers receive the resulting struct rather
// than touching the environment themselves.
package config

import (
	"os"
	"strconv"
	"time"
)

// =============================================================================
// Struct Definition
// =============================================================================

// Config holds all engine-wide settings.
//
// # Fields
//
//   - Port: HTTP listen port (ENGINE_PORT, default "8000").
//   - LogLevel: slog level name (LOG_LEVEL, default "INFO").
//   - KeepaliveInterval: SSE keepalive period. Zero or negative disables the
//     heartbeat entirely (SSE_KEEPALIVE_INTERVAL, seconds, default 30).
//   - HTTPToolTimeout: outbound timeout for HTTP tool calls
//     (HTTP_TOOL_TIMEOUT, seconds, default 30).
//   - KnowledgeDBPath: badger directory for knowledge-base metadata
//     (KNOWLEDGE_DB_PATH, default "./data/knowledge").
//   - WeaviateURL: default vector store endpoint for knowledge probes
//     (WEAVIATE_SERVICE_URL, may be empty).
//   - FileUploadURL: HTTP endpoint for the generic upload client
//     (FILE_UPLOAD_URL, may be empty).
type Config struct {
	Port              string
	LogLevel          string
	KeepaliveInterval time.Duration
	HTTPToolTimeout   time.Duration
	KnowledgeDBPath   string
	WeaviateURL       string
	FileUploadURL     string
}

// Load reads the configuration from the environment.
func Load() Config {
	return Config{
		Port:              getEnv("ENGINE_PORT", "8000"),
		LogLevel:          getEnv("LOG_LEVEL", "INFO"),
		KeepaliveInterval: time.Duration(getEnvInt("SSE_KEEPALIVE_INTERVAL", 30)) * time.Second,
		HTTPToolTimeout:   time.Duration(getEnvInt("HTTP_TOOL_TIMEOUT", 30)) * time.Second,
		KnowledgeDBPath:   getEnv("KNOWLEDGE_DB_PATH", "./data/knowledge"),
		WeaviateURL:       getEnv("WEAVIATE_SERVICE_URL", ""),
		FileUploadURL:     getEnv("FILE_UPLOAD_URL", ""),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
