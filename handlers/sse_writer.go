// Copyright (C) 2025 SpotLight AI (oss@spotlightai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers provides HTTP request handlers for the engine.
//
// This file implements the SSE transport writer: pre-encoded frames go out
// on the response with an immediate flush per frame.
package handlers

import (
	"fmt"
	"net/http"
	"sync"
)

// =============================================================================
// Interface Definition
// =============================================================================

// FrameWriter writes pre-encoded SSE frames to an HTTP response.
//
// # Description
//
// Frames arrive fully encoded from the sse package; the writer only puts
// bytes on the wire and flushes so proxies and clients see each frame as
// soon as it exists.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
//
// # Assumptions
//
//   - Caller has set SSE headers via SetSSEHeaders before the first write.
type FrameWriter interface {
	// WriteFrame writes one frame and flushes. A write error means the
	// client is gone; the stream cannot recover.
	WriteFrame(frame []byte) error
}

// =============================================================================
// Implementation
// =============================================================================

type sseFrameWriter struct {
	mu      sync.Mutex
	writer  http.ResponseWriter
	flusher http.Flusher
}

var _ FrameWriter = (*sseFrameWriter)(nil)

// NewFrameWriter wraps an HTTP response for frame writing. Fails when the
// ResponseWriter cannot flush, which SSE requires.
func NewFrameWriter(w http.ResponseWriter) (FrameWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseFrameWriter{writer: w, flusher: flusher}, nil
}

func (w *sseFrameWriter) WriteFrame(frame []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.writer.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// SetSSEHeaders configures HTTP response headers for SSE streaming.
//
//   - Content-Type: text/event-stream
//   - Cache-Control: no-cache
//   - Connection: keep-alive
//   - X-Accel-Buffering: no (disables nginx buffering)
//
// Must be called before writing any response body.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}
