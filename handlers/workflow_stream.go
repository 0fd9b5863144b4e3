// Copyright (C) 2025 SpotLight AI (oss@spotlightai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers provides HTTP request handlers for the engine.
//
// This file implements the run_workflow endpoint: the stream orchestrator
// that owns the queue drain loop, the heartbeat lifecycle, and the producer
// join for one SSE response.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/spotlightai/engine/datatypes"
	"github.com/spotlightai/engine/llm"
	"github.com/spotlightai/engine/observability"
	"github.com/spotlightai/engine/sse"
	"github.com/spotlightai/engine/workflows"
)

// keepaliveEvent labels heartbeat items on the queue for metrics.
const keepaliveEvent = "keepalive"

// StreamHandler serves POST /v1/run_workflow.
type StreamHandler struct {
	registry          *workflows.Registry
	modelFactory      llm.Factory
	keepaliveInterval time.Duration
	toolTimeout       time.Duration
}

// NewStreamHandler builds the streaming handler.
//
// # Inputs
//
//   - registry: Workflow id → builder registry.
//   - factory: Model client factory; injectable for tests.
//   - keepaliveInterval: Heartbeat period; zero or negative disables the
//     heartbeat entirely.
//   - toolTimeout: Default timeout for HTTP tool invocations.
func NewStreamHandler(registry *workflows.Registry, factory llm.Factory, keepaliveInterval, toolTimeout time.Duration) *StreamHandler {
	return &StreamHandler{
		registry:          registry,
		modelFactory:      factory,
		keepaliveInterval: keepaliveInterval,
		toolTimeout:       toolTimeout,
	}
}

// HandleRunWorkflow executes a workflow and streams its events.
//
// # Description
//
// Transport-level failure (HTTP 4xx) is only possible before the first
// frame: malformed JSON or payload validation. Once SSE headers go out,
// every failure is surfaced inside the stream as an error frame.
//
// The handler drains the session queue strictly FIFO, forwarding every item
// to the transport except the terminal marker. After the drain loop it
// cancels the heartbeat and waits for it, then joins the producer, so no
// session goroutine outlives the request.
func (h *StreamHandler) HandleRunWorkflow(c *gin.Context) {
	m := observability.DefaultMetrics
	endpoint := observability.EndpointRunWorkflow

	var payload datatypes.Payload
	if err := c.ShouldBindJSON(&payload); err != nil {
		m.RecordRequest(endpoint, false)
		m.RecordError(endpoint, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	payload.EnsureDefaults()
	if err := payload.Validate(); err != nil {
		m.RecordRequest(endpoint, false)
		m.RecordError(endpoint, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	log := slog.With(
		"trace_id", payload.TaskMeta.TraceID,
		"workflow_id", payload.TaskMeta.WorkflowID,
		"endpoint", string(endpoint),
	)

	tracer := otel.Tracer("engine/handlers")
	ctx, span := tracer.Start(c.Request.Context(), "run_workflow",
		trace.WithAttributes(
			attribute.String("workflow.id", payload.TaskMeta.WorkflowID),
			attribute.String("workflow.trace_id", payload.TaskMeta.TraceID),
			attribute.Int("workflow.message_count", len(payload.Input.Messages)),
		))
	defer span.End()

	SetSSEHeaders(c.Writer)
	writer, err := NewFrameWriter(c.Writer)
	if err != nil {
		log.Error("response writer does not support streaming", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	start := time.Now()
	m.StreamStarted(endpoint)
	defer m.StreamEnded(endpoint)
	log.Info("starting workflow stream", "message_count", len(payload.Input.Messages))

	session := newStreamSession(&payload, h.registry, h.modelFactory, h.toolTimeout, log)

	var producerWG sync.WaitGroup
	producerWG.Add(1)
	go func() {
		defer producerWG.Done()
		session.run(ctx)
	}()

	hbCancel := func() {}
	var hbWG sync.WaitGroup
	if h.keepaliveInterval > 0 {
		var hbCtx context.Context
		hbCtx, hbCancel = context.WithCancel(ctx)
		hbWG.Add(1)
		go func() {
			defer hbWG.Done()
			runHeartbeat(hbCtx, h.keepaliveInterval, func(frame []byte) bool {
				return session.enqueue(hbCtx, queueItem{frame: frame, event: keepaliveEvent})
			})
		}()
	}

	success := true
	wroteFirst := false
	clientGone := false

drain:
	for {
		select {
		case <-ctx.Done():
			// Client disconnect cancels the request context; the producer is
			// joined below, never killed.
			success = false
			m.RecordClientDisconnect(endpoint)
			m.RecordError(endpoint, observability.ErrorCodeClientDisconnect)
			log.Warn("client disconnected mid-stream")
			break drain
		case item := <-session.queue:
			if item.terminal {
				break drain
			}
			if clientGone {
				// Keep draining so producer enqueues never block.
				continue
			}
			if err := writer.WriteFrame(item.frame); err != nil {
				clientGone = true
				success = false
				m.RecordClientDisconnect(endpoint)
				log.Warn("frame write failed", "error", err)
				continue
			}
			if !wroteFirst {
				wroteFirst = true
				m.RecordTimeToFirstFrame(endpoint, time.Since(start).Seconds())
			}
			m.RecordFrame(endpoint, item.event)
			switch item.event {
			case keepaliveEvent:
				m.RecordKeepAlive(endpoint)
			case string(sse.EventError):
				success = false
				m.RecordError(endpoint, observability.ErrorCodeWorkflowError)
			}
		}
	}

	hbCancel()
	hbWG.Wait()
	producerWG.Wait()

	if session.usage != nil {
		m.RecordTokens(
			int(session.usage.PromptTokens),
			int(session.usage.CompletionTokens),
			payload.RuntimeConfig.Model.ModelName,
		)
	}
	duration := time.Since(start)
	m.RecordStreamDuration(endpoint, duration.Seconds(), success)
	m.RecordRequest(endpoint, success)

	if success {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, "stream ended abnormally")
	}
	span.SetAttributes(
		attribute.Bool("stream.success", success),
		attribute.Int64("stream.duration_ms", duration.Milliseconds()),
	)
	log.Info("workflow stream finished",
		"success", success,
		"duration_ms", duration.Milliseconds())
}
