// Copyright (C) 2025 SpotLight AI (oss@spotlightai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the engine.
//
// Metrics use the default Prometheus registry and are exposed through the
// /metrics endpoint wired in main.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace   = "spotlight"
	streamingSubsystem = "streaming"
)

// DefaultMetrics is the package-level metrics instance, set by InitMetrics.
// Nil until initialized; all Record helpers tolerate a nil receiver so unit
// tests need no registry setup.
var DefaultMetrics *StreamingMetrics

// StreamingMetrics holds the engine's streaming metrics.
//
// # Metrics
//
//   - RequestsTotal: Counter of workflow requests by endpoint and status.
//   - FramesTotal: Counter of SSE frames written, by event type.
//   - TokensTotal: Counter of tokens by direction and model.
//   - TimeToFirstFrameSeconds: Histogram from request start to first frame.
//   - StreamDurationSeconds: Histogram of full stream durations.
//   - ActiveStreams: Gauge of in-flight streams.
//   - ErrorsTotal: Counter of errors by endpoint and error code.
//   - KeepAlivesTotal: Counter of keepalive frames sent.
//   - ClientDisconnectsTotal: Counter of mid-stream client disconnects.
type StreamingMetrics struct {
	RequestsTotal           *prometheus.CounterVec
	FramesTotal             *prometheus.CounterVec
	TokensTotal             *prometheus.CounterVec
	TimeToFirstFrameSeconds *prometheus.HistogramVec
	StreamDurationSeconds   *prometheus.HistogramVec
	ActiveStreams           *prometheus.GaugeVec
	ErrorsTotal             *prometheus.CounterVec
	KeepAlivesTotal         *prometheus.CounterVec
	ClientDisconnectsTotal  *prometheus.CounterVec
}

// InitMetrics registers all streaming metrics with the default registry and
// installs the result as DefaultMetrics. Call exactly once at startup;
// promauto panics on duplicate registration.
func InitMetrics() *StreamingMetrics {
	DefaultMetrics = &StreamingMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "requests_total",
				Help:      "Total number of workflow requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),

		FramesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "frames_total",
				Help:      "Total SSE frames written by event type",
			},
			[]string{"endpoint", "event"},
		),

		TokensTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "tokens_total",
				Help:      "Total tokens processed by direction and model",
			},
			[]string{"direction", "model"},
		),

		TimeToFirstFrameSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "time_to_first_frame_seconds",
				Help:      "Time from request start to first frame in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"endpoint"},
		),

		StreamDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Total stream duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"endpoint", "status"},
		),

		ActiveStreams: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "active_streams",
				Help:      "Number of currently active streaming connections",
			},
			[]string{"endpoint"},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "errors_total",
				Help:      "Total streaming errors by type and endpoint",
			},
			[]string{"endpoint", "error_code"},
		),

		KeepAlivesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "keepalives_total",
				Help:      "Total keepalive frames sent",
			},
			[]string{"endpoint"},
		),

		ClientDisconnectsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "client_disconnects_total",
				Help:      "Total client disconnections during streaming",
			},
			[]string{"endpoint"},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Error Codes
// =============================================================================

// ErrorCode categorizes errors for the errors_total metric.
type ErrorCode string

const (
	// ErrorCodeValidation indicates request validation failure.
	ErrorCodeValidation ErrorCode = "validation"

	// ErrorCodeUnknownWorkflow indicates an unregistered workflow id.
	ErrorCodeUnknownWorkflow ErrorCode = "unknown_workflow"

	// ErrorCodeWorkflowError indicates a workflow run aborted mid-stream.
	ErrorCodeWorkflowError ErrorCode = "workflow_error"

	// ErrorCodeToolError indicates a tool invocation failure.
	ErrorCodeToolError ErrorCode = "tool_error"

	// ErrorCodeInternal indicates an internal server error.
	ErrorCodeInternal ErrorCode = "internal"

	// ErrorCodeClientDisconnect indicates the client went away mid-stream.
	ErrorCodeClientDisconnect ErrorCode = "client_disconnect"
)

// =============================================================================
// Endpoint Names
// =============================================================================

// Endpoint labels metrics by the handler that produced them.
type Endpoint string

const (
	// EndpointRunWorkflow is the workflow execution streaming endpoint.
	EndpointRunWorkflow Endpoint = "run_workflow"

	// EndpointKnowledge covers the knowledge-base management endpoints.
	EndpointKnowledge Endpoint = "knowledge"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordRequest records a completed request.
func (m *StreamingMetrics) RecordRequest(endpoint Endpoint, success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.RequestsTotal.WithLabelValues(string(endpoint), status).Inc()
}

// RecordFrame records one written SSE frame by event type.
func (m *StreamingMetrics) RecordFrame(endpoint Endpoint, event string) {
	if m == nil {
		return
	}
	m.FramesTotal.WithLabelValues(string(endpoint), event).Inc()
}

// RecordError records an error occurrence.
func (m *StreamingMetrics) RecordError(endpoint Endpoint, code ErrorCode) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(string(endpoint), string(code)).Inc()
}

// RecordTokens records token throughput for a model.
func (m *StreamingMetrics) RecordTokens(inputTokens, outputTokens int, model string) {
	if m == nil {
		return
	}
	if inputTokens > 0 {
		m.TokensTotal.WithLabelValues("input", model).Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.TokensTotal.WithLabelValues("output", model).Add(float64(outputTokens))
	}
}

// StreamStarted increments the active stream gauge.
func (m *StreamingMetrics) StreamStarted(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(string(endpoint)).Inc()
}

// StreamEnded decrements the active stream gauge.
func (m *StreamingMetrics) StreamEnded(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(string(endpoint)).Dec()
}

// RecordTimeToFirstFrame records first-frame latency.
func (m *StreamingMetrics) RecordTimeToFirstFrame(endpoint Endpoint, seconds float64) {
	if m == nil {
		return
	}
	m.TimeToFirstFrameSeconds.WithLabelValues(string(endpoint)).Observe(seconds)
}

// RecordStreamDuration records a finished stream's total duration.
func (m *StreamingMetrics) RecordStreamDuration(endpoint Endpoint, seconds float64, success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.StreamDurationSeconds.WithLabelValues(string(endpoint), status).Observe(seconds)
}

// RecordKeepAlive records one keepalive frame.
func (m *StreamingMetrics) RecordKeepAlive(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.KeepAlivesTotal.WithLabelValues(string(endpoint)).Inc()
}

// RecordClientDisconnect records a client that went away mid-stream.
func (m *StreamingMetrics) RecordClientDisconnect(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ClientDisconnectsTotal.WithLabelValues(string(endpoint)).Inc()
}
