// Copyright (C) 2025 SpotLight AI (oss@spotlightai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/spotlightai/engine/workflows"
)

// ServiceVersion is reported on the root endpoint.
const ServiceVersion = "0.4.0"

// HealthHandler serves the service discovery and liveness endpoints.
type HealthHandler struct {
	registry *workflows.Registry
}

// NewHealthHandler builds the handler. The registry is only read, never
// mutated.
func NewHealthHandler(registry *workflows.Registry) *HealthHandler {
	return &HealthHandler{registry: registry}
}

// HandleRoot identifies the service and lists the registered workflows.
func (h *HealthHandler) HandleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":   "spotlight-engine",
		"version":   ServiceVersion,
		"workflows": h.registry.List(),
	})
}

// HandleHealth is the liveness probe.
func (h *HealthHandler) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
