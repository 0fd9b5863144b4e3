// Copyright (C) 2025 SpotLight AI (oss@spotlightai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package routes wires HTTP endpoints to their handlers.
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spotlightai/engine/handlers"
)

// SetupRoutes registers every endpoint on the router.
//
// # Description
//
// Layout:
//
//   - GET  /                              service identity and workflow list
//   - GET  /health                        liveness probe
//   - GET  /metrics                       prometheus scrape endpoint
//   - POST /v1/run_workflow               SSE workflow execution
//   - POST /v1/knowledge/*                knowledge-base management
func SetupRoutes(router *gin.Engine, stream *handlers.StreamHandler, know *handlers.KnowledgeHandler, health *handlers.HealthHandler) {
	router.GET("/", health.HandleRoot)
	router.GET("/health", health.HandleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		v1.POST("/run_workflow", stream.HandleRunWorkflow)

		kb := v1.Group("/knowledge")
		{
			kb.POST("/create", know.HandleCreate)
			kb.POST("/delete", know.HandleDelete)
			kb.POST("/update", know.HandleUpdate)
			kb.POST("/list", know.HandleList)
			kb.POST("/detail", know.HandleDetail)
			kb.POST("/test_connection", know.HandleTestConnection)
			kb.POST("/test_write", know.HandleTestWrite)
			kb.POST("/upload_doc", know.HandleUploadDoc)
		}
	}
}
