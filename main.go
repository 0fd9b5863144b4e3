// Copyright (C) 2025 SpotLight AI (oss@spotlightai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/awnumar/memguard"
	"github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/spotlightai/engine/config"
	"github.com/spotlightai/engine/handlers"
	"github.com/spotlightai/engine/knowledge"
	"github.com/spotlightai/engine/llm"
	"github.com/spotlightai/engine/observability"
	"github.com/spotlightai/engine/routes"
	"github.com/spotlightai/engine/storage"
	"github.com/spotlightai/engine/workflows"
)

const serviceName = "spotlight-engine"

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "localhost:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

func logLevel(name string) slog.Level {
	switch strings.ToUpper(name) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func main() {
	// Vault secrets live in locked memory; purge them on signals and exit.
	memguard.CatchInterrupt()
	defer memguard.Purge()

	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	observability.InitMetrics()

	db, err := badger.Open(badger.DefaultOptions(cfg.KnowledgeDBPath))
	if err != nil {
		log.Fatalf("failed to open knowledge store at %s: %v", cfg.KnowledgeDBPath, err)
	}
	defer db.Close()

	registry := workflows.DefaultRegistry()
	streamHandler := handlers.NewStreamHandler(registry, llm.NewModel,
		cfg.KeepaliveInterval, cfg.HTTPToolTimeout)
	knowledgeService := knowledge.NewService(db, cfg.WeaviateURL)
	var uploads *storage.UploadClient
	if cfg.FileUploadURL != "" {
		uploads = storage.NewUploadClient(cfg.FileUploadURL, cfg.HTTPToolTimeout)
	}
	knowledgeHandler := handlers.NewKnowledgeHandler(knowledgeService,
		knowledge.NewIngestor(knowledgeService, uploads))
	healthHandler := handlers.NewHealthHandler(registry)

	router := gin.Default()
	router.Use(otelgin.Middleware(serviceName))
	routes.SetupRoutes(router, streamHandler, knowledgeHandler, healthHandler)

	slog.Info("starting engine", "port", cfg.Port, "workflows", registry.List())
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
