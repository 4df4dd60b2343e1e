// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/jinterlante1206/MentorLocal/services/llm"
	"github.com/jinterlante1206/MentorLocal/services/mentor/accounts"
	"github.com/jinterlante1206/MentorLocal/services/mentor/analytics"
	"github.com/jinterlante1206/MentorLocal/services/mentor/handlers"
	"github.com/jinterlante1206/MentorLocal/services/mentor/observability"
	"github.com/jinterlante1206/MentorLocal/services/mentor/resilience"
	"github.com/jinterlante1206/MentorLocal/services/mentor/routes"
	"github.com/jinterlante1206/MentorLocal/services/mentor/session"
	storage "github.com/jinterlante1206/MentorLocal/services/mentor/storage/badger"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "mentor-otel-collector:4317"
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
		resource.WithAttributes(semconv.ServiceNameKey.String("mentor-service")))
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

func newLLMClient() (llm.LLMClient, error) {
	switch backend := os.Getenv("LLM_BACKEND_TYPE"); backend {
	case "openai":
		slog.Info("Using OpenAI LLM backend")
		return llm.NewOpenAIClient()
	case "ollama":
		slog.Info("Using Ollama LLM backend")
		return llm.NewOllamaClient()
	default:
		slog.Warn("LLM_BACKEND_TYPE not set or invalid, defaulting to ollama", "value", backend)
		return llm.NewOllamaClient()
	}
}

func main() {
	port := os.Getenv("MENTOR_PORT")
	if port == "" {
		port = "12230"
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// --- Init the tracer ---
	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	metrics := observability.InitMetrics()

	dbPath := os.Getenv("MENTOR_DB_PATH")
	if dbPath == "" {
		dbPath = "/var/lib/mentor/db"
		slog.Warn("MENTOR_DB_PATH not set, defaulting", "path", dbPath)
	}
	dbCfg := storage.DefaultConfig()
	dbCfg.Path = dbPath
	dbCfg.Logger = logger
	db, err := storage.OpenDB(dbCfg)
	if err != nil {
		log.Fatalf("FATAL: could not open the session database: %v", err)
	}
	defer db.Close()

	tokenSecret := os.Getenv("MENTOR_TOKEN_SECRET")
	if tokenSecret == "" {
		log.Fatalf("FATAL: MENTOR_TOKEN_SECRET is required")
	}

	guardCfg := accounts.DefaultConfig()
	guardCfg.TokenSecret = []byte(tokenSecret)
	guard := accounts.NewGuard(accounts.NewStore(db), guardCfg)

	ledger := session.NewLedger(db, session.DefaultConfig())
	recorder := analytics.NewRecorder(db, analytics.DefaultConfig())

	llmClient, err := newLLMClient()
	if err != nil {
		log.Fatalf("Failed to initialize LLM client: %v", err)
	}
	ai := resilience.NewWrapper(llmClient, resilience.DefaultConfig())
	ai.OnTransition = func(healthy bool) {
		if healthy {
			metrics.ProviderHealthy.Set(1)
			metrics.ProbesTotal.WithLabelValues("healthy").Inc()
			recorder.Record(context.Background(), analytics.EventProviderRecovered, nil, "", "")
		} else {
			metrics.ProviderHealthy.Set(0)
			metrics.ProbesTotal.WithLabelValues("degraded").Inc()
			recorder.Record(context.Background(), analytics.EventProviderDegraded, nil, "", "")
		}
	}

	sweeper := session.NewSweeper(ledger, 5*time.Minute)
	sweeper.OnSwept = func(count int) {
		metrics.SessionsSweptTotal.Add(float64(count))
	}
	sweeper.Start()
	defer sweeper.Stop()

	orch := &handlers.Orchestrator{
		Guard:   guard,
		Ledger:  ledger,
		AI:      ai,
		Events:  recorder,
		Metrics: metrics,
	}

	router := gin.Default()
	router.Use(otelgin.Middleware("mentor-service"))
	routes.SetupRoutes(router, orch)

	log.Println("Starting the mentor server on port ", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
