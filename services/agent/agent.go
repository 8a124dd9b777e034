// Copyright (C) 2025 CeylonMart (engineering@ceylonmart.lk)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package agent assembles the concierge agent service.
//
// This package contains the main Service type that coordinates all
// components: HTTP/WebSocket routing, the model client, the tool
// registry, the resilience layer, the checkpoint store, and
// observability infrastructure.
//
// # Usage
//
//	cfg := agent.Config{Port: 8080}
//	svc, err := agent.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/ceylonmart/concierge/services/agent/checkpoint"
	"github.com/ceylonmart/concierge/services/agent/executor"
	"github.com/ceylonmart/concierge/services/agent/guard"
	"github.com/ceylonmart/concierge/services/agent/handlers"
	"github.com/ceylonmart/concierge/services/agent/observability"
	"github.com/ceylonmart/concierge/services/agent/resilience"
	"github.com/ceylonmart/concierge/services/agent/routes"
	"github.com/ceylonmart/concierge/services/agent/tools"
	"github.com/ceylonmart/concierge/services/llm"
)

const serviceName = "concierge-agent"

// =============================================================================
// Configuration
// =============================================================================

// Config holds agent service configuration. All fields have defaults;
// a zero Config produces a working in-memory service.
type Config struct {
	// Port is the HTTP server port. Default: 8080
	Port int

	// DataDir is the checkpoint store directory. Empty runs the store
	// in memory (state is lost on restart).
	DataDir string

	// SystemPrompt overrides the default assistant persona.
	SystemPrompt string

	// MaxModelTurns bounds model invocations per run.
	// Default: executor.DefaultMaxModelTurns
	MaxModelTurns int

	// OTelEndpoint is the OpenTelemetry collector endpoint. Empty
	// disables tracing.
	OTelEndpoint string

	// GinMode sets the gin framework mode ("debug", "release", "test").
	// Default: "release"
	GinMode string

	// Model overrides the model client. When nil an OpenAI-compatible
	// client is built from the environment. Tests inject a scripted
	// client here.
	Model llm.ModelClient

	// Storefront overrides the storefront backing the tools. When nil
	// an in-memory catalog seeded from CONCIERGE_CATALOG_PATH (or the
	// built-in demo catalog) is used.
	Storefront tools.Storefront

	// Logger is the structured logger. Default: slog.Default()
	Logger *slog.Logger
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.GinMode == "" {
		cfg.GinMode = gin.ReleaseMode
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

// =============================================================================
// Service
// =============================================================================

// Service is the assembled agent service.
//
// # Thread Safety
//
// Thread-safe after construction. Run blocks and must be called at
// most once per instance.
type Service struct {
	config        Config
	router        *gin.Engine
	store         checkpoint.Store
	limiter       *resilience.Limiter
	breaker       *resilience.CircuitBreaker
	executor      *executor.Executor
	registry      *prometheus.Registry
	tracerCleanup func(context.Context)
	logger        *slog.Logger
}

// New creates an agent Service.
//
// # Description
//
// New initializes every component:
//  1. Applies configuration defaults
//  2. Initializes OpenTelemetry tracing (when an endpoint is set)
//  3. Opens the checkpoint store (BadgerDB, or in-memory)
//  4. Builds the model client, tool registry, and resilience layer
//  5. Registers Prometheus metrics and sets up HTTP routes
//
// # Outputs
//
//   - *Service: Ready-to-run service.
//   - error: Non-nil if any component fails to initialize.
func New(cfg Config) (*Service, error) {
	cfg = applyConfigDefaults(cfg)

	s := &Service{
		config: cfg,
		logger: cfg.Logger,
	}

	if cfg.OTelEndpoint != "" {
		cleanup, err := initTracer(cfg.OTelEndpoint)
		if err != nil {
			return nil, fmt.Errorf("initializing tracer: %w", err)
		}
		s.tracerCleanup = cleanup
	}

	if err := s.initStore(); err != nil {
		s.cleanup()
		return nil, err
	}

	model := cfg.Model
	if model == nil {
		var err error
		model, err = llm.NewOpenAIClient()
		if err != nil {
			s.cleanup()
			return nil, fmt.Errorf("initializing model client: %w", err)
		}
	}

	storefront := cfg.Storefront
	if storefront == nil {
		catalog := demoCatalog()
		if path := os.Getenv("CONCIERGE_CATALOG_PATH"); path != "" {
			loaded, err := LoadCatalog(path)
			if err != nil {
				s.cleanup()
				return nil, err
			}
			catalog = loaded
			s.logger.Info("loaded product catalog", "path", path, "products", len(catalog))
		}
		storefront = tools.NewMemoryStorefront(catalog)
	}

	toolRegistry, err := tools.NewRegistry(tools.StorefrontTools(storefront),
		tools.WithLogger(s.logger))
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("initializing tool registry: %w", err)
	}

	s.breaker = resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig())
	s.limiter = resilience.NewLimiter(resilience.DefaultRateLimitPolicies())
	s.limiter.Start()

	execCfg := executor.DefaultConfig()
	if cfg.SystemPrompt != "" {
		execCfg.SystemPrompt = cfg.SystemPrompt
	}
	if cfg.MaxModelTurns > 0 {
		execCfg.MaxModelTurns = cfg.MaxModelTurns
	}
	s.executor = executor.New(model, toolRegistry, s.store, s.breaker, execCfg, s.logger)

	s.registry = prometheus.NewRegistry()
	metrics := observability.NewMetrics(s.registry)
	aggregate := observability.NewAggregator()

	gin.SetMode(cfg.GinMode)
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(tracingMiddleware())

	routes.SetupRoutes(s.router, handlers.ChatDeps{
		Executor:  s.executor,
		Store:     s.store,
		Guard:     guard.New(guard.Config{}),
		Limiter:   s.limiter,
		Metrics:   metrics,
		Aggregate: aggregate,
		Logger:    s.logger,
	}, s.registry)

	return s, nil
}

// Run starts the HTTP server and blocks until SIGINT/SIGTERM or a
// fatal server error, then shuts down gracefully.
func (s *Service) Run() error {
	defer s.cleanup()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Port),
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting agent server", "port", s.config.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		s.logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// Router returns the configured gin engine for integration tests.
func (s *Service) Router() *gin.Engine {
	return s.router
}

// cleanup releases all resources held by the service.
func (s *Service) cleanup() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("checkpoint store close error", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// =============================================================================
// Initialization
// =============================================================================

func (s *Service) initStore() error {
	var badgerCfg checkpoint.BadgerConfig
	if s.config.DataDir == "" {
		s.logger.Info("no data directory configured, checkpoints are in-memory")
		badgerCfg = checkpoint.InMemoryBadgerConfig()
	} else {
		badgerCfg = checkpoint.DefaultBadgerConfig(s.config.DataDir)
	}
	badgerCfg.Logger = s.logger

	store, err := checkpoint.OpenBadger(badgerCfg)
	if err != nil {
		return fmt.Errorf("opening checkpoint store: %w", err)
	}
	s.store = store
	return nil
}

// initTracer sets up the OTLP trace exporter.
//
// Uses an insecure gRPC connection, appropriate for collectors on
// internal networks only.
func initTracer(endpoint string) (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("creating gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("creating trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// tracingMiddleware opens a server span per request and propagates
// incoming trace context.
func tracingMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer(serviceName)
	propagator := otel.GetTextMapPropagator()

	return func(c *gin.Context) {
		ctx := propagator.Extract(c.Request.Context(),
			propagation.HeaderCarrier(c.Request.Header))

		ctx, span := tracer.Start(ctx, c.FullPath(),
			trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
