// Package main is the entry point for the pharmapos settlement API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"pharmapos/internal/app"
	"pharmapos/internal/config"
	"pharmapos/internal/domain/auth"
	"pharmapos/internal/domain/sales"
	v1 "pharmapos/internal/infrastructure/http/v1"
	"pharmapos/internal/infrastructure/metrics"
	"pharmapos/internal/infrastructure/notify"
	"pharmapos/internal/infrastructure/tracing"
	"pharmapos/pkg/logger"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Development: cfg.IsDevelopment(),
		Service:     "pharmapos-server",
		Version:     version,
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.SetDefault(log)
	defer func() { _ = log.Sync() }()

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()
	log.Infow("starting pharmapos server", "version", version, "backend", cfg.StorageBackend)

	// --- Tracing ---
	tp, err := tracing.Init(ctx, tracing.Config{
		ServiceName:    "pharmapos",
		ServiceVersion: version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     cfg.TraceSampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	m := metrics.New()

	// --- Event publishing ---
	// Postgres writes events to the outbox and the worker relays them; the
	// memory backend has no outbox, so it publishes straight to Redis.
	var notifier sales.Notifier
	if cfg.StorageBackend == config.BackendMemory && cfg.RedisURL != "" {
		client, err := notify.Open(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalw("failed to connect to redis", "error", err)
		}
		defer func() { _ = client.Close() }()

		pubCfg := notify.DefaultPublisherConfig()
		pubCfg.FailureThreshold = cfg.BreakerFailureThreshold
		pubCfg.OpenTimeout = cfg.BreakerOpenTimeout
		notifier = notify.NewPublisher(client, pubCfg, m)
		log.Info("publishing events to redis")
	}

	backend, err := app.Open(ctx, cfg, app.Options{Notifier: notifier, Metrics: m})
	if err != nil {
		log.Fatalw("failed to open storage backend", "error", err)
	}
	defer backend.Close()

	// --- Auth ---
	var jwtValidator *auth.JWTService
	if cfg.JWTSecret != "" {
		jwtValidator = auth.NewJWTService(auth.DefaultJWTConfig(cfg.JWTSecret))
	} else {
		log.Warn("JWT_SECRET is empty: authentication is disabled")
	}

	routerCfg := v1.RouterConfig{
		Logger:       log,
		Sales:        backend.Sales,
		Inventory:    backend.Inventory,
		HealthChecks: backend.Checks,
		HealthInfo: func() map[string]any {
			return map[string]any{
				"backend":    backend.Name,
				"go_version": runtime.Version(),
				"tracing":    tp.Enabled(),
			}
		},
		Version: version,
		Metrics: m,
	}
	if jwtValidator != nil {
		routerCfg.JWTValidator = jwtValidator
	}

	router, err := v1.NewRouter(routerCfg)
	if err != nil {
		log.Fatalw("failed to build router", "error", err)
	}

	// --- HTTP Server ---
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("server failed", "error", err)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server forced to shutdown", "error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Warnw("tracer shutdown failed", "error", err)
	}

	log.Info("server stopped")
}
