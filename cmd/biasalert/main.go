// Copyright (C) 2025 Pixelated Empathy
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command biasalert starts the bias alert engine API server.
//
// The engine evaluates bias analysis results from the detection pipeline,
// raises alerts on configurable thresholds and demographic disparity,
// escalates unacknowledged alerts, and pushes notifications with a
// durable fallback when channels fail.
//
// Usage:
//
//	go run ./cmd/biasalert
//	go run ./cmd/biasalert -port 9090 -config /etc/biasalert/config.yaml
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8080/v1/biasalert/health
//
//	# Evaluate an analysis result
//	curl -X POST http://localhost:8080/v1/biasalert/check \
//	  -H "Content-Type: application/json" \
//	  -d '{"session_id": "s-1", "overall_score": 0.95, "confidence": 0.9}'
//
//	# Acknowledge an alert
//	curl -X POST http://localhost:8080/v1/biasalert/alerts/<id>/acknowledge \
//	  -H "Content-Type: application/json" \
//	  -d '{"acknowledged_by": "reviewer@example.org"}'
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/nochadisfaction/pixel-bias-engine/pkg/logging"
	"github.com/nochadisfaction/pixel-bias-engine/services/biasalert"
	"github.com/nochadisfaction/pixel-bias-engine/services/biasalert/notify"
	"github.com/nochadisfaction/pixel-bias-engine/services/biasalert/storage/badgerstore"
	"github.com/nochadisfaction/pixel-bias-engine/services/biasalert/telemetry"
)

func main() {
	port := flag.Int("port", 8080, "Port to listen on")
	configPath := flag.String("config", "", "Path to YAML config file (optional)")
	debug := flag.Bool("debug", false, "Enable debug mode")
	logDir := flag.String("log-dir", "", "Directory for JSON log files (optional)")
	logLevel := flag.String("log-level", "info", "Minimum log level: debug, info, warn, error")
	flag.Parse()

	if err := run(*port, *configPath, *debug, *logDir, *logLevel); err != nil {
		fmt.Fprintln(os.Stderr, "biasalert:", err)
		os.Exit(1)
	}
}

func run(port int, configPath string, debug bool, logDir, logLevel string) error {
	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(logLevel),
		LogDir:  logDir,
		Service: "biasalert",
	})
	defer logger.Close()
	log := logger.Slog()

	cfg := biasalert.Config{}
	if configPath != "" {
		loaded, err := biasalert.LoadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.DefaultConfig())
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			log.Warn("telemetry shutdown", "error", err)
		}
	}()

	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}

	transports, err := buildTransports(cfg, log)
	if err != nil {
		return err
	}

	fallback, closeFallback, err := openFallback(cfg)
	if err != nil {
		return err
	}
	defer closeFallback()

	settings := cfg.Rules.Settings()
	svc, err := biasalert.NewService(biasalert.ServiceConfig{
		Settings:       &settings,
		Store:          store,
		Transports:     transports,
		Fallback:       fallback,
		ChannelTimeout: cfg.Notifications.ChannelTimeout.Std(),
		Logger:         log,
		Metrics:        biasalert.NewMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		return err
	}
	defer svc.Close()

	if configPath != "" {
		watcher, err := biasalert.WatchConfig(configPath, log, func(next biasalert.Config) {
			svc.ReplaceRuleSettings(next.Rules.Settings())
		})
		if err != nil {
			log.Warn("config watch disabled", "error", err)
		} else {
			defer watcher.Close()
		}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("biasalert"))
	if debug {
		router.Use(gin.Logger())
	}

	v1 := router.Group("/v1")
	biasalert.RegisterRoutes(v1, biasalert.NewHandlers(svc, log))

	if metricsHandler := telemetry.MetricsHandler(); metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(metricsHandler))
	}

	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	printBanner(port, configPath)
	log.Info("starting bias alert server", "address", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down bias alert server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openStore selects BadgerDB persistence when a path is configured and
// falls back to the in-memory store otherwise.
func openStore(cfg biasalert.Config, logger *slog.Logger) (biasalert.Store, error) {
	if cfg.Storage.Path == "" {
		return biasalert.NewMemoryStore(), nil
	}
	bcfg := badgerstore.DefaultConfig(cfg.Storage.Path)
	bcfg.Logger = logger
	return badgerstore.Open(bcfg)
}

// buildTransports assembles the configured notification channels. With
// no channels configured the service falls back to its log transport.
func buildTransports(cfg biasalert.Config, logger *slog.Logger) ([]notify.Transport, error) {
	var transports []notify.Transport

	if url := cfg.Notifications.WebhookURL; url != "" {
		webhook, err := notify.NewWebhookTransport("webhook", url)
		if err != nil {
			return nil, err
		}
		transports = append(transports, webhook)
	}
	if url := cfg.Notifications.SlackWebhookURL; url != "" {
		slack, err := notify.NewSlackTransport(url)
		if err != nil {
			return nil, err
		}
		transports = append(transports, slack)
	}
	if len(transports) > 0 {
		transports = append(transports, notify.NewLogTransport(logger))
	}
	return transports, nil
}

// openFallback opens the durable fallback log when a path is configured.
func openFallback(cfg biasalert.Config) (notify.FallbackLog, func(), error) {
	if cfg.Notifications.FallbackPath == "" {
		return notify.NewMemoryFallbackLog(), func() {}, nil
	}
	file, err := notify.OpenFileFallbackLog(cfg.Notifications.FallbackPath)
	if err != nil {
		return nil, nil, err
	}
	return file, func() { _ = file.Close() }, nil
}

// printBanner prints the startup banner.
func printBanner(port int, configPath string) {
	configLine := "built-in defaults"
	if configPath != "" {
		configLine = configPath
	}

	banner := `
╔═══════════════════════════════════════════════════════════════════╗
║  Pixel Bias Alert Engine                                          ║
║                                                                   ║
║  Threshold + disparity alerting for bias analysis results,        ║
║  with escalation scheduling and notification fallback.            ║
║                                                                   ║
║  Config: %-56s ║
║  Health: http://localhost:%-5d/v1/biasalert/health               ║
║  Check:  POST /v1/biasalert/check                                 ║
║  Stats:  GET  /v1/biasalert/stats                                 ║
║                                                                   ║
║  Press Ctrl+C to stop                                             ║
╚═══════════════════════════════════════════════════════════════════╝
`
	fmt.Printf(banner, configLine, port)
}
