// Copyright (C) 2025 Pixelated Empathy
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// TestDefaultConfig verifies defaults and environment overrides.
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "biasalert", cfg.ServiceName)
	assert.Equal(t, "0.1.0", cfg.ServiceVersion)
	assert.Equal(t, "none", cfg.TraceExporter)
	assert.Equal(t, "prometheus", cfg.MetricExporter)

	t.Setenv("OTEL_TRACES_EXPORTER", "stdout")
	t.Setenv("PIXEL_ENV", "staging")
	cfg = DefaultConfig()
	assert.Equal(t, "stdout", cfg.TraceExporter)
	assert.Equal(t, "staging", cfg.Environment)
}

// TestInitNilContext verifies the nil-context guard.
func TestInitNilContext(t *testing.T) {
	//nolint:staticcheck // testing the nil guard
	shutdown, err := Init(nil, DefaultConfig())
	require.ErrorIs(t, err, ErrNilContext)
	assert.Nil(t, shutdown)
}

// TestInitDisabled verifies both exporters can be switched off.
func TestInitDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "none"
	cfg.MetricExporter = "none"

	shutdown, err := Init(t.Context(), cfg)
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(t.Context()))
}

// TestInitUnknownExporter verifies bogus exporter names are rejected.
func TestInitUnknownExporter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "carrier-pigeon"
	cfg.MetricExporter = "none"

	_, err := Init(t.Context(), cfg)
	require.ErrorIs(t, err, ErrUnknownExporter)

	cfg.TraceExporter = "none"
	cfg.MetricExporter = "carrier-pigeon"
	_, err = Init(t.Context(), cfg)
	require.ErrorIs(t, err, ErrUnknownExporter)
}

// TestInitPrometheus verifies the /metrics handler is published and
// serves scrapes.
func TestInitPrometheus(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "none"
	cfg.MetricExporter = "prometheus"

	shutdown, err := Init(t.Context(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = shutdown(t.Context()) })

	handler := MetricsHandler()
	require.NotNil(t, handler)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

// TestTracedRouter verifies the otelgin middleware the server mounts is
// transparent to handler behavior after Init.
func TestTracedRouter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "none"
	cfg.MetricExporter = "none"
	shutdown, err := Init(t.Context(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = shutdown(t.Context()) })

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(otelgin.Middleware("biasalert"))
	router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})
	router.GET("/boom", func(c *gin.Context) {
		c.String(http.StatusInternalServerError, "boom")
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong", rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
