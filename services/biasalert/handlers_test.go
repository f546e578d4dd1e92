// Copyright (C) 2025 Pixelated Empathy
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package biasalert

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*gin.Engine, *Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc := newTestService(t, ServiceConfig{})
	router := gin.New()
	RegisterRoutes(router.Group("/v1"), NewHandlers(svc, nil))
	return router, svc
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

// TestHandleCheck verifies the check endpoint returns the fired alerts.
func TestHandleCheck(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/v1/biasalert/check", gin.H{
		"session_id":    "session-1",
		"overall_score": 0.95,
		"confidence":    0.9,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp CheckResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, "session-1", resp.SessionID)
	assert.Equal(t, 2, resp.Count)
	require.Len(t, resp.Alerts, 2)
	assert.Equal(t, RuleHighBias, resp.Alerts[0].RuleID)
	assert.Equal(t, RuleCriticalBias, resp.Alerts[1].RuleID)
}

// TestHandleCheckQuiet verifies an empty alert list, not null, comes back.
func TestHandleCheckQuiet(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/v1/biasalert/check", gin.H{
		"session_id":    "session-1",
		"overall_score": 0.1,
		"confidence":    0.9,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"alerts":[]`)
}

// TestHandleCheckMissingSession verifies binding rejects a session-less
// payload.
func TestHandleCheckMissingSession(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/v1/biasalert/check", gin.H{
		"overall_score": 0.95,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// TestHandleAcknowledge verifies the acknowledge endpoint and its error
// statuses.
func TestHandleAcknowledge(t *testing.T) {
	router, svc := newTestRouter(t)

	alerts, err := svc.CheckAlerts(t.Context(), &BiasAnalysisResult{
		SessionID:    "session-1",
		OverallScore: 0.8,
		Confidence:   0.9,
	})
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	rec := doJSON(t, router, http.MethodPost,
		"/v1/biasalert/alerts/"+alerts[0].ID+"/acknowledge",
		gin.H{"acknowledged_by": "reviewer-1"})
	require.Equal(t, http.StatusOK, rec.Code)

	// Idempotent over HTTP too.
	rec = doJSON(t, router, http.MethodPost,
		"/v1/biasalert/alerts/"+alerts[0].ID+"/acknowledge",
		gin.H{"acknowledged_by": "reviewer-2"})
	assert.Equal(t, http.StatusOK, rec.Code)

	// Missing body field.
	rec = doJSON(t, router, http.MethodPost,
		"/v1/biasalert/alerts/"+alerts[0].ID+"/acknowledge", gin.H{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown alert.
	rec = doJSON(t, router, http.MethodPost,
		"/v1/biasalert/alerts/no-such-alert/acknowledge",
		gin.H{"acknowledged_by": "reviewer-1"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// TestHandleActiveAndRecent verifies the listing endpoints.
func TestHandleActiveAndRecent(t *testing.T) {
	router, svc := newTestRouter(t)

	_, err := svc.CheckAlerts(t.Context(), &BiasAnalysisResult{
		SessionID:    "session-1",
		OverallScore: 0.8,
		Confidence:   0.9,
	})
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodGet, "/v1/biasalert/alerts/active", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":1`)

	rec = doJSON(t, router, http.MethodGet, "/v1/biasalert/alerts/recent?window=1h", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":1`)

	rec = doJSON(t, router, http.MethodGet, "/v1/biasalert/alerts/recent?window=banana", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// TestHandleStatistics verifies the stats endpoint and window default.
func TestHandleStatistics(t *testing.T) {
	router, svc := newTestRouter(t)

	_, err := svc.CheckAlerts(t.Context(), &BiasAnalysisResult{
		SessionID:    "session-1",
		OverallScore: 0.95,
		Confidence:   0.9,
	})
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodGet, "/v1/biasalert/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Statistics AlertStatistics `json:"statistics"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Statistics.Total)
	assert.Equal(t, defaultStatsWindow, resp.Statistics.Window)
}

// TestHandleNotify verifies the system notification endpoint.
func TestHandleNotify(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/v1/biasalert/notify", gin.H{
		"message":    "maintenance window starts in 10 minutes",
		"recipients": []string{"ops@example.com"},
	})
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/v1/biasalert/notify", gin.H{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// TestHandleHealthAndReady verifies the liveness endpoints.
func TestHandleHealthAndReady(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/v1/biasalert/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), ServiceVersion)

	rec = doJSON(t, router, http.MethodGet, "/v1/biasalert/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
