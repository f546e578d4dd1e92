// Copyright (C) 2025 Pixelated Empathy
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package biasalert

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nochadisfaction/pixel-bias-engine/services/biasalert/classify"
)

// ServiceVersion is the bias alert engine version.
const ServiceVersion = "0.1.0"

// defaultStatsWindow is used when a stats/recent query omits ?window.
const defaultStatsWindow = 24 * time.Hour

// Handlers contains the HTTP handlers for the alert engine facade.
type Handlers struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandlers creates handlers for the given service.
func NewHandlers(svc *Service, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{svc: svc, logger: logger}
}

// CheckResponse is the response body for HandleCheck.
type CheckResponse struct {
	RequestID string  `json:"request_id"`
	SessionID string  `json:"session_id"`
	Alerts    []Alert `json:"alerts"`
	Count     int     `json:"count"`
}

// AcknowledgeRequest is the request body for HandleAcknowledge.
type AcknowledgeRequest struct {
	AcknowledgedBy string `json:"acknowledged_by" binding:"required"`
}

// NotifyRequest is the request body for HandleNotify.
type NotifyRequest struct {
	Message    string   `json:"message" binding:"required"`
	Recipients []string `json:"recipients"`
}

// HandleCheck handles POST /v1/biasalert/check.
//
// Description:
//
//	Evaluates the submitted analysis result against the rule set. The
//	response carries the alerts that fired; dispatch and escalation
//	scheduling continue in the background.
func (h *Handlers) HandleCheck(c *gin.Context) {
	requestID := uuid.NewString()

	var result BiasAnalysisResult
	if err := c.ShouldBindJSON(&result); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"request_id": requestID,
			"error":      "invalid analysis result: " + err.Error(),
		})
		return
	}

	alerts, err := h.svc.CheckAlerts(c.Request.Context(), &result)
	if err != nil {
		h.respondError(c, requestID, err)
		return
	}
	if alerts == nil {
		alerts = []Alert{}
	}

	c.JSON(http.StatusOK, CheckResponse{
		RequestID: requestID,
		SessionID: result.SessionID,
		Alerts:    alerts,
		Count:     len(alerts),
	})
}

// HandleAcknowledge handles POST /v1/biasalert/alerts/:id/acknowledge.
func (h *Handlers) HandleAcknowledge(c *gin.Context) {
	requestID := uuid.NewString()
	alertID := c.Param("id")

	var req AcknowledgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"request_id": requestID,
			"error":      "acknowledged_by is required",
		})
		return
	}

	if err := h.svc.AcknowledgeAlert(c.Request.Context(), alertID, req.AcknowledgedBy); err != nil {
		h.respondError(c, requestID, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"request_id": requestID,
		"alert_id":   alertID,
		"status":     "acknowledged",
	})
}

// HandleActiveAlerts handles GET /v1/biasalert/alerts/active.
func (h *Handlers) HandleActiveAlerts(c *gin.Context) {
	requestID := uuid.NewString()

	alerts, err := h.svc.ActiveAlerts(c.Request.Context())
	if err != nil {
		h.respondError(c, requestID, err)
		return
	}
	if alerts == nil {
		alerts = []Alert{}
	}

	c.JSON(http.StatusOK, gin.H{
		"request_id": requestID,
		"alerts":     alerts,
		"count":      len(alerts),
	})
}

// HandleRecentAlerts handles GET /v1/biasalert/alerts/recent?window=1h.
func (h *Handlers) HandleRecentAlerts(c *gin.Context) {
	requestID := uuid.NewString()

	window, err := parseWindow(c.Query("window"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"request_id": requestID,
			"error":      err.Error(),
		})
		return
	}

	alerts, err := h.svc.RecentAlerts(c.Request.Context(), window)
	if err != nil {
		h.respondError(c, requestID, err)
		return
	}
	if alerts == nil {
		alerts = []Alert{}
	}

	c.JSON(http.StatusOK, gin.H{
		"request_id": requestID,
		"window":     window.String(),
		"alerts":     alerts,
		"count":      len(alerts),
	})
}

// HandleStatistics handles GET /v1/biasalert/stats?window=24h.
func (h *Handlers) HandleStatistics(c *gin.Context) {
	requestID := uuid.NewString()

	window, err := parseWindow(c.Query("window"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"request_id": requestID,
			"error":      err.Error(),
		})
		return
	}

	statistics, err := h.svc.Statistics(c.Request.Context(), window)
	if err != nil {
		h.respondError(c, requestID, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"request_id": requestID,
		"statistics": statistics,
	})
}

// HandleNotify handles POST /v1/biasalert/notify.
func (h *Handlers) HandleNotify(c *gin.Context) {
	requestID := uuid.NewString()

	var req NotifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"request_id": requestID,
			"error":      "message is required",
		})
		return
	}

	if err := h.svc.SendSystemNotification(c.Request.Context(), req.Message, req.Recipients); err != nil {
		h.respondError(c, requestID, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"request_id": requestID,
		"status":     "dispatched",
	})
}

// HandleHealth handles GET /v1/biasalert/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": ServiceVersion,
	})
}

// HandleReady handles GET /v1/biasalert/ready.
func (h *Handlers) HandleReady(c *gin.Context) {
	if _, err := h.svc.ActiveAlerts(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "store unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// respondError maps classified errors onto HTTP statuses.
func (h *Handlers) respondError(c *gin.Context, requestID string, err error) {
	status := http.StatusInternalServerError
	message := "internal error"

	var ce *classify.ClassifiedError
	if errors.As(err, &ce) {
		switch {
		case ce.Code == "ALERT_UNKNOWN":
			status = http.StatusNotFound
		case ce.Category == classify.CategoryValidation:
			status = http.StatusBadRequest
		case ce.Category == classify.CategorySecurity:
			status = http.StatusForbidden
		case ce.Category == classify.CategoryPerformance:
			status = http.StatusGatewayTimeout
		}
		if ce.UserMessage != "" {
			message = ce.UserMessage
		} else {
			message = ce.Message
		}
	}

	h.logger.Error("request failed",
		"request_id", requestID,
		"status", status,
		"error", err,
	)

	c.JSON(status, gin.H{
		"request_id": requestID,
		"error":      message,
		"retryable":  classify.IsRetryable(err),
	})
}

// parseWindow parses a ?window query value, defaulting when absent.
func parseWindow(raw string) (time.Duration, error) {
	if raw == "" {
		return defaultStatsWindow, nil
	}
	window, err := time.ParseDuration(raw)
	if err != nil || window <= 0 {
		return 0, errors.New("window must be a positive duration like 1h or 30m")
	}
	return window, nil
}
