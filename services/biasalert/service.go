// Copyright (C) 2025 Pixelated Empathy
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package biasalert turns bias analysis results for therapeutic
// conversation sessions into actionable alerts.
//
// The engine evaluates configurable rules against each incoming
// BiasAnalysisResult, detects demographic disparities a single aggregate
// score would miss, schedules escalations for unacknowledged alerts, and
// fans notifications out across channels with graceful degradation. Every
// fallible operation surfaces errors through the classify taxonomy so
// callers can reason about severity and retryability.
//
// # Architecture
//
//	BiasAnalysisResult
//	    │
//	    ▼
//	RuleEngine ── DisparityDetector
//	    │
//	    ▼ []Alert
//	Store ──► EscalationScheduler ──► Dispatcher ──► Transports
//	                                      │
//	                                      └──► FallbackLog (durable)
//
// # Basic Usage
//
//	svc, err := biasalert.NewService(biasalert.ServiceConfig{})
//	if err != nil { ... }
//	defer svc.Close()
//
//	alerts, err := svc.CheckAlerts(ctx, result)
package biasalert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nochadisfaction/pixel-bias-engine/pkg/validation"
	"github.com/nochadisfaction/pixel-bias-engine/services/biasalert/classify"
	"github.com/nochadisfaction/pixel-bias-engine/services/biasalert/notify"
)

// Service is the engine facade: the boundary the rest of the system calls.
//
// Each CheckAlerts call runs independently; no global lock serializes
// different sessions' evaluations. Rule evaluation is synchronous and
// CPU-bound; dispatch and escalation run as background work.
//
// Thread Safety: safe for concurrent use.
type Service struct {
	rules      *RuleEngine
	store      Store
	scheduler  *EscalationScheduler
	dispatcher *Dispatcher
	logger     *slog.Logger
	metrics    *Metrics
	closed     atomic.Bool
}

// ServiceConfig configures a Service. The zero value yields a fully
// in-memory engine with the default rule set and log-only notifications.
type ServiceConfig struct {
	// Rules overrides the rule set. Nil uses DefaultRules with Settings.
	Rules []AlertRule

	// Settings tunes the default rules. Nil uses DefaultRuleSettings.
	// Ignored when Rules is set.
	Settings *RuleSettings

	// Store overrides alert persistence. Nil uses NewMemoryStore.
	Store Store

	// Transports are the notification channels. Nil uses a single
	// LogTransport so deliveries appear in structured logs.
	Transports []notify.Transport

	// Fallback receives durable entries for failed deliveries.
	// Nil uses an in-memory fallback log.
	Fallback notify.FallbackLog

	// ChannelTimeout bounds each channel send. Zero uses the default.
	ChannelTimeout time.Duration

	// Logger for engine events. Nil uses slog.Default.
	Logger *slog.Logger

	// Metrics for engine counters. Nil disables instrumentation.
	Metrics *Metrics
}

// NewService wires the engine together and starts the escalation loop.
//
// Outputs:
//
//	*Service - The running engine. Caller must Close it.
//	error - Non-nil on invalid configuration.
func NewService(cfg ServiceConfig) (*Service, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}

	rules := cfg.Rules
	if rules == nil {
		settings := DefaultRuleSettings()
		if cfg.Settings != nil {
			settings = *cfg.Settings
		}
		rules = DefaultRules(NewDisparityDetector(logger), settings)
	}

	transports := cfg.Transports
	if transports == nil {
		transports = []notify.Transport{notify.NewLogTransport(logger)}
	}
	fallback := cfg.Fallback
	if fallback == nil {
		fallback = notify.NewMemoryFallbackLog()
	}

	dispatcher, err := NewDispatcher(DispatcherConfig{
		Transports:     transports,
		Fallback:       fallback,
		ChannelTimeout: cfg.ChannelTimeout,
		Logger:         logger,
		Metrics:        cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}

	engine := NewRuleEngine(rules, logger)
	scheduler := NewEscalationScheduler(store, dispatcher, logger, cfg.Metrics)
	scheduler.Start()

	return &Service{
		rules:      engine,
		store:      store,
		scheduler:  scheduler,
		dispatcher: dispatcher,
		logger:     logger,
		metrics:    cfg.Metrics,
	}, nil
}

// CheckAlerts evaluates the rule set against one analysis result.
//
// Description:
//
//	Evaluation is synchronous: the returned alerts are already recorded
//	in the store and scheduled for escalation when this returns.
//	Notification dispatch happens asynchronously and never fails the
//	call; a total notification outage only degrades delivery, the alerts
//	stay retrievable via ActiveAlerts.
//
//	Re-processing the same result (an upstream retry) produces fresh
//	alert ids. The engine does not deduplicate.
//
// Inputs:
//
//	ctx - Context for store writes. Must not be nil.
//	result - The analysis result. Must be non-nil with a session id.
//
// Outputs:
//
//	[]Alert - Alerts that fired, in rule-registration order. May be empty.
//	error - Classified error on invalid input or store failure.
func (s *Service) CheckAlerts(ctx context.Context, result *BiasAnalysisResult) ([]Alert, error) {
	if s.closed.Load() {
		return nil, classify.NewSystemError("ENGINE_CLOSED", "engine closed", ErrEngineClosed)
	}
	if result == nil {
		return nil, classify.NewValidationError("RESULT_NIL", "analysis result must not be nil", ErrNilResult)
	}
	if result.SessionID == "" {
		return nil, classify.NewValidationError("RESULT_SESSION_MISSING",
			"analysis result missing session id", ErrMissingSessionID)
	}
	if err := validation.ValidateSessionID(result.SessionID); err != nil {
		return nil, classify.NewValidationError("RESULT_SESSION_INVALID",
			"analysis result session id is invalid", err).
			WithUserMessage("session_id must be 1-128 characters of letters, digits, dots, hyphens, or underscores")
	}

	start := time.Now()
	alerts := s.rules.Evaluate(result)
	if s.metrics != nil {
		s.metrics.EvaluationDuration.Observe(time.Since(start).Seconds())
	}

	for i := range alerts {
		alert := &alerts[i]
		if err := s.store.Record(ctx, alert); err != nil {
			// Silently losing an alert record is unacceptable; surface
			// the failure after reporting it.
			ce := classify.NewDataError("ALERT_RECORD_FAILED",
				fmt.Sprintf("record alert %s", alert.ID), err).
				WithUserMessage("alert could not be recorded; retry the check")
			s.dispatcher.ReportInternalError(ctx, ce)
			return nil, ce
		}
		if s.metrics != nil {
			s.metrics.AlertsTotal.WithLabelValues(alert.RuleID, alert.Severity.String()).Inc()
		}

		if delay, ok := s.rules.EscalationDelay(alert.RuleID); ok {
			if err := s.scheduler.Schedule(alert.ID, alert.CreatedAt.Add(delay)); err != nil {
				s.logger.Warn("escalation scheduling failed",
					"alert_id", alert.ID,
					"error", err,
				)
			}
		}

		s.logger.Info("alert created",
			"alert_id", alert.ID,
			"rule_id", alert.RuleID,
			"session_id", alert.SessionID,
			"severity", alert.Severity,
			"bias_score", alert.BiasScore,
		)
	}

	// Dispatch outlives the request: cancellation of the inbound call
	// must not abort deliveries already owed.
	dispatchCtx := context.WithoutCancel(ctx)
	for _, alert := range alerts {
		go s.dispatcher.Dispatch(dispatchCtx, alert)
	}

	return alerts, nil
}

// AcknowledgeAlert marks an alert acknowledged. Idempotent: a second
// acknowledgment is a no-op, not an error.
//
// Store failures propagate as classified errors; losing an acknowledgment
// silently is unacceptable.
func (s *Service) AcknowledgeAlert(ctx context.Context, alertID, acknowledgedBy string) error {
	if s.closed.Load() {
		return classify.NewSystemError("ENGINE_CLOSED", "engine closed", ErrEngineClosed)
	}

	alert, transitioned, err := s.store.Acknowledge(ctx, alertID, acknowledgedBy)
	if err != nil {
		if errors.Is(err, ErrAlertNotFound) {
			return classify.NewValidationError("ALERT_UNKNOWN",
				fmt.Sprintf("no alert with id %s", alertID), err).
				WithUserMessage("unknown alert id")
		}
		ce := classify.NewDataError("ALERT_ACK_FAILED",
			fmt.Sprintf("acknowledge alert %s", alertID), err).
			WithUserMessage("acknowledgment could not be saved; retry")
		s.dispatcher.ReportInternalError(ctx, ce)
		return ce
	}

	if transitioned {
		if s.metrics != nil {
			s.metrics.AcknowledgmentsTotal.Inc()
		}
		s.logger.Info("alert acknowledged",
			"alert_id", alert.ID,
			"acknowledged_by", acknowledgedBy,
			"was_escalated", alert.Escalated,
		)
	}
	return nil
}

// ActiveAlerts returns all unacknowledged alerts.
func (s *Service) ActiveAlerts(ctx context.Context) ([]Alert, error) {
	if s.closed.Load() {
		return nil, classify.NewSystemError("ENGINE_CLOSED", "engine closed", ErrEngineClosed)
	}
	alerts, err := s.store.Active(ctx)
	if err != nil {
		return nil, classify.NewDataError("ALERT_QUERY_FAILED", "list active alerts", err)
	}
	return alerts, nil
}

// RecentAlerts returns alerts created within the window.
func (s *Service) RecentAlerts(ctx context.Context, window time.Duration) ([]Alert, error) {
	if s.closed.Load() {
		return nil, classify.NewSystemError("ENGINE_CLOSED", "engine closed", ErrEngineClosed)
	}
	alerts, err := s.store.Recent(ctx, window)
	if err != nil {
		return nil, classify.NewDataError("ALERT_QUERY_FAILED", "list recent alerts", err)
	}
	return alerts, nil
}

// Statistics recomputes rollups over alerts created within the window.
// Pure read; never mutates stored alerts.
func (s *Service) Statistics(ctx context.Context, window time.Duration) (AlertStatistics, error) {
	if s.closed.Load() {
		return AlertStatistics{}, classify.NewSystemError("ENGINE_CLOSED", "engine closed", ErrEngineClosed)
	}
	alerts, err := s.store.Recent(ctx, window)
	if err != nil {
		return AlertStatistics{}, classify.NewDataError("ALERT_QUERY_FAILED", "compute statistics", err)
	}
	return ComputeStatistics(alerts, window), nil
}

// SendSystemNotification delivers an out-of-band notice (engine health,
// operator broadcasts) to all channels, best effort.
func (s *Service) SendSystemNotification(ctx context.Context, message string, recipients []string) error {
	if s.closed.Load() {
		return classify.NewSystemError("ENGINE_CLOSED", "engine closed", ErrEngineClosed)
	}
	s.dispatcher.SendSystem(ctx, message, recipients)
	return nil
}

// ReplaceRuleSettings rebuilds the default rule set with new settings.
// Used by config hot reload; in-flight evaluations are unaffected.
func (s *Service) ReplaceRuleSettings(settings RuleSettings) {
	s.rules.ReplaceRules(DefaultRules(NewDisparityDetector(s.logger), settings))
	s.logger.Info("rule settings replaced",
		"high_threshold", settings.HighBiasThreshold,
		"critical_threshold", settings.CriticalBiasThreshold,
	)
}

// Close stops the escalation loop and releases the store.
func (s *Service) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.scheduler.Stop()
	return s.store.Close()
}
