// Copyright (C) 2025 Pixelated Empathy
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package biasalert

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/nochadisfaction/pixel-bias-engine/services/biasalert/classify"
	"github.com/nochadisfaction/pixel-bias-engine/services/biasalert/notify"
)

const (
	// defaultChannelTimeout bounds a single channel delivery. A hung
	// channel must not block the others past this.
	defaultChannelTimeout = 15 * time.Second

	// escalationPrefix marks secondary notifications for escalated alerts.
	escalationPrefix = "[ESCALATED] "

	// metaAlertInterval rate-limits engine-health meta-alerts.
	metaAlertInterval = time.Minute
)

// Dispatcher fans alerts out to the configured notification channels.
//
// Description:
//
//	Only high and critical alerts are pushed; lower severities are
//	recorded in the store but never sent. Every enabled channel is
//	attempted in parallel and awaited independently: one channel's
//	failure neither blocks the others nor fails alert processing.
//	Each failed channel produces exactly one durable fallback entry,
//	so an alert is never silently lost even with zero working channels.
//
// Thread Safety:
//
//	Dispatcher is safe for concurrent use after construction.
type Dispatcher struct {
	transports  []notify.Transport
	fallback    notify.FallbackLog
	timeout     time.Duration
	logger      *slog.Logger
	metrics     *Metrics
	metaLimiter *rate.Limiter
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	// Transports are the enabled channels. May be empty; dispatch then
	// degrades to fallback logging only.
	Transports []notify.Transport

	// Fallback receives durable entries for failed deliveries.
	// Must not be nil.
	Fallback notify.FallbackLog

	// ChannelTimeout bounds each channel send. Zero uses the default.
	ChannelTimeout time.Duration

	// Logger for dispatch events. Nil uses slog.Default.
	Logger *slog.Logger

	// Metrics for dispatch counters. Nil disables instrumentation.
	Metrics *Metrics
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Fallback == nil {
		return nil, classify.NewConfigurationError("DISPATCH_FALLBACK_MISSING",
			"dispatcher requires a fallback log", nil)
	}
	if cfg.ChannelTimeout <= 0 {
		cfg.ChannelTimeout = defaultChannelTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{
		transports:  cfg.Transports,
		fallback:    cfg.Fallback,
		timeout:     cfg.ChannelTimeout,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		metaLimiter: rate.NewLimiter(rate.Every(metaAlertInterval), 1),
	}, nil
}

// Dispatch pushes an alert to every enabled channel, best effort.
//
// Lower-than-high severities return immediately: those alerts are recorded
// but not pushed. Dispatch never returns an error; failures are absorbed
// into the fallback log.
func (d *Dispatcher) Dispatch(ctx context.Context, alert Alert) {
	// Escalated alerts always push: escalation is a severity elevation,
	// and its whole point is the secondary notification.
	if !alert.Escalated && !alert.Severity.AtLeast(SeverityHigh) {
		return
	}

	body := alert.Message
	if alert.Escalated {
		body = escalationPrefix + body
	}
	d.send(ctx, notify.Message{
		ID:         uuid.NewString(),
		AlertID:    alert.ID,
		Severity:   alert.Severity.String(),
		Body:       body,
		Recipients: alert.Recipients,
		Metadata: map[string]string{
			"session_id": alert.SessionID,
			"rule_id":    alert.RuleID,
		},
		SentAt: time.Now().UTC(),
	})
}

// SendSystem delivers an out-of-band notice to every channel, bypassing
// severity gating. Used for engine-health notifications.
func (d *Dispatcher) SendSystem(ctx context.Context, body string, recipients []string) {
	d.send(ctx, notify.Message{
		ID:         uuid.NewString(),
		Severity:   SeverityHigh.String(),
		Body:       body,
		Recipients: recipients,
		SentAt:     time.Now().UTC(),
	})
}

// ReportInternalError raises a rate-limited meta-alert for an engine
// failure that warrants one (per classify.ShouldAlert).
//
// Best effort: the meta-alert goes through the send path only, never back
// into rule evaluation, so an engine failure cannot trigger an alert loop.
func (d *Dispatcher) ReportInternalError(ctx context.Context, err error) {
	if err == nil || !classify.ShouldAlert(err) {
		return
	}
	if !d.metaLimiter.Allow() {
		d.logger.Debug("meta-alert suppressed by rate limit", "error", err)
		return
	}
	d.SendSystem(ctx, "bias alert engine failure: "+err.Error(), nil)
}

// send fans one message out to all transports, awaiting each independently.
func (d *Dispatcher) send(ctx context.Context, msg notify.Message) {
	if len(d.transports) == 0 {
		d.recordFallback("none", msg, "no notification channels configured")
		return
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, transport := range d.transports {
		g.Go(func() error {
			sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
			defer cancel()

			err := transport.Deliver(sendCtx, msg)
			if err != nil {
				d.logger.Warn("notification channel failed",
					"channel", transport.Name(),
					"alert_id", msg.AlertID,
					"error", err,
				)
				if d.metrics != nil {
					d.metrics.DispatchTotal.WithLabelValues(transport.Name(), "failed").Inc()
				}
				d.recordFallback(transport.Name(), msg, err.Error())
				// Failures are isolated: never cancel sibling sends.
				return nil
			}

			if d.metrics != nil {
				d.metrics.DispatchTotal.WithLabelValues(transport.Name(), "ok").Inc()
			}
			d.logger.Debug("notification delivered",
				"channel", transport.Name(),
				"alert_id", msg.AlertID,
			)
			return nil
		})
	}
	_ = g.Wait()
}

// recordFallback appends exactly one durable entry for a failed channel.
func (d *Dispatcher) recordFallback(channel string, msg notify.Message, reason string) {
	if d.metrics != nil {
		d.metrics.FallbackTotal.WithLabelValues(channel).Inc()
	}
	err := d.fallback.Append(notify.FallbackEntry{
		Timestamp: time.Now().UTC(),
		Channel:   channel,
		AlertID:   msg.AlertID,
		Severity:  msg.Severity,
		Message:   msg.Body,
		Reason:    reason,
	})
	if err != nil {
		// Nothing left to fall back to; the structured log is the
		// final record.
		d.logger.Error("fallback log append failed",
			"channel", channel,
			"alert_id", msg.AlertID,
			"error", err,
		)
	}
}
