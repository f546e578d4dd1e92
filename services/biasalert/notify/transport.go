// Copyright (C) 2025 Pixelated Empathy
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package notify provides notification transports for the bias alert engine.
//
// A Transport is the "deliver(message, recipients) -> success|failure"
// capability for one channel (webhook, Slack, local log). Transports know
// nothing about alert rules or escalation; they receive a fully-formed
// Message and either deliver it or return a classifiable error.
//
// The package also provides the durable fallback log: when a channel fails
// or no channel is configured, the engine appends a tagged entry so an
// alert is never silently lost even with zero working channels.
package notify

import (
	"context"
	"time"
)

// Message is one notification to deliver over a channel.
type Message struct {
	// ID is a unique delivery id (fresh per transport attempt group).
	ID string `json:"id"`

	// AlertID is the alert this message concerns. Empty for out-of-band
	// system notices.
	AlertID string `json:"alert_id,omitempty"`

	// Severity is the alert severity as a string ("high", "critical", ...).
	Severity string `json:"severity,omitempty"`

	// Body is the human-readable notification text.
	Body string `json:"body"`

	// Recipients are channel-specific addressees.
	Recipients []string `json:"recipients,omitempty"`

	// Metadata carries extra key/value context (session id, rule id).
	Metadata map[string]string `json:"metadata,omitempty"`

	// SentAt is when the engine produced the message.
	SentAt time.Time `json:"sent_at"`
}

// Transport delivers messages over one notification channel.
//
// Implementations must be safe for concurrent use and must respect context
// cancellation: a hung downstream must not block past the caller's timeout.
type Transport interface {
	// Name identifies the channel ("webhook", "slack", "log").
	Name() string

	// Deliver sends the message. A non-nil error means the message did
	// not reach the channel; callers decide fallback behavior.
	Deliver(ctx context.Context, msg Message) error
}
