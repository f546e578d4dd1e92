// Copyright (C) 2025 Pixelated Empathy
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package notify

import (
	"context"
	"log/slog"
)

// LogTransport delivers messages into structured logs. This is the
// zero-dependency channel for local-only deployments and development.
//
// Thread Safety: safe for concurrent use.
type LogTransport struct {
	logger *slog.Logger
}

// NewLogTransport creates a log transport. A nil logger uses slog.Default.
func NewLogTransport(logger *slog.Logger) *LogTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogTransport{logger: logger}
}

// Name implements Transport.
func (t *LogTransport) Name() string { return "log" }

// Deliver implements Transport. Logging never fails delivery, but context
// cancellation is still honored.
func (t *LogTransport) Deliver(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.logger.Info("notification delivered",
		"notification_id", msg.ID,
		"alert_id", msg.AlertID,
		"severity", msg.Severity,
		"recipients", msg.Recipients,
		"body", msg.Body,
	)
	return nil
}
