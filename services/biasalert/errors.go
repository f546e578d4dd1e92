// Copyright (C) 2025 Pixelated Empathy
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package biasalert

import "errors"

// Sentinel errors for the bias alert engine.
var (
	// ErrAlertNotFound indicates the alert id is unknown to the store.
	ErrAlertNotFound = errors.New("alert not found")

	// ErrNilResult indicates a nil analysis result was submitted.
	ErrNilResult = errors.New("analysis result must not be nil")

	// ErrMissingSessionID indicates the result carries no session id.
	ErrMissingSessionID = errors.New("analysis result missing session id")

	// ErrDuplicateAlert indicates an alert id was recorded twice.
	ErrDuplicateAlert = errors.New("alert already recorded")

	// ErrStoreClosed indicates the alert store has been closed.
	ErrStoreClosed = errors.New("alert store closed")

	// ErrSchedulerStopped indicates the escalation scheduler is not running.
	ErrSchedulerStopped = errors.New("escalation scheduler stopped")

	// ErrEngineClosed indicates the engine has been shut down.
	ErrEngineClosed = errors.New("engine closed")
)
