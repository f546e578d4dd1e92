// Copyright (C) 2025 Pixelated Empathy
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package classify

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestConstructorsAssignTaxonomy verifies category/severity/recoverability
// defaults for every constructor.
func TestConstructorsAssignTaxonomy(t *testing.T) {
	tests := []struct {
		name        string
		err         *ClassifiedError
		category    Category
		severity    Severity
		recoverable bool
	}{
		{"configuration", NewConfigurationError("C1", "bad threshold", nil), CategoryConfiguration, SeverityHigh, false},
		{"validation", NewValidationError("V1", "malformed input", nil), CategoryValidation, SeverityMedium, true},
		{"service", NewServiceError("S1", "call failed", nil), CategoryService, SeverityHigh, true},
		{"service unavailable", NewServiceUnavailableError("S2", "down", nil), CategoryService, SeverityHigh, false},
		{"data", NewDataError("D1", "missing record", nil), CategoryData, SeverityMedium, true},
		{"data corruption", NewDataCorruptionError("D2", "corrupt record", nil), CategoryData, SeverityHigh, false},
		{"security", NewSecurityError("SEC1", "denied", nil), CategorySecurity, SeverityCritical, false},
		{"performance", NewPerformanceError("P1", "slow", nil), CategoryPerformance, SeverityMedium, true},
		{"resource exhausted", NewResourceExhaustedError("P2", "out of memory", nil), CategoryPerformance, SeverityHigh, false},
		{"system", NewSystemError("SYS1", "internal", nil), CategorySystem, SeverityHigh, false},
		{"initialization", NewInitializationError("SYS2", "boot failed", nil), CategorySystem, SeverityCritical, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.category, tc.err.Category)
			assert.Equal(t, tc.severity, tc.err.Severity)
			assert.Equal(t, tc.recoverable, tc.err.Recoverable)
			assert.False(t, tc.err.Timestamp.IsZero())
		})
	}
}

// TestErrorWrapsAndUnwraps verifies errors.Is/As work through the cause chain.
func TestErrorWrapsAndUnwraps(t *testing.T) {
	cause := errors.New("connection reset by peer")
	err := NewServiceError("S1", "webhook failed", cause)

	assert.ErrorIs(t, err, cause)

	wrapped := fmt.Errorf("dispatch: %w", err)
	var ce *ClassifiedError
	require.ErrorAs(t, wrapped, &ce)
	assert.Equal(t, "S1", ce.Code)
}

// TestWithContextDoesNotMutateOriginal verifies copy-on-write context.
func TestWithContextDoesNotMutateOriginal(t *testing.T) {
	orig := NewValidationError("V1", "bad input", nil)
	derived := orig.WithContext("session_id", "s-42")

	assert.NotContains(t, orig.Context, "session_id")
	assert.Equal(t, "s-42", derived.Context["session_id"])
	assert.Equal(t, orig.Category, derived.Category)
}

// TestClassifyPassthrough verifies classified errors pass through with
// the operation recorded.
func TestClassifyPassthrough(t *testing.T) {
	orig := NewSecurityError("SEC1", "denied", nil)
	ce := Classify(orig, "acknowledge_alert")

	assert.Equal(t, "SEC1", ce.Code)
	assert.Equal(t, CategorySecurity, ce.Category)
	assert.Equal(t, "acknowledge_alert", ce.Context["operation"])
}

// TestClassifyRawErrors verifies pattern-based classification of raw errors.
func TestClassifyRawErrors(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		category    Category
		recoverable bool
	}{
		{"timeout", errors.New("request timed out"), CategoryPerformance, true},
		{"deadline", errors.New("context deadline exceeded"), CategoryPerformance, true},
		{"connection reset", errors.New("read: connection reset by peer"), CategoryService, true},
		{"dns", errors.New("lookup example.com: no such host"), CategoryService, true},
		{"fetch failed", errors.New("fetch failed"), CategoryService, true},
		{"auth", errors.New("401 unauthorized"), CategorySecurity, false},
		{"unknown", errors.New("something odd happened"), CategorySystem, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ce := Classify(tc.err, "op")
			assert.Equal(t, tc.category, ce.Category)
			assert.Equal(t, tc.recoverable, ce.Recoverable)
		})
	}
}

// TestClassifyNeverReturnsNil verifies the nil-input fallback.
func TestClassifyNeverReturnsNil(t *testing.T) {
	ce := Classify(nil, "op")
	require.NotNil(t, ce)
	assert.Equal(t, CategorySystem, ce.Category)
	assert.Equal(t, SeverityMedium, ce.Severity)
	assert.False(t, ce.Recoverable)
}

// TestIsRetryable covers classified and raw-pattern paths.
func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewServiceError("S1", "failed", nil)))
	assert.False(t, IsRetryable(NewSecurityError("SEC1", "denied", nil)))
	assert.True(t, IsRetryable(errors.New("dial tcp: i/o timeout")))
	assert.True(t, IsRetryable(errors.New("fetch failed")))
	assert.False(t, IsRetryable(errors.New("invalid argument")))
	assert.False(t, IsRetryable(nil))
}

// TestRetryDelayTimeoutCurve verifies exponential doubling with a 30s cap.
func TestRetryDelayTimeoutCurve(t *testing.T) {
	err := errors.New("request timed out")

	assert.Equal(t, 1*time.Second, RetryDelay(err, 1))
	assert.Equal(t, 2*time.Second, RetryDelay(err, 2))
	assert.Equal(t, 4*time.Second, RetryDelay(err, 3))
	assert.Equal(t, 8*time.Second, RetryDelay(err, 4))
	assert.Equal(t, 16*time.Second, RetryDelay(err, 5))
	assert.Equal(t, 30*time.Second, RetryDelay(err, 6))
	assert.Equal(t, 30*time.Second, RetryDelay(err, 10))
}

// TestRetryDelayServiceCurve verifies the linear service curve.
func TestRetryDelayServiceCurve(t *testing.T) {
	err := NewServiceError("S1", "call failed", nil)

	assert.Equal(t, 1*time.Second, RetryDelay(err, 1))
	assert.Equal(t, 2*time.Second, RetryDelay(err, 2))
	assert.Equal(t, 5*time.Second, RetryDelay(err, 5))
	assert.Equal(t, 30*time.Second, RetryDelay(err, 31))
}

// TestRetryDelayDefaultCurve verifies the gentler 1.5x exponential.
func TestRetryDelayDefaultCurve(t *testing.T) {
	err := NewDataError("D1", "missing", nil)

	assert.Equal(t, 1*time.Second, RetryDelay(err, 1))
	assert.Equal(t, 1500*time.Millisecond, RetryDelay(err, 2))
	assert.Equal(t, 2250*time.Millisecond, RetryDelay(err, 3))
	assert.Equal(t, 30*time.Second, RetryDelay(err, 20))
}

// TestRetryDelayNonDecreasing verifies monotonicity for a fixed error.
func TestRetryDelayNonDecreasing(t *testing.T) {
	errs := []error{
		errors.New("request timed out"),
		NewServiceError("S1", "failed", nil),
		NewDataError("D1", "missing", nil),
	}

	for _, err := range errs {
		prev := time.Duration(0)
		for attempt := 1; attempt <= 40; attempt++ {
			d := RetryDelay(err, attempt)
			assert.GreaterOrEqual(t, d, prev, "attempt %d for %v", attempt, err)
			assert.LessOrEqual(t, d, 30*time.Second)
			prev = d
		}
	}
}

// TestShouldAlert verifies the meta-alert gate.
func TestShouldAlert(t *testing.T) {
	assert.True(t, ShouldAlert(NewSecurityError("SEC1", "denied", nil)))
	assert.True(t, ShouldAlert(NewInitializationError("SYS2", "boot", nil)))
	assert.True(t, ShouldAlert(NewConfigurationError("C1", "bad", nil)))
	// High but recoverable: no meta-alert.
	assert.False(t, ShouldAlert(NewServiceError("S1", "failed", nil)))
	// Medium: no meta-alert.
	assert.False(t, ShouldAlert(NewValidationError("V1", "bad", nil)))
	// Raw errors never meta-alert.
	assert.False(t, ShouldAlert(errors.New("timeout")))
}
