// Copyright (C) 2025 Pixelated Empathy
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package classify

import (
	"errors"
	"strings"
	"time"
)

// Backoff tuning. RetryDelay is deterministic given (error class, attempt)
// so tests can assert exact schedules.
const (
	// baseDelay is the starting delay for all backoff curves.
	baseDelay = 1 * time.Second

	// maxDelay caps every backoff curve.
	maxDelay = 30 * time.Second

	// gentleMultiplier is the growth factor for the default curve.
	gentleMultiplier = 1.5
)

// transientPatterns are message substrings that mark a raw (unclassified)
// error as retryable. Matching is case-insensitive.
var transientPatterns = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"connection reset",
	"connection refused",
	"no such host",
	"dns",
	"fetch failed",
	"temporarily unavailable",
}

// timeoutPatterns identify the timeout class for backoff selection.
var timeoutPatterns = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
}

// Classify produces a best-effort ClassifiedError for an arbitrary failure.
//
// Description:
//
//	Already-classified errors pass through with the operation recorded in
//	their context. Raw errors are matched against known failure shapes:
//	timeout-class messages become recoverable performance errors,
//	connection-class messages become recoverable service errors, and
//	auth-class messages become security errors. Anything unrecognized
//	defaults to system/medium/non-recoverable.
//
//	Classification never fails: a nil input yields a generic system error
//	rather than a panic or a nil result.
//
// Inputs:
//
//	err - The failure to classify. May be nil.
//	operation - Name of the operation that failed, recorded as context.
//
// Outputs:
//
//	*ClassifiedError - Never nil.
func Classify(err error, operation string) *ClassifiedError {
	if err == nil {
		return newError("UNKNOWN_ERROR", "classification requested for nil error",
			CategorySystem, SeverityMedium, false, nil).WithContext("operation", operation)
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.WithContext("operation", operation)
	}

	msg := strings.ToLower(err.Error())

	switch {
	case matchesAny(msg, timeoutPatterns):
		return NewPerformanceError("OPERATION_TIMEOUT", err.Error(), err).
			WithContext("operation", operation)

	case matchesAny(msg, []string{"connection reset", "connection refused", "no such host", "dns", "fetch failed", "temporarily unavailable"}):
		return NewServiceError("SERVICE_UNREACHABLE", err.Error(), err).
			WithContext("operation", operation)

	case matchesAny(msg, []string{"unauthorized", "forbidden", "permission denied", "authentication"}):
		return NewSecurityError("ACCESS_DENIED", err.Error(), err).
			WithContext("operation", operation)

	default:
		return newError("UNCLASSIFIED_ERROR", err.Error(),
			CategorySystem, SeverityMedium, false, err).
			WithContext("operation", operation)
	}
}

// IsRetryable reports whether retrying the failed operation is worthwhile.
//
// True iff the error is a ClassifiedError with Recoverable=true, or a raw
// error whose message matches a known transient pattern.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Recoverable
	}
	return matchesAny(strings.ToLower(err.Error()), transientPatterns)
}

// RetryDelay computes the wait before attempt number attempt (1-based).
//
// Description:
//
//	Three curves, selected by error class:
//	  - Timeout-class errors: exponential, base 1s, doubling, capped at 30s.
//	  - Generic service errors: linear, attempt x 1s, capped at 30s.
//	  - Everything else: exponential with a 1.5x multiplier, capped at 30s.
//
//	The result is deterministic given (error class, attempt) and
//	non-decreasing in attempt for a fixed error.
//
// Inputs:
//
//	err - The failure being retried. Class selection tolerates nil.
//	attempt - 1-based attempt number. Values below 1 are treated as 1.
//
// Outputs:
//
//	time.Duration - The delay to wait before this attempt.
func RetryDelay(err error, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	switch errorClass(err) {
	case classTimeout:
		d := baseDelay << (attempt - 1)
		return capDelay(d)
	case classService:
		return capDelay(time.Duration(attempt) * baseDelay)
	default:
		d := float64(baseDelay)
		for i := 1; i < attempt && d < float64(maxDelay); i++ {
			d *= gentleMultiplier
		}
		return capDelay(time.Duration(d))
	}
}

// ShouldAlert reports whether an internal engine failure itself warrants
// a meta-alert: critical severity, or high severity and non-recoverable.
//
// Callers are responsible for rate-limiting meta-alerts and must never
// re-enter alert evaluation synchronously from this path.
func ShouldAlert(err error) bool {
	var ce *ClassifiedError
	if !errors.As(err, &ce) {
		return false
	}
	if ce.Severity == SeverityCritical {
		return true
	}
	return ce.Severity == SeverityHigh && !ce.Recoverable
}

// delayClass buckets an error for backoff-curve selection.
type delayClass int

const (
	classDefault delayClass = iota
	classTimeout
	classService
)

func errorClass(err error) delayClass {
	if err == nil {
		return classDefault
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		if ce.Category == CategoryPerformance || ce.Code == "OPERATION_TIMEOUT" {
			return classTimeout
		}
		if ce.Category == CategoryService {
			return classService
		}
		return classDefault
	}

	msg := strings.ToLower(err.Error())
	if matchesAny(msg, timeoutPatterns) {
		return classTimeout
	}
	if matchesAny(msg, transientPatterns) {
		return classService
	}
	return classDefault
}

func capDelay(d time.Duration) time.Duration {
	if d > maxDelay || d <= 0 {
		return maxDelay
	}
	return d
}

func matchesAny(msg string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
