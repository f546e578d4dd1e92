// Copyright (C) 2025 Pixelated Empathy
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package classify provides the error taxonomy for the bias alert engine.
//
// Every fallible operation in the engine surfaces a *ClassifiedError rather
// than an ad-hoc error, so category, severity, and recoverability are
// structurally available to callers. The package also provides the retry
// policy (IsRetryable, RetryDelay) that governs how callers back off on
// transient failures.
//
// # Basic Usage
//
//	err := classify.NewServiceError("NOTIFY_SEND_FAILED",
//	    "webhook delivery failed", cause)
//	if classify.IsRetryable(err) {
//	    delay := classify.RetryDelay(err, attempt)
//	    // wait and retry
//	}
//
// Thread Safety:
//
//	ClassifiedError values are immutable after construction and safe to
//	share across goroutines. The context map must not be mutated after
//	the error is constructed.
package classify

import (
	"fmt"
	"time"
)

// Severity ranks how urgent an error is. Severity is assigned at
// construction and never mutated.
type Severity string

const (
	// SeverityLow marks errors that are informational only.
	SeverityLow Severity = "low"

	// SeverityMedium marks errors that degrade a single operation.
	SeverityMedium Severity = "medium"

	// SeverityHigh marks errors that threaten a subsystem.
	SeverityHigh Severity = "high"

	// SeverityCritical marks errors that require immediate attention.
	SeverityCritical Severity = "critical"
)

// String returns the string representation of the severity.
func (s Severity) String() string { return string(s) }

// Category identifies which part of the taxonomy an error belongs to.
type Category string

const (
	// CategoryConfiguration covers bad threshold values, malformed rule
	// definitions, and other operator-supplied configuration problems.
	CategoryConfiguration Category = "configuration"

	// CategoryValidation covers malformed session input.
	CategoryValidation Category = "validation"

	// CategoryService covers failures calling external collaborators
	// (analysis service, notification transports).
	CategoryService Category = "service"

	// CategoryData covers missing or corrupted stored data.
	CategoryData Category = "data"

	// CategorySecurity covers auth failures on privileged alert operations.
	CategorySecurity Category = "security"

	// CategoryPerformance covers timeouts and resource exhaustion.
	CategoryPerformance Category = "performance"

	// CategorySystem covers initialization failures and everything
	// that cannot be classified more precisely.
	CategorySystem Category = "system"
)

// String returns the string representation of the category.
func (c Category) String() string { return string(c) }

// ClassifiedError is a structured error carrying taxonomy metadata.
//
// Category and Severity are fixed at construction. Recoverable drives retry
// eligibility via IsRetryable. UserMessage, when set, is safe to surface to
// operators; Message may contain internal detail.
type ClassifiedError struct {
	// Code is a stable, machine-readable error code (e.g. "STORE_WRITE_FAILED").
	Code string

	// Message is the internal human-readable description.
	Message string

	// Category places the error in the taxonomy.
	Category Category

	// Severity ranks the error's urgency.
	Severity Severity

	// Timestamp records when the error was constructed.
	Timestamp time.Time

	// Context carries free-form key/value detail (operation, ids, counts).
	// Treat as read-only after construction.
	Context map[string]any

	// Recoverable indicates whether retrying the same operation has a
	// reasonable chance of succeeding.
	Recoverable bool

	// UserMessage is an optional operator-facing message.
	UserMessage string

	// Cause is the wrapped underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s/%s] %s: %s: %v", e.Category, e.Severity, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s/%s] %s: %s", e.Category, e.Severity, e.Code, e.Message)
}

// Unwrap returns the wrapped cause for errors.Is / errors.As chains.
func (e *ClassifiedError) Unwrap() error { return e.Cause }

// WithContext returns a copy of the error with an extra context entry.
//
// The receiver is not mutated; classification metadata is preserved.
func (e *ClassifiedError) WithContext(key string, value any) *ClassifiedError {
	clone := *e
	clone.Context = make(map[string]any, len(e.Context)+1)
	for k, v := range e.Context {
		clone.Context[k] = v
	}
	clone.Context[key] = value
	return &clone
}

// WithUserMessage returns a copy of the error with an operator-facing message.
func (e *ClassifiedError) WithUserMessage(msg string) *ClassifiedError {
	clone := *e
	clone.UserMessage = msg
	return &clone
}

// newError is the common constructor. All category constructors delegate here.
func newError(code, message string, category Category, severity Severity, recoverable bool, cause error) *ClassifiedError {
	return &ClassifiedError{
		Code:        code,
		Message:     message,
		Category:    category,
		Severity:    severity,
		Timestamp:   time.Now().UTC(),
		Context:     map[string]any{},
		Recoverable: recoverable,
		Cause:       cause,
	}
}

// NewConfigurationError creates a configuration error.
//
// Configuration errors are high severity and non-recoverable: retrying
// with the same bad configuration cannot succeed.
func NewConfigurationError(code, message string, cause error) *ClassifiedError {
	return newError(code, message, CategoryConfiguration, SeverityHigh, false, cause)
}

// NewValidationError creates a validation error for malformed input.
//
// Validation errors are medium severity and recoverable: the caller can
// correct the input and resubmit.
func NewValidationError(code, message string, cause error) *ClassifiedError {
	return newError(code, message, CategoryValidation, SeverityMedium, true, cause)
}

// NewServiceError creates an error for a failed external service call.
//
// Service errors are high severity and recoverable by default. Use
// NewServiceUnavailableError when the collaborator is known to be down.
func NewServiceError(code, message string, cause error) *ClassifiedError {
	return newError(code, message, CategoryService, SeverityHigh, true, cause)
}

// NewServiceUnavailableError creates a service error for a collaborator
// that is explicitly unavailable. Unlike NewServiceError, the result is
// non-recoverable: retrying against a known-down service is wasted work.
func NewServiceUnavailableError(code, message string, cause error) *ClassifiedError {
	return newError(code, message, CategoryService, SeverityHigh, false, cause)
}

// NewDataError creates a data error (missing record, decode failure).
//
// Data errors are medium severity and recoverable by default.
func NewDataError(code, message string, cause error) *ClassifiedError {
	return newError(code, message, CategoryData, SeverityMedium, true, cause)
}

// NewDataCorruptionError creates a data error for corrupted stored data.
// Corruption is high severity and non-recoverable.
func NewDataCorruptionError(code, message string, cause error) *ClassifiedError {
	return newError(code, message, CategoryData, SeverityHigh, false, cause)
}

// NewSecurityError creates a security error for auth or authorization
// failures on privileged alert operations. Critical, non-recoverable.
func NewSecurityError(code, message string, cause error) *ClassifiedError {
	return newError(code, message, CategorySecurity, SeverityCritical, false, cause)
}

// NewPerformanceError creates a performance error (timeout, slow path).
//
// Performance errors are medium severity and recoverable.
func NewPerformanceError(code, message string, cause error) *ClassifiedError {
	return newError(code, message, CategoryPerformance, SeverityMedium, true, cause)
}

// NewResourceExhaustedError creates a performance error for resource
// exhaustion. Escalated to high severity and non-recoverable, since
// immediate retries make exhaustion worse.
func NewResourceExhaustedError(code, message string, cause error) *ClassifiedError {
	return newError(code, message, CategoryPerformance, SeverityHigh, false, cause)
}

// NewSystemError creates a system error for internal failures.
//
// System errors are high severity and non-recoverable.
func NewSystemError(code, message string, cause error) *ClassifiedError {
	return newError(code, message, CategorySystem, SeverityHigh, false, cause)
}

// NewInitializationError creates a system error for startup failures.
// Critical, non-recoverable.
func NewInitializationError(code, message string, cause error) *ClassifiedError {
	return newError(code, message, CategorySystem, SeverityCritical, false, cause)
}
