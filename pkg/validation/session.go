// Copyright (C) 2025 Pixelated Empathy
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for caller-provided identifiers that
// end up in storage keys, log lines, and notification payloads. Using
// these validators prevents key collisions and log injection from
// hostile session identifiers.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// sessionIDPattern matches valid session identifiers.
// Allows: letters, digits, then dots, hyphens, underscores.
// Max length: 128 characters.
var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._\-]{0,127}$`)

// ValidateSessionID validates a conversation session identifier.
//
// Valid session ids:
//   - 1-128 characters
//   - Start with a letter or digit
//   - Contain only letters, digits, dots, hyphens, and underscores
//
// Returns an error if the session id is invalid.
//
// Example:
//
//	if err := validation.ValidateSessionID(result.SessionID); err != nil {
//	    return nil, err
//	}
func ValidateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("session id must not be empty")
	}
	if len(id) > 128 {
		return fmt.Errorf("session id too long: %d characters (max 128)", len(id))
	}
	if strings.ContainsAny(id, "\n\r\t ") {
		return fmt.Errorf("session id must not contain whitespace")
	}
	if !sessionIDPattern.MatchString(id) {
		return fmt.Errorf("session id contains invalid characters: %q", id)
	}
	return nil
}
