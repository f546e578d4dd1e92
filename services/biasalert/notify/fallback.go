// Copyright (C) 2025 Pixelated Empathy
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package notify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FallbackEntry is one durable record of a notification that could not be
// delivered through its channel.
type FallbackEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Channel   string    `json:"channel"`
	AlertID   string    `json:"alert_id,omitempty"`
	Severity  string    `json:"severity,omitempty"`
	Message   string    `json:"message"`
	Reason    string    `json:"reason,omitempty"`
}

// FallbackLog durably records failed deliveries so an alert is never
// silently lost, even with zero working channels.
type FallbackLog interface {
	Append(entry FallbackEntry) error
}

// FileFallbackLog appends JSON lines to a local file, syncing each entry.
//
// Thread Safety: a mutex serializes appends.
type FileFallbackLog struct {
	mu   sync.Mutex
	file *os.File
}

// OpenFileFallbackLog opens (or creates) the fallback log at path.
// Parent directories are created with 0750 permissions.
func OpenFileFallbackLog(path string) (*FileFallbackLog, error) {
	if path == "" {
		return nil, fmt.Errorf("fallback log path must not be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("create fallback log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, fmt.Errorf("open fallback log: %w", err)
	}
	return &FileFallbackLog{file: f}, nil
}

// Append implements FallbackLog. Each entry is one JSON line, fsynced
// before returning: the fallback log is the last line of defense.
func (l *FileFallbackLog) Append(entry FallbackEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode fallback entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write fallback entry: %w", err)
	}
	return l.file.Sync()
}

// Close closes the underlying file.
func (l *FileFallbackLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// MemoryFallbackLog keeps entries in memory. Used in tests and in
// ephemeral local-only deployments where a file is unwanted.
type MemoryFallbackLog struct {
	mu      sync.Mutex
	entries []FallbackEntry
}

// NewMemoryFallbackLog creates an empty in-memory fallback log.
func NewMemoryFallbackLog() *MemoryFallbackLog {
	return &MemoryFallbackLog{}
}

// Append implements FallbackLog.
func (l *MemoryFallbackLog) Append(entry FallbackEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return nil
}

// Entries returns a copy of the recorded entries.
func (l *MemoryFallbackLog) Entries() []FallbackEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]FallbackEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
