// Copyright (C) 2025 Pixelated Empathy
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package biasalert

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Store is the alert registry. Alerts are owned by the store for their full
// lifetime; every other component refers to them by id only.
//
// Implementations must apply mutations atomically with respect to concurrent
// readers: reads may lag in-flight writes, but must never observe a
// partially-written alert.
type Store interface {
	// Record appends a new alert. Append-only: recording an id twice is a
	// caller bug and returns an error.
	Record(ctx context.Context, alert *Alert) error

	// Get returns a copy of the alert, or ErrAlertNotFound.
	Get(ctx context.Context, id string) (*Alert, error)

	// Acknowledge marks the alert acknowledged. Idempotent: acknowledging
	// an already-acknowledged alert is a no-op, not an error. The bool
	// reports whether this call performed the transition; the alert
	// reflects post-call state.
	Acknowledge(ctx context.Context, id, by string) (*Alert, bool, error)

	// MarkEscalated flips the escalated flag iff the alert is still
	// pending (neither acknowledged nor escalated). The bool reports
	// whether the transition happened; the alert reflects post-call state.
	MarkEscalated(ctx context.Context, id string) (*Alert, bool, error)

	// Active returns all unacknowledged alerts in insertion order.
	Active(ctx context.Context) ([]Alert, error)

	// Recent returns alerts created within the window, in insertion order.
	Recent(ctx context.Context, window time.Duration) ([]Alert, error)

	// Close releases resources. Further calls return ErrStoreClosed.
	Close() error
}

// MemoryStore is the default in-memory Store.
//
// A single mutex guards the alert map and insertion-order index. All
// returned alerts are copies, so callers can never mutate stored state
// or observe a torn write.
type MemoryStore struct {
	mu     sync.RWMutex
	alerts map[string]*Alert
	order  []string
	closed bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		alerts: make(map[string]*Alert),
	}
}

// Record implements Store.
func (s *MemoryStore) Record(ctx context.Context, alert *Alert) error {
	if alert == nil {
		return ErrNilResult
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if _, exists := s.alerts[alert.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateAlert, alert.ID)
	}

	clone := *alert
	s.alerts[alert.ID] = &clone
	s.order = append(s.order, alert.ID)
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Alert, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	stored, ok := s.alerts[id]
	if !ok {
		return nil, ErrAlertNotFound
	}
	clone := *stored
	return &clone, nil
}

// Acknowledge implements Store. Idempotent.
func (s *MemoryStore) Acknowledge(ctx context.Context, id, by string) (*Alert, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, ErrStoreClosed
	}
	stored, ok := s.alerts[id]
	if !ok {
		return nil, false, ErrAlertNotFound
	}

	transitioned := false
	if !stored.Acknowledged {
		now := time.Now().UTC()
		stored.Acknowledged = true
		stored.AcknowledgedBy = by
		stored.AcknowledgedAt = &now
		transitioned = true
	}

	clone := *stored
	return &clone, transitioned, nil
}

// MarkEscalated implements Store.
func (s *MemoryStore) MarkEscalated(ctx context.Context, id string) (*Alert, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, ErrStoreClosed
	}
	stored, ok := s.alerts[id]
	if !ok {
		return nil, false, ErrAlertNotFound
	}

	transitioned := false
	if !stored.Acknowledged && !stored.Escalated {
		now := time.Now().UTC()
		stored.Escalated = true
		stored.EscalatedAt = &now
		transitioned = true
	}

	clone := *stored
	return &clone, transitioned, nil
}

// Active implements Store.
func (s *MemoryStore) Active(ctx context.Context) ([]Alert, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	var out []Alert
	for _, id := range s.order {
		if a := s.alerts[id]; !a.Acknowledged {
			out = append(out, *a)
		}
	}
	return out, nil
}

// Recent implements Store.
func (s *MemoryStore) Recent(ctx context.Context, window time.Duration) ([]Alert, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	cutoff := time.Now().UTC().Add(-window)
	var out []Alert
	for _, id := range s.order {
		if a := s.alerts[id]; !a.CreatedAt.Before(cutoff) {
			out = append(out, *a)
		}
	}
	return out, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
