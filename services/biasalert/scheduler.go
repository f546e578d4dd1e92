// Copyright (C) 2025 Pixelated Empathy
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package biasalert

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// escalationFireTimeout bounds the store read and secondary dispatch that
// happen when a deadline fires.
const escalationFireTimeout = 30 * time.Second

// escalationEntry is one pending deadline. It carries only the alert id;
// the store remains the single source of truth for alert state.
type escalationEntry struct {
	alertID  string
	deadline time.Time
}

// escalationHeap is a min-heap of entries keyed by deadline.
type escalationHeap []*escalationEntry

func (h escalationHeap) Len() int            { return len(h) }
func (h escalationHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h escalationHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *escalationHeap) Push(x any)         { *h = append(*h, x.(*escalationEntry)) }
func (h *escalationHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// EscalationScheduler escalates alerts that stay unacknowledged past
// their deadline.
//
// Description:
//
//	One goroutine drains a deadline-ordered min-heap instead of arming a
//	timer per alert, so resource usage stays bounded under load. At pop
//	time the scheduler re-reads the alert from the store and escalates
//	only if it is still pending: acknowledgment before the deadline makes
//	the pop a no-op, which also tolerates at-least-once scheduling.
//
//	Escalation flips the alert's escalated flag and dispatches a secondary
//	notification with the escalation prefix. Alerts escalate independently;
//	there is no ordering between different alerts' escalations.
//
// Thread Safety:
//
//	Safe for concurrent use after Start.
type EscalationScheduler struct {
	store      Store
	dispatcher *Dispatcher
	logger     *slog.Logger
	metrics    *Metrics

	mu      sync.Mutex
	pending escalationHeap
	stopped bool

	wake   chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewEscalationScheduler creates a scheduler. Not running until Start.
func NewEscalationScheduler(store Store, dispatcher *Dispatcher, logger *slog.Logger, metrics *Metrics) *EscalationScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EscalationScheduler{
		store:      store,
		dispatcher: dispatcher,
		logger:     logger,
		metrics:    metrics,
		wake:       make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start launches the scheduler loop. Idempotent.
func (s *EscalationScheduler) Start() {
	s.startOnce.Do(func() {
		go s.run()
	})
}

// Stop halts the loop and waits for it to exit. Pending entries are
// dropped; escalation state already written to the store is kept.
func (s *EscalationScheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		close(s.stopCh)
		<-s.doneCh
	})
}

// Schedule registers an escalation deadline for the alert.
//
// The entry is a weak reference: only the id is retained, and the flags
// are re-checked when the deadline fires.
func (s *EscalationScheduler) Schedule(alertID string, deadline time.Time) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrSchedulerStopped
	}
	heap.Push(&s.pending, &escalationEntry{alertID: alertID, deadline: deadline})
	s.mu.Unlock()

	// Nudge the loop in case the new deadline is the earliest.
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// PendingCount returns the number of queued deadlines. Escalations whose
// deadline fired are no longer pending regardless of outcome.
func (s *EscalationScheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.Len()
}

// run is the scheduler loop: pop due entries, sleep until the next
// deadline or a wake-up, exit on stop.
func (s *EscalationScheduler) run() {
	defer close(s.doneCh)

	for {
		due := s.collectDue()
		for _, entry := range due {
			s.fire(entry.alertID)
		}

		wait := s.nextWait()
		timer := time.NewTimer(wait)
		select {
		case <-s.stopCh:
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// collectDue pops every entry whose deadline has passed.
func (s *EscalationScheduler) collectDue() []*escalationEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var due []*escalationEntry
	for s.pending.Len() > 0 && !s.pending[0].deadline.After(now) {
		due = append(due, heap.Pop(&s.pending).(*escalationEntry))
	}
	return due
}

// nextWait returns the sleep until the earliest pending deadline, or a
// long idle interval when the heap is empty.
func (s *EscalationScheduler) nextWait() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending.Len() == 0 {
		return time.Hour
	}
	wait := time.Until(s.pending[0].deadline)
	if wait < 0 {
		wait = 0
	}
	return wait
}

// fire re-checks the alert's flags and escalates if still pending.
func (s *EscalationScheduler) fire(alertID string) {
	ctx, cancel := context.WithTimeout(context.Background(), escalationFireTimeout)
	defer cancel()

	alert, transitioned, err := s.store.MarkEscalated(ctx, alertID)
	if err != nil {
		if errors.Is(err, ErrAlertNotFound) {
			s.logger.Debug("escalation target vanished", "alert_id", alertID)
			return
		}
		s.logger.Error("escalation store update failed",
			"alert_id", alertID,
			"error", err,
		)
		if s.dispatcher != nil {
			s.dispatcher.ReportInternalError(ctx, err)
		}
		return
	}
	if !transitioned {
		// Acknowledged before the deadline, or already escalated by a
		// duplicate entry. Either way the pop is a no-op.
		s.logger.Debug("escalation skipped",
			"alert_id", alertID,
			"acknowledged", alert.Acknowledged,
			"escalated", alert.Escalated,
		)
		return
	}

	if s.metrics != nil {
		s.metrics.EscalationsTotal.Inc()
	}
	s.logger.Info("alert escalated",
		"alert_id", alert.ID,
		"rule_id", alert.RuleID,
		"session_id", alert.SessionID,
		"severity", alert.Severity,
	)

	if s.dispatcher != nil {
		s.dispatcher.Dispatch(ctx, *alert)
	}
}
