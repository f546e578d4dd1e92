// Copyright (C) 2025 Pixelated Empathy
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package badgerstore provides a BadgerDB-backed alert store.
//
// Alerts are stored as JSON values keyed by alert ID. BadgerDB gives the
// engine durable, low-latency embedded storage so alert history survives
// process restarts without requiring an external database.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/nochadisfaction/pixel-bias-engine/services/biasalert"
)

// alertKeyPrefix namespaces alert records within the key space.
const alertKeyPrefix = "alert/"

// Config holds configuration for a badger-backed alert store.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Required unless InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal log output.
	// If nil, BadgerDB's internal logging is disabled.
	Logger *slog.Logger

	// GCInterval is how often to run value log garbage collection.
	// Set to 0 to disable.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum ratio of discardable data before GC.
	GCDiscardRatio float64
}

// DefaultConfig returns production defaults: synchronous writes and a
// five-minute GC interval.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns configuration optimized for testing: no disk
// I/O, no sync, no GC.
func InMemoryConfig() Config {
	return Config{
		InMemory:   true,
		SyncWrites: false,
		GCInterval: 0,
	}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store is a durable alert store backed by BadgerDB.
//
// Thread Safety: Safe for concurrent use. BadgerDB transactions provide
// the serialization for read-modify-write transitions.
type Store struct {
	db     *badger.DB
	logger *slog.Logger

	gcStop chan struct{}
	gcDone chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

// Compile-time interface check.
var _ biasalert.Store = (*Store)(nil)

// Open opens a badger-backed alert store with the given configuration.
//
// Description:
//
//	Opens a BadgerDB database at the configured path, or in memory if
//	InMemory is true. Creates the directory if it doesn't exist and
//	starts value log GC if an interval is configured.
//
// Outputs:
//
//	*Store - The opened store. Caller must call Close() when done.
//	error - Non-nil if the path is invalid or the database cannot open.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger alert store: %w", err)
	}

	s := &Store{
		db:     db,
		logger: cfg.Logger,
		closed: make(chan struct{}),
	}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gcStop = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}

	return s, nil
}

func (s *Store) runGC(interval time.Duration, ratio float64) {
	defer close(s.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.gcStop:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				if s.logger != nil {
					s.logger.Warn("badger value log GC error", slog.String("error", err.Error()))
				}
			}
		}
	}
}

func (s *Store) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func alertKey(id string) []byte {
	return []byte(alertKeyPrefix + id)
}

// Record persists a new alert. Returns ErrDuplicateAlert if an alert
// with the same ID has already been recorded.
func (s *Store) Record(ctx context.Context, alert *biasalert.Alert) error {
	if alert == nil {
		return biasalert.ErrNilResult
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.isClosed() {
		return biasalert.ErrStoreClosed
	}

	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("encode alert %s: %w", alert.ID, err)
	}

	key := alertKey(alert.ID)
	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		switch {
		case err == nil:
			return fmt.Errorf("%w: %s", biasalert.ErrDuplicateAlert, alert.ID)
		case !errors.Is(err, badger.ErrKeyNotFound):
			return fmt.Errorf("check alert %s: %w", alert.ID, err)
		}
		return txn.Set(key, payload)
	})
}

// Get returns the alert with the given ID, or ErrAlertNotFound.
func (s *Store) Get(ctx context.Context, id string) (*biasalert.Alert, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.isClosed() {
		return nil, biasalert.ErrStoreClosed
	}

	var alert biasalert.Alert
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(alertKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", biasalert.ErrAlertNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("get alert %s: %w", id, err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &alert)
		})
	})
	if err != nil {
		return nil, err
	}
	return &alert, nil
}

// Acknowledge marks the alert as acknowledged by the given party.
//
// Description:
//
//	Idempotent: acknowledging an already-acknowledged alert returns the
//	stored alert with transitioned=false and does not overwrite the
//	original acknowledger or timestamp.
func (s *Store) Acknowledge(ctx context.Context, id, by string) (*biasalert.Alert, bool, error) {
	return s.transition(ctx, id, func(alert *biasalert.Alert) bool {
		if alert.Acknowledged {
			return false
		}
		now := time.Now().UTC()
		alert.Acknowledged = true
		alert.AcknowledgedBy = by
		alert.AcknowledgedAt = &now
		return true
	})
}

// MarkEscalated marks an unacknowledged alert as escalated.
//
// Description:
//
//	The transition only applies when the alert is neither acknowledged
//	nor already escalated; otherwise the stored alert is returned with
//	transitioned=false.
func (s *Store) MarkEscalated(ctx context.Context, id string) (*biasalert.Alert, bool, error) {
	return s.transition(ctx, id, func(alert *biasalert.Alert) bool {
		if alert.Acknowledged || alert.Escalated {
			return false
		}
		now := time.Now().UTC()
		alert.Escalated = true
		alert.EscalatedAt = &now
		return true
	})
}

// transition applies a state change inside a single read-write
// transaction so concurrent acknowledge/escalate calls serialize.
func (s *Store) transition(ctx context.Context, id string, apply func(*biasalert.Alert) bool) (*biasalert.Alert, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if s.isClosed() {
		return nil, false, biasalert.ErrStoreClosed
	}

	var (
		alert        biasalert.Alert
		transitioned bool
	)
	key := alertKey(id)
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", biasalert.ErrAlertNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("get alert %s: %w", id, err)
		}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &alert)
		}); err != nil {
			return fmt.Errorf("decode alert %s: %w", id, err)
		}

		transitioned = apply(&alert)
		if !transitioned {
			return nil
		}

		payload, err := json.Marshal(alert)
		if err != nil {
			return fmt.Errorf("encode alert %s: %w", id, err)
		}
		return txn.Set(key, payload)
	})
	if err != nil {
		return nil, false, err
	}
	return &alert, transitioned, nil
}

// Active returns all unacknowledged alerts, oldest first.
func (s *Store) Active(ctx context.Context) ([]biasalert.Alert, error) {
	return s.scan(ctx, func(a *biasalert.Alert) bool {
		return !a.Acknowledged
	})
}

// Recent returns alerts created within the given window, oldest first.
// The cutoff instant itself is inclusive, matching MemoryStore.
func (s *Store) Recent(ctx context.Context, window time.Duration) ([]biasalert.Alert, error) {
	cutoff := time.Now().Add(-window)
	return s.scan(ctx, func(a *biasalert.Alert) bool {
		return !a.CreatedAt.Before(cutoff)
	})
}

func (s *Store) scan(ctx context.Context, keep func(*biasalert.Alert) bool) ([]biasalert.Alert, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.isClosed() {
		return nil, biasalert.ErrStoreClosed
	}

	var alerts []biasalert.Alert
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(alertKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var alert biasalert.Alert
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &alert)
			}); err != nil {
				return fmt.Errorf("decode alert %s: %w", it.Item().Key(), err)
			}
			if keep(&alert) {
				alerts = append(alerts, alert)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Badger iterates in key order; restore creation order for callers.
	sort.Slice(alerts, func(i, j int) bool {
		return alerts[i].CreatedAt.Before(alerts[j].CreatedAt)
	})
	return alerts, nil
}

// Close stops GC and closes the underlying database.
// Safe to call multiple times.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.gcStop != nil {
			close(s.gcStop)
			<-s.gcDone
		}
		err = s.db.Close()
	})
	return err
}
