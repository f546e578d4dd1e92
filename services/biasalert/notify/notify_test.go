// Copyright (C) 2025 Pixelated Empathy
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package notify

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nochadisfaction/pixel-bias-engine/services/biasalert/classify"
)

func testMessage() Message {
	return Message{
		ID:         "n-1",
		AlertID:    "high-bias-score-s1-1700000000000",
		Severity:   "high",
		Body:       "overall bias score exceeds 0.70",
		Recipients: []string{"oncall@example.org"},
		Metadata:   map[string]string{"session_id": "s1"},
		SentAt:     time.Now().UTC(),
	}
}

// TestWebhookDeliverPostsJSON verifies the payload shape and headers.
func TestWebhookDeliverPostsJSON(t *testing.T) {
	var received Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "token-123", r.Header.Get("Authorization"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	transport, err := NewWebhookTransport("webhook", srv.URL,
		WithWebhookHeader("Authorization", "token-123"))
	require.NoError(t, err)

	err = transport.Deliver(context.Background(), testMessage())
	require.NoError(t, err)
	assert.Equal(t, "n-1", received.ID)
	assert.Equal(t, "high", received.Severity)
}

// TestWebhookDeliverClassifiesFailures verifies error classification on
// rejection and unreachability.
func TestWebhookDeliverClassifiesFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	transport, err := NewWebhookTransport("webhook", srv.URL)
	require.NoError(t, err)

	err = transport.Deliver(context.Background(), testMessage())
	require.Error(t, err)

	var ce *classify.ClassifiedError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, classify.CategoryService, ce.Category)
	assert.True(t, classify.IsRetryable(err))

	// Unreachable endpoint.
	srv.Close()
	err = transport.Deliver(context.Background(), testMessage())
	require.Error(t, err)
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "WEBHOOK_SEND_FAILED", ce.Code)
}

// TestWebhookUnavailableIsNonRecoverable verifies 503 maps to a
// non-recoverable service error.
func TestWebhookUnavailableIsNonRecoverable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	transport, err := NewWebhookTransport("webhook", srv.URL)
	require.NoError(t, err)

	err = transport.Deliver(context.Background(), testMessage())
	require.Error(t, err)
	assert.False(t, classify.IsRetryable(err))
}

// TestWebhookRequiresURL verifies construction fails without an endpoint.
func TestWebhookRequiresURL(t *testing.T) {
	_, err := NewWebhookTransport("webhook", "")
	require.Error(t, err)

	var ce *classify.ClassifiedError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, classify.CategoryConfiguration, ce.Category)
}

// TestSlackDeliverFormatsText verifies the incoming-webhook payload.
func TestSlackDeliverFormatsText(t *testing.T) {
	var payload slackPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &payload))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	transport, err := NewSlackTransport(srv.URL)
	require.NoError(t, err)
	require.NoError(t, transport.Deliver(context.Background(), testMessage()))

	assert.Contains(t, payload.Text, "[HIGH]")
	assert.Contains(t, payload.Text, "overall bias score exceeds 0.70")
	assert.Contains(t, payload.Text, "session: s1")
}

// TestLogTransportHonorsCancellation verifies context checks.
func TestLogTransportHonorsCancellation(t *testing.T) {
	transport := NewLogTransport(nil)

	require.NoError(t, transport.Deliver(context.Background(), testMessage()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := transport.Deliver(ctx, testMessage())
	assert.True(t, errors.Is(err, context.Canceled))
}

// TestFileFallbackLogRoundTrip verifies entries survive as JSON lines.
func TestFileFallbackLogRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fallback", "alerts.jsonl")
	log, err := OpenFileFallbackLog(path)
	require.NoError(t, err)
	defer log.Close()

	require.NoError(t, log.Append(FallbackEntry{
		Channel:  "webhook",
		AlertID:  "a-1",
		Severity: "critical",
		Message:  "delivery failed",
		Reason:   "connection refused",
	}))
	require.NoError(t, log.Append(FallbackEntry{
		Channel: "slack",
		AlertID: "a-2",
		Message: "delivery failed",
	}))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var entries []FallbackEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e FallbackEntry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		entries = append(entries, e)
	}
	require.Len(t, entries, 2)
	assert.Equal(t, "webhook", entries[0].Channel)
	assert.Equal(t, "a-1", entries[0].AlertID)
	assert.False(t, entries[0].Timestamp.IsZero())
	assert.Equal(t, "slack", entries[1].Channel)
}

// TestMemoryFallbackLog verifies the in-memory implementation.
func TestMemoryFallbackLog(t *testing.T) {
	log := NewMemoryFallbackLog()
	require.NoError(t, log.Append(FallbackEntry{Channel: "webhook", AlertID: "a-1", Message: "m"}))

	entries := log.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "a-1", entries[0].AlertID)
}
