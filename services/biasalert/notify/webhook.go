// Copyright (C) 2025 Pixelated Empathy
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nochadisfaction/pixel-bias-engine/services/biasalert/classify"
)

// defaultWebhookTimeout bounds a single delivery attempt when the caller's
// context carries no earlier deadline.
const defaultWebhookTimeout = 10 * time.Second

// WebhookTransport delivers messages as JSON POSTs to a fixed endpoint.
//
// Thread Safety: safe for concurrent use.
type WebhookTransport struct {
	name    string
	url     string
	client  *http.Client
	headers map[string]string
}

// WebhookOption customizes a WebhookTransport.
type WebhookOption func(*WebhookTransport)

// WithWebhookClient overrides the HTTP client (tests, custom TLS).
func WithWebhookClient(client *http.Client) WebhookOption {
	return func(t *WebhookTransport) { t.client = client }
}

// WithWebhookHeader adds a static header to every delivery (auth tokens).
func WithWebhookHeader(key, value string) WebhookOption {
	return func(t *WebhookTransport) { t.headers[key] = value }
}

// NewWebhookTransport creates a webhook transport for the given endpoint.
//
// Inputs:
//
//	name - Channel name for logs and fallback entries (e.g. "webhook").
//	url - The endpoint receiving JSON POSTs. Must not be empty.
//	opts - Optional client/header overrides.
//
// Outputs:
//
//	*WebhookTransport - The transport.
//	error - Non-nil when url is empty.
func NewWebhookTransport(name, url string, opts ...WebhookOption) (*WebhookTransport, error) {
	if url == "" {
		return nil, classify.NewConfigurationError("WEBHOOK_URL_MISSING",
			"webhook transport requires an endpoint url", nil)
	}
	if name == "" {
		name = "webhook"
	}
	t := &WebhookTransport{
		name:    name,
		url:     url,
		client:  &http.Client{Timeout: defaultWebhookTimeout},
		headers: map[string]string{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Name implements Transport.
func (t *WebhookTransport) Name() string { return t.name }

// Deliver implements Transport.
//
// The message is serialized as JSON and POSTed to the endpoint. Any network
// failure or non-2xx status surfaces as a classified service error so the
// dispatcher's retry policy can reason about it.
func (t *WebhookTransport) Deliver(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return classify.NewDataError("WEBHOOK_ENCODE_FAILED",
			fmt.Sprintf("encode notification %s", msg.ID), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(payload))
	if err != nil {
		return classify.NewSystemError("WEBHOOK_REQUEST_FAILED",
			fmt.Sprintf("build request for notification %s", msg.ID), err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return classify.NewServiceError("WEBHOOK_SEND_FAILED",
			fmt.Sprintf("deliver notification %s to %s", msg.ID, t.name), err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusServiceUnavailable {
			return classify.NewServiceUnavailableError("WEBHOOK_UNAVAILABLE",
				fmt.Sprintf("channel %s returned 503", t.name), nil)
		}
		return classify.NewServiceError("WEBHOOK_REJECTED",
			fmt.Sprintf("channel %s returned status %d", t.name, resp.StatusCode), nil)
	}
	return nil
}
