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
	"strings"

	"github.com/nochadisfaction/pixel-bias-engine/services/biasalert/classify"
)

// SlackTransport delivers messages to a Slack incoming webhook.
//
// Thread Safety: safe for concurrent use.
type SlackTransport struct {
	webhookURL string
	client     *http.Client
}

// slackPayload is the incoming-webhook message format.
type slackPayload struct {
	Text string `json:"text"`
}

// NewSlackTransport creates a Slack transport for the given incoming
// webhook URL.
func NewSlackTransport(webhookURL string) (*SlackTransport, error) {
	if webhookURL == "" {
		return nil, classify.NewConfigurationError("SLACK_URL_MISSING",
			"slack transport requires a webhook url", nil)
	}
	return &SlackTransport{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: defaultWebhookTimeout},
	}, nil
}

// Name implements Transport.
func (t *SlackTransport) Name() string { return "slack" }

// Deliver implements Transport.
func (t *SlackTransport) Deliver(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(slackPayload{Text: formatSlackText(msg)})
	if err != nil {
		return classify.NewDataError("SLACK_ENCODE_FAILED",
			fmt.Sprintf("encode notification %s", msg.ID), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return classify.NewSystemError("SLACK_REQUEST_FAILED",
			fmt.Sprintf("build request for notification %s", msg.ID), err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return classify.NewServiceError("SLACK_SEND_FAILED",
			fmt.Sprintf("deliver notification %s to slack", msg.ID), err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return classify.NewServiceError("SLACK_REJECTED",
			fmt.Sprintf("slack returned status %d", resp.StatusCode), nil)
	}
	return nil
}

// formatSlackText renders a message as a single Slack text block.
func formatSlackText(msg Message) string {
	var b strings.Builder
	if msg.Severity != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(msg.Severity))
	}
	b.WriteString(msg.Body)
	if msg.AlertID != "" {
		fmt.Fprintf(&b, "\nalert: %s", msg.AlertID)
	}
	if session, ok := msg.Metadata["session_id"]; ok {
		fmt.Fprintf(&b, "\nsession: %s", session)
	}
	if len(msg.Recipients) > 0 {
		fmt.Fprintf(&b, "\ncc: %s", strings.Join(msg.Recipients, ", "))
	}
	return b.String()
}
