// Copyright (C) 2025 Pixelated Empathy
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package biasalert

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nochadisfaction/pixel-bias-engine/services/biasalert/classify"
)

func writeConfigFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "biasalert.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o640))
	return path
}

// TestLoadConfig verifies parsing of a full config file.
func TestLoadConfig(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), `
rules:
  high_bias_threshold: 0.65
  critical_bias_threshold: 0.85
  high_bias_escalation: 2m
  recipients:
    - oncall@example.com
notifications:
  webhook_url: https://hooks.example.com/bias
  channel_timeout: 5s
  fallback_path: /var/log/biasalert/fallback.jsonl
storage:
  path: /var/lib/biasalert
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	settings := cfg.Rules.Settings()
	assert.InDelta(t, 0.65, settings.HighBiasThreshold, 1e-9)
	assert.InDelta(t, 0.85, settings.CriticalBiasThreshold, 1e-9)
	assert.Equal(t, 2*time.Minute, settings.HighBiasEscalation)
	assert.Equal(t, []string{"oncall@example.com"}, settings.Recipients)

	// Unset values keep defaults.
	assert.InDelta(t, 0.50, settings.LowConfidenceThreshold, 1e-9)
	assert.Equal(t, time.Minute, settings.CriticalBiasEscalation)

	assert.Equal(t, "https://hooks.example.com/bias", cfg.Notifications.WebhookURL)
	assert.Equal(t, 5*time.Second, cfg.Notifications.ChannelTimeout.Std())
	assert.Equal(t, "/var/lib/biasalert", cfg.Storage.Path)
}

// TestLoadConfigEmpty verifies an empty file yields pure defaults.
func TestLoadConfigEmpty(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), "")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultRuleSettings(), cfg.Rules.Settings())
}

// TestLoadConfigMissingFile verifies the classified read error.
func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)

	var ce *classify.ClassifiedError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "CONFIG_READ_FAILED", ce.Code)
	assert.Equal(t, classify.CategoryConfiguration, ce.Category)
}

// TestLoadConfigBadYAML verifies the classified parse error.
func TestLoadConfigBadYAML(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), "rules: [not a map")

	_, err := LoadConfig(path)
	require.Error(t, err)

	var ce *classify.ClassifiedError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "CONFIG_PARSE_FAILED", ce.Code)
}

// TestLoadConfigBadDuration verifies duration scalars must parse.
func TestLoadConfigBadDuration(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), `
rules:
  high_bias_escalation: soon
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
}

// TestValidateThresholdOrder verifies critical must exceed high.
func TestValidateThresholdOrder(t *testing.T) {
	cfg := Config{
		Rules: RulesSection{
			HighBiasThreshold:     0.8,
			CriticalBiasThreshold: 0.7,
		},
	}
	err := cfg.Validate()
	require.Error(t, err)

	var ce *classify.ClassifiedError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "CONFIG_THRESHOLD_ORDER", ce.Code)
}

// TestValidateBadURL verifies webhook urls are checked.
func TestValidateBadURL(t *testing.T) {
	cfg := Config{
		Notifications: NotificationSection{WebhookURL: "not a url"},
	}
	err := cfg.Validate()
	require.Error(t, err)

	var ce *classify.ClassifiedError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "CONFIG_INVALID", ce.Code)
}

// TestValidateThresholdRange verifies thresholds stay in [0,1].
func TestValidateThresholdRange(t *testing.T) {
	cfg := Config{
		Rules: RulesSection{HighBiasThreshold: 1.5},
	}
	require.Error(t, cfg.Validate())
}

// TestWatchConfigReload verifies a rewrite of the file triggers one
// reload with the new settings, and an invalid rewrite is skipped.
func TestWatchConfigReload(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, `
rules:
  high_bias_threshold: 0.65
  critical_bias_threshold: 0.85
`)

	var (
		mu     sync.Mutex
		loaded []Config
	)
	w, err := WatchConfig(path, nil, func(cfg Config) {
		mu.Lock()
		loaded = append(loaded, cfg)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer w.Close()

	// Valid rewrite: picked up.
	require.NoError(t, os.WriteFile(path, []byte(`
rules:
  high_bias_threshold: 0.55
  critical_bias_threshold: 0.95
`), 0o640))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(loaded) >= 1
	}, 3*time.Second, 20*time.Millisecond)

	mu.Lock()
	last := loaded[len(loaded)-1]
	mu.Unlock()
	assert.InDelta(t, 0.55, last.Rules.Settings().HighBiasThreshold, 1e-9)

	// Invalid rewrite: logged and skipped, callback not invoked again
	// with bad settings.
	require.NoError(t, os.WriteFile(path, []byte(`
rules:
  high_bias_threshold: 0.9
  critical_bias_threshold: 0.1
`), 0o640))

	time.Sleep(200 * time.Millisecond)
	mu.Lock()
	for _, cfg := range loaded {
		s := cfg.Rules.Settings()
		assert.Greater(t, s.CriticalBiasThreshold, s.HighBiasThreshold)
	}
	mu.Unlock()
}
