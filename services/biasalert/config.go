// Copyright (C) 2025 Pixelated Empathy
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package biasalert

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/nochadisfaction/pixel-bias-engine/services/biasalert/classify"
)

// Duration wraps time.Duration for YAML scalars like "5m" or "90s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the engine's file configuration.
//
// All sections are optional; absent values keep the built-in defaults.
type Config struct {
	Rules         RulesSection        `yaml:"rules"`
	Notifications NotificationSection `yaml:"notifications"`
	Storage       StorageSection      `yaml:"storage"`
}

// RulesSection overrides default rule thresholds and delays. Zero values
// mean "keep the default": a threshold of exactly 0 is not a meaningful
// rule, so zero doubles as unset.
type RulesSection struct {
	HighBiasThreshold       float64  `yaml:"high_bias_threshold" validate:"gte=0,lte=1"`
	CriticalBiasThreshold   float64  `yaml:"critical_bias_threshold" validate:"gte=0,lte=1"`
	LowConfidenceThreshold  float64  `yaml:"low_confidence_threshold" validate:"gte=0,lte=1"`
	LowConfidenceScoreFloor float64  `yaml:"low_confidence_score_floor" validate:"gte=0,lte=1"`
	HighBiasEscalation      Duration `yaml:"high_bias_escalation"`
	CriticalBiasEscalation  Duration `yaml:"critical_bias_escalation"`
	DisparityEscalation     Duration `yaml:"disparity_escalation"`
	LowConfidenceEscalation Duration `yaml:"low_confidence_escalation"`
	Recipients              []string `yaml:"recipients" validate:"dive,required"`
}

// NotificationSection configures channels and the fallback log.
type NotificationSection struct {
	// WebhookURL enables the generic webhook channel when non-empty.
	WebhookURL string `yaml:"webhook_url" validate:"omitempty,url"`

	// SlackWebhookURL enables the Slack channel when non-empty.
	SlackWebhookURL string `yaml:"slack_webhook_url" validate:"omitempty,url"`

	// ChannelTimeout bounds each channel send.
	ChannelTimeout Duration `yaml:"channel_timeout"`

	// FallbackPath is the durable fallback log file. Empty keeps the
	// fallback in memory.
	FallbackPath string `yaml:"fallback_path"`
}

// StorageSection configures alert persistence.
type StorageSection struct {
	// Path is the BadgerDB directory. Empty keeps alerts in memory only.
	Path string `yaml:"path"`
}

// Settings folds the section's overrides onto the default rule settings.
func (r RulesSection) Settings() RuleSettings {
	s := DefaultRuleSettings()
	if r.HighBiasThreshold > 0 {
		s.HighBiasThreshold = r.HighBiasThreshold
	}
	if r.CriticalBiasThreshold > 0 {
		s.CriticalBiasThreshold = r.CriticalBiasThreshold
	}
	if r.LowConfidenceThreshold > 0 {
		s.LowConfidenceThreshold = r.LowConfidenceThreshold
	}
	if r.LowConfidenceScoreFloor > 0 {
		s.LowConfidenceScoreFloor = r.LowConfidenceScoreFloor
	}
	if r.HighBiasEscalation > 0 {
		s.HighBiasEscalation = r.HighBiasEscalation.Std()
	}
	if r.CriticalBiasEscalation > 0 {
		s.CriticalBiasEscalation = r.CriticalBiasEscalation.Std()
	}
	if r.DisparityEscalation > 0 {
		s.DisparityEscalation = r.DisparityEscalation.Std()
	}
	if r.LowConfidenceEscalation > 0 {
		s.LowConfidenceEscalation = r.LowConfidenceEscalation.Std()
	}
	if len(r.Recipients) > 0 {
		s.Recipients = r.Recipients
	}
	return s
}

// Validate checks structural constraints and threshold ordering.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return classify.NewConfigurationError("CONFIG_INVALID",
			"configuration failed validation", err).
			WithUserMessage("check threshold and url values in the config file")
	}

	settings := c.Rules.Settings()
	if settings.CriticalBiasThreshold <= settings.HighBiasThreshold {
		return classify.NewConfigurationError("CONFIG_THRESHOLD_ORDER",
			fmt.Sprintf("critical threshold %.2f must exceed high threshold %.2f",
				settings.CriticalBiasThreshold, settings.HighBiasThreshold), nil).
			WithUserMessage("critical_bias_threshold must be greater than high_bias_threshold")
	}
	return nil
}

// LoadConfig reads and validates a YAML config file.
//
// Inputs:
//
//	path - The config file. Must exist.
//
// Outputs:
//
//	Config - The parsed configuration.
//	error - Classified configuration error on read, parse, or validation
//	        failure.
func LoadConfig(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, classify.NewConfigurationError("CONFIG_READ_FAILED",
			fmt.Sprintf("read config %s", path), err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, classify.NewConfigurationError("CONFIG_PARSE_FAILED",
			fmt.Sprintf("parse config %s", path), err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ConfigWatcher hot-reloads rule settings when the config file changes.
//
// Only rule settings reload live; channel and storage changes require a
// restart, since transports hold connections and the store owns alerts.
type ConfigWatcher struct {
	watcher *fsnotify.Watcher
	logger  *slog.Logger
	doneCh  chan struct{}
}

// WatchConfig watches path and calls onReload with each valid new config.
//
// Description:
//
//	Editors often replace config files instead of writing in place, so
//	the parent directory is watched and events are filtered by name.
//	Invalid new configs are logged and skipped; the engine keeps running
//	on the previous settings.
//
// Inputs:
//
//	path - The config file to watch.
//	logger - Logger for reload events. Nil uses slog.Default.
//	onReload - Called with each valid reloaded config.
//
// Outputs:
//
//	*ConfigWatcher - Caller must Close it.
//	error - Non-nil when the watch cannot be established.
func WatchConfig(path string, logger *slog.Logger, onReload func(Config)) (*ConfigWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, classify.NewSystemError("CONFIG_WATCH_FAILED",
			"create config watcher", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, classify.NewSystemError("CONFIG_WATCH_FAILED",
			fmt.Sprintf("watch config directory for %s", path), err)
	}

	w := &ConfigWatcher{
		watcher: watcher,
		logger:  logger,
		doneCh:  make(chan struct{}),
	}

	target := filepath.Clean(path)
	go func() {
		defer close(w.doneCh)
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				cfg, err := LoadConfig(target)
				if err != nil {
					logger.Warn("config reload skipped",
						"path", target,
						"error", err,
					)
					continue
				}
				logger.Info("config reloaded", "path", target)
				onReload(cfg)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", "error", err)
			}
		}
	}()

	return w, nil
}

// Close stops the watcher.
func (w *ConfigWatcher) Close() error {
	err := w.watcher.Close()
	<-w.doneCh
	return err
}
