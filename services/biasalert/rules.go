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
	"sync"
	"time"
)

// Default rule identifiers.
const (
	// RuleHighBias fires when the overall score exceeds the high threshold.
	RuleHighBias = "high-bias-score"

	// RuleCriticalBias fires when the overall score exceeds the critical
	// threshold. Independent of RuleHighBias: a critical score yields both
	// alerts.
	RuleCriticalBias = "critical-bias-score"

	// RuleDemographicDisparity fires on the DisparityDetector's vote.
	RuleDemographicDisparity = "demographic-disparity"

	// RuleLowConfidence fires on a low-confidence reading of an elevated
	// score. Both conditions are required: confidence below the floor AND
	// score above the floor.
	RuleLowConfidence = "low-confidence"
)

// RuleSettings holds the tunable thresholds and delays for the default
// rule set. The zero value is not usable; start from DefaultRuleSettings.
type RuleSettings struct {
	// HighBiasThreshold is exclusive: scores strictly above it fire.
	HighBiasThreshold float64 `yaml:"high_bias_threshold" validate:"gte=0,lte=1"`

	// CriticalBiasThreshold is exclusive and should exceed HighBiasThreshold.
	CriticalBiasThreshold float64 `yaml:"critical_bias_threshold" validate:"gte=0,lte=1"`

	// LowConfidenceThreshold is the confidence floor (exclusive below).
	LowConfidenceThreshold float64 `yaml:"low_confidence_threshold" validate:"gte=0,lte=1"`

	// LowConfidenceScoreFloor is the score an uncertain reading must
	// exceed before it is worth an alert.
	LowConfidenceScoreFloor float64 `yaml:"low_confidence_score_floor" validate:"gte=0,lte=1"`

	// Escalation delays per rule.
	HighBiasEscalation      time.Duration `yaml:"high_bias_escalation" validate:"gt=0"`
	CriticalBiasEscalation  time.Duration `yaml:"critical_bias_escalation" validate:"gt=0"`
	DisparityEscalation     time.Duration `yaml:"disparity_escalation" validate:"gt=0"`
	LowConfidenceEscalation time.Duration `yaml:"low_confidence_escalation" validate:"gt=0"`

	// Recipients for all default rules.
	Recipients []string `yaml:"recipients"`
}

// DefaultRuleSettings returns the production thresholds and delays.
func DefaultRuleSettings() RuleSettings {
	return RuleSettings{
		HighBiasThreshold:       0.70,
		CriticalBiasThreshold:   0.90,
		LowConfidenceThreshold:  0.50,
		LowConfidenceScoreFloor: 0.50,
		HighBiasEscalation:      5 * time.Minute,
		CriticalBiasEscalation:  1 * time.Minute,
		DisparityEscalation:     10 * time.Minute,
		LowConfidenceEscalation: 15 * time.Minute,
	}
}

// DefaultRules builds the default rule set in registration order.
//
// Description:
//
//	The four default rules, in the order their alerts appear in evaluation
//	output:
//	  1. high-bias-score     (high, 5m escalation)
//	  2. critical-bias-score (critical, 1m escalation)
//	  3. demographic-disparity (medium, 10m escalation)
//	  4. low-confidence      (medium, 15m escalation)
//
//	Rules 1 and 2 are independent, not mutually exclusive: a score of 0.95
//	fires both.
//
// Inputs:
//
//	detector - Disparity detector backing rule 3. Must not be nil.
//	settings - Thresholds, delays, and recipients.
//
// Outputs:
//
//	[]AlertRule - The rule set, ready for NewRuleEngine.
func DefaultRules(detector *DisparityDetector, settings RuleSettings) []AlertRule {
	return []AlertRule{
		{
			ID:       RuleHighBias,
			Severity: SeverityHigh,
			Message:  fmt.Sprintf("overall bias score exceeds %.2f", settings.HighBiasThreshold),
			Predicate: func(r *BiasAnalysisResult) bool {
				return r.OverallScore > settings.HighBiasThreshold
			},
			EscalationDelay: settings.HighBiasEscalation,
			Recipients:      settings.Recipients,
		},
		{
			ID:       RuleCriticalBias,
			Severity: SeverityCritical,
			Message:  fmt.Sprintf("overall bias score exceeds %.2f", settings.CriticalBiasThreshold),
			Predicate: func(r *BiasAnalysisResult) bool {
				return r.OverallScore > settings.CriticalBiasThreshold
			},
			EscalationDelay: settings.CriticalBiasEscalation,
			Recipients:      settings.Recipients,
		},
		{
			ID:       RuleDemographicDisparity,
			Severity: SeverityMedium,
			Message:  "demographic disparity detected across analysis layers",
			Predicate: func(r *BiasAnalysisResult) bool {
				return detector.HasDisparity(r)
			},
			EscalationDelay: settings.DisparityEscalation,
			Recipients:      settings.Recipients,
		},
		{
			ID:       RuleLowConfidence,
			Severity: SeverityMedium,
			Message:  "elevated bias score with low analysis confidence",
			Predicate: func(r *BiasAnalysisResult) bool {
				return r.Confidence < settings.LowConfidenceThreshold &&
					r.OverallScore > settings.LowConfidenceScoreFloor
			},
			EscalationDelay: settings.LowConfidenceEscalation,
			Recipients:      settings.Recipients,
		},
	}
}

// RuleEngine evaluates a fixed set of rules against incoming results.
//
// Rules are immutable after construction; ReplaceRules swaps the whole set
// atomically (used by config hot reload). Each rule fires independently and
// a faulty predicate never blocks the others.
//
// Thread Safety: safe for concurrent use.
type RuleEngine struct {
	mu     sync.RWMutex
	rules  []AlertRule
	logger *slog.Logger
}

// NewRuleEngine creates an engine with the given rules.
func NewRuleEngine(rules []AlertRule, logger *slog.Logger) *RuleEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &RuleEngine{
		rules:  rules,
		logger: logger,
	}
}

// Rules returns a copy of the registered rule set in registration order.
func (e *RuleEngine) Rules() []AlertRule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]AlertRule, len(e.rules))
	copy(out, e.rules)
	return out
}

// ReplaceRules atomically swaps the rule set. Used for config hot reload;
// in-flight evaluations finish against the set they started with.
func (e *RuleEngine) ReplaceRules(rules []AlertRule) {
	e.mu.Lock()
	e.rules = rules
	e.mu.Unlock()
}

// Evaluate runs every rule against the result and returns the alerts that
// fired, in rule-registration order.
//
// Description:
//
//	Each predicate is evaluated independently; a panic inside one
//	predicate is caught and logged so a faulty rule cannot block the
//	others. There is no deduplication across rules: a session may
//	legitimately receive several simultaneous alerts.
//
//	Re-evaluating the same result produces fresh alert ids. Upstream
//	retry suppression is the caller's responsibility.
//
// Inputs:
//
//	result - The analysis result. Must not be nil (guarded by the facade).
//
// Outputs:
//
//	[]Alert - Zero or more alerts, unacknowledged and unescalated.
func (e *RuleEngine) Evaluate(result *BiasAnalysisResult) []Alert {
	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	now := time.Now().UTC()
	var alerts []Alert
	for _, rule := range rules {
		if !e.fires(rule, result) {
			continue
		}
		alerts = append(alerts, Alert{
			ID:         fmt.Sprintf("%s-%s-%d", rule.ID, result.SessionID, now.UnixMilli()),
			RuleID:     rule.ID,
			SessionID:  result.SessionID,
			Severity:   rule.Severity,
			Message:    rule.Message,
			BiasScore:  result.OverallScore,
			Recipients: rule.Recipients,
			CreatedAt:  now,
		})
	}
	return alerts
}

// EscalationDelay returns the escalation delay for the given rule id, or
// false when the rule is unknown.
func (e *RuleEngine) EscalationDelay(ruleID string) (time.Duration, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, rule := range e.rules {
		if rule.ID == ruleID {
			return rule.EscalationDelay, true
		}
	}
	return 0, false
}

// fires evaluates one predicate with panic containment.
func (e *RuleEngine) fires(rule AlertRule, result *BiasAnalysisResult) (fired bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("rule predicate panicked",
				"rule_id", rule.ID,
				"session_id", result.SessionID,
				"recovered", r,
			)
			fired = false
		}
	}()
	if rule.Predicate == nil {
		return false
	}
	return rule.Predicate(result)
}
