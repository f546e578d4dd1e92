// Copyright (C) 2025 Pixelated Empathy
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package biasalert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultTestEngine(t *testing.T) *RuleEngine {
	t.Helper()
	detector := NewDisparityDetector(nil)
	return NewRuleEngine(DefaultRules(detector, DefaultRuleSettings()), nil)
}

func ruleIDs(alerts []Alert) []string {
	ids := make([]string, 0, len(alerts))
	for _, a := range alerts {
		ids = append(ids, a.RuleID)
	}
	return ids
}

// TestEvaluateCriticalScoreFiresBothScoreRules verifies the score rules
// are independent: 0.95 yields both the high and the critical alert.
func TestEvaluateCriticalScoreFiresBothScoreRules(t *testing.T) {
	engine := defaultTestEngine(t)

	alerts := engine.Evaluate(&BiasAnalysisResult{
		SessionID:    "s-1",
		OverallScore: 0.95,
		Confidence:   0.9,
	})

	require.Len(t, alerts, 2)
	assert.Equal(t, []string{RuleHighBias, RuleCriticalBias}, ruleIDs(alerts))
	for _, a := range alerts {
		assert.False(t, a.Acknowledged)
		assert.False(t, a.Escalated)
		assert.Equal(t, "s-1", a.SessionID)
		assert.InDelta(t, 0.95, a.BiasScore, 1e-9)
	}
	assert.Equal(t, SeverityHigh, alerts[0].Severity)
	assert.Equal(t, SeverityCritical, alerts[1].Severity)
}

// TestEvaluateHighBandFiresOnlyHigh verifies scores in (0.70, 0.90] fire
// only the high rule.
func TestEvaluateHighBandFiresOnlyHigh(t *testing.T) {
	engine := defaultTestEngine(t)

	for _, score := range []float64{0.71, 0.80, 0.90} {
		alerts := engine.Evaluate(&BiasAnalysisResult{
			SessionID:    "s-1",
			OverallScore: score,
			Confidence:   0.9,
		})
		require.Len(t, alerts, 1, "score %.2f", score)
		assert.Equal(t, RuleHighBias, alerts[0].RuleID)
	}
}

// TestEvaluateThresholdsExclusive verifies the thresholds are strict.
func TestEvaluateThresholdsExclusive(t *testing.T) {
	engine := defaultTestEngine(t)

	alerts := engine.Evaluate(&BiasAnalysisResult{
		SessionID:    "s-1",
		OverallScore: 0.70,
		Confidence:   0.9,
	})
	assert.Empty(t, alerts, "0.70 is not above the high threshold")
}

// TestEvaluateLowConfidenceConjunction verifies low-confidence needs both
// the confidence floor and the score floor.
func TestEvaluateLowConfidenceConjunction(t *testing.T) {
	engine := defaultTestEngine(t)

	// Low confidence but score not above 0.5: nothing fires.
	alerts := engine.Evaluate(&BiasAnalysisResult{
		SessionID:    "s-1",
		OverallScore: 0.3,
		Confidence:   0.3,
	})
	assert.Empty(t, alerts)

	// Same confidence with an elevated score: exactly low-confidence.
	alerts = engine.Evaluate(&BiasAnalysisResult{
		SessionID:    "s-1",
		OverallScore: 0.6,
		Confidence:   0.3,
	})
	require.Len(t, alerts, 1)
	assert.Equal(t, RuleLowConfidence, alerts[0].RuleID)
	assert.Equal(t, SeverityMedium, alerts[0].Severity)
}

// TestEvaluateAlertIDFormat verifies the rule/session/timestamp id shape.
func TestEvaluateAlertIDFormat(t *testing.T) {
	engine := defaultTestEngine(t)

	alerts := engine.Evaluate(&BiasAnalysisResult{
		SessionID:    "session-42",
		OverallScore: 0.8,
		Confidence:   0.9,
	})
	require.Len(t, alerts, 1)
	assert.Regexp(t, `^high-bias-score-session-42-\d+$`, alerts[0].ID)
	assert.WithinDuration(t, time.Now().UTC(), alerts[0].CreatedAt, 5*time.Second)
}

// TestEvaluateNoDeduplication verifies re-evaluating the same result
// produces fresh alerts.
func TestEvaluateNoDeduplication(t *testing.T) {
	engine := defaultTestEngine(t)
	result := &BiasAnalysisResult{SessionID: "s-1", OverallScore: 0.8, Confidence: 0.9}

	first := engine.Evaluate(result)
	second := engine.Evaluate(result)
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].RuleID, second[0].RuleID)
}

// TestEvaluatePanickingPredicateIsolated verifies one faulty rule cannot
// block the others.
func TestEvaluatePanickingPredicateIsolated(t *testing.T) {
	rules := []AlertRule{
		{
			ID:       "faulty",
			Severity: SeverityHigh,
			Predicate: func(*BiasAnalysisResult) bool {
				panic("boom")
			},
			EscalationDelay: time.Minute,
		},
		{
			ID:              "healthy",
			Severity:        SeverityHigh,
			Predicate:       func(*BiasAnalysisResult) bool { return true },
			EscalationDelay: time.Minute,
		},
	}
	engine := NewRuleEngine(rules, nil)

	alerts := engine.Evaluate(&BiasAnalysisResult{SessionID: "s-1"})
	require.Len(t, alerts, 1)
	assert.Equal(t, "healthy", alerts[0].RuleID)
}

// TestEvaluateNilPredicateNeverFires exercises the nil-predicate guard.
func TestEvaluateNilPredicateNeverFires(t *testing.T) {
	engine := NewRuleEngine([]AlertRule{{ID: "empty", Severity: SeverityLow}}, nil)
	assert.Empty(t, engine.Evaluate(&BiasAnalysisResult{SessionID: "s-1"}))
}

// TestEscalationDelays verifies the default per-rule delays.
func TestEscalationDelays(t *testing.T) {
	engine := defaultTestEngine(t)

	cases := map[string]time.Duration{
		RuleHighBias:             5 * time.Minute,
		RuleCriticalBias:         1 * time.Minute,
		RuleDemographicDisparity: 10 * time.Minute,
		RuleLowConfidence:        15 * time.Minute,
	}
	for ruleID, want := range cases {
		got, ok := engine.EscalationDelay(ruleID)
		require.True(t, ok, ruleID)
		assert.Equal(t, want, got, ruleID)
	}

	_, ok := engine.EscalationDelay("no-such-rule")
	assert.False(t, ok)
}

// TestReplaceRules verifies hot-swapping the rule set.
func TestReplaceRules(t *testing.T) {
	engine := defaultTestEngine(t)
	require.Len(t, engine.Rules(), 4)

	settings := DefaultRuleSettings()
	settings.HighBiasThreshold = 0.50
	engine.ReplaceRules(DefaultRules(NewDisparityDetector(nil), settings))

	alerts := engine.Evaluate(&BiasAnalysisResult{
		SessionID:    "s-1",
		OverallScore: 0.55,
		Confidence:   0.9,
	})
	require.Len(t, alerts, 1)
	assert.Equal(t, RuleHighBias, alerts[0].RuleID)
}
