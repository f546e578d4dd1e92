// Copyright (C) 2025 Pixelated Empathy
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package biasalert

import (
	"time"
)

// Severity is the alert severity level. It drives the escalation delay and
// whether an alert is pushed to notification channels.
type Severity string

const (
	// SeverityLow marks informational alerts (recorded, never pushed).
	SeverityLow Severity = "low"

	// SeverityMedium marks alerts that should be reviewed (recorded, not pushed).
	SeverityMedium Severity = "medium"

	// SeverityHigh marks alerts pushed to all enabled channels.
	SeverityHigh Severity = "high"

	// SeverityCritical marks alerts pushed to all channels with the
	// shortest escalation deadline.
	SeverityCritical Severity = "critical"
)

// String returns the string representation of the severity.
func (s Severity) String() string { return string(s) }

// rank orders severities for comparisons (low < medium < high < critical).
func (s Severity) rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return -1
	}
}

// AtLeast reports whether s is at or above the given severity.
func (s Severity) AtLeast(min Severity) bool {
	return s.rank() >= min.rank() && s.rank() >= 0
}

// =============================================================================
// Analysis Input
// =============================================================================

// BiasAnalysisResult is the structured output of the upstream bias analysis
// service for one therapeutic conversation session.
//
// The engine treats results as immutable and does not validate scientific
// correctness, only structural shape. All scores are normalized to [0,1].
// Layer results are optional: a nil layer means "not computed", which is
// different from a zero score.
type BiasAnalysisResult struct {
	// SessionID identifies the analyzed conversation session.
	SessionID string `json:"session_id" binding:"required"`

	// OverallScore is the aggregate bias estimate in [0,1].
	OverallScore float64 `json:"overall_score"`

	// Confidence is the analysis confidence in [0,1].
	Confidence float64 `json:"confidence"`

	// AlertHint is the upstream service's own alert-level suggestion.
	// Advisory only; rule evaluation does not depend on it.
	AlertHint string `json:"alert_hint,omitempty"`

	// Demographics holds optional demographic attributes for the session.
	Demographics *Demographics `json:"demographics,omitempty"`

	// Layers holds the optional per-layer analysis results.
	Layers LayerResults `json:"layers"`

	// AnalyzedAt is when the upstream service produced this result.
	AnalyzedAt time.Time `json:"analyzed_at,omitempty"`
}

// Demographics describes the demographic attributes attached to a session.
type Demographics struct {
	AgeBucket string `json:"age_bucket,omitempty"`
	Gender    string `json:"gender,omitempty"`
	Ethnicity string `json:"ethnicity,omitempty"`
	Language  string `json:"language,omitempty"`
}

// Empty reports whether no demographic attribute is set.
func (d *Demographics) Empty() bool {
	return d == nil || (d.AgeBucket == "" && d.Gender == "" && d.Ethnicity == "" && d.Language == "")
}

// LayerResults groups the per-layer outputs of the upstream pipeline.
// Nil layers were not computed.
type LayerResults struct {
	Preprocessing *PreprocessingResult `json:"preprocessing,omitempty"`
	ModelLevel    *ModelLevelResult    `json:"model_level,omitempty"`
	Interactive   *InteractiveResult   `json:"interactive,omitempty"`
	Evaluation    *EvaluationResult    `json:"evaluation,omitempty"`
}

// Empty reports whether no layer result is present.
func (l LayerResults) Empty() bool {
	return l.Preprocessing == nil && l.ModelLevel == nil && l.Interactive == nil && l.Evaluation == nil
}

// BiasScores returns the bias sub-scores of present layers, in pipeline
// order. Absent layers contribute nothing.
func (l LayerResults) BiasScores() []float64 {
	var scores []float64
	if l.Preprocessing != nil {
		scores = append(scores, l.Preprocessing.BiasScore)
	}
	if l.ModelLevel != nil {
		scores = append(scores, l.ModelLevel.BiasScore)
	}
	if l.Interactive != nil {
		scores = append(scores, l.Interactive.BiasScore)
	}
	if l.Evaluation != nil {
		scores = append(scores, l.Evaluation.BiasScore)
	}
	return scores
}

// PreprocessingResult is the preprocessing layer's output.
type PreprocessingResult struct {
	// BiasScore is this layer's bias sub-score in [0,1].
	BiasScore float64 `json:"bias_score"`

	// Representation holds representation analysis, if computed.
	Representation *RepresentationAnalysis `json:"representation,omitempty"`
}

// RepresentationAnalysis describes demographic representation in the
// session data.
type RepresentationAnalysis struct {
	// UnderrepresentedGroups lists demographic groups with insufficient
	// representation in the analyzed data.
	UnderrepresentedGroups []string `json:"underrepresented_groups,omitempty"`

	// DiversityIndex is a normalized diversity measure in [0,1].
	DiversityIndex float64 `json:"diversity_index"`
}

// ModelLevelResult is the model-level layer's output.
type ModelLevelResult struct {
	BiasScore float64 `json:"bias_score"`

	// Fairness holds group fairness metrics, if computed.
	Fairness *FairnessMetrics `json:"fairness,omitempty"`

	// FeatureImportance lists per-feature bias attributions, if computed.
	FeatureImportance []FeatureImportance `json:"feature_importance,omitempty"`
}

// FairnessMetrics holds normalized group fairness measures. Higher is fairer.
type FairnessMetrics struct {
	DemographicParity float64 `json:"demographic_parity"`
	EqualizedOdds     float64 `json:"equalized_odds"`
}

// FeatureImportance attributes bias contribution to one input feature.
type FeatureImportance struct {
	// Name identifies the feature (e.g. "participant_age").
	Name string `json:"name"`

	// Demographic marks features derived from demographic attributes.
	Demographic bool `json:"demographic"`

	// BiasContribution is the feature's share of detected bias in [0,1].
	BiasContribution float64 `json:"bias_contribution"`

	// GroupSensitivity maps demographic group to the feature's sensitivity
	// for that group, in [0,1].
	GroupSensitivity map[string]float64 `json:"group_sensitivity,omitempty"`
}

// SensitivitySpread returns max-min over GroupSensitivity, or 0 when fewer
// than two groups are present.
func (f FeatureImportance) SensitivitySpread() float64 {
	if len(f.GroupSensitivity) < 2 {
		return 0
	}
	first := true
	var min, max float64
	for _, v := range f.GroupSensitivity {
		if first {
			min, max = v, v
			first = false
			continue
		}
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return max - min
}

// InteractiveResult is the interactive layer's output.
type InteractiveResult struct {
	BiasScore float64 `json:"bias_score"`

	// Counterfactuals lists counterfactual scenario outcomes, if computed.
	Counterfactuals []CounterfactualScenario `json:"counterfactuals,omitempty"`
}

// CounterfactualScenario is one counterfactual probe of the session.
type CounterfactualScenario struct {
	// Kind names the demographic dimension probed ("age", "gender", ...).
	Kind string `json:"kind"`

	// Severity is how strongly the scenario was flagged.
	Severity Severity `json:"severity"`

	// Description summarizes the scenario for reviewers.
	Description string `json:"description,omitempty"`
}

// EvaluationResult is the evaluation layer's output.
type EvaluationResult struct {
	BiasScore float64 `json:"bias_score"`

	// Metrics holds standard evaluation bias metrics, if computed.
	Metrics *EvaluationMetrics `json:"metrics,omitempty"`

	// Therapeutic holds domain-specific therapy metrics, if computed.
	Therapeutic *TherapeuticMetrics `json:"therapeutic,omitempty"`

	// Interventions lists temporal intervention effectiveness, if computed.
	Interventions []InterventionEffect `json:"interventions,omitempty"`
}

// EvaluationMetrics holds standard text-evaluation bias measures.
type EvaluationMetrics struct {
	// Bias is the aggregate evaluation bias metric in [0,1].
	Bias float64 `json:"bias"`

	// Stereotype measures stereotypical associations in [0,1].
	Stereotype float64 `json:"stereotype"`

	// RegardPositive and RegardNegative measure sentiment regard toward
	// demographic groups, each in [0,1].
	RegardPositive float64 `json:"regard_positive"`
	RegardNegative float64 `json:"regard_negative"`
}

// TherapeuticMetrics holds therapy-domain bias measures.
type TherapeuticMetrics struct {
	// TherapeuticBias measures bias in therapeutic responses, in [0,1].
	TherapeuticBias float64 `json:"therapeutic_bias"`

	// CulturalSensitivity measures cultural appropriateness, in [0,1].
	// Higher is better.
	CulturalSensitivity float64 `json:"cultural_sensitivity"`
}

// InterventionEffect describes the measured effect of one therapeutic
// intervention over time.
type InterventionEffect struct {
	// Name identifies the intervention.
	Name string `json:"name"`

	// Improvement is the measured improvement in [0,1].
	Improvement float64 `json:"improvement"`

	// Sustainability is how well the improvement held up over time, in [0,1].
	Sustainability float64 `json:"sustainability"`
}

// =============================================================================
// Alerts
// =============================================================================

// AlertRule is one registered alerting rule.
//
// Rules are immutable once registered. Each rule's predicate is evaluated
// independently; evaluation order only affects the order of the returned
// alert list, never its contents.
type AlertRule struct {
	// ID is the stable rule identifier (e.g. "high-bias-score").
	ID string

	// Predicate decides whether the rule fires for a result. It must be
	// pure: no side effects, no retained references to the result.
	Predicate func(*BiasAnalysisResult) bool

	// Severity is assigned to alerts produced by this rule.
	Severity Severity

	// Message describes the condition to reviewers. The session id and
	// score snapshot are carried separately on the Alert.
	Message string

	// EscalationDelay is how long an alert may stay unacknowledged before
	// it escalates.
	EscalationDelay time.Duration

	// Recipients receive notifications for alerts from this rule.
	Recipients []string
}

// Alert is one triggered alert. Alerts are owned by the Store for their
// full lifetime; other components hold only the alert id.
//
// Acknowledged and Escalated are independent flags rather than a single
// state enum: an alert can escalate and later still be acknowledged.
type Alert struct {
	// ID is "{ruleID}-{sessionID}-{unixMillis}".
	ID string `json:"id"`

	// RuleID names the rule that produced this alert.
	RuleID string `json:"rule_id"`

	// SessionID is the session the alert concerns.
	SessionID string `json:"session_id"`

	Severity Severity `json:"severity"`
	Message  string   `json:"message"`

	// BiasScore snapshots the overall score that triggered the alert.
	BiasScore float64 `json:"bias_score"`

	Recipients []string  `json:"recipients,omitempty"`
	CreatedAt  time.Time `json:"created_at"`

	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`

	Escalated   bool       `json:"escalated"`
	EscalatedAt *time.Time `json:"escalated_at,omitempty"`
}

// AlertStatistics is a derived rollup over alerts in a time window.
// It is recomputed on demand and never stored.
type AlertStatistics struct {
	// Window is the lookback the statistics cover.
	Window time.Duration `json:"window"`

	Total        int              `json:"total"`
	BySeverity   map[Severity]int `json:"by_severity"`
	Acknowledged int              `json:"acknowledged"`
	Escalated    int              `json:"escalated"`

	// MeanTimeToAck is the average time from creation to acknowledgment
	// over acknowledged alerts in the window. Zero when none.
	MeanTimeToAck time.Duration `json:"mean_time_to_ack"`

	// P95TimeToAck is the 95th percentile time to acknowledgment.
	P95TimeToAck time.Duration `json:"p95_time_to_ack"`
}
