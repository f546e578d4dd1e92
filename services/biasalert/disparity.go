// Copyright (C) 2025 Pixelated Empathy
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package biasalert

import (
	"log/slog"
	"math"
)

// Disparity detection thresholds. A single aggregate score can mask bias
// concentrated in one demographic slice or one analysis layer; these bound
// the individual signals the detector votes over.
const (
	// disparityOverallThreshold: overall score above this is itself a
	// sufficient disparity signal (and the degraded verdict when
	// indicator computation fails mid-flight).
	disparityOverallThreshold = 0.60

	// disparityLayerThreshold: any single layer above this is a sufficient
	// disparity signal.
	disparityLayerThreshold = 0.70

	// disparityLayerSpreadThreshold: max-min across layer sub-scores.
	disparityLayerSpreadThreshold = 0.25

	// disparityDiversityFloor: preprocessing diversity index below this
	// indicates underrepresentation.
	disparityDiversityFloor = 0.30

	// disparityFairnessFloor: fairness metrics below this indicate group
	// disparity.
	disparityFairnessFloor = 0.60

	// disparityEvalBiasThreshold, disparityStereotypeThreshold,
	// disparityRegardGapThreshold bound the evaluation-layer metrics.
	disparityEvalBiasThreshold   = 0.30
	disparityStereotypeThreshold = 0.20
	disparityRegardGapThreshold  = 0.40

	// disparityTherapeuticBiasThreshold and disparityCulturalFloor bound
	// the therapy-domain metrics.
	disparityTherapeuticBiasThreshold = 0.20
	disparityCulturalFloor            = 0.70

	// disparityFeatureContribution and disparityFeatureSpread bound
	// per-feature bias attribution.
	disparityFeatureContribution = 0.20
	disparityFeatureSpread       = 0.30

	// disparityImprovementFloor and disparitySustainabilityFloor bound
	// per-intervention effectiveness.
	disparityImprovementFloor    = 0.10
	disparitySustainabilityFloor = 0.70

	// disparityVoteRatio: fraction of true indicators that flags disparity
	// via the many-weak-signals path.
	disparityVoteRatio = 0.30
)

// indicator is one boolean disparity signal, named for logging.
type indicator struct {
	name string
	hit  bool
}

// DisparityDetector aggregates independent disparity signals into a vote.
//
// Description:
//
//	The detector computes a list of boolean indicators from the per-layer
//	results and flags disparity when either strong path (high overall
//	score, or one very biased layer) fires, or when enough weak signals
//	accumulate (at least 30% of the computed indicators). Both paths are
//	independently sufficient.
//
// Thread Safety:
//
//	DisparityDetector is stateless and safe for concurrent use.
type DisparityDetector struct {
	logger *slog.Logger
}

// NewDisparityDetector creates a detector. A nil logger uses slog.Default.
func NewDisparityDetector(logger *slog.Logger) *DisparityDetector {
	if logger == nil {
		logger = slog.Default()
	}
	return &DisparityDetector{logger: logger}
}

// HasDisparity reports whether the result shows demographic disparity.
//
// Description:
//
//	When the result carries no demographic data and no layer results there
//	is nothing to vote over and the detector reports false. Otherwise it
//	collects indicators from every present layer (absent layers contribute
//	no indicators) and applies the vote.
//
//	Detection never propagates an internal error: a panic during indicator
//	computation degrades to the overall-score fallback, because disparity
//	detection must never block alert evaluation.
//
// Inputs:
//
//	result - The analysis result. Nil returns false.
//
// Outputs:
//
//	bool - True when disparity is flagged.
func (d *DisparityDetector) HasDisparity(result *BiasAnalysisResult) (flagged bool) {
	if result == nil {
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("disparity detection failed, using score fallback",
				"session_id", result.SessionID,
				"recovered", r,
			)
			flagged = result.OverallScore > disparityOverallThreshold
		}
	}()

	// With neither demographic attributes nor layer results there is no
	// disparity evidence to vote over. A bare high aggregate score is the
	// business of the score-threshold rules, not this detector.
	if result.Demographics.Empty() && result.Layers.Empty() {
		return false
	}

	indicators := d.collectIndicators(result)

	hits := 0
	for _, ind := range indicators {
		if ind.hit {
			hits++
		}
	}

	// Strong paths: each sufficient on its own.
	overallHit := result.OverallScore > disparityOverallThreshold
	layerHit := maxScore(result.Layers.BiasScores()) > disparityLayerThreshold

	required := int(math.Ceil(disparityVoteRatio * float64(len(indicators))))
	voteHit := len(indicators) > 0 && hits >= required

	flagged = overallHit || layerHit || voteHit
	if flagged {
		d.logger.Debug("disparity flagged",
			"session_id", result.SessionID,
			"overall_path", overallHit,
			"layer_path", layerHit,
			"vote_hits", hits,
			"vote_required", required,
			"indicators", len(indicators),
		)
	}
	return flagged
}

// collectIndicators builds the indicator list from present data only.
// Absent layers or sub-metrics contribute no indicators, so missing data
// never dilutes or inflates the vote.
func (d *DisparityDetector) collectIndicators(result *BiasAnalysisResult) []indicator {
	var out []indicator

	out = append(out, indicator{"overall_score", result.OverallScore > disparityOverallThreshold})

	scores := result.Layers.BiasScores()
	if len(scores) > 0 {
		out = append(out, indicator{"max_layer_bias", maxScore(scores) > disparityLayerThreshold})
	}
	if len(scores) >= 2 {
		out = append(out, indicator{"layer_spread", maxScore(scores)-minScore(scores) > disparityLayerSpreadThreshold})
	}

	if pre := result.Layers.Preprocessing; pre != nil && pre.Representation != nil {
		rep := pre.Representation
		out = append(out, indicator{
			"representation",
			len(rep.UnderrepresentedGroups) > 0 || rep.DiversityIndex < disparityDiversityFloor,
		})
	}

	if ml := result.Layers.ModelLevel; ml != nil {
		if ml.Fairness != nil {
			out = append(out,
				indicator{"demographic_parity", ml.Fairness.DemographicParity < disparityFairnessFloor},
				indicator{"equalized_odds", ml.Fairness.EqualizedOdds < disparityFairnessFloor},
			)
		}
		// One indicator per qualifying feature only. Features that clear
		// neither bar stay out of the vote entirely so they cannot dilute
		// the denominator.
		for _, feat := range ml.FeatureImportance {
			switch {
			case feat.Demographic && feat.BiasContribution > disparityFeatureContribution:
				out = append(out, indicator{"feature_contribution:" + feat.Name, true})
			case feat.SensitivitySpread() > disparityFeatureSpread:
				out = append(out, indicator{"feature_spread:" + feat.Name, true})
			}
		}
	}

	if ia := result.Layers.Interactive; ia != nil && len(ia.Counterfactuals) > 0 {
		out = append(out,
			indicator{"counterfactual_age", anyScenario(ia.Counterfactuals, "age")},
			indicator{"counterfactual_gender", anyScenario(ia.Counterfactuals, "gender")},
		)
	}

	if ev := result.Layers.Evaluation; ev != nil {
		if ev.Metrics != nil {
			m := ev.Metrics
			out = append(out,
				indicator{"eval_bias", m.Bias > disparityEvalBiasThreshold},
				indicator{"eval_stereotype", m.Stereotype > disparityStereotypeThreshold},
				indicator{"eval_regard_gap", math.Abs(m.RegardPositive-m.RegardNegative) > disparityRegardGapThreshold},
			)
		}
		if ev.Therapeutic != nil {
			out = append(out,
				indicator{"therapeutic_bias", ev.Therapeutic.TherapeuticBias > disparityTherapeuticBiasThreshold},
				indicator{"cultural_sensitivity", ev.Therapeutic.CulturalSensitivity < disparityCulturalFloor},
			)
		}
		// Likewise one indicator per qualifying intervention.
		for _, iv := range ev.Interventions {
			if iv.Improvement < disparityImprovementFloor || iv.Sustainability < disparitySustainabilityFloor {
				out = append(out, indicator{"intervention:" + iv.Name, true})
			}
		}
	}

	return out
}

// anyScenario reports whether a counterfactual scenario of the given kind
// was flagged at medium severity or higher.
func anyScenario(scenarios []CounterfactualScenario, kind string) bool {
	for _, s := range scenarios {
		if s.Kind == kind && s.Severity.AtLeast(SeverityMedium) {
			return true
		}
	}
	return false
}

func maxScore(scores []float64) float64 {
	max := 0.0
	for _, s := range scores {
		if s > max {
			max = s
		}
	}
	return max
}

func minScore(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	min := scores[0]
	for _, s := range scores[1:] {
		if s < min {
			min = s
		}
	}
	return min
}
