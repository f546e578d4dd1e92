// Copyright (C) 2025 Pixelated Empathy
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package biasalert

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus instruments.
//
// A Metrics value is bound to one Registerer; use a fresh registry per
// engine instance in tests to avoid duplicate registration.
type Metrics struct {
	// AlertsTotal counts produced alerts by rule and severity.
	AlertsTotal *prometheus.CounterVec

	// EscalationsTotal counts alerts that escalated past their deadline.
	EscalationsTotal prometheus.Counter

	// AcknowledgmentsTotal counts acknowledgments (first-time only).
	AcknowledgmentsTotal prometheus.Counter

	// DispatchTotal counts channel deliveries by channel and outcome
	// ("ok" or "failed").
	DispatchTotal *prometheus.CounterVec

	// FallbackTotal counts durable fallback entries by channel.
	FallbackTotal *prometheus.CounterVec

	// EvaluationDuration observes rule evaluation latency in seconds.
	EvaluationDuration prometheus.Histogram
}

// NewMetrics creates and registers the engine's instruments on reg.
// A nil reg uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		AlertsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "biasalert",
			Name:      "alerts_total",
			Help:      "Alerts produced, by rule id and severity.",
		}, []string{"rule", "severity"}),

		EscalationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "biasalert",
			Name:      "escalations_total",
			Help:      "Alerts escalated after their acknowledgment deadline.",
		}),

		AcknowledgmentsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "biasalert",
			Name:      "acknowledgments_total",
			Help:      "First-time alert acknowledgments.",
		}),

		DispatchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "biasalert",
			Name:      "dispatch_total",
			Help:      "Notification deliveries, by channel and outcome.",
		}, []string{"channel", "outcome"}),

		FallbackTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "biasalert",
			Name:      "dispatch_fallback_total",
			Help:      "Durable fallback log entries, by channel.",
		}, []string{"channel"}),

		EvaluationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "biasalert",
			Name:      "evaluation_duration_seconds",
			Help:      "Rule evaluation latency.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}
