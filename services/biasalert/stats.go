// Copyright (C) 2025 Pixelated Empathy
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package biasalert

import (
	"time"

	"github.com/montanaflynn/stats"
)

// ComputeStatistics derives rollups from alerts within a window.
//
// Description:
//
//	Pure computation over a snapshot: counts by severity, acknowledgment
//	and escalation counts, and time-to-acknowledgment aggregates over the
//	acknowledged subset. Recomputed on every call; never mutates input.
//
// Inputs:
//
//	alerts - Alerts created inside the window (caller filters).
//	window - The lookback the snapshot covers, echoed in the result.
//
// Outputs:
//
//	AlertStatistics - The rollup. Zero aggregates when no alerts qualify.
func ComputeStatistics(alerts []Alert, window time.Duration) AlertStatistics {
	out := AlertStatistics{
		Window:     window,
		BySeverity: make(map[Severity]int),
	}

	var ackSeconds []float64
	for _, a := range alerts {
		out.Total++
		out.BySeverity[a.Severity]++
		if a.Acknowledged {
			out.Acknowledged++
			if a.AcknowledgedAt != nil {
				ackSeconds = append(ackSeconds, a.AcknowledgedAt.Sub(a.CreatedAt).Seconds())
			}
		}
		if a.Escalated {
			out.Escalated++
		}
	}

	if len(ackSeconds) > 0 {
		if mean, err := stats.Mean(ackSeconds); err == nil {
			out.MeanTimeToAck = secondsToDuration(mean)
		}
		if p95, err := stats.Percentile(ackSeconds, 95); err == nil {
			out.P95TimeToAck = secondsToDuration(p95)
		}
	}

	return out
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
