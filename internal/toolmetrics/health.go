// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package toolmetrics

import "math"

const (
	// HealthyThreshold is the lowest score bucketed as healthy.
	HealthyThreshold = 0.8
	// DegradedThreshold is the lowest score bucketed as degraded.
	DegradedThreshold = 0.5

	failurePenaltyStep = 0.1
	failurePenaltyCap  = 0.5
	timeoutPenaltyRate = 0.3
	timeoutPenaltyCap  = 0.3
)

// Score computes the health score for a tool:
//
//	max(0, successRate - min(0.1*consecutiveFailures, 0.5) - min(0.3*timeoutRate, 0.3))
//
// A tool with no finalized calls scores 0.
func Score(h ToolHealth) float64 {
	if h.TotalCalls == 0 {
		return 0
	}
	failurePenalty := math.Min(failurePenaltyStep*float64(h.ConsecutiveFailures), failurePenaltyCap)
	timeoutPenalty := math.Min(timeoutPenaltyRate*h.TimeoutRate(), timeoutPenaltyCap)
	return math.Max(0, h.SuccessRate()-failurePenalty-timeoutPenalty)
}

// Bucket maps a health score to its connection status.
func Bucket(score float64) ConnectionStatus {
	switch {
	case score >= HealthyThreshold:
		return StatusHealthy
	case score >= DegradedThreshold:
		return StatusDegraded
	default:
		return StatusUnhealthy
	}
}
