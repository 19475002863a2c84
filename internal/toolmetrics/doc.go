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

// Package toolmetrics tracks every tool call and derives per-tool health.
//
// Each call is bracketed by StartCall and EndCall. Finalizing a call updates
// the tool's counters, its incremental mean response time and its
// consecutive-failure streak, then recomputes the health score:
//
//	score = max(0, successRate - min(0.1*consecutiveFailures, 0.5) - min(0.3*timeoutRate, 0.3))
//
// Scores of 0.8 and above are healthy, 0.5 and above degraded, anything lower
// unhealthy. The last 1000 finalized calls are retained; the most recent 50
// feed the trend in HealthReport.
package toolmetrics
