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

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Report renders a plain-text performance report.
func (c *Collector) Report() string {
	return FormatReport(c.HealthReport())
}

// FormatReport renders a health report as plain text.
func FormatReport(r HealthReport) string {
	var sb strings.Builder

	sb.WriteString("=== TOOL PERFORMANCE REPORT ===\n")
	fmt.Fprintf(&sb, "Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339))

	s := r.System
	successRate := 0.0
	if s.TotalCalls > 0 {
		successRate = float64(s.SuccessfulCalls) / float64(s.TotalCalls)
	}
	sb.WriteString("SYSTEM OVERVIEW:\n")
	fmt.Fprintf(&sb, "  Total Calls: %d\n", s.TotalCalls)
	fmt.Fprintf(&sb, "  Success Rate: %.1f%%\n", successRate*100)
	fmt.Fprintf(&sb, "  Timeouts: %d\n", s.Timeouts)
	fmt.Fprintf(&sb, "  Average Response Time: %.2fs\n", s.AvgResponseTime.Seconds())
	fmt.Fprintf(&sb, "  Active Calls: %d\n", s.ActiveCalls)
	fmt.Fprintf(&sb, "  Tools Healthy/Degraded/Unhealthy: %d/%d/%d\n\n", s.HealthyTools, s.DegradedTools, s.UnhealthyTools)

	sb.WriteString("TOOL PERFORMANCE:\n")
	ids := make([]string, 0, len(r.Tools))
	for id := range r.Tools {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		h := r.Tools[id]
		fmt.Fprintf(&sb, "  [%s] %s:\n", h.Status, id)
		fmt.Fprintf(&sb, "    Calls: %d (Success: %d, Failed: %d, Timeouts: %d)\n", h.TotalCalls, h.SuccessfulCalls, h.FailedCalls, h.TimeoutCalls)
		fmt.Fprintf(&sb, "    Health Score: %.2f\n", h.HealthScore)
		fmt.Fprintf(&sb, "    Avg Response: %.2fs\n", h.AvgResponseTime.Seconds())
		fmt.Fprintf(&sb, "    Consecutive Failures: %d\n", h.ConsecutiveFailures)
	}

	if r.Recent.Calls > 0 {
		fmt.Fprintf(&sb, "\nRECENT TRENDS (Last %d calls):\n", r.Recent.Calls)
		fmt.Fprintf(&sb, "  Success Rate: %.1f%%\n", r.Recent.SuccessRate*100)
		fmt.Fprintf(&sb, "  Timeout Rate: %.1f%%\n", r.Recent.TimeoutRate*100)
		fmt.Fprintf(&sb, "  Average Duration: %.2fs\n", r.Recent.AvgDuration.Seconds())
		fmt.Fprintf(&sb, "  Trend: %s\n", r.Recent.Trend)
	}

	return sb.String()
}
