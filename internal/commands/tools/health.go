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

package tools

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tombee/toolbridge/internal/commands/shared"
	"github.com/tombee/toolbridge/internal/toolmetrics"
)

// newHealthCommand creates the 'tools health' command.
func newHealthCommand() *cobra.Command {
	var (
		where string
		probe bool
	)

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Show per-tool health scores",
		Long: `Show the health score, status and call counts of every tool that has
been called. Use --probe to discover every available server first, so each
one has at least one call on record.

--where filters tools with an expression over: tool, status, score, calls,
successes, failures, timeouts, consecutive_failures, success_rate, avg_ms
and last_error.`,
		Example: `  # Probe every server and show its health
  toolbridge tools health --probe

  # Only tools that are not healthy
  toolbridge tools health --probe --where 'status != "healthy"'

  # Slow tools
  toolbridge tools health --where 'avg_ms > 2000 && calls >= 5'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealth(cmd, where, probe)
		},
	}

	cmd.Flags().StringVar(&where, "where", "", "Filter expression over per-tool health")
	cmd.Flags().BoolVar(&probe, "probe", false, "Discover every available server before reporting")

	return cmd
}

func runHealth(cmd *cobra.Command, where string, probe bool) error {
	filter, err := compileHealthFilter(where)
	if err != nil {
		return shared.NewConfigError("invalid --where expression", err)
	}

	provider, closeFn, err := shared.OpenProvider(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	if probe {
		for _, id := range provider.ListAvailable() {
			// Discovery failures are recorded as failed calls, which is the point.
			_, _ = provider.GetCapabilities(cmd.Context(), id)
		}
	}

	report := provider.HealthReport()
	ids := make([]string, 0, len(report.Tools))
	for id := range report.Tools {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	matched := make([]toolmetrics.ToolHealth, 0, len(ids))
	for _, id := range ids {
		ok, err := filter.Match(report.Tools[id])
		if err != nil {
			return shared.NewConfigError("invalid --where expression", err)
		}
		if ok {
			matched = append(matched, report.Tools[id])
		}
	}

	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		return shared.EmitJSON(out, struct {
			shared.JSONResponse
			System toolmetrics.SystemMetrics     `json:"system"`
			Recent toolmetrics.RecentPerformance `json:"recent"`
			Tools  []toolmetrics.ToolHealth      `json:"tools"`
		}{shared.NewResponse("tools health"), report.System, report.Recent, matched})
	}

	if len(matched) == 0 {
		if len(ids) == 0 {
			fmt.Fprintln(out, "No tool calls recorded yet. Use --probe to discover every server.")
		} else {
			fmt.Fprintln(out, "No tools match the filter.")
		}
		return nil
	}

	fmt.Fprintf(out, "%-24s %-10s %-6s %-7s %-8s %-9s %s\n", "TOOL", "STATUS", "SCORE", "CALLS", "SUCCESS", "AVG", "LAST ERROR")
	fmt.Fprintln(out, strings.Repeat("-", 90))
	for _, h := range matched {
		fmt.Fprintf(out, "%-24s %s %-6.1f %-7d %-8s %-9s %s\n",
			shared.Truncate(h.ToolID, 24),
			shared.RenderHealth(fmt.Sprintf("%-10s", h.Status)),
			h.HealthScore,
			h.TotalCalls,
			fmt.Sprintf("%.0f%%", h.SuccessRate()*100),
			shared.FormatDuration(h.AvgResponseTime),
			shared.Truncate(h.LastError, 40),
		)
	}
	fmt.Fprintf(out, "\n%d healthy, %d degraded, %d unhealthy, recent trend: %s\n",
		report.System.HealthyTools,
		report.System.DegradedTools,
		report.System.UnhealthyTools,
		report.Recent.Trend,
	)
	return nil
}
