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
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tombee/toolbridge/internal/commands/shared"
	"github.com/tombee/toolbridge/internal/config"
	"github.com/tombee/toolbridge/internal/toolmetrics"
)

// newHistoryCommand creates the 'tools history' command.
func newHistoryCommand() *cobra.Command {
	var (
		dbPath string
		tool   string
		status string
		since  time.Duration
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Query persisted call history",
		Long: `Query the call history database written by 'toolbridge serve --history-db'.
Calls are listed newest first.`,
		Example: `  # Last 20 calls
  toolbridge tools history --limit 20

  # Timeouts against git in the last hour
  toolbridge tools history --tool git --status timeout --since 1h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := toolmetrics.HistoryQuery{
				ToolID: tool,
				Status: toolmetrics.CallStatus(status),
				Limit:  limit,
			}
			if since > 0 {
				q.Since = time.Now().Add(-since)
			}
			return runHistory(cmd, dbPath, q)
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "History database (default: ~/.config/toolbridge/history.db)")
	cmd.Flags().StringVar(&tool, "tool", "", "Only calls to this server")
	cmd.Flags().StringVar(&status, "status", "", "Only calls with this status (success, failure, timeout)")
	cmd.Flags().DurationVar(&since, "since", 0, "Only calls started within this window (e.g. 30m)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of calls")

	return cmd
}

func runHistory(cmd *cobra.Command, dbPath string, q toolmetrics.HistoryQuery) error {
	switch q.Status {
	case "", toolmetrics.CallSuccess, toolmetrics.CallFailure, toolmetrics.CallTimeout:
	default:
		return shared.NewConfigError(fmt.Sprintf("invalid --status %q", q.Status), nil)
	}

	if dbPath == "" {
		p, err := config.HistoryDBPath()
		if err != nil {
			return fmt.Errorf("failed to locate history database: %w", err)
		}
		dbPath = p
	}
	if _, err := os.Stat(dbPath); err != nil {
		return shared.NewConfigError("no call history found", fmt.Errorf("%s: %w", dbPath, err))
	}

	store, err := toolmetrics.NewSQLiteStore(toolmetrics.StoreConfig{Path: dbPath, Logger: shared.Logger()})
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.Query(cmd.Context(), q)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		if records == nil {
			records = []toolmetrics.CallRecord{}
		}
		return shared.EmitJSON(out, struct {
			shared.JSONResponse
			Calls []toolmetrics.CallRecord `json:"calls"`
		}{shared.NewResponse("tools history"), records})
	}

	if len(records) == 0 {
		fmt.Fprintln(out, "No calls match.")
		return nil
	}

	fmt.Fprintf(out, "%-20s %-20s %-12s %-8s %-9s %s\n", "STARTED", "TOOL", "METHOD", "STATUS", "DURATION", "ERROR")
	fmt.Fprintln(out, strings.Repeat("-", 96))
	for _, rec := range records {
		fmt.Fprintf(out, "%-20s %-20s %-12s %-8s %-9s %s\n",
			rec.Start.Local().Format("2006-01-02 15:04:05"),
			shared.Truncate(rec.ToolID, 20),
			shared.Truncate(rec.Method, 12),
			rec.Status,
			shared.FormatDuration(rec.Duration),
			shared.Truncate(rec.ErrorMessage, 40),
		)
	}
	return nil
}
