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

	"github.com/spf13/cobra"
	"github.com/tombee/toolbridge/internal/commands/shared"
)

// newReportCommand creates the 'tools report' command.
func newReportCommand() *cobra.Command {
	var probe bool

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the tool performance report",
		Long: `Print the text performance report: system totals, recent trend and a
section per tool. With --json the underlying health report is printed instead.`,
		Example: `  toolbridge tools report --probe`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, closeFn, err := shared.OpenProvider(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			if probe {
				for _, id := range provider.ListAvailable() {
					_, _ = provider.GetCapabilities(cmd.Context(), id)
				}
			}

			out := cmd.OutOrStdout()
			if shared.GetJSON() {
				return shared.EmitJSON(out, struct {
					shared.JSONResponse
					Report any `json:"report"`
				}{shared.NewResponse("tools report"), provider.HealthReport()})
			}
			fmt.Fprint(out, provider.Report())
			return nil
		},
	}

	cmd.Flags().BoolVar(&probe, "probe", false, "Discover every available server before reporting")

	return cmd
}
