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
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tombee/toolbridge/internal/commands/shared"
	"github.com/tombee/toolbridge/internal/mcp"
)

// newInfoCommand creates the 'tools info' command.
func newInfoCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info <id>",
		Short: "Show one tool server's definition",
		Long: `Show the resolved definition of a tool server: command, working
directory, timeout, where it was configured and its usage so far.`,
		Example: `  toolbridge tools info git
  toolbridge tools info git --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo(cmd, args[0])
		},
	}
	return cmd
}

func runInfo(cmd *cobra.Command, id string) error {
	provider, closeFn, err := shared.OpenProvider(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	def, ok := provider.GetToolInfo(id)
	if !ok {
		return shared.NewUnavailableError("unknown tool server", mcp.ErrServerNotFound(id))
	}

	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		return shared.EmitJSON(out, struct {
			shared.JSONResponse
			Server mcp.ServerDefinition `json:"server"`
		}{shared.NewResponse("tools info"), def})
	}

	now := time.Now()
	fmt.Fprintln(out, shared.RenderHeader(def.ID))
	row := func(label, value string) {
		fmt.Fprintf(out, "  %s %s\n", shared.RenderLabel(fmt.Sprintf("%-14s", label+":")), value)
	}
	if def.Description != "" {
		row("Description", def.Description)
	}
	row("Command", strings.Join(def.Command, " "))
	if def.Dir != "" {
		row("Directory", def.Dir)
	}
	row("Timeout", def.Timeout.String())
	row("Status", string(def.Status))
	if def.Source != "" {
		row("Source", def.Source)
	}
	row("Calls", fmt.Sprintf("%d", def.UsageCount))
	row("Last used", shared.FormatAge(def.LastUsed, now))
	if def.Attempts > 0 {
		row("Attempts", fmt.Sprintf("%d", def.Attempts))
	}
	if def.LastError != "" {
		row("Last error", shared.RenderError(def.LastError))
	}
	return nil
}
