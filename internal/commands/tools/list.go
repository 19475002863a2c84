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

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"
	"github.com/tombee/toolbridge/internal/commands/shared"
	"github.com/tombee/toolbridge/internal/mcp"
)

// newListCommand creates the 'tools list' command.
func newListCommand() *cobra.Command {
	var availableOnly bool

	cmd := &cobra.Command{
		Use:   "list [PATTERN]",
		Short: "List configured tool servers",
		Long: `List every registered tool server with its status and usage.

PATTERN is a glob matched against server ids ("git*", "*-search").`,
		Example: `  # List every server
  toolbridge tools list

  # Only servers whose id starts with "git"
  toolbridge tools list 'git*'

  # Ids of available servers, for scripting
  toolbridge tools list --available --json | jq -r '.servers[].id'`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pattern := ""
			if len(args) == 1 {
				pattern = args[0]
			}
			return runList(cmd, pattern, availableOnly)
		},
	}

	cmd.Flags().BoolVar(&availableOnly, "available", false, "Only show ready or running servers")

	return cmd
}

func runList(cmd *cobra.Command, pattern string, availableOnly bool) error {
	if pattern != "" && !doublestar.ValidatePattern(pattern) {
		return shared.NewConfigError(fmt.Sprintf("invalid pattern %q", pattern), doublestar.ErrBadPattern)
	}

	provider, closeFn, err := shared.OpenProvider(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	servers, err := filterServers(provider.ListServers(), pattern, availableOnly)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		return shared.EmitJSON(out, struct {
			shared.JSONResponse
			Enabled bool                   `json:"enabled"`
			Servers []mcp.ServerDefinition `json:"servers"`
		}{shared.NewResponse("tools list"), provider.IsEnabled(), servers})
	}

	if !provider.IsEnabled() {
		fmt.Fprintln(out, shared.RenderWarn("Tool invocation is disabled (settings.enabled: false)."))
		return nil
	}

	if len(servers) == 0 {
		if pattern != "" {
			fmt.Fprintf(out, "No tool servers match %q.\n", pattern)
			return nil
		}
		fmt.Fprintln(out, "No tool servers configured.")
		fmt.Fprintln(out, "\nTo add a server, create tools.yaml:")
		fmt.Fprintln(out, "  servers:")
		fmt.Fprintln(out, "    git:")
		fmt.Fprintln(out, "      command: [uvx, mcp-server-git]")
		return nil
	}

	now := time.Now()
	fmt.Fprintf(out, "%-24s %-18s %-8s %-14s %s\n", "ID", "STATUS", "CALLS", "LAST USED", "COMMAND")
	fmt.Fprintln(out, strings.Repeat("-", 90))
	for _, s := range servers {
		fmt.Fprintf(out, "%-24s %-18s %-8d %-14s %s\n",
			shared.Truncate(s.ID, 24),
			s.Status,
			s.UsageCount,
			shared.FormatAge(s.LastUsed, now),
			shared.Truncate(strings.Join(s.Command, " "), 40),
		)
	}

	return nil
}

// filterServers keeps servers whose id matches pattern and, when
// availableOnly is set, that can accept calls.
func filterServers(servers []mcp.ServerDefinition, pattern string, availableOnly bool) ([]mcp.ServerDefinition, error) {
	out := make([]mcp.ServerDefinition, 0, len(servers))
	for _, s := range servers {
		if availableOnly && !s.Status.Available() {
			continue
		}
		if pattern != "" {
			matched, err := doublestar.Match(pattern, s.ID)
			if err != nil {
				return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
			}
			if !matched {
				continue
			}
		}
		out = append(out, s)
	}
	return out, nil
}
