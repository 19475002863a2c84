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

// Package tools implements the 'toolbridge tools' command group.
package tools

import (
	"github.com/spf13/cobra"
)

// NewCommand creates the tools command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use: "tools",
		Annotations: map[string]string{
			"group": "tools",
		},
		Short: "Inspect and call configured tool servers",
		Long: `Inspect and call the tool servers configured in tools.yaml.

Servers are started on first use and stopped when the command exits.

Commands:
  list      List configured servers
  info      Show one server's definition
  caps      Discover the tools a server offers
  call      Invoke a tool through tools/call
  rpc       Send a raw JSON-RPC method
  health    Show per-tool health scores
  report    Print the performance report
  history   Query persisted call history`,
	}

	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newInfoCommand())
	cmd.AddCommand(newCapsCommand())
	cmd.AddCommand(newCallCommand())
	cmd.AddCommand(newRPCCommand())
	cmd.AddCommand(newHealthCommand())
	cmd.AddCommand(newReportCommand())
	cmd.AddCommand(newHistoryCommand())

	return cmd
}
