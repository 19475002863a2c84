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

package cli

import (
	"github.com/spf13/cobra"
	"github.com/tombee/toolbridge/internal/commands/shared"
)

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	shared.SetVersion(v, c, b)
}

// NewRootCommand creates the root Cobra command for toolbridge
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "toolbridge",
		Short: "toolbridge - run and call external tool servers",
		Long: `toolbridge launches tool servers as child processes, speaks line-delimited
JSON-RPC with them over stdio, discovers the tools they offer and keeps
per-tool health metrics.

Servers are configured in tools.yaml (project) and
~/.config/toolbridge/tools.yaml (user). Run 'toolbridge config show' to see
the merged result and 'toolbridge tools list' to see what is available.`,
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // We handle errors ourselves for proper exit codes
	}

	// Get flag pointers from shared package
	verbose, quiet, json, config := shared.RegisterFlagPointers()
	traceWire, noColor := shared.RegisterDebugFlagPointers()

	// Add global flags
	cmd.PersistentFlags().BoolVarP(verbose, "verbose", "v", false, "Enable verbose output")
	cmd.PersistentFlags().BoolVarP(quiet, "quiet", "q", false, "Suppress non-error output")
	cmd.PersistentFlags().BoolVar(json, "json", false, "Output in JSON format")
	cmd.PersistentFlags().StringVar(config, "config", "", "Additional tools config file layered over the defaults")
	cmd.PersistentFlags().BoolVar(traceWire, "trace-wire", false, "Echo every JSON-RPC line exchanged with tool servers to stderr")
	cmd.PersistentFlags().BoolVar(noColor, "no-color", false, "Disable coloured output")

	return cmd
}

// GetVersion returns version information
func GetVersion() (string, string, string) {
	return shared.GetVersion()
}

// HandleExitError handles exit errors with proper exit codes
func HandleExitError(err error) {
	shared.HandleExitError(err)
}
