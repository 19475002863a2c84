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

	"github.com/spf13/cobra"
	"github.com/tombee/toolbridge/internal/commands/shared"
	"github.com/tombee/toolbridge/internal/mcp"
)

// newCapsCommand creates the 'tools caps' command.
func newCapsCommand() *cobra.Command {
	var showSchema bool

	cmd := &cobra.Command{
		Use:   "caps <id>",
		Short: "Discover the tools a server offers",
		Long: `Start the server if needed, send tools/list and print the tools it offers.

A server that fails discovery is reported with an empty catalog.`,
		Example: `  # List git's tools
  toolbridge tools caps git

  # Include each tool's input schema
  toolbridge tools caps git --schema`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCaps(cmd, args[0], showSchema)
		},
	}

	cmd.Flags().BoolVar(&showSchema, "schema", false, "Print each tool's input schema")

	return cmd
}

func runCaps(cmd *cobra.Command, id string, showSchema bool) error {
	provider, closeFn, err := shared.OpenProvider(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	if _, ok := provider.GetToolInfo(id); !ok {
		return shared.NewUnavailableError("unknown tool server", mcp.ErrServerNotFound(id))
	}

	catalog, err := provider.GetCapabilities(cmd.Context(), id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		return shared.EmitJSON(out, struct {
			shared.JSONResponse
			Catalog mcp.CapabilityCatalog `json:"catalog"`
		}{shared.NewResponse("tools caps"), catalog})
	}

	if catalog.DiscoveryFailed {
		fmt.Fprintln(out, shared.RenderError(fmt.Sprintf("Discovery failed for %s: %s", id, catalog.Error)))
		return nil
	}
	if len(catalog.Tools) == 0 {
		fmt.Fprintf(out, "%s offers no tools.\n", id)
		return nil
	}

	fmt.Fprintf(out, "%s offers %d tool(s):\n\n", shared.RenderHeader(id), len(catalog.Tools))
	for _, name := range catalog.Names() {
		tool, _ := catalog.Tool(name)
		fmt.Fprintf(out, "  %s %s\n", shared.SymbolInfo, shared.RenderBold(tool.Name))
		if tool.Description != "" {
			fmt.Fprintf(out, "    %s\n", shared.Truncate(strings.TrimSpace(tool.Description), 100))
		}
		if showSchema && len(tool.InputSchema) > 0 {
			fmt.Fprintf(out, "    %s %s\n", shared.RenderLabel("schema:"), string(tool.InputSchema))
		}
	}
	return nil
}
