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
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/spf13/cobra"
	"github.com/tombee/toolbridge/internal/commands/shared"
	"github.com/tombee/toolbridge/internal/mcp"
	mcptesting "github.com/tombee/toolbridge/internal/mcp/testing"
)

// newMock returns a provider with a working "git" server and a "search"
// server that is still configured.
func newMock() *mcptesting.MockProvider {
	return mcptesting.NewMockProvider().
		AddServer(mcptesting.MockServerConfig{
			ID:          "git",
			Description: "git tools",
			Tools: []mcp.ToolDescriptor{
				{Name: "git_status", Description: "Show the working tree status"},
				{Name: "git_log", Description: "Show commit logs", InputSchema: json.RawMessage(`{"type":"object"}`)},
			},
		}).
		AddServer(mcptesting.MockServerConfig{
			ID:     "search",
			Status: mcp.StatusConfigured,
		})
}

// useProvider routes every command in the test to p.
func useProvider(t *testing.T, p mcp.ToolProvider) {
	t.Helper()
	restore := shared.SetProviderFactoryForTest(func(context.Context) (mcp.ToolProvider, func(), error) {
		return p, func() {}, nil
	})
	t.Cleanup(restore)
}

// useJSON turns on --json for the test.
func useJSON(t *testing.T) {
	t.Helper()
	shared.SetJSONForTest(true)
	t.Cleanup(func() { shared.SetJSONForTest(false) })
}

// run executes cmd with args and returns its stdout. Usage and error
// printing are silenced as the root command does.
func run(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}
