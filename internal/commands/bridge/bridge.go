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

// Package bridge implements the command that re-exposes managed tool
// servers as a single MCP server on stdio.
package bridge

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/toolbridge/internal/commands/shared"
	"github.com/tombee/toolbridge/internal/mcp"
	"github.com/tombee/toolbridge/internal/mcp/server"
)

type options struct {
	logLevel       string
	callsPerMinute int
	callTimeout    time.Duration
}

// NewCommand creates the bridge command.
func NewCommand() *cobra.Command {
	opts := options{}

	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Expose the configured tool servers as one MCP server",
		Long: `Start an MCP server on stdio that fronts every configured tool server.

Each tool a server offers is exposed as "<server>.<tool>". Two built-in tools
report on the bridge itself:
  - toolbridge_health: call success rates, health scores and the trend
  - toolbridge_servers: the managed servers with their status and usage

Configuration example for an MCP client:
  {
    "mcpServers": {
      "toolbridge": {
        "command": "toolbridge",
        "args": ["bridge"]
      }
    }
  }

Logs go to stderr so they never interleave with the protocol on stdout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBridge(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.logLevel, "log-level", "info", "Logging verbosity (debug, info, warn, error)")
	cmd.Flags().IntVar(&opts.callsPerMinute, "calls-per-minute", 100, "Maximum proxied tool calls per minute")
	cmd.Flags().DurationVar(&opts.callTimeout, "call-timeout", 0, "Override every server's call timeout")

	return cmd
}

func runBridge(cmd *cobra.Command, opts options) error {
	if opts.callsPerMinute <= 0 {
		return shared.NewConfigError("--calls-per-minute must be positive", nil)
	}
	if opts.callTimeout < 0 {
		return shared.NewConfigError("--call-timeout must not be negative", nil)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := shared.Logger()
	cfg, err := shared.LoadConfig()
	if err != nil {
		return err
	}

	m := mcp.NewManager(shared.ManagerConfig(cfg, logger))
	defer shared.ShutdownManager(m, logger)

	srv, err := newServer(ctx, m, opts)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "\nReceived shutdown signal, shutting down gracefully...")
		return nil
	}
}

func newServer(ctx context.Context, provider mcp.ToolProvider, opts options) (*server.Server, error) {
	version, _, _ := shared.GetVersion()
	return server.NewServer(ctx, server.ServerConfig{
		Name:           "toolbridge",
		Version:        version,
		LogLevel:       opts.logLevel,
		Provider:       provider,
		CallsPerMinute: opts.callsPerMinute,
		CallTimeout:    opts.callTimeout,
	})
}
