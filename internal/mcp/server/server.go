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

// Package server implements an MCP server that re-exposes the managed tool
// servers, and their health, as a single set of MCP tools over stdio.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	toolmcp "github.com/tombee/toolbridge/internal/mcp"
)

// Server wraps the MCP server and routes its tools to a ToolProvider.
type Server struct {
	mcpServer   *server.MCPServer
	provider    toolmcp.ToolProvider
	name        string
	version     string
	callTimeout time.Duration
	rateLimiter *RateLimiter
	logger      *slog.Logger

	// exposed maps bridged tool names to their server and tool
	exposed map[string]bridgedTool
}

// bridgedTool identifies the managed tool behind an exposed name.
type bridgedTool struct {
	serverID string
	tool     string
}

// ServerConfig configures the bridge server.
type ServerConfig struct {
	// Name is the server name (default: "toolbridge")
	Name string

	// Version is the toolbridge version
	Version string

	// LogLevel controls logging verbosity (debug, info, warn, error)
	LogLevel string

	// Provider supplies the managed tools
	Provider toolmcp.ToolProvider

	// CallsPerMinute limits proxied tool calls (default: 100)
	CallsPerMinute int

	// CallTimeout overrides each server's timeout when set
	CallTimeout time.Duration
}

// createLogger creates a logger with the specified log level.
// Writes to stderr to avoid interfering with MCP stdio protocol.
func createLogger(levelStr string) (*slog.Logger, error) {
	var level slog.Level

	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", levelStr)
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})

	return slog.New(handler), nil
}

// NewServer creates a bridge server. Every available tool server is
// discovered and each of its tools is exposed as "<server>.<tool>".
func NewServer(ctx context.Context, config ServerConfig) (*Server, error) {
	if config.Provider == nil {
		return nil, fmt.Errorf("tool provider is required")
	}
	if config.Name == "" {
		config.Name = "toolbridge"
	}
	if config.Version == "" {
		config.Version = "dev"
	}
	if config.CallsPerMinute <= 0 {
		config.CallsPerMinute = 100
	}

	logger, err := createLogger(config.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	s := &Server{
		mcpServer:   server.NewMCPServer(config.Name, config.Version, server.WithToolCapabilities(false)),
		provider:    config.Provider,
		name:        config.Name,
		version:     config.Version,
		callTimeout: config.CallTimeout,
		rateLimiter: NewRateLimiter(config.CallsPerMinute),
		logger:      logger,
		exposed:     make(map[string]bridgedTool),
	}

	s.registerBuiltinTools()
	if err := s.registerManagedTools(ctx); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	return s, nil
}

// registerBuiltinTools registers the health and listing tools.
func (s *Server) registerBuiltinTools() {
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "toolbridge_health",
		Description: "Report call success rates, health scores and the recent trend for every managed tool server.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, s.handleHealth)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "toolbridge_servers",
		Description: "List the managed tool servers with their status and usage.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, s.handleServers)
}

// Names returns the exposed tool names, for diagnostics.
func (s *Server) Names() []string {
	names := make([]string, 0, len(s.exposed))
	for name := range s.exposed {
		names = append(names, name)
	}
	return names
}

// Run starts the MCP server using stdio transport
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Starting toolbridge MCP server",
		slog.String("version", s.version),
		slog.Int("tools", len(s.exposed)),
	)

	if err := server.ServeStdio(s.mcpServer); err != nil {
		return fmt.Errorf("MCP server error: %w", err)
	}

	return nil
}

// Helper function to create error response
func errorResponse(message string) *mcp.CallToolResult {
	return mcp.NewToolResultError(message)
}

// Helper function to create success response
func textResponse(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}
