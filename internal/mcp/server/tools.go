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

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	tblog "github.com/tombee/toolbridge/internal/log"
	toolmcp "github.com/tombee/toolbridge/internal/mcp"
)

// defaultInputSchema is used for tools that publish no schema.
var defaultInputSchema = json.RawMessage(`{"type":"object"}`)

// BridgedName returns the exposed name of a managed tool.
func BridgedName(serverID, tool string) string {
	return serverID + "." + tool
}

// registerManagedTools discovers each available server and exposes its
// tools. Servers whose discovery failed are skipped with a warning.
func (s *Server) registerManagedTools(ctx context.Context) error {
	for _, id := range s.provider.ListAvailable() {
		cat, err := s.provider.GetCapabilities(ctx, id)
		if err != nil {
			return err
		}
		if cat.DiscoveryFailed {
			s.logger.Warn("skipping tool server with failed discovery",
				tblog.ServerKey, id,
				"error", cat.Error,
			)
			continue
		}

		for _, td := range cat.Tools {
			name := BridgedName(id, td.Name)
			schema := td.InputSchema
			if len(schema) == 0 || string(schema) == "null" {
				schema = defaultInputSchema
			}

			desc := td.Description
			if desc == "" {
				desc = fmt.Sprintf("%s tool from %s", td.Name, id)
			}

			s.exposed[name] = bridgedTool{serverID: id, tool: td.Name}
			s.mcpServer.AddTool(mcp.Tool{
				Name:           name,
				Description:    desc,
				RawInputSchema: schema,
			}, s.proxyHandler(id, td.Name))
		}
		s.logger.Debug("bridged tool server", tblog.ServerKey, id, "tools", len(cat.Tools))
	}
	return nil
}

// proxyHandler forwards an MCP tool call to the managed server.
func (s *Server) proxyHandler(serverID, tool string) func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if !s.rateLimiter.AllowCall() {
			return errorResponse("rate limit exceeded: too many tool calls, try again shortly"), nil
		}

		var opts []toolmcp.CallOption
		if s.callTimeout > 0 {
			opts = append(opts, toolmcp.WithTimeout(s.callTimeout))
		}
		opts = append(opts, toolmcp.WithInitiator("bridge"))

		result, err := s.provider.CallTool(ctx, serverID, tool, request.GetArguments(), opts...)
		if err != nil {
			s.logger.Debug("bridged call failed", tblog.ServerKey, serverID, tblog.ToolKey, tool, tblog.Error(err))
			return errorResponse(err.Error()), nil
		}

		out := &mcp.CallToolResult{IsError: result.IsError}
		for _, item := range result.Content {
			switch item.Type {
			case "image":
				out.Content = append(out.Content, mcp.NewImageContent(item.Data, item.MimeType))
			default:
				out.Content = append(out.Content, mcp.NewTextContent(item.Text))
			}
		}
		if len(out.Content) == 0 {
			out.Content = []mcp.Content{mcp.NewTextContent("")}
		}
		return out, nil
	}
}

// handleHealth returns the text performance report.
func (s *Server) handleHealth(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return textResponse(s.provider.Report()), nil
}

// handleServers lists the managed servers.
func (s *Server) handleServers(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	defs := s.provider.ListServers()
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })

	var b strings.Builder
	for _, d := range defs {
		fmt.Fprintf(&b, "%s %s (calls: %d)", checkMark(d.Status.Available()), d.ID, d.UsageCount)
		if d.Description != "" {
			fmt.Fprintf(&b, " - %s", d.Description)
		}
		b.WriteString("\n")
	}
	if b.Len() == 0 {
		return textResponse("no tool servers configured"), nil
	}
	return textResponse(b.String()), nil
}

// checkMark returns a UTF-8 checkmark for boolean status
func checkMark(ok bool) string {
	if ok {
		return "✓"
	}
	return "✗"
}
