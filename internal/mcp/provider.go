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

package mcp

import (
	"context"
	"encoding/json"

	"github.com/tombee/toolbridge/internal/toolmetrics"
)

// ToolProvider is the narrow call surface consumed by the HTTP API, the
// MCP bridge and the CLI. This interface enables dependency injection and
// testing with mock implementations.
type ToolProvider interface {
	// IsEnabled reports whether tool invocation is enabled.
	IsEnabled() bool

	// ListAvailable returns the ids of ready or running servers.
	ListAvailable() []string

	// ListServers returns every registered definition.
	ListServers() []ServerDefinition

	// GetToolInfo returns one server's definition.
	GetToolInfo(id string) (ServerDefinition, bool)

	// GetCapabilities returns the server's cached capability catalog.
	GetCapabilities(ctx context.Context, id string) (CapabilityCatalog, error)

	// Call sends one JSON-RPC request to a server.
	Call(ctx context.Context, id, method string, params any, opts ...CallOption) (json.RawMessage, error)

	// CallTool invokes a named tool through tools/call.
	CallTool(ctx context.Context, id, tool string, args map[string]any, opts ...CallOption) (*ToolCallResult, error)

	// Metrics returns system-wide call metrics.
	Metrics() toolmetrics.SystemMetrics

	// HealthReport returns system metrics, per-tool health and the trend.
	HealthReport() toolmetrics.HealthReport

	// Report renders the text performance report.
	Report() string
}

var _ ToolProvider = (*Manager)(nil)
