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
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ValidateArguments checks args against a tool's input schema. A tool
// without a schema accepts anything.
func ValidateArguments(tool ToolDescriptor, args json.RawMessage) error {
	if len(tool.InputSchema) == 0 || string(tool.InputSchema) == "null" {
		return nil
	}
	if len(args) == 0 || string(args) == "null" {
		args = emptyObject
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(tool.InputSchema),
		gojsonschema.NewBytesLoader(args),
	)
	if err != nil {
		return fmt.Errorf("schema for tool '%s' is unusable: %w", tool.Name, err)
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		problems = append(problems, fmt.Sprintf("%s: %s", e.Field(), e.Description()))
	}
	return fmt.Errorf("arguments for tool '%s' do not match its schema: %s", tool.Name, strings.Join(problems, "; "))
}

// validateToolCall validates tools/call params against the cached catalog.
// Tools missing from a successful catalog are rejected; a failed discovery
// skips validation so the server can decide.
func (m *Manager) validateToolCall(ctx context.Context, id string, params json.RawMessage) *CallError {
	var call struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(params, &call); err != nil || call.Name == "" {
		return newCallError(KindInvalidParams, 0, "invalid params: tools/call needs a tool name")
	}

	cat, err := m.GetCapabilities(ctx, id)
	if err != nil || cat.DiscoveryFailed {
		return nil
	}
	tool, ok := cat.Tool(call.Name)
	if !ok {
		return newCallError(KindInvalidParams, 0, "invalid params: tool server '%s' has no tool '%s'", id, call.Name)
	}
	if err := ValidateArguments(tool, call.Arguments); err != nil {
		ce := newCallError(KindInvalidParams, 0, "invalid params: %v", err)
		ce.Cause = err
		return ce
	}
	return nil
}
