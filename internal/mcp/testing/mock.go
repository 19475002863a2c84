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

// Package testing provides an in-memory mcp.ToolProvider for tests of
// packages that consume the tool manager.
package testing

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tombee/toolbridge/internal/mcp"
	"github.com/tombee/toolbridge/internal/toolmetrics"
)

// CallHandler answers a mocked call.
type CallHandler func(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error)

// MockServerConfig configures a mock tool server.
type MockServerConfig struct {
	ID          string
	Description string
	Status      mcp.ServerStatus
	Tools       []mcp.ToolDescriptor
	CallHandler CallHandler
	CallDelay   time.Duration
	PID         int

	// DiscoveryError marks the catalog as failed discovery.
	DiscoveryError error
}

// RecordedCall is one call seen by the mock.
type RecordedCall struct {
	ServerID string
	Method   string
	Params   json.RawMessage
}

// MockProvider implements mcp.ToolProvider without spawning processes.
// Calls are recorded and fed through a real metrics collector.
type MockProvider struct {
	servers  map[string]MockServerConfig
	calls    []RecordedCall
	disabled bool
	metrics  *toolmetrics.Collector
	mu       sync.RWMutex
}

var _ mcp.ToolProvider = (*MockProvider)(nil)

// NewMockProvider creates a new mock provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		servers: make(map[string]MockServerConfig),
		metrics: toolmetrics.NewCollector(toolmetrics.Config{}),
	}
}

// AddServer pre-configures a mock server. The status defaults to ready.
func (m *MockProvider) AddServer(cfg MockServerConfig) *MockProvider {
	if cfg.Status == "" {
		cfg.Status = mcp.StatusReady
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.servers[cfg.ID] = cfg
	return m
}

// WithDisabled makes IsEnabled report false and every call fail.
func (m *MockProvider) WithDisabled() *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disabled = true
	return m
}

// Calls returns the calls recorded so far.
func (m *MockProvider) Calls() []RecordedCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]RecordedCall(nil), m.calls...)
}

// IsEnabled implements mcp.ToolProvider.
func (m *MockProvider) IsEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.disabled
}

// ListAvailable implements mcp.ToolProvider.
func (m *MockProvider) ListAvailable() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.servers))
	for id, s := range m.servers {
		if s.Status.Available() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// ListServers implements mcp.ToolProvider.
func (m *MockProvider) ListServers() []mcp.ServerDefinition {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]mcp.ServerDefinition, 0, len(m.servers))
	for _, s := range m.servers {
		out = append(out, definition(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetToolInfo implements mcp.ToolProvider.
func (m *MockProvider) GetToolInfo(id string) (mcp.ServerDefinition, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.servers[id]
	if !ok {
		return mcp.ServerDefinition{}, false
	}
	return definition(s), true
}

// GetCapabilities implements mcp.ToolProvider.
func (m *MockProvider) GetCapabilities(ctx context.Context, id string) (mcp.CapabilityCatalog, error) {
	m.mu.RLock()
	s, ok := m.servers[id]
	m.mu.RUnlock()
	if !ok {
		return mcp.CapabilityCatalog{}, mcp.ErrServerNotFound(id)
	}

	cat := mcp.CapabilityCatalog{
		ServerID:     id,
		Tools:        append([]mcp.ToolDescriptor{}, s.Tools...),
		DiscoveredAt: time.Now(),
	}
	if s.DiscoveryError != nil {
		cat.Tools = []mcp.ToolDescriptor{}
		cat.DiscoveryFailed = true
		cat.Error = s.DiscoveryError.Error()
	}
	return cat, nil
}

// Call implements mcp.ToolProvider. Without a handler, tools/call echoes
// its arguments back as text content.
func (m *MockProvider) Call(ctx context.Context, id, method string, params any, _ ...mcp.CallOption) (json.RawMessage, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, &mcp.CallError{Code: mcp.CodeInvalidParams, Message: err.Error(), Kind: mcp.KindInvalidParams}
	}

	m.mu.Lock()
	s, ok := m.servers[id]
	disabled := m.disabled
	m.calls = append(m.calls, RecordedCall{ServerID: id, Method: method, Params: raw})
	m.mu.Unlock()

	callID := m.metrics.StartCall(toolmetrics.StartOptions{ToolID: id, Method: method})
	result, err := m.dispatch(ctx, s, ok && !disabled, id, method, raw)
	m.finish(callID, result, err)
	return result, err
}

func (m *MockProvider) dispatch(ctx context.Context, s MockServerConfig, ok bool, id, method string, raw json.RawMessage) (json.RawMessage, error) {
	if !ok {
		return nil, &mcp.CallError{
			Code:    mcp.CodeToolNotFound,
			Message: fmt.Sprintf("tool server '%s' not found", id),
			Kind:    mcp.KindToolNotFound,
		}
	}

	if s.CallDelay > 0 {
		select {
		case <-time.After(s.CallDelay):
		case <-ctx.Done():
			return nil, &mcp.CallError{
				Code:    mcp.CodeTimeout,
				Message: fmt.Sprintf("timeout: no response from tool server '%s' to %s", id, method),
				Kind:    mcp.KindTimeout,
			}
		}
	}

	if s.CallHandler != nil {
		return s.CallHandler(ctx, method, raw)
	}

	switch method {
	case mcp.MethodToolsList:
		return json.Marshal(map[string]any{"tools": s.Tools})
	case mcp.MethodToolsCall:
		var req struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		_ = json.Unmarshal(raw, &req)
		return json.Marshal(mcp.ToolCallResult{
			Content: []mcp.ContentItem{{Type: "text", Text: string(req.Arguments)}},
		})
	default:
		return json.RawMessage(`{}`), nil
	}
}

func (m *MockProvider) finish(callID string, result json.RawMessage, err error) {
	if err == nil {
		m.metrics.EndCall(callID, toolmetrics.Outcome{Status: toolmetrics.CallSuccess, ResponseSize: len(result)})
		return
	}
	out := toolmetrics.Outcome{Status: toolmetrics.CallFailure, ErrorMessage: err.Error()}
	if ce, ok := err.(*mcp.CallError); ok {
		out.ErrorKind = string(ce.Kind)
		if ce.Timeout() {
			out.Status = toolmetrics.CallTimeout
		}
	}
	m.metrics.EndCall(callID, out)
}

// CallTool implements mcp.ToolProvider.
func (m *MockProvider) CallTool(ctx context.Context, id, tool string, args map[string]any, opts ...mcp.CallOption) (*mcp.ToolCallResult, error) {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := m.Call(ctx, id, mcp.MethodToolsCall, map[string]any{"name": tool, "arguments": args}, opts...)
	if err != nil {
		return nil, err
	}
	var result mcp.ToolCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Metrics implements mcp.ToolProvider.
func (m *MockProvider) Metrics() toolmetrics.SystemMetrics {
	return m.metrics.System()
}

// HealthReport implements mcp.ToolProvider.
func (m *MockProvider) HealthReport() toolmetrics.HealthReport {
	return m.metrics.HealthReport()
}

// Report implements mcp.ToolProvider.
func (m *MockProvider) Report() string {
	return m.metrics.Report()
}

func definition(s MockServerConfig) mcp.ServerDefinition {
	return mcp.ServerDefinition{
		ID:          s.ID,
		Command:     []string{"mock", s.ID},
		Description: s.Description,
		Timeout:     30 * time.Second,
		Status:      s.Status,
		PID:         s.PID,
	}
}
