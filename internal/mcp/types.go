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
	"encoding/json"
	"sort"
	"time"
)

// ServerStatus is the lifecycle state of a registered tool server.
type ServerStatus string

const (
	// StatusConfigured is the state of a freshly registered definition.
	StatusConfigured ServerStatus = "configured"
	// StatusReady marks a definition as callable; no process exists yet.
	StatusReady ServerStatus = "ready"
	// StatusRunning means the process is live and completed the handshake.
	StatusRunning ServerStatus = "running"
	// StatusFailedHandshake means the last spawn or handshake failed.
	StatusFailedHandshake ServerStatus = "failed_handshake"
)

// rank orders statuses; transitions never move to a lower rank.
func (s ServerStatus) rank() int {
	switch s {
	case StatusConfigured:
		return 0
	case StatusReady:
		return 1
	case StatusRunning, StatusFailedHandshake:
		return 2
	default:
		return -1
	}
}

// CanTransition reports whether moving from s to next keeps statuses monotonic.
// running and failed_handshake may alternate as the process is re-spawned.
func (s ServerStatus) CanTransition(next ServerStatus) bool {
	return next.rank() >= s.rank() && next.rank() >= 0
}

// Available reports whether a server in this status is offered to callers.
func (s ServerStatus) Available() bool {
	return s == StatusReady || s == StatusRunning
}

// ServerDefinition is the static description of a tool server plus the
// bookkeeping the manager keeps about it.
type ServerDefinition struct {
	ID           string        `json:"id"`
	Command      []string      `json:"command"`
	Description  string        `json:"description,omitempty"`
	Timeout      time.Duration `json:"timeout"`
	Dir          string        `json:"cwd,omitempty"`
	Env          []string      `json:"-"`
	Source       string        `json:"source,omitempty"`
	Status       ServerStatus  `json:"status"`
	Attempts     int           `json:"attempts"`
	LastError    string        `json:"last_error,omitempty"`
	UsageCount   int64         `json:"usage_count"`
	LastUsed     time.Time     `json:"last_used,omitempty"`
	RegisteredAt time.Time     `json:"registered_at"`
	StartedAt    time.Time     `json:"started_at,omitempty"`
	PID          int           `json:"pid,omitempty"`
}

// clone returns a deep copy safe to hand to callers.
func (d *ServerDefinition) clone() ServerDefinition {
	out := *d
	out.Command = append([]string(nil), d.Command...)
	out.Env = append([]string(nil), d.Env...)
	return out
}

// ToolDescriptor is one entry of a server's capability catalog.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// CapabilityCatalog is the discovered tool list for one server. A failed
// discovery yields an empty catalog with DiscoveryFailed set.
type CapabilityCatalog struct {
	ServerID        string           `json:"server_id"`
	Tools           []ToolDescriptor `json:"tools"`
	DiscoveryFailed bool             `json:"discovery_failed"`
	Error           string           `json:"error,omitempty"`
	DiscoveredAt    time.Time        `json:"discovered_at"`
}

// Tool looks up a tool descriptor by name.
func (c CapabilityCatalog) Tool(name string) (ToolDescriptor, bool) {
	for _, t := range c.Tools {
		if t.Name == name {
			return t, true
		}
	}
	return ToolDescriptor{}, false
}

// Names returns the sorted tool names in the catalog.
func (c CapabilityCatalog) Names() []string {
	names := make([]string, 0, len(c.Tools))
	for _, t := range c.Tools {
		names = append(names, t.Name)
	}
	sort.Strings(names)
	return names
}

// ContentItem is one element of a tools/call result's content array.
type ContentItem struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// ToolCallResult is the conventional shape of a tools/call result.
type ToolCallResult struct {
	Content []ContentItem `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// Text concatenates the text content items.
func (r ToolCallResult) Text() string {
	var out string
	for _, item := range r.Content {
		if item.Type == "text" {
			if out != "" {
				out += "\n"
			}
			out += item.Text
		}
	}
	return out
}
