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
	"log/slog"
	"sync"
	"time"

	tblog "github.com/tombee/toolbridge/internal/log"
)

// EventType represents the type of tool server event.
type EventType string

const (
	// EventRegistered indicates a definition was added.
	EventRegistered EventType = "registered"
	// EventStarted indicates a server process completed its handshake.
	EventStarted EventType = "started"
	// EventStopped indicates a server process was torn down.
	EventStopped EventType = "stopped"
	// EventFailed indicates a spawn or handshake failed.
	EventFailed EventType = "failed"
	// EventDiscovered indicates a capability catalog was cached.
	EventDiscovered EventType = "discovered"
	// EventReloaded indicates the configuration was re-applied.
	EventReloaded EventType = "reloaded"
)

// ServerEvent describes a change in a tool server's lifecycle.
type ServerEvent struct {
	// Type is the event type.
	Type EventType `json:"type"`

	// ServerID is the server the event concerns; empty for reloads.
	ServerID string `json:"server_id,omitempty"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Message is an optional human-readable message.
	Message string `json:"message,omitempty"`

	// Details contains additional event-specific information.
	Details map[string]any `json:"details,omitempty"`
}

// EventHandler receives emitted events. Handlers run synchronously and
// must not block.
type EventHandler func(ServerEvent)

// EventEmitter logs server events and fans them out to subscribers.
type EventEmitter struct {
	logger *slog.Logger

	mu       sync.RWMutex
	handlers []EventHandler
}

// NewEventEmitter creates a new event emitter.
func NewEventEmitter(logger *slog.Logger) *EventEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventEmitter{logger: logger}
}

// Subscribe registers a handler for every subsequent event.
func (e *EventEmitter) Subscribe(h EventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, h)
}

// Emit logs an event and passes it to subscribers.
func (e *EventEmitter) Emit(event ServerEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	attrs := []any{"type", string(event.Type)}
	if event.ServerID != "" {
		attrs = append(attrs, tblog.ServerKey, event.ServerID)
	}
	if event.Message != "" {
		attrs = append(attrs, "message", event.Message)
	}
	for k, v := range event.Details {
		attrs = append(attrs, k, v)
	}

	level := slog.LevelInfo
	switch event.Type {
	case EventFailed:
		level = slog.LevelWarn
	case EventRegistered, EventDiscovered:
		level = slog.LevelDebug
	}
	e.logger.Log(context.Background(), level, "tool server event", attrs...)

	e.mu.RLock()
	handlers := e.handlers
	e.mu.RUnlock()
	for _, h := range handlers {
		h(event)
	}
}

// EmitRegistered emits a registration event.
func (e *EventEmitter) EmitRegistered(id, source string) {
	e.Emit(ServerEvent{
		Type:     EventRegistered,
		ServerID: id,
		Details:  map[string]any{"source": source},
	})
}

// EmitStarted emits a server started event.
func (e *EventEmitter) EmitStarted(id string, pid int, handshake time.Duration) {
	e.Emit(ServerEvent{
		Type:     EventStarted,
		ServerID: id,
		Message:  "server started",
		Details: map[string]any{
			"pid":       pid,
			"handshake": handshake,
		},
	})
}

// EmitStopped emits a server stopped event.
func (e *EventEmitter) EmitStopped(id string) {
	e.Emit(ServerEvent{
		Type:     EventStopped,
		ServerID: id,
		Message:  "server stopped",
	})
}

// EmitFailed emits a server failed event.
func (e *EventEmitter) EmitFailed(id string, err error) {
	e.Emit(ServerEvent{
		Type:     EventFailed,
		ServerID: id,
		Message:  "server failed",
		Details:  map[string]any{"error": err.Error()},
	})
}

// EmitDiscovered emits a capability discovery event.
func (e *EventEmitter) EmitDiscovered(id string, tools int, failed bool) {
	e.Emit(ServerEvent{
		Type:     EventDiscovered,
		ServerID: id,
		Details: map[string]any{
			"tools":  tools,
			"failed": failed,
		},
	})
}

// EmitReloaded emits a configuration reload event.
func (e *EventEmitter) EmitReloaded(added, removed, changed []string) {
	e.Emit(ServerEvent{
		Type:    EventReloaded,
		Message: "configuration reloaded",
		Details: map[string]any{
			"added":   added,
			"removed": removed,
			"changed": changed,
		},
	})
}
