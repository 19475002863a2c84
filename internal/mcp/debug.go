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
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"
)

// Wire directions.
const (
	DirectionSend = "SEND"
	DirectionRecv = "RECV"
)

// WireTracer writes every JSON-RPC line exchanged with tool servers in a
// readable form. It is safe for concurrent use.
type WireTracer struct {
	// writer is where formatted output is written
	writer io.Writer

	// showTimestamps prefixes each entry with the wall clock time
	showTimestamps bool

	mu  sync.Mutex
	now func() time.Time
}

// WireTracerConfig configures the wire tracer.
type WireTracerConfig struct {
	// Writer is where formatted output is written (required)
	Writer io.Writer

	// HideTimestamps drops the time prefix, for stable output
	HideTimestamps bool
}

// NewWireTracer creates a new wire tracer.
func NewWireTracer(cfg WireTracerConfig) *WireTracer {
	if cfg.Writer == nil {
		cfg.Writer = io.Discard
	}
	return &WireTracer{
		writer:         cfg.Writer,
		showTimestamps: !cfg.HideTimestamps,
		now:            time.Now,
	}
}

// Trace formats one line sent to or received from serverID. Lines that are
// not JSON are written raw.
func (f *WireTracer) Trace(serverID, direction string, line []byte) {
	if f == nil {
		return
	}
	line = bytes.TrimSpace(line)

	var builder strings.Builder
	if f.showTimestamps {
		builder.WriteString(f.now().Format("15:04:05.000"))
		builder.WriteString(" ")
	}
	builder.WriteString("[")
	builder.WriteString(serverID)
	builder.WriteString("] ")
	builder.WriteString(direction)
	builder.WriteString(" ")
	builder.WriteString(describeLine(line))
	builder.WriteString("\n")

	var indented bytes.Buffer
	if err := json.Indent(&indented, line, "  ", "  "); err == nil {
		builder.WriteString("  ")
		builder.Write(indented.Bytes())
	} else {
		builder.WriteString("  ")
		builder.Write(line)
	}
	builder.WriteString("\n")

	f.mu.Lock()
	defer f.mu.Unlock()
	_, _ = f.writer.Write([]byte(builder.String()))
}

// describeLine labels a line as a request, notification, response or error.
func describeLine(line []byte) string {
	var msg struct {
		Method string          `json:"method"`
		ID     json.RawMessage `json:"id"`
		Error  json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(line, &msg); err != nil {
		return "RAW"
	}

	hasID := len(msg.ID) > 0 && string(msg.ID) != "null"
	switch {
	case msg.Method != "" && hasID:
		return "REQUEST " + msg.Method + " id=" + string(msg.ID)
	case msg.Method != "":
		return "NOTIFICATION " + msg.Method
	case len(msg.Error) > 0 && string(msg.Error) != "null":
		return "ERROR id=" + string(msg.ID)
	default:
		return "RESPONSE id=" + string(msg.ID)
	}
}
