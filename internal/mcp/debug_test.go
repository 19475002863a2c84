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
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescribeLine(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{`{"jsonrpc":"2.0","method":"tools/list","params":{},"id":3}`, "REQUEST tools/list id=3"},
		{`{"jsonrpc":"2.0","method":"notifications/initialized","params":{}}`, "NOTIFICATION notifications/initialized"},
		{`{"jsonrpc":"2.0","id":3,"result":{}}`, "RESPONSE id=3"},
		{`{"jsonrpc":"2.0","id":4,"error":{"code":1,"message":"x"}}`, "ERROR id=4"},
		{`garbage`, "RAW"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, describeLine([]byte(tt.line)))
		})
	}
}

func TestWireTracer_Trace(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewWireTracer(WireTracerConfig{Writer: &buf, HideTimestamps: true})

	tracer.Trace("git", DirectionSend, []byte(`{"jsonrpc":"2.0","method":"tools/list","params":{},"id":1}`+"\n"))
	tracer.Trace("git", DirectionRecv, []byte(`not json`))

	out := buf.String()
	assert.Contains(t, out, "[git] SEND REQUEST tools/list id=1\n")
	assert.Contains(t, out, `  "method": "tools/list"`)
	assert.Contains(t, out, "[git] RECV RAW\n  not json\n")
}

func TestWireTracer_Timestamps(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewWireTracer(WireTracerConfig{Writer: &buf})
	tracer.now = func() time.Time { return time.Date(2025, 1, 1, 9, 30, 15, 250_000_000, time.UTC) }

	tracer.Trace("s", DirectionRecv, []byte(`{"id":1,"result":{}}`))
	assert.True(t, strings.HasPrefix(buf.String(), "09:30:15.250 [s] RECV RESPONSE id=1"))
}

func TestWireTracer_NilIsNoop(t *testing.T) {
	var tracer *WireTracer
	assert.NotPanics(t, func() {
		tracer.Trace("s", DirectionSend, []byte(`{}`))
	})
}

func TestWireTracer_SeesHandshake(t *testing.T) {
	var buf syncBuffer
	cfg := NewConfig()
	cfg.Settings = testSettings()
	cfg.Servers["s"] = helperEntry(modeScripted)

	m := NewManager(ManagerConfig{
		Config:    cfg,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		WireTrace: NewWireTracer(WireTracerConfig{Writer: &buf, HideTimestamps: true}),
	})
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	_, err := m.Call(context.Background(), "s", MethodToolsCall, toolsCall(nil))
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "[s] SEND REQUEST initialize id=1")
	assert.Contains(t, out, "[s] RECV RESPONSE id=1")
	assert.Contains(t, out, "[s] SEND NOTIFICATION notifications/initialized")
	assert.Contains(t, out, "[s] SEND REQUEST tools/call id=2")
	assert.Contains(t, out, "[s] RECV RESPONSE id=2")
}
