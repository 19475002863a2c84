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
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tblog "github.com/tombee/toolbridge/internal/log"
	"github.com/tombee/toolbridge/internal/toolmetrics"
)

func requireCallError(t *testing.T, err error) *CallError {
	t.Helper()
	require.Error(t, err)
	var ce *CallError
	require.True(t, errors.As(err, &ce), "expected *CallError, got %T: %v", err, err)
	return ce
}

func toolsCall(args map[string]any) map[string]any {
	return map[string]any{"name": "run", "arguments": args}
}

func TestCall_EchoServer(t *testing.T) {
	m := newTestManager(t, map[string]*ServerEntry{"echo": helperEntry(modeEcho)})

	raw, err := m.Call(context.Background(), "echo", MethodToolsCall, map[string]any{
		"name":      "echo",
		"arguments": map[string]any{"x": 1},
	})
	require.NoError(t, err)

	var result ToolCallResult
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.False(t, result.IsError)
	assert.JSONEq(t, `{"x":1}`, result.Text())

	def, ok := m.GetToolInfo("echo")
	require.True(t, ok)
	assert.Equal(t, StatusRunning, def.Status)
	assert.Equal(t, 1, def.Attempts)
	assert.EqualValues(t, 1, def.UsageCount)
	assert.NotZero(t, def.PID)
	assert.True(t, m.IsRunning("echo"))
}

func TestCallTool_DecodesContent(t *testing.T) {
	m := newTestManager(t, map[string]*ServerEntry{"echo": helperEntry(modeEcho)})

	result, err := m.CallTool(context.Background(), "echo", "echo", map[string]any{"x": 2})
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":2}`, result.Text())
}

func TestCall_ReusesConnection(t *testing.T) {
	m := newTestManager(t, map[string]*ServerEntry{"s": helperEntry(modeScripted)})
	ctx := context.Background()

	var pids []float64
	for i := 0; i < 3; i++ {
		raw, err := m.Call(ctx, "s", MethodToolsCall, toolsCall(map[string]any{"n": i}))
		require.NoError(t, err)
		var res struct {
			PID float64 `json:"pid"`
		}
		require.NoError(t, json.Unmarshal(raw, &res))
		pids = append(pids, res.PID)
	}
	assert.Equal(t, pids[0], pids[1])
	assert.Equal(t, pids[0], pids[2])

	def, _ := m.GetToolInfo("s")
	assert.Equal(t, 1, def.Attempts)
	assert.EqualValues(t, 3, def.UsageCount)
}

func TestCall_SlowServerTimesOut(t *testing.T) {
	m := newTestManager(t, map[string]*ServerEntry{"slow": helperEntry(modeSlow)})
	ctx := context.Background()

	before := m.Metrics().Timeouts
	start := time.Now()
	_, err := m.Call(ctx, "slow", MethodToolsCall, toolsCall(nil), WithTimeout(time.Second))
	elapsed := time.Since(start)

	ce := requireCallError(t, err)
	assert.Equal(t, KindTimeout, ce.Kind)
	assert.Equal(t, CodeTimeout, ce.Code)
	assert.Contains(t, ce.Message, "timeout")
	assert.NotZero(t, ce.ID)
	assert.GreaterOrEqual(t, elapsed, time.Second)
	assert.Less(t, elapsed, 3*time.Second)
	assert.Equal(t, before+1, m.Metrics().Timeouts)

	health, ok := m.Collector().Tool("slow")
	require.True(t, ok)
	assert.EqualValues(t, 1, health.TimeoutCalls)
	assert.EqualValues(t, 1, health.FailedCalls)
}

func TestCall_ContextDeadlineShortensTimeout(t *testing.T) {
	m := newTestManager(t, map[string]*ServerEntry{"slow": helperEntry(modeSlow)})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Warm up so the spawn does not count against the deadline below.
	_, err := m.Call(ctx, "slow", MethodToolsCall, toolsCall(nil), WithTimeout(300*time.Millisecond))
	requireCallError(t, err)

	short, cancelShort := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancelShort()
	start := time.Now()
	_, err = m.Call(short, "slow", MethodToolsCall, toolsCall(nil))
	ce := requireCallError(t, err)
	assert.Equal(t, KindTimeout, ce.Kind)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestCall_CanceledContextIsConnectionError(t *testing.T) {
	m := newTestManager(t, map[string]*ServerEntry{"slow": helperEntry(modeSlow)})

	_, err := m.Call(context.Background(), "slow", MethodToolsCall, toolsCall(nil), WithTimeout(300*time.Millisecond))
	requireCallError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)
	_, err = m.Call(ctx, "slow", MethodToolsCall, toolsCall(nil))
	ce := requireCallError(t, err)
	assert.Equal(t, KindConnection, ce.Kind)
	assert.ErrorIs(t, ce, context.Canceled)
}

func TestCall_CrashyServerRespawns(t *testing.T) {
	m := newTestManager(t, map[string]*ServerEntry{"crashy": helperEntry(modeCrashy)})
	ctx := context.Background()

	_, err := m.Call(ctx, "crashy", MethodToolsCall, toolsCall(nil))
	ce := requireCallError(t, err)
	assert.Equal(t, KindConnection, ce.Kind)
	assert.Equal(t, CodeConnectionError, ce.Code)
	assert.True(t, HasCode(err, ErrorCodeHandshakeFailed))

	def, _ := m.GetToolInfo("crashy")
	assert.Equal(t, StatusFailedHandshake, def.Status)
	assert.Equal(t, 1, def.Attempts)
	assert.Contains(t, def.LastError, "handshake")
	assert.NotContains(t, m.ListAvailable(), "crashy")

	_, err = m.Call(ctx, "crashy", MethodToolsCall, toolsCall(nil))
	requireCallError(t, err)

	def, _ = m.GetToolInfo("crashy")
	assert.Equal(t, 2, def.Attempts, "second call must spawn a new process")
	assert.Equal(t, StatusFailedHandshake, def.Status)
}

func TestCall_HandshakeErrorResponse(t *testing.T) {
	m := newTestManager(t, map[string]*ServerEntry{"bad": helperEntry(modeBadHandshake)})

	_, err := m.Call(context.Background(), "bad", MethodToolsList, nil)
	ce := requireCallError(t, err)
	assert.Equal(t, KindConnection, ce.Kind)
	assert.Contains(t, ce.Message, "unsupported client")

	def, _ := m.GetToolInfo("bad")
	assert.Equal(t, StatusFailedHandshake, def.Status)
}

func TestCall_HandshakeTimeout(t *testing.T) {
	m := newTestManager(t, map[string]*ServerEntry{"silent": helperEntry(modeSilent)}, func(s *Settings) {
		s.InitTimeout = 200 * time.Millisecond
	})

	start := time.Now()
	_, err := m.Call(context.Background(), "silent", MethodToolsList, nil)
	ce := requireCallError(t, err)
	assert.Equal(t, KindTimeout, ce.Kind)
	assert.Equal(t, CodeTimeout, ce.Code)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 1, strings.Count(ce.Message, "within 200ms"), ce.Message)

	def, _ := m.GetToolInfo("silent")
	assert.Equal(t, StatusFailedHandshake, def.Status)
	assert.Contains(t, def.LastError, "handshake")
}

func TestCall_SilentServerHonorsCallTimeout(t *testing.T) {
	m := newTestManager(t, map[string]*ServerEntry{"slow": helperEntry(modeSilent)}, func(s *Settings) {
		*s = DefaultSettings()
	})

	before := m.Metrics().Timeouts
	start := time.Now()
	_, err := m.Call(context.Background(), "slow", MethodToolsList, nil, WithTimeout(time.Second))
	elapsed := time.Since(start)

	ce := requireCallError(t, err)
	assert.Equal(t, KindTimeout, ce.Kind)
	assert.Less(t, elapsed, 3*time.Second, "handshake must not wait for the 10s init timeout")
	assert.Equal(t, before+1, m.Metrics().Timeouts)

	def, _ := m.GetToolInfo("slow")
	assert.Equal(t, StatusFailedHandshake, def.Status)
}

func TestCall_ShortContextDuringColdStart(t *testing.T) {
	m := newTestManager(t, map[string]*ServerEntry{"s": helperEntry(modeSlowStart)})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := m.Call(ctx, "s", MethodToolsCall, toolsCall(nil))
	ce := requireCallError(t, err)
	assert.Equal(t, KindTimeout, ce.Kind)

	def, _ := m.GetToolInfo("s")
	assert.Equal(t, StatusReady, def.Status, "an impatient caller says nothing about the server")
	assert.Empty(t, def.LastError)

	_, err = m.Call(context.Background(), "s", MethodToolsCall, toolsCall(nil))
	require.NoError(t, err)
	def, _ = m.GetToolInfo("s")
	assert.Equal(t, StatusRunning, def.Status)
}

func TestCall_FailureLogFields(t *testing.T) {
	var buf syncBuffer
	m := NewManager(ManagerConfig{
		Logger: slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})),
	})

	_, err := m.Call(context.Background(), "nope", MethodToolsList, nil)
	requireCallError(t, err)

	out := buf.String()
	assert.Contains(t, out, tblog.ServerKey+"=nope")
	assert.Contains(t, out, tblog.MethodKey+"=tools/list")
	assert.Contains(t, out, tblog.CallIDKey+"=")
	assert.Contains(t, out, "error=")
}

func TestCall_MalformedResponse(t *testing.T) {
	m := newTestManager(t, map[string]*ServerEntry{"bad": helperEntry(modeMalformed)})

	_, err := m.Call(context.Background(), "bad", MethodToolsCall, toolsCall(nil))
	ce := requireCallError(t, err)
	assert.Equal(t, KindParse, ce.Kind)
	assert.Equal(t, CodeParseError, ce.Code)
	assert.Contains(t, ce.Message, "this is not json")
}

func TestCall_WrongResponseID(t *testing.T) {
	m := newTestManager(t, map[string]*ServerEntry{"bad": helperEntry(modeWrongID)})

	_, err := m.Call(context.Background(), "bad", MethodToolsCall, toolsCall(nil))
	ce := requireCallError(t, err)
	assert.Equal(t, KindProtocol, ce.Kind)
	assert.Equal(t, CodeProtocolError, ce.Code)
}

func TestCall_ApplicationError(t *testing.T) {
	m := newTestManager(t, map[string]*ServerEntry{"s": helperEntry(modeScripted)})

	_, err := m.Call(context.Background(), "s", MethodToolsCall, toolsCall(map[string]any{"fail": true}))
	ce := requireCallError(t, err)
	assert.Equal(t, KindApplication, ce.Kind)
	assert.Equal(t, 42, ce.Code)
	assert.Equal(t, "tool failed on purpose", ce.Message)
	assert.False(t, ce.Transport())

	data, err := json.Marshal(ce)
	require.NoError(t, err)
	assert.JSONEq(t, fmt.Sprintf(`{"code":42,"message":"tool failed on purpose","id":%d}`, ce.ID), string(data))
}

func TestCall_NullIDErrorResponse(t *testing.T) {
	m := newTestManager(t, map[string]*ServerEntry{"s": helperEntry(modeScripted)})

	_, err := m.Call(context.Background(), "s", MethodToolsCall, toolsCall(map[string]any{"null_id": true}))
	ce := requireCallError(t, err)
	assert.Equal(t, KindApplication, ce.Kind)
	assert.Equal(t, -32600, ce.Code)
}

func TestCall_ServerExitsMidCall(t *testing.T) {
	m := newTestManager(t, map[string]*ServerEntry{"s": helperEntry(modeScripted)})
	ctx := context.Background()

	_, err := m.Call(ctx, "s", MethodToolsCall, toolsCall(map[string]any{"exit": true}))
	ce := requireCallError(t, err)
	assert.Equal(t, KindServerTerminated, ce.Kind)
	assert.Equal(t, CodeServerTerminated, ce.Code)
	assert.Contains(t, ce.Message, "helper exiting", "stderr tail should be attached")

	// The dead connection is replaced on the next call.
	_, err = m.Call(ctx, "s", MethodToolsCall, toolsCall(nil))
	require.NoError(t, err)
	def, _ := m.GetToolInfo("s")
	assert.Equal(t, 2, def.Attempts)
	assert.Equal(t, StatusRunning, def.Status)
}

func TestCall_EmptyResponseWhileAlive(t *testing.T) {
	m := newTestManager(t, map[string]*ServerEntry{"s": helperEntry(modeScripted)})

	_, err := m.Call(context.Background(), "s", MethodToolsCall, toolsCall(map[string]any{"close_stdout": true}))
	ce := requireCallError(t, err)
	assert.Equal(t, KindEmptyResponse, ce.Kind)
	assert.Equal(t, CodeEmptyResponse, ce.Code)
}

func TestCall_SkipsServerNotifications(t *testing.T) {
	m := newTestManager(t, map[string]*ServerEntry{"s": helperEntry(modeScripted)})

	raw, err := m.Call(context.Background(), "s", MethodToolsCall, toolsCall(map[string]any{"notify": true}))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"notify":true`)
}

func TestCall_LateResponseIsDiscarded(t *testing.T) {
	m := newTestManager(t, map[string]*ServerEntry{"s": helperEntry(modeScripted)})
	ctx := context.Background()

	_, err := m.Call(ctx, "s", MethodToolsCall, toolsCall(map[string]any{"sleep_ms": 400}), WithTimeout(100*time.Millisecond))
	ce := requireCallError(t, err)
	require.Equal(t, KindTimeout, ce.Kind)

	raw, err := m.Call(ctx, "s", MethodToolsCall, toolsCall(map[string]any{"marker": "second"}))
	require.NoError(t, err)
	var res struct {
		Echo map[string]any `json:"echo"`
	}
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.Equal(t, "second", res.Echo["marker"], "the late response must not be paired with the next call")
}

func TestCall_ConcurrentSameTool(t *testing.T) {
	m := newTestManager(t, map[string]*ServerEntry{"s": helperEntry(modeScripted)})
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			raw, err := m.Call(ctx, "s", MethodToolsCall, toolsCall(map[string]any{"n": i}))
			if err != nil {
				errs <- err
				return
			}
			var res struct {
				Echo map[string]any `json:"echo"`
			}
			if err := json.Unmarshal(raw, &res); err != nil {
				errs <- err
				return
			}
			if got := res.Echo["n"]; got != float64(i) {
				errs <- fmt.Errorf("call %d received response for %v", i, got)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	def, _ := m.GetToolInfo("s")
	assert.Equal(t, 1, def.Attempts, "concurrent first calls share one spawn")
	assert.EqualValues(t, n, m.Metrics().SuccessfulCalls)
}

func TestCall_UnknownServer(t *testing.T) {
	m := newTestManager(t, nil)

	_, err := m.Call(context.Background(), "nope", MethodToolsList, nil)
	ce := requireCallError(t, err)
	assert.Equal(t, KindToolNotFound, ce.Kind)
	assert.Equal(t, CodeToolNotFound, ce.Code)
	assert.Zero(t, ce.ID)
	assert.EqualValues(t, 1, m.Metrics().FailedCalls)
}

func TestCall_DisabledManager(t *testing.T) {
	m := newTestManager(t, map[string]*ServerEntry{"s": helperEntry(modeScripted)}, func(s *Settings) {
		s.Enabled = false
	})

	assert.False(t, m.IsEnabled())
	assert.Empty(t, m.ListAvailable())
	_, err := m.Call(context.Background(), "s", MethodToolsList, nil)
	ce := requireCallError(t, err)
	assert.Equal(t, KindToolNotFound, ce.Kind)
}

func TestCall_NonPersistentConnections(t *testing.T) {
	m := newTestManager(t, map[string]*ServerEntry{"s": helperEntry(modeScripted)}, func(s *Settings) {
		s.PersistentConnections = false
	})
	ctx := context.Background()

	_, err := m.Call(ctx, "s", MethodToolsCall, toolsCall(nil))
	require.NoError(t, err)
	assert.False(t, m.IsRunning("s"))

	_, err = m.Call(ctx, "s", MethodToolsCall, toolsCall(nil))
	require.NoError(t, err)
	def, _ := m.GetToolInfo("s")
	assert.Equal(t, 2, def.Attempts)
	assert.Equal(t, StatusRunning, def.Status)
}

func TestCall_HealthAfterFailuresThenSuccess(t *testing.T) {
	m := newTestManager(t, map[string]*ServerEntry{"s": helperEntry(modeScripted)})
	ctx := context.Background()

	var prev float64 = 1
	for i := 0; i < 3; i++ {
		_, err := m.Call(ctx, "s", MethodToolsCall, toolsCall(map[string]any{"fail": true}))
		requireCallError(t, err)
		h, _ := m.Collector().Tool("s")
		assert.LessOrEqual(t, h.HealthScore, prev)
		prev = h.HealthScore
	}
	afterFailures, _ := m.Collector().Tool("s")
	assert.Equal(t, 3, afterFailures.ConsecutiveFailures)

	_, err := m.Call(ctx, "s", MethodToolsCall, toolsCall(nil))
	require.NoError(t, err)

	afterSuccess, _ := m.Collector().Tool("s")
	assert.Greater(t, afterSuccess.HealthScore, afterFailures.HealthScore)
	assert.Zero(t, afterSuccess.ConsecutiveFailures)
	assert.Equal(t, toolmetrics.StatusUnhealthy, afterSuccess.Status)
}

func TestCall_ValidateArguments(t *testing.T) {
	m := newTestManager(t, map[string]*ServerEntry{"echo": helperEntry(modeEcho)}, func(s *Settings) {
		s.ValidateArguments = true
	})
	ctx := context.Background()

	_, err := m.Call(ctx, "echo", MethodToolsCall, map[string]any{"name": "echo", "arguments": map[string]any{"x": "one"}})
	ce := requireCallError(t, err)
	assert.Equal(t, KindInvalidParams, ce.Kind)
	assert.Equal(t, CodeInvalidParams, ce.Code)

	_, err = m.Call(ctx, "echo", MethodToolsCall, map[string]any{"name": "missing", "arguments": map[string]any{}})
	ce = requireCallError(t, err)
	assert.Equal(t, KindInvalidParams, ce.Kind)

	_, err = m.Call(ctx, "echo", MethodToolsCall, map[string]any{"name": "echo", "arguments": map[string]any{"x": 1}})
	require.NoError(t, err)
}

func TestCall_InitiatorRecorded(t *testing.T) {
	m := newTestManager(t, map[string]*ServerEntry{"s": helperEntry(modeScripted)})

	_, err := m.Call(context.Background(), "s", MethodToolsCall, toolsCall(nil),
		WithInitiator("agent-7"),
		WithCallContext(map[string]any{"task": "review"}),
	)
	require.NoError(t, err)

	history := m.Collector().History(1)
	require.Len(t, history, 1)
	assert.Equal(t, "agent-7", history[0].InitiatorID)
	assert.Equal(t, "review", history[0].Context["task"])
	assert.Equal(t, toolmetrics.CallSuccess, history[0].Status)
	assert.Positive(t, history[0].ResponseSize)
}

func TestResolveTimeout(t *testing.T) {
	entry := helperEntry(modeScripted)
	entry.Timeout = 7
	m := newTestManager(t, map[string]*ServerEntry{"s": entry, "d": helperEntry(modeScripted)})
	bg := context.Background()

	assert.Equal(t, 7*time.Second, m.resolveTimeout(bg, "s", 0))
	assert.Equal(t, time.Second, m.resolveTimeout(bg, "s", time.Second))
	assert.Equal(t, m.Settings().DefaultTimeout, m.resolveTimeout(bg, "d", 0))
	assert.Equal(t, m.Settings().DefaultTimeout, m.resolveTimeout(bg, "unknown", 0))

	ctx, cancel := context.WithTimeout(bg, 500*time.Millisecond)
	defer cancel()
	assert.LessOrEqual(t, m.resolveTimeout(ctx, "s", 0), 500*time.Millisecond)
}
