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
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	tblog "github.com/tombee/toolbridge/internal/log"
	"github.com/tombee/toolbridge/internal/toolmetrics"
)

// CallOption customizes a single call.
type CallOption func(*callOptions)

type callOptions struct {
	timeout   time.Duration
	initiator string
	context   map[string]any
}

// WithTimeout overrides the server's timeout for one call.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		o.timeout = d
	}
}

// WithInitiator records who issued the call (an agent or task id).
func WithInitiator(id string) CallOption {
	return func(o *callOptions) {
		o.initiator = id
	}
}

// WithCallContext attaches free-form context to the call's metrics record.
func WithCallContext(kv map[string]any) CallOption {
	return func(o *callOptions) {
		o.context = kv
	}
}

// Call sends one JSON-RPC request to the tool server id and returns its
// result. The server is started on first use. Every failure is a
// *CallError; an error returned by the server itself has KindApplication.
func (m *Manager) Call(ctx context.Context, id, method string, params any, opts ...CallOption) (json.RawMessage, error) {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	budget := m.resolveTimeout(context.Background(), id, o.timeout)
	timeout := m.resolveTimeout(ctx, id, o.timeout)

	ctx, span := m.tracer.Start(ctx, "toolbridge.call",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.RPCSystemKey.String("jsonrpc"),
			semconv.RPCService(id),
			semconv.RPCMethod(method),
			attribute.String("toolbridge.tool", id),
			attribute.Int64("toolbridge.timeout_ms", timeout.Milliseconds()),
		),
	)
	defer span.End()

	callID := m.metrics.StartCall(toolmetrics.StartOptions{
		ToolID:      id,
		Method:      method,
		Timeout:     timeout,
		InitiatorID: o.initiator,
		Context:     o.context,
	})

	result, reqID, ce := m.invoke(ctx, id, method, params, timeout, budget)
	if reqID > 0 {
		span.SetAttributes(semconv.RPCJsonrpcRequestID(strconv.FormatInt(reqID, 10)))
	}

	if ce != nil {
		status := toolmetrics.CallFailure
		if ce.Timeout() {
			status = toolmetrics.CallTimeout
		}
		m.metrics.EndCall(callID, toolmetrics.Outcome{
			Status:       status,
			ErrorKind:    string(ce.Kind),
			ErrorMessage: ce.Message,
		})
		span.SetAttributes(
			attribute.String("toolbridge.error_kind", string(ce.Kind)),
			attribute.Int("toolbridge.error_code", ce.Code),
		)
		span.SetStatus(codes.Error, ce.Message)
		m.logger.Debug("tool call failed",
			tblog.ServerKey, id,
			tblog.MethodKey, method,
			tblog.CallIDKey, callID,
			"kind", ce.Kind,
			"code", ce.Code,
			tblog.Error(ce),
		)
		return nil, ce
	}

	m.metrics.EndCall(callID, toolmetrics.Outcome{
		Status:       toolmetrics.CallSuccess,
		ResponseSize: len(result),
	})
	span.SetAttributes(attribute.Int("toolbridge.response_size", len(result)))
	span.SetStatus(codes.Ok, "")
	return result, nil
}

// CallTool invokes a named tool through tools/call and decodes the
// conventional content result.
func (m *Manager) CallTool(ctx context.Context, id, tool string, args map[string]any, opts ...CallOption) (*ToolCallResult, error) {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := m.Call(ctx, id, MethodToolsCall, toolsCallParams{Name: tool, Arguments: args}, opts...)
	if err != nil {
		return nil, err
	}

	var result ToolCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, newCallError(KindParse, 0, "parse error: tools/call result from '%s' is not a content result: %v", id, err)
	}
	return &result, nil
}

// resolveTimeout picks the call timeout: the explicit override, then the
// server's timeout, then the default. An earlier ctx deadline shortens it.
func (m *Manager) resolveTimeout(ctx context.Context, id string, override time.Duration) time.Duration {
	timeout := override
	if timeout <= 0 {
		m.mu.RLock()
		if st, ok := m.servers[id]; ok {
			timeout = st.def.Timeout
		}
		m.mu.RUnlock()
	}
	if timeout <= 0 {
		timeout = m.settings.DefaultTimeout
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = max(remaining, 0)
		}
	}
	return timeout
}

// invoke runs one call and returns the result, the request id used (0 if
// no request was written) and a classified error. budget is the call's own
// timeout before any ctx deadline; it bounds a handshake the call triggers.
func (m *Manager) invoke(ctx context.Context, id, method string, params any, timeout, budget time.Duration) (json.RawMessage, int64, *CallError) {
	if !m.settings.Enabled {
		return nil, 0, newCallError(KindToolNotFound, 0, "tool server '%s' not found: tool invocation is disabled", id)
	}

	st, err := m.lookup(id)
	if err != nil {
		if HasCode(err, ErrorCodeShutdown) {
			ce := newCallError(KindConnection, 0, "connection error: %v", err)
			ce.Cause = err
			return nil, 0, ce
		}
		ce := newCallError(KindToolNotFound, 0, "tool server '%s' not found", id)
		ce.Cause = err
		return nil, 0, ce
	}
	m.touch(st)

	raw, err := marshalParams(params)
	if err != nil {
		return nil, 0, newCallError(KindInvalidParams, 0, "invalid params: %v", err)
	}

	if method == MethodToolsCall && m.settings.ValidateArguments {
		if ce := m.validateToolCall(ctx, id, raw); ce != nil {
			return nil, 0, ce
		}
	}

	if !m.settings.PersistentConnections {
		st.connectMu.Lock()
		defer st.connectMu.Unlock()

		c, err := m.connectLocked(ctx, st, budget)
		if err != nil {
			return nil, 0, connectError(id, err)
		}
		defer func() {
			_ = m.disconnect(context.Background(), st)
		}()
		return m.roundTrip(ctx, c, method, raw, timeout)
	}

	c, err := m.ensureConnected(ctx, st, budget)
	if err != nil {
		return nil, 0, connectError(id, err)
	}
	return m.roundTrip(ctx, c, method, raw, timeout)
}

// roundTrip performs the exchange and turns the response into a result or
// an application error.
func (m *Manager) roundTrip(ctx context.Context, c *conn, method string, params json.RawMessage, timeout time.Duration) (json.RawMessage, int64, *CallError) {
	resp, reqID, ce := c.exchange(ctx, method, params, timeout, false)
	if ce != nil {
		if tail := c.stderrTail(); tail != "" {
			ce.Message = fmt.Sprintf("%s (stderr: %s)", ce.Message, tail)
		}
		return nil, reqID, ce
	}
	if resp.Error != nil {
		return nil, reqID, applicationError(reqID, resp.Error)
	}
	return resp.resultOrNull(), reqID, nil
}

// touch records a call attempt against the server.
func (m *Manager) touch(st *serverState) {
	m.mu.Lock()
	st.def.UsageCount++
	st.def.LastUsed = time.Now()
	m.mu.Unlock()
}

// connectError wraps a spawn or handshake failure. A handshake that ran out
// of time is a timeout; a server dropped by a reload is not found.
func connectError(id string, err error) *CallError {
	if errors.Is(err, context.DeadlineExceeded) {
		ce := newCallError(KindTimeout, 0, "timeout: tool server '%s' did not complete its handshake: %v", id, err)
		ce.Cause = err
		return ce
	}
	if HasCode(err, ErrorCodeNotFound) {
		ce := newCallError(KindToolNotFound, 0, "tool server '%s' not found", id)
		ce.Cause = err
		return ce
	}
	ce := newCallError(KindConnection, 0, "connection error: could not connect to tool server '%s': %v", id, err)
	ce.Cause = err
	return ce
}
