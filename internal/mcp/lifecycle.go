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

// Process start, handshake and teardown for individual tool servers.
// Servers are started lazily by the first call and are never restarted in
// the background; a dead process is replaced on the next call.
package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	tblog "github.com/tombee/toolbridge/internal/log"
)

// instruments are the lifecycle measurements recorded through OpenTelemetry.
type instruments struct {
	spawns            metric.Int64Counter
	handshakeFailures metric.Int64Counter
	handshakeDuration metric.Float64Histogram
}

func newInstruments(meter metric.Meter, logger *slog.Logger) *instruments {
	fallback := noop.NewMeterProvider().Meter(instrumentationName)

	spawns, err := meter.Int64Counter("toolbridge.server.spawns",
		metric.WithDescription("Tool server processes started"))
	if err != nil {
		logger.Warn("failed to create spawn counter", tblog.Error(err))
		spawns, _ = fallback.Int64Counter("toolbridge.server.spawns")
	}
	failures, err := meter.Int64Counter("toolbridge.server.handshake_failures",
		metric.WithDescription("Spawn or handshake attempts that failed"))
	if err != nil {
		logger.Warn("failed to create handshake failure counter", tblog.Error(err))
		failures, _ = fallback.Int64Counter("toolbridge.server.handshake_failures")
	}
	duration, err := meter.Float64Histogram("toolbridge.server.handshake_duration",
		metric.WithDescription("Time from spawn to a completed handshake"),
		metric.WithUnit("s"))
	if err != nil {
		logger.Warn("failed to create handshake histogram", tblog.Error(err))
		duration, _ = fallback.Float64Histogram("toolbridge.server.handshake_duration")
	}

	return &instruments{
		spawns:            spawns,
		handshakeFailures: failures,
		handshakeDuration: duration,
	}
}

// ensureConnected returns a live, handshaken connection for st, starting
// the process if needed. Concurrent callers for the same server wait on
// connectMu and share the result. budget is the triggering call's timeout;
// the handshake never waits longer than it or InitTimeout.
func (m *Manager) ensureConnected(ctx context.Context, st *serverState, budget time.Duration) (*conn, error) {
	m.mu.RLock()
	c := st.conn
	m.mu.RUnlock()
	if c != nil && c.alive() {
		return c, nil
	}

	st.connectMu.Lock()
	defer st.connectMu.Unlock()
	return m.connectLocked(ctx, st, budget)
}

// connectLocked is ensureConnected for callers already holding connectMu.
func (m *Manager) connectLocked(ctx context.Context, st *serverState, budget time.Duration) (*conn, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerShutdown
	}
	if st.removed {
		id := st.def.ID
		m.mu.Unlock()
		return nil, ErrServerNotFound(id)
	}
	stale := st.conn
	if stale != nil && stale.alive() {
		m.mu.Unlock()
		return stale, nil
	}
	st.conn = nil
	st.def.Attempts++
	def := st.def.clone()
	m.mu.Unlock()

	if stale != nil {
		m.logger.Info("discarding dead tool server connection",
			tblog.ServerKey, def.ID,
			"pid", stale.pid,
			"exit", stale.exitDescription(),
		)
		_ = stale.close(context.Background(), m.settings.ShutdownGrace)
	}

	start := time.Now()
	m.logger.Debug("starting tool server", tblog.ServerKey, def.ID, "command", def.Command, "attempt", def.Attempts)

	c, err := spawn(&def, m.logger, m.wire)
	if err != nil {
		return nil, m.markFailed(st, ErrStartFailed(def.ID, err))
	}
	m.instruments.spawns.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", def.ID)))

	if err := m.settle(ctx); err != nil {
		_ = c.close(context.Background(), m.settings.ShutdownGrace)
		return nil, err
	}

	wait := m.settings.InitTimeout
	if budget > 0 && budget < wait {
		wait = budget
	}
	if err := m.handshake(ctx, c, wait); err != nil {
		_ = c.close(context.Background(), m.settings.ShutdownGrace)
		if callerGone(ctx) {
			// Abandoned by the caller; the server keeps its status.
			m.logger.Debug("handshake abandoned by caller", tblog.ServerKey, def.ID, tblog.Error(err))
			return nil, err
		}
		failure := ErrHandshakeFailed(def.ID).WithCause(err)
		if tail := c.stderrTail(); tail != "" {
			failure = failure.WithDetail("stderr: " + tail)
		}
		return nil, m.markFailed(st, failure)
	}

	elapsed := time.Since(start)
	m.instruments.handshakeDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.String("tool", def.ID)))

	m.mu.Lock()
	if m.closed || st.removed {
		closed := m.closed
		m.mu.Unlock()
		_ = c.close(context.Background(), m.settings.ShutdownGrace)
		if closed {
			return nil, ErrManagerShutdown
		}
		return nil, ErrServerNotFound(def.ID)
	}
	st.conn = c
	m.setStatus(st.def, StatusRunning)
	st.def.LastError = ""
	st.def.PID = c.pid
	st.def.StartedAt = c.startedAt
	m.mu.Unlock()

	m.events.EmitStarted(def.ID, c.pid, elapsed)
	if m.settings.AutoDiscovery {
		if _, cached := m.catalogs.get(def.ID); !cached {
			go m.autoDiscover(def.ID)
		}
	}
	return c, nil
}

// autoDiscover fills the catalog cache right after a first handshake. It
// queues behind whatever call triggered the connection.
func (m *Manager) autoDiscover(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.settings.DiscoveryTimeout+m.settings.DefaultTimeout)
	defer cancel()
	if _, err := m.GetCapabilities(ctx, id); err != nil {
		m.logger.Debug("automatic discovery skipped", tblog.ServerKey, id, tblog.Error(err))
	}
}

// settle gives a freshly started process a moment before the first write.
func (m *Manager) settle(ctx context.Context) error {
	if m.settings.SettleDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(m.settings.SettleDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// callerGone reports whether ctx was canceled or has reached its deadline.
func callerGone(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	deadline, ok := ctx.Deadline()
	return ok && !time.Now().Before(deadline)
}

// handshake runs initialize followed by the initialized notification. The
// first line the server writes must be the initialize response, within wait.
func (m *Manager) handshake(ctx context.Context, c *conn, wait time.Duration) error {
	params, err := json.Marshal(initializeParams{
		ProcessID:       os.Getpid(),
		ProtocolVersion: ProtocolVersion,
		ClientInfo: clientInfo{
			Name:    ClientName,
			Version: m.version,
		},
	})
	if err != nil {
		return err
	}

	resp, id, ce := c.exchange(ctx, MethodInitialize, params, wait, true)
	if ce != nil {
		return ce
	}
	if resp.Error != nil {
		return applicationError(id, resp.Error)
	}

	if err := c.notify(MethodInitialized, emptyObject); err != nil {
		ce := newCallError(KindConnection, id, "connection error: failed to send initialized notification: %v", err)
		ce.Cause = err
		return ce
	}
	return nil
}

// markFailed records a spawn or handshake failure and returns err.
func (m *Manager) markFailed(st *serverState, err *Error) error {
	m.mu.Lock()
	m.setStatus(st.def, StatusFailedHandshake)
	st.def.LastError = err.Error()
	st.def.PID = 0
	id := st.def.ID
	m.mu.Unlock()

	m.instruments.handshakeFailures.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("tool", id)))
	m.events.EmitFailed(id, err)
	return err
}

// setStatus moves def to next when the move keeps statuses monotonic.
// Callers hold m.mu.
func (m *Manager) setStatus(def *ServerDefinition, next ServerStatus) {
	if !def.Status.CanTransition(next) {
		m.logger.Warn("ignoring status regression",
			tblog.ServerKey, def.ID,
			"from", def.Status,
			"to", next,
		)
		return
	}
	def.Status = next
}

// disconnect tears down the server's connection, if any. The definition
// keeps its status; the next call starts a new process.
func (m *Manager) disconnect(ctx context.Context, st *serverState) error {
	m.mu.Lock()
	c := st.conn
	st.conn = nil
	id := st.def.ID
	m.mu.Unlock()

	if c == nil {
		return nil
	}
	err := c.close(ctx, m.settings.ShutdownGrace)
	m.events.EmitStopped(id)
	return err
}

// Disconnect stops a server's process without unregistering it.
func (m *Manager) Disconnect(ctx context.Context, id string) error {
	st, err := m.lookup(id)
	if err != nil {
		return err
	}
	st.connectMu.Lock()
	defer st.connectMu.Unlock()
	return m.disconnect(ctx, st)
}

// Subscribe registers a handler for lifecycle events.
func (m *Manager) Subscribe(h EventHandler) {
	m.events.Subscribe(h)
}
