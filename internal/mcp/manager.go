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
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	tblog "github.com/tombee/toolbridge/internal/log"
	"github.com/tombee/toolbridge/internal/toolmetrics"
)

const instrumentationName = "github.com/tombee/toolbridge/internal/mcp"

// serverState tracks one registered server and its live connection.
type serverState struct {
	// def is the definition; mutable fields are guarded by Manager.mu
	def *ServerDefinition

	// conn is the live process, nil until the first call
	conn *conn

	// connectMu serializes spawn and handshake for this server
	connectMu sync.Mutex

	// removed is set once a reload drops this state; it never connects again
	removed bool
}

// Manager registers tool servers, starts them lazily, routes calls to them
// and tracks their health.
type Manager struct {
	// servers tracks all registered tool servers by id
	servers map[string]*serverState

	// mu protects servers, every definition and every conn pointer
	mu sync.RWMutex

	// closed is set by Shutdown
	closed bool

	settings   Settings
	registry   *Registry
	projectDir string

	catalogs *catalogCache
	metrics  *toolmetrics.Collector
	events   *EventEmitter
	logger   *slog.Logger

	tracer      trace.Tracer
	instruments *instruments
	wire        *WireTracer
	version     string
}

// ManagerConfig configures the tool manager.
type ManagerConfig struct {
	// Config is the merged configuration (defaults to an empty config)
	Config *Config

	// Logger is used for structured logging (optional)
	Logger *slog.Logger

	// Metrics receives every call (optional, a new collector is created)
	Metrics *toolmetrics.Collector

	// TracerProvider supplies call spans (optional, defaults to the global provider)
	TracerProvider trace.TracerProvider

	// MeterProvider supplies lifecycle instruments (optional, defaults to the global provider)
	MeterProvider metric.MeterProvider

	// Version is reported in the initialize handshake
	Version string

	// WireTrace receives every JSON-RPC line exchanged (optional)
	WireTrace *WireTracer
}

// NewManager creates a manager and registers every enabled server in cfg.
// Entries that fail validation are logged and skipped.
func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "tools")

	conf := cfg.Config
	if conf == nil {
		conf = NewConfig()
	}

	collector := cfg.Metrics
	if collector == nil {
		collector = toolmetrics.NewCollector(toolmetrics.Config{Logger: logger})
	}

	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	mp := cfg.MeterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}

	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	m := &Manager{
		servers:     make(map[string]*serverState),
		settings:    conf.Settings,
		registry:    NewRegistry(conf.Settings, conf.ProjectDir),
		projectDir:  conf.ProjectDir,
		catalogs:    newCatalogCache(),
		metrics:     collector,
		events:      NewEventEmitter(logger),
		logger:      logger,
		tracer:      tp.Tracer(instrumentationName),
		instruments: newInstruments(mp.Meter(instrumentationName), logger),
		wire:        cfg.WireTrace,
		version:     version,
	}

	if !m.settings.Enabled {
		logger.Info("tool invocation disabled by settings")
		return m
	}

	ids := make([]string, 0, len(conf.Servers))
	for id := range conf.Servers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if err := m.Register(id, conf.Servers[id], conf.Sources[id]); err != nil {
			if HasCode(err, ErrorCodeDisabled) {
				logger.Debug("skipping disabled tool server", tblog.ServerKey, id)
				continue
			}
			logger.Warn("skipping invalid tool server", tblog.ServerKey, id, tblog.Error(err))
		}
	}

	logger.Info("tool manager initialized",
		"servers", len(m.servers),
		"persistent_connections", m.settings.PersistentConnections,
		"default_timeout", m.settings.DefaultTimeout,
	)
	return m
}

// Register adds a server definition and marks it ready. No process is started.
func (m *Manager) Register(id string, entry *ServerEntry, source string) error {
	def, err := m.registry.Build(id, entry, source)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerShutdown
	}
	if _, exists := m.servers[id]; exists {
		m.mu.Unlock()
		return NewError(ErrorCodeValidation, fmt.Sprintf("tool server '%s' is already registered", id))
	}
	def.Status = StatusReady
	m.servers[id] = &serverState{def: def}
	m.mu.Unlock()

	m.events.EmitRegistered(id, source)
	return nil
}

// Settings returns the manager's resolved settings.
func (m *Manager) Settings() Settings {
	return m.settings
}

// IsEnabled reports whether tool invocation is enabled.
func (m *Manager) IsEnabled() bool {
	return m.settings.Enabled
}

// ListAvailable returns the sorted ids of servers that are ready or running.
func (m *Manager) ListAvailable() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.servers))
	for id, st := range m.servers {
		if st.def.Status.Available() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// ListServers returns snapshots of every registered definition sorted by id.
func (m *Manager) ListServers() []ServerDefinition {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ServerDefinition, 0, len(m.servers))
	for _, st := range m.servers {
		out = append(out, st.def.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetToolInfo returns a snapshot of one server's definition.
func (m *Manager) GetToolInfo(id string) (ServerDefinition, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.servers[id]
	if !ok {
		return ServerDefinition{}, false
	}
	return st.def.clone(), true
}

// IsRunning reports whether a server has a live connection.
func (m *Manager) IsRunning(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.servers[id]
	return ok && st.conn != nil && st.conn.alive()
}

// Metrics returns the system-wide call metrics.
func (m *Manager) Metrics() toolmetrics.SystemMetrics {
	return m.metrics.System()
}

// HealthReport returns system metrics, per-tool health and the recent trend.
func (m *Manager) HealthReport() toolmetrics.HealthReport {
	return m.metrics.HealthReport()
}

// Report renders the text performance report.
func (m *Manager) Report() string {
	return m.metrics.Report()
}

// ActiveCalls returns the calls currently in flight.
func (m *Manager) ActiveCalls() []toolmetrics.CallRecord {
	return m.metrics.ActiveCalls()
}

// Collector exposes the metrics collector, for exporters.
func (m *Manager) Collector() *toolmetrics.Collector {
	return m.metrics
}

// lookup returns the state for id or a NOT_FOUND/SHUTDOWN error.
func (m *Manager) lookup(id string) (*serverState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrManagerShutdown
	}
	st, ok := m.servers[id]
	if !ok {
		return nil, ErrServerNotFound(id)
	}
	return st, nil
}

// Reload applies a new configuration. Servers whose definition changed or
// that were removed are torn down; new servers are registered ready.
// Settings other than server entries take effect on the next NewManager.
func (m *Manager) Reload(ctx context.Context, cfg *Config) error {
	if cfg == nil {
		return nil
	}

	registry := NewRegistry(m.settings, cfg.ProjectDir)
	desired := make(map[string]*ServerDefinition)
	for id, entry := range cfg.Servers {
		def, err := registry.Build(id, entry, cfg.Sources[id])
		if err != nil {
			if !HasCode(err, ErrorCodeDisabled) {
				m.logger.Warn("skipping invalid tool server on reload", tblog.ServerKey, id, tblog.Error(err))
			}
			continue
		}
		def.Status = StatusReady
		desired[id] = def
	}

	var stale []*conn
	var added, removed, changed []string

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerShutdown
	}
	for id, st := range m.servers {
		next, keep := desired[id]
		if keep && sameLaunch(st.def, next) {
			st.def.Description = next.Description
			st.def.Timeout = next.Timeout
			continue
		}
		if st.conn != nil {
			stale = append(stale, st.conn)
		}
		st.conn = nil
		st.removed = true
		delete(m.servers, id)
		if keep {
			m.servers[id] = &serverState{def: next}
			changed = append(changed, id)
		} else {
			removed = append(removed, id)
		}
	}
	for id, def := range desired {
		if _, exists := m.servers[id]; !exists {
			m.servers[id] = &serverState{def: def}
			added = append(added, id)
		}
	}
	m.registry = registry
	m.mu.Unlock()

	for _, id := range append(append([]string(nil), removed...), changed...) {
		m.catalogs.invalidate(id)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range stale {
		c := c
		g.Go(func() error {
			return c.close(gctx, m.settings.ShutdownGrace)
		})
	}
	err := g.Wait()

	sort.Strings(added)
	sort.Strings(removed)
	sort.Strings(changed)
	m.events.EmitReloaded(added, removed, changed)
	return err
}

// sameLaunch reports whether two definitions start the same process.
func sameLaunch(a, b *ServerDefinition) bool {
	return reflect.DeepEqual(a.Command, b.Command) &&
		reflect.DeepEqual(a.Env, b.Env) &&
		a.Dir == b.Dir
}

// Shutdown terminates every live server in parallel. Each process gets its
// stdin closed and a SIGTERM, then a SIGKILL once the grace period or ctx
// runs out. Shutdown is idempotent.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true

	type live struct {
		id   string
		conn *conn
	}
	var conns []live
	var usage []any
	for id, st := range m.servers {
		if st.conn != nil {
			conns = append(conns, live{id: id, conn: st.conn})
			st.conn = nil
		}
		if st.def.UsageCount > 0 {
			usage = append(usage, id, st.def.UsageCount)
		}
	}
	m.mu.Unlock()

	m.logger.Info("shutting down tool servers", "live", len(conns))
	if len(usage) > 0 {
		m.logger.Info("tool usage summary", usage...)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, l := range conns {
		l := l
		g.Go(func() error {
			err := l.conn.close(gctx, m.settings.ShutdownGrace)
			m.events.EmitStopped(l.id)
			if err != nil {
				return fmt.Errorf("tool server %s: %w", l.id, err)
			}
			return nil
		})
	}
	return g.Wait()
}
