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

package toolmetrics

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultHistorySize bounds the number of finalized call records retained.
	DefaultHistorySize = 1000
	// RecentWindow is the number of calls summarized by the recent performance report.
	RecentWindow = 50

	improvingSuccessRate = 0.7
)

// Observer receives every finalized call along with the tool health it produced.
// Observers are invoked synchronously after the collector lock is released;
// wrap slow ones in an AsyncObserver.
type Observer interface {
	ObserveCall(rec CallRecord, health ToolHealth)
}

// Outcome carries the result of a call to EndCall.
type Outcome struct {
	Status       CallStatus
	ErrorKind    string
	ErrorMessage string
	ResponseSize int
}

// StartOptions describes a call being started.
type StartOptions struct {
	ToolID      string
	Method      string
	Timeout     time.Duration
	InitiatorID string
	Context     map[string]any
}

// Config configures a Collector.
type Config struct {
	// HistorySize bounds the rolling history (defaults to 1000)
	HistorySize int

	// Observers are notified of every finalized call (optional)
	Observers []Observer

	// Logger is used for structured logging (optional)
	Logger *slog.Logger

	// Now overrides the clock, for tests (optional)
	Now func() time.Time
}

// Collector tracks per-call records and derives per-tool health and system metrics.
type Collector struct {
	// active holds calls that have started but not been finalized
	active map[string]*CallRecord

	// history is a ring of finalized calls, oldest first once wrapped
	history []CallRecord
	next    int
	full    bool

	// tools holds per-tool health, created on first call
	tools map[string]*ToolHealth

	system    SystemMetrics
	observers []Observer
	logger    *slog.Logger
	now       func() time.Time

	// mu protects everything above
	mu sync.Mutex
}

// NewCollector creates a Collector.
func NewCollector(cfg Config) *Collector {
	size := cfg.HistorySize
	if size <= 0 {
		size = DefaultHistorySize
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Collector{
		active:    make(map[string]*CallRecord),
		history:   make([]CallRecord, size),
		tools:     make(map[string]*ToolHealth),
		system:    SystemMetrics{StartTime: now()},
		observers: cfg.Observers,
		logger:    logger,
		now:       now,
	}
}

// AddObserver registers an observer for finalized calls.
func (c *Collector) AddObserver(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

// StartCall records a pending call and returns its call id.
func (c *Collector) StartCall(opts StartOptions) string {
	rec := &CallRecord{
		CallID:      uuid.NewString(),
		ToolID:      opts.ToolID,
		Method:      opts.Method,
		Status:      CallPending,
		Timeout:     opts.Timeout,
		InitiatorID: opts.InitiatorID,
		Context:     opts.Context,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rec.Start = c.now()
	c.active[rec.CallID] = rec
	if _, ok := c.tools[opts.ToolID]; !ok {
		c.tools[opts.ToolID] = &ToolHealth{ToolID: opts.ToolID, Status: StatusUnknown}
	}
	return rec.CallID
}

// EndCall finalizes a pending call. Finalizing an unknown or already
// finalized call id is a no-op and returns false.
func (c *Collector) EndCall(callID string, out Outcome) bool {
	c.mu.Lock()

	rec, ok := c.active[callID]
	if !ok {
		c.mu.Unlock()
		c.logger.Debug("end of unknown call ignored", "call_id", callID)
		return false
	}
	delete(c.active, callID)

	if out.Status == CallPending || out.Status == "" {
		out.Status = CallFailure
	}

	rec.End = c.now()
	rec.Duration = rec.End.Sub(rec.Start)
	rec.Status = out.Status
	rec.ErrorKind = out.ErrorKind
	rec.ErrorMessage = out.ErrorMessage
	rec.ResponseSize = out.ResponseSize

	health := c.tools[rec.ToolID]
	c.applyToTool(health, rec)
	c.applyToSystem(rec)
	c.appendHistory(*rec)

	finalized := *rec
	snapshot := *health
	observers := append([]Observer(nil), c.observers...)
	c.mu.Unlock()

	for _, o := range observers {
		o.ObserveCall(finalized, snapshot)
	}
	return true
}

// applyToTool updates counters, the running mean, the failure streak and the
// health score for one tool. Must be called with c.mu held.
func (c *Collector) applyToTool(h *ToolHealth, rec *CallRecord) {
	h.TotalCalls++
	switch rec.Status {
	case CallSuccess:
		h.SuccessfulCalls++
		h.ConsecutiveFailures = 0
		h.LastSuccess = rec.End
	default:
		h.FailedCalls++
		h.ConsecutiveFailures++
		h.LastFailure = rec.End
		h.LastError = rec.ErrorMessage
		if rec.Status == CallTimeout {
			h.TimeoutCalls++
		}
	}

	h.AvgResponseTime += (rec.Duration - h.AvgResponseTime) / time.Duration(h.TotalCalls)
	h.HealthScore = Score(*h)
	h.Status = Bucket(h.HealthScore)
}

// applyToSystem mirrors the per-tool counters system-wide. Must be called with c.mu held.
func (c *Collector) applyToSystem(rec *CallRecord) {
	s := &c.system
	s.TotalCalls++
	if rec.Status == CallSuccess {
		s.SuccessfulCalls++
	} else {
		s.FailedCalls++
		if rec.Status == CallTimeout {
			s.Timeouts++
		}
	}
	s.AvgResponseTime += (rec.Duration - s.AvgResponseTime) / time.Duration(s.TotalCalls)
}

// appendHistory adds a finalized record to the ring. Must be called with c.mu held.
func (c *Collector) appendHistory(rec CallRecord) {
	c.history[c.next] = rec
	c.next++
	if c.next == len(c.history) {
		c.next = 0
		c.full = true
	}
}

// historyLocked returns finalized records oldest first. Must be called with c.mu held.
func (c *Collector) historyLocked() []CallRecord {
	if !c.full {
		return append([]CallRecord(nil), c.history[:c.next]...)
	}
	out := make([]CallRecord, 0, len(c.history))
	out = append(out, c.history[c.next:]...)
	out = append(out, c.history[:c.next]...)
	return out
}

// History returns up to the last n finalized records, oldest first.
// A non-positive n returns the whole retained history.
func (c *Collector) History(n int) []CallRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	all := c.historyLocked()
	if n > 0 && n < len(all) {
		all = all[len(all)-n:]
	}
	return all
}

// Tool returns a snapshot of one tool's health.
func (c *Collector) Tool(toolID string) (ToolHealth, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.tools[toolID]
	if !ok {
		return ToolHealth{}, false
	}
	return *h, true
}

// Tools returns a snapshot of every tool's health keyed by tool id.
func (c *Collector) Tools() map[string]ToolHealth {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.toolsLocked()
}

func (c *Collector) toolsLocked() map[string]ToolHealth {
	out := make(map[string]ToolHealth, len(c.tools))
	for id, h := range c.tools {
		out[id] = *h
	}
	return out
}

// ActiveCalls returns the calls currently in flight, oldest first.
func (c *Collector) ActiveCalls() []CallRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]CallRecord, 0, len(c.active))
	for _, rec := range c.active {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// System returns the system-wide metrics including the tool status counts.
func (c *Collector) System() SystemMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.systemLocked()
}

func (c *Collector) systemLocked() SystemMetrics {
	s := c.system
	s.ActiveCalls = len(c.active)
	s.Uptime = c.now().Sub(s.StartTime)
	for _, h := range c.tools {
		switch h.Status {
		case StatusHealthy:
			s.HealthyTools++
		case StatusDegraded:
			s.DegradedTools++
		case StatusUnhealthy:
			s.UnhealthyTools++
		}
	}
	return s
}

// Recent summarizes the last RecentWindow finalized calls.
func (c *Collector) Recent() RecentPerformance {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recentLocked()
}

func (c *Collector) recentLocked() RecentPerformance {
	all := c.historyLocked()
	if len(all) > RecentWindow {
		all = all[len(all)-RecentWindow:]
	}
	return summarize(all)
}

func summarize(recs []CallRecord) RecentPerformance {
	if len(recs) == 0 {
		return RecentPerformance{Trend: TrendNoData}
	}

	var success, timeouts int
	var total time.Duration
	for _, r := range recs {
		switch r.Status {
		case CallSuccess:
			success++
		case CallTimeout:
			timeouts++
		}
		total += r.Duration
	}

	n := len(recs)
	perf := RecentPerformance{
		Calls:       n,
		SuccessRate: float64(success) / float64(n),
		TimeoutRate: float64(timeouts) / float64(n),
		AvgDuration: total / time.Duration(n),
		Trend:       TrendDegrading,
	}
	if float64(success) > float64(n)*improvingSuccessRate {
		perf.Trend = TrendImproving
	}
	return perf
}

// HealthReport returns system metrics, per-tool health and the recent trend
// taken under a single lock so the three views agree.
func (c *Collector) HealthReport() HealthReport {
	c.mu.Lock()
	defer c.mu.Unlock()

	return HealthReport{
		GeneratedAt: c.now(),
		System:      c.systemLocked(),
		Tools:       c.toolsLocked(),
		Recent:      c.recentLocked(),
	}
}
