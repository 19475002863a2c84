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
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances by step on every read.
type fakeClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.now
	f.now = f.now.Add(f.step)
	return t
}

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), step: 100 * time.Millisecond}
	return NewCollector(Config{Now: clock.Now})
}

func record(c *Collector, tool string, status CallStatus) {
	id := c.StartCall(StartOptions{ToolID: tool, Method: "tools/call", Timeout: time.Second})
	c.EndCall(id, Outcome{Status: status, ErrorMessage: string(status)})
}

func TestCollector_CountersAndInvariant(t *testing.T) {
	c := newTestCollector(t)

	record(c, "echo", CallSuccess)
	record(c, "echo", CallFailure)
	record(c, "echo", CallTimeout)
	record(c, "git", CallSuccess)

	h, ok := c.Tool("echo")
	require.True(t, ok)
	assert.Equal(t, int64(3), h.TotalCalls)
	assert.Equal(t, int64(1), h.SuccessfulCalls)
	assert.Equal(t, int64(2), h.FailedCalls)
	assert.Equal(t, int64(1), h.TimeoutCalls)
	assert.Equal(t, h.TotalCalls, h.SuccessfulCalls+h.FailedCalls)

	s := c.System()
	assert.Equal(t, int64(4), s.TotalCalls)
	assert.Equal(t, int64(2), s.SuccessfulCalls)
	assert.Equal(t, int64(2), s.FailedCalls)
	assert.Equal(t, int64(1), s.Timeouts)
	assert.Equal(t, s.TotalCalls, s.SuccessfulCalls+s.FailedCalls)
	assert.Equal(t, 0, s.ActiveCalls)
}

func TestCollector_EndCallIsFinalizedOnce(t *testing.T) {
	c := newTestCollector(t)

	id := c.StartCall(StartOptions{ToolID: "echo", Method: "tools/call"})
	assert.Len(t, c.ActiveCalls(), 1)

	assert.True(t, c.EndCall(id, Outcome{Status: CallSuccess}))
	assert.False(t, c.EndCall(id, Outcome{Status: CallFailure}))
	assert.False(t, c.EndCall("missing", Outcome{Status: CallSuccess}))

	h, _ := c.Tool("echo")
	assert.Equal(t, int64(1), h.TotalCalls)
	assert.Equal(t, int64(1), h.SuccessfulCalls)
	assert.Empty(t, c.ActiveCalls())
}

func TestCollector_UnknownBeforeFirstCall(t *testing.T) {
	c := newTestCollector(t)
	c.StartCall(StartOptions{ToolID: "pending"})

	h, ok := c.Tool("pending")
	require.True(t, ok)
	assert.Equal(t, StatusUnknown, h.Status)
	assert.Equal(t, 1, c.System().ActiveCalls)
}

func TestCollector_IncrementalMean(t *testing.T) {
	c := newTestCollector(t)

	// Each StartCall/EndCall pair reads the clock twice, one step apart.
	for i := 0; i < 5; i++ {
		record(c, "echo", CallSuccess)
	}

	h, _ := c.Tool("echo")
	assert.Equal(t, 100*time.Millisecond, h.AvgResponseTime)
	assert.Equal(t, 100*time.Millisecond, c.System().AvgResponseTime)
}

func TestCollector_ScoreNonIncreasingAcrossFailures(t *testing.T) {
	c := newTestCollector(t)
	for i := 0; i < 8; i++ {
		record(c, "echo", CallSuccess)
	}

	prev, _ := c.Tool("echo")
	for i := 0; i < 10; i++ {
		status := CallFailure
		if i%3 == 0 {
			status = CallTimeout
		}
		record(c, "echo", status)

		cur, _ := c.Tool("echo")
		assert.LessOrEqual(t, cur.HealthScore, prev.HealthScore, "failure %d raised the score", i)
		assert.Equal(t, i+1, cur.ConsecutiveFailures)
		prev = cur
	}
}

func TestCollector_SuccessResetsStreakAndRaisesScore(t *testing.T) {
	c := newTestCollector(t)

	record(c, "flaky", CallSuccess)
	record(c, "flaky", CallFailure)
	record(c, "flaky", CallFailure)
	record(c, "flaky", CallFailure)
	afterFailures, _ := c.Tool("flaky")
	assert.Equal(t, 3, afterFailures.ConsecutiveFailures)

	record(c, "flaky", CallSuccess)
	afterSuccess, _ := c.Tool("flaky")

	assert.Equal(t, 0, afterSuccess.ConsecutiveFailures)
	assert.Greater(t, afterSuccess.HealthScore, afterFailures.HealthScore)
}

func TestCollector_ThreeFailuresThenSuccess(t *testing.T) {
	c := newTestCollector(t)

	record(c, "echo", CallFailure)
	record(c, "echo", CallFailure)
	record(c, "echo", CallFailure)
	afterFailures, _ := c.Tool("echo")

	record(c, "echo", CallSuccess)
	afterSuccess, _ := c.Tool("echo")

	assert.Equal(t, 0.0, afterFailures.HealthScore)
	assert.InDelta(t, 0.25, afterSuccess.HealthScore, 1e-9)
	assert.Greater(t, afterSuccess.HealthScore, afterFailures.HealthScore)
	assert.Equal(t, 0, afterSuccess.ConsecutiveFailures)
}

func TestCollector_HistoryBounded(t *testing.T) {
	c := NewCollector(Config{HistorySize: 10})

	for i := 0; i < 25; i++ {
		id := c.StartCall(StartOptions{ToolID: "echo", Method: "m", Context: map[string]any{"i": i}})
		c.EndCall(id, Outcome{Status: CallSuccess})
	}

	hist := c.History(0)
	require.Len(t, hist, 10)
	assert.Equal(t, 15, hist[0].Context["i"])
	assert.Equal(t, 24, hist[9].Context["i"])

	last := c.History(3)
	require.Len(t, last, 3)
	assert.Equal(t, 22, last[0].Context["i"])
}

func TestCollector_DefaultHistorySize(t *testing.T) {
	c := NewCollector(Config{})
	for i := 0; i < DefaultHistorySize+5; i++ {
		record(c, "echo", CallSuccess)
	}
	assert.Len(t, c.History(0), DefaultHistorySize)
}

func TestCollector_RecentTrend(t *testing.T) {
	tests := []struct {
		name      string
		successes int
		failures  int
		want      Trend
	}{
		{name: "no data", want: TrendNoData},
		{name: "all success", successes: 10, want: TrendImproving},
		{name: "exactly seventy percent", successes: 7, failures: 3, want: TrendDegrading},
		{name: "above seventy percent", successes: 8, failures: 2, want: TrendImproving},
		{name: "mostly failing", successes: 1, failures: 9, want: TrendDegrading},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCollector(t)
			for i := 0; i < tt.successes; i++ {
				record(c, "echo", CallSuccess)
			}
			for i := 0; i < tt.failures; i++ {
				record(c, "echo", CallFailure)
			}
			assert.Equal(t, tt.want, c.Recent().Trend)
		})
	}
}

func TestCollector_RecentWindowUsesLastFifty(t *testing.T) {
	c := newTestCollector(t)
	for i := 0; i < 60; i++ {
		record(c, "echo", CallFailure)
	}
	for i := 0; i < RecentWindow; i++ {
		record(c, "echo", CallTimeout)
	}

	r := c.Recent()
	assert.Equal(t, RecentWindow, r.Calls)
	assert.Equal(t, 1.0, r.TimeoutRate)
	assert.Equal(t, 0.0, r.SuccessRate)
}

func TestCollector_HealthReportCountsBuckets(t *testing.T) {
	c := newTestCollector(t)

	record(c, "good", CallSuccess)
	record(c, "bad", CallFailure)
	for i := 0; i < 4; i++ {
		record(c, "meh", CallSuccess)
	}
	record(c, "meh", CallFailure)

	r := c.HealthReport()
	assert.Equal(t, StatusHealthy, r.Tools["good"].Status)
	assert.Equal(t, StatusUnhealthy, r.Tools["bad"].Status)
	assert.Equal(t, StatusDegraded, r.Tools["meh"].Status)
	assert.Equal(t, 1, r.System.HealthyTools)
	assert.Equal(t, 1, r.System.DegradedTools)
	assert.Equal(t, 1, r.System.UnhealthyTools)
	assert.Equal(t, 7, r.Recent.Calls)
}

func TestCollector_ConcurrentCalls(t *testing.T) {
	c := NewCollector(Config{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				record(c, "echo", CallSuccess)
			}
		}()
	}
	wg.Wait()

	h, _ := c.Tool("echo")
	assert.Equal(t, int64(1000), h.TotalCalls)
	assert.Equal(t, 1.0, h.HealthScore)
}

func TestPromExporter_ObservesCalls(t *testing.T) {
	reg := prometheus.NewRegistry()
	exp := NewPromExporter(reg)
	c := NewCollector(Config{Observers: []Observer{exp}})

	record(c, "echo", CallSuccess)
	record(c, "echo", CallTimeout)

	assert.Equal(t, 1.0, testutil.ToFloat64(exp.calls.WithLabelValues("echo", "tools/call", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(exp.calls.WithLabelValues("echo", "tools/call", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(exp.streak.WithLabelValues("echo")))

	h, _ := c.Tool("echo")
	assert.Equal(t, h.HealthScore, testutil.ToFloat64(exp.score.WithLabelValues("echo")))
}

func TestFormatReport(t *testing.T) {
	c := newTestCollector(t)
	record(c, "echo", CallSuccess)
	record(c, "slow", CallTimeout)

	report := c.Report()
	assert.Contains(t, report, "TOOL PERFORMANCE REPORT")
	assert.Contains(t, report, "Total Calls: 2")
	assert.Contains(t, report, "[healthy] echo:")
	assert.Contains(t, report, "[unhealthy] slow:")
	assert.Contains(t, report, "RECENT TRENDS (Last 2 calls)")
	assert.Less(t, strings.Index(report, "echo"), strings.Index(report, "slow"))
}
