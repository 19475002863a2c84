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

import "time"

// CallStatus is the lifecycle state of a single tool call.
type CallStatus string

const (
	// CallPending is the status of a call that has started but not finished.
	CallPending CallStatus = "pending"
	// CallSuccess is the status of a call that returned a result.
	CallSuccess CallStatus = "success"
	// CallFailure is the status of a call that returned any error other than a timeout.
	CallFailure CallStatus = "failure"
	// CallTimeout is the status of a call that received no response in time.
	CallTimeout CallStatus = "timeout"
)

// ConnectionStatus is the health bucket derived from a tool's health score.
type ConnectionStatus string

const (
	StatusHealthy   ConnectionStatus = "healthy"
	StatusDegraded  ConnectionStatus = "degraded"
	StatusUnhealthy ConnectionStatus = "unhealthy"
	StatusUnknown   ConnectionStatus = "unknown"
)

// Trend is the coarse direction of the recent call window.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendDegrading Trend = "degrading"
	TrendNoData    Trend = "no_data"
)

// CallRecord describes one tool call from start to finalization.
type CallRecord struct {
	CallID       string         `json:"call_id"`
	ToolID       string         `json:"tool_id"`
	Method       string         `json:"method"`
	Start        time.Time      `json:"start"`
	End          time.Time      `json:"end,omitempty"`
	Duration     time.Duration  `json:"duration"`
	Status       CallStatus     `json:"status"`
	ErrorKind    string         `json:"error_kind,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	ResponseSize int            `json:"response_size"`
	Timeout      time.Duration  `json:"timeout"`
	InitiatorID  string         `json:"initiator_id,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
}

// ToolHealth aggregates call outcomes for one tool server.
type ToolHealth struct {
	ToolID              string           `json:"tool_id"`
	TotalCalls          int64            `json:"total_calls"`
	SuccessfulCalls     int64            `json:"successful_calls"`
	FailedCalls         int64            `json:"failed_calls"`
	TimeoutCalls        int64            `json:"timeout_calls"`
	AvgResponseTime     time.Duration    `json:"avg_response_time"`
	ConsecutiveFailures int              `json:"consecutive_failures"`
	HealthScore         float64          `json:"health_score"`
	Status              ConnectionStatus `json:"connection_status"`
	LastSuccess         time.Time        `json:"last_success,omitempty"`
	LastFailure         time.Time        `json:"last_failure,omitempty"`
	LastError           string           `json:"last_error,omitempty"`
}

// SuccessRate returns the fraction of finalized calls that succeeded.
func (h ToolHealth) SuccessRate() float64 {
	if h.TotalCalls == 0 {
		return 0
	}
	return float64(h.SuccessfulCalls) / float64(h.TotalCalls)
}

// TimeoutRate returns the fraction of finalized calls that timed out.
func (h ToolHealth) TimeoutRate() float64 {
	if h.TotalCalls == 0 {
		return 0
	}
	return float64(h.TimeoutCalls) / float64(h.TotalCalls)
}

// SystemMetrics aggregates call outcomes across every tool.
type SystemMetrics struct {
	TotalCalls      int64         `json:"total_calls"`
	SuccessfulCalls int64         `json:"successful_calls"`
	FailedCalls     int64         `json:"failed_calls"`
	Timeouts        int64         `json:"timeouts"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveCalls     int           `json:"active_calls"`
	HealthyTools    int           `json:"healthy_tools"`
	DegradedTools   int           `json:"degraded_tools"`
	UnhealthyTools  int           `json:"unhealthy_tools"`
	StartTime       time.Time     `json:"start_time"`
	Uptime          time.Duration `json:"uptime"`
}

// RecentPerformance summarizes the most recent finalized calls.
type RecentPerformance struct {
	Calls       int           `json:"calls"`
	SuccessRate float64       `json:"success_rate"`
	TimeoutRate float64       `json:"timeout_rate"`
	AvgDuration time.Duration `json:"avg_duration"`
	Trend       Trend         `json:"trend"`
}

// HealthReport is the observability snapshot returned to external callers.
type HealthReport struct {
	GeneratedAt time.Time             `json:"generated_at"`
	System      SystemMetrics         `json:"system"`
	Tools       map[string]ToolHealth `json:"tools"`
	Recent      RecentPerformance     `json:"recent"`
}
