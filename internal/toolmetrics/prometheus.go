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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PromExporter mirrors finalized calls into Prometheus collectors.
type PromExporter struct {
	// calls counts finalized calls by tool, method and status
	calls *prometheus.CounterVec

	// duration observes call latency per tool
	duration *prometheus.HistogramVec

	// score is the latest health score per tool
	score *prometheus.GaugeVec

	// streak is the latest consecutive failure count per tool
	streak *prometheus.GaugeVec
}

// NewPromExporter registers the tool collectors with reg.
// A nil reg registers with the default Prometheus registry.
func NewPromExporter(reg prometheus.Registerer) *PromExporter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PromExporter{
		calls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolbridge_calls_total",
				Help: "Total finalized tool calls by tool, method and status",
			},
			[]string{"tool", "method", "status"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "toolbridge_call_duration_seconds",
				Help:    "Tool call duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"tool"},
		),
		score: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "toolbridge_tool_health_score",
				Help: "Current health score per tool in [0,1]",
			},
			[]string{"tool"},
		),
		streak: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "toolbridge_consecutive_failures",
				Help: "Current consecutive failure streak per tool",
			},
			[]string{"tool"},
		),
	}
}

// ObserveCall implements Observer.
func (p *PromExporter) ObserveCall(rec CallRecord, health ToolHealth) {
	p.calls.WithLabelValues(rec.ToolID, rec.Method, string(rec.Status)).Inc()
	p.duration.WithLabelValues(rec.ToolID).Observe(rec.Duration.Seconds())
	p.score.WithLabelValues(rec.ToolID).Set(health.HealthScore)
	p.streak.WithLabelValues(rec.ToolID).Set(float64(health.ConsecutiveFailures))
}
