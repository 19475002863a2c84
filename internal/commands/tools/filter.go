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

package tools

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/tombee/toolbridge/internal/toolmetrics"
)

// healthEnv is the variable set a --where expression sees for one tool.
type healthEnv struct {
	Tool                string  `expr:"tool"`
	Status              string  `expr:"status"`
	Score               float64 `expr:"score"`
	Calls               int64   `expr:"calls"`
	Successes           int64   `expr:"successes"`
	Failures            int64   `expr:"failures"`
	Timeouts            int64   `expr:"timeouts"`
	ConsecutiveFailures int     `expr:"consecutive_failures"`
	SuccessRate         float64 `expr:"success_rate"`
	AvgMS               int64   `expr:"avg_ms"`
	LastError           string  `expr:"last_error"`
}

func newHealthEnv(h toolmetrics.ToolHealth) healthEnv {
	return healthEnv{
		Tool:                h.ToolID,
		Status:              string(h.Status),
		Score:               h.HealthScore,
		Calls:               h.TotalCalls,
		Successes:           h.SuccessfulCalls,
		Failures:            h.FailedCalls,
		Timeouts:            h.TimeoutCalls,
		ConsecutiveFailures: h.ConsecutiveFailures,
		SuccessRate:         h.SuccessRate(),
		AvgMS:               h.AvgResponseTime.Milliseconds(),
		LastError:           h.LastError,
	}
}

// healthFilter is a compiled boolean expression over healthEnv.
type healthFilter struct {
	program *vm.Program
}

// compileHealthFilter compiles expression; an empty expression matches everything.
func compileHealthFilter(expression string) (*healthFilter, error) {
	if expression == "" {
		return &healthFilter{}, nil
	}
	program, err := expr.Compile(expression,
		expr.Env(healthEnv{}),
		expr.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to compile filter: %w", err)
	}
	return &healthFilter{program: program}, nil
}

// Match reports whether h satisfies the filter.
func (f *healthFilter) Match(h toolmetrics.ToolHealth) (bool, error) {
	if f.program == nil {
		return true, nil
	}
	result, err := expr.Run(f.program, newHealthEnv(h))
	if err != nil {
		return false, fmt.Errorf("filter evaluation failed for %s: %w", h.ToolID, err)
	}
	matched, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("filter must return boolean, got %T", result)
	}
	return matched, nil
}
