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
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/tombee/toolbridge/internal/commands/shared"
	mcptesting "github.com/tombee/toolbridge/internal/mcp/testing"
	"github.com/tombee/toolbridge/internal/toolmetrics"
)

// callMix records two successful git calls and one failed flaky call.
func callMix(t *testing.T) *mcptesting.MockProvider {
	t.Helper()
	mock := newMock().AddServer(mcptesting.MockServerConfig{
		ID: "flaky",
		CallHandler: func(context.Context, string, json.RawMessage) (json.RawMessage, error) {
			return nil, errors.New("boom")
		},
	})
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := mock.CallTool(ctx, "git", "git_status", nil); err != nil {
			t.Fatal(err)
		}
	}
	_, _ = mock.CallTool(ctx, "flaky", "anything", nil)
	return mock
}

func TestHealthFilter(t *testing.T) {
	h := toolmetrics.ToolHealth{
		ToolID:          "git",
		TotalCalls:      4,
		SuccessfulCalls: 3,
		FailedCalls:     1,
		HealthScore:     0.75,
		Status:          toolmetrics.StatusDegraded,
	}

	tests := []struct {
		expr string
		want bool
	}{
		{"", true},
		{`tool == "git"`, true},
		{`status == "healthy"`, false},
		{"success_rate >= 0.75 && calls > 3", true},
		{"score < 0.5 || failures > 1", false},
		{`tool startsWith "gi"`, true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			f, err := compileHealthFilter(tt.expr)
			if err != nil {
				t.Fatalf("compile error: %v", err)
			}
			got, err := f.Match(h)
			if err != nil {
				t.Fatalf("match error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHealthFilter_CompileErrors(t *testing.T) {
	for _, expr := range []string{"calls +", "calls + 1", "unknown_field > 1"} {
		if _, err := compileHealthFilter(expr); err == nil {
			t.Errorf("expected compile error for %q", expr)
		}
	}
}

func TestHealth_Table(t *testing.T) {
	useProvider(t, callMix(t))

	out, err := run(t, newHealthCommand())
	if err != nil {
		t.Fatalf("health failed: %v", err)
	}
	for _, want := range []string{"git", "flaky", "recent trend"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestHealth_Where(t *testing.T) {
	useProvider(t, callMix(t))
	useJSON(t)

	out, err := run(t, newHealthCommand(), "--where", "failures > 0")
	if err != nil {
		t.Fatalf("health failed: %v", err)
	}

	var resp struct {
		Tools []toolmetrics.ToolHealth `json:"tools"`
	}
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	if len(resp.Tools) != 1 || resp.Tools[0].ToolID != "flaky" {
		t.Errorf("expected only flaky, got %+v", resp.Tools)
	}
}

func TestHealth_InvalidWhere(t *testing.T) {
	useProvider(t, newMock())

	_, err := run(t, newHealthCommand(), "--where", "calls +")
	if shared.ExitCode(err) != shared.ExitConfigInvalid {
		t.Errorf("exit code = %d, want %d", shared.ExitCode(err), shared.ExitConfigInvalid)
	}
}

func TestHealth_NoCalls(t *testing.T) {
	useProvider(t, newMock())

	out, err := run(t, newHealthCommand())
	if err != nil {
		t.Fatalf("health failed: %v", err)
	}
	if !strings.Contains(out, "No tool calls recorded yet") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestReport(t *testing.T) {
	useProvider(t, callMix(t))

	out, err := run(t, newReportCommand())
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}
	if !strings.Contains(out, "TOOL PERFORMANCE REPORT") {
		t.Errorf("expected report header:\n%s", out)
	}
}

func TestInfoAndCaps(t *testing.T) {
	useProvider(t, newMock())

	out, err := run(t, newInfoCommand(), "git")
	if err != nil {
		t.Fatalf("info failed: %v", err)
	}
	if !strings.Contains(out, "git tools") || !strings.Contains(out, "mock git") {
		t.Errorf("unexpected info output:\n%s", out)
	}

	out, err = run(t, newCapsCommand(), "git", "--schema")
	if err != nil {
		t.Fatalf("caps failed: %v", err)
	}
	for _, want := range []string{"2 tool(s)", "git_log", "git_status", `{"type":"object"}`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in caps output:\n%s", want, out)
		}
	}
}

func TestInfoAndCaps_UnknownServer(t *testing.T) {
	useProvider(t, newMock())

	_, err := run(t, newInfoCommand(), "nope")
	if shared.ExitCode(err) != shared.ExitUnavailable {
		t.Errorf("info exit code = %d, want %d", shared.ExitCode(err), shared.ExitUnavailable)
	}
	_, err = run(t, newCapsCommand(), "nope")
	if shared.ExitCode(err) != shared.ExitUnavailable {
		t.Errorf("caps exit code = %d, want %d", shared.ExitCode(err), shared.ExitUnavailable)
	}
}

func TestCaps_DiscoveryFailed(t *testing.T) {
	useProvider(t, mcptesting.NewMockProvider().AddServer(mcptesting.MockServerConfig{
		ID:             "broken",
		DiscoveryError: errors.New("handshake timed out"),
	}))

	out, err := run(t, newCapsCommand(), "broken")
	if err != nil {
		t.Fatalf("caps failed: %v", err)
	}
	if !strings.Contains(out, "Discovery failed for broken: handshake timed out") {
		t.Errorf("unexpected output:\n%s", out)
	}
}
