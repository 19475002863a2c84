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
	"strings"
	"testing"

	"github.com/tombee/toolbridge/internal/commands/shared"
	"github.com/tombee/toolbridge/internal/mcp"
	mcptesting "github.com/tombee/toolbridge/internal/mcp/testing"
)

func TestParseArguments(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		pairs   []string
		want    string
		wantErr bool
	}{
		{"empty", "", nil, `{}`, false},
		{"json object", `{"repo":".","n":3}`, nil, `{"n":3,"repo":"."}`, false},
		{"pairs", "", []string{"repo=.", "n=3", "deep=true"}, `{"deep":true,"n":3,"repo":"."}`, false},
		{"pair overrides json", `{"n":1}`, []string{"n=2"}, `{"n":2}`, false},
		{"pair with equals in value", "", []string{"q=a=b"}, `{"q":"a=b"}`, false},
		{"json array rejected", `[1]`, nil, "", true},
		{"pair without equals", "", []string{"oops"}, "", true},
		{"pair without key", "", []string{"=x"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseArguments(tt.raw, tt.pairs)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseArguments() error = %v", err)
			}
			b, _ := json.Marshal(got)
			if string(b) != tt.want {
				t.Errorf("got %s, want %s", b, tt.want)
			}
		})
	}
}

func TestCall_PrintsText(t *testing.T) {
	mock := newMock()
	useProvider(t, mock)

	out, err := run(t, newCallCommand(), "git", "git_status", "--arg", "repo_path=.")
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if strings.TrimSpace(out) != `{"repo_path":"."}` {
		t.Errorf("unexpected output: %q", out)
	}

	calls := mock.Calls()
	if len(calls) != 1 || calls[0].Method != mcp.MethodToolsCall {
		t.Fatalf("unexpected calls: %+v", calls)
	}
	if !strings.Contains(string(calls[0].Params), `"name":"git_status"`) {
		t.Errorf("tool name not forwarded: %s", calls[0].Params)
	}
}

func TestCall_JQ(t *testing.T) {
	useProvider(t, newMock())

	out, err := run(t, newCallCommand(), "git", "git_log", "--args", `{"max_count":3}`, "--jq", ".content[0].type")
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if strings.TrimSpace(out) != "text" {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestCall_BadJQ(t *testing.T) {
	useProvider(t, newMock())

	_, err := run(t, newCallCommand(), "git", "git_log", "--jq", ".[")
	if shared.ExitCode(err) != shared.ExitConfigInvalid {
		t.Errorf("exit code = %d, want %d (err %v)", shared.ExitCode(err), shared.ExitConfigInvalid, err)
	}
}

func TestCall_Failures(t *testing.T) {
	failing := mcptesting.NewMockProvider().AddServer(mcptesting.MockServerConfig{
		ID: "broken",
		CallHandler: func(context.Context, string, json.RawMessage) (json.RawMessage, error) {
			return nil, &mcp.CallError{Code: 42, Message: "repository not found", Kind: mcp.KindApplication, ID: 2}
		},
	}).AddServer(mcptesting.MockServerConfig{
		ID: "erroring",
		CallHandler: func(context.Context, string, json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`{"content":[{"type":"text","text":"bad path"}],"isError":true}`), nil
		},
	})
	useProvider(t, failing)

	tests := []struct {
		name string
		args []string
		code int
	}{
		{"application error", []string{"broken", "git_status"}, shared.ExitToolError},
		{"tool reported error", []string{"erroring", "git_status"}, shared.ExitToolError},
		{"unknown server", []string{"nope", "git_status"}, shared.ExitUnavailable},
		{"invalid args", []string{"broken", "git_status", "--args", "{"}, shared.ExitConfigInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, newCallCommand(), tt.args...)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := shared.ExitCode(err); got != tt.code {
				t.Errorf("exit code = %d, want %d (err %v)", got, tt.code, err)
			}
		})
	}
}

func TestCall_JSONError(t *testing.T) {
	useProvider(t, mcptesting.NewMockProvider())
	useJSON(t)

	out, err := run(t, newCallCommand(), "nope", "x")
	if err == nil {
		t.Fatal("expected error")
	}

	var resp struct {
		Success bool               `json:"success"`
		Errors  []shared.JSONError `json:"errors"`
	}
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	if resp.Success || len(resp.Errors) != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Errors[0].Kind != string(mcp.KindToolNotFound) || resp.Errors[0].RPCCode != mcp.CodeToolNotFound {
		t.Errorf("unexpected error: %+v", resp.Errors[0])
	}
}

func TestRPC(t *testing.T) {
	mock := newMock()
	useProvider(t, mock)

	out, err := run(t, newRPCCommand(), "git", "tools/list")
	if err != nil {
		t.Fatalf("rpc failed: %v", err)
	}
	if !strings.Contains(out, `"name": "git_status"`) {
		t.Errorf("expected indented catalog:\n%s", out)
	}

	_, err = run(t, newRPCCommand(), "git", "custom/ping", "--params", `{"x":1}`)
	if err != nil {
		t.Fatalf("rpc failed: %v", err)
	}
	calls := mock.Calls()
	if got := string(calls[len(calls)-1].Params); got != `{"x":1}` {
		t.Errorf("params = %s", got)
	}
}

func TestRPC_InvalidParams(t *testing.T) {
	useProvider(t, newMock())

	_, err := run(t, newRPCCommand(), "git", "tools/list", "--params", "{nope")
	if shared.ExitCode(err) != shared.ExitConfigInvalid {
		t.Errorf("exit code = %d, want %d", shared.ExitCode(err), shared.ExitConfigInvalid)
	}
}

func TestCallCommand_Flags(t *testing.T) {
	cmd := newCallCommand()
	for _, name := range []string{"args", "arg", "timeout", "jq", "initiator"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("--%s flag not defined", name)
		}
	}
}
