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
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tombee/toolbridge/internal/commands/shared"
	"github.com/tombee/toolbridge/internal/jq"
	"github.com/tombee/toolbridge/internal/mcp"
)

// callFlags are shared by 'tools call' and 'tools rpc'.
type callFlags struct {
	timeout   time.Duration
	jqExpr    string
	initiator string
}

func (f *callFlags) register(cmd *cobra.Command) {
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "Override the server's call timeout (e.g. 5s)")
	cmd.Flags().StringVar(&f.jqExpr, "jq", "", "Filter the result with a jq expression")
	cmd.Flags().StringVar(&f.initiator, "initiator", "cli", "Initiator id recorded with the call")
}

func (f *callFlags) options() []mcp.CallOption {
	opts := []mcp.CallOption{mcp.WithInitiator(f.initiator)}
	if f.timeout > 0 {
		opts = append(opts, mcp.WithTimeout(f.timeout))
	}
	return opts
}

// newCallCommand creates the 'tools call' command.
func newCallCommand() *cobra.Command {
	var (
		flags   callFlags
		rawArgs string
		pairs   []string
	)

	cmd := &cobra.Command{
		Use:   "call <id> <tool>",
		Short: "Invoke a tool through tools/call",
		Long: `Invoke one tool on a server. Arguments are a JSON object given with
--args, or individual key=value pairs given with --arg (values that parse as
JSON are used as such, anything else is a string).

The exit code is 3 when the call fails or the tool reports an error.`,
		Example: `  # Call with a JSON argument object
  toolbridge tools call git git_status --args '{"repo_path": "."}'

  # Same call with key=value pairs and a shorter timeout
  toolbridge tools call git git_status --arg repo_path=. --timeout 5s

  # Extract the first text item
  toolbridge tools call git git_log --arg max_count=3 --jq '.content[0].text'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			toolArgs, err := parseArguments(rawArgs, pairs)
			if err != nil {
				return shared.NewConfigError("invalid tool arguments", err)
			}
			return runCall(cmd, args[0], args[1], toolArgs, flags)
		},
	}

	cmd.Flags().StringVar(&rawArgs, "args", "", "Tool arguments as a JSON object")
	cmd.Flags().StringArrayVar(&pairs, "arg", nil, "Tool argument as key=value (repeatable)")
	flags.register(cmd)

	return cmd
}

func runCall(cmd *cobra.Command, id, tool string, args map[string]any, flags callFlags) error {
	provider, closeFn, err := shared.OpenProvider(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	result, err := provider.CallTool(cmd.Context(), id, tool, args, flags.options()...)
	if err != nil {
		return callFailed(cmd.OutOrStdout(), "tools call", err)
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	out := cmd.OutOrStdout()
	switch {
	case flags.jqExpr != "":
		if err := printFiltered(cmd, out, flags.jqExpr, raw); err != nil {
			return err
		}
	case shared.GetJSON():
		if err := shared.EmitJSON(out, struct {
			shared.JSONResponse
			Result *mcp.ToolCallResult `json:"result"`
		}{shared.NewResponse("tools call"), result}); err != nil {
			return err
		}
	default:
		printToolResult(out, result)
	}

	if result.IsError {
		return shared.NewToolError(fmt.Sprintf("tool %s.%s reported an error", id, tool), nil)
	}
	return nil
}

// newRPCCommand creates the 'tools rpc' command.
func newRPCCommand() *cobra.Command {
	var (
		flags  callFlags
		params string
	)

	cmd := &cobra.Command{
		Use:   "rpc <id> <method>",
		Short: "Send a raw JSON-RPC method to a server",
		Long: `Send any JSON-RPC method to a tool server and print its result verbatim.
Params default to an empty object.`,
		Example: `  toolbridge tools rpc git tools/list
  toolbridge tools rpc git tools/call --params '{"name":"git_status","arguments":{}}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p any
			if params != "" {
				if !json.Valid([]byte(params)) {
					return shared.NewConfigError("--params is not valid JSON", nil)
				}
				p = json.RawMessage(params)
			}
			return runRPC(cmd, args[0], args[1], p, flags)
		},
	}

	cmd.Flags().StringVar(&params, "params", "", "Request params as JSON")
	flags.register(cmd)

	return cmd
}

func runRPC(cmd *cobra.Command, id, method string, params any, flags callFlags) error {
	provider, closeFn, err := shared.OpenProvider(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	raw, err := provider.Call(cmd.Context(), id, method, params, flags.options()...)
	if err != nil {
		return callFailed(cmd.OutOrStdout(), "tools rpc", err)
	}

	out := cmd.OutOrStdout()
	if flags.jqExpr != "" {
		return printFiltered(cmd, out, flags.jqExpr, raw)
	}
	if shared.GetJSON() {
		return shared.EmitJSON(out, struct {
			shared.JSONResponse
			Result json.RawMessage `json:"result"`
		}{shared.NewResponse("tools rpc"), raw})
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		fmt.Fprintln(out, string(raw))
		return nil
	}
	fmt.Fprintln(out, pretty.String())
	return nil
}

// callFailed emits the JSON error envelope when --json is set and wraps
// err with the tool-error exit code.
func callFailed(w io.Writer, command string, err error) error {
	if shared.GetJSON() {
		_ = shared.EmitJSONError(w, command, []shared.JSONError{shared.ToJSONError(err)})
	}
	if shared.ExitCode(err) == shared.ExitUnavailable {
		return err
	}
	return shared.NewToolError("tool call failed", err)
}

// printToolResult writes the text content of result, noting other items.
func printToolResult(w io.Writer, result *mcp.ToolCallResult) {
	if result.IsError {
		fmt.Fprintln(w, shared.RenderError("tool reported an error"))
	}
	for _, item := range result.Content {
		switch item.Type {
		case "text":
			fmt.Fprintln(w, item.Text)
		default:
			mime := item.MimeType
			if mime == "" {
				mime = "unknown type"
			}
			fmt.Fprintln(w, shared.RenderLabel(fmt.Sprintf("[%s content, %s, %d bytes]", item.Type, mime, len(item.Data))))
		}
	}
}

// printFiltered runs expr over raw and prints each output; strings are
// printed bare, everything else as compact JSON.
func printFiltered(cmd *cobra.Command, w io.Writer, expr string, raw []byte) error {
	executor := jq.NewExecutor(jq.DefaultTimeout, jq.DefaultMaxInputSize)
	results, err := executor.ExecuteJSON(cmd.Context(), expr, raw)
	if err != nil {
		return shared.NewConfigError("jq filter failed", err)
	}
	for _, r := range results {
		if s, ok := r.(string); ok {
			fmt.Fprintln(w, s)
			continue
		}
		b, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to encode jq output: %w", err)
		}
		fmt.Fprintln(w, string(b))
	}
	return nil
}

// parseArguments merges a JSON object and key=value pairs; pairs win.
func parseArguments(rawJSON string, pairs []string) (map[string]any, error) {
	args := map[string]any{}
	if rawJSON != "" {
		dec := json.NewDecoder(strings.NewReader(rawJSON))
		dec.UseNumber()
		if err := dec.Decode(&args); err != nil {
			return nil, fmt.Errorf("--args must be a JSON object: %w", err)
		}
	}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("--arg %q: expected key=value", pair)
		}
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			args[key] = decoded
		} else {
			args[key] = value
		}
	}
	return args, nil
}
