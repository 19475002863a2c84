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

/*
Package mcp drives tool servers: child processes that speak newline-delimited
JSON-RPC 2.0 on their standard streams.

# Overview

The package consists of several components:

  - Config and Registry: load server entries from layered files and turn
    them into validated ServerDefinitions
  - Manager: lazily starts servers, runs the initialize handshake and tears
    processes down
  - Call engine: one request line out, one response line back, with every
    failure classified as a *CallError
  - Discovery: tools/list, cached per server
  - Watcher: reloads the manager when a config file changes

# Calling a Tool

	cfg, err := mcp.LoadConfig(mcp.LoadOptions{ProjectDir: "."})
	mgr := mcp.NewManager(mcp.ManagerConfig{Config: cfg, Logger: logger})
	defer mgr.Shutdown(context.Background())

	result, err := mgr.Call(ctx, "echo", "tools/call", map[string]any{
	    "name":      "echo",
	    "arguments": map[string]any{"x": 1},
	})

The first call spawns the process, waits the settle delay and performs the
handshake. Later calls reuse the connection unless persistentConnections is
off.

# Errors

Every failed Call returns a *CallError with a JSON-RPC style code:

	-32001 timeout            no response line within the timeout
	-32002 server terminated  EOF and the process has exited
	-32003 empty response     EOF while the process is still alive
	-32700 parse error        the line was not JSON
	-32004 protocol error     the response id did not match
	-32000 connection error   spawn, handshake or pipe failures
	-32005 tool not found     unknown or disabled server id

An error object sent by the server is passed through with its own code.

# Server States

Definitions move forward only:

	configured -> ready -> running | failed_handshake

running and failed_handshake may alternate as a dead process is replaced.
*/
package mcp
