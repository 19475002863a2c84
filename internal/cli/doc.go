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
Package cli provides the root command and global flags for the toolbridge CLI.

Individual commands are implemented in the internal/commands subpackages and
attached in cmd/toolbridge.

# Command Tree

	toolbridge
	├── tools         Inspect and call configured tool servers
	│   ├── list      List servers (optionally filtered by glob)
	│   ├── info      Show one server definition
	│   ├── caps      Discover a server's tools
	│   ├── call      Invoke a tool
	│   ├── rpc       Send a raw JSON-RPC method
	│   ├── health    Show per-tool health
	│   ├── report    Print the performance report
	│   └── history   Query persisted call history
	├── config        Show and validate configuration
	├── serve         Run the HTTP API
	├── bridge        Re-expose managed tools as one MCP server on stdio
	└── version       Show version

# Exit Codes

	0  success
	1  general failure
	2  invalid configuration
	3  tool call failed
	4  tool server unknown or disabled
*/
package cli
