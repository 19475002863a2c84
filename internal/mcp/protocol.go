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

package mcp

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// JSON-RPC method names used against tool servers.
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
	MethodToolsList   = "tools/list"
	MethodToolsCall   = "tools/call"
)

const (
	jsonRPCVersion = "2.0"

	// ProtocolVersion is sent in the initialize request.
	ProtocolVersion = "1.0"

	// ClientName identifies this client in the initialize request.
	ClientName = "toolbridge"
)

var emptyObject = json.RawMessage(`{}`)

// request is an outgoing JSON-RPC request or notification. Field order
// matches the wire layout: jsonrpc, method, params, id.
type request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      *int64          `json:"id,omitempty"`
}

// response is an incoming line. Server-initiated notifications carry a
// method and no id.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the error object of a JSON-RPC response.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// initializeParams is the params object of the initialize request.
type initializeParams struct {
	ProcessID       int        `json:"processId"`
	ProtocolVersion string     `json:"protocolVersion"`
	ClientInfo      clientInfo `json:"clientInfo"`
	Capabilities    struct{}   `json:"capabilities"`
}

type clientInfo struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Capabilities struct{} `json:"capabilities"`
}

// toolsCallParams is the params object of tools/call.
type toolsCallParams struct {
	Name      string `json:"name"`
	Arguments any    `json:"arguments"`
}

// encodeRequest renders a newline-terminated request line. A nil id
// produces a notification.
func encodeRequest(method string, params json.RawMessage, id *int64) ([]byte, error) {
	if len(params) == 0 || bytes.Equal(params, []byte("null")) {
		params = emptyObject
	}
	line, err := json.Marshal(request{
		JSONRPC: jsonRPCVersion,
		Method:  method,
		Params:  params,
		ID:      id,
	})
	if err != nil {
		return nil, err
	}
	return append(line, '\n'), nil
}

// marshalParams converts caller params into raw JSON.
func marshalParams(params any) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return emptyObject, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	default:
		return json.Marshal(p)
	}
}

// decodeResponse parses one line from a server.
func decodeResponse(line []byte) (*response, error) {
	var resp response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// hasID reports whether the response carries a non-null id.
func (r *response) hasID() bool {
	return len(r.ID) > 0 && !bytes.Equal(r.ID, []byte("null"))
}

// isNotification reports whether the line is a server-initiated notification.
func (r *response) isNotification() bool {
	return r.Method != "" && !r.hasID()
}

// numericID extracts the id as an integer. Numeric strings are accepted
// since some servers echo ids as strings.
func (r *response) numericID() (int64, bool) {
	if !r.hasID() {
		return 0, false
	}
	var n json.Number
	if err := json.Unmarshal(r.ID, &n); err == nil {
		if v, err := n.Int64(); err == nil {
			return v, true
		}
		return 0, false
	}
	var s string
	if err := json.Unmarshal(r.ID, &s); err == nil {
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			return v, true
		}
	}
	return 0, false
}

// resultOrNull returns the result, or JSON null when the server omitted it.
func (r *response) resultOrNull() json.RawMessage {
	if len(r.Result) == 0 {
		return json.RawMessage("null")
	}
	return r.Result
}
