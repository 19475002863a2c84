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

package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tombee/toolbridge/internal/lifecycle"
	"github.com/tombee/toolbridge/internal/mcp"
	"github.com/tombee/toolbridge/internal/toolmetrics"
)

const maxCallBody = 1 << 20

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error struct {
		Code    any    `json:"code"`
		Kind    string `json:"kind"`
		Message string `json:"message"`
		ID      int64  `json:"id,omitempty"`
	} `json:"error"`
}

// ToolView is a server definition as returned by the API.
type ToolView struct {
	mcp.ServerDefinition
	Available bool   `json:"available"`
	Process   string `json:"process,omitempty"`
}

// CallRequest is the body of POST /v1/tools/{id}/call. Tool selects a
// tools/call invocation; otherwise Method and Params are sent verbatim.
type CallRequest struct {
	Tool      string          `json:"tool,omitempty"`
	Arguments map[string]any  `json:"arguments,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	TimeoutMS int64           `json:"timeout_ms,omitempty"`
	Initiator string          `json:"initiator,omitempty"`
}

// CallResponse is the body of a successful call.
type CallResponse struct {
	Result json.RawMessage `json:"result"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	var body errorBody
	body.Error.Code = status
	body.Error.Kind = kind
	body.Error.Message = message
	writeJSON(w, status, body)
}

// writeCallError maps a call failure to an HTTP status.
func writeCallError(w http.ResponseWriter, ce *mcp.CallError) {
	status := http.StatusBadGateway
	switch ce.Kind {
	case mcp.KindToolNotFound:
		status = http.StatusNotFound
	case mcp.KindInvalidParams:
		status = http.StatusBadRequest
	case mcp.KindTimeout:
		status = http.StatusGatewayTimeout
	}

	var body errorBody
	body.Error.Code = ce.Code
	body.Error.Kind = string(ce.Kind)
	body.Error.Message = ce.Message
	body.Error.ID = ce.ID
	writeJSON(w, status, body)
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"enabled": s.provider.IsEnabled(),
	})
}

func (s *Server) view(def mcp.ServerDefinition) ToolView {
	v := ToolView{ServerDefinition: def, Available: def.Status.Available()}
	if def.PID > 0 {
		if cmd, err := lifecycle.ProcessCommand(def.PID); err == nil {
			v.Process = cmd
		}
	}
	return v
}

func (s *Server) handleListTools(w http.ResponseWriter, _ *http.Request) {
	defs := s.provider.ListServers()
	out := make([]ToolView, 0, len(defs))
	for _, d := range defs {
		out = append(out, ToolView{ServerDefinition: d, Available: d.Status.Available()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": out})
}

func (s *Server) handleGetTool(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	def, ok := s.provider.GetToolInfo(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "tool server '"+id+"' not found")
		return
	}
	writeJSON(w, http.StatusOK, s.view(def))
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cat, err := s.provider.GetCapabilities(r.Context(), id)
	if err != nil {
		if mcp.HasCode(err, mcp.ErrorCodeNotFound) {
			writeError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cat)
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req CallRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCallBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body: "+err.Error())
		return
	}
	if req.Tool == "" && req.Method == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "either tool or method is required")
		return
	}

	opts := []mcp.CallOption{mcp.WithInitiator(req.Initiator)}
	if req.TimeoutMS > 0 {
		opts = append(opts, mcp.WithTimeout(time.Duration(req.TimeoutMS)*time.Millisecond))
	}

	method, params := req.Method, any(req.Params)
	if req.Tool != "" {
		args := req.Arguments
		if args == nil {
			args = map[string]any{}
		}
		method = mcp.MethodToolsCall
		params = map[string]any{"name": req.Tool, "arguments": args}
	} else if len(req.Params) == 0 {
		params = nil
	}

	result, err := s.provider.Call(r.Context(), id, method, params, opts...)
	if err != nil {
		writeCallError(w, mcp.AsCallError(err, 0))
		return
	}
	writeJSON(w, http.StatusOK, CallResponse{Result: result})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.provider.HealthReport())
}

func (s *Server) handleReport(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(s.provider.Report()))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "not_found", "call history is not persisted")
		return
	}

	q := toolmetrics.HistoryQuery{
		ToolID: r.URL.Query().Get("tool"),
		Status: toolmetrics.CallStatus(r.URL.Query().Get("status")),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "bad_request", "limit must be a non-negative integer")
			return
		}
		q.Limit = n
	}
	if v := r.URL.Query().Get("since"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "since must be a duration such as 1h")
			return
		}
		q.Since = time.Now().Add(-d)
	}

	recs, err := s.history.Query(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if recs == nil {
		recs = []toolmetrics.CallRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"calls": recs})
}
