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
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents a category of manager error.
type ErrorCode string

const (
	// ErrorCodeNotFound indicates a server was not found.
	ErrorCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrorCodeDisabled indicates a server entry is disabled.
	ErrorCodeDisabled ErrorCode = "DISABLED"
	// ErrorCodeValidation indicates a validation error.
	ErrorCodeValidation ErrorCode = "VALIDATION"
	// ErrorCodeConfig indicates a configuration error.
	ErrorCodeConfig ErrorCode = "CONFIG"
	// ErrorCodeStartFailed indicates a server process failed to start.
	ErrorCodeStartFailed ErrorCode = "START_FAILED"
	// ErrorCodeHandshakeFailed indicates the initialize exchange failed.
	ErrorCodeHandshakeFailed ErrorCode = "HANDSHAKE_FAILED"
	// ErrorCodeTimeout indicates a timeout occurred.
	ErrorCodeTimeout ErrorCode = "TIMEOUT"
	// ErrorCodeShutdown indicates the manager has been shut down.
	ErrorCodeShutdown ErrorCode = "SHUTDOWN"
	// ErrorCodeInternalError indicates an internal error.
	ErrorCodeInternalError ErrorCode = "INTERNAL"
)

// Error is the manager's structured error with suggestions for resolution.
type Error struct {
	// Code is the error category.
	Code ErrorCode
	// Message is the primary error message.
	Message string
	// Detail provides additional context.
	Detail string
	// Suggestions are actionable steps to resolve the error.
	Suggestions []string
	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)
	if e.Detail != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Detail)
	}
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Suggestion returns the first suggestion, or "".
func (e *Error) Suggestion() string {
	if len(e.Suggestions) == 0 {
		return ""
	}
	return e.Suggestions[0]
}

// NewError creates a new Error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// WithDetail adds detail to the error.
func (e *Error) WithDetail(detail string) *Error {
	e.Detail = detail
	return e
}

// WithSuggestions adds suggestions to the error.
func (e *Error) WithSuggestions(suggestions ...string) *Error {
	e.Suggestions = suggestions
	return e
}

// WithCause adds an underlying cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// HasCode reports whether err is, or wraps, an *Error with the given code.
func HasCode(err error, code ErrorCode) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// ErrServerNotFound creates an error for when a server is not registered.
func ErrServerNotFound(id string) *Error {
	return NewError(ErrorCodeNotFound, fmt.Sprintf("tool server '%s' not found", id)).
		WithSuggestions(
			"List configured servers: toolbridge tools list",
			fmt.Sprintf("Add a '%s' entry under servers in tools.yaml", id),
		)
}

// ErrServerDisabled creates an error for a server entry marked disabled.
func ErrServerDisabled(id string) *Error {
	return NewError(ErrorCodeDisabled, fmt.Sprintf("tool server '%s' is disabled", id)).
		WithSuggestions(fmt.Sprintf("Set enabled: true for '%s' to register it", id))
}

// ErrInvalidServerID creates an error for a malformed server id.
func ErrInvalidServerID(id string) *Error {
	return NewError(ErrorCodeValidation, fmt.Sprintf("invalid tool server id '%s'", id)).
		WithDetail("ids must start with a letter or digit and contain only letters, digits, '-' and '_'")
}

// ErrEmptyCommand creates an error for a server entry without a command.
func ErrEmptyCommand(id string) *Error {
	return NewError(ErrorCodeValidation, fmt.Sprintf("tool server '%s' has no command", id)).
		WithSuggestions("Set command to an executable and its arguments, e.g. [\"docker\", \"run\", \"-i\", \"--rm\", \"mcp/time\"]")
}

// ErrConfigParse creates an error for a configuration file that cannot be decoded.
func ErrConfigParse(path string, cause error) *Error {
	return NewError(ErrorCodeConfig, fmt.Sprintf("failed to parse config file %s", path)).
		WithCause(cause).
		WithSuggestions("Check the file syntax: toolbridge config validate")
}

// ErrStartFailed creates an error for a process that could not be spawned.
func ErrStartFailed(id string, cause error) *Error {
	return NewError(ErrorCodeStartFailed, fmt.Sprintf("failed to start tool server '%s'", id)).
		WithCause(cause).
		WithSuggestions("Verify the command is installed and in your PATH")
}

// ErrHandshakeFailed creates an error for a failed initialize exchange.
func ErrHandshakeFailed(id string) *Error {
	return NewError(ErrorCodeHandshakeFailed, fmt.Sprintf("handshake with tool server '%s' failed", id))
}

// ErrManagerShutdown is returned for operations on a manager that has been shut down.
var ErrManagerShutdown = NewError(ErrorCodeShutdown, "tool manager has been shut down")

// ErrorKind classifies a failed call. Callers should branch on Code and
// Message; Kind drives metrics and logging.
type ErrorKind string

const (
	KindTimeout          ErrorKind = "timeout"
	KindServerTerminated ErrorKind = "server_terminated"
	KindEmptyResponse    ErrorKind = "empty_response"
	KindParse            ErrorKind = "parse_error"
	KindProtocol         ErrorKind = "protocol_error"
	KindConnection       ErrorKind = "connection_error"
	KindToolNotFound     ErrorKind = "tool_not_found"
	KindInvalidParams    ErrorKind = "invalid_params"
	KindApplication      ErrorKind = "application"
)

// JSON-RPC and transport error codes carried by CallError.
const (
	CodeParseError       = -32700
	CodeInvalidRequest   = -32600
	CodeMethodNotFound   = -32601
	CodeInvalidParams    = -32602
	CodeInternalError    = -32603
	CodeConnectionError  = -32000
	CodeTimeout          = -32001
	CodeServerTerminated = -32002
	CodeEmptyResponse    = -32003
	CodeProtocolError    = -32004
	CodeToolNotFound     = -32005
)

// CallError is the uniform failure shape of Call: {code, message, id}.
// ID is the JSON-RPC request id, or 0 when no request was sent.
type CallError struct {
	Code    int       `json:"code"`
	Message string    `json:"message"`
	ID      int64     `json:"id"`
	Kind    ErrorKind `json:"-"`
	Cause   error     `json:"-"`
}

// Error implements the error interface.
func (e *CallError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error.
func (e *CallError) Unwrap() error {
	return e.Cause
}

// Timeout reports whether the call failed waiting for a response.
func (e *CallError) Timeout() bool {
	return e.Kind == KindTimeout
}

// Transport reports whether the failure happened below the application layer.
func (e *CallError) Transport() bool {
	switch e.Kind {
	case KindApplication, KindInvalidParams, KindToolNotFound:
		return false
	default:
		return true
	}
}

var kindCodes = map[ErrorKind]int{
	KindTimeout:          CodeTimeout,
	KindServerTerminated: CodeServerTerminated,
	KindEmptyResponse:    CodeEmptyResponse,
	KindParse:            CodeParseError,
	KindProtocol:         CodeProtocolError,
	KindConnection:       CodeConnectionError,
	KindToolNotFound:     CodeToolNotFound,
	KindInvalidParams:    CodeInvalidParams,
}

// newCallError builds a CallError with the code that belongs to kind.
func newCallError(kind ErrorKind, id int64, format string, args ...any) *CallError {
	return &CallError{
		Code:    kindCodes[kind],
		Message: fmt.Sprintf(format, args...),
		ID:      id,
		Kind:    kind,
	}
}

// applicationError wraps the error object a server returned.
func applicationError(id int64, rpcErr *RPCError) *CallError {
	msg := rpcErr.Message
	if len(rpcErr.Data) > 0 {
		msg = fmt.Sprintf("%s: %s", msg, string(rpcErr.Data))
	}
	return &CallError{
		Code:    rpcErr.Code,
		Message: msg,
		ID:      id,
		Kind:    KindApplication,
	}
}

// AsCallError normalizes any error into a CallError. Errors that are not
// already CallErrors become connection errors.
func AsCallError(err error, id int64) *CallError {
	if err == nil {
		return nil
	}
	var ce *CallError
	if errors.As(err, &ce) {
		return ce
	}
	out := newCallError(KindConnection, id, "connection error: %v", err)
	out.Cause = err
	return out
}
