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

package shared

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tombee/toolbridge/internal/mcp"
)

// Exit codes for toolbridge commands
const (
	ExitSuccess       = 0
	ExitFailure       = 1
	ExitConfigInvalid = 2
	ExitToolError     = 3
	ExitUnavailable   = 4
)

// ExitError is an error that carries an exit code
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewConfigError creates an error for unreadable or invalid configuration
func NewConfigError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitConfigInvalid,
		Message: msg,
		Cause:   cause,
	}
}

// NewToolError creates an error for a failed tool call
func NewToolError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitToolError,
		Message: msg,
		Cause:   cause,
	}
}

// NewUnavailableError creates an error for unknown or disabled tool servers
func NewUnavailableError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitUnavailable,
		Message: msg,
		Cause:   cause,
	}
}

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	var callErr *mcp.CallError
	if errors.As(err, &callErr) {
		if callErr.Kind == mcp.KindToolNotFound {
			return ExitUnavailable
		}
		return ExitToolError
	}

	var mcpErr *mcp.Error
	if errors.As(err, &mcpErr) {
		switch mcpErr.Code {
		case mcp.ErrorCodeConfig, mcp.ErrorCodeValidation:
			return ExitConfigInvalid
		case mcp.ErrorCodeNotFound, mcp.ErrorCodeDisabled:
			return ExitUnavailable
		}
	}

	return ExitFailure
}

// HandleExitError prints err with any suggestion and exits with the matching code
func HandleExitError(err error) {
	if err == nil {
		return
	}
	WriteError(os.Stderr, err)
	os.Exit(ExitCode(err))
}

// WriteError prints "Error: ..." followed by the first suggestion found in the chain.
func WriteError(w io.Writer, err error) {
	fmt.Fprintln(w, "Error:", err.Error())
	if s := suggestion(err); s != "" {
		fmt.Fprintf(w, "\nSuggestion: %s\n", s)
	}
}

// suggestion walks the error chain for something that offers a suggestion.
func suggestion(err error) string {
	var suggester interface{ Suggestion() string }
	if errors.As(err, &suggester) {
		return suggester.Suggestion()
	}
	return ""
}
