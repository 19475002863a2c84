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
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// CLI style colors using lipgloss
var (
	// StatusOK styles success indicators
	StatusOK = lipgloss.NewStyle().Foreground(lipgloss.Color("42")) // green

	// StatusWarn styles warning indicators
	StatusWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("214")) // orange

	// StatusError styles error indicators
	StatusError = lipgloss.NewStyle().Foreground(lipgloss.Color("196")) // red

	// StatusInfo styles informational text
	StatusInfo = lipgloss.NewStyle().Foreground(lipgloss.Color("39")) // blue

	// Muted styles secondary/less important text
	Muted = lipgloss.NewStyle().Foreground(lipgloss.Color("245")) // gray

	// Bold styles emphasized text
	Bold = lipgloss.NewStyle().Bold(true)

	// Header styles section headers
	Header = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")) // blue bold
)

// Symbols for status indicators
const (
	SymbolOK    = "✓"
	SymbolWarn  = "⚠"
	SymbolError = "✗"
	SymbolInfo  = "•"
)

// ColorEnabled reports whether styled output should be used: stdout is a
// terminal, NO_COLOR is unset and --no-color was not given.
func ColorEnabled() bool {
	if noColorFlag || os.Getenv("NO_COLOR") != "" {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// render applies style only when colour is enabled.
func render(style lipgloss.Style, text string) string {
	if !ColorEnabled() {
		return text
	}
	return style.Render(text)
}

// RenderOK renders a success message with green checkmark
func RenderOK(msg string) string {
	return render(StatusOK, SymbolOK) + " " + msg
}

// RenderWarn renders a warning message with orange symbol
func RenderWarn(msg string) string {
	return render(StatusWarn, SymbolWarn) + " " + msg
}

// RenderError renders an error message with red X
func RenderError(msg string) string {
	return render(StatusError, SymbolError) + " " + msg
}

// RenderStatus renders a status label like [OK] or [FAIL]
func RenderStatus(ok bool, label string) string {
	if ok {
		return render(StatusOK, "["+label+"]")
	}
	return render(StatusError, "["+label+"]")
}

// RenderLabel renders a dim label (for key: value pairs)
func RenderLabel(label string) string {
	return render(Muted, label)
}

// RenderHeader renders a section header
func RenderHeader(text string) string {
	return render(Header, text)
}

// RenderHealth colours a connection status by severity. status may carry
// padding, which is kept.
func RenderHealth(status string) string {
	switch strings.TrimSpace(status) {
	case "healthy":
		return render(StatusOK, status)
	case "degraded":
		return render(StatusWarn, status)
	case "unhealthy":
		return render(StatusError, status)
	default:
		return render(Muted, status)
	}
}

// RenderBold renders emphasized text
func RenderBold(text string) string {
	return render(Bold, text)
}
