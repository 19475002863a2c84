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

package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != "info" {
		t.Errorf("expected default level 'info', got %q", cfg.Level)
	}

	if cfg.Format != FormatText {
		t.Errorf("expected default format 'text', got %q", cfg.Format)
	}

	if cfg.Output != os.Stderr {
		t.Errorf("expected default output to be os.Stderr")
	}

	if cfg.AddSource {
		t.Errorf("expected default AddSource to be false")
	}
}

func TestFromEnv(t *testing.T) {
	tests := []struct {
		name      string
		envVars   map[string]string
		level     string
		format    Format
		addSource bool
	}{
		{
			name:   "defaults when no env vars",
			level:  "info",
			format: FormatText,
		},
		{
			name:    "LOG_LEVEL=DEBUG (case insensitive)",
			envVars: map[string]string{"LOG_LEVEL": "DEBUG"},
			level:   "debug",
			format:  FormatText,
		},
		{
			name:    "TOOLBRIDGE_LOG_LEVEL wins over LOG_LEVEL",
			envVars: map[string]string{"LOG_LEVEL": "debug", "TOOLBRIDGE_LOG_LEVEL": "warn"},
			level:   "warn",
			format:  FormatText,
		},
		{
			name:      "TOOLBRIDGE_DEBUG wins over everything",
			envVars:   map[string]string{"TOOLBRIDGE_DEBUG": "1", "TOOLBRIDGE_LOG_LEVEL": "error"},
			level:     "debug",
			format:    FormatText,
			addSource: true,
		},
		{
			name:      "format and source",
			envVars:   map[string]string{"LOG_FORMAT": "JSON", "LOG_SOURCE": "1"},
			level:     "info",
			format:    FormatJSON,
			addSource: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"TOOLBRIDGE_DEBUG", "TOOLBRIDGE_LOG_LEVEL", "LOG_LEVEL", "LOG_FORMAT", "LOG_SOURCE"} {
				t.Setenv(k, "")
			}
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg := FromEnv()

			if cfg.Level != tt.level {
				t.Errorf("expected level %q, got %q", tt.level, cfg.Level)
			}
			if cfg.Format != tt.format {
				t.Errorf("expected format %q, got %q", tt.format, cfg.Format)
			}
			if cfg.AddSource != tt.addSource {
				t.Errorf("expected AddSource %v, got %v", tt.addSource, cfg.AddSource)
			}
		})
	}
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "debug", Format: FormatJSON, Output: &buf})

	logger.Debug("spawned", ServerKey, "git", "pid", 42)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected valid JSON output: %v", err)
	}
	if entry["msg"] != "spawned" {
		t.Errorf("expected msg 'spawned', got %v", entry["msg"])
	}
	if entry["server"] != "git" {
		t.Errorf("expected server 'git', got %v", entry["server"])
	}
	if entry["pid"] != float64(42) {
		t.Errorf("expected pid 42, got %v", entry["pid"])
	}
}

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatText, Output: &buf})

	logger.Info("ready", ServerKey, "fs")

	out := buf.String()
	if !strings.Contains(out, "msg=ready") || !strings.Contains(out, "server=fs") {
		t.Errorf("unexpected text output: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"trace":   LevelTrace,
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "warn", Output: &buf})

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info message should be filtered at warn level")
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("warn message should be logged")
	}
}

func TestContextHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Format: FormatJSON, Output: &buf})

	WithServer(WithComponent(logger, "tools"), "git").Error("call failed", Error(errors.New("boom")))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected valid JSON output: %v", err)
	}
	if entry["component"] != "tools" {
		t.Errorf("expected component 'tools', got %v", entry["component"])
	}
	if entry["server"] != "git" {
		t.Errorf("expected server 'git', got %v", entry["server"])
	}
	if entry["error"] != "boom" {
		t.Errorf("expected error 'boom', got %v", entry["error"])
	}
}

func TestTrace(t *testing.T) {
	var buf bytes.Buffer

	Trace(New(&Config{Level: "debug", Output: &buf}), "wire line")
	if buf.Len() != 0 {
		t.Errorf("trace should be filtered at debug level, got %q", buf.String())
	}

	Trace(New(&Config{Level: "trace", Output: &buf}), "wire line", slog.String(ServerKey, "git"))
	if !strings.Contains(buf.String(), "wire line") {
		t.Errorf("expected trace output, got %q", buf.String())
	}
}

func TestNilConfig(t *testing.T) {
	if New(nil) == nil {
		t.Fatal("expected logger from nil config")
	}
}
