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

package tracing

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// Exporter types.
const (
	ExporterConsole  = "console"
	ExporterOTLP     = "otlp"
	ExporterOTLPHTTP = "otlp-http"
)

// Config holds observability configuration.
type Config struct {
	// Enabled controls whether spans are recorded and exported.
	Enabled bool

	// ServiceName identifies this service in traces (default: toolbridge).
	ServiceName string

	// ServiceVersion is the application version.
	ServiceVersion string

	// Sampling configures trace sampling.
	Sampling SamplingConfig

	// Exporters configures export destinations.
	Exporters []ExporterConfig

	// BatchSize is the maximum number of spans per export batch (default: 512).
	BatchSize int

	// BatchInterval is how often to flush spans (default: 5s).
	BatchInterval time.Duration
}

// ExporterConfig defines a span export destination.
type ExporterConfig struct {
	// Type is the exporter type: "console", "otlp" or "otlp-http".
	Type string

	// Endpoint is the OTLP receiver (host:port).
	Endpoint string

	// Headers are sent with every export request.
	Headers map[string]string

	// Insecure disables TLS.
	Insecure bool

	// CACertPath is a PEM bundle used instead of the system pool.
	CACertPath string

	// Timeout is the export timeout (default: 10s).
	Timeout time.Duration

	// Writer receives console output (default: os.Stderr).
	Writer io.Writer
}

// DefaultConfig returns a disabled configuration with defaults filled in.
func DefaultConfig() Config {
	return Config{
		ServiceName:   "toolbridge",
		Sampling:      SamplingConfig{Rate: 1.0},
		BatchSize:     512,
		BatchInterval: 5 * time.Second,
	}
}

// FromEnv creates a Config from environment variables.
// Supported environment variables:
//   - TOOLBRIDGE_TRACE_EXPORTER: console, otlp, otlp-http (enables tracing)
//   - TOOLBRIDGE_TRACE_ENDPOINT: OTLP receiver host:port
//   - TOOLBRIDGE_TRACE_INSECURE: true/1 to disable TLS
//   - TOOLBRIDGE_TRACE_SAMPLE_RATE: 0.0 - 1.0 (default: 1.0)
//   - TOOLBRIDGE_TRACE_ALWAYS_SAMPLE: comma separated tool ids
func FromEnv() Config {
	cfg := DefaultConfig()

	exporter := strings.ToLower(os.Getenv("TOOLBRIDGE_TRACE_EXPORTER"))
	if exporter == "" || exporter == "none" {
		return cfg
	}

	insecure := os.Getenv("TOOLBRIDGE_TRACE_INSECURE")
	cfg.Enabled = true
	cfg.Exporters = []ExporterConfig{{
		Type:     exporter,
		Endpoint: os.Getenv("TOOLBRIDGE_TRACE_ENDPOINT"),
		Insecure: insecure == "true" || insecure == "1",
	}}

	if rate, err := strconv.ParseFloat(os.Getenv("TOOLBRIDGE_TRACE_SAMPLE_RATE"), 64); err == nil {
		cfg.Sampling.Rate = rate
	}
	if tools := os.Getenv("TOOLBRIDGE_TRACE_ALWAYS_SAMPLE"); tools != "" {
		for _, t := range strings.Split(tools, ",") {
			if t = strings.TrimSpace(t); t != "" {
				cfg.Sampling.AlwaysSampleTools = append(cfg.Sampling.AlwaysSampleTools, t)
			}
		}
	}
	return cfg
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Sampling.Rate < 0 || c.Sampling.Rate > 1 {
		return fmt.Errorf("sample rate must be between 0 and 1, got %g", c.Sampling.Rate)
	}
	for i, e := range c.Exporters {
		switch e.Type {
		case ExporterConsole:
		case ExporterOTLP, ExporterOTLPHTTP:
			if e.Endpoint == "" {
				return fmt.Errorf("exporter %d (%s): endpoint is required", i, e.Type)
			}
		default:
			return fmt.Errorf("exporter %d: unknown type %q", i, e.Type)
		}
	}
	return nil
}
