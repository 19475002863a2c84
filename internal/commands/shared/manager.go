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
	"context"
	"log/slog"
	"os"
	"time"

	tblog "github.com/tombee/toolbridge/internal/log"
	"github.com/tombee/toolbridge/internal/mcp"
)

// shutdownTimeout bounds manager teardown when a command finishes.
const shutdownTimeout = 10 * time.Second

// ProviderFactory opens a ToolProvider for a command. The returned close
// function releases every process the provider started.
type ProviderFactory func(ctx context.Context) (mcp.ToolProvider, func(), error)

var providerFactory ProviderFactory = openManager

// SetProviderFactoryForTest replaces the provider used by commands and
// returns a function that restores the default.
func SetProviderFactoryForTest(f ProviderFactory) func() {
	prev := providerFactory
	providerFactory = f
	return func() { providerFactory = prev }
}

// OpenProvider returns the tool provider commands talk to.
func OpenProvider(ctx context.Context) (mcp.ToolProvider, func(), error) {
	return providerFactory(ctx)
}

// LoadConfig reads the layered tool configuration, adding the --config file
// as the explicit layer.
func LoadConfig() (*mcp.Config, error) {
	cfg, err := mcp.LoadConfig(mcp.LoadOptions{ExplicitPath: GetConfigPath()})
	if err != nil {
		return nil, NewConfigError("failed to load tool configuration", err)
	}
	return cfg, nil
}

// Logger builds the logger for one-shot commands, which stay quiet below
// warnings unless asked otherwise.
func Logger() *slog.Logger {
	return newLogger("warn")
}

// ServiceLogger builds the logger for long-running commands.
func ServiceLogger() *slog.Logger {
	return newLogger("info")
}

// newLogger always writes to stderr. --verbose and --quiet override the
// environment level, which overrides fallback.
func newLogger(fallback string) *slog.Logger {
	cfg := tblog.FromEnv()
	cfg.Output = os.Stderr
	switch {
	case verboseFlag:
		cfg.Level = "debug"
	case quietFlag:
		cfg.Level = "error"
	case os.Getenv("TOOLBRIDGE_LOG_LEVEL") == "" && os.Getenv("LOG_LEVEL") == "" && os.Getenv("TOOLBRIDGE_DEBUG") == "":
		cfg.Level = fallback
	}
	return tblog.New(cfg)
}

// WireTracer returns a stderr wire tracer when --trace-wire is set.
func WireTracer() *mcp.WireTracer {
	if !traceWire {
		return nil
	}
	return mcp.NewWireTracer(mcp.WireTracerConfig{Writer: os.Stderr})
}

// ManagerConfig returns the manager configuration shared by every command.
func ManagerConfig(cfg *mcp.Config, logger *slog.Logger) mcp.ManagerConfig {
	v, _, _ := GetVersion()
	return mcp.ManagerConfig{
		Config:    cfg,
		Logger:    logger,
		Version:   v,
		WireTrace: WireTracer(),
	}
}

// ShutdownManager stops every server m started.
func ShutdownManager(m *mcp.Manager, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		logger.Warn("tool manager shutdown incomplete", tblog.Error(err))
	}
}

func openManager(_ context.Context) (mcp.ToolProvider, func(), error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger := Logger()
	m := mcp.NewManager(ManagerConfig(cfg, logger))
	return m, func() { ShutdownManager(m, logger) }, nil
}
