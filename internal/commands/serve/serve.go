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

// Package serve implements the long-running HTTP status daemon.
package serve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/tombee/toolbridge/internal/commands/shared"
	"github.com/tombee/toolbridge/internal/config"
	"github.com/tombee/toolbridge/internal/httpapi"
	"github.com/tombee/toolbridge/internal/lifecycle"
	tblog "github.com/tombee/toolbridge/internal/log"
	"github.com/tombee/toolbridge/internal/mcp"
	"github.com/tombee/toolbridge/internal/toolmetrics"
	"github.com/tombee/toolbridge/internal/tracing"
)

const (
	defaultAddr         = "127.0.0.1:8750"
	pruneSchedule       = "@hourly"
	minAuthSecretLength = 32
)

type options struct {
	addr             string
	historyDB        string
	noHistory        bool
	historyRetention time.Duration
	reportSchedule   string
	watch            bool
	discover         bool
	pidFile          string
	authSecretEnv    string
	authIssuer       string
	authAudience     string
	corsOrigins      []string
}

// NewCommand creates the serve command.
func NewCommand() *cobra.Command {
	opts := options{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP status and call API",
		Long: `Run toolbridge as a long-lived service.

The service exposes tool listings, capability catalogs, health reports and
tool calls over HTTP, plus Prometheus metrics at /metrics. Calls are recorded
to a local SQLite history unless --no-history is given.

Authentication is optional. When --auth-secret-env names a variable, every
/v1 request must carry an HS256 bearer token signed with its value.

Tracing is configured with TOOLBRIDGE_TRACE_* environment variables.`,
		Example: `  # Serve on the default address
  toolbridge serve

  # Reload on config edits and log a health report every 15 minutes
  toolbridge serve --watch --report-schedule "@every 15m"

  # Require bearer tokens
  TOOLBRIDGE_API_SECRET=... toolbridge serve --auth-secret-env TOOLBRIDGE_API_SECRET`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", defaultAddr, "Listen address")
	cmd.Flags().StringVar(&opts.historyDB, "history-db", "", "Call history database (default: ~/.config/toolbridge/history.db)")
	cmd.Flags().BoolVar(&opts.noHistory, "no-history", false, "Do not persist call history")
	cmd.Flags().DurationVar(&opts.historyRetention, "history-retention", 7*24*time.Hour, "Prune history older than this (0 keeps everything)")
	cmd.Flags().StringVar(&opts.reportSchedule, "report-schedule", "", "Cron schedule for logging the health report")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "Reload when a config file changes")
	cmd.Flags().BoolVar(&opts.discover, "discover", false, "Discover capabilities of every server at startup")
	cmd.Flags().StringVar(&opts.pidFile, "pid-file", "", "Write the process id to this file")
	cmd.Flags().StringVar(&opts.authSecretEnv, "auth-secret-env", "", "Environment variable holding the bearer token secret")
	cmd.Flags().StringVar(&opts.authIssuer, "auth-issuer", "", "Required token issuer")
	cmd.Flags().StringVar(&opts.authAudience, "auth-audience", "", "Required token audience")
	cmd.Flags().StringSliceVar(&opts.corsOrigins, "cors-origin", nil, "Allowed CORS origin (repeatable)")

	return cmd
}

// authConfig resolves the bearer token settings. A nil result disables
// authentication.
func authConfig(opts options) (*httpapi.AuthConfig, error) {
	if opts.authSecretEnv == "" {
		if opts.authIssuer != "" || opts.authAudience != "" {
			return nil, shared.NewConfigError("--auth-issuer and --auth-audience require --auth-secret-env", nil)
		}
		return nil, nil
	}
	secret := os.Getenv(opts.authSecretEnv)
	if secret == "" {
		return nil, shared.NewConfigError(fmt.Sprintf("environment variable %s is not set", opts.authSecretEnv), nil)
	}
	if len(secret) < minAuthSecretLength {
		return nil, shared.NewConfigError(fmt.Sprintf("%s must hold at least %d bytes", opts.authSecretEnv, minAuthSecretLength), nil)
	}
	return &httpapi.AuthConfig{
		Secret:    []byte(secret),
		Issuer:    opts.authIssuer,
		Audience:  opts.authAudience,
		ClockSkew: time.Minute,
	}, nil
}

// validate checks everything that can fail before any resource is opened.
func (o options) validate() error {
	if o.reportSchedule != "" {
		if _, err := parseSchedule(o.reportSchedule); err != nil {
			return shared.NewConfigError("invalid --report-schedule", err)
		}
	}
	if o.historyRetention < 0 {
		return shared.NewConfigError("--history-retention must not be negative", nil)
	}
	_, err := authConfig(o)
	return err
}

func runServe(cmd *cobra.Command, opts options) error {
	if err := opts.validate(); err != nil {
		return err
	}
	auth, _ := authConfig(opts)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := shared.ServiceLogger()

	cfg, err := shared.LoadConfig()
	if err != nil {
		return err
	}

	if opts.pidFile != "" {
		pf := lifecycle.NewPIDFile(opts.pidFile)
		if err := pf.Acquire(os.Getpid()); err != nil {
			return shared.NewUnavailableError("another instance is running", err)
		}
		defer func() {
			if err := pf.Release(); err != nil {
				logger.Warn("failed to remove pid file", tblog.Error(err))
			}
		}()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	tcfg := tracing.FromEnv()
	tcfg.ServiceVersion, _, _ = shared.GetVersion()
	telemetry, err := tracing.Setup(ctx, tcfg, reg)
	if err != nil {
		return shared.NewConfigError("invalid tracing configuration", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown incomplete", tblog.Error(err))
		}
	}()

	collector := toolmetrics.NewCollector(toolmetrics.Config{Logger: logger})
	collector.AddObserver(toolmetrics.NewPromExporter(reg))

	var store *toolmetrics.SQLiteStore
	if !opts.noHistory {
		if opts.historyDB == "" {
			if _, err := config.EnsureConfigDir(); err != nil {
				return fmt.Errorf("failed to create config directory: %w", err)
			}
			if opts.historyDB, err = config.HistoryDBPath(); err != nil {
				return fmt.Errorf("failed to locate history database: %w", err)
			}
		}
		store, err = toolmetrics.NewSQLiteStore(toolmetrics.StoreConfig{Path: opts.historyDB, Logger: logger})
		if err != nil {
			return fmt.Errorf("failed to open call history: %w", err)
		}
		defer store.Close()
		writer := toolmetrics.NewAsyncObserver(store, toolmetrics.AsyncConfig{Logger: logger})
		defer writer.Close()
		collector.AddObserver(writer)
	}

	mcfg := shared.ManagerConfig(cfg, logger)
	mcfg.Metrics = collector
	mcfg.TracerProvider = telemetry.TracerProvider()
	mcfg.MeterProvider = telemetry.MeterProvider()
	m := mcp.NewManager(mcfg)
	defer shared.ShutdownManager(m, logger)

	if opts.watch {
		w, err := shared.WatchConfig(m, cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to watch config: %w", err)
		}
		defer w.Close()
	}

	if opts.discover {
		go discover(ctx, m, logger)
	}

	sched := newScheduler(logger)
	if jobs := scheduledJobs(opts, m, store, logger); len(jobs) > 0 {
		for _, j := range jobs {
			sched.add(ctx, j)
		}
		sched.start()
		defer sched.stop()
	}

	apiCfg := httpapi.Config{
		Addr:        opts.addr,
		Provider:    m,
		Gatherer:    reg,
		Auth:        auth,
		CORSOrigins: opts.corsOrigins,
		Logger:      logger,
	}
	if store != nil {
		apiCfg.History = store
	}
	api, err := httpapi.New(apiCfg)
	if err != nil {
		return shared.NewConfigError("invalid API configuration", err)
	}

	logger.Info("toolbridge service starting",
		"addr", opts.addr,
		"servers", len(m.ListServers()),
		"auth", auth != nil,
		"history", store != nil)

	if err := api.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("toolbridge service stopped")
	return nil
}

func discover(ctx context.Context, m *mcp.Manager, logger *slog.Logger) {
	catalogs := m.DiscoverAll(ctx)
	failed := 0
	for id, cat := range catalogs {
		if cat.DiscoveryFailed {
			failed++
			logger.Warn("capability discovery failed", "server", id, "error", cat.Error)
		}
	}
	logger.Info("capability discovery finished", "servers", len(catalogs), "failed", failed)
}

// scheduledJobs lists the periodic work the flags ask for. Schedules have
// already been validated.
func scheduledJobs(opts options, provider mcp.ToolProvider, store *toolmetrics.SQLiteStore, logger *slog.Logger) []job {
	var jobs []job

	if opts.reportSchedule != "" {
		schedule, _ := parseSchedule(opts.reportSchedule)
		jobs = append(jobs, job{
			name:     "health-report",
			schedule: schedule,
			run: func(context.Context) error {
				logReport(provider, logger)
				return nil
			},
		})
	}

	if store != nil && opts.historyRetention > 0 {
		schedule, _ := parseSchedule(pruneSchedule)
		retention := opts.historyRetention
		jobs = append(jobs, job{
			name:     "history-prune",
			schedule: schedule,
			run: func(ctx context.Context) error {
				_, err := store.Prune(ctx, time.Now().Add(-retention))
				return err
			},
		})
	}

	return jobs
}

func logReport(provider mcp.ToolProvider, logger *slog.Logger) {
	report := provider.HealthReport()
	logger.Info("tool health report",
		"calls", report.System.TotalCalls,
		"failed", report.System.FailedCalls,
		"timeouts", report.System.Timeouts,
		"healthy", report.System.HealthyTools,
		"degraded", report.System.DegradedTools,
		"unhealthy", report.System.UnhealthyTools,
		"trend", report.Recent.Trend)
	logger.Debug("tool health detail", "report", provider.Report())
}
