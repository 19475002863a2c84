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

package serve

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	tblog "github.com/tombee/toolbridge/internal/log"
)

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// parseSchedule accepts five-field cron expressions and descriptors such
// as "@hourly" or "@every 15m".
func parseSchedule(expr string) (cron.Schedule, error) {
	schedule, err := scheduleParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return schedule, nil
}

// cronLogger routes cron's own logging through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append([]any{tblog.Error(err)}, keysAndValues...)...)
}

// job is a named unit of periodic work.
type job struct {
	name     string
	schedule cron.Schedule
	run      func(ctx context.Context) error
}

// scheduler runs jobs until its context is cancelled. Overlapping runs of
// the same job are skipped.
type scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

func newScheduler(logger *slog.Logger) *scheduler {
	cl := cronLogger{logger: logger}
	return &scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
	}
}

func (s *scheduler) add(ctx context.Context, j job) {
	s.cron.Schedule(j.schedule, cron.FuncJob(func() {
		start := time.Now()
		if err := j.run(ctx); err != nil {
			s.logger.Warn("scheduled job failed", "job", j.name, tblog.Error(err))
			return
		}
		s.logger.Debug("scheduled job finished", "job", j.name, "duration", time.Since(start))
	}))
	s.logger.Info("scheduled job registered", "job", j.name, "next", j.schedule.Next(time.Now()))
}

func (s *scheduler) start() {
	s.cron.Start()
}

// stop waits for running jobs to finish.
func (s *scheduler) stop() {
	<-s.cron.Stop().Done()
}
