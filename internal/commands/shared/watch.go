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
	"log/slog"

	"github.com/tombee/toolbridge/internal/config"
	"github.com/tombee/toolbridge/internal/mcp"
)

// WatchConfig reloads m whenever any config layer for cfg changes,
// including files created after startup.
func WatchConfig(m *mcp.Manager, cfg *mcp.Config, logger *slog.Logger) (*mcp.Watcher, error) {
	paths := config.CandidatePaths(cfg.ProjectDir)
	if explicit := GetConfigPath(); explicit != "" {
		paths = append(paths, explicit)
	}

	return mcp.NewWatcher(mcp.WatcherConfig{
		Target: m,
		Load: func() (*mcp.Config, error) {
			next, err := mcp.LoadConfig(mcp.LoadOptions{
				ExplicitPath: GetConfigPath(),
				ProjectDir:   cfg.ProjectDir,
			})
			if err != nil {
				return nil, err
			}
			return next, next.Validate()
		},
		Paths:  paths,
		Logger: logger,
	})
}
