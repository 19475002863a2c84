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
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	tblog "github.com/tombee/toolbridge/internal/log"
)

// Reloader applies a freshly loaded configuration.
type Reloader interface {
	Reload(ctx context.Context, cfg *Config) error
}

// Watcher monitors configuration files and reloads the manager when they change.
type Watcher struct {
	// fsWatcher is the underlying filesystem watcher
	fsWatcher *fsnotify.Watcher

	// target receives reloaded configurations
	target Reloader

	// load re-reads the configuration layers
	load func() (*Config, error)

	// logger is used for structured logging
	logger *slog.Logger

	// debounceDelay is the delay before reloading after file changes
	debounceDelay time.Duration

	// files are the absolute config paths being watched
	files map[string]struct{}

	// pending is the debounced reload, if one is scheduled
	pending *time.Timer

	// mu protects files and pending
	mu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// WatcherConfig configures the config watcher.
type WatcherConfig struct {
	// Target receives reloaded configurations (usually the Manager)
	Target Reloader

	// Load re-reads the configuration
	Load func() (*Config, error)

	// Paths are the config files to watch; missing files are watched
	// through their directory so they can be created later
	Paths []string

	// Logger is used for structured logging (optional)
	Logger *slog.Logger

	// DebounceDelay is the delay before reloading (defaults to 200ms)
	DebounceDelay time.Duration
}

// NewWatcher starts watching cfg.Paths.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Target == nil {
		return nil, fmt.Errorf("reload target is required")
	}
	if cfg.Load == nil {
		return nil, fmt.Errorf("config loader is required")
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	debounceDelay := cfg.DebounceDelay
	if debounceDelay == 0 {
		debounceDelay = 200 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := &Watcher{
		fsWatcher:     fsWatcher,
		target:        cfg.Target,
		load:          cfg.Load,
		logger:        logger,
		debounceDelay: debounceDelay,
		files:         make(map[string]struct{}),
		ctx:           ctx,
		cancel:        cancel,
	}

	dirs := make(map[string]struct{})
	for _, path := range cfg.Paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("failed to resolve path %s: %w", path, err)
		}
		w.files[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	// Editors replace files by rename, so the directories are watched.
	for dir := range dirs {
		if err := fsWatcher.Add(dir); err != nil {
			logger.Debug("not watching config directory", "dir", dir, tblog.Error(err))
			continue
		}
		logger.Debug("watching config directory", "dir", dir)
	}

	w.wg.Add(1)
	go w.processEvents()

	return w, nil
}

// processEvents filters directory events down to the watched files.
func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if w.isWatched(event.Name) {
				w.logger.Info("config file changed", "file", event.Name, "op", event.Op.String())
				w.scheduleReload()
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("file watcher error", tblog.Error(err))

		case <-w.ctx.Done():
			return
		}
	}
}

func (w *Watcher) isWatched(name string) bool {
	abs, err := filepath.Abs(name)
	if err != nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.files[abs]
	return ok
}

// scheduleReload restarts the debounce timer.
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(w.debounceDelay, w.reload)
}

// reload loads the configuration and hands it to the target. A config
// that fails to load leaves the running configuration in place.
func (w *Watcher) reload() {
	w.mu.Lock()
	w.pending = nil
	w.mu.Unlock()

	if w.ctx.Err() != nil {
		return
	}

	cfg, err := w.load()
	if err != nil {
		w.logger.Error("config reload failed, keeping current configuration", tblog.Error(err))
		return
	}
	if err := w.target.Reload(w.ctx, cfg); err != nil {
		w.logger.Error("failed to apply reloaded configuration", tblog.Error(err))
		return
	}
	w.logger.Info("configuration reloaded", "servers", len(cfg.Servers))
}

// Close stops watching and cancels any pending reload.
func (w *Watcher) Close() error {
	w.cancel()

	w.mu.Lock()
	if w.pending != nil {
		w.pending.Stop()
		w.pending = nil
	}
	w.mu.Unlock()

	err := w.fsWatcher.Close()
	w.wg.Wait()
	return err
}
