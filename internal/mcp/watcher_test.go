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
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReloader struct {
	mu      sync.Mutex
	configs []*Config
}

func (f *fakeReloader) Reload(_ context.Context, cfg *Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configs = append(f.configs, cfg)
	return nil
}

func (f *fakeReloader) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.configs)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewWatcher_RequiresTargetAndLoader(t *testing.T) {
	_, err := NewWatcher(WatcherConfig{Load: func() (*Config, error) { return NewConfig(), nil }})
	assert.Error(t, err)

	_, err = NewWatcher(WatcherConfig{Target: &fakeReloader{}})
	assert.Error(t, err)
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tools.yaml")
	require.NoError(t, os.WriteFile(path, []byte("servers: {}\n"), 0600))

	target := &fakeReloader{}
	w, err := NewWatcher(WatcherConfig{
		Target:        target,
		Load:          func() (*Config, error) { return NewConfig(), nil },
		Paths:         []string{path},
		Logger:        quietLogger(),
		DebounceDelay: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	defer w.Close()

	// Several writes in quick succession collapse into one reload.
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(path, []byte("servers: {}\n# edit\n"), 0600))
	}

	require.Eventually(t, func() bool { return target.count() == 1 }, 2*time.Second, 20*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, target.count())
}

func TestWatcher_DetectsCreatedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tools.yaml")

	target := &fakeReloader{}
	w, err := NewWatcher(WatcherConfig{
		Target:        target,
		Load:          func() (*Config, error) { return NewConfig(), nil },
		Paths:         []string{path},
		Logger:        quietLogger(),
		DebounceDelay: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("servers: {}\n"), 0600))
	require.Eventually(t, func() bool { return target.count() >= 1 }, 2*time.Second, 20*time.Millisecond)
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tools.yaml")
	require.NoError(t, os.WriteFile(path, []byte("servers: {}\n"), 0600))

	target := &fakeReloader{}
	w, err := NewWatcher(WatcherConfig{
		Target:        target,
		Load:          func() (*Config, error) { return NewConfig(), nil },
		Paths:         []string{path},
		Logger:        quietLogger(),
		DebounceDelay: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0600))
	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, target.count())
}

func TestWatcher_LoadErrorKeepsConfiguration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tools.yaml")
	require.NoError(t, os.WriteFile(path, []byte("servers: {}\n"), 0600))

	var loads sync.WaitGroup
	loads.Add(1)
	var once sync.Once
	target := &fakeReloader{}
	w, err := NewWatcher(WatcherConfig{
		Target: target,
		Load: func() (*Config, error) {
			once.Do(loads.Done)
			return nil, errors.New("broken yaml")
		},
		Paths:         []string{path},
		Logger:        quietLogger(),
		DebounceDelay: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("servers: [\n"), 0600))
	loads.Wait()
	assert.Zero(t, target.count())
}

func TestWatcher_ReloadsManager(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tools.yaml")
	require.NoError(t, os.WriteFile(path, []byte("servers: {}\n"), 0600))

	m := newTestManager(t, nil)
	w, err := NewWatcher(WatcherConfig{
		Target: m,
		Load: func() (*Config, error) {
			return LoadConfig(LoadOptions{SkipGlobal: true, ProjectDir: dir})
		},
		Paths:         []string{path},
		Logger:        quietLogger(),
		DebounceDelay: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("servers:\n  fresh:\n    command: fresh-server\n"), 0600))
	require.Eventually(t, func() bool {
		_, ok := m.GetToolInfo("fresh")
		return ok
	}, 2*time.Second, 20*time.Millisecond)
}

func TestWatcher_CloseCancelsPendingReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tools.yaml")
	require.NoError(t, os.WriteFile(path, []byte("servers: {}\n"), 0600))

	target := &fakeReloader{}
	w, err := NewWatcher(WatcherConfig{
		Target:        target,
		Load:          func() (*Config, error) { return NewConfig(), nil },
		Paths:         []string{path},
		Logger:        quietLogger(),
		DebounceDelay: time.Hour,
	})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("servers: {}\n# edit\n"), 0600))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, w.Close())
	assert.Zero(t, target.count())
}
