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
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// workingDirPlaceholders expand to the project directory inside arguments.
var workingDirPlaceholders = []string{
	"${workspaceFolder}",
	"${projectDir}",
	"${cwd}",
	"${PWD}",
}

// Registry turns configuration entries into server definitions. It never
// starts a process.
type Registry struct {
	// settings supply the default timeout and docker network
	settings Settings

	// projectDir replaces working-directory placeholders
	projectDir string

	now func() time.Time
}

// NewRegistry creates a registry that builds definitions against settings.
func NewRegistry(settings Settings, projectDir string) *Registry {
	return &Registry{
		settings:   settings,
		projectDir: projectDir,
		now:        time.Now,
	}
}

// Build validates an entry and produces a definition in the configured state.
// Disabled entries return an error with code DISABLED.
func (r *Registry) Build(id string, entry *ServerEntry, source string) (*ServerDefinition, error) {
	if err := ValidateServerID(id); err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, ErrEmptyCommand(id)
	}
	if !entry.IsEnabled() {
		return nil, ErrServerDisabled(id)
	}

	argv := entry.Argv()
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return nil, ErrEmptyCommand(id)
	}
	for i := range argv {
		argv[i] = r.expand(argv[i])
	}
	argv = InjectDockerNetwork(argv, r.settings.DockerNetwork)

	env, err := entry.ResolveEnv()
	if err != nil {
		return nil, NewError(ErrorCodeConfig, fmt.Sprintf("tool server '%s' environment", id)).WithCause(err)
	}
	for _, kv := range env {
		key, _, _ := strings.Cut(kv, "=")
		if err := ValidateEnvKey(key); err != nil {
			return nil, NewError(ErrorCodeValidation, fmt.Sprintf("tool server '%s' environment", id)).WithCause(err)
		}
	}

	dir := r.expand(entry.Cwd)
	if dir != "" && !filepath.IsAbs(dir) && r.projectDir != "" {
		dir = filepath.Join(r.projectDir, dir)
	}

	timeout := r.settings.DefaultTimeout
	if entry.Timeout > 0 {
		timeout = seconds(entry.Timeout)
	}

	return &ServerDefinition{
		ID:           id,
		Command:      argv,
		Description:  entry.Description,
		Timeout:      timeout,
		Dir:          dir,
		Env:          env,
		Source:       source,
		Status:       StatusConfigured,
		RegisteredAt: r.now(),
	}, nil
}

// expand replaces working-directory placeholders in s.
func (r *Registry) expand(s string) string {
	if r.projectDir == "" || !strings.Contains(s, "${") {
		return s
	}
	for _, p := range workingDirPlaceholders {
		s = strings.ReplaceAll(s, p, r.projectDir)
	}
	return s
}

// InjectDockerNetwork inserts "--network <network>" after the run
// subcommand of a docker command line. Command lines that already choose
// a network, or are not docker run invocations, are returned unchanged.
func InjectDockerNetwork(argv []string, network string) []string {
	if network == "" || len(argv) < 2 || filepath.Base(argv[0]) != "docker" {
		return argv
	}

	runAt := -1
	for i, arg := range argv[1:] {
		if arg == "--network" || arg == "--net" ||
			strings.HasPrefix(arg, "--network=") || strings.HasPrefix(arg, "--net=") {
			return argv
		}
		if runAt < 0 && arg == "run" {
			runAt = i + 1
		}
	}
	if runAt < 0 {
		return argv
	}

	out := make([]string, 0, len(argv)+2)
	out = append(out, argv[:runAt+1]...)
	out = append(out, "--network", network)
	return append(out, argv[runAt+1:]...)
}
