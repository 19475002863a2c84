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

// Package config locates toolbridge configuration on disk.
package config

import (
	"os"
	"path/filepath"
)

// AppName is the directory name used under the XDG config home and in projects.
const AppName = "toolbridge"

// ConfigBaseName is the file stem of tool configuration files.
const ConfigBaseName = "tools"

// Extensions lists the supported configuration file extensions in lookup order.
var Extensions = []string{".yaml", ".yml", ".toml", ".json"}

// ConfigDir returns the XDG config directory for toolbridge.
// On Unix and macOS: ~/.config/toolbridge
// Respects XDG_CONFIG_HOME environment variable.
// The directory is not created.
func ConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, AppName), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", AppName), nil
}

// EnsureConfigDir returns ConfigDir after creating it if needed.
func EnsureConfigDir() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	return dir, nil
}

// FindConfigFile returns the first existing tools.<ext> file in dir,
// or "" when none exists.
func FindConfigFile(dir string) string {
	for _, ext := range Extensions {
		path := filepath.Join(dir, ConfigBaseName+ext)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

// GlobalConfigPath returns the user-global tools config file, or "" when absent.
func GlobalConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return FindConfigFile(dir), nil
}

// ProjectConfigPath returns the project tools config file for projectDir.
// ./.toolbridge/tools.* is preferred over ./tools.*. Returns "" when absent.
func ProjectConfigPath(projectDir string) string {
	if path := FindConfigFile(filepath.Join(projectDir, "."+AppName)); path != "" {
		return path
	}
	return FindConfigFile(projectDir)
}

// CandidatePaths lists every file LoadConfig could read for projectDir, in
// precedence order, whether or not it exists. Used to watch for files that
// are created later.
func CandidatePaths(projectDir string) []string {
	var dirs []string
	if dir, err := ConfigDir(); err == nil {
		dirs = append(dirs, dir)
	}
	dirs = append(dirs, projectDir, filepath.Join(projectDir, "."+AppName))

	paths := make([]string, 0, len(dirs)*len(Extensions))
	for _, dir := range dirs {
		for _, ext := range Extensions {
			paths = append(paths, filepath.Join(dir, ConfigBaseName+ext))
		}
	}
	return paths
}

// HistoryDBPath returns the default call history database,
// ~/.config/toolbridge/history.db. The file is not created.
func HistoryDBPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history.db"), nil
}
