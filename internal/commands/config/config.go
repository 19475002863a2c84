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

// Package config implements the 'toolbridge config' command group.
package config

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tombee/toolbridge/internal/commands/shared"
	"github.com/tombee/toolbridge/internal/config"
	"github.com/tombee/toolbridge/internal/mcp"
	"gopkg.in/yaml.v3"
)

// NewConfigCommand creates the config command with subcommands
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show and validate tool configuration",
		Long: `Show and validate the merged tool server configuration.

Layers, lowest precedence first: built-in servers (when settings.builtins is
on), ~/.config/toolbridge/tools.*, ./.toolbridge/tools.* or ./tools.*, and
the file given with --config.

Subcommands:
  show     - Display the merged configuration
  path     - List the files that are read
  validate - Check every server entry`,
	}

	cmd.AddCommand(newConfigShowCommand())
	cmd.AddCommand(newConfigPathCommand())
	cmd.AddCommand(NewValidateCommand())

	// If no subcommand provided, default to 'show'
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runConfigShow(cmd, args)
	}

	return cmd
}

// newConfigShowCommand creates the 'config show' subcommand
func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the merged configuration",
		Long: `Display the effective configuration after every layer is merged.

Environment values whose names look sensitive (TOKEN, SECRET, KEY, ...) are
redacted. Use --json for machine-readable output.`,
		Args: cobra.NoArgs,
		RunE: runConfigShow,
	}
}

// newConfigPathCommand creates the 'config path' subcommand
func newConfigPathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "List the config files that are read",
		Long:  `List every config file location in precedence order and whether it exists.`,
		Args:  cobra.NoArgs,
		RunE:  runConfigPath,
	}
}

// serverView is the displayed form of one merged server entry.
type serverView struct {
	Command     []string          `yaml:"command" json:"command"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Timeout     float64           `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Enabled     bool              `yaml:"enabled" json:"enabled"`
	Cwd         string            `yaml:"cwd,omitempty" json:"cwd,omitempty"`
	Env         map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	EnvFile     string            `yaml:"envFile,omitempty" json:"envFile,omitempty"`
	Source      string            `yaml:"source,omitempty" json:"source,omitempty"`
}

// configView is the displayed form of a merged configuration.
type configView struct {
	Files    []string              `yaml:"files" json:"files"`
	Settings settingsView          `yaml:"settings" json:"settings"`
	Servers  map[string]serverView `yaml:"servers" json:"servers"`
}

// settingsView renders durations as strings.
type settingsView struct {
	Enabled               bool   `yaml:"enabled" json:"enabled"`
	DefaultTimeout        string `yaml:"defaultTimeout" json:"default_timeout"`
	InitTimeout           string `yaml:"initTimeout" json:"init_timeout"`
	DiscoveryTimeout      string `yaml:"discoveryTimeout" json:"discovery_timeout"`
	SettleDelay           string `yaml:"settleDelay" json:"settle_delay"`
	ShutdownGrace         string `yaml:"shutdownGrace" json:"shutdown_grace"`
	PersistentConnections bool   `yaml:"persistentConnections" json:"persistent_connections"`
	AutoDiscovery         bool   `yaml:"autoDiscovery" json:"auto_discovery"`
	ValidateArguments     bool   `yaml:"validateArguments" json:"validate_arguments"`
	DockerNetwork         string `yaml:"dockerNetwork,omitempty" json:"docker_network,omitempty"`
	Builtins              bool   `yaml:"builtins" json:"builtins"`
}

// newConfigView builds the redacted view of cfg.
func newConfigView(cfg *mcp.Config) configView {
	s := cfg.Settings
	view := configView{
		Files: append([]string{}, cfg.Files...),
		Settings: settingsView{
			Enabled:               s.Enabled,
			DefaultTimeout:        s.DefaultTimeout.String(),
			InitTimeout:           s.InitTimeout.String(),
			DiscoveryTimeout:      s.DiscoveryTimeout.String(),
			SettleDelay:           s.SettleDelay.String(),
			ShutdownGrace:         s.ShutdownGrace.String(),
			PersistentConnections: s.PersistentConnections,
			AutoDiscovery:         s.AutoDiscovery,
			ValidateArguments:     s.ValidateArguments,
			DockerNetwork:         s.DockerNetwork,
			Builtins:              s.Builtins,
		},
		Servers: make(map[string]serverView, len(cfg.Servers)),
	}

	for id, entry := range cfg.Servers {
		view.Servers[id] = serverView{
			Command:     entry.Argv(),
			Description: entry.Description,
			Timeout:     entry.Timeout,
			Enabled:     entry.IsEnabled(),
			Cwd:         entry.Cwd,
			Env:         redactEnvMap(entry.Env),
			EnvFile:     entry.EnvFile,
			Source:      cfg.Sources[id],
		}
	}
	return view
}

// redactEnvMap applies mcp.RedactEnv to a map. Keychain references are
// not secrets themselves and are kept.
func redactEnvMap(env map[string]string) map[string]string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(env))
	for _, k := range keys {
		pairs = append(pairs, k+"="+env[k])
	}

	out := make(map[string]string, len(env))
	for i, kv := range mcp.RedactEnv(pairs) {
		k, v, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(env[keys[i]], "keyring:") {
			v = env[keys[i]]
		}
		out[k] = v
	}
	return out
}

// runConfigShow displays the merged configuration
func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := shared.LoadConfig()
	if err != nil {
		return err
	}
	view := newConfigView(cfg)

	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		return shared.EmitJSON(out, struct {
			shared.JSONResponse
			Config configView `json:"config"`
		}{shared.NewResponse("config show"), view})
	}
	return outputConfigYAML(out, view)
}

// outputConfigYAML outputs the view in YAML format
func outputConfigYAML(w io.Writer, view configView) error {
	if len(view.Files) == 0 {
		fmt.Fprintln(w, "Configuration: (no files found, defaults only)")
	} else {
		fmt.Fprintf(w, "Configuration: %s\n", strings.Join(view.Files, ", "))
	}
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintln(w)

	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)

	if err := encoder.Encode(view); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return encoder.Close()
}

// pathEntry is one candidate config location.
type pathEntry struct {
	Path   string `json:"path"`
	Exists bool   `json:"exists"`
	Layer  string `json:"layer"`
}

// candidatePaths lists every location read for projectDir, plus --config.
func candidatePaths(projectDir string) []pathEntry {
	globalDir, _ := config.ConfigDir()

	var entries []pathEntry
	for _, p := range config.CandidatePaths(projectDir) {
		layer := "project"
		if globalDir != "" && strings.HasPrefix(p, globalDir+string(os.PathSeparator)) {
			layer = "global"
		}
		_, err := os.Stat(p)
		entries = append(entries, pathEntry{Path: p, Exists: err == nil, Layer: layer})
	}
	if explicit := shared.GetConfigPath(); explicit != "" {
		_, err := os.Stat(explicit)
		entries = append(entries, pathEntry{Path: explicit, Exists: err == nil, Layer: "explicit"})
	}
	return entries
}

// runConfigPath lists the config file locations
func runConfigPath(cmd *cobra.Command, args []string) error {
	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to determine working directory: %w", err)
	}
	entries := candidatePaths(wd)

	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		return shared.EmitJSON(out, struct {
			shared.JSONResponse
			Paths []pathEntry `json:"paths"`
		}{shared.NewResponse("config path"), entries})
	}

	for _, e := range entries {
		mark := "  "
		if e.Exists {
			mark = shared.RenderOK("")
		}
		fmt.Fprintf(out, "%s%-9s %s\n", mark, e.Layer, e.Path)
	}
	return nil
}
