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
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tombee/toolbridge/internal/config"
)

// ServerIDRegex validates tool server ids.
var ServerIDRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,63}$`)

// Layer names recorded as ServerDefinition.Source.
const (
	SourceBuiltin  = "builtin"
	SourceOverride = "override"
)

// CommandLine is an argument vector. In config files it may be written as
// a single string, which is split on whitespace, or as a list.
type CommandLine []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (c *CommandLine) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*c = strings.Fields(node.Value)
		return nil
	case yaml.SequenceNode:
		var argv []string
		if err := node.Decode(&argv); err != nil {
			return err
		}
		*c = argv
		return nil
	default:
		return fmt.Errorf("line %d: command must be a string or a list of strings", node.Line)
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *CommandLine) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = strings.Fields(s)
		return nil
	}
	var argv []string
	if err := json.Unmarshal(data, &argv); err != nil {
		return fmt.Errorf("command must be a string or a list of strings")
	}
	*c = argv
	return nil
}

// UnmarshalTOML implements toml.Unmarshaler.
func (c *CommandLine) UnmarshalTOML(v any) error {
	switch val := v.(type) {
	case string:
		*c = strings.Fields(val)
		return nil
	case []any:
		argv := make([]string, 0, len(val))
		for i, item := range val {
			s, ok := item.(string)
			if !ok {
				return fmt.Errorf("command[%d] must be a string", i)
			}
			argv = append(argv, s)
		}
		*c = argv
		return nil
	default:
		return fmt.Errorf("command must be a string or a list of strings")
	}
}

// ServerEntry is one server definition as written in a config file.
type ServerEntry struct {
	// Command is the executable and its leading arguments.
	Command CommandLine `yaml:"command" json:"command" toml:"command"`

	// Args are appended to Command.
	Args []string `yaml:"args,omitempty" json:"args,omitempty" toml:"args,omitempty"`

	// Timeout is the per-call timeout in seconds (0 uses settings.defaultTimeout).
	Timeout float64 `yaml:"timeout,omitempty" json:"timeout,omitempty" toml:"timeout,omitempty"`

	// Description is a human-readable summary.
	Description string `yaml:"description,omitempty" json:"description,omitempty" toml:"description,omitempty"`

	// Enabled defaults to true when unset.
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty" toml:"enabled,omitempty"`

	// Disabled is accepted for compatibility; it wins over Enabled.
	Disabled bool `yaml:"disabled,omitempty" json:"disabled,omitempty" toml:"disabled,omitempty"`

	// Cwd is the working directory of the server process.
	Cwd string `yaml:"cwd,omitempty" json:"cwd,omitempty" toml:"cwd,omitempty"`

	// Env holds extra environment variables for the server process.
	// A value of the form "keyring:NAME" is read from the system keychain.
	Env map[string]string `yaml:"env,omitempty" json:"env,omitempty" toml:"env,omitempty"`

	// EnvFile is a dotenv file merged beneath Env. Relative paths resolve
	// against the directory of the config file that declared the entry.
	EnvFile string `yaml:"envFile,omitempty" json:"envFile,omitempty" toml:"envFile,omitempty"`

	// baseDir is the directory of the declaring config file.
	baseDir string
}

// IsEnabled reports whether the entry should be registered.
func (e *ServerEntry) IsEnabled() bool {
	if e.Disabled {
		return false
	}
	return e.Enabled == nil || *e.Enabled
}

// Argv returns Command followed by Args.
func (e *ServerEntry) Argv() []string {
	argv := make([]string, 0, len(e.Command)+len(e.Args))
	argv = append(argv, e.Command...)
	return append(argv, e.Args...)
}

// ResolveEnv merges EnvFile and Env into KEY=VALUE pairs, sorted by key.
func (e *ServerEntry) ResolveEnv() ([]string, error) {
	merged := make(map[string]string)
	if e.EnvFile != "" {
		path := e.EnvFile
		if !filepath.IsAbs(path) && e.baseDir != "" {
			path = filepath.Join(e.baseDir, path)
		}
		fileEnv, err := godotenv.Read(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read env file %s: %w", path, err)
		}
		for k, v := range fileEnv {
			merged[k] = v
		}
	}
	for k, v := range e.Env {
		merged[k] = v
	}
	for k, v := range merged {
		resolved, err := resolveSecret(v)
		if err != nil {
			return nil, fmt.Errorf("env %s: %w", k, err)
		}
		merged[k] = resolved
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+merged[k])
	}
	return env, nil
}

// Validate validates a single server entry.
func (e *ServerEntry) Validate() error {
	if len(e.Command) == 0 || strings.TrimSpace(e.Command[0]) == "" {
		return fmt.Errorf("command is required")
	}
	if e.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative")
	}
	for k := range e.Env {
		if err := ValidateEnvKey(k); err != nil {
			return err
		}
	}
	return nil
}

// SettingsEntry is the settings block as written in a config file. Unset
// fields leave the lower layer's value in place.
type SettingsEntry struct {
	Enabled               *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty" toml:"enabled,omitempty"`
	DefaultTimeout        *float64 `yaml:"defaultTimeout,omitempty" json:"defaultTimeout,omitempty" toml:"defaultTimeout,omitempty"`
	InitTimeout           *float64 `yaml:"initTimeout,omitempty" json:"initTimeout,omitempty" toml:"initTimeout,omitempty"`
	DiscoveryTimeout      *float64 `yaml:"discoveryTimeout,omitempty" json:"discoveryTimeout,omitempty" toml:"discoveryTimeout,omitempty"`
	SettleDelayMs         *int     `yaml:"settleDelayMs,omitempty" json:"settleDelayMs,omitempty" toml:"settleDelayMs,omitempty"`
	ShutdownGrace         *float64 `yaml:"shutdownGrace,omitempty" json:"shutdownGrace,omitempty" toml:"shutdownGrace,omitempty"`
	PersistentConnections *bool    `yaml:"persistentConnections,omitempty" json:"persistentConnections,omitempty" toml:"persistentConnections,omitempty"`
	AutoDiscovery         *bool    `yaml:"autoDiscovery,omitempty" json:"autoDiscovery,omitempty" toml:"autoDiscovery,omitempty"`
	DockerNetwork         *string  `yaml:"dockerNetwork,omitempty" json:"dockerNetwork,omitempty" toml:"dockerNetwork,omitempty"`
	ValidateArguments     *bool    `yaml:"validateArguments,omitempty" json:"validateArguments,omitempty" toml:"validateArguments,omitempty"`
	Builtins              *bool    `yaml:"builtins,omitempty" json:"builtins,omitempty" toml:"builtins,omitempty"`
}

// Settings are the resolved manager-wide settings.
type Settings struct {
	Enabled               bool          `json:"enabled"`
	DefaultTimeout        time.Duration `json:"default_timeout"`
	InitTimeout           time.Duration `json:"init_timeout"`
	DiscoveryTimeout      time.Duration `json:"discovery_timeout"`
	SettleDelay           time.Duration `json:"settle_delay"`
	ShutdownGrace         time.Duration `json:"shutdown_grace"`
	PersistentConnections bool          `json:"persistent_connections"`
	AutoDiscovery         bool          `json:"auto_discovery"`
	DockerNetwork         string        `json:"docker_network,omitempty"`
	ValidateArguments     bool          `json:"validate_arguments"`
	Builtins              bool          `json:"builtins"`
}

// DefaultSettings returns the settings used when no layer overrides them.
func DefaultSettings() Settings {
	return Settings{
		Enabled:               true,
		DefaultTimeout:        30 * time.Second,
		InitTimeout:           10 * time.Second,
		DiscoveryTimeout:      5 * time.Second,
		SettleDelay:           50 * time.Millisecond,
		ShutdownGrace:         5 * time.Second,
		PersistentConnections: true,
	}
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// Apply overlays the set fields of e onto s.
func (s *Settings) Apply(e *SettingsEntry) {
	if e == nil {
		return
	}
	if e.Enabled != nil {
		s.Enabled = *e.Enabled
	}
	if e.DefaultTimeout != nil && *e.DefaultTimeout > 0 {
		s.DefaultTimeout = seconds(*e.DefaultTimeout)
	}
	if e.InitTimeout != nil && *e.InitTimeout > 0 {
		s.InitTimeout = seconds(*e.InitTimeout)
	}
	if e.DiscoveryTimeout != nil && *e.DiscoveryTimeout > 0 {
		s.DiscoveryTimeout = seconds(*e.DiscoveryTimeout)
	}
	if e.SettleDelayMs != nil && *e.SettleDelayMs >= 0 {
		s.SettleDelay = time.Duration(*e.SettleDelayMs) * time.Millisecond
	}
	if e.ShutdownGrace != nil && *e.ShutdownGrace > 0 {
		s.ShutdownGrace = seconds(*e.ShutdownGrace)
	}
	if e.PersistentConnections != nil {
		s.PersistentConnections = *e.PersistentConnections
	}
	if e.AutoDiscovery != nil {
		s.AutoDiscovery = *e.AutoDiscovery
	}
	if e.DockerNetwork != nil {
		s.DockerNetwork = *e.DockerNetwork
	}
	if e.ValidateArguments != nil {
		s.ValidateArguments = *e.ValidateArguments
	}
	if e.Builtins != nil {
		s.Builtins = *e.Builtins
	}
}

// fileConfig is the on-disk layout of one config layer. The mcp-prefixed
// keys are accepted as aliases.
type fileConfig struct {
	Servers     map[string]*ServerEntry `yaml:"servers" json:"servers" toml:"servers"`
	MCPServers  map[string]*ServerEntry `yaml:"mcpServers" json:"mcpServers" toml:"mcpServers"`
	Settings    *SettingsEntry          `yaml:"settings" json:"settings" toml:"settings"`
	MCPSettings *SettingsEntry          `yaml:"mcpSettings" json:"mcpSettings" toml:"mcpSettings"`
}

// Config is the merged result of every configuration layer.
type Config struct {
	// Servers maps server id to its winning entry.
	Servers map[string]*ServerEntry

	// Settings are the merged settings.
	Settings Settings

	// Sources maps server id to the layer that supplied it.
	Sources map[string]string

	// Files lists the config files that were loaded, lowest precedence first.
	Files []string

	// ProjectDir is used to expand working-directory placeholders.
	ProjectDir string
}

// NewConfig returns an empty Config with default settings.
func NewConfig() *Config {
	return &Config{
		Servers:  make(map[string]*ServerEntry),
		Settings: DefaultSettings(),
		Sources:  make(map[string]string),
	}
}

// LoadOptions controls which layers LoadConfig reads.
type LoadOptions struct {
	// GlobalPath overrides the user-global config file location.
	GlobalPath string

	// SkipGlobal disables the user-global layer.
	SkipGlobal bool

	// ProjectDir is searched for ./.toolbridge/tools.* then ./tools.*
	// (defaults to the working directory).
	ProjectDir string

	// ExplicitPath is an additional file layered above the project file.
	// Unlike the other layers it must exist.
	ExplicitPath string

	// Overrides are programmatic entries with the highest precedence.
	Overrides map[string]*ServerEntry

	// SettingsOverride is applied after every file layer.
	SettingsOverride *SettingsEntry
}

// LoadConfig merges built-in defaults, the user-global file, the project file,
// an explicit file and programmatic overrides. Servers merge by id with the
// higher layer replacing the whole entry; settings merge field by field.
func LoadConfig(opts LoadOptions) (*Config, error) {
	cfg := NewConfig()

	projectDir := opts.ProjectDir
	if projectDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to determine working directory: %w", err)
		}
		projectDir = wd
	}
	cfg.ProjectDir = projectDir

	var layers []*fileConfig
	var paths []string

	addFile := func(path string, required bool) error {
		if path == "" {
			return nil
		}
		fc, err := loadFile(path)
		if err != nil {
			if !required && errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		layers = append(layers, fc)
		paths = append(paths, path)
		return nil
	}

	if !opts.SkipGlobal {
		globalPath := opts.GlobalPath
		if globalPath == "" {
			p, err := config.GlobalConfigPath()
			if err != nil {
				return nil, fmt.Errorf("failed to locate global config: %w", err)
			}
			globalPath = p
		}
		if err := addFile(globalPath, false); err != nil {
			return nil, err
		}
	}

	projectPath := config.ProjectConfigPath(projectDir)
	if opts.ExplicitPath != "" {
		if abs, err := filepath.Abs(opts.ExplicitPath); err == nil {
			if p, err := filepath.Abs(projectPath); err == nil && p == abs {
				projectPath = ""
			}
		}
	}
	if err := addFile(projectPath, false); err != nil {
		return nil, err
	}
	if err := addFile(opts.ExplicitPath, true); err != nil {
		return nil, err
	}

	// Settings first: builtins are switched on by a settings block.
	for _, fc := range layers {
		cfg.Settings.Apply(fc.MCPSettings)
		cfg.Settings.Apply(fc.Settings)
	}
	cfg.Settings.Apply(opts.SettingsOverride)

	if cfg.Settings.Builtins {
		for id, entry := range BuiltinServers() {
			cfg.Servers[id] = entry
			cfg.Sources[id] = SourceBuiltin
		}
	}

	for i, fc := range layers {
		for _, servers := range []map[string]*ServerEntry{fc.MCPServers, fc.Servers} {
			for id, entry := range servers {
				if entry == nil {
					continue
				}
				cfg.Servers[id] = entry
				cfg.Sources[id] = paths[i]
			}
		}
	}

	for id, entry := range opts.Overrides {
		if entry == nil {
			continue
		}
		cfg.Servers[id] = entry
		cfg.Sources[id] = SourceOverride
	}

	cfg.Files = paths
	return cfg, nil
}

// loadFile decodes one config file, choosing the decoder by extension.
func loadFile(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var fc fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, &fc)
	case ".json":
		err = json.Unmarshal(data, &fc)
	default:
		err = yaml.Unmarshal(data, &fc)
	}
	if err != nil {
		return nil, ErrConfigParse(path, err)
	}

	baseDir := filepath.Dir(path)
	for _, servers := range []map[string]*ServerEntry{fc.Servers, fc.MCPServers} {
		for _, entry := range servers {
			if entry != nil {
				entry.baseDir = baseDir
			}
		}
	}
	return &fc, nil
}

// Validate checks every server entry and reports all problems at once.
func (c *Config) Validate() error {
	ids := make([]string, 0, len(c.Servers))
	for id := range c.Servers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var errs []error
	for _, id := range ids {
		if err := ValidateServerID(id); err != nil {
			errs = append(errs, fmt.Errorf("server %q: %w", id, err))
			continue
		}
		if err := c.Servers[id].Validate(); err != nil {
			errs = append(errs, fmt.Errorf("server %q: %w", id, err))
		}
	}
	if len(errs) > 0 {
		return NewError(ErrorCodeConfig, "invalid tool configuration").WithCause(errors.Join(errs...))
	}
	return nil
}

// EnabledIDs returns the sorted ids of enabled entries.
func (c *Config) EnabledIDs() []string {
	ids := make([]string, 0, len(c.Servers))
	for id, entry := range c.Servers {
		if entry.IsEnabled() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// ValidateServerID validates a tool server id.
func ValidateServerID(id string) error {
	if id == "" {
		return fmt.Errorf("server id is required")
	}
	if !ServerIDRegex.MatchString(id) {
		return ErrInvalidServerID(id)
	}
	return nil
}

var envKeyRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidateEnvKey validates an environment variable name.
func ValidateEnvKey(key string) error {
	if !envKeyRegex.MatchString(key) {
		return fmt.Errorf("invalid environment variable key: %q", key)
	}
	return nil
}

// sensitiveKeyPatterns are patterns that indicate a sensitive value.
var sensitiveKeyPatterns = []string{
	"SECRET", "TOKEN", "KEY", "PASSWORD", "CREDENTIAL", "AUTH",
}

// RedactEnv masks the values of sensitive KEY=VALUE pairs.
func RedactEnv(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		key, _, found := strings.Cut(kv, "=")
		if !found {
			out = append(out, kv)
			continue
		}
		upper := strings.ToUpper(key)
		redacted := false
		for _, p := range sensitiveKeyPatterns {
			if strings.Contains(upper, p) {
				redacted = true
				break
			}
		}
		if redacted {
			out = append(out, key+"=[REDACTED]")
		} else {
			out = append(out, kv)
		}
	}
	return out
}

// BuiltinServers returns the container-packaged servers offered when
// settings.builtins is true.
func BuiltinServers() map[string]*ServerEntry {
	docker := func(image, description string, extra ...string) *ServerEntry {
		argv := []string{"docker", "run", "-i", "--rm"}
		argv = append(argv, extra...)
		argv = append(argv, image)
		return &ServerEntry{
			Command:     argv,
			Timeout:     30,
			Description: description,
		}
	}

	return map[string]*ServerEntry{
		"memory":              docker("mcp/memory", "Knowledge graph memory"),
		"sequential-thinking": docker("mcp/sequentialthinking", "Structured step-by-step reasoning"),
		"git":                 docker("mcp/git", "Git repository inspection", "-v", "${workspaceFolder}:/workspace"),
		"time":                docker("mcp/time", "Current time and timezone conversion"),
		"fetch":               docker("mcp/fetch", "Fetch URLs as markdown"),
		"filesystem":          docker("mcp/filesystem", "Workspace file access", "-v", "${workspaceFolder}:/projects"),
	}
}
