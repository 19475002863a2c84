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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestValidateServerID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid simple", "myserver", false},
		{"valid with hyphen", "my-server", false},
		{"valid with underscore", "my_server", false},
		{"valid leading digit", "123server", false},
		{"valid mixed case", "My-Server_v2", false},
		{"empty", "", true},
		{"starts with hyphen", "-server", true},
		{"starts with underscore", "_server", true},
		{"contains space", "my server", true},
		{"contains dot", "my.server", true},
		{"too long", "a" + strings.Repeat("b", 64), true},
		{"max length", "a" + strings.Repeat("b", 63), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateServerID(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateEnvKey(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"PATH", false},
		{"_PRIVATE", false},
		{"api_key_2", false},
		{"2FA", true},
		{"MY-VAR", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			err := ValidateEnvKey(tt.input)
			assert.Equal(t, tt.wantErr, err != nil, "ValidateEnvKey(%q) = %v", tt.input, err)
		})
	}
}

func TestCommandLine_Decoding(t *testing.T) {
	t.Run("yaml string", func(t *testing.T) {
		var e ServerEntry
		require.NoError(t, yaml.Unmarshal([]byte(`command: "npx -y server-x"`), &e))
		assert.Equal(t, CommandLine{"npx", "-y", "server-x"}, e.Command)
	})

	t.Run("yaml list", func(t *testing.T) {
		var e ServerEntry
		require.NoError(t, yaml.Unmarshal([]byte("command: [python, \"-m\", srv]"), &e))
		assert.Equal(t, CommandLine{"python", "-m", "srv"}, e.Command)
	})

	t.Run("yaml mapping rejected", func(t *testing.T) {
		var e ServerEntry
		assert.Error(t, yaml.Unmarshal([]byte("command: {a: b}"), &e))
	})

	t.Run("json string", func(t *testing.T) {
		var e ServerEntry
		require.NoError(t, json.Unmarshal([]byte(`{"command":"node server.js"}`), &e))
		assert.Equal(t, CommandLine{"node", "server.js"}, e.Command)
	})

	t.Run("json number rejected", func(t *testing.T) {
		var e ServerEntry
		assert.Error(t, json.Unmarshal([]byte(`{"command":42}`), &e))
	})
}

func TestServerEntry_IsEnabled(t *testing.T) {
	yes, no := true, false

	assert.True(t, (&ServerEntry{}).IsEnabled())
	assert.True(t, (&ServerEntry{Enabled: &yes}).IsEnabled())
	assert.False(t, (&ServerEntry{Enabled: &no}).IsEnabled())
	assert.False(t, (&ServerEntry{Enabled: &yes, Disabled: true}).IsEnabled())
}

func TestServerEntry_Validate(t *testing.T) {
	tests := []struct {
		name    string
		entry   ServerEntry
		wantErr string
	}{
		{"valid", ServerEntry{Command: CommandLine{"srv"}}, ""},
		{"no command", ServerEntry{}, "command is required"},
		{"blank command", ServerEntry{Command: CommandLine{"  "}}, "command is required"},
		{"negative timeout", ServerEntry{Command: CommandLine{"srv"}, Timeout: -1}, "non-negative"},
		{"bad env key", ServerEntry{Command: CommandLine{"srv"}, Env: map[string]string{"A-B": "x"}}, "invalid environment variable key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.entry.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestServerEntry_ResolveEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TOKEN=from-file\nSHARED=file\n"), 0600))

	entry := &ServerEntry{
		EnvFile: ".env",
		Env:     map[string]string{"SHARED": "inline", "EXTRA": "1"},
		baseDir: dir,
	}
	env, err := entry.ResolveEnv()
	require.NoError(t, err)
	assert.Equal(t, []string{"EXTRA=1", "SHARED=inline", "TOKEN=from-file"}, env)

	entry.EnvFile = "missing.env"
	_, err = entry.ResolveEnv()
	assert.Error(t, err)
}

func TestSettings_Apply(t *testing.T) {
	s := DefaultSettings()
	s.Apply(nil)
	assert.Equal(t, DefaultSettings(), s)

	timeout := 12.5
	settle := 0
	persistent := false
	network := "tools-net"
	zero := 0.0
	s.Apply(&SettingsEntry{
		DefaultTimeout:        &timeout,
		SettleDelayMs:         &settle,
		PersistentConnections: &persistent,
		DockerNetwork:         &network,
		InitTimeout:           &zero,
	})

	assert.Equal(t, 12500*time.Millisecond, s.DefaultTimeout)
	assert.Zero(t, s.SettleDelay)
	assert.False(t, s.PersistentConnections)
	assert.Equal(t, "tools-net", s.DockerNetwork)
	assert.Equal(t, DefaultSettings().InitTimeout, s.InitTimeout, "non-positive timeouts are ignored")
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0700))
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

func TestLoadConfig_Layers(t *testing.T) {
	global := filepath.Join(t.TempDir(), "tools.yaml")
	writeFile(t, global, `
servers:
  shared:
    command: global-shared
  only-global:
    command: global-only
    timeout: 3
settings:
  defaultTimeout: 20
  persistentConnections: false
`)

	project := t.TempDir()
	writeFile(t, filepath.Join(project, ".toolbridge", "tools.json"), `{
  "mcpServers": {
    "shared": {"command": ["project-shared", "--flag"]}
  },
  "mcpSettings": {"defaultTimeout": 45}
}`)

	explicit := filepath.Join(t.TempDir(), "extra.toml")
	writeFile(t, explicit, `
[servers.extra]
command = "extra-server"
description = "from toml"
`)

	validate := true
	cfg, err := LoadConfig(LoadOptions{
		GlobalPath:   global,
		ProjectDir:   project,
		ExplicitPath: explicit,
		Overrides: map[string]*ServerEntry{
			"cli": {Command: CommandLine{"cli-server"}},
		},
		SettingsOverride: &SettingsEntry{ValidateArguments: &validate},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"cli", "extra", "only-global", "shared"}, cfg.EnabledIDs())
	assert.Equal(t, CommandLine{"project-shared", "--flag"}, cfg.Servers["shared"].Command)
	assert.Equal(t, "from toml", cfg.Servers["extra"].Description)

	assert.Equal(t, global, cfg.Sources["only-global"])
	assert.Equal(t, filepath.Join(project, ".toolbridge", "tools.json"), cfg.Sources["shared"])
	assert.Equal(t, explicit, cfg.Sources["extra"])
	assert.Equal(t, SourceOverride, cfg.Sources["cli"])

	assert.Equal(t, 45*time.Second, cfg.Settings.DefaultTimeout)
	assert.False(t, cfg.Settings.PersistentConnections)
	assert.True(t, cfg.Settings.ValidateArguments)
	assert.Len(t, cfg.Files, 3)
	assert.Equal(t, project, cfg.ProjectDir)
}

func TestLoadConfig_MissingOptionalLayers(t *testing.T) {
	cfg, err := LoadConfig(LoadOptions{
		GlobalPath: filepath.Join(t.TempDir(), "absent.yaml"),
		ProjectDir: t.TempDir(),
	})
	require.NoError(t, err)
	assert.Empty(t, cfg.Servers)
	assert.Empty(t, cfg.Files)
	assert.Equal(t, DefaultSettings(), cfg.Settings)
}

func TestLoadConfig_ExplicitPathMustExist(t *testing.T) {
	_, err := LoadConfig(LoadOptions{
		SkipGlobal:   true,
		ProjectDir:   t.TempDir(),
		ExplicitPath: filepath.Join(t.TempDir(), "nope.yaml"),
	})
	assert.Error(t, err)
}

func TestLoadConfig_ParseError(t *testing.T) {
	project := t.TempDir()
	writeFile(t, filepath.Join(project, "tools.yaml"), "servers: [unclosed")

	_, err := LoadConfig(LoadOptions{SkipGlobal: true, ProjectDir: project})
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrorCodeConfig))
}

func TestLoadConfig_Builtins(t *testing.T) {
	project := t.TempDir()
	writeFile(t, filepath.Join(project, "tools.yaml"), `
settings:
  builtins: true
servers:
  time:
    command: my-time-server
`)

	cfg, err := LoadConfig(LoadOptions{SkipGlobal: true, ProjectDir: project})
	require.NoError(t, err)

	assert.Equal(t, SourceBuiltin, cfg.Sources["memory"])
	assert.Equal(t, CommandLine{"my-time-server"}, cfg.Servers["time"].Command, "files override builtins")
	assert.Len(t, cfg.Servers, len(BuiltinServers()))
}

func TestLoadConfig_EnvFileRelativeToConfig(t *testing.T) {
	project := t.TempDir()
	writeFile(t, filepath.Join(project, ".toolbridge", "secrets.env"), "API_TOKEN=abc\n")
	writeFile(t, filepath.Join(project, ".toolbridge", "tools.yaml"), `
servers:
  api:
    command: api-server
    envFile: secrets.env
`)

	cfg, err := LoadConfig(LoadOptions{SkipGlobal: true, ProjectDir: project})
	require.NoError(t, err)

	env, err := cfg.Servers["api"].ResolveEnv()
	require.NoError(t, err)
	assert.Equal(t, []string{"API_TOKEN=abc"}, env)
}

func TestConfig_Validate(t *testing.T) {
	cfg := NewConfig()
	cfg.Servers["ok"] = &ServerEntry{Command: CommandLine{"srv"}}
	require.NoError(t, cfg.Validate())

	cfg.Servers["bad id"] = &ServerEntry{Command: CommandLine{"srv"}}
	cfg.Servers["empty"] = &ServerEntry{}
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrorCodeConfig))
	assert.Contains(t, err.Error(), `server "bad id"`)
	assert.Contains(t, err.Error(), `server "empty"`)
}

func TestRedactEnv(t *testing.T) {
	got := RedactEnv([]string{
		"PATH=/usr/bin",
		"GITHUB_TOKEN=ghp_123",
		"db_password=hunter2",
		"MALFORMED",
	})
	assert.Equal(t, []string{
		"PATH=/usr/bin",
		"GITHUB_TOKEN=[REDACTED]",
		"db_password=[REDACTED]",
		"MALFORMED",
	}, got)
}
