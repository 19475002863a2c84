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

package config

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sort"

	"github.com/spf13/cobra"
	"github.com/tombee/toolbridge/internal/commands/shared"
	"github.com/tombee/toolbridge/internal/mcp"
)

// ValidationResult represents the result of config validation.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Servers  int      `json:"servers"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// lookPath resolves executables; replaced in tests.
var lookPath = exec.LookPath

// NewValidateCommand creates the 'config validate' subcommand.
func NewValidateCommand() *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the tool configuration",
		Long: `Load every configuration layer and check each server entry.

Checks performed:
  - Files parse (YAML, TOML or JSON by extension)
  - Server ids are 1-64 letters, digits, '-' or '_'
  - Every enabled server has a command
  - Env keys are valid and envFile / keyring references resolve
  - Commands can be found on PATH (warning)
  - Disabled servers and an empty configuration (warning)

With --strict, warnings are treated as errors.`,
		Example: `  # Validate configuration
  toolbridge config validate

  # Validate with warnings as errors
  toolbridge config validate --strict

  # Validate an extra file on top of the defaults
  toolbridge --config ./ci-tools.yaml config validate --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.OutOrStdout(), strict)
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "Treat warnings as errors")

	return cmd
}

// runValidate performs configuration validation.
func runValidate(w io.Writer, strict bool) error {
	cfg, err := shared.LoadConfig()
	if err != nil {
		var exitErr *shared.ExitError
		msg := err.Error()
		if errors.As(err, &exitErr) && exitErr.Cause != nil {
			msg = exitErr.Cause.Error()
		}
		return outputValidationResult(w, ValidationResult{Errors: []string{msg}}, strict)
	}
	return outputValidationResult(w, validateConfig(cfg), strict)
}

// validateConfig checks every server entry of cfg.
func validateConfig(cfg *mcp.Config) ValidationResult {
	var errs, warnings []string

	ids := make([]string, 0, len(cfg.Servers))
	for id := range cfg.Servers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	registry := mcp.NewRegistry(cfg.Settings, cfg.ProjectDir)
	enabled := 0
	for _, id := range ids {
		entry := cfg.Servers[id]
		if entry == nil {
			continue
		}
		if !entry.IsEnabled() {
			warnings = append(warnings, fmt.Sprintf("Server %q is disabled", id))
			continue
		}

		def, err := registry.Build(id, entry, cfg.Sources[id])
		if err != nil {
			errs = append(errs, fmt.Sprintf("Server %q: %v", id, err))
			continue
		}
		enabled++

		if _, err := lookPath(def.Command[0]); err != nil {
			warnings = append(warnings, fmt.Sprintf("Server %q: command %q not found on PATH", id, def.Command[0]))
		}
	}

	if len(ids) == 0 {
		warnings = append(warnings, "No tool servers configured. Add a 'servers' block to tools.yaml.")
	}
	if !cfg.Settings.Enabled {
		warnings = append(warnings, "Tool invocation is disabled (settings.enabled: false)")
	}

	return ValidationResult{
		Valid:    len(errs) == 0,
		Servers:  enabled,
		Errors:   errs,
		Warnings: warnings,
	}
}

// outputValidationResult outputs the validation result and returns appropriate exit code.
func outputValidationResult(w io.Writer, result ValidationResult, strict bool) error {
	if strict && len(result.Warnings) > 0 {
		result.Valid = false
	}
	if len(result.Errors) > 0 {
		result.Valid = false
	}

	if shared.GetJSON() {
		if err := shared.EmitJSON(w, result); err != nil {
			return fmt.Errorf("failed to encode JSON: %w", err)
		}
	} else {
		if result.Valid {
			fmt.Fprintln(w, shared.RenderOK(fmt.Sprintf("Configuration is valid (%d server(s) enabled)", result.Servers)))
		} else {
			fmt.Fprintln(w, shared.RenderError("Configuration validation failed"))
		}

		if len(result.Errors) > 0 {
			fmt.Fprintln(w)
			fmt.Fprintln(w, shared.RenderHeader("Errors:"))
			for _, e := range result.Errors {
				fmt.Fprintf(w, "  %s\n", shared.RenderError(e))
			}
		}

		if len(result.Warnings) > 0 {
			fmt.Fprintln(w)
			fmt.Fprintln(w, shared.RenderHeader("Warnings:"))
			for _, warn := range result.Warnings {
				fmt.Fprintf(w, "  %s\n", shared.RenderWarn(warn))
			}
		}
	}

	if !result.Valid {
		return &shared.ExitError{Code: shared.ExitConfigInvalid, Message: "configuration is invalid"}
	}
	return nil
}
