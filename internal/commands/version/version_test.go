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

package version

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/tombee/toolbridge/internal/commands/shared"
)

func TestVersionCommand(t *testing.T) {
	shared.SetVersion("1.4.0", "deadbeef", "2025-11-02")
	defer shared.SetVersion("dev", "unknown", "unknown")

	var out bytes.Buffer
	cmd := NewVersionCommand()
	cmd.SetOut(&out)
	cmd.SetArgs(nil)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("version failed: %v", err)
	}

	text := out.String()
	if !strings.HasPrefix(text, "toolbridge version 1.4.0\n") {
		t.Errorf("unexpected output:\n%s", text)
	}
	if !strings.Contains(text, "deadbeef") || !strings.Contains(text, "2025-11-02") {
		t.Errorf("missing commit or build date:\n%s", text)
	}
}

func TestVersionCommand_JSON(t *testing.T) {
	shared.SetJSONForTest(true)
	defer shared.SetJSONForTest(false)

	var out bytes.Buffer
	cmd := NewVersionCommand()
	cmd.SetOut(&out)
	cmd.SetArgs(nil)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("version failed: %v", err)
	}

	var info VersionInfo
	if err := json.Unmarshal(out.Bytes(), &info); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if info.Version == "" || info.GoVersion == "" || info.Platform == "" {
		t.Errorf("incomplete info: %+v", info)
	}
}
