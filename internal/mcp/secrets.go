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
	"errors"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	// KeyringService is the keychain service holding tool server secrets.
	KeyringService = "toolbridge"

	keyringPrefix = "keyring:"
)

// ErrSecretNotFound is returned when a keyring reference has no entry.
var ErrSecretNotFound = errors.New("secret not found")

// resolveSecret replaces a "keyring:NAME" reference with the stored value.
// Other values are returned unchanged.
func resolveSecret(value string) (string, error) {
	name, ok := strings.CutPrefix(value, keyringPrefix)
	if !ok {
		return value, nil
	}
	if name == "" {
		return "", fmt.Errorf("empty keyring reference")
	}

	secret, err := keyring.Get(KeyringService, name)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
		}
		return "", fmt.Errorf("keychain error: %w", err)
	}
	return secret, nil
}
