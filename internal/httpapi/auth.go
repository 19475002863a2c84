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

package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ScopeCall is required to invoke tools through the API.
const ScopeCall = "tools:call"

// AuthConfig contains bearer token authentication configuration.
type AuthConfig struct {
	// Secret is the HS256 signing key.
	Secret []byte

	// Issuer is the expected issuer claim (optional).
	Issuer string

	// Audience is the expected audience claim (optional).
	Audience string

	// ClockSkew allows for clock skew when validating exp/nbf claims.
	ClockSkew time.Duration
}

func (c AuthConfig) validate() error {
	if len(c.Secret) < 32 {
		return fmt.Errorf("secret must be at least 32 bytes")
	}
	return nil
}

// Claims represents the JWT claims.
type Claims struct {
	jwt.RegisteredClaims
	// Scopes defines what the token can access.
	Scopes []string `json:"scopes,omitempty"`
}

// HasScope reports whether the token grants scope.
func (c *Claims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

// ValidateToken validates a bearer token and returns its claims.
func ValidateToken(token string, cfg AuthConfig) (*Claims, error) {
	if token == "" {
		return nil, errors.New("token is empty")
	}

	opts := []jwt.ParserOption{
		jwt.WithLeeway(cfg.ClockSkew),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	claims := &Claims{}
	parsed, err := jwt.NewParser(opts...).ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return cfg.Secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !parsed.Valid {
		return nil, errors.New("token is invalid")
	}
	return claims, nil
}

// GenerateToken signs claims with the configured secret. Tokens without
// an expiry get one after ttl.
func GenerateToken(claims Claims, cfg AuthConfig, ttl time.Duration) (string, error) {
	if err := cfg.validate(); err != nil {
		return "", err
	}
	if claims.ExpiresAt == nil && ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(ttl))
	}
	if claims.Issuer == "" {
		claims.Issuer = cfg.Issuer
	}
	if cfg.Audience != "" && len(claims.Audience) == 0 {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// requireToken rejects requests without a valid bearer token. Calls
// additionally need the tools:call scope.
func requireToken(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="toolbridge"`)
				writeError(w, http.StatusUnauthorized, "unauthorized", "bearer token required")
				return
			}
			claims, err := ValidateToken(strings.TrimSpace(token), cfg)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
				return
			}
			if r.Method == http.MethodPost && !claims.HasScope(ScopeCall) {
				writeError(w, http.StatusForbidden, "forbidden", "token lacks scope "+ScopeCall)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
