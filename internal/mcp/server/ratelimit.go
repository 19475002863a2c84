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

package server

import (
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter limits bridged tool calls with a token bucket.
type RateLimiter struct {
	calls *rate.Limiter
	now   func() time.Time
}

// NewRateLimiter creates a rate limiter allowing callsPerMinute calls,
// with bursts up to the same number.
func NewRateLimiter(callsPerMinute int) *RateLimiter {
	return &RateLimiter{
		calls: rate.NewLimiter(rate.Limit(float64(callsPerMinute)/60.0), callsPerMinute),
		now:   time.Now,
	}
}

// AllowCall checks if a tool call is allowed
func (rl *RateLimiter) AllowCall() bool {
	return rl.calls.AllowN(rl.now(), 1)
}
