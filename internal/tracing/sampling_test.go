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

package tracing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func sample(s sdktrace.Sampler, attrs ...attribute.KeyValue) sdktrace.SamplingDecision {
	return s.ShouldSample(sdktrace.SamplingParameters{
		TraceID:    trace.TraceID{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		Name:       "toolbridge.call",
		Attributes: attrs,
	}).Decision
}

func TestNewSampler(t *testing.T) {
	assert.Equal(t, sdktrace.RecordAndSample, sample(NewSampler(SamplingConfig{Rate: 1})))
	assert.Equal(t, sdktrace.Drop, sample(NewSampler(SamplingConfig{Rate: 0})))

	s := NewSampler(SamplingConfig{Rate: 0, AlwaysSampleTools: []string{"git"}})
	assert.Equal(t, sdktrace.RecordAndSample, sample(s, attribute.String(ToolAttributeKey, "git")))
	assert.Equal(t, sdktrace.Drop, sample(s, attribute.String(ToolAttributeKey, "fs")))
	assert.Equal(t, sdktrace.Drop, sample(s))
	assert.Contains(t, s.Description(), "ToolAwareSampler")
}
