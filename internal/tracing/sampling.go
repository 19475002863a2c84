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
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// ToolAttributeKey is the span attribute naming the tool server.
const ToolAttributeKey = "toolbridge.tool"

// SamplingConfig controls which traces are recorded.
type SamplingConfig struct {
	// Rate is the fraction of root traces to sample (0.0 - 1.0).
	Rate float64

	// AlwaysSampleTools are tool ids whose call spans are always sampled.
	AlwaysSampleTools []string
}

// NewSampler creates a parent-based sampler from the configuration.
func NewSampler(cfg SamplingConfig) sdktrace.Sampler {
	var base sdktrace.Sampler
	switch {
	case cfg.Rate >= 1.0:
		base = sdktrace.AlwaysSample()
	case cfg.Rate <= 0.0:
		base = sdktrace.NeverSample()
	default:
		base = sdktrace.TraceIDRatioBased(cfg.Rate)
	}

	if len(cfg.AlwaysSampleTools) > 0 && cfg.Rate < 1.0 {
		tools := make(map[string]struct{}, len(cfg.AlwaysSampleTools))
		for _, t := range cfg.AlwaysSampleTools {
			tools[t] = struct{}{}
		}
		base = &toolAwareSampler{base: base, tools: tools}
	}

	return sdktrace.ParentBased(base)
}

// toolAwareSampler samples spans for selected tools and defers the rest.
type toolAwareSampler struct {
	base  sdktrace.Sampler
	tools map[string]struct{}
}

// ShouldSample implements the Sampler interface
func (s *toolAwareSampler) ShouldSample(params sdktrace.SamplingParameters) sdktrace.SamplingResult {
	for _, attr := range params.Attributes {
		if string(attr.Key) != ToolAttributeKey {
			continue
		}
		if _, ok := s.tools[attr.Value.AsString()]; ok {
			return sdktrace.SamplingResult{
				Decision:   sdktrace.RecordAndSample,
				Tracestate: trace.SpanContextFromContext(params.ParentContext).TraceState(),
			}
		}
	}
	return s.base.ShouldSample(params)
}

// Description returns a description of the sampler
func (s *toolAwareSampler) Description() string {
	return "ToolAwareSampler{base=" + s.base.Description() + "}"
}
