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
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Provider owns the tracer and meter providers for one process.
type Provider struct {
	tp     *sdktrace.TracerProvider
	mp     *sdkmetric.MeterProvider
	tracer trace.TracerProvider
}

// Setup builds the providers described by cfg. Meter instruments are
// exported through reg; when cfg.Enabled is false spans are discarded.
// Exporters that fail to build are logged and skipped.
func Setup(ctx context.Context, cfg Config, reg prometheus.Registerer) (*Provider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "toolbridge"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// No schema URL, so the merge with the default resource cannot conflict.
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	promOpts := []otelprom.Option{}
	if reg != nil {
		promOpts = append(promOpts, otelprom.WithRegisterer(reg))
	}
	promExporter, err := otelprom.New(promOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	p := &Provider{
		mp: sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(promExporter),
		),
		tracer: noop.NewTracerProvider(),
	}

	if !cfg.Enabled {
		return p, nil
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(NewSampler(cfg.Sampling)),
	}
	for i, ec := range cfg.Exporters {
		exp, err := NewExporter(ctx, ec)
		if err != nil {
			slog.Warn("failed to create exporter, skipping",
				"index", i,
				"type", ec.Type,
				"endpoint", ec.Endpoint,
				"error", err)
			continue
		}
		var batchOpts []sdktrace.BatchSpanProcessorOption
		if cfg.BatchSize > 0 {
			batchOpts = append(batchOpts, sdktrace.WithMaxExportBatchSize(cfg.BatchSize))
		}
		if cfg.BatchInterval > 0 {
			batchOpts = append(batchOpts, sdktrace.WithBatchTimeout(cfg.BatchInterval))
		}
		opts = append(opts, sdktrace.WithBatcher(exp, batchOpts...))
	}

	p.tp = sdktrace.NewTracerProvider(opts...)
	p.tracer = p.tp
	return p, nil
}

// TracerProvider returns the provider for call spans.
func (p *Provider) TracerProvider() trace.TracerProvider {
	return p.tracer
}

// MeterProvider returns the provider for lifecycle instruments.
func (p *Provider) MeterProvider() metric.MeterProvider {
	return p.mp
}

// ForceFlush exports all pending spans synchronously.
func (p *Provider) ForceFlush(ctx context.Context) error {
	var errs []error
	if p.tp != nil {
		errs = append(errs, p.tp.ForceFlush(ctx))
	}
	errs = append(errs, p.mp.ForceFlush(ctx))
	return errors.Join(errs...)
}

// Shutdown flushes any pending spans and releases resources.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.tp != nil {
		errs = append(errs, p.tp.Shutdown(ctx))
	}
	errs = append(errs, p.mp.Shutdown(ctx))
	return errors.Join(errs...)
}
