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

/*
Package tracing sets up OpenTelemetry for toolbridge.

Setup builds a tracer provider whose spans go to the configured exporters
(console, OTLP over gRPC, OTLP over HTTP) and a meter provider backed by the
OpenTelemetry Prometheus exporter. Both are handed to the tool manager, which
records a "toolbridge.call" span per JSON-RPC call and counters for server
spawns and handshakes.

	provider, err := tracing.Setup(ctx, tracing.FromEnv(), registry)
	if err != nil {
	    return err
	}
	defer provider.Shutdown(context.Background())

	manager := mcp.NewManager(mcp.ManagerConfig{
	    TracerProvider: provider.TracerProvider(),
	    MeterProvider:  provider.MeterProvider(),
	})

# Sampling

Rate selects a fraction of root traces. Tools named in AlwaysSampleTools are
sampled regardless of the rate.
*/
package tracing
