// Copyright 2026 The Velo Rift Authors.
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

package daemon

import (
	"context"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// tracerName identifies vrift's daemon spans the way gcsfuse's
// common/telemetry.go names its own instrumentation scope.
const tracerName = "github.com/velo-rift/vrift/internal/daemon"

// NewTracerProvider builds an OpenTelemetry tracer provider that writes
// spans to w as newline-delimited JSON, the same stdouttrace exporter
// gcsfuse wires up for its own optional tracing. Passing io.Discard
// disables visible output while keeping span creation (and its
// near-zero overhead) on the code path. Nothing in the daemon installs
// the provider it returns; until a caller does, spans go to otel's
// global no-op provider.
func NewTracerProvider(w io.Writer) (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	return tp, nil
}

// tracer returns the package-scoped tracer from the currently installed
// global provider, mirroring otel.Tracer(tracerName) call sites in
// gcsfuse's fs/ package.
func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// startReingestSpan opens the span that wraps CasInsert -> ManifestUpsert
// -> journal-complete, the three durable steps of ManifestReingest.
func startReingestSpan(ctx context.Context, virtualPath string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "ManifestReingest",
		trace.WithAttributes(attribute.String("vrift.virtual_path", virtualPath)))
}
