// Package otel provides OpenTelemetry span helpers for provider-mirror runs.
package otel

import (
	"context"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys shared by run, provider and mirror spans
const (
	AttrRunID             = attribute.Key("run.id")
	AttrProviderNamespace = attribute.Key("provider.namespace")
	AttrProviderName      = attribute.Key("provider.name")
	AttrVersionCount      = attribute.Key("provider.version_count")
	AttrManifestPath      = attribute.Key("manifest.path")
	AttrMirrorExitCode    = attribute.Key("mirror.exit_code")
)

// StartSpan starts a new span if the tracer is non-nil, otherwise returns a no-op span
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// RecordError records an error on a span and sets the span status to error.
// It safely handles nil spans and nil errors.
func RecordError(span trace.Span, err error) {
	if err != nil && span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "operation failed")
	}
}

// EnvCarrier returns the trace context of ctx as environment entries ("TRACEPARENT=...")
// for a child process, using the global propagator. It returns nil when ctx carries no
// sampled span.
func EnvCarrier(ctx context.Context) []string {
	return envFrom(ctx, otel.GetTextMapPropagator())
}

func envFrom(ctx context.Context, prop propagation.TextMapPropagator) []string {
	carrier := propagation.MapCarrier{}
	prop.Inject(ctx, carrier)
	if len(carrier) == 0 {
		return nil
	}

	env := make([]string, 0, len(carrier))
	for _, key := range carrier.Keys() {
		env = append(env, strings.ToUpper(key)+"="+carrier.Get(key))
	}
	sort.Strings(env)
	return env
}
