package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// ReconcileMetricsMeterName is the name used for the reconciliation metrics meter
	ReconcileMetricsMeterName = "github.com/stacklok/provider-mirror/reconcile"

	// MirrorMetricsMeterName is the name used for the mirror metrics meter
	MirrorMetricsMeterName = "github.com/stacklok/provider-mirror/mirror"
)

// ReconcileMetrics holds the instruments recorded while reconciling providers
type ReconcileMetrics struct {
	fetchDuration    metric.Float64Histogram
	versionsIncluded metric.Int64Gauge
	versionsRejected metric.Int64Counter
}

// NewReconcileMetrics creates a new ReconcileMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewReconcileMetrics(provider metric.MeterProvider) (*ReconcileMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(ReconcileMetricsMeterName)

	fetchDuration, err := meter.Float64Histogram(
		"provider_mirror_fetch_duration_seconds",
		metric.WithDescription("Duration of registry version fetches in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, err
	}

	versionsIncluded, err := meter.Int64Gauge(
		"provider_mirror_versions_included",
		metric.WithDescription("Number of versions written to each provider manifest"),
		metric.WithUnit("{version}"),
	)
	if err != nil {
		return nil, err
	}

	versionsRejected, err := meter.Int64Counter(
		"provider_mirror_versions_rejected_total",
		metric.WithDescription("Fetched versions excluded from manifests, by reason"),
		metric.WithUnit("{version}"),
	)
	if err != nil {
		return nil, err
	}

	return &ReconcileMetrics{
		fetchDuration:    fetchDuration,
		versionsIncluded: versionsIncluded,
		versionsRejected: versionsRejected,
	}, nil
}

// RecordFetchDuration records how long fetching the version list for a provider took
func (m *ReconcileMetrics) RecordFetchDuration(ctx context.Context, provider string, duration time.Duration, success bool) {
	if m == nil || m.fetchDuration == nil {
		return
	}

	m.fetchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.Bool("success", success),
	))
}

// RecordVersionsIncluded records the number of versions kept for a provider
func (m *ReconcileMetrics) RecordVersionsIncluded(ctx context.Context, provider string, count int64) {
	if m == nil || m.versionsIncluded == nil {
		return
	}

	m.versionsIncluded.Record(ctx, count, metric.WithAttributes(attribute.String("provider", provider)))
}

// RecordVersionRejected counts one excluded version. reason is "unparseable",
// "not_semantic" or "constraint".
func (m *ReconcileMetrics) RecordVersionRejected(ctx context.Context, provider, reason string) {
	if m == nil || m.versionsRejected == nil {
		return
	}

	m.versionsRejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("reason", reason),
	))
}

// MirrorMetrics holds the instruments for mirror invocations
type MirrorMetrics struct {
	mirrorDuration metric.Float64Histogram
}

// NewMirrorMetrics creates a new MirrorMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewMirrorMetrics(provider metric.MeterProvider) (*MirrorMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(MirrorMetricsMeterName)

	mirrorDuration, err := meter.Float64Histogram(
		"provider_mirror_mirror_duration_seconds",
		metric.WithDescription("Duration of mirror command invocations in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 30, 60, 120, 300, 600),
	)
	if err != nil {
		return nil, err
	}

	return &MirrorMetrics{
		mirrorDuration: mirrorDuration,
	}, nil
}

// RecordMirrorDuration records one mirror invocation and its exit code
func (m *MirrorMetrics) RecordMirrorDuration(ctx context.Context, duration time.Duration, exitCode int) {
	if m == nil || m.mirrorDuration == nil {
		return
	}

	m.mirrorDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.Bool("success", exitCode == 0),
		attribute.Int("exit_code", exitCode),
	))
}
