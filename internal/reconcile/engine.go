// Package reconcile fetches, filters and persists the versions of every declared provider.
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/provider-mirror/internal/constraint"
	"github.com/stacklok/provider-mirror/internal/manifest"
	"github.com/stacklok/provider-mirror/internal/otel"
	"github.com/stacklok/provider-mirror/internal/provider"
	"github.com/stacklok/provider-mirror/internal/registry"
	"github.com/stacklok/provider-mirror/internal/telemetry"
	"github.com/stacklok/provider-mirror/internal/versions"
)

// Rejection reasons recorded in metrics
const (
	RejectUnparseable = "unparseable"
	RejectNotSemantic = "not_semantic"
	RejectConstraint  = "constraint"
)

// Outcome is the result of reconciling one provider
type Outcome struct {
	Namespace string
	Name      string
	// Fetched holds the raw registry strings, nil when the fetch failed
	Fetched  []string
	Versions []versions.Version
	// ManifestPath is empty when no manifest was written
	ManifestPath string
	// Err is the fetch or write error, if any
	Err error
}

// ID returns namespace/name
func (o Outcome) ID() string {
	return o.Namespace + "/" + o.Name
}

// ManifestPaths returns the written manifest paths in declaration order
func ManifestPaths(outcomes []Outcome) []string {
	paths := []string{}
	for _, o := range outcomes {
		if o.ManifestPath != "" {
			paths = append(paths, o.ManifestPath)
		}
	}
	return paths
}

// Engine runs the fetch, filter and write stages for each provider in turn
type Engine struct {
	registry     registry.Client
	writer       manifest.Writer
	logger       *slog.Logger
	strictSemver bool
	metrics      *telemetry.ReconcileMetrics
	tracer       trace.Tracer
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the engine logger
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithStrictSemver excludes fetched versions that are not plain MAJOR.MINOR[.PATCH]
func WithStrictSemver(strict bool) Option {
	return func(e *Engine) {
		e.strictSemver = strict
	}
}

// WithMetrics sets the reconciliation metrics. A nil value disables recording.
func WithMetrics(m *telemetry.ReconcileMetrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithTracer sets the tracer used for per-provider spans
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// NewEngine creates an Engine that reads from client and writes through writer
func NewEngine(client registry.Client, writer manifest.Writer, opts ...Option) *Engine {
	e := &Engine{
		registry: client,
		writer:   writer,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run reconciles records sequentially in declaration order. A failing provider never
// stops the others. If ctx is cancelled, the remaining providers are reported with the
// context error and not fetched.
func (e *Engine) Run(ctx context.Context, records []*provider.Record) []Outcome {
	outcomes := make([]Outcome, 0, len(records))
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			outcomes = append(outcomes, Outcome{Namespace: r.Namespace, Name: r.Name, Err: err})
			continue
		}
		outcomes = append(outcomes, e.Reconcile(ctx, r))
	}
	return outcomes
}

// Reconcile fetches, filters and persists one provider
func (e *Engine) Reconcile(ctx context.Context, r *provider.Record) Outcome {
	ctx, span := otel.StartSpan(ctx, e.tracer, "reconcile.provider",
		trace.WithAttributes(
			otel.AttrProviderNamespace.String(r.Namespace),
			otel.AttrProviderName.String(r.Name),
		))
	defer span.End()

	id := r.ID()
	logger := e.logger.With("provider", id)
	out := Outcome{Namespace: r.Namespace, Name: r.Name, Versions: []versions.Version{}}

	minimal := "none"
	if r.MinimalVersion != nil {
		minimal = r.MinimalVersion.String()
	}
	logger.Info("Processing provider",
		"minimal_version", minimal,
		"also_valid", versions.Strings(r.ValidVersions()))

	start := time.Now()
	raw, err := e.registry.FetchVersions(ctx, r.Namespace, r.Name)
	e.metrics.RecordFetchDuration(ctx, id, time.Since(start), err == nil)
	if err != nil {
		logger.Error("Failed to fetch versions", "error", err)
		otel.RecordError(span, err)
		out.Err = err
		return out
	}
	out.Fetched = raw

	var newest *versions.Version
	out.Versions, newest = e.filter(ctx, id, raw, r.Policy(), logger)
	span.SetAttributes(otel.AttrVersionCount.Int(len(out.Versions)))
	e.metrics.RecordVersionsIncluded(ctx, id, int64(len(out.Versions)))
	logger.Info("Fetched versions", "versions", versions.Strings(out.Versions))

	if r.MinimalVersion != nil && newest != nil &&
		versions.IsNewerVersion(r.MinimalVersion.String(), newest.String()) {
		logger.Warn("Minimal version is newer than every published version",
			"minimal_version", r.MinimalVersion.String(),
			"newest_published", newest.String())
	}

	if len(out.Versions) == 0 {
		logger.Info("No versions matched, skipping manifest")
		return out
	}

	path, err := e.writer.Write(ctx, manifest.New(r.Namespace, r.Name, out.Versions))
	if err != nil {
		logger.Error("Failed to write manifest", "error", err)
		otel.RecordError(span, err)
		out.Err = err
		return out
	}
	out.ManifestPath = path
	logger.Info("Generated manifest", "path", path)

	return out
}

// filter keeps the raw entries that parse, pass the optional strict gate and satisfy
// policy. The result is sorted ascending. newest is the highest parseable published
// version, nil when nothing parsed.
func (e *Engine) filter(
	ctx context.Context,
	id string,
	raw []string,
	policy constraint.Policy,
	logger *slog.Logger,
) (kept []versions.Version, newest *versions.Version) {
	kept = make([]versions.Version, 0, len(raw))
	for _, s := range raw {
		v, err := versions.Parse(s)
		if err != nil {
			logger.Warn("Invalid version", "version", s, "error", err)
			e.metrics.RecordVersionRejected(ctx, id, RejectUnparseable)
			continue
		}
		if newest == nil || v.ComparePrecedence(*newest) > 0 {
			parsed := v
			newest = &parsed
		}

		if e.strictSemver && !versions.IsSemantic(s) {
			logger.Warn("Version is not a plain semantic version", "version", s)
			e.metrics.RecordVersionRejected(ctx, id, RejectNotSemantic)
			continue
		}

		if !policy.Includes(v) {
			e.metrics.RecordVersionRejected(ctx, id, RejectConstraint)
			continue
		}
		kept = append(kept, v)
	}

	versions.Sort(kept)
	return kept, newest
}
