// Package app wires configuration, reconciliation and mirroring into a single run.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/provider-mirror/internal/config"
	"github.com/stacklok/provider-mirror/internal/otel"
	"github.com/stacklok/provider-mirror/internal/provider"
	"github.com/stacklok/provider-mirror/internal/reconcile"
	"github.com/stacklok/provider-mirror/internal/summary"
	"github.com/stacklok/provider-mirror/internal/telemetry"
)

// ErrMirrorFailures is returned by Run when at least one mirror invocation failed.
// The summary is still complete when this error is returned.
var ErrMirrorFailures = errors.New("one or more manifests failed to mirror")

// ErrLocked is returned when another run holds the output directory lock
var ErrLocked = errors.New("output directory is locked by another run")

// MirrorApp runs reconciliation over every configured provider and optionally
// mirrors the resulting manifests
type MirrorApp struct {
	config     *config.Config
	components *AppComponents

	outputDir     string
	summaryFile   string
	summaryOutput io.Writer

	logger *slog.Logger
	tracer trace.Tracer
}

// Run executes one full pass. Provider failures are reported in the summary and never
// abort the run. The returned error is non-nil for setup failures, for summary
// persistence failures, or ErrMirrorFailures when the run is degraded.
func (app *MirrorApp) Run(ctx context.Context) (*summary.Summary, error) {
	unlock, err := app.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	s := summary.New()
	ctx, span := otel.StartSpan(ctx, app.tracer, "provider-mirror.run",
		trace.WithAttributes(otel.AttrRunID.String(s.RunID.String())))
	defer span.End()

	logger := app.logger.With("run_id", s.RunID.String())
	logger.Info("Starting run",
		"providers", len(app.config.Providers),
		"output_dir", app.outputDir,
		"mirror", app.components.Dispatcher != nil)

	records := provider.NewRecords(app.config, logger)
	outcomes := app.components.Engine.Run(ctx, records)
	s.Providers = providerResults(outcomes)

	if app.components.Dispatcher != nil {
		app.components.Dispatcher.DispatchInto(ctx, reconcile.ManifestPaths(outcomes), s)
	}

	if app.summaryOutput != nil {
		if err := s.Render(app.summaryOutput); err != nil {
			logger.Warn("Failed to render summary", "error", err)
		}
	}
	if app.summaryFile != "" {
		if err := s.Save(app.summaryFile); err != nil {
			otel.RecordError(span, err)
			return s, fmt.Errorf("failed to save summary: %w", err)
		}
		logger.Debug("Saved summary", "path", app.summaryFile)
	}

	if s.Degraded() {
		otel.RecordError(span, ErrMirrorFailures)
		return s, ErrMirrorFailures
	}
	logger.Info("Run complete")
	return s, nil
}

// lock takes an exclusive, non-blocking lock in the output directory
func (app *MirrorApp) lock() (func(), error) {
	if err := os.MkdirAll(app.outputDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	path := filepath.Join(app.outputDir, LockFileName)
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}

	return func() {
		if err := fl.Unlock(); err != nil {
			app.logger.Warn("Failed to release lock", "path", path, "error", err)
		}
	}, nil
}

func providerResults(outcomes []reconcile.Outcome) []summary.ProviderResult {
	results := make([]summary.ProviderResult, 0, len(outcomes))
	for _, o := range outcomes {
		r := summary.ProviderResult{
			Provider:     o.ID(),
			Versions:     len(o.Versions),
			ManifestPath: o.ManifestPath,
		}
		if o.Err != nil {
			r.Error = o.Err.Error()
		}
		results = append(results, r)
	}
	return results
}

func tracerFor(t *telemetry.Telemetry) trace.Tracer {
	if t == nil {
		return nil
	}
	return t.Tracer()
}
