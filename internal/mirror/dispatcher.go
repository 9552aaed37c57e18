package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"slices"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/provider-mirror/internal/otel"
	"github.com/stacklok/provider-mirror/internal/summary"
	"github.com/stacklok/provider-mirror/internal/telemetry"
)

// DefaultPlatform is the platform passed to the mirror command when none is configured
func DefaultPlatform() string {
	return runtime.GOOS + "_" + runtime.GOARCH
}

// Dispatcher runs the mirror command once per manifest and aggregates the results
type Dispatcher struct {
	runner   Runner
	command  []string
	platform string
	logger   *slog.Logger
	metrics  *telemetry.MirrorMetrics
	tracer   trace.Tracer
}

// DispatcherOption configures a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithPlatform sets the value passed with -p
func WithPlatform(platform string) DispatcherOption {
	return func(d *Dispatcher) {
		if platform != "" {
			d.platform = platform
		}
	}
}

// WithLogger sets the dispatcher logger
func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithMetrics sets the mirror metrics. A nil value disables recording.
func WithMetrics(m *telemetry.MirrorMetrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithTracer sets the tracer used for per-manifest spans
func WithTracer(tracer trace.Tracer) DispatcherOption {
	return func(d *Dispatcher) {
		d.tracer = tracer
	}
}

// NewDispatcher creates a Dispatcher invoking command (program plus leading arguments)
func NewDispatcher(runner Runner, command []string, opts ...DispatcherOption) (*Dispatcher, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if len(command) == 0 || command[0] == "" {
		return nil, fmt.Errorf("mirror command is required")
	}

	d := &Dispatcher{
		runner:   runner,
		command:  slices.Clone(command),
		platform: DefaultPlatform(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Args returns the argv for one manifest: command... -p platform path
func (d *Dispatcher) Args(manifestPath string) []string {
	return append(slices.Clone(d.command), "-p", d.platform, manifestPath)
}

// Dispatch mirrors every manifest into a new summary
func (d *Dispatcher) Dispatch(ctx context.Context, manifestPaths []string) *summary.Summary {
	s := summary.New()
	d.DispatchInto(ctx, manifestPaths, s)
	return s
}

// DispatchInto mirrors every manifest in order and appends one entry per attempt to s.
// Empty paths are skipped. A failure never stops the remaining manifests.
func (d *Dispatcher) DispatchInto(ctx context.Context, manifestPaths []string, s *summary.Summary) {
	for _, path := range manifestPaths {
		if path == "" {
			continue
		}
		s.Add(d.mirrorOne(ctx, path))
	}

	if failures := s.Failures(); len(failures) > 0 {
		d.logger.Error("Mirroring finished with failures",
			"failed", len(failures),
			"total", len(s.Entries))
	} else {
		d.logger.Info("Mirroring finished", "total", len(s.Entries))
	}
}

func (d *Dispatcher) mirrorOne(ctx context.Context, path string) summary.Entry {
	ctx, span := otel.StartSpan(ctx, d.tracer, "mirror.run",
		trace.WithAttributes(otel.AttrManifestPath.String(path)))
	defer span.End()

	argv := d.Args(path)
	logger := d.logger.With("manifest", path)
	logger.Info("Running mirror command", "command", argv)

	start := time.Now()
	code, err := d.runner.Run(ctx, argv)
	elapsed := time.Since(start)

	span.SetAttributes(otel.AttrMirrorExitCode.Int(code))
	d.metrics.RecordMirrorDuration(ctx, elapsed, code)

	entry := summary.Entry{ManifestPath: path, ExitCode: code, Err: err, Duration: elapsed}
	if entry.Failed() {
		otel.RecordError(span, err)
		logger.Error("Mirror command failed", "exit_code", code, "error", entry.Reason())
	} else {
		logger.Info("Mirror command succeeded", "duration", elapsed.Round(time.Millisecond))
	}
	return entry
}

// MissingEnv returns the names in required that are not set in the environment
func MissingEnv(required []string) []string {
	missing := []string{}
	for _, name := range required {
		if _, ok := os.LookupEnv(name); !ok {
			missing = append(missing, name)
		}
	}
	return missing
}
