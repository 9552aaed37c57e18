package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/stacklok/provider-mirror/internal/config"
	"github.com/stacklok/provider-mirror/internal/httpclient"
	"github.com/stacklok/provider-mirror/internal/manifest"
	"github.com/stacklok/provider-mirror/internal/mirror"
	"github.com/stacklok/provider-mirror/internal/reconcile"
	"github.com/stacklok/provider-mirror/internal/registry"
	"github.com/stacklok/provider-mirror/internal/telemetry"
)

const (
	defaultOutputDir    = "."
	defaultFetchTimeout = httpclient.DefaultTimeout

	// LockFileName is created in the output directory for the duration of a run
	LockFileName = ".provider-mirror.lock"
)

// MirrorAppOptions is a function that configures the mirror app builder
type MirrorAppOptions func(*mirrorAppConfig) error

// mirrorAppConfig collects everything needed to build a MirrorApp.
// Component overrides exist for testing; production builds them from the settings.
type mirrorAppConfig struct {
	config *config.Config

	// Reconciliation
	registryURL  string
	outputDir    string
	fetchTimeout time.Duration
	strictSemver bool

	// Mirroring
	mirrorEnabled bool
	mirrorCommand []string
	platform      string
	mirrorTimeout time.Duration
	requiredEnv   []string

	// Reporting
	summaryFile   string
	summaryOutput io.Writer

	logger    *slog.Logger
	telemetry *telemetry.Telemetry

	// Optional component overrides (primarily for testing)
	registryClient registry.Client
	manifestWriter manifest.Writer
	mirrorRunner   mirror.Runner
}

func baseConfig(opts ...MirrorAppOptions) (*mirrorAppConfig, error) {
	cfg := &mirrorAppConfig{
		registryURL:   registry.DefaultRegistryURL,
		outputDir:     defaultOutputDir,
		fetchTimeout:  defaultFetchTimeout,
		mirrorTimeout: mirror.DefaultTimeout,
		platform:      mirror.DefaultPlatform(),
		summaryOutput: os.Stdout,
		logger:        slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.config == nil {
		return nil, fmt.Errorf("provider configuration is required")
	}
	if cfg.mirrorEnabled && len(cfg.mirrorCommand) == 0 {
		return nil, fmt.Errorf("mirror command is required when mirroring is enabled")
	}

	return cfg, nil
}

// NewMirrorApp builds a MirrorApp from the given options. Setup problems such as an
// invalid registry URL or missing required environment variables are returned here,
// before any provider is processed.
func NewMirrorApp(_ context.Context, opts ...MirrorAppOptions) (*MirrorApp, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}

	if cfg.mirrorEnabled {
		if missing := mirror.MissingEnv(cfg.requiredEnv); len(missing) > 0 {
			return nil, fmt.Errorf("required environment variables not set: %s", strings.Join(missing, ", "))
		}
	}

	engine, err := buildEngine(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build reconciliation engine: %w", err)
	}

	var dispatcher *mirror.Dispatcher
	if cfg.mirrorEnabled {
		dispatcher, err = buildDispatcher(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to build mirror dispatcher: %w", err)
		}
	}

	return &MirrorApp{
		config: cfg.config,
		components: &AppComponents{
			Engine:     engine,
			Dispatcher: dispatcher,
		},
		outputDir:     cfg.outputDir,
		summaryFile:   cfg.summaryFile,
		summaryOutput: cfg.summaryOutput,
		logger:        cfg.logger,
		tracer:        tracerFor(cfg.telemetry),
	}, nil
}

func buildEngine(cfg *mirrorAppConfig) (*reconcile.Engine, error) {
	client := cfg.registryClient
	if client == nil {
		var err error
		client, err = registry.NewClient(httpclient.NewDefaultClient(cfg.fetchTimeout), cfg.registryURL)
		if err != nil {
			return nil, err
		}
	}

	writer := cfg.manifestWriter
	if writer == nil {
		writer = manifest.NewFileWriter(cfg.outputDir)
	}

	opts := []reconcile.Option{
		reconcile.WithLogger(cfg.logger),
		reconcile.WithStrictSemver(cfg.strictSemver),
	}
	if cfg.telemetry != nil {
		metrics, err := telemetry.NewReconcileMetrics(cfg.telemetry.MeterProvider())
		if err != nil {
			return nil, fmt.Errorf("failed to create reconcile metrics: %w", err)
		}
		opts = append(opts, reconcile.WithMetrics(metrics), reconcile.WithTracer(cfg.telemetry.Tracer()))
	}

	return reconcile.NewEngine(client, writer, opts...), nil
}

func buildDispatcher(cfg *mirrorAppConfig) (*mirror.Dispatcher, error) {
	runner := cfg.mirrorRunner
	if runner == nil {
		runner = mirror.NewExecRunner(
			mirror.WithRunnerLogger(cfg.logger),
			mirror.WithTimeout(cfg.mirrorTimeout),
		)
	}

	opts := []mirror.DispatcherOption{
		mirror.WithPlatform(cfg.platform),
		mirror.WithLogger(cfg.logger),
	}
	if cfg.telemetry != nil {
		metrics, err := telemetry.NewMirrorMetrics(cfg.telemetry.MeterProvider())
		if err != nil {
			return nil, fmt.Errorf("failed to create mirror metrics: %w", err)
		}
		opts = append(opts, mirror.WithMetrics(metrics), mirror.WithTracer(cfg.telemetry.Tracer()))
	}

	return mirror.NewDispatcher(runner, cfg.mirrorCommand, opts...)
}

// WithConfig sets the provider configuration
func WithConfig(c *config.Config) MirrorAppOptions {
	return func(cfg *mirrorAppConfig) error {
		cfg.config = c
		return nil
	}
}

// WithRegistryURL sets the base URL of the provider registry
func WithRegistryURL(url string) MirrorAppOptions {
	return func(cfg *mirrorAppConfig) error {
		if err := registry.ValidateBaseURL(url); err != nil {
			return err
		}
		cfg.registryURL = url
		return nil
	}
}

// WithOutputDir sets the directory manifests are written to
func WithOutputDir(dir string) MirrorAppOptions {
	return func(cfg *mirrorAppConfig) error {
		if dir == "" {
			return fmt.Errorf("output directory cannot be empty")
		}
		cfg.outputDir = dir
		return nil
	}
}

// WithFetchTimeout sets the per-request registry timeout
func WithFetchTimeout(timeout time.Duration) MirrorAppOptions {
	return func(cfg *mirrorAppConfig) error {
		if timeout <= 0 {
			return fmt.Errorf("fetch timeout must be positive, got %s", timeout)
		}
		cfg.fetchTimeout = timeout
		return nil
	}
}

// WithStrictSemver drops published versions that are not strict semver
func WithStrictSemver(strict bool) MirrorAppOptions {
	return func(cfg *mirrorAppConfig) error {
		cfg.strictSemver = strict
		return nil
	}
}

// WithMirror enables mirroring with the given command (program plus leading arguments)
func WithMirror(command []string) MirrorAppOptions {
	return func(cfg *mirrorAppConfig) error {
		if len(command) == 0 || strings.TrimSpace(command[0]) == "" {
			return fmt.Errorf("mirror command cannot be empty")
		}
		cfg.mirrorEnabled = true
		cfg.mirrorCommand = command
		return nil
	}
}

// WithPlatform sets the platform passed to the mirror command
func WithPlatform(platform string) MirrorAppOptions {
	return func(cfg *mirrorAppConfig) error {
		if platform == "" {
			return nil
		}
		if strings.Count(platform, "_") != 1 || strings.HasPrefix(platform, "_") || strings.HasSuffix(platform, "_") {
			return fmt.Errorf("platform must look like os_arch, got %q", platform)
		}
		cfg.platform = platform
		return nil
	}
}

// WithMirrorTimeout bounds each mirror command invocation
func WithMirrorTimeout(timeout time.Duration) MirrorAppOptions {
	return func(cfg *mirrorAppConfig) error {
		if timeout <= 0 {
			return fmt.Errorf("mirror timeout must be positive, got %s", timeout)
		}
		cfg.mirrorTimeout = timeout
		return nil
	}
}

// WithRequiredEnv lists environment variables that must be set before mirroring
func WithRequiredEnv(names []string) MirrorAppOptions {
	return func(cfg *mirrorAppConfig) error {
		cfg.requiredEnv = names
		return nil
	}
}

// WithSummaryFile persists the run summary as JSON at path
func WithSummaryFile(path string) MirrorAppOptions {
	return func(cfg *mirrorAppConfig) error {
		cfg.summaryFile = path
		return nil
	}
}

// WithSummaryOutput sets where the summary tables are rendered; nil disables rendering
func WithSummaryOutput(w io.Writer) MirrorAppOptions {
	return func(cfg *mirrorAppConfig) error {
		cfg.summaryOutput = w
		return nil
	}
}

// WithLogger sets the logger shared by all components
func WithLogger(logger *slog.Logger) MirrorAppOptions {
	return func(cfg *mirrorAppConfig) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithTelemetry wires metrics and tracing into the engine and dispatcher
func WithTelemetry(t *telemetry.Telemetry) MirrorAppOptions {
	return func(cfg *mirrorAppConfig) error {
		cfg.telemetry = t
		return nil
	}
}

// WithRegistryClient overrides the registry client
func WithRegistryClient(c registry.Client) MirrorAppOptions {
	return func(cfg *mirrorAppConfig) error {
		cfg.registryClient = c
		return nil
	}
}

// WithManifestWriter overrides the manifest writer
func WithManifestWriter(w manifest.Writer) MirrorAppOptions {
	return func(cfg *mirrorAppConfig) error {
		cfg.manifestWriter = w
		return nil
	}
}

// WithMirrorRunner overrides the process runner used for mirroring
func WithMirrorRunner(r mirror.Runner) MirrorAppOptions {
	return func(cfg *mirrorAppConfig) error {
		cfg.mirrorRunner = r
		return nil
	}
}
