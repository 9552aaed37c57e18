package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	mirrorapp "github.com/stacklok/provider-mirror/internal/app"
	"github.com/stacklok/provider-mirror/internal/buildinfo"
	"github.com/stacklok/provider-mirror/internal/config"
	"github.com/stacklok/provider-mirror/internal/httpclient"
	"github.com/stacklok/provider-mirror/internal/mirror"
	"github.com/stacklok/provider-mirror/internal/registry"
	"github.com/stacklok/provider-mirror/internal/telemetry"
)

const (
	defaultMirrorCommand     = "terraform providers mirror"
	telemetryShutdownTimeout = 10 * time.Second
)

// runSettings is the resolved view of the run flags and their environment overrides
type runSettings struct {
	ConfigPath   string
	RegistryURL  string
	OutputDir    string
	StrictSemver bool
	FetchTimeout time.Duration

	Mirror        bool
	MirrorCommand []string
	Platform      string
	MirrorTimeout time.Duration
	RequireEnv    []string

	SummaryFile string

	Metrics         bool
	MetricsExporter string
	MetricsFile     string
	Tracing         bool
	OTLPEndpoint    string
	OTLPInsecure    bool
}

func newRunCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Reconcile provider versions and optionally mirror them",
		Long: `Reconcile every provider listed in the configuration file against the registry.

For each provider the published versions are filtered by the declared allow-list and
minimal version, and a manifest is written to the output directory. With --mirror, the
mirror command is invoked once per manifest as "<command> -p <platform> <manifest>".

The process exits non-zero when the configuration cannot be loaded or when any
mirror invocation failed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMirror(cmd, settingsFromViper(v))
		},
	}

	flags := cmd.Flags()
	flags.String("config", config.DefaultConfigPath, "Path to the provider configuration file (JSON or YAML)")
	flags.String("registry-url", registry.DefaultRegistryURL, "Base URL of the provider registry")
	flags.String("output-dir", ".", "Directory manifests are written to")
	flags.Bool("strict-semver", false, "Drop published versions that are not strict semantic versions")
	flags.Duration("fetch-timeout", httpclient.DefaultTimeout, "Timeout for each registry request")
	flags.Bool("mirror", false, "Run the mirror command for every manifest")
	flags.String("mirror-command", defaultMirrorCommand, "Mirror command and leading arguments")
	flags.String("platform", mirror.DefaultPlatform(), "Platform passed to the mirror command (os_arch)")
	flags.Duration("mirror-timeout", mirror.DefaultTimeout, "Timeout for each mirror invocation")
	flags.StringSlice("require-env", nil, "Environment variables that must be set before mirroring")
	flags.String("summary-file", "", "Write the run summary as JSON to this path")
	flags.Bool("metrics", false, "Enable run metrics")
	flags.String("metrics-exporter", telemetry.ExporterOTLP, "Metrics exporter (otlp or textfile)")
	flags.String("metrics-file", "", "Prometheus textfile path for the textfile exporter")
	flags.Bool("tracing", false, "Enable tracing")
	flags.String("otlp-endpoint", telemetry.DefaultEndpoint, "OTLP collector endpoint (host:port)")
	flags.Bool("otlp-insecure", false, "Use plain HTTP for the OTLP endpoint")

	flags.VisitAll(func(f *pflag.Flag) {
		if err := v.BindPFlag(f.Name, f); err != nil {
			slog.Error("Failed to bind flag", "flag", f.Name, "error", err)
		}
	})

	return cmd
}

func settingsFromViper(v *viper.Viper) runSettings {
	return runSettings{
		ConfigPath:      v.GetString("config"),
		RegistryURL:     v.GetString("registry-url"),
		OutputDir:       v.GetString("output-dir"),
		StrictSemver:    v.GetBool("strict-semver"),
		FetchTimeout:    v.GetDuration("fetch-timeout"),
		Mirror:          v.GetBool("mirror"),
		MirrorCommand:   strings.Fields(v.GetString("mirror-command")),
		Platform:        v.GetString("platform"),
		MirrorTimeout:   v.GetDuration("mirror-timeout"),
		RequireEnv:      v.GetStringSlice("require-env"),
		SummaryFile:     v.GetString("summary-file"),
		Metrics:         v.GetBool("metrics"),
		MetricsExporter: v.GetString("metrics-exporter"),
		MetricsFile:     v.GetString("metrics-file"),
		Tracing:         v.GetBool("tracing"),
		OTLPEndpoint:    v.GetString("otlp-endpoint"),
		OTLPInsecure:    v.GetBool("otlp-insecure"),
	}
}

// telemetryConfig returns nil when neither metrics nor tracing is requested
func (s runSettings) telemetryConfig() *telemetry.Config {
	if !s.Metrics && !s.Tracing {
		return nil
	}
	return &telemetry.Config{
		Enabled:        true,
		ServiceName:    telemetry.DefaultServiceName,
		ServiceVersion: buildinfo.Get().Version,
		Endpoint:       s.OTLPEndpoint,
		Insecure:       s.OTLPInsecure,
		Tracing: &telemetry.TracingConfig{
			Enabled:  s.Tracing,
			Sampling: telemetry.DefaultSampling,
		},
		Metrics: &telemetry.MetricsConfig{
			Enabled:      s.Metrics,
			Exporter:     s.MetricsExporter,
			TextfilePath: s.MetricsFile,
		},
	}
}

func (s runSettings) appOptions(cfg *config.Config) []mirrorapp.MirrorAppOptions {
	opts := []mirrorapp.MirrorAppOptions{
		mirrorapp.WithConfig(cfg),
		mirrorapp.WithRegistryURL(s.RegistryURL),
		mirrorapp.WithOutputDir(s.OutputDir),
		mirrorapp.WithFetchTimeout(s.FetchTimeout),
		mirrorapp.WithStrictSemver(s.StrictSemver),
		mirrorapp.WithSummaryFile(s.SummaryFile),
	}
	if s.Mirror {
		opts = append(opts,
			mirrorapp.WithMirror(s.MirrorCommand),
			mirrorapp.WithPlatform(s.Platform),
			mirrorapp.WithMirrorTimeout(s.MirrorTimeout),
			mirrorapp.WithRequiredEnv(s.RequireEnv),
		)
	}
	return opts
}

func runMirror(cmd *cobra.Command, s runSettings) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig(config.WithConfigPath(s.ConfigPath))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	slog.Info("Loaded configuration", "path", s.ConfigPath, "providers", len(cfg.Providers))

	tel, err := telemetry.New(ctx, telemetry.WithTelemetryConfig(s.telemetryConfig()))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown telemetry", "error", err)
		}
	}()

	opts := append(s.appOptions(cfg),
		mirrorapp.WithTelemetry(tel),
		mirrorapp.WithLogger(slog.Default()),
		mirrorapp.WithSummaryOutput(cmd.OutOrStdout()),
	)
	mirrorApp, err := mirrorapp.NewMirrorApp(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	if _, err := mirrorApp.Run(ctx); err != nil {
		return err
	}
	return nil
}
