package telemetry

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func TestNewMeterProvider(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		opts        []MeterProviderOption
		expectNoOp  bool
		expectError string
	}{
		{
			name:       "returns no-op provider when no config provided",
			opts:       []MeterProviderOption{},
			expectNoOp: true,
		},
		{
			name: "returns no-op provider when metrics disabled",
			opts: []MeterProviderOption{
				WithMetricsConfig(&MetricsConfig{Enabled: false}),
			},
			expectNoOp: true,
		},
		{
			name: "returns SDK provider for otlp exporter",
			opts: []MeterProviderOption{
				WithMetricsConfig(&MetricsConfig{Enabled: true}),
				WithMeterInsecure(true),
			},
		},
		{
			name: "returns SDK provider for textfile exporter",
			opts: []MeterProviderOption{
				WithMetricsConfig(&MetricsConfig{Enabled: true, Exporter: ExporterTextfile, TextfilePath: "metrics.prom"}),
				WithMeterRegisterer(prometheus.NewRegistry()),
			},
		},
		{
			name: "textfile exporter requires a registerer",
			opts: []MeterProviderOption{
				WithMetricsConfig(&MetricsConfig{Enabled: true, Exporter: ExporterTextfile, TextfilePath: "metrics.prom"}),
			},
			expectError: "prometheus registerer is required",
		},
		{
			name: "unknown exporter",
			opts: []MeterProviderOption{
				WithMetricsConfig(&MetricsConfig{Enabled: true, Exporter: "statsd"}),
			},
			expectError: "unsupported metrics exporter",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			mp, err := NewMeterProvider(ctx, tt.opts...)
			if tt.expectError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectError)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, mp)

			if tt.expectNoOp {
				_, ok := mp.(noop.MeterProvider)
				assert.True(t, ok, "expected no-op meter provider")
				return
			}

			sdkMP, ok := mp.(*sdkmetric.MeterProvider)
			require.True(t, ok, "expected SDK meter provider")
			// Shutdown errors are ignored: no collector is running for the otlp case
			_ = sdkMP.Shutdown(ctx)
		})
	}
}

func TestMeterProviderOptions(t *testing.T) {
	t.Parallel()

	cfg := &meterProviderConfig{}
	metricsCfg := &MetricsConfig{Enabled: true}
	reg := prometheus.NewRegistry()

	WithMeterServiceName("my-service")(cfg)
	WithMeterServiceVersion("2.0.0")(cfg)
	WithMetricsConfig(metricsCfg)(cfg)
	WithMeterEndpoint("collector.example.com:4318")(cfg)
	WithMeterInsecure(true)(cfg)
	WithMeterRegisterer(reg)(cfg)

	assert.Equal(t, "my-service", cfg.serviceName)
	assert.Equal(t, "2.0.0", cfg.serviceVersion)
	assert.Equal(t, metricsCfg, cfg.metricsConfig)
	assert.Equal(t, "collector.example.com:4318", cfg.endpoint)
	assert.True(t, cfg.insecure)
	assert.Equal(t, reg, cfg.registerer)
}
