package reconcile

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/provider-mirror/internal/config"
	"github.com/stacklok/provider-mirror/internal/logging/logtest"
	"github.com/stacklok/provider-mirror/internal/manifest"
	"github.com/stacklok/provider-mirror/internal/manifest/manifesttest"
	manifestmocks "github.com/stacklok/provider-mirror/internal/manifest/mocks"
	"github.com/stacklok/provider-mirror/internal/provider"
	registrymocks "github.com/stacklok/provider-mirror/internal/registry/mocks"
	"github.com/stacklok/provider-mirror/internal/versions"
)

func strPtr(s string) *string {
	return &s
}

func record(t *testing.T, cfg config.ProviderConfig) *provider.Record {
	t.Helper()
	logger, _ := logtest.New()
	return provider.NewRecord(cfg, logger)
}

// manifestVersions matches a manifest whose single provider carries want
func manifestVersions(namespace, name string, want ...string) gomock.Matcher {
	return gomock.Cond(func(x any) bool {
		m, ok := x.(*manifest.Manifest)
		if !ok || len(m.Providers) != 1 {
			return false
		}
		p := m.Providers[0]
		if p.Namespace != namespace || p.Name != name || len(p.Versions) != len(want) {
			return false
		}
		for i := range want {
			if p.Versions[i] != want[i] {
				return false
			}
		}
		return true
	})
}

func TestEngine_Reconcile_FloorFiltering(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	client := registrymocks.NewMockClient(ctrl)
	writer := manifestmocks.NewMockWriter(ctrl)
	logger, records := logtest.New()

	client.EXPECT().FetchVersions(gomock.Any(), "hashicorp", "aws").
		Return([]string{"3.9.0", "4.0.0", "4.1.2", "bad-version"}, nil)
	writer.EXPECT().Write(gomock.Any(), manifestVersions("hashicorp", "aws", "4.0.0", "4.1.2")).
		Return("out/hashicorp-aws.json", nil)

	engine := NewEngine(client, writer, WithLogger(logger))
	out := engine.Reconcile(context.Background(), record(t, config.ProviderConfig{
		Namespace:      "hashicorp",
		Name:           "aws",
		MinimalVersion: strPtr("4.0.0"),
	}))

	require.NoError(t, out.Err)
	assert.Equal(t, []string{"4.0.0", "4.1.2"}, versions.Strings(out.Versions))
	assert.Equal(t, "out/hashicorp-aws.json", out.ManifestPath)
	assert.Equal(t, []string{"3.9.0", "4.0.0", "4.1.2", "bad-version"}, out.Fetched)
	assert.Equal(t, 1, records.Count("Invalid version"))
}

func TestEngine_Reconcile_Filtering(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     config.ProviderConfig
		fetched []string
		strict  bool
		want    []string
	}{
		{
			name:    "no constraint keeps every parseable version sorted",
			cfg:     config.ProviderConfig{Namespace: "hashicorp", Name: "random"},
			fetched: []string{"3.1.0", "1.0.0", "2.0.0"},
			want:    []string{"1.0.0", "2.0.0", "3.1.0"},
		},
		{
			name: "allow-list pin below the floor",
			cfg: config.ProviderConfig{
				Namespace: "hashicorp", Name: "aws",
				MinimalVersion: strPtr("4.0.0"), Versions: []string{"3.5.0"},
			},
			fetched: []string{"3.4.0", "3.5.0", "3.9.0", "4.0.0", "4.2.0"},
			want:    []string{"3.5.0", "4.0.0", "4.2.0"},
		},
		{
			name:    "open minimal version stays on its major line",
			cfg:     config.ProviderConfig{Namespace: "hashicorp", Name: "google", MinimalVersion: strPtr("5.2+")},
			fetched: []string{"5.1.0", "5.2.0", "5.9.3", "6.0.0"},
			want:    []string{"5.2.0", "5.9.3"},
		},
		{
			name:    "prerelease below floor base is excluded",
			cfg:     config.ProviderConfig{Namespace: "hashicorp", Name: "aws", MinimalVersion: strPtr("4.0.0")},
			fetched: []string{"4.0.0-beta1", "4.0.0"},
			want:    []string{"4.0.0"},
		},
		{
			name:    "strict gate drops prerelease and short forms",
			cfg:     config.ProviderConfig{Namespace: "hashicorp", Name: "aws"},
			fetched: []string{"1.0.0", "1.1.0-rc.1", "2", "2.1"},
			strict:  true,
			want:    []string{"1.0.0", "2.1.0"},
		},
		{
			name: "malformed-only allow-list with floor falls back to the floor",
			cfg: config.ProviderConfig{
				Namespace: "hashicorp", Name: "aws",
				MinimalVersion: strPtr("4.0.0"), Versions: []string{"bad-version", "x.y.z"},
			},
			fetched: []string{"3.5.0", "4.0.0", "4.1.2"},
			want:    []string{"4.0.0", "4.1.2"},
		},
		{
			name: "malformed-only allow-list without floor keeps everything",
			cfg: config.ProviderConfig{
				Namespace: "hashicorp", Name: "aws",
				Versions: []string{"bad-version"},
			},
			fetched: []string{"2.0.0", "1.0.0"},
			want:    []string{"1.0.0", "2.0.0"},
		},
		{
			name:    "lenient mode keeps prerelease",
			cfg:     config.ProviderConfig{Namespace: "hashicorp", Name: "aws"},
			fetched: []string{"1.1.0-rc.1", "1.0.0"},
			want:    []string{"1.0.0", "1.1.0-rc.1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			client := registrymocks.NewMockClient(ctrl)
			writer := manifestmocks.NewMockWriter(ctrl)
			logger, _ := logtest.New()

			client.EXPECT().FetchVersions(gomock.Any(), tt.cfg.Namespace, tt.cfg.Name).Return(tt.fetched, nil)
			writer.EXPECT().Write(gomock.Any(), manifestVersions(tt.cfg.Namespace, tt.cfg.Name, tt.want...)).
				Return(filepath.Join("out", manifest.FileName(tt.cfg.Namespace, tt.cfg.Name)), nil)

			engine := NewEngine(client, writer, WithLogger(logger), WithStrictSemver(tt.strict))
			out := engine.Reconcile(context.Background(), record(t, tt.cfg))

			require.NoError(t, out.Err)
			assert.Equal(t, tt.want, versions.Strings(out.Versions))
		})
	}
}

func TestEngine_Reconcile_EmptyResultWritesNothing(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	client := registrymocks.NewMockClient(ctrl)
	writer := manifestmocks.NewMockWriter(ctrl)
	logger, records := logtest.New()

	client.EXPECT().FetchVersions(gomock.Any(), "hashicorp", "aws").Return([]string{"1.0.0", "2.0.0"}, nil)
	writer.EXPECT().Write(gomock.Any(), gomock.Any()).Times(0)

	out := NewEngine(client, writer, WithLogger(logger)).Reconcile(context.Background(),
		record(t, config.ProviderConfig{Namespace: "hashicorp", Name: "aws", MinimalVersion: strPtr("9.0.0")}))

	require.NoError(t, out.Err)
	assert.Empty(t, out.Versions)
	assert.Empty(t, out.ManifestPath)
	assert.Equal(t, 1, records.Count("Minimal version is newer than every published version"))
}

func TestEngine_Reconcile_FloorWithinPublishedRangeDoesNotWarn(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	client := registrymocks.NewMockClient(ctrl)
	writer := manifestmocks.NewMockWriter(ctrl)
	logger, records := logtest.New()

	client.EXPECT().FetchVersions(gomock.Any(), "hashicorp", "aws").Return([]string{"1.0.0", "2.0.0", "garbage"}, nil)
	writer.EXPECT().Write(gomock.Any(), manifestVersions("hashicorp", "aws", "2.0.0")).Return("out/hashicorp-aws.json", nil)

	out := NewEngine(client, writer, WithLogger(logger)).Reconcile(context.Background(),
		record(t, config.ProviderConfig{Namespace: "hashicorp", Name: "aws", MinimalVersion: strPtr("2.0.0")}))

	require.NoError(t, out.Err)
	assert.Zero(t, records.Count("Minimal version is newer than every published version"))
}

func TestEngine_Run_FetchFailureDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	client := registrymocks.NewMockClient(ctrl)
	writer := manifestmocks.NewMockWriter(ctrl)
	logger, records := logtest.New()
	fetchErr := errors.New("failed to fetch versions for hashicorp/nope: HTTP 404")

	gomock.InOrder(
		client.EXPECT().FetchVersions(gomock.Any(), "hashicorp", "nope").Return(nil, fetchErr),
		client.EXPECT().FetchVersions(gomock.Any(), "hashicorp", "aws").Return([]string{"4.1.0"}, nil),
	)
	writer.EXPECT().Write(gomock.Any(), manifestVersions("hashicorp", "aws", "4.1.0")).
		Return("out/hashicorp-aws.json", nil)

	outcomes := NewEngine(client, writer, WithLogger(logger)).Run(context.Background(), []*provider.Record{
		record(t, config.ProviderConfig{Namespace: "hashicorp", Name: "nope"}),
		record(t, config.ProviderConfig{Namespace: "hashicorp", Name: "aws"}),
	})

	require.Len(t, outcomes, 2)
	assert.ErrorIs(t, outcomes[0].Err, fetchErr)
	assert.Empty(t, outcomes[0].Versions)
	assert.Nil(t, outcomes[0].Fetched)
	assert.Empty(t, outcomes[0].ManifestPath)

	require.NoError(t, outcomes[1].Err)
	assert.Equal(t, "out/hashicorp-aws.json", outcomes[1].ManifestPath)

	assert.Equal(t, []string{"out/hashicorp-aws.json"}, ManifestPaths(outcomes))
	assert.Equal(t, 1, records.Count("Failed to fetch versions"))
}

func TestEngine_Run_WriteFailureIsRecorded(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	client := registrymocks.NewMockClient(ctrl)
	writer := manifestmocks.NewMockWriter(ctrl)
	logger, records := logtest.New()

	client.EXPECT().FetchVersions(gomock.Any(), gomock.Any(), gomock.Any()).Return([]string{"1.0.0"}, nil).Times(2)
	gomock.InOrder(
		writer.EXPECT().Write(gomock.Any(), gomock.Any()).Return("", errors.New("disk full")),
		writer.EXPECT().Write(gomock.Any(), gomock.Any()).Return("out/hashicorp-google.json", nil),
	)

	outcomes := NewEngine(client, writer, WithLogger(logger)).Run(context.Background(), []*provider.Record{
		record(t, config.ProviderConfig{Namespace: "hashicorp", Name: "aws"}),
		record(t, config.ProviderConfig{Namespace: "hashicorp", Name: "google"}),
	})

	require.Len(t, outcomes, 2)
	require.Error(t, outcomes[0].Err)
	assert.Empty(t, outcomes[0].ManifestPath)
	assert.Equal(t, []string{"out/hashicorp-google.json"}, ManifestPaths(outcomes))
	assert.Equal(t, 1, records.Count("Failed to write manifest"))
}

func TestEngine_Run_CancelledContext(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	client := registrymocks.NewMockClient(ctrl)
	writer := manifestmocks.NewMockWriter(ctrl)
	logger, _ := logtest.New()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client.EXPECT().FetchVersions(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	outcomes := NewEngine(client, writer, WithLogger(logger)).Run(ctx, []*provider.Record{
		record(t, config.ProviderConfig{Namespace: "hashicorp", Name: "aws"}),
	})

	require.Len(t, outcomes, 1)
	assert.ErrorIs(t, outcomes[0].Err, context.Canceled)
}

func TestEngine_Run_WithFileWriter(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	client := registrymocks.NewMockClient(ctrl)
	logger, _ := logtest.New()
	dir := t.TempDir()

	client.EXPECT().FetchVersions(gomock.Any(), "hashicorp", "aws").Return([]string{"4.1.2", "4.0.0"}, nil)
	client.EXPECT().FetchVersions(gomock.Any(), "hashicorp", "aws").Return([]string{"5.0.0"}, nil)

	engine := NewEngine(client, manifest.NewFileWriter(dir), WithLogger(logger))
	outcomes := engine.Run(context.Background(), []*provider.Record{
		record(t, config.ProviderConfig{Namespace: "hashicorp", Name: "aws"}),
		record(t, config.ProviderConfig{Namespace: "hashicorp", Name: "aws"}),
	})

	paths := ManifestPaths(outcomes)
	require.Len(t, paths, 2)
	assert.Equal(t, paths[0], paths[1], "duplicate providers share a manifest file")

	m := manifesttest.Read(t, paths[1])
	assert.Equal(t, []string{"5.0.0"}, m.Providers[0].Versions, "last write wins")
}

func TestManifestPaths_Empty(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{}, ManifestPaths(nil))
}
