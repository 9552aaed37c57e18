// Package manifesttest provides helpers for asserting on manifests written to disk.
package manifesttest

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stacklok/provider-mirror/internal/manifest"
)

// Read loads the manifest at path, failing the test if it is missing or malformed
func Read(t *testing.T, path string) *manifest.Manifest {
	t.Helper()

	//nolint:gosec // test fixture path
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var m manifest.Manifest
	require.NoError(t, json.Unmarshal(data, &m))
	return &m
}
