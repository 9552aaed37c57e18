// Package manifest defines the per-provider manifest document and persists it to disk.
package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/stacklok/provider-mirror/internal/versions"
)

// Manifest is the document handed to the mirror tool
type Manifest struct {
	Providers []Provider `json:"providers"`
}

// Provider is one entry of a manifest
type Provider struct {
	Namespace string   `json:"namespace"`
	Name      string   `json:"name"`
	Versions  []string `json:"versions"`
}

// New builds a single-provider manifest from versions already sorted ascending
func New(namespace, name string, vs []versions.Version) *Manifest {
	return &Manifest{
		Providers: []Provider{{
			Namespace: namespace,
			Name:      name,
			Versions:  versions.Strings(vs),
		}},
	}
}

// FileName returns the manifest file name for namespace/name
func FileName(namespace, name string) string {
	return fmt.Sprintf("%s-%s.json", namespace, name)
}

//go:generate mockgen -destination=mocks/mock_writer.go -package=mocks -source=manifest.go Writer

// Writer persists manifests
type Writer interface {
	// Write stores m and returns the path it was written to
	Write(ctx context.Context, m *Manifest) (string, error)
}

// fileWriter implements Writer on the local filesystem
type fileWriter struct {
	outputDir string
}

// NewFileWriter creates a Writer that stores manifests under outputDir
func NewFileWriter(outputDir string) Writer {
	return &fileWriter{outputDir: outputDir}
}

// Write stores m as {namespace}-{name}.json. An existing file with the same name is replaced.
func (f *fileWriter) Write(_ context.Context, m *Manifest) (string, error) {
	if m == nil || len(m.Providers) == 0 {
		return "", fmt.Errorf("manifest has no providers")
	}
	p := m.Providers[0]

	if err := os.MkdirAll(f.outputDir, 0750); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	filePath := filepath.Join(f.outputDir, FileName(p.Namespace, p.Name))

	data, err := json.MarshalIndent(m, "", "    ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal manifest for %s/%s: %w", p.Namespace, p.Name, err)
	}
	data = append(data, '\n')

	// Write to temporary file first for atomic operation
	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return "", fmt.Errorf("failed to write temporary manifest file for %s/%s: %w", p.Namespace, p.Name, err)
	}

	if err := os.Rename(tempPath, filePath); err != nil {
		_ = os.Remove(tempPath)
		return "", fmt.Errorf("failed to rename manifest file for %s/%s: %w", p.Namespace, p.Name, err)
	}

	return filePath, nil
}
