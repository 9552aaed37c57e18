// Package summary aggregates the per-manifest mirror results of a run.
package summary

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
)

// Entry is the result of mirroring one manifest
type Entry struct {
	ManifestPath string
	// ExitCode is the mirror command's exit status, or -1 when it never produced one
	ExitCode int
	Err      error
	Duration time.Duration
}

// Failed reports whether the mirror attempt did not succeed
func (e Entry) Failed() bool {
	return e.Err != nil || e.ExitCode != 0
}

// Reason describes the outcome for humans
func (e Entry) Reason() string {
	switch {
	case e.Err != nil:
		return e.Err.Error()
	case e.ExitCode != 0:
		return "exit status " + strconv.Itoa(e.ExitCode)
	default:
		return "ok"
	}
}

// ProviderResult is what reconciliation produced for one provider
type ProviderResult struct {
	Provider     string `json:"provider"`
	Versions     int    `json:"versions"`
	ManifestPath string `json:"manifest_path,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Summary is the ordered record of a run. Entries is empty when mirroring was not requested.
type Summary struct {
	RunID     uuid.UUID
	StartedAt time.Time
	Providers []ProviderResult
	Entries   []Entry
}

// New creates an empty summary with a fresh run ID
func New() *Summary {
	return &Summary{
		RunID:     uuid.New(),
		StartedAt: time.Now().UTC(),
		Entries:   []Entry{},
	}
}

// Add appends a mirror result
func (s *Summary) Add(e Entry) {
	s.Entries = append(s.Entries, e)
}

// Failures returns the failed entries in order
func (s *Summary) Failures() []Entry {
	failures := []Entry{}
	for _, e := range s.Entries {
		if e.Failed() {
			failures = append(failures, e)
		}
	}
	return failures
}

// Degraded reports whether at least one mirror attempt failed
func (s *Summary) Degraded() bool {
	for _, e := range s.Entries {
		if e.Failed() {
			return true
		}
	}
	return false
}

// Render writes the provider and mirror tables to w
func (s *Summary) Render(w io.Writer) error {
	if len(s.Providers) > 0 {
		table := tablewriter.NewWriter(w)
		table.Header("Provider", "Versions", "Manifest", "Error")
		for _, p := range s.Providers {
			if err := table.Append([]string{p.Provider, strconv.Itoa(p.Versions), p.ManifestPath, p.Error}); err != nil {
				return fmt.Errorf("failed to render provider row: %w", err)
			}
		}
		if err := table.Render(); err != nil {
			return fmt.Errorf("failed to render provider table: %w", err)
		}
	}

	if len(s.Entries) > 0 {
		table := tablewriter.NewWriter(w)
		table.Header("Manifest", "Exit code", "Duration", "Result")
		for _, e := range s.Entries {
			row := []string{e.ManifestPath, strconv.Itoa(e.ExitCode), e.Duration.Round(time.Millisecond).String(), e.Reason()}
			if err := table.Append(row); err != nil {
				return fmt.Errorf("failed to render mirror row: %w", err)
			}
		}
		if err := table.Render(); err != nil {
			return fmt.Errorf("failed to render mirror table: %w", err)
		}
	}

	_, err := fmt.Fprintf(w, "run %s: %d mirrored, %d failed\n",
		s.RunID, len(s.Entries)-len(s.Failures()), len(s.Failures()))
	return err
}

type entryJSON struct {
	ManifestPath string  `json:"manifest_path"`
	ExitCode     int     `json:"exit_code"`
	DurationSecs float64 `json:"duration_seconds"`
	Error        string  `json:"error,omitempty"`
}

type summaryJSON struct {
	RunID     string           `json:"run_id"`
	StartedAt time.Time        `json:"started_at"`
	Degraded  bool             `json:"degraded"`
	Providers []ProviderResult `json:"providers"`
	Entries   []entryJSON      `json:"mirror"`
}

// MarshalJSON encodes the summary with errors flattened to strings
func (s *Summary) MarshalJSON() ([]byte, error) {
	out := summaryJSON{
		RunID:     s.RunID.String(),
		StartedAt: s.StartedAt,
		Degraded:  s.Degraded(),
		Providers: s.Providers,
		Entries:   make([]entryJSON, 0, len(s.Entries)),
	}
	if out.Providers == nil {
		out.Providers = []ProviderResult{}
	}
	for _, e := range s.Entries {
		ej := entryJSON{ManifestPath: e.ManifestPath, ExitCode: e.ExitCode, DurationSecs: e.Duration.Seconds()}
		if e.Failed() {
			ej.Error = e.Reason()
		}
		out.Entries = append(out.Entries, ej)
	}
	return json.Marshal(out)
}

// Save writes the summary as JSON to path
func (s *Summary) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create summary directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	// Write to temporary file first for atomic operation
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary summary file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename summary file: %w", err)
	}

	return nil
}
