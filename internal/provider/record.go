// Package provider holds the per-provider declaration used during a run.
package provider

import (
	"log/slog"
	"strings"

	"github.com/stacklok/provider-mirror/internal/config"
	"github.com/stacklok/provider-mirror/internal/constraint"
	"github.com/stacklok/provider-mirror/internal/versions"
)

// Record is one declared provider. ValidVersions is computed once, at construction.
type Record struct {
	Namespace      string
	Name           string
	Declared       []string
	MinimalVersion *versions.Version

	validVersions []versions.Version
}

// NewRecord builds a Record from its declaration. An unparseable minimal version is logged
// and treated as absent.
func NewRecord(cfg config.ProviderConfig, logger *slog.Logger) *Record {
	logger = logger.With("provider", cfg.ID())

	r := &Record{
		Namespace: cfg.Namespace,
		Name:      cfg.Name,
		Declared:  append([]string(nil), cfg.Versions...),
	}

	if cfg.MinimalVersion != nil && strings.TrimSpace(*cfg.MinimalVersion) != "" {
		minimal, err := versions.Parse(*cfg.MinimalVersion)
		if err != nil {
			logger.Warn("Invalid minimal version, no floor applied",
				"minimal_version", *cfg.MinimalVersion,
				"error", err)
		} else {
			r.MinimalVersion = &minimal
		}
	}

	r.validVersions = constraint.SelfValidate(r.Declared, r.MinimalVersion, logger)
	return r
}

// NewRecords builds a Record for every declared provider, in declaration order
func NewRecords(cfg *config.Config, logger *slog.Logger) []*Record {
	records := make([]*Record, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		records = append(records, NewRecord(p, logger))
	}
	return records
}

// ID returns namespace/name
func (r *Record) ID() string {
	return r.Namespace + "/" + r.Name
}

// ValidVersions returns a copy of the declared versions that passed self-validation, ascending
func (r *Record) ValidVersions() []versions.Version {
	return append([]versions.Version(nil), r.validVersions...)
}

// Policy returns the fetch-time rule for this provider
func (r *Record) Policy() constraint.Policy {
	return constraint.NewPolicy(r.validVersions, r.MinimalVersion)
}
