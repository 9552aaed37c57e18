// Package config provides loading and validation of the provider declaration file.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is the declaration file used when none is given
const DefaultConfigPath = "provider_versions.json"

const schemaURL = "https://stacklok.dev/schemas/provider-mirror/provider_versions.json"

//go:embed schema.json
var schemaJSON []byte

var (
	compiledSchema     *jsonschema.Schema
	compiledSchemaErr  error
	compiledSchemaOnce sync.Once
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a JSON or YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		// Validate the path to prevent path traversal attacks
		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	Providers []ProviderConfig `json:"providers" yaml:"providers"`
}

// ProviderConfig declares one provider and its version constraints
type ProviderConfig struct {
	// Namespace is the registry namespace, e.g. "hashicorp"
	Namespace string `json:"namespace" yaml:"namespace"`

	// Name is the provider name within the namespace, e.g. "aws"
	Name string `json:"name" yaml:"name"`

	// MinimalVersion is the optional floor. A trailing "+" restricts the
	// floor to its major version line.
	MinimalVersion *string `json:"minimal_version,omitempty" yaml:"minimal_version,omitempty"`

	// Versions are extra versions to keep below the floor
	Versions []string `json:"versions,omitempty" yaml:"versions,omitempty"`
}

// ID returns namespace/name
func (p ProviderConfig) ID() string {
	return p.Namespace + "/" + p.Name
}

// LoadConfig loads, schema-checks and validates the provider declaration file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	// Read the entire file into memory
	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data, filepath.Ext(loaderCfg.path))
}

// Parse decodes a declaration document. ext selects the format: ".yaml" and ".yml" are
// YAML, anything else is JSON with comments and trailing commas allowed.
func Parse(data []byte, ext string) (*Config, error) {
	standard, err := toJSON(data, ext)
	if err != nil {
		return nil, err
	}

	if err := validateSchema(standard); err != nil {
		return nil, fmt.Errorf("config does not match schema: %w", err)
	}

	var config Config
	if err := json.Unmarshal(standard, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// toJSON converts the raw document to standard JSON
func toJSON(data []byte, ext string) ([]byte, error) {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		var root yaml.Node
		if err := yaml.Unmarshal(data, &root); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
		quoteVersionScalars(&root)
		var doc any
		if err := root.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
		out, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to convert YAML config: %w", err)
		}
		return out, nil
	default:
		out, err := hujson.Standardize(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
		return out, nil
	}
}

// versionKeys are the mapping keys whose values are version strings
var versionKeys = map[string]bool{"minimal_version": true, "versions": true}

// quoteVersionScalars retags unquoted numeric scalars under versionKeys as strings,
// so that minimal_version: 4.0 keeps its source text instead of decoding as a float.
func quoteVersionScalars(n *yaml.Node) {
	if n.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(n.Content); i += 2 {
			key, value := n.Content[i], n.Content[i+1]
			if versionKeys[key.Value] {
				retagNumbers(value)
				continue
			}
			quoteVersionScalars(value)
		}
		return
	}
	for _, child := range n.Content {
		quoteVersionScalars(child)
	}
}

func retagNumbers(n *yaml.Node) {
	switch n.Kind {
	case yaml.ScalarNode:
		if n.Tag == "!!int" || n.Tag == "!!float" {
			n.Tag = "!!str"
		}
	case yaml.SequenceNode:
		for _, item := range n.Content {
			retagNumbers(item)
		}
	}
}

func schema() (*jsonschema.Schema, error) {
	compiledSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
		if err != nil {
			compiledSchemaErr = fmt.Errorf("failed to read embedded schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, doc); err != nil {
			compiledSchemaErr = fmt.Errorf("failed to add embedded schema: %w", err)
			return
		}
		compiledSchema, compiledSchemaErr = c.Compile(schemaURL)
	})
	return compiledSchema, compiledSchemaErr
}

func validateSchema(data []byte) error {
	sch, err := schema()
	if err != nil {
		return err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return err
	}
	return sch.Validate(inst)
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	for i, p := range c.Providers {
		prefix := fmt.Sprintf("provider[%d] (%s)", i, p.ID())

		if strings.TrimSpace(p.Namespace) == "" {
			return fmt.Errorf("%s: namespace is required", prefix)
		}
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("%s: name is required", prefix)
		}
		if strings.ContainsAny(p.Namespace+p.Name, `/\`) {
			return fmt.Errorf("%s: namespace and name must not contain path separators", prefix)
		}
	}

	return nil
}
