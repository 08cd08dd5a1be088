// Package allowlist loads the per-kind allowlist and routes documents. Both
// are read once at startup and never modified afterwards.
package allowlist

import (
	"fmt"
	"os"

	"github.com/dagbolade/mcp-readonly-gateway/internal/pathguard"
	"gopkg.in/yaml.v3"
)

const (
	DefaultMaxRangeSeconds = 3600
	DefaultMaxStepSeconds  = 300
)

type NamedQuery struct {
	Name string `yaml:"name"`
	Expr string `yaml:"expr"`
}

// QuerySet is a backend base URL plus the only expressions callers may run
// against it, addressed by name.
type QuerySet struct {
	BaseURL string       `yaml:"base_url"`
	Queries []NamedQuery `yaml:"queries"`
}

// Lookup resolves a query name to its expression.
func (q QuerySet) Lookup(name string) (string, bool) {
	if name == "" {
		return "", false
	}
	for _, item := range q.Queries {
		if item.Name == name && item.Expr != "" {
			return item.Expr, true
		}
	}
	return "", false
}

type Backend struct {
	BaseURL string `yaml:"base_url"`
}

type Limits struct {
	MaxRangeSeconds int64 `yaml:"max_range_seconds"`
	MaxStepSeconds  int64 `yaml:"max_step_seconds"`
}

type Allowlist struct {
	Roots      []string `yaml:"roots"`
	Files      []string `yaml:"files"`
	Prometheus QuerySet `yaml:"prometheus"`
	Loki       QuerySet `yaml:"loki"`
	Qdrant     Backend  `yaml:"qdrant"`
	// BaseURL is the older top-level spelling of qdrant.base_url.
	BaseURL string `yaml:"base_url"`
	Limits  Limits `yaml:"limits"`
}

// Load reads and validates the allowlist at path. Roots and files are stored
// normalized.
func Load(path string) (*Allowlist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read allowlist: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Allowlist, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse allowlist: %w", err)
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("allowlist must be a mapping")
	}

	var a Allowlist
	err := doc.Content[0].Decode(&a)
	if err != nil {
		return nil, fmt.Errorf("decode allowlist: %w", err)
	}

	if a.Roots, err = normalizeEntries("roots", a.Roots); err != nil {
		return nil, err
	}
	if a.Files, err = normalizeEntries("files", a.Files); err != nil {
		return nil, err
	}

	if a.Limits.MaxRangeSeconds <= 0 {
		a.Limits.MaxRangeSeconds = DefaultMaxRangeSeconds
	}
	if a.Limits.MaxStepSeconds <= 0 {
		a.Limits.MaxStepSeconds = DefaultMaxStepSeconds
	}

	return &a, nil
}

// QdrantURL returns the vector search base URL.
func (a *Allowlist) QdrantURL() string {
	if a.Qdrant.BaseURL != "" {
		return a.Qdrant.BaseURL
	}
	return a.BaseURL
}

func normalizeEntries(field string, entries []string) ([]string, error) {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		rel := pathguard.Normalize(e)
		if rel == "" || rel == "." || pathguard.Escapes(rel) {
			return nil, fmt.Errorf("allowlist %s: %q does not name a path inside the repository", field, e)
		}
		out = append(out, rel)
	}
	return out, nil
}
