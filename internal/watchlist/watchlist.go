// Package watchlist loads the YAML file that tells a scheduled run what
// to fetch: one query term per source, plus the companies to seed into
// the entity catalog before the first batch.
package watchlist

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/halcyonbio/pharmawatch/internal/resolve"
	"github.com/halcyonbio/pharmawatch/internal/source"
)

// Query is one fetch target: a term to run against a named source.
type Query struct {
	Source string `yaml:"source" json:"source"`
	Term   string `yaml:"term" json:"term"`
	Limit  int    `yaml:"limit,omitempty" json:"limit,omitempty"`
}

// Watchlist is the parsed file. Companies are optional; a file with
// queries only is valid.
type Watchlist struct {
	Queries   []Query               `yaml:"queries" json:"queries"`
	Companies []resolve.SeedCompany `yaml:"companies,omitempty" json:"companies,omitempty"`
}

// Load reads and parses a watchlist file.
func Load(path string) (*Watchlist, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("watchlist path is required")
	}

	data, err := os.ReadFile(trimmed)
	if err != nil {
		return nil, fmt.Errorf("read watchlist %q: %w", trimmed, err)
	}

	list, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse watchlist %q: %w", trimmed, err)
	}
	return list, nil
}

// Parse decodes watchlist YAML and validates every entry. Source names
// are lowercased; unknown sources are rejected here rather than at
// fetch time so a typo fails the whole run up front.
func Parse(data []byte) (*Watchlist, error) {
	var list Watchlist
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decode YAML: %w", err)
	}

	if len(list.Queries) == 0 {
		return nil, fmt.Errorf("watchlist has no queries")
	}

	for i := range list.Queries {
		query := &list.Queries[i]
		query.Source = strings.ToLower(strings.TrimSpace(query.Source))
		query.Term = strings.TrimSpace(query.Term)

		if query.Source == "" {
			return nil, fmt.Errorf("queries[%d]: source is required", i)
		}
		if !knownSource(query.Source) {
			return nil, fmt.Errorf("queries[%d]: unknown source %q", i, query.Source)
		}
		if query.Term == "" {
			return nil, fmt.Errorf("queries[%d]: term is required", i)
		}
		if query.Limit < 0 {
			return nil, fmt.Errorf("queries[%d]: limit must be >= 0", i)
		}
	}

	for i := range list.Companies {
		company := &list.Companies[i]
		company.Name = strings.TrimSpace(company.Name)
		if company.Name == "" {
			return nil, fmt.Errorf("companies[%d]: name is required", i)
		}
	}

	return &list, nil
}

func knownSource(name string) bool {
	switch name {
	case source.NameTrials, source.NamePubMed, source.NameFDA, source.NameNewswire:
		return true
	default:
		return false
	}
}
