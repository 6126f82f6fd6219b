// Package source holds the external source adapters. Each adapter
// fetches raw records for one query window and returns them in the
// source's native shape; normalization happens downstream.
package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/halcyonbio/pharmawatch/internal/config"
)

const (
	NameTrials   = "trials"
	NamePubMed   = "pubmed"
	NameFDA      = "fda"
	NameNewswire = "newswire"
)

// ErrUnavailable reports a network or upstream failure. The batch is
// retried with backoff and never partially ingested.
var ErrUnavailable = errors.New("source unavailable")

// ErrRateLimited reports an upstream throttle response; callers back
// off before the next attempt.
var ErrRateLimited = errors.New("source rate limited")

// RawRecord is one record in the source's native shape, as decoded
// from the upstream response.
type RawRecord map[string]any

// Query bounds one fetch call.
type Query struct {
	Term  string
	Since time.Time
	Limit int
}

// Adapter fetches raw records for one query window.
type Adapter interface {
	Name() string
	Fetch(ctx context.Context, query Query) ([]RawRecord, error)
}

// Registry stores adapters by name.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

func (r *Registry) Register(adapter Adapter) error {
	if r == nil {
		return fmt.Errorf("registry is nil")
	}
	if adapter == nil {
		return fmt.Errorf("adapter is nil")
	}
	name := normalizeSourceName(adapter.Name())
	if name == "" {
		return fmt.Errorf("adapter name is required")
	}
	r.adapters[name] = adapter
	return nil
}

// Adapter resolves an adapter by name.
func (r *Registry) Adapter(name string) (Adapter, error) {
	if r == nil || len(r.adapters) == 0 {
		return nil, fmt.Errorf("no source adapters are registered")
	}
	resolved := normalizeSourceName(name)
	adapter, ok := r.adapters[resolved]
	if !ok {
		return nil, fmt.Errorf("source %q is not registered (available: %s)", resolved, strings.Join(r.Names(), ", "))
	}
	return adapter, nil
}

func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeSourceName(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// NewDefaultRegistry creates a registry with every built-in adapter
// registered against the configured endpoints.
func NewDefaultRegistry(cfg *config.Config, logger zerolog.Logger) *Registry {
	client := &http.Client{Timeout: cfg.SourceTimeout}

	registry := NewRegistry()
	_ = registry.Register(NewTrialsAdapter(cfg.TrialsBaseURL, client))
	_ = registry.Register(NewPubMedAdapter(cfg.PubMedBaseURL, cfg.PubMedAPIKey, client))
	_ = registry.Register(NewFDAAdapter(cfg.FDABaseURL, client))
	_ = registry.Register(NewNewswireAdapter(client, cfg.SourceTimeout, logger))
	return registry
}
