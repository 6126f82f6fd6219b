// Package dedup decides what an incoming canonical record is relative
// to the stored corpus: a brand-new item, a refresh of the same
// source-native row, or a syndicated duplicate of a recently stored
// record. The pipeline acts on the decision; this package never writes.
package dedup

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/halcyonbio/pharmawatch/internal/normalize"
	"github.com/halcyonbio/pharmawatch/internal/text"
)

const (
	OutcomeNew       = "new"
	OutcomeRefresh   = "refresh"
	OutcomeDuplicate = "duplicate"
)

// Stored is the slice of a persisted record the checker compares
// against. PublishedAt is the zero time when the source gave none.
type Stored struct {
	ID             int64
	UUID           string
	Kind           string
	Source         string
	SourceNativeID string
	Title          string
	LeadText       string
	Status         string
	Phase          string
	PublishedAt    time.Time
	ContentHash    []byte
}

// Decision is the checker verdict for one incoming record.
//
// For OutcomeRefresh, Existing is the row to update and ContentChanged
// reports whether the body text moved, which forces re-analysis. For
// OutcomeDuplicate, Existing is the kept copy, Similarity the score
// that condemned the incoming record, and EarlierPublication is set
// when the incoming copy predates the kept one, so the kept record can
// adopt the earliest publication time.
type Decision struct {
	Outcome            string
	Existing           *Stored
	Similarity         float64
	ContentChanged     bool
	EarlierPublication *time.Time
}

// Store is the read path the checker needs.
type Store interface {
	// FindBySourceID returns nil when no record holds the pair.
	FindBySourceID(ctx context.Context, source, nativeID string) (*Stored, error)
	// ListKindSince returns records of the kind published at or after
	// since.
	ListKindSince(ctx context.Context, kind string, since time.Time) ([]Stored, error)
}

type Checker struct {
	store     Store
	threshold float64
	window    time.Duration
}

func New(store Store, threshold float64, window time.Duration) *Checker {
	return &Checker{store: store, threshold: threshold, window: window}
}

// Check classifies the incoming record. The primary key is the
// (source, source-native id) pair; the secondary check catches the
// same story syndicated under a different identifier within the
// configured window.
func (c *Checker) Check(ctx context.Context, canonical *normalize.Canonical) (*Decision, error) {
	existing, err := c.store.FindBySourceID(ctx, canonical.Source, canonical.SourceNativeID)
	if err != nil {
		return nil, fmt.Errorf("look up record %s/%s: %w", canonical.Source, canonical.SourceNativeID, err)
	}
	if existing != nil {
		return &Decision{
			Outcome:        OutcomeRefresh,
			Existing:       existing,
			ContentChanged: !bytes.Equal(existing.ContentHash, canonical.ContentHash),
		}, nil
	}

	if c.window <= 0 || canonical.PublishedAt.IsZero() {
		return &Decision{Outcome: OutcomeNew}, nil
	}

	candidates, err := c.store.ListKindSince(ctx, canonical.Kind, canonical.PublishedAt.Add(-c.window))
	if err != nil {
		return nil, fmt.Errorf("list %s records in dedup window: %w", canonical.Kind, err)
	}

	subject := comparisonText(canonical.Title, canonical.LeadText)
	horizon := canonical.PublishedAt.Add(c.window)
	var best *Stored
	var bestScore float64
	for i := range candidates {
		candidate := &candidates[i]
		if candidate.Source == canonical.Source && candidate.SourceNativeID == canonical.SourceNativeID {
			continue
		}
		if candidate.PublishedAt.IsZero() || candidate.PublishedAt.After(horizon) {
			continue
		}
		score := text.TrigramJaccard(subject, comparisonText(candidate.Title, candidate.LeadText))
		if score < c.threshold {
			continue
		}
		if best == nil || closerDuplicate(candidate, score, best, bestScore) {
			best, bestScore = candidate, score
		}
	}
	if best == nil {
		return &Decision{Outcome: OutcomeNew}, nil
	}

	decision := &Decision{Outcome: OutcomeDuplicate, Existing: best, Similarity: bestScore}
	if canonical.PublishedAt.Before(best.PublishedAt) {
		published := canonical.PublishedAt
		decision.EarlierPublication = &published
	}
	return decision, nil
}

// closerDuplicate orders candidates by similarity, then earlier
// publication, then lower id.
func closerDuplicate(a *Stored, aScore float64, b *Stored, bScore float64) bool {
	if aScore != bScore {
		return aScore > bScore
	}
	if !a.PublishedAt.Equal(b.PublishedAt) {
		return a.PublishedAt.Before(b.PublishedAt)
	}
	return a.ID < b.ID
}

func comparisonText(title, lead string) string {
	if lead == "" {
		return title
	}
	return title + " " + lead
}

// RefreshPlan names the refreshable columns a same-key re-fetch may
// touch. Everything else on a stored record is immutable.
type RefreshPlan struct {
	UpdateStatus      bool
	UpdatePhase       bool
	UpdatePublishedAt bool
	ReanalyzeBody     bool
}

// MergePolicy computes the refresh plan for an incoming copy of an
// already-stored record.
func MergePolicy(existing *Stored, incoming *normalize.Canonical) RefreshPlan {
	plan := RefreshPlan{
		UpdateStatus:  incoming.Status != nil && *incoming.Status != existing.Status,
		UpdatePhase:   incoming.Phase != nil && *incoming.Phase != existing.Phase,
		ReanalyzeBody: !bytes.Equal(existing.ContentHash, incoming.ContentHash),
	}
	if !incoming.PublishedAt.IsZero() && !incoming.PublishedAt.Equal(existing.PublishedAt) {
		plan.UpdatePublishedAt = true
	}
	return plan
}

func (p RefreshPlan) Empty() bool {
	return !p.UpdateStatus && !p.UpdatePhase && !p.UpdatePublishedAt && !p.ReanalyzeBody
}
