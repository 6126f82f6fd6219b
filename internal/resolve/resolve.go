// Package resolve links mention strings in canonical records to
// persistent entities. Matching walks a ladder: exact normalized name,
// then known alias, then fuzzy similarity above the configured
// threshold, and finally entity creation. Creation is serialized so
// concurrent batches cannot mint duplicate entities.
package resolve

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/halcyonbio/pharmawatch/internal/analyze"
	"github.com/halcyonbio/pharmawatch/internal/normalize"
	"github.com/halcyonbio/pharmawatch/internal/text"
)

const (
	KindCompany = "company"
	KindDrug    = "drug"
	KindKOL     = "kol"
)

const (
	BasisExact   = "exact"
	BasisAlias   = "alias"
	BasisFuzzy   = "fuzzy"
	BasisCreated = "new"
)

// nearMissBand widens the audit window: fuzzy scores within this band
// below the threshold are recorded even though the mention created a
// new entity.
const nearMissBand = 0.1

// entityKinds fixes the scan order so resolution output is
// deterministic.
var entityKinds = []string{KindCompany, KindDrug, KindKOL}

// Entity is one resolved entity row.
type Entity struct {
	ID             int64
	UUID           string
	Kind           string
	Name           string
	NormalizedName string
	LinkCount      int
}

// Alias is one known surface form of an entity. Canonical names appear
// here too.
type Alias struct {
	EntityID   int64
	Kind       string
	Alias      string
	Normalized string
}

// Match is one resolved mention for a record.
type Match struct {
	Entity     *Entity
	Mention    string
	Confidence float64
	Basis      string
	Created    bool
	Merged     bool
}

// Audit records a fuzzy resolution decision for later review.
type Audit struct {
	RecordUUID         string
	Kind               string
	Mention            string
	WinnerEntityID     int64
	Similarity         float64
	RunnerUpEntityID   *int64
	RunnerUpSimilarity *float64
}

// Store is the persistence surface the resolver needs.
//
// CreateEntity returns created=false when a concurrent writer already
// owns the normalized name; implementations resolve the unique
// conflict by returning the existing row. CreateAlias ignores
// conflicts the same way.
type Store interface {
	ListEntities(ctx context.Context) ([]Entity, error)
	ListAliases(ctx context.Context) ([]Alias, error)
	CreateEntity(ctx context.Context, kind, name, normalized string) (*Entity, bool, error)
	CreateAlias(ctx context.Context, entityID int64, kind, alias, normalized string) error
	RecordAudit(ctx context.Context, audit Audit) error
}

// NormalizeName reduces an entity name or mention to its matching key:
// lowercase tokens joined by single spaces, punctuation dropped.
func NormalizeName(raw string) string {
	return strings.Join(text.Tokenize(raw), " ")
}

type scanEntry struct {
	padded   string
	display  string
	entityID int64
}

type Resolver struct {
	store     Store
	threshold float64
	logger    zerolog.Logger

	mu        sync.Mutex
	entities  map[int64]*Entity
	aliases   map[string]map[string]int64
	aliasRows []Alias
	scan      map[string][]scanEntry
	scanStale bool
}

func New(store Store, threshold float64, logger zerolog.Logger) *Resolver {
	return &Resolver{
		store:     store,
		threshold: threshold,
		logger:    logger,
		entities:  make(map[int64]*Entity),
		aliases:   make(map[string]map[string]int64),
		scan:      make(map[string][]scanEntry),
		scanStale: true,
	}
}

// Load replaces the in-memory index from the store. Call it at batch
// start so fuzzy candidates and link counts are current.
func (r *Resolver) Load(ctx context.Context) error {
	entities, err := r.store.ListEntities(ctx)
	if err != nil {
		return fmt.Errorf("list entities: %w", err)
	}
	aliasRows, err := r.store.ListAliases(ctx)
	if err != nil {
		return fmt.Errorf("list entity aliases: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.entities = make(map[int64]*Entity, len(entities))
	for i := range entities {
		entity := entities[i]
		r.entities[entity.ID] = &entity
	}

	r.aliases = make(map[string]map[string]int64)
	r.aliasRows = aliasRows
	for _, alias := range aliasRows {
		r.indexAliasLocked(alias)
	}

	// Canonical names double as aliases. Index them even when the
	// alias table is missing the self-referential row.
	for i := range entities {
		entity := entities[i]
		if _, ok := r.aliases[entity.Kind][entity.NormalizedName]; ok {
			continue
		}
		alias := Alias{EntityID: entity.ID, Kind: entity.Kind, Alias: entity.Name, Normalized: entity.NormalizedName}
		r.indexAliasLocked(alias)
		r.aliasRows = append(r.aliasRows, alias)
	}

	r.scanStale = true
	return nil
}

// Resolve maps every mention in the canonical record to an entity.
// One entity links at most once per record.
func (r *Resolver) Resolve(ctx context.Context, recordUUID string, canonical *normalize.Canonical) ([]Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	matches := make([]Match, 0, 4)
	claimed := make(map[int64]struct{})
	seen := make(map[string]struct{})

	for _, m := range structuredMentions(canonical) {
		key := NormalizeName(m.text)
		if key == "" {
			continue
		}
		dedupKey := m.kind + "\x00" + key
		if _, dup := seen[dedupKey]; dup {
			continue
		}
		seen[dedupKey] = struct{}{}

		match, err := r.resolveMentionLocked(ctx, recordUUID, m.kind, m.text, key)
		if err != nil {
			return nil, err
		}
		if match == nil {
			continue
		}
		if _, taken := claimed[match.Entity.ID]; taken {
			continue
		}
		claimed[match.Entity.ID] = struct{}{}
		matches = append(matches, *match)
	}

	// Authors link only when a kol entity already exists. Minting new
	// kol entities is reserved for recurring authors, which the caller
	// drives through ResolveAuthor once per batch.
	for _, author := range canonical.Authors {
		key := NormalizeName(author)
		if key == "" {
			continue
		}
		match := r.aliasMatchLocked(KindKOL, author, key)
		if match == nil {
			continue
		}
		if _, taken := claimed[match.Entity.ID]; taken {
			continue
		}
		claimed[match.Entity.ID] = struct{}{}
		matches = append(matches, *match)
	}

	matches = append(matches, r.scanTextLocked(canonical.Title+" "+canonical.BodyText, claimed)...)
	return matches, nil
}

// ResolveAuthor maps a recurring publication author to a kol entity,
// walking the full ladder and creating the entity when nothing matches.
func (r *Resolver) ResolveAuthor(ctx context.Context, recordUUID, author string) (*Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := NormalizeName(author)
	if key == "" {
		return nil, nil
	}
	return r.resolveMentionLocked(ctx, recordUUID, KindKOL, author, key)
}

type mention struct {
	kind string
	text string
}

func structuredMentions(canonical *normalize.Canonical) []mention {
	mentions := make([]mention, 0, 8)
	if canonical.Sponsor != nil {
		mentions = append(mentions, mention{kind: KindCompany, text: *canonical.Sponsor})
	}
	for _, name := range canonical.Interventions {
		mentions = append(mentions, mention{kind: KindDrug, text: name})
	}
	for _, name := range analyze.ExtractDrugNames(canonical.Title + " " + canonical.BodyText) {
		mentions = append(mentions, mention{kind: KindDrug, text: name})
	}
	return mentions
}

func (r *Resolver) aliasMatchLocked(kind, display, key string) *Match {
	id, ok := r.aliases[kind][key]
	if !ok {
		return nil
	}
	entity := r.entities[id]
	basis := BasisAlias
	if entity.NormalizedName == key {
		basis = BasisExact
	}
	return &Match{Entity: entity, Mention: display, Confidence: 1, Basis: basis}
}

func (r *Resolver) resolveMentionLocked(ctx context.Context, recordUUID, kind, display, key string) (*Match, error) {
	if match := r.aliasMatchLocked(kind, display, key); match != nil {
		return match, nil
	}

	winner, runnerUp := r.bestFuzzyLocked(kind, key)
	if winner != nil && winner.score >= r.threshold {
		audit := Audit{
			RecordUUID:     recordUUID,
			Kind:           kind,
			Mention:        display,
			WinnerEntityID: winner.entity.ID,
			Similarity:     winner.score,
		}
		if runnerUp != nil {
			runnerUpID := runnerUp.entity.ID
			runnerUpScore := runnerUp.score
			audit.RunnerUpEntityID = &runnerUpID
			audit.RunnerUpSimilarity = &runnerUpScore
		}
		if err := r.store.RecordAudit(ctx, audit); err != nil {
			return nil, fmt.Errorf("record resolution audit: %w", err)
		}

		// Remember the surface form so the next occurrence is an
		// alias hit instead of a fuzzy rescan.
		if err := r.store.CreateAlias(ctx, winner.entity.ID, kind, strings.TrimSpace(display), key); err != nil {
			r.logger.Warn().
				Err(err).
				Str("kind", kind).
				Str("alias", display).
				Msg("alias write failed, fuzzy match still applied")
		} else {
			r.indexAliasLocked(Alias{EntityID: winner.entity.ID, Kind: kind, Alias: strings.TrimSpace(display), Normalized: key})
			r.aliasRows = append(r.aliasRows, Alias{EntityID: winner.entity.ID, Kind: kind, Alias: strings.TrimSpace(display), Normalized: key})
			r.scanStale = true
		}

		return &Match{Entity: winner.entity, Mention: display, Confidence: winner.score, Basis: BasisFuzzy}, nil
	}

	entity, created, err := r.store.CreateEntity(ctx, kind, strings.TrimSpace(display), key)
	if err != nil {
		return nil, fmt.Errorf("create %s entity %q: %w", kind, display, err)
	}

	r.entities[entity.ID] = entity
	r.indexAliasLocked(Alias{EntityID: entity.ID, Kind: kind, Alias: entity.Name, Normalized: entity.NormalizedName})
	r.aliasRows = append(r.aliasRows, Alias{EntityID: entity.ID, Kind: kind, Alias: entity.Name, Normalized: entity.NormalizedName})
	r.scanStale = true

	if created && winner != nil && winner.score >= r.threshold-nearMissBand {
		runnerUpID := winner.entity.ID
		runnerUpScore := winner.score
		audit := Audit{
			RecordUUID:         recordUUID,
			Kind:               kind,
			Mention:            display,
			WinnerEntityID:     entity.ID,
			Similarity:         1,
			RunnerUpEntityID:   &runnerUpID,
			RunnerUpSimilarity: &runnerUpScore,
		}
		if err := r.store.RecordAudit(ctx, audit); err != nil {
			return nil, fmt.Errorf("record near-miss audit: %w", err)
		}
	}

	basis := BasisCreated
	if !created {
		basis = BasisAlias
	}
	return &Match{Entity: entity, Mention: display, Confidence: 1, Basis: basis, Created: created, Merged: !created}, nil
}

type fuzzyCandidate struct {
	entity *Entity
	score  float64
}

func (r *Resolver) bestFuzzyLocked(kind, key string) (*fuzzyCandidate, *fuzzyCandidate) {
	perEntity := make(map[int64]float64)
	for aliasKey, entityID := range r.aliases[kind] {
		score := fuzzyScore(key, aliasKey)
		if score > perEntity[entityID] {
			perEntity[entityID] = score
		}
	}
	if len(perEntity) == 0 {
		return nil, nil
	}

	ids := make([]int64, 0, len(perEntity))
	for id := range perEntity {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var winner, runnerUp *fuzzyCandidate
	for _, id := range ids {
		candidate := &fuzzyCandidate{entity: r.entities[id], score: perEntity[id]}
		if winner == nil || betterCandidate(candidate, winner) {
			winner, runnerUp = candidate, winner
			continue
		}
		if runnerUp == nil || betterCandidate(candidate, runnerUp) {
			runnerUp = candidate
		}
	}
	return winner, runnerUp
}

// betterCandidate orders by similarity, then prior link count, then
// lower entity id.
func betterCandidate(a, b *fuzzyCandidate) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	if a.entity.LinkCount != b.entity.LinkCount {
		return a.entity.LinkCount > b.entity.LinkCount
	}
	return a.entity.ID < b.entity.ID
}

func fuzzyScore(left, right string) float64 {
	ratio := text.LevenshteinRatio(left, right)
	if overlap := text.TokenJaccard(left, right); overlap > ratio {
		return overlap
	}
	return ratio
}

// scanTextLocked links entities whose aliases appear verbatim in the
// record text. Longer aliases are tried first.
func (r *Resolver) scanTextLocked(blob string, claimed map[int64]struct{}) []Match {
	r.rebuildScanLocked()

	padded := " " + NormalizeName(blob) + " "
	var matches []Match
	for _, kind := range entityKinds {
		for _, entry := range r.scan[kind] {
			if _, taken := claimed[entry.entityID]; taken {
				continue
			}
			if !strings.Contains(padded, entry.padded) {
				continue
			}
			entity := r.entities[entry.entityID]
			claimed[entity.ID] = struct{}{}
			matches = append(matches, Match{Entity: entity, Mention: entry.display, Confidence: 1, Basis: BasisAlias})
		}
	}
	return matches
}

func (r *Resolver) rebuildScanLocked() {
	if !r.scanStale {
		return
	}

	r.scan = make(map[string][]scanEntry, len(entityKinds))
	for _, alias := range r.aliasRows {
		if alias.Normalized == "" {
			continue
		}
		r.scan[alias.Kind] = append(r.scan[alias.Kind], scanEntry{
			padded:   " " + alias.Normalized + " ",
			display:  alias.Alias,
			entityID: alias.EntityID,
		})
	}
	for _, kind := range entityKinds {
		entries := r.scan[kind]
		sort.SliceStable(entries, func(i, j int) bool {
			return len(entries[i].padded) > len(entries[j].padded)
		})
	}
	r.scanStale = false
}

func (r *Resolver) indexAliasLocked(alias Alias) {
	kindAliases, ok := r.aliases[alias.Kind]
	if !ok {
		kindAliases = make(map[string]int64)
		r.aliases[alias.Kind] = kindAliases
	}
	if _, exists := kindAliases[alias.Normalized]; !exists {
		kindAliases[alias.Normalized] = alias.EntityID
	}
}
