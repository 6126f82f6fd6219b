// Package pipeline drives one ingest batch per source through the
// fetch, normalize, resolve, analyze, dedup and commit stages. Records
// inside a batch are handled one at a time so a bad record never takes
// its neighbors down; batches for different sources run concurrently
// through RunAll.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/halcyonbio/pharmawatch/internal/analyze"
	"github.com/halcyonbio/pharmawatch/internal/config"
	"github.com/halcyonbio/pharmawatch/internal/db"
	"github.com/halcyonbio/pharmawatch/internal/dedup"
	"github.com/halcyonbio/pharmawatch/internal/globaltime"
	"github.com/halcyonbio/pharmawatch/internal/normalize"
	"github.com/halcyonbio/pharmawatch/internal/resolve"
	"github.com/halcyonbio/pharmawatch/internal/source"
	"github.com/halcyonbio/pharmawatch/internal/text"
)

type Service struct {
	pool     *db.Pool
	sources  *source.Registry
	analyzer *analyze.Analyzer
	cfg      *config.Config
	logger   zerolog.Logger
}

func NewService(pool *db.Pool, sources *source.Registry, analyzer *analyze.Analyzer, cfg *config.Config, logger zerolog.Logger) *Service {
	return &Service{
		pool:     pool,
		sources:  sources,
		analyzer: analyzer,
		cfg:      cfg,
		logger:   logger,
	}
}

// BatchOptions selects what one batch fetches. A zero Since falls back
// to the stored checkpoint for (source, query).
type BatchOptions struct {
	Source string
	Query  string
	Limit  int
	Since  time.Time
}

// BatchResult reports what one batch did.
type BatchResult struct {
	RunUUID         string
	Source          string
	State           State
	Attempts        int
	Fetched         int
	Malformed       int
	Deduplicated    int
	Persisted       int
	EntitiesCreated int
	EntitiesMerged  int
	XrefsRecorded   int
}

// batchRun is the mutable state of one ingest run.
type batchRun struct {
	id       int64
	uuid     string
	source   string
	state    State
	attempts int
}

// workItem tracks one record through the batch stages.
type workItem struct {
	recordUUID  string
	canonical   *normalize.Canonical
	matches     []resolve.Match
	analysis    analyze.Result
	decision    *dedup.Decision
	dupOf       *workItem
	dupScore    float64
	repeatedKey bool
	skipped     bool
	recordID    int64
}

// reset clears per-attempt state so a conflict retry starts clean.
func (w *workItem) reset() {
	w.matches = nil
	w.analysis = analyze.Result{}
	w.decision = nil
	w.dupOf = nil
	w.dupScore = 0
	w.repeatedKey = false
	w.skipped = false
	w.recordID = 0
}

type batchCounts struct {
	skipped         int
	deduplicated    int
	persisted       int
	entitiesCreated int
	entitiesMerged  int
	xrefs           int
}

// RunBatch fetches one source and carries the results through to a
// committed batch. The returned result is filled in even when the
// batch fails.
func (s *Service) RunBatch(ctx context.Context, opts BatchOptions) (BatchResult, error) {
	adapter, err := s.sources.Adapter(opts.Source)
	if err != nil {
		return BatchResult{Source: opts.Source, State: StateFailed}, err
	}
	sourceName := adapter.Name()

	run, result, err := s.startRun(ctx, sourceName, opts.Query)
	if err != nil {
		return result, err
	}

	since := opts.Since
	if since.IsZero() {
		checkpoint, ok, err := loadCheckpointRow(ctx, s.pool, sourceName, opts.Query)
		if err != nil {
			return s.fail(ctx, run, result, err)
		}
		if ok {
			since = checkpoint
		}
	}
	windowEnd := globaltime.UTC()

	query := source.Query{Term: opts.Query, Since: since, Limit: opts.Limit}
	raw, err := s.fetchWithRetry(ctx, adapter, query, func(attempt int) {
		run.attempts = attempt
		if err := bumpRunAttemptRow(ctx, s.pool, run.id, attempt, globaltime.UTC()); err != nil {
			s.logger.Warn().Err(err).Int64("run_id", run.id).Msg("run attempt update failed")
		}
	})
	if err != nil {
		return s.fail(ctx, run, result, fmt.Errorf("fetch %s: %w", sourceName, err))
	}
	result.Fetched = len(raw)

	return s.ingest(ctx, run, result, raw, opts.Query, windowEnd)
}

// RunEnvelope ingests records captured offline. The batch skips the
// fetch stage and seeds its checkpoint window from the capture time.
func (s *Service) RunEnvelope(ctx context.Context, sourceName, query string, fetchedAt time.Time, raw []source.RawRecord) (BatchResult, error) {
	name := strings.ToLower(strings.TrimSpace(sourceName))
	switch name {
	case source.NameTrials, source.NamePubMed, source.NameFDA, source.NameNewswire:
	default:
		return BatchResult{Source: name, State: StateFailed}, fmt.Errorf("unknown source %q", sourceName)
	}

	run, result, err := s.startRun(ctx, name, query)
	if err != nil {
		return result, err
	}
	result.Fetched = len(raw)

	windowEnd := fetchedAt
	if windowEnd.IsZero() {
		windowEnd = globaltime.UTC()
	}
	return s.ingest(ctx, run, result, raw, query, windowEnd)
}

// RunAll executes one batch per entry, one goroutine per source. A
// failing batch does not cancel its siblings; the first error comes
// back after every batch finishes.
func (s *Service) RunAll(ctx context.Context, batches []BatchOptions) ([]BatchResult, error) {
	results := make([]BatchResult, len(batches))
	var group errgroup.Group
	for i, opts := range batches {
		group.Go(func() error {
			result, err := s.RunBatch(ctx, opts)
			results[i] = result
			return err
		})
	}
	err := group.Wait()
	return results, err
}

// SeedEntities preloads the entity catalog with watchlist companies and
// their alias rows. Companies already present are left untouched.
func (s *Service) SeedEntities(ctx context.Context, companies []resolve.SeedCompany) (int, int, error) {
	buf := &batchBuffer{}
	resolver := resolve.New(&resolveStore{pool: s.pool, buf: buf}, s.cfg.FuzzyMatchThreshold, s.logger)
	if err := resolver.Load(ctx); err != nil {
		return 0, 0, fmt.Errorf("load entity index: %w", err)
	}
	if _, err := resolver.Seed(ctx, companies); err != nil {
		return 0, 0, err
	}
	if len(buf.entities) == 0 && len(buf.aliases) == 0 {
		return 0, 0, nil
	}

	tx, err := s.pool.BeginTx(ctx, db.TxOptions{})
	if err != nil {
		return 0, 0, fmt.Errorf("begin seed transaction: %w", err)
	}
	now := globaltime.UTC()
	idMap, stats, err := flushEntitiesTx(ctx, tx, buf.entities, now)
	if err != nil {
		_ = tx.Rollback(ctx)
		return 0, 0, err
	}
	if err := flushAliasesTx(ctx, tx, buf.aliases, idMap, now); err != nil {
		_ = tx.Rollback(ctx)
		return 0, 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		_ = tx.Rollback(ctx)
		return 0, 0, fmt.Errorf("commit seed transaction: %w", err)
	}

	s.logger.Info().Int("created", stats.created).Int("merged", stats.merged).Msg("entity seed complete")
	return stats.created, stats.merged, nil
}

func (s *Service) startRun(ctx context.Context, sourceName, query string) (*batchRun, BatchResult, error) {
	runUUID := uuid.NewString()
	runID, err := createRunRow(ctx, s.pool, runUUID, sourceName, query, globaltime.UTC())
	if err != nil {
		return nil, BatchResult{Source: sourceName, State: StateFailed}, err
	}

	run := &batchRun{id: runID, uuid: runUUID, source: sourceName, state: StateFetching, attempts: 1}
	result := BatchResult{RunUUID: runUUID, Source: sourceName, State: StateFetching, Attempts: 1}
	s.logger.Info().Str("source", sourceName).Str("run_uuid", runUUID).Str("query", query).Msg("batch started")
	return run, result, nil
}

func (s *Service) ingest(ctx context.Context, run *batchRun, result BatchResult, raw []source.RawRecord, query string, windowEnd time.Time) (BatchResult, error) {
	if err := s.advance(ctx, run, StateNormalizing); err != nil {
		return s.fail(ctx, run, result, err)
	}

	items := make([]*workItem, 0, len(raw))
	for i, rawRecord := range raw {
		canonical, err := normalize.Normalize(run.source, rawRecord)
		if err != nil {
			result.Malformed++
			s.logger.Warn().Err(err).Str("source", run.source).Int("index", i).Msg("skipping malformed record")
			continue
		}
		items = append(items, &workItem{recordUUID: uuid.NewString(), canonical: canonical})
	}

	var (
		counts  batchCounts
		retried bool
	)
	for {
		var err error
		counts, err = s.processBatch(ctx, run, items, query, windowEnd)
		if err == nil {
			break
		}
		if !db.IsConflict(err) || retried {
			return s.fail(ctx, run, result, err)
		}
		retried = true
		run.attempts++
		s.logger.Warn().Err(err).Str("run_uuid", run.uuid).Msg("commit lost a write race, retrying batch once")
		if bumpErr := bumpRunAttemptRow(ctx, s.pool, run.id, run.attempts, globaltime.UTC()); bumpErr != nil {
			s.logger.Warn().Err(bumpErr).Int64("run_id", run.id).Msg("run attempt update failed")
		}
	}

	result.Malformed += counts.skipped
	result.Deduplicated = counts.deduplicated
	result.Persisted = counts.persisted
	result.EntitiesCreated = counts.entitiesCreated
	result.EntitiesMerged = counts.entitiesMerged
	result.XrefsRecorded = counts.xrefs
	result.Attempts = run.attempts
	result.State = StateDone

	run.state = StateDone
	if err := finishRunRow(ctx, s.pool, run.id, StateDone, result, nil, globaltime.UTC()); err != nil {
		s.logger.Warn().Err(err).Int64("run_id", run.id).Msg("run finish update failed")
	}
	s.logger.Info().
		Str("source", run.source).
		Str("run_uuid", run.uuid).
		Int("fetched", result.Fetched).
		Int("malformed", result.Malformed).
		Int("deduplicated", result.Deduplicated).
		Int("persisted", result.Persisted).
		Int("entities_created", result.EntitiesCreated).
		Int("entities_merged", result.EntitiesMerged).
		Int("xrefs", result.XrefsRecorded).
		Msg("batch complete")
	return result, nil
}

// processBatch runs the resolving, analyzing, deduping and committing
// stages over the normalized items. It is re-entrant: a commit that
// lost a write race runs it a second time against fresh state.
func (s *Service) processBatch(ctx context.Context, run *batchRun, items []*workItem, query string, windowEnd time.Time) (batchCounts, error) {
	var counts batchCounts
	for _, item := range items {
		item.reset()
	}

	if err := s.advance(ctx, run, StateResolving); err != nil {
		return counts, err
	}
	buf := &batchBuffer{}
	resolver := resolve.New(&resolveStore{pool: s.pool, buf: buf}, s.cfg.FuzzyMatchThreshold, s.logger)
	if err := resolver.Load(ctx); err != nil {
		return counts, fmt.Errorf("load entity index: %w", err)
	}
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return counts, err
		}
		matches, err := resolver.Resolve(ctx, item.recordUUID, item.canonical)
		if err != nil {
			item.skipped = true
			counts.skipped++
			s.logger.Warn().Err(err).
				Str("source", item.canonical.Source).
				Str("source_native_id", item.canonical.SourceNativeID).
				Msg("skipping record, entity resolution failed")
			continue
		}
		item.matches = matches
	}
	if err := s.linkRecurringAuthors(ctx, resolver, items); err != nil {
		return counts, err
	}

	if err := s.advance(ctx, run, StateAnalyzing); err != nil {
		return counts, err
	}
	for _, item := range items {
		if item.skipped {
			continue
		}
		if err := ctx.Err(); err != nil {
			return counts, err
		}
		item.analysis = s.analyzer.Analyze(item.canonical.Title, item.canonical.BodyText)
	}

	if err := s.advance(ctx, run, StateDeduping); err != nil {
		return counts, err
	}
	checker := dedup.New(&dedupStore{pool: s.pool}, s.cfg.DedupSimilarityThreshold, s.cfg.DedupWindow())
	seen := make(map[string]struct{}, len(items))
	var survivors []*workItem
	for _, item := range items {
		if item.skipped {
			continue
		}
		if err := ctx.Err(); err != nil {
			return counts, err
		}

		key := item.canonical.Source + "\x00" + item.canonical.SourceNativeID
		if _, dup := seen[key]; dup {
			item.repeatedKey = true
			counts.deduplicated++
			continue
		}
		seen[key] = struct{}{}

		decision, err := checker.Check(ctx, item.canonical)
		if err != nil {
			item.skipped = true
			counts.skipped++
			s.logger.Warn().Err(err).
				Str("source", item.canonical.Source).
				Str("source_native_id", item.canonical.SourceNativeID).
				Msg("skipping record, duplicate check failed")
			continue
		}
		item.decision = decision
		if decision.Outcome != dedup.OutcomeNew {
			continue
		}

		if prior, score := s.matchInBatch(survivors, item); prior != nil {
			item.dupOf = prior
			item.dupScore = score
			// The kept record carries the earliest publication time.
			if published := item.canonical.PublishedAt; !published.IsZero() && published.Before(prior.canonical.PublishedAt) {
				prior.canonical.PublishedAt = published
			}
			continue
		}
		survivors = append(survivors, item)
	}

	if err := s.advance(ctx, run, StateCommitting); err != nil {
		return counts, err
	}
	if err := s.commitBatch(ctx, run, items, buf, query, windowEnd, &counts); err != nil {
		return counts, err
	}
	return counts, nil
}

func (s *Service) commitBatch(ctx context.Context, run *batchRun, items []*workItem, buf *batchBuffer, query string, windowEnd time.Time, counts *batchCounts) error {
	tx, err := s.pool.BeginTx(ctx, db.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin batch transaction: %w", err)
	}
	if err := s.writeBatchTx(ctx, tx, run, items, buf, query, windowEnd, counts); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("commit batch transaction: %w", err)
	}
	return nil
}

func (s *Service) writeBatchTx(ctx context.Context, tx db.Tx, run *batchRun, items []*workItem, buf *batchBuffer, query string, windowEnd time.Time, counts *batchCounts) error {
	now := globaltime.UTC()

	idMap, stats, err := flushEntitiesTx(ctx, tx, buf.entities, now)
	if err != nil {
		return err
	}
	counts.entitiesCreated = stats.created
	counts.entitiesMerged = stats.merged
	if err := flushAliasesTx(ctx, tx, buf.aliases, idMap, now); err != nil {
		return err
	}
	if err := flushAuditsTx(ctx, tx, buf.audits, idMap, now); err != nil {
		return err
	}

	for _, item := range items {
		if item.skipped || item.repeatedKey {
			continue
		}
		switch {
		case item.dupOf != nil:
			// Batch order guarantees the kept copy was inserted first.
			if item.dupOf.recordID == 0 {
				return fmt.Errorf("duplicate of %s/%s has no persisted target", item.canonical.Source, item.canonical.SourceNativeID)
			}
			if err := insertXrefTx(ctx, tx, item.dupOf.recordID, item, item.dupScore, now); err != nil {
				return err
			}
			counts.deduplicated++
			counts.xrefs++
		case item.decision.Outcome == dedup.OutcomeNew:
			recordID, err := insertRecordTx(ctx, tx, item, now)
			if err != nil {
				return err
			}
			item.recordID = recordID
			for _, match := range item.matches {
				entityID, err := mapEntityID(idMap, match.Entity.ID)
				if err != nil {
					return err
				}
				if err := insertLinkTx(ctx, tx, recordID, entityID, match, now); err != nil {
					return err
				}
			}
			counts.persisted++
		case item.decision.Outcome == dedup.OutcomeRefresh:
			plan := dedup.MergePolicy(item.decision.Existing, item.canonical)
			if !plan.Empty() {
				if err := applyRefreshTx(ctx, tx, item.decision.Existing.ID, item, plan, now); err != nil {
					return err
				}
			}
			counts.deduplicated++
		case item.decision.Outcome == dedup.OutcomeDuplicate:
			if err := insertXrefTx(ctx, tx, item.decision.Existing.ID, item, item.decision.Similarity, now); err != nil {
				return err
			}
			if item.decision.EarlierPublication != nil {
				if err := adoptEarlierPublicationTx(ctx, tx, item.decision.Existing.ID, *item.decision.EarlierPublication, now); err != nil {
					return err
				}
			}
			counts.deduplicated++
			counts.xrefs++
		}
	}

	return upsertCheckpointTx(ctx, tx, run.source, query, windowEnd, run.id, now)
}

// linkRecurringAuthors turns authors named on two or more publications
// in the batch into kol entities and links them to every record they
// authored. One-off authors only link when a kol entity already exists.
func (s *Service) linkRecurringAuthors(ctx context.Context, resolver *resolve.Resolver, items []*workItem) error {
	var publications []analyze.PublicationRef
	for _, item := range items {
		if item.skipped || item.canonical.Kind != normalize.KindPublication {
			continue
		}
		ref := analyze.PublicationRef{
			Title:       item.canonical.Title,
			URL:         item.canonical.URL,
			PublishedAt: item.canonical.PublishedAt,
			Authors:     item.canonical.Authors,
		}
		if item.canonical.Journal != nil {
			ref.Journal = *item.canonical.Journal
		}
		publications = append(publications, ref)
	}
	if len(publications) == 0 {
		return nil
	}

	recurring := make(map[string]struct{})
	for _, kol := range analyze.IdentifyKOLs(publications) {
		recurring[resolve.NormalizeName(kol.Name)] = struct{}{}
	}
	if len(recurring) == 0 {
		return nil
	}

	for _, item := range items {
		if item.skipped || item.canonical.Kind != normalize.KindPublication {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, author := range item.canonical.Authors {
			if _, ok := recurring[resolve.NormalizeName(author)]; !ok {
				continue
			}
			match, err := resolver.ResolveAuthor(ctx, item.recordUUID, author)
			if err != nil {
				return fmt.Errorf("resolve author %q: %w", author, err)
			}
			if match == nil || hasEntityMatch(item.matches, match.Entity.ID) {
				continue
			}
			item.matches = append(item.matches, *match)
		}
	}
	return nil
}

func hasEntityMatch(matches []resolve.Match, entityID int64) bool {
	for _, match := range matches {
		if match.Entity.ID == entityID {
			return true
		}
	}
	return false
}

// matchInBatch compares a new record against the batch's earlier
// survivors, mirroring the stored-record similarity check. The first
// hit wins, which keeps the earliest fetched copy.
func (s *Service) matchInBatch(survivors []*workItem, item *workItem) (*workItem, float64) {
	published := item.canonical.PublishedAt
	if published.IsZero() {
		return nil, 0
	}
	window := s.cfg.DedupWindow()
	subject := dedupText(item.canonical)
	for _, prior := range survivors {
		if prior.canonical.Kind != item.canonical.Kind {
			continue
		}
		priorPublished := prior.canonical.PublishedAt
		if priorPublished.IsZero() {
			continue
		}
		gap := published.Sub(priorPublished)
		if gap < 0 {
			gap = -gap
		}
		if gap > window {
			continue
		}
		if score := text.TrigramJaccard(subject, dedupText(prior.canonical)); score >= s.cfg.DedupSimilarityThreshold {
			return prior, score
		}
	}
	return nil, 0
}

func dedupText(canonical *normalize.Canonical) string {
	if canonical.LeadText == "" {
		return canonical.Title
	}
	return canonical.Title + " " + canonical.LeadText
}

// fetchWithRetry calls the adapter under the configured timeout and
// retries transient failures with exponential backoff. onRetry runs
// once per extra attempt, after the backoff wait.
func (s *Service) fetchWithRetry(ctx context.Context, adapter source.Adapter, query source.Query, onRetry func(attempt int)) ([]source.RawRecord, error) {
	attempts := s.cfg.FetchRetryAttempts + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := s.cfg.FetchRetryBaseDelay << (attempt - 2)
			s.logger.Warn().Err(lastErr).
				Str("source", adapter.Name()).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("fetch failed, backing off")
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
			if onRetry != nil {
				onRetry(attempt)
			}
		}

		fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.SourceTimeout)
		records, err := adapter.Fetch(fetchCtx, query)
		cancel()
		if err == nil {
			return records, nil
		}
		lastErr = err
		if !retryableFetchError(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func retryableFetchError(err error) bool {
	return errors.Is(err, source.ErrUnavailable) ||
		errors.Is(err, source.ErrRateLimited) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (s *Service) advance(ctx context.Context, run *batchRun, to State) error {
	if !CanTransition(run.state, to) {
		return fmt.Errorf("illegal state transition %s -> %s", run.state, to)
	}
	run.state = to
	s.logger.Debug().Str("run_uuid", run.uuid).Str("state", string(to)).Msg("batch state")
	if err := updateRunStateRow(ctx, s.pool, run.id, to, globaltime.UTC()); err != nil {
		s.logger.Warn().Err(err).Int64("run_id", run.id).Msg("run state update failed")
	}
	return nil
}

func (s *Service) fail(ctx context.Context, run *batchRun, result BatchResult, cause error) (BatchResult, error) {
	result.State = StateFailed
	result.Attempts = run.attempts
	if !CanTransition(run.state, StateFailed) {
		return result, cause
	}
	run.state = StateFailed

	// The failure row must land even when the batch died from
	// cancellation.
	message := cause.Error()
	if err := finishRunRow(context.WithoutCancel(ctx), s.pool, run.id, StateFailed, result, &message, globaltime.UTC()); err != nil {
		s.logger.Warn().Err(err).Int64("run_id", run.id).Msg("run failure update failed")
	}
	s.logger.Error().Err(cause).Str("source", run.source).Str("run_uuid", run.uuid).Msg("batch failed")
	return result, cause
}
