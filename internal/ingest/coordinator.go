// Package ingest runs one harvesting pass over a source list: discovery,
// rate-limited fetching, extraction, in-run deduplication and batched
// persistence, followed by near-duplicate detection over what was stored.
package ingest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"horse.fit/newsradar/internal/clock"
	"horse.fit/newsradar/internal/dedup"
	"horse.fit/newsradar/internal/discover"
	"horse.fit/newsradar/internal/extract"
	"horse.fit/newsradar/internal/fetch"
	"horse.fit/newsradar/internal/news"
	"horse.fit/newsradar/internal/seen"
	"horse.fit/newsradar/internal/textproc"
	"horse.fit/newsradar/internal/work"
	"horse.fit/newsradar/internal/writer"
)

// Store is the persistence surface of an ingestion run.
type Store interface {
	writer.Upserter
	seen.Source
	RecordSeenURLs(ctx context.Context, urls []string) error
	SaveIngestRun(ctx context.Context, run news.IngestRun) error
	SaveDuplicatePairs(ctx context.Context, pairs []news.DuplicatePair) (int, error)
}

// Fetcher is the part of fetch.Client the coordinator needs.
type Fetcher interface {
	discover.Getter
	SetHostRate(host string, rps float64, burst int)
}

type Options struct {
	GlobalConcurrency    int
	PerSourceConcurrency int
	SeenLookback         time.Duration
	ShutdownFlushTimeout time.Duration
	LSHBands             int
	LSHShards            int
	DuplicateThreshold   float64
	DryRun               bool
	Writer               writer.Options
}

// RunSummary is what one Run reports.
type RunSummary struct {
	Run        news.IngestRun    `json:"run"`
	Writer     writer.Stats      `json:"writer"`
	Duplicates dedup.Result      `json:"duplicates"`
	Work       work.Stats        `json:"work"`
	Errors     map[string]string `json:"errors,omitempty"`
	Totals     news.SourceCounts `json:"totals"`
}

type Coordinator struct {
	store   Store
	fetcher Fetcher
	pre     *textproc.Preprocessor
	signer  *dedup.Signer
	seen    *seen.Set
	pool    *work.Pool
	clock   clock.Clock
	opts    Options
	log     zerolog.Logger
}

// NewCoordinator wires a coordinator. pool must already be started; its
// lifetime belongs to the caller.
func NewCoordinator(store Store, fetcher Fetcher, pre *textproc.Preprocessor, signer *dedup.Signer, seenSet *seen.Set, pool *work.Pool, clk clock.Clock, opts Options, logger zerolog.Logger) *Coordinator {
	if opts.GlobalConcurrency < 1 {
		opts.GlobalConcurrency = 16
	}
	if opts.PerSourceConcurrency < 1 {
		opts.PerSourceConcurrency = 4
	}
	if opts.ShutdownFlushTimeout <= 0 {
		opts.ShutdownFlushTimeout = 15 * time.Second
	}
	if seenSet == nil {
		seenSet = seen.New(seen.DefaultShards)
	}
	if clk == nil {
		clk = clock.System
	}
	return &Coordinator{
		store:   store,
		fetcher: fetcher,
		pre:     pre,
		signer:  signer,
		seen:    seenSet,
		pool:    pool,
		clock:   clk,
		opts:    opts,
		log:     logger.With().Str("component", "ingest").Logger(),
	}
}

// Run harvests every source once. Item failures are counted, source
// failures are recorded on the source, and only a store that cannot be
// read at startup fails the whole run. Cancelling ctx stops discovery and
// fetching; what was already accepted is still flushed within
// ShutdownFlushTimeout.
func (c *Coordinator) Run(ctx context.Context, sources []news.Source) (RunSummary, error) {
	started := c.clock.Now()
	runID := uuid.NewString()
	log := c.log.With().Str("run_uuid", runID).Logger()

	if c.opts.SeenLookback > 0 {
		loaded, err := c.seen.Refresh(ctx, c.store, started.Add(-c.opts.SeenLookback))
		if err != nil {
			return RunSummary{}, fmt.Errorf("load known urls: %w", err)
		}
		log.Debug().Int("urls", loaded).Msg("seen set refreshed")
	}

	for _, src := range sources {
		if src.RateLimit > 0 || src.Burst > 0 {
			c.fetcher.SetHostRate(news.HostOf(src.Endpoint), src.RateLimit, src.Burst)
		}
	}

	detector, err := dedup.NewDetector(c.signer.Permutations(), c.opts.LSHBands, c.opts.LSHShards)
	if err != nil {
		return RunSummary{}, news.ConfigError("ingest", err)
	}

	var upserter writer.Upserter = c.store
	if c.opts.DryRun {
		upserter = &dryRunStore{}
	}
	r := &run{
		log:    log,
		global: semaphore.NewWeighted(int64(c.opts.GlobalConcurrency)),
		bodies: newBodyLedger(),
	}
	writerOpts := c.opts.Writer
	writerOpts.Logger = log
	writerOpts.OnPersisted = func(docs []news.Document) {
		for _, doc := range docs {
			r.bodies.persisted(doc.ContentHash)
			if err := detector.Add(doc); err != nil {
				log.Warn().Err(err).Int64("document_id", doc.ID).Msg("index document")
			}
		}
	}
	r.writer = writer.New(upserter, writerOpts)

	results := make([]news.SourceRun, len(sources))

	var g errgroup.Group
	for i, src := range sources {
		g.Go(func() error {
			results[i] = c.runSource(ctx, r, src)
			return nil
		})
	}
	_ = g.Wait()

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.ShutdownFlushTimeout)
	closeErr := r.writer.Close(flushCtx)
	cancel()
	if closeErr != nil {
		log.Error().Err(closeErr).Msg("writer shutdown")
	}

	summary := RunSummary{
		Writer: r.writer.Stats(),
		Work:   c.pool.Stats(),
		Errors: map[string]string{},
	}
	summary.Duplicates = detector.Detect(c.opts.DuplicateThreshold)

	for _, sr := range results {
		summary.Totals.Discovered += sr.Counts.Discovered
		summary.Totals.Attempted += sr.Counts.Attempted
		summary.Totals.Fetched += sr.Counts.Fetched
		summary.Totals.Accepted += sr.Counts.Accepted
		summary.Totals.Duplicate += sr.Counts.Duplicate
		summary.Totals.Rejected += sr.Counts.Rejected
		summary.Totals.Failed += sr.Counts.Failed
		if sr.Error != "" {
			summary.Errors[sr.Source] = sr.Error
		}
	}

	finished := c.clock.Now()
	summary.Run = news.IngestRun{
		UUID:       runID,
		StartedAt:  started,
		FinishedAt: &finished,
		DryRun:     c.opts.DryRun,
		Persisted:  int(summary.Writer.Persisted),
		Sources:    results,
	}
	summary.Run.Health = health(len(summary.Errors) > 0, r.writer.Healthy(), summary.Writer)

	if !c.opts.DryRun {
		// The run may have been cancelled; its ledger entry is still written.
		persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.ShutdownFlushTimeout)
		defer cancel()
		if err := c.store.RecordSeenURLs(persistCtx, r.bodies.skippedURLs()); err != nil {
			log.Error().Err(err).Msg("record seen urls")
			summary.Run.Health = worst(summary.Run.Health, news.HealthDegraded)
		}
		if _, err := c.store.SaveDuplicatePairs(persistCtx, summary.Duplicates.Pairs); err != nil {
			log.Error().Err(err).Msg("save duplicate pairs")
			summary.Run.Health = worst(summary.Run.Health, news.HealthDegraded)
		}
		if err := c.store.SaveIngestRun(persistCtx, summary.Run); err != nil {
			log.Error().Err(err).Msg("save ingest run")
			summary.Run.Health = worst(summary.Run.Health, news.HealthDegraded)
		}
	}

	log.Info().
		Int("sources", len(sources)).
		Int("accepted", summary.Totals.Accepted).
		Int64("persisted", summary.Writer.Persisted).
		Int64("conflicts", summary.Writer.Conflicts).
		Int("duplicate_pairs", len(summary.Duplicates.Pairs)).
		Str("health", string(summary.Run.Health)).
		Dur("elapsed", finished.Sub(started)).
		Msg("ingest run finished")

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

func health(sourceErrors, writerHealthy bool, stats writer.Stats) news.Health {
	switch {
	case !writerHealthy && stats.Persisted == 0:
		return news.HealthUnhealthy
	case sourceErrors, stats.FailedBatches > 0, !writerHealthy:
		return news.HealthDegraded
	default:
		return news.HealthHealthy
	}
}

func worst(a, b news.Health) news.Health {
	rank := map[news.Health]int{news.HealthHealthy: 0, news.HealthDegraded: 1, news.HealthUnhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// run is the state shared by every source of one Run.
type run struct {
	log    zerolog.Logger
	global *semaphore.Weighted
	writer *writer.Writer
	bodies *bodyLedger
}

// bodyLedger tracks body fingerprints claimed during a run and the URLs
// skipped because their body was already claimed. A skipped URL is only
// worth remembering when the body it matched is really stored: either it
// was known before the run or its document was persisted by this run.
type bodyLedger struct {
	mu      sync.Mutex
	claimed map[string]struct{}
	stored  map[string]struct{}
	skipped map[string]string
}

func newBodyLedger() *bodyLedger {
	return &bodyLedger{
		claimed: map[string]struct{}{},
		stored:  map[string]struct{}{},
		skipped: map[string]string{},
	}
}

func (b *bodyLedger) claim(key string) {
	b.mu.Lock()
	b.claimed[key] = struct{}{}
	b.mu.Unlock()
}

func (b *bodyLedger) skip(url, key string) {
	b.mu.Lock()
	b.skipped[url] = key
	b.mu.Unlock()
}

func (b *bodyLedger) persisted(hash []byte) {
	if len(hash) == 0 {
		return
	}
	key := seen.FingerprintKey(hash)
	b.mu.Lock()
	b.stored[key] = struct{}{}
	b.mu.Unlock()
}

// skippedURLs lists, sorted, the skipped URLs whose body is stored.
func (b *bodyLedger) skippedURLs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.skipped))
	for url, key := range b.skipped {
		_, claimedHere := b.claimed[key]
		_, stored := b.stored[key]
		if !claimedHere || stored {
			out = append(out, url)
		}
	}
	sort.Strings(out)
	return out
}

// counters guards one source's counts across its workers.
type counters struct {
	mu sync.Mutex
	c  news.SourceCounts
}

func (c *counters) add(f func(*news.SourceCounts)) {
	c.mu.Lock()
	f(&c.c)
	c.mu.Unlock()
}

func (c *counters) snapshot() news.SourceCounts {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.c
}

func (c *Coordinator) runSource(ctx context.Context, r *run, src news.Source) news.SourceRun {
	log := r.log.With().Str("source", src.Name).Logger()
	out := news.SourceRun{Source: src.Name}

	var candidates []discover.Candidate
	err := c.withGlobalSlot(ctx, r.global, func() error {
		var err error
		candidates, err = discover.Discover(ctx, c.fetcher, src)
		return err
	})
	if err != nil {
		out.Error = err.Error()
		log.Warn().Err(err).Str("kind", news.KindOf(err).String()).Msg("discovery failed")
		return out
	}

	var counts counters
	counts.add(func(s *news.SourceCounts) { s.Discovered = len(candidates) })

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.PerSourceConcurrency)
	for _, cand := range candidates {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			c.processCandidate(gctx, r, log, src, cand, &counts)
			return nil
		})
	}
	_ = g.Wait()

	out.Counts = counts.snapshot()
	if ctx.Err() != nil {
		out.Error = ctx.Err().Error()
	}
	log.Info().
		Int("discovered", out.Counts.Discovered).
		Int("fetched", out.Counts.Fetched).
		Int("accepted", out.Counts.Accepted).
		Int("duplicate", out.Counts.Duplicate).
		Int("rejected", out.Counts.Rejected).
		Int("failed", out.Counts.Failed).
		Msg("source finished")
	return out
}

func (c *Coordinator) withGlobalSlot(ctx context.Context, global *semaphore.Weighted, fn func() error) error {
	if err := global.Acquire(ctx, 1); err != nil {
		return err
	}
	defer global.Release(1)
	return fn()
}

func (c *Coordinator) processCandidate(ctx context.Context, r *run, log zerolog.Logger, src news.Source, cand discover.Candidate, counts *counters) {
	canonical, err := news.CanonicalURL(cand.URL)
	if err != nil {
		counts.add(func(s *news.SourceCounts) { s.Rejected++ })
		return
	}
	urlKey := seen.URLKey(canonical)
	if !c.seen.Add(urlKey) {
		counts.add(func(s *news.SourceCounts) { s.Duplicate++ })
		return
	}
	counts.add(func(s *news.SourceCounts) { s.Attempted++ })

	var resp *fetch.Response
	err = c.withGlobalSlot(ctx, r.global, func() error {
		var err error
		resp, err = c.fetcher.Get(ctx, canonical)
		return err
	})
	if err != nil {
		// Let a later run try again.
		c.seen.Remove(urlKey)
		if ctx.Err() != nil {
			return
		}
		counts.add(func(s *news.SourceCounts) { s.Failed++ })
		log.Debug().Err(err).Str("url", canonical).Str("kind", news.KindOf(err).String()).Msg("fetch failed")
		return
	}
	counts.add(func(s *news.SourceCounts) { s.Fetched++ })

	var (
		doc       news.Document
		duplicate bool
	)
	err = c.pool.Do(ctx, func() error {
		art, err := extract.Extract(resp.Body, resp.FinalURL, resp.ContentType, extract.Hint{
			Title:       cand.Title,
			Summary:     cand.Summary,
			PublishedAt: cand.PublishedAt,
		})
		if err != nil {
			return err
		}
		if c.pre.IsContaminatedTitle(art.Title) {
			return news.Rejectf("ingest", "contaminated title %q", art.Title)
		}
		hash, sig := c.signer.Sign(art.Title, art.Body)
		if len(hash) > 0 {
			key := seen.FingerprintKey(hash)
			if !c.seen.Add(key) {
				r.bodies.skip(canonical, key)
				duplicate = true
				return nil
			}
			r.bodies.claim(key)
		}
		doc = news.Document{
			Source:      src.Name,
			URL:         canonical,
			Title:       art.Title,
			Body:        art.Body,
			PublishedAt: art.PublishedAt,
			FetchedAt:   c.clock.Now(),
			WordCount:   news.CountWords(art.Body),
			ContentHash: hash,
			TitleHash:   news.Fingerprint(art.Title),
			Language:    art.Language,
			Category:    src.Category,
			Signature:   sig,
		}
		return nil
	})
	switch {
	case err != nil && ctx.Err() != nil:
		return
	case news.IsPermanent(err):
		counts.add(func(s *news.SourceCounts) { s.Rejected++ })
		log.Debug().Err(err).Str("url", canonical).Msg("document rejected")
		return
	case err != nil:
		counts.add(func(s *news.SourceCounts) { s.Failed++ })
		log.Debug().Err(err).Str("url", canonical).Msg("document failed")
		return
	case duplicate:
		counts.add(func(s *news.SourceCounts) { s.Duplicate++ })
		return
	}

	if err := r.writer.Enqueue(ctx, doc); err != nil {
		if ctx.Err() == nil {
			counts.add(func(s *news.SourceCounts) { s.Failed++ })
			log.Warn().Err(err).Str("url", canonical).Msg("enqueue failed")
		}
		return
	}
	counts.add(func(s *news.SourceCounts) { s.Accepted++ })
}

// dryRunStore stands in for the store on --dry-run: every document is
// "inserted" with a synthetic id so duplicate detection still runs.
type dryRunStore struct {
	mu   sync.Mutex
	next int64
}

func (d *dryRunStore) UpsertDocuments(_ context.Context, docs []news.Document) ([]news.Document, int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]news.Document, len(docs))
	for i, doc := range docs {
		d.next++
		doc.ID = d.next
		out[i] = doc
	}
	return out, 0, nil
}
