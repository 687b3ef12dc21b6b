// Package analysis turns a window of persisted documents into ranked
// trending stories.
package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"horse.fit/newsradar/internal/clock"
	"horse.fit/newsradar/internal/cluster"
	"horse.fit/newsradar/internal/distance"
	"horse.fit/newsradar/internal/news"
	"horse.fit/newsradar/internal/textproc"
	"horse.fit/newsradar/internal/vectorize"
)

const DefaultLimit = 5000

// Store is what an analysis pass reads and writes.
type Store interface {
	ListDocumentsInWindow(ctx context.Context, from, to time.Time, limit int) ([]news.Document, error)
	SaveStoryRun(ctx context.Context, run *news.StoryRun) error
}

type Options struct {
	Limit     int
	Level     cluster.FeatureLevel
	Vectorize vectorize.Options
	Distance  distance.Options
	Cluster   cluster.Options
	// Weights all zero selects cluster.DefaultWeights; an all-zero score
	// would leave the ranking to the tie-breakers alone.
	Weights     cluster.Weights
	DryRun      bool
	MaxParallel int
}

type Service struct {
	store Store
	pre   *textproc.Preprocessor
	clock clock.Clock
	opts  Options
	log   zerolog.Logger
}

func NewService(store Store, pre *textproc.Preprocessor, clk clock.Clock, opts Options, logger zerolog.Logger) *Service {
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.Level == "" {
		opts.Level = cluster.LevelFull
	}
	if opts.Weights == (cluster.Weights{}) {
		opts.Weights = cluster.DefaultWeights
	}
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 4
	}
	if clk == nil {
		clk = clock.System
	}
	return &Service{
		store: store,
		pre:   pre,
		clock: clk,
		opts:  opts,
		log:   logger.With().Str("component", "analysis").Logger(),
	}
}

// Analyze runs one pass over documents effective in [end-window, end).
// A zero end means now. Unless dry-run, the result is stored and member
// documents are labelled with their story.
func (s *Service) Analyze(ctx context.Context, window time.Duration, end time.Time) (*news.StoryRun, error) {
	if window <= 0 {
		return nil, news.ConfigError("analyze", fmt.Errorf("window must be > 0, got %s", window))
	}
	if end.IsZero() {
		end = s.clock.Now()
	}
	end = end.UTC()
	start := end.Add(-window)

	docs, err := s.store.ListDocumentsInWindow(ctx, start, end, s.opts.Limit)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	run, err := s.build(runID, docs, start, end)
	if err != nil {
		return nil, err
	}
	run.CreatedAt = s.clock.Now()

	s.log.Info().
		Str("run_uuid", runID).
		Dur("window", window).
		Int("documents", run.Documents).
		Int("rejected", run.Rejected).
		Int("clusters", len(run.Clusters)).
		Int("noise", run.Noise).
		Float64("eps", run.Eps).
		Bool("shrunk", run.Shrunk).
		Msg("analysis finished")

	if s.opts.DryRun {
		return run, nil
	}
	if err := s.store.SaveStoryRun(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// AnalyzeWindows runs independent windows concurrently, all ending at end.
// Results come back in the order of windows.
func (s *Service) AnalyzeWindows(ctx context.Context, windows []time.Duration, end time.Time) ([]*news.StoryRun, error) {
	if end.IsZero() {
		end = s.clock.Now()
	}
	out := make([]*news.StoryRun, len(windows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.MaxParallel)
	for i, window := range windows {
		g.Go(func() error {
			run, err := s.Analyze(gctx, window, end)
			if err != nil {
				return fmt.Errorf("window %s: %w", window, err)
			}
			out[i] = run
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// build is the pure part of a pass: preprocess, vectorize, compute the
// distance matrix, cluster and rank.
func (s *Service) build(runID string, docs []news.Document, start, end time.Time) (*news.StoryRun, error) {
	run := &news.StoryRun{
		UUID:         runID,
		WindowStart:  start,
		WindowEnd:    end,
		FeatureLevel: string(s.opts.Level),
	}

	streams := make([][]string, 0, len(docs))
	kept := make([]news.Document, 0, len(docs))
	for _, doc := range docs {
		res, err := s.pre.Process(doc.Title, doc.Body)
		if err != nil {
			run.Rejected++
			continue
		}
		streams = append(streams, res.Tokens)
		kept = append(kept, doc)
	}
	run.Documents = len(kept)
	if len(kept) < 2 {
		run.Noise = len(kept)
		return run, nil
	}

	matrix := vectorize.Fit(streams, s.opts.Vectorize)

	items := make([]distance.Item, len(kept))
	members := make([]cluster.Member, len(kept))
	for i, doc := range kept {
		at := doc.EffectiveAt()
		items[i] = distance.Item{Source: doc.Source, Time: at}
		members[i] = cluster.Member{ID: doc.ID, Title: doc.Title, Source: doc.Source, Time: at}
		if doc.QualityScore != nil {
			members[i].Engagement = *doc.QualityScore
		}
	}

	distOpts := s.opts.Distance
	distOpts.Reference = end
	distOpts.ContentOnly = s.opts.Level == cluster.LevelBasic
	d, err := distance.Build(matrix.Rows, items, distOpts)
	if err != nil {
		return nil, fmt.Errorf("build distance matrix: %w", err)
	}

	clusterOpts := s.opts.Cluster
	clusterOpts.Level = s.opts.Level
	res := cluster.Run(d, clusterOpts)
	run.Eps = res.Eps
	run.MinPts = res.MinPts
	run.Shrunk = res.Shrunk
	run.Noise = res.Noise

	stories, err := cluster.Rank(res, members, d, cluster.ScoreOptions{
		Weights:     s.opts.Weights,
		HalfLife:    s.opts.Distance.HalfLife,
		Reference:   end,
		WindowStart: start,
		WindowEnd:   end,
		LabelPrefix: shortID(runID),
	})
	if err != nil {
		return nil, err
	}
	run.Clusters = stories
	return run, nil
}

func shortID(runID string) string {
	if len(runID) > 8 {
		return runID[:8]
	}
	return runID
}
