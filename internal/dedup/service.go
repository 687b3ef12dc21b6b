package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/newsradar/internal/news"
)

// Store is what a window pass reads and writes.
type Store interface {
	ListDocumentsInWindow(ctx context.Context, from, to time.Time, limit int) ([]news.Document, error)
	UpdateSignatures(ctx context.Context, sigs map[int64][]uint64) error
	SaveDuplicatePairs(ctx context.Context, pairs []news.DuplicatePair) (int, error)
}

type Options struct {
	Bands     int
	Shards    int
	Threshold float64
	Limit     int
	DryRun    bool
}

// WindowResult reports one pass over persisted documents.
type WindowResult struct {
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Documents   int       `json:"documents"`
	Resigned    int       `json:"resigned"`
	Saved       int       `json:"saved"`
	DryRun      bool      `json:"dry_run"`
	Result
}

type Service struct {
	store  Store
	signer *Signer
	opts   Options
	log    zerolog.Logger
}

func NewService(store Store, signer *Signer, opts Options, logger zerolog.Logger) *Service {
	if opts.Limit <= 0 {
		opts.Limit = 5000
	}
	return &Service{
		store:  store,
		signer: signer,
		opts:   opts,
		log:    logger.With().Str("component", "dedup").Logger(),
	}
}

// Run rebuilds the index over documents effective in [from, to). Missing
// or stale signatures are recomputed and, unless dry-run, written back
// along with the accepted pairs.
func (s *Service) Run(ctx context.Context, from, to time.Time) (WindowResult, error) {
	out := WindowResult{WindowStart: from.UTC(), WindowEnd: to.UTC(), DryRun: s.opts.DryRun}

	docs, err := s.store.ListDocumentsInWindow(ctx, from, to, s.opts.Limit)
	if err != nil {
		return out, err
	}
	out.Documents = len(docs)

	detector, err := NewDetector(s.signer.Permutations(), s.opts.Bands, s.opts.Shards)
	if err != nil {
		return out, news.ConfigError("dedup", err)
	}

	resigned := make(map[int64][]uint64)
	for _, doc := range docs {
		if len(doc.Signature) != s.signer.Permutations() {
			hash, sig := s.signer.Sign(doc.Title, doc.Body)
			doc.Signature = sig
			if len(doc.ContentHash) == 0 {
				doc.ContentHash = hash
			}
			if len(sig) > 0 {
				resigned[doc.ID] = sig
			}
		}
		if err := detector.Add(doc); err != nil {
			return out, fmt.Errorf("index document %d: %w", doc.ID, err)
		}
	}
	out.Resigned = len(resigned)
	out.Result = detector.Detect(s.opts.Threshold)

	s.log.Info().
		Int("documents", out.Documents).
		Int("resigned", out.Resigned).
		Int("pairs", len(out.Pairs)).
		Int("groups", len(out.Groups)).
		Bool("dry_run", s.opts.DryRun).
		Msg("duplicate detection finished")

	if s.opts.DryRun {
		return out, nil
	}
	if err := s.store.UpdateSignatures(ctx, resigned); err != nil {
		return out, err
	}
	saved, err := s.store.SaveDuplicatePairs(ctx, out.Pairs)
	if err != nil {
		return out, err
	}
	out.Saved = saved
	return out, nil
}
