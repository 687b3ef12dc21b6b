package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/newsradar/internal/minhash"
	"horse.fit/newsradar/internal/news"
	"horse.fit/newsradar/internal/textproc"
)

const baseBody = "The city council approved the new transit budget on Tuesday after a long debate " +
	"about bus routes, bike lanes and the future of the downtown tram line that residents have " +
	"requested for more than a decade according to officials who attended the meeting"

func testSigner() *Signer {
	pre := textproc.New(textproc.Options{SkipLanguageDetection: true})
	return NewSigner(pre, minhash.NewHasher(128, 1), 3)
}

type memStore struct {
	docs  []news.Document
	sigs  map[int64][]uint64
	pairs []news.DuplicatePair
}

func (m *memStore) ListDocumentsInWindow(_ context.Context, from, to time.Time, _ int) ([]news.Document, error) {
	var out []news.Document
	for _, d := range m.docs {
		at := d.EffectiveAt()
		if !at.Before(from) && at.Before(to) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memStore) UpdateSignatures(_ context.Context, sigs map[int64][]uint64) error {
	m.sigs = sigs
	return nil
}

func (m *memStore) SaveDuplicatePairs(_ context.Context, pairs []news.DuplicatePair) (int, error) {
	m.pairs = append(m.pairs, pairs...)
	return len(pairs), nil
}

func TestDetector_GroupsNearDuplicatesUnderLongestDocument(t *testing.T) {
	t.Parallel()

	signer := testSigner()
	detector, err := NewDetector(128, 16, 8)
	if err != nil {
		t.Fatalf("new detector: %v", err)
	}

	at := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)
	bodies := []string{
		baseBody,
		baseBody + " on Tuesday",
		baseBody,
		"An unrelated report about a football match where the home team scored twice in the final minutes",
	}
	for i, body := range bodies {
		hash, sig := signer.Sign("Council approves transit budget", body)
		doc := news.Document{
			ID:          int64(i + 1),
			Body:        body,
			FetchedAt:   at.Add(time.Duration(i) * time.Minute),
			WordCount:   news.CountWords(body),
			ContentHash: hash,
			Signature:   sig,
		}
		if err := detector.Add(doc); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	res := detector.Detect(0.6)
	if len(res.Groups) != 1 {
		t.Fatalf("expected one group, got %+v", res.Groups)
	}
	group := res.Groups[0]
	if group.Master != 2 || len(group.Duplicates) != 2 {
		t.Fatalf("expected doc 2 (most words) as master over 1 and 3, got %+v", group)
	}
	var identical bool
	for _, p := range res.Pairs {
		if p.A == 4 || p.B == 4 {
			t.Fatalf("unrelated document paired: %+v", p)
		}
		if p.A == 1 && p.B == 3 {
			identical = p.Class == news.PairIdentical
		}
	}
	if !identical {
		t.Fatalf("expected equal bodies to be classified identical: %+v", res.Pairs)
	}
}

func TestService_ResignsMissingSignaturesAndSaves(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)
	store := &memStore{docs: []news.Document{
		{ID: 1, Title: "Council approves transit budget", Body: baseBody, FetchedAt: at, WordCount: 40},
		{ID: 2, Title: "Council approves transit budget", Body: baseBody, FetchedAt: at.Add(time.Minute), WordCount: 40},
		{ID: 3, Title: "Old story", Body: baseBody, FetchedAt: at.Add(-72 * time.Hour), WordCount: 40},
	}}

	svc := NewService(store, testSigner(), Options{Bands: 16, Threshold: 0.6}, zerolog.Nop())
	res, err := svc.Run(context.Background(), at.Add(-time.Hour), at.Add(time.Hour))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Documents != 2 || res.Resigned != 2 || len(store.sigs) != 2 {
		t.Fatalf("expected two resigned documents, got %+v sigs=%d", res, len(store.sigs))
	}
	if res.Saved != 1 || len(store.pairs) != 1 || store.pairs[0].Class != news.PairIdentical {
		t.Fatalf("expected one identical pair saved, got %+v", store.pairs)
	}
	if len(res.Groups) != 1 || res.Groups[0].Master != 1 {
		t.Fatalf("expected the earlier document as master on equal length, got %+v", res.Groups)
	}
}

func TestService_DryRunWritesNothing(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)
	store := &memStore{docs: []news.Document{
		{ID: 1, Title: "Same", Body: baseBody, FetchedAt: at},
		{ID: 2, Title: "Same", Body: baseBody, FetchedAt: at},
	}}
	svc := NewService(store, testSigner(), Options{Threshold: 0.6, DryRun: true}, zerolog.Nop())
	res, err := svc.Run(context.Background(), at.Add(-time.Hour), at.Add(time.Hour))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Pairs) != 1 || store.sigs != nil || store.pairs != nil {
		t.Fatalf("dry run should detect without writing: %+v", store)
	}
}
