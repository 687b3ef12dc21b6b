package ingest

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/newsradar/internal/clock"
	"horse.fit/newsradar/internal/config"
	"horse.fit/newsradar/internal/db"
	"horse.fit/newsradar/internal/dedup"
	"horse.fit/newsradar/internal/fetch"
	"horse.fit/newsradar/internal/minhash"
	"horse.fit/newsradar/internal/news"
	"horse.fit/newsradar/internal/seen"
	"horse.fit/newsradar/internal/textproc"
	"horse.fit/newsradar/internal/work"
	"horse.fit/newsradar/internal/writer"
)

const floodBody = "Emergency crews evacuated three valley towns on Monday after the old river dam gave way " +
	"during the night and officials said water levels downstream would keep rising until the reservoir " +
	"drained while shelters were opened in two schools and the regional hospital moved patients upstairs"

const budgetBody = "The city council approved the new transit budget on Tuesday after a long debate about " +
	"bus routes and bike lanes while the mayor promised that the downtown tram line would be extended " +
	"before the end of the decade if the national grant is confirmed next spring"

func newsServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/feed.xml", func(w http.ResponseWriter, r *http.Request) {
		items := []struct{ path, title string }{
			{"/a/1", "Dam breach floods valley towns"},
			{"/a/2", "Dam breach floods valley towns"},
			{"/a/3", "Council approves transit budget"},
			{"/a/4", "Dam breach floods valley towns"},
			{"/a/missing", "This page is gone"},
			{"/a/short", "A very short item"},
		}
		var b strings.Builder
		b.WriteString(`<?xml version="1.0"?><rss version="2.0"><channel><title>Wire</title>`)
		for _, it := range items {
			fmt.Fprintf(&b, `<item><title>%s</title><link>%s%s</link></item>`, it.title, srv.URL, it.path)
		}
		b.WriteString(`</channel></rss>`)
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(b.String()))
	})
	text := func(body string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			_, _ = w.Write([]byte(body))
		}
	}
	mux.HandleFunc("/a/1", text(floodBody))
	mux.HandleFunc("/a/2", text(floodBody))
	mux.HandleFunc("/a/3", text(budgetBody))
	mux.HandleFunc("/a/4", text(floodBody+" overnight"))
	mux.HandleFunc("/a/short", text("Too short."))
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func openStore(t *testing.T) *db.Pool {
	t.Helper()
	pool, err := db.NewPool(context.Background(), &config.Config{
		DatabaseURL: "sqlite://" + filepath.Join(t.TempDir(), "ingest.db"),
		DBMinConns:  1,
		DBMaxConns:  1,
		LogLevel:    "silent",
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = pool.Close() })
	return pool
}

func newCoordinator(t *testing.T, store Store, dryRun bool) *Coordinator {
	t.Helper()
	fetcher := fetch.New(fetch.Options{
		Timeout:      5 * time.Second,
		MaxAttempts:  1,
		DefaultRate:  1000,
		DefaultBurst: 100,
		Logger:       zerolog.Nop(),
	})
	pre := textproc.New(textproc.Options{SkipLanguageDetection: true})
	signer := dedup.NewSigner(pre, minhash.NewHasher(128, 1), 3)
	pool := work.NewPool(2)
	pool.Start()
	t.Cleanup(pool.Stop)

	return NewCoordinator(store, fetcher, pre, signer, nil, pool, clock.System, Options{
		GlobalConcurrency:    4,
		PerSourceConcurrency: 2,
		SeenLookback:         24 * time.Hour,
		ShutdownFlushTimeout: 5 * time.Second,
		LSHBands:             16,
		DuplicateThreshold:   0.6,
		DryRun:               dryRun,
		Writer: writer.Options{
			BatchSize:     2,
			FlushInterval: 50 * time.Millisecond,
			FlushTimeout:  5 * time.Second,
			MaxAttempts:   2,
			BaseBackoff:   time.Millisecond,
		},
	}, zerolog.Nop())
}

func testSources(srv *httptest.Server) []news.Source {
	return []news.Source{
		{Name: "wire", Endpoint: srv.URL + "/feed.xml", Kind: news.SourceKindFeed, Category: "world"},
		{Name: "broken", Endpoint: srv.URL + "/nothing.xml", Kind: news.SourceKindFeed},
	}
}

func TestCoordinator_RunIsIdempotent(t *testing.T) {
	t.Parallel()

	srv := newsServer(t)
	store := openStore(t)
	ctx := context.Background()

	first, err := newCoordinator(t, store, false).Run(ctx, testSources(srv))
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	wire := first.Run.Sources[0]
	want := news.SourceCounts{Discovered: 6, Attempted: 6, Fetched: 5, Accepted: 3, Duplicate: 1, Rejected: 1, Failed: 1}
	if wire.Counts != want {
		t.Fatalf("unexpected first-run counts\nwant: %+v\ngot:  %+v", want, wire.Counts)
	}
	if first.Run.Sources[1].Error == "" {
		t.Fatalf("expected the broken source to record an error")
	}
	if first.Run.Health != news.HealthDegraded {
		t.Fatalf("expected degraded health, got %s", first.Run.Health)
	}
	if first.Writer.Persisted != 3 || first.Run.Persisted != 3 {
		t.Fatalf("expected 3 persisted documents, got %+v", first.Writer)
	}
	if len(first.Duplicates.Groups) != 1 || len(first.Duplicates.Groups[0].Duplicates) != 1 {
		t.Fatalf("expected the flood articles to form one duplicate group, got %+v", first.Duplicates)
	}
	pairs, err := store.ListDuplicatePairs(ctx, time.Now().Add(-time.Hour), 10)
	if err != nil || len(pairs) != 1 {
		t.Fatalf("expected one saved duplicate pair, got %+v %v", pairs, err)
	}

	known, err := store.KnownURLsSince(ctx, time.Now().Add(-time.Hour))
	if err != nil || len(known) != 4 {
		t.Fatalf("expected the stored urls plus the body duplicate to be known, got %v %v", known, err)
	}

	second, err := newCoordinator(t, store, false).Run(ctx, testSources(srv))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Writer.Persisted != 0 || second.Run.Sources[0].Counts.Accepted != 0 {
		t.Fatalf("second run must not add documents: %+v %+v", second.Writer, second.Run.Sources[0].Counts)
	}
	secondWant := news.SourceCounts{Discovered: 6, Attempted: 2, Fetched: 1, Duplicate: 4, Rejected: 1, Failed: 1}
	if second.Run.Sources[0].Counts != secondWant {
		t.Fatalf("expected only never-stored urls to be fetched again\nwant: %+v\ngot:  %+v", secondWant, second.Run.Sources[0].Counts)
	}

	docs, err := store.ListDocumentsInWindow(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Hour), 100)
	if err != nil {
		t.Fatalf("list documents: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("expected 3 stored documents, got %d", len(docs))
	}
	for _, d := range docs {
		if d.Source != "wire" || d.Category != "world" || len(d.Signature) != 128 || len(d.ContentHash) == 0 {
			t.Fatalf("unexpected stored document %+v", d)
		}
	}

	runs, err := store.ListIngestRuns(ctx, 10)
	if err != nil || len(runs) != 2 {
		t.Fatalf("expected two ledger entries, got %d %v", len(runs), err)
	}
}

func TestCoordinator_DryRunPersistsNothing(t *testing.T) {
	t.Parallel()

	srv := newsServer(t)
	store := openStore(t)
	ctx := context.Background()

	summary, err := newCoordinator(t, store, true).Run(ctx, testSources(srv)[:1])
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if summary.Run.Sources[0].Counts.Accepted != 3 || !summary.Run.DryRun {
		t.Fatalf("unexpected dry-run summary: %+v", summary.Run)
	}
	if len(summary.Duplicates.Pairs) != 1 {
		t.Fatalf("expected duplicate detection in dry run, got %+v", summary.Duplicates)
	}
	urls, err := store.KnownURLsSince(ctx, time.Now().Add(-time.Hour))
	if err != nil || len(urls) != 0 {
		t.Fatalf("dry run wrote documents: %v %v", urls, err)
	}
	runs, err := store.ListIngestRuns(ctx, 10)
	if err != nil || len(runs) != 0 {
		t.Fatalf("dry run wrote a ledger entry: %v %v", runs, err)
	}
}

func TestCoordinator_CancelledBeforeStart(t *testing.T) {
	t.Parallel()

	srv := newsServer(t)
	store := openStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := newCoordinator(t, store, false).Run(ctx, testSources(srv)); err == nil {
		t.Fatalf("expected a cancelled run to fail")
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	if got := health(false, true, writer.Stats{Persisted: 2}); got != news.HealthHealthy {
		t.Fatalf("expected healthy, got %s", got)
	}
	if got := health(true, true, writer.Stats{Persisted: 2}); got != news.HealthDegraded {
		t.Fatalf("expected degraded for a source error, got %s", got)
	}
	if got := health(false, false, writer.Stats{Persisted: 2, FailedBatches: 1}); got != news.HealthDegraded {
		t.Fatalf("expected degraded for a dropped batch, got %s", got)
	}
	if got := health(false, false, writer.Stats{FailedBatches: 1}); got != news.HealthUnhealthy {
		t.Fatalf("expected unhealthy when nothing persisted, got %s", got)
	}
}

func TestBodyLedger_SkipsURLsWhoseBodyWasNeverStored(t *testing.T) {
	t.Parallel()

	ledger := newBodyLedger()
	stored := []byte{1}
	lost := []byte{2}

	ledger.skip("https://a.example.com/old", seen.FingerprintKey([]byte{9}))
	ledger.claim(seen.FingerprintKey(stored))
	ledger.skip("https://a.example.com/copy", seen.FingerprintKey(stored))
	ledger.claim(seen.FingerprintKey(lost))
	ledger.skip("https://a.example.com/orphan", seen.FingerprintKey(lost))
	ledger.persisted(stored)

	got := ledger.skippedURLs()
	want := []string{"https://a.example.com/copy", "https://a.example.com/old"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
