package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/newsradar/internal/clock"
	"horse.fit/newsradar/internal/news"
)

type fakeStore struct {
	pingErr   error
	run       *news.StoryRun
	runs      []news.IngestRun
	pairs     []news.DuplicatePair
	lastSince time.Time
	lastLimit int
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) LatestStoryRun(context.Context) (*news.StoryRun, error) {
	if f.run == nil {
		return nil, news.ErrNotFound
	}
	return f.run, nil
}

func (f *fakeStore) ListIngestRuns(_ context.Context, limit int) ([]news.IngestRun, error) {
	f.lastLimit = limit
	return f.runs, nil
}

func (f *fakeStore) ListDuplicatePairs(_ context.Context, since time.Time, limit int) ([]news.DuplicatePair, error) {
	f.lastSince = since
	f.lastLimit = limit
	return f.pairs, nil
}

var now = time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

func serve(t *testing.T, store *fakeStore, target string) (int, envelope) {
	t.Helper()
	srv := NewServer(store, clock.NewManual(now), zerolog.Nop(), Options{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))

	var body envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %s response %q: %v", target, rec.Body.String(), err)
	}
	return rec.Code, body
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	code, body := serve(t, &fakeStore{}, "/healthz")
	if code != http.StatusOK || body.Status != "success" {
		t.Fatalf("expected success, got %d %+v", code, body)
	}

	code, body = serve(t, &fakeStore{pingErr: errors.New("connection refused")}, "/healthz")
	if code != http.StatusServiceUnavailable || body.Status != "error" {
		t.Fatalf("expected 503 error, got %d %+v", code, body)
	}
}

func TestLatestStories(t *testing.T) {
	t.Parallel()

	code, body := serve(t, &fakeStore{}, "/api/v1/stories/latest")
	if code != http.StatusNotFound || body.Status != "fail" {
		t.Fatalf("expected 404 before any run, got %d %+v", code, body)
	}

	store := &fakeStore{run: &news.StoryRun{
		UUID:     "run-1",
		Clusters: []news.StoryCluster{{Rank: 1, Label: "run-1-1", MemberIDs: []int64{1, 2}}},
	}}
	code, body = serve(t, store, "/api/v1/stories/latest")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	data, _ := body.Data.(map[string]any)
	if data["run_uuid"] != "run-1" {
		t.Fatalf("unexpected payload: %+v", body.Data)
	}
}

func TestIngestRunsValidatesLimit(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	code, body := serve(t, store, "/api/v1/ingest/runs?limit=0")
	if code != http.StatusBadRequest || body.Status != "fail" {
		t.Fatalf("expected validation failure, got %d %+v", code, body)
	}

	code, body = serve(t, store, "/api/v1/ingest/runs?limit=5")
	if code != http.StatusOK || store.lastLimit != 5 {
		t.Fatalf("expected limit 5 to reach the store, got %d limit=%d", code, store.lastLimit)
	}
	data, _ := body.Data.(map[string]any)
	if items, ok := data["items"].([]any); !ok || len(items) != 0 {
		t.Fatalf("expected an empty item list, got %+v", data)
	}
}

func TestDuplicatesSinceFilter(t *testing.T) {
	t.Parallel()

	store := &fakeStore{pairs: []news.DuplicatePair{{A: 1, B: 2, Similarity: 0.9, Class: news.PairNearDuplicate}}}
	code, _ := serve(t, store, "/api/v1/duplicates")
	if code != http.StatusOK || !store.lastSince.Equal(now.Add(-24*time.Hour)) {
		t.Fatalf("expected a default 24h lookback, got %d since=%s", code, store.lastSince)
	}

	code, _ = serve(t, store, "/api/v1/duplicates?since=2026-06-30")
	if code != http.StatusOK || !store.lastSince.Equal(time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected the since filter to apply, got %d since=%s", code, store.lastSince)
	}

	code, body := serve(t, store, "/api/v1/duplicates?since=yesterday")
	if code != http.StatusBadRequest || body.Status != "fail" {
		t.Fatalf("expected validation failure, got %d %+v", code, body)
	}
}

func TestUnknownRouteUsesEnvelope(t *testing.T) {
	t.Parallel()

	code, body := serve(t, &fakeStore{}, "/api/v1/nope")
	if code != http.StatusNotFound || body.Status != "fail" {
		t.Fatalf("expected enveloped 404, got %d %+v", code, body)
	}
}
