package writer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/newsradar/internal/news"
)

type fakeStore struct {
	mu       sync.Mutex
	seen     map[string]bool
	nextID   int64
	batches  [][]news.Document
	failures int
	calls    int
}

func newFakeStore(failures int) *fakeStore {
	return &fakeStore{seen: map[string]bool{}, failures: failures}
}

func (f *fakeStore) UpsertDocuments(_ context.Context, docs []news.Document) ([]news.Document, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return nil, 0, news.Persistence("upsert", errors.New("connection reset"))
	}
	f.batches = append(f.batches, docs)
	var inserted []news.Document
	conflicts := 0
	for _, d := range docs {
		if f.seen[d.URL] {
			conflicts++
			continue
		}
		f.seen[d.URL] = true
		f.nextID++
		d.ID = f.nextID
		inserted = append(inserted, d)
	}
	return inserted, conflicts, nil
}

func (f *fakeStore) snapshot() (calls, batches int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, len(f.batches)
}

func doc(i int) news.Document {
	return news.Document{Source: "wire", URL: fmt.Sprintf("https://a.example.com/%d", i), Title: "t"}
}

func TestWriter_FlushesOnBatchSize(t *testing.T) {
	t.Parallel()

	store := newFakeStore(0)
	var (
		mu  sync.Mutex
		ids []int64
	)
	w := New(store, Options{
		BatchSize:     3,
		FlushInterval: time.Hour,
		Logger:        zerolog.Nop(),
		OnPersisted: func(docs []news.Document) {
			mu.Lock()
			defer mu.Unlock()
			for _, d := range docs {
				ids = append(ids, d.ID)
			}
		},
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := w.Enqueue(ctx, doc(i)); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, batches := store.snapshot(); batches == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected a size-triggered flush")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := w.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(ids) != 3 {
		t.Fatalf("expected 3 persisted ids, got %v", ids)
	}
}

func TestWriter_FlushesOnInterval(t *testing.T) {
	t.Parallel()

	store := newFakeStore(0)
	w := New(store, Options{BatchSize: 100, FlushInterval: 20 * time.Millisecond, Logger: zerolog.Nop()})
	defer w.Close(context.Background())

	if err := w.Enqueue(context.Background(), doc(1)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, batches := store.snapshot(); batches == 1 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected an interval flush")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWriter_RetriesThenCountsConflicts(t *testing.T) {
	t.Parallel()

	store := newFakeStore(2)
	w := New(store, Options{
		BatchSize:     10,
		FlushInterval: time.Hour,
		MaxAttempts:   3,
		BaseBackoff:   time.Millisecond,
		Logger:        zerolog.Nop(),
	})
	ctx := context.Background()
	_ = w.Enqueue(ctx, doc(1))
	_ = w.Enqueue(ctx, doc(1))
	_ = w.Enqueue(ctx, doc(2))

	if err := w.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	stats := w.Stats()
	if stats.Enqueued != 3 || stats.Persisted != 2 || stats.Conflicts != 1 || stats.FailedBatches != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if calls, _ := store.snapshot(); calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	if !w.Healthy() {
		t.Fatalf("expected healthy writer after a successful retry")
	}
}

func TestWriter_ExhaustedBatchMarksUnhealthy(t *testing.T) {
	t.Parallel()

	store := newFakeStore(100)
	w := New(store, Options{
		BatchSize:     2,
		FlushInterval: time.Hour,
		MaxAttempts:   2,
		BaseBackoff:   time.Millisecond,
		Logger:        zerolog.Nop(),
	})
	ctx := context.Background()
	_ = w.Enqueue(ctx, doc(1))
	_ = w.Enqueue(ctx, doc(2))
	_ = w.Enqueue(ctx, doc(3))

	if err := w.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	stats := w.Stats()
	if stats.Persisted != 0 || stats.FailedBatches != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if w.Healthy() {
		t.Fatalf("expected unhealthy writer")
	}
	if err := w.Enqueue(ctx, doc(4)); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}
}

// stallingStore blocks every write until the caller's context ends.
type stallingStore struct {
	calls   atomic.Int32
	started chan struct{}
}

func newStallingStore() *stallingStore {
	return &stallingStore{started: make(chan struct{}, 1)}
}

func (s *stallingStore) UpsertDocuments(ctx context.Context, _ []news.Document) ([]news.Document, int, error) {
	s.calls.Add(1)
	select {
	case s.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return nil, 0, news.Persistence("upsert", ctx.Err())
}

func TestWriter_CloseHonoursDeadlineWhileStoreStalls(t *testing.T) {
	t.Parallel()

	store := newStallingStore()
	w := New(store, Options{
		BatchSize:     1,
		FlushInterval: time.Hour,
		FlushTimeout:  time.Hour,
		MaxAttempts:   3,
		BaseBackoff:   time.Hour,
		Logger:        zerolog.Nop(),
	})
	for i := 0; i < 3; i++ {
		if err := w.Enqueue(context.Background(), doc(i)); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	select {
	case <-store.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected the loop to start a flush")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	began := time.Now()
	err := w.Close(ctx)
	if elapsed := time.Since(began); elapsed > 2*time.Second {
		t.Fatalf("close took %s, past its deadline", elapsed)
	}
	if err == nil || !strings.Contains(err.Error(), "3 unflushed documents") {
		t.Fatalf("expected the interrupted batch to be reported, got %v", err)
	}
	if stats := w.Stats(); stats.Persisted != 0 || stats.FailedBatches != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if w.Healthy() {
		t.Fatalf("expected unhealthy writer after unflushed close")
	}
}

func TestWriter_EnqueueBlocksAboveMaxBuffered(t *testing.T) {
	t.Parallel()

	store := newStallingStore()
	w := New(store, Options{
		BatchSize:     2,
		MaxBuffered:   2,
		FlushInterval: time.Hour,
		FlushTimeout:  time.Hour,
		Logger:        zerolog.Nop(),
	})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_ = w.Close(ctx)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i := 0; i < 2; i++ {
		if err := w.Enqueue(ctx, doc(i)); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	select {
	case <-store.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected the first batch to reach the store")
	}
	// The loop is stuck on the first batch; two more fill the buffer.
	for i := 2; i < 4; i++ {
		if err := w.Enqueue(ctx, doc(i)); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	short, cancelShort := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancelShort()
	if err := w.Enqueue(short, doc(4)); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected enqueue to wait for space, got %v", err)
	}
	if got := w.Stats().Enqueued; got != 4 {
		t.Fatalf("expected 4 buffered documents, got %d", got)
	}
}
