// Package writer buffers accepted documents and persists them in batches.
package writer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/newsradar/internal/news"
)

var ErrClosed = errors.New("writer is closed")

// Upserter is the store call a flush makes.
type Upserter interface {
	UpsertDocuments(ctx context.Context, docs []news.Document) ([]news.Document, int, error)
}

type Options struct {
	BatchSize     int
	FlushInterval time.Duration
	FlushTimeout  time.Duration
	MaxAttempts   int
	BaseBackoff   time.Duration
	// MaxBuffered caps the documents waiting for a flush; Enqueue blocks
	// above it. Zero means four batches.
	MaxBuffered int
	// OnPersisted receives the documents of each successful flush with
	// their assigned ids.
	OnPersisted func([]news.Document)
	Logger      zerolog.Logger
}

type Stats struct {
	Enqueued      int64 `json:"enqueued"`
	Persisted     int64 `json:"persisted"`
	Conflicts     int64 `json:"conflicts"`
	FailedBatches int64 `json:"failed_batches"`
}

type Writer struct {
	store Upserter
	opts  Options
	log   zerolog.Logger

	mu     sync.Mutex
	buf    []news.Document
	space  chan struct{}
	closed bool

	// flushMu serializes flushes so batches reach the store in order.
	flushMu sync.Mutex

	// loopCtx bounds the background flushes; Close cancels it once its
	// own deadline passes.
	loopCtx    context.Context
	cancelLoop context.CancelFunc

	kick chan struct{}
	stop chan struct{}
	done chan struct{}

	enqueued      atomic.Int64
	persisted     atomic.Int64
	conflicts     atomic.Int64
	failedBatches atomic.Int64
	unhealthy     atomic.Bool
}

// New starts the background flush loop. Call Close to drain and stop it.
func New(store Upserter, opts Options) *Writer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 2 * time.Second
	}
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = 10 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 200 * time.Millisecond
	}
	if opts.MaxBuffered < opts.BatchSize {
		opts.MaxBuffered = 4 * opts.BatchSize
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	w := &Writer{
		store:      store,
		opts:       opts,
		log:        opts.Logger.With().Str("component", "writer").Logger(),
		buf:        make([]news.Document, 0, opts.BatchSize),
		loopCtx:    loopCtx,
		cancelLoop: cancel,
		kick:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	go w.loop()
	return w
}

// Enqueue buffers doc. A full batch wakes the flush loop. Enqueue waits
// only while MaxBuffered documents are already pending, until the loop
// takes a batch, ctx ends or the writer closes.
func (w *Writer) Enqueue(ctx context.Context, doc news.Document) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.mu.Lock()
		if w.closed {
			w.mu.Unlock()
			return ErrClosed
		}
		if len(w.buf) < w.opts.MaxBuffered {
			w.buf = append(w.buf, doc)
			full := len(w.buf) >= w.opts.BatchSize
			w.mu.Unlock()

			w.enqueued.Add(1)
			if full {
				w.wake()
			}
			return nil
		}
		if w.space == nil {
			w.space = make(chan struct{})
		}
		space := w.space
		w.mu.Unlock()

		w.wake()
		select {
		case <-space:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *Writer) wake() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// releaseSpace wakes blocked Enqueue calls. Callers hold mu.
func (w *Writer) releaseSpace() {
	if w.space != nil {
		close(w.space)
		w.space = nil
	}
}

// loop flushes one batch per wake-up and re-arms itself while full
// batches remain, so a Close never waits behind a whole drain.
func (w *Writer) loop() {
	defer close(w.done)

	ticker := time.NewTicker(w.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
		case <-w.kick:
		}
		w.flushOne(w.loopCtx)
		if w.pending() >= w.opts.BatchSize {
			w.wake()
		}
	}
}

func (w *Writer) pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buf)
}

func (w *Writer) take() []news.Document {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) == 0 {
		return nil
	}
	n := min(len(w.buf), w.opts.BatchSize)
	batch := make([]news.Document, n)
	copy(batch, w.buf[:n])
	w.buf = append(w.buf[:0], w.buf[n:]...)
	w.releaseSpace()
	return batch
}

// requeue puts an interrupted batch back in front of the buffer.
func (w *Writer) requeue(batch []news.Document) {
	w.mu.Lock()
	defer w.mu.Unlock()
	buf := make([]news.Document, 0, len(batch)+len(w.buf))
	buf = append(buf, batch...)
	w.buf = append(buf, w.buf...)
}

func (w *Writer) flushOne(ctx context.Context) {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()
	if ctx.Err() != nil {
		return
	}
	if batch := w.take(); len(batch) > 0 {
		w.flush(ctx, batch)
	}
}

// flushAll drains the buffer in BatchSize chunks until it is empty or ctx
// ends.
func (w *Writer) flushAll(ctx context.Context) {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()
	for ctx.Err() == nil {
		batch := w.take()
		if len(batch) == 0 {
			return
		}
		w.flush(ctx, batch)
	}
}

// flush writes one batch, retrying it as a unit. A batch interrupted by
// ctx goes back to the buffer; an exhausted one is logged with its URLs
// and marks the writer unhealthy.
func (w *Writer) flush(ctx context.Context, batch []news.Document) {
	var lastErr error
	for attempt := 1; ; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, w.opts.FlushTimeout)
		inserted, conflicts, err := w.store.UpsertDocuments(attemptCtx, batch)
		cancel()
		if err == nil {
			w.persisted.Add(int64(len(inserted)))
			w.conflicts.Add(int64(conflicts))
			w.log.Debug().
				Int("batch", len(batch)).
				Int("inserted", len(inserted)).
				Int("conflicts", conflicts).
				Int("attempt", attempt).
				Msg("flushed batch")
			if w.opts.OnPersisted != nil && len(inserted) > 0 {
				w.opts.OnPersisted(inserted)
			}
			return
		}
		if ctx.Err() != nil {
			w.requeue(batch)
			return
		}
		lastErr = err
		w.log.Warn().Err(err).Int("batch", len(batch)).Int("attempt", attempt).Msg("flush failed")
		if attempt >= w.opts.MaxAttempts {
			break
		}
		backoff := time.NewTimer(w.opts.BaseBackoff << (attempt - 1))
		select {
		case <-ctx.Done():
			backoff.Stop()
			w.requeue(batch)
			return
		case <-backoff.C:
		}
	}

	urls := make([]string, 0, len(batch))
	for _, doc := range batch {
		urls = append(urls, doc.URL)
	}
	w.failedBatches.Add(1)
	w.unhealthy.Store(true)
	w.log.Error().
		Err(lastErr).
		Int("batch", len(batch)).
		Int("urls", len(urls)).
		Strs("url_list", urls).
		Msg("batch flush exhausted retries")
}

// Flush synchronously writes everything buffered so far.
func (w *Writer) Flush(ctx context.Context) {
	w.flushAll(ctx)
}

// Close stops accepting documents, flushes the remainder within ctx and
// stops the loop. A background flush still running when ctx ends is
// cancelled. Documents still buffered at that point are reported as an
// error.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.releaseSpace()
	w.mu.Unlock()
	defer w.cancelLoop()

	close(w.stop)
	select {
	case <-w.done:
	case <-ctx.Done():
		w.cancelLoop()
		<-w.done
	}
	w.flushAll(ctx)

	w.mu.Lock()
	left := len(w.buf)
	w.mu.Unlock()
	if left > 0 {
		w.unhealthy.Store(true)
		return fmt.Errorf("writer closed with %d unflushed documents: %w", left, context.Cause(ctx))
	}
	return nil
}

func (w *Writer) Stats() Stats {
	return Stats{
		Enqueued:      w.enqueued.Load(),
		Persisted:     w.persisted.Load(),
		Conflicts:     w.conflicts.Load(),
		FailedBatches: w.failedBatches.Load(),
	}
}

// Healthy is false once any batch was dropped after exhausting retries or
// left unflushed at Close.
func (w *Writer) Healthy() bool {
	return !w.unhealthy.Load()
}
