// Package store selects the document store backend from DATABASE_URL.
package store

import (
	"context"
	"time"

	"horse.fit/newsradar/internal/config"
	"horse.fit/newsradar/internal/db"
	"horse.fit/newsradar/internal/mongostore"
	"horse.fit/newsradar/internal/news"
)

// Documents is the part of the store the ingestion path needs.
type Documents interface {
	UpsertDocuments(ctx context.Context, docs []news.Document) ([]news.Document, int, error)
	URLExists(ctx context.Context, url string) (bool, error)
	KnownURLsSince(ctx context.Context, since time.Time) ([]string, error)
	RecordSeenURLs(ctx context.Context, urls []string) error
	KnownContentHashesSince(ctx context.Context, since time.Time) ([][]byte, error)
	ListDocumentsInWindow(ctx context.Context, from, to time.Time, limit int) ([]news.Document, error)
	UpdateSignatures(ctx context.Context, sigs map[int64][]uint64) error
}

type Store interface {
	Documents

	SaveDuplicatePairs(ctx context.Context, pairs []news.DuplicatePair) (int, error)
	ListDuplicatePairs(ctx context.Context, since time.Time, limit int) ([]news.DuplicatePair, error)
	SaveIngestRun(ctx context.Context, run news.IngestRun) error
	ListIngestRuns(ctx context.Context, limit int) ([]news.IngestRun, error)
	SaveStoryRun(ctx context.Context, run *news.StoryRun) error
	LatestStoryRun(ctx context.Context) (*news.StoryRun, error)

	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*db.Pool)(nil)
	_ Store = (*mongostore.Store)(nil)
)

// Open connects to the backend named by cfg.DatabaseURL. Connection
// failures are returned as persistence errors.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	if cfg.IsMongo() {
		s, err := mongostore.Open(ctx, cfg.DatabaseURL, cfg.MongoDatabase)
		if err != nil {
			return nil, news.Persistence("open store", err)
		}
		return s, nil
	}
	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		return nil, news.Persistence("open store", err)
	}
	return pool, nil
}
