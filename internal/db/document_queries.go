package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"horse.fit/newsradar/internal/minhash"
	"horse.fit/newsradar/internal/news"
)

func documentToRow(d news.Document) DocumentRow {
	row := DocumentRow{
		Source:       d.Source,
		URL:          d.URL,
		Title:        d.Title,
		Body:         d.Body,
		FetchedAt:    d.FetchedAt.UTC().Truncate(time.Second),
		EffectiveAt:  d.EffectiveAt().Truncate(time.Second),
		WordCount:    d.WordCount,
		ContentHash:  d.ContentHash,
		TitleHash:    d.TitleHash,
		Language:     d.Language,
		Category:     d.Category,
		StoryLabel:   d.StoryLabel,
		QualityScore: d.QualityScore,
	}
	if d.HasPublishedAt() {
		at := d.PublishedAt.UTC().Truncate(time.Second)
		row.PublishedAt = &at
	}
	if len(d.Signature) > 0 {
		row.Signature = minhash.Signature(d.Signature).Encode()
	}
	return row
}

// UpsertDocuments inserts docs in one transaction, skipping URLs that are
// already stored. It returns the inserted documents with their ids and the
// number of skipped URLs.
func (p *Pool) UpsertDocuments(ctx context.Context, docs []news.Document) ([]news.Document, int, error) {
	if len(docs) == 0 {
		return nil, 0, nil
	}

	inserted := make([]news.Document, 0, len(docs))
	conflicts := 0
	err := p.gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted = inserted[:0]
		conflicts = 0
		now := time.Now().UTC()
		for _, doc := range docs {
			row := documentToRow(doc)
			row.CreatedAt = now
			res := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "url"}},
				DoNothing: true,
			}).Create(&row)
			if res.Error != nil {
				return fmt.Errorf("insert document %s: %w", doc.URL, res.Error)
			}
			if res.RowsAffected == 0 {
				conflicts++
				continue
			}
			doc.ID = row.ID
			inserted = append(inserted, doc)
		}
		return nil
	})
	if err != nil {
		return nil, 0, news.Persistence("upsert documents", err)
	}
	return inserted, conflicts, nil
}

func (p *Pool) URLExists(ctx context.Context, url string) (bool, error) {
	var n int64
	if err := p.QueryRow(ctx, `SELECT COUNT(*) FROM documents WHERE url = ?`, url).Scan(&n); err != nil {
		return false, news.Persistence("url exists", err)
	}
	return n > 0, nil
}

// KnownURLsSince lists the URLs of documents fetched at or after since,
// plus the duplicate URLs recorded since then.
func (p *Pool) KnownURLsSince(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := p.Query(ctx, `
SELECT url FROM documents WHERE fetched_at >= ?
UNION
SELECT url FROM seen_urls WHERE seen_at >= ?
ORDER BY url`, since.UTC(), since.UTC())
	if err != nil {
		return nil, news.Persistence("known urls", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, news.Persistence("known urls", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, news.Persistence("known urls", err)
	}
	return out, nil
}

// RecordSeenURLs remembers URLs that were fetched but not stored because
// their body was already known. Recording a URL again refreshes it.
func (p *Pool) RecordSeenURLs(ctx context.Context, urls []string) error {
	if len(urls) == 0 {
		return nil
	}
	now := time.Now().UTC().Truncate(time.Second)
	rows := make([]SeenURLRow, 0, len(urls))
	for _, u := range urls {
		rows = append(rows, SeenURLRow{URL: u, SeenAt: now})
	}
	res := p.gdb.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "url"}},
		DoUpdates: clause.AssignmentColumns([]string{"seen_at"}),
	}).CreateInBatches(&rows, 500)
	if res.Error != nil {
		return news.Persistence("record seen urls", res.Error)
	}
	return nil
}

// KnownContentHashesSince lists the body fingerprints of documents fetched
// at or after since.
func (p *Pool) KnownContentHashesSince(ctx context.Context, since time.Time) ([][]byte, error) {
	rows, err := p.Query(ctx, `SELECT content_hash FROM documents WHERE fetched_at >= ? AND content_hash IS NOT NULL ORDER BY id`, since.UTC())
	if err != nil {
		return nil, news.Persistence("known content hashes", err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var h []byte
		if err := rows.Scan(&h); err != nil {
			return nil, news.Persistence("known content hashes", err)
		}
		if len(h) > 0 {
			out = append(out, h)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, news.Persistence("known content hashes", err)
	}
	return out, nil
}

const documentColumns = `id, source, url, title, body, published_at, fetched_at, word_count,
	content_hash, title_hash, language, category, signature, story_label, quality_score`

// ListDocumentsInWindow returns documents with from <= effective_at < to,
// oldest first, at most limit of them (the newest are kept when the window
// holds more).
func (p *Pool) ListDocumentsInWindow(ctx context.Context, from, to time.Time, limit int) ([]news.Document, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}
	if !from.Before(to) {
		return nil, fmt.Errorf("from must be before to")
	}

	q := `SELECT ` + documentColumns + `
FROM documents
WHERE effective_at >= ? AND effective_at < ?
ORDER BY effective_at DESC, id DESC
LIMIT ?`
	rows, err := p.Query(ctx, q, from.UTC(), to.UTC(), limit)
	if err != nil {
		return nil, news.Persistence("list documents", err)
	}
	defer rows.Close()

	var out []news.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, news.Persistence("list documents", err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, news.Persistence("list documents", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func scanDocument(rows *Rows) (news.Document, error) {
	var (
		doc          news.Document
		published    sql.NullTime
		signature    []byte
		storyLabel   sql.NullString
		qualityScore sql.NullFloat64
	)
	if err := rows.Scan(
		&doc.ID,
		&doc.Source,
		&doc.URL,
		&doc.Title,
		&doc.Body,
		&published,
		&doc.FetchedAt,
		&doc.WordCount,
		&doc.ContentHash,
		&doc.TitleHash,
		&doc.Language,
		&doc.Category,
		&signature,
		&storyLabel,
		&qualityScore,
	); err != nil {
		return news.Document{}, err
	}
	doc.FetchedAt = doc.FetchedAt.UTC()
	if published.Valid {
		at := published.Time.UTC()
		doc.PublishedAt = &at
	}
	if len(signature) > 0 {
		sig, err := minhash.Decode(signature)
		if err != nil {
			return news.Document{}, fmt.Errorf("document %d: %w", doc.ID, err)
		}
		doc.Signature = sig
	}
	if storyLabel.Valid {
		label := storyLabel.String
		doc.StoryLabel = &label
	}
	if qualityScore.Valid {
		score := qualityScore.Float64
		doc.QualityScore = &score
	}
	return doc, nil
}

// UpdateSignatures stores recomputed MinHash signatures by document id.
func (p *Pool) UpdateSignatures(ctx context.Context, sigs map[int64][]uint64) error {
	if len(sigs) == 0 {
		return nil
	}
	err := p.gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for id, sig := range sigs {
			res := tx.Model(&DocumentRow{}).Where("id = ?", id).Update("signature", minhash.Signature(sig).Encode())
			if res.Error != nil {
				return fmt.Errorf("update signature of %d: %w", id, res.Error)
			}
		}
		return nil
	})
	if err != nil {
		return news.Persistence("update signatures", err)
	}
	return nil
}
