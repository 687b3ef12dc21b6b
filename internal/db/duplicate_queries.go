package db

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"horse.fit/newsradar/internal/news"
)

// SaveDuplicatePairs upserts verified pairs keyed by (a, b) and returns
// how many were written.
func (p *Pool) SaveDuplicatePairs(ctx context.Context, pairs []news.DuplicatePair) (int, error) {
	if len(pairs) == 0 {
		return 0, nil
	}
	now := time.Now().UTC().Truncate(time.Second)
	rows := make([]DuplicatePairRow, 0, len(pairs))
	for _, pair := range pairs {
		a, b := pair.A, pair.B
		if a > b {
			a, b = b, a
		}
		rows = append(rows, DuplicatePairRow{
			DocumentAID:    a,
			DocumentBID:    b,
			Similarity:     pair.Similarity,
			Classification: string(pair.Class),
			DetectedAt:     now,
		})
	}

	res := p.gdb.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "document_a_id"}, {Name: "document_b_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"similarity", "classification", "detected_at"}),
	}).CreateInBatches(&rows, 500)
	if res.Error != nil {
		return 0, news.Persistence("save duplicate pairs", res.Error)
	}
	return len(rows), nil
}

// ListDuplicatePairs returns pairs detected at or after since, most similar
// first.
func (p *Pool) ListDuplicatePairs(ctx context.Context, since time.Time, limit int) ([]news.DuplicatePair, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}
	rows, err := p.Query(ctx, `
SELECT document_a_id, document_b_id, similarity, classification
FROM duplicate_pairs
WHERE detected_at >= ?
ORDER BY similarity DESC, document_a_id, document_b_id
LIMIT ?`, since.UTC(), limit)
	if err != nil {
		return nil, news.Persistence("list duplicate pairs", err)
	}
	defer rows.Close()

	var out []news.DuplicatePair
	for rows.Next() {
		var (
			pair  news.DuplicatePair
			class string
		)
		if err := rows.Scan(&pair.A, &pair.B, &pair.Similarity, &class); err != nil {
			return nil, news.Persistence("list duplicate pairs", err)
		}
		pair.Class = news.PairClass(class)
		out = append(out, pair)
	}
	if err := rows.Err(); err != nil {
		return nil, news.Persistence("list duplicate pairs", err)
	}
	return out, nil
}
