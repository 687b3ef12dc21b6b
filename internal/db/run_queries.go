package db

import (
	"context"
	"database/sql"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"horse.fit/newsradar/internal/news"
)

// SaveIngestRun writes the run ledger entry and its per-source rows. Saving
// the same run twice replaces the source rows.
func (p *Pool) SaveIngestRun(ctx context.Context, run news.IngestRun) error {
	if run.UUID == "" {
		return fmt.Errorf("run uuid is required")
	}
	err := p.gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := IngestRunRow{
			RunUUID:    run.UUID,
			StartedAt:  run.StartedAt.UTC(),
			FinishedAt: run.FinishedAt,
			DryRun:     run.DryRun,
			Health:     string(run.Health),
			Persisted:  run.Persisted,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "run_uuid"}},
			DoUpdates: clause.AssignmentColumns([]string{"finished_at", "health", "persisted"}),
		}).Create(&row).Error; err != nil {
			return fmt.Errorf("insert ingest run: %w", err)
		}

		if err := tx.Where("run_uuid = ?", run.UUID).Delete(&IngestSourceRunRow{}).Error; err != nil {
			return fmt.Errorf("clear source runs: %w", err)
		}
		for _, src := range run.Sources {
			srcRow := IngestSourceRunRow{
				RunUUID:    run.UUID,
				Source:     src.Source,
				Discovered: src.Counts.Discovered,
				Attempted:  src.Counts.Attempted,
				Fetched:    src.Counts.Fetched,
				Accepted:   src.Counts.Accepted,
				Duplicate:  src.Counts.Duplicate,
				Rejected:   src.Counts.Rejected,
				Failed:     src.Counts.Failed,
			}
			if src.Error != "" {
				msg := src.Error
				srcRow.ErrorMessage = &msg
			}
			if err := tx.Create(&srcRow).Error; err != nil {
				return fmt.Errorf("insert source run %s: %w", src.Source, err)
			}
		}
		return nil
	})
	if err != nil {
		return news.Persistence("save ingest run", err)
	}
	return nil
}

// ListIngestRuns returns the latest runs, newest first, with their sources.
func (p *Pool) ListIngestRuns(ctx context.Context, limit int) ([]news.IngestRun, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}

	rows, err := p.Query(ctx, `
SELECT run_uuid, started_at, finished_at, dry_run, health, persisted
FROM ingest_runs
ORDER BY started_at DESC, id DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, news.Persistence("list ingest runs", err)
	}
	var runs []news.IngestRun
	for rows.Next() {
		var (
			run      news.IngestRun
			finished sql.NullTime
			health   string
		)
		if err := rows.Scan(&run.UUID, &run.StartedAt, &finished, &run.DryRun, &health, &run.Persisted); err != nil {
			rows.Close()
			return nil, news.Persistence("list ingest runs", err)
		}
		run.StartedAt = run.StartedAt.UTC()
		if finished.Valid {
			at := finished.Time.UTC()
			run.FinishedAt = &at
		}
		run.Health = news.Health(health)
		runs = append(runs, run)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, news.Persistence("list ingest runs", err)
	}

	for i := range runs {
		var srcRows []IngestSourceRunRow
		if err := p.gdb.WithContext(ctx).Where("run_uuid = ?", runs[i].UUID).Order("id").Find(&srcRows).Error; err != nil {
			return nil, news.Persistence("list ingest runs", err)
		}
		for _, sr := range srcRows {
			src := news.SourceRun{
				Source: sr.Source,
				Counts: news.SourceCounts{
					Discovered: sr.Discovered,
					Attempted:  sr.Attempted,
					Fetched:    sr.Fetched,
					Accepted:   sr.Accepted,
					Duplicate:  sr.Duplicate,
					Rejected:   sr.Rejected,
					Failed:     sr.Failed,
				},
			}
			if sr.ErrorMessage != nil {
				src.Error = *sr.ErrorMessage
			}
			runs[i].Sources = append(runs[i].Sources, src)
		}
	}
	return runs, nil
}
