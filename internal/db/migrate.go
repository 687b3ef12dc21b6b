package db

import (
	"context"
	"fmt"
	"strings"
)

// postAutoMigrateSQL holds statements gorm tags cannot express. Each entry
// must be idempotent.
var postAutoMigrateSQL = []struct {
	name string
	sql  string
}{
	{
		name: "documents source+effective_at index",
		sql:  `CREATE INDEX IF NOT EXISTS ix_documents_source_effective_at ON documents (source, effective_at)`,
	},
	{
		name: "story_clusters run+rank index",
		sql:  `CREATE INDEX IF NOT EXISTS ix_story_clusters_run_rank ON story_clusters (run_uuid, rank)`,
	},
}

func (p *Pool) autoMigrate(ctx context.Context) error {
	if p == nil || p.gdb == nil {
		return fmt.Errorf("database pool is not initialized")
	}

	if err := p.gdb.WithContext(ctx).AutoMigrate(autoMigrateModels()...); err != nil {
		return fmt.Errorf("gorm auto-migrate models: %w", err)
	}

	for _, script := range postAutoMigrateSQL {
		if err := executeMigrationSQL(ctx, p, script.name, script.sql); err != nil {
			return err
		}
	}
	return nil
}

func executeMigrationSQL(ctx context.Context, p *Pool, label, sqlText string) error {
	trimmed := strings.TrimSpace(sqlText)
	if trimmed == "" {
		return nil
	}
	if err := p.gdb.WithContext(ctx).Exec(trimmed).Error; err != nil {
		return fmt.Errorf("execute %s SQL: %w", label, err)
	}
	return nil
}
