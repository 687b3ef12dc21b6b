package db

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"horse.fit/newsradar/internal/news"
)

// SaveStoryRun persists one analysis pass with its ranked clusters and
// members, and labels member documents with their cluster label.
func (p *Pool) SaveStoryRun(ctx context.Context, run *news.StoryRun) error {
	if run == nil || run.UUID == "" {
		return fmt.Errorf("story run with uuid is required")
	}
	err := p.gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		runRow := StoryRunRow{
			RunUUID:      run.UUID,
			WindowStart:  run.WindowStart.UTC(),
			WindowEnd:    run.WindowEnd.UTC(),
			FeatureLevel: run.FeatureLevel,
			Documents:    run.Documents,
			Rejected:     run.Rejected,
			Noise:        run.Noise,
			Eps:          run.Eps,
			MinPts:       run.MinPts,
			Shrunk:       run.Shrunk,
			CreatedAt:    run.CreatedAt.UTC(),
		}
		if err := tx.Create(&runRow).Error; err != nil {
			return fmt.Errorf("insert story run: %w", err)
		}

		for _, sc := range run.Clusters {
			clusterRow := StoryClusterRow{
				RunUUID:             run.UUID,
				Rank:                sc.Rank,
				Label:               sc.Label,
				RepresentativeTitle: sc.RepresentativeTitle,
				RepresentativeID:    sc.RepresentativeID,
				ArticleCount:        sc.ArticleCount,
				SourceCount:         sc.SourceCount,
				Velocity:            sc.Velocity,
				Recency:             sc.Recency,
				Engagement:          sc.Engagement,
				TrendingScore:       sc.TrendingScore,
				FirstSeen:           sc.FirstSeen.UTC(),
				LastSeen:            sc.LastSeen.UTC(),
			}
			if err := tx.Create(&clusterRow).Error; err != nil {
				return fmt.Errorf("insert story cluster %s: %w", sc.Label, err)
			}
			members := make([]StoryClusterMemberRow, 0, len(sc.MemberIDs))
			for _, id := range sc.MemberIDs {
				members = append(members, StoryClusterMemberRow{ClusterID: clusterRow.ID, DocumentID: id})
			}
			if len(members) > 0 {
				if err := tx.CreateInBatches(&members, 500).Error; err != nil {
					return fmt.Errorf("insert members of %s: %w", sc.Label, err)
				}
				if err := tx.Model(&DocumentRow{}).Where("id IN ?", sc.MemberIDs).Update("story_label", sc.Label).Error; err != nil {
					return fmt.Errorf("label members of %s: %w", sc.Label, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return news.Persistence("save story run", err)
	}
	return nil
}

// LatestStoryRun loads the most recent analysis pass. It returns
// news.ErrNotFound when no pass has been stored.
func (p *Pool) LatestStoryRun(ctx context.Context) (*news.StoryRun, error) {
	var runRow StoryRunRow
	err := p.gdb.WithContext(ctx).Order("created_at DESC, id DESC").Take(&runRow).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, news.ErrNotFound
	}
	if err != nil {
		return nil, news.Persistence("latest story run", err)
	}

	run := &news.StoryRun{
		UUID:         runRow.RunUUID,
		WindowStart:  runRow.WindowStart.UTC(),
		WindowEnd:    runRow.WindowEnd.UTC(),
		FeatureLevel: runRow.FeatureLevel,
		Documents:    runRow.Documents,
		Rejected:     runRow.Rejected,
		Noise:        runRow.Noise,
		Eps:          runRow.Eps,
		MinPts:       runRow.MinPts,
		Shrunk:       runRow.Shrunk,
		CreatedAt:    runRow.CreatedAt.UTC(),
	}

	var clusterRows []StoryClusterRow
	if err := p.gdb.WithContext(ctx).Where("run_uuid = ?", runRow.RunUUID).Order("rank").Find(&clusterRows).Error; err != nil {
		return nil, news.Persistence("latest story run", err)
	}
	for _, cr := range clusterRows {
		var members []StoryClusterMemberRow
		if err := p.gdb.WithContext(ctx).Where("cluster_id = ?", cr.ID).Order("document_id").Find(&members).Error; err != nil {
			return nil, news.Persistence("latest story run", err)
		}
		sc := news.StoryCluster{
			Rank:                cr.Rank,
			Label:               cr.Label,
			RepresentativeTitle: cr.RepresentativeTitle,
			RepresentativeID:    cr.RepresentativeID,
			ArticleCount:        cr.ArticleCount,
			SourceCount:         cr.SourceCount,
			Velocity:            cr.Velocity,
			Recency:             cr.Recency,
			Engagement:          cr.Engagement,
			TrendingScore:       cr.TrendingScore,
			FirstSeen:           cr.FirstSeen.UTC(),
			LastSeen:            cr.LastSeen.UTC(),
			WindowStart:         run.WindowStart,
			WindowEnd:           run.WindowEnd,
		}
		for _, m := range members {
			sc.MemberIDs = append(sc.MemberIDs, m.DocumentID)
		}
		run.Clusters = append(run.Clusters, sc)
	}
	return run, nil
}
