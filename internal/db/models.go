package db

import "time"

// DocumentRow maps documents. effective_at is published_at when present,
// fetched_at otherwise, so window queries need no null handling.
type DocumentRow struct {
	ID           int64      `gorm:"column:id;primaryKey;autoIncrement"`
	Source       string     `gorm:"column:source;not null;index"`
	URL          string     `gorm:"column:url;not null;uniqueIndex:ux_documents_url"`
	Title        string     `gorm:"column:title;not null"`
	Body         string     `gorm:"column:body;not null"`
	PublishedAt  *time.Time `gorm:"column:published_at"`
	FetchedAt    time.Time  `gorm:"column:fetched_at;not null"`
	EffectiveAt  time.Time  `gorm:"column:effective_at;not null;index:ix_documents_effective_at"`
	WordCount    int        `gorm:"column:word_count;not null;default:0"`
	ContentHash  []byte     `gorm:"column:content_hash;index"`
	TitleHash    []byte     `gorm:"column:title_hash"`
	Language     string     `gorm:"column:language;not null;default:''"`
	Category     string     `gorm:"column:category;not null;default:''"`
	Signature    []byte     `gorm:"column:signature"`
	StoryLabel   *string    `gorm:"column:story_label"`
	QualityScore *float64   `gorm:"column:quality_score"`
	CreatedAt    time.Time  `gorm:"column:created_at;not null"`
}

func (DocumentRow) TableName() string { return "documents" }

// DuplicatePairRow maps duplicate_pairs. DocumentAID is the lower id.
type DuplicatePairRow struct {
	ID             int64     `gorm:"column:id;primaryKey;autoIncrement"`
	DocumentAID    int64     `gorm:"column:document_a_id;not null;uniqueIndex:ux_duplicate_pairs_ab"`
	DocumentBID    int64     `gorm:"column:document_b_id;not null;uniqueIndex:ux_duplicate_pairs_ab"`
	Similarity     float64   `gorm:"column:similarity;not null"`
	Classification string    `gorm:"column:classification;not null"`
	DetectedAt     time.Time `gorm:"column:detected_at;not null;index"`
}

func (DuplicatePairRow) TableName() string { return "duplicate_pairs" }

// SeenURLRow maps seen_urls: fetched URLs whose body matched a stored
// document, so later runs can skip them without a fetch.
type SeenURLRow struct {
	ID     int64     `gorm:"column:id;primaryKey;autoIncrement"`
	URL    string    `gorm:"column:url;not null;uniqueIndex:ux_seen_urls_url"`
	SeenAt time.Time `gorm:"column:seen_at;not null;index"`
}

func (SeenURLRow) TableName() string { return "seen_urls" }

// IngestRunRow maps ingest_runs.
type IngestRunRow struct {
	ID         int64      `gorm:"column:id;primaryKey;autoIncrement"`
	RunUUID    string     `gorm:"column:run_uuid;not null;uniqueIndex"`
	StartedAt  time.Time  `gorm:"column:started_at;not null;index"`
	FinishedAt *time.Time `gorm:"column:finished_at"`
	DryRun     bool       `gorm:"column:dry_run;not null;default:false"`
	Health     string     `gorm:"column:health;not null"`
	Persisted  int        `gorm:"column:persisted;not null;default:0"`
}

func (IngestRunRow) TableName() string { return "ingest_runs" }

// IngestSourceRunRow maps ingest_source_runs.
type IngestSourceRunRow struct {
	ID           int64   `gorm:"column:id;primaryKey;autoIncrement"`
	RunUUID      string  `gorm:"column:run_uuid;not null;index"`
	Source       string  `gorm:"column:source;not null"`
	Discovered   int     `gorm:"column:discovered;not null;default:0"`
	Attempted    int     `gorm:"column:attempted;not null;default:0"`
	Fetched      int     `gorm:"column:fetched;not null;default:0"`
	Accepted     int     `gorm:"column:accepted;not null;default:0"`
	Duplicate    int     `gorm:"column:duplicate;not null;default:0"`
	Rejected     int     `gorm:"column:rejected;not null;default:0"`
	Failed       int     `gorm:"column:failed;not null;default:0"`
	ErrorMessage *string `gorm:"column:error_message"`
}

func (IngestSourceRunRow) TableName() string { return "ingest_source_runs" }

// StoryRunRow maps story_runs, one row per analysis pass.
type StoryRunRow struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement"`
	RunUUID      string    `gorm:"column:run_uuid;not null;uniqueIndex"`
	WindowStart  time.Time `gorm:"column:window_start;not null"`
	WindowEnd    time.Time `gorm:"column:window_end;not null"`
	FeatureLevel string    `gorm:"column:feature_level;not null"`
	Documents    int       `gorm:"column:documents;not null;default:0"`
	Rejected     int       `gorm:"column:rejected;not null;default:0"`
	Noise        int       `gorm:"column:noise;not null;default:0"`
	Eps          float64   `gorm:"column:eps;not null;default:0"`
	MinPts       int       `gorm:"column:min_pts;not null;default:0"`
	Shrunk       bool      `gorm:"column:shrunk;not null;default:false"`
	CreatedAt    time.Time `gorm:"column:created_at;not null;index"`
}

func (StoryRunRow) TableName() string { return "story_runs" }

// StoryClusterRow maps story_clusters.
type StoryClusterRow struct {
	ID                  int64     `gorm:"column:id;primaryKey;autoIncrement"`
	RunUUID             string    `gorm:"column:run_uuid;not null;index"`
	Rank                int       `gorm:"column:rank;not null"`
	Label               string    `gorm:"column:label;not null"`
	RepresentativeTitle string    `gorm:"column:representative_title;not null"`
	RepresentativeID    int64     `gorm:"column:representative_id;not null"`
	ArticleCount        int       `gorm:"column:article_count;not null"`
	SourceCount         int       `gorm:"column:source_count;not null"`
	Velocity            float64   `gorm:"column:velocity;not null"`
	Recency             float64   `gorm:"column:recency;not null"`
	Engagement          float64   `gorm:"column:engagement;not null"`
	TrendingScore       float64   `gorm:"column:trending_score;not null"`
	FirstSeen           time.Time `gorm:"column:first_seen;not null"`
	LastSeen            time.Time `gorm:"column:last_seen;not null"`
}

func (StoryClusterRow) TableName() string { return "story_clusters" }

// StoryClusterMemberRow maps story_cluster_members.
type StoryClusterMemberRow struct {
	ID         int64 `gorm:"column:id;primaryKey;autoIncrement"`
	ClusterID  int64 `gorm:"column:cluster_id;not null;index"`
	DocumentID int64 `gorm:"column:document_id;not null;index"`
}

func (StoryClusterMemberRow) TableName() string { return "story_cluster_members" }

func autoMigrateModels() []any {
	return []any{
		&DocumentRow{},
		&DuplicatePairRow{},
		&SeenURLRow{},
		&IngestRunRow{},
		&IngestSourceRunRow{},
		&StoryRunRow{},
		&StoryClusterRow{},
		&StoryClusterMemberRow{},
	}
}
