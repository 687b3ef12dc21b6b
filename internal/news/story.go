package news

import "time"

type PairClass string

const (
	PairIdentical     PairClass = "identical"
	PairNearDuplicate PairClass = "near_duplicate"
)

// DuplicatePair is a verified LSH candidate. A is always the lower id.
type DuplicatePair struct {
	A          int64     `json:"document_a_id"`
	B          int64     `json:"document_b_id"`
	Similarity float64   `json:"similarity"`
	Class      PairClass `json:"classification"`
}

// DuplicateGroup is one connected component of accepted pairs.
type DuplicateGroup struct {
	Master     int64   `json:"master_id"`
	Duplicates []int64 `json:"duplicate_ids"`
}

// StoryCluster is one ranked group produced by an analysis pass.
type StoryCluster struct {
	Rank                int       `json:"rank"`
	Label               string    `json:"label"`
	RepresentativeTitle string    `json:"representative_title"`
	RepresentativeID    int64     `json:"representative_id"`
	MemberIDs           []int64   `json:"member_ids"`
	ArticleCount        int       `json:"article_count"`
	SourceCount         int       `json:"source_count"`
	Velocity            float64   `json:"velocity"`
	Recency             float64   `json:"recency"`
	Engagement          float64   `json:"engagement"`
	TrendingScore       float64   `json:"trending_score"`
	FirstSeen           time.Time `json:"first_seen"`
	LastSeen            time.Time `json:"last_seen"`
	WindowStart         time.Time `json:"window_start"`
	WindowEnd           time.Time `json:"window_end"`
}

// StoryRun is the persisted result of one analysis pass over one window.
type StoryRun struct {
	UUID         string         `json:"run_uuid"`
	WindowStart  time.Time      `json:"window_start"`
	WindowEnd    time.Time      `json:"window_end"`
	FeatureLevel string         `json:"feature_level"`
	Documents    int            `json:"documents"`
	Rejected     int            `json:"rejected"`
	Noise        int            `json:"noise"`
	Eps          float64        `json:"eps"`
	MinPts       int            `json:"min_pts"`
	Shrunk       bool           `json:"shrunk"`
	CreatedAt    time.Time      `json:"created_at"`
	Clusters     []StoryCluster `json:"clusters"`
}

type Health string

const (
	HealthHealthy   Health = "healthy"
	HealthDegraded  Health = "degraded"
	HealthUnhealthy Health = "unhealthy"
)

// SourceCounts are the per-source counters of one ingestion run.
type SourceCounts struct {
	Discovered int `json:"discovered"`
	Attempted  int `json:"attempted"`
	Fetched    int `json:"fetched"`
	Accepted   int `json:"accepted"`
	Duplicate  int `json:"duplicate"`
	Rejected   int `json:"rejected"`
	Failed     int `json:"failed"`
}

// SourceRun is the outcome of one source inside an ingestion run.
type SourceRun struct {
	Source string       `json:"source"`
	Counts SourceCounts `json:"counts"`
	Error  string       `json:"error,omitempty"`
}

// IngestRun is the ledger entry of one ingestion run.
type IngestRun struct {
	UUID       string      `json:"run_uuid"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	DryRun     bool        `json:"dry_run"`
	Health     Health      `json:"health"`
	Persisted  int         `json:"persisted"`
	Sources    []SourceRun `json:"sources"`
}
