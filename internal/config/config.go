package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment   string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`
	LogFile       string `envconfig:"LOG_FILE" default:""`
	LogMaxSizeMB  int    `envconfig:"LOG_MAX_SIZE_MB" default:"100"`
	LogMaxBackups int    `envconfig:"LOG_MAX_BACKUPS" default:"5"`

	DatabaseURL   string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns    int32  `envconfig:"NR_DB_MIN_CONNS" default:"1"`
	DBMaxConns    int32  `envconfig:"NR_DB_MAX_CONNS" default:"8"`
	MongoDatabase string `envconfig:"NR_MONGO_DATABASE" default:"newsradar"`

	SourcesFile string `envconfig:"NR_SOURCES_FILE" default:"sources.yaml"`

	UserAgent            string        `envconfig:"NR_USER_AGENT" default:"newsradar/1.0 (+https://horse.fit/newsradar)"`
	FetchTimeout         time.Duration `envconfig:"NR_FETCH_TIMEOUT" default:"15s"`
	FetchMaxAttempts     int           `envconfig:"NR_FETCH_MAX_ATTEMPTS" default:"3"`
	FetchBaseBackoff     time.Duration `envconfig:"NR_FETCH_BASE_BACKOFF" default:"500ms"`
	FetchMaxBackoff      time.Duration `envconfig:"NR_FETCH_MAX_BACKOFF" default:"10s"`
	FetchBodyLimit       int64         `envconfig:"NR_FETCH_BODY_LIMIT" default:"4194304"`
	RespectRobots        bool          `envconfig:"NR_RESPECT_ROBOTS" default:"true"`
	DefaultHostRate      float64       `envconfig:"NR_DEFAULT_HOST_RATE" default:"1"`
	DefaultHostBurst     int           `envconfig:"NR_DEFAULT_HOST_BURST" default:"2"`
	GlobalConcurrency    int           `envconfig:"NR_GLOBAL_CONCURRENCY" default:"16"`
	PerSourceConcurrency int           `envconfig:"NR_PER_SOURCE_CONCURRENCY" default:"4"`
	CPUWorkers           int           `envconfig:"NR_CPU_WORKERS" default:"0"`
	SeenLookback         time.Duration `envconfig:"NR_SEEN_LOOKBACK" default:"720h"`
	SeenShards           int           `envconfig:"NR_SEEN_SHARDS" default:"64"`

	BatchSize            int           `envconfig:"NR_BATCH_SIZE" default:"100"`
	FlushInterval        time.Duration `envconfig:"NR_FLUSH_INTERVAL" default:"2s"`
	FlushTimeout         time.Duration `envconfig:"NR_FLUSH_TIMEOUT" default:"10s"`
	FlushMaxAttempts     int           `envconfig:"NR_FLUSH_MAX_ATTEMPTS" default:"3"`
	WriterMaxBuffered    int           `envconfig:"NR_WRITER_MAX_BUFFERED" default:"0"`
	ShutdownFlushTimeout time.Duration `envconfig:"NR_SHUTDOWN_FLUSH_TIMEOUT" default:"15s"`

	ShingleSize        int     `envconfig:"NR_SHINGLE_SIZE" default:"3"`
	MinHashPerms       int     `envconfig:"NR_MINHASH_PERMUTATIONS" default:"128"`
	LSHBands           int     `envconfig:"NR_LSH_BANDS" default:"16"`
	LSHShards          int     `envconfig:"NR_LSH_SHARDS" default:"64"`
	DuplicateThreshold float64 `envconfig:"NR_DUPLICATE_THRESHOLD" default:"0.6"`
	MinHashSeed        uint64  `envconfig:"NR_MINHASH_SEED" default:"1"`

	AnalysisWindow    time.Duration `envconfig:"NR_ANALYSIS_WINDOW" default:"24h"`
	AnalysisLimit     int           `envconfig:"NR_ANALYSIS_LIMIT" default:"5000"`
	FeatureLevel      string        `envconfig:"NR_FEATURE_LEVEL" default:"full"`
	HalfLife          time.Duration `envconfig:"NR_HALF_LIFE" default:"6h"`
	TemporalFactor    float64       `envconfig:"NR_TEMPORAL_FACTOR" default:"0.1"`
	SameSourcePenalty float64       `envconfig:"NR_SAME_SOURCE_PENALTY" default:"0.1"`
	EpsTiers          string        `envconfig:"NR_EPS_TIERS" default:"20:0.42:2,100:0.36:3,500:0.30:4,0:0.26:5"`
	ShrinkFactor      float64       `envconfig:"NR_EPS_SHRINK_FACTOR" default:"0.7"`
	GiantClusterRatio float64       `envconfig:"NR_GIANT_CLUSTER_RATIO" default:"0.5"`
	MaxFeatures       int           `envconfig:"NR_MAX_FEATURES" default:"5000"`
	MinDF             int           `envconfig:"NR_MIN_DF" default:"2"`
	MaxDFRatio        float64       `envconfig:"NR_MAX_DF_RATIO" default:"0.85"`
	TitleBoost        int           `envconfig:"NR_TITLE_BOOST" default:"2"`
	MinTokenLength    int           `envconfig:"NR_MIN_TOKEN_LENGTH" default:"3"`
	DomainKeywords    []string      `envconfig:"NR_DOMAIN_KEYWORDS" default:""`
	ContaminationFile string        `envconfig:"NR_CONTAMINATION_FILE" default:""`
	WeightArticles    float64       `envconfig:"NR_WEIGHT_ARTICLES" default:"1.0"`
	WeightSources     float64       `envconfig:"NR_WEIGHT_SOURCES" default:"2.5"`
	WeightVelocity    float64       `envconfig:"NR_WEIGHT_VELOCITY" default:"1.5"`
	WeightRecency     float64       `envconfig:"NR_WEIGHT_RECENCY" default:"1.0"`
	WeightEngagement  float64       `envconfig:"NR_WEIGHT_ENGAGEMENT" default:"0.5"`
}

// EpsTier maps batch sizes below MaxSize (0 means unbounded) to DBSCAN
// parameters.
type EpsTier struct {
	MaxSize int
	Eps     float64
	MinPts  int
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("NR_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("NR_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("NR_DB_MIN_CONNS (%d) cannot exceed NR_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("NR_FETCH_TIMEOUT must be > 0")
	}
	if c.FetchMaxAttempts < 1 {
		return fmt.Errorf("NR_FETCH_MAX_ATTEMPTS must be >= 1")
	}
	if c.DefaultHostRate <= 0 {
		return fmt.Errorf("NR_DEFAULT_HOST_RATE must be > 0")
	}
	if c.DefaultHostBurst < 1 {
		return fmt.Errorf("NR_DEFAULT_HOST_BURST must be >= 1")
	}
	if c.GlobalConcurrency < 1 {
		return fmt.Errorf("NR_GLOBAL_CONCURRENCY must be >= 1")
	}
	if c.PerSourceConcurrency < 1 {
		return fmt.Errorf("NR_PER_SOURCE_CONCURRENCY must be >= 1")
	}
	if c.CPUWorkers < 0 {
		return fmt.Errorf("NR_CPU_WORKERS must be >= 0")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("NR_BATCH_SIZE must be >= 1")
	}
	if c.FlushInterval <= 0 || c.FlushTimeout <= 0 || c.ShutdownFlushTimeout <= 0 {
		return fmt.Errorf("NR_FLUSH_INTERVAL, NR_FLUSH_TIMEOUT and NR_SHUTDOWN_FLUSH_TIMEOUT must be > 0")
	}
	if c.FlushMaxAttempts < 1 {
		return fmt.Errorf("NR_FLUSH_MAX_ATTEMPTS must be >= 1")
	}
	if c.WriterMaxBuffered < 0 {
		return fmt.Errorf("NR_WRITER_MAX_BUFFERED must be >= 0")
	}
	if c.ShingleSize < 1 {
		return fmt.Errorf("NR_SHINGLE_SIZE must be >= 1")
	}
	if c.MinHashPerms < 1 || c.LSHBands < 1 {
		return fmt.Errorf("NR_MINHASH_PERMUTATIONS and NR_LSH_BANDS must be >= 1")
	}
	if c.MinHashPerms%c.LSHBands != 0 {
		return fmt.Errorf("NR_MINHASH_PERMUTATIONS (%d) must be divisible by NR_LSH_BANDS (%d)", c.MinHashPerms, c.LSHBands)
	}
	if c.DuplicateThreshold <= 0 || c.DuplicateThreshold > 1 {
		return fmt.Errorf("NR_DUPLICATE_THRESHOLD must be in (0, 1]")
	}
	if c.AnalysisWindow <= 0 {
		return fmt.Errorf("NR_ANALYSIS_WINDOW must be > 0")
	}
	if c.AnalysisLimit < 1 {
		return fmt.Errorf("NR_ANALYSIS_LIMIT must be >= 1")
	}
	switch strings.ToLower(strings.TrimSpace(c.FeatureLevel)) {
	case "full", "basic":
	default:
		return fmt.Errorf("NR_FEATURE_LEVEL must be full or basic, got %q", c.FeatureLevel)
	}
	if c.HalfLife <= 0 {
		return fmt.Errorf("NR_HALF_LIFE must be > 0")
	}
	if c.TemporalFactor < 0 || c.TemporalFactor >= 1 {
		return fmt.Errorf("NR_TEMPORAL_FACTOR must be in [0, 1)")
	}
	if c.SameSourcePenalty < 0 {
		return fmt.Errorf("NR_SAME_SOURCE_PENALTY must be >= 0")
	}
	if _, err := c.ClusterTiers(); err != nil {
		return err
	}
	if c.ShrinkFactor <= 0 || c.ShrinkFactor >= 1 {
		return fmt.Errorf("NR_EPS_SHRINK_FACTOR must be in (0, 1)")
	}
	if c.GiantClusterRatio <= 0 || c.GiantClusterRatio > 1 {
		return fmt.Errorf("NR_GIANT_CLUSTER_RATIO must be in (0, 1]")
	}
	if c.MaxFeatures < 1 {
		return fmt.Errorf("NR_MAX_FEATURES must be >= 1")
	}
	if c.MinDF < 1 {
		return fmt.Errorf("NR_MIN_DF must be >= 1")
	}
	if c.MaxDFRatio <= 0 || c.MaxDFRatio > 1 {
		return fmt.Errorf("NR_MAX_DF_RATIO must be in (0, 1]")
	}
	if c.TitleBoost < 1 {
		return fmt.Errorf("NR_TITLE_BOOST must be >= 1")
	}
	if c.MinTokenLength < 1 {
		return fmt.Errorf("NR_MIN_TOKEN_LENGTH must be >= 1")
	}
	for name, w := range map[string]float64{
		"NR_WEIGHT_ARTICLES":   c.WeightArticles,
		"NR_WEIGHT_SOURCES":    c.WeightSources,
		"NR_WEIGHT_VELOCITY":   c.WeightVelocity,
		"NR_WEIGHT_RECENCY":    c.WeightRecency,
		"NR_WEIGHT_ENGAGEMENT": c.WeightEngagement,
	} {
		if w < 0 {
			return fmt.Errorf("%s must be >= 0", name)
		}
	}
	return nil
}

// ClusterTiers parses NR_EPS_TIERS ("maxSize:eps:minPts,..."). Tiers must be
// listed by increasing maxSize with non-increasing eps and non-decreasing
// minPts, and the last one must be unbounded (0).
func (c *Config) ClusterTiers() ([]EpsTier, error) {
	return ParseEpsTiers(c.EpsTiers)
}

func ParseEpsTiers(raw string) ([]EpsTier, error) {
	parts := strings.Split(raw, ",")
	tiers := make([]EpsTier, 0, len(parts))
	prev := 0
	for i, part := range parts {
		fields := strings.Split(strings.TrimSpace(part), ":")
		if len(fields) != 3 {
			return nil, fmt.Errorf("NR_EPS_TIERS entry %q must be maxSize:eps:minPts", part)
		}
		maxSize, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil || maxSize < 0 {
			return nil, fmt.Errorf("NR_EPS_TIERS entry %q has invalid maxSize", part)
		}
		eps, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
		if err != nil || eps <= 0 || eps > 1 {
			return nil, fmt.Errorf("NR_EPS_TIERS entry %q has eps outside (0, 1]", part)
		}
		minPts, err := strconv.Atoi(strings.TrimSpace(fields[2]))
		if err != nil || minPts < 1 {
			return nil, fmt.Errorf("NR_EPS_TIERS entry %q has minPts < 1", part)
		}
		last := i == len(parts)-1
		if last && maxSize != 0 {
			return nil, fmt.Errorf("NR_EPS_TIERS last entry must have maxSize 0 (unbounded)")
		}
		if !last && (maxSize == 0 || maxSize <= prev) {
			return nil, fmt.Errorf("NR_EPS_TIERS maxSize values must increase")
		}
		if i > 0 {
			before := tiers[i-1]
			if eps > before.Eps {
				return nil, fmt.Errorf("NR_EPS_TIERS entry %q widens eps; larger batches need eps <= %g", part, before.Eps)
			}
			if minPts < before.MinPts {
				return nil, fmt.Errorf("NR_EPS_TIERS entry %q lowers minPts; larger batches need minPts >= %d", part, before.MinPts)
			}
		}
		prev = maxSize
		tiers = append(tiers, EpsTier{MaxSize: maxSize, Eps: eps, MinPts: minPts})
	}
	return tiers, nil
}

// IsMongo reports whether DATABASE_URL selects the MongoDB backend.
func (c *Config) IsMongo() bool {
	lower := strings.ToLower(strings.TrimSpace(c.DatabaseURL))
	return strings.HasPrefix(lower, "mongodb://") || strings.HasPrefix(lower, "mongodb+srv://")
}

// IsSQLite reports whether DATABASE_URL selects the SQLite backend.
func (c *Config) IsSQLite() bool {
	lower := strings.ToLower(strings.TrimSpace(c.DatabaseURL))
	return strings.HasPrefix(lower, "sqlite://") || strings.HasPrefix(lower, "file:") || strings.HasSuffix(lower, ".db")
}
