package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"horse.fit/newsradar/internal/analysis"
	"horse.fit/newsradar/internal/cli"
	"horse.fit/newsradar/internal/clock"
	"horse.fit/newsradar/internal/cluster"
	"horse.fit/newsradar/internal/distance"
	"horse.fit/newsradar/internal/store"
	"horse.fit/newsradar/internal/vectorize"
)

func runAnalyze(args []string) int {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	var windows cli.StringList
	fs.Var(&windows, "window", "Analysis window, repeatable (e.g. --window 6h --window 24h); defaults to NR_ANALYSIS_WINDOW")
	endRaw := fs.String("end", "", "Window end as RFC3339; defaults to now")
	limit := fs.Int("limit", 0, "Maximum documents per window; defaults to NR_ANALYSIS_LIMIT")
	level := fs.String("feature-level", "", "full or basic; defaults to NR_FEATURE_LEVEL")
	timeout := fs.Duration("timeout", 5*time.Minute, "Command timeout")
	dryRun := fs.Bool("dry-run", false, "Cluster without storing the run or labelling documents")
	asJSON := fs.Bool("json", false, "Print every run as JSON")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if *limit < 0 || *timeout <= 0 {
		fmt.Fprintln(os.Stderr, "--limit must be >= 0 and --timeout must be > 0")
		return exitUsage
	}
	if raw := strings.TrimSpace(*level); raw != "" && raw != "full" && raw != "basic" {
		fmt.Fprintln(os.Stderr, "--feature-level must be full or basic")
		return exitUsage
	}

	durations := make([]time.Duration, 0, len(windows))
	for _, raw := range windows {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			fmt.Fprintf(os.Stderr, "--window %q must be a positive duration\n", raw)
			return exitUsage
		}
		durations = append(durations, d)
	}

	var end time.Time
	if raw := strings.TrimSpace(*endRaw); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			fmt.Fprintln(os.Stderr, "--end must be RFC3339")
			return exitUsage
		}
		end = parsed.UTC()
	}

	cfg, logger, code := loadRuntime(envLoader)
	if code != exitOK {
		return code
	}
	if len(durations) == 0 {
		durations = append(durations, cfg.AnalysisWindow)
	}
	if *limit == 0 {
		*limit = cfg.AnalysisLimit
	}
	if strings.TrimSpace(*level) == "" {
		*level = cfg.FeatureLevel
	}

	pre, err := newPreprocessor(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		return exitUsage
	}
	tiers, err := clusterTiers(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		return exitUsage
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	st, err := store.Open(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("analyze command failed to open store")
		fmt.Fprintf(os.Stderr, "Failed to open store: %v\n", err)
		return exitRuntime
	}
	defer st.Close()

	svc := analysis.NewService(st, pre, clock.System, analysis.Options{
		Limit: *limit,
		Level: cluster.ParseFeatureLevel(*level),
		Vectorize: vectorize.Options{
			MaxFeatures: cfg.MaxFeatures,
			MinDF:       cfg.MinDF,
			MaxDFRatio:  cfg.MaxDFRatio,
		},
		Distance: distance.Options{
			HalfLife:          cfg.HalfLife,
			TemporalFactor:    cfg.TemporalFactor,
			SameSourcePenalty: cfg.SameSourcePenalty,
		},
		Cluster: cluster.Options{
			Tiers:        tiers,
			ShrinkFactor: cfg.ShrinkFactor,
			GiantRatio:   cfg.GiantClusterRatio,
		},
		Weights: cluster.Weights{
			Articles:   cfg.WeightArticles,
			Sources:    cfg.WeightSources,
			Velocity:   cfg.WeightVelocity,
			Recency:    cfg.WeightRecency,
			Engagement: cfg.WeightEngagement,
		},
		DryRun: *dryRun,
	}, logger)

	runs, err := svc.AnalyzeWindows(ctx, durations, end)
	if err != nil {
		logger.Error().Err(err).Msg("analyze failed")
		fmt.Fprintf(os.Stderr, "Analyze failed: %v\n", err)
		return exitForError(err)
	}

	if *asJSON {
		if err := writeJSON(runs); err != nil {
			fmt.Fprintf(os.Stderr, "Write result: %v\n", err)
			return exitRuntime
		}
		return exitOK
	}

	for _, run := range runs {
		fmt.Fprintf(stdout,
			"analyze run_uuid=%s window=%s documents=%d rejected=%d clusters=%d noise=%d eps=%.3f min_pts=%d level=%s dry_run=%t\n",
			run.UUID,
			run.WindowEnd.Sub(run.WindowStart),
			run.Documents,
			run.Rejected,
			len(run.Clusters),
			run.Noise,
			run.Eps,
			run.MinPts,
			run.FeatureLevel,
			*dryRun,
		)
		for _, story := range run.Clusters {
			fmt.Fprintf(stdout, "  #%d %s score=%.2f articles=%d sources=%d %q\n",
				story.Rank,
				story.Label,
				story.TrendingScore,
				story.ArticleCount,
				story.SourceCount,
				story.RepresentativeTitle,
			)
		}
	}
	return exitOK
}
