package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"horse.fit/newsradar/internal/cli"
	"horse.fit/newsradar/internal/clock"
	"horse.fit/newsradar/internal/dedup"
	"horse.fit/newsradar/internal/minhash"
	"horse.fit/newsradar/internal/store"
)

func runDedup(args []string) int {
	fs := flag.NewFlagSet("dedup", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	window := fs.Duration("window", 0, "Look back this far from now; defaults to NR_ANALYSIS_WINDOW")
	threshold := fs.Float64("threshold", 0, "Verified similarity needed to accept a pair; defaults to NR_DUPLICATE_THRESHOLD")
	limit := fs.Int("limit", 0, "Maximum documents to index; defaults to NR_ANALYSIS_LIMIT")
	timeout := fs.Duration("timeout", 5*time.Minute, "Command timeout")
	dryRun := fs.Bool("dry-run", false, "Detect without writing signatures or pairs")
	asJSON := fs.Bool("json", false, "Print the full result as JSON")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if *window < 0 || *limit < 0 || *timeout <= 0 {
		fmt.Fprintln(os.Stderr, "--window and --limit must be >= 0 and --timeout must be > 0")
		return exitUsage
	}
	if *threshold < 0 || *threshold > 1 {
		fmt.Fprintln(os.Stderr, "--threshold must be in (0, 1]")
		return exitUsage
	}

	cfg, logger, code := loadRuntime(envLoader)
	if code != exitOK {
		return code
	}
	if *window == 0 {
		*window = cfg.AnalysisWindow
	}
	if *threshold == 0 {
		*threshold = cfg.DuplicateThreshold
	}
	if *limit == 0 {
		*limit = cfg.AnalysisLimit
	}

	pre, err := newPreprocessor(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		return exitUsage
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	st, err := store.Open(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("dedup command failed to open store")
		fmt.Fprintf(os.Stderr, "Failed to open store: %v\n", err)
		return exitRuntime
	}
	defer st.Close()

	signer := dedup.NewSigner(pre, minhash.NewHasher(cfg.MinHashPerms, cfg.MinHashSeed), cfg.ShingleSize)
	svc := dedup.NewService(st, signer, dedup.Options{
		Bands:     cfg.LSHBands,
		Shards:    cfg.LSHShards,
		Threshold: *threshold,
		Limit:     *limit,
		DryRun:    *dryRun,
	}, logger)

	now := clock.System.Now()
	result, err := svc.Run(ctx, now.Add(-*window), now)
	if err != nil {
		logger.Error().Err(err).Dur("window", *window).Msg("dedup failed")
		fmt.Fprintf(os.Stderr, "Dedup failed: %v\n", err)
		return exitForError(err)
	}

	if *asJSON {
		if err := writeJSON(result); err != nil {
			fmt.Fprintf(os.Stderr, "Write result: %v\n", err)
			return exitRuntime
		}
		return exitOK
	}

	fmt.Fprintf(stdout,
		"dedup documents=%d resigned=%d pairs=%d groups=%d saved=%d window=%s dry_run=%t\n",
		result.Documents,
		result.Resigned,
		len(result.Pairs),
		len(result.Groups),
		result.Saved,
		*window,
		result.DryRun,
	)
	for _, group := range result.Groups {
		ids := make([]string, len(group.Duplicates))
		for i, id := range group.Duplicates {
			ids[i] = fmt.Sprint(id)
		}
		fmt.Fprintf(stdout, "group master=%d duplicates=%s\n", group.Master, strings.Join(ids, ","))
	}
	return exitOK
}
