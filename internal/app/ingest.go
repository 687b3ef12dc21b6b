package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"horse.fit/newsradar/internal/cli"
	"horse.fit/newsradar/internal/clock"
	"horse.fit/newsradar/internal/dedup"
	"horse.fit/newsradar/internal/fetch"
	"horse.fit/newsradar/internal/ingest"
	"horse.fit/newsradar/internal/minhash"
	"horse.fit/newsradar/internal/news"
	"horse.fit/newsradar/internal/seen"
	"horse.fit/newsradar/internal/sources"
	"horse.fit/newsradar/internal/store"
	"horse.fit/newsradar/internal/work"
	"horse.fit/newsradar/internal/writer"
)

func runIngest(args []string) int {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	sourcesFile := fs.String("sources", "", "Source list file; defaults to NR_SOURCES_FILE")
	dryRun := fs.Bool("dry-run", false, "Fetch, extract and detect duplicates without writing to the store")
	timeout := fs.Duration("timeout", 0, "Overall run timeout (0 disables)")
	concurrency := fs.Int("concurrency", 0, "Global fetch concurrency; defaults to NR_GLOBAL_CONCURRENCY")
	perSource := fs.Int("per-source", 0, "Fetch concurrency per source; defaults to NR_PER_SOURCE_CONCURRENCY")
	batchSize := fs.Int("batch-size", 0, "Writer batch size; defaults to NR_BATCH_SIZE")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if *timeout < 0 || *concurrency < 0 || *perSource < 0 || *batchSize < 0 {
		fmt.Fprintln(os.Stderr, "--timeout, --concurrency, --per-source and --batch-size must be >= 0")
		return exitUsage
	}

	cfg, logger, code := loadRuntime(envLoader)
	if code != exitOK {
		return code
	}
	if *concurrency > 0 {
		cfg.GlobalConcurrency = *concurrency
	}
	if *perSource > 0 {
		cfg.PerSourceConcurrency = *perSource
	}
	if *batchSize > 0 {
		cfg.BatchSize = *batchSize
	}

	path := strings.TrimSpace(*sourcesFile)
	if path == "" {
		path = cfg.SourcesFile
	}
	list, err := sources.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid sources: %v\n", err)
		return exitUsage
	}

	pre, err := newPreprocessor(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		return exitUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	openCtx, openCancel := context.WithTimeout(ctx, 10*time.Second)
	st, err := store.Open(openCtx, cfg)
	openCancel()
	if err != nil {
		logger.Error().Err(err).Msg("ingest failed to open store")
		fmt.Fprintf(os.Stderr, "Failed to open store: %v\n", err)
		return exitRuntime
	}
	defer st.Close()

	fetcher := fetch.New(fetch.Options{
		Timeout:       cfg.FetchTimeout,
		MaxAttempts:   cfg.FetchMaxAttempts,
		BaseBackoff:   cfg.FetchBaseBackoff,
		MaxBackoff:    cfg.FetchMaxBackoff,
		BodyByteLimit: cfg.FetchBodyLimit,
		UserAgent:     cfg.UserAgent,
		DefaultRate:   cfg.DefaultHostRate,
		DefaultBurst:  cfg.DefaultHostBurst,
		RespectRobots: cfg.RespectRobots,
		Logger:        logger,
	})
	signer := dedup.NewSigner(pre, minhash.NewHasher(cfg.MinHashPerms, cfg.MinHashSeed), cfg.ShingleSize)

	pool := work.NewPool(cfg.CPUWorkers)
	pool.Start()
	defer pool.Stop()

	coord := ingest.NewCoordinator(st, fetcher, pre, signer, seen.New(cfg.SeenShards), pool, clock.System, ingest.Options{
		GlobalConcurrency:    cfg.GlobalConcurrency,
		PerSourceConcurrency: cfg.PerSourceConcurrency,
		SeenLookback:         cfg.SeenLookback,
		ShutdownFlushTimeout: cfg.ShutdownFlushTimeout,
		LSHBands:             cfg.LSHBands,
		LSHShards:            cfg.LSHShards,
		DuplicateThreshold:   cfg.DuplicateThreshold,
		DryRun:               *dryRun,
		Writer: writer.Options{
			BatchSize:     cfg.BatchSize,
			FlushInterval: cfg.FlushInterval,
			FlushTimeout:  cfg.FlushTimeout,
			MaxAttempts:   cfg.FlushMaxAttempts,
			MaxBuffered:   cfg.WriterMaxBuffered,
		},
	}, logger)

	summary, runErr := coord.Run(ctx, list)
	if runErr != nil && summary.Run.UUID == "" {
		logger.Error().Err(runErr).Msg("ingest failed")
		fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", runErr)
		return exitForError(runErr)
	}

	if err := writeJSON(summary); err != nil {
		fmt.Fprintf(os.Stderr, "Write summary: %v\n", err)
		return exitRuntime
	}

	switch {
	case summary.Run.Health == news.HealthUnhealthy:
		return exitRuntime
	case runErr != nil, summary.Run.Health == news.HealthDegraded:
		return exitPartial
	default:
		return exitOK
	}
}
