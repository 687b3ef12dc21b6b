package app

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"horse.fit/newsradar/internal/cli"
	"horse.fit/newsradar/internal/cluster"
	"horse.fit/newsradar/internal/config"
	"horse.fit/newsradar/internal/logging"
	"horse.fit/newsradar/internal/news"
	"horse.fit/newsradar/internal/textproc"
)

// Exit codes shared by every command.
const (
	exitOK      = 0
	exitRuntime = 1
	exitUsage   = 2
	exitPartial = 3
)

// stdout carries machine-readable output only; logs go to stderr.
var stdout io.Writer = os.Stdout

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return exitUsage
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return exitOK
	case "health":
		return runHealth(args[1:])
	case "sources":
		return runSources(args[1:])
	case "ingest":
		return runIngest(args[1:])
	case "dedup":
		return runDedup(args[1:])
	case "analyze":
		return runAnalyze(args[1:])
	case "serve":
		return runServe(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return exitUsage
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "newsradar CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  newsradar <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health            Verify store connectivity")
	fmt.Fprintln(os.Stderr, "  sources validate  Validate a source list file")
	fmt.Fprintln(os.Stderr, "  ingest            Harvest every configured source once")
	fmt.Fprintln(os.Stderr, "  dedup             Detect near-duplicates over a window of stored documents")
	fmt.Fprintln(os.Stderr, "  analyze           Cluster a window of stored documents into trending stories")
	fmt.Fprintln(os.Stderr, "  serve             Start the read-only Echo API server")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"newsradar <command> -h\" for command-specific flags.")
}

// loadRuntime applies the .env file, loads the configuration and builds the
// logger. A non-zero code means the command must stop with it.
func loadRuntime(envLoader *cli.EnvLoader) (*config.Config, zerolog.Logger, int) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, zerolog.Nop(), exitUsage
	}

	logger, err := logging.NewWithFile(cfg.Environment, cfg.LogLevel, logging.FileOptions{
		Path:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return nil, zerolog.Nop(), exitUsage
	}
	return cfg, logger, exitOK
}

func newPreprocessor(cfg *config.Config) (*textproc.Preprocessor, error) {
	denylist := textproc.NewDenylist()
	if path := strings.TrimSpace(cfg.ContaminationFile); path != "" {
		if err := denylist.LoadFile(path); err != nil {
			return nil, news.ConfigError("load contamination file", err)
		}
	}
	return textproc.New(textproc.Options{
		TitleBoost:     cfg.TitleBoost,
		MinTokenLength: cfg.MinTokenLength,
		DomainKeywords: cfg.DomainKeywords,
		Denylist:       denylist,
	}), nil
}

func clusterTiers(cfg *config.Config) ([]cluster.Tier, error) {
	parsed, err := cfg.ClusterTiers()
	if err != nil {
		return nil, err
	}
	tiers := make([]cluster.Tier, len(parsed))
	for i, t := range parsed {
		tiers[i] = cluster.Tier{MaxSize: t.MaxSize, Eps: t.Eps, MinPts: t.MinPts}
	}
	return tiers, nil
}

// exitForError maps a classified error to an exit code.
func exitForError(err error) int {
	if news.KindOf(err) == news.KindConfig {
		return exitUsage
	}
	return exitRuntime
}

func writeJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
