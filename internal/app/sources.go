package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"horse.fit/newsradar/internal/sources"
)

func runSources(args []string) int {
	if len(args) == 0 || strings.TrimSpace(args[0]) != "validate" {
		fmt.Fprintln(os.Stderr, "Usage: newsradar sources validate --file <path>")
		return exitUsage
	}

	fs := flag.NewFlagSet("sources validate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	file := fs.String("file", "", "Source list file (.json, .yaml, .yml or .toml); defaults to NR_SOURCES_FILE")

	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	path := strings.TrimSpace(*file)
	if path == "" {
		path = strings.TrimSpace(os.Getenv("NR_SOURCES_FILE"))
	}
	if path == "" {
		path = "sources.yaml"
	}

	list, err := sources.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "INVALID %s: %v\n", path, err)
		return exitUsage
	}

	kinds := map[string]int{}
	for _, src := range list {
		kinds[string(src.EffectiveKind())]++
	}
	fmt.Fprintf(stdout, "valid file=%s sources=%d feeds=%d pages=%d\n", path, len(list), kinds["feed"], kinds["page"])
	return exitOK
}
