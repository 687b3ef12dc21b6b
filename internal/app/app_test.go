package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"horse.fit/newsradar/internal/ingest"
	"horse.fit/newsradar/internal/news"
)

const articleBody = "The city council approved the new transit budget on Tuesday after a long debate about " +
	"bus routes and bike lanes while the mayor promised that the downtown tram line would be extended " +
	"before the end of the decade if the national grant is confirmed next spring"

const floodBody = "Emergency crews evacuated three valley towns on Monday after the old river dam gave way " +
	"during the night and officials said water levels downstream would keep rising until the reservoir " +
	"drained while shelters were opened in two schools and the regional hospital moved patients upstairs"

// captureStdout swaps the command output for the duration of fn.
func captureStdout(t *testing.T, fn func() int) (int, string) {
	t.Helper()
	var buf bytes.Buffer
	prev := stdout
	stdout = &buf
	defer func() { stdout = prev }()
	code := fn()
	return code, buf.String()
}

func setTestEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("NEWSRADAR_ENV_FILE", filepath.Join(dir, "missing.env"))
	t.Setenv("DATABASE_URL", "sqlite://"+filepath.Join(dir, "newsradar.db"))
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("ENVIRONMENT", "test")
	t.Setenv("NR_DB_MAX_CONNS", "1")
	return dir
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func TestRun_UsageErrors(t *testing.T) {
	if code := Run(nil); code != exitUsage {
		t.Fatalf("expected usage exit for no args, got %d", code)
	}
	if code := Run([]string{"bogus"}); code != exitUsage {
		t.Fatalf("expected usage exit for unknown command, got %d", code)
	}
	if code := Run([]string{"help"}); code != exitOK {
		t.Fatalf("expected help to succeed, got %d", code)
	}
	if code := Run([]string{"serve", "--port", "0"}); code != exitUsage {
		t.Fatalf("expected usage exit for a bad port, got %d", code)
	}
	if code := Run([]string{"analyze", "--window", "soon"}); code != exitUsage {
		t.Fatalf("expected usage exit for a bad window, got %d", code)
	}
}

func TestSourcesValidate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "sources.yaml")
	mustWriteFile(t, good, "sources:\n  - name: wire\n    endpoint: https://wire.example.com/rss\n  - name: desk\n    endpoint: https://desk.example.com/\n    kind: page\n")
	bad := filepath.Join(dir, "bad.yaml")
	mustWriteFile(t, bad, "sources:\n  - name: wire\n    endpoint: ftp://wire.example.com/rss\n")

	code, out := captureStdout(t, func() int { return Run([]string{"sources", "validate", "--file", good}) })
	if code != exitOK || !strings.Contains(out, "sources=2 feeds=1 pages=1") {
		t.Fatalf("expected a valid file, got %d %q", code, out)
	}
	if code := Run([]string{"sources", "validate", "--file", bad}); code != exitUsage {
		t.Fatalf("expected exit 2 for an invalid file, got %d", code)
	}
	if code := Run([]string{"sources"}); code != exitUsage {
		t.Fatalf("expected exit 2 without a subcommand, got %d", code)
	}
}

func TestHealth(t *testing.T) {
	setTestEnv(t)

	code, out := captureStdout(t, func() int { return Run([]string{"health"}) })
	if code != exitOK || !strings.Contains(out, "ok") {
		t.Fatalf("expected healthy sqlite store, got %d %q", code, out)
	}

	t.Setenv("DATABASE_URL", "")
	if code := Run([]string{"health"}); code != exitUsage {
		t.Fatalf("expected exit 2 for missing DATABASE_URL, got %d", code)
	}

	t.Setenv("DATABASE_URL", "sqlite://"+filepath.Join(t.TempDir(), "missing", "dir", "x.db"))
	if code := Run([]string{"health"}); code != exitRuntime {
		t.Fatalf("expected exit 1 for an unreachable store, got %d", code)
	}
}

func TestIngestThenAnalyze(t *testing.T) {
	dir := setTestEnv(t)

	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/feed.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprintf(w, `<?xml version="1.0"?><rss version="2.0"><channel><title>Wire</title>`+
			`<item><title>Council approves transit budget</title><link>%[1]s/a/1</link></item>`+
			`<item><title>Dam breach floods valley towns</title><link>%[1]s/a/2</link></item>`+
			`</channel></rss>`, srv.URL)
	})
	for path, body := range map[string]string{"/a/1": articleBody, "/a/2": floodBody} {
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			_, _ = w.Write([]byte(body))
		})
	}
	srv = httptest.NewServer(mux)
	defer srv.Close()

	sourcesFile := filepath.Join(dir, "sources.yaml")
	mustWriteFile(t, sourcesFile, fmt.Sprintf("sources:\n  - name: wire\n    endpoint: %s/feed.xml\n    rate_limit: 100\n    burst: 10\n", srv.URL))

	code, out := captureStdout(t, func() int { return Run([]string{"ingest", "--sources", sourcesFile, "--batch-size", "1"}) })
	if code != exitOK {
		t.Fatalf("expected a healthy ingest, got %d %q", code, out)
	}
	var summary ingest.RunSummary
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("decode summary %q: %v", out, err)
	}
	if summary.Totals.Accepted != 2 || summary.Run.Health != news.HealthHealthy {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	code, out = captureStdout(t, func() int { return Run([]string{"ingest", "--sources", sourcesFile}) })
	if code != exitOK {
		t.Fatalf("expected a healthy second ingest, got %d %q", code, out)
	}
	summary = ingest.RunSummary{}
	if err := json.Unmarshal([]byte(out), &summary); err != nil || summary.Totals.Accepted != 0 || summary.Totals.Duplicate != 2 {
		t.Fatalf("expected the second run to see only duplicates, got %+v %v", summary.Totals, err)
	}

	code, out = captureStdout(t, func() int {
		return Run([]string{"analyze", "--window", "1h", "--window", "24h", "--dry-run", "--json"})
	})
	if code != exitOK {
		t.Fatalf("expected analyze to succeed, got %d %q", code, out)
	}
	var runs []news.StoryRun
	if err := json.Unmarshal([]byte(out), &runs); err != nil {
		t.Fatalf("decode runs %q: %v", out, err)
	}
	if len(runs) != 2 || runs[0].Documents != 2 || runs[1].Documents != 2 {
		t.Fatalf("expected both windows to see the two documents, got %+v", runs)
	}

	code, out = captureStdout(t, func() int { return Run([]string{"dedup", "--dry-run"}) })
	if code != exitOK || !strings.Contains(out, "documents=2") || !strings.Contains(out, "pairs=0") {
		t.Fatalf("expected dedup over two unrelated documents, got %d %q", code, out)
	}
}
