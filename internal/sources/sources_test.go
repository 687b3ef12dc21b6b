package sources

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"horse.fit/newsradar/internal/news"
)

func TestParse_YAML(t *testing.T) {
	t.Parallel()

	raw := []byte(`
sources:
  - name: wire
    endpoint: https://wire.example.com/rss
    rate_limit: 2
    burst: 3
    category: world
  - name: city-desk
    endpoint: https://city.example.com/news/
    kind: page
    link_pattern: "^/news/\\d+"
    max_items: 20
`)
	list, err := Parse(raw, FormatYAML)
	if err != nil {
		t.Fatalf("expected valid source list, got error: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(list))
	}
	if list[0].RateLimit != 2 || list[0].Burst != 3 || list[0].EffectiveKind() != news.SourceKindFeed {
		t.Fatalf("unexpected first source: %+v", list[0])
	}
	if list[1].EffectiveKind() != news.SourceKindPage || list[1].MaxItems != 20 {
		t.Fatalf("unexpected second source: %+v", list[1])
	}
}

func TestParse_TOMLAndJSON(t *testing.T) {
	t.Parallel()

	tomlRaw := []byte(`
[[sources]]
name = "wire"
endpoint = "https://wire.example.com/rss"
rate_limit = 0.5
`)
	list, err := Parse(tomlRaw, FormatTOML)
	if err != nil {
		t.Fatalf("toml: unexpected error: %v", err)
	}
	if len(list) != 1 || list[0].RateLimit != 0.5 {
		t.Fatalf("toml: unexpected list: %+v", list)
	}

	jsonRaw := []byte(`{"sources":[{"name":"wire","endpoint":"https://wire.example.com/rss"}]}`)
	if _, err := Parse(jsonRaw, FormatJSON); err != nil {
		t.Fatalf("json: unexpected error: %v", err)
	}
}

func TestParse_Rejections(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"missing endpoint": `{"sources":[{"name":"wire"}]}`,
		"unknown field":    `{"sources":[{"name":"wire","endpoint":"https://a.example.com","color":"red"}]}`,
		"bad kind":         `{"sources":[{"name":"wire","endpoint":"https://a.example.com","kind":"api"}]}`,
		"zero rate":        `{"sources":[{"name":"wire","endpoint":"https://a.example.com","rate_limit":0}]}`,
		"blank name":       `{"sources":[{"name":"   ","endpoint":"https://a.example.com"}]}`,
		"ftp endpoint":     `{"sources":[{"name":"wire","endpoint":"ftp://a.example.com/feed"}]}`,
		"duplicate name":   `{"sources":[{"name":"wire","endpoint":"https://a.example.com"},{"name":"Wire","endpoint":"https://b.example.com"}]}`,
		"bad pattern":      `{"sources":[{"name":"wire","endpoint":"https://a.example.com","kind":"page","link_pattern":"(["}]}`,
		"pattern on feed":  `{"sources":[{"name":"wire","endpoint":"https://a.example.com","link_pattern":"^/a"}]}`,
		"empty list":       `{"sources":[]}`,
		"trailing content": `{"sources":[{"name":"wire","endpoint":"https://a.example.com"}]} {}`,
	}
	for name, raw := range cases {
		if _, err := Parse([]byte(raw), FormatJSON); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLoad_ClassifiesErrorsAsConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	good := filepath.Join(dir, "sources.yml")
	if err := os.WriteFile(good, []byte("sources:\n  - name: wire\n    endpoint: https://wire.example.com/rss\n"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, err := Load(good); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := Load(filepath.Join(dir, "sources.ini"))
	if news.KindOf(err) != news.KindConfig || !strings.Contains(err.Error(), "unsupported") {
		t.Fatalf("expected config error for extension, got %v", err)
	}
	_, err = Load(filepath.Join(dir, "missing.json"))
	if news.KindOf(err) != news.KindConfig {
		t.Fatalf("expected config error for missing file, got %v", err)
	}
}
