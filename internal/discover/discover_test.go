package discover

import (
	"context"
	"regexp"
	"testing"

	"horse.fit/newsradar/internal/fetch"
	"horse.fit/newsradar/internal/news"
)

const rssFixture = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>Wire</title>
<item><title>Flood hits valley</title><link>https://wire.example.com/a/1?utm_source=rss</link>
<pubDate>Mon, 06 Jul 2026 10:00:00 GMT</pubDate><description>Water rises.</description></item>
<item><title>Same link again</title><link>https://wire.example.com/a/1</link></item>
<item><title>Relative link</title><link>/a/2</link></item>
<item><title>No link</title></item>
</channel></rss>`

const pageFixture = `<html><body>
<a href="/news/101">Council approves budget</a>
<a href="/news/102#comments">Bridge reopens</a>
<a href="/about">About us</a>
<a href="https://other.example.org/news/103">Elsewhere</a>
<a href="/news/101">Council approves budget</a>
<a href="#top">Top</a>
</body></html>`

type stubGetter struct {
	body  string
	final string
}

func (s stubGetter) Get(_ context.Context, rawURL string) (*fetch.Response, error) {
	final := s.final
	if final == "" {
		final = rawURL
	}
	return &fetch.Response{URL: rawURL, FinalURL: final, StatusCode: 200, Body: []byte(s.body)}, nil
}

func TestParseFeed_CanonicalizesAndDeduplicates(t *testing.T) {
	t.Parallel()

	got, err := ParseFeed([]byte(rssFixture), "https://wire.example.com/rss")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d: %+v", len(got), got)
	}
	if got[0].URL != "https://wire.example.com/a/1" || got[0].PublishedAt == nil || got[0].Summary != "Water rises." {
		t.Fatalf("unexpected first candidate: %+v", got[0])
	}
	if got[1].URL != "https://wire.example.com/a/2" || got[1].PublishedAt != nil {
		t.Fatalf("unexpected second candidate: %+v", got[1])
	}
}

func TestParseFeed_Malformed(t *testing.T) {
	t.Parallel()

	if _, err := ParseFeed([]byte("definitely not a feed"), "https://x.example.com"); !news.IsPermanent(err) {
		t.Fatalf("expected permanent parse error, got %v", err)
	}
}

func TestParsePageLinks_SameHostAndPattern(t *testing.T) {
	t.Parallel()

	got, err := ParsePageLinks([]byte(pageFixture), "https://city.example.com/news/", regexp.MustCompile(`^/news/\d+$`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 links, got %+v", got)
	}
	if got[0].URL != "https://city.example.com/news/101" || got[0].Title != "Council approves budget" {
		t.Fatalf("unexpected first link: %+v", got[0])
	}
	if got[1].URL != "https://city.example.com/news/102" {
		t.Fatalf("expected fragment dropped, got %+v", got[1])
	}
}

func TestDiscover_MaxItems(t *testing.T) {
	t.Parallel()

	src := news.Source{Name: "city", Endpoint: "https://city.example.com/news/", Kind: news.SourceKindPage, MaxItems: 1}
	got, err := Discover(context.Background(), stubGetter{body: pageFixture}, src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected cap of 1, got %d", len(got))
	}
}
