// Package discover turns a source endpoint into the list of article URLs
// an ingestion run should fetch.
package discover

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"horse.fit/newsradar/internal/fetch"
	"horse.fit/newsradar/internal/news"
)

// Getter is the part of fetch.Client discovery needs.
type Getter interface {
	Get(ctx context.Context, rawURL string) (*fetch.Response, error)
}

// Candidate is one discovered article link. Feed entries may carry a
// publication time and summary; page links only a title.
type Candidate struct {
	URL         string
	Title       string
	PublishedAt *time.Time
	Summary     string
}

// Discover fetches the source endpoint and lists its candidates in
// document order, canonicalized, deduplicated and capped at MaxItems.
func Discover(ctx context.Context, g Getter, src news.Source) ([]Candidate, error) {
	resp, err := g.Get(ctx, src.Endpoint)
	if err != nil {
		return nil, err
	}
	base := resp.FinalURL
	if base == "" {
		base = src.Endpoint
	}

	var out []Candidate
	switch src.EffectiveKind() {
	case news.SourceKindPage:
		var pattern *regexp.Regexp
		if src.LinkPattern != "" {
			pattern, err = regexp.Compile(src.LinkPattern)
			if err != nil {
				return nil, news.ConfigError("discover", fmt.Errorf("%s: link_pattern: %w", src.Name, err))
			}
		}
		out, err = ParsePageLinks(resp.Body, base, pattern)
	default:
		out, err = ParseFeed(resp.Body, base)
	}
	if err != nil {
		return nil, err
	}
	if src.MaxItems > 0 && len(out) > src.MaxItems {
		out = out[:src.MaxItems]
	}
	return out, nil
}

// ParseFeed reads RSS, Atom or JSON Feed content.
func ParseFeed(body []byte, base string) ([]Candidate, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, news.Permanent("discover", fmt.Errorf("parse feed: %w", err))
	}

	seen := make(map[string]struct{}, len(feed.Items))
	out := make([]Candidate, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		link := item.Link
		if link == "" && len(item.Links) > 0 {
			link = item.Links[0]
		}
		canonical, ok := resolve(base, link)
		if !ok {
			continue
		}
		if _, dup := seen[canonical]; dup {
			continue
		}
		seen[canonical] = struct{}{}

		c := Candidate{
			URL:     canonical,
			Title:   strings.TrimSpace(item.Title),
			Summary: strings.TrimSpace(item.Description),
		}
		switch {
		case item.PublishedParsed != nil:
			at := item.PublishedParsed.UTC()
			c.PublishedAt = &at
		case item.UpdatedParsed != nil:
			at := item.UpdatedParsed.UTC()
			c.PublishedAt = &at
		}
		out = append(out, c)
	}
	return out, nil
}

// ParsePageLinks collects same-host anchors of an HTML index page. When
// pattern is set it must match the link path.
func ParsePageLinks(body []byte, base string, pattern *regexp.Regexp) ([]Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, news.Permanent("discover", fmt.Errorf("parse page: %w", err))
	}
	baseHost := news.HostOf(base)
	self, _ := news.CanonicalURL(base)

	seen := map[string]struct{}{}
	var out []Candidate
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		canonical, ok := resolve(base, href)
		if !ok || canonical == self {
			return
		}
		if news.HostOf(canonical) != baseHost {
			return
		}
		if pattern != nil {
			u, err := url.Parse(canonical)
			if err != nil || !pattern.MatchString(u.Path) {
				return
			}
		}
		if _, dup := seen[canonical]; dup {
			return
		}
		seen[canonical] = struct{}{}
		out = append(out, Candidate{
			URL:   canonical,
			Title: strings.Join(strings.Fields(s.Text()), " "),
		})
	})
	return out, nil
}

func resolve(base, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	if baseURL, err := url.Parse(base); err == nil {
		ref = baseURL.ResolveReference(ref)
	}
	canonical, err := news.CanonicalURL(ref.String())
	if err != nil {
		return "", false
	}
	return canonical, true
}
