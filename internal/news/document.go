package news

import (
	"strings"
	"time"
)

// Document is one fetched article. Fields after Signature are filled by later
// passes and are the only ones that change after persistence.
type Document struct {
	ID          int64
	Source      string
	URL         string
	Title       string
	Body        string
	PublishedAt *time.Time
	FetchedAt   time.Time
	WordCount   int
	ContentHash []byte
	TitleHash   []byte
	Language    string
	Category    string
	Signature   []uint64

	StoryLabel   *string
	QualityScore *float64
}

// EffectiveAt returns the publication time, falling back to the fetch time
// when the source did not report one.
func (d *Document) EffectiveAt() time.Time {
	if d == nil {
		return time.Time{}
	}
	if d.PublishedAt != nil && !d.PublishedAt.IsZero() {
		return d.PublishedAt.UTC()
	}
	return d.FetchedAt.UTC()
}

// HasPublishedAt reports whether the source supplied a publication time.
func (d *Document) HasPublishedAt() bool {
	return d != nil && d.PublishedAt != nil && !d.PublishedAt.IsZero()
}

// CountWords counts whitespace-separated words.
func CountWords(text string) int {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	return len(strings.Fields(text))
}

type SourceKind string

const (
	SourceKindFeed SourceKind = "feed"
	SourceKindPage SourceKind = "page"
)

// Source is one entry of the source list.
type Source struct {
	Name        string     `json:"name"`
	Endpoint    string     `json:"endpoint"`
	Kind        SourceKind `json:"kind,omitempty"`
	RateLimit   float64    `json:"rate_limit,omitempty"`
	Burst       int        `json:"burst,omitempty"`
	Category    string     `json:"category,omitempty"`
	MaxItems    int        `json:"max_items,omitempty"`
	LinkPattern string     `json:"link_pattern,omitempty"`
}

// EffectiveKind defaults an unset kind to feed.
func (s Source) EffectiveKind() SourceKind {
	if s.Kind == "" {
		return SourceKindFeed
	}
	return s.Kind
}
