// Package extract pulls the readable title and body out of a fetched page
// and applies the ingestion quality gates.
package extract

import (
	"bytes"
	"fmt"
	"mime"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	readability "codeberg.org/readeck/go-readability/v2"
	"github.com/PuerkitoBio/goquery"

	"horse.fit/newsradar/internal/news"
)

const (
	MinTitleLength = 5
	MinBodyLength  = 50
)

// Article is the extracted content of one page.
type Article struct {
	Title       string
	Body        string
	PublishedAt *time.Time
	Language    string
}

// Hint carries what discovery already knows about the page. Its values
// fill gaps the page itself leaves.
type Hint struct {
	Title       string
	Summary     string
	PublishedAt *time.Time
}

var publishedSelectors = []struct {
	selector string
	attr     string
}{
	{selector: `meta[property="article:published_time"]`, attr: "content"},
	{selector: `meta[name="pubdate"]`, attr: "content"},
	{selector: `meta[name="date"]`, attr: "content"},
	{selector: `meta[itemprop="datePublished"]`, attr: "content"},
	{selector: `time[datetime]`, attr: "datetime"},
}

// Extract returns the article of body or a permanent error when the page
// has no usable content or fails the quality gates.
func Extract(body []byte, pageURL, contentType string, hint Hint) (Article, error) {
	mediaType, _, _ := mime.ParseMediaType(contentType)

	var art Article
	if mediaType == "text/plain" {
		art.Body = CleanText(string(body))
	} else {
		var err error
		art, err = fromHTML(body, pageURL)
		if err != nil {
			return Article{}, err
		}
	}

	if art.Title == "" {
		art.Title = CleanText(hint.Title)
	}
	if art.Body == "" {
		art.Body = CleanText(StripHTML(hint.Summary))
	}
	if art.PublishedAt == nil {
		art.PublishedAt = hint.PublishedAt
	}

	if n := utf8.RuneCountInString(art.Title); n < MinTitleLength {
		return Article{}, news.Rejectf("extract", "title too short (%d chars)", n)
	}
	if n := utf8.RuneCountInString(art.Body); n < MinBodyLength {
		return Article{}, news.Rejectf("extract", "body too short (%d chars)", n)
	}
	return art, nil
}

func fromHTML(body []byte, pageURL string) (Article, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Article{}, news.Permanent("extract", fmt.Errorf("parse html: %w", err))
	}

	var art Article
	art.PublishedAt = publishedAt(doc)
	if lang, ok := doc.Find("html").Attr("lang"); ok {
		art.Language = strings.ToLower(strings.TrimSpace(strings.SplitN(lang, "-", 2)[0]))
	}

	parsedURL, err := url.Parse(pageURL)
	if err != nil {
		return Article{}, news.Permanent("extract", fmt.Errorf("parse page url: %w", err))
	}
	if article, err := readability.FromReader(bytes.NewReader(body), parsedURL); err == nil {
		art.Title = CleanText(article.Title())
		var rendered bytes.Buffer
		if err := article.RenderText(&rendered); err == nil {
			art.Body = CleanText(rendered.String())
		}
		if art.Body == "" {
			art.Body = CleanText(article.Excerpt())
		}
	}

	if art.Title == "" {
		art.Title = CleanText(doc.Find("title").First().Text())
	}
	if art.Body == "" {
		art.Body = stripDocument(doc)
	}
	return art, nil
}

func publishedAt(doc *goquery.Document) *time.Time {
	for _, ps := range publishedSelectors {
		raw, ok := doc.Find(ps.selector).First().Attr(ps.attr)
		if !ok {
			continue
		}
		raw = strings.TrimSpace(raw)
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
			if at, err := time.Parse(layout, raw); err == nil {
				utc := at.UTC()
				return &utc
			}
		}
	}
	return nil
}

// StripHTML returns the visible text of an HTML fragment.
func StripHTML(fragment string) string {
	if !strings.Contains(fragment, "<") {
		return fragment
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return fragment
	}
	return stripDocument(doc)
}

func stripDocument(doc *goquery.Document) string {
	doc.Find("script, style, noscript, nav, header, footer, aside, form, iframe").Remove()
	var paragraphs []string
	doc.Find("body").Contents().Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
			paragraphs = append(paragraphs, text)
		}
	})
	if len(paragraphs) == 0 {
		return CleanText(doc.Text())
	}
	return CleanText(strings.Join(paragraphs, "\n"))
}

// CleanText normalizes line endings and collapses extra in-line whitespace.
func CleanText(raw string) string {
	normalized := strings.ReplaceAll(raw, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")

	lines := strings.Split(normalized, "\n")
	paragraphs := make([]string, 0, len(lines))
	for _, line := range lines {
		clean := strings.Join(strings.Fields(strings.TrimSpace(line)), " ")
		if clean == "" {
			continue
		}
		paragraphs = append(paragraphs, clean)
	}

	return strings.TrimSpace(strings.Join(paragraphs, "\n\n"))
}
