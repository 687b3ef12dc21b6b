package textproc

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"

	"horse.fit/newsradar/internal/news"
)

// DefaultPatterns match non-content text that leaks into extracted articles.
var DefaultPatterns = []string{
	`https?://\S+`,
	`\bwww\.\S+`,
	`[\w.+-]+@[\w-]+\.[\w.-]+`,
	`\+?\d[\d\s().-]{7,}\d`,
	`\b(sign|log)\s?(in|up|out)\b`,
	`\bsubscribe( now| today| to (read|continue))?\b`,
	`\bcreate (a )?(free )?account\b`,
	`\bskip to (main )?content\b`,
	`\b(accept|manage|reject) (all )?cookies\b`,
	`\bcookie (policy|settings|preferences)\b`,
	`\bprivacy (policy|notice)\b`,
	`\bterms (of (service|use)|and conditions)\b`,
	`\ball rights reserved\b`,
	`\bcopyright\s+(©\s*)?\d{4}\b`,
	`©\s*\d{4}`,
	`\bshare (this|on) (article|story|page|facebook|twitter|x|linkedin|whatsapp|email)\b`,
	`\b(follow|like) us on \w+\b`,
	`\bclick here\b`,
	`\b(read|see) more\b`,
	`\bcontinue reading\b`,
	`\badvertisement\b`,
	`\bsponsored content\b`,
	`\bnewsletter sign-?up\b`,
	`\bdownload (our|the) app\b`,
	`\bplease enable javascript\b`,
}

// DefaultContaminatedTitles are page titles that mean the fetch returned
// chrome instead of an article.
var DefaultContaminatedTitles = []string{
	"sign in",
	"log in",
	"login",
	"sign up",
	"subscribe",
	"subscribe to read",
	"register",
	"home",
	"homepage",
	"menu",
	"skip to content",
	"cookie policy",
	"privacy policy",
	"terms of service",
	"access denied",
	"forbidden",
	"page not found",
	"404 not found",
	"not found",
	"just a moment",
	"attention required",
	"are you a robot",
	"please enable javascript",
	"accept cookies",
	"advertisement",
}

// Denylist strips contamination from text and recognises contaminated
// titles. It is safe for concurrent use once built.
type Denylist struct {
	patterns []*regexp.Regexp
	titles   map[string]struct{}
}

func NewDenylist() *Denylist {
	d, err := NewDenylistWith(DefaultPatterns, DefaultContaminatedTitles)
	if err != nil {
		panic(fmt.Sprintf("default denylist: %v", err))
	}
	return d
}

func NewDenylistWith(patterns, titles []string) (*Denylist, error) {
	d := &Denylist{titles: make(map[string]struct{}, len(titles))}
	if err := d.AddPatterns(patterns...); err != nil {
		return nil, err
	}
	d.AddTitles(titles...)
	return d, nil
}

// AddPatterns compiles case-insensitive patterns. Call before sharing the
// denylist between goroutines.
func (d *Denylist) AddPatterns(patterns ...string) error {
	for _, raw := range patterns {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + trimmed)
		if err != nil {
			return news.ConfigError("denylist", fmt.Errorf("compile %q: %w", trimmed, err))
		}
		d.patterns = append(d.patterns, re)
	}
	return nil
}

func (d *Denylist) AddTitles(titles ...string) {
	for _, t := range titles {
		if key := titleKey(t); key != "" {
			d.titles[key] = struct{}{}
		}
	}
}

// LoadFile reads one pattern per line; lines starting with "title:" add a
// contaminated title instead. Blank lines and # comments are skipped.
func (d *Denylist) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return news.ConfigError("denylist", fmt.Errorf("open %s: %w", path, err))
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if title, ok := strings.CutPrefix(line, "title:"); ok {
			d.AddTitles(title)
			continue
		}
		if err := d.AddPatterns(line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return news.ConfigError("denylist", fmt.Errorf("read %s: %w", path, err))
	}
	return nil
}

// Strip replaces every pattern match with a space.
func (d *Denylist) Strip(text string) string {
	if d == nil || text == "" {
		return text
	}
	for _, re := range d.patterns {
		text = re.ReplaceAllString(text, " ")
	}
	return text
}

// IsContaminatedTitle matches the whole title, ignoring case, surrounding
// whitespace and trailing punctuation.
func (d *Denylist) IsContaminatedTitle(title string) bool {
	if d == nil {
		return false
	}
	_, ok := d.titles[titleKey(title)]
	return ok
}

func titleKey(title string) string {
	key := news.NormalizeText(title)
	return strings.TrimRight(key, " .!?:;…|-")
}
