// Package textproc turns raw article text into token streams for
// vectorization and into normalized text for duplicate hashing.
package textproc

import (
	"strings"
	"unicode"

	"horse.fit/newsradar/internal/news"
)

const (
	DefaultTitleBoost     = 2
	DefaultDomainBoost    = 1
	DefaultMinTokenLength = 3
	DefaultMinMeaningful  = 2
)

type Options struct {
	TitleBoost     int
	DomainBoost    int
	MinTokenLength int
	MinMeaningful  int
	DomainKeywords []string
	Denylist       *Denylist
	// SkipLanguageDetection uses the English stoplist for every document.
	SkipLanguageDetection bool
}

type Preprocessor struct {
	titleBoost    int
	domainBoost   int
	minTokenLen   int
	minMeaningful int
	keywords      map[string]struct{}
	denylist      *Denylist
	detect        bool
}

// Result is the analysis view of one document.
type Result struct {
	Tokens     []string
	Language   string
	Meaningful int
}

func New(opts Options) *Preprocessor {
	p := &Preprocessor{
		titleBoost:    opts.TitleBoost,
		domainBoost:   opts.DomainBoost,
		minTokenLen:   opts.MinTokenLength,
		minMeaningful: opts.MinMeaningful,
		keywords:      make(map[string]struct{}, len(opts.DomainKeywords)),
		denylist:      opts.Denylist,
		detect:        !opts.SkipLanguageDetection,
	}
	if p.titleBoost < 1 {
		p.titleBoost = DefaultTitleBoost
	}
	if p.domainBoost < 1 {
		p.domainBoost = DefaultDomainBoost
	}
	if p.minTokenLen < 1 {
		p.minTokenLen = DefaultMinTokenLength
	}
	if p.minMeaningful < 1 {
		p.minMeaningful = DefaultMinMeaningful
	}
	if p.denylist == nil {
		p.denylist = NewDenylist()
	}
	for _, kw := range opts.DomainKeywords {
		if key := news.NormalizeText(kw); key != "" {
			p.keywords[key] = struct{}{}
		}
	}
	return p
}

// Process builds the weighted token stream for one document. It returns a
// permanent error when the title is contamination or too few meaningful
// words remain; such documents stay in storage and only leave the batch.
func (p *Preprocessor) Process(title, body string) (Result, error) {
	if p.denylist.IsContaminatedTitle(title) {
		return Result{}, news.Rejectf("preprocess", "contaminated title %q", strings.TrimSpace(title))
	}

	cleanTitle := news.NormalizeText(p.denylist.Strip(title))
	cleanBody := news.NormalizeText(p.denylist.Strip(body))

	language := "en"
	if p.detect {
		if code := DetectLanguage(cleanTitle + " " + cleanBody); code != "" {
			language = code
		}
	}
	stop := Stoplist(language)
	english := Stoplist("en")

	keep := func(tok string) bool {
		if _, ok := stop[tok]; ok {
			return false
		}
		if _, ok := english[tok]; ok {
			return false
		}
		if isIdeographic(tok) {
			return true
		}
		if isNumeric(tok) {
			return false
		}
		return runeLen(tok) >= p.minTokenLen
	}

	titleTokens := filter(Tokenize(cleanTitle), keep)
	bodyTokens := filter(Tokenize(cleanBody), keep)
	meaningful := len(titleTokens) + len(bodyTokens)
	if meaningful < p.minMeaningful {
		return Result{Language: language, Meaningful: meaningful}, news.Rejectf("preprocess", "only %d meaningful words", meaningful)
	}

	tokens := make([]string, 0, p.titleBoost*len(titleTokens)+len(bodyTokens))
	for i := 0; i < p.titleBoost; i++ {
		tokens = append(tokens, titleTokens...)
	}
	tokens = append(tokens, bodyTokens...)
	if len(p.keywords) > 0 && p.domainBoost > 0 {
		base := len(tokens)
		for _, tok := range tokens[:base] {
			if _, ok := p.keywords[tok]; ok {
				for i := 0; i < p.domainBoost; i++ {
					tokens = append(tokens, tok)
				}
			}
		}
	}

	return Result{Tokens: tokens, Language: language, Meaningful: meaningful}, nil
}

// Light is the normalization used at ingestion for shingling: denylist
// stripping plus NFKC, lower-casing and whitespace folding.
func (p *Preprocessor) Light(text string) string {
	return news.NormalizeText(p.denylist.Strip(text))
}

// IsContaminatedTitle exposes the title check for callers that gate before
// the full pass.
func (p *Preprocessor) IsContaminatedTitle(title string) bool {
	return p.denylist.IsContaminatedTitle(title)
}

// Tokenize splits on anything that is not a letter or digit. Runs of CJK
// ideographs, kana and hangul are split into overlapping bigrams because
// those scripts do not separate words with spaces.
func Tokenize(text string) []string {
	parts := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if !containsIdeograph(part) {
			out = append(out, part)
			continue
		}
		out = append(out, splitIdeographic(part)...)
	}
	return out
}

func splitIdeographic(part string) []string {
	var out []string
	var run []rune
	flush := func() {
		switch {
		case len(run) == 1:
			out = append(out, string(run))
		case len(run) > 1:
			for i := 0; i+1 < len(run); i++ {
				out = append(out, string(run[i:i+2]))
			}
		}
		run = run[:0]
	}

	var latin strings.Builder
	for _, r := range part {
		if isIdeographRune(r) {
			if latin.Len() > 0 {
				out = append(out, latin.String())
				latin.Reset()
			}
			run = append(run, r)
			continue
		}
		flush()
		latin.WriteRune(r)
	}
	flush()
	if latin.Len() > 0 {
		out = append(out, latin.String())
	}
	return out
}

func isIdeographRune(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}

func containsIdeograph(s string) bool {
	for _, r := range s {
		if isIdeographRune(r) {
			return true
		}
	}
	return false
}

func isIdeographic(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !isIdeographRune(r) {
			return false
		}
	}
	return true
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

func runeLen(s string) int {
	n := 0
	for range s {
		n++
	}
	return n
}

func filter(tokens []string, keep func(string) bool) []string {
	out := tokens[:0]
	for _, tok := range tokens {
		if keep(tok) {
			out = append(out, tok)
		}
	}
	return out
}
