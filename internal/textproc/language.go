package textproc

import (
	"embed"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	lingua "github.com/pemistahl/lingua-go"
)

//go:embed stopwords/*.txt
var stopwordFiles embed.FS

const maxDetectBytes = 2000

var (
	detectorOnce sync.Once
	detector     lingua.LanguageDetector

	stoplistOnce sync.Once
	stoplists    map[string]map[string]struct{}
)

var stoplistLanguages = []lingua.Language{
	lingua.English,
	lingua.German,
	lingua.French,
	lingua.Spanish,
	lingua.Italian,
	lingua.Portuguese,
	lingua.Dutch,
	lingua.Swedish,
	lingua.Russian,
}

// DetectLanguage returns the ISO 639-1 code of text among the languages
// that have a stoplist, falling back to a script guess. Short samples
// return "".
func DetectLanguage(text string) string {
	sample := strings.TrimSpace(text)
	if sample == "" {
		return ""
	}
	if len(sample) > maxDetectBytes {
		cut := maxDetectBytes
		for cut > 0 && !utf8.RuneStart(sample[cut]) {
			cut--
		}
		sample = sample[:cut]
	}

	letters := 0
	for _, r := range sample {
		if unicode.IsLetter(r) {
			letters++
		}
	}
	if letters < 6 {
		return ""
	}

	script := scriptFallback(sample)
	if script != "en" && script != "ru" {
		return script
	}
	if language, ok := getDetector().DetectLanguageOf(sample); ok {
		if code := strings.ToLower(language.IsoCode639_1().String()); len(code) == 2 {
			return code
		}
	}
	return script
}

func getDetector() lingua.LanguageDetector {
	detectorOnce.Do(func() {
		detector = lingua.NewLanguageDetectorBuilder().
			FromLanguages(stoplistLanguages...).
			WithMinimumRelativeDistance(0.1).
			Build()
	})
	return detector
}

// scriptFallback labels text by its dominant non-Latin script so CJK and
// other scripts still get a stable language tag.
func scriptFallback(text string) string {
	counts := map[string]int{}
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			counts["zh"]++
		case unicode.Is(unicode.Hiragana, r), unicode.Is(unicode.Katakana, r):
			counts["ja"]++
		case unicode.Is(unicode.Hangul, r):
			counts["ko"]++
		case unicode.Is(unicode.Cyrillic, r):
			counts["ru"]++
		case unicode.Is(unicode.Arabic, r):
			counts["ar"]++
		case unicode.Is(unicode.Greek, r):
			counts["el"]++
		case unicode.Is(unicode.Latin, r):
			counts["en"]++
		}
	}
	if counts["ja"] > 0 {
		return "ja"
	}
	best, bestCount := "", 0
	for _, code := range []string{"zh", "ko", "ru", "ar", "el", "en"} {
		if counts[code] > bestCount {
			best, bestCount = code, counts[code]
		}
	}
	return best
}

// Stoplist returns the stopwords for a language code, or nil.
func Stoplist(code string) map[string]struct{} {
	stoplistOnce.Do(loadStoplists)
	return stoplists[code]
}

func loadStoplists() {
	stoplists = make(map[string]map[string]struct{})
	entries, err := stopwordFiles.ReadDir("stopwords")
	if err != nil {
		return
	}
	for _, entry := range entries {
		raw, err := stopwordFiles.ReadFile("stopwords/" + entry.Name())
		if err != nil {
			continue
		}
		code := strings.TrimSuffix(entry.Name(), ".txt")
		words := strings.Fields(string(raw))
		set := make(map[string]struct{}, len(words))
		for _, w := range words {
			set[strings.ToLower(w)] = struct{}{}
		}
		stoplists[code] = set
	}
}
