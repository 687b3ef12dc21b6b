package news

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestCanonicalURL_StripsTrackingAndNormalizes(t *testing.T) {
	t.Parallel()

	got, err := CanonicalURL("HTTPS://Example.com:443/news//path/?utm_source=x&b=2&a=1&fbclid=abc#frag")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "https://example.com/news/path?a=1&b=2" {
		t.Fatalf("unexpected canonical url: %q", got)
	}
}

func TestCanonicalURL_KeepsNonDefaultPortAndRoot(t *testing.T) {
	t.Parallel()

	got, err := CanonicalURL("http://127.0.0.1:8080")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "http://127.0.0.1:8080/" {
		t.Fatalf("unexpected canonical url: %q", got)
	}
}

func TestCanonicalURL_RejectsUnsupported(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "mailto:a@b.c", "ftp://example.com/x", "/relative/path"} {
		_, err := CanonicalURL(raw)
		if err == nil {
			t.Fatalf("expected error for %q", raw)
		}
		if !IsPermanent(err) {
			t.Fatalf("expected permanent error for %q, got %v", raw, err)
		}
	}
}

func TestDocumentEffectiveAt_FallsBackToFetchTime(t *testing.T) {
	t.Parallel()

	fetched := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	doc := &Document{FetchedAt: fetched}
	if !doc.EffectiveAt().Equal(fetched) {
		t.Fatalf("expected fetch time fallback, got %s", doc.EffectiveAt())
	}
	if doc.HasPublishedAt() {
		t.Fatalf("expected no published time")
	}

	published := fetched.Add(-2 * time.Hour)
	doc.PublishedAt = &published
	if !doc.EffectiveAt().Equal(published) {
		t.Fatalf("expected published time, got %s", doc.EffectiveAt())
	}
}

func TestKindOf_UnwrapsChains(t *testing.T) {
	t.Parallel()

	base := Transient("fetch", errors.New("connection refused"))
	wrapped := fmt.Errorf("source a: %w", base)
	if KindOf(wrapped) != KindTransient {
		t.Fatalf("expected transient, got %s", KindOf(wrapped))
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Fatalf("expected unknown for unclassified error")
	}
	if KindOf(context.DeadlineExceeded) != KindTransient {
		t.Fatalf("expected deadline to count as transient")
	}
	if Transient("noop", nil) != nil {
		t.Fatalf("expected nil error to stay nil")
	}
}

func TestFingerprint_IgnoresCaseAndWhitespace(t *testing.T) {
	t.Parallel()

	a := Fingerprint("Breaking   News:\nMarkets rally")
	b := Fingerprint("breaking news: markets RALLY ")
	if len(a) != 32 {
		t.Fatalf("expected 32-byte digest, got %d", len(a))
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("expected equal fingerprints")
	}
	if Fingerprint("   ") != nil {
		t.Fatalf("expected nil fingerprint for blank text")
	}
}
