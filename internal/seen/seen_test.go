package seen

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type staticSource struct {
	urls   []string
	hashes [][]byte
}

func (s staticSource) KnownURLsSince(context.Context, time.Time) ([]string, error) {
	return s.urls, nil
}

func (s staticSource) KnownContentHashesSince(context.Context, time.Time) ([][]byte, error) {
	return s.hashes, nil
}

func TestSet_ConcurrentAddReportsNewOnce(t *testing.T) {
	t.Parallel()

	set := New(8)
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := 0; k < 100; k++ {
				if set.Add(URLKey(fmt.Sprintf("https://a.example.com/%d", k))) {
					wins.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 100 || set.Len() != 100 {
		t.Fatalf("expected 100 unique adds, got wins=%d len=%d", wins.Load(), set.Len())
	}
}

func TestSet_NamespacesAndRemove(t *testing.T) {
	t.Parallel()

	set := New(0)
	fp := []byte{0xab, 0xcd}
	set.Add(FingerprintKey(fp))
	if set.Contains(URLKey("abcd")) || !set.Contains("f:abcd") {
		t.Fatalf("expected fingerprint and URL keys to be separate")
	}
	set.Remove(FingerprintKey(fp))
	if set.Contains(FingerprintKey(fp)) {
		t.Fatalf("expected key removed")
	}
}

func TestSet_Refresh(t *testing.T) {
	t.Parallel()

	set := New(4)
	set.Add(URLKey("https://a.example.com/1"))
	src := staticSource{
		urls:   []string{"https://a.example.com/1", "https://a.example.com/2"},
		hashes: [][]byte{{0xab, 0xcd}, nil},
	}
	added, err := set.Refresh(context.Background(), src, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if added != 2 || !set.Contains(URLKey("https://a.example.com/2")) || !set.Contains(FingerprintKey([]byte{0xab, 0xcd})) {
		t.Fatalf("expected one new URL and one fingerprint, got %d", added)
	}
}
