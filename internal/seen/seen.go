// Package seen is the in-process fast path for "already ingested" checks.
// The store's unique URL constraint stays authoritative; a miss here only
// means the store has to decide.
package seen

import (
	"context"
	"encoding/hex"
	"hash/fnv"
	"sync"
	"time"
)

const DefaultShards = 64

// Source lists what the store already holds.
type Source interface {
	KnownURLsSince(ctx context.Context, since time.Time) ([]string, error)
	KnownContentHashesSince(ctx context.Context, since time.Time) ([][]byte, error)
}

type shard struct {
	mu   sync.RWMutex
	keys map[string]struct{}
}

// Set is a sharded concurrent string set. URLs and content fingerprints
// live in separate namespaces of the same set.
type Set struct {
	shards []shard
}

func New(shards int) *Set {
	if shards < 1 {
		shards = DefaultShards
	}
	s := &Set{shards: make([]shard, shards)}
	for i := range s.shards {
		s.shards[i].keys = make(map[string]struct{})
	}
	return s
}

func (s *Set) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.shards[h.Sum32()%uint32(len(s.shards))]
}

// Add inserts key and reports whether it was new. Concurrent callers
// adding the same key see exactly one true.
func (s *Set) Add(key string) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.keys[key]; ok {
		return false
	}
	sh.keys[key] = struct{}{}
	return true
}

func (s *Set) Contains(key string) bool {
	sh := s.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	_, ok := sh.keys[key]
	return ok
}

// Remove drops key, used when a claimed URL turned out not to be ingested.
func (s *Set) Remove(key string) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	delete(sh.keys, key)
	sh.mu.Unlock()
}

func (s *Set) Len() int {
	n := 0
	for i := range s.shards {
		s.shards[i].mu.RLock()
		n += len(s.shards[i].keys)
		s.shards[i].mu.RUnlock()
	}
	return n
}

func URLKey(canonicalURL string) string { return "u:" + canonicalURL }

func FingerprintKey(fp []byte) string { return "f:" + hex.EncodeToString(fp) }

// Refresh loads the URLs and content fingerprints persisted since since
// and returns how many keys were added.
func (s *Set) Refresh(ctx context.Context, src Source, since time.Time) (int, error) {
	urls, err := src.KnownURLsSince(ctx, since)
	if err != nil {
		return 0, err
	}
	hashes, err := src.KnownContentHashesSince(ctx, since)
	if err != nil {
		return 0, err
	}
	added := 0
	for _, u := range urls {
		if s.Add(URLKey(u)) {
			added++
		}
	}
	for _, h := range hashes {
		if len(h) > 0 && s.Add(FingerprintKey(h)) {
			added++
		}
	}
	return added, nil
}
