package minhash

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"sync"

	"horse.fit/newsradar/internal/news"
)

const (
	DefaultBands     = 16
	DefaultShards    = 64
	DefaultThreshold = 0.6
)

// Pair is an unordered candidate pair with A < B.
type Pair struct {
	A int64
	B int64
}

type bucketKey struct {
	band int
	hash uint64
}

type bucketShard struct {
	mu      sync.Mutex
	buckets map[bucketKey][]int64
}

type signatureShard struct {
	mu   sync.RWMutex
	sigs map[int64]Signature
}

// Index buckets signatures by band. Inserts from many goroutines only
// contend on the shard owning a bucket key or id.
type Index struct {
	bands   int
	rows    int
	buckets []bucketShard
	sigs    []signatureShard
}

func NewIndex(permutations, bands, shards int) (*Index, error) {
	if permutations < 1 {
		permutations = DefaultPermutations
	}
	if bands < 1 {
		bands = DefaultBands
	}
	if permutations%bands != 0 {
		return nil, fmt.Errorf("permutations (%d) must be divisible by bands (%d)", permutations, bands)
	}
	if shards < 1 {
		shards = DefaultShards
	}

	idx := &Index{
		bands:   bands,
		rows:    permutations / bands,
		buckets: make([]bucketShard, shards),
		sigs:    make([]signatureShard, shards),
	}
	for i := range idx.buckets {
		idx.buckets[i].buckets = make(map[bucketKey][]int64)
		idx.sigs[i].sigs = make(map[int64]Signature)
	}
	return idx, nil
}

func (x *Index) Bands() int { return x.bands }
func (x *Index) Rows() int  { return x.rows }

// Insert adds a document. Re-inserting a known id is a no-op; a nil
// signature is ignored.
func (x *Index) Insert(id int64, sig Signature) error {
	if len(sig) == 0 {
		return nil
	}
	if len(sig) != x.bands*x.rows {
		return fmt.Errorf("signature length %d does not match index size %d", len(sig), x.bands*x.rows)
	}

	ss := &x.sigs[shardOf(uint64(id), len(x.sigs))]
	ss.mu.Lock()
	if _, exists := ss.sigs[id]; exists {
		ss.mu.Unlock()
		return nil
	}
	ss.sigs[id] = sig
	ss.mu.Unlock()

	for band := 0; band < x.bands; band++ {
		key := bucketKey{band: band, hash: x.bandHash(sig, band)}
		bs := &x.buckets[shardOf(key.hash, len(x.buckets))]
		bs.mu.Lock()
		bs.buckets[key] = append(bs.buckets[key], id)
		bs.mu.Unlock()
	}
	return nil
}

// Signature returns the stored signature for id.
func (x *Index) Signature(id int64) (Signature, bool) {
	ss := &x.sigs[shardOf(uint64(id), len(x.sigs))]
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	sig, ok := ss.sigs[id]
	return sig, ok
}

func (x *Index) Len() int {
	total := 0
	for i := range x.sigs {
		x.sigs[i].mu.RLock()
		total += len(x.sigs[i].sigs)
		x.sigs[i].mu.RUnlock()
	}
	return total
}

// Query returns the ids sharing at least one band with sig, ascending.
func (x *Index) Query(sig Signature) []int64 {
	if len(sig) != x.bands*x.rows {
		return nil
	}
	found := make(map[int64]struct{})
	for band := 0; band < x.bands; band++ {
		key := bucketKey{band: band, hash: x.bandHash(sig, band)}
		bs := &x.buckets[shardOf(key.hash, len(x.buckets))]
		bs.mu.Lock()
		for _, id := range bs.buckets[key] {
			found[id] = struct{}{}
		}
		bs.mu.Unlock()
	}
	return sortedIDs(found)
}

// Candidates emits every distinct pair that shares a bucket, ordered by
// (A, B).
func (x *Index) Candidates() []Pair {
	seen := make(map[Pair]struct{})
	for i := range x.buckets {
		bs := &x.buckets[i]
		bs.mu.Lock()
		for _, members := range bs.buckets {
			if len(members) < 2 {
				continue
			}
			for a := 0; a < len(members); a++ {
				for b := a + 1; b < len(members); b++ {
					seen[orderedPair(members[a], members[b])] = struct{}{}
				}
			}
		}
		bs.mu.Unlock()
	}

	pairs := make([]Pair, 0, len(seen))
	for p := range seen {
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].A != pairs[j].A {
			return pairs[i].A < pairs[j].A
		}
		return pairs[i].B < pairs[j].B
	})
	return pairs
}

// Verify scores every candidate against the full signatures and keeps the
// pairs at or above threshold.
func (x *Index) Verify(threshold float64) []news.DuplicatePair {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	candidates := x.Candidates()
	out := make([]news.DuplicatePair, 0, len(candidates))
	for _, c := range candidates {
		a, okA := x.Signature(c.A)
		b, okB := x.Signature(c.B)
		if !okA || !okB {
			continue
		}
		sim := Similarity(a, b)
		if sim < threshold {
			continue
		}
		class := news.PairNearDuplicate
		if sim >= 1 {
			class = news.PairIdentical
		}
		out = append(out, news.DuplicatePair{A: c.A, B: c.B, Similarity: sim, Class: class})
	}
	return out
}

func (x *Index) bandHash(sig Signature, band int) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(band))
	_, _ = h.Write(buf[:])
	for _, v := range sig[band*x.rows : (band+1)*x.rows] {
		binary.LittleEndian.PutUint64(buf[:], v)
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}

// CandidateProbability is the chance that two documents with true
// similarity s share at least one of bands buckets of rows rows each:
// 1 - (1 - s^rows)^bands. It is exactly 1 at s = 1.
func CandidateProbability(s float64, bands, rows int) float64 {
	if s <= 0 {
		return 0
	}
	if s >= 1 {
		return 1
	}
	return 1 - math.Pow(1-math.Pow(s, float64(rows)), float64(bands))
}

func shardOf(h uint64, n int) int {
	// splitmix finalizer so sequential ids spread across shards
	h ^= h >> 30
	h *= 0xbf58476d1ce4e5b9
	h ^= h >> 27
	h *= 0x94d049bb133111eb
	h ^= h >> 31
	return int(h % uint64(n))
}

func orderedPair(a, b int64) Pair {
	if a > b {
		a, b = b, a
	}
	return Pair{A: a, B: b}
}

func sortedIDs(set map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
