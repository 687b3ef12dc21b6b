// Package dedup finds near-duplicate documents with a MinHash LSH index
// and groups them under a master document.
package dedup

import (
	"bytes"
	"strings"
	"sync"

	"horse.fit/newsradar/internal/minhash"
	"horse.fit/newsradar/internal/news"
	"horse.fit/newsradar/internal/textproc"
)

// Signer computes the light text, content hash and signature of a
// document. Ingestion and the dedup command share one so their
// signatures stay comparable.
type Signer struct {
	pre         *textproc.Preprocessor
	hasher      *minhash.Hasher
	shingleSize int
}

func NewSigner(pre *textproc.Preprocessor, hasher *minhash.Hasher, shingleSize int) *Signer {
	if shingleSize < 1 {
		shingleSize = minhash.DefaultShingleSize
	}
	return &Signer{pre: pre, hasher: hasher, shingleSize: shingleSize}
}

// Sign returns the body fingerprint and the title+body signature.
func (s *Signer) Sign(title, body string) (contentHash []byte, sig minhash.Signature) {
	lightBody := s.pre.Light(body)
	text := strings.TrimSpace(s.pre.Light(title) + " " + lightBody)
	return news.Fingerprint(lightBody), s.hasher.SignText(text, s.shingleSize)
}

func (s *Signer) Permutations() int { return s.hasher.Size() }

// Result is the outcome of one detection pass.
type Result struct {
	Pairs  []news.DuplicatePair  `json:"pairs"`
	Groups []news.DuplicateGroup `json:"groups"`
}

type entry struct {
	hash    []byte
	quality minhash.Quality
}

// Detector wraps an index with the per-document data that verification
// and master election need. Add is safe for concurrent use.
type Detector struct {
	index *minhash.Index

	mu      sync.RWMutex
	entries map[int64]entry
}

func NewDetector(permutations, bands, shards int) (*Detector, error) {
	index, err := minhash.NewIndex(permutations, bands, shards)
	if err != nil {
		return nil, err
	}
	return &Detector{index: index, entries: make(map[int64]entry)}, nil
}

// Add indexes a persisted document. Documents without id or signature are
// skipped.
func (d *Detector) Add(doc news.Document) error {
	if doc.ID == 0 || len(doc.Signature) == 0 {
		return nil
	}
	if err := d.index.Insert(doc.ID, doc.Signature); err != nil {
		return err
	}
	d.mu.Lock()
	d.entries[doc.ID] = entry{
		hash: doc.ContentHash,
		quality: minhash.Quality{
			ID:          doc.ID,
			WordCount:   doc.WordCount,
			EffectiveAt: doc.EffectiveAt(),
		},
	}
	d.mu.Unlock()
	return nil
}

func (d *Detector) Len() int { return d.index.Len() }

// Detect verifies the index candidates at threshold. Pairs with equal
// content hashes are classified identical whatever their estimate.
func (d *Detector) Detect(threshold float64) Result {
	pairs := d.index.Verify(threshold)

	d.mu.RLock()
	defer d.mu.RUnlock()
	for i := range pairs {
		a, okA := d.entries[pairs[i].A]
		b, okB := d.entries[pairs[i].B]
		if okA && okB && len(a.hash) > 0 && bytes.Equal(a.hash, b.hash) {
			pairs[i].Class = news.PairIdentical
		}
	}
	groups := minhash.Groups(pairs, func(id int64) (minhash.Quality, bool) {
		e, ok := d.entries[id]
		return e.quality, ok
	})
	return Result{Pairs: pairs, Groups: groups}
}
