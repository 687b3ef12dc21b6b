// Package minhash estimates Jaccard similarity between documents with MinHash
// signatures and finds near-duplicate candidates with banded LSH.
package minhash

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math/bits"
	"math/rand/v2"
	"strings"
	"unicode"
)

const (
	DefaultShingleSize  = 3
	DefaultPermutations = 128
	DefaultSeed         = 1

	mersennePrime = (1 << 61) - 1
)

// Signature holds one minimum per hash function.
type Signature []uint64

// Shingles lower-cases text, treats every run of non-word characters as a
// single separator and returns the distinct k-word windows in order of first
// appearance. Text with fewer than k words is a single shingle.
func Shingles(text string, k int) []string {
	if k < 1 {
		k = DefaultShingleSize
	}
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '_'
	})
	if len(words) == 0 {
		return nil
	}
	if len(words) < k {
		return []string{strings.Join(words, " ")}
	}

	seen := make(map[string]struct{}, len(words)-k+1)
	out := make([]string, 0, len(words)-k+1)
	for i := 0; i+k <= len(words); i++ {
		shingle := strings.Join(words[i:i+k], " ")
		if _, ok := seen[shingle]; ok {
			continue
		}
		seen[shingle] = struct{}{}
		out = append(out, shingle)
	}
	return out
}

// Hasher is a family of universal hash functions (a*x + b) mod (2^61 - 1)
// over a 64-bit FNV-1a base hash. The coefficients depend only on the seed,
// so signatures are comparable across processes.
type Hasher struct {
	a []uint64
	b []uint64
}

func NewHasher(permutations int, seed uint64) *Hasher {
	if permutations < 1 {
		permutations = DefaultPermutations
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	h := &Hasher{
		a: make([]uint64, permutations),
		b: make([]uint64, permutations),
	}
	for i := 0; i < permutations; i++ {
		h.a[i] = 1 + rng.Uint64N(mersennePrime-1)
		h.b[i] = rng.Uint64N(mersennePrime)
	}
	return h
}

func (h *Hasher) Size() int { return len(h.a) }

// Sign returns the signature of a shingle set, or nil when there are no
// shingles. A nil signature never matches anything.
func (h *Hasher) Sign(shingles []string) Signature {
	if len(shingles) == 0 {
		return nil
	}
	sig := make(Signature, len(h.a))
	for i := range sig {
		sig[i] = mersennePrime
	}
	for _, shingle := range shingles {
		x := baseHash(shingle) % mersennePrime
		for i := range sig {
			if v := mulAddMod(h.a[i], x, h.b[i]); v < sig[i] {
				sig[i] = v
			}
		}
	}
	return sig
}

// SignText shingles text with window k and signs it.
func (h *Hasher) SignText(text string, k int) Signature {
	return h.Sign(Shingles(text, k))
}

// Similarity is the fraction of positions where both signatures agree.
func Similarity(a, b Signature) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	equal := 0
	for i := range a {
		if a[i] == b[i] {
			equal++
		}
	}
	return float64(equal) / float64(len(a))
}

// Jaccard is the exact similarity of two shingle sets.
func Jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		set[s] = struct{}{}
	}
	inter := 0
	union := len(set)
	seen := make(map[string]struct{}, len(b))
	for _, s := range b {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		if _, ok := set[s]; ok {
			inter++
		} else {
			union++
		}
	}
	return float64(inter) / float64(union)
}

// Encode packs a signature little-endian for storage.
func (s Signature) Encode() []byte {
	if len(s) == 0 {
		return nil
	}
	out := make([]byte, 8*len(s))
	for i, v := range s {
		binary.LittleEndian.PutUint64(out[i*8:], v)
	}
	return out
}

// Decode is the inverse of Encode.
func Decode(raw []byte) (Signature, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if len(raw)%8 != 0 {
		return nil, fmt.Errorf("signature blob length %d is not a multiple of 8", len(raw))
	}
	sig := make(Signature, len(raw)/8)
	for i := range sig {
		sig[i] = binary.LittleEndian.Uint64(raw[i*8:])
	}
	return sig, nil
}

func baseHash(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// mulAddMod computes (a*x + b) mod 2^61-1 for a, x, b below the prime.
func mulAddMod(a, x, b uint64) uint64 {
	hi, lo := bits.Mul64(a, x)
	// 2^64 = 8 (mod p)
	s := (lo & mersennePrime) + (lo >> 61) + (hi << 3)
	s = (s & mersennePrime) + (s >> 61)
	s += b
	s = (s & mersennePrime) + (s >> 61)
	if s >= mersennePrime {
		s -= mersennePrime
	}
	return s
}
