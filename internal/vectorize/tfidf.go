// Package vectorize builds sparse TF-IDF rows from token streams.
package vectorize

import (
	"math"
	"sort"
)

const (
	DefaultMaxFeatures = 5000
	DefaultMinDF       = 2
	DefaultMaxDFRatio  = 0.85
	// MaxDFMinDocs is the smallest batch the max-df cutoff applies to; in
	// tiny batches a shared story term legitimately appears everywhere.
	MaxDFMinDocs = 10
)

type Options struct {
	MaxFeatures int
	MinDF       int
	MaxDFRatio  float64
}

// Entry is one non-zero cell of a row.
type Entry struct {
	Term   int
	Weight float64
}

// Vector is a sparse row sorted by term index, L2-normalized unless empty.
type Vector []Entry

// Matrix is the result of one Fit call.
type Matrix struct {
	Vocabulary []string
	Rows       []Vector
}

func (o Options) withDefaults() Options {
	if o.MaxFeatures <= 0 {
		o.MaxFeatures = DefaultMaxFeatures
	}
	if o.MinDF <= 0 {
		o.MinDF = DefaultMinDF
	}
	if o.MaxDFRatio <= 0 || o.MaxDFRatio > 1 {
		o.MaxDFRatio = DefaultMaxDFRatio
	}
	return o
}

// Fit learns the vocabulary of the batch and returns its TF-IDF matrix.
// Weights use sublinear tf (1 + ln tf) and smoothed idf
// (ln((1+n)/(1+df)) + 1). The vocabulary keeps the terms with the highest
// document frequency, ties broken alphabetically, and is then sorted
// alphabetically, so identical input gives identical output.
func Fit(docs [][]string, opts Options) Matrix {
	opts = opts.withDefaults()
	n := len(docs)
	if n == 0 {
		return Matrix{}
	}

	df := make(map[string]int)
	for _, doc := range docs {
		seen := make(map[string]struct{}, len(doc))
		for _, tok := range doc {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			df[tok]++
		}
	}

	maxDF := n
	if n >= MaxDFMinDocs {
		maxDF = int(math.Floor(opts.MaxDFRatio * float64(n)))
	}
	type termDF struct {
		term string
		df   int
	}
	kept := make([]termDF, 0, len(df))
	for term, count := range df {
		if count < opts.MinDF || count > maxDF {
			continue
		}
		kept = append(kept, termDF{term: term, df: count})
	}
	sort.Slice(kept, func(i, j int) bool {
		if kept[i].df != kept[j].df {
			return kept[i].df > kept[j].df
		}
		return kept[i].term < kept[j].term
	})
	if len(kept) > opts.MaxFeatures {
		kept = kept[:opts.MaxFeatures]
	}

	vocab := make([]string, len(kept))
	for i, td := range kept {
		vocab[i] = td.term
	}
	sort.Strings(vocab)
	index := make(map[string]int, len(vocab))
	idf := make([]float64, len(vocab))
	for i, term := range vocab {
		index[term] = i
		idf[i] = math.Log(float64(1+n)/float64(1+df[term])) + 1
	}

	rows := make([]Vector, n)
	for d, doc := range docs {
		tf := make(map[int]int)
		for _, tok := range doc {
			if i, ok := index[tok]; ok {
				tf[i]++
			}
		}
		row := make(Vector, 0, len(tf))
		for i, count := range tf {
			row = append(row, Entry{Term: i, Weight: (1 + math.Log(float64(count))) * idf[i]})
		}
		sort.Slice(row, func(a, b int) bool { return row[a].Term < row[b].Term })
		normalize(row)
		rows[d] = row
	}

	return Matrix{Vocabulary: vocab, Rows: rows}
}

func normalize(row Vector) {
	var sum float64
	for _, e := range row {
		sum += e.Weight * e.Weight
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for i := range row {
		row[i].Weight /= norm
	}
}

// Cosine is the dot product of two normalized rows; empty rows give 0.
func Cosine(a, b Vector) float64 {
	var dot float64
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i].Term == b[j].Term:
			dot += a[i].Weight * b[j].Weight
			i++
			j++
		case a[i].Term < b[j].Term:
			i++
		default:
			j++
		}
	}
	return dot
}
