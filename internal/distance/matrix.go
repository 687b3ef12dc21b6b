// Package distance builds the pairwise distance matrix the density
// clusterer runs on.
package distance

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"horse.fit/newsradar/internal/vectorize"
)

const (
	DefaultHalfLife          = 6 * time.Hour
	DefaultTemporalFactor    = 0.1
	DefaultSameSourcePenalty = 0.1

	underflow = 1e-12
)

type Options struct {
	HalfLife          time.Duration
	TemporalFactor    float64
	SameSourcePenalty float64
	// Reference is "now" for age computation; zero means the newest item.
	Reference time.Time
	// ContentOnly disables the temporal and source terms.
	ContentOnly bool
}

// Item carries the per-document inputs besides the vector.
type Item struct {
	Source string
	Time   time.Time
}

// Angular maps cosine similarity to acos(cos)/pi in [0, 1].
func Angular(cos float64) float64 {
	if cos > 1 {
		cos = 1
	}
	if cos < -1 {
		cos = -1
	}
	return math.Acos(cos) / math.Pi
}

// TemporalWeight is 2^(-age/halfLife), 1 for items at or after ref.
func TemporalWeight(t, ref time.Time, halfLife time.Duration) float64 {
	if halfLife <= 0 {
		halfLife = DefaultHalfLife
	}
	age := ref.Sub(t)
	if age <= 0 {
		return 1
	}
	return math.Exp(-math.Ln2 * age.Hours() / halfLife.Hours())
}

// Build returns the symmetric n x n matrix. Each entry is the angular
// distance of the two rows, scaled down by the mean temporal weight of the
// pair and scaled up for same-source pairs, then clipped to [0, 1]. The
// diagonal is exactly zero.
func Build(rows []vectorize.Vector, items []Item, opts Options) (*mat.SymDense, error) {
	n := len(rows)
	if len(items) != n {
		return nil, fmt.Errorf("rows (%d) and items (%d) differ in length", n, len(items))
	}
	if n == 0 {
		return nil, nil
	}
	if opts.HalfLife <= 0 {
		opts.HalfLife = DefaultHalfLife
	}

	ref := opts.Reference
	if ref.IsZero() {
		for _, it := range items {
			if it.Time.After(ref) {
				ref = it.Time
			}
		}
	}
	weights := make([]float64, n)
	for i, it := range items {
		weights[i] = TemporalWeight(it.Time, ref, opts.HalfLife)
	}

	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := Angular(vectorize.Cosine(rows[i], rows[j]))
			if !opts.ContentOnly {
				d *= 1 - opts.TemporalFactor*(weights[i]+weights[j])/2
				if items[i].Source != "" && items[i].Source == items[j].Source {
					d *= 1 + opts.SameSourcePenalty
				}
			}
			out.SetSym(i, j, clip(d))
		}
	}
	return out, nil
}

func clip(d float64) float64 {
	switch {
	case math.IsNaN(d), d < underflow:
		return 0
	case d > 1:
		return 1
	default:
		return d
	}
}
