// Package cluster groups documents into stories with density clustering
// over a precomputed distance matrix and ranks the result.
package cluster

import (
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Noise is the label of points that belong to no cluster.
const Noise = -1

const (
	DefaultShrinkFactor = 0.7
	DefaultGiantRatio   = 0.5
)

// Tier applies to batches smaller than MaxSize; MaxSize 0 is unbounded.
type Tier struct {
	MaxSize int
	Eps     float64
	MinPts  int
}

// DefaultTiers give small batches a wider radius and fewer required
// neighbours than large ones.
var DefaultTiers = []Tier{
	{MaxSize: 20, Eps: 0.42, MinPts: 2},
	{MaxSize: 100, Eps: 0.36, MinPts: 3},
	{MaxSize: 500, Eps: 0.30, MinPts: 4},
	{MaxSize: 0, Eps: 0.26, MinPts: 5},
}

type FeatureLevel string

const (
	// LevelFull uses temporal and source weighting and the giant-cluster
	// shrink pass.
	LevelFull FeatureLevel = "full"
	// LevelBasic clusters on content distance only with a single pass.
	LevelBasic FeatureLevel = "basic"
)

func ParseFeatureLevel(raw string) FeatureLevel {
	if strings.EqualFold(strings.TrimSpace(raw), string(LevelBasic)) {
		return LevelBasic
	}
	return LevelFull
}

type Options struct {
	Tiers        []Tier
	ShrinkFactor float64
	GiantRatio   float64
	Level        FeatureLevel
}

// Result holds the clusters of one run. Clusters hold matrix indices in
// ascending order and are ordered by their first index; size-1 clusters
// are already removed.
type Result struct {
	Labels   []int
	Clusters [][]int
	Eps      float64
	MinPts   int
	Shrunk   bool
	Noise    int
}

// ParamsFor picks eps and minPts for a batch of n documents.
func ParamsFor(n int, tiers []Tier) (float64, int) {
	if len(tiers) == 0 {
		tiers = DefaultTiers
	}
	for _, t := range tiers {
		if t.MaxSize == 0 || n < t.MaxSize {
			return t.Eps, t.MinPts
		}
	}
	last := tiers[len(tiers)-1]
	return last.Eps, last.MinPts
}

// Run clusters the matrix with adaptive parameters. At the full level, a
// first pass in which one cluster holds more than GiantRatio of the batch
// is repeated once with eps multiplied by ShrinkFactor.
func Run(d mat.Symmetric, opts Options) Result {
	if d == nil {
		return Result{}
	}
	n := d.SymmetricDim()
	if n == 0 {
		return Result{}
	}
	if opts.ShrinkFactor <= 0 || opts.ShrinkFactor >= 1 {
		opts.ShrinkFactor = DefaultShrinkFactor
	}
	if opts.GiantRatio <= 0 || opts.GiantRatio > 1 {
		opts.GiantRatio = DefaultGiantRatio
	}

	eps, minPts := ParamsFor(n, opts.Tiers)
	labels := DBSCAN(d, eps, minPts)
	shrunk := false
	if opts.Level != LevelBasic && float64(largestCluster(labels)) > opts.GiantRatio*float64(n) {
		eps *= opts.ShrinkFactor
		labels = DBSCAN(d, eps, minPts)
		shrunk = true
	}

	clusters := groupLabels(labels)
	inClusters := 0
	for _, c := range clusters {
		inClusters += len(c)
	}
	return Result{
		Labels:   labels,
		Clusters: clusters,
		Eps:      eps,
		MinPts:   minPts,
		Shrunk:   shrunk,
		Noise:    n - inClusters,
	}
}

// DBSCAN labels every point with a cluster number or Noise. A point's
// neighbourhood includes itself. Points are visited in index order, so a
// border point reachable from two clusters joins the one discovered first
// and the labelling is deterministic.
func DBSCAN(d mat.Symmetric, eps float64, minPts int) []int {
	n := d.SymmetricDim()
	if minPts < 1 {
		minPts = 1
	}
	const unvisited = -2
	labels := make([]int, n)
	for i := range labels {
		labels[i] = unvisited
	}

	neighbours := func(p int) []int {
		out := make([]int, 0, 8)
		for q := 0; q < n; q++ {
			if d.At(p, q) <= eps {
				out = append(out, q)
			}
		}
		return out
	}

	next := 0
	for p := 0; p < n; p++ {
		if labels[p] != unvisited {
			continue
		}
		seeds := neighbours(p)
		if len(seeds) < minPts {
			labels[p] = Noise
			continue
		}

		cluster := next
		next++
		labels[p] = cluster
		queue := append([]int(nil), seeds...)
		for k := 0; k < len(queue); k++ {
			q := queue[k]
			if labels[q] == Noise {
				labels[q] = cluster
			}
			if labels[q] != unvisited {
				continue
			}
			labels[q] = cluster
			qn := neighbours(q)
			if len(qn) >= minPts {
				queue = append(queue, qn...)
			}
		}
	}
	return labels
}

func largestCluster(labels []int) int {
	counts := map[int]int{}
	best := 0
	for _, l := range labels {
		if l == Noise {
			continue
		}
		counts[l]++
		if counts[l] > best {
			best = counts[l]
		}
	}
	return best
}

func groupLabels(labels []int) [][]int {
	byLabel := map[int][]int{}
	for i, l := range labels {
		if l == Noise {
			continue
		}
		byLabel[l] = append(byLabel[l], i)
	}
	out := make([][]int, 0, len(byLabel))
	for _, members := range byLabel {
		if len(members) < 2 {
			continue
		}
		out = append(out, members)
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}
