package cluster

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"

	"horse.fit/newsradar/internal/distance"
	"horse.fit/newsradar/internal/news"
)

// Weights of the trending score terms. Distinct sources weigh the most.
type Weights struct {
	Articles   float64
	Sources    float64
	Velocity   float64
	Recency    float64
	Engagement float64
}

var DefaultWeights = Weights{
	Articles:   1.0,
	Sources:    2.5,
	Velocity:   1.5,
	Recency:    1.0,
	Engagement: 0.5,
}

// Member is what scoring needs to know about one matrix row.
type Member struct {
	ID         int64
	Title      string
	Source     string
	Time       time.Time
	Engagement float64
}

type ScoreOptions struct {
	Weights     Weights
	HalfLife    time.Duration
	Reference   time.Time
	WindowStart time.Time
	WindowEnd   time.Time
	LabelPrefix string
}

// Rank scores every cluster of res and orders them by trending score, then
// distinct-source count, then lowest member id. members and d are indexed
// like the matrix rows.
func Rank(res Result, members []Member, d mat.Symmetric, opts ScoreOptions) ([]news.StoryCluster, error) {
	if len(res.Clusters) == 0 {
		return nil, nil
	}
	if d == nil || d.SymmetricDim() != len(members) {
		return nil, fmt.Errorf("matrix and members differ in size")
	}
	if opts.HalfLife <= 0 {
		opts.HalfLife = distance.DefaultHalfLife
	}
	ref := opts.Reference
	if ref.IsZero() {
		ref = opts.WindowEnd
	}

	out := make([]news.StoryCluster, 0, len(res.Clusters))
	for _, idx := range res.Clusters {
		sc := news.StoryCluster{
			ArticleCount: len(idx),
			WindowStart:  opts.WindowStart,
			WindowEnd:    opts.WindowEnd,
		}
		sources := map[string]struct{}{}
		var recency, engagement float64
		for k, i := range idx {
			m := members[i]
			sc.MemberIDs = append(sc.MemberIDs, m.ID)
			sources[m.Source] = struct{}{}
			recency += distance.TemporalWeight(m.Time, ref, opts.HalfLife)
			engagement += m.Engagement
			if k == 0 || m.Time.Before(sc.FirstSeen) {
				sc.FirstSeen = m.Time
			}
			if k == 0 || m.Time.After(sc.LastSeen) {
				sc.LastSeen = m.Time
			}
		}
		sort.Slice(sc.MemberIDs, func(a, b int) bool { return sc.MemberIDs[a] < sc.MemberIDs[b] })

		sc.SourceCount = len(sources)
		sc.Velocity = float64(sc.ArticleCount) / math.Max(sc.LastSeen.Sub(sc.FirstSeen).Hours(), 1)
		sc.Recency = recency / float64(len(idx))
		sc.Engagement = engagement / float64(len(idx))
		sc.TrendingScore = opts.Weights.Articles*float64(sc.ArticleCount) +
			opts.Weights.Sources*float64(sc.SourceCount) +
			opts.Weights.Velocity*sc.Velocity +
			opts.Weights.Recency*sc.Recency +
			opts.Weights.Engagement*sc.Engagement

		medoid := Medoid(idx, members, d)
		sc.RepresentativeID = members[medoid].ID
		sc.RepresentativeTitle = members[medoid].Title
		out = append(out, sc)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TrendingScore != out[j].TrendingScore {
			return out[i].TrendingScore > out[j].TrendingScore
		}
		if out[i].SourceCount != out[j].SourceCount {
			return out[i].SourceCount > out[j].SourceCount
		}
		return out[i].MemberIDs[0] < out[j].MemberIDs[0]
	})
	prefix := opts.LabelPrefix
	if prefix == "" {
		prefix = "story"
	}
	for i := range out {
		out[i].Rank = i + 1
		out[i].Label = fmt.Sprintf("%s-%d", prefix, i+1)
	}
	return out, nil
}

// Medoid returns the matrix index in idx with the smallest summed distance
// to the other members, preferring the lower document id on ties.
func Medoid(idx []int, members []Member, d mat.Symmetric) int {
	best := idx[0]
	bestSum := math.Inf(1)
	for _, i := range idx {
		var sum float64
		for _, j := range idx {
			sum += d.At(i, j)
		}
		if sum < bestSum || (sum == bestSum && members[i].ID < members[best].ID) {
			best, bestSum = i, sum
		}
	}
	return best
}
