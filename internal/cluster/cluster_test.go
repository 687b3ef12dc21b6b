package cluster

import (
	"reflect"
	"testing"
	"time"

	"gonum.org/v1/gonum/mat"
)

// blockMatrix gives distance within between members of the same group,
// across between groups and 0.9 for the ungrouped (-1) points.
func blockMatrix(groups []int, within, across float64) *mat.SymDense {
	n := len(groups)
	m := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			switch {
			case groups[i] < 0 || groups[j] < 0:
				m.SetSym(i, j, 0.9)
			case groups[i] == groups[j]:
				m.SetSym(i, j, within)
			default:
				m.SetSym(i, j, across)
			}
		}
	}
	return m
}

func TestParamsFor_Tiers(t *testing.T) {
	t.Parallel()

	cases := []struct {
		n      int
		eps    float64
		minPts int
	}{
		{n: 5, eps: 0.42, minPts: 2},
		{n: 19, eps: 0.42, minPts: 2},
		{n: 20, eps: 0.36, minPts: 3},
		{n: 250, eps: 0.30, minPts: 4},
		{n: 5000, eps: 0.26, minPts: 5},
	}
	for _, tc := range cases {
		eps, minPts := ParamsFor(tc.n, nil)
		if eps != tc.eps || minPts != tc.minPts {
			t.Fatalf("n=%d: got eps=%f minPts=%d", tc.n, eps, minPts)
		}
	}
}

func TestRun_SeparatesGroupsAndDropsNoise(t *testing.T) {
	t.Parallel()

	groups := []int{0, 1, 0, -1, 1, 0, 1}
	res := Run(blockMatrix(groups, 0.1, 0.8), Options{})
	want := [][]int{{0, 2, 5}, {1, 4, 6}}
	if !reflect.DeepEqual(res.Clusters, want) {
		t.Fatalf("unexpected clusters: %v", res.Clusters)
	}
	if res.Noise != 1 || res.Labels[3] != Noise {
		t.Fatalf("expected isolated point as noise, got noise=%d labels=%v", res.Noise, res.Labels)
	}
	if res.Shrunk {
		t.Fatalf("did not expect shrink pass")
	}
}

func TestRun_Deterministic(t *testing.T) {
	t.Parallel()

	groups := []int{2, 0, 1, 0, 2, 1, 0, -1, 2, 1, 1}
	m := blockMatrix(groups, 0.2, 0.7)
	first := Run(m, Options{})
	second := Run(m, Options{})
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical results: %+v vs %+v", first, second)
	}
}

func TestRun_ShrinksGiantCluster(t *testing.T) {
	t.Parallel()

	groups := []int{0, 0, 0, 0, 0, 1, 1, 1, 1, 1}
	m := blockMatrix(groups, 0.1, 0.35)

	full := Run(m, Options{Level: LevelFull})
	if !full.Shrunk || len(full.Clusters) != 2 {
		t.Fatalf("expected shrink into two clusters, got %+v", full)
	}
	if full.Eps >= 0.42 {
		t.Fatalf("expected reduced eps, got %f", full.Eps)
	}

	basic := Run(m, Options{Level: LevelBasic})
	if basic.Shrunk || len(basic.Clusters) != 1 {
		t.Fatalf("expected single cluster at basic level, got %+v", basic)
	}
}

func TestRun_DegenerateInputs(t *testing.T) {
	t.Parallel()

	if res := Run(nil, Options{}); len(res.Clusters) != 0 {
		t.Fatalf("expected empty result for nil matrix")
	}
	single := mat.NewSymDense(1, nil)
	res := Run(single, Options{})
	if len(res.Clusters) != 0 || res.Noise != 1 {
		t.Fatalf("expected one noise point, got %+v", res)
	}
}

func TestRank_OrdersByScoreThenSources(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)
	members := []Member{
		{ID: 10, Title: "Dam breach floods valley", Source: "a", Time: base},
		{ID: 11, Title: "Valley flooded after dam breach", Source: "b", Time: base.Add(30 * time.Minute)},
		{ID: 12, Title: "Dam breach: valley under water", Source: "c", Time: base.Add(time.Hour)},
		{ID: 20, Title: "Chess final drawn", Source: "a", Time: base},
		{ID: 21, Title: "Chess final ends in draw", Source: "a", Time: base.Add(3 * time.Hour)},
	}
	groups := []int{0, 0, 0, 1, 1}
	m := blockMatrix(groups, 0.1, 0.9)
	m.SetSym(0, 2, 0.2)

	res := Run(m, Options{})
	ranked, err := Rank(res, members, m, ScoreOptions{
		Weights:     DefaultWeights,
		HalfLife:    6 * time.Hour,
		WindowStart: base.Add(-time.Hour),
		WindowEnd:   base.Add(4 * time.Hour),
		LabelPrefix: "run",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ranked) != 2 {
		t.Fatalf("expected two clusters, got %d", len(ranked))
	}

	top := ranked[0]
	if top.SourceCount != 3 || top.ArticleCount != 3 || top.Rank != 1 || top.Label != "run-1" {
		t.Fatalf("unexpected top cluster: %+v", top)
	}
	if top.RepresentativeID != 11 || top.RepresentativeTitle != "Valley flooded after dam breach" {
		t.Fatalf("expected medoid 11, got %d", top.RepresentativeID)
	}
	if top.Velocity != 3 {
		t.Fatalf("expected velocity floor of one hour, got %f", top.Velocity)
	}
	second := ranked[1]
	if second.SourceCount != 1 || !reflect.DeepEqual(second.MemberIDs, []int64{20, 21}) {
		t.Fatalf("unexpected second cluster: %+v", second)
	}
	if second.Velocity <= 0.66 || second.Velocity >= 0.67 {
		t.Fatalf("expected 2 articles over 3 hours, got %f", second.Velocity)
	}
}
