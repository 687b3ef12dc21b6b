package minhash

import (
	"sort"
	"time"

	"horse.fit/newsradar/internal/news"
)

// Quality is what master election looks at.
type Quality struct {
	ID          int64
	WordCount   int
	EffectiveAt time.Time
}

// better reports whether a should be master over b: more words, then the
// earlier publication, then the lower id.
func better(a, b Quality) bool {
	if a.WordCount != b.WordCount {
		return a.WordCount > b.WordCount
	}
	if !a.EffectiveAt.Equal(b.EffectiveAt) {
		if a.EffectiveAt.IsZero() {
			return false
		}
		if b.EffectiveAt.IsZero() {
			return true
		}
		return a.EffectiveAt.Before(b.EffectiveAt)
	}
	return a.ID < b.ID
}

// Elect returns the id of the best member.
func Elect(members []Quality) int64 {
	if len(members) == 0 {
		return 0
	}
	best := members[0]
	for _, m := range members[1:] {
		if better(m, best) {
			best = m
		}
	}
	return best.ID
}

type unionFind struct {
	parent map[int64]int64
	rank   map[int64]int
}

func newUnionFind() *unionFind {
	return &unionFind{parent: make(map[int64]int64), rank: make(map[int64]int)}
}

func (u *unionFind) find(x int64) int64 {
	if _, ok := u.parent[x]; !ok {
		u.parent[x] = x
		return x
	}
	root := x
	for u.parent[root] != root {
		root = u.parent[root]
	}
	for u.parent[x] != root {
		next := u.parent[x]
		u.parent[x] = root
		x = next
	}
	return root
}

func (u *unionFind) union(a, b int64) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	switch {
	case u.rank[ra] < u.rank[rb]:
		u.parent[ra] = rb
	case u.rank[ra] > u.rank[rb]:
		u.parent[rb] = ra
	default:
		u.parent[rb] = ra
		u.rank[ra]++
	}
}

// Groups turns accepted pairs into connected components and elects a master
// for each. lookup supplies quality data; ids it does not know compete on id
// alone. Groups are ordered by master id, duplicates ascending.
func Groups(pairs []news.DuplicatePair, lookup func(id int64) (Quality, bool)) []news.DuplicateGroup {
	if len(pairs) == 0 {
		return nil
	}
	uf := newUnionFind()
	for _, p := range pairs {
		uf.union(p.A, p.B)
	}

	components := make(map[int64][]int64)
	for id := range uf.parent {
		root := uf.find(id)
		components[root] = append(components[root], id)
	}

	groups := make([]news.DuplicateGroup, 0, len(components))
	for _, members := range components {
		if len(members) < 2 {
			continue
		}
		sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })

		qualities := make([]Quality, 0, len(members))
		for _, id := range members {
			q := Quality{ID: id}
			if lookup != nil {
				if found, ok := lookup(id); ok {
					q = found
					q.ID = id
				}
			}
			qualities = append(qualities, q)
		}
		master := Elect(qualities)

		dups := make([]int64, 0, len(members)-1)
		for _, id := range members {
			if id != master {
				dups = append(dups, id)
			}
		}
		groups = append(groups, news.DuplicateGroup{Master: master, Duplicates: dups})
	}

	sort.Slice(groups, func(i, j int) bool { return groups[i].Master < groups[j].Master })
	return groups
}
