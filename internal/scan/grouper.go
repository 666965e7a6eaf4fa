package scan

import (
	"context"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/eargollo/imgdup/internal/histogram"
	"github.com/eargollo/imgdup/internal/parallel"
)

// PairDiff is the distance between two decoded records, identified by path.
// A < B lexically; the order only avoids computing a pair twice.
type PairDiff struct {
	A        string `json:"a"`
	B        string `json:"b"`
	Distance uint64 `json:"distance"`
}

// DuplicateGroup is a cluster of two or more records linked, directly or
// through other members, by pairs under the threshold. Paths are sorted.
type DuplicateGroup struct {
	ID    int      `json:"id"`
	Paths []string `json:"paths"`
}

// DistanceStats summarises, over every decoded record, the distance to its
// nearest neighbour. It is a guide for choosing a threshold.
type DistanceStats struct {
	Samples int     `json:"samples"`
	Min     float64 `json:"min"`
	Median  float64 `json:"median"`
	Mean    float64 `json:"mean"`
	StdDev  float64 `json:"stddev"`
}

// GroupResult is the output of Group.
type GroupResult struct {
	Groups   []DuplicateGroup `json:"groups"`
	Pairs    []PairDiff       `json:"pairs"`
	Compared int64            `json:"compared"`
	Stats    DistanceStats    `json:"stats"`
}

// Retained reports whether a pair at distance d is a duplicate under
// threshold: strictly below it, or identical histograms.
func Retained(d, threshold uint64) bool {
	return d < threshold || d == 0
}

// row is the work unit for pairwise comparison: record i against every later
// record.
type row struct {
	dists []uint64 // dists[k] = distance(i, i+1+k)
}

// Group compares every pair of decoded records and partitions the records
// joined by retained pairs into disjoint groups. Records with a decode error
// are ignored. Rows of the comparison matrix run on pool; the result does not
// depend on the order they complete in.
func Group(ctx context.Context, pool *parallel.Pool, records []Record, threshold uint64) (*GroupResult, error) {
	return groupWith(ctx, pool, records, threshold, nil)
}

func groupWith(ctx context.Context, pool *parallel.Pool, records []Record, threshold uint64, progress *Progress) (*GroupResult, error) {
	valid := make([]*Record, 0, len(records))
	for i := range records {
		if records[i].OK() {
			valid = append(valid, &records[i])
		}
	}
	// Canonical order: pair (i, j) with i < j always has A < B.
	sort.Slice(valid, func(i, j int) bool { return valid[i].Path < valid[j].Path })

	n := len(valid)
	rows := make([]int, max(n-1, 0))
	for i := range rows {
		rows[i] = i
	}

	it := parallel.IMap(ctx, pool, rows, func(i int) row {
		dists := make([]uint64, n-i-1)
		for k := range dists {
			dists[k] = histogram.Distance(valid[i].Histogram, valid[i+1+k].Histogram)
		}
		return row{dists: dists}
	})
	defer it.Close()

	res := &GroupResult{}
	nearest := make([]uint64, n)
	for i := range nearest {
		nearest[i] = histogram.MaxDistance
	}

	i := 0
	for r, ok := it.Next(); ok; r, ok = it.Next() {
		for k, d := range r.dists {
			j := i + 1 + k
			nearest[i] = min(nearest[i], d)
			nearest[j] = min(nearest[j], d)
			if Retained(d, threshold) {
				res.Pairs = append(res.Pairs, PairDiff{A: valid[i].Path, B: valid[j].Path, Distance: d})
			}
		}
		res.Compared += int64(len(r.dists))
		if progress != nil {
			progress.PairsCompared.Store(res.Compared)
			progress.PairsRetained.Store(int64(len(res.Pairs)))
		}
		i++
	}
	if err := it.Err(); err != nil {
		return nil, err
	}

	for id, paths := range MergePairs(res.Pairs) {
		res.Groups = append(res.Groups, DuplicateGroup{ID: id + 1, Paths: paths})
	}
	res.Stats = nearestStats(nearest)
	return res, nil
}

// MergePairs joins pairs into their transitive closure. Each returned group
// has at least two sorted members; groups are sorted by first member. The
// result depends only on the set of pairs, not their order.
func MergePairs(pairs []PairDiff) [][]string {
	index := make(map[string]int)
	var names []string
	id := func(p string) int {
		if i, ok := index[p]; ok {
			return i
		}
		index[p] = len(names)
		names = append(names, p)
		return len(names) - 1
	}

	ds := newDisjointSet(0)
	for _, p := range pairs {
		a, b := id(p.A), id(p.B)
		ds.grow(len(names))
		ds.union(a, b)
	}

	members := make(map[int][]string)
	for i, name := range names {
		root := ds.find(i)
		members[root] = append(members[root], name)
	}

	groups := make([][]string, 0, len(members))
	for _, m := range members {
		if len(m) < 2 {
			continue
		}
		sort.Strings(m)
		groups = append(groups, m)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i][0] < groups[j][0] })
	return groups
}

// disjointSet is a union-find forest with path halving and union by size.
type disjointSet struct {
	parent []int
	size   []int
}

func newDisjointSet(n int) *disjointSet {
	ds := &disjointSet{}
	ds.grow(n)
	return ds
}

// grow adds singleton sets until the forest holds n elements.
func (ds *disjointSet) grow(n int) {
	for len(ds.parent) < n {
		ds.parent = append(ds.parent, len(ds.parent))
		ds.size = append(ds.size, 1)
	}
}

func (ds *disjointSet) find(x int) int {
	for ds.parent[x] != x {
		ds.parent[x] = ds.parent[ds.parent[x]]
		x = ds.parent[x]
	}
	return x
}

func (ds *disjointSet) union(a, b int) {
	ra, rb := ds.find(a), ds.find(b)
	if ra == rb {
		return
	}
	if ds.size[ra] < ds.size[rb] {
		ra, rb = rb, ra
	}
	ds.parent[rb] = ra
	ds.size[ra] += ds.size[rb]
}

func nearestStats(nearest []uint64) DistanceStats {
	xs := make([]float64, 0, len(nearest))
	for _, d := range nearest {
		if d != histogram.MaxDistance {
			xs = append(xs, float64(d))
		}
	}
	if len(xs) == 0 {
		return DistanceStats{}
	}
	sort.Float64s(xs)

	s := DistanceStats{
		Samples: len(xs),
		Min:     xs[0],
		Median:  stat.Quantile(0.5, stat.Empirical, xs, nil),
		Mean:    stat.Mean(xs, nil),
	}
	if len(xs) > 1 {
		if sd := stat.StdDev(xs, nil); !math.IsNaN(sd) {
			s.StdDev = sd
		}
	}
	return s
}
