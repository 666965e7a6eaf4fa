package scan

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/eargollo/imgdup/internal/histogram"
	"github.com/eargollo/imgdup/internal/media"
	"github.com/eargollo/imgdup/internal/parallel"
)

func mustPool(tb testing.TB, workers int) *parallel.Pool {
	tb.Helper()
	p, err := parallel.NewPool(workers)
	if err != nil {
		tb.Fatal(err)
	}
	tb.Cleanup(p.Close)
	return p
}

func groupPaths(res *GroupResult) [][]string {
	out := make([][]string, 0, len(res.Groups))
	for _, g := range res.Groups {
		out = append(out, g.Paths)
	}
	return out
}

func TestRetained(t *testing.T) {
	tests := []struct {
		d, threshold uint64
		want         bool
	}{
		{0, 0, true},
		{1, 0, false},
		{99, 100, true},
		{100, 100, false},
		{0, 100, true},
		{histogram.MaxDistance, histogram.MaxDistance, false},
	}
	for _, tt := range tests {
		if got := Retained(tt.d, tt.threshold); got != tt.want {
			t.Errorf("Retained(%d, %d) = %v, want %v", tt.d, tt.threshold, got, tt.want)
		}
	}
}

func TestGroupTransitive(t *testing.T) {
	// a-b and b-c are under the threshold, a-c is not; all three still group.
	records := []Record{
		recordWith("a", 1000),
		recordWith("b", 1050),
		recordWith("c", 1100),
		recordWith("d", 9000),
		recordWith("e", 9010),
	}
	res, err := Group(context.Background(), mustPool(t, 2), records, 100)
	if err != nil {
		t.Fatalf("Group: %v", err)
	}

	want := [][]string{{"a", "b", "c"}, {"d", "e"}}
	if got := groupPaths(res); !reflect.DeepEqual(got, want) {
		t.Errorf("groups: got %v, want %v", got, want)
	}
	for i, g := range res.Groups {
		if g.ID != i+1 {
			t.Errorf("group %d: ID %d, want %d", i, g.ID, i+1)
		}
	}
	if res.Compared != 10 {
		t.Errorf("Compared: got %d, want 10", res.Compared)
	}
	for _, p := range res.Pairs {
		if p.A == "a" && p.B == "c" {
			t.Errorf("pair a-c at distance %d retained with threshold 100", p.Distance)
		}
		if p.A >= p.B {
			t.Errorf("pair not canonical: %+v", p)
		}
	}

	if res.Stats.Samples != 5 || res.Stats.Min != 10 || res.Stats.Median != 50 || res.Stats.Mean != 34 {
		t.Errorf("stats: got %+v", res.Stats)
	}
}

func TestGroupThresholdZeroGroupsIdentical(t *testing.T) {
	records := []Record{
		recordWith("x", 7),
		recordWith("y", 7),
		recordWith("z", 8),
	}
	res, err := Group(context.Background(), mustPool(t, 1), records, 0)
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	if got, want := groupPaths(res), [][]string{{"x", "y"}}; !reflect.DeepEqual(got, want) {
		t.Errorf("groups: got %v, want %v", got, want)
	}
}

func TestGroupSkipsFailedRecords(t *testing.T) {
	records := []Record{
		recordWith("a", 1),
		{Path: "broken", Err: errors.New("corrupt")},
		recordWith("b", 1),
	}
	res, err := Group(context.Background(), mustPool(t, 2), records, 10)
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	if got, want := groupPaths(res), [][]string{{"a", "b"}}; !reflect.DeepEqual(got, want) {
		t.Errorf("groups: got %v, want %v", got, want)
	}
	if res.Compared != 1 {
		t.Errorf("Compared: got %d, want 1", res.Compared)
	}
}

func TestGroupFewerThanTwoRecords(t *testing.T) {
	for _, records := range [][]Record{nil, {recordWith("only", 3)}} {
		res, err := Group(context.Background(), mustPool(t, 2), records, 100)
		if err != nil {
			t.Fatalf("Group: %v", err)
		}
		if len(res.Groups) != 0 || res.Compared != 0 {
			t.Errorf("got %+v, want nothing", res)
		}
	}
}

func TestGroupPermutationInvariantAndDisjoint(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	base := make([]Record, 60)
	for i := range base {
		base[i] = recordWith(fmt.Sprintf("img%02d", i), uint32(rng.Intn(2000)))
	}

	ref, err := Group(context.Background(), mustPool(t, 4), base, 40)
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	if len(ref.Groups) == 0 {
		t.Fatal("expected some groups from 60 values in [0, 2000) at threshold 40")
	}

	seen := make(map[string]int)
	for _, g := range ref.Groups {
		if len(g.Paths) < 2 {
			t.Errorf("group %d has %d members", g.ID, len(g.Paths))
		}
		for _, p := range g.Paths {
			if prev, ok := seen[p]; ok {
				t.Errorf("%s is in groups %d and %d", p, prev, g.ID)
			}
			seen[p] = g.ID
		}
	}

	for trial := 0; trial < 5; trial++ {
		shuffled := append([]Record(nil), base...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		got, err := Group(context.Background(), mustPool(t, 1+trial), shuffled, 40)
		if err != nil {
			t.Fatalf("Group: %v", err)
		}
		if !reflect.DeepEqual(got.Groups, ref.Groups) {
			t.Fatalf("trial %d: groups differ after shuffling input", trial)
		}
	}
}

func TestMergePairsOrderIndependent(t *testing.T) {
	pairs := []PairDiff{
		{A: "p1", B: "p2"},
		{A: "p3", B: "p4"},
		{A: "p2", B: "p5"},
		{A: "p5", B: "p6"},
		{A: "p7", B: "p8"},
		{A: "p4", B: "p7"},
	}
	want := [][]string{{"p1", "p2", "p5", "p6"}, {"p3", "p4", "p7", "p8"}}

	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 20; trial++ {
		rng.Shuffle(len(pairs), func(i, j int) { pairs[i], pairs[j] = pairs[j], pairs[i] })
		if got := MergePairs(pairs); !reflect.DeepEqual(got, want) {
			t.Fatalf("trial %d: got %v, want %v", trial, got, want)
		}
	}
	if got := MergePairs(nil); len(got) != 0 {
		t.Errorf("MergePairs(nil): got %v", got)
	}
}

func TestGroupCancelled(t *testing.T) {
	records := make([]Record, 20)
	for i := range records {
		records[i] = recordWith(fmt.Sprintf("r%02d", i), uint32(i))
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Group(ctx, mustPool(t, 2), records, 5); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestGroupDecodedImages(t *testing.T) {
	root := t.TempDir()
	broken := createImageTree(t, root)

	paths, err := FindCandidates(context.Background(), []string{root}, nil, media.DefaultExtensions, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 6 {
		t.Fatalf("found %d candidates, want 6: %v", len(paths), paths)
	}
	records, err := Analyze(context.Background(), paths, 4, nil, histogram.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if failed := Failed(records); len(failed) != 1 || failed[0].Path != broken {
		t.Fatalf("failed records: %+v", failed)
	}

	red1 := filepath.Join(root, "a", "red1.png")
	red2 := filepath.Join(root, "b", "red2.png")
	red3 := filepath.Join(root, "b", "red3.png")

	tests := []struct {
		threshold uint64
		want      [][]string
	}{
		{0, [][]string{{red1, red2}}},
		{30, [][]string{{red1, red2}}},
		{31, [][]string{{red1, red2, red3}}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("threshold=%d", tt.threshold), func(t *testing.T) {
			res, err := Group(context.Background(), mustPool(t, 3), records, tt.threshold)
			if err != nil {
				t.Fatalf("Group: %v", err)
			}
			if got := groupPaths(res); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMergePairsTransitiveThroughMiddle(t *testing.T) {
	all := []PairDiff{
		{A: "A", B: "B", Distance: 50},
		{A: "B", B: "C", Distance: 50},
		{A: "A", B: "C", Distance: 9000},
	}
	var retained []PairDiff
	for _, p := range all {
		if Retained(p.Distance, 100) {
			retained = append(retained, p)
		}
	}
	if len(retained) != 2 {
		t.Fatalf("retained %d pairs, want 2", len(retained))
	}
	if got, want := MergePairs(retained), [][]string{{"A", "B", "C"}}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}
