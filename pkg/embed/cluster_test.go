package embed

import (
	"context"
	"testing"
)

// threeGroups returns embeddings for nine texts in three clearly
// separated topical groups, three texts per group.
func threeGroups(t *testing.T) ([][]float32, []string) {
	t.Helper()
	// The first text of each group is the bare base phrase, so it sits
	// closest to its group centroid by a clear margin.
	texts := []string{
		"database schema migration for the billing tables",
		"database schema migration for the billing tables with extra index rebuild",
		"database schema migration for the billing tables plus vacuum pass",
		"frontend dashboard layout and navigation",
		"frontend dashboard layout and navigation with widget styling",
		"frontend dashboard layout and navigation plus chart polish",
		"kubernetes node pool upgrade and rotation",
		"kubernetes node pool upgrade and rotation with drain steps",
		"kubernetes node pool upgrade and rotation plus scale out",
	}
	e := NewChargramEmbedder(128)
	embs, err := e.EncodeBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return embs, texts
}

func groupOf(i int) int { return i / 3 }

func TestFitSeparatesObviousGroups(t *testing.T) {
	embs, _ := threeGroups(t)
	cs := NewClusterState()
	labels := cs.Fit(embs, 3)

	// All members of a group share a label, and groups get distinct labels.
	for g := 0; g < 3; g++ {
		base := labels[g*3]
		for i := g*3 + 1; i < g*3+3; i++ {
			if labels[i] != base {
				t.Fatalf("group %d split: labels %v", g, labels)
			}
		}
	}
	if labels[0] == labels[3] || labels[3] == labels[6] || labels[0] == labels[6] {
		t.Fatalf("groups collapsed: labels %v", labels)
	}
}

func TestFitIsDeterministic(t *testing.T) {
	embs, _ := threeGroups(t)
	a := NewClusterState().Fit(embs, 3)
	b := NewClusterState().Fit(embs, 3)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("cold fit not deterministic: %v vs %v", a, b)
		}
	}
}

func TestSelectRepresentativesOnePerGroup(t *testing.T) {
	embs, _ := threeGroups(t)
	cs := NewClusterState()
	reps := cs.SelectRepresentatives(embs, 3, 0)
	if len(reps) != 3 {
		t.Fatalf("expected 3 representatives, got %v", reps)
	}
	seen := map[int]bool{}
	for _, r := range reps {
		if seen[groupOf(r)] {
			t.Fatalf("two representatives from one group: %v", reps)
		}
		seen[groupOf(r)] = true
	}
}

// Warm start: a near-duplicate added to one group must not flip the
// representatives chosen for the other groups.
func TestWarmStartStableUnderJitter(t *testing.T) {
	embs, texts := threeGroups(t)
	cs := NewClusterState()
	before := cs.SelectRepresentatives(embs, 3, 0)

	dup := texts[0] + " again"
	e := NewChargramEmbedder(128)
	dupEmbs, err := e.EncodeBatch(context.Background(), []string{dup})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	jittered := append(append([][]float32{}, embs...), dupEmbs[0])

	after := cs.SelectRepresentatives(jittered, 3, 0)
	if len(after) != 3 {
		t.Fatalf("expected 3 representatives, got %v", after)
	}

	groupRep := func(reps []int, g int) int {
		for _, r := range reps {
			if r < 9 && groupOf(r) == g {
				return r
			}
		}
		return -1
	}
	for _, g := range []int{1, 2} {
		if groupRep(before, g) != groupRep(after, g) {
			t.Fatalf("jitter in group 0 flipped group %d: before %v, after %v", g, before, after)
		}
	}
}

func TestCentroidsRoundTrip(t *testing.T) {
	embs, _ := threeGroups(t)
	cs := NewClusterState()
	cs.Fit(embs, 3)

	saved := cs.Centroids()
	if len(saved) != 3 {
		t.Fatalf("expected 3 centroids, got %d", len(saved))
	}

	restored := NewClusterState()
	restored.Restore(saved)
	a := cs.Fit(embs, 3)
	b := restored.Fit(embs, 3)
	// Both run the warm path over the same centroids, so assignments
	// must agree.
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("restored state diverges: %v vs %v", a, b)
		}
	}
}

func TestFitClampsK(t *testing.T) {
	embs, _ := threeGroups(t)
	cs := NewClusterState()
	labels := cs.Fit(embs[:2], 5)
	if len(labels) != 2 {
		t.Fatalf("expected 2 labels, got %v", labels)
	}
	for _, l := range labels {
		if l < 0 || l >= 2 {
			t.Fatalf("label out of range: %v", labels)
		}
	}
	if NewClusterState().Fit(nil, 3) != nil {
		t.Fatal("empty input should return nil labels")
	}
}
