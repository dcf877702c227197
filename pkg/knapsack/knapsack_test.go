package knapsack

import "testing"

func items(lengths []int, values []float64) []Item {
	out := make([]Item, len(lengths))
	pos := 0
	for i := range lengths {
		out[i] = Item{ID: i, Start: pos, End: pos + lengths[i], Value: values[i]}
		pos += lengths[i]
	}
	return out
}

func totalLength(its []Item, ids []int) int {
	sum := 0
	for _, id := range ids {
		sum += its[id].length()
	}
	return sum
}

func totalValue(its []Item, ids []int) float64 {
	sum := 0.0
	for _, id := range ids {
		sum += its[id].Value
	}
	return sum
}

// bruteForce enumerates every subset; only usable for tiny inputs.
func bruteForce(its []Item, budget int) float64 {
	best := 0.0
	n := len(its)
	for mask := 0; mask < 1<<n; mask++ {
		size, value := 0, 0.0
		for i := 0; i < n; i++ {
			if mask&(1<<i) != 0 {
				size += its[i].length()
				value += its[i].Value
			}
		}
		if size <= budget && value > best {
			best = value
		}
	}
	return best
}

func TestChooseExactMatchesBruteForce(t *testing.T) {
	cases := []struct {
		lengths []int
		values  []float64
		budget  int
	}{
		{[]int{3, 4, 5}, []float64{4, 5, 6}, 7},
		{[]int{2, 2, 2, 2}, []float64{1, 9, 3, 7}, 4},
		{[]int{5, 4, 3, 2, 1}, []float64{10, 40, 30, 50, 5}, 10},
		{[]int{8}, []float64{3}, 4},
	}
	for i, tc := range cases {
		its := items(tc.lengths, tc.values)
		chosen := ChooseExact(its, tc.budget)
		if got, want := totalValue(its, chosen), bruteForce(its, tc.budget); got != want {
			t.Errorf("case %d: exact value %v, brute force %v", i, got, want)
		}
		if totalLength(its, chosen) > tc.budget {
			t.Errorf("case %d: exact selection over budget", i)
		}
	}
}

func TestChooseGreedyRespectsBudget(t *testing.T) {
	its := items([]int{5, 4, 3, 2, 1}, []float64{10, 40, 30, 50, 5})
	budget := 10
	chosen := ChooseGreedy(its, budget)
	if totalLength(its, chosen) > budget {
		t.Fatalf("greedy selection over budget: %v", chosen)
	}
	if len(chosen) == 0 {
		t.Fatal("greedy should select something within budget")
	}
	for i := 1; i < len(chosen); i++ {
		if chosen[i] <= chosen[i-1] {
			t.Fatalf("IDs must be sorted ascending: %v", chosen)
		}
	}
}

func TestChooseGreedyNeverBeatsExact(t *testing.T) {
	its := items([]int{3, 3, 3, 4, 6}, []float64{7, 6, 5, 9, 13})
	for budget := 1; budget <= 20; budget++ {
		greedy := totalValue(its, ChooseGreedy(its, budget))
		exact := totalValue(its, ChooseExact(its, budget))
		if greedy > exact {
			t.Fatalf("budget %d: greedy %v beat exact %v", budget, greedy, exact)
		}
	}
}

func TestChooseEmptyAndZeroBudget(t *testing.T) {
	its := items([]int{2}, []float64{5})
	if got := ChooseGreedy(nil, 10); got != nil {
		t.Fatalf("empty items: %v", got)
	}
	if got := ChooseGreedy(its, 0); got != nil {
		t.Fatalf("zero budget: %v", got)
	}
	if got := ChooseExact(its, 0); got != nil {
		t.Fatalf("zero budget exact: %v", got)
	}
}

func TestZeroLengthItemCountsAsOne(t *testing.T) {
	its := []Item{{ID: 0, Start: 5, End: 5, Value: 1}}
	chosen := ChooseExact(its, 1)
	if len(chosen) != 1 {
		t.Fatalf("degenerate span should cost 1 token: %v", chosen)
	}
}

func TestPartitionBudget(t *testing.T) {
	shares := PartitionBudget(100, 0.5, 0.3, 0.2)
	if len(shares) != 3 {
		t.Fatalf("expected 3 shares, got %v", shares)
	}
	if shares[0]+shares[1]+shares[2] != 100 {
		t.Fatalf("shares must sum to the total: %v", shares)
	}
	if shares[0] != 50 || shares[1] != 30 {
		t.Fatalf("unexpected shares: %v", shares)
	}

	if got := PartitionBudget(10); got != nil {
		t.Fatalf("no weights: %v", got)
	}
	zeros := PartitionBudget(10, 0, 0)
	if zeros[0] != 0 || zeros[1] != 0 {
		t.Fatalf("zero weights should yield zero shares: %v", zeros)
	}
}
