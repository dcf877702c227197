// Package knapsack selects disjoint token spans to maximize value under
// a total token budget. Items are all-or-nothing. Two modes: a greedy
// value-density heuristic for the low-latency path, and an exact DP
// solver for offline use where optimality matters more than speed.
package knapsack

import "sort"

// Item is a candidate span: ID is the caller's index, length is
// End-Start (minimum 1), Value is the policy-specific score.
type Item struct {
	ID    int
	Start int
	End   int
	Value float64
}

func (it Item) length() int {
	n := it.End - it.Start
	if n < 1 {
		return 1
	}
	return n
}

// ChooseGreedy sorts by value per token descending and accepts items
// while budget remains. Returns selected IDs sorted ascending.
func ChooseGreedy(items []Item, budget int) []int {
	if len(items) == 0 || budget <= 0 {
		return nil
	}

	order := make([]int, len(items))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		da := items[order[a]].Value / float64(items[order[a]].length())
		db := items[order[b]].Value / float64(items[order[b]].length())
		return da > db
	})

	selected := make([]int, 0, len(items))
	total := 0
	for _, i := range order {
		size := items[i].length()
		if total+size <= budget {
			selected = append(selected, items[i].ID)
			total += size
		}
	}
	sort.Ints(selected)
	return selected
}

// ChooseExact solves the 0/1 knapsack exactly with dynamic programming,
// pseudo-polynomial in budget. Returns selected IDs sorted ascending.
func ChooseExact(items []Item, budget int) []int {
	if len(items) == 0 || budget <= 0 {
		return nil
	}

	n := len(items)
	dp := make([][]float64, n+1)
	for i := range dp {
		dp[i] = make([]float64, budget+1)
	}

	for i := 1; i <= n; i++ {
		size := items[i-1].length()
		value := items[i-1].Value
		for w := 0; w <= budget; w++ {
			dp[i][w] = dp[i-1][w]
			if size <= w && dp[i-1][w-size]+value > dp[i][w] {
				dp[i][w] = dp[i-1][w-size] + value
			}
		}
	}

	selected := make([]int, 0, n)
	w := budget
	for i := n; i > 0; i-- {
		if dp[i][w] != dp[i-1][w] {
			selected = append(selected, items[i-1].ID)
			w -= items[i-1].length()
		}
	}
	sort.Ints(selected)
	return selected
}

// PartitionBudget splits a total budget into integer shares by weight;
// the last share absorbs the rounding remainder.
func PartitionBudget(total int, weights ...float64) []int {
	if len(weights) == 0 {
		return nil
	}
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 {
		return make([]int, len(weights))
	}

	out := make([]int, len(weights))
	used := 0
	for i := 0; i < len(weights)-1; i++ {
		out[i] = int(float64(total) * weights[i] / sum)
		used += out[i]
	}
	out[len(weights)-1] = total - used
	return out
}
