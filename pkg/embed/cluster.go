package embed

import "sort"

const maxColdIterations = 25

// ClusterState is incremental k-means state owned by one SpanCache.
// Centroids persist across turns: when the requested k matches the
// previous fit, the existing centroids are nudged mini-batch style
// instead of refit from scratch, so the representative chosen for a
// stable topic does not flip between turns absent new evidence.
type ClusterState struct {
	centroids [][]float32
	counts    []int
	lastK     int
}

func NewClusterState() *ClusterState {
	return &ClusterState{}
}

func (cs *ClusterState) Reset() {
	cs.centroids = nil
	cs.counts = nil
	cs.lastK = 0
}

// Centroids returns a deep copy of the current centroid set for
// checkpointing.
func (cs *ClusterState) Centroids() [][]float32 {
	out := make([][]float32, len(cs.centroids))
	for i, c := range cs.centroids {
		out[i] = append([]float32(nil), c...)
	}
	return out
}

// Restore replaces cluster state with checkpointed centroids.
func (cs *ClusterState) Restore(centroids [][]float32) {
	cs.centroids = make([][]float32, len(centroids))
	cs.counts = make([]int, len(centroids))
	for i, c := range centroids {
		cs.centroids[i] = append([]float32(nil), c...)
		cs.counts[i] = 1
	}
	cs.lastK = len(centroids)
}

func (cs *ClusterState) nearest(vec []float32) int {
	best := 0
	bestDist := euclideanDistance(vec, cs.centroids[0])
	for i := 1; i < len(cs.centroids); i++ {
		d := euclideanDistance(vec, cs.centroids[i])
		if d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best
}

// Fit assigns every embedding to a cluster and returns the labels.
// Warm start: same k as last time runs one assignment-and-nudge pass.
// Cold start: deterministic farthest-point seeding plus Lloyd
// iterations until labels stabilize.
func (cs *ClusterState) Fit(embs [][]float32, k int) []int {
	n := len(embs)
	if n == 0 {
		return nil
	}
	if k > n {
		k = n
	}
	if k <= 0 {
		k = 1
	}

	if cs.lastK == k && len(cs.centroids) == k {
		return cs.partialFit(embs)
	}
	return cs.coldFit(embs, k)
}

func (cs *ClusterState) partialFit(embs [][]float32) []int {
	labels := make([]int, len(embs))
	for i, vec := range embs {
		c := cs.nearest(vec)
		labels[i] = c
		cs.counts[c]++
		step := float32(1.0 / float64(cs.counts[c]))
		for d := range cs.centroids[c] {
			if d < len(vec) {
				cs.centroids[c][d] += step * (vec[d] - cs.centroids[c][d])
			}
		}
	}
	return labels
}

func (cs *ClusterState) coldFit(embs [][]float32, k int) []int {
	n := len(embs)
	dims := len(embs[0])

	// Farthest-point seeding, starting from the first span. Deterministic
	// by construction, no RNG.
	seeds := []int{0}
	for len(seeds) < k {
		bestIdx, bestDist := -1, -1.0
		for i := 0; i < n; i++ {
			minDist := -1.0
			for _, s := range seeds {
				d := euclideanDistance(embs[i], embs[s])
				if minDist < 0 || d < minDist {
					minDist = d
				}
			}
			if minDist > bestDist {
				bestDist = minDist
				bestIdx = i
			}
		}
		seeds = append(seeds, bestIdx)
	}

	centroids := make([][]float32, k)
	for i, s := range seeds {
		centroids[i] = append([]float32(nil), embs[s]...)
	}

	labels := make([]int, n)
	for iter := 0; iter < maxColdIterations; iter++ {
		changed := false
		for i, vec := range embs {
			best := 0
			bestDist := euclideanDistance(vec, centroids[0])
			for c := 1; c < k; c++ {
				d := euclideanDistance(vec, centroids[c])
				if d < bestDist {
					best = c
					bestDist = d
				}
			}
			if labels[i] != best {
				labels[i] = best
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}

		sums := make([][]float64, k)
		counts := make([]int, k)
		for c := range sums {
			sums[c] = make([]float64, dims)
		}
		for i, vec := range embs {
			c := labels[i]
			counts[c]++
			for d := 0; d < dims && d < len(vec); d++ {
				sums[c][d] += float64(vec[d])
			}
		}
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				continue
			}
			for d := 0; d < dims; d++ {
				centroids[c][d] = float32(sums[c][d] / float64(counts[c]))
			}
		}
	}

	cs.centroids = centroids
	cs.counts = make([]int, k)
	for _, l := range labels {
		cs.counts[l]++
	}
	cs.lastK = k
	return labels
}

// SelectRepresentatives picks one span per cluster: nearest to the
// centroid, tilted toward later spans by recencyBias. Returned indices
// are sorted ascending.
func (cs *ClusterState) SelectRepresentatives(embs [][]float32, k int, recencyBias float64) []int {
	n := len(embs)
	if n == 0 {
		return nil
	}
	labels := cs.Fit(embs, k)
	if k > n {
		k = n
	}

	reps := make([]int, 0, k)
	for cid := 0; cid < len(cs.centroids); cid++ {
		members := make([]int, 0)
		for i, l := range labels {
			if l == cid {
				members = append(members, i)
			}
		}
		if len(members) == 0 {
			continue
		}

		dists := make([]float64, len(members))
		maxDist := 0.0
		for j, i := range members {
			dists[j] = euclideanDistance(embs[i], cs.centroids[cid])
			if dists[j] > maxDist {
				maxDist = dists[j]
			}
		}

		best := members[0]
		if recencyBias > 0 {
			bestScore := -1.0
			for j, i := range members {
				normDist := dists[j] / (maxDist + 1e-6)
				recency := float64(i) / float64(maxInt(1, n-1))
				score := (1-normDist)*(1-recencyBias) + recency*recencyBias
				if score > bestScore {
					bestScore = score
					best = i
				}
			}
		} else {
			bestDist := dists[0]
			for j, i := range members {
				if dists[j] < bestDist {
					bestDist = dists[j]
					best = i
				}
			}
		}
		reps = append(reps, best)
	}

	sort.Ints(reps)
	return reps
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
