package brief

import "sort"

const (
	// Geometric decay applied to sorted scores. The ratio between
	// consecutive weights (10) exceeds the score range, so one higher score
	// always dominates any combination of strictly lower ones. That only
	// holds while scores stay in a small bounded integer range.
	scoreDecayFactor = 0.10

	// Remaining terms contribute nothing once weights fall this low.
	scoreEarlyExit = 1e-6
)

// CalculateRelevanceScore ranks an entity report by aggregate importance:
// scores sorted descending, the i-th weighted by decay^i, summed.
//
// CalculateRelevanceScore([]int{3, 8, 5}) == 8.53 regardless of input order.
func CalculateRelevanceScore(scores []int) float64 {
	if len(scores) == 0 {
		return 0.0
	}

	sorted := make([]int, len(scores))
	copy(sorted, scores)
	sort.Sort(sort.Reverse(sort.IntSlice(sorted)))

	total := 0.0
	weight := 1.0
	for _, s := range sorted {
		total += float64(s) * weight
		weight *= scoreDecayFactor
		if weight < scoreEarlyExit {
			break
		}
	}
	return total
}
