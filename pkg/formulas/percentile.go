package formulas

import (
	"fmt"
	"math"
	"sort"
)

// Percentile returns the p-th percentile (0..100) of data using linear interpolation
// between the two closest order statistics: rank = p/100 * (n-1).
// The input is not modified.
func Percentile(data []float64, p float64) (float64, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("percentile of empty sample")
	}
	if math.IsNaN(p) || p < 0 || p > 100 {
		return 0, fmt.Errorf("percentile %v out of range [0, 100]", p)
	}

	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)

	return PercentileSorted(sorted, p), nil
}

// PercentileSorted is Percentile for data already sorted ascending.
// p must be within [0, 100] and sorted must be non-empty.
func PercentileSorted(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}

	rank := p / 100 * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}

	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
