package frame

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary statistics over present values. The boolean result is false when
// there are too few values for the statistic.

// Mean returns the arithmetic mean
func Mean(x []float64) (float64, bool) {
	if len(x) == 0 {
		return 0, false
	}
	return stat.Mean(x, nil), true
}

// StdDev returns the sample standard deviation (n-1)
func StdDev(x []float64) (float64, bool) {
	if len(x) < 2 {
		return 0, false
	}
	return stat.StdDev(x, nil), true
}

// Variance returns the sample variance (n-1)
func Variance(x []float64) (float64, bool) {
	if len(x) < 2 {
		return 0, false
	}
	return stat.Variance(x, nil), true
}

// Min returns the smallest value
func Min(x []float64) (float64, bool) {
	if len(x) == 0 {
		return 0, false
	}
	return floats.Min(x), true
}

// Max returns the largest value
func Max(x []float64) (float64, bool) {
	if len(x) == 0 {
		return 0, false
	}
	return floats.Max(x), true
}

// Sum returns the total; the sum of no values is zero
func Sum(x []float64) float64 {
	return floats.Sum(x)
}

// Skew returns the sample skewness
func Skew(x []float64) (float64, bool) {
	if len(x) < 3 {
		return 0, false
	}
	return stat.Skew(x, nil), true
}

// Median returns the 0.5 quantile
func Median(x []float64) (float64, bool) {
	return Quantile(x, 0.5)
}

// Quantile returns the q-th quantile using linear interpolation between
// closest ranks, the estimator used by pandas and numpy by default.
func Quantile(x []float64, q float64) (float64, bool) {
	if len(x) == 0 || q < 0 || q > 1 || math.IsNaN(q) {
		return 0, false
	}
	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)

	h := float64(len(sorted)-1) * q
	lo := math.Floor(h)
	hi := math.Ceil(h)
	return sorted[int(lo)] + (h-lo)*(sorted[int(hi)]-sorted[int(lo)]), true
}

// Correlation returns the Pearson correlation of the pairs where both
// values are present.
func Correlation(x, y []float64) (float64, bool) {
	var xs, ys []float64
	for i := range x {
		if math.IsNaN(x[i]) || math.IsNaN(y[i]) {
			continue
		}
		xs = append(xs, x[i])
		ys = append(ys, y[i])
	}
	if len(xs) < 2 {
		return 0, false
	}
	r := stat.Correlation(xs, ys, nil)
	if math.IsNaN(r) {
		return 0, false
	}
	return r, true
}
