package metrics

import (
	"math"
	"sort"
)

// Numeric helpers shared by the daily and summary calculators. Sample
// statistics use the ddof=1 convention, and statistics that are undefined
// for their inputs return NaN rather than zero so callers can map them to
// SQL NULL.

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// sampleStd returns the ddof=1 standard deviation, NaN for fewer than two
// observations.
func sampleStd(xs []float64) float64 {
	n := len(xs)
	if n < 2 {
		return math.NaN()
	}
	m := mean(xs)
	var ss float64
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(n-1))
}

// correlation returns the Pearson correlation of two equal-length series,
// NaN when either side has zero variance or fewer than two observations.
func correlation(xs, ys []float64) float64 {
	n := len(xs)
	if n != len(ys) || n < 2 {
		return math.NaN()
	}
	mx, my := mean(xs), mean(ys)
	var sxy, sxx, syy float64
	for i := range xs {
		dx, dy := xs[i]-mx, ys[i]-my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return math.NaN()
	}
	return sxy / math.Sqrt(sxx*syy)
}

// quantile returns the q-th quantile (0 <= q <= 1) using linear
// interpolation between the two nearest order statistics.
func quantile(xs []float64, q float64) float64 {
	n := len(xs)
	if n == 0 {
		return math.NaN()
	}
	sorted := make([]float64, n)
	copy(sorted, xs)
	sort.Float64s(sorted)
	if n == 1 {
		return sorted[0]
	}
	pos := q * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// skewness returns the biased sample skewness g1 = m3 / m2^1.5, NaN for
// empty input or zero variance.
func skewness(xs []float64) float64 {
	n := len(xs)
	if n == 0 {
		return math.NaN()
	}
	m := mean(xs)
	var m2, m3 float64
	for _, x := range xs {
		d := x - m
		m2 += d * d
		m3 += d * d * d
	}
	m2 /= float64(n)
	m3 /= float64(n)
	if m2 == 0 {
		return math.NaN()
	}
	return m3 / math.Pow(m2, 1.5)
}

// kurtosis returns the biased excess kurtosis g2 = m4 / m2^2 - 3 (Fisher
// definition, 0 for a normal distribution), NaN for empty input or zero
// variance.
func kurtosis(xs []float64) float64 {
	n := len(xs)
	if n == 0 {
		return math.NaN()
	}
	m := mean(xs)
	var m2, m4 float64
	for _, x := range xs {
		d := x - m
		d2 := d * d
		m2 += d2
		m4 += d2 * d2
	}
	m2 /= float64(n)
	m4 /= float64(n)
	if m2 == 0 {
		return math.NaN()
	}
	return m4/(m2*m2) - 3
}

// maxStreak returns the longest run of strictly positive (or, when positive
// is false, strictly negative) values. Zeros break runs of both kinds.
func maxStreak(xs []float64, positive bool) int {
	var longest, current int
	for _, x := range xs {
		if (positive && x > 0) || (!positive && x < 0) {
			current++
			continue
		}
		if current > longest {
			longest = current
		}
		current = 0
	}
	if current > longest {
		longest = current
	}
	return longest
}

// fptr returns a pointer to v, or nil when v is NaN. Undefined statistics
// surface as NULL in the store.
func fptr(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}
