// Package metrics holds the pure latency statistics used to verify the
// collector's deadline and freshness guarantees. All functions report
// ok == false when there is no usable data; NaN marks a missing sample.
package metrics

import (
	"math"
	"sort"
)

func compact(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

// Percentile returns the p-th percentile of values using linear interpolation
// between the two bracketing order statistics. p <= 0 returns the minimum,
// p >= 100 the maximum.
func Percentile(values []float64, p float64) (float64, bool) {
	vals := compact(values)
	if len(vals) == 0 {
		return 0, false
	}
	sort.Float64s(vals)
	if p <= 0 {
		return vals[0], true
	}
	if p >= 100 {
		return vals[len(vals)-1], true
	}
	k := float64(len(vals)-1) * (p / 100.0)
	f := int(k)
	c := f + 1
	if c > len(vals)-1 {
		c = len(vals) - 1
	}
	if f == c {
		return vals[f], true
	}
	d := k - float64(f)
	return vals[f] + (vals[c]-vals[f])*d, true
}

// Jitter is the p99-p50 spread of the samples.
func Jitter(values []float64) (float64, bool) {
	p50, ok50 := Percentile(values, 50)
	p99, ok99 := Percentile(values, 99)
	if !ok50 || !ok99 {
		return 0, false
	}
	return p99 - p50, true
}

// MissRate is the fraction of samples strictly above the deadline.
func MissRate(values []float64, deadlineMs float64) (float64, bool) {
	vals := compact(values)
	if len(vals) == 0 {
		return 0, false
	}
	misses := 0
	for _, v := range vals {
		if v > deadlineMs {
			misses++
		}
	}
	return float64(misses) / float64(len(vals)), true
}

// FreshnessRatio is the fraction of flags equal to 1.
func FreshnessRatio(flags []int) (float64, bool) {
	if len(flags) == 0 {
		return 0, false
	}
	fresh := 0
	for _, f := range flags {
		if f == 1 {
			fresh++
		}
	}
	return float64(fresh) / float64(len(flags)), true
}
