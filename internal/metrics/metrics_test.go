package metrics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPercentileBoundaries(t *testing.T) {
	samples := [][]float64{
		{5},
		{1, 2, 3, 4, 5},
		{250, 100, 900, 42, 7, 300},
	}
	for _, vals := range samples {
		minVal, maxVal := vals[0], vals[0]
		for _, v := range vals {
			minVal = math.Min(minVal, v)
			maxVal = math.Max(maxVal, v)
		}
		p0, ok := Percentile(vals, 0)
		assert.True(t, ok)
		assert.Equal(t, minVal, p0)
		p100, ok := Percentile(vals, 100)
		assert.True(t, ok)
		assert.Equal(t, maxVal, p100)
	}
}

func TestPercentileInterpolation(t *testing.T) {
	vals := []float64{10, 20, 30, 40}
	// k = 3 * 0.5 = 1.5 -> halfway between 20 and 30
	p50, ok := Percentile(vals, 50)
	assert.True(t, ok)
	assert.InDelta(t, 25.0, p50, 1e-9)

	// k = 3 * 0.25 = 0.75
	p25, ok := Percentile(vals, 25)
	assert.True(t, ok)
	assert.InDelta(t, 17.5, p25, 1e-9)
}

func TestPercentileIgnoresMissing(t *testing.T) {
	vals := []float64{math.NaN(), 100, math.NaN(), 200}
	p0, ok := Percentile(vals, 0)
	assert.True(t, ok)
	assert.Equal(t, 100.0, p0)

	_, ok = Percentile([]float64{math.NaN()}, 50)
	assert.False(t, ok)
	_, ok = Percentile(nil, 50)
	assert.False(t, ok)
}

func TestJitter(t *testing.T) {
	vals := []float64{100, 100, 100, 100}
	j, ok := Jitter(vals)
	assert.True(t, ok)
	assert.Equal(t, 0.0, j)

	_, ok = Jitter(nil)
	assert.False(t, ok)
}

func TestMissRateSingleSample(t *testing.T) {
	r, ok := MissRate([]float64{301}, 300)
	assert.True(t, ok)
	assert.Equal(t, 1.0, r)

	r, ok = MissRate([]float64{300}, 300)
	assert.True(t, ok)
	assert.Equal(t, 0.0, r)

	_, ok = MissRate([]float64{math.NaN()}, 300)
	assert.False(t, ok)
}

func TestMissRateMixed(t *testing.T) {
	r, ok := MissRate([]float64{100, 400, math.NaN(), 200, 500}, 300)
	assert.True(t, ok)
	assert.InDelta(t, 0.5, r, 1e-9)
}

func TestFreshnessRatio(t *testing.T) {
	r, ok := FreshnessRatio([]int{1, 1, 1, 0, 1, 0, 1, 0, 1, 0})
	assert.True(t, ok)
	assert.InDelta(t, 0.6, r, 1e-9)

	_, ok = FreshnessRatio(nil)
	assert.False(t, ok)
}
