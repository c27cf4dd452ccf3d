package trend

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApproximateBoundary(t *testing.T) {
	a := NewAnalyzer(Approximate{}, 0.95)

	crit, sig := a.Test(2.30, 4)
	assert.Equal(t, 2.306, crit)
	assert.False(t, sig)

	_, sig = a.Test(2.31, 4)
	assert.True(t, sig)

	_, sig = a.Test(-2.31, 4)
	assert.True(t, sig)
}

func TestApproximateTable(t *testing.T) {
	d := Approximate{}
	assert.Equal(t, 2.306, d.Critical(1, 0.95))
	assert.Equal(t, 2.306, d.Critical(4, 0.95))
	assert.Equal(t, 2.228, d.Critical(5, 0.95))
	assert.Equal(t, 2.228, d.Critical(9, 0.95))
	assert.Equal(t, 2.0, d.Critical(10, 0.95))
	assert.Equal(t, 2.0, d.Critical(3, 0.9))

	_, ok := d.PValue(3, 4)
	assert.False(t, ok)
}

func TestExactDistribution(t *testing.T) {
	d := Exact{}
	assert.InDelta(t, 2.776, d.Critical(4, 0.95), 1e-3)
	assert.InDelta(t, 2.228, d.Critical(10, 0.95), 1e-3)
	assert.InDelta(t, 1.812, d.Critical(10, 0.90), 1e-3)

	p, ok := d.PValue(2.776445, 4)
	require.True(t, ok)
	assert.InDelta(t, 0.05, p, 1e-4)

	p, ok = d.PValue(0, 6)
	require.True(t, ok)
	assert.InDelta(t, 1.0, p, 1e-12)

	p, ok = d.PValue(math.Inf(1), 6)
	require.True(t, ok)
	assert.Equal(t, 0.0, p)
}

func TestTestRejectsNoDegreesOfFreedom(t *testing.T) {
	a := NewAnalyzer(nil, 0)
	crit, sig := a.Test(100, 0)
	assert.Equal(t, 0.0, crit)
	assert.False(t, sig)
	assert.Equal(t, "exact", a.Method())
}

func TestFitExactLine(t *testing.T) {
	var pts []Point
	for y := 2015; y <= 2024; y++ {
		pts = append(pts, Point{Year: y, Value: 2*float64(y) + 5})
	}

	r := NewAnalyzer(Exact{}, 0.95).Fit(pts)
	require.False(t, r.Insufficient)
	assert.InDelta(t, 2.0, r.Slope, 1e-9)
	assert.InDelta(t, 5.0, r.Intercept, 1e-5)
	assert.InDelta(t, 1.0, r.RSquared, 1e-12)
	assert.True(t, r.IsSignificant)
	require.NotNil(t, r.PValue)
	assert.Less(t, *r.PValue, 1e-6)
	assert.Equal(t, 8, r.DegreesOfFreedom)
	assert.Equal(t, Increasing, r.Direction)
	assert.InDelta(t, 18.0, r.CumulativeChange, 1e-9)
}

func TestFitWarmingSeries(t *testing.T) {
	noise := []float64{0.01, -0.01, 0.01, -0.01, 0.01, -0.01, 0.01, -0.01}
	var pts []Point
	for i := range 8 {
		pts = append(pts, Point{Year: 2016 + i, Value: 30 + 0.05*float64(i) + noise[i]})
	}

	for _, dist := range []TDistribution{Exact{}, Approximate{}} {
		t.Run(dist.Name(), func(t *testing.T) {
			r := NewAnalyzer(dist, 0.95).Fit(pts)
			require.False(t, r.Insufficient)
			assert.InDelta(t, 0.05, r.Slope, 0.002)
			assert.Equal(t, Increasing, r.Direction)
			assert.Equal(t, "moderate increasing", r.Interpretation)
			assert.True(t, r.IsSignificant)
			assert.InDelta(t, 0.35, r.CumulativeChange, 0.01)
			assert.Equal(t, 6, r.DegreesOfFreedom)
			assert.Equal(t, 2016, r.FirstYear)
			assert.Equal(t, 2023, r.LastYear)
			assert.Less(t, r.CI95[0], r.Slope)
			assert.Greater(t, r.CI95[1], r.Slope)
			assert.Equal(t, dist.Name(), r.Method)
		})
	}
}

func TestFitPValueOnlyWhenExact(t *testing.T) {
	pts := []Point{{2016, 1.2}, {2017, 0.9}, {2018, 1.5}, {2019, 1.1}, {2020, 1.4}}
	assert.NotNil(t, NewAnalyzer(Exact{}, 0.95).Fit(pts).PValue)
	assert.Nil(t, NewAnalyzer(Approximate{}, 0.95).Fit(pts).PValue)
}

func TestFitInsufficient(t *testing.T) {
	a := NewAnalyzer(Exact{}, 0.95)
	tests := []struct {
		name string
		pts  []Point
	}{
		{"empty", nil},
		{"one point", []Point{{2020, 1}}},
		{"two points", []Point{{2019, 1}, {2020, 2}}},
		{"non-finite dropped", []Point{{2018, math.NaN()}, {2019, 1}, {2020, math.Inf(1)}}},
		{"single year", []Point{{2020, 1}, {2020, 2}, {2020, 3}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := a.Fit(tt.pts)
			assert.True(t, r.Insufficient)
			assert.Equal(t, ReasonInsufficientData, r.Reason)
			assert.False(t, r.IsSignificant)
		})
	}
}

func TestFitFlatSeries(t *testing.T) {
	r := NewAnalyzer(Exact{}, 0.95).Fit([]Point{{2016, 3}, {2017, 3}, {2018, 3}, {2019, 3}})
	require.False(t, r.Insufficient)
	assert.Equal(t, 0.0, r.TStatistic)
	assert.False(t, r.IsSignificant)
	assert.Equal(t, Stable, r.Direction)
	assert.Equal(t, "minimal change", r.Interpretation)
	assert.Equal(t, 0.0, r.RSquared)
}

func TestFitUnsortedInput(t *testing.T) {
	r := NewAnalyzer(Exact{}, 0.95).Fit([]Point{{2020, 1.0}, {2016, 2.0}, {2018, 1.5}, {2017, 1.8}})
	assert.Equal(t, 2016, r.FirstYear)
	assert.Equal(t, 2020, r.LastYear)
	assert.Equal(t, Decreasing, r.Direction)
	assert.Less(t, r.CumulativeChange, 0.0)
}

func TestInterpret(t *testing.T) {
	assert.Equal(t, "strong increasing", interpret(0.2))
	assert.Equal(t, "moderate increasing", interpret(0.05))
	assert.Equal(t, "minimal change", interpret(0.005))
	assert.Equal(t, "minimal change", interpret(-0.01))
	assert.Equal(t, "moderate decreasing", interpret(-0.05))
	assert.Equal(t, "strong decreasing", interpret(-0.5))
}

func TestByName(t *testing.T) {
	d, ok := ByName("approximate")
	require.True(t, ok)
	assert.Equal(t, "approximate", d.Name())

	d, ok = ByName("")
	require.True(t, ok)
	assert.Equal(t, "exact", d.Name())

	_, ok = ByName("bayesian")
	assert.False(t, ok)
}
