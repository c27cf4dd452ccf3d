package trend

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// TDistribution supplies critical values and p-values for Student's t.
// An Analyzer uses exactly one implementation for its lifetime.
type TDistribution interface {
	Name() string
	// Critical returns the two-sided critical value at the given confidence level.
	Critical(df int, level float64) float64
	// PValue returns the two-sided p-value for t, or false when unavailable.
	PValue(t float64, df int) (float64, bool)
}

// Exact uses the Student's t distribution from gonum.
type Exact struct{}

func (Exact) Name() string { return "exact" }

func (Exact) Critical(df int, level float64) float64 {
	d := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(df)}
	return d.Quantile(1 - (1-level)/2)
}

func (Exact) PValue(t float64, df int) (float64, bool) {
	if math.IsNaN(t) {
		return 0, false
	}
	d := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(df)}
	p := 2 * d.Survival(math.Abs(t))
	return math.Min(p, 1), true
}

// Approximate uses a small table of 95% critical values and a flat 2.0 for
// other levels. It does not produce p-values.
type Approximate struct{}

func (Approximate) Name() string { return "approximate" }

func (Approximate) Critical(df int, level float64) float64 {
	if level != 0.95 {
		return 2.0
	}
	switch {
	case df < 5:
		return 2.306
	case df < 10:
		return 2.228
	default:
		return 2.0
	}
}

func (Approximate) PValue(float64, int) (float64, bool) { return 0, false }

// ByName returns the distribution strategy for a configuration value.
func ByName(name string) (TDistribution, bool) {
	switch name {
	case "", "exact":
		return Exact{}, true
	case "approximate":
		return Approximate{}, true
	}
	return nil, false
}
