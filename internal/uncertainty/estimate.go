// Package uncertainty turns zonal reductions into statistics with
// quantified uncertainty: standard errors, confidence intervals,
// variability and reliability ratings, and class-distribution entropy.
package uncertainty

import "math"

// ZoneStats is the {mean, stdDev, count} aggregate of one raster over one
// zone. Mean and StdDev are nil when Count is 0.
type ZoneStats struct {
	Mean   *float64
	StdDev *float64
	Count  int64
}

// StdError returns stdDev/√count, or nil when it is undefined.
func (s ZoneStats) StdError() *float64 {
	if s.Count <= 0 || s.StdDev == nil {
		return nil
	}
	se := *s.StdDev / math.Sqrt(float64(s.Count))
	return &se
}

// Variability levels for the coefficient of variation.
const (
	VariabilityLow      = "low"
	VariabilityModerate = "moderate"
	VariabilityHigh     = "high"
)

// Reliability ratings by sample size.
const (
	ReliabilityHigh     = "high"
	ReliabilityModerate = "moderate"
	ReliabilityLow      = "low"
)

// Estimate is the uncertainty derived from a ZoneStats value.
type Estimate struct {
	StdError               *float64
	CI95                   *[2]float64
	CoefficientOfVariation *float64
	VariabilityLevel       string
	DegreesOfFreedom       int64
	Reliability            string
	// Multiplier is the half-width factor applied to the standard error.
	Multiplier float64
}

// Multiplier is the 95% interval factor for a sample of count pixels.
// Samples of 30 or more use the normal 1.96. Smaller samples use a
// conservative t approximation: 2.0 below 15 pixels, 1.8 otherwise. These
// are not exact t quantiles.
func Multiplier(count int64) float64 {
	switch {
	case count >= 30:
		return 1.96
	case count < 15:
		return 2.0
	default:
		return 1.8
	}
}

// Reliability rates a sample size: high from 30, moderate from 10, else low.
func Reliability(count int64) string {
	switch {
	case count >= 30:
		return ReliabilityHigh
	case count >= 10:
		return ReliabilityModerate
	default:
		return ReliabilityLow
	}
}

// Variability buckets a coefficient of variation.
func Variability(cv float64) string {
	switch {
	case cv < 0.1:
		return VariabilityLow
	case cv < 0.3:
		return VariabilityModerate
	default:
		return VariabilityHigh
	}
}

// Derive computes the uncertainty estimate for s.
func Derive(s ZoneStats) Estimate {
	e := Estimate{
		Reliability: Reliability(s.Count),
		Multiplier:  Multiplier(s.Count),
	}
	if s.Count > 0 {
		e.DegreesOfFreedom = s.Count - 1
	}

	e.StdError = s.StdError()
	if e.StdError != nil && s.Mean != nil {
		half := e.Multiplier * *e.StdError
		e.CI95 = &[2]float64{*s.Mean - half, *s.Mean + half}
	}

	if s.Mean != nil && s.StdDev != nil && *s.Mean != 0 {
		cv := math.Abs(*s.StdDev / *s.Mean)
		e.CoefficientOfVariation = &cv
		e.VariabilityLevel = Variability(cv)
	}
	return e
}
