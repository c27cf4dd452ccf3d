// Package suhi computes surface urban heat island intensity with propagated
// uncertainty.
package suhi

import (
	"math"

	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/uncertainty"
)

// z95 is the normal quantile for a two-sided 95% interval.
const z95 = 1.96

// Warnings set on a Result whose uncertainty could not be propagated.
const (
	WarnEmptyZone     = "insufficient sample: a zone has no valid pixels"
	WarnMissingStdDev = "standard deviation unavailable for a zone"
)

// Result is the heat-island intensity for one city, year and period.
// SE, CI95 and RelativeErrorPct are +Inf when either zone had no pixels or
// no standard deviation, and Warning says which.
type Result struct {
	UrbanMean        *float64
	RuralMean        *float64
	UrbanStd         *float64
	RuralStd         *float64
	UrbanPixels      int64
	RuralPixels      int64
	Intensity        float64
	SE               float64
	CI95             [2]float64
	RelativeErrorPct float64
	Warning          string
	// Step names the escalation step that produced the stats.
	Step string
}

// Compute derives SUHI = urban mean − rural mean and its propagated
// standard error √(seU² + seR²).
func Compute(urban, rural uncertainty.ZoneStats) Result {
	r := Result{
		UrbanMean:   urban.Mean,
		RuralMean:   rural.Mean,
		UrbanStd:    urban.StdDev,
		RuralStd:    rural.StdDev,
		UrbanPixels: urban.Count,
		RuralPixels: rural.Count,
		Intensity:   math.NaN(),
	}
	if urban.Mean != nil && rural.Mean != nil {
		r.Intensity = *urban.Mean - *rural.Mean
	}

	inf := math.Inf(1)
	seU, seR := urban.StdError(), rural.StdError()
	switch {
	case urban.Count <= 0 || rural.Count <= 0 || urban.Mean == nil || rural.Mean == nil:
		r.Warning = WarnEmptyZone
	case seU == nil || seR == nil:
		r.Warning = WarnMissingStdDev
	}
	if r.Warning != "" {
		r.SE = inf
		r.CI95 = [2]float64{inf, inf}
		r.RelativeErrorPct = inf
		return r
	}

	r.SE = math.Sqrt(*seU**seU + *seR**seR)
	r.CI95 = [2]float64{r.Intensity - z95*r.SE, r.Intensity + z95*r.SE}
	if r.Intensity == 0 {
		r.RelativeErrorPct = inf
	} else {
		r.RelativeErrorPct = r.SE / math.Abs(r.Intensity) * 100
	}
	return r
}

// DayNight compares daytime and nighttime intensity.
type DayNight struct {
	Day            float64
	Night          float64
	Difference     float64
	DayStronger    bool
	MagnitudeRatio float64
}

// CompareDayNight reports day − night, whether day exceeds night, and
// day/night (+Inf when night is 0).
func CompareDayNight(day, night float64) DayNight {
	d := DayNight{
		Day:         day,
		Night:       night,
		Difference:  day - night,
		DayStronger: day > night,
	}
	if night == 0 {
		d.MagnitudeRatio = math.Inf(1)
	} else {
		d.MagnitudeRatio = day / night
	}
	return d
}
