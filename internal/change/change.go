// Package change compares analysis results between two years.
package change

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/raster"
)

// NoteUndefinedPercent is set when a percent change has no baseline.
const NoteUndefinedPercent = "percent change undefined: early value is not positive"

// NightLight is the change in mean radiance between two years.
type NightLight struct {
	FromYear int
	ToYear   int
	Early    *float64
	Late     *float64
	Absolute *float64
	Percent  *float64
	Note     string
}

// NightLights compares early and late mean radiance. Percent is only set
// when the early value is positive.
func NightLights(fromYear int, early *float64, toYear int, late *float64) NightLight {
	c := NightLight{FromYear: fromYear, ToYear: toYear, Early: early, Late: late}
	if early == nil || late == nil {
		c.Note = "radiance missing for one of the years"
		return c
	}
	abs := *late - *early
	c.Absolute = &abs
	if *early > 0 {
		pct := abs / *early * 100
		c.Percent = &pct
	} else {
		c.Note = NoteUndefinedPercent
	}
	return c
}

// AreaKm2 converts a pixel count at scale meters per pixel to square kilometers.
func AreaKm2(count int64, scale float64) float64 {
	return float64(count) * scale * scale / 1e6
}

// ClassArea is the area change of one land-cover class.
type ClassArea struct {
	Class     string
	StartKm2  float64
	EndKm2    float64
	ChangeKm2 float64
	// ChangePct is +Inf when the class was absent in the start year.
	ChangePct float64
}

// LandCoverChange is the per-class area change between two years.
type LandCoverChange struct {
	FromYear int
	ToYear   int
	Source   string
	Classes  map[string]ClassArea
	BuiltUp  ClassArea
}

// Snapshot is one year's class histogram (keyed by class code) from a
// single land-cover product.
type Snapshot struct {
	Year      int
	Source    string
	Histogram map[string]int64
}

// LandCover converts two class histograms into per-class areas and their
// change, labelled with the source's class scheme. Both snapshots must come
// from the same product since class codes are not comparable across products.
func LandCover(start, end Snapshot, scale float64) (LandCoverChange, error) {
	if scale <= 0 {
		return LandCoverChange{}, eris.Errorf("change: scale %g must be positive", scale)
	}
	if end.Year < start.Year {
		return LandCoverChange{}, eris.Errorf("change: end year %d before start year %d", end.Year, start.Year)
	}
	if start.Source != end.Source {
		return LandCoverChange{}, eris.Errorf("change: land cover from %s in %d is not comparable with %s in %d",
			start.Source, start.Year, end.Source, end.Year)
	}
	scheme, err := raster.SchemeFor(start.Source)
	if err != nil {
		return LandCoverChange{}, eris.Wrap(err, "change: land cover")
	}

	codes := make(map[string]bool, len(start.Histogram)+len(end.Histogram))
	for k := range start.Histogram {
		codes[k] = true
	}
	for k := range end.Histogram {
		codes[k] = true
	}
	keys := make([]string, 0, len(codes))
	for k := range codes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := LandCoverChange{FromYear: start.Year, ToYear: end.Year, Source: start.Source, Classes: make(map[string]ClassArea, len(keys))}
	for _, code := range keys {
		name := scheme.Name(code)
		a := out.Classes[name]
		a.Class = name
		a.StartKm2 += AreaKm2(start.Histogram[code], scale)
		a.EndKm2 += AreaKm2(end.Histogram[code], scale)
		out.Classes[name] = a
	}
	for name, a := range out.Classes {
		a.ChangeKm2 = a.EndKm2 - a.StartKm2
		switch {
		case a.StartKm2 > 0:
			a.ChangePct = a.ChangeKm2 / a.StartKm2 * 100
		case a.EndKm2 > 0:
			a.ChangePct = math.Inf(1)
		}
		out.Classes[name] = a
	}

	built := scheme.BuiltName()
	if a, ok := out.Classes[built]; ok {
		out.BuiltUp = a
	} else {
		out.BuiltUp = ClassArea{Class: built}
	}
	return out, nil
}
