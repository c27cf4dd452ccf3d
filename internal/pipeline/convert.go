package pipeline

import (
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/change"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/fragment"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/model"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/suhi"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/trend"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/uncertainty"
)

func statsDTO(s uncertainty.ZoneStats) *model.Stats {
	return &model.Stats{Mean: model.OptPtr(s.Mean), StdDev: model.OptPtr(s.StdDev), Count: s.Count}
}

func estimateDTO(e uncertainty.Estimate) *model.Uncertainty {
	u := &model.Uncertainty{
		StdError:               model.OptPtr(e.StdError),
		CoefficientOfVariation: model.OptPtr(e.CoefficientOfVariation),
		VariabilityLevel:       e.VariabilityLevel,
		DegreesOfFreedom:       e.DegreesOfFreedom,
		Reliability:            e.Reliability,
		Multiplier:             model.Float(e.Multiplier),
	}
	if e.CI95 != nil {
		ci := model.NewInterval(e.CI95[0], e.CI95[1])
		u.CI95 = &ci
	}
	return u
}

func zonesDTO(outcomes map[string]uncertainty.ZoneOutcome) map[string]model.ZoneResult {
	out := make(map[string]model.ZoneResult, len(outcomes))
	for name, o := range outcomes {
		if !o.OK {
			out[name] = model.ZoneResult{Error: o.Err.Error()}
			continue
		}
		out[name] = model.ZoneResult{OK: true, Stats: statsDTO(o.Stats), Uncertainty: estimateDTO(o.Estimate)}
	}
	return out
}

func suhiDTO(r suhi.Result) *model.SUHI {
	return &model.SUHI{
		Intensity:        model.Float(r.Intensity),
		SE:               model.Float(r.SE),
		CI95:             model.NewInterval(r.CI95[0], r.CI95[1]),
		RelativeErrorPct: model.Float(r.RelativeErrorPct),
		UrbanMean:        model.OptPtr(r.UrbanMean),
		RuralMean:        model.OptPtr(r.RuralMean),
		UrbanStdDev:      model.OptPtr(r.UrbanStd),
		RuralStdDev:      model.OptPtr(r.RuralStd),
		UrbanPixels:      r.UrbanPixels,
		RuralPixels:      r.RuralPixels,
	}
}

func dayNightDTO(d suhi.DayNight) *model.DayNight {
	return &model.DayNight{
		Day:            model.Float(d.Day),
		Night:          model.Float(d.Night),
		Difference:     model.Float(d.Difference),
		DayStronger:    d.DayStronger,
		MagnitudeRatio: model.Float(d.MagnitudeRatio),
	}
}

func categoricalDTO(d uncertainty.Distribution) *model.Categorical {
	return &model.Categorical{
		Histogram:   d.Histogram,
		Proportions: d.Proportions,
		Entropy:     model.Float(d.Entropy),
		Total:       d.Total,
		Source:      d.Source,
	}
}

// TrendDTO converts a fitted trend into its record form.
func TrendDTO(r trend.Result) *model.Trend {
	return &model.Trend{
		Slope:            model.Float(r.Slope),
		Intercept:        model.Float(r.Intercept),
		RSquared:         model.Float(r.RSquared),
		PValue:           model.OptPtr(r.PValue),
		TStatistic:       model.Float(r.TStatistic),
		TCritical:        model.Float(r.TCritical),
		IsSignificant:    r.IsSignificant,
		CI95:             model.NewInterval(r.CI95[0], r.CI95[1]),
		SlopeStdErr:      model.Float(r.SlopeStdErr),
		DegreesOfFreedom: r.DegreesOfFreedom,
		Direction:        r.Direction,
		Interpretation:   r.Interpretation,
		CumulativeChange: model.Float(r.CumulativeChange),
		N:                r.N,
		FirstYear:        r.FirstYear,
		LastYear:         r.LastYear,
		Method:           r.Method,
	}
}

func nightLightDTO(c change.NightLight) *model.Change {
	return &model.Change{
		FromYear: c.FromYear,
		ToYear:   c.ToYear,
		Early:    model.OptPtr(c.Early),
		Late:     model.OptPtr(c.Late),
		Absolute: model.OptPtr(c.Absolute),
		Percent:  model.OptPtr(c.Percent),
	}
}

func landCoverDTO(c change.LandCoverChange) *model.Change {
	classes := make(map[string]model.ClassChange, len(c.Classes))
	for name, a := range c.Classes {
		classes[name] = model.ClassChange{
			StartKm2:  model.Float(a.StartKm2),
			EndKm2:    model.Float(a.EndKm2),
			ChangeKm2: model.Float(a.ChangeKm2),
			ChangePct: model.Float(a.ChangePct),
		}
	}
	return &model.Change{
		FromYear:     c.FromYear,
		ToYear:       c.ToYear,
		Source:       c.Source,
		Classes:      classes,
		BuiltUpDelta: model.Ptr(c.BuiltUp.ChangeKm2),
		BuiltUpLabel: c.BuiltUp.Class,
	}
}

func patchesDTO(p fragment.Patches) model.Patches {
	return model.Patches{
		Count:        p.Count,
		TotalAreaM2:  model.Float(p.TotalAreaM2),
		MeanAreaM2:   model.Float(p.MeanAreaM2),
		MedianAreaM2: model.Float(p.MedianAreaM2),
		EdgeDensity:  model.Float(p.EdgeDensity),
		IsolationM:   model.OptPtr(p.IsolationM),
	}
}

func fragmentationDTO(r fragment.Result) *model.Fragmentation {
	return &model.Fragmentation{
		Source:     r.Source,
		RegionKm2:  model.Float(r.RegionKm2),
		Built:      patchesDTO(r.Built),
		Vegetation: patchesDTO(r.Vegetation),
	}
}
