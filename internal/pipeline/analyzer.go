// Package pipeline runs the per city-year analyses and the batch driver that
// fans them out across cities.
package pipeline

import (
	"context"
	"errors"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/change"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/ensemble"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/fragment"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/model"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/raster"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/reduce"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/suhi"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/trend"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/uncertainty"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/zone"
)

// Catalog datasets.
const (
	DatasetLST         = "lst"
	DatasetNightLights = "night_lights"
	DatasetVegetation  = "vegetation"
	DatasetAirQuality  = "air_quality"
)

// Temperature periods.
const (
	PeriodDay   = "day"
	PeriodNight = "night"
)

// Catalog resolves the rasters available for a city and year. A missing
// raster is reported as a *model.MissingInputError.
type Catalog interface {
	Image(ctx context.Context, city string, year int, dataset, period string) (raster.Image, error)
	Classifications(ctx context.Context, city string, year int) ([]raster.Image, error)
}

// Settings are the analysis parameters shared by every city.
type Settings struct {
	LSTScale        float64
	NightLightScale float64
	VegetationScale float64
	LandCoverScale  float64
	AirQualityScale float64
	RuralBufferKM   float64
	ErosionM        float64
	// Pollutants are the Sentinel-5P products analysed per year, requested
	// from the catalog as periods of the air quality dataset.
	Pollutants []string
}

// DefaultSettings returns 1 km LST, 500 m night lights, 250 m vegetation,
// 100 m land cover and 7.5 km air quality for every pollutant, with a 25 km
// rural ring and 100 m erosion.
func DefaultSettings() Settings {
	return Settings{
		LSTScale:        1000,
		NightLightScale: 500,
		VegetationScale: 250,
		LandCoverScale:  100,
		AirQualityScale: 7500,
		RuralBufferKM:   25,
		ErosionM:        100,
		Pollutants:      append([]string(nil), raster.Pollutants...),
	}
}

// Analyzer computes every analysis for one city at a time.
type Analyzer struct {
	catalog    Catalog
	svc        *uncertainty.Service
	classifier *ensemble.Classifier
	suhi       *suhi.Analyzer
	trend      *trend.Analyzer
	settings   Settings
}

// NewAnalyzer wires the analysis components around svc.
func NewAnalyzer(catalog Catalog, svc *uncertainty.Service, classifier *ensemble.Classifier, heat *suhi.Analyzer, tr *trend.Analyzer, s Settings) *Analyzer {
	if classifier == nil {
		classifier = ensemble.NewClassifier(svc)
	}
	if heat == nil {
		heat = suhi.NewAnalyzer(svc)
	}
	if tr == nil {
		tr = trend.NewAnalyzer(nil, 0.95)
	}
	return &Analyzer{catalog: catalog, svc: svc, classifier: classifier, suhi: heat, trend: tr, settings: s}
}

// Zones builds the analysis zones for city.
func (a *Analyzer) Zones(city model.City) (*zone.AnalysisZone, error) {
	z, err := zone.Build(orb.Point{city.Lon, city.Lat}, city.BufferM,
		zone.WithRuralBufferKM(a.settings.RuralBufferKM),
		zone.WithErosionM(a.settings.ErosionM),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: zones for %s", city.Name)
	}
	return z, nil
}

// YearResult holds the records of one city-year and the values the
// cross-year analyses need.
type YearResult struct {
	Year          int
	Records       []model.Record
	LowConfidence bool
	intensity     map[string]float64
	nightLight    *float64
	landCover     *change.Snapshot
}

// Failed reports whether any record of the year failed.
func (y *YearResult) Failed() bool {
	for i := range y.Records {
		if y.Records[i].Failed() {
			return true
		}
	}
	return false
}

func failure(city string, year int, analysis model.Analysis, period string, err error) model.Record {
	rec := model.Record{City: city, Year: year, Analysis: analysis, Period: period, Error: err.Error()}
	var cf *suhi.ComputationFailedError
	if errors.As(err, &cf) {
		rec.Error = ""
		rec.ComputationFailed = true
		rec.Note = cf.Error()
	}
	return rec
}

// AnalyzeYear runs every per-year analysis for one city-year. A failing
// analysis yields a record with an error; the others still run.
func (a *Analyzer) AnalyzeYear(ctx context.Context, city model.City, z *zone.AnalysisZone, year int) *YearResult {
	log := zap.L().With(zap.String("city", city.Name), zap.Int("year", year))
	res := &YearResult{Year: year, intensity: make(map[string]float64, 2)}

	sources, err := a.catalog.Classifications(ctx, city.Name, year)
	var cl *ensemble.Classification
	if err == nil {
		cl, err = a.classifier.Classify(ctx, city.Name, year, sources, z, reduce.DefaultParams(a.settings.LandCoverScale))
	}
	if err != nil {
		log.Warn("pipeline: classification unavailable", zap.Error(err))
		for _, period := range []string{PeriodDay, PeriodNight} {
			res.Records = append(res.Records, failure(city.Name, year, heatAnalysis(period), period, err))
		}
	} else {
		res.LowConfidence = cl.LowConfidence
		for _, period := range []string{PeriodDay, PeriodNight} {
			res.Records = append(res.Records, a.heatIsland(ctx, city, z, year, period, cl, res))
		}
		if rec, ok := a.dayNight(city, year, res); ok {
			res.Records = append(res.Records, rec)
		}
	}

	res.Records = append(res.Records, a.zonal(ctx, city, z, year, DatasetNightLights, model.AnalysisNightLights, "", a.settings.NightLightScale, res))
	res.Records = append(res.Records, a.zonal(ctx, city, z, year, DatasetVegetation, model.AnalysisVegetation, "", a.settings.VegetationScale, res))
	for _, pollutant := range a.settings.Pollutants {
		res.Records = append(res.Records, a.zonal(ctx, city, z, year, DatasetAirQuality, model.AnalysisAirQuality, pollutant, a.settings.AirQualityScale, res))
	}
	res.Records = append(res.Records, a.landCover(ctx, city, z, year, sources, res))
	res.Records = append(res.Records, a.fragmentation(city, z, year, sources))

	for i := range res.Records {
		if res.Records[i].Failed() {
			log.Warn("pipeline: analysis failed",
				zap.String("analysis", string(res.Records[i].Analysis)),
				zap.String("period", res.Records[i].Period),
				zap.String("error", res.Records[i].Error),
				zap.Bool("computation_failed", res.Records[i].ComputationFailed),
			)
		}
	}
	return res
}

func heatAnalysis(period string) model.Analysis {
	if period == PeriodNight {
		return model.AnalysisSUHINight
	}
	return model.AnalysisSUHIDay
}

func (a *Analyzer) heatIsland(ctx context.Context, city model.City, z *zone.AnalysisZone, year int, period string, cl *ensemble.Classification, res *YearResult) model.Record {
	analysis := heatAnalysis(period)
	img, err := a.catalog.Image(ctx, city.Name, year, DatasetLST, period)
	if err != nil {
		return failure(city.Name, year, analysis, period, err)
	}
	r, err := a.suhi.Analyze(ctx, img, cl, z, reduce.DefaultParams(a.settings.LSTScale))
	if err != nil {
		return failure(city.Name, year, analysis, period, err)
	}

	rec := model.Record{
		City:          city.Name,
		Year:          year,
		Analysis:      analysis,
		Period:        period,
		SUHI:          suhiDTO(r),
		Weights:       cl.Weights,
		LowConfidence: cl.LowConfidence,
	}
	if r.Step != "" && r.Step != "nominal" {
		rec.Note = "computed at degraded parameters: " + r.Step
	}
	switch {
	case math.IsNaN(r.Intensity):
		rec.Warning = "zone mean unavailable"
	case r.Warning == suhi.WarnEmptyZone:
		rec.Warning = r.Warning
	default:
		rec.Warning = r.Warning
		res.intensity[period] = r.Intensity
	}
	if cl.LowConfidence && rec.Warning == "" {
		rec.Warning = "low confidence urban mask"
	}
	return rec
}

func (a *Analyzer) dayNight(city model.City, year int, res *YearResult) (model.Record, bool) {
	day, okDay := res.intensity[PeriodDay]
	night, okNight := res.intensity[PeriodNight]
	if !okDay || !okNight {
		return model.Record{}, false
	}
	return model.Record{
		City:     city.Name,
		Year:     year,
		Analysis: model.AnalysisDayNight,
		DayNight: dayNightDTO(suhi.CompareDayNight(day, night)),
	}, true
}

// zonal computes per-zone statistics with uncertainty for a continuous dataset.
func (a *Analyzer) zonal(ctx context.Context, city model.City, z *zone.AnalysisZone, year int, dataset string, analysis model.Analysis, period string, scale float64, res *YearResult) model.Record {
	img, err := a.catalog.Image(ctx, city.Name, year, dataset, period)
	if err != nil {
		return failure(city.Name, year, analysis, period, err)
	}
	outcomes := a.svc.ComputeZonalUncertainty(ctx, img, z.Regions(), reduce.DefaultParams(scale))

	rec := model.Record{City: city.Name, Year: year, Analysis: analysis, Period: period, Zones: zonesDTO(outcomes)}
	failed := 0
	for _, o := range outcomes {
		if !o.OK {
			failed++
		}
	}
	switch {
	case failed == len(outcomes):
		rec.Error = "all zones failed"
		return rec
	case failed > 0:
		rec.Warning = "some zones failed"
	}

	if core, ok := outcomes[zone.NameUrbanCore]; ok && core.OK {
		rec.Stats = statsDTO(core.Stats)
		rec.Uncertainty = estimateDTO(core.Estimate)
		if analysis == model.AnalysisNightLights {
			res.nightLight = core.Stats.Mean
		}
	}
	if analysis == model.AnalysisAirQuality {
		rec.UrbanRuralRatio = model.OptPtr(urbanRuralRatio(outcomes))
	}
	return rec
}

// urbanRuralRatio is the urban core mean over the rural ring mean, nil when
// either is unavailable or the rural mean is zero.
func urbanRuralRatio(outcomes map[string]uncertainty.ZoneOutcome) *float64 {
	core, okCore := outcomes[zone.NameUrbanCore]
	ring, okRing := outcomes[zone.NameRuralRing]
	if !okCore || !okRing || !core.OK || !ring.OK || core.Stats.Mean == nil || ring.Stats.Mean == nil || *ring.Stats.Mean == 0 {
		return nil
	}
	r := *core.Stats.Mean / *ring.Stats.Mean
	return &r
}

// landCoverSource picks the classification used for the land-cover
// distribution: the Esri product when present, otherwise the first class
// band in source order.
func landCoverSource(sources []raster.Image) (raster.Image, bool) {
	var class []raster.Image
	for _, s := range sources {
		if s.Band.Kind == raster.KindClass {
			class = append(class, s)
		}
	}
	if len(class) == 0 {
		return raster.Image{}, false
	}
	sort.Slice(class, func(i, j int) bool { return class[i].Source < class[j].Source })
	for _, s := range class {
		if s.Source == raster.SourceESRI {
			return s, true
		}
	}
	return class[0], true
}

func (a *Analyzer) landCover(ctx context.Context, city model.City, z *zone.AnalysisZone, year int, sources []raster.Image, res *YearResult) model.Record {
	img, ok := landCoverSource(sources)
	if !ok {
		return failure(city.Name, year, model.AnalysisLandCover, "", &model.MissingInputError{
			City: city.Name, Year: year, Input: "classification", Reason: "no class band available",
		})
	}
	p := uncertainty.DefaultCategoricalParams()
	p.Scale = a.settings.LandCoverScale
	d, err := a.svc.ComputeCategorical(ctx, img, z.FullExtent, p)
	if err != nil {
		return failure(city.Name, year, model.AnalysisLandCover, "", err)
	}
	res.landCover = &change.Snapshot{Year: year, Source: img.Source, Histogram: d.Histogram}

	rec := model.Record{City: city.Name, Year: year, Analysis: model.AnalysisLandCover, Categorical: categoricalDTO(d)}
	if d.Step != "" && d.Step != "nominal" {
		rec.Note = "histogram computed at " + d.Step
	}
	return rec
}

// fragmentation measures built-up and vegetation patches inside the urban
// core on the land-cover classification's pixel grid.
func (a *Analyzer) fragmentation(city model.City, z *zone.AnalysisZone, year int, sources []raster.Image) model.Record {
	img, ok := landCoverSource(sources)
	if !ok {
		return failure(city.Name, year, model.AnalysisFragmentation, "", &model.MissingInputError{
			City: city.Name, Year: year, Input: "classification", Reason: "no class band available",
		})
	}
	if img.Local == nil {
		return model.Record{
			City: city.Name, Year: year, Analysis: model.AnalysisFragmentation,
			Warning: "no pixel grid served for " + img.Source + "; patches not measured",
		}
	}
	r, err := fragment.Analyze(img, z.UrbanCore)
	if err != nil {
		return failure(city.Name, year, model.AnalysisFragmentation, "", err)
	}
	return model.Record{City: city.Name, Year: year, Analysis: model.AnalysisFragmentation, Fragmentation: fragmentationDTO(r)}
}

// CrossYear derives the change and trend records from a city's yearly
// results, which must be sorted by year.
func (a *Analyzer) CrossYear(city model.City, years []*YearResult) []model.Record {
	var out []model.Record
	if len(years) < 2 {
		return out
	}
	first, last := years[0], years[len(years)-1]

	nl := change.NightLights(first.Year, first.nightLight, last.Year, last.nightLight)
	out = append(out, model.Record{
		City:     city.Name,
		Analysis: model.AnalysisChange,
		Period:   string(model.AnalysisNightLights),
		Change:   nightLightDTO(nl),
		Note:     nl.Note,
	})

	lcRec := model.Record{City: city.Name, Analysis: model.AnalysisChange, Period: string(model.AnalysisLandCover)}
	if first.landCover == nil || last.landCover == nil {
		lcRec.Error = "land cover missing for one of the years"
	} else if lc, err := change.LandCover(*first.landCover, *last.landCover, a.settings.LandCoverScale); err != nil {
		lcRec.Error = err.Error()
	} else {
		lcRec.Change = landCoverDTO(lc)
	}
	out = append(out, lcRec)

	for _, period := range []string{PeriodDay, PeriodNight} {
		var pts []trend.Point
		for _, y := range years {
			if v, ok := y.intensity[period]; ok {
				pts = append(pts, trend.Point{Year: y.Year, Value: v})
			}
		}
		out = append(out, a.TrendRecord(city.Name, period, pts))
	}
	return out
}

// TrendRecord fits pts and wraps the result as a trend record.
func (a *Analyzer) TrendRecord(city, period string, pts []trend.Point) model.Record {
	r := a.trend.Fit(pts)
	rec := model.Record{City: city, Analysis: model.AnalysisTrend, Period: period}
	if r.Insufficient {
		rec.Warning = r.Reason
		return rec
	}
	rec.Trend = TrendDTO(r)
	return rec
}
