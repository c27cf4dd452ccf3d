package model

import "time"

// Analysis names the kind of result a Record carries.
type Analysis string

const (
	AnalysisSUHIDay       Analysis = "suhi_day"
	AnalysisSUHINight     Analysis = "suhi_night"
	AnalysisDayNight      Analysis = "suhi_day_night"
	AnalysisNightLights   Analysis = "night_lights"
	AnalysisVegetation    Analysis = "vegetation"
	AnalysisLandCover     Analysis = "land_cover"
	AnalysisAirQuality    Analysis = "air_quality"
	AnalysisFragmentation Analysis = "fragmentation"
	AnalysisTrend         Analysis = "trend"
	AnalysisChange        Analysis = "change"
	AnalysisZones         Analysis = "zones"
)

// Record is the JSON-serializable result of one (city, year, analysis) unit.
// Every record carries either complete statistics or an explicit Error or Warning.
type Record struct {
	ID                string                `json:"id,omitempty"`
	RunID             string                `json:"runId,omitempty"`
	City              string                `json:"city"`
	Year              int                   `json:"year,omitempty"`
	Analysis          Analysis              `json:"analysis"`
	Period            string                `json:"period,omitempty"`
	Stats             *Stats                `json:"stats,omitempty"`
	Uncertainty       *Uncertainty          `json:"uncertainty,omitempty"`
	Zones             map[string]ZoneResult `json:"zones,omitempty"`
	UrbanRuralRatio   *Float                `json:"urbanRuralRatio,omitempty"`
	SUHI              *SUHI                 `json:"suhi,omitempty"`
	DayNight          *DayNight             `json:"dayNight,omitempty"`
	Categorical       *Categorical          `json:"categorical,omitempty"`
	Trend             *Trend                `json:"trend,omitempty"`
	Change            *Change               `json:"change,omitempty"`
	Fragmentation     *Fragmentation        `json:"fragmentation,omitempty"`
	Weights           map[string]float64    `json:"weights,omitempty"`
	LowConfidence     bool                  `json:"lowConfidence,omitempty"`
	ComputationFailed bool                  `json:"computationFailed,omitempty"`
	Error             string                `json:"error,omitempty"`
	Warning           string                `json:"warning,omitempty"`
	Note              string                `json:"note,omitempty"`
	CreatedAt         time.Time             `json:"createdAt,omitzero"`
}

// Failed reports whether the record represents a failed unit.
func (r *Record) Failed() bool {
	return r.Error != "" || r.ComputationFailed
}

// Stats is the {mean, stdDev, count} group. Mean and StdDev are null when count is 0.
type Stats struct {
	Mean   *Float `json:"mean"`
	StdDev *Float `json:"stdDev"`
	Count  int64  `json:"count"`
}

// Uncertainty is the derived uncertainty group for a Stats value.
type Uncertainty struct {
	StdError               *Float    `json:"stdError"`
	CI95                   *Interval `json:"ci95"`
	CoefficientOfVariation *Float    `json:"coefficientOfVariation"`
	VariabilityLevel       string    `json:"variabilityLevel,omitempty"`
	DegreesOfFreedom       int64     `json:"degreesOfFreedom"`
	Reliability            string    `json:"reliability"`
	Multiplier             Float     `json:"multiplier,omitempty"`
}

// ZoneResult is the pass/fail outcome for one named zone.
type ZoneResult struct {
	OK          bool         `json:"ok"`
	Stats       *Stats       `json:"stats,omitempty"`
	Uncertainty *Uncertainty `json:"uncertainty,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// SUHI is the heat-island group.
type SUHI struct {
	Intensity        Float    `json:"intensity"`
	SE               Float    `json:"se"`
	CI95             Interval `json:"ci95"`
	RelativeErrorPct Float    `json:"relativeErrorPct"`
	UrbanMean        *Float   `json:"urbanMean"`
	RuralMean        *Float   `json:"ruralMean"`
	UrbanStdDev      *Float   `json:"urbanStdDev,omitempty"`
	RuralStdDev      *Float   `json:"ruralStdDev,omitempty"`
	UrbanPixels      int64    `json:"urbanPixels"`
	RuralPixels      int64    `json:"ruralPixels"`
}

// DayNight compares daytime and nighttime SUHI intensity.
type DayNight struct {
	Day            Float `json:"day"`
	Night          Float `json:"night"`
	Difference     Float `json:"difference"`
	DayStronger    bool  `json:"dayStronger"`
	MagnitudeRatio Float `json:"magnitudeRatio"`
}

// Categorical is the class-frequency group.
type Categorical struct {
	Histogram   map[string]int64   `json:"histogram"`
	Proportions map[string]float64 `json:"proportions"`
	Entropy     Float              `json:"entropy"`
	Total       int64              `json:"total"`
	Source      string             `json:"source"`
}

// Trend is the temporal regression group.
type Trend struct {
	Slope            Float    `json:"slope"`
	Intercept        Float    `json:"intercept"`
	RSquared         Float    `json:"rSquared"`
	PValue           *Float   `json:"pValue"`
	TStatistic       Float    `json:"tStatistic"`
	TCritical        Float    `json:"tCritical"`
	IsSignificant    bool     `json:"isSignificant"`
	CI95             Interval `json:"ci95"`
	SlopeStdErr      Float    `json:"slopeStdErr"`
	DegreesOfFreedom int      `json:"degreesOfFreedom"`
	Direction        string   `json:"direction"`
	Interpretation   string   `json:"interpretation"`
	CumulativeChange Float    `json:"cumulativeChange"`
	N                int      `json:"n"`
	FirstYear        int      `json:"firstYear"`
	LastYear         int      `json:"lastYear"`
	Method           string   `json:"method"`
}

// Change describes a between-year difference.
type Change struct {
	FromYear     int                    `json:"fromYear"`
	ToYear       int                    `json:"toYear"`
	Source       string                 `json:"source,omitempty"`
	Early        *Float                 `json:"early,omitempty"`
	Late         *Float                 `json:"late,omitempty"`
	Absolute     *Float                 `json:"absolute,omitempty"`
	Percent      *Float                 `json:"percent,omitempty"`
	Classes      map[string]ClassChange `json:"classes,omitempty"`
	BuiltUpDelta *Float                 `json:"builtUpChangeKm2,omitempty"`
	BuiltUpLabel string                 `json:"builtUpClass,omitempty"`
}

// ClassChange is the land-cover area change for one class.
type ClassChange struct {
	StartKm2  Float `json:"startKm2"`
	EndKm2    Float `json:"endKm2"`
	ChangeKm2 Float `json:"changeKm2"`
	ChangePct Float `json:"changePct"`
}

// Fragmentation is the patch structure of the built-up and vegetation masks.
type Fragmentation struct {
	Source     string  `json:"source"`
	RegionKm2  Float   `json:"regionKm2"`
	Built      Patches `json:"built"`
	Vegetation Patches `json:"vegetation"`
}

// Patches summarizes the connected patches of one mask.
type Patches struct {
	Count        int    `json:"patchCount"`
	TotalAreaM2  Float  `json:"totalAreaM2"`
	MeanAreaM2   Float  `json:"meanPatchAreaM2"`
	MedianAreaM2 Float  `json:"medianPatchAreaM2"`
	EdgeDensity  Float  `json:"edgeDensityMPerKm2"`
	IsolationM   *Float `json:"isolationM"`
}
