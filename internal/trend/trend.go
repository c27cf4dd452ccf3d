// Package trend fits linear trends to yearly series and tests their
// significance.
package trend

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Directions.
const (
	Increasing = "increasing"
	Decreasing = "decreasing"
	Stable     = "stable"
)

// ReasonInsufficientData is set on results that could not be fitted.
const ReasonInsufficientData = "insufficient data"

// Point is one yearly observation.
type Point struct {
	Year  int     `csv:"year" json:"year"`
	Value float64 `csv:"value" json:"value"`
}

// Result is an OLS fit of value against year.
type Result struct {
	Slope            float64
	Intercept        float64
	RSquared         float64
	PValue           *float64
	TStatistic       float64
	TCritical        float64
	IsSignificant    bool
	CI95             [2]float64
	SlopeStdErr      float64
	DegreesOfFreedom int
	Direction        string
	Interpretation   string
	CumulativeChange float64
	N                int
	FirstYear        int
	LastYear         int
	Method           string
	Insufficient     bool
	Reason           string
}

// Analyzer fits trends with a fixed t-distribution strategy.
type Analyzer struct {
	dist  TDistribution
	level float64
}

// NewAnalyzer creates an Analyzer. A nil dist means Exact; a level outside
// (0, 1) means 0.95.
func NewAnalyzer(dist TDistribution, level float64) *Analyzer {
	if dist == nil {
		dist = Exact{}
	}
	if level <= 0 || level >= 1 {
		level = 0.95
	}
	return &Analyzer{dist: dist, level: level}
}

// Method names the t-distribution strategy.
func (a *Analyzer) Method() string { return a.dist.Name() }

// Test reports the critical value for df and whether |t| exceeds it.
func (a *Analyzer) Test(t float64, df int) (critical float64, significant bool) {
	if df <= 0 || math.IsNaN(t) {
		return 0, false
	}
	critical = a.dist.Critical(df, a.level)
	return critical, math.Abs(t) > critical
}

// Fit regresses the finite points on year. Fewer than three usable points
// leave no residual degrees of freedom and yield an insufficient result.
func (a *Analyzer) Fit(points []Point) Result {
	pts := make([]Point, 0, len(points))
	for _, p := range points {
		if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
			continue
		}
		pts = append(pts, p)
	}
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].Year < pts[j].Year })

	n := len(pts)
	res := Result{N: n, DegreesOfFreedom: n - 2, Method: a.dist.Name()}
	if n > 0 {
		res.FirstYear = pts[0].Year
		res.LastYear = pts[n-1].Year
	}
	if n < 2 || res.DegreesOfFreedom <= 0 || res.FirstYear == res.LastYear {
		res.Insufficient = true
		res.Reason = ReasonInsufficientData
		return res
	}

	x := make([]float64, n)
	y := make([]float64, n)
	for i, p := range pts {
		x[i] = float64(p.Year)
		y[i] = p.Value
	}

	alpha, beta := stat.LinearRegression(x, y, nil, false)
	res.Slope = beta
	res.Intercept = alpha
	res.RSquared = stat.RSquared(x, y, nil, alpha, beta)
	if math.IsNaN(res.RSquared) {
		// constant y: the fit is exact and explains nothing
		res.RSquared = 0
	}

	xm := stat.Mean(x, nil)
	var sxx, ssr float64
	for i := range x {
		dx := x[i] - xm
		sxx += dx * dx
		r := y[i] - (alpha + beta*x[i])
		ssr += r * r
	}
	res.SlopeStdErr = math.Sqrt(ssr / float64(res.DegreesOfFreedom) / sxx)

	switch {
	case res.SlopeStdErr > 0:
		res.TStatistic = res.Slope / res.SlopeStdErr
	case res.Slope > 0:
		res.TStatistic = math.Inf(1)
	case res.Slope < 0:
		res.TStatistic = math.Inf(-1)
	}

	res.TCritical, res.IsSignificant = a.Test(res.TStatistic, res.DegreesOfFreedom)
	margin := res.TCritical * res.SlopeStdErr
	res.CI95 = [2]float64{res.Slope - margin, res.Slope + margin}
	if p, ok := a.dist.PValue(res.TStatistic, res.DegreesOfFreedom); ok {
		res.PValue = &p
	}

	res.Direction = direction(res.Slope)
	res.Interpretation = interpret(res.Slope)
	res.CumulativeChange = res.Slope * float64(res.LastYear-res.FirstYear)
	return res
}

func direction(slope float64) string {
	switch {
	case slope > 0:
		return Increasing
	case slope < 0:
		return Decreasing
	default:
		return Stable
	}
}

func interpret(slope float64) string {
	switch {
	case slope > 0.1:
		return "strong increasing"
	case slope > 0.01:
		return "moderate increasing"
	case slope >= -0.01:
		return "minimal change"
	case slope >= -0.1:
		return "moderate decreasing"
	default:
		return "strong decreasing"
	}
}
