package pipeline

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/model"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/store"
)

// DefaultMaxConcurrentCities bounds the number of cities analysed at once.
const DefaultMaxConcurrentCities = 4

// Runner drives batches of cities through an Analyzer and persists the records.
type Runner struct {
	analyzer    *Analyzer
	store       store.Store
	concurrency int
}

// NewRunner creates a Runner. concurrency ≤ 0 means DefaultMaxConcurrentCities.
func NewRunner(a *Analyzer, st store.Store, concurrency int) *Runner {
	if concurrency <= 0 {
		concurrency = DefaultMaxConcurrentCities
	}
	return &Runner{analyzer: a, store: st, concurrency: concurrency}
}

// CityResult is the outcome of one city across every requested year.
type CityResult struct {
	City    string
	Years   []*YearResult
	Records []model.Record
	Err     error
}

// AnalyzeCity builds the zones once and runs each year sequentially,
// followed by the cross-year change and trend analyses.
func (r *Runner) AnalyzeCity(ctx context.Context, runID string, city model.City, years []int) CityResult {
	log := zap.L().With(zap.String("city", city.Name))
	res := CityResult{City: city.Name}

	z, err := r.analyzer.Zones(city)
	if err != nil {
		log.Error("pipeline: zone build failed", zap.Error(err))
		res.Err = err
		res.Records = []model.Record{{City: city.Name, Analysis: model.AnalysisZones, Error: err.Error()}}
		return res
	}
	if err := r.store.SaveZones(ctx, runID, city.Name, z); err != nil {
		log.Warn("pipeline: failed to save zones", zap.Error(err))
	}

	sorted := append([]int(nil), years...)
	sort.Ints(sorted)
	for _, year := range sorted {
		if ctx.Err() != nil {
			res.Err = ctx.Err()
			break
		}
		yr := r.analyzer.AnalyzeYear(ctx, city, z, year)
		res.Years = append(res.Years, yr)
		res.Records = append(res.Records, yr.Records...)
	}
	if res.Err == nil {
		res.Records = append(res.Records, r.analyzer.CrossYear(city, res.Years)...)
	}

	for i := range res.Records {
		res.Records[i].RunID = runID
	}
	return res
}

// summarize counts one unit per city-year.
func summarize(s *model.RunSummary, cr CityResult, years int) {
	if len(cr.Years) == 0 {
		s.Units += years
		s.Failed += years
		return
	}
	for _, y := range cr.Years {
		s.Units++
		if y.Failed() {
			s.Failed++
		} else {
			s.Succeeded++
		}
		if y.LowConfidence {
			s.LowConfidence++
		}
	}
}

// Run analyses every city for every year with bounded parallelism. A failing
// unit never aborts the batch; only cancellation or a store failure does.
func (r *Runner) Run(ctx context.Context, cities []model.City, years []int) (*model.Run, error) {
	if len(cities) == 0 {
		return nil, eris.New("pipeline: no cities selected")
	}
	if len(years) == 0 {
		return nil, eris.New("pipeline: no years selected")
	}

	names := make([]string, len(cities))
	for i, c := range cities {
		names[i] = c.Name
	}
	run, err := r.store.CreateRun(ctx, names, years)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}

	start := time.Now()
	zap.L().Info("pipeline: starting batch",
		zap.String("run_id", run.ID),
		zap.Int("cities", len(cities)),
		zap.Ints("years", years),
		zap.Int("concurrency", r.concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	var mu sync.Mutex
	var summary model.RunSummary

	for _, city := range cities {
		g.Go(func() error {
			cr := r.AnalyzeCity(gctx, run.ID, city, years)
			if err := r.store.SaveRecords(gctx, cr.Records); err != nil {
				return eris.Wrapf(err, "pipeline: save records for %s", city.Name)
			}

			mu.Lock()
			summarize(&summary, cr, len(years))
			mu.Unlock()

			zap.L().Info("pipeline: city complete",
				zap.String("city", city.Name),
				zap.Int("records", len(cr.Records)),
			)
			return nil
		})
	}

	runErr := g.Wait()
	if runErr == nil && ctx.Err() != nil {
		runErr = ctx.Err()
	}
	summary.Duration = time.Since(start)

	status := model.RunStatusComplete
	if runErr != nil {
		status = model.RunStatusFailed
	}
	// The batch context may already be cancelled; bookkeeping uses a detached one.
	if err := r.store.CompleteRun(context.WithoutCancel(ctx), run.ID, status, summary); err != nil {
		zap.L().Error("pipeline: failed to complete run", zap.String("run_id", run.ID), zap.Error(err))
	}
	run.Status = status
	run.Summary = &summary

	zap.L().Info("pipeline: batch complete",
		zap.String("run_id", run.ID),
		zap.String("status", string(status)),
		zap.Int("units", summary.Units),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("low_confidence", summary.LowConfidence),
		zap.Duration("duration", summary.Duration),
	)

	if runErr != nil {
		return run, eris.Wrap(runErr, "pipeline: batch")
	}
	return run, nil
}
