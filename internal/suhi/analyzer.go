package suhi

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/ensemble"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/raster"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/reduce"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/uncertainty"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/zone"
)

// ComputationFailedError reports that every escalation step exhausted the
// backend's resources.
type ComputationFailedError struct {
	Steps []string
	Err   error
}

func (e *ComputationFailedError) Error() string {
	return fmt.Sprintf("suhi: computation failed after %s: %v", strings.Join(e.Steps, ", "), e.Err)
}

func (e *ComputationFailedError) Unwrap() error { return e.Err }

// Analyzer measures SUHI from a temperature image and a classification.
type Analyzer struct {
	svc        *uncertainty.Service
	escalation reduce.Ladder
}

// AnalyzerOption configures an Analyzer.
type AnalyzerOption func(*Analyzer)

// WithEscalation replaces the escalation ladder.
func WithEscalation(l reduce.Ladder) AnalyzerOption {
	return func(a *Analyzer) { a.escalation = l }
}

// NewAnalyzer creates an Analyzer over svc.
func NewAnalyzer(svc *uncertainty.Service, opts ...AnalyzerOption) *Analyzer {
	a := &Analyzer{svc: svc, escalation: reduce.EscalationLadder()}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Analyze reduces img over the urban core with the urban mask and over the
// rural ring with the rural mask, then computes the intensity. When the
// backend runs out of resources the whole pair is retried with coarser
// parameters. If every step fails this way a *ComputationFailedError is returned.
func (a *Analyzer) Analyze(ctx context.Context, img raster.Image, cl *ensemble.Classification, z *zone.AnalysisZone, p reduce.Params) (Result, error) {
	if cl == nil || cl.Urban == nil || cl.Rural == nil {
		return Result{}, eris.Errorf("suhi: no classification for %s", img.ID)
	}

	urbanImg := img.WithMask(cl.Urban)
	ruralImg := img.WithMask(cl.Rural)

	var tried []string
	var lastErr error
	for _, step := range a.escalation.Steps(p) {
		tried = append(tried, step.Name)

		urban, err := a.svc.ComputeZoneStats(ctx, urbanImg, z.UrbanCore, step.Params)
		if err == nil {
			var rural uncertainty.ZoneStats
			rural, err = a.svc.ComputeZoneStats(ctx, ruralImg, z.RuralRing, step.Params)
			if err == nil {
				r := Compute(urban, rural)
				r.Step = step.Name
				return r, nil
			}
		}

		if !reduce.IsResourceExhausted(err) {
			return Result{}, eris.Wrapf(err, "suhi: analyze %s", img.ID)
		}
		lastErr = err
		zap.L().Warn("suhi: backend exhausted, escalating",
			zap.String("image", img.ID),
			zap.String("step", step.Name),
			zap.Error(err),
		)
	}
	return Result{}, &ComputationFailedError{Steps: tried, Err: lastErr}
}
