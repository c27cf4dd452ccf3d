package reduce

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Strategy is one degradation step applied to a reduction that ran out of
// backend resources.
type Strategy struct {
	Name  string
	Apply func(Params) Params
}

// TileScale raises the backend tiling factor.
func TileScale(n int) Strategy {
	return Strategy{
		Name: fmt.Sprintf("tileScale=%d", n),
		Apply: func(p Params) Params {
			p.TileScale = n
			return p
		},
	}
}

// Coarsen multiplies the scale by factor and sets the tiling factor and pixel budget.
func Coarsen(factor float64, tileScale int, maxPixels float64) Strategy {
	return Strategy{
		Name: fmt.Sprintf("scale*%g,tileScale=%d,maxPixels=%g", factor, tileScale, maxPixels),
		Apply: func(p Params) Params {
			p.Scale *= factor
			p.TileScale = tileScale
			p.MaxPixels = maxPixels
			return p
		},
	}
}

// Ladder is an ordered list of degradation strategies.
type Ladder []Strategy

// CategoricalLadder raises tileScale through 2, 4, 8 and 16.
func CategoricalLadder() Ladder {
	return Ladder{TileScale(2), TileScale(4), TileScale(8), TileScale(16)}
}

// EscalationLadder is the single coarsening step used for heat-island reductions.
func EscalationLadder() Ladder {
	return Ladder{Coarsen(2, 8, 1e7)}
}

// Steps returns the nominal parameters followed by each degraded variant.
func (l Ladder) Steps(base Params) []Step {
	steps := make([]Step, 0, len(l)+1)
	steps = append(steps, Step{Name: "nominal", Params: base})
	for _, s := range l {
		steps = append(steps, Step{Name: s.Name, Params: s.Apply(base)})
	}
	return steps
}

// Step is a named parameter set tried by a ladder.
type Step struct {
	Name   string
	Params Params
}

// Run issues req at nominal parameters, then at each degraded step while the
// backend reports resource exhaustion. Other errors stop the ladder at once.
// The name of the step that succeeded is returned with the response.
func (l Ladder) Run(ctx context.Context, r Reducer, req Request) (Response, string, error) {
	var lastErr error
	for _, step := range l.Steps(req.Params) {
		attempt := req
		attempt.Params = step.Params
		resp, err := r.Reduce(ctx, attempt)
		if err == nil {
			return resp, step.Name, nil
		}
		lastErr = err
		if !IsResourceExhausted(err) || ctx.Err() != nil {
			return nil, step.Name, err
		}
		zap.L().Debug("reduce: degrading after resource exhaustion",
			zap.String("image", req.Image.ID),
			zap.String("region", req.Region.Name),
			zap.String("step", step.Name),
			zap.Error(err),
		)
	}
	return nil, "", lastErr
}
