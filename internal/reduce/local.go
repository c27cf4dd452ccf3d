package reduce

import (
	"context"
	"math"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/stat"

	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/raster"
)

// Local reduces materialized pixel grids in process. It serves as the
// fallback when the backend cannot answer, and as the offline backend.
// Grids holds the arrays of images referenced by mask terms; the reduced
// image itself is read from Image.Local.
type Local struct {
	Grids map[string]*raster.Grid
}

// NewLocal creates a Local reducer over the given mask grids.
func NewLocal(grids map[string]*raster.Grid) *Local {
	if grids == nil {
		grids = map[string]*raster.Grid{}
	}
	return &Local{Grids: grids}
}

// Reduce implements Reducer. The response uses the flat {"<band>": value} shape.
func (l *Local) Reduce(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	values, err := l.Pixels(req)
	if err != nil {
		return nil, err
	}
	if req.MaxPixels > 0 && float64(len(values)) > req.MaxPixels && !req.BestEffort {
		return nil, eris.Wrapf(ErrResourceExhausted, "reduce: %d pixels exceed maxPixels %g", len(values), req.MaxPixels)
	}

	band := req.Image.Band.Name
	switch req.Kind {
	case Count:
		return Response{band: float64(len(values))}, nil
	case Mean:
		if len(values) == 0 {
			return Response{band: nil}, nil
		}
		return Response{band: stat.Mean(values, nil)}, nil
	case StdDev:
		if len(values) < 2 {
			if len(values) == 1 {
				return Response{band: 0.0}, nil
			}
			return Response{band: nil}, nil
		}
		_, sd := stat.MeanStdDev(values, nil)
		return Response{band: sd}, nil
	case FrequencyHistogram:
		h := raster.Histogram(values)
		m := make(map[string]any, len(h))
		for k, v := range h {
			m[k] = float64(v)
		}
		return Response{band: m}, nil
	}
	return nil, eris.Errorf("reduce: unsupported reducer %q", req.Kind)
}

// Pixels returns the valid pixel values of req.Image inside req.Region and its mask.
func (l *Local) Pixels(req Request) ([]float64, error) {
	g := req.Image.Local
	if g == nil {
		return nil, eris.Errorf("reduce: image %q has no local pixels", req.Image.ID)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}

	var mask *raster.Grid
	if req.Image.Mask != nil {
		m, err := req.Image.Mask.Evaluate(l.Grids)
		if err != nil {
			return nil, eris.Wrapf(err, "reduce: evaluate mask for %q", req.Image.ID)
		}
		if m.Width != g.Width || m.Height != g.Height {
			return nil, eris.Errorf("reduce: mask shape %dx%d does not match image %dx%d", m.Width, m.Height, g.Width, g.Height)
		}
		mask = m
	}

	bound := req.Region.Bound()
	hasRegion := len(req.Region.Polygon) > 0

	var out []float64
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			v := g.At(x, y)
			if math.IsNaN(v) {
				continue
			}
			if mask != nil && mask.At(x, y) != 1 {
				continue
			}
			if hasRegion {
				lon, lat := g.Center(x, y)
				p := orb.Point{lon, lat}
				if !bound.Contains(p) || !req.Region.Contains(p) {
					continue
				}
			}
			out = append(out, v)
		}
	}
	return out, nil
}
