package uncertainty

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/raster"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/reduce"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/zone"
)

// Distribution sources.
const (
	SourceRemote = "remote"
	SourceLocal  = "local"
)

// ErrNoPixels is returned when a histogram has no classified pixels.
var ErrNoPixels = eris.New("uncertainty: histogram has no pixels")

// Distribution is a class-frequency histogram with its proportions and
// Shannon entropy in nats.
type Distribution struct {
	Histogram   map[string]int64
	Proportions map[string]float64
	Entropy     float64
	Total       int64
	Source      string
	// Step names the degradation step that produced the histogram.
	Step string
}

// NewDistribution derives proportions and entropy from a histogram.
func NewDistribution(h map[string]int64) (Distribution, error) {
	classes := make([]string, 0, len(h))
	var total int64
	for k, v := range h {
		if v < 0 {
			return Distribution{}, eris.Errorf("uncertainty: class %q has negative count %d", k, v)
		}
		classes = append(classes, k)
		total += v
	}
	if total == 0 {
		return Distribution{}, ErrNoPixels
	}
	sort.Strings(classes)

	props := make(map[string]float64, len(classes))
	p := make([]float64, 0, len(classes))
	for _, k := range classes {
		pk := float64(h[k]) / float64(total)
		props[k] = pk
		p = append(p, pk)
	}

	return Distribution{
		Histogram:   h,
		Proportions: props,
		Entropy:     stat.Entropy(p),
		Total:       total,
	}, nil
}

// DefaultCategoricalParams are the histogram defaults: 200 m, 1e8 pixels, best effort.
func DefaultCategoricalParams() reduce.Params {
	return reduce.Params{Scale: 200, MaxPixels: 1e8, BestEffort: true}
}

// ComputeCategorical requests a class histogram for img over region. On
// resource exhaustion the request is re-issued up the degradation ladder.
// If the backend still fails and img carries local pixels, the histogram is
// computed from those pixels instead.
func (s *Service) ComputeCategorical(ctx context.Context, img raster.Image, region zone.Region, p reduce.Params) (Distribution, error) {
	req := reduce.Request{Image: img, Region: region, Kind: reduce.FrequencyHistogram, Params: p}

	resp, step, err := s.ladder.Run(ctx, s.reducer, req)
	if err == nil {
		h, perr := reduce.Histogram(resp, img.Band.Name)
		if perr != nil {
			err = perr
		} else {
			d, derr := NewDistribution(h)
			if derr != nil {
				return Distribution{}, eris.Wrapf(derr, "uncertainty: categorical %s over %s", img.ID, region.Name)
			}
			d.Source = SourceRemote
			d.Step = step
			return d, nil
		}
	}

	if img.Local == nil || ctx.Err() != nil {
		return Distribution{}, eris.Wrapf(err, "uncertainty: categorical %s over %s", img.ID, region.Name)
	}

	zap.L().Warn("uncertainty: remote histogram failed, using local pixels",
		zap.String("image", img.ID),
		zap.String("zone", region.Name),
		zap.Error(err),
	)
	resp, lerr := s.local.Reduce(ctx, req)
	if lerr != nil {
		return Distribution{}, eris.Wrapf(lerr, "uncertainty: local histogram %s over %s", img.ID, region.Name)
	}
	h, lerr := reduce.Histogram(resp, img.Band.Name)
	if lerr != nil {
		return Distribution{}, eris.Wrapf(lerr, "uncertainty: local histogram %s", img.ID)
	}
	d, lerr := NewDistribution(h)
	if lerr != nil {
		return Distribution{}, eris.Wrapf(lerr, "uncertainty: local histogram %s", img.ID)
	}
	d.Source = SourceLocal
	d.Step = "local"
	return d, nil
}
