package uncertainty

import (
	"context"
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/raster"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/reduce"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/zone"
)

// Service computes zonal statistics through a Reducer.
type Service struct {
	reducer reduce.Reducer
	ladder  reduce.Ladder
	local   *reduce.Local
}

// Option configures a Service.
type Option func(*Service)

// WithLadder replaces the categorical degradation ladder.
func WithLadder(l reduce.Ladder) Option {
	return func(s *Service) { s.ladder = l }
}

// WithLocal sets the in-process reducer used as the categorical fallback.
func WithLocal(l *reduce.Local) Option {
	return func(s *Service) { s.local = l }
}

// NewService creates a Service over r.
func NewService(r reduce.Reducer, opts ...Option) *Service {
	s := &Service{
		reducer: r,
		ladder:  reduce.CategoricalLadder(),
		local:   reduce.NewLocal(nil),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Reducer returns the underlying reducer.
func (s *Service) Reducer() reduce.Reducer { return s.reducer }

func (s *Service) scalar(ctx context.Context, img raster.Image, region zone.Region, kind reduce.Kind, p reduce.Params) (*float64, error) {
	resp, err := s.reducer.Reduce(ctx, reduce.Request{Image: img, Region: region, Kind: kind, Params: p})
	if err != nil {
		return nil, eris.Wrapf(err, "uncertainty: %s of %s over %s", kind, img.ID, region.Name)
	}
	v, err := reduce.Scalar(resp, img.Band.Name, kind)
	if err != nil {
		return nil, eris.Wrapf(err, "uncertainty: parse %s of %s over %s", kind, img.ID, region.Name)
	}
	return v, nil
}

// Count returns the number of valid pixels of img inside region.
func (s *Service) Count(ctx context.Context, img raster.Image, region zone.Region, p reduce.Params) (int64, error) {
	v, err := s.scalar(ctx, img, region, reduce.Count, p)
	if err != nil {
		return 0, err
	}
	if v == nil || *v < 0 {
		return 0, nil
	}
	return int64(math.Round(*v)), nil
}

// ComputeZoneStats issues separate mean, stdDev and count reductions and
// combines them. A zero count nulls the mean and stdDev.
func (s *Service) ComputeZoneStats(ctx context.Context, img raster.Image, region zone.Region, p reduce.Params) (ZoneStats, error) {
	mean, err := s.scalar(ctx, img, region, reduce.Mean, p)
	if err != nil {
		return ZoneStats{}, err
	}
	sd, err := s.scalar(ctx, img, region, reduce.StdDev, p)
	if err != nil {
		return ZoneStats{}, err
	}
	count, err := s.Count(ctx, img, region, p)
	if err != nil {
		return ZoneStats{}, err
	}

	if count == 0 {
		return ZoneStats{}, nil
	}
	return ZoneStats{Mean: mean, StdDev: sd, Count: count}, nil
}

// ZoneOutcome is the pass/fail result for one named zone.
type ZoneOutcome struct {
	Zone     string
	OK       bool
	Stats    ZoneStats
	Estimate Estimate
	Err      error
}

// ComputeZonalUncertainty computes stats and uncertainty for every zone.
// A failing zone is recorded and the remaining zones are still computed.
func (s *Service) ComputeZonalUncertainty(ctx context.Context, img raster.Image, regions map[string]zone.Region, p reduce.Params) map[string]ZoneOutcome {
	names := make([]string, 0, len(regions))
	for n := range regions {
		names = append(names, n)
	}
	sort.Strings(names)

	out := make(map[string]ZoneOutcome, len(regions))
	for _, name := range names {
		stats, err := s.ComputeZoneStats(ctx, img, regions[name], p)
		if err != nil {
			zap.L().Warn("uncertainty: zone failed",
				zap.String("image", img.ID),
				zap.String("zone", name),
				zap.Error(err),
			)
			out[name] = ZoneOutcome{Zone: name, Err: err}
			continue
		}
		out[name] = ZoneOutcome{Zone: name, OK: true, Stats: stats, Estimate: Derive(stats)}
	}
	return out
}
