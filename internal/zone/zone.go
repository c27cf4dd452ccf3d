// Package zone builds the urban core, rural ring and full extent geometries
// used to compare a city against its surroundings.
package zone

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"
	"github.com/rotisserie/eris"
)

// ErrInvalidZoneConfig is returned when the buffer and erosion distances
// would collapse a zone to empty area.
var ErrInvalidZoneConfig = eris.New("zone: invalid zone config")

// Zone names used in records and reductions.
const (
	NameUrbanCore  = "urban_core"
	NameRuralRing  = "rural_ring"
	NameFullExtent = "full_extent"
)

const (
	defaultRuralBufferKM = 25.0
	defaultErosionM      = 100.0
	defaultSegments      = 64
)

// Region is a named analysis polygon. InnerM and OuterM are the radii in
// meters from the city center; InnerM is 0 for solid disks.
type Region struct {
	Name    string
	Polygon orb.Polygon
	InnerM  float64
	OuterM  float64
}

// Contains reports whether p (lon, lat) lies inside the region.
func (r Region) Contains(p orb.Point) bool {
	return planar.PolygonContains(r.Polygon, p)
}

// AreaM2 returns the geodesic area in square meters.
func (r Region) AreaM2() float64 {
	return geo.Area(r.Polygon)
}

// Bound returns the lon/lat bounding box.
func (r Region) Bound() orb.Bound {
	return r.Polygon.Bound()
}

// AnalysisZone is the set of zones derived for one city. It is read-only after Build.
type AnalysisZone struct {
	Center     orb.Point
	UrbanCore  Region
	RuralRing  Region
	FullExtent Region
}

// Regions returns the zones keyed by name.
func (z *AnalysisZone) Regions() map[string]Region {
	return map[string]Region{
		NameUrbanCore:  z.UrbanCore,
		NameRuralRing:  z.RuralRing,
		NameFullExtent: z.FullExtent,
	}
}

type options struct {
	ruralBufferKM float64
	erosionM      float64
	segments      int
}

// Option configures Build.
type Option func(*options)

// WithRuralBufferKM sets the rural ring width beyond the urban buffer.
func WithRuralBufferKM(km float64) Option {
	return func(o *options) { o.ruralBufferKM = km }
}

// WithErosionM sets the inward erosion applied to the urban core and rural ring.
func WithErosionM(m float64) Option {
	return func(o *options) { o.erosionM = m }
}

// WithSegments sets the number of vertices used to approximate each circle.
func WithSegments(n int) Option {
	return func(o *options) { o.segments = n }
}

// Build derives the analysis zones for a city center (lon, lat) and urban buffer.
//
// The urban core is the urban buffer eroded inward. The rural ring is the
// annulus between the urban buffer and the outer buffer, eroded inward on both
// edges so it never touches the core. The full extent is the outer buffer.
func Build(center orb.Point, urbanBufferM float64, opts ...Option) (*AnalysisZone, error) {
	o := options{
		ruralBufferKM: defaultRuralBufferKM,
		erosionM:      defaultErosionM,
		segments:      defaultSegments,
	}
	for _, fn := range opts {
		fn(&o)
	}

	if err := validateCenter(center); err != nil {
		return nil, err
	}
	if urbanBufferM <= 0 {
		return nil, invalid("urban buffer must be > 0, got %g m", urbanBufferM)
	}
	if o.ruralBufferKM <= 0 {
		return nil, invalid("rural buffer must be > 0, got %g km", o.ruralBufferKM)
	}
	if o.erosionM < 0 {
		return nil, invalid("erosion must be >= 0, got %g m", o.erosionM)
	}
	if o.segments < 8 {
		return nil, invalid("at least 8 segments required, got %d", o.segments)
	}

	outerM := urbanBufferM + o.ruralBufferKM*1000
	coreR := urbanBufferM - o.erosionM
	ringInner := urbanBufferM + o.erosionM
	ringOuter := outerM - o.erosionM

	if coreR <= 0 {
		return nil, invalid("erosion of %g m collapses the urban core (buffer %g m)", o.erosionM, urbanBufferM)
	}
	if ringOuter <= ringInner {
		return nil, invalid("erosion of %g m collapses the rural ring (%g-%g m)", o.erosionM, urbanBufferM, outerM)
	}

	z := &AnalysisZone{
		Center: center,
		UrbanCore: Region{
			Name:    NameUrbanCore,
			Polygon: orb.Polygon{circle(center, coreR, o.segments)},
			OuterM:  coreR,
		},
		RuralRing: Region{
			Name:    NameRuralRing,
			Polygon: orb.Polygon{circle(center, ringOuter, o.segments), reverse(circle(center, ringInner, o.segments))},
			InnerM:  ringInner,
			OuterM:  ringOuter,
		},
		FullExtent: Region{
			Name:    NameFullExtent,
			Polygon: orb.Polygon{circle(center, outerM, o.segments)},
			OuterM:  outerM,
		},
	}

	if z.RuralRing.AreaM2() <= 0 {
		return nil, invalid("rural ring has no area")
	}
	return z, nil
}

func validateCenter(p orb.Point) error {
	if p.Lat() < -90 || p.Lat() > 90 || p.Lon() < -180 || p.Lon() > 180 {
		return invalid("center %v is not a lon/lat coordinate", p)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return eris.Wrapf(ErrInvalidZoneConfig, format, args...)
}

// circle approximates a geodesic circle as a closed ring, clockwise from north.
func circle(center orb.Point, radiusM float64, segments int) orb.Ring {
	ring := make(orb.Ring, 0, segments+1)
	step := 360.0 / float64(segments)
	for i := 0; i < segments; i++ {
		ring = append(ring, geo.PointAtBearingAndDistance(center, float64(i)*step, radiusM))
	}
	return append(ring, ring[0])
}

func reverse(r orb.Ring) orb.Ring {
	out := make(orb.Ring, len(r))
	for i, p := range r {
		out[len(r)-1-i] = p
	}
	return out
}
