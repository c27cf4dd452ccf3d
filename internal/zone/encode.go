package zone

import (
	"maps"
	"slices"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
)

const srid = 4326

// EWKB encodes the region as an SRID 4326 EWKB polygon for PostGIS.
func (r Region) EWKB() ([]byte, error) {
	if len(r.Polygon) == 0 {
		return nil, eris.Errorf("zone: region %q has no rings", r.Name)
	}
	poly := geom.NewPolygon(geom.XY).SetSRID(srid)
	for i, ring := range r.Polygon {
		lr := geom.NewLinearRingFlat(geom.XY, flatCoords(ring))
		if err := poly.Push(lr); err != nil {
			return nil, eris.Wrapf(err, "zone: push ring %d of %s", i, r.Name)
		}
	}
	data, err := ewkb.Marshal(poly, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrapf(err, "zone: encode %s", r.Name)
	}
	return data, nil
}

// DecodeEWKB converts an EWKB polygon back into an orb polygon.
func DecodeEWKB(data []byte) (orb.Polygon, error) {
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "zone: decode EWKB")
	}
	poly, ok := g.(*geom.Polygon)
	if !ok {
		return nil, eris.Errorf("zone: expected polygon, got %T", g)
	}
	out := make(orb.Polygon, 0, poly.NumLinearRings())
	for i := 0; i < poly.NumLinearRings(); i++ {
		lr := poly.LinearRing(i)
		ring := make(orb.Ring, 0, lr.NumCoords())
		for _, c := range lr.Coords() {
			ring = append(ring, orb.Point{c.X(), c.Y()})
		}
		out = append(out, ring)
	}
	return out, nil
}

func flatCoords(ring orb.Ring) []float64 {
	flat := make([]float64, 0, len(ring)*2)
	for _, p := range ring {
		flat = append(flat, p[0], p[1])
	}
	return flat
}

// FeatureCollection renders the zones of a city as GeoJSON features.
func (z *AnalysisZone) FeatureCollection(city string) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, r := range []Region{z.UrbanCore, z.RuralRing, z.FullExtent} {
		f := geojson.NewFeature(r.Polygon)
		f.Properties["city"] = city
		f.Properties["zone"] = r.Name
		f.Properties["inner_m"] = r.InnerM
		f.Properties["outer_m"] = r.OuterM
		f.Properties["area_km2"] = r.AreaM2() / 1e6
		fc.Append(f)
	}
	return fc
}

// WriteShapefile writes the zones of each city to a polygon shapefile at path.
func WriteShapefile(path string, zones map[string]*AnalysisZone) error {
	w, err := shp.Create(path, shp.POLYGON)
	if err != nil {
		return eris.Wrapf(err, "zone: create shapefile %s", path)
	}
	defer w.Close()

	fields := []shp.Field{
		shp.StringField("CITY", 32),
		shp.StringField("ZONE", 16),
		shp.FloatField("INNER_M", 12, 1),
		shp.FloatField("OUTER_M", 12, 1),
	}
	if err := w.SetFields(fields); err != nil {
		return eris.Wrap(err, "zone: set shapefile fields")
	}

	for _, city := range slices.Sorted(maps.Keys(zones)) {
		z := zones[city]
		for _, r := range []Region{z.UrbanCore, z.RuralRing, z.FullExtent} {
			parts := make([][]shp.Point, 0, len(r.Polygon))
			for _, ring := range r.Polygon {
				pts := make([]shp.Point, 0, len(ring))
				for _, p := range ring {
					pts = append(pts, shp.Point{X: p[0], Y: p[1]})
				}
				parts = append(parts, pts)
			}
			poly := shp.Polygon(*shp.NewPolyLine(parts))
			row := int(w.Write(&poly))
			attrs := []any{city, r.Name, r.InnerM, r.OuterM}
			for i, v := range attrs {
				if err := w.WriteAttribute(row, i, v); err != nil {
					return eris.Wrapf(err, "zone: write attribute %d for %s/%s", i, city, r.Name)
				}
			}
		}
	}
	return nil
}
