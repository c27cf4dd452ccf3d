package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/model"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/zone"
)

// prepareRecord assigns an ID and creation time when they are missing.
func prepareRecord(rec *model.Record) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
}

func decodeRun(r *model.Run, cities, years, summary []byte) error {
	if err := json.Unmarshal(cities, &r.Cities); err != nil {
		return eris.Wrap(err, "unmarshal cities")
	}
	if err := json.Unmarshal(years, &r.Years); err != nil {
		return eris.Wrap(err, "unmarshal years")
	}
	if len(summary) > 0 {
		r.Summary = &model.RunSummary{}
		if err := json.Unmarshal(summary, r.Summary); err != nil {
			return eris.Wrap(err, "unmarshal summary")
		}
	}
	return nil
}

type zoneRow struct {
	name    string
	innerM  float64
	outerM  float64
	areaKm2 float64
	geom    []byte
}

func zoneRows(z *zone.AnalysisZone) ([]zoneRow, error) {
	if z == nil {
		return nil, eris.New("store: nil zone")
	}
	regions := []zone.Region{z.UrbanCore, z.RuralRing, z.FullExtent}
	out := make([]zoneRow, 0, len(regions))
	for _, r := range regions {
		geom, err := r.EWKB()
		if err != nil {
			return nil, err
		}
		out = append(out, zoneRow{
			name:    r.Name,
			innerM:  r.InnerM,
			outerM:  r.OuterM,
			areaKm2: r.AreaM2() / 1e6,
			geom:    geom,
		})
	}
	return out, nil
}
