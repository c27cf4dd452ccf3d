// Package raster describes raster bands, image handles and pixel masks
// consumed by the zonal reduction engine.
package raster

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
)

// Kind is the semantic type of a raster band.
type Kind string

const (
	KindTemperature Kind = "temperature"
	KindRadiance    Kind = "radiance"
	KindIndex       Kind = "index"
	KindClass       Kind = "class"

	// KindConcentration is an atmospheric column density or mixing ratio.
	KindConcentration Kind = "concentration"
)

// Band is a named, typed raster surface.
type Band struct {
	Name string `json:"name" yaml:"name"`
	Kind Kind   `json:"kind" yaml:"kind"`
	Unit string `json:"unit,omitempty" yaml:"unit,omitempty"`
	// Role distinguishes bands of the same kind, e.g. "day" and "night".
	Role string `json:"role,omitempty" yaml:"role,omitempty"`
}

// BandNotFoundError is returned when a band cannot be resolved unambiguously.
type BandNotFoundError struct {
	Source     string
	Name       string
	Kind       Kind
	Role       string
	Candidates []string
}

func (e *BandNotFoundError) Error() string {
	var want string
	if e.Name != "" {
		want = fmt.Sprintf("band %q", e.Name)
	} else {
		want = fmt.Sprintf("%s band", e.Kind)
		if e.Role != "" {
			want = fmt.Sprintf("%s %s band", e.Role, e.Kind)
		}
	}
	if len(e.Candidates) > 1 {
		return fmt.Sprintf("raster: %s is ambiguous in source %q (candidates: %s)", want, e.Source, strings.Join(e.Candidates, ", "))
	}
	return fmt.Sprintf("raster: %s not found in source %q", want, e.Source)
}

// Registry maps band names to semantic types, per raster source.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]map[string]Band
}

// NewRegistry creates an empty band registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]map[string]Band)}
}

// Register adds bands to a source. Registering the same band name twice for one source is an error.
func (r *Registry) Register(source string, bands ...Band) error {
	if source == "" {
		return eris.New("raster: source name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.sources[source]
	if !ok {
		m = make(map[string]Band)
		r.sources[source] = m
	}
	for _, b := range bands {
		if b.Name == "" {
			return eris.Errorf("raster: band without name in source %q", source)
		}
		if _, dup := m[b.Name]; dup {
			return eris.Errorf("raster: band %q already registered for source %q", b.Name, source)
		}
		m[b.Name] = b
	}
	return nil
}

// Resolve returns the band registered under name for source.
func (r *Registry) Resolve(source, name string) (Band, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if b, ok := r.sources[source][name]; ok {
		return b, nil
	}
	return Band{}, &BandNotFoundError{Source: source, Name: name}
}

// ResolveKind returns the single band of the given kind and role for source.
// An empty role matches any role. Zero or several matches yield a BandNotFoundError.
func (r *Registry) ResolveKind(source string, kind Kind, role string) (Band, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []Band
	for _, b := range r.sources[source] {
		if b.Kind == kind && (role == "" || b.Role == role) {
			matches = append(matches, b)
		}
	}
	if len(matches) == 1 {
		return matches[0], nil
	}
	names := make([]string, 0, len(matches))
	for _, b := range matches {
		names = append(names, b.Name)
	}
	sort.Strings(names)
	return Band{}, &BandNotFoundError{Source: source, Kind: kind, Role: role, Candidates: names}
}

// Sources lists the registered sources, sorted.
func (r *Registry) Sources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.sources))
	for s := range r.sources {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Well-known raster sources.
const (
	SourceMODISLST     = "modis_lst"
	SourceLandsat      = "landsat"
	SourceVIIRS        = "viirs_monthly"
	SourceMODISIndices = "modis_vi"
	SourceESRI         = "esri_lulc"
	SourceDynamicWorld = "dynamic_world"
	SourceWorldCover   = "esa_worldcover"
	SourceGHSL         = "ghsl"
	SourceSentinel5P   = "sentinel5p"
)

// Pollutants lists the Sentinel-5P products by the role their band is
// registered under.
var Pollutants = []string{"NO2", "O3", "SO2", "CO", "CH4", "AER_AI"}

// DefaultRegistry returns a registry preloaded with the bands the analyses use.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}
	must(r.Register(SourceMODISLST,
		Band{Name: "LST_Day_1km", Kind: KindTemperature, Unit: "degC", Role: "day"},
		Band{Name: "LST_Night_1km", Kind: KindTemperature, Unit: "degC", Role: "night"},
	))
	must(r.Register(SourceLandsat,
		Band{Name: "ST_B10", Kind: KindTemperature, Unit: "degC", Role: "day"},
	))
	must(r.Register(SourceVIIRS,
		Band{Name: "avg_rad", Kind: KindRadiance, Unit: "nW/cm2/sr"},
	))
	must(r.Register(SourceMODISIndices,
		Band{Name: "NDVI", Kind: KindIndex, Role: "ndvi"},
		Band{Name: "EVI", Kind: KindIndex, Role: "evi"},
	))
	must(r.Register(SourceESRI,
		Band{Name: "b1", Kind: KindClass},
	))
	must(r.Register(SourceDynamicWorld,
		Band{Name: "built", Kind: KindIndex, Role: "built"},
		Band{Name: "label", Kind: KindClass},
	))
	must(r.Register(SourceWorldCover,
		Band{Name: "Map", Kind: KindClass},
	))
	must(r.Register(SourceGHSL,
		Band{Name: "built_surface", Kind: KindIndex, Role: "built"},
	))
	must(r.Register(SourceSentinel5P,
		Band{Name: "tropospheric_NO2_column_number_density", Kind: KindConcentration, Unit: "mol/m2", Role: "NO2"},
		Band{Name: "O3_column_number_density", Kind: KindConcentration, Unit: "mol/m2", Role: "O3"},
		Band{Name: "SO2_column_number_density", Kind: KindConcentration, Unit: "mol/m2", Role: "SO2"},
		Band{Name: "CO_column_number_density", Kind: KindConcentration, Unit: "mol/m2", Role: "CO"},
		Band{Name: "CH4_column_volume_mixing_ratio_dry_air", Kind: KindConcentration, Unit: "ppb", Role: "CH4"},
		Band{Name: "absorbing_aerosol_index", Kind: KindConcentration, Role: "AER_AI"},
	))
	return r
}
