package raster

import (
	"math"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"
)

// Image is a handle to a remote raster band, optionally masked, optionally
// backed by a locally materialized pixel grid.
type Image struct {
	ID     string    `json:"id"`
	Source string    `json:"source"`
	Band   Band      `json:"band"`
	Mask   *MaskSpec `json:"mask,omitempty"`
	Local  *Grid     `json:"-"`
}

// WithMask returns a copy of img restricted to pixels where m evaluates to 1.
func (img Image) WithMask(m *MaskSpec) Image {
	img.Mask = m
	return img
}

// Grid is a row-major pixel array on a regular lon/lat grid. NaN marks nodata.
type Grid struct {
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	West      float64   `json:"west"`
	North     float64   `json:"north"`
	PixelSize float64   `json:"pixelSize"`
	Values    []float64 `json:"values"`
}

// NewGrid allocates a grid filled with NaN.
func NewGrid(width, height int, west, north, pixelSize float64) *Grid {
	v := make([]float64, width*height)
	for i := range v {
		v[i] = math.NaN()
	}
	return &Grid{Width: width, Height: height, West: west, North: north, PixelSize: pixelSize, Values: v}
}

// At returns the value at column x, row y.
func (g *Grid) At(x, y int) float64 { return g.Values[y*g.Width+x] }

// Set writes the value at column x, row y.
func (g *Grid) Set(x, y int, v float64) { g.Values[y*g.Width+x] = v }

// Center returns the lon/lat of the pixel center at column x, row y.
func (g *Grid) Center(x, y int) (lon, lat float64) {
	return g.West + (float64(x)+0.5)*g.PixelSize, g.North - (float64(y)+0.5)*g.PixelSize
}

// Validate checks that the value slice matches the declared dimensions.
func (g *Grid) Validate() error {
	if g.Width <= 0 || g.Height <= 0 {
		return eris.Errorf("raster: grid dimensions %dx%d are invalid", g.Width, g.Height)
	}
	if len(g.Values) != g.Width*g.Height {
		return eris.Errorf("raster: grid has %d values, want %d", len(g.Values), g.Width*g.Height)
	}
	return nil
}

func (g *Grid) sameShape(o *Grid) bool {
	return g.Width == o.Width && g.Height == o.Height
}

// Term is one weighted source in a mask expression. When Class is set the
// source is a class-code band and contributes 1 where the pixel equals Class.
// Otherwise the pixel value is used, multiplied by Scale when it is non-zero.
type Term struct {
	ImageID string  `json:"imageId"`
	Source  string  `json:"source"`
	Weight  float64 `json:"weight"`
	Class   *int    `json:"class,omitempty"`
	Scale   float64 `json:"scale,omitempty"`
}

func (t Term) indicator(v float64) float64 {
	if t.Class != nil {
		if v == float64(*t.Class) {
			return 1
		}
		return 0
	}
	if t.Scale != 0 {
		return v * t.Scale
	}
	return v
}

// MaskSpec is a weighted-sum threshold mask: a pixel passes when
// Σ weightᵢ·indicatorᵢ > Threshold. Invert selects the complement.
type MaskSpec struct {
	Terms     []Term  `json:"terms"`
	Threshold float64 `json:"threshold"`
	Invert    bool    `json:"invert,omitempty"`
}

// NewMaskSpec builds a mask with terms sorted by source name so identical
// inputs always produce the same evaluation order.
func NewMaskSpec(terms []Term, threshold float64) *MaskSpec {
	sorted := make([]Term, len(terms))
	copy(sorted, terms)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Source < sorted[j].Source })
	return &MaskSpec{Terms: sorted, Threshold: threshold}
}

// Complement returns the inverted mask.
func (m *MaskSpec) Complement() *MaskSpec {
	c := *m
	c.Terms = append([]Term(nil), m.Terms...)
	c.Invert = !m.Invert
	return &c
}

// Evaluate computes the mask over materialized grids keyed by image ID.
// Output pixels are 1 (pass), 0 (fail) or NaN when any input is nodata.
func (m *MaskSpec) Evaluate(grids map[string]*Grid) (*Grid, error) {
	if len(m.Terms) == 0 {
		return nil, eris.New("raster: mask has no terms")
	}
	var ref *Grid
	for _, t := range m.Terms {
		g, ok := grids[t.ImageID]
		if !ok || g == nil {
			return nil, eris.Errorf("raster: no local grid for mask term %q", t.ImageID)
		}
		if ref == nil {
			ref = g
		} else if !ref.sameShape(g) {
			return nil, eris.Errorf("raster: grid %q shape differs from %q", t.ImageID, m.Terms[0].ImageID)
		}
	}

	out := NewGrid(ref.Width, ref.Height, ref.West, ref.North, ref.PixelSize)
	for i := range out.Values {
		sum := 0.0
		valid := true
		for _, t := range m.Terms {
			v := grids[t.ImageID].Values[i]
			if math.IsNaN(v) {
				valid = false
				break
			}
			sum += t.Weight * t.indicator(v)
		}
		if !valid {
			continue
		}
		pass := sum > m.Threshold
		if m.Invert {
			pass = !pass
		}
		if pass {
			out.Values[i] = 1
		} else {
			out.Values[i] = 0
		}
	}
	return out, nil
}

// Histogram counts valid pixels per integer class code.
func Histogram(values []float64) map[string]int64 {
	h := make(map[string]int64)
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		h[strconv.FormatInt(int64(math.Round(v)), 10)]++
	}
	return h
}
