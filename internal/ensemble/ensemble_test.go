package ensemble

import (
	"context"
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/model"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/raster"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/reduce"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/uncertainty"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/zone"
)

func TestWeights(t *testing.T) {
	tests := []struct {
		name    string
		names   []string
		primary string
		w       float64
		want    map[string]float64
	}{
		{"single", []string{"ghsl"}, "esri_lulc", 0.5, map[string]float64{"ghsl": 1}},
		{"single primary", []string{"esri_lulc"}, "esri_lulc", 0.2, map[string]float64{"esri_lulc": 1}},
		{"primary among three", []string{"esri_lulc", "ghsl", "dynamic_world"}, "esri_lulc", 0.5,
			map[string]float64{"esri_lulc": 0.5, "ghsl": 0.25, "dynamic_world": 0.25}},
		{"primary absent", []string{"ghsl", "dynamic_world", "esa_worldcover", "x"}, "esri_lulc", 0.5,
			map[string]float64{"ghsl": 0.25, "dynamic_world": 0.25, "esa_worldcover": 0.25, "x": 0.25}},
		{"duplicates collapse", []string{"ghsl", "ghsl", "esri_lulc"}, "esri_lulc", 0.7,
			map[string]float64{"esri_lulc": 0.7, "ghsl": 0.3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Weights(tt.names, tt.primary, tt.w)
			require.NoError(t, err)
			require.Len(t, got, len(tt.want))
			for k, v := range tt.want {
				assert.InDelta(t, v, got[k], 1e-12, k)
			}
		})
	}
}

func TestWeightsSumToOne(t *testing.T) {
	all := []string{"a", "b", "c", "d", "e", "f", "g"}
	for n := 1; n <= len(all); n++ {
		for _, primary := range []string{"a", "zzz"} {
			for _, w := range []float64{0, 0.3, 0.5, 0.9, 1} {
				got, err := Weights(all[:n], primary, w)
				require.NoError(t, err)
				sum := 0.0
				for _, v := range got {
					sum += v
				}
				assert.InDelta(t, 1.0, sum, 1e-9, "n=%d primary=%s w=%g", n, primary, w)
			}
		}
	}
}

func TestWeightsErrors(t *testing.T) {
	_, err := Weights(nil, "esri_lulc", 0.5)
	require.Error(t, err)
	assert.True(t, model.IsMissingInput(err))

	_, err = Weights([]string{"esri_lulc", "ghsl"}, "esri_lulc", 1.5)
	assert.Error(t, err)
}

func esri(g *raster.Grid) raster.Image {
	return raster.Image{ID: "esri/2020", Source: raster.SourceESRI, Band: raster.Band{Name: "b1", Kind: raster.KindClass}, Local: g}
}

func ghsl(g *raster.Grid) raster.Image {
	return raster.Image{ID: "ghsl/2020", Source: raster.SourceGHSL, Band: raster.Band{Name: "built_surface", Kind: raster.KindIndex}, Local: g}
}

func dw(g *raster.Grid) raster.Image {
	return raster.Image{ID: "dw/2020", Source: raster.SourceDynamicWorld, Band: raster.Band{Name: "built", Kind: raster.KindIndex}, Local: g}
}

func TestBuild(t *testing.T) {
	c := NewClassifier(nil)
	cl, err := c.Build("Tashkent", 2020, []raster.Image{ghsl(nil), esri(nil), dw(nil)})
	require.NoError(t, err)

	assert.Equal(t, []string{raster.SourceDynamicWorld, raster.SourceESRI, raster.SourceGHSL}, cl.Sources)
	assert.InDelta(t, 0.5, cl.Weights[raster.SourceESRI], 1e-12)
	require.Len(t, cl.Urban.Terms, 3)
	assert.Equal(t, raster.SourceDynamicWorld, cl.Urban.Terms[0].Source)

	esriTerm := cl.Urban.Terms[1]
	require.NotNil(t, esriTerm.Class)
	assert.Equal(t, raster.ESRIBuiltClass, *esriTerm.Class)
	assert.Equal(t, 0.01, cl.Urban.Terms[2].Scale)
	assert.Equal(t, DefaultThreshold, cl.Urban.Threshold)
	assert.False(t, cl.Urban.Invert)
	assert.True(t, cl.Rural.Invert)
}

func TestBuildErrors(t *testing.T) {
	c := NewClassifier(nil)

	_, err := c.Build("Nukus", 2017, nil)
	var mi *model.MissingInputError
	require.ErrorAs(t, err, &mi)
	assert.Equal(t, "Nukus", mi.City)
	assert.Equal(t, 2017, mi.Year)

	_, err = c.Build("Nukus", 2017, []raster.Image{esri(nil), esri(nil)})
	assert.Error(t, err)

	_, err = c.Build("Nukus", 2017, []raster.Image{{ID: "x", Source: "unknown"}})
	assert.Error(t, err)

	_, err = NewClassifier(nil, WithRules(map[string]Rule{raster.SourceESRI: {Scale: 1}})).
		Build("Nukus", 2017, []raster.Image{esri(nil)})
	assert.Error(t, err)
}

func TestMaskDeterministic(t *testing.T) {
	grids := map[string]*raster.Grid{
		"esri/2020": {Width: 3, Height: 1, PixelSize: 1, Values: []float64{7, 5, 7}},
		"ghsl/2020": {Width: 3, Height: 1, PixelSize: 1, Values: []float64{90, 10, math.NaN()}},
		"dw/2020":   {Width: 3, Height: 1, PixelSize: 1, Values: []float64{0.8, 0.6, 0.1}},
	}
	c := NewClassifier(nil)
	a, err := c.Build("Samarkand", 2020, []raster.Image{esri(nil), ghsl(nil), dw(nil)})
	require.NoError(t, err)
	b, err := c.Build("Samarkand", 2020, []raster.Image{dw(nil), ghsl(nil), esri(nil)})
	require.NoError(t, err)

	ma, err := a.Urban.Evaluate(grids)
	require.NoError(t, err)
	mb, err := b.Urban.Evaluate(grids)
	require.NoError(t, err)
	for i := range ma.Values {
		assert.Equal(t, math.Float64bits(ma.Values[i]), math.Float64bits(mb.Values[i]), "pixel %d", i)
	}

	// 0.25*0.8 + 0.5 + 0.25*0.9 = 0.925; 0.25*0.6 + 0 + 0.25*0.1 = 0.175
	assert.Equal(t, 1.0, ma.Values[0])
	assert.Equal(t, 0.0, ma.Values[1])
	assert.True(t, math.IsNaN(ma.Values[2]))
}

func cityFixture(t *testing.T, core, outside float64) (*zone.AnalysisZone, *raster.Grid) {
	t.Helper()
	center := orb.Point{69.24, 41.30}
	z, err := zone.Build(center, 1000, zone.WithRuralBufferKM(1))
	require.NoError(t, err)

	const px = 0.002
	g := raster.NewGrid(30, 30, center[0]-15*px, center[1]+15*px, px)
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			lon, lat := g.Center(x, y)
			if z.UrbanCore.Contains(orb.Point{lon, lat}) {
				g.Set(x, y, core)
			} else {
				g.Set(x, y, outside)
			}
		}
	}
	return z, g
}

func TestClassifyCountsUrbanPixels(t *testing.T) {
	z, g := cityFixture(t, 7, 5)
	img := esri(g)
	svc := uncertainty.NewService(reduce.NewLocal(map[string]*raster.Grid{img.ID: g}))

	cl, err := NewClassifier(svc).Classify(context.Background(), "Tashkent", 2020, []raster.Image{img}, z, reduce.DefaultParams(500))
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{raster.SourceESRI: 1}, cl.Weights)
	assert.Greater(t, cl.UrbanPixels, int64(DefaultMinUrbanPixels))
	assert.False(t, cl.LowConfidence)
}

func TestClassifyLowConfidence(t *testing.T) {
	z, g := cityFixture(t, 5, 5)
	img := esri(g)
	svc := uncertainty.NewService(reduce.NewLocal(map[string]*raster.Grid{img.ID: g}))

	cl, err := NewClassifier(svc).Classify(context.Background(), "Nurafshon", 2016, []raster.Image{img}, z, reduce.DefaultParams(500))
	require.NoError(t, err)
	require.NotNil(t, cl)
	assert.Equal(t, int64(0), cl.UrbanPixels)
	assert.True(t, cl.LowConfidence)
}

func TestClassifyCountError(t *testing.T) {
	z, _ := cityFixture(t, 7, 5)
	svc := uncertainty.NewService(reduce.ReducerFunc(func(context.Context, reduce.Request) (reduce.Response, error) {
		return nil, assert.AnError
	}))

	_, err := NewClassifier(svc).Classify(context.Background(), "Tashkent", 2020, []raster.Image{esri(nil)}, z, reduce.DefaultParams(500))
	assert.ErrorIs(t, err, assert.AnError)
}
