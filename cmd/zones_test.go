package main

import (
	"bytes"
	"testing"

	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/model"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/pipeline"
)

func TestBuildZonesAndGeoJSON(t *testing.T) {
	cities := model.DefaultCities()[:2]
	a := pipeline.NewAnalyzer(nil, nil, nil, nil, nil, pipeline.DefaultSettings())

	zones, err := buildZones(cities, a)
	require.NoError(t, err)
	require.Len(t, zones, 2)

	var buf bytes.Buffer
	require.NoError(t, writeZonesGeoJSON(&buf, cities, zones))

	fc, err := geojson.UnmarshalFeatureCollection(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, fc.Features, 6)
	assert.Equal(t, cities[0].Name, fc.Features[0].Properties["city"])
	assert.Equal(t, cities[1].Name, fc.Features[5].Properties["city"])
}

func TestBuildZonesInvalidCity(t *testing.T) {
	a := pipeline.NewAnalyzer(nil, nil, nil, nil, nil, pipeline.DefaultSettings())
	_, err := buildZones([]model.City{{Name: "Nowhere", Lat: 41, Lon: 69, BufferM: 0}}, a)
	assert.Error(t, err)
}
