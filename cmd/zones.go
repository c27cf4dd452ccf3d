package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/model"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/pipeline"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/zone"
)

var (
	zonesCities    []string
	zonesShapefile string
)

var zonesCmd = &cobra.Command{
	Use:   "zones",
	Short: "Build analysis zones and export them",
	Long:  "Builds the urban core, rural ring and full extent for each city and writes them as GeoJSON to stdout, or as a shapefile with --shapefile.",
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := model.LoadCities(cfg.CitiesFile)
		if err != nil {
			return err
		}
		cities, err := catalog.Select(zonesCities)
		if err != nil {
			return err
		}

		zones, err := buildZones(cities, pipeline.NewAnalyzer(nil, nil, nil, nil, nil, settingsFrom(cfg.Analysis)))
		if err != nil {
			return err
		}

		if zonesShapefile != "" {
			if err := zone.WriteShapefile(zonesShapefile, zones); err != nil {
				return err
			}
			zap.L().Info("zones written", zap.String("path", zonesShapefile), zap.Int("cities", len(zones)))
			return nil
		}
		return writeZonesGeoJSON(os.Stdout, cities, zones)
	},
}

func init() {
	zonesCmd.Flags().StringSliceVar(&zonesCities, "cities", nil, "cities to export (default all)")
	zonesCmd.Flags().StringVar(&zonesShapefile, "shapefile", "", "write a shapefile to this path instead of GeoJSON")
	rootCmd.AddCommand(zonesCmd)
}

// buildZones builds zones for every city, failing on the first invalid one.
func buildZones(cities []model.City, a *pipeline.Analyzer) (map[string]*zone.AnalysisZone, error) {
	out := make(map[string]*zone.AnalysisZone, len(cities))
	for _, c := range cities {
		z, err := a.Zones(c)
		if err != nil {
			return nil, err
		}
		out[c.Name] = z
	}
	return out, nil
}

// writeZonesGeoJSON merges every city's zones into one FeatureCollection,
// in the order the cities were given.
func writeZonesGeoJSON(w io.Writer, cities []model.City, zones map[string]*zone.AnalysisZone) error {
	fc := geojson.NewFeatureCollection()
	for _, c := range cities {
		z, ok := zones[c.Name]
		if !ok {
			continue
		}
		fc.Features = append(fc.Features, z.FeatureCollection(c.Name).Features...)
	}
	data, err := json.Marshal(fc)
	if err != nil {
		return eris.Wrap(err, "encode zones")
	}
	_, err = w.Write(append(data, '\n'))
	return err
}
