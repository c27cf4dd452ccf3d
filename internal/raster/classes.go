package raster

import (
	"slices"
	"strconv"

	"github.com/rotisserie/eris"
)

// Built-up class codes per land-cover product.
const (
	ESRIBuiltClass         = 7
	WorldCoverBuiltClass   = 50
	DynamicWorldBuiltClass = 6
)

// ESRIClasses names the Esri 10 m land-cover class codes.
var ESRIClasses = map[int]string{
	1:  "Water",
	2:  "Trees",
	4:  "Flooded_Vegetation",
	5:  "Crops",
	7:  "Built_Area",
	8:  "Bare_Ground",
	9:  "Snow_Ice",
	10: "Clouds",
	11: "Rangeland",
}

// WorldCoverClasses names the ESA WorldCover class codes.
var WorldCoverClasses = map[int]string{
	10:  "Tree_Cover",
	20:  "Shrubland",
	30:  "Grassland",
	40:  "Cropland",
	50:  "Built_Up",
	60:  "Bare_Sparse_Vegetation",
	70:  "Snow_Ice",
	80:  "Permanent_Water",
	90:  "Herbaceous_Wetland",
	95:  "Mangroves",
	100: "Moss_Lichen",
}

// DynamicWorldClasses names the Dynamic World label codes.
var DynamicWorldClasses = map[int]string{
	0: "Water",
	1: "Trees",
	2: "Grass",
	3: "Flooded_Vegetation",
	4: "Crops",
	5: "Shrub_Scrub",
	6: "Built",
	7: "Bare",
	8: "Snow_Ice",
}

// ClassScheme is the code table of one categorical land-cover product.
type ClassScheme struct {
	Source     string
	Names      map[int]string
	Built      int
	Vegetation []int
}

var schemes = map[string]ClassScheme{
	SourceESRI: {
		Source:     SourceESRI,
		Names:      ESRIClasses,
		Built:      ESRIBuiltClass,
		Vegetation: []int{2, 4, 5, 11},
	},
	SourceWorldCover: {
		Source:     SourceWorldCover,
		Names:      WorldCoverClasses,
		Built:      WorldCoverBuiltClass,
		Vegetation: []int{10, 20, 30, 40, 90, 95},
	},
	SourceDynamicWorld: {
		Source:     SourceDynamicWorld,
		Names:      DynamicWorldClasses,
		Built:      DynamicWorldBuiltClass,
		Vegetation: []int{1, 2, 3, 4, 5},
	},
}

// SchemeFor returns the class table of a categorical source.
func SchemeFor(source string) (ClassScheme, error) {
	s, ok := schemes[source]
	if !ok {
		return ClassScheme{}, eris.Errorf("raster: no class scheme for source %q", source)
	}
	return s, nil
}

// Name returns the label for a class key, or "Unknown_<key>".
func (s ClassScheme) Name(key string) string {
	code, err := strconv.Atoi(key)
	if err == nil {
		if name, ok := s.Names[code]; ok {
			return name
		}
	}
	return "Unknown_" + key
}

// BuiltName is the label of the built-up class.
func (s ClassScheme) BuiltName() string {
	return s.Names[s.Built]
}

// IsVegetation reports whether code is one of the vegetated classes.
func (s ClassScheme) IsVegetation(code int) bool {
	return slices.Contains(s.Vegetation, code)
}
