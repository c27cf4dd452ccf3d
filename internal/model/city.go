package model

import (
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"
)

// City is one analysis target.
type City struct {
	Name       string  `yaml:"name" json:"name"`
	Lat        float64 `yaml:"lat" json:"lat"`
	Lon        float64 `yaml:"lon" json:"lon"`
	BufferM    float64 `yaml:"buffer_m" json:"bufferM"`
	Type       string  `yaml:"type,omitempty" json:"type,omitempty"`
	Population int     `yaml:"population,omitempty" json:"population,omitempty"`
}

// Cities is a name-indexed city catalog. Lookups are case-insensitive.
type Cities struct {
	byKey map[string]City
	order []string
}

var folder = cases.Fold()

func cityKey(name string) string {
	return folder.String(strings.TrimSpace(name))
}

// NewCities builds a catalog. Later entries replace earlier ones with the same name.
func NewCities(list []City) *Cities {
	c := &Cities{byKey: make(map[string]City, len(list))}
	for _, city := range list {
		k := cityKey(city.Name)
		if _, ok := c.byKey[k]; !ok {
			c.order = append(c.order, k)
		}
		c.byKey[k] = city
	}
	return c
}

// Get returns the named city.
func (c *Cities) Get(name string) (City, error) {
	city, ok := c.byKey[cityKey(name)]
	if !ok {
		return City{}, eris.Errorf("cities: unknown city %q", name)
	}
	return city, nil
}

// All returns the cities in catalog order.
func (c *Cities) All() []City {
	out := make([]City, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, c.byKey[k])
	}
	return out
}

// Select returns the named cities, or all cities when names is empty.
func (c *Cities) Select(names []string) ([]City, error) {
	if len(names) == 0 {
		return c.All(), nil
	}
	out := make([]City, 0, len(names))
	for _, n := range names {
		city, err := c.Get(n)
		if err != nil {
			return nil, err
		}
		out = append(out, city)
	}
	return out, nil
}

// Names returns the display names, sorted.
func (c *Cities) Names() []string {
	out := make([]string, 0, len(c.byKey))
	for _, city := range c.byKey {
		out = append(out, city.Name)
	}
	sort.Strings(out)
	return out
}

type cityFile struct {
	Cities []City `yaml:"cities"`
}

// LoadCities reads a YAML catalog from path. An empty path yields DefaultCities.
func LoadCities(path string) (*Cities, error) {
	if path == "" {
		return NewCities(DefaultCities()), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "cities: read %s", path)
	}
	var f cityFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "cities: parse %s", path)
	}
	for i, city := range f.Cities {
		if city.Name == "" {
			return nil, eris.Errorf("cities: entry %d has no name", i)
		}
		if city.BufferM <= 0 {
			return nil, eris.Errorf("cities: %s buffer_m must be > 0", city.Name)
		}
		if city.Lat < -90 || city.Lat > 90 || city.Lon < -180 || city.Lon > 180 {
			return nil, eris.Errorf("cities: %s has invalid coordinates", city.Name)
		}
	}
	return NewCities(f.Cities), nil
}

// DefaultCities returns the built-in Uzbekistan city list.
func DefaultCities() []City {
	return []City{
		{Name: "Tashkent", Lat: 41.2995, Lon: 69.2401, BufferM: 15000, Type: "capital"},
		{Name: "Nukus", Lat: 42.4731, Lon: 59.6103, BufferM: 10000, Type: "republic_capital"},
		{Name: "Andijan", Lat: 40.7821, Lon: 72.3442, BufferM: 12000, Type: "regional_capital"},
		{Name: "Bukhara", Lat: 39.7748, Lon: 64.4286, BufferM: 10000, Type: "regional_capital"},
		{Name: "Samarkand", Lat: 39.6542, Lon: 66.9597, BufferM: 12000, Type: "regional_capital"},
		{Name: "Namangan", Lat: 40.9983, Lon: 71.6726, BufferM: 12000, Type: "regional_capital"},
		{Name: "Jizzakh", Lat: 40.1158, Lon: 67.8422, BufferM: 8000, Type: "regional_capital"},
		{Name: "Qarshi", Lat: 38.8606, Lon: 65.7887, BufferM: 8000, Type: "regional_capital"},
		{Name: "Navoiy", Lat: 40.1030, Lon: 65.3686, BufferM: 10000, Type: "regional_capital"},
		{Name: "Termez", Lat: 37.2242, Lon: 67.2783, BufferM: 8000, Type: "regional_capital"},
		{Name: "Gulistan", Lat: 40.4910, Lon: 68.7810, BufferM: 8000, Type: "regional_capital"},
		{Name: "Nurafshon", Lat: 41.0167, Lon: 69.3417, BufferM: 8000, Type: "city"},
		{Name: "Fergana", Lat: 40.3842, Lon: 71.7843, BufferM: 12000, Type: "regional_capital"},
		{Name: "Urgench", Lat: 41.5506, Lon: 60.6317, BufferM: 10000, Type: "regional_capital"},
	}
}
