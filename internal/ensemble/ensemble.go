// Package ensemble combines several land-cover classifications into one
// weighted urban/rural mask.
package ensemble

import (
	"context"
	"errors"
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/model"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/raster"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/reduce"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/uncertainty"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/zone"
)

const (
	DefaultPrimaryWeight  = 0.5
	DefaultThreshold      = 0.5
	DefaultMinUrbanPixels = 10
)

// Weights assigns a weight to every classification source. A single source
// gets 1. When primary is present among several sources it gets w and the
// rest share 1−w equally; otherwise all sources share equally.
func Weights(names []string, primary string, w float64) (map[string]float64, error) {
	uniq := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		uniq = append(uniq, n)
	}

	n := len(uniq)
	if n == 0 {
		return nil, &model.MissingInputError{Input: "classification", Reason: "no classification source available"}
	}
	if n == 1 {
		return map[string]float64{uniq[0]: 1}, nil
	}

	out := make(map[string]float64, n)
	if seen[primary] {
		if w < 0 || w > 1 || math.IsNaN(w) {
			return nil, eris.Errorf("ensemble: primary weight %g outside [0, 1]", w)
		}
		rest := (1 - w) / float64(n-1)
		for _, name := range uniq {
			out[name] = rest
		}
		out[primary] = w
		return out, nil
	}
	for _, name := range uniq {
		out[name] = 1 / float64(n)
	}
	return out, nil
}

// Rule maps one source's pixels to a built-up indicator in [0, 1]. Class
// bands match BuiltClass; continuous bands are multiplied by Scale.
type Rule struct {
	BuiltClass int
	Scale      float64
}

// DefaultRules covers the land-cover products in the default band registry.
func DefaultRules() map[string]Rule {
	return map[string]Rule{
		raster.SourceESRI:         {BuiltClass: raster.ESRIBuiltClass},
		raster.SourceWorldCover:   {BuiltClass: raster.WorldCoverBuiltClass},
		raster.SourceDynamicWorld: {BuiltClass: raster.DynamicWorldBuiltClass, Scale: 1},
		raster.SourceGHSL:         {Scale: 0.01},
	}
}

// Classification is the ensemble for one city-year. It is read-only once built.
type Classification struct {
	Sources       []string
	Weights       map[string]float64
	Urban         *raster.MaskSpec
	Rural         *raster.MaskSpec
	UrbanPixels   int64
	LowConfidence bool
}

// Classifier builds classifications and checks them against the urban core.
type Classifier struct {
	svc            *uncertainty.Service
	rules          map[string]Rule
	primary        string
	primaryWeight  float64
	threshold      float64
	minUrbanPixels int64
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithPrimary sets the preferred source and its weight.
func WithPrimary(source string, w float64) Option {
	return func(c *Classifier) {
		c.primary = source
		c.primaryWeight = w
	}
}

// WithThreshold sets the weighted-sum threshold a pixel must exceed to be urban.
func WithThreshold(t float64) Option {
	return func(c *Classifier) { c.threshold = t }
}

// WithMinUrbanPixels sets the urban pixel count below which a
// classification is flagged low confidence.
func WithMinUrbanPixels(n int64) Option {
	return func(c *Classifier) { c.minUrbanPixels = n }
}

// WithRules replaces the per-source indicator rules.
func WithRules(r map[string]Rule) Option {
	return func(c *Classifier) { c.rules = r }
}

// NewClassifier creates a Classifier that counts pixels through svc.
func NewClassifier(svc *uncertainty.Service, opts ...Option) *Classifier {
	c := &Classifier{
		svc:            svc,
		rules:          DefaultRules(),
		primary:        raster.SourceESRI,
		primaryWeight:  DefaultPrimaryWeight,
		threshold:      DefaultThreshold,
		minUrbanPixels: DefaultMinUrbanPixels,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Build derives weights and the urban/rural mask specs without touching the backend.
func (c *Classifier) Build(city string, year int, sources []raster.Image) (*Classification, error) {
	if len(sources) == 0 {
		return nil, &model.MissingInputError{City: city, Year: year, Input: "classification", Reason: "no classification source available"}
	}

	names := make([]string, 0, len(sources))
	bySource := make(map[string]raster.Image, len(sources))
	for _, img := range sources {
		if _, dup := bySource[img.Source]; dup {
			return nil, eris.Errorf("ensemble: duplicate classification source %q", img.Source)
		}
		bySource[img.Source] = img
		names = append(names, img.Source)
	}
	sort.Strings(names)

	weights, err := Weights(names, c.primary, c.primaryWeight)
	if err != nil {
		var mi *model.MissingInputError
		if errors.As(err, &mi) {
			mi.City, mi.Year = city, year
		}
		return nil, err
	}

	terms := make([]raster.Term, 0, len(names))
	for _, name := range names {
		t, err := c.term(bySource[name], weights[name])
		if err != nil {
			return nil, err
		}
		terms = append(terms, t)
	}

	urban := raster.NewMaskSpec(terms, c.threshold)
	return &Classification{
		Sources: names,
		Weights: weights,
		Urban:   urban,
		Rural:   urban.Complement(),
	}, nil
}

func (c *Classifier) term(img raster.Image, w float64) (raster.Term, error) {
	rule, ok := c.rules[img.Source]
	if !ok {
		return raster.Term{}, eris.Errorf("ensemble: no built-up rule for source %q", img.Source)
	}
	t := raster.Term{ImageID: img.ID, Source: img.Source, Weight: w}
	if img.Band.Kind == raster.KindClass {
		if rule.BuiltClass == 0 {
			return raster.Term{}, eris.Errorf("ensemble: source %q has no built class", img.Source)
		}
		class := rule.BuiltClass
		t.Class = &class
		return t, nil
	}
	t.Scale = rule.Scale
	return t, nil
}

// Classify builds the classification and counts urban pixels inside the
// urban core. A count below the minimum marks the result low confidence;
// the classification is still returned.
func (c *Classifier) Classify(ctx context.Context, city string, year int, sources []raster.Image, z *zone.AnalysisZone, p reduce.Params) (*Classification, error) {
	cl, err := c.Build(city, year, sources)
	if err != nil {
		return nil, err
	}

	ref := sources[0]
	for _, img := range sources {
		if img.Source == cl.Sources[0] {
			ref = img
			break
		}
	}

	n, err := c.svc.Count(ctx, ref.WithMask(cl.Urban), z.UrbanCore, p)
	if err != nil {
		return nil, eris.Wrapf(err, "ensemble: count urban pixels for %s %d", city, year)
	}
	cl.UrbanPixels = n
	if n < c.minUrbanPixels {
		cl.LowConfidence = true
		zap.L().Warn("ensemble: few urban pixels in urban core",
			zap.String("city", city),
			zap.Int("year", year),
			zap.Int64("urban_pixels", n),
			zap.Int64("min_urban_pixels", c.minUrbanPixels),
		)
	}
	return cl, nil
}
