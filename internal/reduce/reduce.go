// Package reduce issues zonal reductions against the raster-analytics
// backend: request shapes, response parsing, throttling, retries and the
// degradation ladders used when the backend runs out of resources.
package reduce

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/raster"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/zone"
)

// Kind is the aggregate a reduction computes.
type Kind string

const (
	Mean               Kind = "mean"
	StdDev             Kind = "stdDev"
	Count              Kind = "count"
	FrequencyHistogram Kind = "frequencyHistogram"
)

// Params are the tunable knobs of a reduction.
type Params struct {
	Scale      float64 `json:"scale"`
	MaxPixels  float64 `json:"maxPixels"`
	BestEffort bool    `json:"bestEffort"`
	TileScale  int     `json:"tileScale,omitempty"`
}

// DefaultParams are the continuous-statistics defaults.
func DefaultParams(scale float64) Params {
	return Params{Scale: scale, MaxPixels: 1e8, BestEffort: true}
}

// Request is one region reduction.
type Request struct {
	Image  raster.Image
	Region zone.Region
	Kind   Kind
	Params
}

// Response is the raw dictionary returned by the backend.
type Response map[string]any

// Reducer performs region reductions.
type Reducer interface {
	Reduce(ctx context.Context, req Request) (Response, error)
}

// ReducerFunc adapts a function to Reducer.
type ReducerFunc func(ctx context.Context, req Request) (Response, error)

// Reduce implements Reducer.
func (f ReducerFunc) Reduce(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// ErrResourceExhausted is returned when the backend rejects a reduction for
// exceeding its memory, pixel or time budget.
var ErrResourceExhausted = eris.New("reduce: resource exhausted")

var exhaustionMessages = []string{
	"user memory limit exceeded",
	"too many pixels",
	"computation timed out",
	"pixel budget",
	"maxpixels",
	"region too large",
	"aggregation too large",
}

// IsResourceExhausted reports whether err signals a backend resource limit.
func IsResourceExhausted(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrResourceExhausted) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range exhaustionMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
