package model

import (
	"bytes"
	"math"
	"strconv"

	"github.com/rotisserie/eris"
)

// Float is a float64 whose JSON form survives non-finite values.
// +Inf and -Inf encode as the strings "Infinity" and "-Infinity"; NaN encodes as null.
type Float float64

var (
	jsonPosInf = []byte(`"Infinity"`)
	jsonNegInf = []byte(`"-Infinity"`)
	jsonNull   = []byte("null")
)

// Inf returns the +∞ sentinel used for undefined uncertainty.
func Inf() Float { return Float(math.Inf(1)) }

// Ptr returns a pointer to f as a Float. Nil-able fields use it to tell absent from zero.
func Ptr(f float64) *Float {
	v := Float(f)
	return &v
}

// OptPtr converts an optional float64 into an optional Float.
func OptPtr(f *float64) *Float {
	if f == nil {
		return nil
	}
	return Ptr(*f)
}

// IsInf reports whether f is +∞ (sign > 0), -∞ (sign < 0) or either (sign == 0).
func (f Float) IsInf(sign int) bool { return math.IsInf(float64(f), sign) }

// MarshalJSON implements json.Marshaler.
func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsNaN(v):
		return jsonNull, nil
	case math.IsInf(v, 1):
		return jsonPosInf, nil
	case math.IsInf(v, -1):
		return jsonNegInf, nil
	}
	return strconv.AppendFloat(nil, v, 'g', -1, 64), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *Float) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, jsonNull):
		*f = Float(math.NaN())
		return nil
	case bytes.Equal(b, jsonPosInf):
		*f = Float(math.Inf(1))
		return nil
	case bytes.Equal(b, jsonNegInf):
		*f = Float(math.Inf(-1))
		return nil
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return eris.Wrapf(err, "model: parse float %q", string(b))
	}
	*f = Float(v)
	return nil
}

// Interval is a closed [lo, hi] interval, encoded as a two-element JSON array.
type Interval [2]Float

// NewInterval builds an Interval from plain floats.
func NewInterval(lo, hi float64) Interval {
	return Interval{Float(lo), Float(hi)}
}

// InfInterval is the (+∞, +∞) sentinel interval.
func InfInterval() Interval {
	return Interval{Inf(), Inf()}
}
