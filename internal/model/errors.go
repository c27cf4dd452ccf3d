package model

import (
	"errors"
	"fmt"
)

// MissingInputError reports an absent input for one city-year: no classification
// source, or no raster for the requested period.
type MissingInputError struct {
	City   string
	Year   int
	Input  string
	Reason string
}

func (e *MissingInputError) Error() string {
	msg := fmt.Sprintf("missing input %s for %s %d", e.Input, e.City, e.Year)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// IsMissingInput reports whether err carries a MissingInputError.
func IsMissingInput(err error) bool {
	var mi *MissingInputError
	return errors.As(err, &mi)
}
