package models

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidReading is the sentinel behind every InvalidReadingError
var ErrInvalidReading = errors.New("invalid reading")

// InvalidReadingError reports a reading that cannot be classified. The
// reading is skipped, the batch goes on.
type InvalidReadingError struct {
	Field  string
	Value  string
	Reason string
}

func (e *InvalidReadingError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid reading: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid reading: %s=%q: %s", e.Field, e.Value, e.Reason)
}

func (e *InvalidReadingError) Unwrap() error { return ErrInvalidReading }

// CheckFinite rejects NaN and infinite values for the named field
func CheckFinite(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return &InvalidReadingError{Field: field, Value: fmt.Sprint(v), Reason: "not a finite number"}
	}
	return nil
}
