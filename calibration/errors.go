package calibration

import (
	"errors"
	"fmt"
)

// ErrMalformedTable is the sentinel behind every MalformedTableError
var ErrMalformedTable = errors.New("malformed calibration table")

// MalformedTableError rejects one sensor's section of a reference table.
// Other sensors in the same table are unaffected.
type MalformedTableError struct {
	SensorID string
	Reason   string
}

func (e *MalformedTableError) Error() string {
	if e.SensorID == "" {
		return fmt.Sprintf("malformed calibration table: %s", e.Reason)
	}
	return fmt.Sprintf("malformed calibration table: sensor %s: %s", e.SensorID, e.Reason)
}

func (e *MalformedTableError) Unwrap() error { return ErrMalformedTable }

func malformed(sensorID, format string, args ...any) error {
	return &MalformedTableError{SensorID: sensorID, Reason: fmt.Sprintf(format, args...)}
}
