package models

import (
	"encoding/json"
)

// Reading is a single observation as read from a sensor log. CO2 samples
// carry the ppm in MeasuredValue and leave distance and ambient at zero.
type Reading struct {
	SensorID           string  `json:"sensor_id"`
	Location           string  `json:"location,omitempty"`
	Timestamp          string  `json:"timestamp"`
	Distance           float64 `json:"distance_m"`
	AmbientTemperature float64 `json:"ambient_temp_c"`
	MeasuredValue      float64 `json:"measured_value"`
}

// CalibratedResult is the reference comparison for one reading. It is
// computed fresh per reading and never modified afterwards.
type CalibratedResult struct {
	MeasuredValue  float64 `json:"measured_value"`
	ExpectedValue  float64 `json:"expected_value"`
	ExpectedSpread float64 `json:"expected_spread"`
	Difference     float64 `json:"difference"`
	LowerBound     float64 `json:"lower_bound"`
	UpperBound     float64 `json:"upper_bound"`
	WithinRange    bool    `json:"within_range"`
}

// Label is a severity band assigned by a classifier
type Label string

const (
	// Static band
	LabelLow    Label = "Low"
	LabelNormal Label = "Normal"
	LabelHigh   Label = "High"

	// Reference window
	LabelWithinRange Label = "WithinRange"
	LabelOutOfRange  Label = "OutOfRange"

	// Ratio to baseline
	LabelElevated Label = "Elevated"
	LabelCritical Label = "Critical"
)

// Quiet reports whether the label needs no device action
func (l Label) Quiet() bool {
	return l == LabelNormal || l == LabelWithinRange
}

// ActionID names one device action, e.g. "open-door"
type ActionID string

// Outcome is the result of classifying one value
type Outcome struct {
	Label   Label      `json:"label"`
	Actions []ActionID `json:"actions,omitempty"`
	Remark  string     `json:"remark"`
}

// ToJSON serializes the Outcome to JSON
func (o Outcome) ToJSON() ([]byte, error) {
	return json.Marshal(o)
}
