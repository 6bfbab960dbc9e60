package models

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Field is one named numeric column of a log record
type Field struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Record is the append-only log entry written for every classified reading
type Record struct {
	// Metadata
	RecordID string    `json:"record_id"`
	Pipeline string    `json:"pipeline"`
	LoggedAt time.Time `json:"logged_at"`

	// Identifying key
	Timestamp string `json:"timestamp"`
	SensorID  string `json:"sensor_id"`
	Location  string `json:"location,omitempty"`

	// Numeric columns in the pipeline's column order
	Values []Field `json:"values"`

	// Classification
	Label   Label      `json:"label"`
	Remark  string     `json:"remark"`
	Actions []ActionID `json:"actions,omitempty"`
}

// ToJSON serializes the Record to JSON
func (r *Record) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

// FromJSON deserializes JSON to Record
func FromJSON(data []byte) (*Record, error) {
	var r Record
	err := json.Unmarshal(data, &r)
	return &r, err
}

// Value returns the named column value
func (r *Record) Value(name string) (float64, bool) {
	for _, f := range r.Values {
		if f.Name == name {
			return f.Value, true
		}
	}
	return 0, false
}

// Header returns the CSV column titles for this record's shape
func (r *Record) Header() []string {
	header := []string{"timestamp", "sensor_id", "location"}
	for _, f := range r.Values {
		header = append(header, f.Name)
	}
	return append(header, "label", "remark", "actions")
}

// Row flattens the record into CSV cells matching Header
func (r *Record) Row() []string {
	row := []string{r.Timestamp, r.SensorID, r.Location}
	for _, f := range r.Values {
		row = append(row, strconv.FormatFloat(f.Value, 'f', 2, 64))
	}
	actions := make([]string, len(r.Actions))
	for i, a := range r.Actions {
		actions[i] = string(a)
	}
	return append(row, string(r.Label), r.Remark, strings.Join(actions, ";"))
}
