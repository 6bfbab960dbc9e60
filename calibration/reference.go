package calibration

import (
	"fmt"

	"github.com/boyangli/homesense/models"
)

// Pair is the mean and spread (standard deviation) surface of one sensor
type Pair struct {
	Mean   *Surface
	Spread *Surface
}

// Calibrate evaluates both surfaces at the reading's coordinates and
// compares the measured value with the expected one. Bounds and WithinRange
// are left for the window policy to fill.
func (p Pair) Calibrate(ambient, distance, measured float64) (models.CalibratedResult, error) {
	if err := models.CheckFinite("measured_value", measured); err != nil {
		return models.CalibratedResult{}, err
	}
	mean, err := p.Mean.Evaluate(ambient, distance)
	if err != nil {
		return models.CalibratedResult{}, err
	}
	spread, err := p.Spread.Evaluate(ambient, distance)
	if err != nil {
		return models.CalibratedResult{}, err
	}
	return models.CalibratedResult{
		MeasuredValue:  measured,
		ExpectedValue:  mean,
		ExpectedSpread: spread,
		Difference:     measured - mean,
	}, nil
}

// Reference joins a mean table and a spread table by sensor id
type Reference struct {
	pairs    map[string]Pair
	order    []string
	failures map[string]error
}

// NewReference pairs the two tables. A sensor missing from either table, or
// whose axes differ between them, is reported in Failures.
func NewReference(mean, spread *Table) *Reference {
	r := &Reference{
		pairs:    make(map[string]Pair),
		failures: make(map[string]error),
	}
	for id, err := range mean.failures {
		r.failures[id] = fmt.Errorf("mean table: %w", err)
	}
	for id, err := range spread.failures {
		if _, ok := r.failures[id]; !ok {
			r.failures[id] = fmt.Errorf("spread table: %w", err)
		}
	}

	for _, id := range mean.SensorIDs() {
		if _, failed := r.failures[id]; failed {
			continue
		}
		m, _ := mean.Surface(id)
		s, ok := spread.Surface(id)
		if !ok {
			r.failures[id] = malformed(id, "no spread section")
			continue
		}
		if !m.SameAxes(s) {
			r.failures[id] = malformed(id, "mean and spread axes differ")
			continue
		}
		r.pairs[id] = Pair{Mean: m, Spread: s}
		r.order = append(r.order, id)
	}
	for _, id := range spread.SensorIDs() {
		if _, ok := r.pairs[id]; ok {
			continue
		}
		if _, failed := r.failures[id]; !failed {
			r.failures[id] = malformed(id, "no mean section")
		}
	}
	return r
}

// LoadReference reads and pairs the mean and spread table files
func LoadReference(meanPath, spreadPath string, patterns ...string) (*Reference, error) {
	mean, err := LoadTableFile(meanPath, patterns...)
	if err != nil {
		return nil, err
	}
	spread, err := LoadTableFile(spreadPath, patterns...)
	if err != nil {
		return nil, err
	}
	return NewReference(mean, spread), nil
}

// Lookup returns the surfaces for a sensor. An unknown sensor makes the
// reading unclassifiable.
func (r *Reference) Lookup(sensorID string) (Pair, error) {
	p, ok := r.pairs[sensorID]
	if !ok {
		reason := "no calibration surface"
		if err, failed := r.failures[sensorID]; failed {
			reason = err.Error()
		}
		return Pair{}, &models.InvalidReadingError{Field: "sensor_id", Value: sensorID, Reason: reason}
	}
	return p, nil
}

// SensorIDs lists the sensors usable for calibration
func (r *Reference) SensorIDs() []string { return append([]string(nil), r.order...) }

// Failures returns the sensors rejected at load time and why
func (r *Reference) Failures() map[string]error {
	out := make(map[string]error, len(r.failures))
	for id, err := range r.failures {
		out[id] = err
	}
	return out
}
