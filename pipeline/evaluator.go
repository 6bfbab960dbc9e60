package pipeline

import (
	"fmt"
	"math"
	"sync"

	"github.com/boyangli/homesense/calibration"
	"github.com/boyangli/homesense/models"
	"github.com/boyangli/homesense/monitor"
)

// Pipeline names
const (
	NameAmbient    = "ambient"
	NameBody       = "body"
	NameCalibrated = "calibrated"
	NameCO2        = "co2"
)

// Evaluation is the classification of one reading plus the numeric
// columns logged with it
type Evaluation struct {
	Outcome     models.Outcome
	Values      []models.Field
	Calibration *models.CalibratedResult
}

// Evaluator classifies readings for one pipeline. An error means the
// reading is skipped.
type Evaluator interface {
	Name() string
	Evaluate(r models.Reading) (Evaluation, error)
}

// AmbientPipeline checks room temperature against a static band
type AmbientPipeline struct {
	band *monitor.StaticBand
}

// NewAmbientPipeline creates the pipeline around band
func NewAmbientPipeline(band *monitor.StaticBand) *AmbientPipeline {
	return &AmbientPipeline{band: band}
}

// Name returns the pipeline name
func (p *AmbientPipeline) Name() string { return NameAmbient }

// Evaluate classifies the reading's ambient temperature
func (p *AmbientPipeline) Evaluate(r models.Reading) (Evaluation, error) {
	out, err := p.band.Classify(r.AmbientTemperature)
	if err != nil {
		return Evaluation{}, err
	}
	return Evaluation{
		Outcome: out,
		Values:  []models.Field{{Name: "ambient_temp_c", Value: r.AmbientTemperature}},
	}, nil
}

// BodyTemperaturePipeline calibrates a body reading against the reference
// surfaces of its sensor and applies the reference window
type BodyTemperaturePipeline struct {
	ref    *calibration.Reference
	window *monitor.ReferenceWindow
}

// NewBodyTemperaturePipeline creates the pipeline from the reference tables and the window policy
func NewBodyTemperaturePipeline(ref *calibration.Reference, window *monitor.ReferenceWindow) *BodyTemperaturePipeline {
	return &BodyTemperaturePipeline{ref: ref, window: window}
}

// Name returns the pipeline name
func (p *BodyTemperaturePipeline) Name() string { return NameBody }

// Evaluate calibrates the reading and applies the reference window
func (p *BodyTemperaturePipeline) Evaluate(r models.Reading) (Evaluation, error) {
	res, err := calibrate(p.ref, r)
	if err != nil {
		return Evaluation{}, err
	}
	out, res, err := p.window.Classify(res)
	if err != nil {
		return Evaluation{}, err
	}
	return Evaluation{
		Outcome: out,
		Values: []models.Field{
			{Name: "distance_m", Value: r.Distance},
			{Name: "ambient_temp_c", Value: r.AmbientTemperature},
			{Name: "measured_temp_c", Value: r.MeasuredValue},
			{Name: "expected_temp_c", Value: res.ExpectedValue},
			{Name: "expected_spread", Value: res.ExpectedSpread},
			{Name: "difference", Value: res.Difference},
			{Name: "lower_bound", Value: res.LowerBound},
			{Name: "upper_bound", Value: res.UpperBound},
		},
		Calibration: &res,
	}, nil
}

// CalibratedBandPipeline corrects a body reading with the reference surface
// and classifies the corrected value against a static band. Readings whose
// correction exceeds the tolerance are skipped.
type CalibratedBandPipeline struct {
	ref       *calibration.Reference
	band      *monitor.StaticBand
	tolerance float64
}

// NewCalibratedBandPipeline creates the pipeline. tolerance is the largest correction accepted
func NewCalibratedBandPipeline(ref *calibration.Reference, band *monitor.StaticBand, tolerance float64) *CalibratedBandPipeline {
	return &CalibratedBandPipeline{ref: ref, band: band, tolerance: tolerance}
}

// Name returns the pipeline name
func (p *CalibratedBandPipeline) Name() string { return NameCalibrated }

// Evaluate classifies the calibrated expected value against the body band
func (p *CalibratedBandPipeline) Evaluate(r models.Reading) (Evaluation, error) {
	res, err := calibrate(p.ref, r)
	if err != nil {
		return Evaluation{}, err
	}
	if math.Abs(res.Difference) > p.tolerance {
		return Evaluation{}, &models.InvalidReadingError{
			Field:  "difference",
			Value:  fmt.Sprintf("%.2f", res.Difference),
			Reason: fmt.Sprintf("correction exceeds ±%.2f", p.tolerance),
		}
	}
	out, err := p.band.Classify(res.ExpectedValue)
	if err != nil {
		return Evaluation{}, err
	}
	return Evaluation{
		Outcome: out,
		Values: []models.Field{
			{Name: "measured_temp_c", Value: r.MeasuredValue},
			{Name: "calculated_temp_c", Value: res.ExpectedValue},
			{Name: "difference", Value: res.Difference},
		},
		Calibration: &res,
	}, nil
}

func calibrate(ref *calibration.Reference, r models.Reading) (models.CalibratedResult, error) {
	pair, err := ref.Lookup(r.SensorID)
	if err != nil {
		return models.CalibratedResult{}, err
	}
	return pair.Calibrate(r.AmbientTemperature, r.Distance, r.MeasuredValue)
}

// co2Series is the rolling state of one CO2 sensor
type co2Series struct {
	avg  *monitor.MovingAverage
	prev float64
	seen bool
}

// CO2Pipeline classifies CO2 readings against each sensor's own rolling
// baseline. The baseline includes the current reading.
type CO2Pipeline struct {
	policy   *monitor.RatioBaseline
	window   int
	interval float64

	mu     sync.Mutex
	series map[string]*co2Series
}

// NewCO2Pipeline creates the pipeline. interval is the fixed sampling
// interval in minutes used for the rate of change.
func NewCO2Pipeline(policy *monitor.RatioBaseline, window int, interval float64) *CO2Pipeline {
	return &CO2Pipeline{
		policy:   policy,
		window:   window,
		interval: interval,
		series:   make(map[string]*co2Series),
	}
}

// Name returns the pipeline name
func (p *CO2Pipeline) Name() string { return NameCO2 }

// Evaluate updates the sensor's baseline and classifies the reading against it
func (p *CO2Pipeline) Evaluate(r models.Reading) (Evaluation, error) {
	v := r.MeasuredValue
	if err := models.CheckFinite("co2", v); err != nil {
		return Evaluation{}, err
	}
	if v <= 0 {
		return Evaluation{}, &models.InvalidReadingError{Field: "co2", Value: fmt.Sprint(v), Reason: "concentration must be positive"}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.series[r.SensorID]
	if !ok {
		s = &co2Series{avg: monitor.NewMovingAverage(p.window)}
		p.series[r.SensorID] = s
	}

	baseline, err := s.avg.Push(v)
	if err != nil {
		return Evaluation{}, err
	}
	var change, rate float64
	if s.seen {
		change = monitor.PercentChange(s.prev, v)
		rate = monitor.RatePerMinute(s.prev, v, p.interval)
	}
	s.prev, s.seen = v, true

	out, err := p.policy.Classify(v, baseline)
	if err != nil {
		return Evaluation{}, err
	}
	return Evaluation{
		Outcome: out,
		Values: []models.Field{
			{Name: "co2_ppm", Value: v},
			{Name: "moving_average", Value: baseline},
			{Name: "change_pct", Value: change},
			{Name: "rate_ppm_per_min", Value: rate},
		},
	}, nil
}

// Baseline returns the current rolling average of a sensor
func (p *CO2Pipeline) Baseline(sensorID string) (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.series[sensorID]
	if !ok {
		return 0, false
	}
	return s.avg.Average(), true
}
