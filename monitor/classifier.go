package monitor

import (
	"fmt"
	"math"

	"github.com/boyangli/homesense/action"
	"github.com/boyangli/homesense/config"
	"github.com/boyangli/homesense/models"
)

// Remarks attached to the log record for each label
var (
	AmbientRemarks = map[models.Label]string{
		models.LabelLow:    "Low Temperature",
		models.LabelNormal: "Temperature within specified range",
		models.LabelHigh:   "High Temperature",
	}
	BodyRemarks = map[models.Label]string{
		models.LabelLow:    "Low Temperature",
		models.LabelNormal: "Normal Body Temperature",
		models.LabelHigh:   "High Temperature",
	}
	WindowRemarks = map[models.Label]string{
		models.LabelWithinRange: "Routine logging",
		models.LabelOutOfRange:  "Alert GP, adjust HVAC, dispatch robot",
	}
	CO2Remarks = map[models.Label]string{
		models.LabelNormal:   "No Action. Normal Health",
		models.LabelElevated: "Vent fan ON. Door opened. Window opened.",
		models.LabelCritical: "Reduce number of occupants. All vent fans ON. All doors opened. All windows opened",
	}
)

func outcome(label models.Label, plan action.Plan, remarks map[models.Label]string) models.Outcome {
	return models.Outcome{Label: label, Actions: plan.For(label), Remark: remarks[label]}
}

// StaticBand classifies a value against fixed inclusive bounds
type StaticBand struct {
	Lower   float64
	Upper   float64
	Plan    action.Plan
	Remarks map[models.Label]string
}

// NewStaticBand validates the bounds. The band is fixed for the session.
func NewStaticBand(lower, upper float64, plan action.Plan, remarks map[models.Label]string) (*StaticBand, error) {
	if math.IsNaN(lower) || math.IsInf(lower, 0) || math.IsNaN(upper) || math.IsInf(upper, 0) {
		return nil, fmt.Errorf("band bounds must be finite, got [%v, %v]", lower, upper)
	}
	if lower > upper {
		return nil, fmt.Errorf("band lower bound %.2f is above upper bound %.2f", lower, upper)
	}
	if remarks == nil {
		remarks = AmbientRemarks
	}
	return &StaticBand{Lower: lower, Upper: upper, Plan: plan, Remarks: remarks}, nil
}

// Label returns Low below the band, High above it, Normal on or inside it
func (b *StaticBand) Label(v float64) (models.Label, error) {
	if err := models.CheckFinite("value", v); err != nil {
		return "", err
	}
	switch {
	case v < b.Lower:
		return models.LabelLow, nil
	case v > b.Upper:
		return models.LabelHigh, nil
	}
	return models.LabelNormal, nil
}

// Classify labels v and attaches the plan's actions and the remark
func (b *StaticBand) Classify(v float64) (models.Outcome, error) {
	label, err := b.Label(v)
	if err != nil {
		return models.Outcome{}, err
	}
	return outcome(label, b.Plan, b.Remarks), nil
}

// ReferenceWindow checks a measured value against the window around its
// expected reference value. Mode "spread" uses expected ± spread, mode
// "fixed" uses expected ± Constant.
type ReferenceWindow struct {
	Mode     string
	Constant float64
	Plan     action.Plan
}

// NewReferenceWindow builds the policy from configuration
func NewReferenceWindow(cfg config.WindowConfig, plan action.Plan) (*ReferenceWindow, error) {
	switch cfg.Mode {
	case config.WindowSpread, config.WindowFixed:
	default:
		return nil, fmt.Errorf("unknown reference window mode %q", cfg.Mode)
	}
	if cfg.Mode == config.WindowFixed && (cfg.Constant < 0 || math.IsNaN(cfg.Constant) || math.IsInf(cfg.Constant, 0)) {
		return nil, fmt.Errorf("fixed window tolerance must be a finite non-negative number, got %v", cfg.Constant)
	}
	return &ReferenceWindow{Mode: cfg.Mode, Constant: cfg.Constant, Plan: plan}, nil
}

// Apply fills the bounds and WithinRange of a calibrated result. A reading
// on a bound is within range. Spread mode tests the measured value against
// expected ± spread, so a negative spread is never within range; fixed mode
// tests the difference against ± Constant.
func (w *ReferenceWindow) Apply(r models.CalibratedResult) (models.CalibratedResult, error) {
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"measured_value", r.MeasuredValue},
		{"expected_value", r.ExpectedValue},
		{"expected_spread", r.ExpectedSpread},
		{"difference", r.Difference},
	} {
		if err := models.CheckFinite(f.name, f.v); err != nil {
			return models.CalibratedResult{}, err
		}
	}

	if w.Mode == config.WindowSpread {
		r.LowerBound = r.ExpectedValue - r.ExpectedSpread
		r.UpperBound = r.ExpectedValue + r.ExpectedSpread
		r.WithinRange = r.LowerBound <= r.MeasuredValue && r.MeasuredValue <= r.UpperBound
		return r, nil
	}
	r.LowerBound = r.ExpectedValue - w.Constant
	r.UpperBound = r.ExpectedValue + w.Constant
	r.WithinRange = -w.Constant <= r.Difference && r.Difference <= w.Constant
	return r, nil
}

// Classify applies the window and labels the result
func (w *ReferenceWindow) Classify(r models.CalibratedResult) (models.Outcome, models.CalibratedResult, error) {
	r, err := w.Apply(r)
	if err != nil {
		return models.Outcome{}, models.CalibratedResult{}, err
	}
	label := models.LabelOutOfRange
	if r.WithinRange {
		label = models.LabelWithinRange
	}
	return outcome(label, w.Plan, WindowRemarks), r, nil
}

// RatioBaseline compares a value with multiples of its rolling baseline.
// Ties resolve toward the less severe tier at the critical boundary:
// v < Elevated*b is Normal, v <= Critical*b is Elevated, above is Critical.
type RatioBaseline struct {
	ElevatedRatio float64
	CriticalRatio float64
	Plan          action.Plan
}

// NewRatioBaseline validates the ratios
func NewRatioBaseline(elevated, critical float64, plan action.Plan) (*RatioBaseline, error) {
	if !(elevated > 0) || math.IsInf(elevated, 0) || math.IsInf(critical, 0) || !(critical >= elevated) {
		return nil, fmt.Errorf("ratios must satisfy 0 < elevated <= critical, got %v and %v", elevated, critical)
	}
	return &RatioBaseline{ElevatedRatio: elevated, CriticalRatio: critical, Plan: plan}, nil
}

// Label returns the tier of v against baseline
func (p *RatioBaseline) Label(v, baseline float64) (models.Label, error) {
	if err := models.CheckFinite("value", v); err != nil {
		return "", err
	}
	if err := models.CheckFinite("baseline", baseline); err != nil {
		return "", err
	}
	if baseline <= 0 {
		return "", &models.InvalidReadingError{Field: "baseline", Value: fmt.Sprint(baseline), Reason: "must be positive"}
	}
	switch {
	case v < p.ElevatedRatio*baseline:
		return models.LabelNormal, nil
	case v <= p.CriticalRatio*baseline:
		return models.LabelElevated, nil
	}
	return models.LabelCritical, nil
}

// Classify labels v and attaches the plan's actions and the remark
func (p *RatioBaseline) Classify(v, baseline float64) (models.Outcome, error) {
	label, err := p.Label(v, baseline)
	if err != nil {
		return models.Outcome{}, err
	}
	return outcome(label, p.Plan, CO2Remarks), nil
}

// PercentChange is the change from prev to cur in percent of prev. It is 0
// when prev is 0, which also covers the first reading of a series.
func PercentChange(prev, cur float64) float64 {
	if prev == 0 {
		return 0
	}
	return (cur - prev) / prev * 100
}

// RatePerMinute is the change from prev to cur over a fixed sampling
// interval in minutes
func RatePerMinute(prev, cur, intervalMinutes float64) float64 {
	if intervalMinutes <= 0 {
		return 0
	}
	return (cur - prev) / intervalMinutes
}
