package pipeline

import (
	"errors"
	"fmt"

	"github.com/boyangli/homesense/action"
	"github.com/boyangli/homesense/calibration"
	"github.com/boyangli/homesense/config"
	"github.com/boyangli/homesense/monitor"
)

// ErrReferenceRequired is returned when a calibrating pipeline is built
// without reference tables
var ErrReferenceRequired = errors.New("pipeline needs reference tables")

// New builds the named pipeline from configuration. ref is only needed by
// the body and calibrated pipelines.
func New(name string, cfg *config.PipelineConfig, ref *calibration.Reference) (Evaluator, error) {
	plan, err := planFor(name, cfg)
	if err != nil {
		return nil, err
	}

	switch name {
	case NameAmbient:
		band, err := monitor.NewStaticBand(cfg.AmbientBand.Lower, cfg.AmbientBand.Upper, plan, monitor.AmbientRemarks)
		if err != nil {
			return nil, fmt.Errorf("ambient band: %w", err)
		}
		return NewAmbientPipeline(band), nil

	case NameBody:
		if ref == nil {
			return nil, ErrReferenceRequired
		}
		window, err := monitor.NewReferenceWindow(cfg.ReferenceWindow, plan)
		if err != nil {
			return nil, err
		}
		return NewBodyTemperaturePipeline(ref, window), nil

	case NameCalibrated:
		if ref == nil {
			return nil, ErrReferenceRequired
		}
		band, err := monitor.NewStaticBand(cfg.BodyBand.Lower, cfg.BodyBand.Upper, plan, monitor.BodyRemarks)
		if err != nil {
			return nil, fmt.Errorf("body band: %w", err)
		}
		return NewCalibratedBandPipeline(ref, band, cfg.CalibrationTolerance), nil

	case NameCO2:
		policy, err := monitor.NewRatioBaseline(cfg.CO2.ElevatedRatio, cfg.CO2.CriticalRatio, plan)
		if err != nil {
			return nil, err
		}
		return NewCO2Pipeline(policy, cfg.CO2.Window, cfg.CO2.SampleIntervalMinutes), nil
	}
	return nil, fmt.Errorf("unknown pipeline %q", name)
}

// NeedsReference reports whether the named pipeline calibrates readings
func NeedsReference(name string) bool {
	return name == NameBody || name == NameCalibrated
}

func planFor(name string, cfg *config.PipelineConfig) (action.Plan, error) {
	var plan action.Plan
	switch name {
	case NameAmbient, NameCalibrated:
		plan = action.TemperaturePlan()
	case NameBody:
		plan = action.CalibratedPlan()
	case NameCO2:
		plan = action.CO2Plan()
	default:
		return nil, fmt.Errorf("unknown pipeline %q", name)
	}
	if raw := cfg.Plans[name]; len(raw) > 0 {
		return plan.Override(raw)
	}
	return plan, nil
}
