package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Window modes for the reference window policy
const (
	WindowSpread = "spread"
	WindowFixed  = "fixed"
)

// Duration decodes "3s" style strings from YAML
type Duration time.Duration

// UnmarshalYAML parses a Go duration string
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// StaticBandConfig bounds the Normal band, both ends inclusive
type StaticBandConfig struct {
	Lower float64 `yaml:"lower"`
	Upper float64 `yaml:"upper"`
}

// WindowConfig selects the tolerance around the reference value
type WindowConfig struct {
	Mode     string  `yaml:"mode"`
	Constant float64 `yaml:"constant"`
}

// CO2Config tunes the ratio-to-baseline classifier
type CO2Config struct {
	Window                int     `yaml:"window"`
	ElevatedRatio         float64 `yaml:"elevated_ratio"`
	CriticalRatio         float64 `yaml:"critical_ratio"`
	SampleIntervalMinutes float64 `yaml:"sample_interval_minutes"`
}

// PacingConfig is the simulated latency between device actions
type PacingConfig struct {
	Min Duration `yaml:"min"`
	Max Duration `yaml:"max"`
}

// PipelineConfig is the classification configuration for one session.
// Thresholds are fixed for the lifetime of a session.
type PipelineConfig struct {
	SensorPatterns  []string         `yaml:"sensor_patterns"`
	BodyBand        StaticBandConfig `yaml:"body_band"`
	AmbientBand     StaticBandConfig `yaml:"ambient_band"`
	ReferenceWindow WindowConfig     `yaml:"reference_window"`

	// CalibrationTolerance gates the calibrated band pipeline: readings
	// further than this from their reference value are skipped
	CalibrationTolerance float64 `yaml:"calibration_tolerance"`

	CO2    CO2Config    `yaml:"co2"`
	Pacing PacingConfig `yaml:"pacing"`

	// Plans overrides the default action sequences, keyed by pipeline then
	// label, e.g. plans.co2.Critical: [ventilation-fan-on, adjust-door]
	Plans map[string]map[string][]string `yaml:"plans"`
}

// DefaultPipelineConfig returns the stock thresholds
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		SensorPatterns:       []string{"MLX", "RS-T10"},
		BodyBand:             StaticBandConfig{Lower: 36.0, Upper: 37.5},
		AmbientBand:          StaticBandConfig{Lower: 18.0, Upper: 26.0},
		ReferenceWindow:      WindowConfig{Mode: WindowSpread, Constant: 2.0},
		CalibrationTolerance: 2.0,
		CO2: CO2Config{
			Window:                6,
			ElevatedRatio:         2.0,
			CriticalRatio:         2.5,
			SampleIntervalMinutes: 10,
		},
		Pacing: PacingConfig{Min: Duration(3 * time.Second), Max: Duration(9 * time.Second)},
	}
}

// LoadPipelineConfig layers the defaults, an optional YAML file and
// environment overrides, then validates the result.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	cfg := DefaultPipelineConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read pipeline config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse pipeline config %s: %w", path, err)
		}
	}

	cfg.BodyBand.Lower = getEnvFloat("BODY_TEMP_LOWER", cfg.BodyBand.Lower)
	cfg.BodyBand.Upper = getEnvFloat("BODY_TEMP_UPPER", cfg.BodyBand.Upper)
	cfg.AmbientBand.Lower = getEnvFloat("AMBIENT_TEMP_LOWER", cfg.AmbientBand.Lower)
	cfg.AmbientBand.Upper = getEnvFloat("AMBIENT_TEMP_UPPER", cfg.AmbientBand.Upper)
	cfg.ReferenceWindow.Mode = getEnv("REFERENCE_WINDOW_MODE", cfg.ReferenceWindow.Mode)
	cfg.CO2.Window = getEnvInt("CO2_WINDOW", cfg.CO2.Window)
	cfg.Pacing.Min = Duration(getEnvDuration("ACTION_PACING_MIN", time.Duration(cfg.Pacing.Min)))
	cfg.Pacing.Max = Duration(getEnvDuration("ACTION_PACING_MAX", time.Duration(cfg.Pacing.Max)))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the thresholds for internal consistency
func (c *PipelineConfig) Validate() error {
	var errs []error
	check := func(name string, b StaticBandConfig) {
		if !finite(b.Lower) || !finite(b.Upper) {
			errs = append(errs, fmt.Errorf("%s: thresholds must be finite", name))
		} else if b.Lower > b.Upper {
			errs = append(errs, fmt.Errorf("%s: lower %.2f above upper %.2f", name, b.Lower, b.Upper))
		}
	}
	check("body_band", c.BodyBand)
	check("ambient_band", c.AmbientBand)

	switch c.ReferenceWindow.Mode {
	case WindowSpread:
	case WindowFixed:
		if !finite(c.ReferenceWindow.Constant) || c.ReferenceWindow.Constant < 0 {
			errs = append(errs, fmt.Errorf("reference_window: constant must be a non-negative number"))
		}
	default:
		errs = append(errs, fmt.Errorf("reference_window: unknown mode %q", c.ReferenceWindow.Mode))
	}

	if !finite(c.CalibrationTolerance) || c.CalibrationTolerance < 0 {
		errs = append(errs, fmt.Errorf("calibration_tolerance: must be a non-negative number"))
	}

	if c.CO2.Window < 1 {
		errs = append(errs, fmt.Errorf("co2: window must be at least 1"))
	}
	if c.CO2.ElevatedRatio <= 0 || c.CO2.CriticalRatio < c.CO2.ElevatedRatio {
		errs = append(errs, fmt.Errorf("co2: need 0 < elevated_ratio <= critical_ratio"))
	}
	if c.CO2.SampleIntervalMinutes <= 0 {
		errs = append(errs, fmt.Errorf("co2: sample_interval_minutes must be positive"))
	}
	if c.Pacing.Min < 0 || c.Pacing.Max < c.Pacing.Min {
		errs = append(errs, fmt.Errorf("pacing: need 0 <= min <= max"))
	}
	if len(c.SensorPatterns) == 0 {
		errs = append(errs, fmt.Errorf("sensor_patterns: at least one pattern required"))
	}
	return errors.Join(errs...)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
