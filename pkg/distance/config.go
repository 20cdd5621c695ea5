package distance

import (
	"errors"
	"time"
)

// Config holds all tunable parameters for distance estimation.
type Config struct {
	// TargetCm is the distance the user holds during calibration.
	TargetCm float64

	// DefaultK substitutes for the calibration constant when no
	// calibration exists. The source of this pipeline carried two
	// divergent defaults (5.0 at 50cm and 8500 at 45cm); 8500/45cm is
	// canonical here, consistent with k = targetCm * iodPx at a typical
	// webcam geometry.
	DefaultK float64

	// Bucket thresholds on the smoothed estimate.
	NearCm float64
	FarCm  float64

	// SmoothingAlpha is the EMA factor (weight of the new raw value).
	SmoothingAlpha float64

	// Plausibility range: smoothed estimates outside it are penalized
	// and reported unknown once confidence drops below
	// MinUsableConfidence.
	MinPlausibleCm      float64
	MaxPlausibleCm      float64
	OutOfRangePenalty   float64
	UncalibratedPenalty float64
	MinUsableConfidence float64

	// Calibration protocol.
	MinCalibrationSamples int
	CalibrationWindow     time.Duration
}

// DefaultConfig returns the recommended distance estimation parameters.
func DefaultConfig() Config {
	return Config{
		TargetCm: 45,
		DefaultK: 8500,

		NearCm: 30,
		FarCm:  60,

		SmoothingAlpha: 0.2,

		MinPlausibleCm:      15,
		MaxPlausibleCm:      120,
		OutOfRangePenalty:   0.4,
		UncalibratedPenalty: 0.8,
		MinUsableConfidence: 0.5,

		MinCalibrationSamples: 5,
		CalibrationWindow:     10 * time.Second,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.TargetCm <= 0 || c.DefaultK <= 0 {
		return errors.New("distance: target and default constant must be positive")
	}
	if c.NearCm <= 0 || c.FarCm <= c.NearCm {
		return errors.New("distance: far threshold must be above near threshold")
	}
	if c.SmoothingAlpha <= 0 || c.SmoothingAlpha > 1 {
		return errors.New("distance: smoothing alpha must be in (0,1]")
	}
	if c.MaxPlausibleCm <= c.MinPlausibleCm {
		return errors.New("distance: invalid plausibility range")
	}
	if c.MinCalibrationSamples < 1 {
		return errors.New("distance: minimum calibration samples must be at least 1")
	}
	return nil
}
