package engine

import (
	"errors"
	"time"
)

// Config holds the engine's event cadence and session timing.
type Config struct {
	// QualityEvery is the frame interval between quality events.
	// Metrics are emitted every frame; quality changes slowly.
	QualityEvery int

	// FPSUpdatePeriod is the minimum interval between fpsUpdate events.
	FPSUpdatePeriod time.Duration

	// Distance calibration session: fixed sampling window and the
	// stable-sample floor below which the run fails.
	CalibrationDuration   time.Duration
	CalibrationMinSamples int

	// Assessment session duration bounds. Requested durations are
	// clamped into [MinAssessment, MaxAssessment].
	DefaultAssessment time.Duration
	MinAssessment     time.Duration
	MaxAssessment     time.Duration

	// BurstDuration is the fixed length of a distance burst read.
	BurstDuration time.Duration

	// Version is reported in the ready event.
	Version string
}

// DefaultConfig returns the recommended engine configuration.
func DefaultConfig() Config {
	return Config{
		QualityEvery:    30,
		FPSUpdatePeriod: time.Second,

		CalibrationDuration:   10 * time.Second,
		CalibrationMinSamples: 10,

		DefaultAssessment: 30 * time.Second,
		MinAssessment:     20 * time.Second,
		MaxAssessment:     45 * time.Second,

		BurstDuration: 1500 * time.Millisecond,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.QualityEvery < 1 {
		return errors.New("engine: quality interval must be at least 1 frame")
	}
	if c.FPSUpdatePeriod <= 0 {
		return errors.New("engine: fps update period must be positive")
	}
	if c.CalibrationDuration <= 0 {
		return errors.New("engine: calibration duration must be positive")
	}
	if c.CalibrationMinSamples < 1 {
		return errors.New("engine: calibration sample floor must be at least 1")
	}
	if c.MinAssessment <= 0 || c.MaxAssessment < c.MinAssessment {
		return errors.New("engine: assessment bounds must satisfy 0 < min <= max")
	}
	if c.DefaultAssessment < c.MinAssessment || c.DefaultAssessment > c.MaxAssessment {
		return errors.New("engine: default assessment must be within bounds")
	}
	if c.BurstDuration <= 0 {
		return errors.New("engine: burst duration must be positive")
	}
	return nil
}
