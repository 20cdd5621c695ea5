package blink

import (
	"errors"
	"time"
)

// Config holds all tunable parameters for blink detection.
type Config struct {
	// Hysteresis thresholds on the smoothed eye aspect ratio.
	// CloseThreshold arms a candidate blink, BlinkThreshold confirms the
	// eye actually closed, OpenThreshold releases it. Keeping three
	// distinct levels stops noise around a single threshold from
	// oscillating the state machine.
	CloseThreshold float64
	BlinkThreshold float64
	OpenThreshold  float64

	// OpenEARReference is the nominal open-eye aspect ratio used to
	// normalize EAR into an openness ratio (1.0 = typical open eye).
	OpenEARReference float64

	// IncompleteRatio classifies a blink as incomplete when
	// minOpenness/baseline stays above it (the lids never met).
	IncompleteRatio float64

	// Duration bounds for a physiologically plausible blink.
	MinDuration time.Duration
	MaxDuration time.Duration

	// Debounce is the minimum gap between accepted blinks.
	Debounce time.Duration

	// SmoothingWindow is the median filter length over raw EAR values.
	SmoothingWindow int

	// Baseline self-calibration: once BaselineSamples stable open-eye
	// readings (openness above BaselineMinOpenness) accumulate, their
	// median becomes the per-user baseline.
	BaselineSamples     int
	BaselineMinOpenness float64

	// HistoryWindow bounds the rolling openness buffer kept for
	// diagnostics.
	HistoryWindow time.Duration
}

// DefaultConfig returns the recommended blink detection parameters.
func DefaultConfig() Config {
	return Config{
		CloseThreshold:   0.25,
		BlinkThreshold:   0.20,
		OpenThreshold:    0.28,
		OpenEARReference: 0.30,
		IncompleteRatio:  0.30,

		MinDuration: 80 * time.Millisecond,
		MaxDuration: 400 * time.Millisecond,
		Debounce:    120 * time.Millisecond,

		SmoothingWindow: 3,

		BaselineSamples:     30,
		BaselineMinOpenness: 0.5,

		HistoryWindow: 60 * time.Second,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.BlinkThreshold >= c.CloseThreshold {
		return errors.New("blink: blink threshold must be below close threshold")
	}
	if c.OpenThreshold <= c.CloseThreshold {
		return errors.New("blink: open threshold must be above close threshold")
	}
	if c.OpenEARReference <= 0 {
		return errors.New("blink: open EAR reference must be positive")
	}
	if c.MinDuration <= 0 || c.MaxDuration <= c.MinDuration {
		return errors.New("blink: invalid duration bounds")
	}
	if c.SmoothingWindow < 1 {
		return errors.New("blink: smoothing window must be at least 1")
	}
	if c.BaselineSamples < 1 {
		return errors.New("blink: baseline sample count must be at least 1")
	}
	return nil
}
