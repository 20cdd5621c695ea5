package quality

import (
	"errors"
	"time"
)

// Config holds all tunable parameters for frame quality assessment.
type Config struct {
	// WarmupDuration discounts frames right after monitor start, while
	// first detections and auto-exposure are still settling.
	WarmupDuration time.Duration

	// Frame-rate gate: instantaneous FPS averaged over FPSSamples
	// consecutive frames, flagged below LowFPSThreshold.
	LowFPSThreshold float64
	FPSSamples      int

	// BrightnessThreshold flags dim frames; GlareBrightness flags
	// suspiciously bright frames co-occurring with a face. Both on a
	// 0-255 luminance scale sampled from a center crop of CropFraction
	// of the frame.
	BrightnessThreshold float64
	GlareBrightness     float64
	CropFraction        float64

	// Head-pose gates in degrees.
	MaxYaw   float64
	MaxPitch float64
	MaxRoll  float64

	// Eye-occlusion gates on normalized eye-contour spread. Below
	// SevereEyeSpread the landmarks have collapsed outright; below
	// ModerateEyeSpread they are suspect.
	SevereEyeSpread   float64
	ModerateEyeSpread float64
}

// DefaultConfig returns the recommended quality thresholds.
func DefaultConfig() Config {
	return Config{
		WarmupDuration: 2500 * time.Millisecond,

		LowFPSThreshold: 20,
		FPSSamples:      30,

		BrightnessThreshold: 50,
		GlareBrightness:     230,
		CropFraction:        0.2,

		MaxYaw:   20,
		MaxPitch: 15,
		MaxRoll:  15,

		SevereEyeSpread:   0.008,
		ModerateEyeSpread: 0.015,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.WarmupDuration < 0 {
		return errors.New("quality: warmup duration must not be negative")
	}
	if c.FPSSamples < 1 {
		return errors.New("quality: FPS sample count must be at least 1")
	}
	if c.CropFraction <= 0 || c.CropFraction > 1 {
		return errors.New("quality: crop fraction must be in (0,1]")
	}
	if c.ModerateEyeSpread <= c.SevereEyeSpread {
		return errors.New("quality: moderate eye spread must be above severe")
	}
	return nil
}
