package blink

import "time"

// Frame-rate confidence tiers. Below LowFPSThreshold the temporal
// resolution is too coarse to catch short blinks reliably; between the
// two tiers some blinks may straddle frame boundaries.
const (
	LowFPSThreshold      = 20.0
	ModerateFPSThreshold = 24.0

	lowFPSPenalty       = 0.7
	moderateFPSPenalty  = 0.85
	uncalibratedPenalty = 0.5
)

// Metrics aggregates blink activity over an observation period.
type Metrics struct {
	BlinkCount      int     `json:"blink_count"`
	BlinkRate       float64 `json:"blink_rate"` // blinks per minute
	IncompleteCount int     `json:"incomplete_count"`
	IncompleteRatio float64 `json:"incomplete_ratio"`
	Confidence      float64 `json:"confidence"`
}

// CalculateMetrics aggregates all events since the last reset over the
// given observation duration. Confidence starts at 1.0 and is
// multiplicatively discounted for low average frame rate and for an
// uncalibrated baseline; the penalties are independent and compound.
func (d *Detector) CalculateMetrics(duration time.Duration, avgFPS float64) Metrics {
	m := Metrics{
		BlinkCount: len(d.events),
		Confidence: 1.0,
	}

	for _, e := range d.events {
		if !e.Complete {
			m.IncompleteCount++
		}
	}
	if m.BlinkCount > 0 {
		m.IncompleteRatio = float64(m.IncompleteCount) / float64(m.BlinkCount)
	}
	if duration > 0 {
		m.BlinkRate = float64(m.BlinkCount) / duration.Minutes()
	}

	switch {
	case avgFPS < LowFPSThreshold:
		m.Confidence *= lowFPSPenalty
	case avgFPS < ModerateFPSThreshold:
		m.Confidence *= moderateFPSPenalty
	}
	if !d.calibrated {
		m.Confidence *= uncalibratedPenalty
	}

	return m
}
