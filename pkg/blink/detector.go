// Package blink detects eyelid blinks from per-frame eye landmarks.
//
// The detector computes an eye aspect ratio per frame, median-smooths it,
// and runs a four-state hysteresis machine (open, closing, closed,
// opening). Confirmed blinks are validated against duration bounds and a
// debounce interval before an event is emitted, and classified complete
// or incomplete against a self-calibrating open-eye baseline.
package blink

import (
	"sort"
	"time"

	"github.com/oculab/go-oculab/pkg/landmarks"
)

// State is the hysteresis machine state.
type State int

const (
	StateOpen State = iota
	StateClosing
	StateClosed
	StateOpening
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	default:
		return "unknown"
	}
}

// Event is one confirmed blink.
type Event struct {
	Timestamp   time.Time     `json:"ts"`
	Complete    bool          `json:"complete"`
	MinOpenness float64       `json:"min_openness"`
	Duration    time.Duration `json:"duration"`
}

// Openness is the per-frame normalized openness of each eye
// (1.0 = typical open eye, 0 = fully closed).
type Openness struct {
	Left      float64   `json:"left"`
	Right     float64   `json:"right"`
	Timestamp time.Time `json:"ts"`
}

// Detector runs blink detection over a frame stream. It is not
// goroutine-safe: the processing tick is its only writer.
type Detector struct {
	config Config

	// Smoothing window over raw average EAR
	window []float64

	// Baseline self-calibration
	baseline    float64
	calibrated  bool
	baselineBuf []float64

	// State machine
	state       State
	blinkStart  time.Time
	minOpenness float64
	lastBlink   time.Time
	hasBlinked  bool

	// History
	events   []Event
	openness []Openness
}

// NewDetector creates a detector with the given configuration.
func NewDetector(config Config) *Detector {
	return &Detector{
		config:   config,
		baseline: 1.0,
	}
}

// ProcessFace extracts both eye contours from a face and processes them.
// A nil or incomplete face is a no-op returning nil, nil.
func (d *Detector) ProcessFace(face *landmarks.Face, ts time.Time) (*Openness, *Event) {
	if face == nil {
		return nil, nil
	}
	left, okL := face.Eye(landmarks.LeftEyeContour)
	right, okR := face.Eye(landmarks.RightEyeContour)
	if !okL || !okR {
		return nil, nil
	}
	return d.ProcessFrame(left, right, ts)
}

// ProcessFrame consumes one frame's eye contours. It returns the
// per-eye openness sample and, when a blink is confirmed on this frame,
// the finalized event.
func (d *Detector) ProcessFrame(left, right [6]landmarks.Point, ts time.Time) (*Openness, *Event) {
	earLeft := landmarks.EAR(left)
	earRight := landmarks.EAR(right)
	avg := (earLeft + earRight) / 2

	smoothed := d.smooth(avg)
	normalized := smoothed / d.config.OpenEARReference

	sample := &Openness{
		Left:      earLeft / d.config.OpenEARReference,
		Right:     earRight / d.config.OpenEARReference,
		Timestamp: ts,
	}
	d.recordOpenness(*sample)
	d.calibrateBaseline(normalized)

	event := d.step(smoothed, normalized, ts)
	return sample, event
}

// smooth pushes a raw EAR value and returns the median of the window.
func (d *Detector) smooth(raw float64) float64 {
	d.window = append(d.window, raw)
	if len(d.window) > d.config.SmoothingWindow {
		d.window = d.window[1:]
	}
	return median(d.window)
}

// calibrateBaseline buffers stable open-eye samples until enough
// accumulate, then locks the baseline at their median.
func (d *Detector) calibrateBaseline(normalized float64) {
	if d.calibrated || normalized <= d.config.BaselineMinOpenness {
		return
	}
	d.baselineBuf = append(d.baselineBuf, normalized)
	if len(d.baselineBuf) >= d.config.BaselineSamples {
		d.baseline = median(d.baselineBuf)
		d.calibrated = true
		d.baselineBuf = nil
	}
}

// step advances the hysteresis machine one frame. Transitions cascade
// within a frame when the signal has already crossed the next threshold,
// so an abrupt drop lands directly in the closed state.
func (d *Detector) step(smoothed, normalized float64, ts time.Time) *Event {
	switch d.state {
	case StateOpen:
		if smoothed < d.config.CloseThreshold {
			d.state = StateClosing
			d.blinkStart = ts
			d.minOpenness = normalized
			if smoothed < d.config.BlinkThreshold {
				d.state = StateClosed
			}
		}

	case StateClosing:
		d.trackMin(normalized)
		if smoothed < d.config.BlinkThreshold {
			d.state = StateClosed
		} else if smoothed > d.config.OpenThreshold {
			// Never reached a real closure; abort without an event.
			d.state = StateOpen
		}

	case StateClosed:
		d.trackMin(normalized)
		if smoothed > d.config.BlinkThreshold {
			d.state = StateOpening
			if smoothed > d.config.OpenThreshold {
				return d.finalize(ts)
			}
		}

	case StateOpening:
		d.trackMin(normalized)
		if smoothed < d.config.BlinkThreshold {
			// Lids dropped again mid-reopen: still the same blink.
			d.state = StateClosed
		} else if smoothed > d.config.OpenThreshold {
			return d.finalize(ts)
		}
	}
	return nil
}

func (d *Detector) trackMin(normalized float64) {
	if normalized < d.minOpenness {
		d.minOpenness = normalized
	}
}

// finalize validates the completed cycle and emits an event, or discards
// it silently when duration or debounce checks fail.
func (d *Detector) finalize(ts time.Time) *Event {
	d.state = StateOpen

	duration := ts.Sub(d.blinkStart)
	if duration < d.config.MinDuration || duration > d.config.MaxDuration {
		return nil
	}
	if d.hasBlinked && ts.Sub(d.lastBlink) < d.config.Debounce {
		return nil
	}

	event := Event{
		Timestamp:   ts,
		Complete:    d.minOpenness/d.baseline <= d.config.IncompleteRatio,
		MinOpenness: d.minOpenness,
		Duration:    duration,
	}
	d.lastBlink = ts
	d.hasBlinked = true
	d.events = append(d.events, event)
	return &event
}

func (d *Detector) recordOpenness(sample Openness) {
	d.openness = append(d.openness, sample)
	cutoff := sample.Timestamp.Add(-d.config.HistoryWindow)
	trim := 0
	for trim < len(d.openness) && d.openness[trim].Timestamp.Before(cutoff) {
		trim++
	}
	d.openness = d.openness[trim:]
}

// State returns the current machine state.
func (d *Detector) State() State {
	return d.state
}

// Baseline returns the current open-eye baseline and whether it has been
// calibrated from live samples.
func (d *Detector) Baseline() (float64, bool) {
	return d.baseline, d.calibrated
}

// Events returns a copy of all blink events since the last reset.
func (d *Detector) Events() []Event {
	out := make([]Event, len(d.events))
	copy(out, d.events)
	return out
}

// RecentEvents returns events within the window ending at now.
func (d *Detector) RecentEvents(now time.Time, window time.Duration) []Event {
	cutoff := now.Add(-window)
	var out []Event
	for _, e := range d.events {
		if !e.Timestamp.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// OpennessWindow returns a copy of the rolling openness samples.
func (d *Detector) OpennessWindow() []Openness {
	out := make([]Openness, len(d.openness))
	copy(out, d.openness)
	return out
}

// Reset clears all history, state, calibration, and timers. Called at
// the start of every session so blink history never leaks across
// sessions.
func (d *Detector) Reset() {
	d.window = nil
	d.baseline = 1.0
	d.calibrated = false
	d.baselineBuf = nil
	d.state = StateOpen
	d.blinkStart = time.Time{}
	d.minOpenness = 0
	d.lastBlink = time.Time{}
	d.hasBlinked = false
	d.events = nil
	d.openness = nil
}

// median returns the middle value of the samples (average of the two
// middle values for even counts). The input is not modified.
func median(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
