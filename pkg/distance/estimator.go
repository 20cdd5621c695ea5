// Package distance estimates user-to-screen viewing distance from the
// inter-ocular landmark distance.
//
// The model is a calibrated inverse relationship: a face farther from
// the camera projects a smaller inter-ocular distance, so
// estimatedCm = k / iodPx with k the single calibration constant.
// Estimates are EMA-smoothed and classified into proximity buckets.
package distance

import (
	"errors"
	"sort"
	"time"
)

// Bucket is the discretized proximity classification.
type Bucket string

const (
	BucketNear    Bucket = "NEAR"
	BucketOK      Bucket = "OK"
	BucketFar     Bucket = "FAR"
	BucketUnknown Bucket = "UNKNOWN"
)

// Flag marks a degraded estimate.
type Flag string

const (
	FlagNoLandmarks   Flag = "NO_LANDMARKS"
	FlagNotCalibrated Flag = "NOT_CALIBRATED"
	FlagOutOfRange    Flag = "OUT_OF_RANGE"
)

// Result is one frame's distance estimate. It is never mutated after
// creation; the next frame supersedes it.
type Result struct {
	EstimatedCm float64 `json:"estimated_cm"`
	Confidence  float64 `json:"confidence"`
	Bucket      Bucket  `json:"bucket"`
	Flags       []Flag  `json:"flags,omitempty"`

	// Debug info
	RawCm float64 `json:"raw_cm,omitempty"`
	IODPx float64 `json:"iod_px,omitempty"`
}

// Calibration is the persisted distance model state.
type Calibration struct {
	K                 float64   `json:"k"`
	TargetCm          float64   `json:"target_cm"`
	SampleIODPxMedian float64   `json:"sample_iod_px_median"`
	Timestamp         time.Time `json:"ts"`
}

// ErrInsufficientSamples is returned when a calibration window closes
// without enough stable samples; any prior calibration stays in force.
var ErrInsufficientSamples = errors.New("distance: not enough stable calibration samples")

// ErrNotSampling is returned when finalizing without a started window.
var ErrNotSampling = errors.New("distance: calibration was not started")

// Estimator holds the distance model, its calibration and smoothing
// state. It is not goroutine-safe: the processing tick is its only
// writer.
type Estimator struct {
	config Config
	store  Store

	calibration *Calibration

	smoothed    float64
	hasSmoothed bool

	sampling      bool
	samples       []float64
	samplingStart time.Time
}

// NewEstimator creates an estimator, loading any persisted calibration
// from the store. A nil store disables persistence.
func NewEstimator(config Config, store Store) (*Estimator, error) {
	e := &Estimator{config: config, store: store}
	if store != nil {
		cal, err := store.Load()
		if err != nil {
			return nil, err
		}
		e.calibration = cal
	}
	return e, nil
}

// Calibrated reports whether a calibration constant is in force.
func (e *Estimator) Calibrated() bool {
	return e.calibration != nil
}

// CurrentCalibration returns a copy of the active calibration, or nil.
func (e *Estimator) CurrentCalibration() *Calibration {
	if e.calibration == nil {
		return nil
	}
	cal := *e.calibration
	return &cal
}

// NoLandmarks returns the typed unknown result for a frame without a
// usable face.
func (e *Estimator) NoLandmarks() Result {
	return Result{
		Bucket: BucketUnknown,
		Flags:  []Flag{FlagNoLandmarks},
	}
}

// Estimate computes the smoothed distance estimate for one frame.
// A non-positive IOD yields the unknown result.
func (e *Estimator) Estimate(iodPx float64) Result {
	if iodPx <= 0 {
		return e.NoLandmarks()
	}

	confidence := 1.0
	var flags []Flag

	k := e.config.DefaultK
	if e.calibration != nil {
		k = e.calibration.K
	} else {
		flags = append(flags, FlagNotCalibrated)
		confidence *= e.config.UncalibratedPenalty
	}

	raw := k / iodPx
	if e.hasSmoothed {
		alpha := e.config.SmoothingAlpha
		e.smoothed = alpha*raw + (1-alpha)*e.smoothed
	} else {
		e.smoothed = raw
		e.hasSmoothed = true
	}

	if e.smoothed < e.config.MinPlausibleCm || e.smoothed > e.config.MaxPlausibleCm {
		flags = append(flags, FlagOutOfRange)
		confidence *= e.config.OutOfRangePenalty
	}

	bucket := e.Classify(e.smoothed)
	if confidence < e.config.MinUsableConfidence {
		bucket = BucketUnknown
	}

	return Result{
		EstimatedCm: e.smoothed,
		Confidence:  confidence,
		Bucket:      bucket,
		Flags:       flags,
		RawCm:       raw,
		IODPx:       iodPx,
	}
}

// Classify maps a distance in cm onto the configured proximity buckets.
func (e *Estimator) Classify(cm float64) Bucket {
	switch {
	case cm < e.config.NearCm:
		return BucketNear
	case cm > e.config.FarCm:
		return BucketFar
	default:
		return BucketOK
	}
}

// StartCalibration opens a bounded sampling window.
func (e *Estimator) StartCalibration(now time.Time) {
	e.sampling = true
	e.samples = nil
	e.samplingStart = now
}

// CancelCalibration closes the sampling window without applying
// anything; any prior calibration stays in force.
func (e *Estimator) CancelCalibration() {
	e.sampling = false
	e.samples = nil
}

// ProcessCalibrationFrame appends a pixel IOD sample when the caller
// asserts head-pose stability and the window is still open. Returns
// whether the sample was accepted.
func (e *Estimator) ProcessCalibrationFrame(iodPx float64, stable bool, now time.Time) bool {
	if !e.sampling || !stable || iodPx <= 0 {
		return false
	}
	if now.Sub(e.samplingStart) > e.config.CalibrationWindow {
		return false
	}
	e.samples = append(e.samples, iodPx)
	return true
}

// SampleCount returns the number of accepted calibration samples.
func (e *Estimator) SampleCount() int {
	return len(e.samples)
}

// FinalizeCalibration closes the window. With enough samples it sets
// k = targetCm * median(samples), persists the calibration and
// cold-starts the smoother; otherwise it fails and leaves any prior
// calibration untouched.
func (e *Estimator) FinalizeCalibration(now time.Time) (*Calibration, error) {
	if !e.sampling {
		return nil, ErrNotSampling
	}
	samples := e.samples
	e.sampling = false
	e.samples = nil

	if len(samples) < e.config.MinCalibrationSamples {
		return nil, ErrInsufficientSamples
	}

	m := median(samples)
	cal := &Calibration{
		K:                 e.config.TargetCm * m,
		TargetCm:          e.config.TargetCm,
		SampleIODPxMedian: m,
		Timestamp:         now,
	}
	e.calibration = cal
	e.hasSmoothed = false
	e.smoothed = 0

	if e.store != nil {
		if err := e.store.Save(cal); err != nil {
			return cal, err
		}
	}
	return e.CurrentCalibration(), nil
}

// ResetCalibration discards the persisted constant and the smoothing
// history, forcing the default constant and a cold EMA on next use.
func (e *Estimator) ResetCalibration() error {
	e.calibration = nil
	e.hasSmoothed = false
	e.smoothed = 0
	e.sampling = false
	e.samples = nil
	if e.store != nil {
		return e.store.Clear()
	}
	return nil
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
