// Package quality scores each frame for capture fitness and produces a
// confidence multiplier gating the blink and distance signals.
//
// Confidence is the product of independent per-defect discounts, never
// additive, so orthogonal problems compound. A frame without a face is
// the data floor: confidence 0, no further checks.
package quality

import (
	"math"
	"time"

	"github.com/oculab/go-oculab/pkg/landmarks"
)

// Flag marks one detected capture defect.
type Flag string

const (
	FlagWarmingUp      Flag = "MODEL_WARMING_UP"
	FlagLowFPS         Flag = "LOW_FPS"
	FlagFaceNotFound   Flag = "FACE_NOT_FOUND"
	FlagMultiFace      Flag = "MULTI_FACE_DETECTED"
	FlagLowLight       Flag = "LOW_LIGHT"
	FlagPoseUnstable   Flag = "POSE_UNSTABLE"
	FlagEyeOccluded    Flag = "EYE_OCCLUDED"
	FlagGlareSuspected Flag = "GLASSES_GLARE_SUSPECTED"
)

// Per-defect confidence discounts.
const (
	warmupPenalty     = 0.5
	lowFPSPenalty     = 0.7
	multiFacePenalty  = 0.6
	lowLightPenalty   = 0.8
	posePenalty       = 0.7
	severeOcclusion   = 0.6
	moderateOcclusion = 0.8
	glarePenalty      = 0.85
)

// Assessment is one frame's quality verdict. Consumers propagate the
// confidence; they never recompute it.
type Assessment struct {
	Flags      []Flag             `json:"flags,omitempty"`
	Confidence float64            `json:"confidence"`
	Details    map[string]float64 `json:"details,omitempty"`
}

// Has reports whether the assessment carries the given flag.
func (a *Assessment) Has(flag Flag) bool {
	for _, f := range a.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// BrightnessSampler measures center-crop luminance of an encoded frame.
// The second return is false when the image cannot be decoded.
type BrightnessSampler interface {
	Sample(image []byte) (float64, bool)
}

// Monitor assesses per-frame capture quality. It is not goroutine-safe:
// the processing tick is its only writer.
type Monitor struct {
	config     Config
	brightness BrightnessSampler

	started bool
	start   time.Time
	fps     fpsTracker
}

// NewMonitor creates a monitor. A nil sampler disables the brightness
// and glare checks.
func NewMonitor(config Config, brightness BrightnessSampler) *Monitor {
	return &Monitor{
		config:     config,
		brightness: brightness,
		fps:        fpsTracker{max: config.FPSSamples},
	}
}

// Assess scores one frame. Defects multiply into the confidence in a
// fixed order; a missing face short-circuits to zero.
func (m *Monitor) Assess(frame *landmarks.Frame) Assessment {
	if !m.started {
		m.started = true
		m.start = frame.Timestamp
	}
	m.fps.observe(frame.Timestamp)

	a := Assessment{
		Confidence: 1.0,
		Details:    map[string]float64{},
	}

	if frame.Timestamp.Sub(m.start) < m.config.WarmupDuration {
		a.Flags = append(a.Flags, FlagWarmingUp)
		a.Confidence *= warmupPenalty
	}

	if avg, ok := m.fps.average(); ok {
		a.Details["fps"] = avg
		if avg < m.config.LowFPSThreshold {
			a.Flags = append(a.Flags, FlagLowFPS)
			a.Confidence *= lowFPSPenalty
		}
	}

	// A face with a partial landmark set is unusable downstream, so it
	// counts as absent here too.
	face := frame.Primary()
	if !face.Complete() {
		a.Flags = append(a.Flags, FlagFaceNotFound)
		a.Confidence = 0
		return a
	}

	if len(frame.Faces) > 1 {
		a.Flags = append(a.Flags, FlagMultiFace)
		a.Confidence *= multiFacePenalty
	}

	brightness, haveBrightness := 0.0, false
	if m.brightness != nil && len(frame.Image) > 0 {
		brightness, haveBrightness = m.brightness.Sample(frame.Image)
	}
	if haveBrightness {
		a.Details["brightness"] = brightness
		if brightness < m.config.BrightnessThreshold {
			a.Flags = append(a.Flags, FlagLowLight)
			a.Confidence *= lowLightPenalty
		}
	}

	if pose := frame.Pose; pose != nil {
		if math.Abs(pose.Yaw) > m.config.MaxYaw ||
			math.Abs(pose.Pitch) > m.config.MaxPitch ||
			math.Abs(pose.Roll) > m.config.MaxRoll {
			a.Flags = append(a.Flags, FlagPoseUnstable)
			a.Confidence *= posePenalty
		}
	}

	if spread, ok := minEyeSpread(face); ok {
		a.Details["eye_spread"] = spread
		switch {
		case spread < m.config.SevereEyeSpread:
			a.Flags = append(a.Flags, FlagEyeOccluded)
			a.Confidence *= severeOcclusion
		case spread < m.config.ModerateEyeSpread:
			a.Flags = append(a.Flags, FlagEyeOccluded)
			a.Confidence *= moderateOcclusion
		}
	}

	// Placeholder heuristic: raw brightness is a weak proxy for lens
	// glare and has not been validated against real glare captures.
	if haveBrightness && brightness > m.config.GlareBrightness {
		a.Flags = append(a.Flags, FlagGlareSuspected)
		a.Confidence *= glarePenalty
	}

	a.Confidence = clamp01(a.Confidence)
	return a
}

// PoseStable reports whether a frame's head pose is within the
// configured gates; frames without pose data count as stable. The
// calibration protocol uses this to accept IOD samples.
func (m *Monitor) PoseStable(frame *landmarks.Frame) bool {
	pose := frame.Pose
	if pose == nil {
		return true
	}
	return math.Abs(pose.Yaw) <= m.config.MaxYaw &&
		math.Abs(pose.Pitch) <= m.config.MaxPitch &&
		math.Abs(pose.Roll) <= m.config.MaxRoll
}

// AvgFPS returns the rolling average frame rate, or 0 before two frames
// have been observed.
func (m *Monitor) AvgFPS() float64 {
	avg, ok := m.fps.average()
	if !ok {
		return 0
	}
	return avg
}

// Reset clears the warm-up clock and frame-rate history for a new
// session.
func (m *Monitor) Reset() {
	m.started = false
	m.start = time.Time{}
	m.fps = fpsTracker{max: m.config.FPSSamples}
}

func minEyeSpread(face *landmarks.Face) (float64, bool) {
	left, okL := face.Eye(landmarks.LeftEyeContour)
	right, okR := face.Eye(landmarks.RightEyeContour)
	if !okL || !okR {
		return 0, false
	}
	return math.Min(landmarks.EyeSpread(left), landmarks.EyeSpread(right)), true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// fpsTracker keeps a rolling window of instantaneous frame rates
// computed from consecutive frame timestamps.
type fpsTracker struct {
	last    time.Time
	hasLast bool
	samples []float64
	max     int
}

func (t *fpsTracker) observe(ts time.Time) {
	if t.hasLast {
		dt := ts.Sub(t.last).Seconds()
		if dt > 0 {
			t.samples = append(t.samples, 1/dt)
			if len(t.samples) > t.max {
				t.samples = t.samples[1:]
			}
		}
	}
	t.last = ts
	t.hasLast = true
}

func (t *fpsTracker) average() (float64, bool) {
	if len(t.samples) == 0 {
		return 0, false
	}
	var sum float64
	for _, s := range t.samples {
		sum += s
	}
	return sum / float64(len(t.samples)), true
}
