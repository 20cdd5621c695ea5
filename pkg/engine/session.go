package engine

import (
	"time"

	"github.com/oculab/go-oculab/pkg/blink"
	"github.com/oculab/go-oculab/pkg/distance"
	"github.com/oculab/go-oculab/pkg/quality"
)

// SessionKind identifies a session protocol.
type SessionKind string

const (
	KindCalibration SessionKind = "calibration"
	KindAssessment  SessionKind = "assessment"
	KindBurst       SessionKind = "burst"
)

// AssessmentResult summarizes a completed or aborted assessment run.
type AssessmentResult struct {
	Blink          blink.Metrics  `json:"blink"`
	Events         []blink.Event  `json:"events,omitempty"`
	MeanFPS        float64        `json:"meanFps"`
	MeanQuality    float64        `json:"meanQuality"`
	QualityFlags   map[string]int `json:"qualityFlags,omitempty"`
	MeanDistanceCm float64        `json:"meanDistanceCm,omitempty"`
	Frames         int            `json:"frames"`
	DurationMs     int64          `json:"durationMs"`
}

// BurstResult is the outcome of a short distance burst read.
type BurstResult struct {
	DistanceCm float64         `json:"distanceCm"`
	Bucket     distance.Bucket `json:"bucket"`
	Confidence float64         `json:"confidence"`
	Samples    int             `json:"samples"`
}

// CalibrationResult is the sessionComplete payload of a calibration run.
type CalibrationResult struct {
	Success     bool    `json:"success"`
	K           float64 `json:"k,omitempty"`
	TargetCm    float64 `json:"targetCm,omitempty"`
	MedianIODPx float64 `json:"medianIodPx,omitempty"`
	Samples     int     `json:"samples"`
	Reason      string  `json:"reason,omitempty"`
}

// session is the engine's in-flight session state. One at a time; the
// processing tick is its only writer.
type session struct {
	id      string
	kind    SessionKind
	started time.Time
	ends    time.Time

	// assessment accumulators
	frames       int
	qualitySum   float64
	flagCounts   map[string]int
	distanceSum  float64
	distanceSeen int

	// burst accumulators
	burstCm         []float64
	burstConfidence float64
}

func newSession(id string, kind SessionKind, started time.Time, length time.Duration) *session {
	return &session{
		id:         id,
		kind:       kind,
		started:    started,
		ends:       started.Add(length),
		flagCounts: make(map[string]int),
	}
}

func (s *session) expired(now time.Time) bool {
	return !now.Before(s.ends)
}

// observe folds one frame's signals into the session accumulators.
func (s *session) observe(a quality.Assessment, dres distance.Result) {
	s.frames++
	s.qualitySum += a.Confidence
	for _, f := range a.Flags {
		s.flagCounts[string(f)]++
	}
	usable := dres.EstimatedCm > 0 && dres.Bucket != distance.BucketUnknown
	if usable {
		s.distanceSum += dres.EstimatedCm
		s.distanceSeen++
	}

	if s.kind == KindBurst && dres.EstimatedCm > 0 {
		s.burstCm = append(s.burstCm, dres.EstimatedCm)
		s.burstConfidence += dres.Confidence
	}
}

func (s *session) meanQuality() float64 {
	if s.frames == 0 {
		return 0
	}
	return s.qualitySum / float64(s.frames)
}

func (s *session) meanDistance() float64 {
	if s.distanceSeen == 0 {
		return 0
	}
	return s.distanceSum / float64(s.distanceSeen)
}

// burstResult reduces the burst samples: the median distance, classified
// by the caller's bucket thresholds, with mean confidence. No samples
// yields UNKNOWN at confidence 0.
func (s *session) burstResult(classify func(cm float64) distance.Bucket) BurstResult {
	if len(s.burstCm) == 0 {
		return BurstResult{Bucket: distance.BucketUnknown}
	}
	cm := median(s.burstCm)
	return BurstResult{
		DistanceCm: cm,
		Bucket:     classify(cm),
		Confidence: s.burstConfidence / float64(len(s.burstCm)),
		Samples:    len(s.burstCm),
	}
}
