// Package engine runs the per-frame processing tick and the session
// protocols on top of the blink, distance and quality components,
// publishing typed events for downstream consumers.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oculab/go-oculab/internal/log"
	"github.com/oculab/go-oculab/pkg/blink"
	"github.com/oculab/go-oculab/pkg/distance"
	"github.com/oculab/go-oculab/pkg/landmarks"
	"github.com/oculab/go-oculab/pkg/protocol"
	"github.com/oculab/go-oculab/pkg/quality"
)

// ErrSessionActive is returned when starting a session while another is
// still running.
var ErrSessionActive = errors.New("engine: a session is already running")

// ErrNoSession is returned when aborting with no session running.
var ErrNoSession = errors.New("engine: no session running")

// Engine drives the signal components from a frame stream. Frames are
// processed on a single tick; sessions overlay the tick without
// changing its cadence. A mutex serializes Tick against the session
// control operations, which may come from HTTP handlers.
type Engine struct {
	mu       sync.Mutex
	config   Config
	blink    *blink.Detector
	distance *distance.Estimator
	quality  *quality.Monitor

	events chan *protocol.Message

	frames       int
	metricsStart time.Time
	lastFPSEmit  time.Time

	session *session
}

// NewEngine wires the engine from its signal components.
func NewEngine(config Config, detector *blink.Detector, estimator *distance.Estimator, monitor *quality.Monitor) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		config:   config,
		blink:    detector,
		distance: estimator,
		quality:  monitor,
		events:   make(chan *protocol.Message, 256),
	}, nil
}

// Events returns the engine's event stream. Events are dropped, not
// blocked on, when the consumer falls behind.
func (e *Engine) Events() <-chan *protocol.Message {
	return e.events
}

// Start emits the ready event. Call once before the first Tick.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	baseline, _ := e.blink.Baseline()
	e.emit(protocol.NewReadyMessage(e.distance.Calibrated(), baseline, e.config.Version))
}

// Tick processes one frame: quality assessment, blink detection,
// distance estimation, session bookkeeping and event emission. A panic
// inside the tick is contained to the frame.
func (e *Engine) Tick(frame *landmarks.Frame) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			log.Error("frame processing panicked", "panic", r)
			e.emit(protocol.NewErrorMessage("PROCESSING_PANIC", fmt.Sprint(r), false))
		}
	}()

	e.frames++
	if e.metricsStart.IsZero() {
		e.metricsStart = frame.Timestamp
	}

	assessment := e.quality.Assess(frame)

	face := frame.Primary()
	var openness *blink.Openness
	if face != nil {
		openness, _ = e.blink.ProcessFace(face, frame.Timestamp)
	}

	var dres distance.Result
	if iod := landmarks.IODPixels(face, frame.Width); iod > 0 {
		dres = e.distance.Estimate(iod)
	} else {
		dres = e.distance.NoLandmarks()
	}

	e.tickSession(frame, assessment, dres)

	if e.frames%e.config.QualityEvery == 1 || e.config.QualityEvery == 1 {
		e.emit(protocol.NewQualityMessage(flagStrings(assessment.Flags), assessment.Confidence, assessment.Details))
	}

	e.emitMetrics(frame.Timestamp, openness, assessment, dres)

	if e.lastFPSEmit.IsZero() {
		e.lastFPSEmit = frame.Timestamp
	} else if frame.Timestamp.Sub(e.lastFPSEmit) >= e.config.FPSUpdatePeriod {
		e.lastFPSEmit = frame.Timestamp
		e.emit(protocol.NewFPSUpdateMessage(e.quality.AvgFPS()))
	}
}

// Run pulls frames from the source until it closes or the context is
// canceled, ticking each frame through the engine.
func (e *Engine) Run(ctx context.Context, source landmarks.Source) error {
	e.Start()
	for {
		frame, err := source.NextFrame(ctx)
		if err != nil {
			switch {
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				return err
			case errors.Is(err, landmarks.ErrSourceClosed):
				e.emit(protocol.NewErrorMessage("SOURCE_CLOSED", "landmark source closed", true))
				return nil
			default:
				e.emit(protocol.NewErrorMessage("SOURCE_ERROR", err.Error(), true))
				return fmt.Errorf("engine: source failed: %w", err)
			}
		}
		e.Tick(frame)
	}
}

// =============================================================================
// Session protocols
// =============================================================================

// StartCalibration begins a distance calibration session and returns
// its ID.
func (e *Engine) StartCalibration(now time.Time) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		return "", ErrSessionActive
	}
	e.session = newSession(uuid.NewString(), KindCalibration, now, e.config.CalibrationDuration)
	e.distance.StartCalibration(now)
	log.Info("calibration session started", "session", e.session.id)
	return e.session.id, nil
}

// StartAssessment begins a blink assessment session. A zero length
// selects the default; out-of-bounds lengths are clamped.
func (e *Engine) StartAssessment(now time.Time, length time.Duration) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		return "", ErrSessionActive
	}
	if length == 0 {
		length = e.config.DefaultAssessment
	}
	if length < e.config.MinAssessment {
		length = e.config.MinAssessment
	}
	if length > e.config.MaxAssessment {
		length = e.config.MaxAssessment
	}

	// Assessment metrics cover only their own window.
	e.blink.Reset()
	e.quality.Reset()
	e.metricsStart = now

	e.session = newSession(uuid.NewString(), KindAssessment, now, length)
	log.Info("assessment session started", "session", e.session.id, "length", length)
	return e.session.id, nil
}

// StartBurst begins a short distance read. Without a calibration the
// burst completes immediately with an UNKNOWN result.
func (e *Engine) StartBurst(now time.Time) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		return "", ErrSessionActive
	}
	id := uuid.NewString()
	if !e.distance.Calibrated() {
		e.emit(protocol.NewSessionCompleteMessage(id, string(KindBurst),
			now.UnixMilli(), now.UnixMilli(), false, BurstResult{Bucket: distance.BucketUnknown}))
		return id, nil
	}
	e.session = newSession(id, KindBurst, now, e.config.BurstDuration)
	log.Info("burst session started", "session", id)
	return id, nil
}

// AbortSession ends the running session early with a partial result.
func (e *Engine) AbortSession(now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return ErrNoSession
	}
	e.completeSession(now, true)
	return nil
}

// SessionID returns the running session's ID, or "" if none.
func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return ""
	}
	return e.session.id
}

// SessionKind returns the running session's kind, or "" if none.
func (e *Engine) SessionKind() SessionKind {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return ""
	}
	return e.session.kind
}

// ResetDistanceCalibration discards the persisted distance model.
func (e *Engine) ResetDistanceCalibration() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.distance.ResetCalibration()
}

// DistanceCalibrated reports whether a distance calibration is loaded.
func (e *Engine) DistanceCalibrated() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.distance.Calibrated()
}

// AvgFPS returns the rolling average frame rate.
func (e *Engine) AvgFPS() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.quality.AvgFPS()
}

func (e *Engine) tickSession(frame *landmarks.Frame, a quality.Assessment, dres distance.Result) {
	s := e.session
	if s == nil {
		return
	}

	s.observe(a, dres)

	if s.kind == KindCalibration {
		face := frame.Primary()
		if iod := landmarks.IODPixels(face, frame.Width); iod > 0 {
			before := e.distance.SampleCount()
			if e.distance.ProcessCalibrationFrame(iod, e.quality.PoseStable(frame), frame.Timestamp) &&
				e.distance.SampleCount() != before {
				e.emit(protocol.NewCalibrationProgressMessage(s.id,
					e.distance.SampleCount(), e.config.CalibrationMinSamples,
					frame.Timestamp.Sub(s.started).Milliseconds()))
			}
		}
	}

	if s.expired(frame.Timestamp) {
		e.completeSession(frame.Timestamp, false)
	}
}

// completeSession finalizes the running session and emits its result.
// Calibration failure is reported, never fatal.
func (e *Engine) completeSession(now time.Time, partial bool) {
	s := e.session
	e.session = nil

	var result interface{}
	switch s.kind {
	case KindCalibration:
		result = e.finishCalibration(s, now)
	case KindAssessment:
		elapsed := now.Sub(s.started)
		result = AssessmentResult{
			Blink:          e.blink.CalculateMetrics(elapsed, e.quality.AvgFPS()),
			Events:         e.blink.Events(),
			MeanFPS:        e.quality.AvgFPS(),
			MeanQuality:    s.meanQuality(),
			QualityFlags:   s.flagCounts,
			MeanDistanceCm: s.meanDistance(),
			Frames:         s.frames,
			DurationMs:     elapsed.Milliseconds(),
		}
	case KindBurst:
		result = s.burstResult(e.distance.Classify)
	}

	log.Info("session complete", "session", s.id, "kind", s.kind, "partial", partial)
	e.emit(protocol.NewSessionCompleteMessage(s.id, string(s.kind),
		s.started.UnixMilli(), now.UnixMilli(), partial, result))
}

func (e *Engine) finishCalibration(s *session, now time.Time) CalibrationResult {
	samples := e.distance.SampleCount()
	if samples < e.config.CalibrationMinSamples {
		e.distance.CancelCalibration()
		reason := fmt.Sprintf("only %d of %d stable samples", samples, e.config.CalibrationMinSamples)
		log.Warn("calibration failed", "session", s.id, "reason", reason)
		e.emit(protocol.NewCalibrationFailedMessage(s.id, reason))
		return CalibrationResult{Samples: samples, Reason: reason}
	}

	cal, err := e.distance.FinalizeCalibration(now)
	if err != nil {
		log.Warn("calibration failed", "session", s.id, "error", err)
		e.emit(protocol.NewCalibrationFailedMessage(s.id, err.Error()))
		return CalibrationResult{Samples: samples, Reason: err.Error()}
	}

	log.Info("calibration complete", "session", s.id, "k", cal.K)
	e.emit(protocol.NewCalibrationCompleteMessage(s.id, cal.K, cal.TargetCm, cal.SampleIODPxMedian))
	return CalibrationResult{
		Success:     true,
		K:           cal.K,
		TargetCm:    cal.TargetCm,
		MedianIODPx: cal.SampleIODPxMedian,
		Samples:     samples,
	}
}

// =============================================================================
// Event emission
// =============================================================================

func (e *Engine) emitMetrics(ts time.Time, openness *blink.Openness, a quality.Assessment, dres distance.Result) {
	m := e.blink.CalculateMetrics(ts.Sub(e.metricsStart), e.quality.AvgFPS())

	data := protocol.MetricsData{
		BlinkCount:      m.BlinkCount,
		BlinkRate:       m.BlinkRate,
		IncompleteCount: m.IncompleteCount,
		IncompleteRatio: m.IncompleteRatio,
		BlinkConfidence: m.Confidence,

		DistanceCm:         dres.EstimatedCm,
		DistanceBucket:     string(dres.Bucket),
		DistanceConfidence: dres.Confidence,

		QualityConfidence: a.Confidence,
		QualityFlags:      flagStrings(a.Flags),
	}
	if openness != nil {
		data.LeftOpenness = openness.Left
		data.RightOpenness = openness.Right
	}

	e.emit(protocol.NewMetricsMessage(data))
}

func (e *Engine) emit(msg *protocol.Message, err error) {
	if err != nil {
		log.Error("failed to build event", "error", err)
		return
	}
	select {
	case e.events <- msg:
	default:
		log.Warn("event channel full, dropping event", "type", msg.Type)
	}
}

func flagStrings(flags []quality.Flag) []string {
	if len(flags) == 0 {
		return nil
	}
	out := make([]string, len(flags))
	for i, f := range flags {
		out[i] = string(f)
	}
	return out
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
