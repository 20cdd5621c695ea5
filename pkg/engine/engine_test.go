package engine

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/oculab/go-oculab/pkg/blink"
	"github.com/oculab/go-oculab/pkg/distance"
	"github.com/oculab/go-oculab/pkg/landmarks"
	"github.com/oculab/go-oculab/pkg/protocol"
	"github.com/oculab/go-oculab/pkg/quality"
)

var testStart = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// Eye geometry shared by the test faces: contour width 0.06 with the
// inner corners 0.16 apart, which is 204.8px at the 1280px test width.
const testIODPx = 204.8

func setEyeAt(points []landmarks.Point, indices [6]int, x0, ear float64) {
	const h = 0.06
	v := ear * h
	contour := [6]landmarks.Point{
		{X: x0, Y: 0.5},
		{X: x0 + 0.3*h, Y: 0.5 - v/2},
		{X: x0 + 0.7*h, Y: 0.5 - v/2},
		{X: x0 + h, Y: 0.5},
		{X: x0 + 0.7*h, Y: 0.5 + v/2},
		{X: x0 + 0.3*h, Y: 0.5 + v/2},
	}
	for i, idx := range indices {
		points[idx] = contour[i]
	}
}

func engineFace(ear float64) landmarks.Face {
	points := make([]landmarks.Point, landmarks.NumPoints)
	setEyeAt(points, landmarks.RightEyeContour, 0.30, ear)
	setEyeAt(points, landmarks.LeftEyeContour, 0.52, ear)
	return landmarks.Face{Points: points, Score: 0.9}
}

func frameAt(ts time.Time, ear float64) *landmarks.Frame {
	return &landmarks.Frame{
		Timestamp: ts,
		Width:     1280,
		Height:    720,
		Faces:     []landmarks.Face{engineFace(ear)},
	}
}

func emptyFrame(ts time.Time) *landmarks.Frame {
	return &landmarks.Frame{Timestamp: ts, Width: 1280, Height: 720}
}

// testConfig shortens the session windows so tests stay fast.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CalibrationDuration = time.Second
	cfg.CalibrationMinSamples = 3
	cfg.MinAssessment = 2 * time.Second
	cfg.DefaultAssessment = 3 * time.Second
	cfg.MaxAssessment = 5 * time.Second
	cfg.BurstDuration = 500 * time.Millisecond
	return cfg
}

func newTestEngine(t *testing.T, est *distance.Estimator) *Engine {
	t.Helper()
	if est == nil {
		var err error
		est, err = distance.NewEstimator(distance.DefaultConfig(), nil)
		if err != nil {
			t.Fatalf("NewEstimator() error = %v", err)
		}
	}
	bcfg := blink.DefaultConfig()
	bcfg.SmoothingWindow = 1
	eng, err := NewEngine(testConfig(),
		blink.NewDetector(bcfg), est,
		quality.NewMonitor(quality.DefaultConfig(), nil))
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return eng
}

func calibratedEstimator(t *testing.T) *distance.Estimator {
	t.Helper()
	est, err := distance.NewEstimator(distance.DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("NewEstimator() error = %v", err)
	}
	est.StartCalibration(testStart)
	for i := 0; i < 12; i++ {
		est.ProcessCalibrationFrame(testIODPx, true, testStart.Add(time.Duration(i)*100*time.Millisecond))
	}
	if _, err := est.FinalizeCalibration(testStart.Add(2 * time.Second)); err != nil {
		t.Fatalf("FinalizeCalibration() error = %v", err)
	}
	return est
}

func drain(e *Engine) []*protocol.Message {
	var out []*protocol.Message
	for {
		select {
		case m := <-e.Events():
			out = append(out, m)
		default:
			return out
		}
	}
}

func ofType(msgs []*protocol.Message, t protocol.MessageType) []*protocol.Message {
	var out []*protocol.Message
	for _, m := range msgs {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func TestEngine_StartEmitsReady(t *testing.T) {
	e := newTestEngine(t, nil)
	e.Start()

	msgs := drain(e)
	ready := ofType(msgs, protocol.TypeReady)
	if len(ready) != 1 {
		t.Fatalf("ready events = %d, want 1", len(ready))
	}

	data, err := ready[0].GetReadyData()
	if err != nil {
		t.Fatalf("GetReadyData() error = %v", err)
	}
	if data.DistanceCalibrated {
		t.Error("fresh engine should not report a distance calibration")
	}
}

func TestEngine_MetricsEveryFrame(t *testing.T) {
	e := newTestEngine(t, nil)

	ts := testStart
	for i := 0; i < 10; i++ {
		e.Tick(frameAt(ts, 0.30))
		ts = ts.Add(33 * time.Millisecond)
	}

	msgs := drain(e)
	if got := len(ofType(msgs, protocol.TypeMetrics)); got != 10 {
		t.Errorf("metrics events = %d, want 10", got)
	}
	// Quality is throttled to every 30th frame; only the first fires here.
	if got := len(ofType(msgs, protocol.TypeQuality)); got != 1 {
		t.Errorf("quality events = %d, want 1", got)
	}
}

func TestEngine_FPSUpdateCadence(t *testing.T) {
	e := newTestEngine(t, nil)

	ts := testStart
	for i := 0; i < 70; i++ {
		e.Tick(frameAt(ts, 0.30))
		ts = ts.Add(33 * time.Millisecond)
	}

	updates := ofType(drain(e), protocol.TypeFPSUpdate)
	if len(updates) != 2 {
		t.Fatalf("fpsUpdate events = %d, want 2", len(updates))
	}
	data, err := updates[len(updates)-1].GetFPSUpdateData()
	if err != nil {
		t.Fatalf("GetFPSUpdateData() error = %v", err)
	}
	if math.Abs(data.FPS-1000.0/33.0) > 0.5 {
		t.Errorf("FPS = %v, want ≈30.3", data.FPS)
	}
}

// A long face-absent stretch must not corrupt state: blink counters and
// the distance model survive, and metrics keep flowing with quality
// confidence pinned to zero.
func TestEngine_SurvivesLongFaceAbsence(t *testing.T) {
	e := newTestEngine(t, calibratedEstimator(t))

	// One clean blink: 12 open frames, 4 closed, then reopen.
	ts := testStart
	tick := func(ear float64) {
		e.Tick(frameAt(ts, ear))
		ts = ts.Add(40 * time.Millisecond)
	}
	for i := 0; i < 12; i++ {
		tick(0.30)
	}
	for i := 0; i < 4; i++ {
		tick(0.12)
	}
	for i := 0; i < 4; i++ {
		tick(0.30)
	}
	drain(e)

	// 100 frames with no face.
	var absent []*protocol.Message
	for i := 0; i < 100; i++ {
		e.Tick(emptyFrame(ts))
		ts = ts.Add(40 * time.Millisecond)
		absent = append(absent, drain(e)...)
	}

	metrics := ofType(absent, protocol.TypeMetrics)
	if len(metrics) != 100 {
		t.Fatalf("metrics during absence = %d, want 100", len(metrics))
	}
	last, err := metrics[len(metrics)-1].GetMetricsData()
	if err != nil {
		t.Fatalf("GetMetricsData() error = %v", err)
	}
	if last.QualityConfidence != 0 {
		t.Errorf("QualityConfidence = %v, want 0 with no face", last.QualityConfidence)
	}
	if last.BlinkCount != 1 {
		t.Errorf("BlinkCount = %v, want 1 retained through absence", last.BlinkCount)
	}
	if last.DistanceBucket != string(distance.BucketUnknown) {
		t.Errorf("DistanceBucket = %v, want UNKNOWN", last.DistanceBucket)
	}

	// Face returns: distance estimation resumes from the same model.
	e.Tick(frameAt(ts, 0.30))
	m, _ := ofType(drain(e), protocol.TypeMetrics)[0].GetMetricsData()
	if math.Abs(m.DistanceCm-45) > 1 {
		t.Errorf("DistanceCm = %v, want ≈45 after face returns", m.DistanceCm)
	}
}

func TestEngine_CalibrationSession(t *testing.T) {
	e := newTestEngine(t, nil)

	id, err := e.StartCalibration(testStart)
	if err != nil {
		t.Fatalf("StartCalibration() error = %v", err)
	}
	if e.SessionKind() != KindCalibration {
		t.Fatalf("SessionKind = %v, want calibration", e.SessionKind())
	}

	ts := testStart
	for i := 0; i < 12; i++ {
		e.Tick(frameAt(ts, 0.30))
		ts = ts.Add(100 * time.Millisecond)
	}

	msgs := drain(e)

	if len(ofType(msgs, protocol.TypeCalibrationProgress)) == 0 {
		t.Error("expected calibrationProgress events while sampling")
	}

	complete := ofType(msgs, protocol.TypeCalibrationComplete)
	if len(complete) != 1 {
		t.Fatalf("calibrationComplete events = %d, want 1", len(complete))
	}
	cal, err := complete[0].GetCalibrationCompleteData()
	if err != nil {
		t.Fatalf("GetCalibrationCompleteData() error = %v", err)
	}
	if !cal.Success {
		t.Fatalf("calibration failed: %s", cal.Reason)
	}
	if math.Abs(cal.K-45*testIODPx) > 1e-6 {
		t.Errorf("K = %v, want %v", cal.K, 45*testIODPx)
	}

	done := ofType(msgs, protocol.TypeSessionComplete)
	if len(done) != 1 {
		t.Fatalf("sessionComplete events = %d, want 1", len(done))
	}
	sc, _ := done[0].GetSessionCompleteData()
	if sc.SessionID != id || sc.Kind != string(KindCalibration) {
		t.Errorf("sessionComplete = %s/%s, want %s/calibration", sc.SessionID, sc.Kind, id)
	}
	if e.SessionID() != "" {
		t.Error("session should be cleared after completion")
	}
}

func TestEngine_CalibrationFailsWithoutFace(t *testing.T) {
	e := newTestEngine(t, nil)

	if _, err := e.StartCalibration(testStart); err != nil {
		t.Fatalf("StartCalibration() error = %v", err)
	}

	ts := testStart
	for i := 0; i < 12; i++ {
		e.Tick(emptyFrame(ts))
		ts = ts.Add(100 * time.Millisecond)
	}

	msgs := drain(e)
	complete := ofType(msgs, protocol.TypeCalibrationComplete)
	if len(complete) != 1 {
		t.Fatalf("calibrationComplete events = %d, want 1", len(complete))
	}
	cal, _ := complete[0].GetCalibrationCompleteData()
	if cal.Success {
		t.Error("calibration without samples should fail")
	}
	if cal.Reason == "" {
		t.Error("failure should carry a reason")
	}

	// Failure is not fatal: the engine keeps ticking.
	e.Tick(frameAt(ts, 0.30))
	if got := len(ofType(drain(e), protocol.TypeMetrics)); got != 1 {
		t.Errorf("metrics after failed calibration = %d, want 1", got)
	}
}

func TestEngine_AssessmentSession(t *testing.T) {
	e := newTestEngine(t, nil)

	id, err := e.StartAssessment(testStart, 0)
	if err != nil {
		t.Fatalf("StartAssessment() error = %v", err)
	}

	// 33ms frames across the 3s default window with one blink inside.
	ts := testStart
	frame := 0
	for ts.Before(testStart.Add(3100 * time.Millisecond)) {
		ear := 0.30
		if frame >= 12 && frame < 16 {
			ear = 0.12
		}
		e.Tick(frameAt(ts, ear))
		ts = ts.Add(33 * time.Millisecond)
		frame++
	}

	done := ofType(drain(e), protocol.TypeSessionComplete)
	if len(done) != 1 {
		t.Fatalf("sessionComplete events = %d, want 1", len(done))
	}
	sc, _ := done[0].GetSessionCompleteData()
	if sc.SessionID != id || sc.Partial {
		t.Errorf("sessionComplete = %s partial=%v, want %s partial=false", sc.SessionID, sc.Partial, id)
	}

	var result AssessmentResult
	if err := json.Unmarshal(sc.Result, &result); err != nil {
		t.Fatalf("result unmarshal error = %v", err)
	}
	if result.Blink.BlinkCount != 1 {
		t.Errorf("BlinkCount = %v, want 1", result.Blink.BlinkCount)
	}
	if len(result.Events) != 1 {
		t.Errorf("event history = %d entries, want 1", len(result.Events))
	}
	if result.Frames == 0 || result.MeanQuality <= 0 {
		t.Errorf("Frames = %v, MeanQuality = %v, want both positive", result.Frames, result.MeanQuality)
	}
	if math.Abs(result.MeanFPS-1000.0/33.0) > 1 {
		t.Errorf("MeanFPS = %v, want ≈30.3", result.MeanFPS)
	}
}

func TestEngine_AssessmentClampsDuration(t *testing.T) {
	e := newTestEngine(t, nil)

	// Requested 30s clamps to the 5s maximum.
	if _, err := e.StartAssessment(testStart, 30*time.Second); err != nil {
		t.Fatalf("StartAssessment() error = %v", err)
	}

	e.Tick(frameAt(testStart.Add(4900*time.Millisecond), 0.30))
	if e.SessionID() == "" {
		t.Fatal("session should still be running at 4.9s")
	}
	e.Tick(frameAt(testStart.Add(5100*time.Millisecond), 0.30))
	if e.SessionID() != "" {
		t.Error("session should have completed at the 5s cap")
	}
}

func TestEngine_BurstSession(t *testing.T) {
	e := newTestEngine(t, calibratedEstimator(t))

	id, err := e.StartBurst(testStart)
	if err != nil {
		t.Fatalf("StartBurst() error = %v", err)
	}

	ts := testStart
	for i := 0; i < 7; i++ {
		e.Tick(frameAt(ts, 0.30))
		ts = ts.Add(100 * time.Millisecond)
	}

	done := ofType(drain(e), protocol.TypeSessionComplete)
	if len(done) != 1 {
		t.Fatalf("sessionComplete events = %d, want 1", len(done))
	}
	sc, _ := done[0].GetSessionCompleteData()
	if sc.SessionID != id {
		t.Errorf("SessionID = %s, want %s", sc.SessionID, id)
	}

	var result BurstResult
	if err := json.Unmarshal(sc.Result, &result); err != nil {
		t.Fatalf("result unmarshal error = %v", err)
	}
	if math.Abs(result.DistanceCm-45) > 1 {
		t.Errorf("DistanceCm = %v, want ≈45", result.DistanceCm)
	}
	if result.Bucket != distance.BucketOK {
		t.Errorf("Bucket = %v, want OK", result.Bucket)
	}
	if result.Samples == 0 {
		t.Error("burst should have collected samples")
	}
}

func TestBurstResult_ClassifiesMedian(t *testing.T) {
	est, err := distance.NewEstimator(distance.DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("NewEstimator() error = %v", err)
	}

	// Samples straddle the FAR threshold: most frames read far, but the
	// median lands at 45cm and the reported bucket must follow it.
	s := newSession("burst-1", KindBurst, testStart, 1500*time.Millisecond)
	for _, cm := range []float64{20, 20, 45, 45, 80, 80, 80} {
		s.observe(quality.Assessment{}, distance.Result{
			EstimatedCm: cm,
			Bucket:      est.Classify(cm),
			Confidence:  1,
		})
	}

	result := s.burstResult(est.Classify)
	if result.DistanceCm != 45 {
		t.Errorf("DistanceCm = %v, want 45", result.DistanceCm)
	}
	if result.Bucket != distance.BucketOK {
		t.Errorf("Bucket = %v, want OK", result.Bucket)
	}
	if result.Samples != 7 {
		t.Errorf("Samples = %d, want 7", result.Samples)
	}
}

func TestEngine_BurstUncalibratedShortCircuits(t *testing.T) {
	e := newTestEngine(t, nil)

	if _, err := e.StartBurst(testStart); err != nil {
		t.Fatalf("StartBurst() error = %v", err)
	}
	if e.SessionID() != "" {
		t.Error("uncalibrated burst should not leave a session running")
	}

	done := ofType(drain(e), protocol.TypeSessionComplete)
	if len(done) != 1 {
		t.Fatalf("sessionComplete events = %d, want 1", len(done))
	}
	var result BurstResult
	sc, _ := done[0].GetSessionCompleteData()
	if err := json.Unmarshal(sc.Result, &result); err != nil {
		t.Fatalf("result unmarshal error = %v", err)
	}
	if result.Bucket != distance.BucketUnknown {
		t.Errorf("Bucket = %v, want UNKNOWN", result.Bucket)
	}
}

func TestEngine_OneSessionAtATime(t *testing.T) {
	e := newTestEngine(t, nil)

	if _, err := e.StartCalibration(testStart); err != nil {
		t.Fatalf("StartCalibration() error = %v", err)
	}
	if _, err := e.StartAssessment(testStart, 0); !errors.Is(err, ErrSessionActive) {
		t.Errorf("StartAssessment() error = %v, want ErrSessionActive", err)
	}
	if _, err := e.StartBurst(testStart); !errors.Is(err, ErrSessionActive) {
		t.Errorf("StartBurst() error = %v, want ErrSessionActive", err)
	}
}

func TestEngine_AbortEmitsPartialResult(t *testing.T) {
	e := newTestEngine(t, nil)

	if err := e.AbortSession(testStart); !errors.Is(err, ErrNoSession) {
		t.Errorf("AbortSession() error = %v, want ErrNoSession", err)
	}

	if _, err := e.StartAssessment(testStart, 0); err != nil {
		t.Fatalf("StartAssessment() error = %v", err)
	}
	ts := testStart
	for i := 0; i < 10; i++ {
		e.Tick(frameAt(ts, 0.30))
		ts = ts.Add(33 * time.Millisecond)
	}
	if err := e.AbortSession(ts); err != nil {
		t.Fatalf("AbortSession() error = %v", err)
	}

	done := ofType(drain(e), protocol.TypeSessionComplete)
	if len(done) != 1 {
		t.Fatalf("sessionComplete events = %d, want 1", len(done))
	}
	sc, _ := done[0].GetSessionCompleteData()
	if !sc.Partial {
		t.Error("aborted session should be marked partial")
	}
	if e.SessionID() != "" {
		t.Error("session should be cleared after abort")
	}
}

func TestEngine_RunDrainsSource(t *testing.T) {
	e := newTestEngine(t, nil)

	var frames []*landmarks.Frame
	ts := testStart
	for i := 0; i < 5; i++ {
		frames = append(frames, frameAt(ts, 0.30))
		ts = ts.Add(33 * time.Millisecond)
	}
	source := landmarks.NewScripted(frames, 0)

	if err := e.Run(context.Background(), source); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	msgs := drain(e)
	if got := len(ofType(msgs, protocol.TypeMetrics)); got != 5 {
		t.Errorf("metrics events = %d, want 5", got)
	}
	errs := ofType(msgs, protocol.TypeError)
	if len(errs) != 1 {
		t.Fatalf("error events = %d, want 1", len(errs))
	}
	data, _ := errs[0].GetErrorData()
	if data.Code != "SOURCE_CLOSED" || !data.Fatal {
		t.Errorf("error = %s fatal=%v, want SOURCE_CLOSED fatal", data.Code, data.Fatal)
	}
}

func TestEngine_RunStopsOnCancel(t *testing.T) {
	e := newTestEngine(t, nil)
	source := landmarks.NewScripted([]*landmarks.Frame{frameAt(testStart, 0.30)}, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := e.Run(ctx, source); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults valid", func(c *Config) {}, false},
		{"zero quality interval", func(c *Config) { c.QualityEvery = 0 }, true},
		{"zero fps period", func(c *Config) { c.FPSUpdatePeriod = 0 }, true},
		{"inverted assessment bounds", func(c *Config) { c.MaxAssessment = c.MinAssessment - time.Second }, true},
		{"default outside bounds", func(c *Config) { c.DefaultAssessment = c.MaxAssessment + time.Second }, true},
		{"zero burst", func(c *Config) { c.BurstDuration = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
