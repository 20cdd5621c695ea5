package protocol

import (
	"encoding/json"
	"fmt"
)

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewReadyMessage creates a ready message
func NewReadyMessage(distanceCalibrated bool, baselineOpenness float64, version string) (*Message, error) {
	return NewMessage(TypeReady, ReadyData{
		DistanceCalibrated: distanceCalibrated,
		BaselineOpenness:   baselineOpenness,
		Version:            version,
	})
}

// NewErrorMessage creates an error message
func NewErrorMessage(code, message string, fatal bool) (*Message, error) {
	return NewMessage(TypeError, ErrorData{
		Code:    code,
		Message: message,
		Fatal:   fatal,
	})
}

// NewQualityMessage creates a quality message
func NewQualityMessage(flags []string, confidence float64, details map[string]float64) (*Message, error) {
	return NewMessage(TypeQuality, QualityData{
		Flags:      flags,
		Confidence: confidence,
		Details:    details,
	})
}

// NewMetricsMessage creates a metrics message
func NewMetricsMessage(data MetricsData) (*Message, error) {
	return NewMessage(TypeMetrics, data)
}

// NewSessionCompleteMessage creates a sessionComplete message. The
// result payload is marshaled into the Result field.
func NewSessionCompleteMessage(sessionID, kind string, startedAt, endedAt int64, partial bool, result interface{}) (*Message, error) {
	var rawResult json.RawMessage
	if result != nil {
		var err error
		rawResult, err = json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal session result: %w", err)
		}
	}
	return NewMessage(TypeSessionComplete, SessionCompleteData{
		SessionID: sessionID,
		Kind:      kind,
		StartedAt: startedAt,
		EndedAt:   endedAt,
		Partial:   partial,
		Result:    rawResult,
	})
}

// NewCalibrationProgressMessage creates a calibrationProgress message
func NewCalibrationProgressMessage(sessionID string, samples, required int, elapsedMs int64) (*Message, error) {
	progress := 0.0
	if required > 0 {
		progress = float64(samples) / float64(required)
		if progress > 1 {
			progress = 1
		}
	}
	return NewMessage(TypeCalibrationProgress, CalibrationProgressData{
		SessionID: sessionID,
		Samples:   samples,
		Required:  required,
		Progress:  progress,
		ElapsedMs: elapsedMs,
	})
}

// NewCalibrationCompleteMessage creates a successful calibrationComplete message
func NewCalibrationCompleteMessage(sessionID string, k, targetCm, medianIODPx float64) (*Message, error) {
	return NewMessage(TypeCalibrationComplete, CalibrationCompleteData{
		SessionID:   sessionID,
		Success:     true,
		K:           k,
		TargetCm:    targetCm,
		MedianIODPx: medianIODPx,
	})
}

// NewCalibrationFailedMessage creates a failed calibrationComplete message
func NewCalibrationFailedMessage(sessionID, reason string) (*Message, error) {
	return NewMessage(TypeCalibrationComplete, CalibrationCompleteData{
		SessionID: sessionID,
		Success:   false,
		Reason:    reason,
	})
}

// NewFPSUpdateMessage creates an fpsUpdate message
func NewFPSUpdateMessage(fps float64) (*Message, error) {
	return NewMessage(TypeFPSUpdate, FPSUpdateData{FPS: fps})
}

// NewPingMessage creates a ping message
func NewPingMessage(id string) (*Message, error) {
	return NewMessage(TypePing, PingData{ID: id})
}

// NewPongMessage creates a pong response message
func NewPongMessage(id string, pingTs, nowMs int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTs:    pingTs,
		LatencyMs: nowMs - pingTs,
	})
}
