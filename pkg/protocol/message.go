// Package protocol defines the WebSocket message types emitted by the
// eye-monitoring engine. This package is shared between the engine and
// any dashboard or client consuming its event stream.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Engine → Client messages
	TypeReady               MessageType = "ready"               // Engine initialized
	TypeError               MessageType = "error"               // Recoverable or fatal error
	TypeQuality             MessageType = "quality"             // Frame quality assessment
	TypeMetrics             MessageType = "metrics"             // Per-frame eye metrics
	TypeSessionComplete     MessageType = "sessionComplete"     // Session finished
	TypeCalibrationProgress MessageType = "calibrationProgress" // Distance calibration progress
	TypeCalibrationComplete MessageType = "calibrationComplete" // Distance calibration result
	TypeFPSUpdate           MessageType = "fpsUpdate"           // Rolling frame-rate update

	// Bidirectional
	TypePing MessageType = "ping" // Health check
	TypePong MessageType = "pong" // Health check response
)

// Message is the base wrapper for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	return &msg, nil
}

// =============================================================================
// Engine → Client Message Types
// =============================================================================

// ReadyData announces that the engine finished starting up
type ReadyData struct {
	DistanceCalibrated bool    `json:"distanceCalibrated"`
	BaselineOpenness   float64 `json:"baselineOpenness,omitempty"`
	Version            string  `json:"version,omitempty"`
}

// ErrorData describes an engine error. Fatal errors end the stream.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Fatal   bool   `json:"fatal,omitempty"`
}

// QualityData carries one frame's quality assessment
type QualityData struct {
	Flags      []string           `json:"flags,omitempty"`
	Confidence float64            `json:"confidence"`
	Details    map[string]float64 `json:"details,omitempty"`
}

// MetricsData carries the per-frame eye metrics snapshot
type MetricsData struct {
	LeftOpenness  float64 `json:"leftOpenness"`
	RightOpenness float64 `json:"rightOpenness"`

	BlinkCount      int     `json:"blinkCount"`
	BlinkRate       float64 `json:"blinkRate"` // blinks per minute
	IncompleteCount int     `json:"incompleteCount"`
	IncompleteRatio float64 `json:"incompleteRatio"`
	BlinkConfidence float64 `json:"blinkConfidence"`

	DistanceCm         float64 `json:"distanceCm"`
	DistanceBucket     string  `json:"distanceBucket"`
	DistanceConfidence float64 `json:"distanceConfidence"`

	QualityConfidence float64  `json:"qualityConfidence"`
	QualityFlags      []string `json:"qualityFlags,omitempty"`
}

// SessionCompleteData reports the outcome of a finished session.
// Result holds the session-kind-specific payload.
type SessionCompleteData struct {
	SessionID string          `json:"sessionId"`
	Kind      string          `json:"kind"`      // "calibration", "assessment", "burst"
	StartedAt int64           `json:"startedAt"` // Unix milliseconds
	EndedAt   int64           `json:"endedAt"`
	Partial   bool            `json:"partial,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
}

// CalibrationProgressData reports distance calibration sampling progress
type CalibrationProgressData struct {
	SessionID string  `json:"sessionId"`
	Samples   int     `json:"samples"`
	Required  int     `json:"required"`
	Progress  float64 `json:"progress"` // 0.0 to 1.0
	ElapsedMs int64   `json:"elapsedMs"`
}

// CalibrationCompleteData reports the distance calibration result
type CalibrationCompleteData struct {
	SessionID   string  `json:"sessionId"`
	Success     bool    `json:"success"`
	K           float64 `json:"k,omitempty"`
	TargetCm    float64 `json:"targetCm,omitempty"`
	MedianIODPx float64 `json:"medianIodPx,omitempty"`
	Reason      string  `json:"reason,omitempty"`
}

// FPSUpdateData carries the rolling average frame rate
type FPSUpdateData struct {
	FPS float64 `json:"fps"`
}

// =============================================================================
// Bidirectional Message Types
// =============================================================================

// PingData contains ping information
type PingData struct {
	ID string `json:"id"`
}

// PongData contains pong response information
type PongData struct {
	ID        string `json:"id"`
	PingTs    int64  `json:"ping_ts"`
	LatencyMs int64  `json:"latency_ms"`
}

// =============================================================================
// Data accessors
// =============================================================================

// GetReadyData extracts ReadyData from a ready message
func (m *Message) GetReadyData() (*ReadyData, error) {
	if m.Type != TypeReady {
		return nil, fmt.Errorf("message type is %s, not ready", m.Type)
	}
	var data ReadyData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetErrorData extracts ErrorData from an error message
func (m *Message) GetErrorData() (*ErrorData, error) {
	if m.Type != TypeError {
		return nil, fmt.Errorf("message type is %s, not error", m.Type)
	}
	var data ErrorData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetQualityData extracts QualityData from a quality message
func (m *Message) GetQualityData() (*QualityData, error) {
	if m.Type != TypeQuality {
		return nil, fmt.Errorf("message type is %s, not quality", m.Type)
	}
	var data QualityData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetMetricsData extracts MetricsData from a metrics message
func (m *Message) GetMetricsData() (*MetricsData, error) {
	if m.Type != TypeMetrics {
		return nil, fmt.Errorf("message type is %s, not metrics", m.Type)
	}
	var data MetricsData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetSessionCompleteData extracts SessionCompleteData from a sessionComplete message
func (m *Message) GetSessionCompleteData() (*SessionCompleteData, error) {
	if m.Type != TypeSessionComplete {
		return nil, fmt.Errorf("message type is %s, not sessionComplete", m.Type)
	}
	var data SessionCompleteData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetCalibrationProgressData extracts CalibrationProgressData from a calibrationProgress message
func (m *Message) GetCalibrationProgressData() (*CalibrationProgressData, error) {
	if m.Type != TypeCalibrationProgress {
		return nil, fmt.Errorf("message type is %s, not calibrationProgress", m.Type)
	}
	var data CalibrationProgressData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetCalibrationCompleteData extracts CalibrationCompleteData from a calibrationComplete message
func (m *Message) GetCalibrationCompleteData() (*CalibrationCompleteData, error) {
	if m.Type != TypeCalibrationComplete {
		return nil, fmt.Errorf("message type is %s, not calibrationComplete", m.Type)
	}
	var data CalibrationCompleteData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetFPSUpdateData extracts FPSUpdateData from an fpsUpdate message
func (m *Message) GetFPSUpdateData() (*FPSUpdateData, error) {
	if m.Type != TypeFPSUpdate {
		return nil, fmt.Errorf("message type is %s, not fpsUpdate", m.Type)
	}
	var data FPSUpdateData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPingData extracts PingData from a ping message
func (m *Message) GetPingData() (*PingData, error) {
	if m.Type != TypePing {
		return nil, fmt.Errorf("message type is %s, not ping", m.Type)
	}
	var data PingData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPongData extracts PongData from a pong message
func (m *Message) GetPongData() (*PongData, error) {
	if m.Type != TypePong {
		return nil, fmt.Errorf("message type is %s, not pong", m.Type)
	}
	var data PongData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}
