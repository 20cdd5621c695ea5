package web

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/oculab/go-oculab/pkg/engine"
	"github.com/oculab/go-oculab/pkg/hub"
)

// StatusResponse is the engine snapshot returned by /api/status.
type StatusResponse struct {
	SessionID          string  `json:"sessionId,omitempty"`
	SessionKind        string  `json:"sessionKind,omitempty"`
	DistanceCalibrated bool    `json:"distanceCalibrated"`
	AvgFPS             float64 `json:"avgFps"`
	Clients            int     `json:"clients"`
}

// StartSessionRequest is the request body for starting a session.
type StartSessionRequest struct {
	DurationMs int64 `json:"durationMs"`
}

// handleHealth is a liveness probe.
func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// handleStatus returns the engine's current state.
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(StatusResponse{
		SessionID:          s.engine.SessionID(),
		SessionKind:        string(s.engine.SessionKind()),
		DistanceCalibrated: s.engine.DistanceCalibrated(),
		AvgFPS:             s.engine.AvgFPS(),
		Clients:            s.eventHub.ClientCount(),
	})
}

// handleStartSession starts a calibration, assessment or burst session.
func (s *Server) handleStartSession(c *fiber.Ctx) error {
	var req StartSessionRequest
	if err := c.BodyParser(&req); err != nil {
		req = StartSessionRequest{}
	}

	now := time.Now()
	var (
		id  string
		err error
	)
	switch engine.SessionKind(c.Params("kind")) {
	case engine.KindCalibration:
		id, err = s.engine.StartCalibration(now)
	case engine.KindAssessment:
		id, err = s.engine.StartAssessment(now, time.Duration(req.DurationMs)*time.Millisecond)
	case engine.KindBurst:
		id, err = s.engine.StartBurst(now)
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "unknown session kind: " + c.Params("kind"),
		})
	}

	if errors.Is(err, engine.ErrSessionActive) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{"sessionId": id})
}

// handleAbortSession aborts the running session.
func (s *Server) handleAbortSession(c *fiber.Ctx) error {
	if err := s.engine.AbortSession(time.Now()); err != nil {
		if errors.Is(err, engine.ErrNoSession) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(fiber.Map{"aborted": true})
}

// handleResetCalibration discards the persisted distance calibration.
func (s *Server) handleResetCalibration(c *fiber.Ctx) error {
	if err := s.engine.ResetDistanceCalibration(); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(fiber.Map{"reset": true})
}

// handleEventsWS streams engine events to a websocket client.
func (s *Server) handleEventsWS(c *websocket.Conn) {
	client := hub.NewClient(s.eventHub, c)
	client.Run() // Blocks until the connection closes
}
