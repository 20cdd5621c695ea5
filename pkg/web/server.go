// Package web serves the monitoring dashboard: session control over
// REST and the live event stream over WebSocket.
package web

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/oculab/go-oculab/internal/log"
	"github.com/oculab/go-oculab/pkg/engine"
	"github.com/oculab/go-oculab/pkg/hub"
	"github.com/oculab/go-oculab/pkg/protocol"
)

// Server exposes the engine over HTTP.
type Server struct {
	app    *fiber.App
	port   string
	engine *engine.Engine

	// Hub for websocket event broadcast (thread-safe!)
	eventHub *hub.Hub

	// OnEvent, when set, sees every event before it is broadcast.
	// Used to tee the stream to MQTT.
	OnEvent func(*protocol.Message)
}

// NewServer creates the dashboard server around a running engine.
func NewServer(port string, eng *engine.Engine) *Server {
	s := &Server{
		port:     port,
		engine:   eng,
		eventHub: hub.New("events"),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Oculab Monitor",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	// Static files
	app.Static("/", "./web")

	// API routes
	api := app.Group("/api")
	api.Get("/health", s.handleHealth)
	api.Get("/status", s.handleStatus)
	api.Post("/sessions/:kind", s.handleStartSession)
	api.Delete("/sessions/current", s.handleAbortSession)
	api.Post("/calibration/reset", s.handleResetCalibration)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	// WebSocket routes
	app.Get("/ws/events", websocket.New(s.handleEventsWS))

	s.app = app
	return s
}

// Start starts the web server and blocks until it stops.
func (s *Server) Start() error {
	log.Info("dashboard listening", "port", s.port)
	go s.eventHub.Run()
	return s.app.Listen(":" + s.port)
}

// StartAsync starts the web server in a goroutine.
func (s *Server) StartAsync() {
	go func() {
		if err := s.Start(); err != nil {
			log.Error("web server stopped", "error", err)
		}
	}()
}

// PumpEvents forwards the engine's event stream into the websocket hub
// until the context is canceled. Run it in its own goroutine.
func (s *Server) PumpEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.engine.Events():
			if s.OnEvent != nil {
				s.OnEvent(msg)
			}
			data, err := msg.Bytes()
			if err != nil {
				log.Error("failed to encode event", "type", msg.Type, "error", err)
				continue
			}
			s.eventHub.Broadcast(hub.NewJSONMessage(data))
		}
	}
}

// EventHub returns the event hub for external use.
func (s *Server) EventHub() *hub.Hub {
	return s.eventHub
}

// Shutdown gracefully stops the web server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
