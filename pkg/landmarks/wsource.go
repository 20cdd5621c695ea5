package landmarks

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oculab/go-oculab/internal/log"
)

// wireFrame is the sidecar's JSON frame format. Timestamps are unix
// milliseconds; the optional image is a base64 JPEG.
type wireFrame struct {
	TS     int64     `json:"ts"`
	Width  int       `json:"width"`
	Height int       `json:"height"`
	Faces  []Face    `json:"faces"`
	Pose   *HeadPose `json:"pose,omitempty"`
	Image  string    `json:"image,omitempty"`
}

// WSSource streams landmark frames from an external detector sidecar
// over a websocket connection. It reconnects with backoff when the
// sidecar drops the connection.
type WSSource struct {
	url string

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	handshakeTimeout time.Duration
	readTimeout      time.Duration
}

// NewWSSource creates a source for the given sidecar websocket URL.
// The connection is established lazily on the first NextFrame call.
func NewWSSource(url string) *WSSource {
	return &WSSource{
		url:              url,
		handshakeTimeout: 10 * time.Second,
		readTimeout:      5 * time.Second,
	}
}

// NextFrame reads the next landmark frame, connecting or reconnecting
// as needed. A read timeout is treated as a disconnect.
func (s *WSSource) NextFrame(ctx context.Context) (*Frame, error) {
	backoff := 250 * time.Millisecond
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		conn, err := s.ensureConn()
		if err != nil {
			if err == ErrSourceClosed {
				return nil, err
			}
			log.Warn("detector connect failed", "url", s.url, "error", err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}

		if err := conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
			s.dropConn(conn)
			continue
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.dropConn(conn)
			continue
		}

		frame, err := decodeWireFrame(data)
		if err != nil {
			// A malformed message is a bad frame, not a dead connection.
			log.Warn("malformed landmark frame", "error", err)
			continue
		}
		return frame, nil
	}
}

func (s *WSSource) ensureConn() (*websocket.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSourceClosed
	}
	if s.conn != nil {
		return s.conn, nil
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: s.handshakeTimeout,
	}
	conn, _, err := dialer.Dial(s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial detector: %w", err)
	}
	log.Info("connected to detector sidecar", "url", s.url)
	s.conn = conn
	return conn, nil
}

// Close terminates the connection and fails future NextFrame calls.
func (s *WSSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}

func (s *WSSource) dropConn(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn.Close()
	if s.conn == conn {
		s.conn = nil
	}
}

func decodeWireFrame(data []byte) (*Frame, error) {
	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	frame := &Frame{
		Timestamp: time.UnixMilli(w.TS),
		Width:     w.Width,
		Height:    w.Height,
		Faces:     w.Faces,
		Pose:      w.Pose,
	}
	if w.Image != "" {
		img, err := base64.StdEncoding.DecodeString(w.Image)
		if err != nil {
			return nil, fmt.Errorf("decode frame image: %w", err)
		}
		frame.Image = img
	}
	return frame, nil
}
