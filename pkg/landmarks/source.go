package landmarks

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrSourceClosed is returned once a source has been closed or drained.
var ErrSourceClosed = errors.New("landmarks: source closed")

// Source supplies per-frame landmark detections. NextFrame blocks until a
// frame is available, the context is cancelled, or the source is closed.
type Source interface {
	NextFrame(ctx context.Context) (*Frame, error)

	// Close releases resources; pending NextFrame calls return ErrSourceClosed.
	Close() error
}

// Scripted is an in-memory Source that replays a fixed frame sequence.
// It is used in tests and by the CLI tools when no detector is attached.
type Scripted struct {
	mu       sync.Mutex
	frames   []*Frame
	pos      int
	interval time.Duration
	closed   bool
}

// NewScripted creates a source that replays frames in order, sleeping
// interval between frames (0 for immediate replay).
func NewScripted(frames []*Frame, interval time.Duration) *Scripted {
	return &Scripted{frames: frames, interval: interval}
}

// NextFrame returns the next scripted frame or ErrSourceClosed when drained.
func (s *Scripted) NextFrame(ctx context.Context) (*Frame, error) {
	s.mu.Lock()
	if s.closed || s.pos >= len(s.frames) {
		s.mu.Unlock()
		return nil, ErrSourceClosed
	}
	frame := s.frames[s.pos]
	s.pos++
	interval := s.interval
	s.mu.Unlock()

	if interval > 0 {
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return frame, nil
}

// Close marks the source drained.
func (s *Scripted) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Remaining returns how many scripted frames have not been consumed.
func (s *Scripted) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	return len(s.frames) - s.pos
}
