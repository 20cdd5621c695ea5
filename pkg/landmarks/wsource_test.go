package landmarks

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// sidecarServer serves one numbered frame per websocket connection and
// then holds the connection open until the client drops it.
func sidecarServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	var conns int64
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := atomic.AddInt64(&conns, 1)
		payload := fmt.Sprintf(`{"ts":%d,"width":1280,"height":720,"faces":[]}`, n)
		if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSSource_ReconnectsAfterDeadConnection(t *testing.T) {
	srv, url := sidecarServer(t)
	defer srv.Close()

	s := NewWSSource(url)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first, err := s.NextFrame(ctx)
	if err != nil {
		t.Fatalf("NextFrame() error = %v", err)
	}
	if first.Timestamp.UnixMilli() != 1 {
		t.Fatalf("first frame ts = %d, want 1", first.Timestamp.UnixMilli())
	}

	// Kill the socket underneath the source: the next read setup fails
	// and the source must drop the connection and redial.
	s.mu.Lock()
	s.conn.UnderlyingConn().Close()
	s.mu.Unlock()

	second, err := s.NextFrame(ctx)
	if err != nil {
		t.Fatalf("NextFrame() after drop error = %v", err)
	}
	if second.Timestamp.UnixMilli() != 2 {
		t.Errorf("second frame ts = %d, want 2 from a fresh connection", second.Timestamp.UnixMilli())
	}
}

func TestWSSource_CloseFailsFutureReads(t *testing.T) {
	srv, url := sidecarServer(t)
	defer srv.Close()

	s := NewWSSource(url)
	ctx := context.Background()
	if _, err := s.NextFrame(ctx); err != nil {
		t.Fatalf("NextFrame() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := s.NextFrame(ctx); err != ErrSourceClosed {
		t.Errorf("NextFrame() after Close error = %v, want ErrSourceClosed", err)
	}
}
