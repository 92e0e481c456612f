package wshub

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
)

// Transport is a single client connection. Implementations must allow
// ReadMessage and WriteMessage to be called from different goroutines, and
// Close to unblock a pending ReadMessage.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// NewGorillaTransport wraps a gorilla websocket connection as a Transport.
// It writes text frames only.
func NewGorillaTransport(c *websocket.Conn) Transport {
	return gorillaTransport{c: c}
}

type gorillaTransport struct {
	c *websocket.Conn
}

func (g gorillaTransport) ReadMessage() ([]byte, error) {
	_, data, err := g.c.ReadMessage()
	return data, err
}

func (g gorillaTransport) WriteMessage(data []byte) error {
	return g.c.WriteMessage(websocket.TextMessage, data)
}

func (g gorillaTransport) Close() error {
	return g.c.Close()
}

// sendBuffer is the per-session outbound queue depth. A session that falls
// this far behind starts losing events rather than stalling the hub.
const sendBuffer = 32

// session owns one connection. All writes to the transport go through out
// and the single writeLoop goroutine, so replies and fanned-out events never
// interleave mid-frame.
type session struct {
	t      Transport
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newSession(t Transport) *session {
	return &session{
		t:      t,
		out:    make(chan []byte, sendBuffer),
		closed: make(chan struct{}),
	}
}

func (s *session) writeLoop() {
	for {
		select {
		case msg := <-s.out:
			if err := s.t.WriteMessage(msg); err != nil {
				s.close()
				return
			}
		case <-s.closed:
			return
		}
	}
}

// trySend queues a message without blocking. Reports false when the session
// is closed or its buffer is full.
func (s *session) trySend(msg []byte) bool {
	select {
	case <-s.closed:
		return false
	default:
	}
	select {
	case s.out <- msg:
		return true
	case <-s.closed:
		return false
	default:
		return false
	}
}

func (s *session) sendJSON(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	return s.trySend(data)
}

func (s *session) close() {
	s.once.Do(func() {
		close(s.closed)
		_ = s.t.Close()
	})
}
