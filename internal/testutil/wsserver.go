// Package testutil provides an in-process exchange stand-in for connector tests.
package testutil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// Received is one frame read from a client.
type Received struct {
	Conn int
	Type websocket.MessageType
	Data []byte
}

// Responder inspects a client frame and returns frames to send back on the same connection.
type Responder func(data []byte) [][]byte

// WSServerOption customizes a WSServer.
type WSServerOption func(*WSServer)

// WithGreeting sends frame to every client right after the handshake.
func WithGreeting(frame string) WSServerOption {
	return func(s *WSServer) { s.greeting = []byte(frame) }
}

// WithResponder installs an automatic reply function.
func WithResponder(fn Responder) WSServerOption {
	return func(s *WSServer) { s.responder = fn }
}

// WSServer is a websocket endpoint that records client frames and lets tests push frames or close sockets.
type WSServer struct {
	t         testing.TB
	srv       *httptest.Server
	frames    chan Received
	greeting  []byte
	responder Responder

	mu       sync.Mutex
	live     map[int]*websocket.Conn
	latest   int
	accepted int
}

// NewWSServer starts a server that is shut down with the test.
func NewWSServer(t testing.TB, opts ...WSServerOption) *WSServer {
	t.Helper()
	s := &WSServer{
		t:      t,
		frames: make(chan Received, 1024),
		live:   make(map[int]*websocket.Conn),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// URL returns the ws:// address of the server.
func (s *WSServer) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

// Clients returns the number of open client connections.
func (s *WSServer) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// Accepted returns the number of handshakes completed since start.
func (s *WSServer) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// Next waits for the next client frame.
func (s *WSServer) Next(timeout time.Duration) (Received, bool) {
	select {
	case msg := <-s.frames:
		return msg, true
	case <-time.After(timeout):
		return Received{}, false
	}
}

// Collect reads frames until match returns true for one of them or the timeout passes.
// Every frame read is returned.
func (s *WSServer) Collect(timeout time.Duration, match func(Received) bool) ([]Received, bool) {
	deadline := time.After(timeout)
	var seen []Received
	for {
		select {
		case msg := <-s.frames:
			seen = append(seen, msg)
			if match(msg) {
				return seen, true
			}
		case <-deadline:
			return seen, false
		}
	}
}

// Send writes a text frame to the most recent connection.
func (s *WSServer) Send(ctx context.Context, frame string) error {
	return s.write(ctx, websocket.MessageText, []byte(frame))
}

// SendBinary writes a binary frame to the most recent connection.
func (s *WSServer) SendBinary(ctx context.Context, frame []byte) error {
	return s.write(ctx, websocket.MessageBinary, frame)
}

// CloseLatest closes the most recent connection with code.
func (s *WSServer) CloseLatest(code websocket.StatusCode, reason string) error {
	conn := s.current()
	if conn == nil {
		return http.ErrServerClosed
	}
	return conn.Close(code, reason)
}

// Close stops the server and drops every connection.
func (s *WSServer) Close() {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.live))
	for _, conn := range s.live {
		conns = append(conns, conn)
	}
	s.mu.Unlock()
	for _, conn := range conns {
		_ = conn.CloseNow()
	}
	s.srv.Close()
}

func (s *WSServer) write(ctx context.Context, typ websocket.MessageType, data []byte) error {
	conn := s.current()
	if conn == nil {
		return http.ErrServerClosed
	}
	return conn.Write(ctx, typ, data)
}

func (s *WSServer) current() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live[s.latest]
}

func (s *WSServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.t.Logf("accept websocket: %v", err)
		return
	}
	s.mu.Lock()
	s.accepted++
	id := s.accepted
	s.live[id] = conn
	s.latest = id
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.live, id)
		s.mu.Unlock()
	}()

	ctx := context.Background()
	if len(s.greeting) > 0 {
		if err := conn.Write(ctx, websocket.MessageText, s.greeting); err != nil {
			return
		}
	}
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		s.frames <- Received{Conn: id, Type: typ, Data: data}
		if s.responder == nil {
			continue
		}
		for _, reply := range s.responder(data) {
			if err := conn.Write(ctx, websocket.MessageText, reply); err != nil {
				return
			}
		}
	}
}
