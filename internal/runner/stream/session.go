// Package stream delivers results to a connected client as they arrive.
package stream

import (
	"context"
	"sync"
	"time"

	"codelens/internal/runner/model"
	appErr "codelens/pkg/errors"

	"github.com/gorilla/websocket"
)

// Emitter receives results for one batch. Emit is called once per test
// case as it finishes; EmitAggregate is called exactly once afterwards
// with every result of the batch.
type Emitter interface {
	Emit(ctx context.Context, r model.IndividualTestResult) error
	EmitAggregate(ctx context.Context, resp model.TestResponse) error
}

const defaultWriteTimeout = 10 * time.Second

// Session wraps a websocket connection with serialized writes. Results
// for a batch arrive from many goroutines; the mutex keeps frames whole.
type Session struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

// NewSession wraps an upgraded connection.
func NewSession(conn *websocket.Conn) *Session {
	return &Session{conn: conn, writeTimeout: defaultWriteTimeout}
}

// Emit streams one finished test result.
func (s *Session) Emit(ctx context.Context, r model.IndividualTestResult) error {
	return s.send(ctx, r)
}

// EmitAggregate sends the terminal grouped response for a batch.
func (s *Session) EmitAggregate(ctx context.Context, resp model.TestResponse) error {
	return s.send(ctx, resp)
}

// Send writes an arbitrary JSON message (pong, error replies).
func (s *Session) Send(ctx context.Context, v interface{}) error {
	return s.send(ctx, v)
}

func (s *Session) send(ctx context.Context, v interface{}) error {
	if err := ctx.Err(); err != nil {
		return appErr.Wrapf(err, appErr.EmitAfterCancel, "session context cancelled")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return appErr.New(appErr.SessionClosed)
	}
	deadline := time.Now().Add(s.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return appErr.Wrapf(err, appErr.SessionClosed, "set write deadline failed")
	}
	if err := s.conn.WriteJSON(v); err != nil {
		s.closed = true
		return appErr.Wrapf(err, appErr.SessionClosed, "write to session failed")
	}
	return nil
}

// ReadMessage blocks on the next client frame.
func (s *Session) ReadMessage() ([]byte, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.SessionClosed, "read from session failed")
	}
	return data, nil
}

// Close shuts the connection down. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	deadline := time.Now().Add(time.Second)
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return s.conn.Close()
}
