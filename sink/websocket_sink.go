package sink

import (
	"chat-relay/domain/event"
	"chat-relay/errors"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// WebsocketSink is the egress of one websocket session.
// Writes go through a buffered channel drained by a single write loop, so
// Consume is safe for concurrent use and never touches the socket itself.
type WebsocketSink struct {
	SessionID string

	log  *slog.Logger
	ws   *websocket.Conn
	send chan []byte
	once sync.Once
	done chan struct{}
}

func NewWebsocketSink(log *slog.Logger, sessionID string, ws *websocket.Conn, bufferSize int) *WebsocketSink {
	return &WebsocketSink{
		SessionID: sessionID,
		log:       log,
		ws:        ws,
		send:      make(chan []byte, bufferSize),
		done:      make(chan struct{}),
	}
}

// Start launches the write loop. It must be called exactly once.
func (s *WebsocketSink) Start() {
	go s.writeLoop()
}

// Consume enqueues the event. A full buffer waits until ctx is done and then
// drops the event; the session itself stays open.
func (s *WebsocketSink) Consume(ctx context.Context, e event.Outbound) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", e.Name, err)
	}
	select {
	case <-s.done:
		return errors.ErrSinkClosed
	case s.send <- payload:
		return nil
	default:
	}
	select {
	case <-s.done:
		return errors.ErrSinkClosed
	case s.send <- payload:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %s", errors.ErrSinkFull, s.SessionID)
	}
}

// Close terminates the session and stops the write loop. Safe to call twice.
func (s *WebsocketSink) Close() {
	s.CloseWith(websocket.CloseNormalClosure, "session closed")
}

func (s *WebsocketSink) CloseWith(code int, reason string) {
	s.once.Do(func() {
		close(s.done)
		_ = s.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		_ = s.ws.Close()
	})
}

// Done is closed once the session is closed.
func (s *WebsocketSink) Done() <-chan struct{} {
	return s.done
}

func (s *WebsocketSink) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case msg := <-s.send:
			if err := s.write(websocket.TextMessage, msg); err != nil {
				s.log.Debug("Write failed, closing session", "session_id", s.SessionID, "error", err)
				s.CloseWith(websocket.CloseGoingAway, "write failed")
				return
			}
		case <-ticker.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				s.CloseWith(websocket.CloseGoingAway, "ping failed")
				return
			}
		}
	}
}

func (s *WebsocketSink) write(messageType int, payload []byte) error {
	if err := s.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.ws.WriteMessage(messageType, payload)
}
