package ws

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/sink"
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	readTimeout = 60 * time.Second
	readLimit   = 8 << 20
)

type ServerConfig struct {
	ConnectionBufferSize int
	InboundRate          float64
	InboundBurst         int
}

// Server upgrades HTTP requests to websocket sessions. The handshake carries
// the user id as the "userId" query parameter.
type Server struct {
	log      *slog.Logger
	gateway  *Gateway
	config   ServerConfig
	upgrader websocket.Upgrader
}

func NewServer(log *slog.Logger, gateway *Gateway, config ServerConfig) *Server {
	return &Server{
		log:     log,
		gateway: gateway,
		config:  config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Route authorization belongs to the auth collaborator in front of us.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (srv *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var userID *domain.UserID
	if raw := r.URL.Query().Get("userId"); raw != "" {
		id, err := domain.ParseUserID(raw)
		if err != nil || id <= 0 {
			http.Error(w, "invalid userId", http.StatusBadRequest)
			return
		}
		userID = &id
	}

	ws, err := srv.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the response
		srv.log.Debug("Upgrade failed", "error", err)
		return
	}

	sessionID := uuid.NewString()
	wsSink := sink.NewWebsocketSink(srv.log, sessionID, ws, srv.config.ConnectionBufferSize)
	wsSink.Start()
	defer wsSink.Close()

	ctx := r.Context()
	session, err := srv.gateway.Connect(ctx, sessionID, userID, wsSink)
	if err != nil {
		srv.log.Warn("Session refused", "session_id", sessionID, "error", err)
		return
	}

	ws.SetReadLimit(readLimit)
	_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readTimeout))
	})

	frames := make(chan []byte)
	processed := make(chan struct{})
	go func() {
		defer close(processed)
		srv.process(ctx, session, frames)
	}()

	srv.read(ws, session, frames)
	<-processed
}

// read forwards frames to the processing goroutine one at a time, so it only
// reads the next frame once the previous one is handled. A disconnect is
// therefore seen after the frame in progress, if any, completes; the session
// is unbound then.
func (srv *Server) read(ws *websocket.Conn, session *Session, frames chan<- []byte) {
	defer close(frames)
	defer srv.gateway.Disconnect(session)
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) &&
				!errors.Is(err, websocket.ErrCloseSent) {
				srv.log.Debug("Read failed", "session_id", session.ID, "error", err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
		frames <- data
	}
}

// process handles the frames of one session strictly in order, each to
// completion before the next one.
func (srv *Server) process(ctx context.Context, session *Session, frames <-chan []byte) {
	limit := rate.Inf
	if srv.config.InboundRate > 0 {
		limit = rate.Limit(srv.config.InboundRate)
	}
	limiter := rate.NewLimiter(limit, max(1, srv.config.InboundBurst))
	for data := range frames {
		if err := limiter.Wait(ctx); err != nil {
			continue
		}
		// A frame already read is handled to the end even if the client left.
		srv.gateway.Handle(context.WithoutCancel(ctx), session, data)
	}
}
