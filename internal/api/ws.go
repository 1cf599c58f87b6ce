package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
)

// wsReply answers exactly one inbound frame. The server never sends frames
// of its own beyond pings.
type wsReply struct {
	RequestID string     `json:"request_id,omitempty"`
	OK        bool       `json:"ok"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorBody `json:"error,omitempty"`
}

type wsHandler struct {
	dispatcher *Dispatcher
	upgrader   websocket.Upgrader
	log        *slog.Logger

	mu       sync.Mutex
	sessions map[*wsSession]struct{}
}

func newWSHandler(d *Dispatcher, allowOrigin string, log *slog.Logger) *wsHandler {
	return &wsHandler{
		dispatcher: d,
		log:        log,
		sessions:   make(map[*wsSession]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return allowOrigin == "*" || origin == "" || origin == allowOrigin
			},
		},
	}
}

func (h *wsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	log := loggerFrom(r.Context(), h.log).With("caller", caller)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "error", err)
		return
	}

	sess := &wsSession{conn: conn, caller: caller, dispatcher: h.dispatcher, log: log}
	h.track(sess, true)
	defer h.track(sess, false)

	// detached from the hijacked request; cancelled when the socket closes
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	sess.run(ctx)
}

func (h *wsHandler) track(s *wsSession, open bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if open {
		h.sessions[s] = struct{}{}
	} else {
		delete(h.sessions, s)
	}
}

func (h *wsHandler) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.sessions {
		s.close(websocket.CloseGoingAway, "server shutting down")
	}
}

type wsSession struct {
	conn       *websocket.Conn
	caller     int64
	dispatcher *Dispatcher
	log        *slog.Logger

	writeMu sync.Mutex
}

func (s *wsSession) run(ctx context.Context) {
	defer s.conn.Close()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go s.pingLoop(done)

	for {
		_, frame, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("websocket read error", "error", err)
			}
			return
		}
		if err := s.write(s.handle(ctx, frame)); err != nil {
			s.log.Warn("websocket write error", "error", err)
			return
		}
	}
}

func (s *wsSession) handle(ctx context.Context, frame []byte) wsReply {
	var meta struct {
		RequestID string `json:"request_id"`
	}
	_ = json.Unmarshal(frame, &meta)
	reply := wsReply{RequestID: meta.RequestID}

	req, err := Decode(frame, s.caller)
	if err == nil {
		reply.Data, err = s.dispatcher.Dispatch(ctx, s.caller, req)
	}
	if err != nil {
		_, body := toErrorBody(err)
		reply.Data = nil
		reply.Error = &body
		return reply
	}
	reply.OK = true
	return reply
}

func (s *wsSession) write(reply wsReply) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(reply)
}

func (s *wsSession) pingLoop(done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (s *wsSession) close(code int, reason string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	_ = s.conn.Close()
}
