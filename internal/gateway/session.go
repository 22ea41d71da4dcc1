package gateway

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Roshan282005/TELIQ/internal/metrics"
	"github.com/Roshan282005/TELIQ/internal/model"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// Ping period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound frame size. Chat messages are small; anything larger
	// is a misbehaving client.
	maxFrameSize = 16 * 1024
)

// Session is one authenticated WebSocket connection. A user may hold several
// sessions at once (multiple tabs, devices); the hub's user index fans events
// out to all of them.
type Session struct {
	id       string
	identity model.Identity
	conn     *websocket.Conn
	send     chan []byte
	limiter  *rate.Limiter
	log      zerolog.Logger

	// joined is owned by the hub and only read or written under hub.mu.
	joined map[string]struct{}
}

func newSession(conn *websocket.Conn, identity model.Identity, bufferSize int, msgRate float64, burst int, log zerolog.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		id:       id,
		identity: identity,
		conn:     conn,
		send:     make(chan []byte, bufferSize),
		limiter:  rate.NewLimiter(rate.Limit(msgRate), burst),
		log:      log.With().Str("session_id", id).Str("user_id", identity.ID).Logger(),
		joined:   make(map[string]struct{}),
	}
}

// enqueue offers a frame to the session's send buffer without blocking.
// A full buffer means the client is not keeping up; the frame is dropped
// and counted.
func (s *Session) enqueue(frame []byte) {
	select {
	case s.send <- frame:
	default:
		metrics.SlowClientsDropped.Inc()
		s.log.Warn().Msg("Send buffer full, dropping frame")
	}
}

// sendEvent encodes and enqueues an event for this session only.
func (s *Session) sendEvent(eventType string, payload any) {
	frame, err := encode(eventType, payload)
	if err != nil {
		s.log.Error().Err(err).Str("event", eventType).Msg("Failed to encode event")
		return
	}
	s.enqueue(frame)
}

// sendError delivers an error ack to this session.
func (s *Session) sendError(code, message string) {
	metrics.EventErrors.WithLabelValues(code).Inc()
	s.sendEvent(EventError, errorPayload{Code: code, Message: message})
}

// readPump reads frames from the connection and hands them to the gateway
// dispatcher. It owns the connection's read side and runs until the peer
// goes away.
func (s *Session) readPump(g *Gateway) {
	defer g.disconnect(s)

	s.conn.SetReadLimit(maxFrameSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.log.Warn().Err(err).Msg("Read error")
			}
			return
		}

		if !s.limiter.Allow() {
			metrics.RateLimitedEvents.Inc()
			s.sendError(CodeRateLimited, "too many events, slow down")
			continue
		}

		g.handleFrame(s, frame)
	}
}

// writePump drains the send buffer to the connection and keeps the peer
// alive with periodic pings. It owns the connection's write side.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.log.Warn().Err(err).Msg("Write error")
				return
			}
			metrics.EventsSent.Inc()

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
