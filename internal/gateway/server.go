package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/Roshan282005/TELIQ/internal/auth"
	"github.com/Roshan282005/TELIQ/internal/config"
	"github.com/Roshan282005/TELIQ/internal/metrics"
	"github.com/Roshan282005/TELIQ/internal/model"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Browser clients connect from app origins configured upstream;
		// origin enforcement lives at the edge proxy.
		return true
	},
}

// Server wires the HTTP surface: the WebSocket endpoint, health, and
// metrics. The gatekeeper rejects unauthenticated handshakes before any
// session state exists.
type Server struct {
	cfg      *config.Config
	log      zerolog.Logger
	verifier *auth.Verifier
	signer   *auth.Signer
	hub      *Hub
	gw       *Gateway
	http     *http.Server
}

func NewServer(cfg *config.Config, gw *Gateway, hub *Hub, log zerolog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		log:      log,
		verifier: auth.NewVerifier(cfg.JWTSecret),
		signer:   auth.NewSigner(cfg.JWTSecret, cfg.TokenTTL),
		hub:      hub,
		gw:       gw,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	if cfg.Environment == "development" {
		mux.HandleFunc("/token", s.handleDevToken)
	}

	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.log.Info().Str("addr", s.cfg.Addr).Msg("Gateway listening")
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and drains live sessions within the
// configured window.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Int("sessions", s.hub.Sessions()).Msg("Draining sessions")
	return s.http.Shutdown(ctx)
}

// handleWS is the gatekeeper. Authentication happens before the upgrade;
// the rejection body carries the exact reason string clients match on.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	identity, err := s.verifier.FromRequest(r)
	if err != nil {
		reason := auth.ErrAuth
		if errors.Is(err, auth.ErrNoToken) || errors.Is(err, auth.ErrInvalidToken) {
			reason = err
		}
		metrics.ConnectionsRejected.WithLabelValues(reason.Error()).Inc()
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Handshake rejected")
		http.Error(w, reason.Error(), http.StatusUnauthorized)
		return
	}

	if s.hub.Sessions() >= s.cfg.MaxConnections {
		metrics.ConnectionsRejected.WithLabelValues("capacity").Inc()
		http.Error(w, "server at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("Upgrade failed")
		return
	}

	sess := newSession(conn, *identity, s.cfg.SendBufferSize, s.cfg.MessageRate, s.cfg.MessageBurst, s.log)
	s.gw.connect(sess)

	go sess.writePump()
	go sess.readPump(s.gw)
}

type healthResponse struct {
	Status      string `json:"status"`
	Sessions    int    `json:"sessions"`
	Rooms       int    `json:"rooms"`
	Goroutines  int    `json:"goroutines"`
	MemoryRSS   uint64 `json:"memoryRss"`
	NATSEnabled bool   `json:"natsEnabled"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:      "ok",
		Sessions:    s.hub.Sessions(),
		Rooms:       s.hub.Rooms(),
		Goroutines:  runtime.NumGoroutine(),
		NATSEnabled: s.cfg.NATSURL != "",
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mem, err := proc.MemoryInfo(); err == nil {
			resp.MemoryRSS = mem.RSS
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// handleDevToken mints a token for local testing. Registered only when the
// environment is "development".
func (s *Server) handleDevToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var id model.Identity
	if err := json.NewDecoder(r.Body).Decode(&id); err != nil || id.ID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	token, err := s.signer.Sign(id)
	if err != nil {
		http.Error(w, "signing failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"token": token})
}
