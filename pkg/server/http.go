// Package server exposes the read-only HTTP API for displays and the
// control endpoints for the race operator.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/slotracer/slotman/log"
	"github.com/slotracer/slotman/pkg/model"
	"github.com/slotracer/slotman/pkg/processing"
	"github.com/slotracer/slotman/pkg/session"
	"github.com/slotracer/slotman/pkg/utils/broadcast"
	"github.com/slotracer/slotman/version"
)

type Server struct {
	addr       string
	proc       *processing.Processor
	sessionKey string
	l          *log.Logger

	leaderboard broadcast.BroadcastServer[[]model.RankedEntry]
	status      broadcast.BroadcastServer[session.Status]
	httpServer  *http.Server
}

type Option func(*Server)

func WithAddr(addr string) Option {
	return func(s *Server) {
		s.addr = addr
	}
}

func WithSessionKey(key string) Option {
	return func(s *Server) {
		s.sessionKey = key
	}
}

func WithLogger(l *log.Logger) Option {
	return func(s *Server) {
		s.l = l
	}
}

func WithLeaderboard(b broadcast.BroadcastServer[[]model.RankedEntry]) Option {
	return func(s *Server) {
		s.leaderboard = b
	}
}

func WithStatus(b broadcast.BroadcastServer[session.Status]) Option {
	return func(s *Server) {
		s.status = b
	}
}

func NewServer(proc *processing.Processor, opts ...Option) *Server {
	ret := &Server{
		addr: "localhost:8080",
		proc: proc,
		l:    log.Default().Named("http"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()
	// go1.21's ServeMux has no method patterns ("GET /path"); emulate them.
	handle := func(method, pattern string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
			if r.Method != method && !(method == http.MethodGet && r.Method == http.MethodHead) {
				w.Header().Set("Allow", method)
				http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
				return
			}
			h(w, r)
		})
	}
	handle(http.MethodGet, "/api/leaderboard", s.handleLeaderboard)
	handle(http.MethodGet, "/api/session", s.handleSession)
	handle(http.MethodPost, "/api/start", s.handleStart)
	handle(http.MethodPost, "/api/stop", s.handleStop)
	handle(http.MethodPost, "/api/yellowflag", s.handleYellowFlag)
	return h2c.NewHandler(newCORS().Handler(mux), &http2.Server{})
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.l.Info("starting http server", log.String("addr", s.addr))
	//nolint:gosec // timeouts fit a LAN-only API
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.handler(),
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown() {
	if s.httpServer != nil {
		//nolint:errcheck // best effort on shutdown
		s.httpServer.Close()
	}
}

// handleLeaderboard serves the latest snapshot; the replay-latest
// broadcast delivers it without waiting for the next tick.
func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if s.leaderboard == nil {
		http.Error(w, "leaderboard not available", http.StatusServiceUnavailable)
		return
	}
	ch := s.leaderboard.Subscribe()
	defer s.leaderboard.CancelSubscription(ch)
	select {
	case entries := <-ch:
		s.writeJSON(w, entries)
	case <-time.After(time.Second):
		s.writeJSON(w, []model.RankedEntry{})
	case <-r.Context().Done():
	}
}

type sessionStatus struct {
	SessionKey string `json:"sessionKey"`
	Version    string `json:"version"`
	session.Status
}

// handleSession serves the latest session snapshot off the replay-latest
// broadcast; race state is never read across goroutines.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		http.Error(w, "session status not available", http.StatusServiceUnavailable)
		return
	}
	ch := s.status.Subscribe()
	defer s.status.CancelSubscription(ch)
	select {
	case st := <-ch:
		s.writeJSON(w, sessionStatus{
			SessionKey: s.sessionKey,
			Version:    version.FullVersion,
			Status:     st,
		})
	case <-time.After(time.Second):
		http.Error(w, "session status not available", http.StatusServiceUnavailable)
	case <-r.Context().Done():
	}
}

func (s *Server) handleStart(w http.ResponseWriter, _ *http.Request) {
	s.proc.Start()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.proc.Stop()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleYellowFlag(w http.ResponseWriter, _ *http.Request) {
	s.proc.ToggleYellowFlag()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.l.Error("encoding response failed", log.ErrorField(err))
	}
}

func newCORS() *cors.Cors {
	return cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowOriginFunc: func(_ string) bool {
			// trackside displays connect from arbitrary origins
			return true
		},
		AllowedHeaders: []string{"*"},
		MaxAge:         int(2 * time.Hour / time.Second),
	})
}
