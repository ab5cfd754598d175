// Package server exposes the coordinator over websocket plus HTTP endpoints
// for metrics and snapshot export.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/varhub/varhub/internal/protocol"
	"github.com/varhub/varhub/internal/registry"
)

// Server serves bridge connections against one coordinator.
type Server struct {
	coord *registry.Coordinator
	log   zerolog.Logger
	mux   *http.ServeMux
	http  *http.Server

	mu       sync.Mutex
	sessions map[string]*Session
}

// New wires a server around a running coordinator.
func New(coord *registry.Coordinator, log zerolog.Logger) *Server {
	s := &Server{
		coord:    coord,
		log:      log.With().Str("component", "server").Logger(),
		sessions: make(map[string]*Session),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/snapshot", s.handleSnapshotHTTP)
	s.mux = mux
	s.http = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the HTTP mux for embedding and tests.
func (s *Server) Handler() http.Handler { return s.mux }

// Start listens on addr and serves until Shutdown. It blocks.
func (s *Server) Start(addr string) error {
	s.http.Addr = addr
	s.log.Info().Str("addr", addr).Msg("listening")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and closes live sessions.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, sess := range s.sessions {
		sess.Close()
	}
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()
	return s.http.Shutdown(ctx)
}

func (s *Server) addSession(sess *Session) {
	s.mu.Lock()
	s.sessions[sess.ID()] = sess
	s.mu.Unlock()
}

func (s *Server) removeSession(sess *Session) {
	s.mu.Lock()
	delete(s.sessions, sess.ID())
	s.mu.Unlock()
}

// handleSnapshotHTTP serves the exported variable set as JSON, for backup
// tooling and debugging.
func (s *Server) handleSnapshotHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	vars, err := protocol.EncodeRecords(s.coord.Snapshot())
	if err != nil {
		s.log.Error().Err(err).Msg("snapshot export failed")
		http.Error(w, "snapshot export failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(protocol.SnapshotResult{Variables: vars}); err != nil {
		s.log.Debug().Err(err).Msg("snapshot write failed")
	}
}
