// Package api exposes runs, pending checkpoints, decisions and live
// updates over HTTP so approvers can steer pipelines from outside the
// terminal that started them.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/hochfrequenz/levelup/internal/domain"
	"github.com/hochfrequenz/levelup/internal/statestore"
)

// Store is the slice of the shared store the server needs.
type Store interface {
	ListRuns(opts statestore.ListOptions) ([]*domain.Run, error)
	GetRun(id string) (*domain.Run, error)
	PendingCheckpoints(runID string) ([]*domain.CheckpointRequest, error)
	SubmitDecision(id int64, decision domain.Decision, feedback string) error
	RequestPause(id string) error
	MarkDeadRuns() ([]string, error)
}

// Server is the HTTP API server.
type Server struct {
	store    Store
	addr     string
	mux      *http.ServeMux
	hub      *SSEHub
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func NewServer(store Store, addr string, log zerolog.Logger) *Server {
	s := &Server{
		store: store,
		addr:  addr,
		mux:   http.NewServeMux(),
		hub:   NewSSEHub(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/runs", s.listRunsHandler())
	s.mux.HandleFunc("/api/runs/", s.runHandler())
	s.mux.HandleFunc("/api/checkpoints", s.listCheckpointsHandler())
	s.mux.HandleFunc("/api/checkpoints/", s.decisionHandler())
	s.mux.HandleFunc("/api/sweep", s.sweepHandler())
	s.mux.HandleFunc("/api/events", s.sseHandler())
	s.mux.HandleFunc("/healthz", s.healthzHandler())
}

// Handler returns the route table. Tests serve it directly.
func (s *Server) Handler() http.Handler { return s.mux }

// Broadcast fans an event out to every connected SSE client.
func (s *Server) Broadcast(event SSEEvent) { s.hub.Broadcast(event) }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)

	srv := &http.Server{Addr: s.addr, Handler: s.mux}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	s.log.Info().Str("addr", s.addr).Msg("api server listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
