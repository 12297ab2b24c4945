package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"agentboard/internal/agentboard/db"
	"agentboard/internal/agentboard/github"
)

// IssueLister reads issues from the tracker for the dashboard's
// pass-through listing endpoint.
type IssueLister interface {
	ListIssues(ctx context.Context, owner, repo, state, labels string) ([]github.Issue, error)
}

// SessionCreator starts scope and resolve sessions.
type SessionCreator interface {
	CreateScopeSession(ctx context.Context, issueNumber int, issueTitle, issueBody string) (db.Session, error)
	CreateResolveSession(ctx context.Context, issueNumber int) (db.Session, error)
}

// Config holds server configuration.
type Config struct {
	// DB is the session store backing the read endpoints.
	DB *db.DB
	// Orchestrator handles session creation requests.
	Orchestrator SessionCreator
	// Tracker serves the issue listing pass-through. Optional; when nil
	// the issues endpoint returns 503.
	Tracker IssueLister
	// Owner and Repo identify the tracked repository.
	Owner string
	Repo  string
	// Hub is the WebSocket hub for live updates. When non-nil the
	// /api/ws endpoint is registered.
	Hub *Hub
}

// Server wraps the agentboard HTTP server.
type Server struct {
	mux      *http.ServeMux
	listener net.Listener
}

// New creates a Server bound to the given address (e.g. "127.0.0.1:7360").
// It does not start serving; call Serve() for that.
func New(addr string, cfg Config) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	s := &Server{mux: mux, listener: ln}
	s.registerRoutes(cfg)
	return s, nil
}

// Addr returns the listener's address (useful when binding to :0 in tests).
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve starts accepting connections. It blocks until the listener is closed.
func (s *Server) Serve() error {
	return http.Serve(s.listener, s.mux)
}

// Close shuts down the listener.
func (s *Server) Close() error {
	return s.listener.Close()
}

func (s *Server) registerRoutes(cfg Config) {
	api := &apiHandler{
		db:           cfg.DB,
		orchestrator: cfg.Orchestrator,
		tracker:      cfg.Tracker,
		owner:        cfg.Owner,
		repo:         cfg.Repo,
		startAt:      time.Now(),
	}

	s.mux.HandleFunc("GET /api/status", api.handleStatus)
	s.mux.HandleFunc("GET /api/issues", api.handleListIssues)
	s.mux.HandleFunc("GET /api/sessions", api.handleListSessions)
	s.mux.HandleFunc("GET /api/sessions/{id}", api.handleGetSession)
	s.mux.HandleFunc("POST /api/sessions/scope", api.handleScopeSession)
	s.mux.HandleFunc("POST /api/sessions/resolve", api.handleResolveSession)

	if cfg.Hub != nil {
		s.mux.HandleFunc("GET /api/ws", cfg.Hub.ServeWS)
	}

	// Catch-all for unregistered /api/ routes.
	s.mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
}
