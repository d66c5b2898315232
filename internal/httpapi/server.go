// Package httpapi exposes the REST surface: task CRUD, auth, chat and
// health. Responses use {"data": ...} / {"error": {code, message}}
// envelopes; the chat endpoint returns its payload bare, matching what
// the frontend consumes.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"taskdeck/internal/auth"
	"taskdeck/internal/chat"
	"taskdeck/internal/config"
	"taskdeck/internal/limiter"
	"taskdeck/internal/logx"
	"taskdeck/internal/store"
)

// Server wires the router, storage and chat service together.
type Server struct {
	cfg          *config.Config
	store        store.Store
	chat         *chat.Service
	chatLimiter  limiter.ChatLimiter
	loginLimiter *auth.LoginLimiter
	handler      http.Handler
}

// New builds the server and its routes.
func New(cfg *config.Config, st store.Store, chatSvc *chat.Service, chatLimiter limiter.ChatLimiter) *Server {
	s := &Server{
		cfg:          cfg,
		store:        st,
		chat:         chatSvc,
		chatLimiter:  chatLimiter,
		loginLimiter: auth.NewLoginLimiter(st),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	r.HandleFunc("/api/auth/signup", s.handleSignup).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/login", s.handleLogin).Methods(http.MethodPost)

	protected := r.PathPrefix("/api").Subrouter()
	protected.Use(auth.Middleware(s.cfg.AuthSecret))

	tasks := protected.PathPrefix("/tasks").Subrouter()
	tasks.HandleFunc("/", s.handleCreateTask).Methods(http.MethodPost)
	tasks.HandleFunc("/", s.handleListTasks).Methods(http.MethodGet)
	tasks.HandleFunc("/{id:[0-9]+}", s.handleGetTask).Methods(http.MethodGet)
	tasks.HandleFunc("/{id:[0-9]+}", s.handleUpdateTask).Methods(http.MethodPut)
	tasks.HandleFunc("/{id:[0-9]+}", s.handleDeleteTask).Methods(http.MethodDelete)
	tasks.HandleFunc("/{id:[0-9]+}/complete", s.handleCompleteTask).Methods(http.MethodPatch)

	chatRoute := protected.PathPrefix("/chat").Subrouter()
	chatRoute.Use(withTimeout(s.cfg.ChatTimeout))
	chatRoute.HandleFunc("", s.handleChat).Methods(http.MethodPost)

	// CORS and logging wrap the router itself so they also cover
	// preflights and unmatched paths, which mux middleware skips.
	s.handler = cors(s.cfg.FrontendURL)(requestLog(r))
}

// Handler returns the assembled http.Handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logx.Event("info", "server_started", logx.Fields{"addr": srv.Addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logx.Event("info", "server_stopping", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// handleHealth reports liveness including a database ping.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		logx.Event("error", "health_db_ping_failed", logx.Fields{"error": err.Error()})
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": "down"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": "up"})
}
