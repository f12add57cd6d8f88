package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"ffqueue/internal/api"
	"ffqueue/internal/config"
	"ffqueue/internal/logging"
	"ffqueue/internal/queue"
	"ffqueue/internal/services"
)

// maxChangesWait bounds a long-poll on /api/changes.
const maxChangesWait = 30 * time.Second

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon
	router http.Handler

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	s := &apiServer{
		bind:   strings.TrimSpace(cfg.Paths.APIBind),
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}
	s.router = s.routes(cfg.Paths.APIToken)
	return s
}

func (s *apiServer) routes(token string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP, requestID, middleware.Recoverer, s.daemon.metrics.Middleware)

	r.Method(http.MethodGet, "/metrics", s.daemon.metrics.Handler(s.refreshMetrics))

	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware(token))

		r.Get("/status", s.handleStatus)
		r.Get("/state", s.handleState)
		r.Get("/changes", s.handleChanges)

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.handleEnqueue)
			r.Get("/{id}", s.handleJob)
			r.Post("/{id}/{action}", s.handleAction)
		})
		r.Post("/bulk/{action}", s.handleBulk)
		r.Post("/reorder", s.handleReorder)

		r.Route("/startup", func(r chi.Router) {
			r.Get("/hint", s.handleStartupHint)
			r.Post("/dismiss", s.handleStartupDismiss)
			r.Post("/resume", s.handleStartupResume)
		})
	})
	return r
}

// requestID tags the request context with a correlation id, honouring one
// supplied by the caller.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(middleware.RequestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(middleware.RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(services.WithRequestID(r.Context(), id)))
	})
}

func (s *apiServer) start() error {
	if s == nil || s.bind == "" {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      maxChangesWait + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ErrorWithContext(s.logger, "api server error", "api_serve_failed", logging.Error(err))
		}
	}()
	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()
	if server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		_ = server.Close()
	}
}

func (s *apiServer) addr() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) refreshMetrics() {
	d := s.daemon
	d.metrics.Update(d.ledger.Counts(), d.sync.Revision(), d.workflow.Status())
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, s.daemon.Status())
}

func (s *apiServer) handleState(w http.ResponseWriter, r *http.Request) {
	var statuses []queue.Status
	for _, value := range r.URL.Query()["status"] {
		if strings.TrimSpace(value) == "" {
			continue
		}
		status, err := queue.ParseStatus(value)
		if err != nil {
			s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "state", "", err))
			return
		}
		statuses = append(statuses, status)
	}
	s.writeJSON(w, r, http.StatusOK, s.daemon.service.State(statuses...))
}

// handleChanges answers with the delta since ?from=. With ?wait=<seconds>
// it blocks until the revision moves, bounded by maxChangesWait.
func (s *apiServer) handleChanges(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	from, err := strconv.ParseUint(query.Get("from"), 10, 64)
	if err != nil {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "changes", "from must be a revision number", nil))
		return
	}
	svc := s.daemon.service
	waitSeconds, _ := strconv.Atoi(query.Get("wait"))
	if waitSeconds <= 0 {
		s.writeJSON(w, r, http.StatusOK, svc.Changes(from))
		return
	}

	wait := min(time.Duration(waitSeconds)*time.Second, maxChangesWait)
	ctx, cancel := context.WithTimeout(r.Context(), wait)
	defer cancel()
	resp, err := svc.WaitChanges(ctx, from)
	if err != nil {
		// Timing out with nothing new is an empty answer, not an error.
		resp = svc.Changes(from)
	}
	s.writeJSON(w, r, http.StatusOK, resp)
}

func (s *apiServer) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req api.EnqueueRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.daemon.service.Enqueue(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusCreated, resp)
}

func (s *apiServer) handleJob(w http.ResponseWriter, r *http.Request) {
	detail, err := s.daemon.service.Job(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, detail)
}

func (s *apiServer) handleAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := services.WithJobID(r.Context(), id)
	resp, err := s.daemon.service.Action(ctx, chi.URLParam(r, "action"), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, resp)
}

func (s *apiServer) handleBulk(w http.ResponseWriter, r *http.Request) {
	var req api.BulkRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.daemon.service.Bulk(r.Context(), chi.URLParam(r, "action"), req.IDs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, resp)
}

func (s *apiServer) handleReorder(w http.ResponseWriter, r *http.Request) {
	var req api.ReorderRequest
	if !s.decode(w, r, &req) {
		return
	}
	ok := s.daemon.service.Reorder(r.Context(), req.IDs)
	s.writeJSON(w, r, http.StatusOK, api.ActionResponse{OK: ok})
}

func (s *apiServer) handleStartupHint(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, s.daemon.service.StartupHint())
}

func (s *apiServer) handleStartupDismiss(w http.ResponseWriter, r *http.Request) {
	if err := s.daemon.service.DismissStartupHint(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, api.ActionResponse{OK: true})
}

func (s *apiServer) handleStartupResume(w http.ResponseWriter, r *http.Request) {
	resp, err := s.daemon.service.ResumeStartupQueue(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, resp)
}

func (s *apiServer) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "decode", "invalid request body", err))
		return false
	}
	return true
}

func (s *apiServer) writeJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.WithContext(r.Context(), s.logger).Error("failed to encode response", logging.Args(logging.Error(err))...)
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := services.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logging.ErrorWithContext(logging.WithContext(r.Context(), s.logger), "api request failed", "api_request_failed",
			logging.String("path", r.URL.Path),
			logging.Error(err),
		)
	}
	s.writeJSON(w, r, status, map[string]string{"error": err.Error()})
}
