// Package httpapi exposes the tutordesk service as a JSON API for the UI.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"tutordesk/internal/adapters/reports"
	"tutordesk/internal/core"
	"tutordesk/internal/session"
	"tutordesk/pkg/domain"
)

// Authenticator exchanges a session token for a principal and reports it to
// the identity gate.
type Authenticator interface {
	SignIn(ctx context.Context, token string) (*domain.Principal, error)
}

// Logger is the subset of core.Logger used for request logging.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Option configures a Server.
type Option func(*Server)

// WithReports enables the report export endpoints.
func WithReports(w *reports.Worker) Option { return func(s *Server) { s.reports = w } }

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option { return func(s *Server) { s.metrics = h } }

// WithLogger sets the request logger.
func WithLogger(l Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// Server routes HTTP requests to the service.
type Server struct {
	svc     *core.Service
	auth    Authenticator
	reports *reports.Worker
	metrics http.Handler
	logger  Logger
}

// NewServer builds a server over svc. auth handles POST /api/session.
func NewServer(svc *core.Service, auth Authenticator, opts ...Option) *Server {
	s := &Server{svc: svc, auth: auth, logger: noopLogger{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/session", s.handleGetSession)
		r.Post("/session", s.handleSignIn)
		r.Delete("/session", s.handleSignOut)

		r.Get("/period", s.handleGetPeriod)
		r.Put("/period", s.handleSetPeriod)
		r.Get("/dashboard", s.handleDashboard)

		r.Get("/filters", s.handleGetFilters)
		r.Put("/filters", s.handleSetFilters)
		r.Post("/sync/refresh", s.handleRefresh)

		r.Route("/students", func(r chi.Router) { mountCollection(r, s.svc.Students(), s.listStudents) })
		r.Route("/groups", func(r chi.Router) { mountCollection[domain.Group](r, s.svc.Groups(), nil) })
		r.Route("/sessions", func(r chi.Router) { mountCollection[domain.Session](r, s.svc.Sessions(), nil) })
		r.Route("/payments", func(r chi.Router) { mountCollection(r, s.svc.Payments(), s.listPayments) })

		r.Get("/stats/history", s.handleHistory)
		r.Post("/stats/publish", s.handlePublish)
		r.Post("/stats/resync", s.handleResync)

		if s.reports != nil {
			r.Post("/reports", s.handleCreateReport)
			r.Get("/reports/{id}", s.handleGetReport)
			r.Get("/reports/{id}/{format}", s.handleDownloadReport)
		}
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		args := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		}
		if ww.Status() >= http.StatusInternalServerError {
			s.logger.Error("http request failed", args...)
			return
		}
		s.logger.Info("http request", args...)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	stale := s.svc.StaleCollections()
	if stale == nil {
		stale = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"session": s.svc.Gate().Status(),
		"stale":   stale,
	})
}

type sessionView struct {
	Status    session.Status    `json:"status"`
	Principal *domain.Principal `json:"principal,omitempty"`
}

func (s *Server) sessionView() sessionView {
	g := s.svc.Gate()
	return sessionView{Status: g.Status(), Principal: g.Principal()}
}

func (s *Server) handleGetSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sessionView())
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if !decode(w, r, &body) {
		return
	}
	if body.Token == "" {
		writeError(w, http.StatusBadRequest, "token required")
		return
	}
	if _, err := s.auth.SignIn(r.Context(), body.Token); err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.sessionView())
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Gate().SignOut(r.Context()); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetPeriod(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"period": s.svc.State().Period()})
}

func (s *Server) handleSetPeriod(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Period domain.Period `json:"period"`
	}
	if !decode(w, r, &body) {
		return
	}
	if err := s.svc.SetCurrentPeriod(r.Context(), body.Period); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"period": s.svc.State().Period()})
}

func (s *Server) handleGetFilters(w http.ResponseWriter, _ *http.Request) {
	f, err := s.svc.Filters()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleSetFilters(w http.ResponseWriter, r *http.Request) {
	var body core.Filters
	if !decode(w, r, &body) {
		return
	}
	if err := s.svc.SetFilters(body); err != nil {
		writeServiceError(w, err)
		return
	}
	s.handleGetFilters(w, r)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Refresh(r.Context()); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stale": s.svc.StaleCollections()})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.svc.Dashboard(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.svc.LoadHistory(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if history == nil {
		history = []domain.MonthlyStats{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	built, err := s.svc.PublishStats(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, built)
}

func (s *Server) handleResync(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Resync(r.Context()); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stale": s.svc.StaleCollections()})
}

func (s *Server) handleCreateReport(w http.ResponseWriter, r *http.Request) {
	export, err := s.reports.Enqueue(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, export)
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	owner, err := s.svc.Gate().Require()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	export, ok := s.reports.Get(owner, chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "report not found")
		return
	}
	writeJSON(w, http.StatusOK, export)
}

func (s *Server) handleDownloadReport(w http.ResponseWriter, r *http.Request) {
	owner, err := s.svc.Gate().Require()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	artifact, rc, err := s.reports.Open(r.Context(), owner, chi.URLParam(r, "id"), reports.Format(chi.URLParam(r, "format")))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", artifact.ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, rc)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body: "+err.Error())
		return false
	}
	return true
}

// statusFor maps the service error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrAuthRequired):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrWriteRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrRemoteUnavailable), errors.Is(err, reports.ErrQueueFull):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
