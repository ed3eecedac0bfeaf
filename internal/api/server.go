package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"beaconrig/domain/core"
	"beaconrig/internal"
	"beaconrig/internal/errors"
	"beaconrig/internal/observability"
	"beaconrig/ports"
)

// Server is the read-only results API over a metric store
type Server struct {
	router *chi.Mux
	store  ports.MetricStore
	logger *internal.Logger
}

// NewServer wires routes and middleware
func NewServer(store ports.MetricStore, lg *internal.Logger) *Server {
	s := &Server{
		router: chi.NewRouter(),
		store:  store,
		logger: lg.WithComponent("API"),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures HTTP middleware
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))
	s.router.Use(countRequests)
}

// countRequests records each response under its route pattern
func countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		observability.ObserveRequest(route, ww.Status())
	})
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())
	s.router.Get("/runs", s.handleListRuns)
	s.router.Route("/runs/{runID}", func(r chi.Router) {
		r.Get("/", s.handleGetRun)
		r.Get("/summary", s.handleSummary)
		r.Get("/trials", s.handleTrials)
		r.Get("/exclusions", s.handleExclusions)
	})
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is cancelled, then drains in-flight requests
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, errors.InvalidInput("limit must be a positive integer"))
			return
		}
		limit = n
	}
	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := s.runID(w, r)
	if !ok {
		return
	}
	rec, err := s.store.GetRun(r.Context(), runID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	runID, ok := s.runID(w, r)
	if !ok {
		return
	}
	summaries, err := s.store.ListSummaries(r.Context(), runID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleTrials(w http.ResponseWriter, r *http.Request) {
	runID, ok := s.runID(w, r)
	if !ok {
		return
	}
	trials, err := s.store.ListTrials(r.Context(), runID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if cond := r.URL.Query().Get("condition"); cond != "" {
		filtered := trials[:0]
		for _, t := range trials {
			if t.Condition == cond {
				filtered = append(filtered, t)
			}
		}
		trials = filtered
	}
	writeJSON(w, http.StatusOK, trials)
}

func (s *Server) handleExclusions(w http.ResponseWriter, r *http.Request) {
	runID, ok := s.runID(w, r)
	if !ok {
		return
	}
	excl, err := s.store.ListExclusions(r.Context(), runID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, excl)
}

func (s *Server) runID(w http.ResponseWriter, r *http.Request) (core.RunID, bool) {
	runID, err := core.ParseRunID(chi.URLParam(r, "runID"))
	if err != nil {
		s.writeError(w, errors.WithCode(errors.CodeInvalidInput, err))
		return "", false
	}
	return runID, true
}

// writeError maps error codes to HTTP status
func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := errors.GetCode(err)
	status := http.StatusInternalServerError
	switch code {
	case errors.CodeNotFound:
		status = http.StatusNotFound
	case errors.CodeInvalidInput, errors.CodeValidationError:
		status = http.StatusBadRequest
	default:
		s.logger.Error("request failed: %v", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "code": code})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
