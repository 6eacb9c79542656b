package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"cinemitr/internal/analytics"
	"cinemitr/internal/config"
	"cinemitr/internal/lifecycle"
	"cinemitr/internal/queue"
	"cinemitr/internal/ratelimit"
	"cinemitr/internal/store"
	"cinemitr/internal/telemetry"
)

// Server wires HTTP handlers for the dashboard API.
type Server struct {
	cfg     config.Config
	store   *store.Store
	engine  *analytics.Engine
	queue   *queue.JobQueue
	limiter *ratelimit.Limiter
}

// New constructs the API server.
func New(cfg config.Config, st *store.Store, engine *analytics.Engine, q *queue.JobQueue, limiter *ratelimit.Limiter) *Server {
	return &Server{
		cfg:     cfg,
		store:   st,
		engine:  engine,
		queue:   q,
		limiter: limiter,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/movies", s.handleCreateMovie)
		r.Get("/movies/{id}", s.handleGetMovie)
		r.Patch("/movies/{id}/status", s.statusHandler(lifecycle.VariantMovie))
		r.Delete("/movies/{id}", s.handleDeleteMovie)

		r.Post("/content", s.handleCreateContent)
		r.Get("/content", s.handleListContent)
		r.Get("/content/{id}", s.handleGetContent)
		r.Patch("/content/{id}/status", s.statusHandler(lifecycle.VariantContentItem))
		r.Post("/content/status/bulk", s.handleBulkContentStatus)
		r.Post("/content/{id}/thumbnail", s.handleRequestThumbnail)
		r.Delete("/content/{id}", s.handleDeleteContent)

		r.Post("/uploads", s.handleCreateUpload)
		r.Get("/uploads/{id}", s.handleGetUpload)
		r.Patch("/uploads/{id}/status", s.statusHandler(lifecycle.VariantUpload))
		r.Patch("/uploads/{id}/progress", s.handleUploadProgress)

		r.Post("/exports", s.handleCreateExport)
		r.Get("/exports/{id}", s.handleGetExport)
		r.Patch("/exports/{id}/status", s.statusHandler(lifecycle.VariantExportJob))
		r.Get("/exports/dlq", s.handleExportDLQ)

		r.Get("/dashboard/metrics", s.handleDashboardMetrics)
		r.Get("/dashboard/status-distribution", s.handleStatusDistribution)
		r.Get("/dashboard/priority-distribution", s.handlePriorityDistribution)
		r.Get("/storage/stats", s.handleStorageStats)
		r.Get("/activity", s.handleActivity)
	})

	return r
}

// actorFromRequest identifies the principal recorded in audit rows.
func actorFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Actor"); v != "" {
		return v
	}
	return "system"
}

// allow consumes a rate-limit token; when it returns false, the 429 has
// already been written.
func (s *Server) allow(w http.ResponseWriter, r *http.Request) bool {
	if s.limiter == nil {
		return true
	}
	allowed, _, err := s.limiter.Allow(r.Context(), actorFromRequest(r))
	if err != nil {
		http.Error(w, "rate limit error", http.StatusInternalServerError)
		return false
	}
	if !allowed {
		telemetry.RateLimitRejects.Inc()
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return false
	}
	return true
}

// mutationContext derives the bounded context every mutation runs under; the
// deadline expiring mid-transaction rolls the whole unit of work back.
func (s *Server) mutationContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.cfg.LockTimeout)
}

// statusCodeFor maps the mutator's failure taxonomy onto HTTP.
func statusCodeFor(err error) int {
	switch {
	case errors.Is(err, lifecycle.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, lifecycle.ErrIllegalTransition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, lifecycle.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, lifecycle.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusCodeFor(err), map[string]any{
		"error":     err.Error(),
		"retryable": lifecycle.Retryable(err),
	})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
