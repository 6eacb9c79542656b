package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"cinemitr/internal/lifecycle"
	"cinemitr/internal/models"
	"cinemitr/internal/queue"
	"cinemitr/internal/store"
)

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) handleCreateMovie(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r) {
		return
	}
	var p store.CreateMovieParams
	if !decodeBody(w, r, &p) {
		return
	}
	if p.Title == "" {
		http.Error(w, "title is required", http.StatusBadRequest)
		return
	}
	ctx, cancel := s.mutationContext(r)
	defer cancel()
	m, err := s.store.InsertMovie(ctx, p, actorFromRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleGetMovie(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.GetMovie(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleDeleteMovie(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r) {
		return
	}
	ctx, cancel := s.mutationContext(r)
	defer cancel()
	if err := s.store.DeleteMovie(ctx, chi.URLParam(r, "id"), actorFromRequest(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateContent(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r) {
		return
	}
	var p store.CreateContentParams
	if !decodeBody(w, r, &p) {
		return
	}
	if p.Name == "" || p.ContentType == "" {
		http.Error(w, "name and content_type are required", http.StatusBadRequest)
		return
	}
	if p.Priority == "" {
		p.Priority = string(models.PriorityMedium)
	}
	ctx, cancel := s.mutationContext(r)
	defer cancel()
	item, err := s.store.InsertContentItem(ctx, p, actorFromRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) handleGetContent(w http.ResponseWriter, r *http.Request) {
	item, err := s.store.GetContentItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleListContent(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.ContentFilters{
		Status:      q.Get("status"),
		ContentType: q.Get("content_type"),
		Priority:    q.Get("priority"),
	}
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	items, total, err := s.store.ListContentItems(r.Context(), f, page, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"total": total,
	})
}

func (s *Server) handleDeleteContent(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r) {
		return
	}
	ctx, cancel := s.mutationContext(r)
	defer cancel()
	if err := s.store.DeleteContentItem(ctx, chi.URLParam(r, "id"), actorFromRequest(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type statusRequest struct {
	Status models.Status `json:"status"`
	Reason string        `json:"reason,omitempty"`
}

// statusHandler serves PATCH .../{id}/status for one record family.
func (s *Server) statusHandler(v lifecycle.Variant) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.allow(w, r) {
			return
		}
		var req statusRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if !lifecycle.IsValidStatus(v, req.Status) {
			http.Error(w, "unknown status for this record type", http.StatusBadRequest)
			return
		}
		ctx, cancel := s.mutationContext(r)
		defer cancel()
		change, err := s.store.UpdateStatus(ctx, v, chi.URLParam(r, "id"), req.Status, actorFromRequest(r), req.Reason)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, change)
	}
}

type bulkStatusRequest struct {
	IDs    []string       `json:"ids"`
	Status models.Status  `json:"status"`
	Reason string         `json:"reason,omitempty"`
	Mode   store.BulkMode `json:"mode,omitempty"`
}

func (s *Server) handleBulkContentStatus(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r) {
		return
	}
	var req bulkStatusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.IDs) == 0 {
		http.Error(w, "ids is required", http.StatusBadRequest)
		return
	}
	if !lifecycle.IsValidStatus(lifecycle.VariantContentItem, req.Status) {
		http.Error(w, "unknown status for this record type", http.StatusBadRequest)
		return
	}
	ctx, cancel := s.mutationContext(r)
	defer cancel()
	res, err := s.store.BulkUpdateStatus(ctx, lifecycle.VariantContentItem, req.IDs, req.Status, actorFromRequest(r), req.Reason, req.Mode)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRequestThumbnail(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r) {
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetContentItem(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	if err := s.queue.Enqueue(r.Context(), queue.Job{Kind: queue.KindThumbnail, ID: id}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "state": "queued"})
}

func (s *Server) handleCreateUpload(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r) {
		return
	}
	var p store.CreateUploadParams
	if !decodeBody(w, r, &p) {
		return
	}
	if p.FileName == "" || p.FileSizeBytes <= 0 {
		http.Error(w, "file_name and a positive file_size_bytes are required", http.StatusBadRequest)
		return
	}
	ctx, cancel := s.mutationContext(r)
	defer cancel()
	u, err := s.store.InsertUpload(ctx, p, actorFromRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) handleGetUpload(w http.ResponseWriter, r *http.Request) {
	u, err := s.store.GetUpload(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

type uploadProgressRequest struct {
	BytesUploaded int64 `json:"bytes_uploaded"`
}

func (s *Server) handleUploadProgress(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r) {
		return
	}
	var req uploadProgressRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.BytesUploaded < 0 {
		http.Error(w, "bytes_uploaded must not be negative", http.StatusBadRequest)
		return
	}
	ctx, cancel := s.mutationContext(r)
	defer cancel()
	u, err := s.store.RecordUploadProgress(ctx, chi.URLParam(r, "id"), req.BytesUploaded, actorFromRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleCreateExport(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r) {
		return
	}
	var p store.CreateExportParams
	if !decodeBody(w, r, &p) {
		return
	}
	if p.Format != "csv" && p.Format != "json" {
		http.Error(w, "format must be csv or json", http.StatusBadRequest)
		return
	}
	ctx, cancel := s.mutationContext(r)
	defer cancel()
	job, err := s.store.InsertExportJob(ctx, p, actorFromRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.queue.Enqueue(r.Context(), queue.Job{Kind: queue.KindExport, ID: job.ID}); err != nil {
		// The committed row stays pending until an operator re-enqueues it;
		// surface the record rather than failing the create.
		log.Printf("enqueue export %s: %v", job.ID, err)
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleGetExport(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetExportJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleExportDLQ(w http.ResponseWriter, r *http.Request) {
	count := int64(50)
	if v := r.URL.Query().Get("count"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			count = n
		}
	}
	jobs, err := s.queue.DLQPeek(r.Context(), count)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleDashboardMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := s.engine.DashboardMetrics(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleStatusDistribution(w http.ResponseWriter, r *http.Request) {
	dist, err := s.engine.StatusDistribution(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dist)
}

func (s *Server) handlePriorityDistribution(w http.ResponseWriter, r *http.Request) {
	dist, err := s.engine.PriorityDistribution(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dist)
}

func (s *Server) handleStorageStats(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.StorageStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := s.engine.RecentActivity(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"activity": records})
}
