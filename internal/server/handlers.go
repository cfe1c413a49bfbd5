package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/ruiji/internal/embedding"
	"github.com/hyperjump/ruiji/internal/indexer"
	"github.com/hyperjump/ruiji/internal/models"
	"github.com/hyperjump/ruiji/internal/notes"
	"github.com/hyperjump/ruiji/internal/search"
)

func (s *Server) handleNearest(w http.ResponseWriter, r *http.Request) {
	var query models.NearestQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("nearest request", zap.Int("max_results", query.MaxResults), zap.String("exclude_id", query.ExcludeID))
	response, err := s.engine.FindNearest(r.Context(), query)
	if err != nil {
		s.queryError(w, "nearest", err)
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleRelated(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	query, err := queryFromURL(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Debug("related request", zap.String("id", id))
	response, err := s.engine.FindSimilarToDocument(r.Context(), id, query)
	if err != nil {
		s.queryError(w, "related", err)
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func queryFromURL(r *http.Request) (models.NearestQuery, error) {
	var q models.NearestQuery
	v := r.URL.Query()
	if s := v.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return q, errors.New("limit must be an integer")
		}
		q.MaxResults = n
	}
	if s := v.Get("min_similarity"); s != "" {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return q, errors.New("min_similarity must be a number")
		}
		q.MinSimilarity = &f
	}
	q.Aggregation = models.Aggregation(v.Get("aggregation"))
	return q, nil
}

// queryError maps query failures to status codes.
func (s *Server) queryError(w http.ResponseWriter, op string, err error) {
	var embErr *embedding.EmbeddingError
	switch {
	case errors.Is(err, notes.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "document not found")
	case errors.Is(err, search.ErrModelMismatch):
		s.logger.Error(op+" failed", zap.Error(err))
		s.respondError(w, http.StatusConflict, err.Error())
	case errors.As(err, &embErr):
		s.logger.Error(op+" failed", zap.Error(err))
		s.respondError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, models.ErrInvalidQuery):
		s.respondError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error(op+" failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

type rebuildRequest struct {
	IDs   []string `json:"ids,omitempty"`
	Force bool     `json:"force,omitempty"`
}

type rebuildResponse struct {
	TaskID     string `json:"task_id"`
	Generation uint64 `json:"generation"`
	Scope      string `json:"scope"`
	Status     string `json:"status"`
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	var req rebuildRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	scope := indexer.FullScope()
	if len(req.IDs) > 0 {
		scope = indexer.TargetedScope(req.IDs...)
	}
	task, err := s.coordinator.Trigger(scope, indexer.TriggerOptions{Force: req.Force, Source: "http"})
	switch {
	case errors.Is(err, indexer.ErrRebuildInProgress), errors.Is(err, indexer.ErrSwitchPending):
		s.respondError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, indexer.ErrClosed):
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		s.logger.Error("rebuild trigger failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusAccepted, rebuildResponse{
		TaskID:     task.ID,
		Generation: task.Generation,
		Scope:      task.Scope.String(),
		Status:     "started",
	})
}

func (s *Server) handleCancelRebuild(w http.ResponseWriter, r *http.Request) {
	s.coordinator.Cancel()
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

type diskUser interface {
	DiskUsage() (int64, error)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats, err := s.store.Stats(ctx)
	if err != nil {
		s.logger.Error("status: store stats failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]interface{}{
		"rebuild":           s.coordinator.Status(),
		"store":             stats,
		"store_path":        s.store.Path(),
		"vector_index_size": s.engine.IndexSize(),
	}
	if committed, err := s.store.CommittedIdentity(ctx); err == nil && committed != nil {
		resp["identity"] = committed
	}
	if s.gateway != nil {
		resp["gateway"] = s.gateway.Stats()
	}
	if du, ok := s.store.(diskUser); ok {
		if n, err := du.DiskUsage(); err == nil {
			resp["disk_usage_bytes"] = n
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
