package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/insights-collector/internal/collector"
	"github.com/JakeFAU/insights-collector/internal/dispatcher"
	"github.com/JakeFAU/insights-collector/internal/store"
)

const (
	defaultJobLimit = 50
	maxJobLimit     = 500
	repoTimeout     = 3 * time.Second
)

type submitJobRequest struct {
	JobID     string                   `json:"job_id"`
	UserID    string                   `json:"user_id"`
	BrandName string                   `json:"brand_name"`
	Sources   []collector.SourceConfig `json:"sources"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	for i := range req.Sources {
		req.Sources[i].Type = collector.SourceType(strings.ToLower(strings.TrimSpace(string(req.Sources[i].Type))))
	}
	jobID, err := s.deps.Jobs.Submit(r.Context(), collector.JobRequest{
		JobID:       strings.TrimSpace(req.JobID),
		Credentials: collector.Credentials{UserID: req.UserID, BrandName: req.BrandName},
		Sources:     req.Sources,
	})
	if err != nil {
		switch {
		case errors.Is(err, dispatcher.ErrInvalidJob):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, collector.ErrInfrastructureUnavailable):
			s.logger.Error("submit job failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
		default:
			s.logger.Error("submit job failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to submit job")
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) jobState(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	state, err := s.deps.State.State(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, collector.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not in progress")
			return
		}
		s.logger.Error("read job state failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":    state.JobID,
		"expected":  state.Expected,
		"completed": state.Completed,
		"results":   state.Results,
	})
}

// listJobs handles GET /jobs?status=&limit=&offset=.
func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Repo == nil {
		writeError(w, http.StatusServiceUnavailable, "job repository unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultJobLimit, maxJobLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status *store.JobRunStatus
	if raw := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status"))); raw != "" {
		parsed, ok := store.ParseJobRunStatus(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
		status = &parsed
	}
	ctx, cancel := context.WithTimeout(r.Context(), repoTimeout)
	defer cancel()
	jobs, err := s.deps.Repo.ListJobs(ctx, status, limit, offset)
	if err != nil {
		s.logger.Error("list jobs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []store.JobRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	if s.deps.Repo == nil {
		writeError(w, http.StatusServiceUnavailable, "job repository unavailable")
		return
	}
	jobID := chi.URLParam(r, "job_id")
	ctx, cancel := context.WithTimeout(r.Context(), repoTimeout)
	defer cancel()
	job, err := s.deps.Repo.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("get job failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}
