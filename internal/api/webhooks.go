package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/insights-collector/internal/collector"
	"github.com/JakeFAU/insights-collector/internal/wait"
	"github.com/JakeFAU/insights-collector/internal/webhook"
)

func (s *Server) receiveWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	out, err := s.deps.Webhooks.Receive(r.Context(), webhook.Delivery{
		Topic:         chi.URLParam(r, "topic"),
		PathID:        chi.URLParam(r, "id"),
		Authorization: r.Header.Get("Authorization"),
		Body:          body,
	})
	if err != nil {
		status, msg := webhookErrorStatus(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("webhook processing failed",
				zap.String("request_id", RequestID(r.Context())),
				zap.String("topic", chi.URLParam(r, "topic")),
				zap.Error(err))
		}
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": out.Status})
}

// webhookErrorStatus maps intake errors to responses. Messages never reveal
// whether a correlation id exists when the caller is unauthenticated.
func webhookErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, collector.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized webhook"
	case errors.Is(err, collector.ErrMissingPayload):
		return http.StatusBadRequest, "missing payload"
	case errors.Is(err, webhook.ErrInvalidPayload):
		return http.StatusBadRequest, "invalid payload"
	case errors.Is(err, collector.ErrUnresolvedCorrelation):
		return http.StatusBadRequest, "missing job_id/correlation_id"
	case errors.Is(err, collector.ErrInfrastructureUnavailable):
		return http.StatusServiceUnavailable, "temporarily unavailable"
	case errors.Is(err, collector.ErrNotFound):
		return http.StatusNotFound, "not found"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (s *Server) waitForResult(w http.ResponseWriter, r *http.Request) {
	timeout := s.cfg.DefaultWait
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid timeout")
			return
		}
		timeout = d
	}
	if timeout > s.cfg.MaxWait {
		timeout = s.cfg.MaxWait
	}

	payload, err := s.deps.Waiter.WaitForResult(r.Context(), chi.URLParam(r, "topic"), chi.URLParam(r, "id"), timeout)
	switch {
	case errors.Is(err, wait.ErrTimedOut):
		writeError(w, http.StatusRequestTimeout, "no result before timeout")
	case err != nil:
		if r.Context().Err() != nil {
			return
		}
		s.logger.Error("wait for result failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
	default:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload)
	}
}
