package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/insights-collector/internal/collector"
	"github.com/JakeFAU/insights-collector/internal/metrics"
	"github.com/JakeFAU/insights-collector/internal/store"
	"github.com/JakeFAU/insights-collector/internal/webhook"
)

// JobSubmitter accepts new jobs. The dispatcher implements it.
type JobSubmitter interface {
	Submit(ctx context.Context, req collector.JobRequest) (string, error)
}

// StateReader exposes live fan-in state. The coordinator implements it.
type StateReader interface {
	State(ctx context.Context, jobID string) (collector.JobState, error)
}

// WebhookReceiver handles provider callbacks.
type WebhookReceiver interface {
	Receive(ctx context.Context, d webhook.Delivery) (webhook.Outcome, error)
}

// ResultWaiter blocks for a delivered webhook result.
type ResultWaiter interface {
	WaitForResult(ctx context.Context, topic, jobID string, timeout time.Duration) (json.RawMessage, error)
}

// Checker reports whether a downstream dependency is usable.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Deps are the collaborators behind the routes. Repo may be nil.
type Deps struct {
	Jobs      JobSubmitter
	State     StateReader
	Repo      store.JobRepository
	Webhooks  WebhookReceiver
	Waiter    ResultWaiter
	Readiness []Checker
}

// Config controls routing and limits.
type Config struct {
	APIPrefix      string
	AuthEnabled    bool
	APIKey         string
	RequestTimeout time.Duration
	DefaultWait    time.Duration
	MaxWait        time.Duration
	MaxBodyBytes   int64
}

func (c Config) withDefaults() Config {
	c.APIPrefix = "/" + strings.Trim(c.APIPrefix, "/")
	if c.APIPrefix == "/" {
		c.APIPrefix = ""
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 60 * time.Second
	}
	if c.DefaultWait <= 0 {
		c.DefaultWait = 30 * time.Second
	}
	if c.MaxWait <= 0 {
		c.MaxWait = 2 * time.Minute
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 16 << 20
	}
	return c
}

// Server wires HTTP handlers to the collector components.
type Server struct {
	router chi.Router
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{deps: deps, cfg: cfg.withDefaults(), logger: logger.Named("api")}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	if s.cfg.APIPrefix == "" {
		s.routes(r)
	} else {
		r.Route(s.cfg.APIPrefix, s.routes)
	}

	s.router = r
	return s
}

// routes registers everything served below the API prefix. {id} is a
// correlation id on POST and a job id on the wait route.
func (s *Server) routes(r chi.Router) {
	r.Route("/webhooks/{topic}", func(r chi.Router) {
		r.Post("/", s.receiveWebhook)
		r.Post("/{id}", s.receiveWebhook)
		// The wait route bounds itself, so it skips the request timeout.
		r.Get("/{id}/result", s.waitForResult)
	})
	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(s.cfg.RequestTimeout))
		if s.cfg.AuthEnabled {
			r.Use(apiKeyMiddleware(s.cfg.APIKey))
		}
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Get("/", s.listJobs)
			r.Get("/{job_id}", s.getJob)
			r.Get("/{job_id}/state", s.jobState)
		})
	})
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	failed := map[string]string{}
	for _, c := range s.deps.Readiness {
		if err := c.Check(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.String("dependency", c.Name), zap.Error(err))
			failed[c.Name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
