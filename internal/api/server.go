// Package api exposes the HTTP interface for the capture service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pagelens/pagelens/internal/metrics"
	"github.com/pagelens/pagelens/internal/snapshot"
)

const publishTimeout = 5 * time.Second

// Server wires HTTP handlers to the broker, status store and cache.
type Server struct {
	router chi.Router
	status snapshot.StatusStore
	broker snapshot.Broker
	cache  snapshot.Cache
	idGen  snapshot.IDGenerator
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	status snapshot.StatusStore,
	broker snapshot.Broker,
	cache snapshot.Cache,
	idGen snapshot.IDGenerator,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		status: status,
		broker: broker,
		cache:  cache,
		idGen:  idGen,
		logger: logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Post("/screenshot", s.submit)
	r.Get("/screenshot/lists", s.listCompleted)
	r.Get("/status", s.listStatuses)
	r.Get("/status/{url_id}", s.getStatus)

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type submitRequest struct {
	URLs []string `json:"urls"`
}

type queuedURL struct {
	URL string `json:"url"`
	ID  string `json:"id"`
}

// submit accepts a batch of URLs, registers and enqueues each one
// independently, and returns the {url, id} pairs that were queued. URLs
// whose enqueue fails are logged and dropped from the response; submission
// is fire-and-forget per URL, so job-level failures surface only through
// the status endpoints.
func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.URLs) == 0 {
		writeError(w, http.StatusBadRequest, "No URLs provided")
		return
	}

	queued := make([]queuedURL, 0, len(req.URLs))
	for _, url := range req.URLs {
		id, err := s.enqueueURL(r.Context(), url)
		if err != nil {
			s.logger.Error("enqueue failed", zap.String("url", url), zap.Error(err))
			metrics.ObserveEnqueueFailure()
			continue
		}
		queued = append(queued, queuedURL{URL: url, ID: id})
	}

	if len(queued) == 0 {
		writeError(w, http.StatusInternalServerError, "Failed to queue any URLs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Queued %d URLs for processing", len(queued)),
		"urls":    queued,
	})
}

// enqueueURL registers the job as pending before publishing, so the status
// entry exists before any message that could trigger its transition.
func (s *Server) enqueueURL(ctx context.Context, url string) (string, error) {
	id, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	if err := s.status.Register(ctx, id, url); err != nil {
		return "", fmt.Errorf("register job: %w", err)
	}

	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := s.broker.Publish(publishCtx, snapshot.Message{URL: url, ID: id}); err != nil {
		return "", fmt.Errorf("publish job: %w", err)
	}
	s.logger.Info("job queued", zap.String("job_id", id), zap.String("url", url))
	return id, nil
}

type statusEntry struct {
	// URL carries the job id: statuses are keyed by the tracker id, not
	// re-resolved per URL text. The field name is part of the response
	// contract.
	URL    string          `json:"url"`
	Status snapshot.Status `json:"status"`
}

func (s *Server) listStatuses(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.status.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list statuses")
		return
	}
	out := make([]statusEntry, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, statusEntry{URL: job.ID, Status: job.Status})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "url_id")
	job, err := s.status.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, snapshot.ErrNotFound) {
			writeError(w, http.StatusNotFound, "URL not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch status")
		return
	}
	writeJSON(w, http.StatusOK, statusEntry{URL: job.ID, Status: job.Status})
}

type completedEntry struct {
	URL       string `json:"url"`
	ImagePath string `json:"image_path"`
}

// listCompleted returns done jobs whose cached artifact still resolves.
func (s *Server) listCompleted(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.status.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list statuses")
		return
	}
	out := make([]completedEntry, 0, len(jobs))
	for _, job := range jobs {
		if job.Status != snapshot.StatusDone {
			continue
		}
		path, ok := s.cache.Lookup(job.URL)
		if !ok {
			continue
		}
		out = append(out, completedEntry{URL: job.URL, ImagePath: path})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write response failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
