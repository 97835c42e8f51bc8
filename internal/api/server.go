package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/snapscope/snapscope/internal/data/db"
	"github.com/snapscope/snapscope/internal/log"
	"github.com/snapscope/snapscope/internal/metrics"
	"github.com/snapscope/snapscope/pkg/types"
)

// operatorPriority is assigned to jobs queued through the API.
const operatorPriority = 5

// Server exposes the queue over HTTP: operators submit scan requests and
// inspect the active queue; probes and scrapers get health and metrics.
type Server struct {
	queue     db.QueueManager
	collector *metrics.Collector
	logger    types.Logger
}

// NewServer wires a Server.
func NewServer(queue db.QueueManager, collector *metrics.Collector, logger types.Logger) *Server {
	return &Server{queue: queue, collector: collector, logger: logger}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.withLogger)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", s.collector.Handler())
	r.Route("/api/scans", func(r chi.Router) {
		r.Post("/request", s.handleScanRequest)
		r.Get("/queue", s.handleQueue)
	})
	return r
}

// withLogger carries the server logger on the request context so handlers
// and the layers below them log through it.
func (s *Server) withLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(log.WithLogger(r.Context(), s.logger)))
	})
}

type scanRequest struct {
	Packages []string `json:"packages"`
}

type scanResponse struct {
	Queued  []string `json:"queued"`
	Skipped []string `json:"skipped"`
}

// handleScanRequest enqueues the named packages at operator priority.
// Packages with a job already in flight land in the skipped list.
func (s *Server) handleScanRequest(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Packages) == 0 {
		writeError(w, http.StatusBadRequest, "packages list is empty")
		return
	}

	logger := log.NewLogger(r.Context())
	resp := scanResponse{Queued: []string{}, Skipped: []string{}}
	for _, name := range req.Packages {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		queued, err := s.queue.Enqueue(r.Context(), name, operatorPriority)
		if err != nil {
			logger.Error("enqueue failed", zap.String("snap", name), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to queue scan")
			return
		}
		if queued {
			s.collector.JobsEnqueued.WithLabelValues("operator").Inc()
			resp.Queued = append(resp.Queued, name)
		} else {
			resp.Skipped = append(resp.Skipped, name)
		}
	}
	writeJSON(w, http.StatusAccepted, resp)
}

type queueResponse struct {
	Pending int64            `json:"pending"`
	Jobs    []queueJobStatus `json:"jobs"`
}

type queueJobStatus struct {
	ID       uint   `json:"id"`
	SnapName string `json:"snap_name"`
	Revision *int   `json:"revision"`
	Priority int    `json:"priority"`
	Status   string `json:"status"`
	Created  string `json:"created_at"`
}

// handleQueue lists non-terminal jobs in claim order.
func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.queue.ListActive(r.Context())
	if err != nil {
		log.NewLogger(r.Context()).Error("listing queue failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list queue")
		return
	}
	pending, err := s.queue.CountPending(r.Context())
	if err != nil {
		log.NewLogger(r.Context()).Error("counting queue failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list queue")
		return
	}

	resp := queueResponse{Pending: pending, Jobs: []queueJobStatus{}}
	for _, job := range jobs {
		resp.Jobs = append(resp.Jobs, queueJobStatus{
			ID:       job.ID,
			SnapName: job.SnapName,
			Revision: job.Revision,
			Priority: job.Priority,
			Status:   string(job.Status),
			Created:  job.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
