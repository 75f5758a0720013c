package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uda-platform/doc-extractor/internal/config"
	"github.com/uda-platform/doc-extractor/internal/extraction"
	"github.com/uda-platform/doc-extractor/internal/orchestrator"
	"github.com/uda-platform/doc-extractor/internal/telemetry"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// JobService is the orchestrator surface the HTTP layer consumes.
type JobService interface {
	Submit(ctx context.Context, req extraction.Request) (extraction.Job, error)
	Status(ctx context.Context, jobID string) (extraction.Job, error)
	Results(ctx context.Context, jobID string) (extraction.Job, error)
	List(ctx context.Context, limit, offset int) ([]extraction.JobSummary, error)
	Cancel(ctx context.Context, jobID string) error
}

// Server wires HTTP handlers to the orchestrator.
type Server struct {
	router chi.Router
	jobs   JobService
	cfg    config.Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(jobs JobService, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{jobs: jobs, cfg: cfg, logger: logger}

	timeout := cfg.ServerTimeout()
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(timeout))
	r.Use(telemetry.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/extractions", func(r chi.Router) {
			r.Post("/", s.submitExtraction)
			r.Get("/", s.listExtractions)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/status", s.extractionStatus)
				r.Get("/results", s.extractionResults)
				r.Post("/cancel", s.cancelExtraction)
			})
		})
	})

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

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	// Job state lives in process; once the server answers, it is ready.
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// submitExtraction handles POST /v1/extractions. It returns 202 with the new
// job's identity, 400 for malformed bodies or requests the orchestrator
// rejects, or 500 if job creation fails.
func (s *Server) submitExtraction(w http.ResponseWriter, r *http.Request) {
	var req extraction.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	job, err := s.jobs.Submit(r.Context(), req)
	if err != nil {
		if errors.Is(err, orchestrator.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("submit extraction failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create extraction job")
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{
		JobID:   job.ID,
		Status:  string(job.Status),
		URL:     job.Request.URL,
		Company: job.Request.Company,
		Product: job.Request.Product,
	})
}

// extractionStatus handles GET /v1/extractions/{job_id}/status.
func (s *Server) extractionStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Status(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		s.respondJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusResponse(job))
}

// extractionResults handles GET /v1/extractions/{job_id}/results. Records are
// released only once the job completes; until then the response carries a
// progress message instead.
func (s *Server) extractionResults(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Results(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		s.respondJobError(w, err)
		return
	}
	if job.Status != extraction.StatusCompleted {
		writeJSON(w, http.StatusOK, pendingResultsResponse{
			JobID:    job.ID,
			Status:   string(job.Status),
			Progress: job.Progress,
			Message:  "extraction is still in progress",
			Error:    job.Error,
		})
		return
	}
	records := job.Records
	if records == nil {
		records = []extraction.Record{}
	}
	writeJSON(w, http.StatusOK, resultsResponse{
		JobID:    job.ID,
		Status:   string(job.Status),
		Progress: job.Progress,
		Records:  records,
	})
}

// listExtractions handles GET /v1/extractions?limit=&offset=, newest first.
func (s *Server) listExtractions(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultListLimit, maxListLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	summaries, err := s.jobs.List(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list extractions failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if summaries == nil {
		summaries = []extraction.JobSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": summaries})
}

// cancelExtraction handles POST /v1/extractions/{job_id}/cancel. Cancellation
// is asynchronous; 202 means the request was accepted, not that the job has
// already stopped.
func (s *Server) cancelExtraction(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := s.jobs.Cancel(r.Context(), jobID); err != nil {
		if errors.Is(err, extraction.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("cancel extraction failed", zap.Error(err), zap.String("job_id", jobID))
		writeError(w, http.StatusInternalServerError, "failed to cancel job")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": "canceling"})
}

func (s *Server) respondJobError(w http.ResponseWriter, err error) {
	if errors.Is(err, extraction.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.logger.Error("job lookup failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "failed to load job")
}

type submitResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	URL     string `json:"url"`
	Company string `json:"company"`
	Product string `json:"product,omitempty"`
}

type statusResponse struct {
	JobID     string                 `json:"job_id"`
	Status    string                 `json:"status"`
	Progress  float64                `json:"progress"`
	Completed []string               `json:"completed_urls"`
	Pending   []string               `json:"pending_urls"`
	Errors    []extraction.PageError `json:"error_urls"`
}

type resultsResponse struct {
	JobID    string              `json:"job_id"`
	Status   string              `json:"status"`
	Progress float64             `json:"progress"`
	Records  []extraction.Record `json:"records"`
}

type pendingResultsResponse struct {
	JobID    string  `json:"job_id"`
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
	Message  string  `json:"message"`
	Error    string  `json:"error,omitempty"`
}

// toStatusResponse shapes a job snapshot for the status endpoint. Slices are
// never null in the payload, even for jobs loaded from the archive.
func toStatusResponse(job extraction.Job) statusResponse {
	resp := statusResponse{
		JobID:     job.ID,
		Status:    string(job.Status),
		Progress:  job.Progress,
		Completed: job.Completed,
		Pending:   job.Pending,
		Errors:    job.Errored,
	}
	if resp.Completed == nil {
		resp.Completed = []string{}
	}
	if resp.Pending == nil {
		resp.Pending = []string{}
	}
	if resp.Errors == nil {
		resp.Errors = []extraction.PageError{}
	}
	return resp
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
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

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.String("request_id", requestIDFrom(r.Context())),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rec),
						zap.String("path", r.URL.Path),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// An encode error means the client went away; there is no one to tell.
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
