package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"chainscan/internal/config"
	"chainscan/internal/ratelimit"
	"chainscan/internal/service"
	"chainscan/internal/store"
	"chainscan/internal/telemetry"
)

// Server wires HTTP handlers over the job service.
type Server struct {
	cfg     config.Config
	svc     *service.JobService
	limiter *ratelimit.TokenBucket
}

// New constructs the API server. limiter may be nil to disable rate limiting.
func New(cfg config.Config, svc *service.JobService, limiter *ratelimit.TokenBucket) *Server {
	return &Server{cfg: cfg, svc: svc, limiter: limiter}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/jobs", s.handleSubmit)
	r.Get("/jobs", s.handleList)
	r.Get("/jobs/stats", s.handleStats)
	r.Get("/jobs/{id}", s.handleGet)
	r.Post("/jobs/{id}/pause", s.handlePause)
	r.Post("/jobs/{id}/cancel", s.handleCancel)
	return r
}

type submitRequest struct {
	Kind     string         `json:"kind"`
	Subject  string         `json:"subject"`
	Block    string         `json:"block"`
	Priority string         `json:"priority"`
	Params   map[string]any `json:"params"`
}

type submitResponse struct {
	JobID          string `json:"jobId"`
	Status         string `json:"status"`
	QueuePosition  int    `json:"queuePosition"`
	EstimatedStart string `json:"estimatedStartTime"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil {
		if allowed, _ := s.limiter.Allow(clientKey(r)); !allowed {
			telemetry.RateLimitRejects.Inc()
			writeError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	receipt, err := s.svc.Submit(service.SubmitParams{
		Kind:     req.Kind,
		Address:  req.Subject,
		Block:    req.Block,
		Priority: req.Priority,
		Params:   req.Params,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, submitResponse{
		JobID:          receipt.JobID,
		Status:         "queued",
		QueuePosition:  receipt.QueuePosition,
		EstimatedStart: receipt.EstimatedStart.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.GetStatus(chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	items, meta, err := s.svc.List(store.Filter{
		Status: q.Get("status"),
		Kind:   q.Get("kind"),
	}, page, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":      items,
		"pagination": meta,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Stats())
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Pause(chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "queued"})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Cancel(chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// clientKey identifies the submitter for rate limiting: explicit client id
// header first, remote address otherwise.
func clientKey(r *http.Request) string {
	if v := r.Header.Get("X-Client-ID"); v != "" {
		return v
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, service.ErrInvalidState):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
