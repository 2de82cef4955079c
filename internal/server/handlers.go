package server

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"
)

func respondOK(w http.ResponseWriter, data any) {
	respondJSON(w, http.StatusOK, data)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

type healthResponse struct {
	Status    string `json:"status"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
	WorkerID  string `json:"worker_id"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondOK(w, healthResponse{
		Status:    "healthy",
		GoVersion: runtime.Version(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		WorkerID:  s.co.WorkerID(),
	})
}

func (s *Server) handleApps(w http.ResponseWriter, r *http.Request) {
	respondOK(w, map[string]any{"apps": s.cfg.AppNames()})
}

// handleStatus serves the full diagnostic view of one job:
// GET /api/v1/status?app=<app>&job_id=<job_id>
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	app := r.URL.Query().Get("app")
	jobID := r.URL.Query().Get("job_id")
	if app == "" || jobID == "" {
		respondError(w, http.StatusBadRequest, "app and job_id are required")
		return
	}

	view, err := s.co.Status(app, jobID)
	if err != nil {
		s.logger.Error("status lookup failed", "app", app, "job_id", jobID, "error", err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondOK(w, view)
}

// handleQueue serves an app's queue size: GET /api/v1/queue?app=<app>
func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	app := r.URL.Query().Get("app")
	if app == "" {
		respondError(w, http.StatusBadRequest, "app is required")
		return
	}

	n, err := s.co.QueueSize(app)
	if err != nil {
		s.logger.Error("queue size failed", "app", app, "error", err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondOK(w, map[string]any{"app": app, "size": n})
}

// handleHistory serves recent runs: GET /api/v1/history?app=<app>&limit=<n>
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	app := r.URL.Query().Get("app")
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := s.hist.Recent(r.Context(), app, limit)
	if err != nil {
		s.logger.Error("history lookup failed", "app", app, "error", err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondOK(w, map[string]any{"runs": runs})
}
