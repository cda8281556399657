// Package handlers holds the ops API endpoint handlers.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/lcalmbach/open-data-insights-sub000/internal/scheduler"
	"github.com/lcalmbach/open-data-insights-sub000/pkg/logger"
)

// JobScheduler is the slice of the scheduler the ops API needs.
type JobScheduler interface {
	GetJobStats() map[string]scheduler.JobStats
	GetJobHistory(name string) (*scheduler.JobHistory, error)
	RunJob(name string) error
}

// JobHandler serves scheduler state and manual job triggers.
type JobHandler struct {
	sched  JobScheduler
	logger *logger.Logger
}

// NewJobHandler creates a job handler.
func NewJobHandler(sched JobScheduler, log *logger.Logger) *JobHandler {
	return &JobHandler{sched: sched, logger: log}
}

// GetStats returns statistics for all registered jobs.
// GET /api/jobs
func (h *JobHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    h.sched.GetJobStats(),
	})
}

// GetHistory returns recent executions of one job.
// GET /api/jobs/{name}/history?limit=20
func (h *JobHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	history, err := h.sched.GetJobHistory(name)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data": map[string]interface{}{
			"job":     name,
			"results": history.GetLatestResults(limit),
		},
	})
}

// TriggerRun triggers one job outside its schedule.
// POST /api/jobs/{name}/run
func (h *JobHandler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	if err := h.sched.RunJob(name); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}

	h.logger.WithField("job", name).Info("Job triggered via ops API")
	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"success": true,
		"job":     name,
	})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
