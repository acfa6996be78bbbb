package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/wonny/tradeflow/internal/scheduler"
	"github.com/wonny/tradeflow/internal/store"
	"github.com/wonny/tradeflow/pkg/logger"
)

// HistoryHandler serves persisted results
type HistoryHandler struct {
	repo   *store.Repository
	logger *logger.Logger
}

// NewHistoryHandler creates a new history handler
func NewHistoryHandler(repo *store.Repository, log *logger.Logger) *HistoryHandler {
	return &HistoryHandler{repo: repo, logger: log}
}

// GetPipelineRuns returns recent pipeline runs
// GET /api/pipeline/runs?limit=N
func (h *HistoryHandler) GetPipelineRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			respondError(w, http.StatusBadRequest, "limit must be in 1..500")
			return
		}
		limit = n
	}

	runs, err := h.repo.RecentPipelineRuns(r.Context(), limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get pipeline runs")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve pipeline runs")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

// GetRebalance returns the stored proposal of a date
// GET /api/rebalance/{date}
func (h *HistoryHandler) GetRebalance(w http.ResponseWriter, r *http.Request) {
	asOf, err := parseDate(mux.Vars(r)["date"])
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.repo.GetRebalance(r.Context(), asOf)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// JobsHandler exposes the scheduler
type JobsHandler struct {
	scheduler *scheduler.Scheduler
}

// NewJobsHandler creates a new jobs handler
func NewJobsHandler(s *scheduler.Scheduler) *JobsHandler {
	return &JobsHandler{scheduler: s}
}

// GetJobs returns statistics of every registered job
// GET /api/scheduler/jobs
func (h *JobsHandler) GetJobs(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.scheduler.GetJobStats())
}

// TriggerJob runs a job now in the background
// POST /api/scheduler/jobs/{name}/run
func (h *JobsHandler) TriggerJob(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := h.scheduler.RunJob(name); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "triggered", "job": name})
}
