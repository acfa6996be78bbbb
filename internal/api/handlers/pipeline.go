package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wonny/tradeflow/internal/pipeline"
	"github.com/wonny/tradeflow/pkg/logger"
)

// SummaryRecorder receives every finished pipeline summary
type SummaryRecorder func(ctx context.Context, summary *pipeline.Summary) error

// PipelineHandler triggers pipeline runs
// ⭐ SSOT: 파이프라인 실행 API 는 이 구조체에서만
type PipelineHandler struct {
	pipeline *pipeline.Pipeline
	recorder SummaryRecorder
	logger   *logger.Logger
}

// NewPipelineHandler creates a new pipeline handler; recorder may be nil
func NewPipelineHandler(p *pipeline.Pipeline, recorder SummaryRecorder, log *logger.Logger) *PipelineHandler {
	return &PipelineHandler{pipeline: p, recorder: recorder, logger: log}
}

// RunRequest is the body of POST /api/pipeline/{name}
type RunRequest struct {
	Date     string          `json:"date"`
	Holdings json.RawMessage `json:"holdings"`
	Window   int             `json:"window"`
	DryRun   *bool           `json:"dry_run"` // default true
	Force    bool            `json:"force"`
}

// RunResponse wraps a summary with the results it produced
type RunResponse struct {
	Summary   *pipeline.Summary `json:"summary"`
	Error     string            `json:"error,omitempty"`
	Risk      interface{}       `json:"risk,omitempty"`
	Rebalance interface{}       `json:"rebalance,omitempty"`
}

// Run executes the daily or rebalance pipeline
// POST /api/pipeline/{name}
func (h *PipelineHandler) Run(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if name != pipeline.NameDaily && name != pipeline.NameRebalance {
		respondError(w, http.StatusNotFound, "unknown pipeline "+name)
		return
	}

	var req RunRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	asOf, err := parseDate(req.Date)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	holdings, err := parseHoldings(req.Holdings)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	opts := pipeline.Options{
		AsOf:           asOf,
		Holdings:       holdings,
		Window:         req.Window,
		DryRun:         boolOr(req.DryRun, true),
		ForceRebalance: req.Force,
	}

	h.logger.WithFields(map[string]interface{}{
		"pipeline": name,
		"as_of":    req.Date,
		"dry_run":  opts.DryRun,
	}).Info("Pipeline run triggered")

	var summary *pipeline.Summary
	if name == pipeline.NameRebalance {
		summary, err = h.pipeline.RunRebalance(r.Context(), opts)
	} else {
		summary, err = h.pipeline.RunDaily(r.Context(), opts)
	}

	if h.recorder != nil && summary != nil {
		if recErr := h.recorder(r.Context(), summary); recErr != nil {
			h.logger.WithError(recErr).Warn("Failed to record pipeline summary")
		}
	}

	resp := RunResponse{Summary: summary}
	if summary != nil {
		if summary.Risk != nil {
			resp.Risk = summary.Risk.Payload()
		}
		if summary.Rebalance != nil {
			resp.Rebalance = summary.Rebalance
		}
	}

	var execErr *pipeline.ExecutionError
	if errors.As(err, &execErr) {
		resp.Error = execErr.Error()
		respondJSON(w, statusFor(execErr.Err), resp)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, resp)
}
