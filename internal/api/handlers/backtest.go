package handlers

import (
	"net/http"

	"github.com/wonny/tradeflow/internal/backtest"
	"github.com/wonny/tradeflow/pkg/logger"
)

// BacktestHandler runs backtests on demand
type BacktestHandler struct {
	engine *backtest.Engine
	sink   backtest.ArtifactSink
	logger *logger.Logger
}

// NewBacktestHandler creates a new backtest handler; sink may be nil
func NewBacktestHandler(engine *backtest.Engine, sink backtest.ArtifactSink, log *logger.Logger) *BacktestHandler {
	return &BacktestHandler{engine: engine, sink: sink, logger: log}
}

// BacktestRequest is the body of POST /api/backtest
type BacktestRequest struct {
	Start  string `json:"start"`
	End    string `json:"end"`
	Label  string `json:"label"`
	DryRun *bool  `json:"dry_run"` // default true
}

// BacktestResponse is the run summary; the equity curve and trades are in the artifacts
type BacktestResponse struct {
	RunID        string            `json:"run_id"`
	Start        string            `json:"start"`
	End          string            `json:"end"`
	DurationMs   int64             `json:"duration_ms"`
	Metrics      backtest.Metrics  `json:"metrics"`
	Stats        backtest.Stats    `json:"stats"`
	EquityPoints int               `json:"equity_points"`
	Manifest     map[string]string `json:"manifest"`
}

// Run executes a backtest
// POST /api/backtest
func (h *BacktestHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req BacktestRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Start == "" || req.End == "" {
		respondError(w, http.StatusBadRequest, "start and end are required")
		return
	}
	start, err := parseDate(req.Start)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	end, err := parseDate(req.End)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.engine.Run(r.Context(), backtest.RunOptions{
		Start:  start,
		End:    end,
		Label:  req.Label,
		DryRun: boolOr(req.DryRun, true),
	}, h.sink)
	if err != nil {
		h.logger.WithError(err).Error("Backtest failed")
		respondError(w, statusFor(err), err.Error())
		return
	}

	respondJSON(w, http.StatusOK, BacktestResponse{
		RunID:        result.RunID,
		Start:        result.Metrics.Start,
		End:          result.Metrics.End,
		DurationMs:   result.Duration.Milliseconds(),
		Metrics:      result.Metrics,
		Stats:        result.Stats,
		EquityPoints: len(result.EquityCurve),
		Manifest:     result.Manifest,
	})
}
