package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/wonny/tradeflow/internal/contracts"
	"github.com/wonny/tradeflow/internal/rebalance"
	"github.com/wonny/tradeflow/internal/risk"
	"github.com/wonny/tradeflow/internal/strategy"
	"github.com/wonny/tradeflow/pkg/logger"
)

// EngineHandler exposes read-only evaluations of the engines
// ⭐ SSOT: 엔진 조회 API 핸들러는 이 구조체에서만
type EngineHandler struct {
	strategy  *strategy.Engine
	risk      *risk.Engine
	rebalance *rebalance.Engine
	window    int
	logger    *logger.Logger
}

// NewEngineHandler creates a new engine handler; window is the default signal lookback
func NewEngineHandler(strat *strategy.Engine, riskEngine *risk.Engine, rebal *rebalance.Engine, window int, log *logger.Logger) *EngineHandler {
	return &EngineHandler{
		strategy:  strat,
		risk:      riskEngine,
		rebalance: rebal,
		window:    window,
		logger:    log,
	}
}

// evaluationRequest is the body of the POST endpoints
type evaluationRequest struct {
	Date     string          `json:"date"`
	Holdings json.RawMessage `json:"holdings"`
	Force    bool            `json:"force"`
	Window   *int            `json:"window"`
}

// GetSignals evaluates the universe
// GET /api/signals?date=YYYY-MM-DD&window=N
func (h *EngineHandler) GetSignals(w http.ResponseWriter, r *http.Request) {
	asOf, err := parseDate(r.URL.Query().Get("date"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	window, err := parseWindow(r, h.window)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.strategy.Evaluate(r.Context(), asOf, window)
	if err != nil {
		h.logger.WithError(err).Error("Failed to evaluate signals")
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// ExplainSignal returns one symbol's evaluation
// GET /api/signals/{symbol}?date=YYYY-MM-DD&window=N
func (h *EngineHandler) ExplainSignal(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(mux.Vars(r)["symbol"])
	asOf, err := parseDate(r.URL.Query().Get("date"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	window, err := parseWindow(r, h.window)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	eval, err := h.strategy.Explain(r.Context(), symbol, asOf, window)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, eval)
}

// riskResponse is the alerts document plus per-symbol details
type riskResponse struct {
	risk.Payload
	Evaluations map[string]risk.SymbolEvaluation `json:"evaluations"`
}

// EvaluateRisk evaluates alerts and the market filter for the given holdings
// POST /api/risk
func (h *EngineHandler) EvaluateRisk(w http.ResponseWriter, r *http.Request) {
	_, asOf, holdings, ok := h.parseEvaluation(w, r)
	if !ok {
		return
	}

	result, err := h.risk.Evaluate(r.Context(), asOf, holdings)
	if err != nil {
		h.logger.WithError(err).Error("Failed to evaluate risk")
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, riskResponse{Payload: result.Payload(), Evaluations: result.Evaluations})
}

// ExplainRisk returns one held symbol's risk evaluation
// POST /api/risk/{symbol}
func (h *EngineHandler) ExplainRisk(w http.ResponseWriter, r *http.Request) {
	_, asOf, holdings, ok := h.parseEvaluation(w, r)
	if !ok {
		return
	}

	eval, err := h.risk.Explain(r.Context(), mux.Vars(r)["symbol"], asOf, holdings)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, eval)
}

// ProposeRebalance computes signals and a rebalance proposal without persisting
// POST /api/rebalance
func (h *EngineHandler) ProposeRebalance(w http.ResponseWriter, r *http.Request) {
	req, asOf, holdings, ok := h.parseEvaluation(w, r)
	if !ok {
		return
	}
	window := h.window
	if req.Window != nil {
		window = *req.Window
	}

	signals, err := h.strategy.Evaluate(r.Context(), asOf, window)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	result, err := h.rebalance.Evaluate(r.Context(), asOf, holdings, signals.Rows, req.Force)
	if err != nil {
		h.logger.WithError(err).Error("Failed to evaluate rebalance")
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *EngineHandler) parseEvaluation(w http.ResponseWriter, r *http.Request) (evaluationRequest, time.Time, contracts.HoldingsSnapshot, bool) {
	var req evaluationRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return req, time.Time{}, contracts.HoldingsSnapshot{}, false
	}
	asOf, err := parseDate(req.Date)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return req, time.Time{}, contracts.HoldingsSnapshot{}, false
	}
	holdings, err := parseHoldings(req.Holdings)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return req, time.Time{}, contracts.HoldingsSnapshot{}, false
	}
	if req.Window != nil && *req.Window < 0 {
		respondError(w, http.StatusBadRequest, "window must be >= 0")
		return req, time.Time{}, contracts.HoldingsSnapshot{}, false
	}
	return req, asOf, holdings, true
}
