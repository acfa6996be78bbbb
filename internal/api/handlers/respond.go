package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/wonny/tradeflow/internal/backtest"
	"github.com/wonny/tradeflow/internal/contracts"
	"github.com/wonny/tradeflow/internal/marketdata"
	"github.com/wonny/tradeflow/internal/rebalance"
	"github.com/wonny/tradeflow/internal/risk"
	"github.com/wonny/tradeflow/internal/strategy"
	"github.com/wonny/tradeflow/internal/store"
)

const maxBodyBytes = 1 << 20

// Helper functions

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

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, strategy.ErrSymbolNotEvaluated),
		errors.Is(err, risk.ErrSymbolNotEvaluated),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, contracts.ErrInvalidHoldings),
		errors.Is(err, backtest.ErrInvalidRange):
		return http.StatusBadRequest
	case errors.Is(err, rebalance.ErrMissingPrice),
		errors.Is(err, rebalance.ErrNonPositiveValue),
		errors.Is(err, backtest.ErrMissingPrice):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// parseDate parses YYYY-MM-DD; empty means today (UTC)
func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return marketdata.NormalizeDate(time.Now().UTC()), nil
	}
	d, err := marketdata.ParseDate(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (expected YYYY-MM-DD)", raw)
	}
	return d, nil
}

// parseWindow reads ?window=; fallback when absent
func parseWindow(r *http.Request, fallback int) (int, error) {
	raw := r.URL.Query().Get("window")
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid window %q", raw)
	}
	return n, nil
}

// decodeBody decodes an optional JSON body; an empty body leaves dst untouched
func decodeBody(r *http.Request, dst interface{}) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// parseHoldings validates an inline holdings document
func parseHoldings(raw json.RawMessage) (contracts.HoldingsSnapshot, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return contracts.HoldingsSnapshot{}, nil
	}
	return contracts.ParseHoldings(bytes.NewReader(raw))
}

// boolOr dereferences v with a default
func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}
