package strategy

import (
	"encoding/json"
	"math"
	"time"

	"github.com/wonny/tradeflow/internal/contracts"
)

// SymbolEvaluation is the per-symbol outcome for one as-of date
type SymbolEvaluation struct {
	Symbol     string             `json:"symbol"`
	Signal     contracts.Signal   `json:"signal"`
	EntryRule  bool               `json:"entry_rule"`
	ExitRule   bool               `json:"exit_rule"`
	RankScore  float64            `json:"rank_score"` // -Inf when undefined
	Features   map[string]float64 `json:"features"`
	Indicators map[string]float64 `json:"indicators"`
}

// MarshalJSON writes non-finite numbers as null
func (s SymbolEvaluation) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Symbol     string              `json:"symbol"`
		Signal     contracts.Signal    `json:"signal"`
		EntryRule  bool                `json:"entry_rule"`
		ExitRule   bool                `json:"exit_rule"`
		RankScore  *float64            `json:"rank_score"`
		Features   map[string]*float64 `json:"features"`
		Indicators map[string]*float64 `json:"indicators"`
	}{
		Symbol:     s.Symbol,
		Signal:     s.Signal,
		EntryRule:  s.EntryRule,
		ExitRule:   s.ExitRule,
		RankScore:  contracts.Finite(s.RankScore),
		Features:   contracts.FiniteMap(s.Features),
		Indicators: contracts.FiniteMap(s.Indicators),
	})
}

// Close returns the latest close indicator and whether it is usable
func (s SymbolEvaluation) Close() (float64, bool) {
	v, ok := s.Indicators["close"]
	if !ok || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// Result is the strategy output for one as-of date
type Result struct {
	AsOf        time.Time                   `json:"as_of"`
	Rows        contracts.SignalTable       `json:"rows"` // rank desc, symbol asc
	Evaluations map[string]SymbolEvaluation `json:"evaluations"`
	EntryCount  int                         `json:"entry_count"`
	ExitCount   int                         `json:"exit_count"`
}

// Symbols returns the evaluated symbols in rank order
func (r *Result) Symbols() []string {
	return r.Rows.Symbols()
}
