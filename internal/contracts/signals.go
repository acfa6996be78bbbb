package contracts

import (
	"encoding/json"
	"math"
	"sort"
	"strings"
	"time"
)

// Signal is the per-symbol strategy decision
type Signal string

const (
	SignalBuy  Signal = "BUY"
	SignalHold Signal = "HOLD"
	SignalExit Signal = "EXIT"
)

// ParseSignal upper-cases a raw signal; unknown values map to HOLD
func ParseSignal(s string) Signal {
	switch Signal(strings.ToUpper(strings.TrimSpace(s))) {
	case SignalBuy:
		return SignalBuy
	case SignalExit:
		return SignalExit
	default:
		return SignalHold
	}
}

// SignalRow is one row of the signals table
type SignalRow struct {
	Date      time.Time          `json:"date"`
	Symbol    string             `json:"symbol"`
	Signal    Signal             `json:"signal"`
	RankScore float64            `json:"rank_score"`
	Features  map[string]float64 `json:"features,omitempty"`
}

// MarshalJSON writes non-finite numbers as null
func (r SignalRow) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Date      string              `json:"date"`
		Symbol    string              `json:"symbol"`
		Signal    Signal              `json:"signal"`
		RankScore *float64            `json:"rank_score"`
		Features  map[string]*float64 `json:"features,omitempty"`
	}{
		Date:      r.Date.Format("2006-01-02"),
		Symbol:    r.Symbol,
		Signal:    r.Signal,
		RankScore: Finite(r.RankScore),
		Features:  FiniteMap(r.Features),
	})
}

// SignalTable is the strategy output consumed by the rebalance engine
type SignalTable []SignalRow

// ForDate keeps the rows dated asOf; rows with a zero date are kept as undated
func (t SignalTable) ForDate(asOf time.Time) SignalTable {
	y, m, d := asOf.Date()
	out := make(SignalTable, 0, len(t))
	for _, row := range t {
		if row.Date.IsZero() {
			out = append(out, row)
			continue
		}
		ry, rm, rd := row.Date.Date()
		if ry == y && rm == m && rd == d {
			out = append(out, row)
		}
	}
	return out
}

// Symbols returns the distinct symbols in table order
func (t SignalTable) Symbols() []string {
	seen := make(map[string]bool, len(t))
	out := make([]string, 0, len(t))
	for _, row := range t {
		if !seen[row.Symbol] {
			seen[row.Symbol] = true
			out = append(out, row.Symbol)
		}
	}
	return out
}

// SortByRank orders rows by rank score desc, symbol asc
func (t SignalTable) SortByRank() {
	sort.SliceStable(t, func(i, j int) bool {
		if t[i].RankScore != t[j].RankScore {
			return t[i].RankScore > t[j].RankScore
		}
		return t[i].Symbol < t[j].Symbol
	})
}

// Finite returns nil for NaN and ±Inf
func Finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// FiniteMap applies Finite to every value
func FiniteMap(m map[string]float64) map[string]*float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]*float64, len(m))
	for k, v := range m {
		out[k] = Finite(v)
	}
	return out
}
