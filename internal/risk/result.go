package risk

import (
	"encoding/json"
	"time"

	"github.com/wonny/tradeflow/internal/contracts"
)

// MarketState is the market filter outcome
type MarketState string

const (
	RiskOn  MarketState = "RISK_ON"
	RiskOff MarketState = "RISK_OFF"
)

// AlertType classifies a threshold breach
type AlertType string

const (
	AlertCrash    AlertType = "CRASH"
	AlertDrawdown AlertType = "DRAWDOWN"
)

// Alert is one breached threshold for a held symbol
type Alert struct {
	Symbol    string    `json:"symbol"`
	Type      AlertType `json:"type"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Reason    string    `json:"reason"`
}

// SymbolEvaluation holds the metrics behind a symbol's risk decision
// Close and RollingPeak are nil when the curated value is missing.
type SymbolEvaluation struct {
	Symbol            string
	DailyReturn       float64
	Drawdown          float64
	CrashThreshold    float64
	DrawdownThreshold float64
	CrashTriggered    bool
	DrawdownTriggered bool
	Close             *float64
	RollingPeak       *float64
}

// MarshalJSON writes NaN metrics as null
func (e SymbolEvaluation) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Symbol            string   `json:"symbol"`
		DailyReturn       *float64 `json:"daily_return"`
		Drawdown          *float64 `json:"drawdown"`
		CrashThreshold    float64  `json:"crash_threshold"`
		DrawdownThreshold float64  `json:"drawdown_threshold"`
		CrashTriggered    bool     `json:"crash_triggered"`
		DrawdownTriggered bool     `json:"drawdown_triggered"`
		Close             *float64 `json:"close"`
		RollingPeak       *float64 `json:"rolling_peak"`
	}{
		Symbol:            e.Symbol,
		DailyReturn:       contracts.Finite(e.DailyReturn),
		Drawdown:          contracts.Finite(e.Drawdown),
		CrashThreshold:    e.CrashThreshold,
		DrawdownThreshold: e.DrawdownThreshold,
		CrashTriggered:    e.CrashTriggered,
		DrawdownTriggered: e.DrawdownTriggered,
		Close:             e.Close,
		RollingPeak:       e.RollingPeak,
	})
}

// Result is the aggregated risk evaluation for one date
type Result struct {
	AsOf        time.Time
	EvaluatedAt time.Time
	MarketState MarketState
	Alerts      []Alert
	Evaluations map[string]SymbolEvaluation

	// MarketFilterPass is nil when no filter is configured or the
	// benchmark had no data
	MarketFilterPass *bool
	Benchmark        string
	Rule             string
}

// MarketFilterPayload is the market_filter object of the alerts document
type MarketFilterPayload struct {
	Benchmark string `json:"benchmark"`
	Passed    *bool  `json:"passed"`
	Rule      string `json:"rule"`
}

// Payload is the persisted risk_alerts document
type Payload struct {
	Date         string               `json:"date"`
	EvaluatedAt  string               `json:"evaluated_at"`
	MarketState  MarketState          `json:"market_state"`
	Alerts       []Alert              `json:"alerts"`
	MarketFilter *MarketFilterPayload `json:"market_filter,omitempty"`
}

// Payload converts the result to its persisted form
func (r *Result) Payload() Payload {
	p := Payload{
		Date:        r.AsOf.Format("2006-01-02"),
		EvaluatedAt: r.EvaluatedAt.Format(time.RFC3339Nano),
		MarketState: r.MarketState,
		Alerts:      r.Alerts,
	}
	if p.Alerts == nil {
		p.Alerts = []Alert{}
	}
	if r.Benchmark != "" {
		p.MarketFilter = &MarketFilterPayload{
			Benchmark: r.Benchmark,
			Passed:    r.MarketFilterPass,
			Rule:      r.Rule,
		}
	}
	return p
}

// HasAlert reports whether symbol has an alert of type t
func (r *Result) HasAlert(symbol string, t AlertType) bool {
	for _, a := range r.Alerts {
		if a.Symbol == symbol && a.Type == t {
			return true
		}
	}
	return false
}
