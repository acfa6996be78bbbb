package contracts

import "time"

// DailyReport is the operator report of one pipeline run
// ⭐ SSOT: daily_report.json 의 스키마는 여기서만 정의
//
// Optional numbers are nil when the input was missing or not finite.
type DailyReport struct {
	AsOf         string                   `json:"as_of"`
	GeneratedAt  time.Time                `json:"generated_at"`
	BaseCurrency string                   `json:"base_currency"`
	Portfolio    ReportPortfolio          `json:"portfolio"`
	Risk         *ReportRisk              `json:"risk"` // nil when risk was not evaluated
	Actions      ReportActions            `json:"actions"`
	Signals      []ReportSignal           `json:"signals"`
	Performance  ReportPerformance        `json:"performance"`
	Manifest     map[string]ManifestEntry `json:"manifest"`
	Notes        []string                 `json:"notes"`

	// Set once the report is written
	JSONPath string `json:"-"`
	HTMLPath string `json:"-"`
}

// ReportPortfolio is the valued holdings book
type ReportPortfolio struct {
	Positions []ReportPosition `json:"positions"` // |value| desc, symbol asc
	Value     float64          `json:"value"`
	Cash      float64          `json:"cash"`
	Invested  float64          `json:"invested"`
}

// ReportPosition is one valued holding
type ReportPosition struct {
	Symbol        string   `json:"symbol"`
	Quantity      float64  `json:"quantity"`
	Price         float64  `json:"price"`
	Value         float64  `json:"value"`
	Weight        float64  `json:"weight"`
	CostBasis     *float64 `json:"cost_basis"`
	Unrealized    *float64 `json:"unrealized"`
	UnrealizedPct *float64 `json:"unrealized_pct"`
	Ret20D        *float64 `json:"ret_20d"`
}

// ReportRisk is the risk section
type ReportRisk struct {
	MarketState string        `json:"market_state"`
	Alerts      []ReportAlert `json:"alerts"` // symbol, type asc
	Benchmark   string        `json:"benchmark,omitempty"`
	Passed      *bool         `json:"passed"`
	Rule        string        `json:"rule,omitempty"`
}

// ReportAlert is one risk alert
type ReportAlert struct {
	Symbol    string  `json:"symbol"`
	Type      string  `json:"type"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	Reason    string  `json:"reason"`
}

// ReportActions is the rebalance section
type ReportActions struct {
	Orders   []RebalanceOrder `json:"orders"` // symbol asc
	Exits    []string         `json:"exits"`  // zero-weight targets
	Status   string           `json:"status"`
	Turnover *float64         `json:"turnover"`
}

// ReportSignal is one row of the signal overview
type ReportSignal struct {
	Symbol    string   `json:"symbol"`
	Signal    Signal   `json:"signal"`
	RankScore *float64 `json:"rank_score"`
}

// ReportPerformance holds the trailing portfolio metrics
type ReportPerformance struct {
	Sharpe63D *float64 `json:"sharpe_63d"`
	Return20D *float64 `json:"return_20d"`
}

// ManifestEntry references an artifact the report was built from
type ManifestEntry struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256,omitempty"`
}

// ActionsUnknown is the actions status when no rebalance ran
const ActionsUnknown = "UNKNOWN"

// Daily report file names under <reports>/<YYYY-MM-DD>/
const (
	FileDailyReportJSON = "daily_report.json"
	FileDailyReportHTML = "daily_report.html"
)
