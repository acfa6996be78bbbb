package contracts

import "time"

// OrderSide is the direction of an order
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// RebalanceStatus classifies a rebalance evaluation
type RebalanceStatus string

const (
	StatusRebalance     RebalanceStatus = "REBALANCE"
	StatusNoRebalance   RebalanceStatus = "NO_REBALANCE"
	StatusNoCandidates  RebalanceStatus = "NO_CANDIDATES"
	StatusNoCapacity    RebalanceStatus = "NO_CAPACITY"
	StatusTurnoverLimit RebalanceStatus = "TURNOVER_LIMIT"
)

// RebalanceTarget is the desired weight of one symbol
type RebalanceTarget struct {
	Symbol       string  `json:"symbol"`
	TargetWeight float64 `json:"target_weight"` // 0.0 ~ 1.0
	Rationale    string  `json:"rationale,omitempty"`
}

// RebalanceOrder is an order intent derived from target weights
// Quantity is always positive; Side carries the direction.
type RebalanceOrder struct {
	Symbol   string    `json:"symbol"`
	Side     OrderSide `json:"side"`
	Quantity float64   `json:"quantity"`
	Notional float64   `json:"notional"`
}

// RebalanceResult is the proposal for one as-of date
// ⭐ SSOT: 리밸런스 결과는 매 호출마다 새로 계산됨 (상태 머신 아님)
type RebalanceResult struct {
	AsOf       time.Time         `json:"as_of"`
	Status     RebalanceStatus   `json:"status"`
	CashBuffer float64           `json:"cash_buffer"`
	Turnover   float64           `json:"turnover"`
	Targets    []RebalanceTarget `json:"targets"`
	Orders     []RebalanceOrder  `json:"orders"`
	Notes      []string          `json:"notes"`
}

// TotalWeight returns the sum of target weights
func (r *RebalanceResult) TotalWeight() float64 {
	total := 0.0
	for _, t := range r.Targets {
		total += t.TargetWeight
	}
	return total
}

// Target finds a target by symbol
func (r *RebalanceResult) Target(symbol string) (RebalanceTarget, bool) {
	for _, t := range r.Targets {
		if t.Symbol == symbol {
			return t, true
		}
	}
	return RebalanceTarget{}, false
}

// Order finds an order by symbol
func (r *RebalanceResult) Order(symbol string) (RebalanceOrder, bool) {
	for _, o := range r.Orders {
		if o.Symbol == symbol {
			return o, true
		}
	}
	return RebalanceOrder{}, false
}
