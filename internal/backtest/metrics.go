package backtest

import (
	"encoding/json"
	"math"

	"github.com/shopspring/decimal"
)

// Metrics is the fixed summary of a backtest run
// ⭐ SSOT: 성과 지표 키 집합은 여기서만 정의
type Metrics struct {
	Start              string
	End                string
	TradingDays        int
	InitialCash        float64
	FinalEquity        float64
	TotalReturn        float64
	CAGR               float64
	Volatility         float64
	Sharpe             float64
	Sortino            float64 // +Inf when returns exist and none is negative
	MaxDrawdown        float64
	HitRate            float64
	TurnoverTotal      float64
	TurnoverAverage    float64
	RebalanceEvents    int
	TradesExecuted     int
	AnnualRiskFreeRate float64
	Label              string
}

// Map returns the metrics keyed as persisted; label only when set
func (m Metrics) Map() map[string]interface{} {
	out := map[string]interface{}{
		"start":                 m.Start,
		"end":                   m.End,
		"trading_days":          m.TradingDays,
		"initial_cash":          m.InitialCash,
		"final_equity":          m.FinalEquity,
		"total_return":          m.TotalReturn,
		"cagr":                  m.CAGR,
		"volatility":            m.Volatility,
		"sharpe":                m.Sharpe,
		"sortino":               m.Sortino,
		"max_drawdown":          m.MaxDrawdown,
		"hit_rate":              m.HitRate,
		"turnover_total":        m.TurnoverTotal,
		"turnover_average":      m.TurnoverAverage,
		"rebalance_events":      m.RebalanceEvents,
		"trades_executed":       m.TradesExecuted,
		"annual_risk_free_rate": m.AnnualRiskFreeRate,
	}
	if m.Label != "" {
		out["label"] = m.Label
	}
	return out
}

// MarshalJSON writes the Map form; non-finite numbers become "inf", "-inf" or null
func (m Metrics) MarshalJSON() ([]byte, error) {
	raw := m.Map()
	for k, v := range raw {
		if f, ok := v.(float64); ok {
			raw[k] = jsonNumber(f)
		}
	}
	return json.Marshal(raw)
}

func jsonNumber(f float64) interface{} {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return nil
	default:
		return f
	}
}

// metricsInput is everything the summary is computed from
type metricsInput struct {
	curve           []EquityPoint
	initialCash     float64
	tradingDaysYear int
	annualRF        float64
	turnoverTotal   float64
	rebalanceEvents int
	tradesExecuted  int
	label           string
}

func computeMetrics(in metricsInput) Metrics {
	tdpy := in.tradingDaysYear
	if tdpy < 1 {
		tdpy = 1
	}
	annualize := math.Sqrt(float64(tdpy))

	m := Metrics{
		TradingDays:        len(in.curve),
		InitialCash:        round8(in.initialCash),
		TurnoverTotal:      round8(in.turnoverTotal),
		RebalanceEvents:    in.rebalanceEvents,
		TradesExecuted:     in.tradesExecuted,
		AnnualRiskFreeRate: round8(in.annualRF),
		Label:              in.label,
	}

	finalEquity := in.initialCash
	if len(in.curve) > 0 {
		m.Start = in.curve[0].Date.Format("2006-01-02")
		m.End = in.curve[len(in.curve)-1].Date.Format("2006-01-02")
		finalEquity = in.curve[len(in.curve)-1].Equity
	}
	m.FinalEquity = round8(finalEquity)

	if in.initialCash != 0 {
		m.TotalReturn = round8(finalEquity/in.initialCash - 1)
	}
	years := float64(len(in.curve)) / float64(tdpy)
	if years > 0 && finalEquity > 0 && in.initialCash > 0 {
		m.CAGR = round8(math.Pow(finalEquity/in.initialCash, 1/years) - 1)
	}

	// 첫 날 수익률(0)은 인위적이므로 제외
	var returns []float64
	if len(in.curve) > 1 {
		returns = make([]float64, 0, len(in.curve)-1)
		for _, p := range in.curve[1:] {
			returns = append(returns, p.DailyReturn)
		}
	}

	mean := meanOf(returns)
	std := populationStd(returns)
	rfDaily := math.Pow(1+in.annualRF, 1/float64(tdpy)) - 1

	m.Volatility = round8(std * annualize)
	if std > 0 {
		m.Sharpe = round8((mean - rfDaily) / std * annualize)
	}

	var downside []float64
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	downsideStd := populationStd(downside)
	switch {
	case downsideStd > 0:
		m.Sortino = round8((mean - rfDaily) / downsideStd * annualize)
	case len(returns) > 0 && len(downside) == 0:
		m.Sortino = math.Inf(1)
	}

	maxDD := 0.0
	for i, p := range in.curve {
		if i == 0 || p.Drawdown < maxDD {
			maxDD = p.Drawdown
		}
	}
	m.MaxDrawdown = round8(maxDD)

	if len(returns) > 0 {
		positive := 0
		for _, r := range returns {
			if r > 0 {
				positive++
			}
		}
		m.HitRate = round8(float64(positive) / float64(len(returns)))
	}
	if in.rebalanceEvents > 0 {
		m.TurnoverAverage = round8(in.turnoverTotal / float64(in.rebalanceEvents))
	}
	return m
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// populationStd is the ddof=0 standard deviation
func populationStd(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := meanOf(values)
	variance := 0.0
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}
	return math.Sqrt(variance / float64(len(values)))
}

// round8 rounds half away from zero to 8 places; non-finite values pass through
func round8(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	f, _ := decimal.NewFromFloat(v).Round(8).Float64()
	return f
}
