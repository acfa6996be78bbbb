package risk

import (
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/tradeflow/internal/contracts"
	"github.com/wonny/tradeflow/internal/marketdata"
	"github.com/wonny/tradeflow/internal/marketdata/mdtest"
	"github.com/wonny/tradeflow/internal/rules"
	"github.com/wonny/tradeflow/pkg/logger"
)

var fixedClock = func() time.Time {
	return time.Date(2024, 5, 31, 21, 0, 0, 0, time.UTC)
}

func thresholds() Config {
	return Config{CrashThreshold: -0.08, DrawdownThreshold: -0.20}
}

func newEngine(t *testing.T, cfg Config, frames ...marketdata.Frame) *Engine {
	t.Helper()
	e, err := New(cfg, marketdata.NewMemorySource(frames...), logger.Nop(), WithClock(fixedClock))
	require.NoError(t, err)
	return e
}

func held(symbols ...string) contracts.HoldingsSnapshot {
	positions := make([]contracts.Position, len(symbols))
	for i, s := range symbols {
		positions[i] = contracts.Position{Symbol: s, Qty: 10}
	}
	return contracts.HoldingsSnapshot{Positions: positions}
}

func priceFrame(t *testing.T, symbol string, asOf time.Time, ret, closePx, peak float64) marketdata.Frame {
	return mdtest.Frame(t, symbol, asOf, map[string][]float64{
		marketdata.ColRet1D:       {0, ret},
		marketdata.ColClose:       {peak, closePx},
		marketdata.ColRollingPeak: {peak, peak},
	})
}

func TestEvaluate_CrashAndDrawdownAlerts(t *testing.T) {
	asOf := mdtest.Date(t, "2024-05-31")
	e := newEngine(t, thresholds(),
		priceFrame(t, "MSFT", asOf, -0.01, 95, 100),
		priceFrame(t, "AAPL", asOf, -0.10, 75, 100),
	)

	result, err := e.Evaluate(context.Background(), asOf, held("msft", "aapl"))
	require.NoError(t, err)

	require.Len(t, result.Alerts, 2)
	assert.Equal(t, Alert{
		Symbol:    "AAPL",
		Type:      AlertCrash,
		Value:     -0.10,
		Threshold: -0.08,
		Reason:    "Daily return -0.1000 <= crash threshold -0.0800",
	}, result.Alerts[0])
	assert.Equal(t, AlertDrawdown, result.Alerts[1].Type)
	assert.InDelta(t, -0.25, result.Alerts[1].Value, 1e-12)
	assert.Equal(t, "Drawdown -0.2500 <= threshold -0.2000", result.Alerts[1].Reason)

	msft := result.Evaluations["MSFT"]
	assert.False(t, msft.CrashTriggered)
	assert.False(t, msft.DrawdownTriggered)
	assert.InDelta(t, -0.05, msft.Drawdown, 1e-12)
	require.NotNil(t, msft.Close)
	assert.Equal(t, 95.0, *msft.Close)

	assert.Equal(t, RiskOn, result.MarketState)
	assert.Nil(t, result.MarketFilterPass)
	assert.Equal(t, fixedClock(), result.EvaluatedAt)
}

func TestEvaluate_ThresholdIsInclusive(t *testing.T) {
	asOf := mdtest.Date(t, "2024-05-31")
	e := newEngine(t, Config{CrashThreshold: -0.08, DrawdownThreshold: -0.5},
		priceFrame(t, "AAPL", asOf, -0.08, 100, 100))

	result, err := e.Evaluate(context.Background(), asOf, held("AAPL"))
	require.NoError(t, err)
	assert.True(t, result.HasAlert("AAPL", AlertCrash))
	assert.False(t, result.HasAlert("AAPL", AlertDrawdown))
}

func TestEvaluate_MissingValuesNeverTrigger(t *testing.T) {
	asOf := mdtest.Date(t, "2024-05-31")
	frame := mdtest.Frame(t, "AAPL", asOf, map[string][]float64{
		marketdata.ColRet1D: {math.NaN()},
		marketdata.ColClose: {50},
	})
	zeroPeak := priceFrame(t, "MSFT", asOf, math.NaN(), 50, 0)
	e := newEngine(t, thresholds(), frame, zeroPeak)

	result, err := e.Evaluate(context.Background(), asOf, held("AAPL", "MSFT"))
	require.NoError(t, err)

	assert.Empty(t, result.Alerts)
	aapl := result.Evaluations["AAPL"]
	assert.True(t, math.IsNaN(aapl.DailyReturn))
	assert.True(t, math.IsNaN(aapl.Drawdown))
	assert.Nil(t, aapl.RollingPeak)
	assert.NotNil(t, aapl.Close)
	assert.True(t, math.IsNaN(result.Evaluations["MSFT"].Drawdown), "zero peak")

	data, err := json.Marshal(aapl)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"drawdown":null`)
}

func TestEvaluate_MissingDataIsSkipped(t *testing.T) {
	asOf := mdtest.Date(t, "2024-05-31")
	future := priceFrame(t, "NVDA", asOf.AddDate(0, 0, 7), -0.5, 10, 100)
	e := newEngine(t, thresholds(), priceFrame(t, "AAPL", asOf, 0, 100, 100), future)

	result, err := e.Evaluate(context.Background(), asOf, held("AAPL", "NVDA", "TSLA"))
	require.NoError(t, err)
	assert.Len(t, result.Evaluations, 1)
	assert.Contains(t, result.Evaluations, "AAPL")
	assert.Empty(t, result.Alerts)
}

func TestEvaluate_MarketFilter(t *testing.T) {
	asOf := mdtest.Date(t, "2024-05-31")
	spy := func(closePx float64) marketdata.Frame {
		return mdtest.Frame(t, "SPY", asOf, map[string][]float64{
			marketdata.ColClose:  {90, closePx},
			marketdata.ColSMA200: {100, 100},
		})
	}
	filter := thresholds()
	filter.MarketFilter = &MarketFilter{Benchmark: "spy", Rule: "close > sma_200"}

	t.Run("pass", func(t *testing.T) {
		e := newEngine(t, filter, spy(110))
		result, err := e.Evaluate(context.Background(), asOf, held())
		require.NoError(t, err)
		assert.Equal(t, RiskOn, result.MarketState)
		require.NotNil(t, result.MarketFilterPass)
		assert.True(t, *result.MarketFilterPass)
		assert.Equal(t, "SPY", result.Benchmark)
	})

	t.Run("fail", func(t *testing.T) {
		e := newEngine(t, filter, spy(95))
		result, err := e.Evaluate(context.Background(), asOf, held())
		require.NoError(t, err)
		assert.Equal(t, RiskOff, result.MarketState)
		require.NotNil(t, result.MarketFilterPass)
		assert.False(t, *result.MarketFilterPass)
	})

	t.Run("benchmark missing", func(t *testing.T) {
		e := newEngine(t, filter)
		result, err := e.Evaluate(context.Background(), asOf, held())
		require.NoError(t, err)
		assert.Equal(t, RiskOff, result.MarketState)
		assert.Nil(t, result.MarketFilterPass)
	})
}

func TestPayload(t *testing.T) {
	asOf := mdtest.Date(t, "2024-05-31")
	cfg := thresholds()
	cfg.MarketFilter = &MarketFilter{Benchmark: "SPY", Rule: "close > sma_200"}
	e := newEngine(t, cfg, priceFrame(t, "AAPL", asOf, -0.10, 100, 100))

	result, err := e.Evaluate(context.Background(), asOf, held("AAPL"))
	require.NoError(t, err)

	data, err := json.Marshal(result.Payload())
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "2024-05-31", doc["date"])
	assert.Equal(t, "2024-05-31T21:00:00Z", doc["evaluated_at"])
	assert.Equal(t, "RISK_OFF", doc["market_state"])
	assert.Len(t, doc["alerts"], 1)
	assert.Equal(t, map[string]interface{}{
		"benchmark": "SPY",
		"passed":    nil,
		"rule":      "close > sma_200",
	}, doc["market_filter"])

	e = newEngine(t, thresholds())
	result, err = e.Evaluate(context.Background(), asOf, held())
	require.NoError(t, err)
	data, err = json.Marshal(result.Payload())
	require.NoError(t, err)
	assert.NotContains(t, string(data), "market_filter")
	assert.Contains(t, string(data), `"alerts":[]`)
}

func TestExplain(t *testing.T) {
	asOf := mdtest.Date(t, "2024-05-31")
	e := newEngine(t, thresholds(), priceFrame(t, "AAPL", asOf, -0.10, 75, 100))

	eval, err := e.Explain(context.Background(), "aapl", asOf, held("AAPL"))
	require.NoError(t, err)
	assert.True(t, eval.CrashTriggered)
	assert.True(t, eval.DrawdownTriggered)

	_, err = e.Explain(context.Background(), "MSFT", asOf, held("AAPL"))
	assert.ErrorIs(t, err, ErrSymbolNotEvaluated)
}

type recordingSink struct {
	saved []*Result
}

func (s *recordingSink) SaveRisk(_ context.Context, r *Result) error {
	s.saved = append(s.saved, r)
	return nil
}

func TestBuild(t *testing.T) {
	asOf := mdtest.Date(t, "2024-05-31")
	e := newEngine(t, thresholds(), priceFrame(t, "AAPL", asOf, -0.10, 75, 100))
	sink := &recordingSink{}

	_, err := e.Build(context.Background(), asOf, held("AAPL"), true, sink)
	require.NoError(t, err)
	assert.Empty(t, sink.saved)

	result, err := e.Build(context.Background(), asOf, held("AAPL"), false, sink)
	require.NoError(t, err)
	require.Len(t, sink.saved, 1)
	assert.Same(t, result, sink.saved[0])
}

func TestNew_InvalidMarketFilter(t *testing.T) {
	source := marketdata.NewMemorySource()

	_, err := New(Config{MarketFilter: &MarketFilter{Benchmark: "SPY", Rule: "close >> 1"}}, source, nil)
	assert.ErrorIs(t, err, rules.ErrUnsupportedSyntax)

	_, err = New(Config{MarketFilter: &MarketFilter{Benchmark: " ", Rule: "close > 1"}}, source, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(Config{}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestEvaluate_RejectsDuplicateHoldings(t *testing.T) {
	e := newEngine(t, thresholds())
	_, err := e.Evaluate(context.Background(), time.Now(), held("AAPL", "aapl"))
	assert.ErrorIs(t, err, contracts.ErrInvalidHoldings)
}
