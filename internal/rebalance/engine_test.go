package rebalance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/tradeflow/internal/contracts"
	"github.com/wonny/tradeflow/internal/marketdata/mdtest"
	"github.com/wonny/tradeflow/pkg/logger"
)

func boolPtr(v bool) *bool        { return &v }
func floatPtr(v float64) *float64 { return &v }

func newEngine(t *testing.T, cfg Config, prices StaticPrices) *Engine {
	t.Helper()
	e, err := New(cfg, prices, logger.Nop())
	require.NoError(t, err)
	return e
}

func monthly() Config {
	return Config{
		Cadence:      "monthly",
		MaxPositions: 3,
		EqualWeight:  boolPtr(true),
		MinWeight:    0.1,
		CashBuffer:   0.1,
		TurnoverCap:  floatPtr(0.40),
	}
}

func holdings(cash float64, positions ...contracts.Position) contracts.HoldingsSnapshot {
	return contracts.HoldingsSnapshot{Positions: positions, Cash: &cash, BaseCcy: "USD"}
}

func signals(asOf time.Time, rows ...contracts.SignalRow) contracts.SignalTable {
	out := make(contracts.SignalTable, len(rows))
	for i, row := range rows {
		row.Date = asOf
		out[i] = row
	}
	return out
}

func sig(symbol string, s contracts.Signal, score float64) contracts.SignalRow {
	return contracts.SignalRow{Symbol: symbol, Signal: s, RankScore: score}
}

func TestEvaluate_TargetsAndOrders(t *testing.T) {
	asOf := mdtest.Date(t, "2024-05-31")
	e := newEngine(t, monthly(), StaticPrices{"AAPL": 150, "MSFT": 200, "NVDA": 300})

	result, err := e.Evaluate(context.Background(), asOf,
		holdings(1000,
			contracts.Position{Symbol: "AAPL", Qty: 10},
			contracts.Position{Symbol: "MSFT", Qty: 5},
		),
		signals(asOf,
			sig("AAPL", contracts.SignalHold, 0.6),
			sig("MSFT", contracts.SignalExit, 0.2),
			sig("NVDA", contracts.SignalBuy, 0.9),
		), false)
	require.NoError(t, err)

	assert.Equal(t, contracts.StatusRebalance, result.Status)
	aapl, _ := result.Target("AAPL")
	nvda, _ := result.Target("NVDA")
	msft, ok := result.Target("MSFT")
	assert.InDelta(t, 0.45, aapl.TargetWeight, 1e-9)
	assert.InDelta(t, 0.45, nvda.TargetWeight, 1e-9)
	require.True(t, ok)
	assert.Zero(t, msft.TargetWeight)
	assert.Equal(t, "Exit signal triggered", msft.Rationale)
	assert.Equal(t, "BUY signal", nvda.Rationale)
	assert.Equal(t, "Maintain position", aapl.Rationale)

	sell, _ := result.Order("MSFT")
	buy, _ := result.Order("NVDA")
	assert.Equal(t, contracts.SideSell, sell.Side)
	assert.Equal(t, 5.0, sell.Quantity)
	assert.Equal(t, contracts.SideBuy, buy.Side)
	assert.LessOrEqual(t, result.Turnover, 0.400001)
	assert.LessOrEqual(t, result.TotalWeight(), 0.9+1e-9)

	// orders are sorted by symbol, targets by weight desc then symbol
	assert.Equal(t, "AAPL", result.Orders[0].Symbol)
	assert.Equal(t, "AAPL", result.Targets[0].Symbol)
	assert.Equal(t, "MSFT", result.Targets[len(result.Targets)-1].Symbol)
}

func TestEvaluate_CadenceNotMet(t *testing.T) {
	asOf := mdtest.Date(t, "2024-05-30")
	e := newEngine(t, monthly(), StaticPrices{"AAPL": 100})

	result, err := e.Evaluate(context.Background(), asOf, holdings(0),
		signals(asOf, sig("AAPL", contracts.SignalHold, 0.5)), false)
	require.NoError(t, err)

	assert.Equal(t, contracts.StatusNoRebalance, result.Status)
	assert.Empty(t, result.Orders)
	assert.Empty(t, result.Targets)
	require.NotEmpty(t, result.Notes)
	assert.Equal(t, "Cadence monthly not met on 2024-05-30", result.Notes[0])
}

func TestEvaluate_ForceBypassesCadence(t *testing.T) {
	asOf := mdtest.Date(t, "2024-05-30")
	cfg := monthly()
	cfg.TurnoverCap = nil
	e := newEngine(t, cfg, StaticPrices{"AAPL": 100})

	result, err := e.Evaluate(context.Background(), asOf, holdings(1000),
		signals(asOf, sig("AAPL", contracts.SignalBuy, 0.5)), true)
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusRebalance, result.Status)
}

func TestEvaluate_HeldExitSellsFullPosition(t *testing.T) {
	asOf := mdtest.Date(t, "2024-05-31")
	cfg := monthly()
	cfg.TurnoverCap = nil
	e := newEngine(t, cfg, StaticPrices{"AAPL": 150})

	result, err := e.Evaluate(context.Background(), asOf,
		holdings(1000, contracts.Position{Symbol: "AAPL", Qty: 10}),
		signals(asOf, sig("AAPL", contracts.SignalExit, 0.1)), false)
	require.NoError(t, err)

	assert.Equal(t, contracts.StatusRebalance, result.Status)
	require.Len(t, result.Targets, 1)
	assert.Equal(t, contracts.RebalanceTarget{Symbol: "AAPL", TargetWeight: 0, Rationale: "Exit signal triggered"}, result.Targets[0])
	require.Len(t, result.Orders, 1)
	assert.Equal(t, contracts.RebalanceOrder{Symbol: "AAPL", Side: contracts.SideSell, Quantity: 10, Notional: 1500}, result.Orders[0])
	assert.InDelta(t, 0.3, result.Turnover, 1e-9)
	assert.Contains(t, result.Notes, "No candidates selected for allocation")
}

func TestEvaluate_EqualRankSplitsAvailableWeight(t *testing.T) {
	asOf := mdtest.Date(t, "2024-05-31")
	cfg := monthly()
	cfg.CashBuffer = 0.05
	cfg.MinWeight = 0
	cfg.TurnoverCap = nil
	e := newEngine(t, cfg, StaticPrices{"AAPL": 100, "MSFT": 50})

	result, err := e.Evaluate(context.Background(), asOf, holdings(10000),
		signals(asOf,
			sig("MSFT", contracts.SignalBuy, 0.5),
			sig("AAPL", contracts.SignalBuy, 0.5),
		), false)
	require.NoError(t, err)

	require.Len(t, result.Targets, 2)
	assert.Equal(t, "AAPL", result.Targets[0].Symbol)
	assert.InDelta(t, 0.475, result.Targets[0].TargetWeight, 1e-12)
	assert.InDelta(t, 0.475, result.Targets[1].TargetWeight, 1e-12)

	aapl, _ := result.Order("AAPL")
	assert.Equal(t, 47.5, aapl.Quantity)
	assert.Equal(t, 4750.0, aapl.Notional)
	assert.Equal(t, 0.05, result.CashBuffer)
	assert.Contains(t, result.Notes, "Selected 2 symbols with equal-weight allocation")
}

func TestEvaluate_ScoreWeights(t *testing.T) {
	asOf := mdtest.Date(t, "2024-05-31")
	cfg := monthly()
	cfg.EqualWeight = boolPtr(false)
	cfg.MinWeight = 0
	cfg.TurnoverCap = nil
	e := newEngine(t, cfg, StaticPrices{"AAPL": 100, "NVDA": 100, "TSLA": 100})

	result, err := e.Evaluate(context.Background(), asOf, holdings(10000),
		signals(asOf,
			sig("AAPL", contracts.SignalBuy, 0.3),
			sig("NVDA", contracts.SignalBuy, 0.9),
			sig("TSLA", contracts.SignalBuy, -0.2),
		), false)
	require.NoError(t, err)

	require.Len(t, result.Targets, 2, "non-positive score for a new symbol is skipped")
	nvda, _ := result.Target("NVDA")
	aapl, _ := result.Target("AAPL")
	assert.InDelta(t, 0.675, nvda.TargetWeight, 1e-12)
	assert.InDelta(t, 0.225, aapl.TargetWeight, 1e-12)
	assert.Contains(t, result.Notes, "Selected 2 symbols with score-weight allocation")
}

func TestEvaluate_MinWeightCapsSlots(t *testing.T) {
	asOf := mdtest.Date(t, "2024-05-31")
	cfg := monthly()
	cfg.MinWeight = 0.4
	cfg.TurnoverCap = nil
	e := newEngine(t, cfg, StaticPrices{"A": 10, "B": 10, "C": 10})

	result, err := e.Evaluate(context.Background(), asOf, holdings(1000),
		signals(asOf,
			sig("A", contracts.SignalBuy, 3),
			sig("B", contracts.SignalBuy, 2),
			sig("C", contracts.SignalBuy, 1),
		), false)
	require.NoError(t, err)

	require.Len(t, result.Targets, 2)
	for _, target := range result.Targets {
		assert.GreaterOrEqual(t, target.TargetWeight, 0.4)
	}
	_, hasC := result.Target("C")
	assert.False(t, hasC, "lowest rank is dropped first")
}

func TestEvaluate_NoCapacity(t *testing.T) {
	asOf := mdtest.Date(t, "2024-05-31")
	cfg := monthly()
	cfg.CashBuffer = 0.6
	cfg.MinWeight = 0.5
	e := newEngine(t, cfg, StaticPrices{"MSFT": 200, "AAPL": 100})

	result, err := e.Evaluate(context.Background(), asOf,
		holdings(0, contracts.Position{Symbol: "MSFT", Qty: 5}),
		signals(asOf,
			sig("MSFT", contracts.SignalExit, 0),
			sig("AAPL", contracts.SignalBuy, 1),
		), false)
	require.NoError(t, err)

	assert.Equal(t, contracts.StatusNoCapacity, result.Status)
	assert.Empty(t, result.Targets)
	assert.Zero(t, result.Turnover)
	assert.Equal(t, []contracts.RebalanceOrder{
		{Symbol: "MSFT", Side: contracts.SideSell, Quantity: 5, Notional: 1000},
	}, result.Orders)
	assert.Equal(t, []string{"Cash buffer and min_weight configuration leave no capacity for targets"}, result.Notes)
}

func TestEvaluate_TurnoverCapDropsNewPositions(t *testing.T) {
	asOf := mdtest.Date(t, "2024-05-31")
	e := newEngine(t, Config{
		Cadence:      "monthly",
		MaxPositions: 2,
		EqualWeight:  boolPtr(false),
		MinWeight:    0.05,
		CashBuffer:   0.1,
		TurnoverCap:  floatPtr(0.05),
	}, StaticPrices{"AAPL": 100, "NVDA": 300})

	result, err := e.Evaluate(context.Background(), asOf,
		holdings(0, contracts.Position{Symbol: "AAPL", Qty: 10}),
		signals(asOf,
			sig("AAPL", contracts.SignalHold, 0.2),
			sig("NVDA", contracts.SignalBuy, 0.9),
		), false)
	require.NoError(t, err)

	assert.Equal(t, contracts.StatusRebalance, result.Status)
	assert.LessOrEqual(t, result.Turnover, 0.050001)
	require.Len(t, result.Targets, 1)
	assert.Equal(t, "AAPL", result.Targets[0].Symbol)
	assert.Contains(t, result.Notes, "Removed NVDA to satisfy turnover cap 0.0500")
	assert.Contains(t, result.Notes, "Turnover adjusted to 0.0500 within cap 0.0500")
}

func TestEvaluate_TurnoverLimit(t *testing.T) {
	asOf := mdtest.Date(t, "2024-05-31")
	cfg := monthly()
	cfg.TurnoverCap = floatPtr(0.01)
	e := newEngine(t, cfg, StaticPrices{"AAPL": 100})

	result, err := e.Evaluate(context.Background(), asOf,
		holdings(1000, contracts.Position{Symbol: "AAPL", Qty: 10}),
		signals(asOf, sig("AAPL", contracts.SignalHold, 0.5)), false)
	require.NoError(t, err)

	assert.Equal(t, contracts.StatusTurnoverLimit, result.Status)
	assert.Empty(t, result.Targets)
	assert.Empty(t, result.Orders)
	assert.Zero(t, result.Turnover)
	assert.Contains(t, result.Notes, "Turnover cap 0.0100 prevented adjustments")
}

func TestEvaluate_NoSignals(t *testing.T) {
	asOf := mdtest.Date(t, "2024-05-31")
	e := newEngine(t, monthly(), StaticPrices{})

	result, err := e.Evaluate(context.Background(), asOf, holdings(1000), nil, false)
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusNoCandidates, result.Status)
	assert.Equal(t, []string{"No signals available for rebalance date"}, result.Notes)

	// rows for another date do not count
	stale := signals(asOf.AddDate(0, 0, -1), sig("AAPL", contracts.SignalBuy, 1))
	result, err = e.Evaluate(context.Background(), asOf, holdings(1000), stale, false)
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusNoCandidates, result.Status)
}

func TestEvaluate_PriceErrors(t *testing.T) {
	asOf := mdtest.Date(t, "2024-05-31")
	e := newEngine(t, monthly(), StaticPrices{"AAPL": 100})

	// unpriced signal-only symbol is excluded
	result, err := e.Evaluate(context.Background(), asOf, holdings(1000),
		signals(asOf,
			sig("AAPL", contracts.SignalBuy, 1),
			sig("ZZZ", contracts.SignalBuy, 2),
		), false)
	require.NoError(t, err)
	_, ok := result.Target("ZZZ")
	assert.False(t, ok)

	// unpriced holding is an error
	_, err = e.Evaluate(context.Background(), asOf,
		holdings(1000, contracts.Position{Symbol: "MSFT", Qty: 1}),
		signals(asOf, sig("AAPL", contracts.SignalBuy, 1)), false)
	assert.ErrorIs(t, err, ErrMissingPrice)

	_, err = e.Evaluate(context.Background(), asOf, holdings(0),
		signals(asOf, sig("AAPL", contracts.SignalBuy, 1)), false)
	assert.ErrorIs(t, err, ErrNonPositiveValue)
}

func TestEvaluate_Idempotent(t *testing.T) {
	asOf := mdtest.Date(t, "2024-05-31")
	e := newEngine(t, monthly(), StaticPrices{"AAPL": 150, "MSFT": 200, "NVDA": 300})
	h := holdings(1000, contracts.Position{Symbol: "AAPL", Qty: 10})
	s := signals(asOf,
		sig("AAPL", contracts.SignalHold, 0.6),
		sig("NVDA", contracts.SignalBuy, 0.9),
	)

	first, err := e.Evaluate(context.Background(), asOf, h, s, false)
	require.NoError(t, err)
	second, err := e.Evaluate(context.Background(), asOf, h, s, false)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 10.0, h.Positions[0].Qty)
}

func TestEvaluate_IdempotentManyHoldings(t *testing.T) {
	asOf := mdtest.Date(t, "2024-05-31")
	cfg := monthly()
	cfg.MaxPositions = 12
	cfg.MinWeight = 0.01
	cfg.TurnoverCap = nil

	prices := StaticPrices{}
	positions := make([]contracts.Position, 0, 12)
	rows := make([]contracts.SignalRow, 0, 12)
	for i, sym := range []string{"AAPL", "AMZN", "AVGO", "COST", "GOOG", "JPM", "LLY", "META", "MSFT", "NVDA", "TSLA", "XOM"} {
		prices[sym] = 37.13 + float64(i)*13.37
		positions = append(positions, contracts.Position{Symbol: sym, Qty: 3.7 + float64(i)*1.11})
		rows = append(rows, sig(sym, contracts.SignalHold, 0.1+float64(i)*0.07))
	}
	e := newEngine(t, cfg, prices)
	h := holdings(1234.56, positions...)
	s := signals(asOf, rows...)

	first, err := e.Evaluate(context.Background(), asOf, h, s, false)
	require.NoError(t, err)
	require.NotEmpty(t, first.Orders)

	for i := 0; i < 200; i++ {
		again, err := e.Evaluate(context.Background(), asOf, h, s, false)
		require.NoError(t, err)
		require.Equal(t, first, again, "rerun %d", i)
	}
}

func TestEvaluate_ScoreWeightsRespectMinWeight(t *testing.T) {
	asOf := mdtest.Date(t, "2024-05-31")
	cfg := monthly()
	cfg.EqualWeight = boolPtr(false)
	cfg.MinWeight = 0.2
	cfg.CashBuffer = 0
	cfg.TurnoverCap = nil
	e := newEngine(t, cfg, StaticPrices{"A": 100, "B": 100, "C": 100})

	// equal share 1/3 clears 0.2, but B and C's score weights do not
	result, err := e.Evaluate(context.Background(), asOf, holdings(10000),
		signals(asOf,
			sig("A", contracts.SignalBuy, 10),
			sig("B", contracts.SignalBuy, 2),
			sig("C", contracts.SignalBuy, 0.1),
		), false)
	require.NoError(t, err)

	assert.Equal(t, contracts.StatusRebalance, result.Status)
	assert.Equal(t, []string{
		"Removed C to satisfy min_weight=0.2000",
		"Removed B to satisfy min_weight=0.2000",
		"Selected 1 symbols with equal-weight allocation",
	}, result.Notes)
	require.Len(t, result.Targets, 1)
	a, _ := result.Target("A")
	assert.InDelta(t, 1.0, a.TargetWeight, 1e-12)

	for _, target := range result.Targets {
		if target.TargetWeight > 0 {
			assert.GreaterOrEqual(t, target.TargetWeight, cfg.MinWeight-weightEpsilon, target.Symbol)
		}
	}
}

func TestEvaluate_ScoreWeightsAboveMinWeightKept(t *testing.T) {
	asOf := mdtest.Date(t, "2024-05-31")
	cfg := monthly()
	cfg.EqualWeight = boolPtr(false)
	cfg.MinWeight = 0.2
	cfg.CashBuffer = 0
	cfg.TurnoverCap = nil
	e := newEngine(t, cfg, StaticPrices{"A": 100, "B": 100})

	result, err := e.Evaluate(context.Background(), asOf, holdings(10000),
		signals(asOf,
			sig("A", contracts.SignalBuy, 3),
			sig("B", contracts.SignalBuy, 1),
		), false)
	require.NoError(t, err)

	require.Len(t, result.Targets, 2)
	b, _ := result.Target("B")
	assert.InDelta(t, 0.25, b.TargetWeight, 1e-12)
	assert.Equal(t, []string{"Selected 2 symbols with score-weight allocation"}, result.Notes)
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"unknown cadence", func(c *Config) { c.Cadence = "daily" }, ErrUnsupportedCadence},
		{"empty cadence", func(c *Config) { c.Cadence = "" }, ErrUnsupportedCadence},
		{"cash buffer 1", func(c *Config) { c.CashBuffer = 1 }, ErrInvalidConfig},
		{"negative min weight", func(c *Config) { c.MinWeight = -0.1 }, ErrInvalidConfig},
		{"negative max positions", func(c *Config) { c.MaxPositions = -1 }, ErrInvalidConfig},
		{"negative turnover cap", func(c *Config) { c.TurnoverCap = floatPtr(-1) }, ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := monthly()
			tt.mutate(&cfg)
			_, err := New(cfg, StaticPrices{}, nil)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	e, err := New(Config{Cadence: " Weekly "}, StaticPrices{}, nil)
	require.NoError(t, err)
	assert.Equal(t, CadenceWeekly, e.Cadence())
}

type recordingSink struct {
	saved []*contracts.RebalanceResult
	err   error
}

func (s *recordingSink) SaveRebalance(_ context.Context, r *contracts.RebalanceResult) error {
	s.saved = append(s.saved, r)
	return s.err
}

func TestBuild_DryRunSkipsSink(t *testing.T) {
	asOf := mdtest.Date(t, "2024-05-30")
	e := newEngine(t, monthly(), StaticPrices{"AAPL": 100})
	s := signals(asOf, sig("AAPL", contracts.SignalBuy, 1))
	sink := &recordingSink{}

	dry, err := e.Build(context.Background(), asOf, holdings(1000), s, BuildOptions{DryRun: true, Force: true}, sink)
	require.NoError(t, err)
	assert.Empty(t, sink.saved)

	wet, err := e.Build(context.Background(), asOf, holdings(1000), s, BuildOptions{Force: true}, sink)
	require.NoError(t, err)
	require.Len(t, sink.saved, 1)
	assert.Equal(t, dry, wet)

	sink.err = errors.New("disk full")
	_, err = e.Build(context.Background(), asOf, holdings(1000), s, BuildOptions{Force: true}, sink)
	assert.ErrorContains(t, err, "disk full")
}

func TestIsRebalanceDay(t *testing.T) {
	tests := []struct {
		date    string
		cadence string
		want    bool
	}{
		{"2024-05-31", CadenceMonthly, true},
		{"2024-05-30", CadenceMonthly, false},
		{"2024-03-29", CadenceMonthly, true}, // 31st is a Sunday
		{"2024-08-30", CadenceMonthly, true},
		{"2024-08-31", CadenceMonthly, false}, // Saturday
		{"2024-05-24", CadenceWeekly, true},
		{"2024-05-23", CadenceWeekly, false},
		{"2024-05-24", "daily", false},
	}

	for _, tt := range tests {
		t.Run(tt.date+"/"+tt.cadence, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRebalanceDay(mdtest.Date(t, tt.date), tt.cadence))
		})
	}
}

func TestBuild_ExtraNotesReachSink(t *testing.T) {
	asOf := mdtest.Date(t, "2024-05-31")
	e := newEngine(t, monthly(), StaticPrices{"AAPL": 100})
	sink := &recordingSink{}

	result, err := e.Build(context.Background(), asOf, holdings(1000),
		signals(asOf, sig("AAPL", contracts.SignalBuy, 1)),
		BuildOptions{Notes: []string{"withheld 2"}}, sink)
	require.NoError(t, err)

	require.Len(t, sink.saved, 1)
	assert.Same(t, result, sink.saved[0])
	assert.Equal(t, "withheld 2", sink.saved[0].Notes[len(sink.saved[0].Notes)-1])
}
