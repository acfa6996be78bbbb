package strategy

import (
	"context"
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/tradeflow/internal/contracts"
	"github.com/wonny/tradeflow/internal/marketdata"
	"github.com/wonny/tradeflow/internal/marketdata/mdtest"
	"github.com/wonny/tradeflow/internal/rules"
	"github.com/wonny/tradeflow/pkg/logger"
)

func newEngine(t *testing.T, cfg Config, frames ...marketdata.Frame) *Engine {
	t.Helper()
	e, err := New(cfg, marketdata.NewMemorySource(frames...), logger.Nop())
	require.NoError(t, err)
	return e
}

func trendConfig(universe ...string) Config {
	return Config{
		Entry:    "close > sma_100",
		Exit:     "close < sma_100",
		Rank:     RankMomentum63D,
		Universe: universe,
	}
}

func TestEvaluate_RisingCloseAboveFlatSMAIsBuy(t *testing.T) {
	asOf := mdtest.Date(t, "2024-05-31")
	frame := mdtest.Frame(t, "AAPL", asOf, map[string][]float64{
		marketdata.ColClose:  mdtest.Ramp(10, 101, 1),
		marketdata.ColSMA100: mdtest.Const(10, 100),
	})
	e := newEngine(t, trendConfig("aapl"), frame)

	result, err := e.Evaluate(context.Background(), asOf, 0)
	require.NoError(t, err)

	eval := result.Evaluations["AAPL"]
	assert.Equal(t, contracts.SignalBuy, eval.Signal)
	assert.True(t, eval.EntryRule)
	assert.False(t, eval.ExitRule)
	assert.Equal(t, 1, result.EntryCount)
	assert.Zero(t, result.ExitCount)
	assert.True(t, math.IsInf(eval.RankScore, -1), "fewer than 64 rows: momentum undefined")
	assert.Equal(t, 110.0, eval.Indicators[marketdata.ColClose])
	assert.NotContains(t, eval.Indicators, marketdata.ColSMA200)
}

func TestEvaluate_ExitTakesPrecedence(t *testing.T) {
	asOf := mdtest.Date(t, "2024-05-31")
	frame := mdtest.Frame(t, "X", asOf, map[string][]float64{
		marketdata.ColClose: mdtest.Const(3, 10),
	})
	cfg := Config{Entry: "close > 5", Exit: "close > 8", Universe: []string{"X"}}
	e := newEngine(t, cfg, frame)

	result, err := e.Evaluate(context.Background(), asOf, 0)
	require.NoError(t, err)

	eval := result.Evaluations["X"]
	assert.Equal(t, contracts.SignalExit, eval.Signal)
	assert.True(t, eval.EntryRule)
	assert.True(t, eval.ExitRule)
	assert.Equal(t, 1, result.EntryCount)
	assert.Equal(t, 1, result.ExitCount)
}

func TestEvaluate_NaNRuleResolvesFalse(t *testing.T) {
	asOf := mdtest.Date(t, "2024-05-31")
	frame := mdtest.Frame(t, "X", asOf, map[string][]float64{
		marketdata.ColClose:  {10, 11},
		marketdata.ColSMA100: {9, math.NaN()},
	})
	e := newEngine(t, trendConfig("X"), frame)

	result, err := e.Evaluate(context.Background(), asOf, 0)
	require.NoError(t, err)
	assert.Equal(t, contracts.SignalHold, result.Evaluations["X"].Signal)
}

func TestEvaluate_SkipsMissingAndSortsByRank(t *testing.T) {
	asOf := mdtest.Date(t, "2024-05-31")
	n := 70
	fast := mdtest.Frame(t, "FAST", asOf, map[string][]float64{marketdata.ColClose: mdtest.Ramp(n, 100, 2)})
	slow := mdtest.Frame(t, "SLOW", asOf, map[string][]float64{marketdata.ColClose: mdtest.Ramp(n, 100, 1)})
	tieA := mdtest.Frame(t, "TIEA", asOf, map[string][]float64{marketdata.ColClose: mdtest.Ramp(n, 100, 1)})
	short := mdtest.Frame(t, "SHORT", asOf, map[string][]float64{marketdata.ColClose: mdtest.Ramp(5, 100, 1)})

	cfg := Config{Entry: "close > 0", Exit: "close < 0", Universe: []string{"slow", "fast", "missing", "short", "tiea"}}
	e := newEngine(t, cfg, fast, slow, tieA, short)

	result, err := e.Evaluate(context.Background(), asOf, 0)
	require.NoError(t, err)

	assert.Equal(t, []string{"FAST", "SLOW", "TIEA", "SHORT"}, result.Symbols())
	assert.NotContains(t, result.Evaluations, "MISSING")

	// close[69]/close[6] - 1
	want := (100 + 69*2.0) / (100 + 6*2.0)
	assert.InDelta(t, want-1, result.Evaluations["FAST"].RankScore, 1e-12)
	assert.InDelta(t, want-1, result.Evaluations["FAST"].Features[RankMomentum63D], 1e-12)
	assert.True(t, math.IsNaN(result.Evaluations["SHORT"].Features[RankMomentum63D]))
	for _, row := range result.Rows {
		assert.Equal(t, asOf, row.Date)
	}
}

func TestEvaluate_WindowTruncatesBeforeRanking(t *testing.T) {
	asOf := mdtest.Date(t, "2024-05-31")
	frame := mdtest.Frame(t, "X", asOf, map[string][]float64{marketdata.ColClose: mdtest.Ramp(100, 1, 1)})
	e := newEngine(t, Config{Entry: "close > 0", Exit: "close < 0", Universe: []string{"X"}}, frame)

	full, err := e.Evaluate(context.Background(), asOf, 0)
	require.NoError(t, err)
	assert.False(t, math.IsInf(full.Evaluations["X"].RankScore, -1))

	truncated, err := e.Evaluate(context.Background(), asOf, 63)
	require.NoError(t, err)
	assert.True(t, math.IsInf(truncated.Evaluations["X"].RankScore, -1), "63 rows cannot cover a 63-row lag")
}

func TestEvaluate_ColumnRankMetric(t *testing.T) {
	asOf := mdtest.Date(t, "2024-05-31")
	a := mdtest.Frame(t, "A", asOf, map[string][]float64{marketdata.ColClose: {1, 1}, marketdata.ColRet20D: {0.3, 0.1}})
	b := mdtest.Frame(t, "B", asOf, map[string][]float64{marketdata.ColClose: {1, 1}, marketdata.ColRet20D: {0.1, 0.2}})

	e := newEngine(t, Config{Entry: "close > 0", Exit: "close < 0", Rank: "ret_20d", Universe: []string{"A", "B"}}, a, b)
	result, err := e.Evaluate(context.Background(), asOf, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "A"}, result.Symbols())

	bad := newEngine(t, Config{Entry: "close > 0", Exit: "close < 0", Rank: "alpha", Universe: []string{"A"}}, a)
	_, err = bad.Evaluate(context.Background(), asOf, 0)
	assert.ErrorIs(t, err, ErrUnsupportedRankMetric)
}

func TestNew_RejectsBadRules(t *testing.T) {
	src := marketdata.NewMemorySource()

	_, err := New(Config{Entry: "", Exit: "close < 1"}, src, nil)
	assert.ErrorIs(t, err, rules.ErrEmptyExpression)

	_, err = New(Config{Entry: "close > 1", Exit: "close.rolling(5)"}, src, nil)
	assert.ErrorIs(t, err, rules.ErrUnsupportedSyntax)
}

func TestEvaluate_UnknownIdentifierIsAnError(t *testing.T) {
	asOf := mdtest.Date(t, "2024-05-31")
	frame := mdtest.Frame(t, "X", asOf, map[string][]float64{marketdata.ColClose: {1}})
	e := newEngine(t, Config{Entry: "close > sma_999", Exit: "close < 0", Universe: []string{"X"}}, frame)

	_, err := e.Evaluate(context.Background(), asOf, 0)
	assert.ErrorIs(t, err, rules.ErrUnknownIdentifier)
}

func TestEvaluate_Idempotent(t *testing.T) {
	asOf := mdtest.Date(t, "2024-05-31")
	frames := []marketdata.Frame{
		mdtest.Flat(t, "A", asOf, 80, 50),
		mdtest.Frame(t, "B", asOf, map[string][]float64{
			marketdata.ColClose:  mdtest.Ramp(80, 10, 0.5),
			marketdata.ColSMA100: mdtest.Const(80, 20),
		}),
	}
	e := newEngine(t, trendConfig("A", "B"), frames...)

	first, err := e.Evaluate(context.Background(), asOf, 0)
	require.NoError(t, err)
	second, err := e.Evaluate(context.Background(), asOf, 0)
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestExplain(t *testing.T) {
	asOf := mdtest.Date(t, "2024-05-31")
	e := newEngine(t, trendConfig("A"), mdtest.Flat(t, "A", asOf, 5, 10))

	eval, err := e.Explain(context.Background(), "a", asOf, 0)
	require.NoError(t, err)
	assert.Equal(t, contracts.SignalHold, eval.Signal)

	_, err = e.Explain(context.Background(), "ZZZ", asOf, 0)
	assert.ErrorIs(t, err, ErrSymbolNotEvaluated)
}

type recordingSink struct {
	saved []*Result
}

func (s *recordingSink) SaveSignals(_ context.Context, r *Result) error {
	s.saved = append(s.saved, r)
	return nil
}

func TestBuild_DryRunSkipsSink(t *testing.T) {
	asOf := mdtest.Date(t, "2024-05-31")
	e := newEngine(t, trendConfig("A"), mdtest.Flat(t, "A", asOf, 5, 10))
	sink := &recordingSink{}

	_, err := e.Build(context.Background(), asOf, 0, true, sink)
	require.NoError(t, err)
	assert.Empty(t, sink.saved)

	_, err = e.Build(context.Background(), asOf, 0, false, sink)
	require.NoError(t, err)
	assert.Len(t, sink.saved, 1)
}
