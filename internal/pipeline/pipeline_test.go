package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/tradeflow/internal/contracts"
	"github.com/wonny/tradeflow/internal/marketdata"
	"github.com/wonny/tradeflow/internal/marketdata/mdtest"
	"github.com/wonny/tradeflow/internal/rebalance"
	"github.com/wonny/tradeflow/internal/risk"
	"github.com/wonny/tradeflow/internal/strategy"
	"github.com/wonny/tradeflow/pkg/logger"
)

const rows = 70

var errSinkDown = errors.New("sink down")

type failingSink struct{}

func (failingSink) SaveSignals(context.Context, *strategy.Result) error { return errSinkDown }

type recordingObserver struct {
	steps []string
}

func (o *recordingObserver) ObserveStep(pipeline, step string, status StepStatus, _ time.Duration) {
	o.steps = append(o.steps, pipeline+"/"+step+"/"+string(status))
}

// benchmark builds SPY with a fixed close and sma_200
func benchmark(t *testing.T, asOf time.Time, closePx, sma float64) marketdata.Frame {
	return mdtest.Frame(t, "SPY", asOf, map[string][]float64{
		marketdata.ColClose:  mdtest.Const(rows, closePx),
		marketdata.ColSMA200: mdtest.Const(rows, sma),
	})
}

func newPipeline(t *testing.T, asOf time.Time, spy marketdata.Frame, sinks Sinks, observer Observer) *Pipeline {
	t.Helper()
	source := marketdata.NewMemorySource(
		mdtest.Flat(t, "AAPL", asOf, rows, 100),
		mdtest.Flat(t, "NVDA", asOf, rows, 50),
		spy,
	)

	strat, err := strategy.New(strategy.Config{
		Entry:    "close >= sma_100",
		Exit:     "close < 0",
		Universe: []string{"AAPL", "NVDA"},
	}, source, logger.Nop())
	require.NoError(t, err)

	riskEngine, err := risk.New(risk.Config{
		CrashThreshold:    -0.08,
		DrawdownThreshold: -0.20,
		MarketFilter:      &risk.MarketFilter{Benchmark: "SPY", Rule: "close > sma_200"},
	}, source, logger.Nop())
	require.NoError(t, err)

	equal := true
	rebal, err := rebalance.New(rebalance.Config{
		Cadence:      "monthly",
		MaxPositions: 3,
		EqualWeight:  &equal,
		MinWeight:    0.1,
		CashBuffer:   0.1,
	}, rebalance.SourcePrices{Source: source}, logger.Nop())
	require.NoError(t, err)

	return New(strat, riskEngine, rebal, sinks, observer, logger.Nop())
}

func holdings() contracts.HoldingsSnapshot {
	cash := 1000.0
	return contracts.HoldingsSnapshot{
		Positions: []contracts.Position{{Symbol: "AAPL", Qty: 10}},
		Cash:      &cash,
		BaseCcy:   "USD",
	}
}

func TestRunDaily_SignalsThenRisk(t *testing.T) {
	asOf := mdtest.Date(t, "2024-05-31")
	observer := &recordingObserver{}
	p := newPipeline(t, asOf, benchmark(t, asOf, 110, 100), Sinks{}, observer)

	summary, err := p.RunDaily(context.Background(), Options{AsOf: asOf, Holdings: holdings(), DryRun: true})
	require.NoError(t, err)

	assert.True(t, summary.Success)
	assert.Equal(t, NameDaily, summary.Pipeline)
	assert.NotEmpty(t, summary.RunID)
	require.Len(t, summary.Steps, 2)
	assert.Equal(t, StepSignals, summary.Steps[0].Name)
	assert.Equal(t, "records=2 entries=2 exits=0", summary.Steps[0].Details)
	assert.Equal(t, StepRisk, summary.Steps[1].Name)
	assert.Equal(t, "alerts=0 market_state=RISK_ON", summary.Steps[1].Details)
	assert.Nil(t, summary.Rebalance)

	assert.Equal(t, []string{"daily/signals/completed", "daily/risk/completed"}, observer.steps)
}

func TestRunRebalance_RiskOnAllocatesEntries(t *testing.T) {
	asOf := mdtest.Date(t, "2024-05-31")
	p := newPipeline(t, asOf, benchmark(t, asOf, 110, 100), Sinks{}, nil)

	summary, err := p.RunRebalance(context.Background(), Options{AsOf: asOf, Holdings: holdings(), DryRun: true})
	require.NoError(t, err)

	require.Len(t, summary.Steps, 3)
	step, ok := summary.Step(StepRebalance)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, step.Status)

	require.NotNil(t, summary.Rebalance)
	assert.Equal(t, contracts.StatusRebalance, summary.Rebalance.Status)
	_, ok = summary.Rebalance.Target("NVDA")
	assert.True(t, ok)
	for _, note := range summary.Rebalance.Notes {
		assert.NotContains(t, note, "RISK_OFF")
	}
}

func TestRunRebalance_RiskOffWithholdsNewEntries(t *testing.T) {
	asOf := mdtest.Date(t, "2024-05-31")
	p := newPipeline(t, asOf, benchmark(t, asOf, 90, 100), Sinks{}, nil)

	summary, err := p.RunRebalance(context.Background(), Options{AsOf: asOf, Holdings: holdings(), DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, risk.RiskOff, summary.Risk.MarketState)
	_, ok := summary.Rebalance.Target("NVDA")
	assert.False(t, ok)
	_, ok = summary.Rebalance.Target("AAPL")
	assert.True(t, ok)
	assert.Contains(t, summary.Rebalance.Notes, "Market filter RISK_OFF withheld 1 new entries")
}

type rebalanceRecorder struct {
	saved []contracts.RebalanceResult
}

func (r *rebalanceRecorder) SaveRebalance(_ context.Context, result *contracts.RebalanceResult) error {
	r.saved = append(r.saved, *result)
	return nil
}

func TestRunRebalance_RiskOffNotePersisted(t *testing.T) {
	asOf := mdtest.Date(t, "2024-05-31")
	recorder := &rebalanceRecorder{}
	p := newPipeline(t, asOf, benchmark(t, asOf, 90, 100), Sinks{Rebalance: recorder}, nil)

	summary, err := p.RunRebalance(context.Background(), Options{AsOf: asOf, Holdings: holdings()})
	require.NoError(t, err)

	require.Len(t, recorder.saved, 1)
	assert.Contains(t, recorder.saved[0].Notes, "Market filter RISK_OFF withheld 1 new entries")
	assert.Equal(t, summary.Rebalance.Notes, recorder.saved[0].Notes)
}

func TestRun_StepFailureReturnsExecutionError(t *testing.T) {
	asOf := mdtest.Date(t, "2024-05-31")
	observer := &recordingObserver{}
	p := newPipeline(t, asOf, benchmark(t, asOf, 110, 100), Sinks{Signals: failingSink{}}, observer)

	summary, err := p.RunRebalance(context.Background(), Options{AsOf: asOf, Holdings: holdings()})
	require.Error(t, err)

	var execErr *ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, StepSignals, execErr.Step)
	assert.ErrorIs(t, err, errSinkDown)
	assert.Same(t, summary, execErr.Summary)

	assert.False(t, summary.Success)
	require.Len(t, summary.Steps, 1)
	assert.Equal(t, StatusFailed, summary.Steps[0].Status)
	assert.Equal(t, []string{"rebalance/signals/failed"}, observer.steps)
}

func TestRun_DryRunSkipsSinks(t *testing.T) {
	asOf := mdtest.Date(t, "2024-05-31")
	p := newPipeline(t, asOf, benchmark(t, asOf, 110, 100), Sinks{Signals: failingSink{}}, nil)

	summary, err := p.RunDaily(context.Background(), Options{AsOf: asOf, Holdings: holdings(), DryRun: true})
	require.NoError(t, err)
	assert.True(t, summary.Success)
}

func TestWithholdEntries(t *testing.T) {
	table := contracts.SignalTable{
		{Symbol: "AAPL", Signal: contracts.SignalBuy},
		{Symbol: "NVDA", Signal: contracts.SignalBuy},
		{Symbol: "TSLA", Signal: contracts.SignalHold},
		{Symbol: "MSFT", Signal: contracts.SignalExit},
	}

	kept, withheld := withholdEntries(table, holdings())

	assert.Equal(t, 2, withheld)
	assert.Equal(t, []string{"AAPL", "MSFT"}, kept.Symbols())
}
