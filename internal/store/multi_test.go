package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/tradeflow/internal/backtest"
	"github.com/wonny/tradeflow/internal/contracts"
	"github.com/wonny/tradeflow/internal/risk"
	"github.com/wonny/tradeflow/internal/strategy"
)

type fakeSink struct {
	name  string
	err   error
	calls []string
}

func (f *fakeSink) SaveSignals(context.Context, *strategy.Result) error {
	f.calls = append(f.calls, "signals")
	return f.err
}

func (f *fakeSink) SaveRisk(context.Context, *risk.Result) error {
	f.calls = append(f.calls, "risk")
	return f.err
}

func (f *fakeSink) SaveRebalance(context.Context, *contracts.RebalanceResult) error {
	f.calls = append(f.calls, "rebalance")
	return f.err
}

func (f *fakeSink) SaveBacktest(context.Context, *backtest.Result) (map[string]string, error) {
	f.calls = append(f.calls, "backtest")
	if f.err != nil {
		return nil, f.err
	}
	return map[string]string{f.name: "loc-" + f.name, "shared": f.name}, nil
}

func TestMultiSink_FansOutAndJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	a := &fakeSink{name: "a", err: boom}
	b := &fakeSink{name: "b"}
	m := NewMultiSink(a, nil, b)
	require.Len(t, m, 2)

	ctx := context.Background()
	err := m.SaveSignals(ctx, &strategy.Result{})
	assert.ErrorIs(t, err, boom)
	require.NoError(t, NewMultiSink(b).SaveRisk(ctx, &risk.Result{}))
	assert.ErrorIs(t, m.SaveRebalance(ctx, &contracts.RebalanceResult{}), boom)

	assert.Equal(t, []string{"signals", "rebalance"}, a.calls)
	assert.Equal(t, []string{"signals", "risk", "rebalance"}, b.calls)
}

func TestMultiSink_MergesManifests(t *testing.T) {
	m := NewMultiSink(&fakeSink{name: "a"}, &fakeSink{name: "b"})

	manifest, err := m.SaveBacktest(context.Background(), &backtest.Result{})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "loc-a", "b": "loc-b", "shared": "b"}, manifest)
}

func TestMultiSink_Sinks(t *testing.T) {
	assert.Nil(t, MultiSink{}.Sinks().Signals)

	sinks := NewMultiSink(&fakeSink{name: "a"}).Sinks()
	assert.NotNil(t, sinks.Signals)
	assert.NotNil(t, sinks.Risk)
	assert.NotNil(t, sinks.Rebalance)
}
