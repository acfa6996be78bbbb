package store

import (
	"context"
	"errors"

	"github.com/wonny/tradeflow/internal/backtest"
	"github.com/wonny/tradeflow/internal/contracts"
	"github.com/wonny/tradeflow/internal/pipeline"
	"github.com/wonny/tradeflow/internal/rebalance"
	"github.com/wonny/tradeflow/internal/risk"
	"github.com/wonny/tradeflow/internal/strategy"
)

// Sink is a destination for every kind of result
type Sink interface {
	strategy.Sink
	risk.Sink
	rebalance.Sink
	backtest.ArtifactSink
}

// MultiSink fans results out to several sinks in order
//
// Every sink is attempted; the errors are joined.
type MultiSink []Sink

// NewMultiSink drops nil sinks
func NewMultiSink(sinks ...Sink) MultiSink {
	out := make(MultiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m MultiSink) SaveSignals(ctx context.Context, result *strategy.Result) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.SaveSignals(ctx, result))
	}
	return errors.Join(errs...)
}

func (m MultiSink) SaveRisk(ctx context.Context, result *risk.Result) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.SaveRisk(ctx, result))
	}
	return errors.Join(errs...)
}

func (m MultiSink) SaveRebalance(ctx context.Context, result *contracts.RebalanceResult) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.SaveRebalance(ctx, result))
	}
	return errors.Join(errs...)
}

// SaveBacktest merges the manifests; later sinks win on key clashes
func (m MultiSink) SaveBacktest(ctx context.Context, result *backtest.Result) (map[string]string, error) {
	merged := map[string]string{}
	var errs []error
	for _, s := range m {
		manifest, err := s.SaveBacktest(ctx, result)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for k, v := range manifest {
			merged[k] = v
		}
	}
	return merged, errors.Join(errs...)
}

// Sinks adapts the fan-out to the pipeline's sink set
func (m MultiSink) Sinks() pipeline.Sinks {
	if len(m) == 0 {
		return pipeline.Sinks{}
	}
	return pipeline.Sinks{Signals: m, Risk: m, Rebalance: m}
}
