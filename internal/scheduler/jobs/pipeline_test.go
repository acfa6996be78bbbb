package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/tradeflow/internal/contracts"
	"github.com/wonny/tradeflow/internal/pipeline"
	"github.com/wonny/tradeflow/pkg/logger"
)

type fakeRunner struct {
	called string
	opts   pipeline.Options
	err    error
}

func (r *fakeRunner) run(name string, opts pipeline.Options) (*pipeline.Summary, error) {
	r.called = name
	r.opts = opts
	return &pipeline.Summary{RunID: "r1", Pipeline: name, AsOf: opts.AsOf, Success: r.err == nil}, r.err
}

func (r *fakeRunner) RunDaily(_ context.Context, opts pipeline.Options) (*pipeline.Summary, error) {
	return r.run(pipeline.NameDaily, opts)
}

func (r *fakeRunner) RunRebalance(_ context.Context, opts pipeline.Options) (*pipeline.Summary, error) {
	return r.run(pipeline.NameRebalance, opts)
}

func staticHoldings(context.Context) (contracts.HoldingsSnapshot, error) {
	return contracts.HoldingsSnapshot{Positions: []contracts.Position{{Symbol: "AAPL", Qty: 1}}}, nil
}

func TestNewPipelineJob_Validation(t *testing.T) {
	_, err := NewPipelineJob(PipelineJobConfig{Pipeline: "weekly", Schedule: "@daily"}, &fakeRunner{}, staticHoldings, nil, nil)
	assert.Error(t, err)

	_, err = NewPipelineJob(PipelineJobConfig{Pipeline: pipeline.NameDaily}, &fakeRunner{}, staticHoldings, nil, nil)
	assert.Error(t, err)

	_, err = NewPipelineJob(PipelineJobConfig{Pipeline: pipeline.NameDaily, Schedule: "@daily"}, nil, staticHoldings, nil, nil)
	assert.Error(t, err)
}

func TestPipelineJob_RunsRebalanceForLocalDate(t *testing.T) {
	seoul := time.FixedZone("KST", 9*3600)
	runner := &fakeRunner{}
	var recorded *pipeline.Summary

	job, err := NewPipelineJob(PipelineJobConfig{
		Pipeline: pipeline.NameRebalance,
		Schedule: "0 30 18 * * MON-FRI",
		Window:   126,
		Location: seoul,
	}, runner, staticHoldings, func(_ context.Context, s *pipeline.Summary) error {
		recorded = s
		return nil
	}, logger.Nop())
	require.NoError(t, err)
	// 2024-05-31 16:00 UTC = 2024-06-01 01:00 KST
	job.now = func() time.Time { return time.Date(2024, 5, 31, 16, 0, 0, 0, time.UTC) }

	assert.Equal(t, "pipeline_rebalance", job.Name())
	require.NoError(t, job.Run(context.Background()))

	assert.Equal(t, pipeline.NameRebalance, runner.called)
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), runner.opts.AsOf)
	assert.Equal(t, 126, runner.opts.Window)
	assert.Equal(t, []string{"AAPL"}, runner.opts.Holdings.Symbols())
	require.NotNil(t, recorded)
	assert.Equal(t, "r1", recorded.RunID)
}

func TestPipelineJob_RecordsFailedRuns(t *testing.T) {
	boom := errors.New("boom")
	runner := &fakeRunner{err: boom}
	recorded := 0

	job, err := NewPipelineJob(PipelineJobConfig{Pipeline: pipeline.NameDaily, Schedule: "@daily"},
		runner, staticHoldings, func(context.Context, *pipeline.Summary) error {
			recorded++
			return errors.New("db down")
		}, logger.Nop())
	require.NoError(t, err)

	err = job.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, pipeline.NameDaily, runner.called)
	assert.Equal(t, 1, recorded)
}

func TestPipelineJob_HoldingsError(t *testing.T) {
	runner := &fakeRunner{}
	job, err := NewPipelineJob(PipelineJobConfig{Pipeline: pipeline.NameDaily, Schedule: "@daily"},
		runner, func(context.Context) (contracts.HoldingsSnapshot, error) {
			return contracts.HoldingsSnapshot{}, contracts.ErrInvalidHoldings
		}, nil, nil)
	require.NoError(t, err)

	err = job.Run(context.Background())
	assert.ErrorIs(t, err, contracts.ErrInvalidHoldings)
	assert.Empty(t, runner.called)
}
