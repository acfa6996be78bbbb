package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/tradeflow/internal/contracts"
	"github.com/wonny/tradeflow/internal/marketdata"
	"github.com/wonny/tradeflow/internal/pipeline"
	"github.com/wonny/tradeflow/pkg/logger"
)

// Runner runs the daily and rebalance pipelines
type Runner interface {
	RunDaily(ctx context.Context, opts pipeline.Options) (*pipeline.Summary, error)
	RunRebalance(ctx context.Context, opts pipeline.Options) (*pipeline.Summary, error)
}

// HoldingsLoader returns the current holdings
type HoldingsLoader func(ctx context.Context) (contracts.HoldingsSnapshot, error)

// SummaryRecorder receives every finished summary, failed runs included
type SummaryRecorder func(ctx context.Context, summary *pipeline.Summary) error

// PipelineJobConfig configures a PipelineJob
type PipelineJobConfig struct {
	Pipeline string // pipeline.NameDaily or pipeline.NameRebalance
	Schedule string
	Window   int
	DryRun   bool
	Location *time.Location // as-of date is today in this zone
}

// PipelineJob runs a pipeline for today's date
// ⭐ SSOT: 일일 파이프라인 스케줄은 이 Job에서만
type PipelineJob struct {
	cfg      PipelineJobConfig
	runner   Runner
	holdings HoldingsLoader
	recorder SummaryRecorder
	now      func() time.Time
	logger   *logger.Logger
}

// NewPipelineJob creates a new pipeline job; recorder may be nil
func NewPipelineJob(cfg PipelineJobConfig, runner Runner, holdings HoldingsLoader, recorder SummaryRecorder, log *logger.Logger) (*PipelineJob, error) {
	switch cfg.Pipeline {
	case pipeline.NameDaily, pipeline.NameRebalance:
	default:
		return nil, fmt.Errorf("unknown pipeline %q", cfg.Pipeline)
	}
	if cfg.Schedule == "" {
		return nil, fmt.Errorf("pipeline job %s: schedule required", cfg.Pipeline)
	}
	if runner == nil || holdings == nil {
		return nil, fmt.Errorf("pipeline job %s: runner and holdings loader required", cfg.Pipeline)
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if log == nil {
		log = logger.Nop()
	}
	return &PipelineJob{
		cfg:      cfg,
		runner:   runner,
		holdings: holdings,
		recorder: recorder,
		now:      time.Now,
		logger:   log,
	}, nil
}

// Name returns the job name
func (j *PipelineJob) Name() string {
	return "pipeline_" + j.cfg.Pipeline
}

// Schedule returns the cron schedule
func (j *PipelineJob) Schedule() string {
	return j.cfg.Schedule
}

// AsOf is today's date in the job's zone
func (j *PipelineJob) AsOf() time.Time {
	local := j.now().In(j.cfg.Location)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// Run executes the pipeline
func (j *PipelineJob) Run(ctx context.Context) error {
	asOf := j.AsOf()
	log := j.logger.WithFields(map[string]interface{}{
		"job":   j.Name(),
		"as_of": asOf.Format(marketdata.DateLayout),
	})
	log.Info("Starting scheduled pipeline")

	holdings, err := j.holdings(ctx)
	if err != nil {
		return fmt.Errorf("load holdings: %w", err)
	}

	opts := pipeline.Options{
		AsOf:     asOf,
		Holdings: holdings,
		Window:   j.cfg.Window,
		DryRun:   j.cfg.DryRun,
	}

	var summary *pipeline.Summary
	if j.cfg.Pipeline == pipeline.NameRebalance {
		summary, err = j.runner.RunRebalance(ctx, opts)
	} else {
		summary, err = j.runner.RunDaily(ctx, opts)
	}

	if summary != nil && j.recorder != nil {
		if recErr := j.recorder(ctx, summary); recErr != nil {
			log.WithError(recErr).Warn("Failed to record pipeline summary")
		}
	}
	if err != nil {
		return err
	}

	log.WithFields(map[string]interface{}{
		"run_id": summary.RunID,
		"steps":  len(summary.Steps),
	}).Info("Scheduled pipeline completed")
	return nil
}
