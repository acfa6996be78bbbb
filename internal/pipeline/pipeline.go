package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wonny/tradeflow/internal/contracts"
	"github.com/wonny/tradeflow/internal/marketdata"
	"github.com/wonny/tradeflow/internal/notify"
	"github.com/wonny/tradeflow/internal/rebalance"
	"github.com/wonny/tradeflow/internal/risk"
	"github.com/wonny/tradeflow/internal/strategy"
	"github.com/wonny/tradeflow/pkg/logger"
)

// DefaultWindow is the signal lookback used when Options.Window is unset
const DefaultWindow = 252

// Pipeline names
const (
	NameDaily     = "daily"
	NameRebalance = "rebalance"
)

// Step names
const (
	StepSignals   = "signals"
	StepRisk      = "risk"
	StepRebalance = "rebalance"
	StepReport    = "report"
	StepNotify    = "notify"
)

// Sinks receive results of non-dry-run steps; nil members are skipped
type Sinks struct {
	Signals   strategy.Sink
	Risk      risk.Sink
	Rebalance rebalance.Sink
}

// Observer is notified after every step
type Observer interface {
	ObserveStep(pipeline, step string, status StepStatus, duration time.Duration)
}

// ReportInput is what the report step hands to the Reporter
type ReportInput struct {
	AsOf      time.Time
	Holdings  contracts.HoldingsSnapshot
	Signals   *strategy.Result
	Risk      *risk.Result
	Rebalance *contracts.RebalanceResult // nil for the daily pipeline
	DryRun    bool                       // dry runs build the report without writing it
}

// Reporter builds the daily operator report
type Reporter interface {
	BuildReport(ctx context.Context, in ReportInput) (*contracts.DailyReport, error)
}

// Notifier delivers a built report; delivery failures are reported, not returned
type Notifier interface {
	Notify(ctx context.Context, report *contracts.DailyReport, dryRun bool) []notify.Status
}

// Options controls one run
type Options struct {
	AsOf           time.Time
	Holdings       contracts.HoldingsSnapshot
	Window         int // 0 = DefaultWindow
	DryRun         bool
	ForceRebalance bool
}

// Pipeline chains the strategy, risk and rebalance engines
// ⭐ SSOT: 파이프라인 조율은 여기서만
type Pipeline struct {
	strategy  *strategy.Engine
	risk      *risk.Engine
	rebalance *rebalance.Engine
	sinks     Sinks
	observer  Observer
	reporter  Reporter
	notifier  Notifier
	logger    *logger.Logger
}

// New creates a pipeline; observer may be nil
func New(strat *strategy.Engine, riskEngine *risk.Engine, rebal *rebalance.Engine, sinks Sinks, observer Observer, log *logger.Logger) *Pipeline {
	if log == nil {
		log = logger.Nop()
	}
	return &Pipeline{
		strategy:  strat,
		risk:      riskEngine,
		rebalance: rebal,
		sinks:     sinks,
		observer:  observer,
		logger:    log.WithField("component", "pipeline"),
	}
}

// WithReporting adds the report and notify steps; either may be nil
// A notifier without a reporter is ignored since notify reads the report.
func (p *Pipeline) WithReporting(reporter Reporter, notifier Notifier) *Pipeline {
	p.reporter = reporter
	p.notifier = notifier
	return p
}

// RunDaily runs signals → risk [→ report → notify]
func (p *Pipeline) RunDaily(ctx context.Context, opts Options) (*Summary, error) {
	r := p.newRun(NameDaily, opts)
	if err := r.step(ctx, StepSignals, r.signals); err != nil {
		return r.finish(err)
	}
	if err := r.step(ctx, StepRisk, r.riskStep); err != nil {
		return r.finish(err)
	}
	return r.finish(r.reporting(ctx))
}

// RunRebalance runs signals → risk → rebalance [→ report → notify]
//
// A RISK_OFF market state withholds new entries: signal rows for symbols
// that are not held are dropped before the rebalance unless they are EXIT.
func (p *Pipeline) RunRebalance(ctx context.Context, opts Options) (*Summary, error) {
	r := p.newRun(NameRebalance, opts)
	if err := r.step(ctx, StepSignals, r.signals); err != nil {
		return r.finish(err)
	}
	if err := r.step(ctx, StepRisk, r.riskStep); err != nil {
		return r.finish(err)
	}
	if err := r.step(ctx, StepRebalance, r.rebalanceStep); err != nil {
		return r.finish(err)
	}
	return r.finish(r.reporting(ctx))
}

// reporting runs the optional report and notify steps
func (r *run) reporting(ctx context.Context) error {
	if r.p.reporter == nil {
		return nil
	}
	if err := r.step(ctx, StepReport, r.reportStep); err != nil {
		return err
	}
	if r.p.notifier == nil {
		return nil
	}
	return r.step(ctx, StepNotify, r.notifyStep)
}

// run is the state of one pipeline invocation
type run struct {
	p       *Pipeline
	opts    Options
	summary *Summary
	started time.Time
	logger  *logger.Logger
}

func (p *Pipeline) newRun(name string, opts Options) *run {
	opts.AsOf = marketdata.NormalizeDate(opts.AsOf)
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	runID := uuid.New().String()
	return &run{
		p:    p,
		opts: opts,
		summary: &Summary{
			RunID:    runID,
			Pipeline: name,
			AsOf:     opts.AsOf,
			DryRun:   opts.DryRun,
			Steps:    make([]Step, 0, 5),
		},
		started: time.Now(),
		logger: p.logger.WithFields(map[string]interface{}{
			"run_id":   runID,
			"pipeline": name,
			"as_of":    opts.AsOf.Format(marketdata.DateLayout),
			"dry_run":  opts.DryRun,
		}),
	}
}

// step times fn and records its outcome
func (r *run) step(ctx context.Context, name string, fn func(context.Context) (StepOutcome, error)) error {
	r.logger.WithField("step", name).Info("Step started")
	begin := time.Now()

	outcome, err := fn(ctx)
	duration := time.Since(begin)

	if err != nil {
		r.summary.Steps = append(r.summary.Steps, Step{
			Name:     name,
			Status:   StatusFailed,
			Duration: duration,
			Details:  err.Error(),
		})
		r.observe(name, StatusFailed, duration)
		r.logger.WithError(err).WithField("step", name).Error("Step failed")
		return &ExecutionError{Step: name, Err: err, Summary: r.summary}
	}

	if outcome.Status == "" {
		outcome.Status = StatusCompleted
	}
	r.summary.Steps = append(r.summary.Steps, Step{
		Name:      name,
		Status:    outcome.Status,
		Duration:  duration,
		Details:   outcome.Details,
		Artifacts: outcome.Artifacts,
	})
	r.observe(name, outcome.Status, duration)
	r.logger.WithFields(map[string]interface{}{
		"step":        name,
		"duration_ms": duration.Milliseconds(),
		"details":     outcome.Details,
	}).Info("Step completed")
	return nil
}

func (r *run) observe(step string, status StepStatus, d time.Duration) {
	if r.p.observer != nil {
		r.p.observer.ObserveStep(r.summary.Pipeline, step, status, d)
	}
}

func (r *run) finish(err error) (*Summary, error) {
	r.summary.Success = err == nil
	r.summary.Duration = time.Since(r.started)
	fields := map[string]interface{}{
		"success":     r.summary.Success,
		"steps":       len(r.summary.Steps),
		"duration_ms": r.summary.Duration.Milliseconds(),
	}
	if err != nil {
		r.logger.WithFields(fields).Warn("Pipeline aborted")
		return r.summary, err
	}
	r.logger.WithFields(fields).Info("Pipeline completed")
	return r.summary, nil
}

func (r *run) signals(ctx context.Context) (StepOutcome, error) {
	result, err := r.p.strategy.Build(ctx, r.opts.AsOf, r.opts.Window, r.opts.DryRun, r.p.sinks.Signals)
	if err != nil {
		return StepOutcome{}, err
	}
	r.summary.Signals = result
	return StepOutcome{
		Details: fmt.Sprintf("records=%d entries=%d exits=%d", len(result.Rows), result.EntryCount, result.ExitCount),
	}, nil
}

func (r *run) riskStep(ctx context.Context) (StepOutcome, error) {
	result, err := r.p.risk.Build(ctx, r.opts.AsOf, r.opts.Holdings, r.opts.DryRun, r.p.sinks.Risk)
	if err != nil {
		return StepOutcome{}, err
	}
	r.summary.Risk = result
	return StepOutcome{
		Details: fmt.Sprintf("alerts=%d market_state=%s", len(result.Alerts), result.MarketState),
	}, nil
}

func (r *run) rebalanceStep(ctx context.Context) (StepOutcome, error) {
	if r.summary.Signals == nil {
		return StepOutcome{}, fmt.Errorf("rebalance requires signals")
	}
	rows := r.summary.Signals.Rows
	buildOpts := rebalance.BuildOptions{DryRun: r.opts.DryRun, Force: r.opts.ForceRebalance}
	if r.summary.Risk != nil && r.summary.Risk.MarketState == risk.RiskOff {
		var withheld int
		rows, withheld = withholdEntries(rows, r.opts.Holdings)
		if withheld > 0 {
			buildOpts.Notes = append(buildOpts.Notes, fmt.Sprintf("Market filter RISK_OFF withheld %d new entries", withheld))
		}
	}

	result, err := r.p.rebalance.Build(ctx, r.opts.AsOf, r.opts.Holdings, rows, buildOpts, r.p.sinks.Rebalance)
	if err != nil {
		return StepOutcome{}, err
	}
	r.summary.Rebalance = result
	return StepOutcome{
		Details: fmt.Sprintf("status=%s targets=%d orders=%d", result.Status, len(result.Targets), len(result.Orders)),
	}, nil
}

// withholdEntries drops rows that would open a new position
func withholdEntries(rows contracts.SignalTable, holdings contracts.HoldingsSnapshot) (contracts.SignalTable, int) {
	out := make(contracts.SignalTable, 0, len(rows))
	withheld := 0
	for _, row := range rows {
		_, held := holdings.Position(row.Symbol)
		if !held && row.Signal != contracts.SignalExit {
			withheld++
			continue
		}
		out = append(out, row)
	}
	return out, withheld
}

func (r *run) reportStep(ctx context.Context) (StepOutcome, error) {
	report, err := r.p.reporter.BuildReport(ctx, ReportInput{
		AsOf:      r.opts.AsOf,
		Holdings:  r.opts.Holdings,
		Signals:   r.summary.Signals,
		Risk:      r.summary.Risk,
		Rebalance: r.summary.Rebalance,
		DryRun:    r.opts.DryRun,
	})
	if err != nil {
		return StepOutcome{}, err
	}
	r.summary.Report = report

	outcome := StepOutcome{
		Details: fmt.Sprintf("positions=%d orders=%d notes=%d",
			len(report.Portfolio.Positions), len(report.Actions.Orders), len(report.Notes)),
	}
	if report.JSONPath != "" {
		outcome.Artifacts = map[string]string{"report_json": report.JSONPath}
		if report.HTMLPath != "" {
			outcome.Artifacts["report_html"] = report.HTMLPath
		}
	}
	return outcome, nil
}

func (r *run) notifyStep(ctx context.Context) (StepOutcome, error) {
	if r.summary.Report == nil {
		return StepOutcome{}, fmt.Errorf("report must be built before notifications")
	}
	statuses := r.p.notifier.Notify(ctx, r.summary.Report, r.opts.DryRun)
	r.summary.Notifications = statuses

	delivered := 0
	for _, st := range statuses {
		if st.Delivered {
			delivered++
		}
	}
	details := fmt.Sprintf("channels=%d delivered=%d", len(statuses), delivered)
	if r.opts.DryRun {
		details += " (dry-run)"
	}
	return StepOutcome{Details: details}, nil
}
