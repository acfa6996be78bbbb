package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/tradeflow/internal/contracts"
	"github.com/wonny/tradeflow/internal/pipeline"
	"github.com/wonny/tradeflow/internal/scheduler"
	"github.com/wonny/tradeflow/internal/scheduler/jobs"
)

// schedulerCmd represents the scheduler command
var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "스케줄러 관리",
	Long: `파이프라인을 cron 스케줄로 실행합니다.

등록되는 작업:
- pipeline_daily: SCHEDULE_DAILY (기본 평일 18:30, signals → risk)
- pipeline_rebalance: --rebalance-schedule (기본 평일 19:00, 주기 미충족 시 NO_REBALANCE)

Subcommands:
  start   - 스케줄러 시작
  list    - 등록된 작업과 다음 실행 시각
  run     - 특정 작업 즉시 실행

Example:
  go run ./cmd/tradeflow scheduler start --holdings holdings.json
  go run ./cmd/tradeflow scheduler run pipeline_daily --holdings holdings.json`,
}

var (
	schedulerStartCmd = &cobra.Command{
		Use:   "start",
		Short: "스케줄러 시작",
		RunE:  runScheduler,
	}

	schedulerListCmd = &cobra.Command{
		Use:   "list",
		Short: "등록된 작업 목록",
		RunE:  listJobs,
	}

	schedulerRunCmd = &cobra.Command{
		Use:   "run [job_name]",
		Short: "특정 작업 즉시 실행",
		Args:  cobra.ExactArgs(1),
		RunE:  runJob,
	}
)

// schedulerOptions are shared by the scheduler and api commands
type schedulerOptions struct {
	holdingsPath      string
	rebalanceSchedule string
	timezone          string
	dryRun            bool
	retries           int
	retryDelay        time.Duration
}

var schedOpts schedulerOptions

func init() {
	rootCmd.AddCommand(schedulerCmd)
	schedulerCmd.AddCommand(schedulerStartCmd)
	schedulerCmd.AddCommand(schedulerListCmd)
	schedulerCmd.AddCommand(schedulerRunCmd)

	addSchedulerFlags(schedulerCmd, &schedOpts, true)
}

func addSchedulerFlags(cmd *cobra.Command, opts *schedulerOptions, persistent bool) {
	flags := cmd.Flags()
	if persistent {
		flags = cmd.PersistentFlags()
	}
	flags.StringVar(&opts.holdingsPath, "holdings", "", "holdings JSON file, re-read on every run")
	flags.StringVar(&opts.rebalanceSchedule, "rebalance-schedule", "0 0 19 * * MON-FRI", "cron expression (with seconds) of the rebalance pipeline")
	flags.StringVar(&opts.timezone, "tz", "Local", "time zone of the schedules and as-of dates")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "run scheduled pipelines without persisting")
	flags.IntVar(&opts.retries, "retries", 2, "retries after a failed run")
	flags.DurationVar(&opts.retryDelay, "retry-delay", time.Minute, "delay between retries")
}

// buildScheduler registers the daily and rebalance pipeline jobs
func buildScheduler(a *app, p *pipeline.Pipeline, opts schedulerOptions) (*scheduler.Scheduler, error) {
	loc, err := time.LoadLocation(opts.timezone)
	if err != nil {
		return nil, fmt.Errorf("time zone %q: %w", opts.timezone, err)
	}

	sched := scheduler.New(a.log,
		scheduler.WithLocation(loc),
		scheduler.WithRetries(opts.retries, opts.retryDelay),
	)

	holdings := func(context.Context) (contracts.HoldingsSnapshot, error) {
		return a.loadHoldings(opts.holdingsPath)
	}

	schedules := []struct {
		name     string
		schedule string
	}{
		{pipeline.NameDaily, a.cfg.DailySchedule},
		{pipeline.NameRebalance, opts.rebalanceSchedule},
	}
	for _, s := range schedules {
		job, err := jobs.NewPipelineJob(jobs.PipelineJobConfig{
			Pipeline: s.name,
			Schedule: s.schedule,
			Window:   pipeline.DefaultWindow,
			DryRun:   opts.dryRun,
			Location: loc,
		}, p, holdings, a.recordSummary, a.log)
		if err != nil {
			return nil, err
		}
		if err := sched.AddJob(job); err != nil {
			return nil, err
		}
	}
	return sched, nil
}

// newSchedulerApp wires the app, pipeline and scheduler for the subcommands
func newSchedulerApp(ctx context.Context) (*app, *scheduler.Scheduler, error) {
	a, err := newApp(ctx)
	if err != nil {
		return nil, nil, err
	}
	p, err := a.newPipeline(nil)
	if err != nil {
		a.Close()
		return nil, nil, err
	}
	sched, err := buildScheduler(a, p, schedOpts)
	if err != nil {
		a.Close()
		return nil, nil, err
	}
	return a, sched, nil
}

func runScheduler(cmd *cobra.Command, args []string) error {
	fmt.Println("=== tradeflow Scheduler ===")

	a, sched, err := newSchedulerApp(context.Background())
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	defer a.Close()

	sched.Start()

	fmt.Println("\n✅ Scheduler started successfully")
	fmt.Println("\nRegistered jobs:")
	printJobs(sched)
	fmt.Println("\nPress Ctrl+C to stop")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	a.log.Info("Stopping scheduler...")
	sched.Stop()
	a.log.Info("Scheduler stopped")
	return nil
}

func listJobs(cmd *cobra.Command, args []string) error {
	a, sched, err := newSchedulerApp(context.Background())
	if err != nil {
		return err
	}
	defer a.Close()

	// 다음 실행 시각 계산을 위해 cron 을 잠시 기동
	sched.Start()
	defer sched.Stop()
	printJobs(sched)
	return nil
}

func runJob(cmd *cobra.Command, args []string) error {
	a, sched, err := newSchedulerApp(context.Background())
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := sched.RunJobSync(args[0])
	if err != nil {
		return err
	}
	if !result.Success {
		PrintError(fmt.Sprintf("%s failed after %d attempts: %s", result.JobName, result.Attempts, result.Error))
		return fmt.Errorf("job %s failed", result.JobName)
	}
	PrintSuccess(fmt.Sprintf("%s completed in %s", result.JobName, result.Duration))
	return nil
}

func printJobs(sched *scheduler.Scheduler) {
	widths := []int{20, 22, 25}
	PrintTableHeader([]string{"Job", "Schedule", "Next run"}, widths)
	stats := sched.GetJobStats()
	for _, name := range sched.GetAllJobs() {
		next := "-"
		if t, ok := sched.NextRun(name); ok {
			next = t.Format(time.RFC3339)
		}
		PrintTableRow([]string{name, stats[name].Schedule, next}, widths)
	}
}
