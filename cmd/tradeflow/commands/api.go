package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/tradeflow/internal/api"
	"github.com/wonny/tradeflow/internal/api/handlers"
	"github.com/wonny/tradeflow/internal/backtest"
	"github.com/wonny/tradeflow/internal/pipeline"
	"github.com/wonny/tradeflow/internal/scheduler"
)

// apiCmd represents the api command
var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "API 서버 시작",
	Long: `REST API 서버를 시작합니다.

Endpoints:
  GET  /health                          - Health check
  GET  /metrics                         - Prometheus metrics
  GET  /api/signals?date=&window=       - 전략 시그널
  GET  /api/signals/{symbol}            - 종목별 시그널 근거
  POST /api/risk                        - 리스크 평가 (body: date, holdings)
  POST /api/risk/{symbol}               - 종목별 리스크 근거
  POST /api/rebalance                   - 리밸런스 제안 (저장 안 함)
  POST /api/pipeline/{daily|rebalance}  - 파이프라인 실행 (기본 dry_run)
  POST /api/backtest                    - 백테스트 (기본 dry_run)
  GET  /api/pipeline/runs               - 파이프라인 이력 (DB 필요)
  GET  /api/rebalance/{date}            - 저장된 리밸런스 (DB 필요)
  GET  /api/scheduler/jobs              - 스케줄 작업 (--with-scheduler)

Example:
  go run ./cmd/tradeflow api
  go run ./cmd/tradeflow api --port 8080 --with-scheduler --holdings holdings.json`,
	RunE: runAPIServer,
}

var (
	apiPort          string
	apiWithScheduler bool
	apiSchedOpts     schedulerOptions
)

func init() {
	rootCmd.AddCommand(apiCmd)

	// Flags
	apiCmd.Flags().StringVar(&apiPort, "port", "", "API 서버 포트 (default $PORT)")
	apiCmd.Flags().BoolVar(&apiWithScheduler, "with-scheduler", false, "run the pipeline scheduler in-process")
	addSchedulerFlags(apiCmd, &apiSchedOpts, false)
}

func runAPIServer(cmd *cobra.Command, args []string) error {
	fmt.Println("=== tradeflow API Server ===")
	ctx := context.Background()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	// Override port if flag is set
	if apiPort != "" {
		a.cfg.Port = apiPort
	}

	var metrics *api.Metrics
	var observer pipeline.Observer
	if a.cfg.MetricsEnabled {
		metrics = api.NewMetrics()
		observer = metrics
	}

	strat, riskEngine, rebal, err := a.engines()
	if err != nil {
		return err
	}
	p := pipeline.New(strat, riskEngine, rebal, a.sink().Sinks(), observer, a.log).
		WithReporting(a.reporter(), a.notifier())
	bt, err := backtest.NewEngine(a.strategy.BacktestEngine(), strat, rebal, a.log)
	if err != nil {
		return err
	}

	h := api.Handlers{
		Engines:  handlers.NewEngineHandler(strat, riskEngine, rebal, pipeline.DefaultWindow, a.log),
		Pipeline: handlers.NewPipelineHandler(p, a.recordSummary, a.log),
		Backtest: handlers.NewBacktestHandler(bt, a.sink(), a.log),
	}
	if a.repo != nil {
		h.History = handlers.NewHistoryHandler(a.repo, a.log)
	}

	var sched *scheduler.Scheduler
	if apiWithScheduler {
		if sched, err = buildScheduler(a, p, apiSchedOpts); err != nil {
			return err
		}
		h.Jobs = handlers.NewJobsHandler(sched)
	}

	router := api.NewRouter(h, api.RouterOptions{
		Metrics: metrics,
		Limiter: api.NewLimiter(a.cfg.APIRateLimit, a.cfg.APIBurst),
	}, a.log)
	server := api.New(a.cfg, a.log, router)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()
	if sched != nil {
		sched.Start()
		defer sched.Stop()
	}

	a.log.Info("API server started successfully")
	fmt.Printf("\n✅ Server running on http://localhost:%s\n", a.cfg.Port)
	fmt.Println("\nPress Ctrl+C to stop")

	// Wait for interrupt signal or a listen failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	a.log.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	a.log.Info("Server stopped")
	return nil
}
