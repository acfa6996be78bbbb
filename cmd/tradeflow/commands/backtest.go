package commands

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/wonny/tradeflow/internal/backtest"
	"github.com/wonny/tradeflow/internal/marketdata"
)

// backtestCmd replays the strategy over a date range
var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "백테스트 실행",
	Long: `전략/리밸런스 엔진을 과거 영업일마다 재실행하여 성과 지표를 계산합니다.

저장 시 reports/backtests/<run_id>/ 에 metrics.json, equity_curve.csv,
trades.csv, manifest.json 을 기록합니다.

Example:
  go run ./cmd/tradeflow backtest --start 2023-01-02 --end 2023-12-29
  go run ./cmd/tradeflow backtest --start 2023-01-02 --end 2023-12-29 --label baseline --output out/bt`,
	RunE: runBacktest,
}

var (
	backtestStart  string
	backtestEnd    string
	backtestLabel  string
	backtestOutput string
	backtestDryRun bool
	backtestJSON   bool
)

func init() {
	rootCmd.AddCommand(backtestCmd)

	backtestCmd.Flags().StringVar(&backtestStart, "start", "", "start date YYYY-MM-DD (required)")
	backtestCmd.Flags().StringVar(&backtestEnd, "end", "", "end date YYYY-MM-DD (required)")
	backtestCmd.Flags().StringVar(&backtestLabel, "label", "", "label stored with the metrics")
	backtestCmd.Flags().StringVar(&backtestOutput, "output", "", "artifact directory (default reports/backtests/<run_id>)")
	backtestCmd.Flags().BoolVar(&backtestDryRun, "dry-run", false, "do not write artifacts")
	backtestCmd.Flags().BoolVar(&backtestJSON, "json", false, "print metrics as JSON")
	_ = backtestCmd.MarkFlagRequired("start")
	_ = backtestCmd.MarkFlagRequired("end")
}

func runBacktest(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	start, err := marketdata.ParseDate(backtestStart)
	if err != nil {
		return err
	}
	end, err := marketdata.ParseDate(backtestEnd)
	if err != nil {
		return err
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	strat, err := a.strategyEngine()
	if err != nil {
		return err
	}
	rebal, err := a.rebalanceEngine()
	if err != nil {
		return err
	}
	engine, err := backtest.NewEngine(a.strategy.BacktestEngine(), strat, rebal, a.log)
	if err != nil {
		return err
	}

	result, err := engine.Run(ctx, backtest.RunOptions{
		Start:     start,
		End:       end,
		Label:     backtestLabel,
		DryRun:    backtestDryRun,
		OutputDir: backtestOutput,
	}, a.sink())
	if err != nil {
		return err
	}

	if backtestJSON {
		return PrintJSON(result.Metrics)
	}
	printBacktest(result)
	return nil
}

func printBacktest(result *backtest.Result) {
	m := result.Metrics
	PrintHeader("Backtest Results", [][2]string{
		{"Run ID", result.RunID},
		{"Period", m.Start + " ~ " + m.End},
		{"Days", strconv.Itoa(m.TradingDays)},
		{"Duration", result.Duration.String()},
	})

	PrintKeyValue("Initial cash", formatNumber(m.InitialCash, 2), 16)
	PrintKeyValue("Final equity", formatNumber(m.FinalEquity, 2), 16)
	PrintKeyValue("Total return", formatPct(m.TotalReturn), 16)
	PrintKeyValue("CAGR", formatPct(m.CAGR), 16)
	PrintKeyValue("Volatility", formatPct(m.Volatility), 16)
	PrintKeyValue("Sharpe", formatNumber(m.Sharpe, 3), 16)
	PrintKeyValue("Sortino", formatNumber(m.Sortino, 3), 16)
	PrintKeyValue("Max drawdown", formatPct(m.MaxDrawdown), 16)
	PrintKeyValue("Hit rate", formatPct(m.HitRate), 16)
	PrintKeyValue("Turnover (avg)", formatPct(m.TurnoverAverage), 16)
	PrintKeyValue("Rebalances", strconv.Itoa(m.RebalanceEvents), 16)
	PrintKeyValue("Trades", fmt.Sprintf("%d (buy %d / sell %d)", result.Stats.TotalTrades, result.Stats.BuyTrades, result.Stats.SellTrades), 16)
	PrintKeyValue("Commission", formatNumber(result.Stats.TotalCommission, 2), 16)
	PrintKeyValue("Slippage", formatNumber(result.Stats.TotalSlippage, 2), 16)
	PrintSeparator()

	if len(result.Manifest) == 0 {
		PrintInfo("Dry run: no artifacts written")
		return
	}
	names := make([]string, 0, len(result.Manifest))
	for name := range result.Manifest {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		PrintKeyValue(name, result.Manifest[name], 20)
	}
	PrintSuccess("Artifacts saved")
}
