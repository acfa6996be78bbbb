package commands

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/wonny/tradeflow/internal/marketdata"
	"github.com/wonny/tradeflow/internal/pipeline"
	"github.com/wonny/tradeflow/internal/strategy"
)

// signalsCmd evaluates the strategy for one date
var signalsCmd = &cobra.Command{
	Use:   "signals",
	Short: "전략 시그널 생성",
	Long: `유니버스 전체에 진입/청산 규칙과 랭크 점수를 평가합니다.

--dry-run 이 아니면 reports/<date>/signals.csv 와 DB(설정 시)에 저장합니다.

Example:
  go run ./cmd/tradeflow signals --date 2024-05-31
  go run ./cmd/tradeflow signals --date 2024-05-31 --json`,
	RunE: runSignals,
}

// explainCmd shows the evaluation details of one symbol
var explainCmd = &cobra.Command{
	Use:   "explain [symbol]",
	Short: "종목별 시그널 근거 조회",
	Args:  cobra.ExactArgs(1),
	RunE:  runExplain,
}

var (
	signalsDate   string
	signalsWindow int
	signalsDryRun bool
	signalsJSON   bool
)

func init() {
	rootCmd.AddCommand(signalsCmd)
	rootCmd.AddCommand(explainCmd)

	for _, c := range []*cobra.Command{signalsCmd, explainCmd} {
		c.Flags().StringVar(&signalsDate, "date", "", "as-of date YYYY-MM-DD (default today)")
		c.Flags().IntVar(&signalsWindow, "window", pipeline.DefaultWindow, "lookback rows per symbol (0 = full history)")
		c.Flags().BoolVar(&signalsJSON, "json", false, "print JSON instead of a table")
	}
	signalsCmd.Flags().BoolVar(&signalsDryRun, "dry-run", false, "do not persist results")
}

func runSignals(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	asOf, err := parseAsOf(signalsDate)
	if err != nil {
		return err
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	engine, err := a.strategyEngine()
	if err != nil {
		return err
	}
	result, err := engine.Build(ctx, asOf, signalsWindow, signalsDryRun, a.sink())
	if err != nil {
		return err
	}

	if signalsJSON {
		return PrintJSON(result)
	}

	PrintHeader("Strategy Signals", [][2]string{
		{"Strategy", a.strategy.Meta.StrategyID},
		{"As of", asOf.Format(marketdata.DateLayout)},
		{"Rank", engine.RankMetric()},
		{"Symbols", fmt.Sprintf("%d / %d", len(result.Rows), len(engine.Universe()))},
	})
	widths := []int{8, 6, 12}
	PrintTableHeader([]string{"Symbol", "Signal", "Rank"}, widths)
	for _, row := range result.Rows {
		PrintTableRow([]string{row.Symbol, string(row.Signal), formatNumber(row.RankScore, 4)}, widths)
	}
	PrintSeparator()
	PrintSuccess(fmt.Sprintf("entries=%d exits=%d", result.EntryCount, result.ExitCount))
	if !signalsDryRun && len(result.Rows) > 0 {
		PrintInfo("Saved to " + a.writer.DatePath(asOf, "signals.csv"))
	}
	return nil
}

func runExplain(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	asOf, err := parseAsOf(signalsDate)
	if err != nil {
		return err
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	engine, err := a.strategyEngine()
	if err != nil {
		return err
	}
	eval, err := engine.Explain(ctx, args[0], asOf, signalsWindow)
	if err != nil {
		return err
	}
	if signalsJSON {
		return PrintJSON(eval)
	}

	printEvaluation(eval, a.strategy.Strategy.Entry, a.strategy.Strategy.Exit)
	return nil
}

func printEvaluation(eval strategy.SymbolEvaluation, entry, exit string) {
	PrintHeader("Signal Explanation: "+eval.Symbol, [][2]string{
		{"Signal", string(eval.Signal)},
		{"Entry", entry + " → " + strconv.FormatBool(eval.EntryRule)},
		{"Exit", exit + " → " + strconv.FormatBool(eval.ExitRule)},
		{"Rank", formatNumber(eval.RankScore, 6)},
	})

	names := make([]string, 0, len(eval.Indicators))
	for name := range eval.Indicators {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		PrintKeyValue(name, formatNumber(eval.Indicators[name], 6), 14)
	}
	for name, v := range eval.Features {
		PrintKeyValue(name, formatNumber(v, 6), 14)
	}
}
