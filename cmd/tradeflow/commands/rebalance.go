package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wonny/tradeflow/internal/contracts"
	"github.com/wonny/tradeflow/internal/marketdata"
	"github.com/wonny/tradeflow/internal/pipeline"
	"github.com/wonny/tradeflow/internal/rebalance"
)

// rebalanceCmd computes target weights and orders
var rebalanceCmd = &cobra.Command{
	Use:   "rebalance",
	Short: "리밸런스 제안 생성",
	Long: `당일 시그널과 보유 현황으로 목표 비중과 주문을 계산합니다.

리밸런스 주기(monthly/weekly)가 아니면 NO_REBALANCE 를 반환하며,
--force 로 주기 검사를 건너뛸 수 있습니다.

Example:
  go run ./cmd/tradeflow rebalance --date 2024-05-31 --holdings holdings.json --dry-run`,
	RunE: runRebalance,
}

var (
	rebalanceDate     string
	rebalanceHoldings string
	rebalanceWindow   int
	rebalanceForce    bool
	rebalanceDryRun   bool
	rebalanceJSON     bool
)

func init() {
	rootCmd.AddCommand(rebalanceCmd)

	rebalanceCmd.Flags().StringVar(&rebalanceDate, "date", "", "as-of date YYYY-MM-DD (default today)")
	rebalanceCmd.Flags().StringVar(&rebalanceHoldings, "holdings", "", "holdings JSON file")
	rebalanceCmd.Flags().IntVar(&rebalanceWindow, "window", pipeline.DefaultWindow, "signal lookback rows (0 = full history)")
	rebalanceCmd.Flags().BoolVar(&rebalanceForce, "force", false, "ignore the rebalance cadence")
	rebalanceCmd.Flags().BoolVar(&rebalanceDryRun, "dry-run", false, "do not persist results")
	rebalanceCmd.Flags().BoolVar(&rebalanceJSON, "json", false, "print JSON instead of a table")
}

func runRebalance(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	asOf, err := parseAsOf(rebalanceDate)
	if err != nil {
		return err
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	holdings, err := a.loadHoldings(rebalanceHoldings)
	if err != nil {
		return err
	}
	strat, err := a.strategyEngine()
	if err != nil {
		return err
	}
	engine, err := a.rebalanceEngine()
	if err != nil {
		return err
	}

	signals, err := strat.Evaluate(ctx, asOf, rebalanceWindow)
	if err != nil {
		return err
	}
	result, err := engine.Build(ctx, asOf, holdings, signals.Rows, rebalance.BuildOptions{
		DryRun: rebalanceDryRun,
		Force:  rebalanceForce,
	}, a.sink())
	if err != nil {
		return err
	}

	if rebalanceJSON {
		return PrintJSON(result)
	}
	printRebalance(asOf.Format(marketdata.DateLayout), engine.Cadence(), result)
	return nil
}

func printRebalance(asOf, cadence string, result *contracts.RebalanceResult) {
	PrintHeader("Rebalance Proposal", [][2]string{
		{"As of", asOf},
		{"Cadence", cadence},
		{"Status", string(result.Status)},
		{"Turnover", formatPct(result.Turnover)},
		{"Cash", formatPct(result.CashBuffer)},
	})

	if len(result.Targets) > 0 {
		widths := []int{8, 8}
		PrintTableHeader([]string{"Symbol", "Weight"}, widths)
		for _, t := range result.Targets {
			PrintTableRow([]string{t.Symbol, formatPct(t.TargetWeight)}, widths)
		}
		fmt.Println()
	}
	if len(result.Orders) > 0 {
		widths := []int{8, 5, 14, 14}
		PrintTableHeader([]string{"Symbol", "Side", "Quantity", "Notional"}, widths)
		for _, o := range result.Orders {
			PrintTableRow([]string{
				o.Symbol,
				string(o.Side),
				formatNumber(o.Quantity, 4),
				formatNumber(o.Notional, 2),
			}, widths)
		}
		fmt.Println()
	}
	for _, note := range result.Notes {
		PrintInfo(note)
	}
}
