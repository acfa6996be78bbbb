package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wonny/tradeflow/internal/marketdata"
	"github.com/wonny/tradeflow/internal/risk"
)

// riskCmd evaluates crash/drawdown alerts and the market filter
var riskCmd = &cobra.Command{
	Use:   "risk",
	Short: "리스크 알림 및 마켓 필터 평가",
	Long: `보유 종목의 급락/낙폭 알림과 벤치마크 마켓 필터를 평가합니다.

Example:
  go run ./cmd/tradeflow risk --date 2024-05-31 --holdings holdings.json
  go run ./cmd/tradeflow risk --holdings holdings.json --symbol AAPL`,
	RunE: runRisk,
}

var (
	riskDate     string
	riskHoldings string
	riskSymbol   string
	riskDryRun   bool
	riskJSON     bool
)

func init() {
	rootCmd.AddCommand(riskCmd)

	riskCmd.Flags().StringVar(&riskDate, "date", "", "as-of date YYYY-MM-DD (default today)")
	riskCmd.Flags().StringVar(&riskHoldings, "holdings", "", "holdings JSON file")
	riskCmd.Flags().StringVar(&riskSymbol, "symbol", "", "explain one held symbol")
	riskCmd.Flags().BoolVar(&riskDryRun, "dry-run", false, "do not persist results")
	riskCmd.Flags().BoolVar(&riskJSON, "json", false, "print JSON instead of a table")
}

func runRisk(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	asOf, err := parseAsOf(riskDate)
	if err != nil {
		return err
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	holdings, err := a.loadHoldings(riskHoldings)
	if err != nil {
		return err
	}
	engine, err := a.riskEngine()
	if err != nil {
		return err
	}

	if riskSymbol != "" {
		eval, err := engine.Explain(ctx, riskSymbol, asOf, holdings)
		if err != nil {
			return err
		}
		return PrintJSON(eval)
	}

	result, err := engine.Build(ctx, asOf, holdings, riskDryRun, a.sink())
	if err != nil {
		return err
	}
	if riskJSON {
		return PrintJSON(result.Payload())
	}

	fields := [][2]string{
		{"As of", asOf.Format(marketdata.DateLayout)},
		{"Holdings", fmt.Sprintf("%d positions", len(holdings.Positions))},
		{"Market", string(result.MarketState)},
	}
	if result.Benchmark != "" {
		fields = append(fields, [2]string{"Filter", result.Benchmark + ": " + result.Rule})
	}
	PrintHeader("Risk Evaluation", fields)

	if len(result.Alerts) == 0 {
		PrintSuccess("No alerts")
	} else {
		widths := []int{8, 9, 10, 10}
		PrintTableHeader([]string{"Symbol", "Type", "Value", "Threshold"}, widths)
		for _, alert := range result.Alerts {
			PrintTableRow([]string{
				alert.Symbol,
				string(alert.Type),
				formatPct(alert.Value),
				formatPct(alert.Threshold),
			}, widths)
		}
		PrintSeparator()
		PrintWarning(fmt.Sprintf("%d alerts", len(result.Alerts)))
	}
	if result.MarketState == risk.RiskOff {
		PrintWarning("Market filter RISK_OFF: new entries should be withheld")
	}
	return nil
}
