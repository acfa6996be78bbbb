package commands

import (
	"github.com/spf13/cobra"
)

// Version is overridden at build time with -ldflags "-X ...commands.Version=..."
var Version = "dev"

var (
	// Global flags
	strategyPath string
	sourceKind   string
	verbose      bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tradeflow",
	Short: "tradeflow - 중장기 추세추종 전략 운영 도구",
	Long: `tradeflow Unified CLI

Mid/long-horizon trading workflow with daily risk alerts and periodic rebalances.
전략 YAML 하나로 시그널, 리스크 알림, 리밸런스 제안, 백테스트를 실행합니다.

Usage:
  go run ./cmd/tradeflow [command]

Examples:
  go run ./cmd/tradeflow config validate
  go run ./cmd/tradeflow signals --date 2024-05-31
  go run ./cmd/tradeflow pipeline daily --holdings holdings.json
  go run ./cmd/tradeflow backtest --start 2023-01-02 --end 2023-12-29
  go run ./cmd/tradeflow api`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&strategyPath, "strategy", "", "strategy YAML (default is $STRATEGY_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&sourceKind, "source", sourceAuto, "curated data source (auto|csv|postgres)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
