package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wonny/tradeflow/internal/marketdata"
	"github.com/wonny/tradeflow/internal/notify"
	"github.com/wonny/tradeflow/internal/pipeline"
)

// pipelineCmd runs the operational pipelines
var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "운영 파이프라인 실행",
	Long: `일일/리밸런스 파이프라인을 실행합니다.

  daily     - signals → risk → report → notify
  rebalance - signals → risk → rebalance → report → notify (RISK_OFF 시 신규 진입 보류)

dry run 은 리포트를 파일로 쓰지 않고 알림은 미리보기만 합니다.

Example:
  go run ./cmd/tradeflow pipeline daily --holdings holdings.json
  go run ./cmd/tradeflow pipeline rebalance --date 2024-05-31 --holdings holdings.json --dry-run
  go run ./cmd/tradeflow pipeline daily --channels slack`,
}

var (
	pipelineDailyCmd = &cobra.Command{
		Use:   pipeline.NameDaily,
		Short: "일일 파이프라인 (signals → risk → report → notify)",
		RunE:  runPipeline(pipeline.NameDaily),
	}

	pipelineRebalanceCmd = &cobra.Command{
		Use:   pipeline.NameRebalance,
		Short: "리밸런스 파이프라인 (signals → risk → rebalance → report → notify)",
		RunE:  runPipeline(pipeline.NameRebalance),
	}
)

var (
	pipelineDate     string
	pipelineHoldings string
	pipelineWindow   int
	pipelineForce    bool
	pipelineDryRun   bool
	pipelineJSON     bool
	pipelineChannels []string
)

func init() {
	rootCmd.AddCommand(pipelineCmd)
	pipelineCmd.AddCommand(pipelineDailyCmd)
	pipelineCmd.AddCommand(pipelineRebalanceCmd)

	flags := pipelineCmd.PersistentFlags()
	flags.StringVar(&pipelineDate, "date", "", "as-of date YYYY-MM-DD (default today)")
	flags.StringVar(&pipelineHoldings, "holdings", "", "holdings JSON file")
	flags.IntVar(&pipelineWindow, "window", pipeline.DefaultWindow, "signal lookback rows (0 = full history)")
	flags.BoolVar(&pipelineDryRun, "dry-run", false, "do not persist results")
	flags.BoolVar(&pipelineJSON, "json", false, "print the summary as JSON")
	flags.StringSliceVar(&pipelineChannels, "channels", []string{notify.ChannelAll}, "notification channels (email, slack, all)")
	pipelineRebalanceCmd.Flags().BoolVar(&pipelineForce, "force", false, "ignore the rebalance cadence")
}

func runPipeline(name string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		asOf, err := parseAsOf(pipelineDate)
		if err != nil {
			return err
		}

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		holdings, err := a.loadHoldings(pipelineHoldings)
		if err != nil {
			return err
		}
		a.notifyChannels = pipelineChannels
		p, err := a.newPipeline(nil)
		if err != nil {
			return err
		}

		opts := pipeline.Options{
			AsOf:           asOf,
			Holdings:       holdings,
			Window:         pipelineWindow,
			DryRun:         pipelineDryRun,
			ForceRebalance: pipelineForce,
		}
		var summary *pipeline.Summary
		if name == pipeline.NameRebalance {
			summary, err = p.RunRebalance(ctx, opts)
		} else {
			summary, err = p.RunDaily(ctx, opts)
		}

		if summary != nil {
			if recErr := a.recordSummary(ctx, summary); recErr != nil {
				a.log.WithError(recErr).Warn("Failed to record pipeline summary")
			}
			if pipelineJSON {
				if jsonErr := PrintJSON(summary); jsonErr != nil {
					return jsonErr
				}
			} else {
				printSummary(summary)
			}
		}

		var execErr *pipeline.ExecutionError
		if errors.As(err, &execErr) {
			PrintError(fmt.Sprintf("Step %s failed: %v", execErr.Step, execErr.Err))
			return err
		}
		if err != nil {
			return err
		}

		if !pipelineJSON && summary.Rebalance != nil {
			fmt.Println()
			printRebalance(asOf.Format(marketdata.DateLayout), "", summary.Rebalance)
		}
		return nil
	}
}

func printSummary(summary *pipeline.Summary) {
	PrintHeader("Pipeline: "+summary.Pipeline, [][2]string{
		{"Run ID", summary.RunID},
		{"As of", summary.AsOf.Format(marketdata.DateLayout)},
		{"Dry run", fmt.Sprintf("%t", summary.DryRun)},
		{"Duration", summary.Duration.String()},
	})

	widths := []int{10, 10, 12, 36}
	PrintTableHeader([]string{"Step", "Status", "Duration", "Details"}, widths)
	for _, step := range summary.Steps {
		PrintTableRow([]string{step.Name, string(step.Status), step.Duration.String(), step.Details}, widths)
	}
	PrintSeparator()
	if len(summary.Notifications) > 0 {
		printStatuses(summary.Notifications)
	}
	if summary.Success {
		PrintSuccess("Pipeline completed")
	}
}
