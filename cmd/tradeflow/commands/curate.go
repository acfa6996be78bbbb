package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/wonny/tradeflow/internal/marketdata"
)

// curateCmd turns raw OHLCV files into curated datasets
var curateCmd = &cobra.Command{
	Use:   "curate",
	Short: "원천 데이터 정제 (curated dataset 생성)",
	Long: `paths.data_raw/<SYMBOL>.csv 의 OHLCV 를 영업일 달력에 맞추고
sma_100, sma_200, ret_1d, ret_20d, rolling_peak 를 계산하여
paths.data_curated 와 DB(설정 시)에 저장합니다.

Example:
  go run ./cmd/tradeflow curate --date 2024-05-31
  go run ./cmd/tradeflow curate --raw data/raw --symbols AAPL,MSFT`,
	RunE: runCurate,
}

var (
	curateDate    string
	curateRawDir  string
	curateSymbols []string
)

func init() {
	rootCmd.AddCommand(curateCmd)

	curateCmd.Flags().StringVar(&curateDate, "date", "", "last calendar date YYYY-MM-DD (default today)")
	curateCmd.Flags().StringVar(&curateRawDir, "raw", "", "raw data directory (default paths.data_raw)")
	curateCmd.Flags().StringSliceVar(&curateSymbols, "symbols", nil, "symbols to curate (default universe + benchmark)")
}

func runCurate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	asOf, err := parseAsOf(curateDate)
	if err != nil {
		return err
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	rawDir := curateRawDir
	if rawDir == "" {
		rawDir = a.strategy.Paths.DataRaw
	}
	if rawDir == "" {
		return errors.New("raw data directory not configured (paths.data_raw or --raw)")
	}

	symbols := curateSymbols
	if len(symbols) == 0 {
		symbols = append(symbols, a.strategy.Universe.Tickers...)
		if mf := a.strategy.Risk.MarketFilter; mf != nil && mf.Benchmark != "" {
			symbols = append(symbols, mf.Benchmark)
		}
	}

	csvOut := marketdata.NewCSVSource(a.curatedDir())
	var pgOut *marketdata.PostgresSource
	if a.db != nil {
		pgOut = marketdata.NewPostgresSource(a.db.Pool)
		if err := pgOut.EnsureSchema(ctx); err != nil {
			return err
		}
	}

	opts := a.strategy.CurateOptions()
	PrintHeader("Curate", [][2]string{
		{"As of", asOf.Format(marketdata.DateLayout)},
		{"Raw", rawDir},
		{"Curated", a.curatedDir()},
		{"Symbols", strconv.Itoa(len(symbols))},
	})

	widths := []int{8, 6, 7, 8}
	PrintTableHeader([]string{"Symbol", "Rows", "Filled", "Missing"}, widths)

	failed := 0
	for _, symbol := range symbols {
		log := a.log.WithField("symbol", symbol)

		bars, err := marketdata.LoadRawBars(rawDir, symbol)
		if err != nil {
			log.WithError(err).Warn("Raw dataset unavailable")
			failed++
			continue
		}
		frame, report, err := marketdata.Curate(symbol, bars, asOf, opts)
		if err != nil {
			log.WithError(err).Warn("Curation failed")
			failed++
			continue
		}
		if err := csvOut.Save(frame); err != nil {
			return err
		}
		if pgOut != nil {
			if err := pgOut.Save(ctx, frame); err != nil {
				return err
			}
		}

		PrintTableRow([]string{
			frame.Symbol,
			strconv.Itoa(frame.Len()),
			strconv.Itoa(report.FilledDays),
			strconv.Itoa(len(report.MissingDays)),
		}, widths)
	}
	PrintSeparator()

	if failed > 0 {
		PrintWarning(fmt.Sprintf("%d of %d symbols skipped", failed, len(symbols)))
		return fmt.Errorf("curate: %d symbols failed", failed)
	}
	PrintSuccess(fmt.Sprintf("%d symbols curated", len(symbols)))
	return nil
}
