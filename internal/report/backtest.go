package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"path/filepath"

	"github.com/wonny/tradeflow/internal/backtest"
	"github.com/wonny/tradeflow/internal/marketdata"
)

var (
	equityHeader = []string{"date", "equity", "cash", "daily_return", "drawdown"}
	tradeHeader  = []string{"date", "symbol", "side", "quantity", "price", "fill_price", "commission", "slippage_cost", "notional"}
)

// BacktestDir is where a run's artifacts go when the run names no directory
func (w *Writer) BacktestDir(result *backtest.Result) string {
	if result.OutputDir != "" {
		return result.OutputDir
	}
	return filepath.Join(w.dir, "backtests", result.RunID)
}

// SaveBacktest writes metrics, equity curve, trades and a manifest that lists itself
func (w *Writer) SaveBacktest(_ context.Context, result *backtest.Result) (map[string]string, error) {
	dir := w.BacktestDir(result)
	manifest := map[string]string{
		"metrics":      filepath.Join(dir, FileMetrics),
		"equity_curve": filepath.Join(dir, FileEquityCurve),
		"trades":       filepath.Join(dir, FileTrades),
	}

	if err := writeJSON(manifest["metrics"], result.Metrics); err != nil {
		return nil, err
	}

	equity := make([][]string, 0, len(result.EquityCurve))
	for _, p := range result.EquityCurve {
		equity = append(equity, []string{
			p.Date.Format(marketdata.DateLayout),
			formatFloat(p.Equity),
			formatFloat(p.Cash),
			formatFloat(p.DailyReturn),
			formatFloat(p.Drawdown),
		})
	}
	if err := writeCSV(manifest["equity_curve"], equityHeader, equity); err != nil {
		return nil, err
	}

	trades := make([][]string, 0, len(result.Trades))
	for _, t := range result.Trades {
		trades = append(trades, []string{
			t.Date.Format(marketdata.DateLayout),
			t.Symbol,
			string(t.Side),
			formatFloat(t.Quantity),
			formatFloat(t.Price),
			formatFloat(t.FillPrice),
			formatFloat(t.Commission),
			formatFloat(t.SlippageCost),
			formatFloat(t.Notional()),
		})
	}
	if err := writeCSV(manifest["trades"], tradeHeader, trades); err != nil {
		return nil, err
	}

	manifest["manifest"] = filepath.Join(dir, FileManifest)
	if err := writeJSON(manifest["manifest"], manifest); err != nil {
		return nil, err
	}

	w.logger.WithFields(map[string]interface{}{
		"run_id": result.RunID,
		"dir":    dir,
		"trades": len(result.Trades),
	}).Info("Backtest artifacts written")
	return manifest, nil
}

func writeCSV(path string, header []string, records [][]string) error {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write(header); err != nil {
		return err
	}
	if err := cw.WriteAll(records); err != nil {
		return err
	}
	return writeFile(path, buf.Bytes())
}
