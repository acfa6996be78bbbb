package report

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/tradeflow/internal/backtest"
	"github.com/wonny/tradeflow/internal/contracts"
	"github.com/wonny/tradeflow/internal/marketdata/mdtest"
	"github.com/wonny/tradeflow/internal/pipeline"
	"github.com/wonny/tradeflow/internal/risk"
	"github.com/wonny/tradeflow/internal/strategy"
	"github.com/wonny/tradeflow/pkg/logger"
)

func newWriter(t *testing.T) *Writer {
	t.Helper()
	w, err := NewWriter(t.TempDir(), logger.Nop())
	require.NoError(t, err)
	return w
}

func readJSON(t *testing.T, path string) map[string]interface{} {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}

func TestNewWriter_RequiresDir(t *testing.T) {
	_, err := NewWriter("", nil)
	assert.ErrorIs(t, err, ErrNoDirectory)
}

func TestSaveSignals(t *testing.T) {
	w := newWriter(t)
	asOf := mdtest.Date(t, "2024-05-31")
	result := &strategy.Result{
		AsOf: asOf,
		Rows: contracts.SignalTable{
			{Date: asOf, Symbol: "NVDA", Signal: contracts.SignalBuy, RankScore: 0.25, Features: map[string]float64{"momentum_63d": 0.25}},
			{Date: asOf, Symbol: "AAPL", Signal: contracts.SignalHold, RankScore: math.Inf(-1), Features: map[string]float64{"momentum_63d": math.NaN()}},
		},
	}

	require.NoError(t, w.SaveSignals(context.Background(), result))

	records := readCSV(t, filepath.Join(w.Dir(), "2024-05-31", FileSignals))
	assert.Equal(t, [][]string{
		{"date", "symbol", "signal", "rank_score", "momentum_63d"},
		{"2024-05-31", "NVDA", "BUY", "0.25", "0.25"},
		{"2024-05-31", "AAPL", "HOLD", "", ""},
	}, records)
}

func TestSaveRisk_SortedPayload(t *testing.T) {
	w := newWriter(t)
	asOf := mdtest.Date(t, "2024-05-31")
	passed := false
	result := &risk.Result{
		AsOf:        asOf,
		EvaluatedAt: time.Date(2024, 5, 31, 21, 0, 0, 0, time.UTC),
		MarketState: risk.RiskOff,
		Alerts: []risk.Alert{{
			Symbol: "AAPL", Type: risk.AlertCrash, Value: -0.1, Threshold: -0.08,
			Reason: "Daily return -0.1000 <= crash threshold -0.0800",
		}},
		MarketFilterPass: &passed,
		Benchmark:        "SPY",
		Rule:             "close > sma_200",
	}

	require.NoError(t, w.SaveRisk(context.Background(), result))

	path := filepath.Join(w.Dir(), "2024-05-31", FileRiskAlerts)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Regexp(t, `^\{\n  "alerts": \[`, string(raw))

	doc := readJSON(t, path)
	assert.Equal(t, "2024-05-31", doc["date"])
	assert.Equal(t, "RISK_OFF", doc["market_state"])
	assert.Equal(t, "2024-05-31T21:00:00Z", doc["evaluated_at"])
	filter := doc["market_filter"].(map[string]interface{})
	assert.Equal(t, false, filter["passed"])
	assert.Len(t, doc["alerts"], 1)
}

func TestSaveRebalance(t *testing.T) {
	w := newWriter(t)
	asOf := mdtest.Date(t, "2024-05-31")
	result := &contracts.RebalanceResult{
		AsOf:       asOf,
		Status:     contracts.StatusNoRebalance,
		CashBuffer: 0.1,
	}

	require.NoError(t, w.SaveRebalance(context.Background(), result))

	doc := readJSON(t, filepath.Join(w.Dir(), "2024-05-31", FileRebalance))
	assert.Equal(t, "NO_REBALANCE", doc["status"])
	assert.Equal(t, 0.1, doc["cash_buffer"])
	assert.Equal(t, []interface{}{}, doc["targets"])
	assert.Equal(t, []interface{}{}, doc["orders"])
	assert.Equal(t, []interface{}{}, doc["notes"])
}

func TestSaveBacktest_Manifest(t *testing.T) {
	w := newWriter(t)
	day := mdtest.Date(t, "2024-01-02")
	result := &backtest.Result{
		RunID: "run-1",
		Metrics: backtest.Metrics{
			Start: "2024-01-02", End: "2024-01-02", TradingDays: 1,
			InitialCash: 1000, FinalEquity: 1000, Sortino: math.Inf(1),
		},
		EquityCurve: []backtest.EquityPoint{{Date: day, Equity: 1000, Cash: 1000}},
		Trades: []backtest.Trade{{
			Date: day, Symbol: "AAPL", Side: contracts.SideBuy, Quantity: 2,
			Price: 100, FillPrice: 100.05, Commission: 1, SlippageCost: 0.1,
		}},
	}

	manifest, err := w.SaveBacktest(context.Background(), result)
	require.NoError(t, err)

	dir := filepath.Join(w.Dir(), "backtests", "run-1")
	assert.Equal(t, map[string]string{
		"metrics":      filepath.Join(dir, FileMetrics),
		"equity_curve": filepath.Join(dir, FileEquityCurve),
		"trades":       filepath.Join(dir, FileTrades),
		"manifest":     filepath.Join(dir, FileManifest),
	}, manifest)

	onDisk := readJSON(t, manifest["manifest"])
	assert.Equal(t, manifest["manifest"], onDisk["manifest"])

	metrics := readJSON(t, manifest["metrics"])
	assert.Equal(t, "inf", metrics["sortino"])
	assert.NotContains(t, metrics, "label")

	trades := readCSV(t, manifest["trades"])
	require.Len(t, trades, 2)
	assert.Equal(t, tradeHeader, trades[0])
	assert.Equal(t, []string{"2024-01-02", "AAPL", "BUY", "2", "100", "100.05", "1", "0.1", "200.1"}, trades[1])

	equity := readCSV(t, manifest["equity_curve"])
	assert.Equal(t, [][]string{equityHeader, {"2024-01-02", "1000", "1000", "0", "0"}}, equity)
}

func TestSaveBacktest_ExplicitOutputDir(t *testing.T) {
	w := newWriter(t)
	out := filepath.Join(t.TempDir(), "custom")

	manifest, err := w.SaveBacktest(context.Background(), &backtest.Result{RunID: "x", OutputDir: out})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, FileManifest), manifest["manifest"])
	assert.FileExists(t, filepath.Join(out, FileTrades))
}

func TestSaveSummary(t *testing.T) {
	w := newWriter(t)
	summary := &pipeline.Summary{
		RunID:    "run-2",
		Pipeline: pipeline.NameDaily,
		AsOf:     mdtest.Date(t, "2024-05-31"),
		Success:  true,
		Steps:    []pipeline.Step{{Name: pipeline.StepSignals, Status: pipeline.StatusCompleted, Details: "records=2 entries=1 exits=0"}},
	}

	path, err := w.SaveSummary(context.Background(), summary)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(w.Dir(), "2024-05-31", "pipeline_daily.json"), path)

	doc := readJSON(t, path)
	assert.Equal(t, "run-2", doc["run_id"])
	assert.Equal(t, true, doc["success"])
}
