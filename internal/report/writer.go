// Package report writes run artifacts under the reports directory.
//
// Layout:
//
//	<dir>/<YYYY-MM-DD>/signals.csv
//	<dir>/<YYYY-MM-DD>/risk_alerts.json
//	<dir>/<YYYY-MM-DD>/rebalance_proposal.json
//	<dir>/<YYYY-MM-DD>/pipeline_<name>.json
//	<dir>/<YYYY-MM-DD>/daily_report.{json,html}
//	<dir>/backtests/<run_id>/{metrics.json,equity_curve.csv,trades.csv,manifest.json}
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/wonny/tradeflow/internal/marketdata"
	"github.com/wonny/tradeflow/pkg/logger"
)

// Artifact file names
const (
	FileSignals     = "signals.csv"
	FileRiskAlerts  = "risk_alerts.json"
	FileRebalance   = "rebalance_proposal.json"
	FileMetrics     = "metrics.json"
	FileEquityCurve = "equity_curve.csv"
	FileTrades      = "trades.csv"
	FileManifest    = "manifest.json"
)

// ErrNoDirectory is returned when the writer has no base directory
var ErrNoDirectory = errors.New("report: reports directory not configured")

// Writer implements the strategy, risk, rebalance and backtest sinks on the filesystem
type Writer struct {
	dir    string
	logger *logger.Logger
}

// NewWriter creates a writer rooted at dir
func NewWriter(dir string, log *logger.Logger) (*Writer, error) {
	if dir == "" {
		return nil, ErrNoDirectory
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Writer{dir: dir, logger: log.WithField("component", "report")}, nil
}

// Dir returns the base directory
func (w *Writer) Dir() string {
	return w.dir
}

// DatePath returns the path of a dated artifact
func (w *Writer) DatePath(asOf time.Time, name string) string {
	return filepath.Join(w.dir, marketdata.NormalizeDate(asOf).Format(marketdata.DateLayout), name)
}

func (w *Writer) written(kind, path string) {
	w.logger.WithFields(map[string]interface{}{
		"artifact": kind,
		"path":     path,
	}).Info("Artifact written")
}

// writeJSON writes v with sorted keys and two-space indent
func writeJSON(path string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	// struct → generic map 으로 한 번 더 거쳐 키 정렬
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return err
	}
	data, err := json.MarshalIndent(generic, "", "  ")
	if err != nil {
		return err
	}
	return writeFile(path, append(data, '\n'))
}

// writeFile writes through a temp file so readers never see partial output
func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
