package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/wonny/tradeflow/internal/contracts"
	"github.com/wonny/tradeflow/internal/marketdata"
	"github.com/wonny/tradeflow/internal/pipeline"
	"github.com/wonny/tradeflow/internal/risk"
	"github.com/wonny/tradeflow/internal/strategy"
)

// SaveSignals writes signals.csv; feature columns follow rank_score in name order
func (w *Writer) SaveSignals(_ context.Context, result *strategy.Result) error {
	featureSet := map[string]bool{}
	for _, row := range result.Rows {
		for name := range row.Features {
			featureSet[name] = true
		}
	}
	features := make([]string, 0, len(featureSet))
	for name := range featureSet {
		features = append(features, name)
	}
	sort.Strings(features)

	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	header := append([]string{"date", "symbol", "signal", "rank_score"}, features...)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, row := range result.Rows {
		record := []string{
			row.Date.Format(marketdata.DateLayout),
			row.Symbol,
			string(row.Signal),
			formatFloat(row.RankScore),
		}
		for _, name := range features {
			v, ok := row.Features[name]
			if !ok {
				v = math.NaN()
			}
			record = append(record, formatFloat(v))
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}

	path := w.DatePath(result.AsOf, FileSignals)
	if err := writeFile(path, buf.Bytes()); err != nil {
		return err
	}
	w.written("signals", path)
	return nil
}

// SaveRisk writes risk_alerts.json
func (w *Writer) SaveRisk(_ context.Context, result *risk.Result) error {
	path := w.DatePath(result.AsOf, FileRiskAlerts)
	if err := writeJSON(path, result.Payload()); err != nil {
		return err
	}
	w.written("risk_alerts", path)
	return nil
}

type rebalanceDocument struct {
	Date       string                      `json:"date"`
	Status     contracts.RebalanceStatus   `json:"status"`
	CashBuffer float64                     `json:"cash_buffer"`
	Turnover   float64                     `json:"turnover"`
	Targets    []contracts.RebalanceTarget `json:"targets"`
	Orders     []contracts.RebalanceOrder  `json:"orders"`
	Notes      []string                    `json:"notes"`
}

// SaveRebalance writes rebalance_proposal.json
func (w *Writer) SaveRebalance(_ context.Context, result *contracts.RebalanceResult) error {
	doc := rebalanceDocument{
		Date:       result.AsOf.Format(marketdata.DateLayout),
		Status:     result.Status,
		CashBuffer: result.CashBuffer,
		Turnover:   result.Turnover,
		Targets:    result.Targets,
		Orders:     result.Orders,
		Notes:      result.Notes,
	}
	if doc.Targets == nil {
		doc.Targets = []contracts.RebalanceTarget{}
	}
	if doc.Orders == nil {
		doc.Orders = []contracts.RebalanceOrder{}
	}
	if doc.Notes == nil {
		doc.Notes = []string{}
	}

	path := w.DatePath(result.AsOf, FileRebalance)
	if err := writeJSON(path, doc); err != nil {
		return err
	}
	w.written("rebalance_proposal", path)
	return nil
}

// SaveSummary writes pipeline_<name>.json and returns its path
func (w *Writer) SaveSummary(_ context.Context, summary *pipeline.Summary) (string, error) {
	path := w.DatePath(summary.AsOf, fmt.Sprintf("pipeline_%s.json", summary.Pipeline))
	if err := writeJSON(path, summary); err != nil {
		return "", err
	}
	w.written("pipeline_summary", path)
	return path, nil
}

// formatFloat is the shortest round-trip form; non-finite values are empty cells
func formatFloat(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
