package report

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/wonny/tradeflow/internal/contracts"
	"github.com/wonny/tradeflow/internal/marketdata"
	"github.com/wonny/tradeflow/internal/pipeline"
	"github.com/wonny/tradeflow/internal/risk"
	"github.com/wonny/tradeflow/internal/strategy"
	"github.com/wonny/tradeflow/pkg/logger"
)

const (
	signalRowsInReport = 15
	sharpeWindow       = 63
	tradingDaysPerYear = 252
)

// Report notes for missing sections
const (
	NoteRiskMissing      = "Risk alerts artifact missing; section rendered with placeholder."
	NoteRebalanceMissing = "Rebalance proposal artifact missing; orders section empty."
	NoteSignalsMissing   = "Signals not supplied; signal table omitted."
)

// DailyBuilder assembles the daily operator report from pipeline results
type DailyBuilder struct {
	source  marketdata.Source
	writer  *Writer
	baseCcy string
	clock   func() time.Time
	logger  *logger.Logger
}

// NewDailyBuilder creates a builder; writer may be nil, which never writes
func NewDailyBuilder(source marketdata.Source, writer *Writer, baseCcy string, log *logger.Logger) *DailyBuilder {
	if log == nil {
		log = logger.Nop()
	}
	return &DailyBuilder{
		source:  source,
		writer:  writer,
		baseCcy: baseCcy,
		clock:   time.Now,
		logger:  log.WithField("component", "daily_report"),
	}
}

// WithClock overrides the generation timestamp source
func (b *DailyBuilder) WithClock(clock func() time.Time) *DailyBuilder {
	b.clock = clock
	return b
}

// BuildReport implements pipeline.Reporter
func (b *DailyBuilder) BuildReport(ctx context.Context, in pipeline.ReportInput) (*contracts.DailyReport, error) {
	asOf := marketdata.NormalizeDate(in.AsOf)
	rep := &contracts.DailyReport{
		AsOf:         asOf.Format(marketdata.DateLayout),
		GeneratedAt:  b.clock().UTC(),
		BaseCurrency: in.Holdings.BaseCcy,
		Notes:        []string{},
	}
	if rep.BaseCurrency == "" {
		rep.BaseCurrency = b.baseCcy
	}

	portfolio, frames, err := b.portfolio(ctx, asOf, in.Holdings)
	if err != nil {
		return nil, err
	}
	rep.Portfolio = portfolio

	rep.Risk = riskSection(in.Risk)
	if rep.Risk == nil {
		rep.Notes = append(rep.Notes, NoteRiskMissing)
	}

	rep.Actions = actionsSection(in.Rebalance)
	if in.Rebalance == nil {
		rep.Notes = append(rep.Notes, NoteRebalanceMissing)
	} else {
		rep.Notes = append(rep.Notes, in.Rebalance.Notes...)
	}

	rep.Signals = signalsSection(in.Signals, asOf)
	if in.Signals == nil {
		rep.Notes = append(rep.Notes, NoteSignalsMissing)
	}

	rep.Performance = performanceSection(portfolio, frames)
	rep.Manifest = b.manifest(asOf)

	log := b.logger.WithFields(map[string]interface{}{
		"as_of":     rep.AsOf,
		"positions": len(rep.Portfolio.Positions),
		"notes":     len(rep.Notes),
	})
	if in.DryRun || b.writer == nil {
		log.Info("Daily report built (not written)")
		return rep, nil
	}
	if err := b.writer.SaveDailyReport(ctx, rep); err != nil {
		return nil, err
	}
	log.Info("Daily report built")
	return rep, nil
}

// portfolio values each holding at its latest curated close
func (b *DailyBuilder) portfolio(ctx context.Context, asOf time.Time, holdings contracts.HoldingsSnapshot) (contracts.ReportPortfolio, map[string]marketdata.Frame, error) {
	cash := holdings.CashOrZero()
	out := contracts.ReportPortfolio{
		Positions: make([]contracts.ReportPosition, 0, len(holdings.Positions)),
		Cash:      cash,
		Value:     cash,
	}
	frames := make(map[string]marketdata.Frame, len(holdings.Positions))

	for _, pos := range holdings.Positions {
		frame, err := b.source.Load(ctx, pos.Symbol, asOf)
		if err != nil {
			return contracts.ReportPortfolio{}, nil, fmt.Errorf("portfolio %s: %w", pos.Symbol, err)
		}
		frames[pos.Symbol] = frame

		price := frame.Latest(marketdata.ColClose)
		if math.IsNaN(price) {
			price = 0
		}
		value := price * pos.Qty
		out.Invested += value
		out.Value += value

		entry := contracts.ReportPosition{
			Symbol:    pos.Symbol,
			Quantity:  pos.Qty,
			Price:     price,
			Value:     value,
			CostBasis: pos.CostBasis,
			Ret20D:    contracts.Finite(frame.Latest(marketdata.ColRet20D)),
		}
		if pos.CostBasis != nil {
			unrealized := (price - *pos.CostBasis) * pos.Qty
			entry.Unrealized = &unrealized
			if *pos.CostBasis != 0 {
				pct := price / *pos.CostBasis - 1
				entry.UnrealizedPct = &pct
			}
		}
		out.Positions = append(out.Positions, entry)
	}

	if out.Value != 0 {
		for i := range out.Positions {
			out.Positions[i].Weight = out.Positions[i].Value / out.Value
		}
	}
	sort.SliceStable(out.Positions, func(i, j int) bool {
		vi, vj := math.Abs(out.Positions[i].Value), math.Abs(out.Positions[j].Value)
		if vi != vj {
			return vi > vj
		}
		return out.Positions[i].Symbol < out.Positions[j].Symbol
	})
	return out, frames, nil
}

func riskSection(result *risk.Result) *contracts.ReportRisk {
	if result == nil {
		return nil
	}
	section := &contracts.ReportRisk{
		MarketState: string(result.MarketState),
		Alerts:      make([]contracts.ReportAlert, 0, len(result.Alerts)),
		Benchmark:   result.Benchmark,
		Passed:      result.MarketFilterPass,
		Rule:        result.Rule,
	}
	for _, a := range result.Alerts {
		section.Alerts = append(section.Alerts, contracts.ReportAlert{
			Symbol:    a.Symbol,
			Type:      string(a.Type),
			Value:     a.Value,
			Threshold: a.Threshold,
			Reason:    a.Reason,
		})
	}
	sort.SliceStable(section.Alerts, func(i, j int) bool {
		if section.Alerts[i].Symbol != section.Alerts[j].Symbol {
			return section.Alerts[i].Symbol < section.Alerts[j].Symbol
		}
		return section.Alerts[i].Type < section.Alerts[j].Type
	})
	return section
}

func actionsSection(result *contracts.RebalanceResult) contracts.ReportActions {
	if result == nil {
		return contracts.ReportActions{
			Orders: []contracts.RebalanceOrder{},
			Exits:  []string{},
			Status: contracts.ActionsUnknown,
		}
	}
	out := contracts.ReportActions{
		Orders: append([]contracts.RebalanceOrder{}, result.Orders...),
		Exits:  []string{},
		Status: string(result.Status),
	}
	turnover := result.Turnover
	out.Turnover = &turnover

	sort.SliceStable(out.Orders, func(i, j int) bool { return out.Orders[i].Symbol < out.Orders[j].Symbol })
	for _, t := range result.Targets {
		if t.TargetWeight == 0 {
			out.Exits = append(out.Exits, t.Symbol)
		}
	}
	sort.Strings(out.Exits)
	return out
}

// signalsSection keeps the top rows dated asOf, rank desc then symbol
func signalsSection(result *strategy.Result, asOf time.Time) []contracts.ReportSignal {
	out := []contracts.ReportSignal{}
	if result == nil {
		return out
	}
	rows := make(contracts.SignalTable, 0, len(result.Rows))
	for _, row := range result.Rows {
		if marketdata.NormalizeDate(row.Date).Equal(asOf) {
			rows = append(rows, row)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].RankScore != rows[j].RankScore {
			return rows[i].RankScore > rows[j].RankScore
		}
		return rows[i].Symbol < rows[j].Symbol
	})
	if len(rows) > signalRowsInReport {
		rows = rows[:signalRowsInReport]
	}
	for _, row := range rows {
		out = append(out, contracts.ReportSignal{
			Symbol:    row.Symbol,
			Signal:    row.Signal,
			RankScore: contracts.Finite(row.RankScore),
		})
	}
	return out
}

// performanceSection computes the value-weighted trailing Sharpe and 20d return
//
// Each symbol contributes its last 63 non-missing daily returns; series are
// aligned by date and absent days count as zero.
func performanceSection(portfolio contracts.ReportPortfolio, frames map[string]marketdata.Frame) contracts.ReportPerformance {
	var perf contracts.ReportPerformance
	if len(frames) == 0 {
		return perf
	}

	weights := make(map[string]float64, len(portfolio.Positions))
	for _, p := range portfolio.Positions {
		if portfolio.Invested != 0 {
			weights[p.Symbol] = p.Value / portfolio.Invested
		} else {
			weights[p.Symbol] = 0
		}
	}

	symbols := make([]string, 0, len(frames))
	for sym := range frames {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	combined := map[time.Time]float64{}
	for _, sym := range symbols {
		frame := frames[sym]
		returns, ok := frame.Column(marketdata.ColRet1D)
		if !ok {
			continue
		}
		taken := 0
		for i := len(returns) - 1; i >= 0 && taken < sharpeWindow; i-- {
			if math.IsNaN(returns[i]) {
				continue
			}
			combined[frame.Dates[i]] += returns[i] * weights[sym]
			taken++
		}
	}

	if n := float64(len(combined)); n > 0 {
		dates := make([]time.Time, 0, len(combined))
		for d := range combined {
			dates = append(dates, d)
		}
		sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

		mean := 0.0
		for _, d := range dates {
			mean += combined[d]
		}
		mean /= n
		variance := 0.0
		for _, d := range dates {
			diff := combined[d] - mean
			variance += diff * diff
		}
		if std := math.Sqrt(variance / n); std > 0 {
			sharpe := mean / std * math.Sqrt(tradingDaysPerYear)
			perf.Sharpe63D = &sharpe
		}
	}

	if portfolio.Invested != 0 {
		acc, weightSum := 0.0, 0.0
		for _, sym := range symbols {
			ret := frames[sym].Latest(marketdata.ColRet20D)
			if math.IsNaN(ret) {
				continue
			}
			acc += weights[sym] * ret
			weightSum += weights[sym]
		}
		if weightSum > 0 {
			perf.Return20D = &acc
		}
	}
	return perf
}

// manifest fingerprints the dated artifacts the report summarizes
func (b *DailyBuilder) manifest(asOf time.Time) map[string]contracts.ManifestEntry {
	out := map[string]contracts.ManifestEntry{}
	if b.writer == nil {
		out["reports_dir"] = contracts.ManifestEntry{}
		return out
	}
	artifacts := map[string]string{
		"signals":            FileSignals,
		"risk_alerts":        FileRiskAlerts,
		"rebalance_proposal": FileRebalance,
	}
	for name, file := range artifacts {
		path := b.writer.DatePath(asOf, file)
		sum, err := fileSHA256(path)
		if err != nil {
			if !os.IsNotExist(err) {
				b.logger.WithError(err).WithField("path", path).Warn("Unable to fingerprint artifact")
			}
			continue
		}
		out[name] = contracts.ManifestEntry{Path: path, SHA256: sum}
	}
	if len(out) == 0 {
		out["reports_dir"] = contracts.ManifestEntry{Path: filepath.Dir(b.writer.DatePath(asOf, FileSignals))}
	}
	return out
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
