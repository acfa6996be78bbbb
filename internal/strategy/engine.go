package strategy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/wonny/tradeflow/internal/contracts"
	"github.com/wonny/tradeflow/internal/marketdata"
	"github.com/wonny/tradeflow/internal/rules"
	"github.com/wonny/tradeflow/pkg/logger"
)

// RankMomentum63D is the built-in rank metric close/close(63 rows ago) - 1
const RankMomentum63D = "momentum_63d"

const momentumLag = 63

var (
	// ErrUnsupportedRankMetric is returned when the rank metric is neither built in nor a column
	ErrUnsupportedRankMetric = errors.New("unsupported rank metric")
	// ErrSymbolNotEvaluated is returned by Explain for a symbol with no evaluation
	ErrSymbolNotEvaluated = errors.New("symbol not evaluated")
	// ErrMissingClose is returned when a curated frame has no close column
	ErrMissingClose = errors.New("curated data missing 'close' column")
)

// indicatorKeys are copied from the latest row when present
var indicatorKeys = []string{
	marketdata.ColClose,
	marketdata.ColSMA100,
	marketdata.ColSMA200,
	marketdata.ColRet1D,
	marketdata.ColRet20D,
	marketdata.ColRollingPeak,
}

// Config holds the strategy rule set
type Config struct {
	Entry    string
	Exit     string
	Rank     string // RankMomentum63D or a column name
	Universe []string
}

// Sink receives strategy results of non-dry-run builds
type Sink interface {
	SaveSignals(ctx context.Context, result *Result) error
}

// Engine evaluates entry/exit rules and rank scores for a universe
// ⭐ SSOT: 종목별 BUY/HOLD/EXIT 판정은 여기서만
type Engine struct {
	entry    *rules.Evaluator
	exit     *rules.Evaluator
	rank     string
	universe []string
	source   marketdata.Source
	logger   *logger.Logger
}

// New parses the rules; any syntax error fails here
func New(cfg Config, source marketdata.Source, log *logger.Logger) (*Engine, error) {
	entry, err := rules.New(cfg.Entry)
	if err != nil {
		return nil, fmt.Errorf("entry rule: %w", err)
	}
	exit, err := rules.New(cfg.Exit)
	if err != nil {
		return nil, fmt.Errorf("exit rule: %w", err)
	}
	if source == nil {
		return nil, errors.New("strategy: nil data source")
	}
	if log == nil {
		log = logger.Nop()
	}

	rank := strings.TrimSpace(cfg.Rank)
	if rank == "" {
		rank = RankMomentum63D
	}

	seen := make(map[string]bool, len(cfg.Universe))
	universe := make([]string, 0, len(cfg.Universe))
	for _, sym := range cfg.Universe {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		universe = append(universe, sym)
	}
	sort.Strings(universe)

	return &Engine{
		entry:    entry,
		exit:     exit,
		rank:     rank,
		universe: universe,
		source:   source,
		logger:   log.WithField("component", "strategy"),
	}, nil
}

// Universe returns the sorted, upper-cased universe
func (e *Engine) Universe() []string {
	out := make([]string, len(e.universe))
	copy(out, e.universe)
	return out
}

// RankMetric returns the configured rank metric
func (e *Engine) RankMetric() string {
	return e.rank
}

// Evaluate computes signals for every universe symbol with curated data
//
// window > 0 keeps only the last window rows of each frame; otherwise the
// full history up to asOf is used. Symbols without data are skipped.
func (e *Engine) Evaluate(ctx context.Context, asOf time.Time, window int) (*Result, error) {
	asOf = marketdata.NormalizeDate(asOf)
	result := &Result{
		AsOf:        asOf,
		Rows:        contracts.SignalTable{},
		Evaluations: make(map[string]SymbolEvaluation, len(e.universe)),
	}

	for _, symbol := range e.universe {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		frame, err := e.source.Load(ctx, symbol, asOf)
		switch {
		case errors.Is(err, marketdata.ErrNotFound):
			e.logger.WithField("symbol", symbol).Warn("Curated dataset missing")
			continue
		case errors.Is(err, marketdata.ErrEmptyDataset):
			e.logger.WithField("symbol", symbol).Warn("Curated dataset empty")
			continue
		case err != nil:
			return nil, fmt.Errorf("load %s: %w", symbol, err)
		}

		eval, err := e.evaluateFrame(symbol, frame, window)
		if err != nil {
			return nil, err
		}

		result.Evaluations[symbol] = eval
		result.Rows = append(result.Rows, contracts.SignalRow{
			Date:      asOf,
			Symbol:    symbol,
			Signal:    eval.Signal,
			RankScore: eval.RankScore,
			Features:  eval.Features,
		})
		if eval.EntryRule {
			result.EntryCount++
		}
		if eval.ExitRule {
			result.ExitCount++
		}
	}

	result.Rows.SortByRank()

	e.logger.WithFields(map[string]interface{}{
		"as_of":   asOf.Format(marketdata.DateLayout),
		"symbols": len(result.Rows),
		"entries": result.EntryCount,
		"exits":   result.ExitCount,
	}).Info("Strategy evaluation complete")

	return result, nil
}

// Build evaluates and hands the result to sink unless dryRun or nothing was evaluated
func (e *Engine) Build(ctx context.Context, asOf time.Time, window int, dryRun bool, sink Sink) (*Result, error) {
	result, err := e.Evaluate(ctx, asOf, window)
	if err != nil {
		return nil, err
	}
	if dryRun || sink == nil || len(result.Rows) == 0 {
		return result, nil
	}
	if err := sink.SaveSignals(ctx, result); err != nil {
		return result, fmt.Errorf("save signals: %w", err)
	}
	return result, nil
}

// Explain returns the evaluation of one symbol
func (e *Engine) Explain(ctx context.Context, symbol string, asOf time.Time, window int) (SymbolEvaluation, error) {
	result, err := e.Evaluate(ctx, asOf, window)
	if err != nil {
		return SymbolEvaluation{}, err
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	eval, ok := result.Evaluations[symbol]
	if !ok {
		return SymbolEvaluation{}, fmt.Errorf("%w: %s", ErrSymbolNotEvaluated, symbol)
	}
	return eval, nil
}

func (e *Engine) evaluateFrame(symbol string, frame marketdata.Frame, window int) (SymbolEvaluation, error) {
	if window > 0 {
		frame = frame.Tail(window)
	}

	entrySeries, err := e.entry.Evaluate(frame)
	if err != nil {
		return SymbolEvaluation{}, fmt.Errorf("%s entry rule: %w", symbol, err)
	}
	exitSeries, err := e.exit.Evaluate(frame)
	if err != nil {
		return SymbolEvaluation{}, fmt.Errorf("%s exit rule: %w", symbol, err)
	}
	entryFlag := entrySeries.Last()
	exitFlag := exitSeries.Last()

	closes, ok := frame.Column(marketdata.ColClose)
	if !ok {
		return SymbolEvaluation{}, fmt.Errorf("%s: %w", symbol, ErrMissingClose)
	}
	momentum := latestMomentum(closes, momentumLag)

	rankScore := momentum
	if e.rank != RankMomentum63D {
		if !frame.Has(e.rank) {
			return SymbolEvaluation{}, fmt.Errorf("%w: %s", ErrUnsupportedRankMetric, e.rank)
		}
		rankScore = frame.Latest(e.rank)
	}
	if math.IsNaN(rankScore) {
		rankScore = math.Inf(-1)
	}

	indicators := make(map[string]float64, len(indicatorKeys))
	for _, key := range indicatorKeys {
		if frame.Has(key) {
			indicators[key] = frame.Latest(key)
		}
	}

	return SymbolEvaluation{
		Symbol:     symbol,
		Signal:     classify(entryFlag, exitFlag),
		EntryRule:  entryFlag,
		ExitRule:   exitFlag,
		RankScore:  rankScore,
		Features:   map[string]float64{RankMomentum63D: momentum},
		Indicators: indicators,
	}, nil
}

// classify gives exit precedence over entry
func classify(entry, exit bool) contracts.Signal {
	switch {
	case exit:
		return contracts.SignalExit
	case entry:
		return contracts.SignalBuy
	default:
		return contracts.SignalHold
	}
}

// latestMomentum is close[last]/close[last-lag] - 1, NaN when not computable
func latestMomentum(closes []float64, lag int) float64 {
	n := len(closes)
	if n <= lag {
		return math.NaN()
	}
	prev, last := closes[n-1-lag], closes[n-1]
	if math.IsNaN(prev) || math.IsNaN(last) {
		return math.NaN()
	}
	return last/prev - 1
}
