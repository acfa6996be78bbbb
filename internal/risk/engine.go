package risk

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

var (
	// ErrInvalidConfig is returned for an unusable threshold or market filter
	ErrInvalidConfig = errors.New("invalid risk config")
	// ErrSymbolNotEvaluated is returned by Explain for a symbol with no evaluation
	ErrSymbolNotEvaluated = errors.New("symbol not evaluated")
)

// MarketFilter gates new risk on a benchmark rule
type MarketFilter struct {
	Benchmark string
	Rule      string
}

// Config holds the risk thresholds (fractions, e.g. -0.08)
type Config struct {
	CrashThreshold    float64
	DrawdownThreshold float64
	MarketFilter      *MarketFilter
}

// Sink receives results of non-dry-run builds
type Sink interface {
	SaveRisk(ctx context.Context, result *Result) error
}

// Option configures an Engine
type Option func(*Engine)

// WithClock overrides the evaluated_at clock
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

// Engine computes crash/drawdown alerts for holdings and the market state
// ⭐ SSOT: 보유 종목 경보와 RISK_ON/RISK_OFF 판정은 여기서만
type Engine struct {
	crash     float64
	drawdown  float64
	benchmark string
	rule      *rules.Evaluator
	source    marketdata.Source
	clock     func() time.Time
	logger    *logger.Logger
}

// New validates thresholds and parses the market filter rule
func New(cfg Config, source marketdata.Source, log *logger.Logger, opts ...Option) (*Engine, error) {
	if source == nil {
		return nil, fmt.Errorf("%w: nil data source", ErrInvalidConfig)
	}
	if math.IsNaN(cfg.CrashThreshold) || math.IsNaN(cfg.DrawdownThreshold) {
		return nil, fmt.Errorf("%w: thresholds must be numbers", ErrInvalidConfig)
	}
	if log == nil {
		log = logger.Nop()
	}

	e := &Engine{
		crash:    cfg.CrashThreshold,
		drawdown: cfg.DrawdownThreshold,
		source:   source,
		clock:    func() time.Time { return time.Now().UTC() },
		logger:   log.WithField("component", "risk"),
	}

	if cfg.MarketFilter != nil {
		benchmark := strings.ToUpper(strings.TrimSpace(cfg.MarketFilter.Benchmark))
		if benchmark == "" {
			return nil, fmt.Errorf("%w: market_filter.benchmark is required", ErrInvalidConfig)
		}
		rule, err := rules.New(cfg.MarketFilter.Rule)
		if err != nil {
			return nil, fmt.Errorf("market filter rule: %w", err)
		}
		e.benchmark = benchmark
		e.rule = rule
	}

	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Benchmark returns the upper-cased benchmark symbol, empty without a filter
func (e *Engine) Benchmark() string {
	return e.benchmark
}

// Evaluate checks every held position and the market filter as of asOf
func (e *Engine) Evaluate(ctx context.Context, asOf time.Time, holdings contracts.HoldingsSnapshot) (*Result, error) {
	asOf = marketdata.NormalizeDate(asOf)
	holdings, err := holdings.Normalize()
	if err != nil {
		return nil, err
	}

	result := &Result{
		AsOf:        asOf,
		Alerts:      []Alert{},
		Evaluations: make(map[string]SymbolEvaluation, len(holdings.Positions)),
		Benchmark:   e.benchmark,
	}
	if e.rule != nil {
		result.Rule = e.rule.Expression()
	}

	for _, pos := range holdings.Positions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		frame, ok, err := e.load(ctx, pos.Symbol, asOf)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		eval := e.evaluateFrame(pos.Symbol, frame)
		result.Evaluations[pos.Symbol] = eval
		if eval.CrashTriggered {
			result.Alerts = append(result.Alerts, Alert{
				Symbol:    pos.Symbol,
				Type:      AlertCrash,
				Value:     eval.DailyReturn,
				Threshold: e.crash,
				Reason:    fmt.Sprintf("Daily return %.4f <= crash threshold %.4f", eval.DailyReturn, e.crash),
			})
		}
		if eval.DrawdownTriggered {
			result.Alerts = append(result.Alerts, Alert{
				Symbol:    pos.Symbol,
				Type:      AlertDrawdown,
				Value:     eval.Drawdown,
				Threshold: e.drawdown,
				Reason:    fmt.Sprintf("Drawdown %.4f <= threshold %.4f", eval.Drawdown, e.drawdown),
			})
		}
	}

	sort.SliceStable(result.Alerts, func(i, j int) bool {
		if result.Alerts[i].Symbol != result.Alerts[j].Symbol {
			return result.Alerts[i].Symbol < result.Alerts[j].Symbol
		}
		return result.Alerts[i].Type < result.Alerts[j].Type
	})

	state, passed, err := e.marketFilter(ctx, asOf)
	if err != nil {
		return nil, err
	}
	result.MarketState = state
	result.MarketFilterPass = passed
	result.EvaluatedAt = e.clock()

	e.logger.WithFields(map[string]interface{}{
		"as_of":        asOf.Format(marketdata.DateLayout),
		"alerts":       len(result.Alerts),
		"market_state": state,
	}).Info("Risk evaluation complete")

	return result, nil
}

// Build evaluates and hands the result to sink unless dryRun
func (e *Engine) Build(ctx context.Context, asOf time.Time, holdings contracts.HoldingsSnapshot, dryRun bool, sink Sink) (*Result, error) {
	result, err := e.Evaluate(ctx, asOf, holdings)
	if err != nil {
		return nil, err
	}
	if dryRun || sink == nil {
		return result, nil
	}
	if err := sink.SaveRisk(ctx, result); err != nil {
		return result, fmt.Errorf("save risk alerts: %w", err)
	}
	return result, nil
}

// Explain returns the evaluation of one held symbol
func (e *Engine) Explain(ctx context.Context, symbol string, asOf time.Time, holdings contracts.HoldingsSnapshot) (SymbolEvaluation, error) {
	result, err := e.Evaluate(ctx, asOf, holdings)
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

// load returns ok=false for missing or empty curated data
func (e *Engine) load(ctx context.Context, symbol string, asOf time.Time) (marketdata.Frame, bool, error) {
	frame, err := e.source.Load(ctx, symbol, asOf)
	switch {
	case errors.Is(err, marketdata.ErrNotFound), errors.Is(err, marketdata.ErrEmptyDataset):
		e.logger.WithError(err).WithField("symbol", symbol).Warn("Curated dataset missing")
		return marketdata.Frame{}, false, nil
	case err != nil:
		return marketdata.Frame{}, false, fmt.Errorf("load %s: %w", symbol, err)
	case frame.Empty():
		e.logger.WithField("symbol", symbol).Warn("Curated dataset empty")
		return marketdata.Frame{}, false, nil
	}
	return frame, true, nil
}

func (e *Engine) evaluateFrame(symbol string, frame marketdata.Frame) SymbolEvaluation {
	dailyReturn := frame.Latest(marketdata.ColRet1D)
	closePx := frame.Latest(marketdata.ColClose)
	peak := frame.Latest(marketdata.ColRollingPeak)
	drawdown := computeDrawdown(closePx, peak)

	return SymbolEvaluation{
		Symbol:            symbol,
		DailyReturn:       dailyReturn,
		Drawdown:          drawdown,
		CrashThreshold:    e.crash,
		DrawdownThreshold: e.drawdown,
		CrashTriggered:    triggered(dailyReturn, e.crash),
		DrawdownTriggered: triggered(drawdown, e.drawdown),
		Close:             contracts.Finite(closePx),
		RollingPeak:       contracts.Finite(peak),
	}
}

// marketFilter evaluates the rule on the benchmark's latest row
func (e *Engine) marketFilter(ctx context.Context, asOf time.Time) (MarketState, *bool, error) {
	if e.rule == nil {
		return RiskOn, nil, nil
	}
	frame, ok, err := e.load(ctx, e.benchmark, asOf)
	if err != nil {
		return "", nil, err
	}
	if !ok {
		e.logger.WithField("benchmark", e.benchmark).Warn("Benchmark data missing for market filter")
		return RiskOff, nil, nil
	}

	series, err := e.rule.Evaluate(frame)
	if err != nil {
		return "", nil, fmt.Errorf("market filter on %s: %w", e.benchmark, err)
	}
	passed := series.Last()
	if passed {
		return RiskOn, &passed, nil
	}
	return RiskOff, &passed, nil
}

// computeDrawdown is close/peak - 1, NaN when either is missing or peak is 0
func computeDrawdown(closePx, peak float64) float64 {
	if math.IsNaN(closePx) || math.IsNaN(peak) || peak == 0 {
		return math.NaN()
	}
	return closePx/peak - 1
}

// triggered is value <= threshold; NaN never triggers
func triggered(value, threshold float64) bool {
	if math.IsNaN(value) {
		return false
	}
	return value <= threshold
}
