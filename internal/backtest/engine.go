package backtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wonny/tradeflow/internal/marketdata"
	"github.com/wonny/tradeflow/internal/rebalance"
	"github.com/wonny/tradeflow/internal/strategy"
	"github.com/wonny/tradeflow/pkg/logger"
)

var (
	// ErrInvalidRange is returned when the date range holds no business day
	ErrInvalidRange = errors.New("invalid backtest date range")
	// ErrMissingPrice is returned when a held or ordered symbol has no close
	ErrMissingPrice = errors.New("missing price")
	// ErrInvalidConfig is returned for unusable cash or cost settings
	ErrInvalidConfig = errors.New("invalid backtest config")
)

// Config holds the simulation costs
type Config struct {
	InitialCash        float64
	SlippagePct        float64
	CommissionPerTrade float64
	TradingDaysPerYear int
	AnnualRiskFreeRate float64
	BaseCcy            string
}

// RunOptions selects the range and persistence of one run
type RunOptions struct {
	Start     time.Time
	End       time.Time
	Label     string
	DryRun    bool
	OutputDir string // passed through to the sink
}

// EquityPoint is one end-of-day row of the equity curve
type EquityPoint struct {
	Date        time.Time `json:"date"`
	Equity      float64   `json:"equity"`
	Cash        float64   `json:"cash"`
	DailyReturn float64   `json:"daily_return"`
	Drawdown    float64   `json:"drawdown"`
}

// Result holds backtest results
type Result struct {
	RunID       string
	Start       time.Time
	End         time.Time
	Label       string
	OutputDir   string
	Duration    time.Duration
	Metrics     Metrics
	EquityCurve []EquityPoint
	Trades      []Trade
	Stats       Stats

	// Manifest maps artifact names to locations; empty for dry runs
	Manifest map[string]string
}

// ArtifactSink persists a finished run and returns its manifest
type ArtifactSink interface {
	SaveBacktest(ctx context.Context, result *Result) (map[string]string, error)
}

// Engine replays the strategy and rebalance engines over history
// ⭐ SSOT: 백테스팅 실행은 여기서만
type Engine struct {
	cfg       Config
	strategy  *strategy.Engine
	rebalance *rebalance.Engine
	logger    *logger.Logger
}

// NewEngine validates cfg
func NewEngine(cfg Config, strat *strategy.Engine, rebal *rebalance.Engine, log *logger.Logger) (*Engine, error) {
	if strat == nil || rebal == nil {
		return nil, fmt.Errorf("%w: strategy and rebalance engines are required", ErrInvalidConfig)
	}
	if cfg.InitialCash <= 0 {
		return nil, fmt.Errorf("%w: initial_cash must be > 0", ErrInvalidConfig)
	}
	if cfg.SlippagePct < 0 || cfg.CommissionPerTrade < 0 {
		return nil, fmt.Errorf("%w: slippage and commission must be >= 0", ErrInvalidConfig)
	}
	if cfg.TradingDaysPerYear < 1 {
		cfg.TradingDaysPerYear = 1
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{
		cfg:       cfg,
		strategy:  strat,
		rebalance: rebal,
		logger:    log.WithField("component", "backtest"),
	}, nil
}

// Run executes a backtest simulation
//
// The portfolio starts in cash; the first day without positions forces a
// rebalance, later days follow the rebalance cadence. opts.DryRun only
// decides whether sink is called.
func (e *Engine) Run(ctx context.Context, opts RunOptions, sink ArtifactSink) (*Result, error) {
	start := marketdata.NormalizeDate(opts.Start)
	end := marketdata.NormalizeDate(opts.End)
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end %s before start %s", ErrInvalidRange,
			end.Format(marketdata.DateLayout), start.Format(marketdata.DateLayout))
	}
	days := marketdata.BusinessDays(start, end)
	if len(days) == 0 {
		return nil, fmt.Errorf("%w: no trading days between %s and %s", ErrInvalidRange,
			start.Format(marketdata.DateLayout), end.Format(marketdata.DateLayout))
	}

	startTime := time.Now()
	runID := uuid.New().String()
	log := e.logger.WithFields(map[string]interface{}{
		"run_id": runID,
		"start":  start.Format(marketdata.DateLayout),
		"end":    end.Format(marketdata.DateLayout),
	})
	log.Info("Starting backtest")

	sim := NewSimulator(e.cfg.InitialCash, e.cfg.SlippagePct, e.cfg.CommissionPerTrade, log)
	curve := make([]EquityPoint, 0, len(days))
	peak := e.cfg.InitialCash
	previous := e.cfg.InitialCash
	turnoverTotal := 0.0
	rebalanceEvents := 0

	for _, day := range days {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		signals, err := e.strategy.Evaluate(ctx, day, 0)
		if err != nil {
			return nil, fmt.Errorf("strategy on %s: %w", day.Format(marketdata.DateLayout), err)
		}
		prices, err := extractPrices(signals)
		if err != nil {
			return nil, err
		}
		if err := checkCoverage(prices, sim.Symbols()); err != nil {
			return nil, err
		}

		force := !sim.HasPositions()
		proposal, err := e.rebalance.WithPrices(rebalance.StaticPrices(prices)).
			Evaluate(ctx, day, sim.Snapshot(day, e.cfg.BaseCcy), signals.Rows, force)
		if err != nil {
			return nil, fmt.Errorf("rebalance on %s: %w", day.Format(marketdata.DateLayout), err)
		}

		if len(proposal.Orders) > 0 {
			if _, err := sim.Execute(day, proposal.Orders, prices); err != nil {
				return nil, err
			}
			turnoverTotal += proposal.Turnover
			rebalanceEvents++
		}

		equity, err := sim.Equity(prices)
		if err != nil {
			return nil, err
		}
		dailyReturn := 0.0
		if len(curve) > 0 {
			dailyReturn = equity/previous - 1
		}
		peak = math.Max(peak, equity)
		drawdown := 0.0
		if peak > 0 {
			drawdown = equity/peak - 1
		}
		previous = equity

		curve = append(curve, EquityPoint{
			Date:        day,
			Equity:      round8(equity),
			Cash:        round8(sim.Cash()),
			DailyReturn: round8(dailyReturn),
			Drawdown:    round8(drawdown),
		})
	}

	result := &Result{
		RunID:       runID,
		Start:       start,
		End:         end,
		Label:       opts.Label,
		OutputDir:   opts.OutputDir,
		EquityCurve: curve,
		Trades:      sim.Trades(),
		Stats:       sim.Stats(),
		Manifest:    map[string]string{},
	}
	result.Metrics = computeMetrics(metricsInput{
		curve:           curve,
		initialCash:     e.cfg.InitialCash,
		tradingDaysYear: e.cfg.TradingDaysPerYear,
		annualRF:        e.cfg.AnnualRiskFreeRate,
		turnoverTotal:   turnoverTotal,
		rebalanceEvents: rebalanceEvents,
		tradesExecuted:  len(result.Trades),
		label:           opts.Label,
	})
	result.Duration = time.Since(startTime)

	if !opts.DryRun && sink != nil {
		manifest, err := sink.SaveBacktest(ctx, result)
		if err != nil {
			return result, fmt.Errorf("save backtest artifacts: %w", err)
		}
		result.Manifest = manifest
	}

	log.WithFields(map[string]interface{}{
		"duration":     result.Duration.Seconds(),
		"trading_days": result.Metrics.TradingDays,
		"rebalances":   rebalanceEvents,
		"final_equity": result.Metrics.FinalEquity,
		"total_return": fmt.Sprintf("%.4f", result.Metrics.TotalReturn),
	}).Info("Backtest completed")

	return result, nil
}

// extractPrices reads each evaluated symbol's close; a NaN close is fatal
func extractPrices(signals *strategy.Result) (map[string]float64, error) {
	prices := make(map[string]float64, len(signals.Evaluations))
	for sym, eval := range signals.Evaluations {
		price, ok := eval.Close()
		if !ok {
			return nil, fmt.Errorf("%w: curated data missing closing price for %s", ErrMissingPrice, sym)
		}
		prices[sym] = price
	}
	return prices, nil
}

func checkCoverage(prices map[string]float64, held []string) error {
	var missing []string
	for _, sym := range held {
		if _, ok := prices[sym]; !ok {
			missing = append(missing, sym)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("%w for positions: %s", ErrMissingPrice, strings.Join(missing, ", "))
}
