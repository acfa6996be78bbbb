package rebalance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wonny/tradeflow/internal/contracts"
	"github.com/wonny/tradeflow/internal/marketdata"
	"github.com/wonny/tradeflow/pkg/logger"
)

var (
	// ErrUnsupportedCadence is returned for a cadence other than monthly/weekly
	ErrUnsupportedCadence = errors.New("unsupported rebalance cadence")
	// ErrMissingPrice is returned when a held symbol cannot be priced
	ErrMissingPrice = errors.New("missing price for current holding")
	// ErrNonPositiveValue is returned when cash plus holdings is not positive
	ErrNonPositiveValue = errors.New("total portfolio value must be positive")
	// ErrInvalidConfig is returned for out-of-range constraints
	ErrInvalidConfig = errors.New("invalid rebalance config")
)

// Config holds the rebalance constraints
type Config struct {
	Cadence      string
	MaxPositions int
	EqualWeight  *bool // nil = true
	MinWeight    float64
	CashBuffer   float64  // [0, 1)
	TurnoverCap  *float64 // nil = uncapped
}

// BuildOptions controls Build
type BuildOptions struct {
	DryRun bool
	Force  bool     // bypass the cadence gate
	Notes  []string // appended to the result before it reaches the sink
}

// Sink receives proposals of non-dry-run builds
type Sink interface {
	SaveRebalance(ctx context.Context, result *contracts.RebalanceResult) error
}

// Engine turns holdings and signals into target weights and orders
// ⭐ SSOT: 리밸런스 제약(종목 수, 최소 비중, 현금 버퍼, 회전율) 적용은 여기서만
//
// Evaluate is a pure function of its inputs and the price lookup; the engine
// holds no mutable state.
type Engine struct {
	cadence      string
	maxPositions int
	equalWeight  bool
	minWeight    float64
	cashBuffer   float64
	turnoverCap  *float64
	prices       PriceLookup
	logger       *logger.Logger
}

// New validates cfg
func New(cfg Config, prices PriceLookup, log *logger.Logger) (*Engine, error) {
	cadence, err := ParseCadence(cfg.Cadence)
	if err != nil {
		return nil, err
	}
	if cfg.MaxPositions < 0 {
		return nil, fmt.Errorf("%w: max_positions must be >= 0", ErrInvalidConfig)
	}
	if cfg.MinWeight < 0 {
		return nil, fmt.Errorf("%w: min_weight must be >= 0", ErrInvalidConfig)
	}
	if cfg.CashBuffer < 0 || cfg.CashBuffer >= 1 {
		return nil, fmt.Errorf("%w: cash_buffer must be in [0, 1)", ErrInvalidConfig)
	}
	if cfg.TurnoverCap != nil && *cfg.TurnoverCap < 0 {
		return nil, fmt.Errorf("%w: turnover_cap_pct must be >= 0", ErrInvalidConfig)
	}
	if prices == nil {
		return nil, fmt.Errorf("%w: nil price lookup", ErrInvalidConfig)
	}
	if log == nil {
		log = logger.Nop()
	}

	equal := true
	if cfg.EqualWeight != nil {
		equal = *cfg.EqualWeight
	}
	var turnoverCap *float64
	if cfg.TurnoverCap != nil {
		v := *cfg.TurnoverCap
		turnoverCap = &v
	}

	return &Engine{
		cadence:      cadence,
		maxPositions: cfg.MaxPositions,
		equalWeight:  equal,
		minWeight:    cfg.MinWeight,
		cashBuffer:   cfg.CashBuffer,
		turnoverCap:  turnoverCap,
		prices:       prices,
		logger:       log.WithField("component", "rebalance"),
	}, nil
}

// WithPrices returns a copy of the engine that prices through p
func (e *Engine) WithPrices(p PriceLookup) *Engine {
	clone := *e
	clone.prices = p
	return &clone
}

// Cadence returns the normalized cadence
func (e *Engine) Cadence() string {
	return e.cadence
}

// IsRebalanceDay reports whether asOf passes the cadence gate
func (e *Engine) IsRebalanceDay(asOf time.Time) bool {
	return IsRebalanceDay(marketdata.NormalizeDate(asOf), e.cadence)
}

// Evaluate computes the rebalance proposal for asOf
func (e *Engine) Evaluate(ctx context.Context, asOf time.Time, holdings contracts.HoldingsSnapshot, signals contracts.SignalTable, force bool) (*contracts.RebalanceResult, error) {
	asOf = marketdata.NormalizeDate(asOf)
	var notes []string

	if !force && !e.IsRebalanceDay(asOf) {
		notes = append(notes, fmt.Sprintf("Cadence %s not met on %s", e.cadence, asOf.Format(marketdata.DateLayout)))
		return e.result(asOf, contracts.StatusNoRebalance, nil, notes), nil
	}

	rows := prepareSignals(signals, asOf)
	if len(rows) == 0 {
		notes = append(notes, "No signals available for rebalance date")
		return e.result(asOf, contracts.StatusNoCandidates, nil, notes), nil
	}

	holdings, err := holdings.Normalize()
	if err != nil {
		return nil, err
	}
	current := make(map[string]contracts.Position, len(holdings.Positions))
	for _, p := range holdings.Positions {
		current[p.Symbol] = p
	}

	priceMap, err := e.loadPrices(ctx, asOf, rows, current)
	if err != nil {
		return nil, err
	}

	candidates := collectCandidates(rows, current, priceMap, e.equalWeight)
	exits := collectExits(rows, current)

	available := 1 - e.cashBuffer
	if available < 0 {
		available = 0
	}
	maxAllowed := maxPositionsByMinWeight(available, e.minWeight, e.maxPositions)
	if maxAllowed == 0 {
		notes = append(notes, "Cash buffer and min_weight configuration leave no capacity for targets")
		result := e.result(asOf, contracts.StatusNoCapacity, nil, notes)
		result.Orders = exitOrders(exits, current, priceMap)
		return result, nil
	}

	selected := candidates
	if len(selected) > maxAllowed {
		selected = selected[:maxAllowed]
	}
	selected = e.enforceMinWeight(selected, available, &notes)

	bk := &book{
		current:   current,
		cash:      holdings.CashOrZero(),
		prices:    priceMap,
		exits:     exits,
		available: available,
		equal:     e.equalWeight,
	}

	p, err := bk.propose(selected)
	if err != nil {
		return nil, err
	}

	if e.turnoverCap != nil && p.turnover > *e.turnoverCap {
		p, err = e.reduceTurnover(bk, selected, *e.turnoverCap, &notes)
		if err != nil {
			return nil, err
		}
	}

	result := e.result(asOf, p.status, nil, append(notes, p.notes...))
	result.Turnover = p.turnover
	result.Targets = p.targets
	result.Orders = p.orders

	e.logger.WithFields(map[string]interface{}{
		"as_of":    asOf.Format(marketdata.DateLayout),
		"status":   result.Status,
		"targets":  len(result.Targets),
		"orders":   len(result.Orders),
		"turnover": result.Turnover,
	}).Info("Rebalance evaluated")

	return result, nil
}

// Build evaluates and hands the proposal to sink unless opts.DryRun
func (e *Engine) Build(ctx context.Context, asOf time.Time, holdings contracts.HoldingsSnapshot, signals contracts.SignalTable, opts BuildOptions, sink Sink) (*contracts.RebalanceResult, error) {
	result, err := e.Evaluate(ctx, asOf, holdings, signals, opts.Force)
	if err != nil {
		return nil, err
	}
	result.Notes = append(result.Notes, opts.Notes...)
	if opts.DryRun || sink == nil {
		return result, nil
	}
	if err := sink.SaveRebalance(ctx, result); err != nil {
		return result, fmt.Errorf("save rebalance proposal: %w", err)
	}
	return result, nil
}

func (e *Engine) result(asOf time.Time, status contracts.RebalanceStatus, targets []contracts.RebalanceTarget, notes []string) *contracts.RebalanceResult {
	if targets == nil {
		targets = []contracts.RebalanceTarget{}
	}
	if notes == nil {
		notes = []string{}
	}
	return &contracts.RebalanceResult{
		AsOf:       asOf,
		Status:     status,
		CashBuffer: e.cashBuffer,
		Targets:    targets,
		Orders:     []contracts.RebalanceOrder{},
		Notes:      notes,
	}
}

// loadPrices prices signal symbols and holdings; only holdings must resolve
func (e *Engine) loadPrices(ctx context.Context, asOf time.Time, rows contracts.SignalTable, current map[string]contracts.Position) (map[string]float64, error) {
	symbols := make(map[string]bool, len(rows)+len(current))
	for _, row := range rows {
		symbols[row.Symbol] = true
	}
	for sym := range current {
		symbols[sym] = true
	}
	ordered := make([]string, 0, len(symbols))
	for sym := range symbols {
		ordered = append(ordered, sym)
	}
	sort.Strings(ordered)

	prices := make(map[string]float64, len(ordered))
	for _, sym := range ordered {
		price, err := e.prices.Price(ctx, sym, asOf)
		if err != nil {
			if _, held := current[sym]; held {
				return nil, fmt.Errorf("%w %s: %v", ErrMissingPrice, sym, err)
			}
			e.logger.WithError(err).WithField("symbol", sym).Warn("No price for signal symbol, excluded from candidates")
			continue
		}
		prices[sym] = price
	}
	return prices, nil
}

// enforceMinWeight drops the lowest-ranked candidates until every nonzero weight meets min_weight
// 점수 비중 모드도 실제 비중으로 검사 (균등 몫만 보면 하한 미달 가능)
func (e *Engine) enforceMinWeight(selected []candidate, available float64, notes *[]string) []candidate {
	if len(selected) == 0 || e.minWeight <= 0 {
		return selected
	}
	out := append([]candidate(nil), selected...)
	for len(out) > 0 && !e.meetsMinWeight(computeWeights(out, available, e.equalWeight)) {
		removed := out[len(out)-1]
		out = out[:len(out)-1]
		note := fmt.Sprintf("Removed %s to satisfy min_weight=%.4f", removed.symbol, e.minWeight)
		*notes = append(*notes, note)
		e.logger.WithField("symbol", removed.symbol).Warn(note)
	}
	return out
}

func (e *Engine) meetsMinWeight(weights []float64) bool {
	for _, w := range weights {
		if w > 0 && w+weightEpsilon < e.minWeight {
			return false
		}
	}
	return true
}

// reduceTurnover drops newly added candidates, lowest-ranked first, until the cap holds
func (e *Engine) reduceTurnover(b *book, selected []candidate, limit float64, notes *[]string) (*proposal, error) {
	working := append([]candidate(nil), selected...)
	for idx := len(working) - 1; idx >= 0; idx-- {
		p, err := b.propose(working)
		if err != nil {
			return nil, err
		}
		if p.turnover <= limit {
			p.notes = append(p.notes, fmt.Sprintf("Turnover %.4f within cap %.4f", p.turnover, limit))
			return p, nil
		}
		c := working[idx]
		if c.existing {
			continue
		}
		note := fmt.Sprintf("Removed %s to satisfy turnover cap %.4f", c.symbol, limit)
		*notes = append(*notes, note)
		e.logger.WithField("symbol", c.symbol).Warn(note)
		working = append(working[:idx], working[idx+1:]...)
	}

	p, err := b.propose(working)
	if err != nil {
		return nil, err
	}
	if p.turnover > limit {
		p.status = contracts.StatusTurnoverLimit
		p.targets = []contracts.RebalanceTarget{}
		p.orders = []contracts.RebalanceOrder{}
		p.turnover = 0
		p.notes = append(p.notes, fmt.Sprintf("Turnover cap %.4f prevented adjustments", limit))
		return p, nil
	}
	p.notes = append(p.notes, fmt.Sprintf("Turnover adjusted to %.4f within cap %.4f", p.turnover, limit))
	return p, nil
}

// prepareSignals keeps today's rows, upper-cases symbols, drops duplicates and sorts by rank
func prepareSignals(signals contracts.SignalTable, asOf time.Time) contracts.SignalTable {
	today := signals.ForDate(asOf)
	seen := make(map[string]bool, len(today))
	rows := make(contracts.SignalTable, 0, len(today))
	for _, row := range today {
		row.Symbol = strings.ToUpper(strings.TrimSpace(row.Symbol))
		row.Signal = contracts.ParseSignal(string(row.Signal))
		if row.Symbol == "" || seen[row.Symbol] {
			continue
		}
		seen[row.Symbol] = true
		rows = append(rows, row)
	}
	rows.SortByRank()
	return rows
}
