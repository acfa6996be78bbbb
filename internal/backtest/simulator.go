package backtest

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/wonny/tradeflow/internal/contracts"
	"github.com/wonny/tradeflow/pkg/logger"
)

const (
	qtyEpsilon      = 1e-9
	negativeCashEps = 1e-6
)

// Trade is one executed fill
type Trade struct {
	Date         time.Time           `json:"date"`
	Symbol       string              `json:"symbol"`
	Side         contracts.OrderSide `json:"side"`
	Quantity     float64             `json:"quantity"`
	Price        float64             `json:"price"`
	FillPrice    float64             `json:"fill_price"`
	Commission   float64             `json:"commission"`
	SlippageCost float64             `json:"slippage_cost"`
}

// Notional is |quantity| × fill price
func (t Trade) Notional() float64 {
	return round8(math.Abs(t.Quantity) * t.FillPrice)
}

// Stats holds simulation statistics
type Stats struct {
	TotalTrades     int     `json:"total_trades"`
	BuyTrades       int     `json:"buy_trades"`
	SellTrades      int     `json:"sell_trades"`
	TotalCommission float64 `json:"total_commission"`
	TotalSlippage   float64 `json:"total_slippage"`
}

// Simulator is the portfolio ledger of one backtest run
// ⭐ SSOT: 백테스트 체결/현금/포지션 갱신은 여기서만
type Simulator struct {
	logger *logger.Logger

	slippagePct float64
	commission  float64

	// Current state
	cash      float64
	positions map[string]float64
	trades    []Trade

	// Statistics
	stats Stats
}

// NewSimulator creates a ledger holding initialCash
func NewSimulator(initialCash, slippagePct, commission float64, log *logger.Logger) *Simulator {
	if log == nil {
		log = logger.Nop()
	}
	s := &Simulator{
		logger:      log,
		slippagePct: slippagePct,
		commission:  commission,
	}
	s.Initialize(initialCash)
	return s
}

// Initialize resets the ledger
func (s *Simulator) Initialize(cash float64) {
	s.cash = cash
	s.positions = make(map[string]float64)
	s.trades = make([]Trade, 0)
	s.stats = Stats{}
}

// Cash returns the cash balance
func (s *Simulator) Cash() float64 {
	return s.cash
}

// Quantity returns the held quantity of symbol
func (s *Simulator) Quantity(symbol string) float64 {
	return s.positions[symbol]
}

// HasPositions reports whether anything is held
func (s *Simulator) HasPositions() bool {
	return len(s.positions) > 0
}

// Symbols returns held symbols, sorted
func (s *Simulator) Symbols() []string {
	out := make([]string, 0, len(s.positions))
	for sym := range s.positions {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Trades returns every fill so far
func (s *Simulator) Trades() []Trade {
	return s.trades
}

// Stats returns simulation statistics
func (s *Simulator) Stats() Stats {
	return s.stats
}

// Snapshot exposes the ledger as a holdings snapshot for the rebalance engine
func (s *Simulator) Snapshot(asOf time.Time, baseCcy string) contracts.HoldingsSnapshot {
	positions := make([]contracts.Position, 0, len(s.positions))
	for _, sym := range s.Symbols() {
		if qty := s.positions[sym]; math.Abs(qty) > qtyEpsilon {
			positions = append(positions, contracts.Position{Symbol: sym, Qty: qty})
		}
	}
	cash := s.cash
	date := asOf
	return contracts.HoldingsSnapshot{
		AsOfDate:  &date,
		Positions: positions,
		Cash:      &cash,
		BaseCcy:   baseCcy,
	}
}

// Equity marks the portfolio to prices
func (s *Simulator) Equity(prices map[string]float64) (float64, error) {
	equity := s.cash
	for _, sym := range s.Symbols() {
		price, ok := prices[sym]
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrMissingPrice, sym)
		}
		equity += s.positions[sym] * price
	}
	return equity, nil
}

// Execute fills orders in symbol order at the day's prices with slippage and commission
func (s *Simulator) Execute(date time.Time, orders []contracts.RebalanceOrder, prices map[string]float64) ([]Trade, error) {
	sorted := make([]contracts.RebalanceOrder, len(orders))
	copy(sorted, orders)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Symbol < sorted[j].Symbol })

	trades := make([]Trade, 0, len(sorted))
	for _, order := range sorted {
		price, ok := prices[order.Symbol]
		if !ok {
			return nil, fmt.Errorf("%w: %s on %s", ErrMissingPrice, order.Symbol, date.Format("2006-01-02"))
		}
		qty := math.Abs(order.Quantity)
		if qty < qtyEpsilon {
			continue
		}

		var fill, slippage float64
		switch order.Side {
		case contracts.SideBuy:
			fill = price * (1 + s.slippagePct)
			s.cash -= qty * fill
			s.cash -= s.commission
			s.positions[order.Symbol] += qty
			slippage = (fill - price) * qty
			s.stats.BuyTrades++
		case contracts.SideSell:
			fill = price * (1 - s.slippagePct)
			s.cash += qty * fill
			s.cash -= s.commission
			s.positions[order.Symbol] -= qty
			slippage = (price - fill) * qty
			s.stats.SellTrades++
		default:
			return nil, fmt.Errorf("unsupported order side %q for %s", order.Side, order.Symbol)
		}
		if math.Abs(s.positions[order.Symbol]) < qtyEpsilon {
			delete(s.positions, order.Symbol)
		}

		trade := Trade{
			Date:         date,
			Symbol:       order.Symbol,
			Side:         order.Side,
			Quantity:     round8(qty),
			Price:        round8(price),
			FillPrice:    round8(fill),
			Commission:   round8(s.commission),
			SlippageCost: round8(slippage),
		}
		trades = append(trades, trade)
		s.trades = append(s.trades, trade)
		s.stats.TotalTrades++
		s.stats.TotalCommission += s.commission
		s.stats.TotalSlippage += slippage
	}

	if s.cash < -negativeCashEps {
		s.logger.WithFields(map[string]interface{}{
			"date": date.Format("2006-01-02"),
			"cash": s.cash,
		}).Warn("Portfolio cash negative after trades")
	}
	return trades, nil
}
