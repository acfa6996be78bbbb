package rebalance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/wonny/tradeflow/internal/marketdata"
)

// ErrInvalidPrice is returned for a missing, NaN or non-positive close
var ErrInvalidPrice = errors.New("invalid close price")

// PriceLookup returns the close on or before asOf
type PriceLookup interface {
	Price(ctx context.Context, symbol string, asOf time.Time) (float64, error)
}

// SourcePrices reads the latest close from a curated data source
type SourcePrices struct {
	Source marketdata.Source
}

// Price implements PriceLookup
func (p SourcePrices) Price(ctx context.Context, symbol string, asOf time.Time) (float64, error) {
	frame, err := p.Source.Load(ctx, symbol, asOf)
	if err != nil {
		return 0, err
	}
	return checkPrice(symbol, asOf, frame.Latest(marketdata.ColClose))
}

// StaticPrices is a fixed price map (one trading day of a backtest)
type StaticPrices map[string]float64

// Price implements PriceLookup
func (p StaticPrices) Price(_ context.Context, symbol string, asOf time.Time) (float64, error) {
	symbol = strings.ToUpper(symbol)
	price, ok := p[symbol]
	if !ok {
		return 0, fmt.Errorf("%w: no price for %s", marketdata.ErrNotFound, symbol)
	}
	return checkPrice(symbol, asOf, price)
}

func checkPrice(symbol string, asOf time.Time, price float64) (float64, error) {
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return 0, fmt.Errorf("%w for %s on %s", ErrInvalidPrice, symbol, asOf.Format(marketdata.DateLayout))
	}
	return price, nil
}
