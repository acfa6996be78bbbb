package marketdata

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// LoadRawBars reads <dir>/<SYMBOL>.csv of provider OHLCV rows
// Columns: date, open, high, low, close, adj_close, volume (adj_close and volume optional)
func LoadRawBars(dir, symbol string) ([]Bar, error) {
	symbol = strings.ToUpper(symbol)
	f, err := os.Open(filepath.Join(dir, symbol+".csv"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: raw %s in %s", ErrNotFound, symbol, dir)
	}
	if err != nil {
		return nil, fmt.Errorf("open raw dataset %s: %w", symbol, err)
	}
	defer f.Close()

	frame, err := ReadCSV(symbol, f)
	if err != nil {
		return nil, err
	}
	return BarsFromFrame(frame)
}

// BarsFromFrame converts an OHLCV frame to bars; close is required
func BarsFromFrame(frame Frame) ([]Bar, error) {
	closes, ok := frame.Column(ColClose)
	if !ok {
		return nil, fmt.Errorf("%w: %s raw data has no close column", ErrInvalidFrame, frame.Symbol)
	}
	column := func(name string) []float64 {
		if values, ok := frame.Column(name); ok {
			return values
		}
		return nil
	}
	at := func(values []float64, i int) float64 {
		if values == nil {
			return math.NaN()
		}
		return values[i]
	}

	open, high, low := column(ColOpen), column(ColHigh), column(ColLow)
	adj, volume := column(ColAdjClose), column(ColVolume)

	bars := make([]Bar, 0, frame.Len())
	for i, d := range frame.Dates {
		if math.IsNaN(closes[i]) {
			continue
		}
		bars = append(bars, Bar{
			Date:     d,
			Open:     at(open, i),
			High:     at(high, i),
			Low:      at(low, i),
			Close:    closes[i],
			AdjClose: at(adj, i),
			Volume:   at(volume, i),
		})
	}
	return bars, nil
}
