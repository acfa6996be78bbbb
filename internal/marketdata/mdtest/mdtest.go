// Package mdtest builds curated frames for tests.
package mdtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wonny/tradeflow/internal/marketdata"
)

// Date parses YYYY-MM-DD or fails the test
func Date(t testing.TB, s string) time.Time {
	t.Helper()
	d, err := marketdata.ParseDate(s)
	require.NoError(t, err)
	return d
}

// Days returns n consecutive business days ending on end
func Days(end time.Time, n int) []time.Time {
	days := make([]time.Time, 0, n)
	for d := marketdata.NormalizeDate(end); len(days) < n; d = d.AddDate(0, 0, -1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		days = append(days, d)
	}
	for i, j := 0, len(days)-1; i < j; i, j = i+1, j-1 {
		days[i], days[j] = days[j], days[i]
	}
	return days
}

// Frame builds a frame on the n business days ending at end; every column must have n values
func Frame(t testing.TB, symbol string, end time.Time, columns map[string][]float64) marketdata.Frame {
	t.Helper()
	n := -1
	for _, values := range columns {
		if n >= 0 {
			require.Len(t, values, n)
		}
		n = len(values)
	}
	if n < 0 {
		n = 0
	}
	f, err := marketdata.NewFrame(symbol, Days(end, n), columns)
	require.NoError(t, err)
	return f
}

// Const returns n copies of v
func Const(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// Ramp returns n values start, start+step, ...
func Ramp(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

// Flat builds a constant-price frame with the canonical indicator columns
func Flat(t testing.TB, symbol string, end time.Time, n int, price float64) marketdata.Frame {
	t.Helper()
	return Frame(t, symbol, end, map[string][]float64{
		marketdata.ColClose:       Const(n, price),
		marketdata.ColSMA100:      Const(n, price),
		marketdata.ColSMA200:      Const(n, price),
		marketdata.ColRet1D:       Const(n, 0),
		marketdata.ColRet20D:      Const(n, 0),
		marketdata.ColRollingPeak: Const(n, price),
	})
}
