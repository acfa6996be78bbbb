package marketdata

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bars(t *testing.T, start string, closes ...float64) []Bar {
	t.Helper()
	out := make([]Bar, 0, len(closes))
	d := day(t, start)
	for _, c := range closes {
		for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			d = d.AddDate(0, 0, 1)
		}
		out = append(out, Bar{Date: d, Open: c, High: c, Low: c, Close: c, Volume: 1000})
		d = d.AddDate(0, 0, 1)
	}
	return out
}

func TestCurate_DerivesReturnsAndPeak(t *testing.T) {
	closes := make([]float64, 25)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	closes[24] = 90 // 마지막 날 하락

	raw := bars(t, "2024-01-01", closes...)
	asOf := raw[len(raw)-1].Date

	frame, report, err := Curate("msft", raw, asOf, CurateOptions{ForwardFillLimit: 3, RollingPeakWindow: 5})
	require.NoError(t, err)
	assert.Equal(t, "MSFT", frame.Symbol)
	assert.Equal(t, 25, frame.Len())
	assert.Zero(t, report.FilledDays)

	assert.InDelta(t, 90.0/123.0-1, frame.Latest(ColRet1D), 1e-12)
	assert.InDelta(t, 90.0/closes[4]-1, frame.Latest(ColRet20D), 1e-12)
	assert.InDelta(t, 123.0, frame.Latest(ColRollingPeak), 1e-12)
	assert.True(t, math.IsNaN(frame.Latest(ColSMA100)), "window not filled")

	ret1d, _ := frame.Column(ColRet1D)
	assert.True(t, math.IsNaN(ret1d[0]))
}

func TestCurate_ForwardFillsShortGaps(t *testing.T) {
	raw := []Bar{
		{Date: day(t, "2024-01-01"), Close: 10},
		{Date: day(t, "2024-01-03"), Close: 12, AdjClose: 11},
		{Date: day(t, "2024-01-10"), Close: 13},
	}

	frame, report, err := Curate("x", raw, day(t, "2024-01-10"), CurateOptions{ForwardFillLimit: 2, RollingPeakWindow: 3})
	require.NoError(t, err)

	// 01-01 .. 01-10 business days: 1,2,3,4,5,8,9,10
	require.Equal(t, 8, frame.Len())
	closes, _ := frame.Column(ColClose)
	assert.Equal(t, 10.0, closes[1], "01-02 filled from 01-01")
	assert.Equal(t, 11.0, closes[2], "adj_close wins over close")
	assert.Equal(t, 11.0, closes[3])
	assert.Equal(t, 11.0, closes[4])
	assert.True(t, math.IsNaN(closes[5]), "gap beyond the fill limit stays NaN")
	assert.Equal(t, 3, report.FilledDays)
	assert.Len(t, report.MissingDays, 2)
}

func TestCurate_RejectsEmptyAndDuplicates(t *testing.T) {
	_, _, err := Curate("x", nil, day(t, "2024-01-10"), DefaultCurateOptions())
	assert.ErrorIs(t, err, ErrEmptyDataset)

	dup := []Bar{{Date: day(t, "2024-01-02"), Close: 1}, {Date: day(t, "2024-01-02"), Close: 2}}
	_, _, err = Curate("x", dup, day(t, "2024-01-10"), DefaultCurateOptions())
	assert.ErrorIs(t, err, ErrInvalidFrame)
}

func TestRollingHelpers(t *testing.T) {
	values := []float64{1, 2, 3, 4}

	mean := RollingMean(values, 2)
	assert.True(t, math.IsNaN(mean[0]))
	assert.Equal(t, []float64{1.5, 2.5, 3.5}, mean[1:])

	assert.Equal(t, []float64{1, 2, 3, 4}, RollingMax(values, 2))
	assert.Equal(t, []float64{4, 4}, RollingMax([]float64{4, 1}, 3))

	pct := PctChange(values, 2)
	assert.InDelta(t, 2.0, pct[2], 1e-12)
	assert.InDelta(t, 1.0, pct[3], 1e-12)
}

func TestBusinessDays(t *testing.T) {
	days := BusinessDays(day(t, "2024-03-01"), day(t, "2024-03-11"))
	require.Len(t, days, 7)
	assert.Equal(t, time.Friday, days[0].Weekday())
	assert.Equal(t, time.Monday, days[len(days)-1].Weekday())

	assert.Empty(t, BusinessDays(day(t, "2024-03-02"), day(t, "2024-03-03")))
}
