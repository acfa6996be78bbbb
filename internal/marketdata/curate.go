package marketdata

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Bar is one raw OHLCV row as delivered by a data provider
type Bar struct {
	Date     time.Time `json:"date"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	AdjClose float64   `json:"adj_close"`
	Volume   float64   `json:"volume"`
}

// CurateOptions controls calendar alignment and indicator windows
type CurateOptions struct {
	ForwardFillLimit  int // max consecutive business days filled from the previous bar
	RollingPeakWindow int // rows in the rolling_peak max window
}

// DefaultCurateOptions returns the production defaults
func DefaultCurateOptions() CurateOptions {
	return CurateOptions{
		ForwardFillLimit:  3,
		RollingPeakWindow: 252,
	}
}

// CurateReport describes gaps found while aligning bars to the calendar
type CurateReport struct {
	FilledDays  int
	MissingDays []time.Time // business days left NaN because the gap exceeded the limit
}

// Curate aligns raw bars to the business-day calendar between the first bar
// and asOf, forward-fills short gaps, and derives the canonical indicators.
//
// close is the adjusted close when available (>0), otherwise the raw close.
func Curate(symbol string, bars []Bar, asOf time.Time, opts CurateOptions) (Frame, CurateReport, error) {
	var report CurateReport
	if len(bars) == 0 {
		return Frame{}, report, fmt.Errorf("%w: %s has no raw bars", ErrEmptyDataset, symbol)
	}
	if opts.RollingPeakWindow <= 0 {
		opts.RollingPeakWindow = DefaultCurateOptions().RollingPeakWindow
	}

	sorted := make([]Bar, len(bars))
	copy(sorted, bars)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	byDate := make(map[time.Time]Bar, len(sorted))
	for _, b := range sorted {
		d := NormalizeDate(b.Date)
		if _, dup := byDate[d]; dup {
			return Frame{}, report, fmt.Errorf("%w: %s duplicate bar on %s", ErrInvalidFrame, symbol, d.Format(DateLayout))
		}
		byDate[d] = b
	}

	calendar := BusinessDays(NormalizeDate(sorted[0].Date), NormalizeDate(asOf))
	n := len(calendar)
	cols := map[string][]float64{}
	for _, name := range CanonicalColumns {
		cols[name] = nanSlice(n)
	}

	var last *Bar
	gap := 0
	for i, day := range calendar {
		bar, ok := byDate[day]
		if ok {
			b := bar
			last = &b
			gap = 0
		} else {
			gap++
			if last == nil || gap > opts.ForwardFillLimit {
				report.MissingDays = append(report.MissingDays, day)
				continue
			}
			report.FilledDays++
			bar = *last
		}
		closePx := bar.Close
		if bar.AdjClose > 0 {
			closePx = bar.AdjClose
		}
		cols[ColOpen][i] = bar.Open
		cols[ColHigh][i] = bar.High
		cols[ColLow][i] = bar.Low
		cols[ColVolume][i] = bar.Volume
		cols[ColAdjClose][i] = bar.AdjClose
		cols[ColClose][i] = closePx
	}

	closes := cols[ColClose]
	cols[ColSMA100] = RollingMean(closes, 100)
	cols[ColSMA200] = RollingMean(closes, 200)
	cols[ColRet1D] = PctChange(closes, 1)
	cols[ColRet20D] = PctChange(closes, 20)
	cols[ColRollingPeak] = RollingMax(closes, opts.RollingPeakWindow)

	frame, err := NewFrame(symbol, calendar, cols)
	return frame, report, err
}

// BusinessDays returns every Monday–Friday between start and end inclusive
func BusinessDays(start, end time.Time) []time.Time {
	start, end = NormalizeDate(start), NormalizeDate(end)
	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		days = append(days, d)
	}
	return days
}

// RollingMean is a trailing mean over a full window; NaN until the window is
// filled or when any value in the window is NaN
func RollingMean(values []float64, window int) []float64 {
	out := nanSlice(len(values))
	if window <= 0 {
		return out
	}
	for i := window - 1; i < len(values); i++ {
		sum := 0.0
		valid := true
		for _, v := range values[i-window+1 : i+1] {
			if math.IsNaN(v) {
				valid = false
				break
			}
			sum += v
		}
		if valid {
			out[i] = sum / float64(window)
		}
	}
	return out
}

// RollingMax is a trailing max with min_periods=1, skipping NaN
func RollingMax(values []float64, window int) []float64 {
	out := nanSlice(len(values))
	for i := range values {
		from := i - window + 1
		if from < 0 {
			from = 0
		}
		peak := math.NaN()
		for _, v := range values[from : i+1] {
			if math.IsNaN(v) {
				continue
			}
			if math.IsNaN(peak) || v > peak {
				peak = v
			}
		}
		out[i] = peak
	}
	return out
}

// PctChange returns values[i]/values[i-periods] - 1
func PctChange(values []float64, periods int) []float64 {
	out := nanSlice(len(values))
	for i := periods; i < len(values); i++ {
		prev := values[i-periods]
		if prev == 0 || math.IsNaN(prev) || math.IsNaN(values[i]) {
			continue
		}
		out[i] = values[i]/prev - 1
	}
	return out
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
