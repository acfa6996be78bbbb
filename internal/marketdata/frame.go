package marketdata

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Canonical curated column names
const (
	ColClose       = "close"
	ColOpen        = "open"
	ColHigh        = "high"
	ColLow         = "low"
	ColVolume      = "volume"
	ColAdjClose    = "adj_close"
	ColSMA100      = "sma_100"
	ColSMA200      = "sma_200"
	ColRet1D       = "ret_1d"
	ColRet20D      = "ret_20d"
	ColRollingPeak = "rolling_peak"
)

// CanonicalColumns lists the columns a curated frame is expected to carry
var CanonicalColumns = []string{
	ColClose, ColSMA100, ColSMA200, ColRet1D, ColRet20D, ColRollingPeak,
	ColOpen, ColHigh, ColLow, ColVolume, ColAdjClose,
}

// DateLayout is the canonical trading-date format
const DateLayout = "2006-01-02"

var (
	// ErrNotFound is returned when a symbol has no curated dataset
	ErrNotFound = errors.New("curated dataset not found")
	// ErrEmptyDataset is returned when a dataset exists but has no usable rows
	ErrEmptyDataset = errors.New("curated dataset is empty")
	// ErrInvalidFrame is returned when a frame breaks the ordering/shape invariants
	ErrInvalidFrame = errors.New("invalid curated frame")
)

// Frame is a date-indexed, per-symbol table of float columns
// ⭐ SSOT: 큐레이션 시계열의 메모리 표현은 여기서만 정의
//
// Dates are strictly increasing; every column has len(Dates) values.
// Missing values are NaN. A Frame is treated as immutable once built:
// slicing methods share the underlying arrays.
type Frame struct {
	Symbol  string
	Dates   []time.Time
	Columns map[string][]float64
}

// NewFrame builds and validates a frame
func NewFrame(symbol string, dates []time.Time, columns map[string][]float64) (Frame, error) {
	f := Frame{
		Symbol:  strings.ToUpper(symbol),
		Dates:   make([]time.Time, len(dates)),
		Columns: make(map[string][]float64, len(columns)),
	}
	for i, d := range dates {
		f.Dates[i] = NormalizeDate(d)
	}
	for name, values := range columns {
		f.Columns[name] = values
	}
	if err := f.Validate(); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// Validate checks the frame invariants
func (f Frame) Validate() error {
	for i := 1; i < len(f.Dates); i++ {
		if !f.Dates[i].After(f.Dates[i-1]) {
			return fmt.Errorf("%w: %s dates not strictly increasing at %s",
				ErrInvalidFrame, f.Symbol, f.Dates[i].Format(DateLayout))
		}
	}
	for name, values := range f.Columns {
		if len(values) != len(f.Dates) {
			return fmt.Errorf("%w: %s column %q has %d values, want %d",
				ErrInvalidFrame, f.Symbol, name, len(values), len(f.Dates))
		}
	}
	return nil
}

// Len returns the number of rows
func (f Frame) Len() int {
	return len(f.Dates)
}

// Empty reports whether the frame has no rows
func (f Frame) Empty() bool {
	return len(f.Dates) == 0
}

// Column returns the values of a column
func (f Frame) Column(name string) ([]float64, bool) {
	values, ok := f.Columns[name]
	return values, ok
}

// Has reports whether the column exists
func (f Frame) Has(name string) bool {
	_, ok := f.Columns[name]
	return ok
}

// Names returns the column names in sorted order
func (f Frame) Names() []string {
	names := make([]string, 0, len(f.Columns))
	for name := range f.Columns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LastDate returns the most recent date, zero time for an empty frame
func (f Frame) LastDate() time.Time {
	if f.Empty() {
		return time.Time{}
	}
	return f.Dates[len(f.Dates)-1]
}

// Latest returns the last value of a column, NaN when absent or empty
func (f Frame) Latest(name string) float64 {
	values, ok := f.Columns[name]
	if !ok || len(values) == 0 {
		return math.NaN()
	}
	return values[len(values)-1]
}

// Slice returns rows [from, to)
func (f Frame) Slice(from, to int) Frame {
	if from < 0 {
		from = 0
	}
	if to > f.Len() {
		to = f.Len()
	}
	if from > to {
		from = to
	}
	out := Frame{
		Symbol:  f.Symbol,
		Dates:   f.Dates[from:to],
		Columns: make(map[string][]float64, len(f.Columns)),
	}
	for name, values := range f.Columns {
		out.Columns[name] = values[from:to]
	}
	return out
}

// Tail returns the last n rows (all rows when n <= 0 or n >= Len)
func (f Frame) Tail(n int) Frame {
	if n <= 0 || n >= f.Len() {
		return f
	}
	return f.Slice(f.Len()-n, f.Len())
}

// Until returns the rows dated on or before asOf
func (f Frame) Until(asOf time.Time) Frame {
	asOf = NormalizeDate(asOf)
	idx := sort.Search(len(f.Dates), func(i int) bool {
		return f.Dates[i].After(asOf)
	})
	return f.Slice(0, idx)
}

// Row returns the values of one row keyed by column name
func (f Frame) Row(i int) map[string]float64 {
	row := make(map[string]float64, len(f.Columns))
	for name, values := range f.Columns {
		row[name] = values[i]
	}
	return row
}

// NormalizeDate truncates t to a UTC calendar date
func NormalizeDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD trading date
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// frameJSON is the wire form of a Frame; NaN is carried as null
type frameJSON struct {
	Symbol  string                `json:"symbol"`
	Dates   []string              `json:"dates"`
	Columns map[string][]*float64 `json:"columns"`
}

// MarshalJSON encodes the frame with NaN as null
func (f Frame) MarshalJSON() ([]byte, error) {
	out := frameJSON{
		Symbol:  f.Symbol,
		Dates:   make([]string, len(f.Dates)),
		Columns: make(map[string][]*float64, len(f.Columns)),
	}
	for i, d := range f.Dates {
		out.Dates[i] = d.Format(DateLayout)
	}
	for name, values := range f.Columns {
		encoded := make([]*float64, len(values))
		for i, v := range values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			v := v
			encoded[i] = &v
		}
		out.Columns[name] = encoded
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the wire form produced by MarshalJSON
func (f *Frame) UnmarshalJSON(data []byte) error {
	var in frameJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	dates := make([]time.Time, len(in.Dates))
	for i, s := range in.Dates {
		d, err := ParseDate(s)
		if err != nil {
			return err
		}
		dates[i] = d
	}
	columns := make(map[string][]float64, len(in.Columns))
	for name, encoded := range in.Columns {
		values := make([]float64, len(encoded))
		for i, p := range encoded {
			if p == nil {
				values[i] = math.NaN()
				continue
			}
			values[i] = *p
		}
		columns[name] = values
	}
	decoded, err := NewFrame(in.Symbol, dates, columns)
	if err != nil {
		return err
	}
	*f = decoded
	return nil
}
