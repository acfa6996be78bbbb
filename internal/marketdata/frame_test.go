package marketdata

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := ParseDate(s)
	require.NoError(t, err)
	return d
}

func sampleFrame(t *testing.T) Frame {
	t.Helper()
	f, err := NewFrame("aapl",
		[]time.Time{day(t, "2024-01-02"), day(t, "2024-01-03"), day(t, "2024-01-04")},
		map[string][]float64{
			ColClose:  {100, 101, 102},
			ColSMA100: {99, math.NaN(), 100},
		})
	require.NoError(t, err)
	return f
}

func TestNewFrame_UpperCasesAndValidates(t *testing.T) {
	f := sampleFrame(t)
	assert.Equal(t, "AAPL", f.Symbol)
	assert.Equal(t, 3, f.Len())
	assert.Equal(t, []string{ColClose, ColSMA100}, f.Names())

	_, err := NewFrame("X", []time.Time{day(t, "2024-01-03"), day(t, "2024-01-02")}, nil)
	assert.ErrorIs(t, err, ErrInvalidFrame)

	_, err = NewFrame("X", []time.Time{day(t, "2024-01-02"), day(t, "2024-01-02")}, nil)
	assert.ErrorIs(t, err, ErrInvalidFrame, "duplicate dates")

	_, err = NewFrame("X", []time.Time{day(t, "2024-01-02")}, map[string][]float64{ColClose: {1, 2}})
	assert.ErrorIs(t, err, ErrInvalidFrame, "column length mismatch")
}

func TestFrame_TailAndUntil(t *testing.T) {
	f := sampleFrame(t)

	tail := f.Tail(2)
	assert.Equal(t, 2, tail.Len())
	assert.Equal(t, []float64{101, 102}, tail.Columns[ColClose])
	assert.Equal(t, f.Len(), f.Tail(0).Len())
	assert.Equal(t, f.Len(), f.Tail(10).Len())

	until := f.Until(day(t, "2024-01-03"))
	assert.Equal(t, 2, until.Len())
	assert.Equal(t, day(t, "2024-01-03"), until.LastDate())

	assert.True(t, f.Until(day(t, "2023-12-31")).Empty())
	assert.Equal(t, 102.0, f.Latest(ColClose))
	assert.True(t, math.IsNaN(f.Latest("missing")))
}

func TestFrame_JSONCarriesNaNAsNull(t *testing.T) {
	f := sampleFrame(t)

	data, err := json.Marshal(f)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"sma_100":[99,null,100]`)

	var decoded Frame
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, f.Dates, decoded.Dates)
	assert.True(t, math.IsNaN(decoded.Columns[ColSMA100][1]))
	assert.Equal(t, 102.0, decoded.Latest(ColClose))
}
