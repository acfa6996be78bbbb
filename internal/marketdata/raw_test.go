package marketdata

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRawBars(t *testing.T) {
	dir := t.TempDir()
	raw := "date,open,high,low,close,volume\n" +
		"2024-01-03,11,12,10,11.5,2000\n" +
		"2024-01-02,10,11,9,10.5,1000\n" +
		"2024-01-04,,,,,\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "AAPL.csv"), []byte(raw), 0o644))

	bars, err := LoadRawBars(dir, "aapl")
	require.NoError(t, err)
	require.Len(t, bars, 2)

	assert.Equal(t, "2024-01-02", bars[0].Date.Format(DateLayout))
	assert.Equal(t, 10.5, bars[0].Close)
	assert.Equal(t, 1000.0, bars[0].Volume)
	assert.True(t, math.IsNaN(bars[0].AdjClose))
	assert.Equal(t, 11.5, bars[1].Close)
}

func TestLoadRawBars_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadRawBars(dir, "MSFT")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "MSFT.csv"), []byte("date,open\n2024-01-02,1\n"), 0o644))
	_, err = LoadRawBars(dir, "MSFT")
	assert.ErrorIs(t, err, ErrInvalidFrame)
}
