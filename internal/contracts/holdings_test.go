package contracts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHoldings(t *testing.T) {
	doc := `{
		"as_of_date": "2024-05-31",
		"cash": 1000,
		"base_ccy": "USD",
		"positions": [
			{"symbol": "msft", "qty": 5},
			{"symbol": " aapl ", "qty": 10, "cost_basis": 150.5}
		]
	}`

	snap, err := ParseHoldings(strings.NewReader(doc))
	require.NoError(t, err)

	assert.Equal(t, []string{"AAPL", "MSFT"}, snap.Symbols())
	require.NotNil(t, snap.AsOfDate)
	assert.Equal(t, "2024-05-31", snap.AsOfDate.Format("2006-01-02"))
	assert.Equal(t, 1000.0, snap.CashOrZero())
	assert.Equal(t, "USD", snap.BaseCcy)

	aapl, ok := snap.Position("aapl")
	require.True(t, ok)
	require.NotNil(t, aapl.CostBasis)
	assert.Equal(t, 150.5, *aapl.CostBasis)

	_, ok = snap.Position("NVDA")
	assert.False(t, ok)
}

func TestParseHoldings_OptionalFields(t *testing.T) {
	snap, err := ParseHoldings(strings.NewReader(`{"positions": []}`))
	require.NoError(t, err)
	assert.Nil(t, snap.AsOfDate)
	assert.Nil(t, snap.Cash)
	assert.Zero(t, snap.CashOrZero())
	assert.Empty(t, snap.Positions)
}

func TestParseHoldings_Rejects(t *testing.T) {
	tests := map[string]string{
		"not an object":  `[1, 2]`,
		"missing symbol": `{"positions": [{"qty": 1}]}`,
		"duplicate":      `{"positions": [{"symbol": "AAPL", "qty": 1}, {"symbol": "aapl", "qty": 2}]}`,
		"bad date":       `{"as_of_date": "31/05/2024", "positions": []}`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseHoldings(strings.NewReader(doc))
			assert.ErrorIs(t, err, ErrInvalidHoldings)
		})
	}
}

func TestLoadHoldings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "holdings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"cash": 50, "positions": [{"symbol": "SPY", "qty": 1}]}`), 0o644))

	snap, err := LoadHoldings(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"SPY"}, snap.Symbols())

	_, err = LoadHoldings(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
