package contracts

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalTable_ForDateAndSort(t *testing.T) {
	d1 := time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC)
	d0 := d1.AddDate(0, 0, -1)

	table := SignalTable{
		{Date: d1, Symbol: "B", Signal: SignalBuy, RankScore: 0.2},
		{Date: d0, Symbol: "C", Signal: SignalBuy, RankScore: 0.9},
		{Date: d1, Symbol: "A", Signal: SignalBuy, RankScore: 0.2},
		{Date: d1, Symbol: "D", Signal: SignalHold, RankScore: math.Inf(-1)},
		{Symbol: "E", Signal: SignalHold, RankScore: 0.5},
	}

	today := table.ForDate(d1)
	today.SortByRank()

	assert.Equal(t, []string{"E", "A", "B", "D"}, today.Symbols())
}

func TestParseSignal(t *testing.T) {
	assert.Equal(t, SignalBuy, ParseSignal(" buy "))
	assert.Equal(t, SignalExit, ParseSignal("EXIT"))
	assert.Equal(t, SignalHold, ParseSignal("whatever"))
}

func TestSignalRow_MarshalJSONDropsNonFinite(t *testing.T) {
	row := SignalRow{
		Date:      time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC),
		Symbol:    "AAPL",
		Signal:    SignalHold,
		RankScore: math.Inf(-1),
		Features:  map[string]float64{"momentum_63d": math.NaN()},
	}

	data, err := json.Marshal(row)
	require.NoError(t, err)
	assert.JSONEq(t, `{"date":"2024-05-31","symbol":"AAPL","signal":"HOLD","rank_score":null,"features":{"momentum_63d":null}}`, string(data))
}

func TestRebalanceResult_Lookups(t *testing.T) {
	r := &RebalanceResult{
		Targets: []RebalanceTarget{{Symbol: "A", TargetWeight: 0.4}, {Symbol: "B", TargetWeight: 0.5}},
		Orders:  []RebalanceOrder{{Symbol: "A", Side: SideBuy, Quantity: 1}},
	}

	assert.InDelta(t, 0.9, r.TotalWeight(), 1e-12)
	_, ok := r.Target("B")
	assert.True(t, ok)
	o, ok := r.Order("A")
	require.True(t, ok)
	assert.Equal(t, SideBuy, o.Side)
	_, ok = r.Order("B")
	assert.False(t, ok)
}
