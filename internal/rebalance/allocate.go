package rebalance

import (
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/wonny/tradeflow/internal/contracts"
)

const (
	weightEpsilon = 1e-9
	orderEpsilon  = 1e-6

	quantityPlaces = 6
	notionalPlaces = 2
)

// candidate is a symbol eligible for a non-zero target
type candidate struct {
	symbol    string
	signal    contracts.Signal
	rankScore float64
	price     float64
	rationale string
	existing  bool
}

// proposal is one allocation attempt
type proposal struct {
	status   contracts.RebalanceStatus
	targets  []contracts.RebalanceTarget
	orders   []contracts.RebalanceOrder
	turnover float64
	notes    []string
}

// book is the fixed portfolio context every allocation attempt is priced against
type book struct {
	current   map[string]contracts.Position
	cash      float64
	prices    map[string]float64
	exits     []string
	available float64
	equal     bool
}

// collectCandidates keeps priced, non-EXIT rows ordered by rank desc, symbol asc
func collectCandidates(rows contracts.SignalTable, current map[string]contracts.Position, prices map[string]float64, equalWeight bool) []candidate {
	out := make([]candidate, 0, len(rows))
	for _, row := range rows {
		if row.Signal == contracts.SignalExit {
			continue
		}
		price, ok := prices[row.Symbol]
		if !ok {
			continue
		}
		score := row.RankScore
		if math.IsNaN(score) {
			score = 0
		}
		_, held := current[row.Symbol]
		// 점수 0 이하 신규 종목은 score-weight 모드에서 편입하지 않음
		if !equalWeight && score <= 0 && !held {
			continue
		}
		rationale := "Maintain position"
		if row.Signal == contracts.SignalBuy {
			rationale = "BUY signal"
		}
		out = append(out, candidate{
			symbol:    row.Symbol,
			signal:    row.Signal,
			rankScore: score,
			price:     price,
			rationale: rationale,
			existing:  held,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].rankScore != out[j].rankScore {
			return out[i].rankScore > out[j].rankScore
		}
		return out[i].symbol < out[j].symbol
	})
	return out
}

// collectExits returns held symbols flagged EXIT, sorted
func collectExits(rows contracts.SignalTable, current map[string]contracts.Position) []string {
	var exits []string
	for _, row := range rows {
		if row.Signal != contracts.SignalExit {
			continue
		}
		if _, held := current[row.Symbol]; held {
			exits = append(exits, row.Symbol)
		}
	}
	sort.Strings(exits)
	return exits
}

// maxPositionsByMinWeight caps the slot count so every slot can hold min_weight
func maxPositionsByMinWeight(available, minWeight float64, maxPositions int) int {
	if maxPositions <= 0 {
		return 0
	}
	if minWeight <= 0 {
		return maxPositions
	}
	allowed := int(math.Floor((available + weightEpsilon) / minWeight))
	if allowed < 0 {
		allowed = 0
	}
	if allowed < maxPositions {
		return allowed
	}
	return maxPositions
}

// computeWeights splits available across selected
func computeWeights(selected []candidate, available float64, equal bool) []float64 {
	weights := make([]float64, len(selected))
	if len(selected) == 0 {
		return weights
	}
	equalShare := func() []float64 {
		for i := range weights {
			weights[i] = available / float64(len(selected))
		}
		return weights
	}
	if equal || len(selected) == 1 {
		return equalShare()
	}
	total := 0.0
	for _, c := range selected {
		total += math.Max(c.rankScore, 0)
	}
	if total <= 0 {
		return equalShare()
	}
	for i, c := range selected {
		weights[i] = available * math.Max(c.rankScore, 0) / total
	}
	return weights
}

// propose builds targets and orders for one candidate selection
func (b *book) propose(selected []candidate) (*proposal, error) {
	p := &proposal{}
	targets := make([]contracts.RebalanceTarget, 0, len(selected)+len(b.exits))

	if len(selected) > 0 {
		weights := computeWeights(selected, b.available, b.equal)
		mode := "equal-weight"
		if !b.equal {
			for _, w := range weights[1:] {
				if w != weights[0] {
					mode = "score-weight"
					break
				}
			}
		}
		for i, c := range selected {
			targets = append(targets, contracts.RebalanceTarget{
				Symbol:       c.symbol,
				TargetWeight: weights[i],
				Rationale:    c.rationale,
			})
		}
		p.notes = append(p.notes, fmt.Sprintf("Selected %d symbols with %s allocation", len(selected), mode))
	} else {
		p.notes = append(p.notes, "No candidates selected for allocation")
	}

	for _, sym := range b.exits {
		targets = append(targets, contracts.RebalanceTarget{
			Symbol:       sym,
			TargetWeight: 0,
			Rationale:    "Exit signal triggered",
		})
	}
	sort.SliceStable(targets, func(i, j int) bool {
		if targets[i].TargetWeight != targets[j].TargetWeight {
			return targets[i].TargetWeight > targets[j].TargetWeight
		}
		return targets[i].Symbol < targets[j].Symbol
	})

	orders, turnover, err := b.ordersAndTurnover(targets)
	if err != nil {
		return nil, err
	}

	p.targets = targets
	p.orders = orders
	p.turnover = turnover
	p.status = contracts.StatusNoCandidates
	if len(targets) > 0 || len(orders) > 0 {
		p.status = contracts.StatusRebalance
	}
	return p, nil
}

// ordersAndTurnover diffs target weights against current weights
// ⭐ SSOT: turnover = 0.5 × Σ|target − current|
func (b *book) ordersAndTurnover(targets []contracts.RebalanceTarget) ([]contracts.RebalanceOrder, float64, error) {
	held := make([]string, 0, len(b.current))
	for sym := range b.current {
		held = append(held, sym)
	}
	// 합산 순서 고정: 같은 입력이면 같은 비트의 결과
	sort.Strings(held)

	total := b.cash
	currentValue := make(map[string]float64, len(b.current))
	for _, sym := range held {
		price, ok := b.prices[sym]
		if !ok {
			return nil, 0, fmt.Errorf("%w %s", ErrMissingPrice, sym)
		}
		currentValue[sym] = b.current[sym].Qty * price
		total += currentValue[sym]
	}
	if total <= 0 {
		return nil, 0, fmt.Errorf("%w: %.2f", ErrNonPositiveValue, total)
	}

	targetWeight := make(map[string]float64, len(targets))
	universe := make(map[string]bool, len(targets)+len(b.current))
	for _, t := range targets {
		targetWeight[t.Symbol] = t.TargetWeight
		universe[t.Symbol] = true
	}
	for sym := range b.current {
		universe[sym] = true
	}
	symbols := make([]string, 0, len(universe))
	for sym := range universe {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	orders := []contracts.RebalanceOrder{}
	turnover := 0.0
	for _, sym := range symbols {
		price, ok := b.prices[sym]
		if !ok {
			continue
		}
		currentWeight := currentValue[sym] / total
		target := targetWeight[sym]
		turnover += math.Abs(target - currentWeight)

		deltaQty := target*total/price - b.current[sym].Qty
		if math.Abs(deltaQty) < orderEpsilon {
			continue
		}
		side := contracts.SideBuy
		if deltaQty < 0 {
			side = contracts.SideSell
		}
		orders = append(orders, contracts.RebalanceOrder{
			Symbol:   sym,
			Side:     side,
			Quantity: round(math.Abs(deltaQty), quantityPlaces),
			Notional: round(math.Abs(deltaQty)*price, notionalPlaces),
		})
	}
	return orders, turnover * 0.5, nil
}

// exitOrders sells every held EXIT symbol in full
func exitOrders(exits []string, current map[string]contracts.Position, prices map[string]float64) []contracts.RebalanceOrder {
	orders := []contracts.RebalanceOrder{}
	for _, sym := range exits {
		pos := current[sym]
		price, ok := prices[sym]
		if !ok || pos.Qty == 0 {
			continue
		}
		orders = append(orders, contracts.RebalanceOrder{
			Symbol:   sym,
			Side:     contracts.SideSell,
			Quantity: round(math.Abs(pos.Qty), quantityPlaces),
			Notional: round(math.Abs(pos.Qty)*price, notionalPlaces),
		})
	}
	return orders
}

// round is half-away-from-zero decimal rounding; non-finite values pass through
func round(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}
