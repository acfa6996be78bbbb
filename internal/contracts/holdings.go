package contracts

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"
)

// ErrInvalidHoldings is returned for a malformed holdings document
var ErrInvalidHoldings = errors.New("invalid holdings")

// Position is a held quantity of one symbol
type Position struct {
	Symbol    string   `json:"symbol"`
	Qty       float64  `json:"qty"`
	CostBasis *float64 `json:"cost_basis,omitempty"`
}

// HoldingsSnapshot is the caller-owned portfolio state for one evaluation
// ⭐ 계약: 엔진은 스냅샷을 읽기만 하고 절대 수정하지 않음
type HoldingsSnapshot struct {
	AsOfDate  *time.Time `json:"as_of_date,omitempty"`
	Positions []Position `json:"positions"`
	Cash      *float64   `json:"cash,omitempty"`
	BaseCcy   string     `json:"base_ccy,omitempty"`
}

// Symbols returns the held symbols in snapshot order
func (h HoldingsSnapshot) Symbols() []string {
	out := make([]string, len(h.Positions))
	for i, p := range h.Positions {
		out[i] = p.Symbol
	}
	return out
}

// Position finds a position by symbol
func (h HoldingsSnapshot) Position(symbol string) (Position, bool) {
	symbol = strings.ToUpper(symbol)
	for _, p := range h.Positions {
		if p.Symbol == symbol {
			return p, true
		}
	}
	return Position{}, false
}

// CashOrZero returns cash, treating an unknown balance as 0
func (h HoldingsSnapshot) CashOrZero() float64 {
	if h.Cash == nil {
		return 0
	}
	return *h.Cash
}

// Normalize upper-cases symbols, sorts positions and rejects duplicates
func (h HoldingsSnapshot) Normalize() (HoldingsSnapshot, error) {
	out := h
	out.Positions = make([]Position, 0, len(h.Positions))
	seen := make(map[string]bool, len(h.Positions))
	for _, p := range h.Positions {
		p.Symbol = strings.ToUpper(strings.TrimSpace(p.Symbol))
		if p.Symbol == "" {
			return HoldingsSnapshot{}, fmt.Errorf("%w: position missing symbol", ErrInvalidHoldings)
		}
		if seen[p.Symbol] {
			return HoldingsSnapshot{}, fmt.Errorf("%w: duplicate position %s", ErrInvalidHoldings, p.Symbol)
		}
		seen[p.Symbol] = true
		out.Positions = append(out.Positions, p)
	}
	sort.Slice(out.Positions, func(i, j int) bool { return out.Positions[i].Symbol < out.Positions[j].Symbol })
	return out, nil
}

// holdingsDocument is the on-disk form; as_of_date is YYYY-MM-DD
type holdingsDocument struct {
	AsOfDate  *string    `json:"as_of_date"`
	Positions []Position `json:"positions"`
	Cash      *float64   `json:"cash"`
	BaseCcy   *string    `json:"base_ccy"`
}

// ParseHoldings decodes a holdings JSON document
func ParseHoldings(r io.Reader) (HoldingsSnapshot, error) {
	var doc holdingsDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return HoldingsSnapshot{}, fmt.Errorf("%w: %v", ErrInvalidHoldings, err)
	}

	snap := HoldingsSnapshot{Positions: doc.Positions, Cash: doc.Cash}
	if doc.BaseCcy != nil {
		snap.BaseCcy = *doc.BaseCcy
	}
	if doc.AsOfDate != nil && *doc.AsOfDate != "" {
		d, err := time.Parse("2006-01-02", *doc.AsOfDate)
		if err != nil {
			return HoldingsSnapshot{}, fmt.Errorf("%w: as_of_date %q", ErrInvalidHoldings, *doc.AsOfDate)
		}
		snap.AsOfDate = &d
	}
	return snap.Normalize()
}

// LoadHoldings reads a holdings JSON file
func LoadHoldings(path string) (HoldingsSnapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return HoldingsSnapshot{}, fmt.Errorf("holdings file: %w", err)
	}
	defer f.Close()
	return ParseHoldings(f)
}
