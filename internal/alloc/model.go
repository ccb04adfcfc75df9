package alloc

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Model is the allocation collaborator: it maps account equity to a tier,
// a leverage ceiling and per-phase target weights.
type Model interface {
	EquityTier(equity decimal.Decimal) int
	MaxLeverage(equity decimal.Decimal) decimal.Decimal
	Weights(equity decimal.Decimal) map[string]float64
}

// Tier is one row of the static allocation table.
type Tier struct {
	MinEquity   decimal.Decimal
	MaxLeverage decimal.Decimal
	Weights     map[string]float64
}

// StaticModel is a tier table evaluated by equity floor. Rows are kept
// sorted ascending by MinEquity; lookup picks the highest row at or below
// the given equity.
type StaticModel struct {
	tiers []Tier
}

func NewStaticModel(tiers []Tier) *StaticModel {
	sorted := make([]Tier, len(tiers))
	copy(sorted, tiers)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].MinEquity.LessThan(sorted[j].MinEquity)
	})
	return &StaticModel{tiers: sorted}
}

// DefaultModel returns a conservative three-tier table used when no
// allocation config is supplied.
func DefaultModel(phases []string) *StaticModel {
	weight := func(scale float64) map[string]float64 {
		w := make(map[string]float64, len(phases))
		if len(phases) == 0 {
			return w
		}
		per := scale / float64(len(phases))
		for _, p := range phases {
			w[p] = per
		}
		return w
	}
	return NewStaticModel([]Tier{
		{MinEquity: decimal.Zero, MaxLeverage: decimal.NewFromInt(2), Weights: weight(0.5)},
		{MinEquity: decimal.NewFromInt(10_000), MaxLeverage: decimal.NewFromInt(5), Weights: weight(0.8)},
		{MinEquity: decimal.NewFromInt(100_000), MaxLeverage: decimal.NewFromInt(10), Weights: weight(1.0)},
	})
}

func (m *StaticModel) tierAt(equity decimal.Decimal) (int, Tier) {
	idx := 0
	row := Tier{MaxLeverage: decimal.NewFromInt(1)}
	for i, t := range m.tiers {
		if equity.GreaterThanOrEqual(t.MinEquity) {
			idx, row = i, t
		}
	}
	return idx, row
}

func (m *StaticModel) EquityTier(equity decimal.Decimal) int {
	idx, _ := m.tierAt(equity)
	return idx
}

func (m *StaticModel) MaxLeverage(equity decimal.Decimal) decimal.Decimal {
	_, row := m.tierAt(equity)
	return row.MaxLeverage
}

func (m *StaticModel) Weights(equity decimal.Decimal) map[string]float64 {
	_, row := m.tierAt(equity)
	out := make(map[string]float64, len(row.Weights))
	for k, v := range row.Weights {
		out[k] = v
	}
	return out
}
