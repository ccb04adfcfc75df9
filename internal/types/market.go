package types

import "github.com/shopspring/decimal"

// Position is an open exposure as known to the risk layer.
type Position struct {
	Symbol     string          `json:"symbol"`
	Direction  int             `json:"direction"` // 1 long, -1 short
	Size       decimal.Decimal `json:"size"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	MarkPrice  decimal.Decimal `json:"mark_price"`
}

// Notional returns the absolute mark-to-market value of the position.
func (p Position) Notional() decimal.Decimal {
	return p.Size.Mul(p.MarkPrice).Abs()
}

// Signal is a proposed trade submitted to the risk guardian for pre-trade
// evaluation.
type Signal struct {
	SignalID  string          `json:"signal_id"`
	Symbol    string          `json:"symbol"`
	Venue     string          `json:"venue,omitempty"`
	Direction int             `json:"direction"`
	Size      decimal.Decimal `json:"size"`
	Price     decimal.Decimal `json:"price"`
}
