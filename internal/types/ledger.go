package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryDirection signs a ledger entry: credit +1, debit -1.
type EntryDirection int

const (
	Credit EntryDirection = 1
	Debit  EntryDirection = -1
)

// LedgerEntry is one leg of a double-entry transaction. Amount is always
// non-negative; Direction carries the sign.
type LedgerEntry struct {
	AccountID string          `json:"account_id"`
	Direction EntryDirection  `json:"direction"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
}

// Signed returns Amount with the entry's direction applied.
func (e LedgerEntry) Signed() decimal.Decimal {
	if e.Direction == Debit {
		return e.Amount.Neg()
	}
	return e.Amount
}

// LedgerTransaction groups two or more entries whose signed amounts sum to
// zero per currency. CorrelationID (typically a fill id) is the idempotency
// boundary: re-posting the same id is a no-op.
type LedgerTransaction struct {
	ID            string        `json:"tx_id"`
	CorrelationID string        `json:"correlation_id"`
	Description   string        `json:"description"`
	PostedAt      time.Time     `json:"posted_at"`
	Entries       []LedgerEntry `json:"entries"`
}

// Fill is a confirmed execution reported by the execution layer.
type Fill struct {
	FillID   string          `json:"fill_id"`
	Symbol   string          `json:"symbol"`
	Side     string          `json:"side"`
	Price    decimal.Decimal `json:"price"`
	Size     decimal.Decimal `json:"size"`
	Fee      decimal.Decimal `json:"fee"`
	FeeAsset string          `json:"fee_asset"`
	FilledAt time.Time       `json:"filled_at"`
	Sequence uint64          `json:"sequence"`
}
