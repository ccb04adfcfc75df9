package app

import (
	"context"

	"custos/internal/ledger"

	"github.com/shopspring/decimal"
)

// PositionFlattener is the execution-layer collaborator the FLATTEN intent
// calls out to. The control core never routes orders itself.
type PositionFlattener interface {
	FlattenAll(ctx context.Context, reason string) (closed int, err error)
}

// BalanceSource supplies venue-reported balances paired with the shadow
// ledger's expectation for reconciliation runs.
type BalanceSource interface {
	Balances(ctx context.Context) ([]ledger.Observation, error)
}

// AccountSource supplies live equity and realized daily P&L from the
// execution layer.
type AccountSource interface {
	Equity() decimal.Decimal
	DailyPnL() decimal.Decimal
}

// staticAccount is the bootstrap equity source used until an execution
// layer registers a live one.
type staticAccount struct {
	equity decimal.Decimal
}

func (s staticAccount) Equity() decimal.Decimal   { return s.equity }
func (s staticAccount) DailyPnL() decimal.Decimal { return decimal.Zero }
