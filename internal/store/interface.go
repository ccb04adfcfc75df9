package store

import (
	"context"

	"custos/internal/types"
)

// IntentStore persists operator intents. Implementations must treat
// SaveIntent as an upsert keyed by the intent id.
type IntentStore interface {
	SaveIntent(ctx context.Context, in *types.OperatorIntent) error
	LoadIntents(ctx context.Context) ([]*types.OperatorIntent, error)
}

// LedgerStore persists double-entry transactions.
type LedgerStore interface {
	TransactionExists(ctx context.Context, correlationID string) (bool, error)
	CreateTransaction(ctx context.Context, tx *types.LedgerTransaction) error
	LoadTransaction(ctx context.Context, correlationID string) (*types.LedgerTransaction, error)
}
