package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"custos/internal/store"
	"custos/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memLedgerStore struct {
	mu      sync.Mutex
	txs     map[string]*types.LedgerTransaction
	failFor int
	creates int
}

func newMemLedgerStore() *memLedgerStore {
	return &memLedgerStore{txs: make(map[string]*types.LedgerTransaction)}
}

func (m *memLedgerStore) TransactionExists(_ context.Context, correlationID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.txs[correlationID]
	return ok, nil
}

func (m *memLedgerStore) CreateTransaction(_ context.Context, tx *types.LedgerTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	if m.failFor > 0 {
		m.failFor--
		return errors.New("disk full")
	}
	cp := *tx
	m.txs[tx.CorrelationID] = &cp
	return nil
}

func (m *memLedgerStore) LoadTransaction(_ context.Context, correlationID string) (*types.LedgerTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[correlationID]
	if !ok {
		return nil, errors.New("not found")
	}
	return tx, nil
}

var _ store.LedgerStore = (*memLedgerStore)(nil)

func buyFill(id string) types.Fill {
	return types.Fill{
		FillID:   id,
		Symbol:   "BTC/USDT",
		Side:     "buy",
		Price:    decimal.NewFromInt(50000),
		Size:     decimal.NewFromFloat(0.1),
		Fee:      decimal.NewFromInt(2),
		FeeAsset: "USDT",
		FilledAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestPostFillWritesBalancedTransaction(t *testing.T) {
	st := newMemLedgerStore()
	p := NewPoster(st, nil, nil, 3)

	require.True(t, p.PostFill(context.Background(), buyFill("fill-1")))

	tx, err := st.LoadTransaction(context.Background(), "fill-1")
	require.NoError(t, err)
	require.Len(t, tx.Entries, 4)

	sum := decimal.Zero
	for _, e := range tx.Entries {
		assert.False(t, e.Amount.IsNegative())
		sum = sum.Add(e.Signed())
	}
	assert.True(t, sum.IsZero(), "entries must net to zero, got %s", sum)
}

func TestPostFillIdempotentOnCorrelationID(t *testing.T) {
	st := newMemLedgerStore()
	p := NewPoster(st, nil, nil, 3)

	require.True(t, p.PostFill(context.Background(), buyFill("fill-dup")))
	assert.False(t, p.PostFill(context.Background(), buyFill("fill-dup")))

	assert.Equal(t, 1, st.creates)
	tx, err := st.LoadTransaction(context.Background(), "fill-dup")
	require.NoError(t, err)
	assert.Len(t, tx.Entries, 4)
}

func TestPostFillRetriesTransientFailure(t *testing.T) {
	st := newMemLedgerStore()
	st.failFor = 2
	p := NewPoster(st, nil, nil, 3)

	assert.True(t, p.PostFill(context.Background(), buyFill("fill-retry")))
	assert.Equal(t, 3, st.creates)
}

func TestPostFillGivesUpAfterRetries(t *testing.T) {
	st := newMemLedgerStore()
	st.failFor = 10
	p := NewPoster(st, nil, nil, 3)

	assert.False(t, p.PostFill(context.Background(), buyFill("fill-dead")))
	_, err := st.LoadTransaction(context.Background(), "fill-dead")
	assert.Error(t, err)
}

func TestPostRejectsUnbalancedTransaction(t *testing.T) {
	p := NewPoster(newMemLedgerStore(), nil, nil, 1)

	tx := types.LedgerTransaction{
		ID:            "tx-1",
		CorrelationID: "corr-1",
		PostedAt:      time.Now(),
		Entries: []types.LedgerEntry{
			{AccountID: "a", Direction: types.Debit, Amount: decimal.NewFromInt(10), Currency: "USDT"},
			{AccountID: "b", Direction: types.Credit, Amount: decimal.NewFromInt(9), Currency: "USDT"},
		},
	}
	_, err := p.Post(context.Background(), tx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unbalanced")
}

func TestPostRejectsSingleEntry(t *testing.T) {
	p := NewPoster(newMemLedgerStore(), nil, nil, 1)

	tx := types.LedgerTransaction{
		ID:            "tx-2",
		CorrelationID: "corr-2",
		Entries: []types.LedgerEntry{
			{AccountID: "a", Direction: types.Debit, Amount: decimal.NewFromInt(10), Currency: "USDT"},
		},
	}
	_, err := p.Post(context.Background(), tx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least two entries")
}

func TestPostRejectsNegativeAmount(t *testing.T) {
	p := NewPoster(newMemLedgerStore(), nil, nil, 1)

	tx := types.LedgerTransaction{
		ID:            "tx-3",
		CorrelationID: "corr-3",
		Entries: []types.LedgerEntry{
			{AccountID: "a", Direction: types.Debit, Amount: decimal.NewFromInt(-5), Currency: "USDT"},
			{AccountID: "b", Direction: types.Credit, Amount: decimal.NewFromInt(-5), Currency: "USDT"},
		},
	}
	_, err := p.Post(context.Background(), tx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "negative amount")
}

func TestSellFillReversesDirections(t *testing.T) {
	st := newMemLedgerStore()
	p := NewPoster(st, nil, nil, 1)

	fill := buyFill("fill-sell")
	fill.Side = "sell"
	fill.Fee = decimal.Zero
	require.True(t, p.PostFill(context.Background(), fill))

	tx, err := st.LoadTransaction(context.Background(), "fill-sell")
	require.NoError(t, err)
	require.Len(t, tx.Entries, 2)
	for _, e := range tx.Entries {
		if e.AccountID == acctExchangeCash {
			assert.Equal(t, types.Debit, e.Direction)
		} else {
			assert.Equal(t, types.Credit, e.Direction)
		}
	}
}
