package ledger

import (
	"context"
	"fmt"
	"time"

	"custos/internal/audit"
	"custos/internal/logger"
	"custos/internal/metrics"
	"custos/internal/notify"
	"custos/internal/store"
	"custos/internal/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	acctExchangeCash = "exchange:cash"
	acctPositions    = "positions:"
	acctFees         = "expenses:fees"
)

// Poster records confirmed fills as balanced double-entry transactions.
// The correlation id (fill id) is the idempotency boundary: replaying a
// fill from a durable message log is safe.
type Poster struct {
	store    store.LedgerStore
	notifier notify.Notifier
	auditor  audit.Sink

	alertRetries int
}

func NewPoster(st store.LedgerStore, notifier notify.Notifier, auditor audit.Sink, alertRetries int) *Poster {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	if auditor == nil {
		auditor = audit.Discard{}
	}
	if alertRetries <= 0 {
		alertRetries = 3
	}
	return &Poster{store: st, notifier: notifier, auditor: auditor, alertRetries: alertRetries}
}

// PostFill converts a fill into a ledger transaction and posts it.
// Returns true when a new transaction was written, false on an idempotent
// hit. Storage failures are retried a bounded number of times and then
// escalated to the operator; the fill pipeline stays live either way.
func (p *Poster) PostFill(ctx context.Context, fill types.Fill) bool {
	tx, err := fillTransaction(fill)
	if err != nil {
		p.escalate(fill.FillID, err)
		return false
	}
	var posted bool
	for attempt := 1; attempt <= p.alertRetries; attempt++ {
		posted, err = p.Post(ctx, tx)
		if err == nil {
			return posted
		}
		logger.Warnf("ledger: posting %s failed (attempt %d/%d): %v",
			fill.FillID, attempt, p.alertRetries, err)
	}
	p.escalate(fill.FillID, err)
	return false
}

// Post validates and writes one transaction. Posting an already-seen
// correlation id is a no-op, not an error.
func (p *Poster) Post(ctx context.Context, tx types.LedgerTransaction) (bool, error) {
	if err := validateTransaction(tx); err != nil {
		return false, err
	}
	exists, err := p.store.TransactionExists(ctx, tx.CorrelationID)
	if err != nil {
		return false, fmt.Errorf("ledger existence check failed: %w", err)
	}
	if exists {
		logger.Debugf("ledger: correlation_id %s already posted, skipping", tx.CorrelationID)
		metrics.LedgerPosts.WithLabelValues("duplicate").Inc()
		return false, nil
	}
	if err := p.store.CreateTransaction(ctx, &tx); err != nil {
		return false, fmt.Errorf("ledger post failed: %w", err)
	}
	metrics.LedgerPosts.WithLabelValues("posted").Inc()
	if err := p.auditor.Append(audit.Record{
		Timestamp: tx.PostedAt,
		Kind:      "ledger.post",
		SubjectID: tx.CorrelationID,
		Detail:    tx.Description,
	}); err != nil {
		logger.Warnf("ledger: audit append failed for %s: %v", tx.CorrelationID, err)
	}
	return true, nil
}

// escalate records the unrecoverable posting failure and raises the
// manual-intervention alert. Delivery is fire-and-forget.
func (p *Poster) escalate(correlationID string, cause error) {
	metrics.LedgerPosts.WithLabelValues("failed").Inc()
	logger.Errorf("ledger: giving up on %s, manual intervention required: %v", correlationID, cause)
	if err := p.auditor.Append(audit.Record{
		Timestamp: time.Now(),
		Kind:      "ledger.post_failed",
		SubjectID: correlationID,
		Detail:    cause.Error(),
	}); err != nil {
		logger.Warnf("ledger: audit append failed for %s: %v", correlationID, err)
	}
	go p.notifier.Notify("ledger_manual_intervention", map[string]any{
		"correlation_id": correlationID,
		"error":          cause.Error(),
	})
}

func validateTransaction(tx types.LedgerTransaction) error {
	if tx.CorrelationID == "" {
		return fmt.Errorf("transaction missing correlation_id")
	}
	if len(tx.Entries) < 2 {
		return fmt.Errorf("transaction %s needs at least two entries", tx.CorrelationID)
	}
	sums := make(map[string]decimal.Decimal)
	for _, e := range tx.Entries {
		if e.Amount.IsNegative() {
			return fmt.Errorf("transaction %s has negative amount on %s", tx.CorrelationID, e.AccountID)
		}
		if e.Direction != types.Credit && e.Direction != types.Debit {
			return fmt.Errorf("transaction %s has invalid direction on %s", tx.CorrelationID, e.AccountID)
		}
		sums[e.Currency] = sums[e.Currency].Add(e.Signed())
	}
	for currency, sum := range sums {
		if !sum.IsZero() {
			return fmt.Errorf("transaction %s unbalanced in %s by %s", tx.CorrelationID, currency, sum)
		}
	}
	return nil
}

// fillTransaction builds the canonical double entry for a fill: the trade
// leg moves notional between cash and the symbol's position account, and a
// fee leg books the commission when present.
func fillTransaction(fill types.Fill) (types.LedgerTransaction, error) {
	if fill.FillID == "" {
		return types.LedgerTransaction{}, fmt.Errorf("fill missing id")
	}
	notional := fill.Price.Mul(fill.Size).Abs()
	quote := quoteCurrency(fill.Symbol)

	tx := types.LedgerTransaction{
		ID:            uuid.NewString(),
		CorrelationID: fill.FillID,
		Description:   fmt.Sprintf("%s %s %s @ %s", fill.Side, fill.Size, fill.Symbol, fill.Price),
		PostedAt:      fill.FilledAt,
	}
	if tx.PostedAt.IsZero() {
		tx.PostedAt = time.Now()
	}

	posAcct := acctPositions + fill.Symbol
	cashDir, posDir := types.Credit, types.Debit
	if fill.Side == "sell" || fill.Side == "SELL" {
		cashDir, posDir = types.Debit, types.Credit
	}
	tx.Entries = append(tx.Entries,
		types.LedgerEntry{AccountID: acctExchangeCash, Direction: cashDir, Amount: notional, Currency: quote},
		types.LedgerEntry{AccountID: posAcct, Direction: posDir, Amount: notional, Currency: quote},
	)
	if fill.Fee.IsPositive() {
		feeAsset := fill.FeeAsset
		if feeAsset == "" {
			feeAsset = quote
		}
		tx.Entries = append(tx.Entries,
			types.LedgerEntry{AccountID: acctFees, Direction: types.Debit, Amount: fill.Fee, Currency: feeAsset},
			types.LedgerEntry{AccountID: acctExchangeCash, Direction: types.Credit, Amount: fill.Fee, Currency: feeAsset},
		)
	}
	return tx, nil
}

func quoteCurrency(symbol string) string {
	for i := len(symbol) - 1; i >= 0; i-- {
		if symbol[i] == '/' {
			return symbol[i+1:]
		}
	}
	return "USDT"
}
