package model

import (
	"gorm.io/datatypes"
)

// IntentModel persists every operator intent for audit. Rows are never
// deleted; status moves forward only.
type IntentModel struct {
	ID             int64          `gorm:"column:id;primaryKey"`
	IntentID       string         `gorm:"column:intent_id;uniqueIndex"`
	IdempotencyKey string         `gorm:"column:idempotency_key;uniqueIndex"`
	Type           string         `gorm:"column:type;index"`
	Params         datatypes.JSON `gorm:"column:params"`
	OperatorID     string         `gorm:"column:operator_id;index"`
	Reason         string         `gorm:"column:reason"`
	Signature      string         `gorm:"column:signature"`
	SubmittedAt    int64          `gorm:"column:submitted_at"`
	TTLSeconds     int            `gorm:"column:ttl_seconds"`
	Status         string         `gorm:"column:status;index"`
	ApproverID     string         `gorm:"column:approver_id"`
	Rejection      string         `gorm:"column:rejection_reason"`
	Receipt        datatypes.JSON `gorm:"column:receipt"`
	ResolvedAt     int64          `gorm:"column:resolved_at"`
	CreatedAtUnix  int64          `gorm:"column:created_at"`
	UpdatedAtUnix  int64          `gorm:"column:updated_at"`
}

func (IntentModel) TableName() string { return "operator_intents" }

// LedgerTransactionModel is one double-entry transaction. CorrelationID is
// the idempotency boundary for fill replay.
type LedgerTransactionModel struct {
	ID            int64              `gorm:"column:id;primaryKey"`
	TxID          string             `gorm:"column:tx_id;uniqueIndex"`
	CorrelationID string             `gorm:"column:correlation_id;uniqueIndex"`
	Description   string             `gorm:"column:description"`
	PostedAt      int64              `gorm:"column:posted_at;index"`
	Entries       []LedgerEntryModel `gorm:"foreignKey:TxRef;references:ID"`
}

func (LedgerTransactionModel) TableName() string { return "ledger_transactions" }

type LedgerEntryModel struct {
	ID        int64  `gorm:"column:id;primaryKey"`
	TxRef     int64  `gorm:"column:tx_ref;index"`
	AccountID string `gorm:"column:account_id;index"`
	Direction int    `gorm:"column:direction"`
	// Amount is stored as a decimal string to avoid float drift.
	Amount   string `gorm:"column:amount"`
	Currency string `gorm:"column:currency"`
}

func (LedgerEntryModel) TableName() string { return "ledger_entries" }
