package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"custos/internal/store/model"
	"custos/internal/types"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SqliteStore backs both the intent archive and the ledger with one
// database file.
type SqliteStore struct {
	db *gorm.DB
}

func NewSqliteStore(path string) (*SqliteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	return newSqliteStore(db)
}

// NewSqliteStoreFromDB wraps an existing gorm handle; used by tests.
func NewSqliteStoreFromDB(db *gorm.DB) (*SqliteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db cannot be nil")
	}
	return newSqliteStore(db)
}

func newSqliteStore(db *gorm.DB) (*SqliteStore, error) {
	models := []interface{}{
		&model.IntentModel{},
		&model.LedgerTransactionModel{},
		&model.LedgerEntryModel{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
	return &SqliteStore{db: db}, nil
}

func (s *SqliteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SqliteStore) SaveIntent(ctx context.Context, in *types.OperatorIntent) error {
	row, err := intentToModel(in)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Where("intent_id = ?", in.ID).
		Assign(map[string]any{
			"status":           row.Status,
			"approver_id":      row.ApproverID,
			"rejection_reason": row.Rejection,
			"receipt":          row.Receipt,
			"resolved_at":      row.ResolvedAt,
			"updated_at":       time.Now().UnixMilli(),
		}).
		Attrs(row).
		FirstOrCreate(&model.IntentModel{}).Error
}

func (s *SqliteStore) LoadIntents(ctx context.Context) ([]*types.OperatorIntent, error) {
	var rows []model.IntentModel
	if err := s.db.WithContext(ctx).Order("submitted_at asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*types.OperatorIntent, 0, len(rows))
	for i := range rows {
		in, err := modelToIntent(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, nil
}

func (s *SqliteStore) TransactionExists(ctx context.Context, correlationID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.LedgerTransactionModel{}).
		Where("correlation_id = ?", correlationID).Count(&count).Error
	return count > 0, err
}

func (s *SqliteStore) CreateTransaction(ctx context.Context, tx *types.LedgerTransaction) error {
	row := model.LedgerTransactionModel{
		TxID:          tx.ID,
		CorrelationID: tx.CorrelationID,
		Description:   tx.Description,
		PostedAt:      tx.PostedAt.UnixMilli(),
	}
	return s.db.WithContext(ctx).Transaction(func(g *gorm.DB) error {
		if err := g.Create(&row).Error; err != nil {
			return err
		}
		for _, e := range tx.Entries {
			entry := model.LedgerEntryModel{
				TxRef:     row.ID,
				AccountID: e.AccountID,
				Direction: int(e.Direction),
				Amount:    e.Amount.String(),
				Currency:  e.Currency,
			}
			if err := g.Create(&entry).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SqliteStore) LoadTransaction(ctx context.Context, correlationID string) (*types.LedgerTransaction, error) {
	var row model.LedgerTransactionModel
	err := s.db.WithContext(ctx).Where("correlation_id = ?", correlationID).First(&row).Error
	if err != nil {
		return nil, err
	}
	var entries []model.LedgerEntryModel
	if err := s.db.WithContext(ctx).Where("tx_ref = ?", row.ID).Find(&entries).Error; err != nil {
		return nil, err
	}
	out := &types.LedgerTransaction{
		ID:            row.TxID,
		CorrelationID: row.CorrelationID,
		Description:   row.Description,
		PostedAt:      time.UnixMilli(row.PostedAt),
	}
	for _, e := range entries {
		amount, err := decimal.NewFromString(e.Amount)
		if err != nil {
			return nil, fmt.Errorf("corrupt ledger amount %q: %w", e.Amount, err)
		}
		out.Entries = append(out.Entries, types.LedgerEntry{
			AccountID: e.AccountID,
			Direction: types.EntryDirection(e.Direction),
			Amount:    amount,
			Currency:  e.Currency,
		})
	}
	return out, nil
}

func intentToModel(in *types.OperatorIntent) (*model.IntentModel, error) {
	params, err := json.Marshal(in.Params)
	if err != nil {
		return nil, err
	}
	row := &model.IntentModel{
		IntentID:       in.ID,
		IdempotencyKey: in.IdempotencyKey,
		Type:           string(in.Type),
		Params:         params,
		OperatorID:     in.OperatorID,
		Reason:         in.Reason,
		Signature:      in.Signature,
		SubmittedAt:    in.SubmittedAt.UnixMilli(),
		TTLSeconds:     in.TTLSeconds,
		Status:         string(in.Status),
		ApproverID:     in.ApproverID,
		Rejection:      in.RejectionReason,
		CreatedAtUnix:  time.Now().UnixMilli(),
		UpdatedAtUnix:  time.Now().UnixMilli(),
	}
	if in.Receipt != nil {
		receipt, err := json.Marshal(in.Receipt)
		if err != nil {
			return nil, err
		}
		row.Receipt = receipt
	}
	if in.ResolvedAt != nil {
		row.ResolvedAt = in.ResolvedAt.UnixMilli()
	}
	return row, nil
}

func modelToIntent(row *model.IntentModel) (*types.OperatorIntent, error) {
	in := &types.OperatorIntent{
		ID:              row.IntentID,
		IdempotencyKey:  row.IdempotencyKey,
		Type:            types.IntentType(row.Type),
		OperatorID:      row.OperatorID,
		Reason:          row.Reason,
		Signature:       row.Signature,
		SubmittedAt:     time.UnixMilli(row.SubmittedAt),
		TTLSeconds:      row.TTLSeconds,
		Status:          types.IntentStatus(row.Status),
		ApproverID:      row.ApproverID,
		RejectionReason: row.Rejection,
	}
	if len(row.Params) > 0 {
		if err := json.Unmarshal(row.Params, &in.Params); err != nil {
			return nil, err
		}
	}
	if len(row.Receipt) > 0 {
		var receipt types.IntentReceipt
		if err := json.Unmarshal(row.Receipt, &receipt); err != nil {
			return nil, err
		}
		in.Receipt = &receipt
	}
	if row.ResolvedAt > 0 {
		t := time.UnixMilli(row.ResolvedAt)
		in.ResolvedAt = &t
	}
	return in, nil
}
