// sql.go - SQLite backend via gorm.

package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"shielded/internal/shielderr"
	"shielded/internal/transaction"
)

type transactionRow struct {
	ID        string                           `gorm:"primaryKey"`
	Timestamp time.Time                        `gorm:"index"`
	Body      *transaction.ShieldedTransaction `gorm:"serializer:json;type:text"`
}

func (transactionRow) TableName() string { return "transactions" }

type leafRow struct {
	Seq  uint64 `gorm:"primaryKey;autoIncrement"`
	Data string `gorm:"not null"`
}

func (leafRow) TableName() string { return "merkle_leaves" }

// SQLStore is the gorm backend.
type SQLStore struct {
	db *gorm.DB
}

// OpenSQLStore opens (or creates) the SQLite database at path and migrates the schema.
func OpenSQLStore(path string) (*SQLStore, error) {
	return NewSQLStore(sqlite.Open(path))
}

// NewSQLStore wraps any gorm dialector.
func NewSQLStore(dialector gorm.Dialector) (*SQLStore, error) {
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, errors.Wrapf(shielderr.ErrStorage, "open database: %v", err)
	}
	if err := db.AutoMigrate(&transactionRow{}, &leafRow{}); err != nil {
		return nil, errors.Wrapf(shielderr.ErrStorage, "migrate: %v", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) AddTransaction(ctx context.Context, tx *transaction.ShieldedTransaction) error {
	err := s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		var count int64
		if err := db.Model(&transactionRow{}).Where("id = ?", tx.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return duplicate(tx.ID)
		}
		if err := db.Create(&transactionRow{ID: tx.ID, Timestamp: tx.Timestamp, Body: tx}).Error; err != nil {
			return err
		}
		return db.Create(&leafRow{Data: tx.ID}).Error
	})
	if err != nil && !errors.Is(err, shielderr.ErrInvalidTransaction) {
		return errors.Wrapf(shielderr.ErrStorage, "insert transaction %s: %v", tx.ID, err)
	}
	return err
}

func (s *SQLStore) GetTransaction(ctx context.Context, id string) (*transaction.ShieldedTransaction, error) {
	var row transactionRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, errors.Wrapf(shielderr.ErrStorage, "query transaction %s: %v", id, err)
	}
	return row.Body, nil
}

func (s *SQLStore) Transactions(ctx context.Context) ([]*transaction.ShieldedTransaction, error) {
	var rows []transactionRow
	if err := s.db.WithContext(ctx).Order("timestamp, id").Find(&rows).Error; err != nil {
		return nil, errors.Wrapf(shielderr.ErrStorage, "list transactions: %v", err)
	}
	out := make([]*transaction.ShieldedTransaction, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Body)
	}
	return out, nil
}

func (s *SQLStore) MerkleLeaves(ctx context.Context) ([]string, error) {
	leaves := make([]string, 0)
	if err := s.db.WithContext(ctx).Model(&leafRow{}).Order("seq").Pluck("data", &leaves).Error; err != nil {
		return nil, errors.Wrapf(shielderr.ErrStorage, "list leaves: %v", err)
	}
	return leaves, nil
}

func (s *SQLStore) Clear(ctx context.Context) error {
	err := s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		if err := db.Exec("DELETE FROM transactions").Error; err != nil {
			return err
		}
		return db.Exec("DELETE FROM merkle_leaves").Error
	})
	if err != nil {
		return errors.Wrapf(shielderr.ErrStorage, "clear: %v", err)
	}
	return nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.Wrapf(shielderr.ErrStorage, "database handle: %v", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return errors.Wrapf(shielderr.ErrStorage, "ping: %v", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
