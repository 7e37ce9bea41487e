package repository

import (
	"context"

	"gorm.io/gorm"
)

// TxRunner runs a unit of work in a single database transaction.
type TxRunner interface {
	Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// GormTxRunner GORM implementation
type GormTxRunner struct {
	db *gorm.DB
}

// NewTxRunner creates the transaction runner
func NewTxRunner(db *gorm.DB) *GormTxRunner {
	return &GormTxRunner{db: db}
}

// Transaction commits when fn returns nil and rolls back otherwise.
func (r *GormTxRunner) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return r.db.WithContext(ctx).Transaction(fn)
}
