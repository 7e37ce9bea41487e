package repository

import (
	"strings"
	"time"

	"github.com/donation-core/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EventReceiptRepository processed gateway event ledger
type EventReceiptRepository interface {
	Record(gateway, eventID, kind string, at time.Time) (bool, error)
	Exists(gateway, eventID string) (bool, error)
	WithTx(tx *gorm.DB) EventReceiptRepository
}

// GormEventReceiptRepository GORM implementation
type GormEventReceiptRepository struct {
	db *gorm.DB
}

// NewEventReceiptRepository creates the receipt repository
func NewEventReceiptRepository(db *gorm.DB) *GormEventReceiptRepository {
	return &GormEventReceiptRepository{db: db}
}

// WithTx binds a transaction
func (r *GormEventReceiptRepository) WithTx(tx *gorm.DB) EventReceiptRepository {
	if tx == nil {
		return r
	}
	return &GormEventReceiptRepository{db: tx}
}

// Record inserts a receipt. It returns false when the event was already applied.
func (r *GormEventReceiptRepository) Record(gateway, eventID, kind string, at time.Time) (bool, error) {
	receipt := models.GatewayEventReceipt{
		Gateway:     strings.TrimSpace(gateway),
		EventID:     strings.TrimSpace(eventID),
		Kind:        kind,
		ProcessedAt: at,
	}
	result := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "gateway"}, {Name: "event_id"}},
		DoNothing: true,
	}).Create(&receipt)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Exists reports whether the event was already applied.
func (r *GormEventReceiptRepository) Exists(gateway, eventID string) (bool, error) {
	var count int64
	err := r.db.Model(&models.GatewayEventReceipt{}).
		Where("gateway = ? AND event_id = ?", strings.TrimSpace(gateway), strings.TrimSpace(eventID)).
		Count(&count).Error
	return count > 0, err
}
