package repository

import (
	"errors"
	"strings"
	"time"

	"github.com/donation-core/internal/constants"
	"github.com/donation-core/internal/models"

	"gorm.io/gorm"
)

var liveScheduleStatuses = []string{constants.ScheduleStatusActive, constants.ScheduleStatusOverdue}

// ScheduleRepository recurring schedule access. State changes go through a
// version compare-and-set so two writers never both win.
type ScheduleRepository interface {
	Create(schedule *models.RecurringSchedule) error
	GetByID(id uint) (*models.RecurringSchedule, error)
	GetByExternalID(gateway, externalID string) (*models.RecurringSchedule, error)
	FindLiveForContact(contactID uint, gateway, intervalUnit string, intervalCount int) ([]models.RecurringSchedule, error)
	ListDue(now time.Time, limit int) ([]models.RecurringSchedule, error)
	Claim(id uint, version int64, now, leaseUntil time.Time) (bool, error)
	ApplyOutcome(id uint, version int64, outcome ScheduleOutcome) (bool, error)
	AttachExternal(id uint, version int64, externalID, paymentMethodRef string) (bool, error)
	ListAdmin(filter ScheduleListFilter) ([]models.RecurringSchedule, int64, error)
	WithTx(tx *gorm.DB) ScheduleRepository
}

// GormScheduleRepository GORM implementation
type GormScheduleRepository struct {
	db *gorm.DB
}

// NewScheduleRepository creates the schedule repository
func NewScheduleRepository(db *gorm.DB) *GormScheduleRepository {
	return &GormScheduleRepository{db: db}
}

// WithTx binds a transaction
func (r *GormScheduleRepository) WithTx(tx *gorm.DB) ScheduleRepository {
	if tx == nil {
		return r
	}
	return &GormScheduleRepository{db: tx}
}

// Create schedule
func (r *GormScheduleRepository) Create(schedule *models.RecurringSchedule) error {
	return r.db.Create(schedule).Error
}

// GetByID returns nil when the schedule is unknown.
func (r *GormScheduleRepository) GetByID(id uint) (*models.RecurringSchedule, error) {
	var schedule models.RecurringSchedule
	if err := r.db.Preload("Contact").First(&schedule, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &schedule, nil
}

// GetByExternalID finds a schedule by its processor subscription id.
func (r *GormScheduleRepository) GetByExternalID(gateway, externalID string) (*models.RecurringSchedule, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, nil
	}
	var schedule models.RecurringSchedule
	err := r.db.Where("gateway = ? AND external_subscription_id = ?", gateway, externalID).First(&schedule).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &schedule, nil
}

// FindLiveForContact lists active or overdue schedules with the same cadence.
// Amount matching is left to the caller at ledger precision.
func (r *GormScheduleRepository) FindLiveForContact(contactID uint, gateway, intervalUnit string, intervalCount int) ([]models.RecurringSchedule, error) {
	var rows []models.RecurringSchedule
	err := r.db.
		Where("contact_id = ? AND gateway = ? AND interval_unit = ? AND interval_count = ?", contactID, gateway, intervalUnit, intervalCount).
		Where("status IN ?", liveScheduleStatuses).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ListDue returns established, locally billed schedules whose charge date
// has passed and which no runner currently holds. A schedule without a stored
// mandate is never billed.
func (r *GormScheduleRepository) ListDue(now time.Time, limit int) ([]models.RecurringSchedule, error) {
	query := r.db.
		Where("billing_mode = ?", constants.BillingModeLocal).
		Where("established = ?", true).
		Where("status IN ?", liveScheduleStatuses).
		Where("next_charge_at <= ?", now).
		Where("(lease_until IS NULL OR lease_until < ?)", now).
		Order("next_charge_at ASC").
		Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []models.RecurringSchedule
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Claim reserves a due schedule for one runner. It succeeds only when the
// version is unchanged, the schedule is still due and no lease is held.
func (r *GormScheduleRepository) Claim(id uint, version int64, now, leaseUntil time.Time) (bool, error) {
	result := r.db.Model(&models.RecurringSchedule{}).
		Where("id = ? AND version = ?", id, version).
		Where("established = ?", true).
		Where("status IN ?", liveScheduleStatuses).
		Where("next_charge_at <= ?", now).
		Where("(lease_until IS NULL OR lease_until < ?)", now).
		Updates(map[string]interface{}{
			"version":     gorm.Expr("version + 1"),
			"lease_until": leaseUntil,
			"updated_at":  now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ApplyOutcome writes a settled attempt when the version still matches.
func (r *GormScheduleRepository) ApplyOutcome(id uint, version int64, outcome ScheduleOutcome) (bool, error) {
	updates := map[string]interface{}{
		"version":              gorm.Expr("version + 1"),
		"consecutive_failures": outcome.ConsecutiveFailures,
		"updated_at":           time.Now(),
	}
	if outcome.Status != "" {
		updates["status"] = outcome.Status
	}
	if outcome.NextChargeAt != nil {
		updates["next_charge_at"] = *outcome.NextChargeAt
	}
	if outcome.CancellationReason != nil {
		updates["cancellation_reason"] = *outcome.CancellationReason
	}
	if outcome.LastAttemptAt != nil {
		updates["last_attempt_at"] = *outcome.LastAttemptAt
	}
	if outcome.LastChargedAt != nil {
		updates["last_charged_at"] = *outcome.LastChargedAt
	}
	if outcome.CancelledAt != nil {
		updates["cancelled_at"] = *outcome.CancelledAt
	}
	if outcome.ReleaseLease {
		updates["lease_until"] = nil
	}
	result := r.db.Model(&models.RecurringSchedule{}).
		Where("id = ? AND version = ?", id, version).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// AttachExternal stores a processor mandate on a live, unestablished schedule
// and marks it established. It reports false when the version moved, the
// schedule ended or a mandate was already attached.
func (r *GormScheduleRepository) AttachExternal(id uint, version int64, externalID, paymentMethodRef string) (bool, error) {
	externalID = strings.TrimSpace(externalID)
	paymentMethodRef = strings.TrimSpace(paymentMethodRef)
	if externalID == "" {
		return false, errors.New("external id is required")
	}
	updates := map[string]interface{}{
		"established":              true,
		"external_subscription_id": externalID,
		"version":                  gorm.Expr("version + 1"),
		"updated_at":               time.Now(),
	}
	if paymentMethodRef != "" {
		updates["payment_method_ref"] = paymentMethodRef
	}
	result := r.db.Model(&models.RecurringSchedule{}).
		Where("id = ? AND version = ?", id, version).
		Where("established = ?", false).
		Where("status IN ?", liveScheduleStatuses).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ListAdmin lists schedules for the back office.
func (r *GormScheduleRepository) ListAdmin(filter ScheduleListFilter) ([]models.RecurringSchedule, int64, error) {
	query := r.db.Model(&models.RecurringSchedule{})
	if filter.ContactID != 0 {
		query = query.Where("contact_id = ?", filter.ContactID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Gateway != "" {
		query = query.Where("gateway = ?", filter.Gateway)
	}
	if filter.BillingMode != "" {
		query = query.Where("billing_mode = ?", filter.BillingMode)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	query = applyPagination(query, filter.Page, filter.PageSize)

	var rows []models.RecurringSchedule
	if err := query.Preload("Contact").Order("id DESC").Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}
