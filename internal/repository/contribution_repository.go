package repository

import (
	"errors"
	"strings"

	"github.com/donation-core/internal/constants"
	"github.com/donation-core/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ContributionRepository ledger access. Rows are insert-only.
type ContributionRepository interface {
	InsertCompleted(contribution *models.Contribution) (*models.Contribution, bool, error)
	InsertFailed(contribution *models.Contribution) error
	GetByID(id uint) (*models.Contribution, error)
	GetCompletedByTransaction(externalTransactionID string) (*models.Contribution, error)
	CountCompletedForPeriod(scheduleID uint, billingPeriod string) (int64, error)
	ListAdmin(filter ContributionListFilter) ([]models.Contribution, int64, error)
	WithTx(tx *gorm.DB) ContributionRepository
}

// GormContributionRepository GORM implementation
type GormContributionRepository struct {
	db *gorm.DB
}

// NewContributionRepository creates the ledger repository
func NewContributionRepository(db *gorm.DB) *GormContributionRepository {
	return &GormContributionRepository{db: db}
}

// WithTx binds a transaction
func (r *GormContributionRepository) WithTx(tx *gorm.DB) ContributionRepository {
	if tx == nil {
		return r
	}
	return &GormContributionRepository{db: tx}
}

// InsertCompleted writes a completed contribution keyed by its external
// transaction id. When the key exists the stored row is returned and the
// bool reports a duplicate.
func (r *GormContributionRepository) InsertCompleted(contribution *models.Contribution) (*models.Contribution, bool, error) {
	if contribution == nil {
		return nil, false, errors.New("contribution is nil")
	}
	key := strings.TrimSpace(contribution.ExternalTransactionID)
	if key == "" {
		return nil, false, errors.New("external transaction id is required")
	}
	contribution.Status = constants.ContributionStatusCompleted
	contribution.IdempotencyKey = &key

	result := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "idempotency_key"}},
		DoNothing: true,
	}).Create(contribution)
	if result.Error != nil {
		return nil, false, result.Error
	}
	if result.RowsAffected > 0 {
		return contribution, false, nil
	}
	existing, err := r.GetCompletedByTransaction(key)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, errors.New("contribution vanished after conflict")
	}
	return existing, true, nil
}

// InsertFailed writes an audit row for a failed attempt.
func (r *GormContributionRepository) InsertFailed(contribution *models.Contribution) error {
	if contribution == nil {
		return errors.New("contribution is nil")
	}
	contribution.Status = constants.ContributionStatusFailed
	contribution.IdempotencyKey = nil
	return r.db.Create(contribution).Error
}

// GetByID returns nil when the contribution is unknown.
func (r *GormContributionRepository) GetByID(id uint) (*models.Contribution, error) {
	var contribution models.Contribution
	if err := r.db.Preload("Contact").First(&contribution, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &contribution, nil
}

// GetCompletedByTransaction finds the completed row for an external transaction.
func (r *GormContributionRepository) GetCompletedByTransaction(externalTransactionID string) (*models.Contribution, error) {
	var contribution models.Contribution
	err := r.db.Where("idempotency_key = ?", strings.TrimSpace(externalTransactionID)).First(&contribution).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &contribution, nil
}

// CountCompletedForPeriod counts completed charges for one billing period.
func (r *GormContributionRepository) CountCompletedForPeriod(scheduleID uint, billingPeriod string) (int64, error) {
	var count int64
	err := r.db.Model(&models.Contribution{}).
		Where("recurring_schedule_id = ? AND billing_period = ? AND status = ?", scheduleID, billingPeriod, constants.ContributionStatusCompleted).
		Count(&count).Error
	return count, err
}

// ListAdmin lists ledger rows for the back office, newest first.
func (r *GormContributionRepository) ListAdmin(filter ContributionListFilter) ([]models.Contribution, int64, error) {
	query := r.db.Model(&models.Contribution{})

	if filter.ContactID != 0 {
		query = query.Where("contributions.contact_id = ?", filter.ContactID)
	}
	if filter.ScheduleID != 0 {
		query = query.Where("contributions.recurring_schedule_id = ?", filter.ScheduleID)
	}
	if filter.Status != "" {
		query = query.Where("contributions.status = ?", filter.Status)
	}
	if filter.Campaign != "" {
		query = query.Where("contributions.campaign = ?", filter.Campaign)
	}
	if filter.Source != "" {
		query = query.Where("contributions.source = ?", filter.Source)
	}
	if email := strings.TrimSpace(filter.Email); email != "" {
		query = query.Joins("JOIN contacts ON contacts.id = contributions.contact_id").
			Where("contacts.email "+likeOperator(r.db)+" ? ESCAPE '\\'", containsPattern(strings.ToLower(email)))
	}
	if filter.CreatedFrom != nil {
		query = query.Where("contributions.created_at >= ?", *filter.CreatedFrom)
	}
	if filter.CreatedTo != nil {
		query = query.Where("contributions.created_at <= ?", *filter.CreatedTo)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = applyPagination(query, filter.Page, filter.PageSize)

	var rows []models.Contribution
	if err := query.Preload("Contact").Order("contributions.id DESC").Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}
