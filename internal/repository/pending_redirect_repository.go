package repository

import (
	"errors"
	"strings"
	"time"

	"github.com/donation-core/internal/constants"
	"github.com/donation-core/internal/models"

	"gorm.io/gorm"
)

// PendingRedirectRepository wallet redirect access
type PendingRedirectRepository interface {
	Create(redirect *models.PendingRedirect) error
	GetByToken(token string) (*models.PendingRedirect, error)
	GetByExternalRef(gateway, externalRef string) (*models.PendingRedirect, error)
	SetExternalRef(id uint, externalRef, redirectURL string) error
	MarkCompleted(id uint, contributionID, scheduleID *uint) (bool, error)
	MarkFailed(id uint) (bool, error)
	ExpireBefore(now time.Time) (int64, error)
	WithTx(tx *gorm.DB) PendingRedirectRepository
}

// GormPendingRedirectRepository GORM implementation
type GormPendingRedirectRepository struct {
	db *gorm.DB
}

// NewPendingRedirectRepository creates the redirect repository
func NewPendingRedirectRepository(db *gorm.DB) *GormPendingRedirectRepository {
	return &GormPendingRedirectRepository{db: db}
}

// WithTx binds a transaction
func (r *GormPendingRedirectRepository) WithTx(tx *gorm.DB) PendingRedirectRepository {
	if tx == nil {
		return r
	}
	return &GormPendingRedirectRepository{db: tx}
}

// Create redirect
func (r *GormPendingRedirectRepository) Create(redirect *models.PendingRedirect) error {
	return r.db.Create(redirect).Error
}

// GetByToken returns nil when the token is unknown.
func (r *GormPendingRedirectRepository) GetByToken(token string) (*models.PendingRedirect, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	var redirect models.PendingRedirect
	if err := r.db.Where("token = ?", token).First(&redirect).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &redirect, nil
}

// GetByExternalRef finds a redirect by processor order or subscription id.
func (r *GormPendingRedirectRepository) GetByExternalRef(gateway, externalRef string) (*models.PendingRedirect, error) {
	externalRef = strings.TrimSpace(externalRef)
	if externalRef == "" {
		return nil, nil
	}
	var redirect models.PendingRedirect
	err := r.db.Where("gateway = ? AND external_ref = ?", gateway, externalRef).Order("id DESC").First(&redirect).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &redirect, nil
}

// SetExternalRef stores the processor reference after the redirect is created.
func (r *GormPendingRedirectRepository) SetExternalRef(id uint, externalRef, redirectURL string) error {
	return r.db.Model(&models.PendingRedirect{}).Where("id = ?", id).Updates(map[string]interface{}{
		"external_ref": externalRef,
		"redirect_url": redirectURL,
		"updated_at":   time.Now(),
	}).Error
}

// MarkCompleted moves a pending redirect to completed once.
func (r *GormPendingRedirectRepository) MarkCompleted(id uint, contributionID, scheduleID *uint) (bool, error) {
	updates := map[string]interface{}{
		"status":     constants.RedirectStatusCompleted,
		"updated_at": time.Now(),
	}
	if contributionID != nil {
		updates["contribution_id"] = *contributionID
	}
	if scheduleID != nil {
		updates["schedule_id"] = *scheduleID
	}
	return r.transition(id, updates)
}

// MarkFailed moves a pending redirect to failed once.
func (r *GormPendingRedirectRepository) MarkFailed(id uint) (bool, error) {
	return r.transition(id, map[string]interface{}{
		"status":     constants.RedirectStatusFailed,
		"updated_at": time.Now(),
	})
}

// ExpireBefore marks stale pending redirects as expired.
func (r *GormPendingRedirectRepository) ExpireBefore(now time.Time) (int64, error) {
	result := r.db.Model(&models.PendingRedirect{}).
		Where("status = ? AND expires_at < ?", constants.RedirectStatusPending, now).
		Updates(map[string]interface{}{
			"status":     constants.RedirectStatusExpired,
			"updated_at": now,
		})
	return result.RowsAffected, result.Error
}

func (r *GormPendingRedirectRepository) transition(id uint, updates map[string]interface{}) (bool, error) {
	result := r.db.Model(&models.PendingRedirect{}).
		Where("id = ? AND status IN ?", id, []string{constants.RedirectStatusPending, constants.RedirectStatusExpired}).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
