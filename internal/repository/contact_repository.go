package repository

import (
	"errors"
	"strings"
	"time"

	"github.com/donation-core/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ContactRepository contact record access
type ContactRepository interface {
	GetByID(id uint) (*models.Contact, error)
	GetByEmail(email string) (*models.Contact, error)
	InsertIfAbsent(contact *models.Contact) (*models.Contact, bool, error)
	UpdateProfile(id uint, displayName, phone string) error
	WithTx(tx *gorm.DB) ContactRepository
}

// GormContactRepository GORM implementation
type GormContactRepository struct {
	db *gorm.DB
}

// NewContactRepository creates the contact repository
func NewContactRepository(db *gorm.DB) *GormContactRepository {
	return &GormContactRepository{db: db}
}

// WithTx binds a transaction
func (r *GormContactRepository) WithTx(tx *gorm.DB) ContactRepository {
	if tx == nil {
		return r
	}
	return &GormContactRepository{db: tx}
}

// GetByID returns nil when the contact is unknown.
func (r *GormContactRepository) GetByID(id uint) (*models.Contact, error) {
	var contact models.Contact
	if err := r.db.First(&contact, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &contact, nil
}

// GetByEmail looks up the normalized email key.
func (r *GormContactRepository) GetByEmail(email string) (*models.Contact, error) {
	var contact models.Contact
	key := strings.ToLower(strings.TrimSpace(email))
	if err := r.db.Where("email = ?", key).First(&contact).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &contact, nil
}

// InsertIfAbsent inserts the contact unless the email already exists and
// returns the stored row. The bool reports whether this call created it.
func (r *GormContactRepository) InsertIfAbsent(contact *models.Contact) (*models.Contact, bool, error) {
	if contact == nil {
		return nil, false, errors.New("contact is nil")
	}
	contact.Email = strings.ToLower(strings.TrimSpace(contact.Email))
	result := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		DoNothing: true,
	}).Create(contact)
	if result.Error != nil {
		return nil, false, result.Error
	}
	if result.RowsAffected > 0 {
		return contact, true, nil
	}
	existing, err := r.GetByEmail(contact.Email)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, errors.New("contact vanished after conflict")
	}
	return existing, false, nil
}

// UpdateProfile overwrites the mutable contact fields.
func (r *GormContactRepository) UpdateProfile(id uint, displayName, phone string) error {
	return r.db.Model(&models.Contact{}).Where("id = ?", id).Updates(map[string]interface{}{
		"display_name": displayName,
		"phone":        phone,
		"updated_at":   time.Now(),
	}).Error
}
