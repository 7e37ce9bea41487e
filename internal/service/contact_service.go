package service

import (
	"strings"

	"github.com/donation-core/internal/models"
	"github.com/donation-core/internal/repository"
)

// ContactInput donor identity fields from a payment request.
type ContactInput struct {
	Email       string
	DisplayName string
	Phone       string
}

// ContactService resolves donor identities by email.
type ContactService struct {
	contactRepo repository.ContactRepository
}

// NewContactService creates the contact resolver
func NewContactService(contactRepo repository.ContactRepository) *ContactService {
	return &ContactService{contactRepo: contactRepo}
}

// Resolve finds or creates the contact for an email. Repeated calls with the
// same email return the same id; a non-empty name or phone that differs from
// the stored value updates the record.
func (s *ContactService) Resolve(input ContactInput) (*models.Contact, error) {
	email := normalizeEmail(input.Email)
	if email == "" {
		return nil, invalidRequest("email is required")
	}
	displayName := strings.TrimSpace(input.DisplayName)
	phone := strings.TrimSpace(input.Phone)

	contact, created, err := s.contactRepo.InsertIfAbsent(&models.Contact{
		Email:       email,
		DisplayName: displayName,
		Phone:       phone,
	})
	if err != nil {
		return nil, err
	}
	if created {
		return contact, nil
	}

	changed := false
	if displayName != "" && displayName != contact.DisplayName {
		contact.DisplayName = displayName
		changed = true
	}
	if phone != "" && phone != contact.Phone {
		contact.Phone = phone
		changed = true
	}
	if changed {
		if err := s.contactRepo.UpdateProfile(contact.ID, contact.DisplayName, contact.Phone); err != nil {
			return nil, err
		}
	}
	return contact, nil
}

// Get returns a contact by id
func (s *ContactService) Get(id uint) (*models.Contact, error) {
	contact, err := s.contactRepo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if contact == nil {
		return nil, ErrContactNotFound
	}
	return contact, nil
}

// FindByEmail returns nil when no contact uses the email.
func (s *ContactService) FindByEmail(email string) (*models.Contact, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, nil
	}
	return s.contactRepo.GetByEmail(email)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
