package repository

import (
	"testing"

	"github.com/donation-core/internal/models"
)

func TestContactRepositoryInsertIfAbsentNormalizesAndDedupes(t *testing.T) {
	db := setupRepositoryTestDB(t)
	repo := NewContactRepository(db)

	first, created, err := repo.InsertIfAbsent(&models.Contact{Email: "  Donor@Example.org ", DisplayName: "Ada"})
	if err != nil {
		t.Fatalf("insert contact failed: %v", err)
	}
	if !created {
		t.Fatalf("first insert should create the contact")
	}
	if first.Email != "donor@example.org" {
		t.Fatalf("email want normalized got %s", first.Email)
	}

	second, created, err := repo.InsertIfAbsent(&models.Contact{Email: "donor@example.org", DisplayName: "Other"})
	if err != nil {
		t.Fatalf("second insert failed: %v", err)
	}
	if created {
		t.Fatalf("second insert should reuse the contact")
	}
	if second.ID != first.ID {
		t.Fatalf("contact id want %d got %d", first.ID, second.ID)
	}
	if second.DisplayName != "Ada" {
		t.Fatalf("existing display name should be kept, got %s", second.DisplayName)
	}

	var count int64
	if err := db.Model(&models.Contact{}).Count(&count).Error; err != nil {
		t.Fatalf("count contacts failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("contact count want 1 got %d", count)
	}
}

func TestContactRepositoryUpdateProfile(t *testing.T) {
	db := setupRepositoryTestDB(t)
	repo := NewContactRepository(db)
	contact := createTestContact(t, db, "profile@example.org")

	if err := repo.UpdateProfile(contact.ID, "New Name", "+1 555 0100"); err != nil {
		t.Fatalf("update profile failed: %v", err)
	}
	got, err := repo.GetByEmail("PROFILE@example.org")
	if err != nil || got == nil {
		t.Fatalf("get by email failed: %v", err)
	}
	if got.DisplayName != "New Name" || got.Phone != "+1 555 0100" {
		t.Fatalf("profile not updated: %+v", got)
	}
}
