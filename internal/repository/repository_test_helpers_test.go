package repository

import (
	"fmt"
	"testing"
	"time"

	"github.com/donation-core/internal/constants"
	"github.com/donation-core/internal/models"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func setupRepositoryTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:donation_repo_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}
	return db
}

func createTestContact(t *testing.T, db *gorm.DB, email string) *models.Contact {
	t.Helper()
	contact := &models.Contact{Email: email, DisplayName: "Test Donor"}
	if err := db.Create(contact).Error; err != nil {
		t.Fatalf("create contact failed: %v", err)
	}
	return contact
}

func createTestSchedule(t *testing.T, db *gorm.DB, contactID uint, nextChargeAt time.Time) *models.RecurringSchedule {
	t.Helper()
	schedule := &models.RecurringSchedule{
		ContactID:     contactID,
		Amount:        models.NewMoneyFromDecimal(decimal.NewFromInt(25)),
		Currency:      "USD",
		IntervalUnit:  constants.IntervalMonth,
		IntervalCount: 1,
		Status:        constants.ScheduleStatusActive,
		NextChargeAt:  nextChargeAt,
		Gateway:       constants.GatewayCard,
		BillingMode:   constants.BillingModeLocal,
		Established:   true,
	}
	if err := db.Create(schedule).Error; err != nil {
		t.Fatalf("create schedule failed: %v", err)
	}
	return schedule
}
