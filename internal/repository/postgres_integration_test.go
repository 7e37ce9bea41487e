//go:build integration
// +build integration

package repository

import (
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/donation-core/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// setupPostgresIntegrationDB prepares a clean PostgreSQL schema.
func setupPostgresIntegrationDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv("TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("skip postgres integration test: TEST_POSTGRES_DSN is empty")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open postgres failed: %v", err)
	}

	_ = db.Migrator().DropTable(models.AllModels()...)
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("migrate postgres models failed: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Migrator().DropTable(models.AllModels()...)
		sqlDB, err := db.DB()
		if err == nil {
			_ = sqlDB.Close()
		}
	})

	return db
}

func TestPostgresConcurrentScheduleClaims(t *testing.T) {
	db := setupPostgresIntegrationDB(t)
	repo := NewScheduleRepository(db)
	contact := createTestContact(t, db, "pg-claim@example.org")
	now := time.Now().UTC()
	schedule := createTestSchedule(t, db, contact.ID, now.Add(-time.Minute))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.Claim(schedule.ID, schedule.Version, now, now.Add(time.Minute))
			if err != nil {
				t.Errorf("claim failed: %v", err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("exactly one claim should win, got %d", wins)
	}
}

func TestPostgresContributionIdempotencyAndEmailSearch(t *testing.T) {
	db := setupPostgresIntegrationDB(t)
	repo := NewContributionRepository(db)
	contact := createTestContact(t, db, "pg-ledger@example.org")

	for i := 0; i < 3; i++ {
		if _, _, err := repo.InsertCompleted(newTestContribution(contact.ID, "pg_txn_1")); err != nil {
			t.Fatalf("insert completed failed: %v", err)
		}
	}
	rows, total, err := repo.ListAdmin(ContributionListFilter{Page: 1, PageSize: 10, Email: "PG-LEDGER"})
	if err != nil {
		t.Fatalf("list by email failed: %v", err)
	}
	if total != 1 || len(rows) != 1 {
		t.Fatalf("rows want 1 got total=%d len=%d", total, len(rows))
	}
}
