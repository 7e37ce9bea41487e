package service

import (
	"strings"
	"time"

	"github.com/donation-core/internal/models"
	"github.com/donation-core/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// LedgerEntry one contribution to record.
type LedgerEntry struct {
	ContactID     uint
	Amount        decimal.Decimal
	Currency      string
	TransactionID string
	ScheduleID    *uint
	BillingPeriod string
	Campaign      string
	Note          string
	Gateway       string
	Channel       string
	FailureReason string
	ReceivedAt    time.Time
}

// LedgerService writes immutable contribution records.
type LedgerService struct {
	contributionRepo repository.ContributionRepository
}

// NewLedgerService creates the ledger writer
func NewLedgerService(contributionRepo repository.ContributionRepository) *LedgerService {
	return &LedgerService{contributionRepo: contributionRepo}
}

// RecordCompleted writes a completed contribution inside tx (nil for none).
// The external transaction id is the idempotency key: a second write for the
// same id returns the stored row and duplicate=true.
func (s *LedgerService) RecordCompleted(tx *gorm.DB, entry LedgerEntry) (*models.Contribution, bool, error) {
	if strings.TrimSpace(entry.TransactionID) == "" {
		return nil, false, invalidRequest("external transaction id is required")
	}
	contribution := buildContribution(entry)
	return s.contributionRepo.WithTx(tx).InsertCompleted(contribution)
}

// RecordFailed writes an audit row for a failed attempt. It never carries an
// idempotency key and is never counted as money received.
func (s *LedgerService) RecordFailed(tx *gorm.DB, entry LedgerEntry) (*models.Contribution, error) {
	contribution := buildContribution(entry)
	if err := s.contributionRepo.WithTx(tx).InsertFailed(contribution); err != nil {
		return nil, err
	}
	return contribution, nil
}

// HasCompletedForPeriod reports whether a schedule period is already paid.
func (s *LedgerService) HasCompletedForPeriod(scheduleID uint, billingPeriod string) (bool, error) {
	count, err := s.contributionRepo.CountCompletedForPeriod(scheduleID, billingPeriod)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Get returns a contribution by id
func (s *LedgerService) Get(id uint) (*models.Contribution, error) {
	contribution, err := s.contributionRepo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if contribution == nil {
		return nil, ErrContributionNotFound
	}
	return contribution, nil
}

// List back-office ledger query
func (s *LedgerService) List(filter repository.ContributionListFilter) ([]models.Contribution, int64, error) {
	return s.contributionRepo.ListAdmin(filter)
}

func buildContribution(entry LedgerEntry) *models.Contribution {
	receivedAt := entry.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}
	return &models.Contribution{
		ContactID:             entry.ContactID,
		Amount:                models.NewMoneyFromDecimal(entry.Amount),
		Currency:              strings.ToUpper(strings.TrimSpace(entry.Currency)),
		ReceivedAt:            receivedAt,
		ExternalTransactionID: strings.TrimSpace(entry.TransactionID),
		RecurringScheduleID:   entry.ScheduleID,
		BillingPeriod:         entry.BillingPeriod,
		Campaign:              strings.TrimSpace(entry.Campaign),
		Note:                  entry.Note,
		Source:                sourceLabel(entry.Gateway, entry.Channel),
		FailureReason:         truncateReason(entry.FailureReason),
	}
}

func sourceLabel(gatewayName, channel string) string {
	gatewayName = strings.TrimSpace(gatewayName)
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return gatewayName
	}
	return gatewayName + ":" + channel
}

func truncateReason(reason string) string {
	reason = strings.TrimSpace(reason)
	runes := []rune(reason)
	if len(runes) > 255 {
		return string(runes[:255])
	}
	return reason
}
