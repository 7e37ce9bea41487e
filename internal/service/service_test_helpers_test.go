package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/donation-core/internal/config"
	"github.com/donation-core/internal/constants"
	"github.com/donation-core/internal/gateway"
	"github.com/donation-core/internal/models"
	"github.com/donation-core/internal/repository"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const testSignatureHeader = "x-test-signature"

func setupServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:donation_service_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db failed: %v", err)
	}
	// Concurrent runners share one connection; sqlite shared cache cannot
	// serialize writers across connections.
	sqlDB.SetMaxOpenConns(1)
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}
	return db
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// fakeAdapter scripted processor. Charges are idempotent by key: the same key
// always yields the same transaction id.
type fakeAdapter struct {
	name          string
	requiresToken bool
	redirects     repository.PendingRedirectRepository

	mu              sync.Mutex
	calls           int
	declineAll      bool
	declineNext     int
	partialNext     int
	unavailable     bool
	lastRequest     gateway.ChargeRequest
	cancelled       []string
	chargedByKey    map[string]string
	installmentKeys []string
}

func newFakeCard() *fakeAdapter {
	return &fakeAdapter{name: constants.GatewayCard, requiresToken: true, chargedByKey: map[string]string{}}
}

func newFakeWallet(redirects repository.PendingRedirectRepository) *fakeAdapter {
	return &fakeAdapter{name: constants.GatewayWallet, redirects: redirects, chargedByKey: map[string]string{}}
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) RequiresPaymentToken() bool { return f.requiresToken }

func (f *fakeAdapter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeAdapter) Charge(ctx context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastRequest = req
	if req.Installment != nil {
		f.installmentKeys = append(f.installmentKeys, req.IdempotencyKey)
	}
	if f.unavailable {
		return nil, fmt.Errorf("%w: connection reset", gateway.ErrUnavailable)
	}
	if f.declineAll || f.declineNext > 0 {
		if f.declineNext > 0 {
			f.declineNext--
		}
		return nil, gateway.Declined("insufficient funds")
	}

	if f.redirects != nil {
		token := uuid.NewString()
		pending := &models.PendingRedirect{
			Token:     token,
			Gateway:   f.name,
			ContactID: req.Contact.ContactID,
			Email:     req.Contact.Email,
			Amount:    models.NewMoneyFromDecimal(req.Amount),
			Currency:  req.Currency,
			Campaign:  req.Campaign,
			Status:    constants.RedirectStatusPending,
			ExpiresAt: time.Now().Add(time.Hour),
		}
		result := &gateway.ChargeResult{Outcome: gateway.OutcomePending, CorrelationToken: token, RedirectURL: "https://wallet.example/approve/" + token}
		if req.Recurrence != nil {
			pending.Recurring = true
			pending.IntervalUnit = req.Recurrence.IntervalUnit
			pending.IntervalCount = req.Recurrence.IntervalCount
			result.SubscriptionID = "I-" + token
		}
		if err := f.redirects.Create(pending); err != nil {
			return nil, err
		}
		ref := "ORDER-" + token
		if result.SubscriptionID != "" {
			ref = result.SubscriptionID
		}
		if err := f.redirects.SetExternalRef(pending.ID, ref, result.RedirectURL); err != nil {
			return nil, err
		}
		return result, nil
	}

	txID, ok := f.chargedByKey[req.IdempotencyKey]
	if !ok || req.IdempotencyKey == "" {
		txID = fmt.Sprintf("tx_%d", len(f.chargedByKey)+1)
		f.chargedByKey[req.IdempotencyKey] = txID
	}
	result := &gateway.ChargeResult{
		Outcome:       gateway.OutcomeCompleted,
		TransactionID: txID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		ProcessedAt:   time.Now(),
	}
	if req.Recurrence != nil {
		if f.partialNext > 0 {
			f.partialNext--
			result.Outcome = gateway.OutcomePartialSuccess
			result.Reason = "recurring mandate could not be created"
			return result, nil
		}
		result.SubscriptionID = fmt.Sprintf("cus_%d", req.Contact.ContactID)
		result.PaymentMethodRef = "pm_test"
	}
	return result, nil
}

func (f *fakeAdapter) CancelSubscription(ctx context.Context, externalID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, externalID)
	return nil
}

// VerifyWebhook accepts a JSON-encoded gateway.Event when the test signature
// header is "valid".
func (f *fakeAdapter) VerifyWebhook(ctx context.Context, payload []byte, headers map[string]string) (*gateway.Event, error) {
	if headers[testSignatureHeader] != "valid" {
		return nil, errors.Join(gateway.ErrVerification, errors.New("bad signature"))
	}
	var event gateway.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, errors.Join(gateway.ErrVerification, err)
	}
	event.Gateway = f.name
	return &event, nil
}

type recordingNotifier struct {
	mu        sync.Mutex
	completed []uint
	cancelled []uint
	reasons   []string
}

func (n *recordingNotifier) ContributionCompleted(ctx context.Context, contributionID uint) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, contributionID)
}

func (n *recordingNotifier) ScheduleCancelled(ctx context.Context, scheduleID uint, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancelled = append(n.cancelled, scheduleID)
	n.reasons = append(n.reasons, reason)
}

func (n *recordingNotifier) Completed() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.completed)
}

type testHarness struct {
	db           *gorm.DB
	clock        *testClock
	card         *fakeAdapter
	wallet       *fakeAdapter
	notifier     *recordingNotifier
	contacts     *ContactService
	ledger       *LedgerService
	scheduleRepo *repository.GormScheduleRepository
	redirectRepo *repository.GormPendingRedirectRepository
	payments     *PaymentService
	webhooks     *WebhookService
	billing      *BillingService
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	db := setupServiceTestDB(t)
	clock := &testClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}

	redirectRepo := repository.NewPendingRedirectRepository(db)
	card := newFakeCard()
	wallet := newFakeWallet(redirectRepo)
	registry, err := gateway.NewRegistry(card, wallet)
	if err != nil {
		t.Fatalf("build registry failed: %v", err)
	}

	notifier := &recordingNotifier{}
	contacts := NewContactService(repository.NewContactRepository(db))
	ledger := NewLedgerService(repository.NewContributionRepository(db))
	scheduleRepo := repository.NewScheduleRepository(db)
	txRunner := repository.NewTxRunner(db)

	payments := NewPaymentService(config.PaymentConfig{
		Currency:  "usd",
		MaxAmount: "10000",
		Enabled:   []string{constants.GatewayCard, constants.GatewayWallet},
	}, registry, contacts, ledger, scheduleRepo, redirectRepo, txRunner, notifier)
	payments.now = clock.Now

	webhooks := NewWebhookService(registry, contacts, ledger, payments, scheduleRepo, redirectRepo,
		repository.NewEventReceiptRepository(db), txRunner, notifier, 3)
	webhooks.now = clock.Now

	billing := NewBillingService(config.BillingConfig{
		FailureThreshold: 3,
		Workers:          4,
		BatchSize:        10,
	}, scheduleRepo, contacts, ledger, payments, txRunner, notifier)
	billing.now = clock.Now

	return &testHarness{
		db:           db,
		clock:        clock,
		card:         card,
		wallet:       wallet,
		notifier:     notifier,
		contacts:     contacts,
		ledger:       ledger,
		scheduleRepo: scheduleRepo,
		redirectRepo: redirectRepo,
		payments:     payments,
		webhooks:     webhooks,
		billing:      billing,
	}
}

func (h *testHarness) countContributions(t *testing.T, status string) int64 {
	t.Helper()
	var count int64
	if err := h.db.Model(&models.Contribution{}).Where("status = ?", status).Count(&count).Error; err != nil {
		t.Fatalf("count contributions failed: %v", err)
	}
	return count
}

func (h *testHarness) reloadSchedule(t *testing.T, id uint) *models.RecurringSchedule {
	t.Helper()
	schedule, err := h.scheduleRepo.GetByID(id)
	if err != nil || schedule == nil {
		t.Fatalf("reload schedule %d failed: %v", id, err)
	}
	return schedule
}

func (h *testHarness) deliver(t *testing.T, gatewayName string, event gateway.Event) (*InboundResult, error) {
	t.Helper()
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event failed: %v", err)
	}
	return h.webhooks.HandleInbound(context.Background(), gatewayName, payload, map[string]string{testSignatureHeader: "valid"})
}

func uintString(v uint) string {
	return fmt.Sprintf("%d", v)
}
