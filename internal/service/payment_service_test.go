package service

import (
	"context"
	"errors"
	"testing"

	"github.com/donation-core/internal/constants"
	"github.com/donation-core/internal/models"

	"github.com/shopspring/decimal"
)

func cardRequest(email string, amount int64) PaymentRequest {
	return PaymentRequest{
		Amount:       decimal.NewFromInt(amount),
		Currency:     "USD",
		Email:        email,
		DisplayName:  "Ada Donor",
		Gateway:      constants.GatewayCard,
		PaymentToken: "tok_visa",
	}
}

func TestProcessPaymentOneTimeSuccess(t *testing.T) {
	h := newTestHarness(t)

	result, err := h.payments.ProcessPayment(context.Background(), cardRequest("a@b.com", 25))
	if err != nil {
		t.Fatalf("process payment failed: %v", err)
	}
	if result.Status != constants.PaymentResultSuccess || result.ContributionID == 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.ScheduleID != 0 {
		t.Fatalf("one-time gift should not create a schedule: %+v", result)
	}

	contribution, err := h.ledger.Get(result.ContributionID)
	if err != nil {
		t.Fatalf("load contribution failed: %v", err)
	}
	if contribution.Status != constants.ContributionStatusCompleted {
		t.Fatalf("contribution should be completed, got %s", contribution.Status)
	}
	if !contribution.Amount.SameAmount(decimal.NewFromInt(25)) || contribution.Currency != "USD" {
		t.Fatalf("unexpected amount: %s %s", contribution.Amount.String(), contribution.Currency)
	}
	if contribution.Source != "card:live" || contribution.ExternalTransactionID != result.ExternalTransactionID {
		t.Fatalf("unexpected source or transaction: %+v", contribution)
	}

	contact, err := h.contacts.Get(result.ContactID)
	if err != nil || contact.Email != "a@b.com" {
		t.Fatalf("contact not resolved: %+v err=%v", contact, err)
	}
	if h.notifier.Completed() != 1 {
		t.Fatalf("expected one completion signal, got %d", h.notifier.Completed())
	}
}

func TestProcessPaymentReusesContactByEmail(t *testing.T) {
	h := newTestHarness(t)

	first, err := h.payments.ProcessPayment(context.Background(), cardRequest("Donor@Example.org", 10))
	if err != nil {
		t.Fatalf("first payment failed: %v", err)
	}
	req := cardRequest("donor@example.org", 15)
	req.DisplayName = "Renamed Donor"
	second, err := h.payments.ProcessPayment(context.Background(), req)
	if err != nil {
		t.Fatalf("second payment failed: %v", err)
	}
	if first.ContactID != second.ContactID {
		t.Fatalf("same email should resolve to one contact: %d vs %d", first.ContactID, second.ContactID)
	}
	contact, _ := h.contacts.Get(first.ContactID)
	if contact.DisplayName != "Renamed Donor" {
		t.Fatalf("display name should update, got %s", contact.DisplayName)
	}
}

func TestProcessPaymentRecurringCreatesSchedule(t *testing.T) {
	h := newTestHarness(t)
	req := cardRequest("monthly@example.org", 20)
	req.Recurring = true
	req.IntervalUnit = constants.IntervalMonth
	req.IntervalCount = 1

	result, err := h.payments.ProcessPayment(context.Background(), req)
	if err != nil {
		t.Fatalf("process payment failed: %v", err)
	}
	if result.ScheduleID == 0 || !result.ScheduleEstablished {
		t.Fatalf("recurring gift should establish a schedule: %+v", result)
	}

	schedule := h.reloadSchedule(t, result.ScheduleID)
	want := h.clock.Now().AddDate(0, 1, 0)
	if !schedule.NextChargeAt.Equal(want) {
		t.Fatalf("next charge want %s got %s", want, schedule.NextChargeAt)
	}
	if schedule.Status != constants.ScheduleStatusActive || schedule.BillingMode != constants.BillingModeLocal {
		t.Fatalf("unexpected schedule state: %+v", schedule)
	}
	if schedule.ExternalID() == "" || schedule.PaymentMethodRef != "pm_test" {
		t.Fatalf("schedule should carry the mandate: %+v", schedule)
	}

	contribution, _ := h.ledger.Get(result.ContributionID)
	if contribution.RecurringScheduleID == nil || *contribution.RecurringScheduleID != schedule.ID {
		t.Fatalf("first contribution should reference the schedule")
	}
}

func TestProcessPaymentRecurringWithoutMandate(t *testing.T) {
	h := newTestHarness(t)
	h.card.partialNext = 1
	req := cardRequest("nomandate@example.org", 30)
	req.Recurring = true
	req.IntervalUnit = constants.IntervalMonth
	req.IntervalCount = 1

	result, err := h.payments.ProcessPayment(context.Background(), req)
	if err != nil {
		t.Fatalf("process payment failed: %v", err)
	}
	if result.Status != constants.PaymentResultSuccess || !result.PartialSuccess {
		t.Fatalf("first charge should succeed partially: %+v", result)
	}
	if result.ScheduleID == 0 || result.ScheduleEstablished {
		t.Fatalf("schedule should be stored unestablished: %+v", result)
	}
	if got := h.countContributions(t, constants.ContributionStatusCompleted); got != 1 {
		t.Fatalf("expected one completed contribution, got %d", got)
	}

	schedule := h.reloadSchedule(t, result.ScheduleID)
	if schedule.Established || schedule.ExternalID() != "" || schedule.PaymentMethodRef != "" {
		t.Fatalf("schedule must not carry a mandate: %+v", schedule)
	}
	if schedule.Status != constants.ScheduleStatusActive || schedule.BillingMode != constants.BillingModeLocal {
		t.Fatalf("unexpected schedule state: %+v", schedule)
	}
}

func TestEstablishScheduleAttachesMandate(t *testing.T) {
	h := newTestHarness(t)
	h.card.partialNext = 1
	req := cardRequest("later@example.org", 30)
	req.Recurring = true
	req.IntervalUnit = constants.IntervalMonth
	result, err := h.payments.ProcessPayment(context.Background(), req)
	if err != nil {
		t.Fatalf("process payment failed: %v", err)
	}

	if _, err := h.payments.EstablishSchedule(result.ScheduleID, "cus_later", ""); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("missing payment method want ErrInvalidRequest, got %v", err)
	}
	schedule, err := h.payments.EstablishSchedule(result.ScheduleID, "cus_later", "pm_later")
	if err != nil {
		t.Fatalf("establish failed: %v", err)
	}
	if !schedule.Established || schedule.ExternalID() != "cus_later" || schedule.PaymentMethodRef != "pm_later" {
		t.Fatalf("unexpected schedule: %+v", schedule)
	}
	if _, err := h.payments.EstablishSchedule(result.ScheduleID, "cus_other", "pm_other"); !errors.Is(err, ErrScheduleEstablished) {
		t.Fatalf("second establish want ErrScheduleEstablished, got %v", err)
	}
	if _, err := h.payments.EstablishSchedule(9999, "cus_x", "pm_x"); !errors.Is(err, ErrScheduleNotFound) {
		t.Fatalf("unknown schedule want ErrScheduleNotFound, got %v", err)
	}
}

func TestProcessPaymentRecurringReusesLiveSchedule(t *testing.T) {
	h := newTestHarness(t)
	req := cardRequest("repeat@example.org", 20)
	req.Recurring = true
	req.IntervalUnit = constants.IntervalMonth

	first, err := h.payments.ProcessPayment(context.Background(), req)
	if err != nil {
		t.Fatalf("first payment failed: %v", err)
	}
	second, err := h.payments.ProcessPayment(context.Background(), req)
	if err != nil {
		t.Fatalf("second payment failed: %v", err)
	}
	if !second.ScheduleReused || second.ScheduleID != first.ScheduleID {
		t.Fatalf("matching live schedule should be reused: %+v", second)
	}
	if h.card.lastRequest.Recurrence != nil {
		t.Fatalf("reused schedule must not create a second mandate")
	}
	var count int64
	h.db.Model(&models.RecurringSchedule{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected one schedule, got %d", count)
	}
}

func TestProcessPaymentValidationNeverCallsGateway(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(req *PaymentRequest)
	}{
		{"zero amount", func(req *PaymentRequest) { req.Amount = decimal.Zero }},
		{"negative amount", func(req *PaymentRequest) { req.Amount = decimal.NewFromInt(-5) }},
		{"three decimals", func(req *PaymentRequest) { req.Amount = decimal.RequireFromString("10.005") }},
		{"over maximum", func(req *PaymentRequest) { req.Amount = decimal.NewFromInt(20000) }},
		{"other currency", func(req *PaymentRequest) { req.Currency = "EUR" }},
		{"bad email", func(req *PaymentRequest) { req.Email = "not-an-email" }},
		{"email without domain dot", func(req *PaymentRequest) { req.Email = "a@localhost" }},
		{"unknown gateway", func(req *PaymentRequest) { req.Gateway = "crypto" }},
		{"missing token", func(req *PaymentRequest) { req.PaymentToken = "" }},
		{"bad interval", func(req *PaymentRequest) {
			req.Recurring = true
			req.IntervalUnit = "fortnight"
		}},
		{"interval count too large", func(req *PaymentRequest) {
			req.Recurring = true
			req.IntervalUnit = constants.IntervalWeek
			req.IntervalCount = 13
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHarness(t)
			req := cardRequest("valid@example.org", 10)
			tc.mutate(&req)

			_, err := h.payments.ProcessPayment(context.Background(), req)
			if !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("expected invalid request, got %v", err)
			}
			if Reason(err) == "" {
				t.Fatalf("invalid request should carry a reason")
			}
			if h.card.Calls() != 0 || h.wallet.Calls() != 0 {
				t.Fatalf("gateway must not be called on invalid input")
			}
			var contacts int64
			h.db.Model(&models.Contact{}).Count(&contacts)
			if contacts != 0 {
				t.Fatalf("invalid input must not create contacts")
			}
		})
	}
}

func TestProcessPaymentDeclineWritesAuditRow(t *testing.T) {
	h := newTestHarness(t)
	h.card.declineAll = true

	_, err := h.payments.ProcessPayment(context.Background(), cardRequest("declined@example.org", 30))
	if !errors.Is(err, ErrGatewayDeclined) {
		t.Fatalf("expected decline, got %v", err)
	}
	if Reason(err) != "insufficient funds" {
		t.Fatalf("decline reason should surface, got %q", Reason(err))
	}
	if got := h.countContributions(t, constants.ContributionStatusCompleted); got != 0 {
		t.Fatalf("declined charge must not record money, got %d", got)
	}
	if got := h.countContributions(t, constants.ContributionStatusFailed); got != 1 {
		t.Fatalf("declined charge should leave one audit row, got %d", got)
	}
}

func TestProcessPaymentUnavailableRecordsNothing(t *testing.T) {
	h := newTestHarness(t)
	h.card.unavailable = true

	_, err := h.payments.ProcessPayment(context.Background(), cardRequest("down@example.org", 30))
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	var count int64
	h.db.Model(&models.Contribution{}).Count(&count)
	if count != 0 {
		t.Fatalf("unavailable gateway must not write contributions, got %d", count)
	}
}

func TestProcessPaymentWalletReturnsPendingRedirect(t *testing.T) {
	h := newTestHarness(t)
	req := cardRequest("wallet@example.org", 40)
	req.Gateway = constants.GatewayWallet
	req.PaymentToken = ""

	result, err := h.payments.ProcessPayment(context.Background(), req)
	if err != nil {
		t.Fatalf("process payment failed: %v", err)
	}
	if result.Status != constants.PaymentResultPendingRedirect || result.RedirectURL == "" || result.CorrelationToken == "" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.ContributionID != 0 {
		t.Fatalf("pending redirect must not record a contribution")
	}
	var count int64
	h.db.Model(&models.Contribution{}).Count(&count)
	if count != 0 {
		t.Fatalf("expected no contributions, got %d", count)
	}

	status, err := h.payments.GetRedirectStatus(result.CorrelationToken)
	if err != nil {
		t.Fatalf("redirect status failed: %v", err)
	}
	if status.Status != constants.RedirectStatusPending {
		t.Fatalf("redirect should be pending, got %s", status.Status)
	}
}

func TestCancelScheduleOperator(t *testing.T) {
	h := newTestHarness(t)
	req := cardRequest("cancel@example.org", 20)
	req.Recurring = true
	req.IntervalUnit = constants.IntervalMonth
	result, err := h.payments.ProcessPayment(context.Background(), req)
	if err != nil {
		t.Fatalf("process payment failed: %v", err)
	}

	schedule, err := h.payments.CancelSchedule(context.Background(), result.ScheduleID, "")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if schedule.Status != constants.ScheduleStatusCancelled || schedule.CancellationReason == nil ||
		*schedule.CancellationReason != constants.CancelReasonOperator {
		t.Fatalf("unexpected cancelled schedule: %+v", schedule)
	}
	if len(h.card.cancelled) != 1 {
		t.Fatalf("processor mandate should be removed")
	}
	if _, err := h.payments.CancelSchedule(context.Background(), result.ScheduleID, ""); !errors.Is(err, ErrScheduleTerminal) {
		t.Fatalf("second cancel should report terminal, got %v", err)
	}
}
