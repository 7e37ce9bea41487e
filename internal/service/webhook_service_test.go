package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/donation-core/internal/constants"
	"github.com/donation-core/internal/gateway"
	"github.com/donation-core/internal/models"

	"github.com/shopspring/decimal"
)

func walletRequest(email string, recurring bool) PaymentRequest {
	req := PaymentRequest{
		Amount:   decimal.NewFromInt(40),
		Currency: "USD",
		Email:    email,
		Gateway:  constants.GatewayWallet,
	}
	if recurring {
		req.Recurring = true
		req.IntervalUnit = constants.IntervalMonth
		req.IntervalCount = 1
	}
	return req
}

func TestHandleInboundRejectsInvalidSignature(t *testing.T) {
	h := newTestHarness(t)
	payload := []byte(`{"Kind":"one_time_completed","EventID":"evt_1","TransactionID":"tx_forged","Amount":"500"}`)

	_, err := h.webhooks.HandleInbound(context.Background(), constants.GatewayCard, payload, map[string]string{testSignatureHeader: "forged"})
	if !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("expected verification failure, got %v", err)
	}
	var count int64
	h.db.Model(&models.Contribution{}).Count(&count)
	if count != 0 {
		t.Fatalf("forged notification must not change state, got %d contributions", count)
	}
}

func TestHandleInboundUnknownGateway(t *testing.T) {
	h := newTestHarness(t)
	if _, err := h.webhooks.HandleInbound(context.Background(), "crypto", []byte(`{}`), nil); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("unknown gateway should be invalid, got %v", err)
	}
}

func TestHandleInboundReplayIsIdempotent(t *testing.T) {
	h := newTestHarness(t)
	contact, err := h.contacts.Resolve(ContactInput{Email: "replay@example.org"})
	if err != nil {
		t.Fatalf("resolve contact failed: %v", err)
	}
	event := gateway.Event{
		Kind:          gateway.EventOneTimeCompleted,
		EventID:       "evt_replay",
		TransactionID: "pi_replay",
		ContactID:     contact.ID,
		Amount:        decimal.NewFromInt(12),
		Currency:      "USD",
		OccurredAt:    h.clock.Now(),
	}

	first, err := h.deliver(t, constants.GatewayCard, event)
	if err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}
	second, err := h.deliver(t, constants.GatewayCard, event)
	if err != nil {
		t.Fatalf("replay should be acknowledged, got %v", err)
	}
	if first.Outcome != InboundApplied || second.Outcome != InboundDuplicate {
		t.Fatalf("unexpected outcomes: %s then %s", first.Outcome, second.Outcome)
	}
	if first.ContributionID != second.ContributionID {
		t.Fatalf("replay should point at the stored contribution")
	}
	if got := h.countContributions(t, constants.ContributionStatusCompleted); got != 1 {
		t.Fatalf("expected one contribution, got %d", got)
	}
	if h.notifier.Completed() != 1 {
		t.Fatalf("replay must not signal twice")
	}
}

func TestHandleInboundFoldsInLiveChargeByTransaction(t *testing.T) {
	h := newTestHarness(t)
	result, err := h.payments.ProcessPayment(context.Background(), cardRequest("live@example.org", 25))
	if err != nil {
		t.Fatalf("process payment failed: %v", err)
	}

	inbound, err := h.deliver(t, constants.GatewayCard, gateway.Event{
		Kind:          gateway.EventOneTimeCompleted,
		EventID:       "evt_live",
		TransactionID: result.ExternalTransactionID,
		ContactID:     result.ContactID,
		Amount:        decimal.NewFromInt(25),
		Currency:      "USD",
	})
	if err != nil {
		t.Fatalf("delivery failed: %v", err)
	}
	if inbound.Outcome != InboundDuplicate || inbound.ContributionID != result.ContributionID {
		t.Fatalf("live charge notification should be a duplicate: %+v", inbound)
	}
}

func TestWalletOneTimePendingThenConfirmed(t *testing.T) {
	h := newTestHarness(t)
	pending, err := h.payments.ProcessPayment(context.Background(), walletRequest("wallet@example.org", false))
	if err != nil {
		t.Fatalf("process payment failed: %v", err)
	}

	inbound, err := h.deliver(t, constants.GatewayWallet, gateway.Event{
		Kind:             gateway.EventOneTimeCompleted,
		EventID:          "WH-CAPTURE-1",
		TransactionID:    "CAPTURE-1",
		CorrelationToken: pending.CorrelationToken,
		Amount:           decimal.NewFromInt(40),
		Currency:         "USD",
		OccurredAt:       h.clock.Now(),
	})
	if err != nil {
		t.Fatalf("delivery failed: %v", err)
	}
	if inbound.Outcome != InboundApplied || inbound.ContributionID == 0 {
		t.Fatalf("unexpected inbound result: %+v", inbound)
	}

	contribution, _ := h.ledger.Get(inbound.ContributionID)
	if contribution.ContactID != pending.ContactID || contribution.Source != "wallet:webhook" {
		t.Fatalf("contribution should belong to the pending contact: %+v", contribution)
	}
	status, err := h.payments.GetRedirectStatus(pending.CorrelationToken)
	if err != nil {
		t.Fatalf("redirect status failed: %v", err)
	}
	if status.Status != constants.RedirectStatusCompleted || status.ContributionID == nil || *status.ContributionID != contribution.ID {
		t.Fatalf("redirect should be completed: %+v", status)
	}
}

func TestWalletOneTimeFailureMarksRedirect(t *testing.T) {
	h := newTestHarness(t)
	pending, err := h.payments.ProcessPayment(context.Background(), walletRequest("denied@example.org", false))
	if err != nil {
		t.Fatalf("process payment failed: %v", err)
	}
	event := gateway.Event{
		Kind:             gateway.EventOneTimeFailed,
		EventID:          "WH-DENIED-1",
		CorrelationToken: pending.CorrelationToken,
		Reason:           "PAYER_ACTION_REQUIRED",
	}
	for i := 0; i < 2; i++ {
		if _, err := h.deliver(t, constants.GatewayWallet, event); err != nil {
			t.Fatalf("delivery %d failed: %v", i, err)
		}
	}
	status, _ := h.payments.GetRedirectStatus(pending.CorrelationToken)
	if status.Status != constants.RedirectStatusFailed {
		t.Fatalf("redirect should be failed, got %s", status.Status)
	}
	if got := h.countContributions(t, constants.ContributionStatusFailed); got != 1 {
		t.Fatalf("replayed failure should leave one audit row, got %d", got)
	}
}

func TestWalletRecurringActivationAndInstallments(t *testing.T) {
	h := newTestHarness(t)
	pending, err := h.payments.ProcessPayment(context.Background(), walletRequest("sub@example.org", true))
	if err != nil {
		t.Fatalf("process payment failed: %v", err)
	}
	subscriptionID := "I-" + pending.CorrelationToken
	start := h.clock.Now()

	activated, err := h.deliver(t, constants.GatewayWallet, gateway.Event{
		Kind:             gateway.EventSubscriptionActivated,
		EventID:          "WH-ACT-1",
		SubscriptionID:   subscriptionID,
		CorrelationToken: pending.CorrelationToken,
		OccurredAt:       start,
	})
	if err != nil || activated.ScheduleID == 0 {
		t.Fatalf("activation should create a schedule: %+v err=%v", activated, err)
	}
	schedule := h.reloadSchedule(t, activated.ScheduleID)
	if schedule.BillingMode != constants.BillingModeGateway || schedule.ExternalID() != subscriptionID {
		t.Fatalf("unexpected schedule: %+v", schedule)
	}

	sale := gateway.Event{
		Kind:           gateway.EventInstallmentCompleted,
		EventID:        "WH-SALE-1",
		TransactionID:  "SALE-1",
		SubscriptionID: subscriptionID,
		Amount:         decimal.NewFromInt(40),
		Currency:       "USD",
		OccurredAt:     start,
	}
	first, err := h.deliver(t, constants.GatewayWallet, sale)
	if err != nil || first.Outcome != InboundApplied || first.ScheduleID != schedule.ID {
		t.Fatalf("first sale should apply: %+v err=%v", first, err)
	}
	replay, err := h.deliver(t, constants.GatewayWallet, sale)
	if err != nil || replay.Outcome != InboundDuplicate {
		t.Fatalf("sale replay should be a duplicate: %+v err=%v", replay, err)
	}

	updated := h.reloadSchedule(t, schedule.ID)
	if !updated.NextChargeAt.After(h.clock.Now()) || updated.LastChargedAt == nil {
		t.Fatalf("sale should advance the schedule: %+v", updated)
	}
	if got := h.countContributions(t, constants.ContributionStatusCompleted); got != 1 {
		t.Fatalf("expected one contribution, got %d", got)
	}

	// The cycle runner never charges processor-billed schedules.
	h.clock.Advance(60 * 24 * time.Hour)
	report, err := h.billing.RunDueCycle(context.Background())
	if err != nil {
		t.Fatalf("run cycle failed: %v", err)
	}
	if report.Due != 0 || h.wallet.Calls() != 1 {
		t.Fatalf("gateway-billed schedule must not be charged locally: %+v", report)
	}
}

func TestWalletFirstSaleBeforeActivationCreatesSchedule(t *testing.T) {
	h := newTestHarness(t)
	pending, err := h.payments.ProcessPayment(context.Background(), walletRequest("early-sale@example.org", true))
	if err != nil {
		t.Fatalf("process payment failed: %v", err)
	}
	subscriptionID := "I-" + pending.CorrelationToken

	sale, err := h.deliver(t, constants.GatewayWallet, gateway.Event{
		Kind:           gateway.EventInstallmentCompleted,
		EventID:        "WH-SALE-EARLY",
		TransactionID:  "SALE-EARLY",
		SubscriptionID: subscriptionID,
		Amount:         decimal.NewFromInt(40),
		Currency:       "USD",
		OccurredAt:     h.clock.Now(),
	})
	if err != nil || sale.ScheduleID == 0 || sale.Outcome != InboundApplied {
		t.Fatalf("sale should create the schedule: %+v err=%v", sale, err)
	}
	activated, err := h.deliver(t, constants.GatewayWallet, gateway.Event{
		Kind:           gateway.EventSubscriptionActivated,
		EventID:        "WH-ACT-LATE",
		SubscriptionID: subscriptionID,
	})
	if err != nil || activated.ScheduleID != sale.ScheduleID {
		t.Fatalf("late activation should find the same schedule: %+v err=%v", activated, err)
	}
	var count int64
	h.db.Model(&models.RecurringSchedule{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected one schedule, got %d", count)
	}
}

func TestWalletInstallmentFailuresCancelAtThreshold(t *testing.T) {
	h := newTestHarness(t)
	pending, err := h.payments.ProcessPayment(context.Background(), walletRequest("fail@example.org", true))
	if err != nil {
		t.Fatalf("process payment failed: %v", err)
	}
	subscriptionID := "I-" + pending.CorrelationToken
	activated, err := h.deliver(t, constants.GatewayWallet, gateway.Event{
		Kind:             gateway.EventSubscriptionActivated,
		EventID:          "WH-ACT-2",
		SubscriptionID:   subscriptionID,
		CorrelationToken: pending.CorrelationToken,
	})
	if err != nil {
		t.Fatalf("activation failed: %v", err)
	}

	failed := func(eventID string) {
		t.Helper()
		if _, err := h.deliver(t, constants.GatewayWallet, gateway.Event{
			Kind:           gateway.EventInstallmentFailed,
			EventID:        eventID,
			SubscriptionID: subscriptionID,
			Reason:         "card expired",
		}); err != nil {
			t.Fatalf("deliver %s failed: %v", eventID, err)
		}
	}
	failed("WH-FAIL-1")
	failed("WH-FAIL-1")
	failed("WH-FAIL-2")
	if got := h.reloadSchedule(t, activated.ScheduleID); got.ConsecutiveFailures != 2 || got.Status != constants.ScheduleStatusOverdue {
		t.Fatalf("replayed failure must count once: %+v", got)
	}
	failed("WH-FAIL-3")

	cancelled := h.reloadSchedule(t, activated.ScheduleID)
	if cancelled.Status != constants.ScheduleStatusCancelled || *cancelled.CancellationReason != constants.CancelReasonRepeatedFailure {
		t.Fatalf("third failure should cancel: %+v", cancelled)
	}
	if len(h.wallet.cancelled) != 1 || h.wallet.cancelled[0] != subscriptionID {
		t.Fatalf("processor subscription should be cancelled: %v", h.wallet.cancelled)
	}
}

func TestCardInstallmentFailureWebhookIgnoredForLocalSchedule(t *testing.T) {
	h := newTestHarness(t)
	schedule := createRecurringGift(t, h, "local@example.org")

	result, err := h.deliver(t, constants.GatewayCard, gateway.Event{
		Kind:           gateway.EventInstallmentFailed,
		EventID:        "evt_local_fail",
		ScheduleID:     schedule.ID,
		SubscriptionID: schedule.ExternalID(),
	})
	if err != nil {
		t.Fatalf("delivery failed: %v", err)
	}
	if result.Outcome != InboundIgnored {
		t.Fatalf("local failure webhook should be ignored, got %s", result.Outcome)
	}
	if got := h.reloadSchedule(t, schedule.ID); got.ConsecutiveFailures != 0 {
		t.Fatalf("failure count must not move, got %d", got.ConsecutiveFailures)
	}
}

func TestCardInstallmentWebhookAdvancesMatchingPeriod(t *testing.T) {
	h := newTestHarness(t)
	schedule := createRecurringGift(t, h, "period@example.org")
	period := periodKey(schedule.NextChargeAt)

	result, err := h.deliver(t, constants.GatewayCard, gateway.Event{
		Kind:           gateway.EventInstallmentCompleted,
		EventID:        "evt_inst_1",
		TransactionID:  "pi_inst_1",
		ScheduleID:     schedule.ID,
		SubscriptionID: schedule.ExternalID(),
		BillingPeriod:  period,
		Amount:         decimal.NewFromInt(20),
		Currency:       "USD",
	})
	if err != nil || result.Outcome != InboundApplied {
		t.Fatalf("installment should apply: %+v err=%v", result, err)
	}
	updated := h.reloadSchedule(t, schedule.ID)
	if !updated.NextChargeAt.After(schedule.NextChargeAt) {
		t.Fatalf("matching period should advance the schedule")
	}

	calls := h.card.Calls()
	if _, err := h.billing.RunDueCycle(context.Background()); err != nil {
		t.Fatalf("run cycle failed: %v", err)
	}
	if h.card.Calls() != calls {
		t.Fatalf("period paid by webhook must not be charged again")
	}
}

func TestSubscriptionCancelledWebhook(t *testing.T) {
	h := newTestHarness(t)
	schedule := createRecurringGift(t, h, "gone@example.org")

	result, err := h.deliver(t, constants.GatewayCard, gateway.Event{
		Kind:           gateway.EventSubscriptionCancelled,
		EventID:        "evt_customer_deleted",
		SubscriptionID: schedule.ExternalID(),
	})
	if err != nil || result.Outcome != InboundApplied {
		t.Fatalf("cancel should apply: %+v err=%v", result, err)
	}
	cancelled := h.reloadSchedule(t, schedule.ID)
	if cancelled.Status != constants.ScheduleStatusCancelled || *cancelled.CancellationReason != constants.CancelReasonExternal {
		t.Fatalf("unexpected schedule: %+v", cancelled)
	}
	if len(h.card.cancelled) != 0 {
		t.Fatalf("processor-initiated cancel must not call back into the processor")
	}
}
