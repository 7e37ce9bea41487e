package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func newTestConfig(baseURL string) *Config {
	cfg := &Config{
		SecretKey:     " sk_test_123 ",
		WebhookSecret: "whsec_test_abc",
		APIBaseURL:    baseURL,
	}
	cfg.Normalize()
	return cfg
}

func TestNormalizeAndValidateConfig(t *testing.T) {
	cfg := newTestConfig("")
	if cfg.SecretKey != "sk_test_123" {
		t.Fatalf("unexpected secret key: %s", cfg.SecretKey)
	}
	if cfg.APIBaseURL != defaultAPIBaseURL {
		t.Fatalf("unexpected default api base url: %s", cfg.APIBaseURL)
	}
	if err := ValidateConfig(cfg); err != nil {
		t.Fatalf("validate config failed: %v", err)
	}
	if err := ValidateConfig(&Config{APIBaseURL: defaultAPIBaseURL}); !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("missing secret should be invalid, got %v", err)
	}
}

func TestCreatePaymentIntentSendsOffSessionAndIdempotencyKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payment_intents" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Idempotency-Key"); got != "schedule-9-2026-01-01" {
			t.Errorf("unexpected idempotency key: %s", got)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form failed: %v", err)
		}
		if r.PostForm.Get("amount") != "2500" || r.PostForm.Get("currency") != "usd" {
			t.Errorf("unexpected amount form: %v", r.PostForm)
		}
		if r.PostForm.Get("off_session") != "true" || r.PostForm.Get("customer") != "cus_1" {
			t.Errorf("off session charge should carry customer: %v", r.PostForm)
		}
		if r.PostForm.Get("metadata[schedule_id]") != "9" {
			t.Errorf("metadata missing: %v", r.PostForm)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":              "pi_123",
			"status":          "succeeded",
			"amount":          2500,
			"amount_received": 2500,
			"currency":        "usd",
			"customer":        "cus_1",
			"payment_method":  map[string]interface{}{"id": "pm_1"},
		})
	}))
	defer server.Close()

	result, err := CreatePaymentIntent(context.Background(), newTestConfig(server.URL), IntentInput{
		Amount:         decimal.NewFromInt(25),
		Currency:       "USD",
		PaymentMethod:  "pm_1",
		Customer:       "cus_1",
		OffSession:     true,
		IdempotencyKey: "schedule-9-2026-01-01",
		Metadata:       map[string]string{"schedule_id": "9"},
	})
	if err != nil {
		t.Fatalf("create intent failed: %v", err)
	}
	if result.PaymentIntentID != "pi_123" || result.Status != IntentStatusSucceeded {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Amount != "25.00" || result.PaymentMethod != "pm_1" {
		t.Fatalf("unexpected amount or method: %+v", result)
	}
}

func TestCreatePaymentIntentDecline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]interface{}{
				"type":           "card_error",
				"code":           "card_declined",
				"decline_code":   "insufficient_funds",
				"message":        "Your card has insufficient funds.",
				"payment_intent": map[string]interface{}{"id": "pi_declined"},
			},
		})
	}))
	defer server.Close()

	_, err := CreatePaymentIntent(context.Background(), newTestConfig(server.URL), IntentInput{
		Amount:        decimal.NewFromInt(10),
		Currency:      "USD",
		PaymentMethod: "pm_card_chargeDeclined",
	})
	if !errors.Is(err, ErrCardDeclined) {
		t.Fatalf("expected decline, got %v", err)
	}
	var decline *DeclineError
	if !errors.As(err, &decline) {
		t.Fatalf("expected *DeclineError")
	}
	if decline.Reason() != "Your card has insufficient funds." || decline.PaymentIntentID != "pi_declined" {
		t.Fatalf("unexpected decline: %+v", decline)
	}
}

func TestCreatePaymentIntentServerErrorIsRequestFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := CreatePaymentIntent(context.Background(), newTestConfig(server.URL), IntentInput{
		Amount:        decimal.NewFromInt(10),
		Currency:      "USD",
		PaymentMethod: "pm_1",
	})
	if !errors.Is(err, ErrRequestFailed) {
		t.Fatalf("expected request failure, got %v", err)
	}
}

func TestVerifyAndParseWebhookInstallment(t *testing.T) {
	now := time.Unix(1760000000, 0)
	cfg := &Config{WebhookSecret: "whsec_test_abc", WebhookToleranceSeconds: 300}
	payload := map[string]interface{}{
		"id":   "evt_test_1",
		"type": "payment_intent.succeeded",
		"data": map[string]interface{}{
			"object": map[string]interface{}{
				"object":          "payment_intent",
				"id":              "pi_777",
				"status":          "succeeded",
				"currency":        "usd",
				"amount_received": 1288,
				"customer":        "cus_9",
				"created":         now.Unix(),
				"metadata": map[string]interface{}{
					"schedule_id":    "42",
					"billing_period": "2026-01-01",
				},
			},
		},
	}
	body, _ := json.Marshal(payload)
	headers := map[string]string{"stripe-signature": SignatureHeader(cfg.WebhookSecret, now, body)}

	event, err := VerifyAndParseWebhook(cfg, headers, body, now)
	if err != nil {
		t.Fatalf("verify and parse webhook failed: %v", err)
	}
	if event.EventType != "payment_intent.succeeded" || event.PaymentIntentID != "pi_777" {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.Amount != "12.88" || event.CustomerID != "cus_9" {
		t.Fatalf("unexpected amount or customer: %+v", event)
	}
	if event.Metadata["schedule_id"] != "42" || event.Metadata["billing_period"] != "2026-01-01" {
		t.Fatalf("unexpected metadata: %+v", event.Metadata)
	}
}

func TestVerifyAndParseWebhookInvalidSignature(t *testing.T) {
	now := time.Unix(1760000000, 0)
	cfg := &Config{WebhookSecret: "whsec_test_abc", WebhookToleranceSeconds: 300}
	body := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"object":"payment_intent","id":"pi_1"}}}`)
	headers := map[string]string{"Stripe-Signature": "t=1760000000,v1=invalid-signature"}

	if _, err := VerifyAndParseWebhook(cfg, headers, body, now); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected signature error, got %v", err)
	}
}

func TestVerifyAndParseWebhookStaleTimestamp(t *testing.T) {
	signedAt := time.Unix(1760000000, 0)
	cfg := &Config{WebhookSecret: "whsec_test_abc", WebhookToleranceSeconds: 300}
	body := []byte(`{"id":"evt_1","type":"customer.deleted","data":{"object":{"object":"customer","id":"cus_1"}}}`)
	headers := map[string]string{"Stripe-Signature": SignatureHeader(cfg.WebhookSecret, signedAt, body)}

	if _, err := VerifyAndParseWebhook(cfg, headers, body, signedAt.Add(10*time.Minute)); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected tolerance error, got %v", err)
	}
}

func TestToMinorAmount(t *testing.T) {
	minor, err := toMinorAmount(decimal.RequireFromString("12.34"), "usd")
	if err != nil || minor != 1234 {
		t.Fatalf("usd minor want 1234 got %d err=%v", minor, err)
	}
	minor, err = toMinorAmount(decimal.NewFromInt(500), "JPY")
	if err != nil || minor != 500 {
		t.Fatalf("jpy minor want 500 got %d err=%v", minor, err)
	}
	if _, err := toMinorAmount(decimal.RequireFromString("1.234"), "USD"); err == nil {
		t.Fatalf("sub-cent amount should be rejected")
	}
}
