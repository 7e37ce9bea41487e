package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrConfigInvalid       = errors.New("paypal config invalid")
	ErrAuthFailed          = errors.New("paypal auth failed")
	ErrRequestFailed       = errors.New("paypal request failed")
	ErrResponseInvalid     = errors.New("paypal response invalid")
	ErrPaymentDenied       = errors.New("paypal payment denied")
	ErrWebhookVerifyFailed = errors.New("paypal webhook verify failed")
)

const (
	defaultSandboxBaseURL = "https://api-m.sandbox.paypal.com"
	defaultTimeout        = 12 * time.Second
)

// Webhook event types consumed by the reconciler.
const (
	EventCaptureCompleted      = "PAYMENT.CAPTURE.COMPLETED"
	EventCaptureDenied         = "PAYMENT.CAPTURE.DENIED"
	EventCaptureDeclined       = "PAYMENT.CAPTURE.DECLINED"
	EventSaleCompleted         = "PAYMENT.SALE.COMPLETED"
	EventSubscriptionActivated = "BILLING.SUBSCRIPTION.ACTIVATED"
	EventSubscriptionCancelled = "BILLING.SUBSCRIPTION.CANCELLED"
	EventSubscriptionExpired   = "BILLING.SUBSCRIPTION.EXPIRED"
	EventSubscriptionSuspended = "BILLING.SUBSCRIPTION.SUSPENDED"
	EventSubscriptionPayFailed = "BILLING.SUBSCRIPTION.PAYMENT.FAILED"
)

// Config wallet processor credentials.
type Config struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	ReturnURL    string
	CancelURL    string
	WebhookID    string
	BrandName    string
	PlanID       string
	HTTPClient   *http.Client
}

// OrderInput one-time order.
type OrderInput struct {
	CustomID    string
	Amount      decimal.Decimal
	Currency    string
	Description string
	ReturnURL   string
	CancelURL   string
	RequestID   string
}

// CreateResult order or subscription awaiting donor approval.
type CreateResult struct {
	ID          string
	ApprovalURL string
	Status      string
	Raw         map[string]interface{}
}

// SubscriptionInput recurring subscription with a per-donor price.
type SubscriptionInput struct {
	PlanID    string
	CustomID  string
	Amount    decimal.Decimal
	Currency  string
	Email     string
	GivenName string
	ReturnURL string
	CancelURL string
	RequestID string
}

// CaptureResult captured order.
type CaptureResult struct {
	OrderID   string
	CaptureID string
	CustomID  string
	Status    string
	Amount    string
	Currency  string
	PaidAt    *time.Time
	Raw       map[string]interface{}
}

// WebhookEvent raw webhook event.
type WebhookEvent struct {
	ID         string                 `json:"id"`
	EventType  string                 `json:"event_type"`
	CreateTime string                 `json:"create_time"`
	Resource   map[string]interface{} `json:"resource"`
	Raw        map[string]interface{}
}

// Normalize trims credentials and fills defaults.
func (c *Config) Normalize() {
	c.ClientID = strings.TrimSpace(c.ClientID)
	c.ClientSecret = strings.TrimSpace(c.ClientSecret)
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.BaseURL == "" {
		c.BaseURL = defaultSandboxBaseURL
	}
	c.ReturnURL = strings.TrimSpace(c.ReturnURL)
	c.CancelURL = strings.TrimSpace(c.CancelURL)
	c.WebhookID = strings.TrimSpace(c.WebhookID)
	c.BrandName = strings.TrimSpace(c.BrandName)
	c.PlanID = strings.TrimSpace(c.PlanID)
}

// ValidateConfig checks credentials and redirect urls.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrConfigInvalid)
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return fmt.Errorf("%w: client_id is required", ErrConfigInvalid)
	}
	if strings.TrimSpace(cfg.ClientSecret) == "" {
		return fmt.Errorf("%w: client_secret is required", ErrConfigInvalid)
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return fmt.Errorf("%w: base_url is required", ErrConfigInvalid)
	}
	if strings.TrimSpace(cfg.ReturnURL) == "" {
		return fmt.Errorf("%w: return_url is required", ErrConfigInvalid)
	}
	if strings.TrimSpace(cfg.CancelURL) == "" {
		return fmt.Errorf("%w: cancel_url is required", ErrConfigInvalid)
	}
	if _, err := url.ParseRequestURI(strings.TrimSpace(cfg.BaseURL)); err != nil {
		return fmt.Errorf("%w: base_url is invalid", ErrConfigInvalid)
	}
	if _, err := url.ParseRequestURI(strings.TrimSpace(cfg.ReturnURL)); err != nil {
		return fmt.Errorf("%w: return_url is invalid", ErrConfigInvalid)
	}
	if _, err := url.ParseRequestURI(strings.TrimSpace(cfg.CancelURL)); err != nil {
		return fmt.Errorf("%w: cancel_url is invalid", ErrConfigInvalid)
	}
	return nil
}

// CreateOrder creates a capture order and returns the approval link.
func CreateOrder(ctx context.Context, cfg *Config, input OrderInput) (*CreateResult, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	currency := strings.ToUpper(strings.TrimSpace(input.Currency))
	if strings.TrimSpace(input.CustomID) == "" || currency == "" || !input.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: order input is invalid", ErrConfigInvalid)
	}
	returnURL, cancelURL := pickURLs(cfg, input.ReturnURL, input.CancelURL)

	token, err := getAccessToken(ctx, cfg)
	if err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"intent": "CAPTURE",
		"purchase_units": []map[string]interface{}{
			{
				"custom_id": strings.TrimSpace(input.CustomID),
				"amount": map[string]string{
					"currency_code": currency,
					"value":         input.Amount.StringFixed(2),
				},
				"description": strings.TrimSpace(input.Description),
			},
		},
		"application_context": buildApplicationContext(cfg, returnURL, cancelURL, "PAY_NOW"),
	}
	return createApprovable(ctx, cfg, "/v2/checkout/orders", token, input.RequestID, payload, "create order")
}

// CreateSubscription creates a plan subscription priced for this donor.
func CreateSubscription(ctx context.Context, cfg *Config, input SubscriptionInput) (*CreateResult, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	planID := strings.TrimSpace(input.PlanID)
	if planID == "" {
		planID = cfg.PlanID
	}
	currency := strings.ToUpper(strings.TrimSpace(input.Currency))
	if planID == "" || strings.TrimSpace(input.CustomID) == "" || currency == "" || !input.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: subscription input is invalid", ErrConfigInvalid)
	}
	returnURL, cancelURL := pickURLs(cfg, input.ReturnURL, input.CancelURL)

	token, err := getAccessToken(ctx, cfg)
	if err != nil {
		return nil, err
	}

	subscriber := map[string]interface{}{}
	if email := strings.TrimSpace(input.Email); email != "" {
		subscriber["email_address"] = email
	}
	if name := strings.TrimSpace(input.GivenName); name != "" {
		subscriber["name"] = map[string]string{"given_name": name}
	}
	payload := map[string]interface{}{
		"plan_id":   planID,
		"custom_id": strings.TrimSpace(input.CustomID),
		"plan": map[string]interface{}{
			"billing_cycles": []map[string]interface{}{
				{
					"sequence": 1,
					"pricing_scheme": map[string]interface{}{
						"fixed_price": map[string]string{
							"currency_code": currency,
							"value":         input.Amount.StringFixed(2),
						},
					},
				},
			},
		},
		"application_context": buildApplicationContext(cfg, returnURL, cancelURL, "SUBSCRIBE_NOW"),
	}
	if len(subscriber) > 0 {
		payload["subscriber"] = subscriber
	}
	return createApprovable(ctx, cfg, "/v1/billing/subscriptions", token, input.RequestID, payload, "create subscription")
}

// CancelSubscription stops future billing for a subscription.
func CancelSubscription(ctx context.Context, cfg *Config, subscriptionID, reason string) error {
	if err := ValidateConfig(cfg); err != nil {
		return err
	}
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return fmt.Errorf("%w: subscription id is empty", ErrConfigInvalid)
	}
	token, err := getAccessToken(ctx, cfg)
	if err != nil {
		return err
	}
	if strings.TrimSpace(reason) == "" {
		reason = "cancelled"
	}
	body, err := json.Marshal(map[string]string{"reason": reason})
	if err != nil {
		return fmt.Errorf("%w: marshal request failed", ErrRequestFailed)
	}
	endpoint := "/v1/billing/subscriptions/" + url.PathEscape(subscriptionID) + "/cancel"
	_, statusCode, err := doJSONRequest(ctx, cfg, http.MethodPost, endpoint, token, "", body)
	if err != nil {
		return err
	}
	// already cancelled subscriptions answer 422
	if statusCode == http.StatusUnprocessableEntity {
		return nil
	}
	return classifyStatus(statusCode, "cancel subscription")
}

// CaptureOrder captures an approved order.
func CaptureOrder(ctx context.Context, cfg *Config, orderID string) (*CaptureResult, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is empty", ErrConfigInvalid)
	}

	token, err := getAccessToken(ctx, cfg)
	if err != nil {
		return nil, err
	}

	endpoint := "/v2/checkout/orders/" + url.PathEscape(orderID) + "/capture"
	respBody, statusCode, err := doJSONRequest(ctx, cfg, http.MethodPost, endpoint, token, "capture-"+orderID, []byte("{}"))
	if err != nil {
		return nil, err
	}
	if statusCode == http.StatusUnprocessableEntity {
		return nil, fmt.Errorf("%w: capture refused", ErrPaymentDenied)
	}
	if err := classifyStatus(statusCode, "capture order"); err != nil {
		return nil, err
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode response failed", ErrResponseInvalid)
	}

	result := &CaptureResult{Raw: raw}
	result.OrderID = strings.TrimSpace(readString(raw, "id"))
	result.Status = strings.TrimSpace(readString(raw, "status"))
	result.CustomID = strings.TrimSpace(readString(raw, "purchase_units", "0", "custom_id"))

	captures := readArray(raw, "purchase_units", "0", "payments", "captures")
	if len(captures) > 0 {
		if captureMap, ok := captures[0].(map[string]interface{}); ok {
			result.CaptureID = strings.TrimSpace(readString(captureMap, "id"))
			if status := strings.TrimSpace(readString(captureMap, "status")); status != "" {
				result.Status = status
			}
			if customID := strings.TrimSpace(readString(captureMap, "custom_id")); customID != "" {
				result.CustomID = customID
			}
			result.Amount = strings.TrimSpace(readString(captureMap, "amount", "value"))
			result.Currency = strings.TrimSpace(readString(captureMap, "amount", "currency_code"))
			if rawTime := strings.TrimSpace(readString(captureMap, "create_time")); rawTime != "" {
				if parsed, err := time.Parse(time.RFC3339, rawTime); err == nil {
					result.PaidAt = &parsed
				}
			}
		}
	}

	if result.OrderID == "" {
		result.OrderID = orderID
	}
	if result.Status == "" {
		return nil, fmt.Errorf("%w: missing capture status", ErrResponseInvalid)
	}
	return result, nil
}

// VerifyWebhookSignature asks the processor to verify a webhook transmission.
// Nothing in the event may be trusted unless this returns nil.
func VerifyWebhookSignature(ctx context.Context, cfg *Config, headers http.Header, event map[string]interface{}) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrConfigInvalid)
	}
	if strings.TrimSpace(cfg.WebhookID) == "" {
		return fmt.Errorf("%w: webhook_id is required", ErrConfigInvalid)
	}

	payload := map[string]interface{}{
		"transmission_id":   strings.TrimSpace(headers.Get("Paypal-Transmission-Id")),
		"transmission_time": strings.TrimSpace(headers.Get("Paypal-Transmission-Time")),
		"cert_url":          strings.TrimSpace(headers.Get("Paypal-Cert-Url")),
		"auth_algo":         strings.TrimSpace(headers.Get("Paypal-Auth-Algo")),
		"transmission_sig":  strings.TrimSpace(headers.Get("Paypal-Transmission-Sig")),
		"webhook_id":        strings.TrimSpace(cfg.WebhookID),
		"webhook_event":     event,
	}
	for _, key := range []string{"transmission_id", "transmission_time", "cert_url", "auth_algo", "transmission_sig"} {
		if strings.TrimSpace(readString(payload, key)) == "" {
			return fmt.Errorf("%w: missing %s", ErrWebhookVerifyFailed, key)
		}
	}

	token, err := getAccessToken(ctx, cfg)
	if err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: marshal verify payload failed", ErrWebhookVerifyFailed)
	}

	respBody, statusCode, err := doJSONRequest(ctx, cfg, http.MethodPost, "/v1/notifications/verify-webhook-signature", token, "", body)
	if err != nil {
		return err
	}
	if statusCode < 200 || statusCode >= 300 {
		return fmt.Errorf("%w: verify status %d", ErrWebhookVerifyFailed, statusCode)
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return fmt.Errorf("%w: decode verify response failed", ErrWebhookVerifyFailed)
	}
	if strings.ToUpper(strings.TrimSpace(readString(resp, "verification_status"))) != "SUCCESS" {
		return fmt.Errorf("%w: verify result is not success", ErrWebhookVerifyFailed)
	}
	return nil
}

// ParseWebhookEvent decodes a webhook body without trusting it.
func ParseWebhookEvent(body []byte) (*WebhookEvent, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: webhook body is empty", ErrResponseInvalid)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: webhook body invalid", ErrResponseInvalid)
	}
	event := &WebhookEvent{
		ID:         strings.TrimSpace(readString(raw, "id")),
		EventType:  strings.ToUpper(strings.TrimSpace(readString(raw, "event_type"))),
		CreateTime: strings.TrimSpace(readString(raw, "create_time")),
		Raw:        raw,
	}
	if resource, ok := raw["resource"].(map[string]interface{}); ok {
		event.Resource = resource
	} else {
		event.Resource = map[string]interface{}{}
	}
	if event.EventType == "" {
		return nil, fmt.Errorf("%w: event_type is missing", ErrResponseInvalid)
	}
	if event.ID == "" {
		return nil, fmt.Errorf("%w: event id is missing", ErrResponseInvalid)
	}
	return event, nil
}

// ResourceID id of the captured payment, sale or subscription.
func (e *WebhookEvent) ResourceID() string {
	if e == nil {
		return ""
	}
	return strings.TrimSpace(readString(e.Resource, "id"))
}

// CustomID correlation token set when the order or subscription was created.
func (e *WebhookEvent) CustomID() string {
	if e == nil {
		return ""
	}
	for _, path := range [][]string{{"custom_id"}, {"custom"}, {"purchase_units", "0", "custom_id"}} {
		if val := strings.TrimSpace(readString(e.Resource, path...)); val != "" {
			return val
		}
	}
	return ""
}

// SubscriptionID subscription id for subscription and sale events.
func (e *WebhookEvent) SubscriptionID() string {
	if e == nil {
		return ""
	}
	if strings.HasPrefix(e.EventType, "BILLING.SUBSCRIPTION.") {
		return e.ResourceID()
	}
	return strings.TrimSpace(readString(e.Resource, "billing_agreement_id"))
}

// Amount captured or sold amount and its currency.
func (e *WebhookEvent) Amount() (string, string) {
	if e == nil {
		return "", ""
	}
	if value := strings.TrimSpace(readString(e.Resource, "amount", "value")); value != "" {
		return value, strings.TrimSpace(readString(e.Resource, "amount", "currency_code"))
	}
	if value := strings.TrimSpace(readString(e.Resource, "amount", "total")); value != "" {
		return value, strings.TrimSpace(readString(e.Resource, "amount", "currency"))
	}
	value := strings.TrimSpace(readString(e.Resource, "last_failed_payment", "amount", "value"))
	return value, strings.TrimSpace(readString(e.Resource, "last_failed_payment", "amount", "currency_code"))
}

// SubscriberEmail payer email on subscription resources.
func (e *WebhookEvent) SubscriberEmail() string {
	if e == nil {
		return ""
	}
	if val := strings.TrimSpace(readString(e.Resource, "subscriber", "email_address")); val != "" {
		return val
	}
	return strings.TrimSpace(readString(e.Resource, "payer", "email_address"))
}

// FailureReason reason carried by failed payment events.
func (e *WebhookEvent) FailureReason() string {
	if e == nil {
		return ""
	}
	for _, path := range [][]string{
		{"status_details", "reason"},
		{"last_failed_payment", "reason_code"},
		{"billing_info", "last_failed_payment", "reason_code"},
	} {
		if val := strings.TrimSpace(readString(e.Resource, path...)); val != "" {
			return val
		}
	}
	return ""
}

// OccurredAt when the payment or state change happened.
func (e *WebhookEvent) OccurredAt() *time.Time {
	if e == nil {
		return nil
	}
	for _, key := range []string{"create_time", "update_time"} {
		raw := strings.TrimSpace(readString(e.Resource, key))
		if raw == "" {
			continue
		}
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			return &parsed
		}
	}
	if e.CreateTime != "" {
		if parsed, err := time.Parse(time.RFC3339, e.CreateTime); err == nil {
			return &parsed
		}
	}
	return nil
}

func pickURLs(cfg *Config, returnURL, cancelURL string) (string, string) {
	returnURL = strings.TrimSpace(returnURL)
	if returnURL == "" {
		returnURL = cfg.ReturnURL
	}
	cancelURL = strings.TrimSpace(cancelURL)
	if cancelURL == "" {
		cancelURL = cfg.CancelURL
	}
	return returnURL, cancelURL
}

func createApprovable(ctx context.Context, cfg *Config, endpoint, token, requestID string, payload map[string]interface{}, op string) (*CreateResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request failed", ErrRequestFailed)
	}
	respBody, statusCode, err := doJSONRequest(ctx, cfg, http.MethodPost, endpoint, token, requestID, body)
	if err != nil {
		return nil, err
	}
	if statusCode == http.StatusUnprocessableEntity {
		return nil, fmt.Errorf("%w: %s refused", ErrPaymentDenied, op)
	}
	if err := classifyStatus(statusCode, op); err != nil {
		return nil, err
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode response failed", ErrResponseInvalid)
	}
	result := &CreateResult{Raw: raw}
	result.ID = strings.TrimSpace(readString(raw, "id"))
	result.Status = strings.TrimSpace(readString(raw, "status"))
	result.ApprovalURL = extractLinkByRel(raw, "approve")
	if result.ID == "" || result.ApprovalURL == "" {
		return nil, fmt.Errorf("%w: missing id or approve url", ErrResponseInvalid)
	}
	return result, nil
}

func classifyStatus(statusCode int, op string) error {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case statusCode == http.StatusTooManyRequests || statusCode >= 500:
		return fmt.Errorf("%w: %s status %d", ErrRequestFailed, op, statusCode)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s status %d", ErrAuthFailed, op, statusCode)
	default:
		return fmt.Errorf("%w: %s status %d", ErrResponseInvalid, op, statusCode)
	}
}

func buildApplicationContext(cfg *Config, returnURL, cancelURL, userAction string) map[string]string {
	ctx := map[string]string{
		"return_url":          strings.TrimSpace(returnURL),
		"cancel_url":          strings.TrimSpace(cancelURL),
		"user_action":         userAction,
		"shipping_preference": "NO_SHIPPING",
	}
	if cfg.BrandName != "" {
		ctx["brand_name"] = cfg.BrandName
	}
	return ctx
}

func httpClient(cfg *Config) *http.Client {
	if cfg != nil && cfg.HTTPClient != nil {
		return cfg.HTTPClient
	}
	return http.DefaultClient
}

func getAccessToken(ctx context.Context, cfg *Config) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	values := url.Values{}
	values.Set("grant_type", "client_credentials")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(cfg.BaseURL, "/")+"/v1/oauth2/token", strings.NewReader(values.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: build token request failed", ErrAuthFailed)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(cfg.ClientID, cfg.ClientSecret)

	resp, err := httpClient(cfg).Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: request token failed: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read token response failed", ErrRequestFailed)
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("%w: token status %d", ErrRequestFailed, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: token status %d", ErrAuthFailed, resp.StatusCode)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("%w: decode token response failed", ErrAuthFailed)
	}
	token := strings.TrimSpace(readString(parsed, "access_token"))
	if token == "" {
		return "", fmt.Errorf("%w: access_token is empty", ErrAuthFailed)
	}
	return token, nil
}

func doJSONRequest(ctx context.Context, cfg *Config, method, endpoint, token, requestID string, body []byte) ([]byte, int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(cfg.BaseURL, "/")+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: build request failed", ErrRequestFailed)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}
	if strings.TrimSpace(requestID) != "" {
		req.Header.Set("PayPal-Request-Id", strings.TrimSpace(requestID))
	}

	resp, err := httpClient(cfg).Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: http request failed: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: read response failed", ErrRequestFailed)
	}
	return respBody, resp.StatusCode, nil
}

func withDefaultTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, defaultTimeout)
}

func extractLinkByRel(raw map[string]interface{}, rel string) string {
	links, ok := raw["links"].([]interface{})
	if !ok {
		return ""
	}
	rel = strings.ToLower(strings.TrimSpace(rel))
	for _, item := range links {
		linkMap, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if strings.ToLower(strings.TrimSpace(readString(linkMap, "rel"))) != rel {
			continue
		}
		if href := strings.TrimSpace(readString(linkMap, "href")); href != "" {
			return href
		}
	}
	return ""
}

func readString(raw map[string]interface{}, path ...string) string {
	if raw == nil {
		return ""
	}
	var current interface{} = raw
	for _, seg := range path {
		if idx, err := strconv.Atoi(seg); err == nil {
			arr, ok := current.([]interface{})
			if !ok || idx < 0 || idx >= len(arr) {
				return ""
			}
			current = arr[idx]
			continue
		}
		next, ok := current.(map[string]interface{})
		if !ok {
			return ""
		}
		current = next[seg]
	}
	if current == nil {
		return ""
	}
	if str, ok := current.(string); ok {
		return str
	}
	return fmt.Sprintf("%v", current)
}

func readArray(raw map[string]interface{}, path ...string) []interface{} {
	if raw == nil {
		return nil
	}
	var current interface{} = raw
	for _, seg := range path {
		if idx, err := strconv.Atoi(seg); err == nil {
			arr, ok := current.([]interface{})
			if !ok || idx < 0 || idx >= len(arr) {
				return nil
			}
			current = arr[idx]
			continue
		}
		next, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}
		current = next[seg]
	}
	arr, ok := current.([]interface{})
	if !ok {
		return nil
	}
	return arr
}
