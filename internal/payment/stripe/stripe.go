package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrConfigInvalid    = errors.New("stripe config invalid")
	ErrRequestFailed    = errors.New("stripe request failed")
	ErrResponseInvalid  = errors.New("stripe response invalid")
	ErrSignatureInvalid = errors.New("stripe signature invalid")
	ErrCardDeclined     = errors.New("stripe card declined")
)

const (
	defaultAPIBaseURL        = "https://api.stripe.com"
	defaultTimeout           = 12 * time.Second
	defaultWebhookToleranceS = 300
)

var zeroDecimalCurrencies = map[string]struct{}{
	"BIF": {},
	"CLP": {},
	"DJF": {},
	"GNF": {},
	"JPY": {},
	"KMF": {},
	"KRW": {},
	"MGA": {},
	"PYG": {},
	"RWF": {},
	"UGX": {},
	"VND": {},
	"VUV": {},
	"XAF": {},
	"XOF": {},
	"XPF": {},
}

// Intent statuses reported by the processor.
const (
	IntentStatusSucceeded      = "succeeded"
	IntentStatusProcessing     = "processing"
	IntentStatusRequiresAction = "requires_action"
)

// Config card processor credentials.
type Config struct {
	SecretKey               string
	WebhookSecret           string
	APIBaseURL              string
	WebhookToleranceSeconds int
	StatementDescriptor     string
	HTTPClient              *http.Client
}

// IntentInput creates and confirms one payment intent.
type IntentInput struct {
	Amount         decimal.Decimal
	Currency       string
	PaymentMethod  string
	Customer       string
	Email          string
	Description    string
	OffSession     bool
	SaveForFuture  bool
	IdempotencyKey string
	Metadata       map[string]string
}

// IntentResult confirmed payment intent.
type IntentResult struct {
	PaymentIntentID string
	Status          string
	PaymentMethod   string
	Customer        string
	Amount          string
	Currency        string
	Created         *time.Time
	Raw             map[string]interface{}
}

// CustomerInput creates a stored customer holding a reusable card.
type CustomerInput struct {
	Email          string
	Name           string
	PaymentMethod  string
	IdempotencyKey string
	Metadata       map[string]string
}

// CustomerResult stored customer.
type CustomerResult struct {
	CustomerID string
	Raw        map[string]interface{}
}

// DeclineError a charge the processor refused.
type DeclineError struct {
	Code            string
	DeclineCode     string
	Message         string
	PaymentIntentID string
}

func (e *DeclineError) Error() string {
	reason := e.Reason()
	if reason == "" {
		return ErrCardDeclined.Error()
	}
	return ErrCardDeclined.Error() + ": " + reason
}

// Unwrap matches ErrCardDeclined.
func (e *DeclineError) Unwrap() error {
	return ErrCardDeclined
}

// Reason human readable decline reason.
func (e *DeclineError) Reason() string {
	if e == nil {
		return ""
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		return msg
	}
	if e.DeclineCode != "" {
		return e.DeclineCode
	}
	return e.Code
}

// WebhookEvent verified webhook event.
type WebhookEvent struct {
	EventID         string
	EventType       string
	ObjectType      string
	ObjectID        string
	PaymentIntentID string
	CustomerID      string
	Status          string
	Amount          string
	Currency        string
	Email           string
	FailureMessage  string
	Metadata        map[string]string
	Created         *time.Time
	Raw             map[string]interface{}
}

// Normalize trims credentials and fills defaults.
func (c *Config) Normalize() {
	c.SecretKey = strings.TrimSpace(c.SecretKey)
	c.WebhookSecret = strings.TrimSpace(c.WebhookSecret)
	c.StatementDescriptor = strings.TrimSpace(c.StatementDescriptor)
	c.APIBaseURL = strings.TrimRight(strings.TrimSpace(c.APIBaseURL), "/")
	if c.APIBaseURL == "" {
		c.APIBaseURL = defaultAPIBaseURL
	}
	if c.WebhookToleranceSeconds <= 0 {
		c.WebhookToleranceSeconds = defaultWebhookToleranceS
	}
}

// ValidateConfig checks the credentials needed for charges and webhooks.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrConfigInvalid)
	}
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return fmt.Errorf("%w: secret_key is required", ErrConfigInvalid)
	}
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		return fmt.Errorf("%w: webhook_secret is required", ErrConfigInvalid)
	}
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		return fmt.Errorf("%w: api_base_url is required", ErrConfigInvalid)
	}
	if _, err := url.ParseRequestURI(strings.TrimSpace(cfg.APIBaseURL)); err != nil {
		return fmt.Errorf("%w: api_base_url is invalid", ErrConfigInvalid)
	}
	return nil
}

// CreatePaymentIntent creates and confirms a payment intent in one call.
// A refused card returns a *DeclineError.
func CreatePaymentIntent(ctx context.Context, cfg *Config, input IntentInput) (*IntentResult, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	currency := strings.ToUpper(strings.TrimSpace(input.Currency))
	if currency == "" {
		return nil, fmt.Errorf("%w: currency is required", ErrConfigInvalid)
	}
	minorAmount, err := toMinorAmount(input.Amount, currency)
	if err != nil {
		return nil, err
	}
	paymentMethod := strings.TrimSpace(input.PaymentMethod)
	if paymentMethod == "" {
		return nil, fmt.Errorf("%w: payment_method is required", ErrConfigInvalid)
	}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(minorAmount, 10))
	form.Set("currency", strings.ToLower(currency))
	form.Set("payment_method", paymentMethod)
	form.Set("confirm", "true")
	form.Set("payment_method_types[]", "card")
	if customer := strings.TrimSpace(input.Customer); customer != "" {
		form.Set("customer", customer)
	}
	if email := strings.TrimSpace(input.Email); email != "" {
		form.Set("receipt_email", email)
	}
	if desc := strings.TrimSpace(input.Description); desc != "" {
		form.Set("description", desc)
	}
	if cfg.StatementDescriptor != "" {
		form.Set("statement_descriptor_suffix", cfg.StatementDescriptor)
	}
	if input.OffSession {
		form.Set("off_session", "true")
	} else if input.SaveForFuture {
		form.Set("setup_future_usage", "off_session")
	}
	setMetadata(form, "metadata", input.Metadata)

	respBody, statusCode, err := doFormRequest(ctx, cfg, http.MethodPost, "/v1/payment_intents", form, input.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if err := classifyStatus(statusCode, respBody, "create payment intent"); err != nil {
		return nil, err
	}

	raw, err := decodeRawMap(respBody)
	if err != nil {
		return nil, err
	}
	result := &IntentResult{Raw: raw}
	result.PaymentIntentID = strings.TrimSpace(readString(raw, "id"))
	result.Status = strings.TrimSpace(readString(raw, "status"))
	result.PaymentMethod = readExpandableID(raw, "payment_method")
	result.Customer = readExpandableID(raw, "customer")
	result.Currency = strings.ToUpper(strings.TrimSpace(readString(raw, "currency")))
	amountMinor := readInt64(raw, "amount_received")
	if amountMinor <= 0 {
		amountMinor = readInt64(raw, "amount")
	}
	if amountMinor > 0 && result.Currency != "" {
		result.Amount = fromMinorAmount(amountMinor, result.Currency)
	}
	if created := readInt64(raw, "created"); created > 0 {
		at := time.Unix(created, 0)
		result.Created = &at
	}
	if result.PaymentIntentID == "" || result.Status == "" {
		return nil, fmt.Errorf("%w: missing payment intent id or status", ErrResponseInvalid)
	}
	return result, nil
}

// CreateCustomer stores a customer with the card attached as default.
func CreateCustomer(ctx context.Context, cfg *Config, input CustomerInput) (*CustomerResult, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	paymentMethod := strings.TrimSpace(input.PaymentMethod)
	if paymentMethod == "" {
		return nil, fmt.Errorf("%w: payment_method is required", ErrConfigInvalid)
	}
	form := url.Values{}
	form.Set("payment_method", paymentMethod)
	form.Set("invoice_settings[default_payment_method]", paymentMethod)
	if email := strings.TrimSpace(input.Email); email != "" {
		form.Set("email", email)
	}
	if name := strings.TrimSpace(input.Name); name != "" {
		form.Set("name", name)
	}
	setMetadata(form, "metadata", input.Metadata)

	respBody, statusCode, err := doFormRequest(ctx, cfg, http.MethodPost, "/v1/customers", form, input.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if err := classifyStatus(statusCode, respBody, "create customer"); err != nil {
		return nil, err
	}
	raw, err := decodeRawMap(respBody)
	if err != nil {
		return nil, err
	}
	result := &CustomerResult{Raw: raw, CustomerID: strings.TrimSpace(readString(raw, "id"))}
	if result.CustomerID == "" {
		return nil, fmt.Errorf("%w: missing customer id", ErrResponseInvalid)
	}
	return result, nil
}

// DeleteCustomer removes the stored customer and its saved cards.
func DeleteCustomer(ctx context.Context, cfg *Config, customerID string) error {
	if err := ValidateConfig(cfg); err != nil {
		return err
	}
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return fmt.Errorf("%w: customer id is required", ErrConfigInvalid)
	}
	path := "/v1/customers/" + url.PathEscape(customerID)
	respBody, statusCode, err := doFormRequest(ctx, cfg, http.MethodDelete, path, nil, "")
	if err != nil {
		return err
	}
	if statusCode == http.StatusNotFound {
		return nil
	}
	return classifyStatus(statusCode, respBody, "delete customer")
}

// VerifyAndParseWebhook checks the signature header before decoding the event.
func VerifyAndParseWebhook(cfg *Config, headers map[string]string, body []byte, now time.Time) (*WebhookEvent, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is nil", ErrConfigInvalid)
	}
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		return nil, fmt.Errorf("%w: webhook_secret is required", ErrConfigInvalid)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: body is empty", ErrResponseInvalid)
	}
	if now.IsZero() {
		now = time.Now()
	}

	signatureHeader := getHeaderValue(headers, "Stripe-Signature")
	if strings.TrimSpace(signatureHeader) == "" {
		return nil, fmt.Errorf("%w: Stripe-Signature is required", ErrSignatureInvalid)
	}
	timestamp, signatures, err := parseSignatureHeader(signatureHeader)
	if err != nil {
		return nil, err
	}
	tolerance := cfg.WebhookToleranceSeconds
	if tolerance <= 0 {
		tolerance = defaultWebhookToleranceS
	}
	delta := math.Abs(float64(now.Unix() - timestamp))
	if delta > float64(tolerance) {
		return nil, fmt.Errorf("%w: timestamp outside tolerance", ErrSignatureInvalid)
	}

	expected := computeSignature(cfg.WebhookSecret, timestamp, body)
	matched := false
	for _, sig := range signatures {
		if hmac.Equal([]byte(strings.ToLower(sig)), []byte(expected)) {
			matched = true
			break
		}
	}
	if !matched {
		return nil, fmt.Errorf("%w: verify failed", ErrSignatureInvalid)
	}

	eventRaw, err := decodeRawMap(body)
	if err != nil {
		return nil, err
	}
	eventType := strings.TrimSpace(readString(eventRaw, "type"))
	if eventType == "" {
		return nil, fmt.Errorf("%w: missing event type", ErrResponseInvalid)
	}
	dataRaw, ok := eventRaw["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: missing data object", ErrResponseInvalid)
	}
	objectRaw, ok := dataRaw["object"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: missing event object", ErrResponseInvalid)
	}

	event := &WebhookEvent{
		EventID:   strings.TrimSpace(readString(eventRaw, "id")),
		EventType: eventType,
		Raw:       eventRaw,
	}
	if event.EventID == "" {
		return nil, fmt.Errorf("%w: missing event id", ErrResponseInvalid)
	}
	fillWebhookEvent(event, objectRaw)
	return event, nil
}

// SignatureHeader builds a Stripe-Signature value for a payload.
func SignatureHeader(secret string, at time.Time, body []byte) string {
	return "t=" + strconv.FormatInt(at.Unix(), 10) + ",v1=" + computeSignature(secret, at.Unix(), body)
}

func fillWebhookEvent(event *WebhookEvent, objectRaw map[string]interface{}) {
	event.ObjectType = strings.TrimSpace(readString(objectRaw, "object"))
	event.ObjectID = strings.TrimSpace(readString(objectRaw, "id"))
	event.Status = strings.TrimSpace(readString(objectRaw, "status"))
	event.Metadata = readStringMap(readMap(objectRaw, "metadata"))
	if created := readInt64(objectRaw, "created"); created > 0 {
		at := time.Unix(created, 0)
		event.Created = &at
	}

	switch event.ObjectType {
	case "payment_intent":
		event.PaymentIntentID = event.ObjectID
		event.CustomerID = readExpandableID(objectRaw, "customer")
		event.Email = strings.TrimSpace(readString(objectRaw, "receipt_email"))
		event.Currency = strings.ToUpper(strings.TrimSpace(readString(objectRaw, "currency")))
		amountMinor := readInt64(objectRaw, "amount_received")
		if amountMinor <= 0 {
			amountMinor = readInt64(objectRaw, "amount")
		}
		if amountMinor > 0 && event.Currency != "" {
			event.Amount = fromMinorAmount(amountMinor, event.Currency)
		}
		if lastErr := readMap(objectRaw, "last_payment_error"); lastErr != nil {
			event.FailureMessage = strings.TrimSpace(readString(lastErr, "message"))
			if event.FailureMessage == "" {
				event.FailureMessage = strings.TrimSpace(readString(lastErr, "decline_code"))
			}
		}
	case "customer":
		event.CustomerID = event.ObjectID
		event.Email = strings.TrimSpace(readString(objectRaw, "email"))
	}
}

func classifyStatus(statusCode int, body []byte, op string) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	if statusCode == http.StatusTooManyRequests || statusCode >= 500 {
		return fmt.Errorf("%w: %s status %d", ErrRequestFailed, op, statusCode)
	}
	if statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden {
		return fmt.Errorf("%w: %s status %d", ErrConfigInvalid, op, statusCode)
	}
	raw, err := decodeRawMap(body)
	if err != nil {
		return fmt.Errorf("%w: %s status %d", ErrResponseInvalid, op, statusCode)
	}
	apiErr := readMap(raw, "error")
	errType := strings.TrimSpace(readString(apiErr, "type"))
	if statusCode == http.StatusPaymentRequired || errType == "card_error" {
		decline := &DeclineError{
			Code:        strings.TrimSpace(readString(apiErr, "code")),
			DeclineCode: strings.TrimSpace(readString(apiErr, "decline_code")),
			Message:     strings.TrimSpace(readString(apiErr, "message")),
		}
		decline.PaymentIntentID = readExpandableID(apiErr, "payment_intent")
		return decline
	}
	return fmt.Errorf("%w: %s status %d %s", ErrResponseInvalid, op, statusCode, strings.TrimSpace(readString(apiErr, "message")))
}

func setMetadata(form url.Values, prefix string, metadata map[string]string) {
	if len(metadata) == 0 {
		return
	}
	keys := make([]string, 0, len(metadata))
	for key := range metadata {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		value := strings.TrimSpace(metadata[key])
		if value == "" {
			continue
		}
		form.Set(prefix+"["+key+"]", value)
	}
}

func toMinorAmount(amount decimal.Decimal, currency string) (int64, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return 0, fmt.Errorf("%w: amount must be greater than zero", ErrConfigInvalid)
	}
	scale := currencyScale(currency)
	minor := amount.Shift(int32(scale))
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("%w: amount precision is invalid", ErrConfigInvalid)
	}
	return minor.IntPart(), nil
}

func fromMinorAmount(minor int64, currency string) string {
	scale := currencyScale(currency)
	return decimal.NewFromInt(minor).Shift(int32(-scale)).StringFixed(int32(scale))
}

func currencyScale(currency string) int {
	upper := strings.ToUpper(strings.TrimSpace(currency))
	if _, ok := zeroDecimalCurrencies[upper]; ok {
		return 0
	}
	return 2
}

func doFormRequest(ctx context.Context, cfg *Config, method, path string, form url.Values, idempotencyKey string) ([]byte, int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/") + path
	var payload io.Reader
	if form != nil {
		payload = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, payload)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: build request failed", ErrRequestFailed)
	}
	req.Header.Set("Authorization", "Bearer "+cfg.SecretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if key := strings.TrimSpace(idempotencyKey); key != "" {
		req.Header.Set("Idempotency-Key", key)
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: read response failed", ErrRequestFailed)
	}
	return body, resp.StatusCode, nil
}

func decodeRawMap(body []byte) (map[string]interface{}, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode response failed", ErrResponseInvalid)
	}
	return raw, nil
}

// readExpandableID reads a field that is either an id or an expanded object.
func readExpandableID(raw map[string]interface{}, key string) string {
	if raw == nil {
		return ""
	}
	value, ok := raw[key]
	if !ok || value == nil {
		return ""
	}
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case map[string]interface{}:
		return strings.TrimSpace(readString(typed, "id"))
	default:
		return ""
	}
}

func computeSignature(secret string, timestamp int64, body []byte) string {
	payload := strconv.FormatInt(timestamp, 10) + "." + string(body)
	h := hmac.New(sha256.New, []byte(secret))
	_, _ = h.Write([]byte(payload))
	return strings.ToLower(hex.EncodeToString(h.Sum(nil)))
}

func parseSignatureHeader(signatureHeader string) (int64, []string, error) {
	timestamp := int64(0)
	signatures := make([]string, 0)
	parts := strings.Split(signatureHeader, ",")
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		value := strings.TrimSpace(kv[1])
		switch key {
		case "t":
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil || parsed <= 0 {
				return 0, nil, fmt.Errorf("%w: invalid timestamp", ErrSignatureInvalid)
			}
			timestamp = parsed
		case "v1":
			if value != "" {
				signatures = append(signatures, strings.ToLower(value))
			}
		}
	}
	if timestamp <= 0 {
		return 0, nil, fmt.Errorf("%w: timestamp is missing", ErrSignatureInvalid)
	}
	if len(signatures) == 0 {
		return 0, nil, fmt.Errorf("%w: v1 signature is missing", ErrSignatureInvalid)
	}
	return timestamp, signatures, nil
}

func getHeaderValue(headers map[string]string, key string) string {
	if len(headers) == 0 || strings.TrimSpace(key) == "" {
		return ""
	}
	for h, value := range headers {
		if strings.EqualFold(strings.TrimSpace(h), key) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func readString(raw map[string]interface{}, key string) string {
	if raw == nil || strings.TrimSpace(key) == "" {
		return ""
	}
	value, ok := raw[key]
	if !ok || value == nil {
		return ""
	}
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case json.Number:
		return strings.TrimSpace(typed.String())
	case float64:
		return strings.TrimSpace(strconv.FormatInt(int64(typed), 10))
	case int64:
		return strings.TrimSpace(strconv.FormatInt(typed, 10))
	case int:
		return strings.TrimSpace(strconv.Itoa(typed))
	default:
		return ""
	}
}

func readMap(raw map[string]interface{}, key string) map[string]interface{} {
	if raw == nil || strings.TrimSpace(key) == "" {
		return nil
	}
	value, ok := raw[key]
	if !ok || value == nil {
		return nil
	}
	mapped, ok := value.(map[string]interface{})
	if !ok {
		return nil
	}
	return mapped
}

func readStringMap(raw map[string]interface{}) map[string]string {
	out := make(map[string]string, len(raw))
	for key := range raw {
		if value := readString(raw, key); value != "" {
			out[key] = value
		}
	}
	return out
}

func readInt64(raw map[string]interface{}, key string) int64 {
	if raw == nil || strings.TrimSpace(key) == "" {
		return 0
	}
	value, ok := raw[key]
	if !ok || value == nil {
		return 0
	}
	switch typed := value.(type) {
	case int64:
		return typed
	case int:
		return int64(typed)
	case float64:
		return int64(typed)
	case json.Number:
		parsed, err := typed.Int64()
		if err == nil {
			return parsed
		}
		floatVal, err := typed.Float64()
		if err != nil {
			return 0
		}
		return int64(floatVal)
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64)
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}
