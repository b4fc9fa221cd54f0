package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/krshsl/interview-engine/models"
	"github.com/shopspring/decimal"
)

// webhookTolerance bounds the age of a signed webhook timestamp.
const webhookTolerance = 5 * time.Minute

type EventKind string

const (
	EventSucceeded EventKind = "succeeded"
	EventFailed    EventKind = "failed"
	EventCanceled  EventKind = "canceled"
	EventPending   EventKind = "pending"
	EventIgnored   EventKind = "ignored"
)

// PaymentEvent is a processor notification or status lookup reduced to what
// the reconciler needs.
type PaymentEvent struct {
	Kind      EventKind
	Processor models.Processor
	Reference string
	Type      string
	Reason    string
}

type IntentRequest struct {
	PaymentID string
	UserID    string
	Email     string
	Phone     string
	PackageID string
	Credits   int
	Amount    int64
	Currency  string
}

// Intent is what the client needs to finish checkout.
type Intent struct {
	Reference        string `json:"reference"`
	ClientSecret     string `json:"client_secret,omitempty"`
	PaymentSessionID string `json:"payment_session_id,omitempty"`
}

// Gateway is one payment processor.
type Gateway interface {
	Processor() models.Processor
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	FetchStatus(ctx context.Context, reference string) (*PaymentEvent, error)
	ParseWebhook(header http.Header, body []byte) (*PaymentEvent, error)
}

func processorError(processor models.Processor, status int, body []byte) *AppError {
	slog.Error("Payment processor error", "processor", processor, "status", status, "body", string(body))
	return newAppError(CodeProcessorError, http.StatusBadGateway, fmt.Sprintf("%s request failed with status %d", processor, status))
}

// StripeGateway talks to the Stripe PaymentIntents API.
type StripeGateway struct {
	secretKey     string
	webhookSecret string
	baseURL       string
	client        *http.Client
	now           func() time.Time
}

func NewStripeGateway(secretKey, webhookSecret, baseURL string) *StripeGateway {
	return &StripeGateway{
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
		baseURL:       strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		now: time.Now,
	}
}

func (g *StripeGateway) Processor() models.Processor { return models.ProcessorStripe }

type stripeIntent struct {
	ID               string `json:"id"`
	ClientSecret     string `json:"client_secret"`
	Status           string `json:"status"`
	LastPaymentError *struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
	CancellationReason string `json:"cancellation_reason"`
}

func (g *StripeGateway) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.Amount, 10))
	form.Set("currency", strings.ToLower(req.Currency))
	form.Set("automatic_payment_methods[enabled]", "true")
	form.Set("metadata[payment_id]", req.PaymentID)
	form.Set("metadata[user_id]", req.UserID)
	form.Set("metadata[package_id]", req.PackageID)
	form.Set("metadata[credits]", strconv.Itoa(req.Credits))
	if req.Email != "" {
		form.Set("receipt_email", req.Email)
	}

	var intent stripeIntent
	if err := g.do(ctx, http.MethodPost, "/v1/payment_intents", strings.NewReader(form.Encode()), &intent); err != nil {
		return nil, err
	}

	slog.Info("Created Stripe payment intent", "payment_intent_id", intent.ID, "user_id", req.UserID, "amount", req.Amount)
	return &Intent{Reference: intent.ID, ClientSecret: intent.ClientSecret}, nil
}

func (g *StripeGateway) FetchStatus(ctx context.Context, reference string) (*PaymentEvent, error) {
	var intent stripeIntent
	if err := g.do(ctx, http.MethodGet, "/v1/payment_intents/"+url.PathEscape(reference), nil, &intent); err != nil {
		return nil, err
	}
	return stripeIntentEvent("payment_intent.retrieved", &intent), nil
}

func (g *StripeGateway) do(ctx context.Context, method, path string, body io.Reader, dest interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.secretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return processorError(models.ProcessorStripe, resp.StatusCode, raw)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("failed to decode stripe response: %w", err)
	}
	return nil
}

func stripeIntentEvent(eventType string, intent *stripeIntent) *PaymentEvent {
	event := &PaymentEvent{
		Processor: models.ProcessorStripe,
		Reference: intent.ID,
		Type:      eventType,
		Kind:      EventPending,
	}
	switch intent.Status {
	case "succeeded":
		event.Kind = EventSucceeded
	case "canceled":
		event.Kind = EventCanceled
		event.Reason = intent.CancellationReason
	case "requires_payment_method":
		if intent.LastPaymentError != nil {
			event.Kind = EventFailed
			event.Reason = intent.LastPaymentError.Message
		}
	}
	return event
}

type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object stripeIntent `json:"object"`
	} `json:"data"`
}

func (g *StripeGateway) ParseWebhook(header http.Header, body []byte) (*PaymentEvent, error) {
	if err := g.verifySignature(header.Get("Stripe-Signature"), body); err != nil {
		return nil, err
	}

	var evt stripeEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return nil, errValidation("malformed stripe event")
	}

	intent := &evt.Data.Object
	switch evt.Type {
	case "payment_intent.succeeded":
		return &PaymentEvent{Kind: EventSucceeded, Processor: models.ProcessorStripe, Reference: intent.ID, Type: evt.Type}, nil
	case "payment_intent.payment_failed":
		reason := "payment failed"
		if intent.LastPaymentError != nil && intent.LastPaymentError.Message != "" {
			reason = intent.LastPaymentError.Message
		}
		return &PaymentEvent{Kind: EventFailed, Processor: models.ProcessorStripe, Reference: intent.ID, Type: evt.Type, Reason: reason}, nil
	case "payment_intent.canceled":
		return &PaymentEvent{Kind: EventCanceled, Processor: models.ProcessorStripe, Reference: intent.ID, Type: evt.Type, Reason: intent.CancellationReason}, nil
	}
	return &PaymentEvent{Kind: EventIgnored, Processor: models.ProcessorStripe, Reference: intent.ID, Type: evt.Type}, nil
}

// verifySignature checks a "t=<unix>,v1=<hex>" header against
// HMAC-SHA256(secret, "<t>.<body>").
func (g *StripeGateway) verifySignature(header string, body []byte) error {
	if g.webhookSecret == "" {
		return errInvalidSignature("stripe webhook secret is not configured")
	}

	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return errInvalidSignature("missing stripe signature")
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return errInvalidSignature("malformed stripe signature timestamp")
	}
	if age := g.now().Sub(time.Unix(ts, 0)); age > webhookTolerance || age < -webhookTolerance {
		return errInvalidSignature("stripe signature timestamp outside tolerance")
	}

	expected := hex.EncodeToString(signPayload(g.webhookSecret, []byte(timestamp+"."), body))
	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}
	return errInvalidSignature("stripe signature mismatch")
}

// CashfreeGateway talks to the Cashfree PG orders API.
type CashfreeGateway struct {
	appID      string
	secretKey  string
	apiVersion string
	baseURL    string
	client     *http.Client
	now        func() time.Time
}

func NewCashfreeGateway(appID, secretKey, apiVersion, baseURL string) *CashfreeGateway {
	return &CashfreeGateway{
		appID:      appID,
		secretKey:  secretKey,
		apiVersion: apiVersion,
		baseURL:    strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		now: time.Now,
	}
}

func (g *CashfreeGateway) Processor() models.Processor { return models.ProcessorCashfree }

type cashfreeCustomer struct {
	CustomerID    string `json:"customer_id"`
	CustomerEmail string `json:"customer_email,omitempty"`
	CustomerPhone string `json:"customer_phone,omitempty"`
}

type cashfreeOrderRequest struct {
	OrderID         string            `json:"order_id"`
	OrderAmount     json.Number       `json:"order_amount"`
	OrderCurrency   string            `json:"order_currency"`
	CustomerDetails cashfreeCustomer  `json:"customer_details"`
	OrderTags       map[string]string `json:"order_tags,omitempty"`
}

type cashfreeOrder struct {
	OrderID          string `json:"order_id"`
	OrderStatus      string `json:"order_status"`
	PaymentSessionID string `json:"payment_session_id"`
}

// CashfreeOrderID derives the merchant order id from our payment id.
func CashfreeOrderID(paymentID string) string {
	return "order_" + strings.ReplaceAll(paymentID, "-", "")
}

func (g *CashfreeGateway) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	order := cashfreeOrderRequest{
		OrderID:       CashfreeOrderID(req.PaymentID),
		OrderAmount:   json.Number(decimal.New(req.Amount, -2).StringFixed(2)),
		OrderCurrency: strings.ToUpper(req.Currency),
		CustomerDetails: cashfreeCustomer{
			CustomerID:    strings.ReplaceAll(req.UserID, "-", ""),
			CustomerEmail: req.Email,
			CustomerPhone: req.Phone,
		},
		OrderTags: map[string]string{
			"payment_id": req.PaymentID,
			"package_id": req.PackageID,
			"credits":    strconv.Itoa(req.Credits),
		},
	}

	payload, err := json.Marshal(order)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var created cashfreeOrder
	if err := g.do(ctx, http.MethodPost, "/pg/orders", bytes.NewReader(payload), &created); err != nil {
		return nil, err
	}

	slog.Info("Created Cashfree order", "order_id", created.OrderID, "user_id", req.UserID, "amount", order.OrderAmount)
	return &Intent{Reference: created.OrderID, PaymentSessionID: created.PaymentSessionID}, nil
}

func (g *CashfreeGateway) FetchStatus(ctx context.Context, reference string) (*PaymentEvent, error) {
	var order cashfreeOrder
	if err := g.do(ctx, http.MethodGet, "/pg/orders/"+url.PathEscape(reference), nil, &order); err != nil {
		return nil, err
	}

	event := &PaymentEvent{
		Processor: models.ProcessorCashfree,
		Reference: reference,
		Type:      "order." + strings.ToLower(order.OrderStatus),
		Kind:      EventPending,
	}
	switch order.OrderStatus {
	case "PAID":
		event.Kind = EventSucceeded
	case "EXPIRED", "TERMINATED":
		event.Kind = EventCanceled
		event.Reason = "order " + strings.ToLower(order.OrderStatus)
	}
	return event, nil
}

func (g *CashfreeGateway) do(ctx context.Context, method, path string, body io.Reader, dest interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-client-id", g.appID)
	req.Header.Set("x-client-secret", g.secretKey)
	req.Header.Set("x-api-version", g.apiVersion)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return processorError(models.ProcessorCashfree, resp.StatusCode, raw)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("failed to decode cashfree response: %w", err)
	}
	return nil
}

type cashfreeWebhook struct {
	Type string `json:"type"`
	Data struct {
		Order struct {
			OrderID string `json:"order_id"`
		} `json:"order"`
		Payment struct {
			PaymentStatus  string `json:"payment_status"`
			PaymentMessage string `json:"payment_message"`
		} `json:"payment"`
	} `json:"data"`
}

func (g *CashfreeGateway) ParseWebhook(header http.Header, body []byte) (*PaymentEvent, error) {
	if err := g.verifySignature(header.Get("x-webhook-timestamp"), header.Get("x-webhook-signature"), body); err != nil {
		return nil, err
	}

	var evt cashfreeWebhook
	if err := json.Unmarshal(body, &evt); err != nil {
		return nil, errValidation("malformed cashfree event")
	}

	event := &PaymentEvent{
		Processor: models.ProcessorCashfree,
		Reference: evt.Data.Order.OrderID,
		Type:      evt.Type,
		Kind:      EventIgnored,
	}
	switch evt.Type {
	case "PAYMENT_SUCCESS_WEBHOOK":
		event.Kind = EventSucceeded
	case "PAYMENT_FAILED_WEBHOOK":
		event.Kind = EventFailed
		event.Reason = evt.Data.Payment.PaymentMessage
	case "PAYMENT_USER_DROPPED_WEBHOOK":
		event.Kind = EventCanceled
		event.Reason = "user dropped"
	}
	return event, nil
}

// verifySignature checks base64(HMAC-SHA256(secret, timestamp + body)).
// The timestamp header is in milliseconds.
func (g *CashfreeGateway) verifySignature(timestamp, signature string, body []byte) error {
	if g.secretKey == "" {
		return errInvalidSignature("cashfree secret is not configured")
	}
	if timestamp == "" || signature == "" {
		return errInvalidSignature("missing cashfree signature")
	}

	ms, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return errInvalidSignature("malformed cashfree signature timestamp")
	}
	if age := g.now().Sub(time.UnixMilli(ms)); age > webhookTolerance || age < -webhookTolerance {
		return errInvalidSignature("cashfree signature timestamp outside tolerance")
	}

	expected := base64.StdEncoding.EncodeToString(signPayload(g.secretKey, []byte(timestamp), body))
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return errInvalidSignature("cashfree signature mismatch")
	}
	return nil
}

func signPayload(secret string, prefix, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(prefix)
	mac.Write(body)
	return mac.Sum(nil)
}
