package services

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/krshsl/interview-engine/models"
	"github.com/krshsl/interview-engine/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stripeSignature(secret string, ts time.Time, body []byte) string {
	t := strconv.FormatInt(ts.Unix(), 10)
	return fmt.Sprintf("t=%s,v1=%s", t, hex.EncodeToString(signPayload(secret, []byte(t+"."), body)))
}

func cashfreeHeaders(secret string, ts time.Time, body []byte) http.Header {
	t := strconv.FormatInt(ts.UnixMilli(), 10)
	h := http.Header{}
	h.Set("x-webhook-timestamp", t)
	h.Set("x-webhook-signature", base64.StdEncoding.EncodeToString(signPayload(secret, []byte(t), body)))
	return h
}

func TestStripeGateway_CreateIntent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/payment_intents", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "49900", r.PostForm.Get("amount"))
		assert.Equal(t, "inr", r.PostForm.Get("currency"))
		assert.Equal(t, "pay-1", r.PostForm.Get("metadata[payment_id]"))
		assert.Equal(t, "10", r.PostForm.Get("metadata[credits]"))
		_, _ = io.WriteString(w, `{"id":"pi_123","client_secret":"pi_123_secret","status":"requires_payment_method"}`)
	}))
	defer srv.Close()

	g := NewStripeGateway("sk_test", "whsec", srv.URL+"/")
	intent, err := g.CreateIntent(context.Background(), IntentRequest{
		PaymentID: "pay-1", UserID: "user-1", PackageID: "starter", Credits: 10, Amount: 49900, Currency: "INR",
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_123", intent.Reference)
	assert.Equal(t, "pi_123_secret", intent.ClientSecret)
}

func TestStripeGateway_FetchStatus(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		kind   EventKind
		reason string
	}{
		{"succeeded", `{"id":"pi_1","status":"succeeded"}`, EventSucceeded, ""},
		{"canceled", `{"id":"pi_1","status":"canceled","cancellation_reason":"abandoned"}`, EventCanceled, "abandoned"},
		{"declined", `{"id":"pi_1","status":"requires_payment_method","last_payment_error":{"message":"card declined"}}`, EventFailed, "card declined"},
		{"awaiting method", `{"id":"pi_1","status":"requires_payment_method"}`, EventPending, ""},
		{"processing", `{"id":"pi_1","status":"processing"}`, EventPending, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v1/payment_intents/pi_1", r.URL.Path)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			event, err := NewStripeGateway("sk", "whsec", srv.URL).FetchStatus(context.Background(), "pi_1")
			require.NoError(t, err)
			assert.Equal(t, tt.kind, event.Kind)
			assert.Equal(t, tt.reason, event.Reason)
			assert.Equal(t, "pi_1", event.Reference)
		})
	}
}

func TestStripeGateway_ProcessorError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"bad key"}}`)
	}))
	defer srv.Close()

	_, err := NewStripeGateway("sk", "whsec", srv.URL).FetchStatus(context.Background(), "pi_1")
	appErr := requireCode(t, err, CodeProcessorError)
	assert.Equal(t, http.StatusBadGateway, appErr.Status)
}

func TestStripeGateway_ParseWebhook(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g := NewStripeGateway("sk", "whsec_test", "https://api.stripe.com")
	g.now = func() time.Time { return now }

	succeeded := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_9","status":"succeeded"}}}`)
	failed := []byte(`{"id":"evt_2","type":"payment_intent.payment_failed","data":{"object":{"id":"pi_9","last_payment_error":{"message":"insufficient funds"}}}}`)
	other := []byte(`{"id":"evt_3","type":"charge.refunded","data":{"object":{"id":"ch_1"}}}`)

	t.Run("succeeded", func(t *testing.T) {
		h := http.Header{}
		h.Set("Stripe-Signature", stripeSignature("whsec_test", now, succeeded))
		event, err := g.ParseWebhook(h, succeeded)
		require.NoError(t, err)
		assert.Equal(t, EventSucceeded, event.Kind)
		assert.Equal(t, "pi_9", event.Reference)
	})

	t.Run("failed", func(t *testing.T) {
		h := http.Header{}
		h.Set("Stripe-Signature", stripeSignature("whsec_test", now, failed))
		event, err := g.ParseWebhook(h, failed)
		require.NoError(t, err)
		assert.Equal(t, EventFailed, event.Kind)
		assert.Equal(t, "insufficient funds", event.Reason)
	})

	t.Run("ignored type", func(t *testing.T) {
		h := http.Header{}
		h.Set("Stripe-Signature", stripeSignature("whsec_test", now, other))
		event, err := g.ParseWebhook(h, other)
		require.NoError(t, err)
		assert.Equal(t, EventIgnored, event.Kind)
	})

	rejected := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong secret", stripeSignature("whsec_other", now, succeeded)},
		{"stale timestamp", stripeSignature("whsec_test", now.Add(-10*time.Minute), succeeded)},
		{"future timestamp", stripeSignature("whsec_test", now.Add(10*time.Minute), succeeded)},
		{"garbage", "t=abc,v1=def"},
	}
	for _, tt := range rejected {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			h.Set("Stripe-Signature", tt.header)
			_, err := g.ParseWebhook(h, succeeded)
			requireCode(t, err, CodeInvalidSignature)
		})
	}

	t.Run("tampered body", func(t *testing.T) {
		h := http.Header{}
		h.Set("Stripe-Signature", stripeSignature("whsec_test", now, succeeded))
		_, err := g.ParseWebhook(h, failed)
		requireCode(t, err, CodeInvalidSignature)
	})

	t.Run("no secret configured", func(t *testing.T) {
		unset := NewStripeGateway("sk", "", "https://api.stripe.com")
		h := http.Header{}
		h.Set("Stripe-Signature", stripeSignature("", time.Now(), succeeded))
		_, err := unset.ParseWebhook(h, succeeded)
		requireCode(t, err, CodeInvalidSignature)
	})
}

func TestCashfreeGateway_CreateIntent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pg/orders", r.URL.Path)
		assert.Equal(t, "app-id", r.Header.Get("x-client-id"))
		assert.Equal(t, "cf-secret", r.Header.Get("x-client-secret"))
		assert.Equal(t, "2023-08-01", r.Header.Get("x-api-version"))

		var payload map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "order_0f8fad5bd9cb469fa16570867728950e", payload["order_id"])
		assert.Equal(t, 499.0, payload["order_amount"])
		assert.Equal(t, "INR", payload["order_currency"])

		_, _ = io.WriteString(w, `{"order_id":"order_0f8fad5bd9cb469fa16570867728950e","order_status":"ACTIVE","payment_session_id":"session_abc"}`)
	}))
	defer srv.Close()

	g := NewCashfreeGateway("app-id", "cf-secret", "2023-08-01", srv.URL)
	intent, err := g.CreateIntent(context.Background(), IntentRequest{
		PaymentID: "0f8fad5b-d9cb-469f-a165-70867728950e",
		UserID:    "user-1",
		Phone:     "9999999999",
		PackageID: "starter",
		Credits:   10,
		Amount:    49900,
		Currency:  "inr",
	})
	require.NoError(t, err)
	assert.Equal(t, "order_0f8fad5bd9cb469fa16570867728950e", intent.Reference)
	assert.Equal(t, "session_abc", intent.PaymentSessionID)
}

func TestCashfreeGateway_FetchStatus(t *testing.T) {
	tests := map[string]EventKind{
		"PAID":       EventSucceeded,
		"ACTIVE":     EventPending,
		"EXPIRED":    EventCanceled,
		"TERMINATED": EventCanceled,
	}
	for status, kind := range tests {
		t.Run(status, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/pg/orders/order_1", r.URL.Path)
				_, _ = fmt.Fprintf(w, `{"order_id":"order_1","order_status":%q}`, status)
			}))
			defer srv.Close()

			event, err := NewCashfreeGateway("a", "s", "2023-08-01", srv.URL).FetchStatus(context.Background(), "order_1")
			require.NoError(t, err)
			assert.Equal(t, kind, event.Kind)
			assert.Equal(t, models.ProcessorCashfree, event.Processor)
		})
	}
}

func TestCashfreeGateway_ParseWebhook(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g := NewCashfreeGateway("app", "cf-secret", "2023-08-01", "https://sandbox.cashfree.com")
	g.now = func() time.Time { return now }

	body := []byte(`{"type":"PAYMENT_SUCCESS_WEBHOOK","data":{"order":{"order_id":"order_42"},"payment":{"payment_status":"SUCCESS"}}}`)
	event, err := g.ParseWebhook(cashfreeHeaders("cf-secret", now, body), body)
	require.NoError(t, err)
	assert.Equal(t, EventSucceeded, event.Kind)
	assert.Equal(t, "order_42", event.Reference)

	dropped := []byte(`{"type":"PAYMENT_USER_DROPPED_WEBHOOK","data":{"order":{"order_id":"order_42"}}}`)
	event, err = g.ParseWebhook(cashfreeHeaders("cf-secret", now, dropped), dropped)
	require.NoError(t, err)
	assert.Equal(t, EventCanceled, event.Kind)

	_, err = g.ParseWebhook(cashfreeHeaders("wrong", now, body), body)
	requireCode(t, err, CodeInvalidSignature)

	_, err = g.ParseWebhook(cashfreeHeaders("cf-secret", now.Add(-time.Hour), body), body)
	requireCode(t, err, CodeInvalidSignature)

	_, err = g.ParseWebhook(http.Header{}, body)
	requireCode(t, err, CodeInvalidSignature)
}

func TestHandleWebhook_SignedStripeDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := testutil.CreateUser(t, f.db, 5).ID
	createPendingPayment(t, f, user, models.ProcessorStripe, "pi_live", 100)

	now := time.Now()
	g := NewStripeGateway("sk", "whsec_live", "https://api.stripe.com")
	r := newReconciler(f, g)

	body := []byte(`{"id":"evt_9","type":"payment_intent.succeeded","data":{"object":{"id":"pi_live","status":"succeeded"}}}`)
	h := http.Header{}
	h.Set("Stripe-Signature", stripeSignature("whsec_live", now, body))

	for i := 0; i < 2; i++ {
		result, err := r.HandleWebhook(ctx, models.ProcessorStripe, h, body)
		require.NoError(t, err)
		assert.Equal(t, i > 0, result.AlreadyProcessed)
	}
	balance, err := f.ledger.Balance(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 105, balance)
}
