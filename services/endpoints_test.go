package services

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/krshsl/interview-engine/models"
	"github.com/krshsl/interview-engine/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiHarness struct {
	*fixture
	router  http.Handler
	user    *models.User
	limiter *IPRateLimiter
}

func newAPIHarness(t *testing.T, credits int, gateways ...Gateway) *apiHarness {
	t.Helper()
	f := newFixture(t)
	user := testutil.CreateUser(t, f.db, credits)
	limiter := NewIPRateLimiter(0.5, 3)

	sessions := NewSessionEndpoints(f.sessions, f.pairing, limiter)
	payments := NewPaymentEndpoints(newReconciler(f, gateways...), f.ledger)

	r := chi.NewRouter()
	sessions.RegisterPublicRoutes(r)
	payments.RegisterWebhookRoutes(r)
	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				next.ServeHTTP(w, req.WithContext(WithUser(req.Context(), user)))
			})
		})
		sessions.RegisterRoutes(r)
		payments.RegisterRoutes(r)
	})

	return &apiHarness{fixture: f, router: r, user: user, limiter: limiter}
}

func (h *apiHarness) do(t *testing.T, method, path string, body interface{}, header http.Header) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "203.0.113.7:5555"
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	var out map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func errorBody(t *testing.T, out map[string]interface{}) map[string]interface{} {
	t.Helper()
	e, ok := out["error"].(map[string]interface{})
	require.Truef(t, ok, "expected error envelope, got %v", out)
	return e
}

func TestSessionAPI_CreateAndActivate(t *testing.T) {
	h := newAPIHarness(t, 2)

	rec, out := h.do(t, http.MethodPost, "/sessions", map[string]interface{}{
		"job_title": "SRE", "duration_minutes": 45, "params": map[string]interface{}{"focus": "oncall"},
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	session := out["session"].(map[string]interface{})
	id := session["id"].(string)
	assert.Equal(t, "created", session["status"])

	rec, out = h.do(t, http.MethodPost, "/sessions/"+id+"/activate", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "active", out["status"])
	assert.EqualValues(t, 1, out["creditsDeducted"])
	assert.EqualValues(t, 1, out["remainingCredits"])

	rec, out = h.do(t, http.MethodPost, "/sessions/"+id+"/start", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	e := errorBody(t, out)
	assert.Equal(t, CodeInvalidStatus, e["code"])
	assert.Equal(t, "active", e["details"].(map[string]interface{})["currentStatus"])
}

func TestSessionAPI_Validation(t *testing.T) {
	h := newAPIHarness(t, 1)

	rec, out := h.do(t, http.MethodPost, "/sessions", map[string]interface{}{"job_title": "  "}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeValidation, errorBody(t, out)["code"])

	req := httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewBufferString("{not json"))
	raw := httptest.NewRecorder()
	h.router.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)

	rec, out = h.do(t, http.MethodGet, "/sessions/00000000-0000-0000-0000-000000000000", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeSessionNotFound, errorBody(t, out)["code"])

	session := h.newSession(t, h.user.ID)
	rec, out = h.do(t, http.MethodPut, "/sessions/"+session.ID, map[string]interface{}{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeValidation, errorBody(t, out)["code"])
}

func TestSessionAPI_InsufficientCredits(t *testing.T) {
	h := newAPIHarness(t, 0)
	session := h.newSession(t, h.user.ID)

	rec, out := h.do(t, http.MethodPost, "/sessions/"+session.ID+"/start", nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	e := errorBody(t, out)
	assert.Equal(t, CodeInsufficientCredits, e["code"])
	details := e["details"].(map[string]interface{})
	assert.EqualValues(t, 0, details["remainingCredits"])
	assert.EqualValues(t, 1, details["requiredCredits"])
	assert.Equal(t, models.SessionCreated, h.reload(t, session.ID).Status)
}

func TestSessionAPI_StopAndDelete(t *testing.T) {
	h := newAPIHarness(t, 1)
	session := h.newSession(t, h.user.ID)

	rec, out := h.do(t, http.MethodPost, "/sessions/"+session.ID+"/stop?force=true", map[string]interface{}{"reason": "changed my mind"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "cancelled", out["session"].(map[string]interface{})["status"])

	rec, _ = h.do(t, http.MethodDelete, "/sessions/"+session.ID, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, out = h.do(t, http.MethodDelete, "/sessions/"+session.ID+"?force=true", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, session.ID, out["session_id"])

	rec, _ = h.do(t, http.MethodGet, "/sessions/"+session.ID, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionAPI_DesktopPairing(t *testing.T) {
	h := newAPIHarness(t, 1)
	session := h.newSession(t, h.user.ID)

	rec, out := h.do(t, http.MethodPost, "/sessions/"+session.ID+"/generate-desktop-token", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	token := out["temp_token"].(string)
	assert.Len(t, token, 64)
	assert.EqualValues(t, 600, out["expires_in"])
	_, err := time.Parse(time.RFC3339, out["expires_at"].(string))
	require.NoError(t, err)

	header := http.Header{}
	header.Set("X-Temp-Token", token)
	rec, out = h.do(t, http.MethodPost, "/sessions/"+session.ID+"/connect-with-temp-token",
		map[string]interface{}{"desktop_info": map[string]interface{}{"os": "darwin"}}, header)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "active", out["status"])
	assert.EqualValues(t, 0, out["remainingCredits"])
	assert.Equal(t, true, out["session"].(map[string]interface{})["desktop_connected"])

	rec, out = h.do(t, http.MethodPost, "/sessions/"+session.ID+"/connect-with-temp-token",
		map[string]interface{}{"temp_token": token}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, CodeInvalidTempToken, errorBody(t, out)["code"])
}

func TestSessionAPI_PairingRateLimited(t *testing.T) {
	h := newAPIHarness(t, 0)
	path := "/sessions/" + h.newSession(t, h.user.ID).ID + "/connect-with-temp-token"

	for i := 0; i < 3; i++ {
		rec, _ := h.do(t, http.MethodPost, path, map[string]interface{}{"temp_token": "guess"}, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec, out := h.do(t, http.MethodPost, path, map[string]interface{}{"temp_token": "guess"}, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, CodeRateLimited, errorBody(t, out)["code"])
}

func TestSessionAPI_Messages(t *testing.T) {
	h := newAPIHarness(t, 1)
	session := h.newSession(t, h.user.ID)

	rec, _ := h.do(t, http.MethodPost, "/sessions/"+session.ID+"/messages", map[string]interface{}{"role": "user", "content": "hi"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	_, _, err := h.sessions.Activate(context.Background(), session.ID, h.user.ID)
	require.NoError(t, err)

	rec, _ = h.do(t, http.MethodPost, "/sessions/"+session.ID+"/messages", map[string]interface{}{"role": "user", "content": "hi"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec, out := h.do(t, http.MethodGet, "/sessions/"+session.ID+"/messages", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, out["count"])
}

func TestPaymentAPI_Credits(t *testing.T) {
	h := newAPIHarness(t, 4)

	rec, out := h.do(t, http.MethodGet, "/credits", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 4, out["credits"])
	assert.EqualValues(t, SessionCost, out["sessionCost"])

	rec, out = h.do(t, http.MethodGet, "/credits/transactions?limit=10", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, out["count"])
}

func TestPaymentAPI_IntentAndConfirm(t *testing.T) {
	gw := &fakeGateway{
		processor: models.ProcessorStripe,
		reference: "pi_api",
		status:    &PaymentEvent{Kind: EventSucceeded, Processor: models.ProcessorStripe},
	}
	h := newAPIHarness(t, 5, gw)
	seedPackage(t, h.fixture, "pro", 100)

	rec, out := h.do(t, http.MethodGet, "/payments/packages", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, out["packages"], 1)

	rec, out = h.do(t, http.MethodPost, "/payments/create-intent", map[string]interface{}{"package_id": "pro"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "pi_api", out["reference"])
	assert.EqualValues(t, 100, out["credits"])

	rec, out = h.do(t, http.MethodPost, "/payments/create-intent", map[string]interface{}{"package_id": "pro", "processor": "cashfree"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, out = h.do(t, http.MethodPost, "/payments/process-payment-success", map[string]interface{}{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeValidation, errorBody(t, out)["code"])

	body := map[string]interface{}{"payment_intent_id": "pi_api"}
	rec, out = h.do(t, http.MethodPost, "/payments/process-payment-success", body, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "processed", out["status"])
	assert.EqualValues(t, 105, out["newBalance"])

	rec, out = h.do(t, http.MethodPost, "/payments/process-payment-success", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "already_processed", out["status"])
	assert.Equal(t, 105, testutil.Credits(t, h.db, h.user.ID))
}

func TestPaymentAPI_ConfirmPending(t *testing.T) {
	gw := &fakeGateway{
		processor: models.ProcessorCashfree,
		status:    &PaymentEvent{Kind: EventPending, Processor: models.ProcessorCashfree},
	}
	h := newAPIHarness(t, 0, gw)
	createPendingPayment(t, h.fixture, h.user.ID, models.ProcessorCashfree, "order_p", 10)

	rec, out := h.do(t, http.MethodPost, "/payments/process-payment-success",
		map[string]interface{}{"processor": "cashfree", "order_id": "order_p"}, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, "pending", out["status"])
}

func TestPaymentAPI_Webhooks(t *testing.T) {
	now := time.Now()
	stripe := NewStripeGateway("sk", "whsec_api", "https://api.stripe.com")
	h := newAPIHarness(t, 5, stripe)
	createPendingPayment(t, h.fixture, h.user.ID, models.ProcessorStripe, "pi_hook", 100)

	payload := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_hook"}}}`)
	send := func(path, signature string) (*httptest.ResponseRecorder, map[string]interface{}) {
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
		req.Header.Set("Stripe-Signature", signature)
		rec := httptest.NewRecorder()
		h.router.ServeHTTP(rec, req)
		var out map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		return rec, out
	}

	rec, out := send("/payments/webhook", stripeSignature("whsec_wrong", now, payload))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, CodeInvalidSignature, errorBody(t, out)["code"])
	assert.Equal(t, 5, testutil.Credits(t, h.db, h.user.ID))

	rec, out = send("/payments/webhook", stripeSignature("whsec_api", now, payload))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "processed", out["status"])

	rec, out = send("/payments/webhook/stripe", stripeSignature("whsec_api", now, payload))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "already_processed", out["status"])

	rec, _ = send("/payments/webhook/paypal", stripeSignature("whsec_api", now, payload))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, 105, testutil.Credits(t, h.db, h.user.ID))
	assert.EqualValues(t, 1, testutil.CountTransactions(t, h.db, h.user.ID, models.TransactionPurchase))
}

func TestWriteError_Mapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"app error", errSessionNotFound(), http.StatusNotFound, CodeSessionNotFound},
		{"deadline", context.DeadlineExceeded, http.StatusServiceUnavailable, CodeUnavailable},
		{"canceled", context.Canceled, http.StatusServiceUnavailable, CodeUnavailable},
		{"unknown", assert.AnError, http.StatusInternalServerError, CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeError(rec, httptest.NewRequest(http.MethodGet, "/x", nil), tt.err)
			assert.Equal(t, tt.status, rec.Code)

			var out map[string]map[string]interface{}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
			assert.Equal(t, tt.code, out["error"]["code"])
			assert.NotContains(t, rec.Body.String(), assert.AnError.Error())
		})
	}
}
