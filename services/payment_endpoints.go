package services

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/krshsl/interview-engine/models"
)

// maxWebhookBody caps webhook payloads read before signature verification.
const maxWebhookBody = 1 << 20

type PaymentEndpoints struct {
	reconciler *PaymentReconciler
	ledger     *CreditLedger
}

func NewPaymentEndpoints(reconciler *PaymentReconciler, ledger *CreditLedger) *PaymentEndpoints {
	return &PaymentEndpoints{
		reconciler: reconciler,
		ledger:     ledger,
	}
}

type CreateIntentRequest struct {
	PackageID string           `json:"package_id"`
	Processor models.Processor `json:"processor"`
	Phone     string           `json:"phone"`
}

type ConfirmPaymentRequest struct {
	Processor       models.Processor `json:"processor"`
	PaymentIntentID string           `json:"payment_intent_id"`
	OrderID         string           `json:"order_id"`
}

func (req ConfirmPaymentRequest) reference() string {
	if req.Processor == models.ProcessorCashfree {
		return req.OrderID
	}
	return req.PaymentIntentID
}

// RegisterRoutes mounts the authenticated credit and payment routes.
func (e *PaymentEndpoints) RegisterRoutes(r chi.Router) {
	r.Get("/credits", e.GetCreditsHandler)
	r.Get("/credits/transactions", e.GetTransactionsHandler)
	r.Route("/payments", func(r chi.Router) {
		r.Get("/packages", e.GetPackagesHandler)
		r.Post("/create-intent", e.CreateIntentHandler)
		r.Post("/process-payment-success", e.ConfirmPaymentHandler)
	})
}

// RegisterWebhookRoutes mounts processor callbacks, which are authenticated
// by signature instead of a user.
func (e *PaymentEndpoints) RegisterWebhookRoutes(r chi.Router) {
	r.Post("/payments/webhook", e.webhookHandler(models.ProcessorStripe))
	r.Post("/payments/webhook/{processor}", e.WebhookHandler)
}

func (e *PaymentEndpoints) GetCreditsHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	balance, err := e.ledger.Balance(r.Context(), user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"credits":     balance,
		"sessionCost": SessionCost,
	})
}

func (e *PaymentEndpoints) GetTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	limit := 50
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 500 {
		limit = v
	}

	txns, err := e.ledger.History(r.Context(), user.ID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": txns,
		"count":        len(txns),
	})
}

func (e *PaymentEndpoints) GetPackagesHandler(w http.ResponseWriter, r *http.Request) {
	packages, err := e.reconciler.Packages(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"packages": packages})
}

func (e *PaymentEndpoints) CreateIntentHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req CreateIntentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.PackageID == "" {
		writeError(w, r, errValidation("package_id is required"))
		return
	}
	if req.Processor == "" {
		req.Processor = models.ProcessorStripe
	}

	payment, intent, err := e.reconciler.CreateIntent(r.Context(), user, req.PackageID, req.Processor, req.Phone)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"payment_id":         payment.ID,
		"processor":          payment.Processor,
		"reference":          intent.Reference,
		"client_secret":      intent.ClientSecret,
		"payment_session_id": intent.PaymentSessionID,
		"amount":             payment.Amount,
		"currency":           payment.Currency,
		"credits":            payment.Credits,
	})
}

func (e *PaymentEndpoints) ConfirmPaymentHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req ConfirmPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Processor == "" {
		req.Processor = models.ProcessorStripe
	}
	if req.reference() == "" {
		writeError(w, r, errValidation("payment_intent_id or order_id is required"))
		return
	}

	result, err := e.reconciler.ConfirmForUser(r.Context(), user.ID, req.Processor, req.reference())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeReconcileResult(w, result)
}

func (e *PaymentEndpoints) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	e.webhookHandler(models.Processor(chi.URLParam(r, "processor")))(w, r)
}

func (e *PaymentEndpoints) webhookHandler(processor models.Processor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			writeError(w, r, errValidation("failed to read body"))
			return
		}

		result, err := e.reconciler.HandleWebhook(r.Context(), processor, r.Header, body)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if result == nil {
			writeJSON(w, http.StatusOK, map[string]interface{}{"received": true})
			return
		}
		writeReconcileResult(w, result)
	}
}

func writeReconcileResult(w http.ResponseWriter, result *ReconcileResult) {
	status := "processed"
	code := http.StatusOK
	switch {
	case result.AlreadyProcessed:
		status = "already_processed"
	case result.Pending:
		status = "pending"
		code = http.StatusAccepted
	case result.Payment != nil && result.Payment.Status != models.PaymentCompleted:
		status = string(result.Payment.Status)
	}

	writeJSON(w, code, map[string]interface{}{
		"status":       status,
		"payment":      result.Payment,
		"creditsAdded": result.CreditsAdded,
		"newBalance":   result.NewBalance,
	})
}
