package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/krshsl/interview-engine/models"
	"github.com/krshsl/interview-engine/repository"
	ws "github.com/krshsl/interview-engine/websocket"
)

var errAlreadyCompleted = errors.New("payment already completed")

// ReconcileResult reports the outcome of applying a processor event.
// AlreadyProcessed is a success: the payment was completed earlier.
type ReconcileResult struct {
	Payment          *models.Payment `json:"payment"`
	AlreadyProcessed bool            `json:"alreadyProcessed"`
	Pending          bool            `json:"pending,omitempty"`
	CreditsAdded     int             `json:"creditsAdded"`
	NewBalance       int             `json:"newBalance,omitempty"`
}

// PaymentReconciler turns processor notifications and client confirmations
// into ledger credits, at most once per payment.
type PaymentReconciler struct {
	repo     *repository.GORMRepository
	ledger   *CreditLedger
	gateways map[models.Processor]Gateway
	notifier EventNotifier
	now      func() time.Time
}

func NewPaymentReconciler(repo *repository.GORMRepository, ledger *CreditLedger, notifier EventNotifier, gateways ...Gateway) *PaymentReconciler {
	r := &PaymentReconciler{
		repo:     repo,
		ledger:   ledger,
		gateways: make(map[models.Processor]Gateway),
		notifier: notifier,
		now:      time.Now,
	}
	for _, g := range gateways {
		r.gateways[g.Processor()] = g
	}
	return r
}

func (r *PaymentReconciler) gateway(processor models.Processor) (Gateway, error) {
	if !processor.Valid() {
		return nil, errValidation("unknown payment processor %q", processor)
	}
	g, ok := r.gateways[processor]
	if !ok {
		return nil, newAppError(CodeValidation, http.StatusBadRequest, fmt.Sprintf("payment processor %s is not configured", processor))
	}
	return g, nil
}

func (r *PaymentReconciler) Packages(ctx context.Context) ([]models.CreditPackage, error) {
	return r.repo.ListActivePackages(ctx)
}

// CreateIntent opens a checkout with the processor and records it as pending.
func (r *PaymentReconciler) CreateIntent(ctx context.Context, user *models.User, packageID string, processor models.Processor, phone string) (*models.Payment, *Intent, error) {
	g, err := r.gateway(processor)
	if err != nil {
		return nil, nil, err
	}
	pkg, err := r.repo.GetActivePackage(ctx, packageID)
	if err != nil {
		return nil, nil, err
	}
	if pkg == nil {
		return nil, nil, errPackageNotFound()
	}

	payment := &models.Payment{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		Processor: processor,
		PackageID: pkg.ID,
		Credits:   pkg.Credits,
		Amount:    pkg.Amount,
		Currency:  pkg.Currency,
		Status:    models.PaymentPending,
	}

	intent, err := g.CreateIntent(ctx, IntentRequest{
		PaymentID: payment.ID,
		UserID:    user.ID,
		Email:     user.Email,
		Phone:     phone,
		PackageID: pkg.ID,
		Credits:   pkg.Credits,
		Amount:    pkg.Amount,
		Currency:  pkg.Currency,
	})
	if err != nil {
		return nil, nil, err
	}

	reference := intent.Reference
	switch processor {
	case models.ProcessorStripe:
		payment.StripePaymentIntentID = &reference
	case models.ProcessorCashfree:
		payment.CashfreeOrderID = &reference
	}
	if err := r.repo.CreatePayment(ctx, payment); err != nil {
		return nil, nil, err
	}
	return payment, intent, nil
}

// ApplySuccess completes the payment and credits its package exactly once,
// however many times the same success is delivered.
func (r *PaymentReconciler) ApplySuccess(ctx context.Context, processor models.Processor, reference string) (*ReconcileResult, error) {
	payment, err := r.lookup(ctx, processor, reference)
	if err != nil {
		return nil, err
	}
	if payment.Status == models.PaymentCompleted {
		slog.Info("Payment already processed", "payment_id", payment.ID, "processor", processor, "reference", reference)
		return &ReconcileResult{Payment: payment, AlreadyProcessed: true}, nil
	}

	now := r.now().UTC()
	result := &ReconcileResult{Payment: payment}
	err = r.repo.Transaction(ctx, func(tx *repository.GORMRepository) error {
		completed, err := tx.CompletePayment(ctx, payment.ID, now)
		if err != nil {
			return err
		}
		if !completed {
			return errAlreadyCompleted
		}

		credited, balance, err := r.ledger.creditTx(ctx, tx, payment.UserID, payment.Credits, nil,
			models.TransactionPurchase, fmt.Sprintf("Purchased %s package", payment.PackageID), reference)
		if err != nil {
			return err
		}
		if !credited {
			return fmt.Errorf("payment %s belongs to missing user %s", payment.ID, payment.UserID)
		}
		result.CreditsAdded = payment.Credits
		result.NewBalance = balance
		return nil
	})

	if errors.Is(err, errAlreadyCompleted) {
		slog.Info("Payment completed concurrently", "payment_id", payment.ID, "processor", processor)
		return r.alreadyProcessed(ctx, processor, reference)
	}
	if err != nil {
		slog.Error("Failed to apply payment", "error", err, "payment_id", payment.ID, "processor", processor)
		return nil, err
	}

	payment.Status = models.PaymentCompleted
	payment.CompletedAt = &now
	slog.Info("Payment completed", "payment_id", payment.ID, "user_id", payment.UserID, "credits", payment.Credits, "balance", result.NewBalance)
	r.notifyCredits(payment.UserID, result.NewBalance, payment.Credits)
	return result, nil
}

func (r *PaymentReconciler) alreadyProcessed(ctx context.Context, processor models.Processor, reference string) (*ReconcileResult, error) {
	payment, err := r.lookup(ctx, processor, reference)
	if err != nil {
		return nil, err
	}
	return &ReconcileResult{Payment: payment, AlreadyProcessed: true}, nil
}

// ApplyFailure marks a pending payment failed or canceled. Completed
// payments are left untouched.
func (r *PaymentReconciler) ApplyFailure(ctx context.Context, processor models.Processor, reference string, status models.PaymentStatus, reason string) (*ReconcileResult, error) {
	if status != models.PaymentFailed && status != models.PaymentCanceled {
		return nil, errValidation("failure status must be failed or canceled")
	}
	payment, err := r.lookup(ctx, processor, reference)
	if err != nil {
		return nil, err
	}

	updated, err := r.repo.FailPayment(ctx, payment.ID, status, reason)
	if err != nil {
		return nil, err
	}
	if !updated {
		slog.Warn("Ignoring failure for completed payment", "payment_id", payment.ID, "processor", processor, "status", status)
		return &ReconcileResult{Payment: payment, AlreadyProcessed: true}, nil
	}

	payment.Status = status
	payment.FailureReason = reason
	slog.Info("Payment not completed", "payment_id", payment.ID, "status", status, "reason", reason)
	return &ReconcileResult{Payment: payment}, nil
}

// HandleWebhook verifies and applies a processor notification. A nil result
// means the event type is not one we act on.
func (r *PaymentReconciler) HandleWebhook(ctx context.Context, processor models.Processor, header http.Header, body []byte) (*ReconcileResult, error) {
	g, err := r.gateway(processor)
	if err != nil {
		return nil, err
	}
	event, err := g.ParseWebhook(header, body)
	if err != nil {
		slog.Warn("Rejected payment webhook", "error", err, "processor", processor)
		return nil, err
	}
	slog.Info("Payment webhook received", "processor", processor, "type", event.Type, "reference", event.Reference)
	return r.apply(ctx, event)
}

// ConfirmForUser asks the processor for the authoritative status of one of
// the user's payments and applies it.
func (r *PaymentReconciler) ConfirmForUser(ctx context.Context, userID string, processor models.Processor, reference string) (*ReconcileResult, error) {
	g, err := r.gateway(processor)
	if err != nil {
		return nil, err
	}
	payment, err := r.lookup(ctx, processor, reference)
	if err != nil {
		return nil, err
	}
	if payment.UserID != userID {
		return nil, errPaymentNotFound()
	}
	if payment.Status == models.PaymentCompleted {
		return &ReconcileResult{Payment: payment, AlreadyProcessed: true}, nil
	}

	event, err := g.FetchStatus(ctx, reference)
	if err != nil {
		return nil, err
	}
	result, err := r.apply(ctx, event)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return &ReconcileResult{Payment: payment, Pending: true}, nil
	}
	return result, nil
}

func (r *PaymentReconciler) apply(ctx context.Context, event *PaymentEvent) (*ReconcileResult, error) {
	if event.Reference == "" && event.Kind != EventIgnored && event.Kind != EventPending {
		return nil, errValidation("payment event has no reference")
	}
	switch event.Kind {
	case EventSucceeded:
		return r.ApplySuccess(ctx, event.Processor, event.Reference)
	case EventFailed:
		return r.ApplyFailure(ctx, event.Processor, event.Reference, models.PaymentFailed, event.Reason)
	case EventCanceled:
		return r.ApplyFailure(ctx, event.Processor, event.Reference, models.PaymentCanceled, event.Reason)
	}
	return nil, nil
}

func (r *PaymentReconciler) lookup(ctx context.Context, processor models.Processor, reference string) (*models.Payment, error) {
	if !processor.Valid() {
		return nil, errValidation("unknown payment processor %q", processor)
	}
	if reference == "" {
		return nil, errValidation("payment reference is required")
	}
	payment, err := r.repo.GetPaymentByReference(ctx, processor, reference)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		slog.Error("No payment for processor reference", "processor", processor, "reference", reference)
		return nil, errPaymentNotFound()
	}
	return payment, nil
}

func (r *PaymentReconciler) notifyCredits(userID string, balance, added int) {
	if r.notifier == nil {
		return
	}
	r.notifier.SendToUser(userID, ws.Event{
		Type: "credits.updated",
		Data: map[string]interface{}{
			"credits":      balance,
			"creditsAdded": added,
		},
	})
}
