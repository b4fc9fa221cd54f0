package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/krshsl/interview-engine/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (r *GORMRepository) CreatePayment(ctx context.Context, payment *models.Payment) error {
	if err := r.db.WithContext(ctx).Create(payment).Error; err != nil {
		slog.Error("Failed to create payment", "error", err, "user_id", payment.UserID, "processor", payment.Processor)
		return fmt.Errorf("failed to create payment: %w", err)
	}
	slog.Info("Payment created", "payment_id", payment.ID, "user_id", payment.UserID, "reference", payment.Reference())
	return nil
}

// GetPaymentByReference looks a payment up by the processor's intent/order id.
func (r *GORMRepository) GetPaymentByReference(ctx context.Context, processor models.Processor, reference string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Where(processor.ReferenceColumn()+" = ?", reference).
		First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.Error("Failed to get payment", "error", err, "processor", processor, "reference", reference)
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &payment, nil
}

func (r *GORMRepository) ListUserPayments(ctx context.Context, userID string) ([]models.Payment, error) {
	var payments []models.Payment
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&payments).Error; err != nil {
		slog.Error("Failed to list payments", "error", err, "user_id", userID)
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return payments, nil
}

// CompletePayment moves a payment to completed unless it already is.
// false means a concurrent delivery already completed it.
func (r *GORMRepository) CompletePayment(ctx context.Context, paymentID string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status <> ?", paymentID, models.PaymentCompleted).
		Updates(map[string]interface{}{
			"status":         models.PaymentCompleted,
			"completed_at":   at,
			"failure_reason": "",
		})
	if res.Error != nil {
		slog.Error("Failed to complete payment", "error", res.Error, "payment_id", paymentID)
		return false, fmt.Errorf("failed to complete payment: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// FailPayment records a failed/canceled outcome. Completed payments are left untouched.
func (r *GORMRepository) FailPayment(ctx context.Context, paymentID string, status models.PaymentStatus, reason string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status <> ?", paymentID, models.PaymentCompleted).
		Updates(map[string]interface{}{
			"status":         status,
			"failure_reason": reason,
		})
	if res.Error != nil {
		slog.Error("Failed to mark payment failed", "error", res.Error, "payment_id", paymentID, "status", status)
		return false, fmt.Errorf("failed to mark payment %s: %w", status, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Credit package operations

func (r *GORMRepository) ListActivePackages(ctx context.Context) ([]models.CreditPackage, error) {
	var packages []models.CreditPackage
	if err := r.db.WithContext(ctx).Where("is_active = ?", true).Order("sort_order ASC").Find(&packages).Error; err != nil {
		slog.Error("Failed to list credit packages", "error", err)
		return nil, fmt.Errorf("failed to list credit packages: %w", err)
	}
	return packages, nil
}

func (r *GORMRepository) GetActivePackage(ctx context.Context, packageID string) (*models.CreditPackage, error) {
	var pkg models.CreditPackage
	if err := r.db.WithContext(ctx).Where("id = ? AND is_active = ?", packageID, true).First(&pkg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.Error("Failed to get credit package", "error", err, "package_id", packageID)
		return nil, fmt.Errorf("failed to get credit package: %w", err)
	}
	return &pkg, nil
}

// UpsertPackage inserts or refreshes a catalogue entry by id.
func (r *GORMRepository) UpsertPackage(ctx context.Context, pkg *models.CreditPackage) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "credits", "amount", "currency", "is_active", "sort_order", "updated_at"}),
	}).Create(pkg).Error
	if err != nil {
		slog.Error("Failed to upsert credit package", "error", err, "package_id", pkg.ID)
		return fmt.Errorf("failed to upsert credit package: %w", err)
	}
	return nil
}
