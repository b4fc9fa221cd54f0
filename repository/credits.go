package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/krshsl/interview-engine/models"
	"gorm.io/gorm"
)

// DebitCredits subtracts amount from the user's balance in a single guarded
// UPDATE. It returns false, without writing, when the balance does not cover
// amount (or the user does not exist).
func (r *GORMRepository) DebitCredits(ctx context.Context, userID string, amount int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ? AND credits >= ?", userID, amount).
		UpdateColumn("credits", gorm.Expr("credits - ?", amount))
	if res.Error != nil {
		slog.Error("Failed to debit credits", "error", res.Error, "user_id", userID, "amount", amount)
		return false, fmt.Errorf("failed to debit credits: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// AddCredits increments the user's balance. It returns false if the user does not exist.
func (r *GORMRepository) AddCredits(ctx context.Context, userID string, amount int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		UpdateColumn("credits", gorm.Expr("credits + ?", amount))
	if res.Error != nil {
		slog.Error("Failed to add credits", "error", res.Error, "user_id", userID, "amount", amount)
		return false, fmt.Errorf("failed to add credits: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// GetUserCredits returns the current balance. found is false for unknown users.
func (r *GORMRepository) GetUserCredits(ctx context.Context, userID string) (credits int, found bool, err error) {
	var user models.User
	err = r.db.WithContext(ctx).Select("id", "credits").Where("id = ?", userID).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, false, nil
		}
		slog.Error("Failed to get user credits", "error", err, "user_id", userID)
		return 0, false, fmt.Errorf("failed to get user credits: %w", err)
	}
	return user.Credits, true, nil
}

func (r *GORMRepository) CreateCreditTransaction(ctx context.Context, txn *models.CreditTransaction) error {
	if err := r.db.WithContext(ctx).Create(txn).Error; err != nil {
		slog.Error("Failed to create credit transaction", "error", err, "user_id", txn.UserID, "type", txn.Type)
		return fmt.Errorf("failed to create credit transaction: %w", err)
	}
	return nil
}

func (r *GORMRepository) ListCreditTransactions(ctx context.Context, userID string, limit int) ([]models.CreditTransaction, error) {
	var txns []models.CreditTransaction
	query := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&txns).Error; err != nil {
		slog.Error("Failed to list credit transactions", "error", err, "user_id", userID)
		return nil, fmt.Errorf("failed to list credit transactions: %w", err)
	}
	return txns, nil
}

// ListSessionTransactions returns ledger rows tied to a session.
func (r *GORMRepository) ListSessionTransactions(ctx context.Context, sessionID string) ([]models.CreditTransaction, error) {
	var txns []models.CreditTransaction
	if err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("created_at ASC").Find(&txns).Error; err != nil {
		slog.Error("Failed to list session transactions", "error", err, "session_id", sessionID)
		return nil, fmt.Errorf("failed to list session transactions: %w", err)
	}
	return txns, nil
}

// DetachSessionTransactions clears session_id on ledger rows so the session
// can be removed without rewriting the user's balance history.
func (r *GORMRepository) DetachSessionTransactions(ctx context.Context, sessionID string) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.CreditTransaction{}).
		Where("session_id = ?", sessionID).
		UpdateColumn("session_id", nil)
	if res.Error != nil {
		slog.Error("Failed to detach session transactions", "error", res.Error, "session_id", sessionID)
		return 0, fmt.Errorf("failed to detach session transactions: %w", res.Error)
	}
	return res.RowsAffected, nil
}
