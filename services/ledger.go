package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/krshsl/interview-engine/models"
	"github.com/krshsl/interview-engine/repository"
)

// CreditLedger is the only writer of users.credits. Every balance change is
// paired with an append-only credit_transactions row in the same database
// transaction, so a user's transactions always sum to their balance.
type CreditLedger struct {
	repo *repository.GORMRepository
}

func NewCreditLedger(repo *repository.GORMRepository) *CreditLedger {
	return &CreditLedger{repo: repo}
}

// TryDebit takes amount credits if the balance covers it. ok is false, with
// nothing written, when it does not; remaining is the balance either way.
func (l *CreditLedger) TryDebit(ctx context.Context, userID string, amount int, sessionID *string, description string) (ok bool, remaining int, err error) {
	if amount <= 0 {
		return false, 0, ErrInvalidArgument
	}
	err = l.repo.Transaction(ctx, func(tx *repository.GORMRepository) error {
		var txErr error
		ok, remaining, txErr = l.tryDebitTx(ctx, tx, userID, amount, sessionID, description)
		return txErr
	})
	if err != nil {
		return false, 0, err
	}
	return ok, remaining, nil
}

func (l *CreditLedger) tryDebitTx(ctx context.Context, tx *repository.GORMRepository, userID string, amount int, sessionID *string, description string) (bool, int, error) {
	debited, err := tx.DebitCredits(ctx, userID, amount)
	if err != nil {
		return false, 0, err
	}
	balance, found, err := tx.GetUserCredits(ctx, userID)
	if err != nil {
		return false, 0, err
	}
	if !found {
		return false, 0, errUserNotFound()
	}
	if !debited {
		return false, balance, nil
	}

	txn := &models.CreditTransaction{
		UserID:       userID,
		SessionID:    sessionID,
		Amount:       -amount,
		Type:         models.TransactionUsage,
		Description:  description,
		BalanceAfter: balance,
	}
	if err := tx.CreateCreditTransaction(ctx, txn); err != nil {
		return false, 0, err
	}

	slog.Info("Credits debited", "user_id", userID, "amount", amount, "balance", balance)
	return true, balance, nil
}

// Credit adds a purchase. It does not deduplicate: callers must hold their
// own idempotency gate, which is recorded as the row's reference.
func (l *CreditLedger) Credit(ctx context.Context, userID string, amount int, sessionID *string, description, idempotencyKey string) (ok bool, newBalance int, err error) {
	if amount <= 0 {
		return false, 0, ErrInvalidArgument
	}
	err = l.repo.Transaction(ctx, func(tx *repository.GORMRepository) error {
		var txErr error
		ok, newBalance, txErr = l.creditTx(ctx, tx, userID, amount, sessionID, models.TransactionPurchase, description, idempotencyKey)
		return txErr
	})
	if err != nil {
		return false, 0, err
	}
	return ok, newBalance, nil
}

// Grant adds credits outside of a purchase, e.g. a sign-up allowance.
func (l *CreditLedger) Grant(ctx context.Context, userID string, amount int, description string) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidArgument
	}
	var balance int
	err := l.repo.Transaction(ctx, func(tx *repository.GORMRepository) error {
		ok, newBalance, err := l.creditTx(ctx, tx, userID, amount, nil, models.TransactionAdjustment, description, "")
		if err != nil {
			return err
		}
		if !ok {
			return errUserNotFound()
		}
		balance = newBalance
		return nil
	})
	return balance, err
}

func (l *CreditLedger) creditTx(ctx context.Context, tx *repository.GORMRepository, userID string, amount int, sessionID *string, txType models.TransactionType, description, reference string) (bool, int, error) {
	added, err := tx.AddCredits(ctx, userID, amount)
	if err != nil {
		return false, 0, err
	}
	if !added {
		return false, 0, nil
	}
	balance, _, err := tx.GetUserCredits(ctx, userID)
	if err != nil {
		return false, 0, err
	}

	txn := &models.CreditTransaction{
		UserID:       userID,
		SessionID:    sessionID,
		Amount:       amount,
		Type:         txType,
		Description:  description,
		Reference:    reference,
		BalanceAfter: balance,
	}
	if err := tx.CreateCreditTransaction(ctx, txn); err != nil {
		return false, 0, err
	}

	slog.Info("Credits added", "user_id", userID, "amount", amount, "type", txType, "balance", balance)
	return true, balance, nil
}

func (l *CreditLedger) Balance(ctx context.Context, userID string) (int, error) {
	credits, found, err := l.repo.GetUserCredits(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}
	if !found {
		return 0, errUserNotFound()
	}
	return credits, nil
}

func (l *CreditLedger) History(ctx context.Context, userID string, limit int) ([]models.CreditTransaction, error) {
	return l.repo.ListCreditTransactions(ctx, userID, limit)
}
