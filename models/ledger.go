package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TransactionType string

const (
	TransactionPurchase   TransactionType = "purchase"
	TransactionUsage      TransactionType = "usage"
	TransactionRefund     TransactionType = "refund"
	TransactionAdjustment TransactionType = "adjustment"
)

// CreditTransaction is an append-only ledger row. The sum of a user's
// amounts equals users.credits.
type CreditTransaction struct {
	ID           string          `gorm:"type:uuid;primaryKey" json:"id"`
	UserID       string          `gorm:"type:uuid;not null;index" json:"user_id"`
	SessionID    *string         `gorm:"type:uuid;index" json:"session_id,omitempty"`
	Amount       int             `gorm:"not null" json:"amount"`
	Type         TransactionType `gorm:"type:varchar(20);not null;index" json:"type"`
	Description  string          `gorm:"type:text" json:"description"`
	Reference    string          `gorm:"size:255;index" json:"reference,omitempty"`
	BalanceAfter int             `gorm:"not null" json:"balance_after"`
	CreatedAt    time.Time       `json:"created_at"`
}

func (t *CreditTransaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	return nil
}
