package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCanceled  PaymentStatus = "canceled"
)

type Processor string

const (
	ProcessorStripe   Processor = "stripe"
	ProcessorCashfree Processor = "cashfree"
)

func (p Processor) Valid() bool {
	return p == ProcessorStripe || p == ProcessorCashfree
}

// ReferenceColumn is the payments column holding this processor's external id.
func (p Processor) ReferenceColumn() string {
	if p == ProcessorCashfree {
		return "cashfree_order_id"
	}
	return "stripe_payment_intent_id"
}

// CreditPackage is a purchasable bundle of credits. Amount is in minor units.
type CreditPackage struct {
	ID        string    `gorm:"size:64;primaryKey" json:"id" yaml:"id"`
	Name      string    `gorm:"size:255;not null" json:"name" yaml:"name"`
	Credits   int       `gorm:"not null" json:"credits" yaml:"credits"`
	Amount    int64     `gorm:"not null" json:"amount" yaml:"amount"`
	Currency  string    `gorm:"size:3;not null" json:"currency" yaml:"currency"`
	IsActive  bool      `gorm:"not null" json:"is_active" yaml:"active"`
	SortOrder int       `gorm:"not null;default:0" json:"sort_order" yaml:"sort_order"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// Payment tracks one purchase attempt. Exactly one of the processor
// references is set. Once completed the status never changes again.
type Payment struct {
	ID                    string        `gorm:"type:uuid;primaryKey" json:"id"`
	UserID                string        `gorm:"type:uuid;not null;index" json:"user_id"`
	Processor             Processor     `gorm:"type:varchar(20);not null" json:"processor"`
	StripePaymentIntentID *string       `gorm:"size:255;uniqueIndex" json:"stripe_payment_intent_id,omitempty"`
	CashfreeOrderID       *string       `gorm:"size:255;uniqueIndex" json:"cashfree_order_id,omitempty"`
	PackageID             string        `gorm:"size:64;not null" json:"package_id"`
	Credits               int           `gorm:"not null" json:"credits"`
	Amount                int64         `gorm:"not null" json:"amount"`
	Currency              string        `gorm:"size:3;not null" json:"currency"`
	Status                PaymentStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	FailureReason         string        `gorm:"type:text" json:"failure_reason,omitempty"`
	CompletedAt           *time.Time    `json:"completed_at,omitempty"`
	CreatedAt             time.Time     `json:"created_at"`
	UpdatedAt             time.Time     `json:"updated_at"`
}

func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return nil
}

// Reference returns the processor's id for this payment.
func (p *Payment) Reference() string {
	switch {
	case p.StripePaymentIntentID != nil:
		return *p.StripePaymentIntentID
	case p.CashfreeOrderID != nil:
		return *p.CashfreeOrderID
	}
	return ""
}
