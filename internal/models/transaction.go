package models

import (
	"time"
)

// PaymentStatus is the outcome of one charge attempt.
type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentSuccessful PaymentStatus = "successful"
	PaymentFailed     PaymentStatus = "failed"
	PaymentRefunded   PaymentStatus = "refunded"
)

// Valid reports whether s is a known payment status.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentSuccessful, PaymentFailed, PaymentRefunded:
		return true
	}
	return false
}

// Terminal reports whether the outcome is final.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentSuccessful || s == PaymentFailed || s == PaymentRefunded
}

// PaymentEntry is one ledger line of a Subscription. Entries are never deleted;
// a pending entry is settled in place when the provider reports the outcome.
type PaymentEntry struct {
	BaseModel

	SubscriptionID        uint          `json:"subscription_id" gorm:"not null;index"`
	Amount                float64       `json:"amount"`
	Currency              string        `json:"currency" gorm:"size:3"`
	Status                PaymentStatus `json:"status" gorm:"size:20;not null;index"`
	ProviderTransactionID string        `json:"provider_transaction_id" gorm:"size:100;index"`
	ProviderRef           string        `json:"provider_ref,omitempty" gorm:"size:100"`
	FailureReason         string        `json:"failure_reason,omitempty" gorm:"size:255"`
	InitiatedBySweep      bool          `json:"initiated_by_sweep"` // billing date was advanced at initiation
	AttemptedAt           time.Time     `json:"attempted_at"`
	ResolvedAt            *time.Time    `json:"resolved_at,omitempty"`
}

// TableName keeps the ledger table name stable
func (PaymentEntry) TableName() string {
	return "payment_ledger"
}
