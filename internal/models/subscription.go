package models

import (
	"fmt"
	"inspiration-api/internal/apperr"
	"time"
)

// SubscriptionStatus is the billing state of a Subscription.
type SubscriptionStatus string

const (
	StatusActive    SubscriptionStatus = "active"
	StatusPaused    SubscriptionStatus = "paused"
	StatusCancelled SubscriptionStatus = "cancelled"
	StatusExpired   SubscriptionStatus = "expired"
)

// Terminal reports whether no further transitions are possible.
func (s SubscriptionStatus) Terminal() bool {
	return s == StatusCancelled || s == StatusExpired
}

// DefaultMaxConsecutiveFailures is the failure streak that cancels a subscription.
const DefaultMaxConsecutiveFailures = 3

// Cancellation reasons
const (
	CancelReasonUser           = "user_request"
	CancelReasonPaymentFailure = "payment_failure_threshold"
	CancelReasonAdmin          = "admin"
)

// Subscription is the billable entity for one subscriber and category.
// At most one row per (subscriber, category) is active at a time.
type Subscription struct {
	BaseModel

	SubscriberID uint               `json:"subscriber_id" gorm:"not null;index:idx_subscription_owner"`
	PhoneNumber  string             `json:"phone_number" gorm:"size:20;not null;index"`
	Category     Category           `json:"category" gorm:"size:20;not null;index:idx_subscription_owner"`
	Status       SubscriptionStatus `json:"status" gorm:"size:20;not null;index:idx_subscription_owner"`

	Cycle    Cycle   `json:"cycle" gorm:"size:10;not null"`
	Cost     float64 `json:"cost"`
	Currency string  `json:"currency" gorm:"size:3"`

	StartDate       time.Time `json:"start_date"`
	EndDate         time.Time `json:"end_date" gorm:"index"`
	NextBillingDate time.Time `json:"next_billing_date" gorm:"index"`
	AutoRenew       bool      `json:"auto_renew"`

	TotalPaid              float64 `json:"total_paid"`
	TotalFailed            int     `json:"total_failed"`
	ConsecutiveFailures    int     `json:"consecutive_failures"`
	MaxConsecutiveFailures int     `json:"max_consecutive_failures"`

	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
	CancelReason string     `json:"cancel_reason,omitempty" gorm:"size:50"`

	Payments []PaymentEntry `json:"payments,omitempty" gorm:"foreignKey:SubscriptionID"`
}

// NewSubscription returns an active subscription covering one cycle from now.
// The first charge falls due when that cycle ends.
func NewSubscription(subscriber *Subscriber, category Category, cycle Cycle, cost float64, currency string, maxFailures int, now time.Time) *Subscription {
	if maxFailures <= 0 {
		maxFailures = DefaultMaxConsecutiveFailures
	}
	end := cycle.Advance(now, 1)
	return &Subscription{
		SubscriberID:           subscriber.ID,
		PhoneNumber:            subscriber.PhoneNumber,
		Category:               category,
		Status:                 StatusActive,
		Cycle:                  cycle,
		Cost:                   cost,
		Currency:               currency,
		StartDate:              now,
		EndDate:                end,
		NextBillingDate:        end,
		AutoRenew:              true,
		MaxConsecutiveFailures: maxFailures,
	}
}

// IsActive reports whether the subscription is billable.
func (s *Subscription) IsActive() bool {
	return s.Status == StatusActive
}

// Extend advances both the end date and the next billing date by periods cycles.
func (s *Subscription) Extend(periods int) error {
	if err := s.checkExtend(periods); err != nil {
		return err
	}
	s.EndDate = s.Cycle.Advance(s.EndDate, periods)
	s.NextBillingDate = s.Cycle.Advance(s.NextBillingDate, periods)
	return nil
}

// ExtendCoverage advances only the end date, for charges whose billing date was
// already advanced when they were initiated.
func (s *Subscription) ExtendCoverage(periods int) error {
	if err := s.checkExtend(periods); err != nil {
		return err
	}
	s.EndDate = s.Cycle.Advance(s.EndDate, periods)
	return nil
}

func (s *Subscription) checkExtend(periods int) error {
	if periods <= 0 {
		return fmt.Errorf("extend by %d periods: %w", periods, apperr.ErrInvalidInput)
	}
	if !s.IsActive() {
		return fmt.Errorf("extend %s subscription: %w", s.Status, ErrInvalidTransition)
	}
	return nil
}

// AdvanceBillingDate moves the next billing date one cycle forward, counting from now
// when the date is already in the past so a late sweep never leaves it due.
func (s *Subscription) AdvanceBillingDate(now time.Time) {
	base := s.NextBillingDate
	if base.Before(now) {
		base = now
	}
	s.NextBillingDate = s.Cycle.Advance(base, 1)
}

// RecordPayment appends a ledger entry and applies its outcome to the counters.
// It reports whether the entry pushed the failure streak over the threshold, in which
// case the subscription is already cancelled.
func (s *Subscription) RecordPayment(amount float64, status PaymentStatus, transactionID, reason string, now time.Time) (bool, error) {
	if !status.Valid() {
		return false, fmt.Errorf("payment status %q: %w", status, apperr.ErrInvalidInput)
	}
	s.Payments = append(s.Payments, PaymentEntry{
		SubscriptionID:        s.ID,
		Amount:                amount,
		Currency:              s.Currency,
		Status:                status,
		ProviderTransactionID: transactionID,
		FailureReason:         reason,
		AttemptedAt:           now,
	})
	if status.Terminal() {
		s.Payments[len(s.Payments)-1].ResolvedAt = &now
	}
	return s.applyOutcome(amount, status, now), nil
}

// RecordCharge appends a pending entry for an initiated charge. Entries initiated by the
// billing sweep also move the next billing date forward.
func (s *Subscription) RecordCharge(amount float64, transactionID string, bySweep bool, now time.Time) *PaymentEntry {
	s.Payments = append(s.Payments, PaymentEntry{
		SubscriptionID:        s.ID,
		Amount:                amount,
		Currency:              s.Currency,
		Status:                PaymentPending,
		ProviderTransactionID: transactionID,
		InitiatedBySweep:      bySweep,
		AttemptedAt:           now,
	})
	if bySweep {
		s.AdvanceBillingDate(now)
	}
	return &s.Payments[len(s.Payments)-1]
}

// RecordInitiationFailure appends a failed entry for a charge the provider never accepted.
// It counts toward the failure streak like any failed payment; the billing date stays due.
// It reports whether the streak was breached and the subscription cancelled.
func (s *Subscription) RecordInitiationFailure(amount float64, reason string, now time.Time) (*PaymentEntry, bool) {
	s.Payments = append(s.Payments, PaymentEntry{
		SubscriptionID: s.ID,
		Amount:         amount,
		Currency:       s.Currency,
		Status:         PaymentFailed,
		FailureReason:  reason,
		AttemptedAt:    now,
		ResolvedAt:     &now,
	})
	breached := s.applyOutcome(amount, PaymentFailed, now)
	return &s.Payments[len(s.Payments)-1], breached
}

// ResolvePayment settles a pending ledger entry identified by transactionID.
// Entries that are already settled are left untouched and reported with applied=false.
func (s *Subscription) ResolvePayment(transactionID string, status PaymentStatus, reason string, now time.Time) (entry *PaymentEntry, applied, breached bool, err error) {
	if !status.Terminal() {
		return nil, false, false, fmt.Errorf("resolve with status %q: %w", status, apperr.ErrInvalidInput)
	}
	entry = s.FindPayment(transactionID)
	if entry == nil {
		return nil, false, false, fmt.Errorf("transaction %s: %w", transactionID, apperr.ErrNotFound)
	}
	if entry.Status != PaymentPending {
		return entry, false, false, nil
	}
	entry.Status = status
	entry.FailureReason = reason
	entry.ResolvedAt = &now
	return entry, true, s.applyOutcome(entry.Amount, status, now), nil
}

func (s *Subscription) applyOutcome(amount float64, status PaymentStatus, now time.Time) bool {
	switch status {
	case PaymentSuccessful:
		s.TotalPaid += amount
		s.ConsecutiveFailures = 0
	case PaymentFailed:
		s.TotalFailed++
		s.ConsecutiveFailures++
	}
	if s.ConsecutiveFailures >= s.maxFailures() && s.Status != StatusCancelled {
		s.Cancel(CancelReasonPaymentFailure, now)
		return true
	}
	return false
}

func (s *Subscription) maxFailures() int {
	if s.MaxConsecutiveFailures <= 0 {
		return DefaultMaxConsecutiveFailures
	}
	return s.MaxConsecutiveFailures
}

// FindPayment returns the ledger entry for transactionID, or nil.
func (s *Subscription) FindPayment(transactionID string) *PaymentEntry {
	if transactionID == "" {
		return nil
	}
	for i := range s.Payments {
		if s.Payments[i].ProviderTransactionID == transactionID {
			return &s.Payments[i]
		}
	}
	return nil
}

// Cancel moves the subscription to cancelled and stops renewal.
func (s *Subscription) Cancel(reason string, now time.Time) {
	s.Status = StatusCancelled
	s.AutoRenew = false
	s.CancelReason = reason
	s.CancelledAt = &now
}

// Pause suspends billing and delivery of an active subscription.
func (s *Subscription) Pause() error {
	if s.Status != StatusActive {
		return fmt.Errorf("pause %s subscription: %w", s.Status, ErrInvalidTransition)
	}
	s.Status = StatusPaused
	return nil
}

// Resume reactivates a paused subscription.
func (s *Subscription) Resume() error {
	if s.Status != StatusPaused {
		return fmt.Errorf("resume %s subscription: %w", s.Status, ErrInvalidTransition)
	}
	s.Status = StatusActive
	return nil
}

// Expire marks an active or paused subscription as lapsed.
func (s *Subscription) Expire() error {
	if s.Status.Terminal() {
		return fmt.Errorf("expire %s subscription: %w", s.Status, ErrInvalidTransition)
	}
	s.Status = StatusExpired
	s.AutoRenew = false
	return nil
}

// DueForBilling reports whether the billing sweep should charge this subscription.
func (s *Subscription) DueForBilling(now time.Time) bool {
	return s.Status == StatusActive && s.AutoRenew && !s.NextBillingDate.After(now)
}
