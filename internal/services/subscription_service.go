package services

import (
	"context"
	"fmt"
	"inspiration-api/internal/apperr"
	"inspiration-api/internal/config"
	"inspiration-api/internal/database"
	"inspiration-api/internal/metrics"
	"inspiration-api/internal/models"
	"inspiration-api/pkg/logging"
	"inspiration-api/pkg/phone"
	"time"
)

// SubscriptionService applies every subscription mutation. Each operation holds the
// subscriber lock and runs in one database transaction, so history and billing state never
// diverge.
type SubscriptionService struct {
	store   *database.Store
	locker  Locker
	gateway Gateway
	cfg     *config.Config
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewSubscriptionService creates a subscription service
func NewSubscriptionService(store *database.Store, locker Locker, gateway Gateway, cfg *config.Config, m *metrics.Metrics) *SubscriptionService {
	return &SubscriptionService{
		store:   store,
		locker:  locker,
		gateway: gateway,
		cfg:     cfg,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SubscribeResult is the state after a subscribe
type SubscribeResult struct {
	Subscriber    *models.Subscriber
	Subscriptions []*models.Subscription
	Created       []bool
}

// StatusView is a read of a subscriber's current subscriptions
type StatusView struct {
	Subscriber    *models.Subscriber     `json:"subscriber"`
	Active        []models.CategoryEntry `json:"active_categories"`
	Subscriptions []models.Subscription  `json:"subscriptions"`
}

// PaymentResult describes the effect of a settled payment
type PaymentResult struct {
	Subscriber   *models.Subscriber
	Subscription *models.Subscription
	Entry        models.PaymentEntry
	Applied      bool
	Breached     bool
}

// ChargeOutcome is the result of one charge attempt
type ChargeOutcome string

const (
	ChargeInitiated ChargeOutcome = "initiated"
	ChargeFailed    ChargeOutcome = "failed"
	ChargeSkipped   ChargeOutcome = "skipped"
)

func subscriberKey(phoneNumber string) string {
	return "subscriber:" + phoneNumber
}

func (s *SubscriptionService) lock(ctx context.Context, phoneNumber string) (func(), error) {
	unlock, err := s.locker.Lock(ctx, subscriberKey(phoneNumber))
	if err != nil {
		return nil, fmt.Errorf("failed to lock subscriber %s: %w", phoneNumber, err)
	}
	return unlock, nil
}

// createOrRenew returns the live subscription for (subscriber, category), creating one when
// there is none. A paused subscription is resumed. An active one is returned unchanged.
func (s *SubscriptionService) createOrRenew(ctx context.Context, tx *database.Store, subscriber *models.Subscriber, category models.Category, cycle models.Cycle, now time.Time) (*models.Subscription, bool, error) {
	existing, err := tx.FindLiveSubscription(ctx, subscriber.ID, category)
	if err != nil && !apperr.IsNotFound(err) {
		return nil, false, err
	}
	if existing != nil {
		if existing.Status == models.StatusPaused {
			if err := existing.Resume(); err != nil {
				return nil, false, err
			}
			if err := tx.SaveSubscription(ctx, existing); err != nil {
				return nil, false, err
			}
		}
		return existing, false, nil
	}

	sub := models.NewSubscription(subscriber, category, cycle, s.cfg.CycleCost(string(cycle)), s.cfg.Currency, s.cfg.MaxConsecutiveFailures, now)
	if err := tx.CreateSubscription(ctx, sub); err != nil {
		return nil, false, fmt.Errorf("failed to create subscription: %w", err)
	}
	return sub, true, nil
}

// CreateOrRenew ensures a billing subscription exists for the subscriber and category.
// It is a no-op when one is already active.
func (s *SubscriptionService) CreateOrRenew(ctx context.Context, subscriberID uint, category models.Category, cycle models.Cycle) (*models.Subscription, bool, error) {
	if !category.Valid() || !cycle.Valid() {
		return nil, false, fmt.Errorf("category %q cycle %q: %w", category, cycle, apperr.ErrInvalidInput)
	}
	subscriber, err := s.store.GetSubscriber(ctx, subscriberID)
	if err != nil {
		return nil, false, err
	}
	unlock, err := s.lock(ctx, subscriber.PhoneNumber)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	var sub *models.Subscription
	var created bool
	err = s.store.Transaction(ctx, func(tx *database.Store) error {
		locked, err := tx.LockSubscriber(ctx, subscriberID)
		if err != nil {
			return err
		}
		sub, created, err = s.createOrRenew(ctx, tx, locked, category, cycle, s.now())
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return sub, created, nil
}

// Subscribe adds categories to the subscriber's history and ensures a billing subscription
// for each. Repeating it never yields more than one active entry or subscription per category.
func (s *SubscriptionService) Subscribe(ctx context.Context, rawPhone string, categories []models.Category, cycle models.Cycle) (*SubscribeResult, error) {
	phoneNumber, err := phone.Normalize(rawPhone)
	if err != nil {
		return nil, err
	}
	if len(categories) == 0 || !cycle.Valid() {
		return nil, fmt.Errorf("subscribe with %d categories, cycle %q: %w", len(categories), cycle, apperr.ErrInvalidInput)
	}
	for _, c := range categories {
		if !c.Valid() {
			return nil, fmt.Errorf("category %q: %w", c, apperr.ErrInvalidInput)
		}
	}

	unlock, err := s.lock(ctx, phoneNumber)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := s.now()
	result := &SubscribeResult{}
	err = s.store.Transaction(ctx, func(tx *database.Store) error {
		found, _, err := tx.FindOrCreateSubscriber(ctx, phoneNumber, now)
		if err != nil {
			return err
		}
		subscriber, err := tx.LockSubscriber(ctx, found.ID)
		if err != nil {
			return err
		}

		for _, category := range categories {
			sub, created, err := s.createOrRenew(ctx, tx, subscriber, category, cycle, now)
			if err != nil {
				return err
			}
			entry := subscriber.AddSubscription(category, sub.Cycle, now)
			// a renewed subscription keeps its paid-up end date
			entry.EndDate = sub.EndDate
			result.Subscriptions = append(result.Subscriptions, sub)
			result.Created = append(result.Created, created)
		}
		subscriber.Touch(now)
		if err := tx.SaveSubscriber(ctx, subscriber); err != nil {
			return err
		}
		result.Subscriber = subscriber
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.Infof("Subscribed - phone: %s, categories: %v, cycle: %s", phoneNumber, categories, cycle)
	return result, nil
}

// Cancel deactivates the categories and cancels their billing. It returns the categories
// that had something to cancel.
func (s *SubscriptionService) Cancel(ctx context.Context, rawPhone string, categories []models.Category, reason string) ([]models.Category, error) {
	phoneNumber, err := phone.Normalize(rawPhone)
	if err != nil {
		return nil, err
	}
	unlock, err := s.lock(ctx, phoneNumber)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := s.now()
	var cancelled []models.Category
	err = s.store.Transaction(ctx, func(tx *database.Store) error {
		subscriber, err := tx.LockSubscriberByPhone(ctx, phoneNumber)
		if err != nil {
			return err
		}
		for _, category := range categories {
			changed := subscriber.CancelCategory(category, now)

			sub, err := tx.FindLiveSubscription(ctx, subscriber.ID, category)
			if err != nil && !apperr.IsNotFound(err) {
				return err
			}
			if sub != nil {
				sub.Cancel(reason, now)
				if err := tx.SaveSubscription(ctx, sub); err != nil {
					return err
				}
				changed = true
			}
			if changed {
				cancelled = append(cancelled, category)
			}
		}
		subscriber.Touch(now)
		return tx.SaveSubscriber(ctx, subscriber)
	})
	if err != nil {
		return nil, err
	}

	for range cancelled {
		s.metrics.Cancellation(reason)
	}
	logging.Infof("Cancelled - phone: %s, categories: %v, reason: %s", phoneNumber, cancelled, reason)
	return cancelled, nil
}

// SetDeliveryTime changes the subscriber's delivery slot
func (s *SubscriptionService) SetDeliveryTime(ctx context.Context, rawPhone, hhmm string) (*models.Subscriber, error) {
	phoneNumber, err := phone.Normalize(rawPhone)
	if err != nil {
		return nil, err
	}
	if !models.ValidDeliveryTime(hhmm) {
		return nil, fmt.Errorf("delivery time %q: %w", hhmm, apperr.ErrInvalidInput)
	}
	unlock, err := s.lock(ctx, phoneNumber)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := s.now()
	var subscriber *models.Subscriber
	err = s.store.Transaction(ctx, func(tx *database.Store) error {
		found, _, err := tx.FindOrCreateSubscriber(ctx, phoneNumber, now)
		if err != nil {
			return err
		}
		subscriber, err = tx.LockSubscriber(ctx, found.ID)
		if err != nil {
			return err
		}
		subscriber.DeliveryTime = hhmm
		subscriber.Touch(now)
		return tx.SaveSubscriber(ctx, subscriber)
	})
	if err != nil {
		return nil, err
	}
	logging.Infof("Delivery time updated - phone: %s, time: %s", phoneNumber, hhmm)
	return subscriber, nil
}

// Status reads the subscriber's active categories and subscriptions
func (s *SubscriptionService) Status(ctx context.Context, rawPhone string) (*StatusView, error) {
	phoneNumber, err := phone.Normalize(rawPhone)
	if err != nil {
		return nil, err
	}
	subscriber, err := s.store.GetSubscriberByPhone(ctx, phoneNumber)
	if err != nil {
		return nil, err
	}
	subs, err := s.store.ListSubscriptions(ctx, subscriber.ID)
	if err != nil {
		return nil, err
	}
	return &StatusView{
		Subscriber:    subscriber,
		Active:        subscriber.ActiveCategories(s.now()),
		Subscriptions: subs,
	}, nil
}

// Pause suspends billing and delivery of a subscription
func (s *SubscriptionService) Pause(ctx context.Context, id uint) (*models.Subscription, error) {
	return s.mutateSubscription(ctx, id, func(sub *models.Subscription) error {
		return sub.Pause()
	})
}

// Resume reactivates a paused subscription
func (s *SubscriptionService) Resume(ctx context.Context, id uint) (*models.Subscription, error) {
	return s.mutateSubscription(ctx, id, func(sub *models.Subscription) error {
		return sub.Resume()
	})
}

// CancelSubscription cancels one subscription by id and deactivates its history entry
func (s *SubscriptionService) CancelSubscription(ctx context.Context, id uint, reason string) (*models.Subscription, error) {
	sub, err := s.store.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.Cancel(ctx, sub.PhoneNumber, []models.Category{sub.Category}, reason); err != nil {
		return nil, err
	}
	return s.store.GetSubscription(ctx, id)
}

func (s *SubscriptionService) mutateSubscription(ctx context.Context, id uint, fn func(*models.Subscription) error) (*models.Subscription, error) {
	peek, err := s.store.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	unlock, err := s.lock(ctx, peek.PhoneNumber)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var sub *models.Subscription
	err = s.store.Transaction(ctx, func(tx *database.Store) error {
		sub, err = tx.LockSubscription(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(sub); err != nil {
			return err
		}
		return tx.SaveSubscription(ctx, sub)
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// ChargeDue is one billing sweep unit. It initiates a charge for a subscription that is due,
// records a pending entry and advances the billing date. A failed initiation records a failed
// entry and leaves the date due for the next sweep.
func (s *SubscriptionService) ChargeDue(ctx context.Context, id uint) (ChargeOutcome, error) {
	return s.charge(ctx, id, true)
}

// ChargeNow charges a subscription regardless of its billing date
func (s *SubscriptionService) ChargeNow(ctx context.Context, id uint) (ChargeOutcome, error) {
	return s.charge(ctx, id, false)
}

func (s *SubscriptionService) charge(ctx context.Context, id uint, bySweep bool) (ChargeOutcome, error) {
	peek, err := s.store.GetSubscription(ctx, id)
	if err != nil {
		return ChargeSkipped, err
	}
	unlock, err := s.lock(ctx, peek.PhoneNumber)
	if err != nil {
		return ChargeSkipped, err
	}
	defer unlock()

	sub, err := s.store.GetSubscription(ctx, id)
	if err != nil {
		return ChargeSkipped, err
	}
	now := s.now()
	if bySweep && !sub.DueForBilling(now) {
		return ChargeSkipped, nil
	}
	if !sub.IsActive() {
		return ChargeSkipped, fmt.Errorf("charge %s subscription: %w", sub.Status, models.ErrInvalidTransition)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.transportTimeout())
	result, chargeErr := s.gateway.InitiateCharge(callCtx, ChargeRequest{
		PhoneNumber: sub.PhoneNumber,
		Amount:      sub.Cost,
		Currency:    sub.Currency,
		ProductName: s.cfg.ATProductName,
		Metadata: map[string]string{
			"subscriptionId": fmt.Sprintf("%d", sub.ID),
			"category":       string(sub.Category),
			"cycle":          string(sub.Cycle),
		},
	})
	cancel()

	outcome := ChargeInitiated
	breached := false
	err = s.store.Transaction(ctx, func(tx *database.Store) error {
		locked, err := tx.LockSubscription(ctx, id)
		if err != nil {
			return err
		}
		if chargeErr == nil {
			locked.RecordCharge(locked.Cost, result.TransactionID, bySweep, now)
			return tx.SaveSubscription(ctx, locked)
		}

		outcome = ChargeFailed
		_, breached = locked.RecordInitiationFailure(locked.Cost, truncate(chargeErr.Error(), 255), now)
		if err := tx.SaveSubscription(ctx, locked); err != nil {
			return err
		}
		if !breached {
			return nil
		}
		subscriber, err := tx.LockSubscriber(ctx, locked.SubscriberID)
		if err != nil {
			return err
		}
		subscriber.CancelCategory(locked.Category, now)
		return tx.SaveSubscriber(ctx, subscriber)
	})
	if err != nil {
		return ChargeSkipped, err
	}

	s.metrics.Charge(string(outcome))
	if chargeErr != nil {
		logging.Warnf("Charge initiation failed - subscription: %d, phone: %s, error: %v", id, sub.PhoneNumber, chargeErr)
		if breached {
			s.metrics.Cancellation(models.CancelReasonPaymentFailure)
			logging.Warnf("Subscription cancelled after %d consecutive failures - subscription: %d, phone: %s",
				sub.MaxConsecutiveFailures, id, sub.PhoneNumber)
		}
		return outcome, chargeErr
	}
	logging.Infof("Charge initiated - subscription: %d, phone: %s, transaction: %s", id, sub.PhoneNumber, result.TransactionID)
	return outcome, nil
}

func (s *SubscriptionService) transportTimeout() time.Duration {
	if s.cfg.TransportTimeout > 0 {
		return s.cfg.TransportTimeout
	}
	return 10 * time.Second
}

// ApplyPaymentResult settles the pending ledger entry for transactionID. A success extends
// coverage, syncs the history end date and adds to the subscriber's spend. A failure that
// breaches the streak cancels the subscription and deactivates its history entry in the same
// transaction.
func (s *SubscriptionService) ApplyPaymentResult(ctx context.Context, transactionID string, status models.PaymentStatus, reason string) (*PaymentResult, error) {
	entry, err := s.store.GetPaymentEntry(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	peek, err := s.store.GetSubscription(ctx, entry.SubscriptionID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, fmt.Errorf("ledger entry %s has no subscription %d: %w", transactionID, entry.SubscriptionID, apperr.ErrInternalInconsistency)
		}
		return nil, err
	}

	unlock, err := s.lock(ctx, peek.PhoneNumber)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := s.now()
	result := &PaymentResult{}
	err = s.store.Transaction(ctx, func(tx *database.Store) error {
		sub, err := tx.LockSubscription(ctx, entry.SubscriptionID)
		if err != nil {
			return err
		}
		settled, applied, breached, err := sub.ResolvePayment(transactionID, status, reason, now)
		if err != nil {
			return err
		}
		result.Subscription = sub
		result.Entry = *settled
		result.Applied = applied
		result.Breached = breached
		if !applied {
			return nil
		}

		subscriber, err := tx.LockSubscriber(ctx, sub.SubscriberID)
		if err != nil {
			if apperr.IsNotFound(err) {
				return fmt.Errorf("subscription %d has no subscriber %d: %w", sub.ID, sub.SubscriberID, apperr.ErrInternalInconsistency)
			}
			return err
		}

		switch {
		case status == models.PaymentSuccessful && sub.IsActive():
			extend := sub.Extend
			if settled.InitiatedBySweep {
				extend = sub.ExtendCoverage
			}
			if err := extend(1); err != nil {
				return err
			}
			subscriber.ExtendCategory(sub.Category, sub.EndDate)
			subscriber.TotalSpent += settled.Amount
		case status == models.PaymentSuccessful:
			logging.Warnf("Payment succeeded on %s subscription - subscription: %d, transaction: %s", sub.Status, sub.ID, transactionID)
			subscriber.TotalSpent += settled.Amount
		case breached:
			subscriber.CancelCategory(sub.Category, now)
		}

		if err := tx.SaveSubscription(ctx, sub); err != nil {
			return err
		}
		if err := tx.SaveSubscriber(ctx, subscriber); err != nil {
			return err
		}
		result.Subscriber = subscriber
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Applied {
		s.metrics.PaymentEvent(string(status))
	}
	if result.Breached {
		s.metrics.Cancellation(models.CancelReasonPaymentFailure)
		logging.Warnf("Subscription cancelled after %d consecutive failures - subscription: %d, phone: %s",
			result.Subscription.ConsecutiveFailures, result.Subscription.ID, result.Subscription.PhoneNumber)
	}
	return result, nil
}

// ExpireLapsed expires a live subscription whose coverage ended before cutoff and
// deactivates its history entry. It reports whether anything changed.
func (s *SubscriptionService) ExpireLapsed(ctx context.Context, id uint, cutoff time.Time) (bool, error) {
	peek, err := s.store.GetSubscription(ctx, id)
	if err != nil {
		return false, err
	}
	unlock, err := s.lock(ctx, peek.PhoneNumber)
	if err != nil {
		return false, err
	}
	defer unlock()

	now := s.now()
	expired := false
	err = s.store.Transaction(ctx, func(tx *database.Store) error {
		sub, err := tx.LockSubscription(ctx, id)
		if err != nil {
			return err
		}
		if sub.Status.Terminal() || !sub.EndDate.Before(cutoff) {
			return nil
		}
		if err := sub.Expire(); err != nil {
			return err
		}
		if err := tx.SaveSubscription(ctx, sub); err != nil {
			return err
		}
		subscriber, err := tx.LockSubscriber(ctx, sub.SubscriberID)
		if err != nil {
			return err
		}
		subscriber.CancelCategory(sub.Category, now)
		if err := tx.SaveSubscriber(ctx, subscriber); err != nil {
			return err
		}
		expired = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if expired {
		logging.Infof("Subscription expired - subscription: %d, phone: %s", id, peek.PhoneNumber)
	}
	return expired, nil
}

// PausedCategories returns the categories whose subscription is paused for subscriberID
func (s *SubscriptionService) PausedCategories(ctx context.Context, subscriberID uint) (map[models.Category]bool, error) {
	subs, err := s.store.ListLiveSubscriptions(ctx, subscriberID)
	if err != nil {
		return nil, err
	}
	paused := make(map[models.Category]bool)
	for _, sub := range subs {
		if sub.Status == models.StatusPaused {
			paused[sub.Category] = true
		}
	}
	return paused, nil
}
