package database

import (
	"context"
	"fmt"
	"inspiration-api/internal/apperr"
	"inspiration-api/internal/models"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var liveStatuses = []models.SubscriptionStatus{models.StatusActive, models.StatusPaused}

func preloadLedger(db *gorm.DB) *gorm.DB {
	return db.Order("id ASC")
}

// CreateSubscription inserts a subscription and its ledger
func (s *Store) CreateSubscription(ctx context.Context, subscription *models.Subscription) error {
	return s.conn(ctx).Create(subscription).Error
}

// SaveSubscription persists the subscription and its ledger. New ledger entries are inserted,
// existing ones are updated in place.
func (s *Store) SaveSubscription(ctx context.Context, subscription *models.Subscription) error {
	db := s.conn(ctx)
	if err := db.Omit(clause.Associations).Save(subscription).Error; err != nil {
		return fmt.Errorf("failed to save subscription: %w", err)
	}
	for i := range subscription.Payments {
		entry := &subscription.Payments[i]
		entry.SubscriptionID = subscription.ID
		if err := db.Save(entry).Error; err != nil {
			return fmt.Errorf("failed to save ledger entry: %w", err)
		}
	}
	return nil
}

// GetSubscription loads a subscription with its ledger.
func (s *Store) GetSubscription(ctx context.Context, id uint) (*models.Subscription, error) {
	return s.getSubscription(s.conn(ctx).Where("id = ?", id), false)
}

// LockSubscription loads a subscription with its row locked for the current transaction.
func (s *Store) LockSubscription(ctx context.Context, id uint) (*models.Subscription, error) {
	return s.getSubscription(s.conn(ctx).Where("id = ?", id), true)
}

func (s *Store) getSubscription(q *gorm.DB, lock bool) (*models.Subscription, error) {
	if lock {
		q = s.forUpdate(q)
	}
	var subscription models.Subscription
	err := q.Preload("Payments", preloadLedger).First(&subscription).Error
	if err != nil {
		if models.IsNotFound(err) {
			return nil, fmt.Errorf("subscription: %w", apperr.ErrNotFound)
		}
		return nil, err
	}
	return &subscription, nil
}

// FindLiveSubscription returns the active or paused subscription for (subscriber, category).
func (s *Store) FindLiveSubscription(ctx context.Context, subscriberID uint, category models.Category) (*models.Subscription, error) {
	q := s.conn(ctx).
		Where("subscriber_id = ? AND category = ? AND status IN ?", subscriberID, category, liveStatuses).
		Order("id DESC")
	return s.getSubscription(q, true)
}

// ListSubscriptions returns every subscription of a subscriber, newest first.
func (s *Store) ListSubscriptions(ctx context.Context, subscriberID uint) ([]models.Subscription, error) {
	var subscriptions []models.Subscription
	err := s.conn(ctx).Where("subscriber_id = ?", subscriberID).
		Preload("Payments", preloadLedger).
		Order("id DESC").
		Find(&subscriptions).Error
	return subscriptions, err
}

// ListLiveSubscriptions returns the active and paused subscriptions of a subscriber.
func (s *Store) ListLiveSubscriptions(ctx context.Context, subscriberID uint) ([]models.Subscription, error) {
	var subscriptions []models.Subscription
	err := s.conn(ctx).Where("subscriber_id = ? AND status IN ?", subscriberID, liveStatuses).
		Order("id ASC").
		Find(&subscriptions).Error
	return subscriptions, err
}

// GetPaymentEntry finds a ledger entry by provider transaction id.
func (s *Store) GetPaymentEntry(ctx context.Context, transactionID string) (*models.PaymentEntry, error) {
	var entry models.PaymentEntry
	err := s.conn(ctx).Where("provider_transaction_id = ?", transactionID).Order("id DESC").First(&entry).Error
	if err != nil {
		if models.IsNotFound(err) {
			return nil, fmt.Errorf("transaction %s: %w", transactionID, apperr.ErrNotFound)
		}
		return nil, err
	}
	return &entry, nil
}

// ListDueSubscriptions pages through active auto-renewing subscriptions whose next billing
// date is not after now.
func (s *Store) ListDueSubscriptions(ctx context.Context, now time.Time, afterID uint, limit int) ([]models.Subscription, error) {
	var subscriptions []models.Subscription
	err := s.conn(ctx).
		Where("status = ? AND auto_renew = ? AND next_billing_date <= ? AND id > ?", models.StatusActive, true, now, afterID).
		Order("id ASC").
		Limit(limit).
		Find(&subscriptions).Error
	return subscriptions, err
}

// ListLapsedSubscriptions pages through live subscriptions whose end date is before cutoff.
func (s *Store) ListLapsedSubscriptions(ctx context.Context, cutoff time.Time, afterID uint, limit int) ([]models.Subscription, error) {
	var subscriptions []models.Subscription
	err := s.conn(ctx).
		Where("status IN ? AND end_date < ? AND id > ?", liveStatuses, cutoff, afterID).
		Order("id ASC").
		Limit(limit).
		Find(&subscriptions).Error
	return subscriptions, err
}

// CountSubscriptionsByStatus returns the number of subscriptions per status.
func (s *Store) CountSubscriptionsByStatus(ctx context.Context) (map[models.SubscriptionStatus]int64, error) {
	var rows []struct {
		Status models.SubscriptionStatus
		Total  int64
	}
	err := s.conn(ctx).Model(&models.Subscription{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[models.SubscriptionStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Total
	}
	return counts, nil
}
