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

func preloadHistory(db *gorm.DB) *gorm.DB {
	return db.Order("id ASC")
}

// GetSubscriberByPhone loads a subscriber and its category history.
func (s *Store) GetSubscriberByPhone(ctx context.Context, phoneNumber string) (*models.Subscriber, error) {
	return s.getSubscriber(ctx, s.conn(ctx).Where("phone_number = ?", phoneNumber), false)
}

// LockSubscriberByPhone loads a subscriber with its row locked for the current transaction.
func (s *Store) LockSubscriberByPhone(ctx context.Context, phoneNumber string) (*models.Subscriber, error) {
	return s.getSubscriber(ctx, s.conn(ctx).Where("phone_number = ?", phoneNumber), true)
}

// GetSubscriber loads a subscriber by id.
func (s *Store) GetSubscriber(ctx context.Context, id uint) (*models.Subscriber, error) {
	return s.getSubscriber(ctx, s.conn(ctx).Where("id = ?", id), false)
}

// LockSubscriber loads a subscriber by id with its row locked.
func (s *Store) LockSubscriber(ctx context.Context, id uint) (*models.Subscriber, error) {
	return s.getSubscriber(ctx, s.conn(ctx).Where("id = ?", id), true)
}

func (s *Store) getSubscriber(ctx context.Context, q *gorm.DB, lock bool) (*models.Subscriber, error) {
	if lock {
		q = s.forUpdate(q)
	}
	var subscriber models.Subscriber
	err := q.Preload("Categories", preloadHistory).First(&subscriber).Error
	if err != nil {
		if models.IsNotFound(err) {
			return nil, fmt.Errorf("subscriber: %w", apperr.ErrNotFound)
		}
		return nil, err
	}
	return &subscriber, nil
}

// FindOrCreateSubscriber returns the subscriber for phoneNumber, creating it with default
// preferences on first contact. Concurrent first contacts resolve to the same row.
func (s *Store) FindOrCreateSubscriber(ctx context.Context, phoneNumber string, now time.Time) (*models.Subscriber, bool, error) {
	subscriber, err := s.GetSubscriberByPhone(ctx, phoneNumber)
	if err == nil {
		return subscriber, false, nil
	}
	if !apperr.IsNotFound(err) {
		return nil, false, err
	}

	fresh := models.NewSubscriber(phoneNumber, now)
	result := s.conn(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "phone_number"}}, DoNothing: true}).
		Create(fresh)
	if result.Error != nil {
		return nil, false, fmt.Errorf("failed to create subscriber: %w", result.Error)
	}
	created := result.RowsAffected == 1

	subscriber, err = s.GetSubscriberByPhone(ctx, phoneNumber)
	if err != nil {
		return nil, false, err
	}
	return subscriber, created, nil
}

// SaveSubscriber persists the subscriber and every history entry. New entries are inserted.
func (s *Store) SaveSubscriber(ctx context.Context, subscriber *models.Subscriber) error {
	db := s.conn(ctx)
	if err := db.Omit(clause.Associations).Save(subscriber).Error; err != nil {
		return fmt.Errorf("failed to save subscriber: %w", err)
	}
	for i := range subscriber.Categories {
		entry := &subscriber.Categories[i]
		entry.SubscriberID = subscriber.ID
		if err := db.Save(entry).Error; err != nil {
			return fmt.Errorf("failed to save category entry: %w", err)
		}
	}
	return nil
}

// TouchSubscriber records an interaction without loading the history.
func (s *Store) TouchSubscriber(ctx context.Context, id uint, now time.Time) error {
	return s.conn(ctx).Model(&models.Subscriber{}).Where("id = ?", id).
		Updates(map[string]interface{}{"last_interaction_at": now, "is_active": true}).Error
}

// AddSpend adds amount to the subscriber's cumulative spend.
func (s *Store) AddSpend(ctx context.Context, id uint, amount float64) error {
	return s.conn(ctx).Model(&models.Subscriber{}).Where("id = ?", id).
		UpdateColumn("total_spent", gorm.Expr("total_spent + ?", amount)).Error
}

// ListDeliverySubscribers pages through active subscribers whose delivery time is slot and
// who hold at least one active category entry. Results are ordered by id after afterID.
func (s *Store) ListDeliverySubscribers(ctx context.Context, slot string, afterID uint, limit int) ([]models.Subscriber, error) {
	hasActive := s.conn(ctx).Model(&models.CategoryEntry{}).Select("1").
		Where("category_entry.subscriber_id = subscriber.id AND category_entry.active = ?", true)

	var subscribers []models.Subscriber
	err := s.conn(ctx).
		Where("is_active = ? AND delivery_time = ? AND id > ?", true, slot, afterID).
		Where("EXISTS (?)", hasActive).
		Preload("Categories", "active = ?", true).
		Order("id ASC").
		Limit(limit).
		Find(&subscribers).Error
	return subscribers, err
}

// DeactivateIdleSubscribers marks subscribers without interaction since before as inactive.
// Subscribers still holding an active category entry are left alone.
func (s *Store) DeactivateIdleSubscribers(ctx context.Context, before time.Time) (int64, error) {
	hasActive := s.conn(ctx).Model(&models.CategoryEntry{}).Select("1").
		Where("category_entry.subscriber_id = subscriber.id AND category_entry.active = ?", true)

	result := s.conn(ctx).Model(&models.Subscriber{}).
		Where("is_active = ? AND last_interaction_at < ?", true, before).
		Where("NOT EXISTS (?)", hasActive).
		Update("is_active", false)
	return result.RowsAffected, result.Error
}

// CountActiveSubscribers counts subscribers not marked inactive.
func (s *Store) CountActiveSubscribers(ctx context.Context) (int64, error) {
	var n int64
	err := s.conn(ctx).Model(&models.Subscriber{}).Where("is_active = ?", true).Count(&n).Error
	return n, err
}
