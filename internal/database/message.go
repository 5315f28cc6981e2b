package database

import (
	"context"
	"fmt"
	"inspiration-api/internal/apperr"
	"inspiration-api/internal/models"
	"time"
)

// CreateMessage logs a message
func (s *Store) CreateMessage(ctx context.Context, message *models.Message) error {
	return s.conn(ctx).Create(message).Error
}

// SaveMessage updates a logged message
func (s *Store) SaveMessage(ctx context.Context, message *models.Message) error {
	return s.conn(ctx).Save(message).Error
}

// GetMessageByProviderID finds the message a delivery report refers to.
func (s *Store) GetMessageByProviderID(ctx context.Context, providerMessageID string) (*models.Message, error) {
	var message models.Message
	err := s.conn(ctx).Where("provider_message_id = ?", providerMessageID).First(&message).Error
	if err != nil {
		if models.IsNotFound(err) {
			return nil, fmt.Errorf("message %s: %w", providerMessageID, apperr.ErrNotFound)
		}
		return nil, err
	}
	return &message, nil
}

// ListRetryableMessages returns failed deliveries whose retry time has come.
func (s *Store) ListRetryableMessages(ctx context.Context, now time.Time, limit int) ([]models.Message, error) {
	var messages []models.Message
	err := s.conn(ctx).
		Where("kind = ? AND status = ? AND retry_exhausted = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?",
			models.KindDelivery, models.MessageFailed, false, now).
		Order("next_retry_at ASC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

// PurgeMessages hard-deletes delivered and failed messages created before cutoff.
func (s *Store) PurgeMessages(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.conn(ctx).Unscoped().
		Where("created_at < ? AND status IN ?", cutoff, []models.MessageStatus{models.MessageDelivered, models.MessageFailed}).
		Delete(&models.Message{})
	return result.RowsAffected, result.Error
}

// CountMessagesByStatus returns message counts per status created since since.
func (s *Store) CountMessagesByStatus(ctx context.Context, since time.Time) (map[models.MessageStatus]int64, error) {
	var rows []struct {
		Status models.MessageStatus
		Total  int64
	}
	err := s.conn(ctx).Model(&models.Message{}).
		Select("status, COUNT(*) AS total").
		Where("created_at >= ?", since).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[models.MessageStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Total
	}
	return counts, nil
}
