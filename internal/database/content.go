package database

import (
	"context"
	"inspiration-api/internal/models"
	"time"

	"gorm.io/gorm"
)

// ListContent returns active content for category and language, highest priority first and
// least used first within a priority.
func (s *Store) ListContent(ctx context.Context, category models.Category, language string) ([]models.Content, error) {
	var items []models.Content
	err := s.conn(ctx).
		Where("category = ? AND language = ? AND is_active = ?", category, language, true).
		Order("priority DESC").
		Order("usage_count ASC").
		Order("id ASC").
		Find(&items).Error
	return items, err
}

// CreateContent inserts a content item
func (s *Store) CreateContent(ctx context.Context, item *models.Content) error {
	return s.conn(ctx).Create(item).Error
}

// IncrementContentUsage bumps the usage counter in SQL so concurrent deliveries never lose counts.
func (s *Store) IncrementContentUsage(ctx context.Context, id uint, now time.Time) error {
	return s.conn(ctx).Model(&models.Content{}).Where("id = ?", id).
		UpdateColumns(map[string]interface{}{
			"usage_count":  gorm.Expr("usage_count + ?", 1),
			"last_used_at": now,
		}).Error
}

// GetContent loads a content item by id.
func (s *Store) GetContent(ctx context.Context, id uint) (*models.Content, error) {
	var item models.Content
	if err := s.conn(ctx).First(&item, id).Error; err != nil {
		return nil, err
	}
	return &item, nil
}
