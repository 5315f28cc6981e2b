package services

import (
	"context"
	"fmt"
	"inspiration-api/internal/database"
	"inspiration-api/internal/models"
	"math/rand"
	"sync"
	"time"
)

// ContentSelector draws content by weighted random so that less used, higher priority items
// come up more often
type ContentSelector struct {
	store *database.Store

	mu  sync.Mutex
	rnd *rand.Rand
	now func() time.Time
}

// NewContentSelector creates a selector with a time-seeded random source
func NewContentSelector(store *database.Store) *ContentSelector {
	return &ContentSelector{
		store: store,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithRand replaces the random source
func (s *ContentSelector) WithRand(rnd *rand.Rand) *ContentSelector {
	s.mu.Lock()
	s.rnd = rnd
	s.mu.Unlock()
	return s
}

// Pick returns one content item for category and language, falling back to the default
// language. It returns nil without error when nothing is available.
func (s *ContentSelector) Pick(ctx context.Context, category models.Category, language string) (*models.Content, error) {
	if language == "" {
		language = models.DefaultLanguage
	}
	items, err := s.store.ListContent(ctx, category, language)
	if err != nil {
		return nil, fmt.Errorf("failed to list content: %w", err)
	}
	if len(items) == 0 && language != models.DefaultLanguage {
		items, err = s.store.ListContent(ctx, category, models.DefaultLanguage)
		if err != nil {
			return nil, fmt.Errorf("failed to list content: %w", err)
		}
	}
	if len(items) == 0 {
		return nil, nil
	}
	item := s.draw(items)
	return &item, nil
}

// draw picks proportionally to weight, same as drawing uniformly from a pool where each item
// appears weight times
func (s *ContentSelector) draw(items []models.Content) models.Content {
	total := 0
	for i := range items {
		total += items[i].Weight()
	}

	s.mu.Lock()
	n := s.rnd.Intn(total)
	s.mu.Unlock()

	for i := range items {
		n -= items[i].Weight()
		if n < 0 {
			return items[i]
		}
	}
	return items[len(items)-1]
}

// RecordUsage bumps the usage count and timestamp of item
func (s *ContentSelector) RecordUsage(ctx context.Context, item *models.Content) error {
	if item == nil {
		return nil
	}
	if err := s.store.IncrementContentUsage(ctx, item.ID, s.now()); err != nil {
		return fmt.Errorf("failed to record content usage: %w", err)
	}
	return nil
}
