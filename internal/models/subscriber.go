package models

import (
	"time"
)

// Subscriber is one phone number reachable over SMS and USSD.
type Subscriber struct {
	BaseModel

	PhoneNumber       string    `json:"phone_number" gorm:"size:20;uniqueIndex;not null"` // canonical, e.g. 254712345678
	Name              string    `json:"name" gorm:"size:100"`
	Language          string    `json:"language" gorm:"size:5;not null"`
	DeliveryTime      string    `json:"delivery_time" gorm:"size:5;not null;index"` // HH:MM in the scheduler time zone
	IsActive          bool      `json:"is_active" gorm:"index"`
	TotalSpent        float64   `json:"total_spent"`
	LastInteractionAt time.Time `json:"last_interaction_at" gorm:"index"`

	// Append-only category history
	Categories []CategoryEntry `json:"categories,omitempty" gorm:"foreignKey:SubscriberID"`
}

// CategoryEntry is one subscription to a category in a subscriber's history.
type CategoryEntry struct {
	BaseModel

	SubscriberID uint      `json:"subscriber_id" gorm:"not null;index"`
	Category     Category  `json:"category" gorm:"size:20;not null;index"`
	Cycle        Cycle     `json:"cycle" gorm:"size:10;not null"`
	StartDate    time.Time `json:"start_date"`
	EndDate      time.Time `json:"end_date"`
	Active       bool      `json:"active" gorm:"index"`
}

const (
	DefaultLanguage     = "en"
	DefaultDeliveryTime = "09:00"
)

// DeliverySlots are the delivery times a subscriber can choose. The delivery sweep
// fires at each of them.
var DeliverySlots = []string{"06:00", "09:00", "12:00", "18:00"}

// ValidDeliveryTime reports whether hhmm is one of the delivery slots.
func ValidDeliveryTime(hhmm string) bool {
	for _, slot := range DeliverySlots {
		if slot == hhmm {
			return true
		}
	}
	return false
}

// NewSubscriber returns a subscriber with default preferences.
func NewSubscriber(phoneNumber string, now time.Time) *Subscriber {
	return &Subscriber{
		PhoneNumber:       phoneNumber,
		Language:          DefaultLanguage,
		DeliveryTime:      DefaultDeliveryTime,
		IsActive:          true,
		LastInteractionAt: now,
	}
}

// AddSubscription deactivates any active entry for category and appends a fresh one
// covering one cycle from now.
func (s *Subscriber) AddSubscription(category Category, cycle Cycle, now time.Time) *CategoryEntry {
	s.deactivate(category, now, false)
	s.Categories = append(s.Categories, CategoryEntry{
		SubscriberID: s.ID,
		Category:     category,
		Cycle:        cycle,
		StartDate:    now,
		EndDate:      cycle.Advance(now, 1),
		Active:       true,
	})
	return &s.Categories[len(s.Categories)-1]
}

// CancelCategory deactivates the active entry for category and reports whether one existed.
func (s *Subscriber) CancelCategory(category Category, now time.Time) bool {
	return s.deactivate(category, now, true)
}

func (s *Subscriber) deactivate(category Category, now time.Time, truncate bool) bool {
	changed := false
	for i := range s.Categories {
		e := &s.Categories[i]
		if e.Category != category || !e.Active {
			continue
		}
		e.Active = false
		if truncate && e.EndDate.After(now) {
			e.EndDate = now
		}
		changed = true
	}
	return changed
}

// ExtendCategory moves the end date of the active entry for category to endDate.
// Earlier dates are ignored.
func (s *Subscriber) ExtendCategory(category Category, endDate time.Time) bool {
	for i := range s.Categories {
		e := &s.Categories[i]
		if e.Category == category && e.Active && endDate.After(e.EndDate) {
			e.EndDate = endDate
			return true
		}
	}
	return false
}

// ActiveCategories derives the entries that are active and not past their end date.
func (s *Subscriber) ActiveCategories(now time.Time) []CategoryEntry {
	var out []CategoryEntry
	for _, e := range s.Categories {
		if e.Active && !now.After(e.EndDate) {
			out = append(out, e)
		}
	}
	return out
}

// HasActive reports whether category is currently active.
func (s *Subscriber) HasActive(category Category, now time.Time) bool {
	for _, e := range s.ActiveCategories(now) {
		if e.Category == category {
			return true
		}
	}
	return false
}

// Touch records an inbound interaction and reactivates an idle subscriber.
func (s *Subscriber) Touch(now time.Time) {
	s.LastInteractionAt = now
	s.IsActive = true
}
