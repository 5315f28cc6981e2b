package models

import (
	"errors"
	"fmt"
	"inspiration-api/internal/apperr"
	"time"

	"gorm.io/gorm"
)

// BaseModel provides common fields for all database models
type BaseModel struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// ErrInvalidTransition is returned when a status change is not allowed from the current status.
var ErrInvalidTransition = fmt.Errorf("invalid status transition: %w", apperr.ErrInvalidInput)

// Category is one of the content classes a subscriber can subscribe to.
type Category string

const (
	CategoryLove  Category = "love"
	CategoryBible Category = "bible"
)

// AllCategories lists every category in menu order.
var AllCategories = []Category{CategoryLove, CategoryBible}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	return c == CategoryLove || c == CategoryBible
}

// Label is the human readable service name.
func (c Category) Label() string {
	switch c {
	case CategoryLove:
		return "Love Quotes"
	case CategoryBible:
		return "Bible Verses"
	default:
		return string(c)
	}
}

// ParseCategory validates a category name.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q: %w", s, apperr.ErrInvalidInput)
	}
	return c, nil
}

// Cycle is the billing period granularity.
type Cycle string

const (
	CycleDaily  Cycle = "daily"
	CycleWeekly Cycle = "weekly"
)

// Valid reports whether c is a known cycle.
func (c Cycle) Valid() bool {
	return c == CycleDaily || c == CycleWeekly
}

// Days returns the cycle length in calendar days.
func (c Cycle) Days() int {
	if c == CycleWeekly {
		return 7
	}
	return 1
}

// Advance moves t forward by periods cycles, in calendar days.
func (c Cycle) Advance(t time.Time, periods int) time.Time {
	return t.AddDate(0, 0, periods*c.Days())
}

// ParseCycle validates a cycle name. Empty means daily.
func ParseCycle(s string) (Cycle, error) {
	if s == "" {
		return CycleDaily, nil
	}
	c := Cycle(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown cycle %q: %w", s, apperr.ErrInvalidInput)
	}
	return c, nil
}

// IsNotFound reports whether err is a gorm record-not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
