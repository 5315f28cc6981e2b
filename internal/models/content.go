package models

import (
	"time"
)

// Content is one quote or verse that can be delivered to subscribers.
type Content struct {
	BaseModel

	Category   Category   `json:"category" gorm:"size:20;not null;index:idx_content_pool"`
	Language   string     `json:"language" gorm:"size:5;not null;index:idx_content_pool"`
	Title      string     `json:"title" gorm:"size:200;not null"`
	Body       string     `json:"body" gorm:"type:text;not null"`
	Author     string     `json:"author" gorm:"size:100"`
	Tags       string     `json:"tags" gorm:"size:255"` // comma separated
	Priority   int        `json:"priority" gorm:"not null"`
	IsActive   bool       `json:"is_active" gorm:"index:idx_content_pool"`
	UsageCount int        `json:"usage_count"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

const (
	MinPriority = 1
	MaxPriority = 10
)

// Weight is the selection weight: fresh, high-priority items are drawn most often.
func (c *Content) Weight() int {
	priority := c.Priority
	if priority < MinPriority {
		priority = MinPriority
	}
	if priority > MaxPriority {
		priority = MaxPriority
	}
	freshness := 11 - c.UsageCount
	if freshness < 1 {
		freshness = 1
	}
	return freshness * priority
}
