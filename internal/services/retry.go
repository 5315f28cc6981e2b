package services

import (
	"errors"
	"inspiration-api/internal/apperr"
	"inspiration-api/internal/models"
	"math"
	"time"
)

// RetryConfig configures delivery retries
type RetryConfig struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// RetryPolicy decides whether and when a failed delivery is sent again
type RetryPolicy struct {
	config RetryConfig
}

// NewRetryPolicy creates a policy, filling unset fields with defaults
func NewRetryPolicy(config RetryConfig) *RetryPolicy {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = time.Minute
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = time.Hour
	}
	if config.BackoffMultiplier < 1 {
		config.BackoffMultiplier = 2
	}
	return &RetryPolicy{config: config}
}

// ShouldRetry reports whether another attempt is allowed after attempts tries failed with err.
// Provider rejections are permanent.
func (p *RetryPolicy) ShouldRetry(attempts int, err error) bool {
	if attempts >= p.config.MaxAttempts {
		return false
	}
	if err != nil && errors.Is(err, ErrProviderRejected) && !errors.Is(err, apperr.ErrTransientProvider) {
		return false
	}
	return true
}

// NextRetryDelay is the wait before attempt number attempts+1
func (p *RetryPolicy) NextRetryDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := float64(p.config.InitialDelay) * math.Pow(p.config.BackoffMultiplier, float64(attempts-1))
	if delay > float64(p.config.MaxDelay) {
		return p.config.MaxDelay
	}
	return time.Duration(delay)
}

// MaxAttempts returns the configured ceiling
func (p *RetryPolicy) MaxAttempts() int {
	return p.config.MaxAttempts
}

// ScheduleRetry sets the next retry time of a failed delivery after err, or marks it
// exhausted. It reports whether a retry was scheduled.
func (p *RetryPolicy) ScheduleRetry(msg *models.Message, err error, now time.Time) bool {
	attempts := msg.RetryCount + 1
	if msg.Kind != models.KindDelivery || !p.ShouldRetry(attempts, err) {
		msg.NextRetryAt = nil
		msg.RetryExhausted = true
		return false
	}
	next := now.Add(p.NextRetryDelay(attempts))
	msg.NextRetryAt = &next
	return true
}
