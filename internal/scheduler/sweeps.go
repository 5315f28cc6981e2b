package scheduler

import (
	"context"
	"errors"
	"fmt"
	"inspiration-api/internal/apperr"
	"inspiration-api/internal/models"
	"inspiration-api/internal/services"
	"inspiration-api/pkg/logging"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// dedupeTTL outlives a delivery day in any time zone
const dedupeTTL = 36 * time.Hour

// Report counts the units handled by one sweep
type Report struct {
	Job       Job    `json:"job"`
	Processed int    `json:"processed"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
	Duration  string `json:"duration,omitempty"`

	mu sync.Mutex
}

func (r *Report) add(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Processed++
	switch outcome {
	case "succeeded":
		r.Succeeded++
	case "failed":
		r.Failed++
	default:
		r.Skipped++
	}
}

func (s *Scheduler) unit(report *Report, outcome string) {
	report.add(outcome)
	s.Metrics.SweepUnit(string(report.Job), outcome)
}

func (s *Scheduler) group() *errgroup.Group {
	g := &errgroup.Group{}
	g.SetLimit(s.cfg.Workers)
	return g
}

// DeliveryKey is the dedupe mark of one day's delivery of category to phone
func DeliveryKey(phoneNumber string, category models.Category, day time.Time) string {
	return fmt.Sprintf("delivery:%s:%s:%s", phoneNumber, category, day.Format("2006-01-02"))
}

// Deliver sends the day's content to every subscriber whose delivery time is slot. day is
// the local date of the tick.
func (s *Scheduler) Deliver(ctx context.Context, slot string, day time.Time) (*Report, error) {
	report := &Report{Job: JobDelivery}
	day = day.In(s.location)

	var afterID uint
	for {
		batch, err := s.Store.ListDeliverySubscribers(ctx, slot, afterID, s.cfg.BatchSize)
		if err != nil {
			return report, fmt.Errorf("failed to list subscribers for %s: %w", slot, err)
		}
		if len(batch) == 0 {
			break
		}
		afterID = batch[len(batch)-1].ID

		g := s.group()
		for i := range batch {
			subscriber := &batch[i]
			g.Go(func() error {
				s.deliverTo(ctx, subscriber, day, report)
				return nil
			})
		}
		g.Wait()

		if err := ctx.Err(); err != nil {
			return report, err
		}
		if len(batch) < s.cfg.BatchSize {
			break
		}
	}
	return report, nil
}

func (s *Scheduler) deliverTo(ctx context.Context, subscriber *models.Subscriber, day time.Time, report *Report) {
	paused, err := s.Subscriptions.PausedCategories(ctx, subscriber.ID)
	if err != nil {
		logging.Warnf("[Scheduler] Failed to read paused categories - phone: %s, error: %v", subscriber.PhoneNumber, err)
	}
	for _, entry := range subscriber.ActiveCategories(s.now()) {
		if ctx.Err() != nil {
			return
		}
		if paused[entry.Category] {
			s.unit(report, "skipped")
			continue
		}
		outcome := s.deliverUnit(ctx, subscriber, entry.Category, day)
		s.unit(report, outcome)
		if outcome != "skipped" {
			s.sleep(ctx, s.cfg.SendDelay)
		}
	}
}

func (s *Scheduler) deliverUnit(ctx context.Context, subscriber *models.Subscriber, category models.Category, day time.Time) string {
	// The mark is claimed before sending so overlapping runs of the same slot send once.
	// It is released only when nothing was logged; a logged failure belongs to the retry sweep.
	key := DeliveryKey(subscriber.PhoneNumber, category, day)
	claimed, err := s.Marker.Mark(ctx, key, dedupeTTL)
	if err != nil {
		logging.Warnf("[Scheduler] Dedupe claim failed, sending - key: %s, error: %v", key, err)
	} else if !claimed {
		return "skipped"
	}
	release := func() {
		if !claimed {
			return
		}
		if err := s.Marker.Unmark(context.WithoutCancel(ctx), key); err != nil {
			logging.Warnf("[Scheduler] Failed to release dedupe mark - key: %s, error: %v", key, err)
		}
	}

	item, err := s.Selector.Pick(ctx, category, subscriber.Language)
	if err != nil {
		logging.Errorf("[Scheduler] Failed to pick content - category: %s, error: %v", category, err)
		release()
		return "failed"
	}
	if item == nil {
		logging.Warnf("[Scheduler] No content available - category: %s, language: %s", category, subscriber.Language)
		release()
		return "skipped"
	}

	contentID := item.ID
	msg := &models.Message{
		Recipient:  subscriber.PhoneNumber,
		Body:       s.Templates.Content(category, item),
		Kind:       models.KindDelivery,
		Category:   category,
		ContentID:  &contentID,
		CampaignID: models.CampaignID(category, day),
	}
	sendErr := s.Notifications.Send(ctx, msg)

	if err := s.Selector.RecordUsage(ctx, item); err != nil {
		logging.Warnf("[Scheduler] Failed to record content usage - content: %d, error: %v", item.ID, err)
	}

	if sendErr != nil {
		logging.Warnf("[Scheduler] Delivery failed - phone: %s, category: %s, error: %v", subscriber.PhoneNumber, category, sendErr)
		if msg.ID != 0 {
			s.scheduleRetry(ctx, msg, sendErr)
		} else {
			release()
		}
		return "failed"
	}
	return "succeeded"
}

// scheduleRetry books the next attempt of a failed delivery, or alerts once it is exhausted
func (s *Scheduler) scheduleRetry(ctx context.Context, msg *models.Message, sendErr error) {
	scheduled := s.Retry.ScheduleRetry(msg, sendErr, s.now())
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.Store.SaveMessage(saveCtx, msg); err != nil {
		logging.Errorf("[Scheduler] Failed to save retry state - send_id: %s, error: %v", msg.SendID, err)
		return
	}
	if scheduled {
		s.Metrics.DeliveryRetry("scheduled")
		return
	}
	s.Metrics.DeliveryRetry("exhausted")
	if msg.RetryCount == 0 && errors.Is(sendErr, services.ErrProviderRejected) {
		logging.Warnf("[Scheduler] Delivery rejected, not retrying - send_id: %s, phone: %s", msg.SendID, msg.Recipient)
		return
	}
	body := fmt.Sprintf("Delivery %s to %s failed after %d attempts.\nCampaign: %s\nLast error: %s",
		msg.SendID, msg.Recipient, msg.RetryCount+1, msg.CampaignID, msg.ErrorMessage)
	if err := s.Alerter.Alert(ctx, "Delivery retries exhausted", body); err != nil {
		logging.Errorf("[Scheduler] Failed to send alert: %v", err)
	}
}

// Bill initiates a charge for every due subscription
func (s *Scheduler) Bill(ctx context.Context) (*Report, error) {
	report := &Report{Job: JobBilling}
	now := s.now()

	var afterID uint
	for {
		batch, err := s.Store.ListDueSubscriptions(ctx, now, afterID, s.cfg.BatchSize)
		if err != nil {
			return report, fmt.Errorf("failed to list due subscriptions: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		afterID = batch[len(batch)-1].ID

		g := s.group()
		for i := range batch {
			id := batch[i].ID
			g.Go(func() error {
				outcome, err := s.Subscriptions.ChargeDue(ctx, id)
				switch outcome {
				case services.ChargeInitiated:
					s.unit(report, "succeeded")
				case services.ChargeFailed:
					s.unit(report, "failed")
				default:
					if err != nil {
						logging.Errorf("[Scheduler] Charge failed - subscription: %d, error: %v", id, err)
						s.unit(report, "failed")
						return nil
					}
					s.unit(report, "skipped")
					return nil
				}
				s.sleep(ctx, s.cfg.ChargeDelay)
				return nil
			})
		}
		g.Wait()

		if err := ctx.Err(); err != nil {
			return report, err
		}
		if len(batch) < s.cfg.BatchSize {
			break
		}
	}
	return report, nil
}

// RetryFailed re-sends failed deliveries whose retry time has come
func (s *Scheduler) RetryFailed(ctx context.Context) (*Report, error) {
	report := &Report{Job: JobRetry}
	messages, err := s.Store.ListRetryableMessages(ctx, s.now(), s.cfg.BatchSize)
	if err != nil {
		return report, fmt.Errorf("failed to list retryable messages: %w", err)
	}

	g := s.group()
	for i := range messages {
		msg := &messages[i]
		g.Go(func() error {
			err := s.Notifications.Resend(ctx, msg)
			if err != nil {
				logging.Warnf("[Scheduler] Retry failed - send_id: %s, attempt: %d, error: %v", msg.SendID, msg.RetryCount+1, err)
				s.scheduleRetry(ctx, msg, err)
				s.unit(report, "failed")
			} else {
				s.Metrics.DeliveryRetry("sent")
				key := DeliveryKey(msg.Recipient, msg.Category, msg.CreatedAt.In(s.location))
				if _, err := s.Marker.Mark(ctx, key, dedupeTTL); err != nil {
					logging.Warnf("[Scheduler] Failed to write dedupe mark - key: %s, error: %v", key, err)
				}
				s.unit(report, "succeeded")
			}
			s.sleep(ctx, s.cfg.SendDelay)
			return nil
		})
	}
	g.Wait()
	return report, ctx.Err()
}

// Cleanup purges old messages, expires lapsed subscriptions, deactivates idle subscribers
// and refreshes the subscription gauges.
func (s *Scheduler) Cleanup(ctx context.Context) (*Report, error) {
	report := &Report{Job: JobCleanup}
	now := s.now()

	purged, err := s.Store.PurgeMessages(ctx, now.Add(-s.cfg.MessageRetention))
	if err != nil {
		return report, fmt.Errorf("failed to purge messages: %w", err)
	}
	logging.Infof("[Scheduler] Purged messages - count: %d", purged)

	cutoff := now.Add(-s.cfg.ExpiryGrace)
	var afterID uint
	for {
		batch, err := s.Store.ListLapsedSubscriptions(ctx, cutoff, afterID, s.cfg.BatchSize)
		if err != nil {
			return report, fmt.Errorf("failed to list lapsed subscriptions: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		afterID = batch[len(batch)-1].ID
		for _, sub := range batch {
			expired, err := s.Subscriptions.ExpireLapsed(ctx, sub.ID, cutoff)
			switch {
			case err != nil && !apperr.IsNotFound(err):
				logging.Errorf("[Scheduler] Failed to expire subscription - subscription: %d, error: %v", sub.ID, err)
				s.unit(report, "failed")
			case expired:
				s.unit(report, "succeeded")
			default:
				s.unit(report, "skipped")
			}
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if len(batch) < s.cfg.BatchSize {
			break
		}
	}

	idle, err := s.Store.DeactivateIdleSubscribers(ctx, now.Add(-s.cfg.InactiveAfter))
	if err != nil {
		return report, fmt.Errorf("failed to deactivate idle subscribers: %w", err)
	}
	logging.Infof("[Scheduler] Deactivated idle subscribers - count: %d", idle)

	s.refreshGauges(ctx)
	return report, nil
}

func (s *Scheduler) refreshGauges(ctx context.Context) {
	counts, err := s.Store.CountSubscriptionsByStatus(ctx)
	if err != nil {
		logging.Warnf("[Scheduler] Failed to count subscriptions: %v", err)
	} else {
		byStatus := make(map[string]int64, len(counts))
		for status, n := range counts {
			byStatus[string(status)] = n
		}
		s.Metrics.SetSubscriptionCounts(byStatus)
	}

	active, err := s.Store.CountActiveSubscribers(ctx)
	if err != nil {
		logging.Warnf("[Scheduler] Failed to count subscribers: %v", err)
		return
	}
	s.Metrics.SetActiveSubscribers(active)
}
