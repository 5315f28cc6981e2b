package services

import (
	"context"
	"fmt"
	"inspiration-api/internal/database"
	"inspiration-api/internal/metrics"
	"inspiration-api/internal/models"
	"inspiration-api/pkg/logging"
	"time"

	"github.com/google/uuid"
)

// NotificationService sends SMS through the gateway and keeps the message log
type NotificationService struct {
	store   *database.Store
	gateway Gateway
	metrics *metrics.Metrics
	timeout time.Duration
	now     func() time.Time
}

// NewNotificationService creates a notification service. timeout bounds each gateway call.
func NewNotificationService(store *database.Store, gateway Gateway, m *metrics.Metrics, timeout time.Duration) *NotificationService {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &NotificationService{
		store:   store,
		gateway: gateway,
		metrics: m,
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Send logs msg and sends it. msg is updated with the outcome and saved; the returned error
// is the gateway error, if any. A timed-out send is recorded as failed.
func (n *NotificationService) Send(ctx context.Context, msg *models.Message) error {
	if msg.SendID == "" {
		msg.SendID = uuid.NewString()
	}
	if msg.Channel == "" {
		msg.Channel = models.ChannelSMS
	}
	msg.Status = models.MessagePending
	if err := n.store.CreateMessage(ctx, msg); err != nil {
		return fmt.Errorf("failed to log message: %w", err)
	}
	return n.transmit(ctx, msg)
}

// Resend sends a logged message again and records the new outcome
func (n *NotificationService) Resend(ctx context.Context, msg *models.Message) error {
	msg.RetryCount++
	return n.transmit(ctx, msg)
}

func (n *NotificationService) transmit(ctx context.Context, msg *models.Message) error {
	callCtx, cancel := context.WithTimeout(ctx, n.timeout)
	result, sendErr := n.gateway.SendSMS(callCtx, msg.Recipient, msg.Body)
	cancel()

	now := n.now()
	if sendErr != nil {
		msg.Status = models.MessageFailed
		msg.ErrorMessage = truncate(sendErr.Error(), 255)
	} else {
		msg.Status = models.MessageSent
		msg.ProviderMessageID = result.MessageID
		msg.Cost = result.Cost
		msg.ErrorMessage = ""
		msg.NextRetryAt = nil
		msg.SentAt = &now
	}

	// The outcome must be saved even if the caller's context ended during the send
	saveCtx, cancelSave := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancelSave()
	if err := n.store.SaveMessage(saveCtx, msg); err != nil {
		logging.Errorf("Failed to update message log - send_id: %s, error: %v", msg.SendID, err)
	}

	n.metrics.Message(string(msg.Kind), string(msg.Status))
	return sendErr
}

// Notify sends a best-effort message. Failures are logged and never returned.
func (n *NotificationService) Notify(ctx context.Context, to, body string, kind models.MessageKind, subscriptionID *uint) {
	msg := &models.Message{
		Recipient:      to,
		Body:           body,
		Kind:           kind,
		SubscriptionID: subscriptionID,
	}
	if err := n.Send(ctx, msg); err != nil {
		logging.Warnf("Notification not delivered - to: %s, kind: %s, error: %v", to, kind, err)
	}
}

// LogInbound records an inbound SMS or USSD hit, best-effort
func (n *NotificationService) LogInbound(ctx context.Context, from, body string, kind models.MessageKind, channel string) {
	now := n.now()
	msg := &models.Message{
		SendID:    uuid.NewString(),
		Recipient: from,
		Body:      body,
		Kind:      kind,
		Channel:   channel,
		Status:    models.MessageDelivered,
		SentAt:    &now,
	}
	if err := n.store.CreateMessage(ctx, msg); err != nil {
		logging.Warnf("Failed to log inbound message - from: %s, error: %v", from, err)
	}
}
