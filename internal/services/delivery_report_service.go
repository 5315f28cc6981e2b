package services

import (
	"context"
	"fmt"
	"inspiration-api/internal/apperr"
	"inspiration-api/internal/database"
	"inspiration-api/internal/models"
	"inspiration-api/pkg/logging"
	"time"
)

// DeliveryReportService applies SMS delivery reports to the message log
type DeliveryReportService struct {
	store    *database.Store
	verifier *SignatureVerifier
	replay   *ReplayProtection
	retry    *RetryPolicy
	alerter  Alerter
	now      func() time.Time
}

// NewDeliveryReportService creates a delivery report service
func NewDeliveryReportService(store *database.Store, verifier *SignatureVerifier, replay *ReplayProtection, retry *RetryPolicy, alerter Alerter) *DeliveryReportService {
	return &DeliveryReportService{
		store:    store,
		verifier: verifier,
		replay:   replay,
		retry:    retry,
		alerter:  alerter,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Verify checks the report signature
func (s *DeliveryReportService) Verify(body []byte, signature, timestamp string) error {
	return s.verifier.VerifyNotification(body, signature, timestamp)
}

// Apply records a delivery report. Duplicate and unknown reports are acknowledged without
// change. A failed scheduled delivery gets a bounded retry or, once exhausted, an alert.
func (s *DeliveryReportService) Apply(ctx context.Context, report *models.DeliveryReport) (ReconcileOutcome, error) {
	if s.replay.IsReplay(ctx, "delivery-report", report.RequestID, report.Status) {
		logging.Infof("Duplicate delivery report - request: %s, status: %s", report.RequestID, report.Status)
		return ReconcileDuplicate, nil
	}

	msg, err := s.store.GetMessageByProviderID(ctx, report.RequestID)
	if err != nil {
		if apperr.IsNotFound(err) {
			logging.Warnf("Delivery report for unknown message - request: %s", report.RequestID)
			return ReconcileUnknown, nil
		}
		return ReconcileIgnored, err
	}

	now := s.now()
	msg.Status = report.MessageStatus()
	msg.ReportStatus = truncate(report.Status, 30)
	msg.ErrorCode = truncate(report.ErrorCode, 30)
	msg.ErrorMessage = truncate(report.ErrorMessage, 255)
	if msg.Status == models.MessageDelivered {
		msg.DeliveredAt = &now
		msg.NextRetryAt = nil
	}

	exhausted := false
	if msg.Status == models.MessageFailed && msg.Kind == models.KindDelivery {
		reason := fmt.Errorf("%w: delivery report %s %s", apperr.ErrTransientProvider, report.Status, report.ErrorCode)
		exhausted = !s.retry.ScheduleRetry(msg, reason, now)
	}

	if err := s.store.SaveMessage(ctx, msg); err != nil {
		return ReconcileIgnored, fmt.Errorf("failed to update message: %w", err)
	}

	logging.Infof("Delivery report applied - request: %s, status: %s, send_id: %s", report.RequestID, msg.Status, msg.SendID)
	if exhausted {
		s.alertExhausted(ctx, msg)
	}
	return ReconcileApplied, nil
}

func (s *DeliveryReportService) alertExhausted(ctx context.Context, msg *models.Message) {
	body := fmt.Sprintf("Delivery %s to %s failed after %d attempts.\nCampaign: %s\nLast error: %s %s",
		msg.SendID, msg.Recipient, msg.RetryCount+1, msg.CampaignID, msg.ErrorCode, msg.ErrorMessage)
	if err := s.alerter.Alert(ctx, "Delivery retries exhausted", body); err != nil {
		logging.Errorf("Failed to send alert: %v", err)
	}
}
