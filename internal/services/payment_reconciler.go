package services

import (
	"context"
	"errors"
	"fmt"
	"inspiration-api/internal/apperr"
	"inspiration-api/internal/models"
	"inspiration-api/pkg/logging"
)

// ReconcileOutcome describes what a payment callback did
type ReconcileOutcome string

const (
	ReconcileApplied   ReconcileOutcome = "applied"
	ReconcileDuplicate ReconcileOutcome = "duplicate"
	ReconcileUnknown   ReconcileOutcome = "unknown_transaction"
	ReconcileIgnored   ReconcileOutcome = "ignored"
)

// PaymentReconciler applies payment provider callbacks to subscriptions
type PaymentReconciler struct {
	verifier      *SignatureVerifier
	subscriptions *SubscriptionService
	notifications *NotificationService
	templates     *Templates
	alerter       Alerter
}

// NewPaymentReconciler creates a reconciler
func NewPaymentReconciler(verifier *SignatureVerifier, subscriptions *SubscriptionService, notifications *NotificationService, templates *Templates, alerter Alerter) *PaymentReconciler {
	return &PaymentReconciler{
		verifier:      verifier,
		subscriptions: subscriptions,
		notifications: notifications,
		templates:     templates,
		alerter:       alerter,
	}
}

// Verify checks the callback signature. Nothing is mutated before it passes.
func (r *PaymentReconciler) Verify(body []byte, signature, timestamp string) error {
	return r.verifier.VerifyNotification(body, signature, timestamp)
}

// Reconcile applies a verified callback. Unknown transactions and already settled entries
// are acknowledged without change. Notifications go out after commit and never undo it.
func (r *PaymentReconciler) Reconcile(ctx context.Context, n *models.PaymentNotification) (ReconcileOutcome, error) {
	status := n.PaymentStatus()
	if !status.Terminal() {
		logging.Infof("Payment callback not final - transaction: %s, status: %s", n.TransactionID, n.Status)
		return ReconcileIgnored, nil
	}

	result, err := r.subscriptions.ApplyPaymentResult(ctx, n.TransactionID, status, n.FailureReason())
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrInternalInconsistency):
			logging.Errorf("Payment callback inconsistent - transaction: %s, error: %v", n.TransactionID, err)
			if alertErr := r.alerter.Alert(ctx, "Payment ledger inconsistency",
				fmt.Sprintf("Transaction %s could not be applied: %v", n.TransactionID, err)); alertErr != nil {
				logging.Errorf("Failed to send alert: %v", alertErr)
			}
			return ReconcileIgnored, err
		case apperr.IsNotFound(err):
			logging.Warnf("Payment callback for unknown transaction - transaction: %s, phone: %s", n.TransactionID, n.PhoneNumber)
			return ReconcileUnknown, nil
		}
		return ReconcileIgnored, err
	}

	if !result.Applied {
		logging.Infof("Payment callback already settled - transaction: %s, status: %s", n.TransactionID, result.Entry.Status)
		return ReconcileDuplicate, nil
	}

	logging.Infof("Payment callback applied - transaction: %s, status: %s, subscription: %d",
		n.TransactionID, status, result.Subscription.ID)
	r.notify(ctx, result, status)
	return ReconcileApplied, nil
}

func (r *PaymentReconciler) notify(ctx context.Context, result *PaymentResult, status models.PaymentStatus) {
	sub := result.Subscription
	id := sub.ID
	switch status {
	case models.PaymentSuccessful:
		r.notifications.Notify(ctx, sub.PhoneNumber, r.templates.PaymentSuccess(sub, result.Entry.Amount), models.KindNotification, &id)
	case models.PaymentFailed:
		r.notifications.Notify(ctx, sub.PhoneNumber, r.templates.PaymentFailure(sub, result.Entry.FailureReason), models.KindNotification, &id)
		if result.Breached {
			r.notifications.Notify(ctx, sub.PhoneNumber, r.templates.CancelledForFailures(sub), models.KindNotification, &id)
		}
	}
}
