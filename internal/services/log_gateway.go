package services

import (
	"context"
	"inspiration-api/pkg/logging"

	"github.com/google/uuid"
)

// LogGateway logs outbound traffic instead of sending it. Used when no provider API key is
// configured.
type LogGateway struct{}

// SendSMS logs the message and returns a generated id
func (LogGateway) SendSMS(_ context.Context, to, text string) (*SendResult, error) {
	id := "LOG-" + uuid.NewString()
	logging.Infof("SMS (not sent) - to: %s, id: %s, text: %q", to, id, text)
	return &SendResult{MessageID: id, Cost: "KES 0"}, nil
}

// InitiateCharge logs the charge and returns a generated transaction id
func (LogGateway) InitiateCharge(_ context.Context, req ChargeRequest) (*ChargeResult, error) {
	id := "LOG-" + uuid.NewString()
	logging.Infof("Charge (not initiated) - phone: %s, amount: %s %s, transaction: %s",
		req.PhoneNumber, formatAmount(req.Amount), req.Currency, id)
	return &ChargeResult{TransactionID: id, Status: "PendingConfirmation"}, nil
}
