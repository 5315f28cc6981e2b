package services

import (
	"context"
	"errors"
)

// ErrProviderRejected is returned when the provider refuses a request for a reason a retry
// will not fix, e.g. an unsupported number or an invalid product.
var ErrProviderRejected = errors.New("provider rejected request")

// Gateway is the outbound transport: SMS sends and mobile-money charges. Callers depend only
// on this contract, never on a provider's wire format.
type Gateway interface {
	SendSMS(ctx context.Context, to, text string) (*SendResult, error)
	InitiateCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}

// SendResult identifies an accepted SMS.
type SendResult struct {
	MessageID string
	Cost      string
}

// ChargeRequest asks the provider to collect Amount from PhoneNumber.
type ChargeRequest struct {
	PhoneNumber string
	Amount      float64
	Currency    string
	ProductName string
	Metadata    map[string]string
}

// ChargeResult identifies an initiated charge. The outcome arrives later by webhook.
type ChargeResult struct {
	TransactionID string
	Status        string
}
