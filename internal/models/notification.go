package models

import (
	"strings"
)

// PaymentNotification is the payment provider's callback body.
// The provider uses camelCase for field names.
type PaymentNotification struct {
	TransactionID string            `json:"transactionId" binding:"required"` // provider transaction id from InitiateCharge
	Status        string            `json:"status" binding:"required"`        // e.g. "Success", "Failed"
	PhoneNumber   string            `json:"phoneNumber"`
	Amount        float64           `json:"amount"`
	Currency      string            `json:"currency"`
	ProductName   string            `json:"productName,omitempty"`
	ProviderRef   string            `json:"providerRef,omitempty"` // mobile money operator reference
	ErrorCode     string            `json:"errorCode,omitempty"`
	ErrorMessage  string            `json:"errorMessage,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// PaymentStatus maps the provider status onto a ledger status.
// Anything that is not a success or a failure stays pending.
func (n PaymentNotification) PaymentStatus() PaymentStatus {
	switch strings.ToLower(strings.TrimSpace(n.Status)) {
	case "success", "successful", "succeeded", "completed":
		return PaymentSuccessful
	case "failed", "failure", "declined", "cancelled", "insufficient_funds":
		return PaymentFailed
	case "refunded", "reversed":
		return PaymentRefunded
	default:
		return PaymentPending
	}
}

// FailureReason is the text stored on the ledger entry for a failed payment.
func (n PaymentNotification) FailureReason() string {
	switch {
	case n.ErrorMessage != "" && n.ErrorCode != "":
		return n.ErrorCode + ": " + n.ErrorMessage
	case n.ErrorMessage != "":
		return n.ErrorMessage
	case n.ErrorCode != "":
		return n.ErrorCode
	}
	return ""
}

// DeliveryReport is the SMS gateway's delivery status callback body.
type DeliveryReport struct {
	RequestID    string `json:"requestId" binding:"required"` // provider message id
	Status       string `json:"status" binding:"required"`    // e.g. "Success", "Failed", "Rejected", "Buffered"
	PhoneNumber  string `json:"phoneNumber"`
	ErrorCode    string `json:"errorCode,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	DeliveryDate string `json:"deliveryDate,omitempty"`
	ReceivedDate string `json:"receivedDate,omitempty"`
}

// MessageStatus maps the provider status onto a message status.
func (r DeliveryReport) MessageStatus() MessageStatus {
	switch strings.ToLower(strings.TrimSpace(r.Status)) {
	case "success", "delivered", "deliveredtoterminal":
		return MessageDelivered
	case "failed", "rejected", "undeliverable":
		return MessageFailed
	case "expired":
		return MessageExpired
	default:
		return MessageSent
	}
}
