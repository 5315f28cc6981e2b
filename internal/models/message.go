package models

import (
	"time"
)

// MessageKind distinguishes why a message was sent or logged.
type MessageKind string

const (
	KindDelivery     MessageKind = "delivery"     // scheduled content broadcast
	KindReply        MessageKind = "reply"        // answer to an inbound SMS command
	KindNotification MessageKind = "notification" // billing confirmation, failure, cancellation
	KindIncoming     MessageKind = "incoming"     // inbound SMS
	KindUSSD         MessageKind = "ussd"         // USSD hit
)

// MessageStatus is the delivery state of a logged message.
type MessageStatus string

const (
	MessagePending   MessageStatus = "pending"
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageFailed    MessageStatus = "failed"
	MessageExpired   MessageStatus = "expired"
)

const (
	ChannelSMS  = "sms"
	ChannelUSSD = "ussd"
)

// Message is the log of every inbound and outbound message.
type Message struct {
	BaseModel

	SendID            string        `json:"send_id" gorm:"size:36;uniqueIndex;not null"`
	Recipient         string        `json:"recipient" gorm:"size:20;not null;index"`
	Body              string        `json:"body" gorm:"type:text"`
	Kind              MessageKind   `json:"kind" gorm:"size:20;not null;index"`
	Channel           string        `json:"channel" gorm:"size:10;not null"`
	Category          Category      `json:"category,omitempty" gorm:"size:20"`
	Status            MessageStatus `json:"status" gorm:"size:20;not null;index"`
	ProviderMessageID string        `json:"provider_message_id,omitempty" gorm:"size:100;index"`
	Cost              string        `json:"cost,omitempty" gorm:"size:20"`

	ContentID      *uint  `json:"content_id,omitempty"`
	SubscriptionID *uint  `json:"subscription_id,omitempty"`
	CampaignID     string `json:"campaign_id,omitempty" gorm:"size:50;index"`

	// Bounded retry bookkeeping for failed deliveries
	RetryCount     int        `json:"retry_count"`
	NextRetryAt    *time.Time `json:"next_retry_at,omitempty" gorm:"index"`
	RetryExhausted bool       `json:"retry_exhausted"`

	// Latest delivery report
	ReportStatus string     `json:"report_status,omitempty" gorm:"size:30"`
	ErrorCode    string     `json:"error_code,omitempty" gorm:"size:30"`
	ErrorMessage string     `json:"error_message,omitempty" gorm:"size:255"`
	DeliveredAt  *time.Time `json:"delivered_at,omitempty"`

	SentAt *time.Time `json:"sent_at,omitempty"`
}

// CampaignID names a day's broadcast for a category, e.g. daily-love-2024-05-01.
func CampaignID(category Category, day time.Time) string {
	return "daily-" + string(category) + "-" + day.Format("2006-01-02")
}

// Retryable reports whether a failed delivery may be sent again.
func (m *Message) Retryable() bool {
	return m.Kind == KindDelivery && m.Status == MessageFailed && !m.RetryExhausted
}
