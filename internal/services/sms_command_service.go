package services

import (
	"context"
	"inspiration-api/internal/database"
	"inspiration-api/internal/models"
	"inspiration-api/pkg/logging"
	"inspiration-api/pkg/phone"
	"strings"
	"time"
)

// Command is a recognised SMS keyword
type Command string

const (
	CommandLove    Command = "love"
	CommandBible   Command = "bible"
	CommandBoth    Command = "both"
	CommandStop    Command = "stop"
	CommandHelp    Command = "help"
	CommandStatus  Command = "status"
	CommandUnknown Command = "unknown"
)

var keywords = map[string]Command{
	"LOVE":        CommandLove,
	"BIBLE":       CommandBible,
	"BOTH":        CommandBoth,
	"STOP":        CommandStop,
	"UNSUBSCRIBE": CommandStop,
	"CANCEL":      CommandStop,
	"HELP":        CommandHelp,
	"INFO":        CommandHelp,
	"STATUS":      CommandStatus,
}

// ParseCommand maps inbound text to a command, ignoring case and surrounding space
func ParseCommand(text string) Command {
	if c, ok := keywords[strings.ToUpper(strings.TrimSpace(text))]; ok {
		return c
	}
	return CommandUnknown
}

// SMSReply is the answer to an inbound SMS
type SMSReply struct {
	Command Command `json:"command"`
	Reply   string  `json:"reply"`
}

// SMSCommandService handles inbound SMS keywords
type SMSCommandService struct {
	store         *database.Store
	subscriptions *SubscriptionService
	selector      *ContentSelector
	notifications *NotificationService
	templates     *Templates
	now           func() time.Time
}

// NewSMSCommandService creates an SMS command handler
func NewSMSCommandService(store *database.Store, subscriptions *SubscriptionService, selector *ContentSelector, notifications *NotificationService, templates *Templates) *SMSCommandService {
	return &SMSCommandService{
		store:         store,
		subscriptions: subscriptions,
		selector:      selector,
		notifications: notifications,
		templates:     templates,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Handle processes one inbound SMS and sends the reply. The reply is sent best-effort and
// also returned.
func (s *SMSCommandService) Handle(ctx context.Context, rawPhone, text string) (*SMSReply, error) {
	phoneNumber, err := phone.Normalize(rawPhone)
	if err != nil {
		return nil, err
	}

	s.notifications.LogInbound(ctx, phoneNumber, "INCOMING: "+text, models.KindIncoming, models.ChannelSMS)

	subscriber, created, err := s.store.FindOrCreateSubscriber(ctx, phoneNumber, s.now())
	if err != nil {
		return nil, err
	}
	if created {
		logging.Infof("New subscriber - phone: %s, channel: sms", phoneNumber)
	} else if err := s.store.TouchSubscriber(ctx, subscriber.ID, s.now()); err != nil {
		logging.Warnf("Failed to touch subscriber - phone: %s, error: %v", phoneNumber, err)
	}

	command := ParseCommand(text)
	reply := s.execute(ctx, subscriber, command, text)

	s.notifications.Notify(ctx, phoneNumber, reply, models.KindReply, nil)
	return &SMSReply{Command: command, Reply: reply}, nil
}

func (s *SMSCommandService) execute(ctx context.Context, subscriber *models.Subscriber, command Command, text string) string {
	phoneNumber := subscriber.PhoneNumber
	switch command {
	case CommandLove, CommandBible:
		category := models.Category(command)
		result, err := s.subscriptions.Subscribe(ctx, phoneNumber, []models.Category{category}, models.CycleDaily)
		if err != nil {
			logging.Errorf("SMS subscribe failed - phone: %s, category: %s, error: %v", phoneNumber, category, err)
			return "Sorry, there was an error subscribing you to " + strings.ToLower(category.Label()) + ". Please try again later."
		}
		sample := s.sample(ctx, category, result.Subscriber.Language)
		return s.templates.Welcome(category, sample, result.Subscriber.DeliveryTime)

	case CommandBoth:
		result, err := s.subscriptions.Subscribe(ctx, phoneNumber, models.AllCategories, models.CycleDaily)
		if err != nil {
			logging.Errorf("SMS subscribe failed - phone: %s, category: both, error: %v", phoneNumber, err)
			return "Sorry, there was an error subscribing you to both services. Please try again later."
		}
		for _, category := range models.AllCategories {
			s.sample(ctx, category, result.Subscriber.Language)
		}
		return s.templates.WelcomeBoth(result.Subscriber.DeliveryTime)

	case CommandStop:
		if _, err := s.subscriptions.Cancel(ctx, phoneNumber, models.AllCategories, models.CancelReasonUser); err != nil {
			logging.Errorf("SMS unsubscribe failed - phone: %s, error: %v", phoneNumber, err)
			return "Sorry, there was an error unsubscribing you. Please try again later."
		}
		return s.templates.Unsubscribed()

	case CommandHelp:
		return s.templates.Help()

	case CommandStatus:
		view, err := s.subscriptions.Status(ctx, phoneNumber)
		if err != nil {
			logging.Errorf("SMS status failed - phone: %s, error: %v", phoneNumber, err)
			return s.templates.Status(nil)
		}
		return s.templates.Status(view.Active)
	}
	return s.templates.Unknown(text)
}

// sample picks an item to show on subscribe and records its usage
func (s *SMSCommandService) sample(ctx context.Context, category models.Category, language string) *models.Content {
	item, err := s.selector.Pick(ctx, category, language)
	if err != nil {
		logging.Warnf("Failed to pick sample content - category: %s, error: %v", category, err)
		return nil
	}
	if item == nil {
		return nil
	}
	if err := s.selector.RecordUsage(ctx, item); err != nil {
		logging.Warnf("Failed to record content usage - content: %d, error: %v", item.ID, err)
	}
	return item
}
