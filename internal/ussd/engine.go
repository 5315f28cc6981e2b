package ussd

import (
	"context"
	"fmt"
	"inspiration-api/internal/config"
	"inspiration-api/internal/metrics"
	"inspiration-api/internal/models"
	"inspiration-api/internal/services"
	"inspiration-api/pkg/logging"
	"inspiration-api/pkg/phone"
	"strings"
	"time"
)

// DefaultMaxResponseLength is the display limit of a USSD screen
const DefaultMaxResponseLength = 182

// Request is one USSD callback from the gateway. Text is the full path dialed since the
// session started.
type Request struct {
	PhoneNumber string `json:"phoneNumber" form:"phoneNumber" binding:"required"`
	SessionID   string `json:"sessionId" form:"sessionId" binding:"required"`
	ServiceCode string `json:"serviceCode" form:"serviceCode" binding:"required"`
	Text        string `json:"text" form:"text"`
}

// Response is a rendered USSD screen
type Response struct {
	Text     string
	Continue bool
}

// String renders the gateway wire form
func (r Response) String() string {
	if r.Continue {
		return "CON " + r.Text
	}
	return "END " + r.Text
}

// Subscriptions is the subscription API the menu commits to
type Subscriptions interface {
	Subscribe(ctx context.Context, rawPhone string, categories []models.Category, cycle models.Cycle) (*services.SubscribeResult, error)
	Cancel(ctx context.Context, rawPhone string, categories []models.Category, reason string) ([]models.Category, error)
	SetDeliveryTime(ctx context.Context, rawPhone, hhmm string) (*models.Subscriber, error)
	Status(ctx context.Context, rawPhone string) (*services.StatusView, error)
}

// Subscribers finds or registers the caller
type Subscribers interface {
	FindOrCreateSubscriber(ctx context.Context, phoneNumber string, now time.Time) (*models.Subscriber, bool, error)
	TouchSubscriber(ctx context.Context, id uint, now time.Time) error
}

// InboundLog records every hit
type InboundLog interface {
	LogInbound(ctx context.Context, from, body string, kind models.MessageKind, channel string)
}

// Engine answers USSD requests
type Engine struct {
	subscribers   Subscribers
	subscriptions Subscriptions
	log           InboundLog
	metrics       *metrics.Metrics
	dailyCost     float64
	shortCode     string
	location      *time.Location
	maxLength     int
	now           func() time.Time
}

// NewEngine creates a USSD engine
func NewEngine(subscribers Subscribers, subscriptions Subscriptions, log InboundLog, cfg *config.Config, m *metrics.Metrics) *Engine {
	maxLength := cfg.USSDMaxLength
	if maxLength <= 0 {
		maxLength = DefaultMaxResponseLength
	}
	return &Engine{
		subscribers:   subscribers,
		subscriptions: subscriptions,
		log:           log,
		metrics:       m,
		dailyCost:     cfg.DailyCost,
		shortCode:     cfg.ATShortCode,
		location:      cfg.Location(),
		maxLength:     maxLength,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Handle answers one request. Errors are rendered as END screens, so the returned
// response is always sendable.
func (e *Engine) Handle(ctx context.Context, req Request) Response {
	resp := e.handle(ctx, req)
	resp.Text = truncate(resp.Text, e.maxLength-len("CON "))
	e.metrics.USSD(resp.Continue)
	return resp
}

func (e *Engine) handle(ctx context.Context, req Request) Response {
	phoneNumber, err := phone.Normalize(req.PhoneNumber)
	if err != nil {
		logging.Warnf("USSD request with invalid phone - session: %s, phone: %s", req.SessionID, req.PhoneNumber)
		return end("Invalid phone number format")
	}

	subscriber, created, err := e.subscribers.FindOrCreateSubscriber(ctx, phoneNumber, e.now())
	if err != nil {
		logging.Errorf("USSD subscriber lookup failed - session: %s, phone: %s, error: %v", req.SessionID, phoneNumber, err)
		return end("Sorry, there was an error. Please try again later.")
	}
	if created {
		logging.Infof("New subscriber - phone: %s, channel: ussd", phoneNumber)
	} else if err := e.subscribers.TouchSubscriber(ctx, subscriber.ID, e.now()); err != nil {
		logging.Warnf("Failed to touch subscriber - phone: %s, error: %v", phoneNumber, err)
	}

	path := req.Text
	if path == "" {
		path = "START"
	}
	e.log.LogInbound(ctx, phoneNumber, "USSD Session: "+path, models.KindUSSD, models.ChannelUSSD)

	plan := Resolve(req.Text)
	logging.Debugf("USSD step - session: %s, phone: %s, state: %s, invalid: %t", req.SessionID, phoneNumber, plan.State, plan.Invalid)

	if plan.Commit != nil {
		return e.commit(ctx, phoneNumber, dialString(req.ServiceCode), *plan.Commit)
	}
	text := e.menu(plan.State, subscriber)
	if plan.Invalid {
		text = "Invalid option.\n" + text
	}
	return Response{Text: text, Continue: true}
}

func (e *Engine) commit(ctx context.Context, phoneNumber, dial string, t Transition) Response {
	switch t.Action {
	case ActionHelp:
		return end(e.help())

	case ActionSubscribe:
		if _, err := e.subscriptions.Subscribe(ctx, phoneNumber, t.Categories, models.CycleDaily); err != nil {
			logging.Errorf("USSD subscribe failed - phone: %s, categories: %v, error: %v", phoneNumber, t.Categories, err)
			return end("Sorry, there was an error processing your subscription. Please try again later.")
		}
		return end(fmt.Sprintf("Thank you for subscribing to %s!\nYou will be charged %s/day.\nTo manage, dial %s and select 4.",
			categoryNames(t.Categories), services.Money(e.dailyCost*float64(len(t.Categories))), dial))

	case ActionViewActive:
		view, err := e.subscriptions.Status(ctx, phoneNumber)
		if err != nil {
			logging.Errorf("USSD status failed - phone: %s, error: %v", phoneNumber, err)
			return end("Sorry, there was an error. Please try again later.")
		}
		return end(e.active(view.Active, dial))

	case ActionCancel:
		cancelled, err := e.subscriptions.Cancel(ctx, phoneNumber, t.Categories, models.CancelReasonUser)
		if err != nil {
			logging.Errorf("USSD cancel failed - phone: %s, categories: %v, error: %v", phoneNumber, t.Categories, err)
			return end("Sorry, there was an error. Please try again later.")
		}
		if len(cancelled) == 0 {
			return end(fmt.Sprintf("You have no active %s subscription.\nTo subscribe, dial %s.", categoryNames(t.Categories), dial))
		}
		return end(fmt.Sprintf("%s cancelled successfully.\nYou will no longer receive these messages.\nTo resubscribe, dial %s.",
			categoryNames(cancelled), dial))

	case ActionDeliveryTime:
		if _, err := e.subscriptions.SetDeliveryTime(ctx, phoneNumber, t.Slot); err != nil {
			logging.Errorf("USSD delivery time failed - phone: %s, slot: %s, error: %v", phoneNumber, t.Slot, err)
			return end("Sorry, there was an error. Please try again later.")
		}
		return end(fmt.Sprintf("Delivery time updated to %s.\nYour messages will now be sent at %s daily.\nThank you for using our service!", t.Slot, t.Slot))
	}
	return end("Sorry, there was an error. Please try again later.")
}

func (e *Engine) menu(state State, subscriber *models.Subscriber) string {
	daily := services.Money(e.dailyCost)
	switch state {
	case StateConfirmLove:
		return fmt.Sprintf("Love Quotes for %s/day.\n1. Yes, Subscribe\n2. No, Go Back", daily)
	case StateConfirmBible:
		return fmt.Sprintf("Bible Verses for %s/day.\n1. Yes, Subscribe\n2. No, Go Back", daily)
	case StateConfirmBoth:
		return fmt.Sprintf("Love Quotes and Bible Verses for %s/day.\n1. Yes, Subscribe\n2. No, Go Back", services.Money(e.dailyCost*2))
	case StateManage:
		return "Manage Subscription\n1. View Active Subscriptions\n2. Cancel Subscription\n3. Change Delivery Time\n4. Back to Main Menu"
	case StateCancel:
		return "Cancel which subscription?\n1. Love Quotes\n2. Bible Verses\n3. Both Services\n4. Back"
	case StateDeliveryTime:
		return fmt.Sprintf("Current delivery time: %s\n1. 06:00\n2. 09:00\n3. 12:00\n4. 18:00\n5. Back", subscriber.DeliveryTime)
	}
	return fmt.Sprintf("Welcome to Daily Inspiration!\n1. Love Quotes (%[1]s/day)\n2. Bible Verses (%[1]s/day)\n3. Both Services (%[2]s/day)\n4. Manage Subscription\n5. Help",
		daily, services.Money(e.dailyCost*2))
}

func (e *Engine) help() string {
	return fmt.Sprintf("Daily love quotes or Bible verses by SMS.\nLove Quotes: %[1]s/day\nBible Verses: %[1]s/day\nBoth: %[2]s/day\nFor support, text HELP to %[3]s",
		services.Money(e.dailyCost), services.Money(e.dailyCost*2), e.shortCode)
}

func (e *Engine) active(entries []models.CategoryEntry, dial string) string {
	if len(entries) == 0 {
		return fmt.Sprintf("You have no active subscriptions.\nTo subscribe, dial %s and select 1, 2 or 3.", dial)
	}
	var b strings.Builder
	b.WriteString("Your Active Subscriptions:\n")
	for _, entry := range entries {
		fmt.Fprintf(&b, "%s (%s) until %s\n", entry.Category.Label(), entry.Cycle, entry.EndDate.In(e.location).Format("02 Jan 2006"))
	}
	fmt.Fprintf(&b, "To manage, dial %s", dial)
	return b.String()
}

func end(text string) Response {
	return Response{Text: text, Continue: false}
}

func categoryNames(categories []models.Category) string {
	names := make([]string, len(categories))
	for i, c := range categories {
		names[i] = c.Label()
	}
	return strings.Join(names, " and ")
}

// dialString renders a service code the way subscribers dial it, e.g. *384*123#
func dialString(serviceCode string) string {
	code := strings.TrimSpace(serviceCode)
	if code == "" {
		return "the service code"
	}
	if !strings.HasPrefix(code, "*") {
		code = "*" + code
	}
	if !strings.HasSuffix(code, "#") {
		code += "#"
	}
	return code
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n])
}
