package services

import (
	"fmt"
	"inspiration-api/internal/config"
	"inspiration-api/internal/models"
	"strings"
	"time"
)

// Templates renders subscriber-facing SMS text
type Templates struct {
	ShortCode string
	DailyCost float64
	Location  *time.Location
}

// NewTemplates creates templates from configuration
func NewTemplates(cfg *config.Config) *Templates {
	return &Templates{
		ShortCode: cfg.ATShortCode,
		DailyCost: cfg.DailyCost,
		Location:  cfg.Location(),
	}
}

const unsubscribeFooter = "To unsubscribe, text STOP.\nFor help, text HELP."

func categoryEmoji(c models.Category) string {
	if c == models.CategoryBible {
		return "✝️"
	}
	return "🥰"
}

func categoryItem(c models.Category) string {
	if c == models.CategoryBible {
		return "Bible Verse"
	}
	return "Love Quote"
}

// Money formats an amount as shown to subscribers, e.g. "Ksh 5"
func Money(amount float64) string {
	return "Ksh " + formatAmount(amount)
}

func (t *Templates) date(ts time.Time) string {
	loc := t.Location
	if loc == nil {
		loc = time.UTC
	}
	return ts.In(loc).Format("02 Jan 2006")
}

// Content is the scheduled delivery of one item
func (t *Templates) Content(category models.Category, item *models.Content) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s Daily %s\n\n", categoryEmoji(category), categoryItem(category))
	fmt.Fprintf(&b, "\"%s\"\n\n", item.Body)
	if item.Author != "" {
		fmt.Fprintf(&b, "- %s\n\n", item.Author)
	}
	if category == models.CategoryBible && item.Title != "" {
		fmt.Fprintf(&b, "(%s)\n\n", item.Title)
	}
	b.WriteString(unsubscribeFooter)
	return b.String()
}

// Welcome confirms a subscription to one category, with a sample item when available
func (t *Templates) Welcome(category models.Category, sample *models.Content, deliveryTime string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Welcome to Daily %ss! %s\n\n", categoryItem(category), categoryEmoji(category))
	if sample != nil {
		fmt.Fprintf(&b, "\"%s\"\n\n", sample.Body)
		switch {
		case category == models.CategoryBible && sample.Title != "":
			fmt.Fprintf(&b, "- %s\n\n", sample.Title)
		case sample.Author != "":
			fmt.Fprintf(&b, "- %s\n\n", sample.Author)
		default:
			b.WriteString("- Anonymous\n\n")
		}
	}
	fmt.Fprintf(&b, "You will receive daily %ss at %s. Cost: %s/day.\n\n", strings.ToLower(categoryItem(category)), deliveryTime, Money(t.DailyCost))
	b.WriteString("To unsubscribe, text STOP.\nTo get help, text HELP.")
	return b.String()
}

// WelcomeBoth confirms a subscription to both categories
func (t *Templates) WelcomeBoth(deliveryTime string) string {
	return fmt.Sprintf("Welcome to Daily Inspiration! 🥰✝️\n\n"+
		"You are now subscribed to both love quotes and Bible verses.\n\n"+
		"Daily cost: %s\nDelivery time: %s\n\n"+
		"To unsubscribe, text STOP.\nTo get help, text HELP.",
		Money(t.DailyCost*2), deliveryTime)
}

// Unsubscribed confirms cancellation of everything
func (t *Templates) Unsubscribed() string {
	return "You have been unsubscribed from all services. You will no longer receive any messages.\n\n" +
		"To resubscribe, text LOVE for love quotes or BIBLE for Bible verses."
}

// Help lists the service and its commands
func (t *Templates) Help() string {
	return fmt.Sprintf("Daily Inspiration Service 📱\n\n"+
		"Subscribe to receive daily messages:\n"+
		"• Text LOVE for daily love quotes (%[1]s/day)\n"+
		"• Text BIBLE for daily Bible verses (%[1]s/day)\n"+
		"• Text BOTH for both\n\n"+
		"Manage your subscription:\n"+
		"• Text STOP to unsubscribe\n"+
		"• Text STATUS to see your subscriptions\n"+
		"• Dial *%[2]s# for USSD menu",
		Money(t.DailyCost), t.ShortCode)
}

// Unknown answers unrecognised text
func (t *Templates) Unknown(text string) string {
	return fmt.Sprintf("Unknown command: \"%s\"\n\n"+
		"Available commands:\n"+
		"• LOVE - Subscribe to love quotes\n"+
		"• BIBLE - Subscribe to Bible verses\n"+
		"• BOTH - Subscribe to both services\n"+
		"• STOP - Unsubscribe\n"+
		"• HELP - Get help\n"+
		"• STATUS - Check subscription\n\n"+
		"For USSD menu, dial *%s#", truncate(text, 40), t.ShortCode)
}

// Status lists the active categories
func (t *Templates) Status(active []models.CategoryEntry) string {
	if len(active) == 0 {
		return fmt.Sprintf("You have no active subscriptions.\n\n"+
			"To subscribe:\n• Text LOVE for love quotes\n• Text BIBLE for Bible verses\n• Dial *%s# for USSD menu", t.ShortCode)
	}
	var b strings.Builder
	b.WriteString("Your Active Subscriptions:\n\n")
	for _, e := range active {
		fmt.Fprintf(&b, "• %s (%s)\n  Expires: %s\n\n", e.Category.Label(), e.Cycle, t.date(e.EndDate))
	}
	fmt.Fprintf(&b, "To unsubscribe, text STOP.\nTo manage, dial *%s#", t.ShortCode)
	return b.String()
}

// PaymentSuccess confirms a settled charge
func (t *Templates) PaymentSuccess(sub *models.Subscription, amount float64) string {
	return fmt.Sprintf("Payment successful! ✅\n\nAmount: %s\nService: %s\n\n"+
		"Your subscription is now active until %s.\n\nThank you for using our service!",
		Money(amount), sub.Category.Label(), t.date(sub.EndDate))
}

// PaymentFailure reports a failed charge
func (t *Templates) PaymentFailure(sub *models.Subscription, reason string) string {
	if reason == "" {
		reason = "Unknown error"
	}
	return fmt.Sprintf("Payment failed ❌\n\nWe were unable to process your payment for %s.\n\n"+
		"Reason: %s\n\nPlease check your account balance and try again.\n\n"+
		"To manage your subscription, dial *%s#",
		sub.Category.Label(), reason, t.ShortCode)
}

// CancelledForFailures tells the subscriber the failure streak ended the subscription
func (t *Templates) CancelledForFailures(sub *models.Subscription) string {
	return fmt.Sprintf("Subscription Cancelled 📱\n\n"+
		"Your %s subscription has been cancelled due to multiple payment failures.\n\n"+
		"To resubscribe, text %s to %s.\n\nFor support, text HELP.",
		sub.Category.Label(), strings.ToUpper(string(sub.Category)), t.ShortCode)
}
