package services

import (
	"context"
	"fmt"
	"inspiration-api/internal/config"
	"inspiration-api/internal/database"
	"inspiration-api/internal/models"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC)

type sentSMS struct {
	To   string
	Text string
}

type fakeGateway struct {
	mu        sync.Mutex
	sent      []sentSMS
	charges   []ChargeRequest
	sendErr   error
	chargeErr error
	seq       int
}

func (g *fakeGateway) SendSMS(_ context.Context, to, text string) (*SendResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sendErr != nil {
		return nil, g.sendErr
	}
	g.seq++
	g.sent = append(g.sent, sentSMS{To: to, Text: text})
	return &SendResult{MessageID: fmt.Sprintf("ATXid_%d", g.seq), Cost: "KES 0.8000"}, nil
}

func (g *fakeGateway) InitiateCharge(_ context.Context, req ChargeRequest) (*ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.chargeErr != nil {
		return nil, g.chargeErr
	}
	g.seq++
	g.charges = append(g.charges, req)
	return &ChargeResult{TransactionID: fmt.Sprintf("ATPid_%d", g.seq), Status: "PendingConfirmation"}, nil
}

func (g *fakeGateway) setSendErr(err error) {
	g.mu.Lock()
	g.sendErr = err
	g.mu.Unlock()
}

func (g *fakeGateway) textsTo(phone string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for _, s := range g.sent {
		if s.To == phone {
			out = append(out, s.Text)
		}
	}
	return out
}

type fakeAlerter struct {
	mu       sync.Mutex
	subjects []string
}

func (a *fakeAlerter) Alert(_ context.Context, subject, _ string) error {
	a.mu.Lock()
	a.subjects = append(a.subjects, subject)
	a.mu.Unlock()
	return nil
}

func (a *fakeAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.subjects)
}

func testConfig() *config.Config {
	return &config.Config{
		ATShortCode:            "22345",
		ATProductName:          "DailyInspiration",
		TransportTimeout:       time.Second,
		WebhookSecret:          "test-secret",
		Currency:               "KES",
		DailyCost:              5,
		WeeklyCost:             30,
		MaxConsecutiveFailures: 3,
		ExpiryGrace:            2 * time.Hour,
		CountryCode:            "254",
		Timezone:               "Africa/Nairobi",
		RetryMaxAttempts:       3,
		RetryInitialDelay:      time.Minute,
		RetryMaxDelay:          time.Hour,
		ServiceName:            "Daily Inspiration",
	}
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	store         *database.Store
	cfg           *config.Config
	clock         *testClock
	gateway       *fakeGateway
	alerter       *fakeAlerter
	verifier      *SignatureVerifier
	templates     *Templates
	selector      *ContentSelector
	subscriptions *SubscriptionService
	notifications *NotificationService
	reconciler    *PaymentReconciler
	reports       *DeliveryReportService
	sms           *SMSCommandService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	env := &testEnv{
		store:   database.NewStore(db),
		cfg:     testConfig(),
		clock:   &testClock{now: testStart},
		gateway: &fakeGateway{},
		alerter: &fakeAlerter{},
	}
	marker := NewMemoryMarker(time.Minute)
	t.Cleanup(marker.Stop)

	env.verifier = NewSignatureVerifier(env.cfg.WebhookSecret, false)
	env.templates = NewTemplates(env.cfg)
	env.selector = NewContentSelector(env.store)
	env.selector.now = env.clock.Now
	env.subscriptions = NewSubscriptionService(env.store, NewLocalLocker(), env.gateway, env.cfg, nil)
	env.subscriptions.now = env.clock.Now
	env.notifications = NewNotificationService(env.store, env.gateway, nil, time.Second)
	env.notifications.now = env.clock.Now
	env.reconciler = NewPaymentReconciler(env.verifier, env.subscriptions, env.notifications, env.templates, env.alerter)
	env.reports = NewDeliveryReportService(env.store, env.verifier, NewReplayProtection(marker, time.Hour),
		NewRetryPolicy(RetryConfig{MaxAttempts: 3, InitialDelay: time.Minute, MaxDelay: time.Hour, BackoffMultiplier: 2}), env.alerter)
	env.reports.now = env.clock.Now
	env.sms = NewSMSCommandService(env.store, env.subscriptions, env.selector, env.notifications, env.templates)
	env.sms.now = env.clock.Now
	return env
}

func (e *testEnv) seedContent(t *testing.T) {
	t.Helper()
	require.NoError(t, database.InsertDefaultData(e.store.DB()))
}

func activeEntries(s *models.Subscriber, category models.Category) int {
	n := 0
	for _, e := range s.Categories {
		if e.Category == category && e.Active {
			n++
		}
	}
	return n
}
