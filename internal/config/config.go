package config

import (
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	// Server configuration
	Port string `env:"PORT" envDefault:"8080"`
	Mode string `env:"GIN_MODE" envDefault:"debug"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	// Database configuration
	DatabaseURL string `env:"DATABASE_URL"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"inspiration.db"`

	// Redis configuration, empty disables redis
	RedisURL string `env:"REDIS_URL"`

	// Africa's Talking gateway
	ATUsername       string        `env:"AFRICASTALKING_USERNAME" envDefault:"sandbox"`
	ATAPIKey         string        `env:"AFRICASTALKING_API_KEY"`
	ATSenderID       string        `env:"AFRICASTALKING_SENDER_ID" envDefault:"VASPlatform"`
	ATShortCode      string        `env:"AFRICASTALKING_SHORT_CODE" envDefault:"22345"`
	ATProductName    string        `env:"AFRICASTALKING_PRODUCT_NAME" envDefault:"DailyInspiration"`
	ATSMSURL         string        `env:"AFRICASTALKING_SMS_URL" envDefault:"https://api.africastalking.com/version1/messaging"`
	ATPaymentURL     string        `env:"AFRICASTALKING_PAYMENT_URL" envDefault:"https://payments.africastalking.com/mobile/checkout/request"`
	TransportTimeout time.Duration `env:"TRANSPORT_TIMEOUT" envDefault:"10s"`

	// Webhooks and admin endpoints
	WebhookSecret        string `env:"WEBHOOK_SECRET"`
	WebhookAllowUnsigned bool   `env:"WEBHOOK_ALLOW_UNSIGNED" envDefault:"false"`
	AdminAPIKey          string `env:"ADMIN_API_KEY"`

	// Subscription pricing
	Currency               string        `env:"SUBSCRIPTION_CURRENCY" envDefault:"KES"`
	DailyCost              float64       `env:"DAILY_SUBSCRIPTION_COST" envDefault:"5"`
	WeeklyCost             float64       `env:"WEEKLY_SUBSCRIPTION_COST" envDefault:"30"`
	MaxConsecutiveFailures int           `env:"MAX_CONSECUTIVE_FAILURES" envDefault:"3"`
	ExpiryGrace            time.Duration `env:"EXPIRY_GRACE" envDefault:"2h"`

	// Phone numbers
	CountryCode string `env:"COUNTRY_CODE" envDefault:"254"`

	// USSD
	USSDMaxLength int `env:"USSD_MAX_LENGTH" envDefault:"182"`

	// Scheduler
	Timezone           string        `env:"TIMEZONE" envDefault:"Africa/Nairobi"`
	SchedulerAutoStart bool          `env:"SCHEDULER_AUTOSTART" envDefault:"true"`
	DeliveryCron       string        `env:"DELIVERY_CRON" envDefault:"0 6,9,12,18 * * *"`
	BillingCron        string        `env:"BILLING_CRON" envDefault:"*/15 * * * *"`
	RetryCron          string        `env:"RETRY_CRON" envDefault:"*/5 * * * *"`
	CleanupCron        string        `env:"CLEANUP_CRON" envDefault:"0 0 * * *"`
	Workers            int           `env:"SCHEDULER_WORKERS" envDefault:"4"`
	BatchSize          int           `env:"SCHEDULER_BATCH_SIZE" envDefault:"100"`
	SendDelay          time.Duration `env:"SEND_DELAY" envDefault:"100ms"`
	ChargeDelay        time.Duration `env:"CHARGE_DELAY" envDefault:"500ms"`

	// Delivery retry policy
	RetryMaxAttempts  int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"3"`
	RetryInitialDelay time.Duration `env:"RETRY_INITIAL_DELAY" envDefault:"1m"`
	RetryMaxDelay     time.Duration `env:"RETRY_MAX_DELAY" envDefault:"1h"`

	// Retention
	MessageRetention time.Duration `env:"MESSAGE_RETENTION" envDefault:"720h"`
	InactiveAfter    time.Duration `env:"SUBSCRIBER_INACTIVE_AFTER" envDefault:"2160h"`

	// Brevo alert email configuration
	BrevoAPIKey    string `env:"BREVO_API_KEY"`
	BrevoFromEmail string `env:"BREVO_FROM_EMAIL"`
	BrevoFromName  string `env:"BREVO_FROM_NAME" envDefault:"Daily Inspiration"`
	AlertEmail     string `env:"ALERT_EMAIL"`

	ServiceName string `env:"SERVICE_NAME" envDefault:"Daily Inspiration"`
}

var AppConfig *Config

func InitConfig() error {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		// Ignore error if .env file doesn't exist
	}

	cfg, err := Load()
	if err != nil {
		return err
	}
	AppConfig = cfg
	return nil
}

// Load parses the process environment into a Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", cfg.Timezone, err)
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 100
	}
	if cfg.MaxConsecutiveFailures < 1 {
		cfg.MaxConsecutiveFailures = 3
	}
	return cfg, nil
}

// Location returns the configured scheduling time zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// CycleCost returns the charge for one billing cycle.
func (c *Config) CycleCost(cycle string) float64 {
	if cycle == "weekly" {
		return c.WeeklyCost
	}
	return c.DailyCost
}
