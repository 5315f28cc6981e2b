package main

import (
	"context"
	"errors"
	"inspiration-api/internal/api"
	"inspiration-api/internal/config"
	"inspiration-api/internal/database"
	"inspiration-api/internal/metrics"
	"inspiration-api/internal/scheduler"
	"inspiration-api/internal/services"
	"inspiration-api/internal/ussd"
	"inspiration-api/pkg/logging"
	"inspiration-api/pkg/phone"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
)

func main() {
	// Initialize configuration
	if err := config.InitConfig(); err != nil {
		log.Fatal("Failed to initialize config:", err)
	}
	cfg := config.AppConfig

	// Initialize logging
	logging.InitLogging(cfg.LogLevel, cfg.LogFormat)

	// Initialize database
	if err := database.InitDatabase(); err != nil {
		log.Fatal("Failed to initialize database:", err)
	}
	defer database.CloseDatabase()

	phone.SetCountryCode(cfg.CountryCode)
	store := database.NewStore(database.GetDB())
	m := metrics.New()

	// Locks and dedupe marks live in Redis when it is configured
	var (
		locker  services.Locker
		marker  services.Marker
		pingers = map[string]func(ctx context.Context) error{}
	)
	if client := database.GetRedis(); client != nil {
		redisService := services.NewRedisService(client)
		locker, marker = redisService, redisService
		pingers["redis"] = redisService.Ping
	} else {
		memoryMarker := services.NewMemoryMarker(time.Minute)
		defer memoryMarker.Stop()
		locker, marker = services.NewLocalLocker(), memoryMarker
	}

	var gateway services.Gateway = services.LogGateway{}
	if cfg.ATAPIKey != "" {
		gateway = services.NewAfricasTalkingGateway(cfg)
	} else {
		logging.Warnf("AFRICASTALKING_API_KEY is not set, outbound SMS and charges are only logged")
	}

	alerter := services.NewAlertService(cfg)
	if !alerter.Enabled() {
		logging.Warnf("BREVO_API_KEY or ALERT_EMAIL is not set, alerts are only logged")
	}
	verifier := services.NewSignatureVerifier(cfg.WebhookSecret, cfg.WebhookAllowUnsigned)
	if cfg.WebhookSecret == "" && !cfg.WebhookAllowUnsigned {
		logging.Warnf("WEBHOOK_SECRET is not set, every webhook will be rejected")
	}
	retry := services.NewRetryPolicy(services.RetryConfig{
		MaxAttempts:       cfg.RetryMaxAttempts,
		InitialDelay:      cfg.RetryInitialDelay,
		MaxDelay:          cfg.RetryMaxDelay,
		BackoffMultiplier: 2,
	})

	templates := services.NewTemplates(cfg)
	selector := services.NewContentSelector(store)
	subscriptions := services.NewSubscriptionService(store, locker, gateway, cfg, m)
	notifications := services.NewNotificationService(store, gateway, m, cfg.TransportTimeout)
	payments := services.NewPaymentReconciler(verifier, subscriptions, notifications, templates, alerter)
	reports := services.NewDeliveryReportService(store, verifier, services.NewReplayProtection(marker, time.Hour), retry, alerter)
	sms := services.NewSMSCommandService(store, subscriptions, selector, notifications, templates)
	engine := ussd.NewEngine(store, subscriptions, notifications, cfg, m)

	sched := scheduler.New(cfg, scheduler.Deps{
		Store:         store,
		Subscriptions: subscriptions,
		Notifications: notifications,
		Selector:      selector,
		Templates:     templates,
		Marker:        marker,
		Retry:         retry,
		Alerter:       alerter,
		Metrics:       m,
	})
	if cfg.SchedulerAutoStart {
		if err := sched.Start(); err != nil {
			log.Fatal("Failed to start scheduler:", err)
		}
	}

	// Set Gin mode
	gin.SetMode(cfg.Mode)

	// Create Gin engine
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	// Setup routes
	api.SetupRoutes(r, &api.Handlers{
		Store:         store,
		Subscriptions: subscriptions,
		SMS:           sms,
		USSD:          engine,
		Payments:      payments,
		Reports:       reports,
		Scheduler:     sched,
		Metrics:       m,
		Pingers:       pingers,
		AdminAPIKey:   cfg.AdminAPIKey,
		ServiceName:   cfg.ServiceName,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start server
	go func() {
		logging.Infof("Starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server:", err)
		}
	}()

	<-ctx.Done()
	logging.Infof("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Errorf("Server shutdown failed: %v", err)
	}
	sched.Stop()
}
