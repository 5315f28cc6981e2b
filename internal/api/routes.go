package api

import (
	"context"
	"inspiration-api/internal/database"
	"inspiration-api/internal/metrics"
	"inspiration-api/internal/middleware"
	"inspiration-api/internal/scheduler"
	"inspiration-api/internal/services"
	"inspiration-api/internal/ussd"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Handlers holds the services behind the HTTP endpoints
type Handlers struct {
	Store         *database.Store
	Subscriptions *services.SubscriptionService
	SMS           *services.SMSCommandService
	USSD          *ussd.Engine
	Payments      *services.PaymentReconciler
	Reports       *services.DeliveryReportService
	Scheduler     *scheduler.Scheduler
	Metrics       *metrics.Metrics
	// Pingers are extra dependencies checked by /health, e.g. redis
	Pingers     map[string]func(ctx context.Context) error
	AdminAPIKey string
	ServiceName string
}

// SetupRoutes sets up all routes
func SetupRoutes(r *gin.Engine, h *Handlers) {
	if h.Metrics != nil {
		r.Use(h.Metrics.Middleware())
	}

	api := r.Group("/api")
	{
		// Gateway callbacks
		api.POST("/ussd", h.HandleUSSD)
		api.POST("/sms/receive", h.ReceiveSMS)

		webhooks := api.Group("/webhooks")
		{
			webhooks.POST("/payment", h.PaymentWebhook)
			webhooks.POST("/delivery-report", h.DeliveryReportWebhook)
		}

		// Admin routes
		billing := api.Group("/billing")
		billing.Use(middleware.AdminAuth(h.AdminAPIKey))
		{
			billing.GET("/status", h.BillingStatus)
			billing.POST("", h.BillingAction)
		}

		cron := api.Group("/cron")
		cron.Use(middleware.AdminAuth(h.AdminAPIKey))
		{
			cron.GET("/status", h.CronStatus)
			cron.POST("/start", h.CronStart)
			cron.POST("/stop", h.CronStop)
			cron.POST("/run/:job", h.CronRun)
		}
	}

	if h.Metrics != nil {
		r.GET("/metrics", h.Metrics.Handler())
	}
	r.GET("/health", h.Health)
}

// Health reports the service and its dependencies
func (h *Handlers) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	healthy := true
	if err := h.Store.Ping(ctx); err != nil {
		checks["database"] = err.Error()
		healthy = false
	} else {
		checks["database"] = "ok"
	}
	for name, ping := range h.Pingers {
		if err := ping(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
		} else {
			checks[name] = "ok"
		}
	}

	status, code := "ok", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":  status,
		"service": h.ServiceName,
		"checks":  checks,
	})
}
