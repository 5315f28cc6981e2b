package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Scheduler metrics
	SweepRunsTotal  *prometheus.CounterVec
	SweepDuration   *prometheus.HistogramVec
	SweepUnitsTotal *prometheus.CounterVec

	// Billing metrics
	ChargesTotal       *prometheus.CounterVec
	PaymentEventsTotal *prometheus.CounterVec
	CancellationsTotal *prometheus.CounterVec

	// Messaging metrics
	MessagesTotal      *prometheus.CounterVec
	USSDRequestsTotal  *prometheus.CounterVec
	DeliveryRetryTotal *prometheus.CounterVec

	// Business metrics
	SubscriptionsByStatus *prometheus.GaugeVec
	ActiveSubscribers     prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inspiration_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "inspiration_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		SweepRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inspiration_sweep_runs_total",
				Help: "Total number of scheduler sweeps",
			},
			[]string{"job", "status"},
		),
		SweepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "inspiration_sweep_duration_seconds",
				Help:    "Scheduler sweep duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.1, 4, 8),
			},
			[]string{"job"},
		),
		SweepUnitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inspiration_sweep_units_total",
				Help: "Units of work processed by scheduler sweeps",
			},
			[]string{"job", "outcome"},
		),

		ChargesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inspiration_charges_total",
				Help: "Charge initiations by outcome",
			},
			[]string{"outcome"},
		),
		PaymentEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inspiration_payment_events_total",
				Help: "Payment callbacks by resulting ledger status",
			},
			[]string{"status"},
		),
		CancellationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inspiration_cancellations_total",
				Help: "Subscription cancellations by reason",
			},
			[]string{"reason"},
		),

		MessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inspiration_messages_total",
				Help: "Outbound messages by kind and status",
			},
			[]string{"kind", "status"},
		),
		USSDRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inspiration_ussd_requests_total",
				Help: "USSD requests by session outcome",
			},
			[]string{"outcome"},
		),
		DeliveryRetryTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inspiration_delivery_retries_total",
				Help: "Delivery retries by outcome",
			},
			[]string{"outcome"},
		),

		SubscriptionsByStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "inspiration_subscriptions",
				Help: "Subscriptions per status",
			},
			[]string{"status"},
		),
		ActiveSubscribers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "inspiration_active_subscribers",
				Help: "Subscribers not marked inactive",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.SweepRunsTotal,
		m.SweepDuration,
		m.SweepUnitsTotal,
		m.ChargesTotal,
		m.PaymentEventsTotal,
		m.CancellationsTotal,
		m.MessagesTotal,
		m.USSDRequestsTotal,
		m.DeliveryRetryTotal,
		m.SubscriptionsByStatus,
		m.ActiveSubscribers,
	)

	return m
}

// New creates metrics on a fresh registry
func New() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// Registry returns the registry the metrics live in
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return gin.WrapH(h)
}

// Middleware records request counts and durations by route template
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// The helpers below accept a nil receiver so components can run without metrics.

// ObserveSweep records one finished sweep
func (m *Metrics) ObserveSweep(job string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.SweepRunsTotal.WithLabelValues(job, status).Inc()
	m.SweepDuration.WithLabelValues(job).Observe(elapsed.Seconds())
}

// SweepUnit counts one unit of sweep work
func (m *Metrics) SweepUnit(job, outcome string) {
	if m == nil {
		return
	}
	m.SweepUnitsTotal.WithLabelValues(job, outcome).Inc()
}

// Charge counts one charge initiation
func (m *Metrics) Charge(outcome string) {
	if m == nil {
		return
	}
	m.ChargesTotal.WithLabelValues(outcome).Inc()
}

// PaymentEvent counts one applied payment callback
func (m *Metrics) PaymentEvent(status string) {
	if m == nil {
		return
	}
	m.PaymentEventsTotal.WithLabelValues(status).Inc()
}

// Cancellation counts one cancelled subscription
func (m *Metrics) Cancellation(reason string) {
	if m == nil {
		return
	}
	m.CancellationsTotal.WithLabelValues(reason).Inc()
}

// Message counts one outbound message
func (m *Metrics) Message(kind, status string) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(kind, status).Inc()
}

// USSD counts one USSD request
func (m *Metrics) USSD(continued bool) {
	if m == nil {
		return
	}
	outcome := "end"
	if continued {
		outcome = "continue"
	}
	m.USSDRequestsTotal.WithLabelValues(outcome).Inc()
}

// DeliveryRetry counts one retry outcome
func (m *Metrics) DeliveryRetry(outcome string) {
	if m == nil {
		return
	}
	m.DeliveryRetryTotal.WithLabelValues(outcome).Inc()
}

// SetSubscriptionCounts replaces the per-status gauge values
func (m *Metrics) SetSubscriptionCounts(counts map[string]int64) {
	if m == nil {
		return
	}
	m.SubscriptionsByStatus.Reset()
	for status, n := range counts {
		m.SubscriptionsByStatus.WithLabelValues(status).Set(float64(n))
	}
}

// SetActiveSubscribers sets the active subscriber gauge
func (m *Metrics) SetActiveSubscribers(n int64) {
	if m == nil {
		return
	}
	m.ActiveSubscribers.Set(float64(n))
}
