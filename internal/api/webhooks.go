package api

import (
	"encoding/json"
	"inspiration-api/internal/models"
	"inspiration-api/internal/response"
	"inspiration-api/internal/services"
	"inspiration-api/pkg/logging"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	signatureHeader = "X-Signature"
	timestampHeader = "X-Timestamp"
)

// readSigned reads the raw body and verifies its signature. It writes the error response
// and returns false when the request must be rejected.
func readSigned(c *gin.Context, verify func(body []byte, signature, timestamp string) error) ([]byte, bool) {
	body, err := c.GetRawData()
	if err != nil {
		logging.Errorf("Failed to read request body: %v", err)
		response.ErrorJSON(c, http.StatusBadRequest, "Failed to read request body")
		return nil, false
	}

	if err := verify(body, c.GetHeader(signatureHeader), c.GetHeader(timestampHeader)); err != nil {
		logging.Warnf("Webhook signature verification failed - path: %s, ip: %s, error: %v", c.FullPath(), c.ClientIP(), err)
		response.ErrorJSON(c, http.StatusUnauthorized, "Signature verification failed")
		return nil, false
	}
	return body, true
}

// PaymentWebhook applies a payment provider callback. Everything that passes the
// signature check is acknowledged so the provider stops retrying.
func (h *Handlers) PaymentWebhook(c *gin.Context) {
	startTime := time.Now()
	body, ok := readSigned(c, h.Payments.Verify)
	if !ok {
		return
	}

	var notification models.PaymentNotification
	if err := json.Unmarshal(body, &notification); err != nil || notification.TransactionID == "" {
		logging.Errorf("Invalid payment notification - body length: %d, error: %v", len(body), err)
		response.Ack(c, string(services.ReconcileIgnored))
		return
	}

	outcome, err := h.Payments.Reconcile(c.Request.Context(), &notification)
	if err != nil {
		logging.Errorf("Payment notification not applied - transaction: %s, error: %v", notification.TransactionID, err)
	}
	logging.Infof("Payment notification processed - transaction: %s, status: %s, outcome: %s, duration: %v",
		notification.TransactionID, notification.Status, outcome, time.Since(startTime))
	response.Ack(c, string(outcome))
}

// DeliveryReportWebhook applies an SMS delivery report
func (h *Handlers) DeliveryReportWebhook(c *gin.Context) {
	body, ok := readSigned(c, h.Reports.Verify)
	if !ok {
		return
	}

	var report models.DeliveryReport
	if err := json.Unmarshal(body, &report); err != nil || report.RequestID == "" {
		logging.Errorf("Invalid delivery report - body length: %d, error: %v", len(body), err)
		response.Ack(c, string(services.ReconcileIgnored))
		return
	}

	outcome, err := h.Reports.Apply(c.Request.Context(), &report)
	if err != nil {
		logging.Errorf("Delivery report not applied - request: %s, error: %v", report.RequestID, err)
	}
	response.Ack(c, string(outcome))
}
