package api

import (
	"fmt"
	"inspiration-api/internal/apperr"
	"inspiration-api/internal/models"
	"inspiration-api/internal/response"
	"inspiration-api/internal/services"
	"inspiration-api/pkg/logging"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Billing actions
const (
	ActionCreateSubscription = "create_subscription"
	ActionCancelSubscription = "cancel_subscription"
	ActionProcessPayment     = "process_payment"
	ActionPauseSubscription  = "pause_subscription"
	ActionResumeSubscription = "resume_subscription"
)

// BillingRequest is an admin billing action. Category "both" or empty means every category.
type BillingRequest struct {
	Action         string `json:"action" binding:"required"`
	PhoneNumber    string `json:"phoneNumber"`
	Category       string `json:"category"`
	Cycle          string `json:"cycle"`
	SubscriptionID uint   `json:"subscriptionId"`
	Reason         string `json:"reason"`
}

// BillingStatus returns a subscriber's active categories and subscriptions
func (h *Handlers) BillingStatus(c *gin.Context) {
	phoneNumber := c.Query("phoneNumber")
	if phoneNumber == "" {
		response.ErrorJSON(c, http.StatusBadRequest, "phoneNumber is required")
		return
	}

	view, err := h.Subscriptions.Status(c.Request.Context(), phoneNumber)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessJSON(c, view)
}

// BillingAction runs an admin billing action
func (h *Handlers) BillingAction(c *gin.Context) {
	var req BillingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Invalid request format: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	var (
		data interface{}
		err  error
	)
	switch req.Action {
	case ActionCreateSubscription:
		var categories []models.Category
		var cycle models.Cycle
		if categories, err = parseCategories(req.Category); err == nil {
			if cycle, err = models.ParseCycle(req.Cycle); err == nil {
				data, err = h.Subscriptions.Subscribe(ctx, req.PhoneNumber, categories, cycle)
			}
		}

	case ActionCancelSubscription:
		reason := req.Reason
		if reason == "" {
			reason = models.CancelReasonAdmin
		}
		if req.SubscriptionID != 0 {
			data, err = h.Subscriptions.CancelSubscription(ctx, req.SubscriptionID, reason)
			break
		}
		var categories []models.Category
		if categories, err = parseCategories(req.Category); err == nil {
			var cancelled []models.Category
			cancelled, err = h.Subscriptions.Cancel(ctx, req.PhoneNumber, categories, reason)
			data = gin.H{"cancelled": cancelled}
		}

	case ActionProcessPayment:
		if err = requireID(req.SubscriptionID); err == nil {
			var outcome services.ChargeOutcome
			outcome, err = h.Subscriptions.ChargeNow(ctx, req.SubscriptionID)
			data = gin.H{"outcome": outcome}
		}

	case ActionPauseSubscription:
		if err = requireID(req.SubscriptionID); err == nil {
			data, err = h.Subscriptions.Pause(ctx, req.SubscriptionID)
		}

	case ActionResumeSubscription:
		if err = requireID(req.SubscriptionID); err == nil {
			data, err = h.Subscriptions.Resume(ctx, req.SubscriptionID)
		}

	default:
		response.ErrorJSON(c, http.StatusBadRequest, "Unknown action: "+req.Action)
		return
	}

	if err != nil {
		logging.Warnf("Billing action failed - action: %s, phone: %s, subscription: %d, error: %v",
			req.Action, req.PhoneNumber, req.SubscriptionID, err)
		response.FromError(c, err)
		return
	}
	logging.Infof("Billing action applied - action: %s, phone: %s, subscription: %d", req.Action, req.PhoneNumber, req.SubscriptionID)
	response.SuccessJSON(c, data)
}

func parseCategories(s string) ([]models.Category, error) {
	if s == "" || s == "both" {
		return models.AllCategories, nil
	}
	category, err := models.ParseCategory(s)
	if err != nil {
		return nil, err
	}
	return []models.Category{category}, nil
}

func requireID(id uint) error {
	if id == 0 {
		return fmt.Errorf("subscriptionId is required: %w", apperr.ErrInvalidInput)
	}
	return nil
}
