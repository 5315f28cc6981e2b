package api

import (
	"inspiration-api/internal/response"
	"inspiration-api/pkg/logging"
	"net/http"

	"github.com/gin-gonic/gin"
)

// InboundSMSRequest is the gateway's inbound SMS callback. The gateway sends the sender as
// "from"; phoneNumber is accepted for manual testing.
type InboundSMSRequest struct {
	From        string `json:"from" form:"from"`
	PhoneNumber string `json:"phoneNumber" form:"phoneNumber"`
	Text        string `json:"text" form:"text"`
	To          string `json:"to" form:"to"`
	LinkID      string `json:"linkId" form:"linkId"`
	ID          string `json:"id" form:"id"`
}

// ReceiveSMS handles an inbound SMS keyword and returns the reply
func (h *Handlers) ReceiveSMS(c *gin.Context) {
	var req InboundSMSRequest
	if err := c.ShouldBind(&req); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Invalid request format: "+err.Error())
		return
	}
	sender := req.From
	if sender == "" {
		sender = req.PhoneNumber
	}
	if sender == "" {
		response.ErrorJSON(c, http.StatusBadRequest, "Missing phone number")
		return
	}

	logging.Infof("Inbound SMS - from: %s, id: %s, text: %q", sender, req.ID, req.Text)
	reply, err := h.SMS.Handle(c.Request.Context(), sender, req.Text)
	if err != nil {
		logging.Errorf("Inbound SMS failed - from: %s, error: %v", sender, err)
		response.FromError(c, err)
		return
	}
	response.SuccessJSON(c, reply)
}
