package api

import (
	"inspiration-api/internal/ussd"
	"inspiration-api/pkg/logging"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// USSDResponse is the JSON form of a USSD screen
type USSDResponse struct {
	Response        string `json:"response"`
	ContinueSession bool   `json:"continueSession"`
}

// HandleUSSD answers a USSD gateway callback. The gateway reads plain text; JSON is
// returned when the caller asks for it.
func (h *Handlers) HandleUSSD(c *gin.Context) {
	var req ussd.Request
	if err := c.ShouldBind(&req); err != nil {
		logging.Warnf("Invalid USSD request: %v", err)
		writeUSSD(c, http.StatusBadRequest, ussd.Response{Text: "Invalid request parameters"})
		return
	}

	resp := h.USSD.Handle(c.Request.Context(), req)
	writeUSSD(c, http.StatusOK, resp)
}

func writeUSSD(c *gin.Context, status int, resp ussd.Response) {
	if strings.Contains(c.GetHeader("Accept"), "application/json") {
		c.JSON(status, USSDResponse{Response: resp.String(), ContinueSession: resp.Continue})
		return
	}
	c.String(status, resp.String())
}
