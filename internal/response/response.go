package response

import (
	"inspiration-api/internal/apperr"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response is the JSON envelope of every API answer
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Success returns a success response
func Success(data interface{}) Response {
	return Response{
		Success: true,
		Message: "success",
		Data:    data,
	}
}

// Error returns an error response
func Error(statusCode int, message string) Response {
	if message == "" {
		message = http.StatusText(statusCode)
	}
	return Response{
		Success: false,
		Message: message,
	}
}

// SuccessJSON sends a 200 success response
func SuccessJSON(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Success(data))
}

// ErrorJSON sends an error response
func ErrorJSON(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, Error(statusCode, message))
}

// Ack acknowledges a provider callback. Providers only look at the status code.
func Ack(c *gin.Context, outcome string) {
	c.JSON(http.StatusOK, Success(gin.H{"outcome": outcome}))
}

// FromError maps err onto its status code. Internal errors are not echoed to the caller.
func FromError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "Internal server error"
	}
	ErrorJSON(c, status, message)
}
