package api

import (
	"errors"
	"inspiration-api/internal/apperr"
	"inspiration-api/internal/response"
	"inspiration-api/internal/scheduler"
	"inspiration-api/pkg/logging"
	"net/http"

	"github.com/gin-gonic/gin"
)

// CronStatus lists the scheduled jobs
func (h *Handlers) CronStatus(c *gin.Context) {
	response.SuccessJSON(c, h.Scheduler.Status())
}

// CronStart starts the scheduler if it is not running
func (h *Handlers) CronStart(c *gin.Context) {
	if err := h.Scheduler.Start(); err != nil {
		logging.Errorf("Failed to start scheduler: %v", err)
		response.ErrorJSON(c, http.StatusInternalServerError, err.Error())
		return
	}
	response.SuccessJSON(c, h.Scheduler.Status())
}

// CronStop stops the scheduler after running jobs finish
func (h *Handlers) CronStop(c *gin.Context) {
	h.Scheduler.Stop()
	response.SuccessJSON(c, h.Scheduler.Status())
}

// CronRun runs a job now. The delivery job accepts ?slot=HH:MM to deliver a slot other than
// the current time.
func (h *Handlers) CronRun(c *gin.Context) {
	job, err := scheduler.ParseJob(c.Param("job"))
	if err != nil {
		response.ErrorJSON(c, http.StatusNotFound, err.Error())
		return
	}

	var report *scheduler.Report
	if slot := c.Query("slot"); slot != "" && job == scheduler.JobDelivery {
		report, err = h.Scheduler.RunDelivery(c.Request.Context(), slot)
	} else {
		report, err = h.Scheduler.RunNow(c.Request.Context(), job)
	}

	switch {
	case errors.Is(err, scheduler.ErrJobRunning):
		response.ErrorJSON(c, http.StatusConflict, err.Error())
	case errors.Is(err, apperr.ErrInvalidInput):
		response.ErrorJSON(c, http.StatusBadRequest, err.Error())
	case err != nil:
		logging.Errorf("Manual job run failed - job: %s, error: %v", job, err)
		c.JSON(http.StatusInternalServerError, response.Response{Success: false, Message: err.Error(), Data: report})
	default:
		response.SuccessJSON(c, report)
	}
}
