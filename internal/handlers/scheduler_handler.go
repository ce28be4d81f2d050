package handlers

import (
	"net/http"

	"github.com/ternarybob/stockcheck/internal/interfaces"
	"github.com/ternarybob/stockcheck/internal/services/scheduler"
)

// SchedulerHandler handles scheduler-related endpoints
type SchedulerHandler struct {
	schedulerService interfaces.SchedulerService
}

// NewSchedulerHandler creates a new scheduler handler
func NewSchedulerHandler(schedulerService interfaces.SchedulerService) *SchedulerHandler {
	return &SchedulerHandler{
		schedulerService: schedulerService,
	}
}

// JobsHandler lists registered jobs with their last and next runs
func (h *SchedulerHandler) JobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"running": h.schedulerService.IsRunning(),
		"jobs":    h.schedulerService.GetAllJobStatuses(),
	})
}

// TriggerStockCheckHandler runs the scheduled stock check now
func (h *SchedulerHandler) TriggerStockCheckHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	if err := h.schedulerService.TriggerJob(scheduler.StockJobName); err != nil {
		WriteError(w, http.StatusConflict, err.Error())
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]string{
		"status":  "started",
		"message": "Scheduled stock check triggered",
	})
}
