package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/stockcheck/internal/common"
)

type APIHandler struct {
	stock  StockService
	pages  PageStatus
	logger arbor.ILogger
}

func NewAPIHandler(stock StockService, pages PageStatus, logger arbor.ILogger) *APIHandler {
	return &APIHandler{
		stock:  stock,
		pages:  pages,
		logger: logger,
	}
}

// VersionHandler returns version information
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	WriteJSON(w, http.StatusOK, common.VersionInfo())
}

// HealthHandler returns health check status with the browser and active run
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	response := map[string]interface{}{
		"status": "ok",
	}

	if h.pages != nil {
		response["browser"] = map[string]interface{}{
			"started":    h.pages.Started(),
			"open_pages": h.pages.OpenPages(),
		}
	}

	if h.stock != nil {
		if run := h.stock.Current(); run != nil {
			response["current_run"] = runSnapshot(run)
		}
	}

	WriteJSON(w, http.StatusOK, response)
}

// NotFoundHandler handles 404 errors with JSON response
func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusNotFound, map[string]interface{}{
		"error":   "Not Found",
		"path":    r.URL.Path,
		"message": "The requested endpoint does not exist",
	})
}
