package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/stockcheck/internal/common"
	"github.com/ternarybob/stockcheck/internal/models"
	"github.com/ternarybob/stockcheck/internal/services/collection"
	"github.com/ternarybob/stockcheck/internal/services/stock"
)

const defaultRunListLimit = 20

// checkRequest is the body of POST /api/stock/check. Either an artist (whose
// candidate pool is built from the stored collection) or explicit items.
type checkRequest struct {
	Artist      string        `json:"artist" validate:"required_without=Items"`
	Items       []models.Item `json:"items" validate:"required_without=Artist,dive"`
	Site        string        `json:"site"`
	VariantOnly *bool         `json:"variant_only"`
	Concurrency int           `json:"concurrency"`
	Limit       int           `json:"limit" validate:"gte=0"`
}

type cancelRequest struct {
	RunID string `json:"run_id"`
}

// StockHandler serves the stock check endpoints
type StockHandler struct {
	stock       StockService
	collections CollectionService
	defaults    common.StockConfig
	validate    *validator.Validate
	logger      arbor.ILogger
}

func NewStockHandler(stock StockService, collections CollectionService, defaults common.StockConfig, logger arbor.ILogger) *StockHandler {
	return &StockHandler{
		stock:       stock,
		collections: collections,
		defaults:    defaults,
		validate:    validator.New(),
		logger:      logger,
	}
}

// CheckHandler starts a stock check. POST /api/stock/check
func (h *StockHandler) CheckHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req checkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	items := req.Items
	if req.Artist != "" && len(items) == 0 {
		pool, err := h.collections.BuildPool(r.Context(), req.Artist, req.Site, req.Limit)
		if err != nil {
			h.writePoolError(w, err)
			return
		}
		items = pool
	}

	variantOnly := h.defaults.VariantOnly
	if req.VariantOnly != nil {
		variantOnly = *req.VariantOnly
	}
	concurrency := req.Concurrency
	if concurrency == 0 {
		concurrency = h.defaults.DefaultConcurrency
	}

	run, err := h.stock.StartCheck(r.Context(), stock.StartRequest{
		Items:            items,
		VariantOnly:      variantOnly,
		ConcurrencyLimit: concurrency,
		Artist:           models.NormalizeArtist(req.Artist),
		Site:             req.Site,
		TriggeredBy:      "api",
	})
	if err != nil {
		h.writeStartError(w, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"run_id":      run.ID(),
		"total":       run.Total(),
		"concurrency": run.Limit(),
	})
}

// CancelHandler cancels the active check. POST /api/stock/cancel
func (h *StockHandler) CancelHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req cancelRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.stock.CancelCheck(req.RunID); err != nil {
		if errors.Is(err, stock.ErrRunNotFound) {
			WriteError(w, http.StatusNotFound, "No matching stock check is running")
			return
		}
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	WriteSuccess(w, "Stock check cancelled")
}

// CurrentHandler returns the active run. GET /api/stock/current
func (h *StockHandler) CurrentHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	run := h.stock.Current()
	if run == nil {
		WriteJSON(w, http.StatusOK, map[string]interface{}{"running": false})
		return
	}

	snapshot := runSnapshot(run)
	snapshot["running"] = true
	WriteJSON(w, http.StatusOK, snapshot)
}

// ListRunsHandler lists recent runs, newest first. GET /api/stock/runs?limit=N
func (h *StockHandler) ListRunsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	runs, err := h.stock.ListRuns(r.Context(), queryInt(r, "limit", defaultRunListLimit))
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list runs")
		WriteError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}
	if runs == nil {
		runs = []*models.RunRecord{}
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// GetRunHandler returns one run record. GET /api/stock/runs/{id}
func (h *StockHandler) GetRunHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	segments := PathSegments(r, "/api/stock/runs/")
	if len(segments) != 1 {
		WriteError(w, http.StatusBadRequest, "Run ID is required")
		return
	}

	record, err := h.stock.GetRun(r.Context(), segments[0])
	if err != nil {
		if errors.Is(err, stock.ErrRunNotFound) {
			WriteError(w, http.StatusNotFound, "Run not found")
			return
		}
		h.logger.Error().Err(err).Str("run_id", segments[0]).Msg("Failed to get run")
		WriteError(w, http.StatusInternalServerError, "Failed to get run")
		return
	}

	WriteJSON(w, http.StatusOK, record)
}

func (h *StockHandler) writePoolError(w http.ResponseWriter, err error) {
	switch {
	case collection.IsNotFound(err):
		WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, collection.ErrUnknownSite):
		WriteError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error().Err(err).Msg("Failed to build candidate pool")
		WriteError(w, http.StatusInternalServerError, "Failed to build candidate pool")
	}
}

func (h *StockHandler) writeStartError(w http.ResponseWriter, err error) {
	var validationErrs validator.ValidationErrors
	switch {
	case errors.Is(err, stock.ErrHostUnavailable):
		WriteError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &validationErrs):
		WriteError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error().Err(err).Msg("Failed to start stock check")
		WriteError(w, http.StatusInternalServerError, "Failed to start stock check")
	}
}

func runSnapshot(run *stock.Run) map[string]interface{} {
	return map[string]interface{}{
		"run_id":     run.ID(),
		"checked":    run.Checked(),
		"total":      run.Total(),
		"started_at": run.StartedAt().Format(time.RFC3339),
	}
}
