package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/stockcheck/internal/models"
	"github.com/ternarybob/stockcheck/internal/services/collection"
)

// cardFlagRequest is the body of the owned and ignored endpoints. A missing
// flag means true.
type cardFlagRequest struct {
	CardID  string `json:"card_id"`
	Owned   *bool  `json:"owned,omitempty"`
	Ignored *bool  `json:"ignored,omitempty"`
}

type CollectionHandler struct {
	collections CollectionService
	logger      arbor.ILogger
}

func NewCollectionHandler(collections CollectionService, logger arbor.ILogger) *CollectionHandler {
	return &CollectionHandler{
		collections: collections,
		logger:      logger,
	}
}

// SitesHandler lists the configured search sites. GET /api/sites
func (h *CollectionHandler) SitesHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"sites": h.collections.Sites()})
}

// ListHandler lists collection summaries. GET /api/collections
func (h *CollectionHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.collections.List(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list collections")
		WriteError(w, http.StatusInternalServerError, "Failed to list collections")
		return
	}
	if summaries == nil {
		summaries = []models.CollectionSummary{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"collections": summaries,
		"count":       len(summaries),
	})
}

// SaveHandler stores a collection, replacing any existing one for the artist.
// POST /api/collections
func (h *CollectionHandler) SaveHandler(w http.ResponseWriter, r *http.Request) {
	var c models.Collection
	if err := decodeJSON(w, r, &c); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.collections.Save(r.Context(), &c); err != nil {
		h.writeError(w, err, "Failed to save collection")
		return
	}
	WriteJSON(w, http.StatusOK, c.Summary())
}

// GetHandler returns one collection. GET /api/collections/{artist}
func (h *CollectionHandler) GetHandler(w http.ResponseWriter, r *http.Request, artist string) {
	c, err := h.collections.Get(r.Context(), artist)
	if err != nil {
		h.writeError(w, err, "Failed to get collection")
		return
	}
	WriteJSON(w, http.StatusOK, c)
}

// DeleteHandler removes a collection. DELETE /api/collections/{artist}
func (h *CollectionHandler) DeleteHandler(w http.ResponseWriter, r *http.Request, artist string) {
	if err := h.collections.Delete(r.Context(), artist); err != nil {
		h.writeError(w, err, "Failed to delete collection")
		return
	}
	WriteSuccess(w, fmt.Sprintf("Collection %s deleted", artist))
}

// OwnedHandler marks a card owned or not. POST /api/collections/{artist}/owned
func (h *CollectionHandler) OwnedHandler(w http.ResponseWriter, r *http.Request, artist string) {
	req, ok := h.decodeFlag(w, r)
	if !ok {
		return
	}

	c, err := h.collections.SetOwned(r.Context(), artist, req.CardID, flagOr(req.Owned))
	if err != nil {
		h.writeError(w, err, "Failed to update owned cards")
		return
	}
	WriteJSON(w, http.StatusOK, c)
}

// IgnoredHandler marks a card ignored or not. POST /api/collections/{artist}/ignored
func (h *CollectionHandler) IgnoredHandler(w http.ResponseWriter, r *http.Request, artist string) {
	req, ok := h.decodeFlag(w, r)
	if !ok {
		return
	}

	c, err := h.collections.SetIgnored(r.Context(), artist, req.CardID, flagOr(req.Ignored))
	if err != nil {
		h.writeError(w, err, "Failed to update ignored cards")
		return
	}
	WriteJSON(w, http.StatusOK, c)
}

// IgnoreAllHandler ignores every card, or clears the list when every card is
// already ignored. POST /api/collections/{artist}/ignore-all
func (h *CollectionHandler) IgnoreAllHandler(w http.ResponseWriter, r *http.Request, artist string) {
	c, err := h.collections.ToggleIgnoreAll(r.Context(), artist)
	if err != nil {
		h.writeError(w, err, "Failed to toggle ignored cards")
		return
	}
	WriteJSON(w, http.StatusOK, c)
}

// ExportHandler downloads every collection. GET /api/collections/export
func (h *CollectionHandler) ExportHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	data, err := h.collections.Export(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to export collections")
		WriteError(w, http.StatusInternalServerError, "Failed to export collections")
		return
	}

	filename := fmt.Sprintf("collections-%s.json", time.Now().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// ImportHandler replaces every collection with an exported file.
// POST /api/collections/import
func (h *CollectionHandler) ImportHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	count, err := h.collections.Import(r.Context(), body)
	if err != nil {
		h.writeError(w, err, "Failed to import collections")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "success",
		"imported": count,
	})
}

func (h *CollectionHandler) decodeFlag(w http.ResponseWriter, r *http.Request) (cardFlagRequest, bool) {
	var req cardFlagRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return req, false
	}
	if req.CardID == "" {
		WriteError(w, http.StatusBadRequest, "card_id is required")
		return req, false
	}
	return req, true
}

func (h *CollectionHandler) writeError(w http.ResponseWriter, err error, message string) {
	switch {
	case collection.IsNotFound(err), errors.Is(err, collection.ErrCardNotFound):
		WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, collection.ErrArtistMissing), errors.Is(err, collection.ErrInvalidImport):
		WriteError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error().Err(err).Msg(message)
		WriteError(w, http.StatusInternalServerError, message)
	}
}

func flagOr(v *bool) bool {
	return v == nil || *v
}
