package handlers

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	mw "github.com/creditforge/backend/internal/middleware"
	"github.com/creditforge/backend/internal/models"
	"github.com/creditforge/backend/internal/services"
)

type ContentHandler struct {
	history   *services.HistoryService
	stats     *services.AggregationService
	validator *services.ValidationHelper
	logger    logrus.FieldLogger
}

func NewContentHandler(history *services.HistoryService, stats *services.AggregationService, logger logrus.FieldLogger) *ContentHandler {
	return &ContentHandler{
		history:   history,
		stats:     stats,
		validator: services.NewValidationHelper(),
		logger:    logger,
	}
}

// List returns the caller's content history, filtered and paginated
func (h *ContentHandler) List(w http.ResponseWriter, r *http.Request) {
	account, _ := mw.AccountFrom(r.Context())
	q := r.URL.Query()

	page, err := h.history.Query(r.Context(), services.HistoryQuery{
		AccountID: account.ID,
		Search:    q.Get("search"),
		Category:  models.Category(strings.TrimSpace(q.Get("category"))),
		Status:    models.ContentStatus(strings.TrimSpace(q.Get("status"))),
		Page:      queryInt(r, "page", 1),
		PageSize:  queryInt(r, "pageSize", 10),
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// Update applies an owner edit to one item
func (h *ContentHandler) Update(w http.ResponseWriter, r *http.Request) {
	account, _ := mw.AccountFrom(r.Context())

	itemID, err := snowflake.ParseString(chi.URLParam(r, "itemId"))
	if err != nil {
		services.SendErrorResponse(w, "Not found", http.StatusNotFound, nil)
		return
	}

	var upd services.ContentUpdate
	if !decodeJSON(w, r, h.validator, &upd) {
		return
	}

	item, err := h.history.Update(r.Context(), account.ID, itemID, upd)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// Stats returns the caller's dashboard statistics
func (h *ContentHandler) Stats(w http.ResponseWriter, r *http.Request) {
	account, _ := mw.AccountFrom(r.Context())

	stats, err := h.stats.Stats(r.Context(), account.ID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
