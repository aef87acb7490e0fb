package handlers

import (
	"net/http"

	"github.com/sirupsen/logrus"

	mw "github.com/creditforge/backend/internal/middleware"
	"github.com/creditforge/backend/internal/services"
)

type CreditsHandler struct {
	ledger    *services.CreditLedger
	stats     *services.AggregationService
	audit     *services.AuditService
	validator *services.ValidationHelper
	logger    logrus.FieldLogger
}

func NewCreditsHandler(ledger *services.CreditLedger, stats *services.AggregationService, audit *services.AuditService, logger logrus.FieldLogger) *CreditsHandler {
	return &CreditsHandler{
		ledger:    ledger,
		stats:     stats,
		audit:     audit,
		validator: services.NewValidationHelper(),
		logger:    logger,
	}
}

// TopUpRequest credits an account. Purchases are settled elsewhere, so only
// admins call this.
type TopUpRequest struct {
	AccountID string `json:"accountId" validate:"required"`
	Amount    int64  `json:"amount" validate:"required,gt=0"`
	Reference string `json:"reference" validate:"required,max=100"`
}

// Balance returns the caller's spendable and reserved credits
func (h *CreditsHandler) Balance(w http.ResponseWriter, r *http.Request) {
	account, _ := mw.AccountFrom(r.Context())

	summary, err := h.ledger.Balance(r.Context(), account.ID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// TopUp credits an account
func (h *CreditsHandler) TopUp(w http.ResponseWriter, r *http.Request) {
	actor, _ := mw.AccountFrom(r.Context())

	var req TopUpRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	balance, err := h.ledger.TopUp(r.Context(), req.AccountID, req.Amount, req.Reference)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	if err := h.audit.Append(r.Context(), actor.ID, actor.DisplayName, "topped up account "+req.AccountID); err != nil {
		h.logger.WithError(err).Warn("Audit append failed")
	}
	writeJSON(w, http.StatusOK, map[string]any{"accountId": req.AccountID, "balance": balance})
}

// Transactions pages through the caller's ledger entries
func (h *CreditsHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	account, _ := mw.AccountFrom(r.Context())

	page, err := h.stats.Transactions(r.Context(), account.ID, queryInt(r, "page", 1), queryInt(r, "pageSize", 10))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}
