package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	mw "github.com/creditforge/backend/internal/middleware"
	"github.com/creditforge/backend/internal/services"
)

type AdminHandler struct {
	accounts *services.AccountService
	ledger   *services.CreditLedger
	audit    *services.AuditService
	logger   logrus.FieldLogger
}

func NewAdminHandler(accounts *services.AccountService, ledger *services.CreditLedger, audit *services.AuditService, logger logrus.FieldLogger) *AdminHandler {
	return &AdminHandler{accounts: accounts, ledger: ledger, audit: audit, logger: logger}
}

// Audit returns the most recent activity entries
func (h *AdminHandler) Audit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.audit.Query(r.Context(), queryInt(r, "limit", h.audit.Capacity()))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// Deactivate disables an account and every credential it holds
func (h *AdminHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	actor, _ := mw.AccountFrom(r.Context())

	if err := h.accounts.Deactivate(r.Context(), actor, chi.URLParam(r, "accountId")); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Account deactivated"})
}

// VerifyBalance recomputes an account's balance from its ledger
func (h *AdminHandler) VerifyBalance(w http.ResponseWriter, r *http.Request) {
	check, err := h.ledger.VerifyBalance(r.Context(), chi.URLParam(r, "accountId"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}
