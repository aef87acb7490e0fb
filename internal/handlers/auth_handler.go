package handlers

import (
	"net/http"

	"github.com/sirupsen/logrus"

	mw "github.com/creditforge/backend/internal/middleware"
	"github.com/creditforge/backend/internal/services"
)

type AuthHandler struct {
	accounts  *services.AccountService
	validator *services.ValidationHelper
	logger    logrus.FieldLogger
}

func NewAuthHandler(accounts *services.AccountService, logger logrus.FieldLogger) *AuthHandler {
	return &AuthHandler{
		accounts:  accounts,
		validator: services.NewValidationHelper(),
		logger:    logger,
	}
}

// Register creates an account and returns a session token
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req services.RegisterRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	resp, err := h.accounts.Register(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// Login exchanges email and password for a session token
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req services.LoginRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	resp, err := h.accounts.Login(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Logout revokes the presented token
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if token, ok := mw.BearerToken(r); ok {
		if err := h.accounts.Logout(r.Context(), token); err != nil {
			h.logger.WithError(err).Warn("Failed to revoke token")
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logout successful"})
}

// Account returns the caller's profile
func (h *AuthHandler) Account(w http.ResponseWriter, r *http.Request) {
	account, _ := mw.AccountFrom(r.Context())

	profile, err := h.accounts.Profile(r.Context(), account.ID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}
