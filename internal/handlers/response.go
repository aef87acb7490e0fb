package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/creditforge/backend/internal/services"
)

const maxBodyBytes = 1_048_576

// decodeJSON reads exactly one JSON object and validates it. It writes the
// error response itself and reports whether the handler may continue.
func decodeJSON(w http.ResponseWriter, r *http.Request, validator *services.ValidationHelper, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}

	if err := validator.ValidateStruct(dst); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeServiceError maps service errors onto HTTP statuses. Server side
// failures are logged; their details never reach the client.
func writeServiceError(w http.ResponseWriter, logger logrus.FieldLogger, err error) {
	switch {
	case services.IsInvalidInput(err):
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
	case errors.Is(err, services.ErrUnauthorized):
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
	case errors.Is(err, services.ErrForbidden), errors.Is(err, services.ErrAccountInactive):
		services.SendErrorResponse(w, "Forbidden", http.StatusForbidden, nil)
	case errors.Is(err, services.ErrNotFound):
		services.SendErrorResponse(w, "Not found", http.StatusNotFound, nil)
	case errors.Is(err, services.ErrAlreadyExists), errors.Is(err, services.ErrReservationClosed):
		services.SendErrorResponse(w, "Conflict", http.StatusConflict, nil)
	case errors.Is(err, services.ErrInsufficientCredits):
		services.SendErrorResponse(w, "Insufficient credits", http.StatusPaymentRequired, nil)
	case errors.Is(err, services.ErrCollaboratorFailure):
		logger.WithError(err).Warn("Content provider failure")
		services.SendErrorResponse(w, "Content generation failed; no credits were charged", http.StatusBadGateway, nil)
	case errors.Is(err, services.ErrStorageFailure):
		logger.WithError(err).Error("Storage failure")
		services.SendErrorResponse(w, "Service unavailable", http.StatusServiceUnavailable, nil)
	default:
		logger.WithError(err).Error("Unhandled error")
		services.SendErrorResponse(w, "Internal server error", http.StatusInternalServerError, nil)
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
