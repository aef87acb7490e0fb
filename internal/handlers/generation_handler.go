package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	mw "github.com/creditforge/backend/internal/middleware"
	"github.com/creditforge/backend/internal/models"
	"github.com/creditforge/backend/internal/services"
)

type GenerationHandler struct {
	generation *services.GenerationService
	validator  *services.ValidationHelper
	logger     logrus.FieldLogger
}

func NewGenerationHandler(generation *services.GenerationService, logger logrus.FieldLogger) *GenerationHandler {
	return &GenerationHandler{
		generation: generation,
		validator:  services.NewValidationHelper(),
		logger:     logger,
	}
}

// Generate runs a generation and waits for its outcome. When the request
// deadline passes first the job keeps running and 202 is returned with it.
func (h *GenerationHandler) Generate(w http.ResponseWriter, r *http.Request) {
	account, _ := mw.AccountFrom(r.Context())

	var req services.GenerateRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	job, err := h.generation.Generate(r.Context(), account, req)
	if err != nil {
		if job != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
			writeJSON(w, http.StatusAccepted, job)
			return
		}
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

// Submit reserves credits and returns the job without waiting
func (h *GenerationHandler) Submit(w http.ResponseWriter, r *http.Request) {
	account, _ := mw.AccountFrom(r.Context())

	var req services.GenerateRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	job, err := h.generation.Submit(r.Context(), account, req)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// Job reports the state of one of the caller's jobs
func (h *GenerationHandler) Job(w http.ResponseWriter, r *http.Request) {
	account, _ := mw.AccountFrom(r.Context())

	job, err := h.generation.Job(account.ID, chi.URLParam(r, "jobId"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// Quote prices a request without reserving credits
func (h *GenerationHandler) Quote(w http.ResponseWriter, r *http.Request) {
	category := models.Category(r.URL.Query().Get("category"))

	quote, err := h.generation.Quote(category, queryInt(r, "quantity", 1))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}
