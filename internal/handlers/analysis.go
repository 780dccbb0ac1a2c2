package handlers

import (
	"errors"
	"net/http"

	"portfolio_link/internal/dashboard"
	apperrors "portfolio_link/internal/errors"
	"portfolio_link/internal/logging"
	"portfolio_link/internal/services"
)

// AnalysisHandler serves generated portfolio commentary.
type AnalysisHandler struct {
	registry *dashboard.Registry
	analysis *services.AnalysisService
	logger   *logging.Logger
}

// NewAnalysisHandler creates a new AnalysisHandler.
func NewAnalysisHandler(deps *Dependencies) *AnalysisHandler {
	return &AnalysisHandler{
		registry: deps.Registry,
		analysis: deps.Analysis,
		logger:   deps.Logger.Component("handlers"),
	}
}

// Get returns the cached analysis for the caller.
func (h *AnalysisHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctrl, err := controllerFor(r, h.registry)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	a, ok, err := h.analysis.Latest(r.Context(), ctrl.UserID())
	if err != nil {
		respondError(w, h.logger, apperrors.Internal("loading analysis", err))
		return
	}
	if !ok {
		respondError(w, h.logger, apperrors.NotFound("analysis"))
		return
	}
	respondJSON(w, http.StatusOK, a)
}

// Regenerate produces fresh analysis of the caller's current holdings.
func (h *AnalysisHandler) Regenerate(w http.ResponseWriter, r *http.Request) {
	ctrl, err := controllerFor(r, h.registry)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	holdings := ctrl.Holdings()
	if len(holdings) == 0 {
		respondError(w, h.logger, apperrors.Validation("no holdings to analyze"))
		return
	}

	a, err := h.analysis.Regenerate(r.Context(), ctrl.UserID(), holdings)
	switch {
	case errors.Is(err, services.ErrAnalysisUnavailable):
		respondJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	case err != nil:
		h.logger.Warn().Err(err).Str("user_id", ctrl.UserID()).Msg("analysis generation failed")
		respondJSON(w, http.StatusBadGateway, errorResponse{Error: "analysis generation failed"})
		return
	}
	respondJSON(w, http.StatusOK, a)
}
