// Package handlers provides the HTTP API of the link service.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"portfolio_link/internal/dashboard"
	apperrors "portfolio_link/internal/errors"
	"portfolio_link/internal/logging"
	"portfolio_link/internal/middleware"
)

// errorResponse is the body of every error reply.
type errorResponse struct {
	Error   string         `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// respondError maps err to a status code and writes it as JSON. Unmapped
// errors are logged and reported without internals.
func respondError(w http.ResponseWriter, logger *logging.Logger, err error) {
	status := apperrors.HTTPStatus(err)

	body := errorResponse{Error: err.Error()}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		body.Details = appErr.Details
	}
	if status == http.StatusInternalServerError {
		logger.Error().Err(err).Msg("request failed")
		body = errorResponse{Error: "internal error"}
	}

	respondJSON(w, status, body)
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperrors.Validation("invalid JSON body: " + err.Error())
	}
	return nil
}

// controllerFor returns the caller's dashboard controller, running its
// initial sync on first use.
func controllerFor(r *http.Request, registry *dashboard.Registry) (*dashboard.Controller, error) {
	creds, ok := middleware.GetCredentials(r)
	if !ok || creds.UserID == "" {
		return nil, apperrors.AuthRequired("")
	}
	ctrl, created := registry.Get(creds)
	if created {
		ctrl.Init(r.Context())
	}
	return ctrl, nil
}
