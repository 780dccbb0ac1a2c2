package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"portfolio_link/internal/dashboard"
	apperrors "portfolio_link/internal/errors"
	"portfolio_link/internal/link"
	"portfolio_link/internal/link/consent"
	"portfolio_link/internal/logging"
	"portfolio_link/internal/models"
)

// LinkHandler exposes link progress and the hosted consent callbacks.
type LinkHandler struct {
	registry *dashboard.Registry
	consent  *consent.Hosted
	logger   *logging.Logger
}

// NewLinkHandler creates a new LinkHandler.
func NewLinkHandler(deps *Dependencies) *LinkHandler {
	return &LinkHandler{
		registry: deps.Registry,
		consent:  deps.Consent,
		logger:   deps.Logger.Component("handlers"),
	}
}

// LinkStatusResponse describes the caller's current or last link session.
type LinkStatusResponse struct {
	SessionID    string      `json:"session_id,omitempty"`
	Status       link.Status `json:"status"`
	LinkToken    string      `json:"link_token,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
	ConsentURL   string      `json:"consent_url,omitempty"`
	Busy         bool        `json:"busy"`
}

// Status reports link progress. It is what clients poll after Connect.
func (h *LinkHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctrl, err := controllerFor(r, h.registry)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	resp := LinkStatusResponse{Status: link.StatusIdle, Busy: ctrl.Busy()}
	if session, ok := ctrl.LinkStatus(); ok {
		resp.SessionID = session.ID
		resp.Status = session.Status
		resp.LinkToken = session.LinkToken
		resp.ErrorMessage = session.ErrorMessage
	}
	if p, ok := h.consent.PendingFor(ctrl.UserID()); ok {
		resp.ConsentURL = p.URL
	}

	respondJSON(w, http.StatusOK, resp)
}

// QRCode renders the pending consent URL for opening on a phone.
func (h *LinkHandler) QRCode(w http.ResponseWriter, r *http.Request) {
	ctrl, err := controllerFor(r, h.registry)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	size, _ := strconv.Atoi(r.URL.Query().Get("size"))
	if size > 1024 {
		size = 1024
	}
	png, err := h.consent.QRCode(ctrl.UserID(), size)
	if err != nil {
		respondError(w, h.logger, consentError(err))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	_, _ = w.Write(png)
}

// ConsentInfo returns the pending consent addressed by the URL state so the
// hosted page can launch the provider flow with its link token.
func (h *LinkHandler) ConsentInfo(w http.ResponseWriter, r *http.Request) {
	p, err := h.consent.Lookup(chi.URLParam(r, "state"))
	if err != nil {
		respondError(w, h.logger, consentError(err))
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// ConsentSuccess relays a completed provider flow.
func (h *LinkHandler) ConsentSuccess(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PublicToken string             `json:"public_token"`
		Institution models.Institution `json:"institution"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}
	if req.PublicToken == "" {
		respondError(w, h.logger, apperrors.Validation("public_token is required"))
		return
	}

	if err := h.consent.Succeed(chi.URLParam(r, "state"), req.PublicToken, req.Institution); err != nil {
		respondError(w, h.logger, consentError(err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

// ConsentExit relays that the user left the provider flow. The body is
// optional.
func (h *LinkHandler) ConsentExit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ErrorCode    string `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, h.logger, apperrors.Validation("invalid JSON body: "+err.Error()))
		return
	}

	if err := h.consent.Exit(chi.URLParam(r, "state"), req.ErrorCode, req.ErrorMessage); err != nil {
		respondError(w, h.logger, consentError(err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

// consentError hides whether a state was forged or merely stale.
func consentError(err error) error {
	if errors.Is(err, consent.ErrNoPendingConsent) || errors.Is(err, consent.ErrInvalidState) {
		return apperrors.NotFound("pending consent")
	}
	return err
}
