package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"portfolio_link/internal/dashboard"
	apperrors "portfolio_link/internal/errors"
	"portfolio_link/internal/logging"
	"portfolio_link/internal/repository"
	"portfolio_link/internal/services"
)

// DashboardHandler serves the holdings dashboard and its actions.
type DashboardHandler struct {
	registry     *dashboard.Registry
	history      *repository.SyncHistoryRepository
	institutions *repository.LinkedInstitutionRepository
	baseCtx      context.Context
	logger       *logging.Logger
}

// NewDashboardHandler creates a new DashboardHandler. Background connects
// run under baseCtx, so cancelling it abandons pending consents.
func NewDashboardHandler(baseCtx context.Context, deps *Dependencies) *DashboardHandler {
	return &DashboardHandler{
		registry:     deps.Registry,
		history:      deps.SyncHistoryRepo,
		institutions: deps.LinkedInstitutionRepo,
		baseCtx:      baseCtx,
		logger:       deps.Logger.Component("handlers"),
	}
}

// actionResponse reports the result of a refresh or connect.
type actionResponse struct {
	dashboard.Result
	View *dashboard.View `json:"view,omitempty"`
}

// Dashboard returns the composed dashboard. q is stored as the filter;
// sort and dir override the stored order for this request only.
func (h *DashboardHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	ctrl, err := controllerFor(r, h.registry)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	query := r.URL.Query()
	sel := ctrl.Selection()
	if query.Has("q") {
		sel = ctrl.SetQuery(query.Get("q"))
	}
	if s := query.Get("sort"); s != "" {
		field, err := services.ParseSortField(s)
		if err != nil {
			respondError(w, h.logger, apperrors.Validation(err.Error()))
			return
		}
		sel.Field = field
	}
	if d := query.Get("dir"); d != "" {
		dir, err := services.ParseDirection(d)
		if err != nil {
			respondError(w, h.logger, apperrors.Validation(err.Error()))
			return
		}
		sel.Direction = dir
	}

	respondJSON(w, http.StatusOK, ctrl.View(sel))
}

// Sort applies a column click to the stored selection.
func (h *DashboardHandler) Sort(w http.ResponseWriter, r *http.Request) {
	ctrl, err := controllerFor(r, h.registry)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	var req struct {
		Field string `json:"field"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}
	field, err := services.ParseSortField(req.Field)
	if err != nil {
		respondError(w, h.logger, apperrors.Validation(err.Error()))
		return
	}

	respondJSON(w, http.StatusOK, ctrl.View(ctrl.ToggleSort(field)))
}

// Refresh re-syncs the caller's holdings.
func (h *DashboardHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctrl, err := controllerFor(r, h.registry)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	res := ctrl.Refresh(r.Context())
	if res.Kind != dashboard.ResultOK {
		respondJSON(w, resultStatus(res), actionResponse{Result: res})
		return
	}

	view := ctrl.View(ctrl.Selection())
	respondJSON(w, http.StatusOK, actionResponse{Result: res, View: &view})
}

// Connect starts an account link in the background. Clients poll
// /api/link/status and complete consent through the hosted page.
func (h *DashboardHandler) Connect(w http.ResponseWriter, r *http.Request) {
	ctrl, err := controllerFor(r, h.registry)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	res := ctrl.StartConnect(h.baseCtx, func(final dashboard.Result) {
		h.logger.Info().
			Str("user_id", ctrl.UserID()).
			Str("result", string(final.Kind)).
			Msg("background connect finished")
	})
	respondJSON(w, resultStatus(res), actionResponse{Result: res})
}

// Diagnostics returns the caller's diagnostic log as timestamped lines.
func (h *DashboardHandler) Diagnostics(w http.ResponseWriter, r *http.Request) {
	ctrl, err := controllerFor(r, h.registry)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"entries": ctrl.Diagnostics().Lines()})
}

// SyncHistory returns a page of the caller's sync runs, newest first.
func (h *DashboardHandler) SyncHistory(w http.ResponseWriter, r *http.Request) {
	ctrl, err := controllerFor(r, h.registry)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	page := repository.PaginationFromQuery(r.URL.Query())
	entries, err := h.history.ListByUser(r.Context(), ctrl.UserID(), page)
	if err != nil {
		respondError(w, h.logger, apperrors.Internal("listing sync history", err))
		return
	}

	resp := map[string]any{"entries": entries}
	if len(entries) == page.Limit {
		resp["next_offset"] = page.Next().Offset
	}
	respondJSON(w, http.StatusOK, resp)
}

// Institutions lists the caller's linked institutions.
func (h *DashboardHandler) Institutions(w http.ResponseWriter, r *http.Request) {
	ctrl, err := controllerFor(r, h.registry)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	linked, err := h.institutions.ListByUser(r.Context(), ctrl.UserID())
	if err != nil {
		respondError(w, h.logger, apperrors.Internal("listing linked institutions", err))
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"institutions": linked})
}

// AllocationChart renders the allocation donut as a PNG.
func (h *DashboardHandler) AllocationChart(w http.ResponseWriter, r *http.Request) {
	ctrl, err := controllerFor(r, h.registry)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	size, _ := strconv.Atoi(r.URL.Query().Get("size"))
	png, err := services.RenderAllocationChart(ctrl.View(ctrl.Selection()).Segments, size)
	if errors.Is(err, services.ErrEmptyAllocation) {
		respondError(w, h.logger, apperrors.NotFound("allocation"))
		return
	}
	if err != nil {
		respondError(w, h.logger, apperrors.Internal("rendering chart", err))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	_, _ = w.Write(png)
}

func resultStatus(res dashboard.Result) int {
	switch res.Kind {
	case dashboard.ResultOK:
		return http.StatusOK
	case dashboard.ResultPending:
		return http.StatusAccepted
	case dashboard.ResultCancelled:
		return http.StatusOK
	case dashboard.ResultRejected:
		return http.StatusConflict
	case dashboard.ResultAuthRequired:
		return http.StatusUnauthorized
	default:
		if res.Err != nil {
			return apperrors.HTTPStatus(res.Err)
		}
		return http.StatusBadGateway
	}
}
