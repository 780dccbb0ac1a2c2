package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"portfolio_link/internal/middleware"
)

// NewRouter builds the service router. Background connects started through
// it run under baseCtx.
func NewRouter(baseCtx context.Context, deps *Dependencies, authMW *middleware.AuthMiddleware) *chi.Mux {
	dash := NewDashboardHandler(baseCtx, deps)
	linkH := NewLinkHandler(deps)
	analysis := NewAnalysisHandler(deps)
	export := NewExportHandler(deps)

	r := chi.NewRouter()

	// Chi middleware (aliased as chimw to avoid conflict with our middleware package)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestID)
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.SecurityHeaders)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Hosted consent callbacks carry a signed state instead of a bearer token.
	r.Route("/consent/{state}", func(r chi.Router) {
		r.Use(middleware.LimitConsent)
		r.Get("/", linkH.ConsentInfo)
		r.Post("/success", linkH.ConsentSuccess)
		r.Post("/exit", linkH.ConsentExit)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(authMW.RequireAuth)
		r.Use(middleware.LimitAPI)

		r.Get("/dashboard", dash.Dashboard)
		r.Post("/dashboard/sort", dash.Sort)
		r.Get("/diagnostics", dash.Diagnostics)
		r.Get("/sync-history", dash.SyncHistory)
		r.Get("/institutions", dash.Institutions)
		r.Get("/allocation/chart.png", dash.AllocationChart)
		r.Get("/holdings.csv", export.ExportHoldings)

		r.Get("/link/status", linkH.Status)
		r.Get("/link/qr", linkH.QRCode)

		r.Get("/analysis", analysis.Get)

		// Actions reach the link provider and are limited more tightly.
		r.Group(func(r chi.Router) {
			r.Use(middleware.LimitActions)
			r.Post("/refresh", dash.Refresh)
			r.Post("/connect", dash.Connect)
			r.Post("/analysis", analysis.Regenerate)
		})
	})

	return r
}
