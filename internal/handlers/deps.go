package handlers

import (
	"portfolio_link/internal/dashboard"
	"portfolio_link/internal/link/consent"
	"portfolio_link/internal/logging"
	"portfolio_link/internal/repository"
	"portfolio_link/internal/services"
)

// Dependencies holds all handler dependencies.
type Dependencies struct {
	Registry *dashboard.Registry
	Consent  *consent.Hosted
	Logger   *logging.Logger

	// Repositories
	SyncHistoryRepo       *repository.SyncHistoryRepository
	LinkedInstitutionRepo *repository.LinkedInstitutionRepository

	// Services
	Analysis *services.AnalysisService
}

// NewDependencies creates a Dependencies container around the registry.
// Use the builder methods to set the rest.
func NewDependencies(registry *dashboard.Registry) *Dependencies {
	return &Dependencies{Registry: registry, Logger: logging.NewSilent()}
}

// WithConsent sets the hosted consent bridge.
func (d *Dependencies) WithConsent(c *consent.Hosted) *Dependencies {
	d.Consent = c
	return d
}

// WithLogger sets the logger.
func (d *Dependencies) WithLogger(l *logging.Logger) *Dependencies {
	d.Logger = l
	return d
}

// WithSyncHistoryRepo sets the sync history repository.
func (d *Dependencies) WithSyncHistoryRepo(r *repository.SyncHistoryRepository) *Dependencies {
	d.SyncHistoryRepo = r
	return d
}

// WithLinkedInstitutionRepo sets the linked institution repository.
func (d *Dependencies) WithLinkedInstitutionRepo(r *repository.LinkedInstitutionRepository) *Dependencies {
	d.LinkedInstitutionRepo = r
	return d
}

// WithAnalysis sets the analysis service.
func (d *Dependencies) WithAnalysis(s *services.AnalysisService) *Dependencies {
	d.Analysis = s
	return d
}
