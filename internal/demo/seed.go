// Package demo provides the in-memory link backend and data seeding for
// demonstration deployments.
package demo

import (
	"context"
	"fmt"

	"portfolio_link/internal/logging"
	"portfolio_link/internal/models"
	"portfolio_link/internal/repository"
)

// UserID is the demo account.
const UserID = "demo-user"

// Seeder seeds the database with demo data.
type Seeder struct {
	holdingRepo     *repository.HoldingRepository
	institutionRepo *repository.LinkedInstitutionRepository
	backend         *Backend
	logger          *logging.Logger
}

// NewSeeder creates a new demo data seeder. backend may be nil.
func NewSeeder(holdingRepo *repository.HoldingRepository, institutionRepo *repository.LinkedInstitutionRepository, backend *Backend, logger *logging.Logger) *Seeder {
	if logger == nil {
		logger = logging.NewSilent()
	}
	return &Seeder{
		holdingRepo:     holdingRepo,
		institutionRepo: institutionRepo,
		backend:         backend,
		logger:          logger.Component("demo"),
	}
}

// SeedIfEmpty seeds the demo user unless they already have holdings.
func (s *Seeder) SeedIfEmpty(ctx context.Context) error {
	count, err := s.holdingRepo.CountByUser(ctx, UserID)
	if err != nil {
		return fmt.Errorf("counting demo holdings: %w", err)
	}

	if count > 0 {
		s.logger.Info().Int("holdings", count).Msg("demo user already has holdings, skipping seed")
		if s.backend != nil {
			s.backend.MarkLinked(UserID, Institution)
		}
		return nil
	}

	s.logger.Info().Msg("seeding demo data")
	return s.Seed(ctx)
}

// Seed links the demo institution and stores the sample holdings.
func (s *Seeder) Seed(ctx context.Context) error {
	if err := s.institutionRepo.Upsert(ctx, UserID, Institution); err != nil {
		return fmt.Errorf("linking demo institution: %w", err)
	}

	holdings := SampleHoldings()
	if s.backend != nil {
		s.backend.MarkLinked(UserID, Institution)
		holdings = s.backend.currentHoldings()
	}

	if err := s.holdingRepo.ReplaceForUser(ctx, UserID, holdings); err != nil {
		return fmt.Errorf("storing demo holdings: %w", err)
	}

	s.logger.Info().Int("holdings", len(holdings)).Str("user_id", UserID).Msg("demo data seeded")
	return nil
}

// Credentials returns the demo user's credential for a bearer token.
func Credentials(token string) models.Credentials {
	return models.Credentials{UserID: UserID, Token: token}
}
