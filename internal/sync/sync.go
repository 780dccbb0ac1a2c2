// Package sync runs holdings synchronization and records every run in the
// sync history.
package sync

import (
	"context"
	"time"

	"portfolio_link/internal/logging"
	"portfolio_link/internal/models"
	"portfolio_link/internal/repository"
)

// Backend performs the network steps against the backend functions.
type Backend interface {
	IssueLinkToken(ctx context.Context, creds models.Credentials) (string, error)
	ExchangePublicToken(ctx context.Context, creds models.Credentials, publicToken string, inst models.Institution) error
	RefreshHoldings(ctx context.Context, creds models.Credentials) (*models.HoldingsSnapshot, error)
}

// History records sync runs.
type History interface {
	Start(ctx context.Context, userID, trigger string) (int64, error)
	Complete(ctx context.Context, id int64, holdingsSynced int) error
	Fail(ctx context.Context, id int64, errorMsg string) error
}

// Service orchestrates holdings synchronization.
type Service struct {
	backend Backend
	history History
	logger  *logging.Logger
}

// NewService creates a new sync service. history may be nil.
func NewService(backend Backend, history History, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewSilent()
	}
	return &Service{
		backend: backend,
		history: history,
		logger:  logger.Component("sync"),
	}
}

// Sync refreshes a user's holdings and records the run under trigger.
// History write failures are logged and never fail the sync.
func (s *Service) Sync(ctx context.Context, creds models.Credentials, trigger string) (*models.HoldingsSnapshot, error) {
	started := time.Now()
	historyID := s.startHistory(ctx, creds.UserID, trigger)

	snapshot, err := s.backend.RefreshHoldings(ctx, creds)
	if err != nil {
		s.failSync(historyID, err.Error())
		s.logger.Warn().
			Err(err).
			Str("user_id", creds.UserID).
			Str("trigger", trigger).
			Msg("holdings sync failed")
		return nil, err
	}

	s.completeSync(historyID, len(snapshot.Holdings))
	s.logger.Info().
		Str("user_id", creds.UserID).
		Str("trigger", trigger).
		Int("holdings", len(snapshot.Holdings)).
		Dur("duration", time.Since(started)).
		Msg("holdings synced")

	return snapshot, nil
}

// IssueLinkToken delegates to the backend.
func (s *Service) IssueLinkToken(ctx context.Context, creds models.Credentials) (string, error) {
	return s.backend.IssueLinkToken(ctx, creds)
}

// ExchangePublicToken delegates to the backend.
func (s *Service) ExchangePublicToken(ctx context.Context, creds models.Credentials, publicToken string, inst models.Institution) error {
	return s.backend.ExchangePublicToken(ctx, creds, publicToken, inst)
}

// RefreshHoldings syncs as part of an account link, so a Service can stand
// in for the link backend.
func (s *Service) RefreshHoldings(ctx context.Context, creds models.Credentials) (*models.HoldingsSnapshot, error) {
	return s.Sync(ctx, creds, repository.TriggerConnect)
}

func (s *Service) startHistory(ctx context.Context, userID, trigger string) int64 {
	if s.history == nil || userID == "" {
		return 0
	}
	id, err := s.history.Start(ctx, userID, trigger)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("starting sync history")
		return 0
	}
	return id
}

// failSync marks a sync as failed.
func (s *Service) failSync(historyID int64, errorMsg string) {
	if historyID == 0 {
		return
	}
	// The request context may already be done; history still gets closed.
	if err := s.history.Fail(context.Background(), historyID, errorMsg); err != nil {
		s.logger.Warn().Err(err).Int64("history_id", historyID).Msg("failing sync history")
	}
}

func (s *Service) completeSync(historyID int64, holdings int) {
	if historyID == 0 {
		return
	}
	if err := s.history.Complete(context.Background(), historyID, holdings); err != nil {
		s.logger.Warn().Err(err).Int64("history_id", historyID).Msg("completing sync history")
	}
}
