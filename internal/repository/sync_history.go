package repository

import (
	"context"
	"database/sql"
	"time"

	"portfolio_link/internal/database"
	"portfolio_link/internal/models"
)

// Sync triggers recorded in history.
const (
	TriggerInit    = "init"
	TriggerRefresh = "refresh"
	TriggerConnect = "connect"
)

// SyncHistoryRepository handles sync history database operations.
type SyncHistoryRepository struct {
	db *database.DB
}

// NewSyncHistoryRepository creates a new SyncHistoryRepository.
func NewSyncHistoryRepository(db *database.DB) *SyncHistoryRepository {
	return &SyncHistoryRepository{db: db}
}

// Start creates a new sync history entry with status "started" and returns its ID.
func (r *SyncHistoryRepository) Start(ctx context.Context, userID, trigger string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_history (user_id, source, status, started_at)
		VALUES (?, ?, 'started', ?)
	`, userID, trigger, time.Now())
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// Complete marks a sync as successful.
func (r *SyncHistoryRepository) Complete(ctx context.Context, id int64, holdingsSynced int) error {
	now := time.Now()
	_, err := r.db.ExecContext(ctx, `
		UPDATE sync_history
		SET status = 'success', holdings_synced = ?, completed_at = ?,
		    duration_ms = (julianday(?) - julianday(started_at)) * 86400000
		WHERE id = ?
	`, holdingsSynced, now, now, id)
	return err
}

// Fail marks a sync as failed with an error message.
func (r *SyncHistoryRepository) Fail(ctx context.Context, id int64, errorMsg string) error {
	now := time.Now()
	_, err := r.db.ExecContext(ctx, `
		UPDATE sync_history
		SET status = 'error', error_message = ?, completed_at = ?,
		    duration_ms = (julianday(?) - julianday(started_at)) * 86400000
		WHERE id = ?
	`, errorMsg, now, now, id)
	return err
}

// GetByID retrieves a sync history entry by ID.
func (r *SyncHistoryRepository) GetByID(ctx context.Context, id int64) (*models.SyncHistory, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, source, status, holdings_synced, error_message, started_at, completed_at, duration_ms
		FROM sync_history
		WHERE id = ?
	`, id)

	return r.scanHistory(row)
}

// ListByUser retrieves a page of sync history for a user, most recent first.
func (r *SyncHistoryRepository) ListByUser(ctx context.Context, userID string, page Pagination) ([]*models.SyncHistory, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, source, status, holdings_synced, error_message, started_at, completed_at, duration_ms
		FROM sync_history
		WHERE user_id = ?
		ORDER BY started_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, userID, page.Limit, page.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	histories := make([]*models.SyncHistory, 0)
	for rows.Next() {
		history, err := r.scanHistory(rows)
		if err != nil {
			return nil, err
		}
		histories = append(histories, history)
	}
	return histories, rows.Err()
}

// DeleteOlderThan removes sync history entries older than the given time.
func (r *SyncHistoryRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sync_history WHERE started_at < ?`, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanHistory scans a single row into a SyncHistory.
func (r *SyncHistoryRepository) scanHistory(row rowScanner) (*models.SyncHistory, error) {
	history := &models.SyncHistory{}
	var errorMsg sql.NullString
	var completedAt sql.NullTime
	var durationMs sql.NullInt64

	err := row.Scan(
		&history.ID,
		&history.UserID,
		&history.Trigger,
		&history.Status,
		&history.HoldingsSynced,
		&errorMsg,
		&history.StartedAt,
		&completedAt,
		&durationMs,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if errorMsg.Valid {
		history.ErrorMessage = errorMsg.String
	}
	if completedAt.Valid {
		history.CompletedAt = &completedAt.Time
	}
	if durationMs.Valid {
		history.DurationMs = durationMs.Int64
	}

	return history, nil
}
