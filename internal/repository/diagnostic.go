package repository

import (
	"context"

	"portfolio_link/internal/database"
	"portfolio_link/internal/models"
)

// DiagnosticRepository persists diagnostic log entries so they survive restarts.
type DiagnosticRepository struct {
	db *database.DB
}

// NewDiagnosticRepository creates a new DiagnosticRepository.
func NewDiagnosticRepository(db *database.DB) *DiagnosticRepository {
	return &DiagnosticRepository{db: db}
}

// Append stores an entry for a user.
func (r *DiagnosticRepository) Append(ctx context.Context, userID string, entry models.DiagnosticEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO diagnostics (user_id, level, message, created_at)
		VALUES (?, ?, ?, ?)
	`, userID, entry.Level, entry.Message, entry.At)
	return err
}

// ListByUser returns up to limit of the user's most recent entries in append order.
func (r *DiagnosticRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.DiagnosticEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT level, message, created_at FROM (
			SELECT id, level, message, created_at
			FROM diagnostics
			WHERE user_id = ?
			ORDER BY id DESC
			LIMIT ?
		) ORDER BY id
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]models.DiagnosticEntry, 0)
	for rows.Next() {
		var e models.DiagnosticEntry
		if err := rows.Scan(&e.Level, &e.Message, &e.At); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
