package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"portfolio_link/internal/database"
	"portfolio_link/internal/models"
)

// HoldingRepository is the local holdings store. Each sync replaces a user's
// holdings wholesale; reads return them in the order they were written.
type HoldingRepository struct {
	db *database.DB
}

// NewHoldingRepository creates a new HoldingRepository.
func NewHoldingRepository(db *database.DB) *HoldingRepository {
	return &HoldingRepository{db: db}
}

// ReplaceForUser deletes the user's stored holdings and writes the given
// set in a single transaction.
func (r *HoldingRepository) ReplaceForUser(ctx context.Context, userID string, holdings []models.Holding) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM holdings WHERE user_id = ?`, userID); err != nil {
			return fmt.Errorf("clearing holdings: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO holdings (user_id, position, security_name, ticker_symbol, security_type,
			                      quantity, institution_price, institution_value, cost_basis, synced_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("preparing insert: %w", err)
		}
		defer stmt.Close()

		now := time.Now()
		for i, h := range holdings {
			if _, err := stmt.ExecContext(ctx, userID, i, h.SecurityName, h.TickerSymbol, h.SecurityType,
				h.Quantity, h.UnitPrice, h.MarketValue, h.CostBasis, now); err != nil {
				return fmt.Errorf("inserting holding %d: %w", i, err)
			}
		}
		return nil
	})
}

// ListByUser returns the user's stored holdings in provider order.
func (r *HoldingRepository) ListByUser(ctx context.Context, userID string) ([]models.Holding, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT security_name, ticker_symbol, security_type, quantity, institution_price, institution_value, cost_basis
		FROM holdings
		WHERE user_id = ?
		ORDER BY position
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanHoldings(rows)
}

// LastSyncedAt returns when the user's holdings were last written, or the
// zero time if none are stored.
func (r *HoldingRepository) LastSyncedAt(ctx context.Context, userID string) (time.Time, error) {
	var syncedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT synced_at FROM holdings WHERE user_id = ? ORDER BY position LIMIT 1
	`, userID).Scan(&syncedAt)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	if syncedAt.Valid {
		return syncedAt.Time, nil
	}
	return time.Time{}, nil
}

// CountByUser returns the number of stored holdings for a user.
func (r *HoldingRepository) CountByUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM holdings WHERE user_id = ?`, userID).Scan(&count)
	return count, err
}

// DeleteByUser removes all holdings for a user.
func (r *HoldingRepository) DeleteByUser(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM holdings WHERE user_id = ?`, userID)
	return err
}

// scanHoldings scans multiple rows into Holdings.
func (r *HoldingRepository) scanHoldings(rows *sql.Rows) ([]models.Holding, error) {
	holdings := make([]models.Holding, 0)

	for rows.Next() {
		var h models.Holding
		var costBasis sql.NullFloat64

		err := rows.Scan(
			&h.SecurityName,
			&h.TickerSymbol,
			&h.SecurityType,
			&h.Quantity,
			&h.UnitPrice,
			&h.MarketValue,
			&costBasis,
		)
		if err != nil {
			return nil, err
		}

		if costBasis.Valid {
			h.CostBasis = costBasis.Float64
		}

		holdings = append(holdings, h)
	}

	return holdings, rows.Err()
}
