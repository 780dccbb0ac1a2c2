package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"portfolio_link/internal/database"
	"portfolio_link/internal/models"
)

// LinkedInstitutionRepository records institutions a user has linked
// through a completed token exchange.
type LinkedInstitutionRepository struct {
	db *database.DB
}

// NewLinkedInstitutionRepository creates a new LinkedInstitutionRepository.
func NewLinkedInstitutionRepository(db *database.DB) *LinkedInstitutionRepository {
	return &LinkedInstitutionRepository{db: db}
}

// Upsert stores a linked institution. Relinking the same institution
// refreshes its name and link time.
func (r *LinkedInstitutionRepository) Upsert(ctx context.Context, userID string, inst models.Institution) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO linked_institutions (user_id, institution_id, institution_name, linked_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, institution_id) DO UPDATE SET
			institution_name = excluded.institution_name,
			linked_at = excluded.linked_at
	`, userID, inst.ID, inst.Name, time.Now())
	return err
}

// GetByUserAndInstitution retrieves one linked institution, or nil if absent.
func (r *LinkedInstitutionRepository) GetByUserAndInstitution(ctx context.Context, userID, institutionID string) (*models.LinkedInstitution, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, institution_id, institution_name, linked_at
		FROM linked_institutions
		WHERE user_id = ? AND institution_id = ?
	`, userID, institutionID)

	li := &models.LinkedInstitution{}
	err := row.Scan(&li.ID, &li.UserID, &li.InstitutionID, &li.InstitutionName, &li.LinkedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return li, nil
}

// ListByUser retrieves all linked institutions for a user, most recent first.
func (r *LinkedInstitutionRepository) ListByUser(ctx context.Context, userID string) ([]*models.LinkedInstitution, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, institution_id, institution_name, linked_at
		FROM linked_institutions
		WHERE user_id = ?
		ORDER BY linked_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	institutions := make([]*models.LinkedInstitution, 0)
	for rows.Next() {
		li := &models.LinkedInstitution{}
		if err := rows.Scan(&li.ID, &li.UserID, &li.InstitutionID, &li.InstitutionName, &li.LinkedAt); err != nil {
			return nil, err
		}
		institutions = append(institutions, li)
	}
	return institutions, rows.Err()
}

// Delete removes a linked institution.
func (r *LinkedInstitutionRepository) Delete(ctx context.Context, userID, institutionID string) error {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM linked_institutions WHERE user_id = ? AND institution_id = ?
	`, userID, institutionID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return errors.New("linked institution not found")
	}
	return nil
}
