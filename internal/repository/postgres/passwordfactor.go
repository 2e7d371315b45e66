package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/evgray/keyfort-server/internal/model"
	"github.com/evgray/keyfort-server/internal/plugin/passwordfactor"
)

var _ passwordfactor.Store = (*PasswordFactorRepository)(nil)

// PasswordFactorRepository persists password factor records.
type PasswordFactorRepository struct {
	db *Connection
}

func NewPasswordFactorRepository(db *Connection) *PasswordFactorRepository {
	return &PasswordFactorRepository{
		db: db,
	}
}

func (r *PasswordFactorRepository) Get(ctx context.Context, userID uuid.UUID) (passwordfactor.Record, error) {
	query := `SELECT salt, verifier FROM password_factor_records WHERE user_id = $1`

	var rec passwordfactor.Record
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&rec.Salt, &rec.Verifier)
	if errors.Is(err, sql.ErrNoRows) {
		return passwordfactor.Record{}, model.ErrNotFound
	}
	if err != nil {
		return passwordfactor.Record{}, fmt.Errorf("failed to get factor record: %w", err)
	}
	return rec, nil
}

func (r *PasswordFactorRepository) Put(ctx context.Context, userID uuid.UUID, rec passwordfactor.Record) error {
	query := `INSERT INTO password_factor_records (user_id, salt, verifier)
			  VALUES ($1, $2, $3)
			  ON CONFLICT (user_id) DO UPDATE SET salt = $2, verifier = $3, updated_at = NOW()`

	if _, err := r.db.ExecContext(ctx, query, userID, rec.Salt, rec.Verifier); err != nil {
		return fmt.Errorf("failed to store factor record: %w", err)
	}
	return nil
}

func (r *PasswordFactorRepository) Delete(ctx context.Context, userID uuid.UUID) error {
	query := `DELETE FROM password_factor_records WHERE user_id = $1`

	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("failed to delete factor record: %w", err)
	}
	return nil
}
