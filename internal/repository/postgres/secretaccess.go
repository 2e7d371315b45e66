package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/evgray/keyfort-server/internal/model"
)

var _ model.SecretAccessStore = (*SecretAccessRepository)(nil)

type SecretAccessRepository struct {
	db *Connection
}

func NewSecretAccessRepository(db *Connection) *SecretAccessRepository {
	return &SecretAccessRepository{
		db: db,
	}
}

const secretAccessColumns = "id, secret_id, actor_kind, actor_id, security_class_id, wrapped_data_key, created_at"

func (r *SecretAccessRepository) GetForActor(ctx context.Context, secretID uuid.UUID, kind model.ActorKind, actorID uuid.UUID) (model.SecretAccess, error) {
	query := `SELECT ` + secretAccessColumns + ` FROM secret_access
			  WHERE secret_id = $1 AND actor_kind = $2 AND actor_id = $3`

	var access model.SecretAccess
	var rawEnvelope []byte
	err := r.db.QueryRowContext(ctx, query, secretID, string(kind), actorID).Scan(
		&access.ID, &access.SecretID, &access.ActorKind, &access.ActorID, &access.SecurityClassID,
		&rawEnvelope, &access.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SecretAccess{}, model.ErrNotFound
	}
	if err != nil {
		return model.SecretAccess{}, fmt.Errorf("failed to get secret access: %w", err)
	}

	access.WrappedDataKey, err = decodeEnvelope(rawEnvelope)
	if err != nil {
		return model.SecretAccess{}, err
	}
	return access, nil
}

func (r *SecretAccessRepository) ListForSecret(ctx context.Context, secretID uuid.UUID) ([]model.SecretAccess, error) {
	query := `SELECT ` + secretAccessColumns + ` FROM secret_access WHERE secret_id = $1`

	rows, err := r.db.QueryContext(ctx, query, secretID)
	if err != nil {
		return nil, fmt.Errorf("failed to list secret access: %w", err)
	}
	defer rows.Close()

	var out []model.SecretAccess
	for rows.Next() {
		var access model.SecretAccess
		var rawEnvelope []byte
		err := rows.Scan(&access.ID, &access.SecretID, &access.ActorKind, &access.ActorID,
			&access.SecurityClassID, &rawEnvelope, &access.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan secret access: %w", err)
		}
		access.WrappedDataKey, err = decodeEnvelope(rawEnvelope)
		if err != nil {
			return nil, err
		}
		out = append(out, access)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate secret access: %w", err)
	}
	return out, nil
}

// Replace is delete-then-insert inside one transaction so a retry can never
// salvage half a row.
func (r *SecretAccessRepository) Replace(ctx context.Context, access model.SecretAccess) error {
	rawEnvelope, err := encodeEnvelope(access.WrappedDataKey)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`DELETE FROM secret_access WHERE secret_id = $1 AND actor_kind = $2 AND actor_id = $3`,
		access.SecretID, string(access.ActorKind), access.ActorID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete secret access: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO secret_access (`+secretAccessColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		access.ID, access.SecretID, string(access.ActorKind), access.ActorID, access.SecurityClassID,
		rawEnvelope, access.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert secret access: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *SecretAccessRepository) Delete(ctx context.Context, secretID uuid.UUID, kind model.ActorKind, actorID uuid.UUID) error {
	query := `DELETE FROM secret_access WHERE secret_id = $1 AND actor_kind = $2 AND actor_id = $3`

	if _, err := r.db.ExecContext(ctx, query, secretID, string(kind), actorID); err != nil {
		return fmt.Errorf("failed to delete secret access: %w", err)
	}
	return nil
}
