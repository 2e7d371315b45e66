package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/evgray/keyfort-server/internal/model"
)

var _ model.RecoveryStore = (*RecoveryRepository)(nil)

type RecoveryRepository struct {
	db *Connection
}

func NewRecoveryRepository(db *Connection) *RecoveryRepository {
	return &RecoveryRepository{
		db: db,
	}
}

const recoveryColumns = "id, user_id, auth_plugin_id, encrypted_payload, salt, encrypted_token, mac, created_at, updated_at"

func (r *RecoveryRepository) GetByUserPlugin(ctx context.Context, userID uuid.UUID, pluginID string) (model.RecoveryEntry, error) {
	query := `SELECT ` + recoveryColumns + ` FROM recovery_entries WHERE user_id = $1 AND auth_plugin_id = $2`

	var entry model.RecoveryEntry
	err := r.db.QueryRowContext(ctx, query, userID, pluginID).Scan(
		&entry.ID, &entry.UserID, &entry.PluginID, &entry.EncryptedPayload, &entry.Salt,
		&entry.EncryptedToken, &entry.MAC, &entry.CreatedAt, &entry.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.RecoveryEntry{}, model.ErrNotFound
	}
	if err != nil {
		return model.RecoveryEntry{}, fmt.Errorf("failed to get recovery entry: %w", err)
	}
	return entry, nil
}

// Replace is delete-then-insert so a failed write can never leave a mix of
// old and new recovery material.
func (r *RecoveryRepository) Replace(ctx context.Context, entry model.RecoveryEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`DELETE FROM recovery_entries WHERE user_id = $1 AND auth_plugin_id = $2`,
		entry.UserID, entry.PluginID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete recovery entry: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO recovery_entries (`+recoveryColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.UserID, entry.PluginID, entry.EncryptedPayload, entry.Salt,
		entry.EncryptedToken, entry.MAC, entry.CreatedAt, entry.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert recovery entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *RecoveryRepository) SetToken(ctx context.Context, id uuid.UUID, encryptedToken []byte) error {
	query := `UPDATE recovery_entries SET encrypted_token = $2, updated_at = NOW() WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, id, encryptedToken)
	if err != nil {
		return fmt.Errorf("failed to set recovery token: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if affected == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (r *RecoveryRepository) Delete(ctx context.Context, userID uuid.UUID, pluginID string) error {
	query := `DELETE FROM recovery_entries WHERE user_id = $1 AND auth_plugin_id = $2`

	if _, err := r.db.ExecContext(ctx, query, userID, pluginID); err != nil {
		return fmt.Errorf("failed to delete recovery entry: %w", err)
	}
	return nil
}
