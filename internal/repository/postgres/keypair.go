package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/evgray/keyfort-server/internal/model"
)

var _ model.KeyPairStore = (*KeyPairRepository)(nil)

type KeyPairRepository struct {
	db *Connection
}

func NewKeyPairRepository(db *Connection) *KeyPairRepository {
	return &KeyPairRepository{
		db: db,
	}
}

const keyPairColumns = "id, user_id, auth_plugin_id, public_key, encrypted_private_key, mac, created_at, updated_at"

func (r *KeyPairRepository) GetByUserPlugin(ctx context.Context, userID uuid.UUID, pluginID string) (model.AuthKeyPair, error) {
	query := `SELECT ` + keyPairColumns + ` FROM auth_key_pairs WHERE user_id = $1 AND auth_plugin_id = $2`

	var kp model.AuthKeyPair
	err := r.db.QueryRowContext(ctx, query, userID, pluginID).Scan(
		&kp.ID, &kp.UserID, &kp.PluginID, &kp.PublicKey, &kp.EncryptedPrivateKey, &kp.MAC,
		&kp.CreatedAt, &kp.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.AuthKeyPair{}, model.ErrNotFound
	}
	if err != nil {
		return model.AuthKeyPair{}, fmt.Errorf("failed to get key pair: %w", err)
	}
	return kp, nil
}

func (r *KeyPairRepository) Create(ctx context.Context, kp model.AuthKeyPair) (model.AuthKeyPair, error) {
	query := `INSERT INTO auth_key_pairs (` + keyPairColumns + `)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx, query,
		kp.ID, kp.UserID, kp.PluginID, kp.PublicKey, kp.EncryptedPrivateKey, kp.MAC,
		kp.CreatedAt, kp.UpdatedAt,
	)
	if err != nil {
		return model.AuthKeyPair{}, fmt.Errorf("failed to create key pair: %w", err)
	}
	return kp, nil
}

func (r *KeyPairRepository) Update(ctx context.Context, kp model.AuthKeyPair) error {
	query := `UPDATE auth_key_pairs
			  SET public_key = $3, encrypted_private_key = $4, mac = $5, updated_at = $6
			  WHERE user_id = $1 AND auth_plugin_id = $2`

	res, err := r.db.ExecContext(ctx, query,
		kp.UserID, kp.PluginID, kp.PublicKey, kp.EncryptedPrivateKey, kp.MAC, kp.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update key pair: %w", err)
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

func (r *KeyPairRepository) DeleteByUserPlugin(ctx context.Context, userID uuid.UUID, pluginID string) error {
	query := `DELETE FROM auth_key_pairs WHERE user_id = $1 AND auth_plugin_id = $2`

	if _, err := r.db.ExecContext(ctx, query, userID, pluginID); err != nil {
		return fmt.Errorf("failed to delete key pair: %w", err)
	}
	return nil
}

func (r *KeyPairRepository) RegisteredUserIDs(ctx context.Context, pluginID string) ([]uuid.UUID, error) {
	query := `SELECT user_id FROM auth_key_pairs WHERE auth_plugin_id = $1 ORDER BY user_id`

	rows, err := r.db.QueryContext(ctx, query, pluginID)
	if err != nil {
		return nil, fmt.Errorf("failed to list registered users: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate registered users: %w", err)
	}
	return ids, nil
}

// CountForUser counts the user's registrations among the given plugins with
// one query per plugin; the sets involved are tiny.
func (r *KeyPairRepository) CountForUser(ctx context.Context, userID uuid.UUID, pluginIDs []string) (int, error) {
	query := `SELECT COUNT(*) FROM auth_key_pairs WHERE user_id = $1 AND auth_plugin_id = $2`

	count := 0
	for _, pluginID := range pluginIDs {
		var n int
		if err := r.db.QueryRowContext(ctx, query, userID, pluginID).Scan(&n); err != nil {
			return 0, fmt.Errorf("failed to count registrations: %w", err)
		}
		count += n
	}
	return count, nil
}
