package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/evgray/keyfort-server/internal/model"
)

var _ model.GroupKeyPairStore = (*GroupKeyPairRepository)(nil)

type GroupKeyPairRepository struct {
	db *Connection
}

func NewGroupKeyPairRepository(db *Connection) *GroupKeyPairRepository {
	return &GroupKeyPairRepository{
		db: db,
	}
}

func (r *GroupKeyPairRepository) GetByGroupClass(ctx context.Context, groupID, classID uuid.UUID) (model.GroupKeyPair, error) {
	query := `SELECT id, group_id, security_class_id, public_key, created_at
			  FROM group_key_pairs WHERE group_id = $1 AND security_class_id = $2`

	var kp model.GroupKeyPair
	err := r.db.QueryRowContext(ctx, query, groupID, classID).Scan(
		&kp.ID, &kp.GroupID, &kp.SecurityClassID, &kp.PublicKey, &kp.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.GroupKeyPair{}, model.ErrNotFound
	}
	if err != nil {
		return model.GroupKeyPair{}, fmt.Errorf("failed to get group key pair: %w", err)
	}
	return kp, nil
}

func (r *GroupKeyPairRepository) Create(ctx context.Context, kp model.GroupKeyPair) (model.GroupKeyPair, error) {
	query := `INSERT INTO group_key_pairs (id, group_id, security_class_id, public_key, created_at)
			  VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.ExecContext(ctx, query, kp.ID, kp.GroupID, kp.SecurityClassID, kp.PublicKey, kp.CreatedAt)
	if err != nil {
		return model.GroupKeyPair{}, fmt.Errorf("failed to create group key pair: %w", err)
	}
	return kp, nil
}
