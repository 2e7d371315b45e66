package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/evgray/keyfort-server/internal/model"
)

var _ model.GroupAccessStore = (*GroupAccessRepository)(nil)

type GroupAccessRepository struct {
	db *Connection
}

func NewGroupAccessRepository(db *Connection) *GroupAccessRepository {
	return &GroupAccessRepository{
		db: db,
	}
}

const groupAccessColumns = "id, user_id, group_id, security_class_id, wrapped_group_key, created_at"

func (r *GroupAccessRepository) GetByUserGroupClass(ctx context.Context, userID, groupID, classID uuid.UUID) (model.GroupAccess, error) {
	query := `SELECT ` + groupAccessColumns + ` FROM group_access
			  WHERE user_id = $1 AND group_id = $2 AND security_class_id = $3`

	var access model.GroupAccess
	var rawEnvelope []byte
	err := r.db.QueryRowContext(ctx, query, userID, groupID, classID).Scan(
		&access.ID, &access.UserID, &access.GroupID, &access.SecurityClassID, &rawEnvelope, &access.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.GroupAccess{}, model.ErrNotFound
	}
	if err != nil {
		return model.GroupAccess{}, fmt.Errorf("failed to get group access: %w", err)
	}

	access.WrappedGroupKey, err = decodeEnvelope(rawEnvelope)
	if err != nil {
		return model.GroupAccess{}, err
	}
	return access, nil
}

func (r *GroupAccessRepository) Replace(ctx context.Context, access model.GroupAccess) error {
	rawEnvelope, err := encodeEnvelope(access.WrappedGroupKey)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`DELETE FROM group_access WHERE user_id = $1 AND group_id = $2 AND security_class_id = $3`,
		access.UserID, access.GroupID, access.SecurityClassID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete group access: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO group_access (`+groupAccessColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		access.ID, access.UserID, access.GroupID, access.SecurityClassID, rawEnvelope, access.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert group access: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *GroupAccessRepository) DeleteByClass(ctx context.Context, classID uuid.UUID) error {
	query := `DELETE FROM group_access WHERE security_class_id = $1`

	if _, err := r.db.ExecContext(ctx, query, classID); err != nil {
		return fmt.Errorf("failed to delete class-scoped group access: %w", err)
	}
	return nil
}
