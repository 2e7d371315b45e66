package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/evgray/keyfort-server/internal/model"
)

var _ model.GroupStore = (*GroupRepository)(nil)

type GroupRepository struct {
	db *Connection
}

func NewGroupRepository(db *Connection) *GroupRepository {
	return &GroupRepository{
		db: db,
	}
}

func (r *GroupRepository) GetByID(ctx context.Context, id uuid.UUID) (model.CryptoGroup, error) {
	query := `SELECT id, name, created_at, updated_at FROM groups WHERE id = $1`

	var g model.CryptoGroup
	err := r.db.QueryRowContext(ctx, query, id).Scan(&g.ID, &g.Name, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CryptoGroup{}, model.ErrNotFound
	}
	if err != nil {
		return model.CryptoGroup{}, fmt.Errorf("failed to get group by id: %w", err)
	}
	return g, nil
}

func (r *GroupRepository) Search(ctx context.Context, q model.ActorSearch) ([]model.CryptoGroup, error) {
	query := `SELECT id, name, created_at, updated_at FROM groups
			  WHERE name ILIKE $1 ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query, "%"+q.Query+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to search groups: %w", err)
	}
	defer rows.Close()

	var groups []model.CryptoGroup
	for rows.Next() {
		var g model.CryptoGroup
		if err := rows.Scan(&g.ID, &g.Name, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate groups: %w", err)
	}

	return applyGroupFilters(groups, q), nil
}

func (r *GroupRepository) MemberIDs(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	if _, err := r.GetByID(ctx, groupID); err != nil {
		return nil, err
	}

	query := `SELECT user_id FROM group_memberships WHERE group_id = $1`

	rows, err := r.db.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list group members: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan member id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate members: %w", err)
	}
	return ids, nil
}

func applyGroupFilters(groups []model.CryptoGroup, q model.ActorSearch) []model.CryptoGroup {
	excluded := make(map[uuid.UUID]struct{}, len(q.ExcludeIDs))
	for _, id := range q.ExcludeIDs {
		excluded[id] = struct{}{}
	}

	var out []model.CryptoGroup
	for _, g := range groups {
		if _, skip := excluded[g.ID]; skip {
			continue
		}
		out = append(out, g)
	}

	if q.Offset >= len(out) {
		return nil
	}
	out = out[q.Offset:]
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}
