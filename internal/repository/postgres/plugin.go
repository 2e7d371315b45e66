package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/evgray/keyfort-server/internal/model"
)

var _ model.PluginStore = (*PluginRepository)(nil)

type PluginRepository struct {
	db *Connection
}

func NewPluginRepository(db *Connection) *PluginRepository {
	return &PluginRepository{
		db: db,
	}
}

func (r *PluginRepository) GetByID(ctx context.Context, id string) (model.AuthPlugin, error) {
	query := `SELECT id, title, description, registered_at, updated_at FROM auth_plugins WHERE id = $1`

	var p model.AuthPlugin
	err := r.db.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.Title, &p.Description, &p.RegisteredAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.AuthPlugin{}, model.ErrNotFound
	}
	if err != nil {
		return model.AuthPlugin{}, fmt.Errorf("failed to get auth plugin: %w", err)
	}
	return p, nil
}

func (r *PluginRepository) Upsert(ctx context.Context, plugin model.AuthPlugin) error {
	query := `INSERT INTO auth_plugins (id, title, description, registered_at, updated_at)
			  VALUES ($1, $2, $3, $4, $5)
			  ON CONFLICT (id) DO UPDATE SET title = $2, description = $3, updated_at = $5`

	_, err := r.db.ExecContext(ctx, query,
		plugin.ID, plugin.Title, plugin.Description, plugin.RegisteredAt, plugin.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert auth plugin: %w", err)
	}
	return nil
}

func (r *PluginRepository) List(ctx context.Context) ([]model.AuthPlugin, error) {
	query := `SELECT id, title, description, registered_at, updated_at FROM auth_plugins ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list auth plugins: %w", err)
	}
	defer rows.Close()

	var plugins []model.AuthPlugin
	for rows.Next() {
		var p model.AuthPlugin
		if err := rows.Scan(&p.ID, &p.Title, &p.Description, &p.RegisteredAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan auth plugin: %w", err)
		}
		plugins = append(plugins, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate auth plugins: %w", err)
	}
	return plugins, nil
}
