package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/evgray/keyfort-server/internal/model"
)

var _ model.SecurityClassStore = (*SecurityClassRepository)(nil)

type SecurityClassRepository struct {
	db *Connection
}

func NewSecurityClassRepository(db *Connection) *SecurityClassRepository {
	return &SecurityClassRepository{
		db: db,
	}
}

const classColumns = "id, title, description, required_factors, allow_password_links, created_at, updated_at"

func (r *SecurityClassRepository) GetByID(ctx context.Context, id uuid.UUID) (model.SecurityClass, error) {
	query := `SELECT ` + classColumns + ` FROM security_classes WHERE id = $1`

	var c model.SecurityClass
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.Title, &c.Description, &c.RequiredFactors, &c.AllowPasswordLinks,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SecurityClass{}, model.ErrNotFound
	}
	if err != nil {
		return model.SecurityClass{}, fmt.Errorf("failed to get security class: %w", err)
	}

	c.PluginIDs, err = r.pluginIDs(ctx, id)
	if err != nil {
		return model.SecurityClass{}, err
	}
	return c, nil
}

func (r *SecurityClassRepository) List(ctx context.Context) ([]model.SecurityClass, error) {
	query := `SELECT ` + classColumns + ` FROM security_classes ORDER BY title`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list security classes: %w", err)
	}
	defer rows.Close()

	var classes []model.SecurityClass
	for rows.Next() {
		var c model.SecurityClass
		err := rows.Scan(&c.ID, &c.Title, &c.Description, &c.RequiredFactors, &c.AllowPasswordLinks,
			&c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan security class: %w", err)
		}
		classes = append(classes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate security classes: %w", err)
	}

	for i := range classes {
		classes[i].PluginIDs, err = r.pluginIDs(ctx, classes[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return classes, nil
}

func (r *SecurityClassRepository) Create(ctx context.Context, class model.SecurityClass) (model.SecurityClass, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.SecurityClass{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `INSERT INTO security_classes (` + classColumns + `)
			  VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err = tx.ExecContext(ctx, query,
		class.ID, class.Title, class.Description, class.RequiredFactors, class.AllowPasswordLinks,
		class.CreatedAt, class.UpdatedAt,
	)
	if err != nil {
		return model.SecurityClass{}, fmt.Errorf("failed to create security class: %w", err)
	}

	for _, pluginID := range class.PluginIDs {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO security_class_plugins (security_class_id, auth_plugin_id) VALUES ($1, $2)`,
			class.ID, pluginID,
		)
		if err != nil {
			return model.SecurityClass{}, fmt.Errorf("failed to associate plugin: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return model.SecurityClass{}, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return class, nil
}

func (r *SecurityClassRepository) Update(ctx context.Context, class model.SecurityClass) error {
	query := `UPDATE security_classes
			  SET title = $2, description = $3, required_factors = $4, allow_password_links = $5, updated_at = $6
			  WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query,
		class.ID, class.Title, class.Description, class.RequiredFactors, class.AllowPasswordLinks,
		class.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update security class: %w", err)
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

// Delete removes the class row; the association rows cascade via foreign
// keys. The in-use check happens at the service layer.
func (r *SecurityClassRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM security_classes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete security class: %w", err)
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

func (r *SecurityClassRepository) AddPlugin(ctx context.Context, classID uuid.UUID, pluginID string) error {
	query := `INSERT INTO security_class_plugins (security_class_id, auth_plugin_id) VALUES ($1, $2)`

	if _, err := r.db.ExecContext(ctx, query, classID, pluginID); err != nil {
		return fmt.Errorf("failed to associate plugin: %w", err)
	}
	return nil
}

func (r *SecurityClassRepository) AddGroup(ctx context.Context, classID, groupID uuid.UUID) error {
	query := `INSERT INTO security_class_groups (security_class_id, group_id) VALUES ($1, $2)`

	if _, err := r.db.ExecContext(ctx, query, classID, groupID); err != nil {
		return fmt.Errorf("failed to associate group: %w", err)
	}
	return nil
}

func (r *SecurityClassRepository) GroupIDs(ctx context.Context, classID uuid.UUID) ([]uuid.UUID, error) {
	query := `SELECT group_id FROM security_class_groups WHERE security_class_id = $1`

	rows, err := r.db.QueryContext(ctx, query, classID)
	if err != nil {
		return nil, fmt.Errorf("failed to list class groups: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan group id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate class groups: %w", err)
	}
	return ids, nil
}

func (r *SecurityClassRepository) SecretCount(ctx context.Context, classID uuid.UUID) (int, error) {
	query := `SELECT COUNT(DISTINCT secret_id) FROM secret_access WHERE security_class_id = $1`

	var count int
	if err := r.db.QueryRowContext(ctx, query, classID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count referencing secrets: %w", err)
	}
	return count, nil
}

func (r *SecurityClassRepository) pluginIDs(ctx context.Context, classID uuid.UUID) ([]string, error) {
	query := `SELECT auth_plugin_id FROM security_class_plugins WHERE security_class_id = $1 ORDER BY auth_plugin_id`

	rows, err := r.db.QueryContext(ctx, query, classID)
	if err != nil {
		return nil, fmt.Errorf("failed to list class plugins: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan plugin id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate class plugins: %w", err)
	}
	return ids, nil
}
