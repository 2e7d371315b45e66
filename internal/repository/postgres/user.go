package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/evgray/keyfort-server/internal/model"
)

var _ model.UserStore = (*UserRepository)(nil)

type UserRepository struct {
	db *Connection
}

func NewUserRepository(db *Connection) *UserRepository {
	return &UserRepository{
		db: db,
	}
}

const userColumns = "id, username, name, company, email, super_user, created_at, updated_at"

func scanUser(row interface{ Scan(...any) error }) (model.CryptoUser, error) {
	var u model.CryptoUser
	err := row.Scan(&u.ID, &u.Username, &u.Name, &u.Company, &u.Email, &u.SuperUser, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (model.CryptoUser, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	u, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.CryptoUser{}, model.ErrNotFound
	}
	if err != nil {
		return model.CryptoUser{}, fmt.Errorf("failed to get user by id: %w", err)
	}
	return u, nil
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (model.CryptoUser, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1`

	u, err := scanUser(r.db.QueryRowContext(ctx, query, username))
	if errors.Is(err, sql.ErrNoRows) {
		return model.CryptoUser{}, model.ErrNotFound
	}
	if err != nil {
		return model.CryptoUser{}, fmt.Errorf("failed to get user by username: %w", err)
	}
	return u, nil
}

func (r *UserRepository) Search(ctx context.Context, q model.ActorSearch) ([]model.CryptoUser, error) {
	query := `SELECT ` + userColumns + ` FROM users
			  WHERE username ILIKE $1 OR name ILIKE $1 OR company ILIKE $1
			  ORDER BY username`

	rows, err := r.db.QueryContext(ctx, query, "%"+q.Query+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to search users: %w", err)
	}
	defer rows.Close()

	var users []model.CryptoUser
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}

	return applyUserFilters(users, q), nil
}

// applyUserFilters handles exclusion and pagination in one place so the SQL
// stays a plain substring match.
func applyUserFilters(users []model.CryptoUser, q model.ActorSearch) []model.CryptoUser {
	excluded := make(map[uuid.UUID]struct{}, len(q.ExcludeIDs))
	for _, id := range q.ExcludeIDs {
		excluded[id] = struct{}{}
	}

	var out []model.CryptoUser
	for _, u := range users {
		if _, skip := excluded[u.ID]; skip {
			continue
		}
		out = append(out, u)
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
