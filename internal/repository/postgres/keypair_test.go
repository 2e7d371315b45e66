package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evgray/keyfort-server/internal/model"
)

func newMockConnection(t *testing.T) (*Connection, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &Connection{DB: db}, mock
}

func TestNewKeyPairRepository(t *testing.T) {
	db := &Connection{}
	repo := NewKeyPairRepository(db)

	assert.NotNil(t, repo)
	assert.Equal(t, db, repo.db)
}

func TestKeyPairRepository_GetByUserPlugin(t *testing.T) {
	conn, mock := newMockConnection(t)
	repo := NewKeyPairRepository(conn)

	userID := uuid.New()
	now := time.Now()

	t.Run("found", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"id", "user_id", "auth_plugin_id", "public_key", "encrypted_private_key", "mac", "created_at", "updated_at"}).
			AddRow(uuid.New(), userID, "password", []byte{1}, []byte{2}, []byte{3}, now, now)
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, user_id, auth_plugin_id, public_key, encrypted_private_key, mac, created_at, updated_at FROM auth_key_pairs WHERE user_id = $1 AND auth_plugin_id = $2`)).
			WithArgs(userID, "password").
			WillReturnRows(rows)

		kp, err := repo.GetByUserPlugin(context.Background(), userID, "password")
		require.NoError(t, err)
		assert.Equal(t, "password", kp.PluginID)
		assert.Equal(t, []byte{1}, kp.PublicKey)
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery(`SELECT .* FROM auth_key_pairs`).
			WithArgs(userID, "pin").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := repo.GetByUserPlugin(context.Background(), userID, "pin")
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestKeyPairRepository_Update(t *testing.T) {
	conn, mock := newMockConnection(t)
	repo := NewKeyPairRepository(conn)

	kp := model.AuthKeyPair{
		UserID:              uuid.New(),
		PluginID:            "password",
		PublicKey:           []byte{1},
		EncryptedPrivateKey: []byte{2},
		MAC:                 []byte{3},
		UpdatedAt:           time.Now(),
	}

	t.Run("updates one row", func(t *testing.T) {
		mock.ExpectExec(`UPDATE auth_key_pairs`).
			WithArgs(kp.UserID, kp.PluginID, kp.PublicKey, kp.EncryptedPrivateKey, kp.MAC, kp.UpdatedAt).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.Update(context.Background(), kp))
	})

	t.Run("missing row maps to not found", func(t *testing.T) {
		mock.ExpectExec(`UPDATE auth_key_pairs`).
			WithArgs(kp.UserID, kp.PluginID, kp.PublicKey, kp.EncryptedPrivateKey, kp.MAC, kp.UpdatedAt).
			WillReturnResult(sqlmock.NewResult(0, 0))

		assert.ErrorIs(t, repo.Update(context.Background(), kp), model.ErrNotFound)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestKeyPairRepository_CountForUser(t *testing.T) {
	conn, mock := newMockConnection(t)
	repo := NewKeyPairRepository(conn)

	userID := uuid.New()
	countQuery := regexp.QuoteMeta(`SELECT COUNT(*) FROM auth_key_pairs WHERE user_id = $1 AND auth_plugin_id = $2`)

	mock.ExpectQuery(countQuery).WithArgs(userID, "password").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(countQuery).WithArgs(userID, "pin").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	count, err := repo.CountForUser(context.Background(), userID, []string{"password", "pin"})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestKeyPairRepository_RegisteredUserIDs(t *testing.T) {
	conn, mock := newMockConnection(t)
	repo := NewKeyPairRepository(conn)

	first, second := uuid.New(), uuid.New()
	mock.ExpectQuery(`SELECT user_id FROM auth_key_pairs`).
		WithArgs("password").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(first).AddRow(second))

	ids, err := repo.RegisteredUserIDs(context.Background(), "password")
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{first, second}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}
