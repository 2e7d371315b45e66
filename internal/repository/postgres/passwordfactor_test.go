package postgres

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evgray/keyfort-server/internal/model"
	"github.com/evgray/keyfort-server/internal/plugin/passwordfactor"
)

func TestPasswordFactorRepository_Get(t *testing.T) {
	conn, mock := newMockConnection(t)
	repo := NewPasswordFactorRepository(conn)

	userID := uuid.New()

	t.Run("found", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT salt, verifier FROM password_factor_records WHERE user_id = $1`)).
			WithArgs(userID).
			WillReturnRows(sqlmock.NewRows([]string{"salt", "verifier"}).AddRow([]byte{1}, []byte{2}))

		rec, err := repo.Get(context.Background(), userID)
		require.NoError(t, err)
		assert.Equal(t, []byte{1}, rec.Salt)
		assert.Equal(t, []byte{2}, rec.Verifier)
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery(`SELECT salt, verifier FROM password_factor_records`).
			WithArgs(userID).
			WillReturnRows(sqlmock.NewRows([]string{"salt"}))

		_, err := repo.Get(context.Background(), userID)
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPasswordFactorRepository_PutDelete(t *testing.T) {
	conn, mock := newMockConnection(t)
	repo := NewPasswordFactorRepository(conn)

	userID := uuid.New()
	rec := passwordfactor.Record{Salt: []byte{1}, Verifier: []byte{2}}

	mock.ExpectExec(`INSERT INTO password_factor_records`).
		WithArgs(userID, rec.Salt, rec.Verifier).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Put(context.Background(), userID, rec))

	mock.ExpectExec(`DELETE FROM password_factor_records`).
		WithArgs(userID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Delete(context.Background(), userID))

	require.NoError(t, mock.ExpectationsWereMet())
}
