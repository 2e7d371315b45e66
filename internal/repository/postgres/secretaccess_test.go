package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evgray/keyfort-server/internal/model"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	env := model.KeyEnvelope{"password": []byte{1, 2}, "pin": []byte{3}}

	raw, err := encodeEnvelope(env)
	require.NoError(t, err)

	decoded, err := decodeEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, env, decoded)

	_, err = decodeEnvelope([]byte("not cbor"))
	assert.Error(t, err)
}

func TestSecretAccessRepository_GetForActor(t *testing.T) {
	conn, mock := newMockConnection(t)
	repo := NewSecretAccessRepository(conn)

	secretID, actorID := uuid.New(), uuid.New()
	env := model.KeyEnvelope{"password": []byte{7}}
	rawEnvelope, err := encodeEnvelope(env)
	require.NoError(t, err)

	t.Run("found with decoded envelope", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"id", "secret_id", "actor_kind", "actor_id", "security_class_id", "wrapped_data_key", "created_at"}).
			AddRow(uuid.New(), secretID, "user", actorID, uuid.New(), rawEnvelope, time.Now())
		mock.ExpectQuery(`SELECT .* FROM secret_access`).
			WithArgs(secretID, "user", actorID).
			WillReturnRows(rows)

		access, err := repo.GetForActor(context.Background(), secretID, model.ActorUser, actorID)
		require.NoError(t, err)
		assert.Equal(t, env, access.WrappedDataKey)
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery(`SELECT .* FROM secret_access`).
			WithArgs(secretID, "group", actorID).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := repo.GetForActor(context.Background(), secretID, model.ActorGroup, actorID)
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSecretAccessRepository_Replace(t *testing.T) {
	conn, mock := newMockConnection(t)
	repo := NewSecretAccessRepository(conn)

	access := model.SecretAccess{
		ID:              uuid.New(),
		SecretID:        uuid.New(),
		ActorKind:       model.ActorUser,
		ActorID:         uuid.New(),
		SecurityClassID: uuid.New(),
		WrappedDataKey:  model.KeyEnvelope{"password": []byte{7}},
		CreatedAt:       time.Now(),
	}
	rawEnvelope, err := encodeEnvelope(access.WrappedDataKey)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM secret_access`).
		WithArgs(access.SecretID, "user", access.ActorID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO secret_access`).
		WithArgs(access.ID, access.SecretID, "user", access.ActorID, access.SecurityClassID, rawEnvelope, access.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	assert.NoError(t, repo.Replace(context.Background(), access))
	require.NoError(t, mock.ExpectationsWereMet())
}
