package recovery

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evgray/keyfort-server/internal/crypto"
	"github.com/evgray/keyfort-server/internal/model"
	"github.com/evgray/keyfort-server/internal/plugin"
	"github.com/evgray/keyfort-server/internal/plugin/passwordfactor"
	"github.com/evgray/keyfort-server/internal/sessionstore"
	"github.com/evgray/keyfort-server/internal/testutil"
)

var testKDF = crypto.KDFParams{Time: 1, MemKiB: 16, Par: 1}

const sessionID = "session-1"

type recoveryFixture struct {
	service *Service
	entries *testutil.MemRecoveryStore
	mailer  *testutil.RecordingMailer
	user    model.CryptoUser
}

func newRecoveryFixture(t *testing.T) *recoveryFixture {
	t.Helper()

	systemKey, err := crypto.RandomBytes(crypto.KeySize)
	require.NoError(t, err)

	log := testutil.MakeNoopLogger()
	registry := plugin.NewRegistry(testutil.NewMemPluginStore(), testutil.NewMemKeyPairStore(), systemKey, log)
	adapter, err := registry.Register(context.Background(), passwordfactor.New(passwordfactor.NewMemoryStore(), testKDF))
	require.NoError(t, err)

	f := &recoveryFixture{
		entries: testutil.NewMemRecoveryStore(),
		mailer:  &testutil.RecordingMailer{},
		user:    model.CryptoUser{ID: uuid.New(), Username: "alice", Email: "alice@example.com"},
	}
	require.NoError(t, adapter.RegisterUser(context.Background(), f.user.ID, crypto.HiddenString("hunter2")))

	f.service = NewService(f.entries, sessionstore.NewMemory(), registry, f.mailer, systemKey, testKDF, log)
	return f
}

func (f *recoveryFixture) lastMailedToken(t *testing.T) string {
	t.Helper()
	require.NotEmpty(t, f.mailer.Mail)
	body := f.mailer.Mail[len(f.mailer.Mail)-1].Body
	idx := strings.LastIndex(body, ": ")
	require.Greater(t, idx, 0)
	return body[idx+2:]
}

func TestService_CreateEntry(t *testing.T) {
	f := newRecoveryFixture(t)
	ctx := context.Background()

	t.Run("unprovable factor aborts", func(t *testing.T) {
		_, err := f.service.CreateEntry(ctx, passwordfactor.PluginID, f.user, crypto.HiddenString("wrong"))
		require.Error(t, err)
		_, err = f.entries.GetByUserPlugin(ctx, f.user.ID, passwordfactor.PluginID)
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("unknown plugin", func(t *testing.T) {
		_, err := f.service.CreateEntry(ctx, "fingerprint", f.user, crypto.HiddenString("hunter2"))
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("returns a readable code and stores sealed material", func(t *testing.T) {
		code, err := f.service.CreateEntry(ctx, passwordfactor.PluginID, f.user, crypto.HiddenString("hunter2"))
		require.NoError(t, err)
		assert.Len(t, code, crypto.RecoveryCodeLength)
		assert.NotContains(t, code, "I")
		assert.NotContains(t, code, "O")
		assert.NotContains(t, code, "0")
		assert.NotContains(t, code, "1")

		entry, err := f.entries.GetByUserPlugin(ctx, f.user.ID, passwordfactor.PluginID)
		require.NoError(t, err)
		assert.NotContains(t, string(entry.EncryptedPayload), "hunter2")
		assert.Empty(t, entry.EncryptedToken)
	})
}

func TestService_SendRecoveryToken(t *testing.T) {
	ctx := context.Background()

	t.Run("requires an existing entry", func(t *testing.T) {
		f := newRecoveryFixture(t)
		err := f.service.SendRecoveryToken(ctx, passwordfactor.PluginID, f.user)
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("fails closed without an address", func(t *testing.T) {
		f := newRecoveryFixture(t)
		_, err := f.service.CreateEntry(ctx, passwordfactor.PluginID, f.user, crypto.HiddenString("hunter2"))
		require.NoError(t, err)

		noMail := f.user
		noMail.Email = ""
		require.Error(t, f.service.SendRecoveryToken(ctx, passwordfactor.PluginID, noMail))
		assert.Empty(t, f.mailer.Mail)
	})

	t.Run("mails the token and persists it sealed", func(t *testing.T) {
		f := newRecoveryFixture(t)
		_, err := f.service.CreateEntry(ctx, passwordfactor.PluginID, f.user, crypto.HiddenString("hunter2"))
		require.NoError(t, err)

		require.NoError(t, f.service.SendRecoveryToken(ctx, passwordfactor.PluginID, f.user))

		require.Len(t, f.mailer.Mail, 1)
		assert.Equal(t, f.user.Email, f.mailer.Mail[0].Recipient)

		token := f.lastMailedToken(t)
		assert.Len(t, token, crypto.RecoveryTokenLength)

		entry, err := f.entries.GetByUserPlugin(ctx, f.user.ID, passwordfactor.PluginID)
		require.NoError(t, err)
		assert.NotEmpty(t, entry.EncryptedToken)
		assert.NotContains(t, string(entry.EncryptedToken), token)
	})
}

func TestService_RecoverEntry(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*recoveryFixture, string, string) {
		t.Helper()
		f := newRecoveryFixture(t)
		code, err := f.service.CreateEntry(ctx, passwordfactor.PluginID, f.user, crypto.HiddenString("hunter2"))
		require.NoError(t, err)
		require.NoError(t, f.service.SendRecoveryToken(ctx, passwordfactor.PluginID, f.user))
		return f, code, f.lastMailedToken(t)
	}

	t.Run("token must be requested first", func(t *testing.T) {
		f := newRecoveryFixture(t)
		code, err := f.service.CreateEntry(ctx, passwordfactor.PluginID, f.user, crypto.HiddenString("hunter2"))
		require.NoError(t, err)

		err = f.service.RecoverEntry(ctx, passwordfactor.PluginID, f.user, code, "AAAAAA", sessionID)
		assert.ErrorIs(t, err, model.ErrNoRecoveryToken)
	})

	t.Run("wrong token", func(t *testing.T) {
		f, code, token := setup(t)
		wrong := "AAAAAA"
		if token == wrong {
			wrong = "BBBBBB"
		}
		err := f.service.RecoverEntry(ctx, passwordfactor.PluginID, f.user, code, wrong, sessionID)
		assert.ErrorIs(t, err, model.ErrRecoveryTokenMismatch)
	})

	t.Run("wrong code is distinct from wrong token", func(t *testing.T) {
		f, _, token := setup(t)
		badCode := strings.Repeat("2", crypto.RecoveryCodeLength)
		err := f.service.RecoverEntry(ctx, passwordfactor.PluginID, f.user, badCode, token, sessionID)
		assert.ErrorIs(t, err, model.ErrRecoveryCodeInvalid)
	})

	t.Run("tampered entry", func(t *testing.T) {
		f, code, token := setup(t)
		entry, err := f.entries.GetByUserPlugin(ctx, f.user.ID, passwordfactor.PluginID)
		require.NoError(t, err)
		entry.EncryptedPayload[0] ^= 0xff
		require.NoError(t, f.entries.Replace(ctx, entry))

		err = f.service.RecoverEntry(ctx, passwordfactor.PluginID, f.user, code, token, sessionID)
		var tampered *model.TamperError
		require.ErrorAs(t, err, &tampered)
		assert.Equal(t, "recovery entry", tampered.Subject)
	})

	t.Run("success stashes the secret for one pickup", func(t *testing.T) {
		f, code, token := setup(t)
		require.NoError(t, f.service.RecoverEntry(ctx, passwordfactor.PluginID, f.user, code, token, sessionID))

		secret, err := f.service.GetRecoverySecret(ctx, sessionID, f.user.ID, passwordfactor.PluginID)
		require.NoError(t, err)
		assert.Equal(t, []byte("hunter2"), secret.Bytes())

		_, err = f.service.GetRecoverySecret(ctx, sessionID, f.user.ID, passwordfactor.PluginID)
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("token is consumed by a successful recovery", func(t *testing.T) {
		f, code, token := setup(t)
		require.NoError(t, f.service.RecoverEntry(ctx, passwordfactor.PluginID, f.user, code, token, sessionID))

		err := f.service.RecoverEntry(ctx, passwordfactor.PluginID, f.user, code, token, sessionID)
		assert.ErrorIs(t, err, model.ErrNoRecoveryToken)
	})

	t.Run("replacement invalidates the old code", func(t *testing.T) {
		f, oldCode, _ := setup(t)
		newCode, err := f.service.CreateEntry(ctx, passwordfactor.PluginID, f.user, crypto.HiddenString("hunter2"))
		require.NoError(t, err)
		require.NoError(t, f.service.SendRecoveryToken(ctx, passwordfactor.PluginID, f.user))
		token := f.lastMailedToken(t)

		err = f.service.RecoverEntry(ctx, passwordfactor.PluginID, f.user, oldCode, token, sessionID)
		assert.ErrorIs(t, err, model.ErrRecoveryCodeInvalid)

		require.NoError(t, f.service.RecoverEntry(ctx, passwordfactor.PluginID, f.user, newCode, token, sessionID))
	})
}
