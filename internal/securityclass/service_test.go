package securityclass

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evgray/keyfort-server/internal/crypto"
	"github.com/evgray/keyfort-server/internal/model"
	"github.com/evgray/keyfort-server/internal/plugin"
	"github.com/evgray/keyfort-server/internal/plugin/passwordfactor"
	"github.com/evgray/keyfort-server/internal/sessioncache"
	"github.com/evgray/keyfort-server/internal/sessionstore"
	"github.com/evgray/keyfort-server/internal/testutil"
)

var testKDF = crypto.KDFParams{Time: 1, MemKiB: 16, Par: 1}

// renamedFactor gives a password factor a second registry id so tests can
// build multi-plugin classes.
type renamedFactor struct {
	*passwordfactor.Factor
	id string
}

func (f renamedFactor) ID() string { return f.id }

type classFixture struct {
	service     *Service
	registry    *plugin.Registry
	classes     *testutil.MemSecurityClassStore
	users       *testutil.MemUserStore
	groups      *testutil.MemGroupStore
	keyPairs    *testutil.MemKeyPairStore
	groupAccess *testutil.MemGroupAccessStore
	systemKey   []byte
}

func newClassFixture(t *testing.T, perms model.PermissionChecker) *classFixture {
	t.Helper()

	systemKey, err := crypto.RandomBytes(crypto.KeySize)
	require.NoError(t, err)

	f := &classFixture{
		classes:     testutil.NewMemSecurityClassStore(),
		users:       testutil.NewMemUserStore(),
		groups:      testutil.NewMemGroupStore(),
		keyPairs:    testutil.NewMemKeyPairStore(),
		groupAccess: testutil.NewMemGroupAccessStore(),
		systemKey:   systemKey,
	}
	f.registry = plugin.NewRegistry(testutil.NewMemPluginStore(), f.keyPairs, systemKey, testutil.MakeNoopLogger())

	for _, id := range []string{"password", "pin"} {
		_, err := f.registry.Register(context.Background(), renamedFactor{
			Factor: passwordfactor.New(passwordfactor.NewMemoryStore(), testKDF),
			id:     id,
		})
		require.NoError(t, err)
	}

	f.service = NewService(f.classes, f.users, f.groups, f.keyPairs, f.groupAccess, f.registry, perms, testutil.MakeNoopLogger())
	return f
}

func (f *classFixture) addClass(t *testing.T, required int, pluginIDs ...string) model.SecurityClass {
	t.Helper()
	class, err := f.classes.Create(context.Background(), model.SecurityClass{
		ID:              uuid.New(),
		Title:           "Vault",
		RequiredFactors: required,
		PluginIDs:       pluginIDs,
	})
	require.NoError(t, err)
	return class
}

func (f *classFixture) addUser(t *testing.T, username string, registeredWith ...string) model.CryptoUser {
	t.Helper()
	user := model.CryptoUser{ID: uuid.New(), Username: username, Name: username}
	f.users.Add(user)
	for _, pluginID := range registeredWith {
		adapter, err := f.registry.Get(pluginID)
		require.NoError(t, err)
		require.NoError(t, adapter.RegisterUser(context.Background(), user.ID, crypto.HiddenString(username+" secret for "+pluginID)))
	}
	return user
}

func (f *classFixture) newCache(ownerID uuid.UUID) *sessioncache.Cache {
	return sessioncache.New("session-1", ownerID, sessionstore.NewMemory(), sessioncache.NewKeyCache(),
		f.systemKey, time.Minute, testutil.MakeNoopLogger())
}

func attemptFor(user model.CryptoUser, pluginIDs ...string) AuthAttempt {
	data := make(map[string]*crypto.Hidden)
	for _, id := range pluginIDs {
		data[id] = crypto.HiddenString(user.Username + " secret for " + id)
	}
	return AuthAttempt{Data: data, CacheDerivedKeys: true, Mode: sessioncache.Time}
}

func TestService_Authenticate(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown class", func(t *testing.T) {
		f := newClassFixture(t, testutil.AllowAll{})
		user := f.addUser(t, "alice", "password", "pin")
		err := f.service.Authenticate(ctx, uuid.New(), user, f.newCache(user.ID), attemptFor(user, "password", "pin"))
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("one of two factors is not enough", func(t *testing.T) {
		f := newClassFixture(t, testutil.AllowAll{})
		user := f.addUser(t, "alice", "password", "pin")
		class := f.addClass(t, 2, "password", "pin")
		cache := f.newCache(user.ID)

		err := f.service.Authenticate(ctx, class.ID, user, cache, attemptFor(user, "password"))
		var invalid *model.InvalidAuthDataError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, 1, invalid.Counted)
		assert.Equal(t, 2, invalid.Required)

		// A failed attempt must leave nothing behind.
		adapter, err := f.registry.Get("password")
		require.NoError(t, err)
		assert.False(t, adapter.IsAuthenticated(ctx, cache, user.ID))
	})

	t.Run("wrong data does not count", func(t *testing.T) {
		f := newClassFixture(t, testutil.AllowAll{})
		user := f.addUser(t, "alice", "password", "pin")
		class := f.addClass(t, 2, "password", "pin")

		attempt := attemptFor(user, "password")
		attempt.Data["pin"] = crypto.HiddenString("wrong")
		err := f.service.Authenticate(ctx, class.ID, user, f.newCache(user.ID), attempt)
		var invalid *model.InvalidAuthDataError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, 1, invalid.Counted)
	})

	t.Run("both factors unlock and cache", func(t *testing.T) {
		f := newClassFixture(t, testutil.AllowAll{})
		user := f.addUser(t, "alice", "password", "pin")
		class := f.addClass(t, 2, "password", "pin")
		cache := f.newCache(user.ID)

		require.NoError(t, f.service.Authenticate(ctx, class.ID, user, cache, attemptFor(user, "password", "pin")))

		ok, err := f.service.IsAuthenticated(ctx, class.ID, user, cache)
		require.NoError(t, err)
		assert.True(t, ok)

		// Cached factors satisfy a later attempt with no fresh data.
		require.NoError(t, f.service.Authenticate(ctx, class.ID, user, cache, AuthAttempt{}))
	})

	t.Run("cached factor plus fresh factor", func(t *testing.T) {
		f := newClassFixture(t, testutil.AllowAll{})
		user := f.addUser(t, "alice", "password", "pin")
		class := f.addClass(t, 2, "password", "pin")
		cache := f.newCache(user.ID)

		adapter, err := f.registry.Get("password")
		require.NoError(t, err)
		derived, err := adapter.Authenticate(ctx, user.ID, crypto.HiddenString("alice secret for password"))
		require.NoError(t, err)
		require.NoError(t, cache.SaveAuthKey(ctx, "password", derived, false, sessioncache.SingleAction))

		require.NoError(t, f.service.Authenticate(ctx, class.ID, user, cache, attemptFor(user, "pin")))
	})

	t.Run("foreign session cache is not written", func(t *testing.T) {
		f := newClassFixture(t, testutil.AllowAll{})
		user := f.addUser(t, "alice", "password", "pin")
		class := f.addClass(t, 2, "password", "pin")
		foreign := f.newCache(uuid.New())

		require.NoError(t, f.service.Authenticate(ctx, class.ID, user, foreign, attemptFor(user, "password", "pin")))

		ok, err := f.service.IsAuthenticated(ctx, class.ID, user, foreign)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestService_Eligibility(t *testing.T) {
	ctx := context.Background()
	f := newClassFixture(t, testutil.AllowAll{})
	class := f.addClass(t, 2, "password", "pin")

	t.Run("user eligibility flips with registrations", func(t *testing.T) {
		user := f.addUser(t, "alice", "password")

		eligible, err := f.service.IsUserEligible(ctx, class, user.ID)
		require.NoError(t, err)
		assert.False(t, eligible)

		adapter, err := f.registry.Get("pin")
		require.NoError(t, err)
		require.NoError(t, adapter.RegisterUser(ctx, user.ID, crypto.HiddenString("alice secret for pin")))

		eligible, err = f.service.IsUserEligible(ctx, class, user.ID)
		require.NoError(t, err)
		assert.True(t, eligible)
	})

	t.Run("empty group is never eligible", func(t *testing.T) {
		group := model.CryptoGroup{ID: uuid.New(), Name: "empty"}
		f.groups.Add(group)

		eligible, err := f.service.IsGroupEligible(ctx, class, group.ID)
		require.NoError(t, err)
		assert.False(t, eligible)
	})

	t.Run("group eligibility requires every member", func(t *testing.T) {
		full := f.addUser(t, "bob", "password", "pin")
		partial := f.addUser(t, "carol", "password")

		allIn := model.CryptoGroup{ID: uuid.New(), Name: "ops"}
		f.groups.Add(allIn, full.ID)
		eligible, err := f.service.IsGroupEligible(ctx, class, allIn.ID)
		require.NoError(t, err)
		assert.True(t, eligible)

		mixed := model.CryptoGroup{ID: uuid.New(), Name: "mixed"}
		f.groups.Add(mixed, full.ID, partial.ID)
		eligible, err = f.service.IsGroupEligible(ctx, class, mixed.ID)
		require.NoError(t, err)
		assert.False(t, eligible)
	})
}

func TestService_Create(t *testing.T) {
	ctx := context.Background()
	actor := model.UserActor(model.CryptoUser{ID: uuid.New(), SuperUser: true})

	t.Run("permission denied", func(t *testing.T) {
		f := newClassFixture(t, testutil.DenyAll{})
		_, err := f.service.Create(ctx, actor, CreateParams{Title: "Vault", RequiredFactors: 1, PluginIDs: []string{"password"}})
		var denied *model.PermissionDeniedError
		assert.ErrorAs(t, err, &denied)
	})

	t.Run("threshold must fit the factor set", func(t *testing.T) {
		f := newClassFixture(t, testutil.AllowAll{})
		_, err := f.service.Create(ctx, actor, CreateParams{Title: "Vault", RequiredFactors: 3, PluginIDs: []string{"password", "pin"}})
		var badCount *model.FactorCountError
		require.ErrorAs(t, err, &badCount)
		assert.Equal(t, 3, badCount.Required)
		assert.Equal(t, 2, badCount.Plugins)
	})

	t.Run("unknown plugin", func(t *testing.T) {
		f := newClassFixture(t, testutil.AllowAll{})
		_, err := f.service.Create(ctx, actor, CreateParams{Title: "Vault", RequiredFactors: 1, PluginIDs: []string{"fingerprint"}})
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("success", func(t *testing.T) {
		f := newClassFixture(t, testutil.AllowAll{})
		class, err := f.service.Create(ctx, actor, CreateParams{Title: "Vault", RequiredFactors: 2, PluginIDs: []string{"password", "pin"}})
		require.NoError(t, err)

		stored, err := f.service.Get(ctx, class.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"password", "pin"}, stored.PluginIDs)
	})
}

func TestService_EditAndAddPlugin(t *testing.T) {
	ctx := context.Background()
	actor := model.UserActor(model.CryptoUser{ID: uuid.New(), SuperUser: true})
	f := newClassFixture(t, testutil.AllowAll{})
	class := f.addClass(t, 1, "password")

	t.Run("threshold beyond factor set", func(t *testing.T) {
		_, err := f.service.Edit(ctx, actor, class.ID, Update{Title: "Vault", RequiredFactors: 2})
		var badCount *model.FactorCountError
		assert.ErrorAs(t, err, &badCount)
	})

	t.Run("add plugin then raise threshold", func(t *testing.T) {
		require.NoError(t, f.service.AddPlugin(ctx, actor, class.ID, "pin"))

		updated, err := f.service.Edit(ctx, actor, class.ID, Update{Title: "Vault", RequiredFactors: 2})
		require.NoError(t, err)
		assert.Equal(t, 2, updated.RequiredFactors)
	})

	t.Run("duplicate association", func(t *testing.T) {
		assert.Error(t, f.service.AddPlugin(ctx, actor, class.ID, "pin"))
	})

	t.Run("unknown plugin", func(t *testing.T) {
		err := f.service.AddPlugin(ctx, actor, class.ID, "fingerprint")
		assert.ErrorIs(t, err, model.ErrNotFound)
	})
}

func TestService_Delete(t *testing.T) {
	ctx := context.Background()
	actor := model.UserActor(model.CryptoUser{ID: uuid.New(), SuperUser: true})
	f := newClassFixture(t, testutil.AllowAll{})
	class := f.addClass(t, 1, "password")

	user := f.addUser(t, "alice", "password")
	require.NoError(t, f.groupAccess.Replace(ctx, model.GroupAccess{
		ID:              uuid.New(),
		UserID:          user.ID,
		GroupID:         uuid.New(),
		SecurityClassID: class.ID,
	}))

	t.Run("refused while secrets reference the class", func(t *testing.T) {
		f.classes.SecretCounts[class.ID] = 3

		err := f.service.Delete(ctx, actor, class.ID)
		var inUse *model.ClassInUseError
		require.ErrorAs(t, err, &inUse)
		assert.Equal(t, 3, inUse.SecretCount)

		// Nothing was cascaded.
		_, err = f.service.Get(ctx, class.ID)
		assert.NoError(t, err)
	})

	t.Run("cascades once unreferenced", func(t *testing.T) {
		f.classes.SecretCounts[class.ID] = 0

		require.NoError(t, f.service.Delete(ctx, actor, class.ID))

		_, err := f.service.Get(ctx, class.ID)
		assert.ErrorIs(t, err, model.ErrNotFound)
		_, err = f.groupAccess.GetByUserGroupClass(ctx, user.ID, uuid.New(), class.ID)
		assert.ErrorIs(t, err, model.ErrNotFound)
	})
}

func TestService_SearchHelpers(t *testing.T) {
	ctx := context.Background()
	f := newClassFixture(t, testutil.AllowAll{})
	class := f.addClass(t, 2, "password", "pin")

	alice := f.addUser(t, "alice", "password", "pin")
	f.addUser(t, "alina", "password")
	bob := f.addUser(t, "bob", "password", "pin")

	t.Run("eligible users only", func(t *testing.T) {
		users, err := f.service.SuggestEligibleUsers(ctx, class.ID, model.ActorSearch{Query: "al", Limit: 10})
		require.NoError(t, err)
		require.Len(t, users, 1)
		assert.Equal(t, alice.ID, users[0].ID)
	})

	t.Run("limit applies after filtering", func(t *testing.T) {
		users, err := f.service.SuggestEligibleUsers(ctx, class.ID, model.ActorSearch{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, users, 1)
	})

	t.Run("groups to add excludes associated", func(t *testing.T) {
		ops := model.CryptoGroup{ID: uuid.New(), Name: "ops"}
		dev := model.CryptoGroup{ID: uuid.New(), Name: "dev"}
		f.groups.Add(ops, alice.ID, bob.ID)
		f.groups.Add(dev, bob.ID)
		require.NoError(t, f.classes.AddGroup(ctx, class.ID, ops.ID))

		groups, err := f.service.SearchGroupsToAdd(ctx, class.ID, model.ActorSearch{Limit: 10})
		require.NoError(t, err)
		require.Len(t, groups, 1)
		assert.Equal(t, dev.ID, groups[0].ID)
	})
}
