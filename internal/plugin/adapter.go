package plugin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/evgray/keyfort-server/internal/crypto"
	"github.com/evgray/keyfort-server/internal/logger"
	"github.com/evgray/keyfort-server/internal/model"
	"github.com/evgray/keyfort-server/internal/sessioncache"
)

// Adapter wraps one auth factor with the engine-side key escrow: a key pair
// per registered user whose private half is encrypted under the factor's
// derived key and MAC-protected with the system authentication key.
//
// Mutating operations validate everything, including re-authentication,
// before touching storage, and then write exactly once.
type Adapter struct {
	factor    AuthFactor
	keyPairs  model.KeyPairStore
	systemKey []byte
	log       *logger.Logger
}

func newAdapter(factor AuthFactor, keyPairs model.KeyPairStore, systemKey []byte, log *logger.Logger) *Adapter {
	return &Adapter{
		factor:    factor,
		keyPairs:  keyPairs,
		systemKey: systemKey,
		log:       log,
	}
}

func (a *Adapter) ID() string          { return a.factor.ID() }
func (a *Adapter) Title() string       { return a.factor.Title() }
func (a *Adapter) Description() string { return a.factor.Description() }

// Authenticate verifies the submitted factor information and returns the
// derived key on success. Caching is the caller's decision.
func (a *Adapter) Authenticate(ctx context.Context, userID uuid.UUID, info *crypto.Hidden) (crypto.Key, error) {
	registered, err := a.IsRegistered(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !registered {
		return nil, model.ErrNotRegistered
	}

	if err := a.factor.Authenticate(ctx, userID, info); err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	key, err := a.factor.DeriveKey(ctx, userID, info)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

// Verify checks factor information without yielding a derived key.
func (a *Adapter) Verify(ctx context.Context, userID uuid.UUID, info *crypto.Hidden) error {
	key, err := a.Authenticate(ctx, userID, info)
	if err != nil {
		return err
	}
	key.Wipe()
	return nil
}

// IsAuthenticated reports whether a derived key for this plugin is available
// in the session cache. Only the cache owner's keys count.
func (a *Adapter) IsAuthenticated(ctx context.Context, cache *sessioncache.Cache, userID uuid.UUID) bool {
	if cache == nil || cache.OwnerID() != userID {
		return false
	}
	key, ok, err := cache.GetAuthKey(ctx, a.ID())
	if err != nil || !ok {
		return false
	}
	key.Wipe()
	return true
}

// GetDerivedKey returns the cached derived key for the plugin.
func (a *Adapter) GetDerivedKey(ctx context.Context, cache *sessioncache.Cache, userID uuid.UUID) (crypto.Key, error) {
	if cache == nil || cache.OwnerID() != userID {
		return nil, model.ErrNotAuthenticated
	}
	key, ok, err := cache.GetAuthKey(ctx, a.ID())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, model.ErrNotAuthenticated
	}
	return key, nil
}

// RegisterUser registers the user with the factor, immediately authenticates
// to obtain the derived key, and escrows a fresh key pair under it.
func (a *Adapter) RegisterUser(ctx context.Context, userID uuid.UUID, info *crypto.Hidden) error {
	registered, err := a.IsRegistered(ctx, userID)
	if err != nil {
		return err
	}
	if registered {
		return model.ErrAlreadyRegistered
	}

	if err := a.factor.Register(ctx, userID, info); err != nil {
		return fmt.Errorf("failed to register with factor: %w", err)
	}
	if err := a.factor.Authenticate(ctx, userID, info); err != nil {
		return fmt.Errorf("failed to authenticate after registration: %w", err)
	}

	derived, err := a.factor.DeriveKey(ctx, userID, info)
	if err != nil {
		return fmt.Errorf("failed to derive key: %w", err)
	}
	defer derived.Wipe()

	publicKey, privateKey, err := crypto.GenerateKeyPair()
	if err != nil {
		return err
	}
	defer crypto.Key(privateKey).Wipe()

	encryptedPrivate, err := crypto.SealEncoded(derived, privateKey)
	if err != nil {
		return err
	}

	now := time.Now()
	_, err = a.keyPairs.Create(ctx, model.AuthKeyPair{
		ID:                  uuid.New(),
		UserID:              userID,
		PluginID:            a.ID(),
		PublicKey:           publicKey,
		EncryptedPrivateKey: encryptedPrivate,
		MAC:                 crypto.ComputeMAC(a.systemKey, publicKey, encryptedPrivate),
		CreatedAt:           now,
		UpdatedAt:           now,
	})
	if err != nil {
		return fmt.Errorf("failed to store key pair: %w", err)
	}

	a.log.Info("registered user with auth plugin", "plugin_id", a.ID(), "user_id", userID)
	return nil
}

// ChangeAuthInfo re-authenticates with the old information, re-encrypts the
// escrowed private key under the new derived key and updates the row in a
// single write. The private key itself never changes.
func (a *Adapter) ChangeAuthInfo(ctx context.Context, userID uuid.UUID, oldInfo, newInfo *crypto.Hidden) error {
	if err := a.factor.Authenticate(ctx, userID, oldInfo); err != nil {
		return fmt.Errorf("re-authentication failed: %w", err)
	}

	oldDerived, err := a.factor.DeriveKey(ctx, userID, oldInfo)
	if err != nil {
		return fmt.Errorf("failed to derive key: %w", err)
	}
	defer oldDerived.Wipe()

	kp, err := a.KeyPair(ctx, userID)
	if err != nil {
		return err
	}

	privateKey, err := crypto.OpenEncoded(oldDerived, kp.EncryptedPrivateKey)
	if err != nil {
		return fmt.Errorf("failed to decrypt private key: %w", err)
	}
	defer crypto.Key(privateKey).Wipe()

	if err := a.factor.ChangeAuthInfo(ctx, userID, oldInfo, newInfo); err != nil {
		return fmt.Errorf("failed to change factor information: %w", err)
	}

	newDerived, err := a.factor.DeriveKey(ctx, userID, newInfo)
	if err != nil {
		return fmt.Errorf("failed to derive key: %w", err)
	}
	defer newDerived.Wipe()

	encryptedPrivate, err := crypto.SealEncoded(newDerived, privateKey)
	if err != nil {
		return err
	}

	kp.EncryptedPrivateKey = encryptedPrivate
	kp.MAC = crypto.ComputeMAC(a.systemKey, kp.PublicKey, encryptedPrivate)
	kp.UpdatedAt = time.Now()

	if err := a.keyPairs.Update(ctx, kp); err != nil {
		return fmt.Errorf("failed to update key pair: %w", err)
	}
	return nil
}

// IsRegistered reports whether the user has an escrowed key pair for this
// plugin.
func (a *Adapter) IsRegistered(ctx context.Context, userID uuid.UUID) (bool, error) {
	_, err := a.keyPairs.GetByUserPlugin(ctx, userID, a.ID())
	if errors.Is(err, model.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RegisteredUserIDs lists users registered with this plugin.
func (a *Adapter) RegisteredUserIDs(ctx context.Context) ([]uuid.UUID, error) {
	return a.keyPairs.RegisteredUserIDs(ctx, a.ID())
}

// DeleteUser removes the target's registration. Only the target themselves
// or a super-user may do this.
func (a *Adapter) DeleteUser(ctx context.Context, caller model.CryptoUser, targetID uuid.UUID) error {
	if caller.ID != targetID && !caller.SuperUser {
		return &model.PermissionDeniedError{Permission: "authplugin.deleteuser"}
	}

	if err := a.factor.Deregister(ctx, targetID); err != nil {
		return fmt.Errorf("failed to deregister from factor: %w", err)
	}
	if err := a.keyPairs.DeleteByUserPlugin(ctx, targetID, a.ID()); err != nil {
		return fmt.Errorf("failed to delete key pair: %w", err)
	}
	return nil
}

// KeyPair loads the user's escrowed key pair and verifies its MAC before
// anything trusts the contents. A mismatch is a security event.
func (a *Adapter) KeyPair(ctx context.Context, userID uuid.UUID) (model.AuthKeyPair, error) {
	kp, err := a.keyPairs.GetByUserPlugin(ctx, userID, a.ID())
	if errors.Is(err, model.ErrNotFound) {
		return model.AuthKeyPair{}, model.ErrNotRegistered
	}
	if err != nil {
		return model.AuthKeyPair{}, err
	}

	if !crypto.VerifyMAC(a.systemKey, kp.MAC, kp.PublicKey, kp.EncryptedPrivateKey) {
		a.log.SecurityEvent("key pair MAC mismatch", "plugin_id", a.ID(), "user_id", userID)
		return model.AuthKeyPair{}, &model.TamperError{Subject: "auth key pair", UserID: userID, PluginID: a.ID()}
	}
	return kp, nil
}

// UnlockPrivateKey decrypts the escrowed private key with a derived key.
func (a *Adapter) UnlockPrivateKey(ctx context.Context, userID uuid.UUID, derived crypto.Key) ([]byte, error) {
	kp, err := a.KeyPair(ctx, userID)
	if err != nil {
		return nil, err
	}

	privateKey, err := crypto.OpenEncoded(derived, kp.EncryptedPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt private key: %w", err)
	}
	return privateKey, nil
}
