// Package passwordfactor is the built-in password authentication factor. It
// stores an argon2id salt and a verifier per user; the derived key doubles
// as the escrow key for the user's key pair.
package passwordfactor

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/evgray/keyfort-server/internal/crypto"
	"github.com/evgray/keyfort-server/internal/model"
)

// PluginID is the stable registry id of the password factor.
const PluginID = "password"

// Record is the per-user factor state. The verifier is a hash of the derived
// key, never the key itself.
type Record struct {
	Salt     []byte
	Verifier []byte
}

// Store persists factor records.
type Store interface {
	Get(ctx context.Context, userID uuid.UUID) (Record, error)
	Put(ctx context.Context, userID uuid.UUID, rec Record) error
	Delete(ctx context.Context, userID uuid.UUID) error
}

// Factor implements plugin.AuthFactor for passwords.
type Factor struct {
	store  Store
	params crypto.KDFParams
}

func New(store Store, params crypto.KDFParams) *Factor {
	return &Factor{store: store, params: params}
}

func (f *Factor) ID() string    { return PluginID }
func (f *Factor) Title() string { return "Password" }
func (f *Factor) Description() string {
	return "Authentication with a personal password"
}

func (f *Factor) Register(ctx context.Context, userID uuid.UUID, info *crypto.Hidden) error {
	if len(info.Bytes()) == 0 {
		return errors.New("empty password")
	}

	_, err := f.store.Get(ctx, userID)
	if err == nil {
		return model.ErrAlreadyRegistered
	}
	if !errors.Is(err, model.ErrNotFound) {
		return err
	}

	salt, err := crypto.RandomSalt()
	if err != nil {
		return err
	}

	key := crypto.DeriveKey(info.Bytes(), salt, f.params)
	defer key.Wipe()

	return f.store.Put(ctx, userID, Record{Salt: salt, Verifier: makeVerifier(key)})
}

func (f *Factor) Authenticate(ctx context.Context, userID uuid.UUID, info *crypto.Hidden) error {
	rec, err := f.store.Get(ctx, userID)
	if errors.Is(err, model.ErrNotFound) {
		return model.ErrNotRegistered
	}
	if err != nil {
		return err
	}

	key := crypto.DeriveKey(info.Bytes(), rec.Salt, f.params)
	defer key.Wipe()

	if subtle.ConstantTimeCompare(makeVerifier(key), rec.Verifier) != 1 {
		return errors.New("invalid password")
	}
	return nil
}

func (f *Factor) DeriveKey(ctx context.Context, userID uuid.UUID, info *crypto.Hidden) (crypto.Key, error) {
	rec, err := f.store.Get(ctx, userID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, model.ErrNotRegistered
	}
	if err != nil {
		return nil, err
	}
	return crypto.DeriveKey(info.Bytes(), rec.Salt, f.params), nil
}

func (f *Factor) ChangeAuthInfo(ctx context.Context, userID uuid.UUID, oldInfo, newInfo *crypto.Hidden) error {
	if err := f.Authenticate(ctx, userID, oldInfo); err != nil {
		return err
	}
	if len(newInfo.Bytes()) == 0 {
		return errors.New("empty password")
	}

	salt, err := crypto.RandomSalt()
	if err != nil {
		return err
	}
	key := crypto.DeriveKey(newInfo.Bytes(), salt, f.params)
	defer key.Wipe()

	if err := f.store.Put(ctx, userID, Record{Salt: salt, Verifier: makeVerifier(key)}); err != nil {
		return fmt.Errorf("failed to store new factor state: %w", err)
	}
	return nil
}

func (f *Factor) Deregister(ctx context.Context, userID uuid.UUID) error {
	return f.store.Delete(ctx, userID)
}

func makeVerifier(key crypto.Key) []byte {
	hash := sha256.Sum256(key)
	return hash[:]
}
