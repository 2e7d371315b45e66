// Package escrow resolves crypto actors and moves wrapped key material
// between their key pairs. Data keys are unwrapped and re-wrapped strictly
// inside one operation; plaintext key material never leaves this package.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/evgray/keyfort-server/internal/crypto"
	"github.com/evgray/keyfort-server/internal/logger"
	"github.com/evgray/keyfort-server/internal/model"
	"github.com/evgray/keyfort-server/internal/plugin"
	"github.com/evgray/keyfort-server/internal/sessioncache"
)

// Eligibility answers whether an actor can ever satisfy a class threshold.
// Satisfied by securityclass.Service.
type Eligibility interface {
	IsUserEligible(ctx context.Context, class model.SecurityClass, userID uuid.UUID) (bool, error)
	IsGroupEligible(ctx context.Context, class model.SecurityClass, groupID uuid.UUID) (bool, error)
}

// Resolver looks up actors with per-instance memoization and performs the
// key re-encryption flows. Each request builds its own Resolver; the memo
// maps are never shared between requests.
type Resolver struct {
	users         model.UserStore
	groups        model.GroupStore
	classes       model.SecurityClassStore
	secretAccess  model.SecretAccessStore
	groupKeyPairs model.GroupKeyPairStore
	groupAccess   model.GroupAccessStore
	registry      *plugin.Registry
	eligibility   Eligibility
	log           *logger.Logger

	mu        sync.Mutex
	userMemo  map[uuid.UUID]model.CryptoUser
	groupMemo map[uuid.UUID]model.CryptoGroup
}

func NewResolver(
	users model.UserStore,
	groups model.GroupStore,
	classes model.SecurityClassStore,
	secretAccess model.SecretAccessStore,
	groupKeyPairs model.GroupKeyPairStore,
	groupAccess model.GroupAccessStore,
	registry *plugin.Registry,
	eligibility Eligibility,
	log *logger.Logger,
) *Resolver {
	return &Resolver{
		users:         users,
		groups:        groups,
		classes:       classes,
		secretAccess:  secretAccess,
		groupKeyPairs: groupKeyPairs,
		groupAccess:   groupAccess,
		registry:      registry,
		eligibility:   eligibility,
		log:           log,
		userMemo:      make(map[uuid.UUID]model.CryptoUser),
		groupMemo:     make(map[uuid.UUID]model.CryptoGroup),
	}
}

// GetCryptoUser resolves a user, memoized for the resolver's lifetime.
func (r *Resolver) GetCryptoUser(ctx context.Context, id uuid.UUID) (model.CryptoUser, error) {
	r.mu.Lock()
	if u, ok := r.userMemo[id]; ok {
		r.mu.Unlock()
		return u, nil
	}
	r.mu.Unlock()

	u, err := r.users.GetByID(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		return model.CryptoUser{}, &model.NotFoundError{Kind: "user", ID: id.String()}
	}
	if err != nil {
		return model.CryptoUser{}, fmt.Errorf("failed to get user: %w", err)
	}

	r.mu.Lock()
	r.userMemo[id] = u
	r.mu.Unlock()
	return u, nil
}

// GetCryptoGroup resolves a group, memoized for the resolver's lifetime.
func (r *Resolver) GetCryptoGroup(ctx context.Context, id uuid.UUID) (model.CryptoGroup, error) {
	r.mu.Lock()
	if g, ok := r.groupMemo[id]; ok {
		r.mu.Unlock()
		return g, nil
	}
	r.mu.Unlock()

	g, err := r.groups.GetByID(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		return model.CryptoGroup{}, &model.NotFoundError{Kind: "group", ID: id.String()}
	}
	if err != nil {
		return model.CryptoGroup{}, fmt.Errorf("failed to get group: %w", err)
	}

	r.mu.Lock()
	r.groupMemo[id] = g
	r.mu.Unlock()
	return g, nil
}

// SearchUsers runs a paginated user search. With a class id the results are
// narrowed to users eligible for that class.
func (r *Resolver) SearchUsers(ctx context.Context, q model.ActorSearch, classID *uuid.UUID) ([]model.CryptoUser, error) {
	if classID == nil {
		return r.users.Search(ctx, q)
	}

	class, err := r.classes.GetByID(ctx, *classID)
	if err != nil {
		return nil, fmt.Errorf("failed to get security class: %w", err)
	}

	unfiltered := q
	unfiltered.Limit = 0
	unfiltered.Offset = 0
	candidates, err := r.users.Search(ctx, unfiltered)
	if err != nil {
		return nil, fmt.Errorf("failed to search users: %w", err)
	}

	var out []model.CryptoUser
	for _, u := range candidates {
		eligible, err := r.eligibility.IsUserEligible(ctx, class, u.ID)
		if err != nil {
			return nil, err
		}
		if eligible {
			out = append(out, u)
			if q.Limit > 0 && len(out) == q.Limit {
				break
			}
		}
	}
	return out, nil
}

// SearchGroups mirrors SearchUsers for groups.
func (r *Resolver) SearchGroups(ctx context.Context, q model.ActorSearch, classID *uuid.UUID) ([]model.CryptoGroup, error) {
	if classID == nil {
		return r.groups.Search(ctx, q)
	}

	class, err := r.classes.GetByID(ctx, *classID)
	if err != nil {
		return nil, fmt.Errorf("failed to get security class: %w", err)
	}

	unfiltered := q
	unfiltered.Limit = 0
	unfiltered.Offset = 0
	candidates, err := r.groups.Search(ctx, unfiltered)
	if err != nil {
		return nil, fmt.Errorf("failed to search groups: %w", err)
	}

	var out []model.CryptoGroup
	for _, g := range candidates {
		eligible, err := r.eligibility.IsGroupEligible(ctx, class, g.ID)
		if err != nil {
			return nil, err
		}
		if eligible {
			out = append(out, g)
			if q.Limit > 0 && len(out) == q.Limit {
				break
			}
		}
	}
	return out, nil
}

// UnlockUserPrivateKey opens the user's escrowed private key with any plugin
// whose derived key sits in the session cache. Returns the plugin id that
// served the unlock; the caller wipes the key.
func (r *Resolver) UnlockUserPrivateKey(ctx context.Context, user model.CryptoUser, cache *sessioncache.Cache) ([]byte, string, error) {
	for _, adapter := range r.registry.List() {
		derived, err := adapter.GetDerivedKey(ctx, cache, user.ID)
		if err != nil {
			continue
		}

		privateKey, err := adapter.UnlockPrivateKey(ctx, user.ID, derived)
		derived.Wipe()
		if err != nil {
			return nil, "", err
		}
		return privateKey, adapter.ID(), nil
	}
	return nil, "", model.ErrNotAuthenticated
}

// openEnvelope unwraps one envelope slot with the user's session-unlocked
// private keys. Any slot the user can open yields the payload.
func (r *Resolver) openEnvelope(ctx context.Context, user model.CryptoUser, cache *sessioncache.Cache, env model.KeyEnvelope) ([]byte, error) {
	for pluginID, wrapped := range env {
		adapter, err := r.registry.Get(pluginID)
		if err != nil {
			continue
		}
		derived, err := adapter.GetDerivedKey(ctx, cache, user.ID)
		if err != nil {
			continue
		}

		kp, err := adapter.KeyPair(ctx, user.ID)
		if err != nil {
			derived.Wipe()
			return nil, err
		}
		privateKey, err := adapter.UnlockPrivateKey(ctx, user.ID, derived)
		derived.Wipe()
		if err != nil {
			return nil, err
		}

		payload, err := crypto.UnwrapKey(kp.PublicKey, privateKey, wrapped)
		crypto.Key(privateKey).Wipe()
		if err != nil {
			return nil, fmt.Errorf("failed to unwrap envelope slot: %w", err)
		}
		return payload, nil
	}
	return nil, model.ErrNotAuthenticated
}

// sealEnvelope wraps the payload to every key pair the user holds, one slot
// per registered plugin.
func (r *Resolver) sealEnvelope(ctx context.Context, userID uuid.UUID, payload []byte) (model.KeyEnvelope, error) {
	env := make(model.KeyEnvelope)
	for _, adapter := range r.registry.List() {
		registered, err := adapter.IsRegistered(ctx, userID)
		if err != nil {
			return nil, err
		}
		if !registered {
			continue
		}

		kp, err := adapter.KeyPair(ctx, userID)
		if err != nil {
			return nil, err
		}
		wrapped, err := crypto.WrapKey(kp.PublicKey, payload)
		if err != nil {
			return nil, err
		}
		env[adapter.ID()] = wrapped
	}
	if len(env) == 0 {
		return nil, model.ErrNotRegistered
	}
	return env, nil
}

// ReEncryptSecretAccessKey rebuilds the user's wrapped data key for a secret
// after the user's factor set changed. The data key exists in plaintext only
// between the unwrap and the rewrap.
func (r *Resolver) ReEncryptSecretAccessKey(ctx context.Context, secretID uuid.UUID, user model.CryptoUser, cache *sessioncache.Cache) error {
	access, err := r.secretAccess.GetForActor(ctx, secretID, model.ActorUser, user.ID)
	if errors.Is(err, model.ErrNotFound) {
		return &model.NotFoundError{Kind: "secret access", ID: secretID.String()}
	}
	if err != nil {
		return fmt.Errorf("failed to get secret access: %w", err)
	}

	dataKey, err := r.openEnvelope(ctx, user, cache, access.WrappedDataKey)
	if err != nil {
		return err
	}
	defer crypto.Key(dataKey).Wipe()

	env, err := r.sealEnvelope(ctx, user.ID, dataKey)
	if err != nil {
		return err
	}

	access.WrappedDataKey = env
	access.CreatedAt = time.Now()
	if err := r.secretAccess.Replace(ctx, access); err != nil {
		return fmt.Errorf("failed to replace secret access: %w", err)
	}

	r.log.Info("re-encrypted secret access key", "secret_id", secretID, "user_id", user.ID)
	return nil
}

// ReEncryptGroupAccessKey does the same for the user's wrapped copy of a
// group private key.
func (r *Resolver) ReEncryptGroupAccessKey(ctx context.Context, groupID, classID uuid.UUID, user model.CryptoUser, cache *sessioncache.Cache) error {
	access, err := r.groupAccess.GetByUserGroupClass(ctx, user.ID, groupID, classID)
	if errors.Is(err, model.ErrNotFound) {
		return &model.NotFoundError{Kind: "group access", ID: groupID.String()}
	}
	if err != nil {
		return fmt.Errorf("failed to get group access: %w", err)
	}

	groupKey, err := r.openEnvelope(ctx, user, cache, access.WrappedGroupKey)
	if err != nil {
		return err
	}
	defer crypto.Key(groupKey).Wipe()

	env, err := r.sealEnvelope(ctx, user.ID, groupKey)
	if err != nil {
		return err
	}

	access.WrappedGroupKey = env
	access.CreatedAt = time.Now()
	if err := r.groupAccess.Replace(ctx, access); err != nil {
		return fmt.Errorf("failed to replace group access: %w", err)
	}

	r.log.Info("re-encrypted group access key", "group_id", groupID, "security_class_id", classID, "user_id", user.ID)
	return nil
}

// EnsureGroupKeyPair returns the group's key pair for a class, creating it
// on first use. Creation wraps the private half to every current member and
// discards the plaintext before returning.
func (r *Resolver) EnsureGroupKeyPair(ctx context.Context, groupID, classID uuid.UUID) (model.GroupKeyPair, error) {
	kp, err := r.groupKeyPairs.GetByGroupClass(ctx, groupID, classID)
	if err == nil {
		return kp, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return model.GroupKeyPair{}, fmt.Errorf("failed to get group key pair: %w", err)
	}

	memberIDs, err := r.groups.MemberIDs(ctx, groupID)
	if err != nil {
		return model.GroupKeyPair{}, fmt.Errorf("failed to list group members: %w", err)
	}
	if len(memberIDs) == 0 {
		return model.GroupKeyPair{}, fmt.Errorf("group %s has no members to hold the key", groupID)
	}

	publicKey, privateKey, err := crypto.GenerateKeyPair()
	if err != nil {
		return model.GroupKeyPair{}, err
	}
	defer crypto.Key(privateKey).Wipe()

	for _, memberID := range memberIDs {
		env, err := r.sealEnvelope(ctx, memberID, privateKey)
		if err != nil {
			return model.GroupKeyPair{}, fmt.Errorf("failed to wrap group key for member %s: %w", memberID, err)
		}
		err = r.groupAccess.Replace(ctx, model.GroupAccess{
			ID:              uuid.New(),
			UserID:          memberID,
			GroupID:         groupID,
			SecurityClassID: classID,
			WrappedGroupKey: env,
			CreatedAt:       time.Now(),
		})
		if err != nil {
			return model.GroupKeyPair{}, fmt.Errorf("failed to store group access: %w", err)
		}
	}

	kp, err = r.groupKeyPairs.Create(ctx, model.GroupKeyPair{
		ID:              uuid.New(),
		GroupID:         groupID,
		SecurityClassID: classID,
		PublicKey:       publicKey,
		CreatedAt:       time.Now(),
	})
	if err != nil {
		return model.GroupKeyPair{}, fmt.Errorf("failed to store group key pair: %w", err)
	}

	r.log.Info("created group key pair", "group_id", groupID, "security_class_id", classID)
	return kp, nil
}
