// Package service composes the engine's parts behind the operations the
// outer surface consumes: session-token handling plus the authentication,
// administration and recovery flows.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/evgray/keyfort-server/internal/crypto"
	"github.com/evgray/keyfort-server/internal/escrow"
	"github.com/evgray/keyfort-server/internal/logger"
	"github.com/evgray/keyfort-server/internal/model"
	"github.com/evgray/keyfort-server/internal/plugin"
	"github.com/evgray/keyfort-server/internal/recovery"
	"github.com/evgray/keyfort-server/internal/securityclass"
	"github.com/evgray/keyfort-server/internal/sessioncache"
)

// Session is one resolved caller: the user plus the session-scoped auth-key
// cache.
type Session struct {
	User  model.CryptoUser
	ID    string
	Cache *sessioncache.Cache
}

// Engine wires the engine services behind token-addressed operations.
type Engine struct {
	users     model.UserStore
	registry  *plugin.Registry
	classes   *securityclass.Service
	recovery  *recovery.Service
	sessions  model.SessionStore
	keys      *sessioncache.KeyCache
	tokens    model.TokenManager
	resolver  func() *escrow.Resolver
	systemKey []byte
	cacheTTL  time.Duration
	log       *logger.Logger
}

func NewEngine(
	users model.UserStore,
	registry *plugin.Registry,
	classes *securityclass.Service,
	recoveryService *recovery.Service,
	sessions model.SessionStore,
	keys *sessioncache.KeyCache,
	tokens model.TokenManager,
	newResolver func() *escrow.Resolver,
	systemKey []byte,
	cacheTTL time.Duration,
	log *logger.Logger,
) *Engine {
	return &Engine{
		users:     users,
		registry:  registry,
		classes:   classes,
		recovery:  recoveryService,
		sessions:  sessions,
		keys:      keys,
		tokens:    tokens,
		resolver:  newResolver,
		systemKey: systemKey,
		cacheTTL:  cacheTTL,
		log:       log,
	}
}

// StartSession issues a session token for a known user.
func (e *Engine) StartSession(ctx context.Context, username string) (string, error) {
	user, err := e.users.GetByUsername(ctx, username)
	if err != nil {
		return "", fmt.Errorf("failed to resolve user: %w", err)
	}

	token, sessionID, err := e.tokens.GenerateSessionToken(user.ID)
	if err != nil {
		return "", err
	}

	e.log.Info("started session", "user_id", user.ID, "session_id", sessionID)
	return token, nil
}

// ResolveSession parses a session token and builds the request-scoped
// session cache for its owner.
func (e *Engine) ResolveSession(ctx context.Context, token string) (*Session, error) {
	userID, sessionID, err := e.tokens.ParseSessionToken(token)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve session: %w", err)
	}

	user, err := e.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve session user: %w", err)
	}

	return &Session{
		User:  user,
		ID:    sessionID,
		Cache: sessioncache.New(sessionID, user.ID, e.sessions, e.keys, e.systemKey, e.cacheTTL, e.log),
	}, nil
}

// EndSession evicts the session's encryption key, orphaning its cached
// auth-key map, and drops the session state.
func (e *Engine) EndSession(ctx context.Context, session *Session) error {
	if err := session.Cache.Clear(ctx); err != nil {
		return err
	}
	e.keys.Evict(session.ID)
	if err := e.sessions.DeleteSession(ctx, session.ID); err != nil {
		return fmt.Errorf("failed to drop session: %w", err)
	}
	return nil
}

// RegisteredPlugins returns the ids of the installed auth factors.
func (e *Engine) RegisteredPlugins() []string {
	adapters := e.registry.List()
	ids := make([]string, 0, len(adapters))
	for _, a := range adapters {
		ids = append(ids, a.ID())
	}
	return ids
}

// AuthenticateForClass evaluates a class threshold with the submitted
// factor data.
func (e *Engine) AuthenticateForClass(ctx context.Context, session *Session, classID uuid.UUID, attempt securityclass.AuthAttempt) error {
	return e.classes.Authenticate(ctx, classID, session.User, session.Cache, attempt)
}

// CheckAuthStatus reports whether the session currently satisfies the class.
func (e *Engine) CheckAuthStatus(ctx context.Context, session *Session, classID uuid.UUID) (bool, error) {
	return e.classes.IsAuthenticated(ctx, classID, session.User, session.Cache)
}

// SessionCommKey returns a communication key bound to the session and backed
// by the plugin's cached derived key. Without that key in the session cache
// the operation fails with ErrNotAuthenticated.
func (e *Engine) SessionCommKey(ctx context.Context, session *Session, pluginID string) ([]byte, error) {
	adapter, err := e.registry.Get(pluginID)
	if err != nil {
		return nil, err
	}

	derived, err := adapter.GetDerivedKey(ctx, session.Cache, session.User.ID)
	if err != nil {
		return nil, err
	}
	defer derived.Wipe()

	return crypto.ComputeMAC(derived, []byte("comm"), []byte(session.ID)), nil
}

// RegisterWithPlugin registers the session user with an auth factor.
func (e *Engine) RegisterWithPlugin(ctx context.Context, session *Session, pluginID string, info *crypto.Hidden) error {
	adapter, err := e.registry.Get(pluginID)
	if err != nil {
		return err
	}
	return adapter.RegisterUser(ctx, session.User.ID, info)
}

// ChangeAuthInfo rotates the session user's factor information.
func (e *Engine) ChangeAuthInfo(ctx context.Context, session *Session, pluginID string, oldInfo, newInfo *crypto.Hidden) error {
	adapter, err := e.registry.Get(pluginID)
	if err != nil {
		return err
	}
	return adapter.ChangeAuthInfo(ctx, session.User.ID, oldInfo, newInfo)
}

// CreateSecurityClass, EditSecurityClass, DeleteSecurityClass and
// AddPluginToClass run the administrative operations as the session user.

func (e *Engine) CreateSecurityClass(ctx context.Context, session *Session, params securityclass.CreateParams) (model.SecurityClass, error) {
	return e.classes.Create(ctx, model.UserActor(session.User), params)
}

func (e *Engine) EditSecurityClass(ctx context.Context, session *Session, classID uuid.UUID, upd securityclass.Update) (model.SecurityClass, error) {
	return e.classes.Edit(ctx, model.UserActor(session.User), classID, upd)
}

func (e *Engine) DeleteSecurityClass(ctx context.Context, session *Session, classID uuid.UUID) error {
	return e.classes.Delete(ctx, model.UserActor(session.User), classID)
}

func (e *Engine) AddPluginToClass(ctx context.Context, session *Session, classID uuid.UUID, pluginID string) error {
	return e.classes.AddPlugin(ctx, model.UserActor(session.User), classID, pluginID)
}

// CreateRecoveryEntry, SendRecoveryToken, RecoverEntry and
// GetRecoverySecret expose the recovery lifecycle for the session user.

func (e *Engine) CreateRecoveryEntry(ctx context.Context, session *Session, pluginID string, info *crypto.Hidden) (string, error) {
	return e.recovery.CreateEntry(ctx, pluginID, session.User, info)
}

func (e *Engine) SendRecoveryToken(ctx context.Context, session *Session, pluginID string) error {
	return e.recovery.SendRecoveryToken(ctx, pluginID, session.User)
}

func (e *Engine) RecoverEntry(ctx context.Context, session *Session, pluginID, code, token string) error {
	return e.recovery.RecoverEntry(ctx, pluginID, session.User, code, token, session.ID)
}

func (e *Engine) GetRecoverySecret(ctx context.Context, session *Session, pluginID string) (*crypto.Hidden, error) {
	return e.recovery.GetRecoverySecret(ctx, session.ID, session.User.ID, pluginID)
}

// ReEncryptSecretAccessKey rebuilds the session user's wrapped data key for
// a secret with a fresh per-request resolver.
func (e *Engine) ReEncryptSecretAccessKey(ctx context.Context, session *Session, secretID uuid.UUID) error {
	return e.resolver().ReEncryptSecretAccessKey(ctx, secretID, session.User, session.Cache)
}

// ReEncryptGroupAccessKey does the same for a group access row.
func (e *Engine) ReEncryptGroupAccessKey(ctx context.Context, session *Session, groupID, classID uuid.UUID) error {
	return e.resolver().ReEncryptGroupAccessKey(ctx, groupID, classID, session.User, session.Cache)
}
