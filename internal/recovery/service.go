// Package recovery lets a user regain a lost factor with a printed recovery
// code plus a mailed token. The factor payload is stored sealed under a key
// derived from the code; neither the code nor the token is ever persisted in
// plaintext.
package recovery

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/evgray/keyfort-server/internal/crypto"
	"github.com/evgray/keyfort-server/internal/logger"
	"github.com/evgray/keyfort-server/internal/model"
	"github.com/evgray/keyfort-server/internal/plugin"
)

const (
	mailSubject = "Your recovery token"

	sessionKeyPrefix = "keyfort_recovery_"
)

// Service implements the recovery lifecycle for factor registrations.
type Service struct {
	entries   model.RecoveryStore
	sessions  model.SessionStore
	registry  *plugin.Registry
	mailer    model.Mailer
	systemKey []byte
	kdf       crypto.KDFParams
	log       *logger.Logger
}

func NewService(
	entries model.RecoveryStore,
	sessions model.SessionStore,
	registry *plugin.Registry,
	mailer model.Mailer,
	systemKey []byte,
	kdf crypto.KDFParams,
	log *logger.Logger,
) *Service {
	return &Service{
		entries:   entries,
		sessions:  sessions,
		registry:  registry,
		mailer:    mailer,
		systemKey: systemKey,
		kdf:       kdf,
		log:       log,
	}
}

// CreateEntry stores recovery material for a factor the user can currently
// prove, and returns the plaintext recovery code exactly once.
func (s *Service) CreateEntry(ctx context.Context, pluginID string, user model.CryptoUser, info *crypto.Hidden) (string, error) {
	adapter, err := s.registry.Get(pluginID)
	if err != nil {
		return "", err
	}

	// Recovery data may only be created for a provable factor.
	if err := adapter.Verify(ctx, user.ID, info); err != nil {
		return "", fmt.Errorf("factor verification failed: %w", err)
	}

	code, err := crypto.GenerateCode(crypto.RecoveryCodeLength)
	if err != nil {
		return "", err
	}
	salt, err := crypto.RandomSalt()
	if err != nil {
		return "", err
	}

	codeKey := crypto.DeriveKey([]byte(code), salt, s.kdf)
	defer codeKey.Wipe()

	payload, err := crypto.SealEncoded(codeKey, info.Bytes())
	if err != nil {
		return "", err
	}

	now := time.Now()
	err = s.entries.Replace(ctx, model.RecoveryEntry{
		ID:               uuid.New(),
		UserID:           user.ID,
		PluginID:         pluginID,
		EncryptedPayload: payload,
		Salt:             salt,
		MAC:              s.entryMAC(user.ID, pluginID, payload, salt),
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	if err != nil {
		return "", fmt.Errorf("failed to store recovery entry: %w", err)
	}

	s.log.Info("created recovery entry", "user_id", user.ID, "plugin_id", pluginID)
	return code, nil
}

// SendRecoveryToken generates a fresh token for an existing recovery entry
// and mails it to the user. Fails closed when no address is on file.
func (s *Service) SendRecoveryToken(ctx context.Context, pluginID string, user model.CryptoUser) error {
	entry, err := s.getEntry(ctx, user.ID, pluginID)
	if err != nil {
		return err
	}

	if user.Email == "" {
		return fmt.Errorf("user %s has no email address on file", user.ID)
	}

	token, err := crypto.GenerateCode(crypto.RecoveryTokenLength)
	if err != nil {
		return err
	}
	encryptedToken, err := crypto.SealEncoded(s.systemKey, []byte(token))
	if err != nil {
		return err
	}

	if err := s.entries.SetToken(ctx, entry.ID, encryptedToken); err != nil {
		return fmt.Errorf("failed to store recovery token: %w", err)
	}

	body := fmt.Sprintf("Use this token to recover your authentication factor: %s", token)
	if err := s.mailer.Send(ctx, user.Email, mailSubject, body); err != nil {
		return fmt.Errorf("failed to mail recovery token: %w", err)
	}

	s.log.Info("sent recovery token", "user_id", user.ID, "plugin_id", pluginID)
	return nil
}

// RecoverEntry validates token and code against the stored entry and stashes
// the recovered factor secret in the session for one-time pickup. Wrong
// token and wrong code are distinct errors; a MAC mismatch is a tamper
// signal.
func (s *Service) RecoverEntry(ctx context.Context, pluginID string, user model.CryptoUser, code, token, sessionID string) error {
	entry, err := s.getEntry(ctx, user.ID, pluginID)
	if err != nil {
		return err
	}

	if len(entry.EncryptedToken) == 0 {
		return model.ErrNoRecoveryToken
	}

	if !crypto.VerifyMAC(s.systemKey, entry.MAC, user.ID[:], []byte(pluginID), entry.EncryptedPayload, entry.Salt) {
		s.log.SecurityEvent("recovery entry MAC mismatch", "user_id", user.ID, "plugin_id", pluginID)
		return &model.TamperError{Subject: "recovery entry", UserID: user.ID, PluginID: pluginID}
	}

	storedToken, err := crypto.OpenEncoded(s.systemKey, entry.EncryptedToken)
	if err != nil {
		return fmt.Errorf("failed to decrypt recovery token: %w", err)
	}
	if subtle.ConstantTimeCompare(storedToken, []byte(token)) != 1 {
		return model.ErrRecoveryTokenMismatch
	}

	codeKey := crypto.DeriveKey([]byte(code), entry.Salt, s.kdf)
	defer codeKey.Wipe()

	secret, err := crypto.OpenEncoded(codeKey, entry.EncryptedPayload)
	if err != nil {
		return model.ErrRecoveryCodeInvalid
	}
	defer crypto.Key(secret).Wipe()

	sealed, err := crypto.SealEncoded(s.systemKey, secret)
	if err != nil {
		return err
	}
	if err := s.sessions.Set(ctx, sessionID, secretSessionKey(user.ID, pluginID), sealed); err != nil {
		return fmt.Errorf("failed to stash recovered secret: %w", err)
	}

	// The token is single-use.
	if err := s.entries.SetToken(ctx, entry.ID, nil); err != nil {
		return fmt.Errorf("failed to consume recovery token: %w", err)
	}

	s.log.Info("recovered factor secret", "user_id", user.ID, "plugin_id", pluginID)
	return nil
}

// GetRecoverySecret hands out a stashed recovered secret once and deletes
// the stash.
func (s *Service) GetRecoverySecret(ctx context.Context, sessionID string, userID uuid.UUID, pluginID string) (*crypto.Hidden, error) {
	key := secretSessionKey(userID, pluginID)

	sealed, err := s.sessions.Get(ctx, sessionID, key)
	if errors.Is(err, model.ErrNotFound) {
		return nil, &model.NotFoundError{Kind: "recovered secret", ID: pluginID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read recovered secret: %w", err)
	}

	if err := s.sessions.Delete(ctx, sessionID, key); err != nil {
		return nil, fmt.Errorf("failed to consume recovered secret: %w", err)
	}

	secret, err := crypto.OpenEncoded(s.systemKey, sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt recovered secret: %w", err)
	}
	return crypto.NewHidden(secret), nil
}

// DeleteEntry drops the recovery material for a (user, plugin) pair, e.g.
// after the factor itself is deregistered.
func (s *Service) DeleteEntry(ctx context.Context, pluginID string, userID uuid.UUID) error {
	return s.entries.Delete(ctx, userID, pluginID)
}

func (s *Service) getEntry(ctx context.Context, userID uuid.UUID, pluginID string) (model.RecoveryEntry, error) {
	entry, err := s.entries.GetByUserPlugin(ctx, userID, pluginID)
	if errors.Is(err, model.ErrNotFound) {
		return model.RecoveryEntry{}, &model.NotFoundError{Kind: "recovery entry", ID: pluginID}
	}
	if err != nil {
		return model.RecoveryEntry{}, fmt.Errorf("failed to get recovery entry: %w", err)
	}
	return entry, nil
}

func (s *Service) entryMAC(userID uuid.UUID, pluginID string, payload, salt []byte) []byte {
	return crypto.ComputeMAC(s.systemKey, userID[:], []byte(pluginID), payload, salt)
}

func secretSessionKey(userID uuid.UUID, pluginID string) string {
	return sessionKeyPrefix + userID.String() + "_" + pluginID
}
