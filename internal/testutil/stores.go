package testutil

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/evgray/keyfort-server/internal/model"
)

// In-memory store implementations backing service-level tests. They honor
// the same contracts as the postgres repositories, including ErrNotFound
// mapping and delete-then-insert Replace semantics.

func matchActor(q model.ActorSearch, id uuid.UUID, fields ...string) bool {
	for _, excluded := range q.ExcludeIDs {
		if excluded == id {
			return false
		}
	}
	if q.Query == "" {
		return true
	}
	needle := strings.ToLower(q.Query)
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), needle) {
			return true
		}
	}
	return false
}

func page[T any](items []T, q model.ActorSearch) []T {
	if q.Offset >= len(items) {
		return nil
	}
	items = items[q.Offset:]
	if q.Limit > 0 && len(items) > q.Limit {
		items = items[:q.Limit]
	}
	return items
}

// MemUserStore implements model.UserStore.
type MemUserStore struct {
	mu    sync.RWMutex
	users map[uuid.UUID]model.CryptoUser
}

func NewMemUserStore() *MemUserStore {
	return &MemUserStore{users: make(map[uuid.UUID]model.CryptoUser)}
}

func (s *MemUserStore) Add(u model.CryptoUser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *MemUserStore) GetByID(_ context.Context, id uuid.UUID) (model.CryptoUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return model.CryptoUser{}, model.ErrNotFound
	}
	return u, nil
}

func (s *MemUserStore) GetByUsername(_ context.Context, username string) (model.CryptoUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Username == username {
			return u, nil
		}
	}
	return model.CryptoUser{}, model.ErrNotFound
}

func (s *MemUserStore) Search(_ context.Context, q model.ActorSearch) ([]model.CryptoUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.CryptoUser
	for _, u := range s.users {
		if matchActor(q, u.ID, u.Username, u.Name, u.Company) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return page(out, q), nil
}

// MemGroupStore implements model.GroupStore.
type MemGroupStore struct {
	mu      sync.RWMutex
	groups  map[uuid.UUID]model.CryptoGroup
	members map[uuid.UUID][]uuid.UUID
}

func NewMemGroupStore() *MemGroupStore {
	return &MemGroupStore{
		groups:  make(map[uuid.UUID]model.CryptoGroup),
		members: make(map[uuid.UUID][]uuid.UUID),
	}
}

func (s *MemGroupStore) Add(g model.CryptoGroup, memberIDs ...uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[g.ID] = g
	s.members[g.ID] = memberIDs
}

func (s *MemGroupStore) GetByID(_ context.Context, id uuid.UUID) (model.CryptoGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id]
	if !ok {
		return model.CryptoGroup{}, model.ErrNotFound
	}
	return g, nil
}

func (s *MemGroupStore) Search(_ context.Context, q model.ActorSearch) ([]model.CryptoGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.CryptoGroup
	for _, g := range s.groups {
		if matchActor(q, g.ID, g.Name) {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return page(out, q), nil
}

func (s *MemGroupStore) MemberIDs(_ context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.groups[groupID]; !ok {
		return nil, model.ErrNotFound
	}
	return append([]uuid.UUID(nil), s.members[groupID]...), nil
}

// MemPluginStore implements model.PluginStore.
type MemPluginStore struct {
	mu      sync.RWMutex
	plugins map[string]model.AuthPlugin
}

func NewMemPluginStore() *MemPluginStore {
	return &MemPluginStore{plugins: make(map[string]model.AuthPlugin)}
}

func (s *MemPluginStore) GetByID(_ context.Context, id string) (model.AuthPlugin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plugins[id]
	if !ok {
		return model.AuthPlugin{}, model.ErrNotFound
	}
	return p, nil
}

func (s *MemPluginStore) Upsert(_ context.Context, plugin model.AuthPlugin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plugins[plugin.ID] = plugin
	return nil
}

func (s *MemPluginStore) List(_ context.Context) ([]model.AuthPlugin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.AuthPlugin, 0, len(s.plugins))
	for _, p := range s.plugins {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// MemKeyPairStore implements model.KeyPairStore.
type MemKeyPairStore struct {
	mu   sync.RWMutex
	rows map[string]model.AuthKeyPair
}

func NewMemKeyPairStore() *MemKeyPairStore {
	return &MemKeyPairStore{rows: make(map[string]model.AuthKeyPair)}
}

func kpKey(userID uuid.UUID, pluginID string) string {
	return userID.String() + "/" + pluginID
}

func (s *MemKeyPairStore) GetByUserPlugin(_ context.Context, userID uuid.UUID, pluginID string) (model.AuthKeyPair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	kp, ok := s.rows[kpKey(userID, pluginID)]
	if !ok {
		return model.AuthKeyPair{}, model.ErrNotFound
	}
	return kp, nil
}

func (s *MemKeyPairStore) Create(_ context.Context, kp model.AuthKeyPair) (model.AuthKeyPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := kpKey(kp.UserID, kp.PluginID)
	if _, ok := s.rows[key]; ok {
		return model.AuthKeyPair{}, model.ErrAlreadyRegistered
	}
	s.rows[key] = kp
	return kp, nil
}

func (s *MemKeyPairStore) Update(_ context.Context, kp model.AuthKeyPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := kpKey(kp.UserID, kp.PluginID)
	if _, ok := s.rows[key]; !ok {
		return model.ErrNotFound
	}
	s.rows[key] = kp
	return nil
}

func (s *MemKeyPairStore) DeleteByUserPlugin(_ context.Context, userID uuid.UUID, pluginID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, kpKey(userID, pluginID))
	return nil
}

func (s *MemKeyPairStore) RegisteredUserIDs(_ context.Context, pluginID string) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []uuid.UUID
	for _, kp := range s.rows {
		if kp.PluginID == pluginID {
			out = append(out, kp.UserID)
		}
	}
	return out, nil
}

func (s *MemKeyPairStore) CountForUser(_ context.Context, userID uuid.UUID, pluginIDs []string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, pluginID := range pluginIDs {
		if _, ok := s.rows[kpKey(userID, pluginID)]; ok {
			count++
		}
	}
	return count, nil
}

// MemSecurityClassStore implements model.SecurityClassStore. SecretCounts is
// writable by tests to simulate referencing secrets.
type MemSecurityClassStore struct {
	mu           sync.RWMutex
	classes      map[uuid.UUID]model.SecurityClass
	groups       map[uuid.UUID][]uuid.UUID
	SecretCounts map[uuid.UUID]int
}

func NewMemSecurityClassStore() *MemSecurityClassStore {
	return &MemSecurityClassStore{
		classes:      make(map[uuid.UUID]model.SecurityClass),
		groups:       make(map[uuid.UUID][]uuid.UUID),
		SecretCounts: make(map[uuid.UUID]int),
	}
}

func (s *MemSecurityClassStore) GetByID(_ context.Context, id uuid.UUID) (model.SecurityClass, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.classes[id]
	if !ok {
		return model.SecurityClass{}, model.ErrNotFound
	}
	return c, nil
}

func (s *MemSecurityClassStore) List(_ context.Context) ([]model.SecurityClass, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.SecurityClass, 0, len(s.classes))
	for _, c := range s.classes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

func (s *MemSecurityClassStore) Create(_ context.Context, class model.SecurityClass) (model.SecurityClass, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.classes[class.ID] = class
	return class, nil
}

func (s *MemSecurityClassStore) Update(_ context.Context, class model.SecurityClass) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.classes[class.ID]; !ok {
		return model.ErrNotFound
	}
	s.classes[class.ID] = class
	return nil
}

func (s *MemSecurityClassStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.classes, id)
	delete(s.groups, id)
	return nil
}

func (s *MemSecurityClassStore) AddPlugin(_ context.Context, classID uuid.UUID, pluginID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.classes[classID]
	if !ok {
		return model.ErrNotFound
	}
	c.PluginIDs = append(c.PluginIDs, pluginID)
	s.classes[classID] = c
	return nil
}

func (s *MemSecurityClassStore) AddGroup(_ context.Context, classID, groupID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.classes[classID]; !ok {
		return model.ErrNotFound
	}
	s.groups[classID] = append(s.groups[classID], groupID)
	return nil
}

func (s *MemSecurityClassStore) GroupIDs(_ context.Context, classID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]uuid.UUID(nil), s.groups[classID]...), nil
}

func (s *MemSecurityClassStore) SecretCount(_ context.Context, classID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.SecretCounts[classID], nil
}

// MemSecretAccessStore implements model.SecretAccessStore.
type MemSecretAccessStore struct {
	mu   sync.RWMutex
	rows map[string]model.SecretAccess
}

func NewMemSecretAccessStore() *MemSecretAccessStore {
	return &MemSecretAccessStore{rows: make(map[string]model.SecretAccess)}
}

func saKey(secretID uuid.UUID, kind model.ActorKind, actorID uuid.UUID) string {
	return secretID.String() + "/" + string(kind) + "/" + actorID.String()
}

func (s *MemSecretAccessStore) GetForActor(_ context.Context, secretID uuid.UUID, kind model.ActorKind, actorID uuid.UUID) (model.SecretAccess, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[saKey(secretID, kind, actorID)]
	if !ok {
		return model.SecretAccess{}, model.ErrNotFound
	}
	return row, nil
}

func (s *MemSecretAccessStore) ListForSecret(_ context.Context, secretID uuid.UUID) ([]model.SecretAccess, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.SecretAccess
	for _, row := range s.rows {
		if row.SecretID == secretID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *MemSecretAccessStore) Replace(_ context.Context, access model.SecretAccess) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[saKey(access.SecretID, access.ActorKind, access.ActorID)] = access
	return nil
}

func (s *MemSecretAccessStore) Delete(_ context.Context, secretID uuid.UUID, kind model.ActorKind, actorID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, saKey(secretID, kind, actorID))
	return nil
}

// MemGroupKeyPairStore implements model.GroupKeyPairStore.
type MemGroupKeyPairStore struct {
	mu   sync.RWMutex
	rows map[string]model.GroupKeyPair
}

func NewMemGroupKeyPairStore() *MemGroupKeyPairStore {
	return &MemGroupKeyPairStore{rows: make(map[string]model.GroupKeyPair)}
}

func (s *MemGroupKeyPairStore) GetByGroupClass(_ context.Context, groupID, classID uuid.UUID) (model.GroupKeyPair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	kp, ok := s.rows[groupID.String()+"/"+classID.String()]
	if !ok {
		return model.GroupKeyPair{}, model.ErrNotFound
	}
	return kp, nil
}

func (s *MemGroupKeyPairStore) Create(_ context.Context, kp model.GroupKeyPair) (model.GroupKeyPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[kp.GroupID.String()+"/"+kp.SecurityClassID.String()] = kp
	return kp, nil
}

// MemGroupAccessStore implements model.GroupAccessStore.
type MemGroupAccessStore struct {
	mu   sync.RWMutex
	rows map[string]model.GroupAccess
}

func NewMemGroupAccessStore() *MemGroupAccessStore {
	return &MemGroupAccessStore{rows: make(map[string]model.GroupAccess)}
}

func gaKey(userID, groupID, classID uuid.UUID) string {
	return userID.String() + "/" + groupID.String() + "/" + classID.String()
}

func (s *MemGroupAccessStore) GetByUserGroupClass(_ context.Context, userID, groupID, classID uuid.UUID) (model.GroupAccess, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[gaKey(userID, groupID, classID)]
	if !ok {
		return model.GroupAccess{}, model.ErrNotFound
	}
	return row, nil
}

func (s *MemGroupAccessStore) Replace(_ context.Context, access model.GroupAccess) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[gaKey(access.UserID, access.GroupID, access.SecurityClassID)] = access
	return nil
}

func (s *MemGroupAccessStore) DeleteByClass(_ context.Context, classID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, row := range s.rows {
		if row.SecurityClassID == classID {
			delete(s.rows, key)
		}
	}
	return nil
}

// MemRecoveryStore implements model.RecoveryStore.
type MemRecoveryStore struct {
	mu   sync.RWMutex
	rows map[string]model.RecoveryEntry
}

func NewMemRecoveryStore() *MemRecoveryStore {
	return &MemRecoveryStore{rows: make(map[string]model.RecoveryEntry)}
}

func recKey(userID uuid.UUID, pluginID string) string {
	return userID.String() + "/" + pluginID
}

func (s *MemRecoveryStore) GetByUserPlugin(_ context.Context, userID uuid.UUID, pluginID string) (model.RecoveryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[recKey(userID, pluginID)]
	if !ok {
		return model.RecoveryEntry{}, model.ErrNotFound
	}
	return row, nil
}

func (s *MemRecoveryStore) Replace(_ context.Context, entry model.RecoveryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[recKey(entry.UserID, entry.PluginID)] = entry
	return nil
}

func (s *MemRecoveryStore) SetToken(_ context.Context, id uuid.UUID, encryptedToken []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, row := range s.rows {
		if row.ID == id {
			row.EncryptedToken = encryptedToken
			s.rows[key] = row
			return nil
		}
	}
	return model.ErrNotFound
}

func (s *MemRecoveryStore) Delete(_ context.Context, userID uuid.UUID, pluginID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, recKey(userID, pluginID))
	return nil
}

// SentMail records one delivery made through RecordingMailer.
type SentMail struct {
	Recipient string
	Subject   string
	Body      string
}

// RecordingMailer implements model.Mailer and keeps everything it sent.
type RecordingMailer struct {
	mu   sync.Mutex
	Mail []SentMail
}

func (m *RecordingMailer) Send(_ context.Context, recipient, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Mail = append(m.Mail, SentMail{Recipient: recipient, Subject: subject, Body: body})
	return nil
}

// AllowAll grants every permission.
type AllowAll struct{}

func (AllowAll) Has(context.Context, string, model.Actor) bool { return true }

// DenyAll denies every permission.
type DenyAll struct{}

func (DenyAll) Has(context.Context, string, model.Actor) bool { return false }
