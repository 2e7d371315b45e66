// Package sessionstore provides model.SessionStore implementations: an
// in-memory store for tests and single-process setups and a bbolt-backed
// store for persistence across restarts.
package sessionstore

import (
	"context"
	"sync"

	"github.com/evgray/keyfort-server/internal/model"
)

// Memory is a process-local session store.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]map[string][]byte
}

var _ model.SessionStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{sessions: make(map[string]map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, sessionID, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	values, ok := m.sessions[sessionID]
	if !ok {
		return nil, model.ErrNotFound
	}
	value, ok := values[key]
	if !ok {
		return nil, model.ErrNotFound
	}

	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (m *Memory) Set(_ context.Context, sessionID, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	values, ok := m.sessions[sessionID]
	if !ok {
		values = make(map[string][]byte)
		m.sessions[sessionID] = values
	}

	stored := make([]byte, len(value))
	copy(stored, value)
	values[key] = stored
	return nil
}

func (m *Memory) Delete(_ context.Context, sessionID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if values, ok := m.sessions[sessionID]; ok {
		delete(values, key)
	}
	return nil
}

func (m *Memory) DeleteSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, sessionID)
	return nil
}
