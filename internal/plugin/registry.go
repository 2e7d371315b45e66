package plugin

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/evgray/keyfort-server/internal/logger"
	"github.com/evgray/keyfort-server/internal/model"
)

// Registry maps stable plugin ids to their adapters. Factors register once
// at startup; re-registering an id only refreshes the stored display
// metadata, never the underlying implementation.
type Registry struct {
	plugins   model.PluginStore
	keyPairs  model.KeyPairStore
	systemKey []byte
	log       *logger.Logger

	mu       sync.RWMutex
	adapters map[string]*Adapter
}

func NewRegistry(plugins model.PluginStore, keyPairs model.KeyPairStore, systemKey []byte, log *logger.Logger) *Registry {
	return &Registry{
		plugins:   plugins,
		keyPairs:  keyPairs,
		systemKey: systemKey,
		log:       log,
		adapters:  make(map[string]*Adapter),
	}
}

// Register wires a factor into the registry and persists its descriptor.
func (r *Registry) Register(ctx context.Context, factor AuthFactor) (*Adapter, error) {
	if factor.ID() == "" {
		return nil, fmt.Errorf("auth factor has empty id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.adapters[factor.ID()]; ok {
		// The implementation is immutable once registered; only display
		// metadata is refreshed.
		if err := r.upsertDescriptor(ctx, factor); err != nil {
			return nil, err
		}
		return existing, nil
	}

	if err := r.upsertDescriptor(ctx, factor); err != nil {
		return nil, err
	}

	adapter := newAdapter(factor, r.keyPairs, r.systemKey, r.log)
	r.adapters[factor.ID()] = adapter

	r.log.Info("registered auth plugin", "plugin_id", factor.ID(), "title", factor.Title())
	return adapter, nil
}

func (r *Registry) upsertDescriptor(ctx context.Context, factor AuthFactor) error {
	now := time.Now()
	err := r.plugins.Upsert(ctx, model.AuthPlugin{
		ID:           factor.ID(),
		Title:        factor.Title(),
		Description:  factor.Description(),
		RegisteredAt: now,
		UpdatedAt:    now,
	})
	if err != nil {
		return fmt.Errorf("failed to persist plugin descriptor: %w", err)
	}
	return nil
}

// Get resolves an adapter by plugin id.
func (r *Registry) Get(id string) (*Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, ok := r.adapters[id]
	if !ok {
		return nil, &model.NotFoundError{Kind: "auth plugin", ID: id}
	}
	return adapter, nil
}

// List returns all registered adapters ordered by id.
func (r *Registry) List() []*Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
