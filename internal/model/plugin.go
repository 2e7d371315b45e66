package model

import (
	"context"
	"time"
)

// AuthPlugin describes a registered authentication factor. The id is stable
// and unique; re-registration only refreshes the display metadata.
type AuthPlugin struct {
	ID           string
	Title        string
	Description  string
	RegisteredAt time.Time
	UpdatedAt    time.Time
}

// PluginStore defines persistence operations for auth plugin descriptors.
type PluginStore interface {
	GetByID(ctx context.Context, id string) (AuthPlugin, error)
	Upsert(ctx context.Context, plugin AuthPlugin) error
	List(ctx context.Context) ([]AuthPlugin, error)
}
