package model

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SecurityClass is the threshold policy object: secrets scoped to it unlock
// only after RequiredFactors of the associated plugins authenticate.
//
// The plugin set is append-only. Removing a factor would retroactively
// weaken keys already escrowed under it.
type SecurityClass struct {
	ID                 uuid.UUID
	Title              string
	Description        string
	RequiredFactors    int
	AllowPasswordLinks bool
	PluginIDs          []string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// HasPlugin reports whether the class is associated with the given plugin.
func (c SecurityClass) HasPlugin(pluginID string) bool {
	for _, id := range c.PluginIDs {
		if id == pluginID {
			return true
		}
	}
	return false
}

// SecurityClassStore defines persistence operations for security classes and
// their association rows.
type SecurityClassStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (SecurityClass, error)
	List(ctx context.Context) ([]SecurityClass, error)
	Create(ctx context.Context, class SecurityClass) (SecurityClass, error)
	Update(ctx context.Context, class SecurityClass) error
	// Delete removes the class together with its class<->plugin,
	// class<->group and class-scoped group access rows.
	Delete(ctx context.Context, id uuid.UUID) error
	AddPlugin(ctx context.Context, classID uuid.UUID, pluginID string) error
	AddGroup(ctx context.Context, classID, groupID uuid.UUID) error
	GroupIDs(ctx context.Context, classID uuid.UUID) ([]uuid.UUID, error)
	// SecretCount counts distinct secrets whose access rows reference the class.
	SecretCount(ctx context.Context, classID uuid.UUID) (int, error)
}
