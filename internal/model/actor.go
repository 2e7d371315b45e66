package model

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ActorKind discriminates the two actor variants.
type ActorKind string

const (
	ActorUser  ActorKind = "user"
	ActorGroup ActorKind = "group"
)

// CryptoUser is a user that owns auth key pairs and group access rows.
type CryptoUser struct {
	ID        uuid.UUID
	Username  string
	Name      string
	Company   string
	Email     string
	SuperUser bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CryptoGroup is a group that owns one key pair per security class.
type CryptoGroup struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Actor is a tagged union over CryptoUser and CryptoGroup. Code that needs
// the variant asks for it explicitly instead of type-switching.
type Actor struct {
	kind  ActorKind
	user  CryptoUser
	group CryptoGroup
}

func UserActor(u CryptoUser) Actor {
	return Actor{kind: ActorUser, user: u}
}

func GroupActor(g CryptoGroup) Actor {
	return Actor{kind: ActorGroup, group: g}
}

func (a Actor) Kind() ActorKind { return a.kind }

func (a Actor) ID() uuid.UUID {
	if a.kind == ActorGroup {
		return a.group.ID
	}
	return a.user.ID
}

func (a Actor) User() (CryptoUser, bool) {
	return a.user, a.kind == ActorUser
}

func (a Actor) Group() (CryptoGroup, bool) {
	return a.group, a.kind == ActorGroup
}

func (a Actor) DisplayName() string {
	if a.kind == ActorGroup {
		return a.group.Name
	}
	if a.user.Name != "" {
		return a.user.Name
	}
	return a.user.Username
}

// CanUsePasswordLinks reports whether the actor may hand out password links
// for secrets scoped to the given class. Links are delivered to a person, so
// only user actors qualify, and only when the class policy allows them.
func (a Actor) CanUsePasswordLinks(class SecurityClass) bool {
	return a.kind == ActorUser && class.AllowPasswordLinks
}

// ActorSearch filters paginated actor lookups. Query matches name, username
// and company fields case-insensitively.
type ActorSearch struct {
	Query      string
	ExcludeIDs []uuid.UUID
	Limit      int
	Offset     int
}

// UserStore defines persistence operations for users.
type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (CryptoUser, error)
	GetByUsername(ctx context.Context, username string) (CryptoUser, error)
	Search(ctx context.Context, q ActorSearch) ([]CryptoUser, error)
}

// GroupStore defines persistence operations for groups.
type GroupStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (CryptoGroup, error)
	Search(ctx context.Context, q ActorSearch) ([]CryptoGroup, error)
	MemberIDs(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error)
}
