package model

import "context"

// Permission names gating administrative security class mutations.
const (
	PermSecurityClassCreate = "securityclass.create"
	PermSecurityClassEdit   = "securityclass.edit"
	PermSecurityClassDelete = "securityclass.delete"
)

// PermissionChecker gates administrative mutations. Implementations live at
// the integration edge; the engine only consumes the boolean.
type PermissionChecker interface {
	Has(ctx context.Context, permission string, actor Actor) bool
}

// SuperUserChecker grants every permission to super-users and nothing to
// anyone else.
type SuperUserChecker struct{}

func (SuperUserChecker) Has(_ context.Context, _ string, actor Actor) bool {
	u, ok := actor.User()
	return ok && u.SuperUser
}
