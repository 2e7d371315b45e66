// Package securityclass implements threshold authentication policies: a
// security class names a set of auth plugins and how many of them an actor
// must satisfy before secrets scoped to the class unlock.
package securityclass

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/evgray/keyfort-server/internal/crypto"
	"github.com/evgray/keyfort-server/internal/logger"
	"github.com/evgray/keyfort-server/internal/model"
	"github.com/evgray/keyfort-server/internal/plugin"
	"github.com/evgray/keyfort-server/internal/sessioncache"
)

// Service owns security class policy evaluation and administration.
type Service struct {
	classes     model.SecurityClassStore
	users       model.UserStore
	groups      model.GroupStore
	keyPairs    model.KeyPairStore
	groupAccess model.GroupAccessStore
	registry    *plugin.Registry
	perms       model.PermissionChecker
	log         *logger.Logger
}

func NewService(
	classes model.SecurityClassStore,
	users model.UserStore,
	groups model.GroupStore,
	keyPairs model.KeyPairStore,
	groupAccess model.GroupAccessStore,
	registry *plugin.Registry,
	perms model.PermissionChecker,
	log *logger.Logger,
) *Service {
	return &Service{
		classes:     classes,
		users:       users,
		groups:      groups,
		keyPairs:    keyPairs,
		groupAccess: groupAccess,
		registry:    registry,
		perms:       perms,
		log:         log,
	}
}

// AuthAttempt carries one request's submitted factor data, keyed by plugin
// id, plus the caller's caching preference.
type AuthAttempt struct {
	Data             map[string]*crypto.Hidden
	CacheDerivedKeys bool
	Mode             sessioncache.Mode
}

// Get loads a class by id.
func (s *Service) Get(ctx context.Context, classID uuid.UUID) (model.SecurityClass, error) {
	class, err := s.classes.GetByID(ctx, classID)
	if errors.Is(err, model.ErrNotFound) {
		return model.SecurityClass{}, &model.NotFoundError{Kind: "security class", ID: classID.String()}
	}
	if err != nil {
		return model.SecurityClass{}, fmt.Errorf("failed to get security class: %w", err)
	}
	return class, nil
}

// List returns all classes.
func (s *Service) List(ctx context.Context) ([]model.SecurityClass, error) {
	return s.classes.List(ctx)
}

// Authenticate evaluates the class threshold for the user in one pass. Every
// configured plugin counts when the user is either already authenticated for
// it in this session or supplies correct data for it in the attempt. Derived
// keys obtained along the way are committed to the session cache only after
// the threshold is met, so a failed attempt leaves no partial state behind.
func (s *Service) Authenticate(ctx context.Context, classID uuid.UUID, user model.CryptoUser, cache *sessioncache.Cache, attempt AuthAttempt) error {
	class, err := s.Get(ctx, classID)
	if err != nil {
		return err
	}

	counted := 0
	obtained := make(map[string]crypto.Key)
	defer func() {
		for _, key := range obtained {
			key.Wipe()
		}
	}()

	for _, pluginID := range class.PluginIDs {
		adapter, err := s.registry.Get(pluginID)
		if err != nil {
			return err
		}

		if adapter.IsAuthenticated(ctx, cache, user.ID) {
			counted++
			continue
		}

		info, ok := attempt.Data[pluginID]
		if !ok {
			continue
		}

		key, err := adapter.Authenticate(ctx, user.ID, info)
		if err != nil {
			s.log.Info("factor authentication failed",
				"security_class_id", classID, "plugin_id", pluginID, "user_id", user.ID)
			continue
		}
		obtained[pluginID] = key
		counted++
	}

	if counted < class.RequiredFactors {
		return &model.InvalidAuthDataError{Counted: counted, Required: class.RequiredFactors}
	}

	// Session caching is honored only for the session's own user.
	if cache != nil && cache.OwnerID() == user.ID {
		for pluginID, key := range obtained {
			if err := cache.SaveAuthKey(ctx, pluginID, key, attempt.CacheDerivedKeys, attempt.Mode); err != nil {
				return fmt.Errorf("failed to cache derived key: %w", err)
			}
		}
	}
	return nil
}

// IsAuthenticated reports whether the user currently satisfies the class
// threshold from the session cache alone.
func (s *Service) IsAuthenticated(ctx context.Context, classID uuid.UUID, user model.CryptoUser, cache *sessioncache.Cache) (bool, error) {
	class, err := s.Get(ctx, classID)
	if err != nil {
		return false, err
	}

	counted := 0
	for _, pluginID := range class.PluginIDs {
		adapter, err := s.registry.Get(pluginID)
		if err != nil {
			return false, err
		}
		if adapter.IsAuthenticated(ctx, cache, user.ID) {
			counted++
		}
	}
	return counted >= class.RequiredFactors, nil
}

// IsUserEligible reports whether the user is registered with enough of the
// class's plugins to ever satisfy the threshold. Derived, never stored.
func (s *Service) IsUserEligible(ctx context.Context, class model.SecurityClass, userID uuid.UUID) (bool, error) {
	count, err := s.keyPairs.CountForUser(ctx, userID, class.PluginIDs)
	if err != nil {
		return false, fmt.Errorf("failed to count registrations: %w", err)
	}
	return count >= class.RequiredFactors, nil
}

// IsGroupEligible reports whether every member of the group is eligible for
// the class. An empty group is never eligible.
func (s *Service) IsGroupEligible(ctx context.Context, class model.SecurityClass, groupID uuid.UUID) (bool, error) {
	memberIDs, err := s.groups.MemberIDs(ctx, groupID)
	if err != nil {
		return false, fmt.Errorf("failed to list group members: %w", err)
	}
	if len(memberIDs) == 0 {
		return false, nil
	}

	for _, memberID := range memberIDs {
		eligible, err := s.IsUserEligible(ctx, class, memberID)
		if err != nil {
			return false, err
		}
		if !eligible {
			return false, nil
		}
	}
	return true, nil
}

// CreateParams are the caller-supplied fields of a new class.
type CreateParams struct {
	Title              string
	Description        string
	RequiredFactors    int
	AllowPasswordLinks bool
	PluginIDs          []string
}

// Create makes a new security class. Requires the create permission; every
// named plugin must be registered and the threshold must fit the factor set.
func (s *Service) Create(ctx context.Context, actor model.Actor, params CreateParams) (model.SecurityClass, error) {
	if !s.perms.Has(ctx, model.PermSecurityClassCreate, actor) {
		return model.SecurityClass{}, &model.PermissionDeniedError{Permission: model.PermSecurityClassCreate}
	}

	if params.RequiredFactors < 1 || params.RequiredFactors > len(params.PluginIDs) {
		return model.SecurityClass{}, &model.FactorCountError{
			Required: params.RequiredFactors,
			Plugins:  len(params.PluginIDs),
		}
	}
	for _, pluginID := range params.PluginIDs {
		if _, err := s.registry.Get(pluginID); err != nil {
			return model.SecurityClass{}, err
		}
	}

	now := time.Now()
	class, err := s.classes.Create(ctx, model.SecurityClass{
		ID:                 uuid.New(),
		Title:              params.Title,
		Description:        params.Description,
		RequiredFactors:    params.RequiredFactors,
		AllowPasswordLinks: params.AllowPasswordLinks,
		PluginIDs:          params.PluginIDs,
		CreatedAt:          now,
		UpdatedAt:          now,
	})
	if err != nil {
		return model.SecurityClass{}, fmt.Errorf("failed to create security class: %w", err)
	}

	s.log.Info("created security class", "security_class_id", class.ID, "title", class.Title)
	return class, nil
}

// Update carries the editable fields of a class. The factor set is
// append-only and changed through AddPlugin alone.
type Update struct {
	Title              string
	Description        string
	RequiredFactors    int
	AllowPasswordLinks bool
}

// Edit updates a class. Requires the edit permission.
func (s *Service) Edit(ctx context.Context, actor model.Actor, classID uuid.UUID, upd Update) (model.SecurityClass, error) {
	if !s.perms.Has(ctx, model.PermSecurityClassEdit, actor) {
		return model.SecurityClass{}, &model.PermissionDeniedError{Permission: model.PermSecurityClassEdit}
	}

	class, err := s.Get(ctx, classID)
	if err != nil {
		return model.SecurityClass{}, err
	}

	if upd.RequiredFactors < 1 || upd.RequiredFactors > len(class.PluginIDs) {
		return model.SecurityClass{}, &model.FactorCountError{
			Required: upd.RequiredFactors,
			Plugins:  len(class.PluginIDs),
		}
	}

	class.Title = upd.Title
	class.Description = upd.Description
	class.RequiredFactors = upd.RequiredFactors
	class.AllowPasswordLinks = upd.AllowPasswordLinks
	class.UpdatedAt = time.Now()

	if err := s.classes.Update(ctx, class); err != nil {
		return model.SecurityClass{}, fmt.Errorf("failed to update security class: %w", err)
	}
	return class, nil
}

// AddPlugin associates one more registered plugin with the class.
func (s *Service) AddPlugin(ctx context.Context, actor model.Actor, classID uuid.UUID, pluginID string) error {
	if !s.perms.Has(ctx, model.PermSecurityClassEdit, actor) {
		return &model.PermissionDeniedError{Permission: model.PermSecurityClassEdit}
	}

	class, err := s.Get(ctx, classID)
	if err != nil {
		return err
	}
	if _, err := s.registry.Get(pluginID); err != nil {
		return err
	}
	if class.HasPlugin(pluginID) {
		return fmt.Errorf("plugin %q is already associated with the class", pluginID)
	}

	if err := s.classes.AddPlugin(ctx, classID, pluginID); err != nil {
		return fmt.Errorf("failed to add plugin to security class: %w", err)
	}
	return nil
}

// AddGroup associates a group with the class. The group must be eligible.
func (s *Service) AddGroup(ctx context.Context, actor model.Actor, classID, groupID uuid.UUID) error {
	if !s.perms.Has(ctx, model.PermSecurityClassEdit, actor) {
		return &model.PermissionDeniedError{Permission: model.PermSecurityClassEdit}
	}

	class, err := s.Get(ctx, classID)
	if err != nil {
		return err
	}
	eligible, err := s.IsGroupEligible(ctx, class, groupID)
	if err != nil {
		return err
	}
	if !eligible {
		return fmt.Errorf("group %s is not eligible for the security class", groupID)
	}

	if err := s.classes.AddGroup(ctx, classID, groupID); err != nil {
		return fmt.Errorf("failed to add group to security class: %w", err)
	}
	return nil
}

// Delete removes a class. Refuses while any secret still references it;
// otherwise cascades the class's association rows and the access rows scoped
// by it.
func (s *Service) Delete(ctx context.Context, actor model.Actor, classID uuid.UUID) error {
	if !s.perms.Has(ctx, model.PermSecurityClassDelete, actor) {
		return &model.PermissionDeniedError{Permission: model.PermSecurityClassDelete}
	}

	if _, err := s.Get(ctx, classID); err != nil {
		return err
	}

	count, err := s.classes.SecretCount(ctx, classID)
	if err != nil {
		return fmt.Errorf("failed to count referencing secrets: %w", err)
	}
	if count > 0 {
		return &model.ClassInUseError{ClassID: classID, SecretCount: count}
	}

	if err := s.groupAccess.DeleteByClass(ctx, classID); err != nil {
		return fmt.Errorf("failed to delete class-scoped group access: %w", err)
	}
	if err := s.classes.Delete(ctx, classID); err != nil {
		return fmt.Errorf("failed to delete security class: %w", err)
	}

	s.log.Info("deleted security class", "security_class_id", classID)
	return nil
}

// SuggestEligibleUsers searches users by substring and keeps only those
// eligible for the class. The limit applies after the eligibility filter.
func (s *Service) SuggestEligibleUsers(ctx context.Context, classID uuid.UUID, q model.ActorSearch) ([]model.CryptoUser, error) {
	class, err := s.Get(ctx, classID)
	if err != nil {
		return nil, err
	}

	unfiltered := q
	unfiltered.Limit = 0
	unfiltered.Offset = 0
	candidates, err := s.users.Search(ctx, unfiltered)
	if err != nil {
		return nil, fmt.Errorf("failed to search users: %w", err)
	}

	var out []model.CryptoUser
	for _, u := range candidates {
		eligible, err := s.IsUserEligible(ctx, class, u.ID)
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

// SuggestEligibleGroups searches groups by substring and keeps only those
// eligible for the class.
func (s *Service) SuggestEligibleGroups(ctx context.Context, classID uuid.UUID, q model.ActorSearch) ([]model.CryptoGroup, error) {
	class, err := s.Get(ctx, classID)
	if err != nil {
		return nil, err
	}

	unfiltered := q
	unfiltered.Limit = 0
	unfiltered.Offset = 0
	candidates, err := s.groups.Search(ctx, unfiltered)
	if err != nil {
		return nil, fmt.Errorf("failed to search groups: %w", err)
	}

	var out []model.CryptoGroup
	for _, g := range candidates {
		eligible, err := s.IsGroupEligible(ctx, class, g.ID)
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

// SearchGroupsToAdd is SuggestEligibleGroups minus the groups already
// associated with the class.
func (s *Service) SearchGroupsToAdd(ctx context.Context, classID uuid.UUID, q model.ActorSearch) ([]model.CryptoGroup, error) {
	associated, err := s.classes.GroupIDs(ctx, classID)
	if err != nil {
		return nil, fmt.Errorf("failed to list associated groups: %w", err)
	}
	q.ExcludeIDs = append(q.ExcludeIDs, associated...)
	return s.SuggestEligibleGroups(ctx, classID, q)
}
