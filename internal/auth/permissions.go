package auth

import (
	"context"
	"slices"

	"github.com/nerrad567/gray-logic-grow/internal/apperr"
)

// Capability represents a named operation an actor may perform.
type Capability string

// Capability constants.
const (
	CapRecipeManage    Capability = "recipe:manage"
	CapCycleRead       Capability = "cycle:read"
	CapCycleOperate    Capability = "cycle:operate"
	CapCycleOverride   Capability = "cycle:override"
	CapTargetsRead     Capability = "targets:read"
	CapCommandDispatch Capability = "command:dispatch"
	CapCommandAck      Capability = "command:ack"
	CapSiteManage      Capability = "site:manage"
)

// roleCapabilities maps each role to its granted capabilities.
// This is the single source of truth for the authorisation model.
var roleCapabilities = map[Role][]Capability{
	RoleViewer: {
		CapCycleRead,
		CapTargetsRead,
	},
	RoleOperator: {
		CapCycleRead,
		CapCycleOperate,
		CapCycleOverride,
		CapTargetsRead,
		CapCommandDispatch,
	},
	RoleAgronomist: {
		CapRecipeManage,
		CapCycleRead,
		CapCycleOperate,
		CapCycleOverride,
		CapTargetsRead,
	},
	RoleAdmin: {
		CapRecipeManage,
		CapCycleRead,
		CapCycleOperate,
		CapCycleOverride,
		CapTargetsRead,
		CapCommandDispatch,
		CapCommandAck,
		CapSiteManage,
	},
	RoleService: {
		CapCycleRead,
		CapCycleOperate,
		CapTargetsRead,
		CapCommandDispatch,
		CapCommandAck,
	},
}

// HasCapability returns true if role grants capability c.
func HasCapability(role Role, c Capability) bool {
	return slices.Contains(roleCapabilities[role], c)
}

// CapabilitiesForRole returns a copy of the capabilities granted to role.
// Returns nil for unknown roles.
func CapabilitiesForRole(role Role) []Capability {
	caps := roleCapabilities[role]
	if caps == nil {
		return nil
	}
	return slices.Clone(caps)
}

// Authorizer decides whether an actor may perform an operation on a scope.
// Implementations may call out to an external policy service; an error
// means the decision could not be made, not that it was negative.
type Authorizer interface {
	CanAct(ctx context.Context, actor ActorContext, capability Capability, scope Scope) (bool, error)
}

// CapabilityAuthorizer grants access when the actor holds the capability
// and, for zone and cycle scopes, the actor's zone restriction covers the zone.
type CapabilityAuthorizer struct{}

// CanAct implements Authorizer.
func (CapabilityAuthorizer) CanAct(_ context.Context, actor ActorContext, capability Capability, scope Scope) (bool, error) {
	if actor.ActorID == "" || !actor.Has(capability) {
		return false, nil
	}
	switch scope.Kind {
	case ScopeGlobal:
		return true, nil
	case ScopeZone, ScopeCycle:
		return actor.CoversZone(scope.ZoneID), nil
	default:
		return false, nil
	}
}

// Require runs the authorizer and converts its answer into a domain error:
// a negative answer is forbidden, a failed check is upstream.
func Require(ctx context.Context, authz Authorizer, actor ActorContext, capability Capability, scope Scope) error {
	ok, err := authz.CanAct(ctx, actor, capability, scope)
	if err != nil {
		return ErrAuthorizerUnavailable.WithID(scope.ID).Wrap(err)
	}
	if !ok {
		return ErrForbidden.WithID(scope.ID).Withf("actor %q lacks %s on %s", actor.ActorID, capability, scope.Kind)
	}
	return nil
}

// Authorisation errors.
var (
	ErrForbidden             = apperr.New(apperr.KindForbidden, "forbidden", "actor may not perform this operation")
	ErrAuthorizerUnavailable = apperr.New(apperr.KindUpstream, "authorizer_unavailable", "authorisation check could not be completed")
)
