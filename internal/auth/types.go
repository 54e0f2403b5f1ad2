package auth

import "slices"

// Role represents an authorisation tier.
type Role string

// Role constants.
const (
	// RoleViewer can read effective targets and cycle history.
	RoleViewer Role = "viewer"

	// RoleOperator runs cycles in the zones assigned to them.
	RoleOperator Role = "operator"

	// RoleAgronomist authors recipes and operates cycles.
	RoleAgronomist Role = "agronomist"

	// RoleAdmin has every capability in every zone.
	RoleAdmin Role = "admin"

	// RoleService is automation software polling targets and reporting command outcomes.
	RoleService Role = "service"
)

// ValidRoles lists all roles that can appear in a token.
var ValidRoles = []Role{RoleViewer, RoleOperator, RoleAgronomist, RoleAdmin, RoleService}

// IsValidRole returns true if r is a known role.
func IsValidRole(r Role) bool {
	return slices.Contains(ValidRoles, r)
}

// ActorContext identifies who is performing an operation and what they may do.
// It is passed explicitly to every lifecycle and tracker operation.
type ActorContext struct {
	ActorID      string       `json:"actor_id"`
	Role         Role         `json:"role"`
	Capabilities []Capability `json:"capabilities"`

	// Zones restricts the actor to these zone ids. Empty means all zones.
	Zones []string `json:"zones,omitempty"`
}

// NewActor builds an ActorContext carrying the role's capabilities.
func NewActor(actorID string, role Role, zones ...string) ActorContext {
	return ActorContext{
		ActorID:      actorID,
		Role:         role,
		Capabilities: CapabilitiesForRole(role),
		Zones:        zones,
	}
}

// SystemActor is the identity used by internal jobs such as the timeout sweep
// and the MQTT acknowledgement listener.
func SystemActor(name string) ActorContext {
	return NewActor("system:"+name, RoleService)
}

// Has reports whether the actor holds capability c.
func (a ActorContext) Has(c Capability) bool {
	return slices.Contains(a.Capabilities, c)
}

// CoversZone reports whether the actor's zone restriction admits zoneID.
func (a ActorContext) CoversZone(zoneID string) bool {
	if len(a.Zones) == 0 {
		return true
	}
	return slices.Contains(a.Zones, zoneID)
}

// ScopeKind tags what a Scope refers to.
type ScopeKind string

// Scope kinds.
const (
	ScopeGlobal ScopeKind = "global"
	ScopeZone   ScopeKind = "zone"
	ScopeCycle  ScopeKind = "cycle"
)

// Scope is the target of an authorisation check.
// Cycle scopes carry the owning zone so zone restrictions apply to them.
type Scope struct {
	Kind   ScopeKind
	ID     string
	ZoneID string
}

// GlobalScope targets catalog-wide operations.
func GlobalScope() Scope {
	return Scope{Kind: ScopeGlobal}
}

// ZoneScope targets a zone.
func ZoneScope(zoneID string) Scope {
	return Scope{Kind: ScopeZone, ID: zoneID, ZoneID: zoneID}
}

// CycleScope targets a grow cycle in a zone.
func CycleScope(cycleID, zoneID string) Scope {
	return Scope{Kind: ScopeCycle, ID: cycleID, ZoneID: zoneID}
}
