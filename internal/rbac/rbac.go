package rbac

import "strings"

// SystemPrincipalID is the principal used by background jobs (expiry sweep).
// Telegram never issues id 0, so it cannot collide with a real user.
const SystemPrincipalID int64 = 0

// Role is a single escrow role. Roles are never stored; they are derived per
// request by comparing the principal against the escrow's parties.
type Role uint8

const (
	RoleBuyer Role = 1 << iota
	RoleSeller
	RoleAdmin
	RoleSystem
)

// Roles is a set of Role values.
type Roles uint8

const (
	NoRoles Roles = 0
	Parties       = Roles(RoleBuyer) | Roles(RoleSeller)
)

func Of(roles ...Role) Roles {
	var set Roles
	for _, r := range roles {
		set |= Roles(r)
	}
	return set
}

func (s Roles) Has(r Role) bool {
	return s&Roles(r) != 0
}

// Intersects reports whether any role of s is in other.
func (s Roles) Intersects(other Roles) bool {
	return s&other != 0
}

func (s Roles) Empty() bool {
	return s == NoRoles
}

func (s Roles) String() string {
	if s.Empty() {
		return "none"
	}
	var names []string
	for _, r := range []Role{RoleBuyer, RoleSeller, RoleAdmin, RoleSystem} {
		if s.Has(r) {
			names = append(names, r.String())
		}
	}
	return strings.Join(names, "|")
}

func (r Role) String() string {
	switch r {
	case RoleBuyer:
		return "buyer"
	case RoleSeller:
		return "seller"
	case RoleAdmin:
		return "admin"
	case RoleSystem:
		return "system"
	}
	return "unknown"
}

// Derive computes the roles a principal holds on one escrow. It is a pure
// lookup: callers must derive again for every request instead of caching.
func Derive(principalID, buyerID, sellerID int64, isAdmin bool) Roles {
	if principalID == SystemPrincipalID {
		return Of(RoleSystem)
	}
	var set Roles
	if principalID == buyerID {
		set |= Roles(RoleBuyer)
	}
	if principalID == sellerID {
		set |= Roles(RoleSeller)
	}
	if isAdmin {
		set |= Roles(RoleAdmin)
	}
	return set
}

// Counterparty returns the other party of a two-party deal, or false when the
// principal is not a party.
func Counterparty(principalID, buyerID, sellerID int64) (int64, bool) {
	switch principalID {
	case buyerID:
		return sellerID, true
	case sellerID:
		return buyerID, true
	}
	return 0, false
}
