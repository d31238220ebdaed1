package rbac

import "testing"

func TestDerive(t *testing.T) {
	const buyer, seller, stranger int64 = 101, 202, 303

	tests := []struct {
		name      string
		principal int64
		isAdmin   bool
		want      Roles
	}{
		{"buyer", buyer, false, Of(RoleBuyer)},
		{"seller", seller, false, Of(RoleSeller)},
		{"stranger", stranger, false, NoRoles},
		{"admin stranger", stranger, true, Of(RoleAdmin)},
		{"admin buyer", buyer, true, Of(RoleBuyer, RoleAdmin)},
		{"system", SystemPrincipalID, true, Of(RoleSystem)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Derive(tt.principal, buyer, seller, tt.isAdmin)
			if got != tt.want {
				t.Errorf("Derive(%d) = %s, want %s", tt.principal, got, tt.want)
			}
		})
	}
}

func TestRolesIntersects(t *testing.T) {
	if !Of(RoleBuyer).Intersects(Parties) {
		t.Error("buyer should intersect parties")
	}
	if Of(RoleAdmin).Intersects(Parties) {
		t.Error("admin should not intersect parties")
	}
	if NoRoles.Intersects(Parties) {
		t.Error("empty set intersects nothing")
	}
}

func TestCounterparty(t *testing.T) {
	if other, ok := Counterparty(1, 1, 2); !ok || other != 2 {
		t.Errorf("Counterparty(buyer) = %d, %v", other, ok)
	}
	if other, ok := Counterparty(2, 1, 2); !ok || other != 1 {
		t.Errorf("Counterparty(seller) = %d, %v", other, ok)
	}
	if _, ok := Counterparty(3, 1, 2); ok {
		t.Error("stranger has no counterparty")
	}
}

func TestRolesString(t *testing.T) {
	if s := Of(RoleBuyer, RoleAdmin).String(); s != "buyer|admin" {
		t.Errorf("String() = %q", s)
	}
	if s := NoRoles.String(); s != "none" {
		t.Errorf("String() = %q", s)
	}
}
