package models

import (
	"testing"

	"github.com/pw-escrow/backend/internal/rbac"
)

func TestIsValidTransition(t *testing.T) {
	tests := []struct {
		from     EscrowState
		to       EscrowState
		expected bool
	}{
		// Happy path
		{StateCreated, StateFormSubmitted, true},
		{StateFormSubmitted, StateAgreementPreview, true},
		{StateAgreementPreview, StateAgreed, true},
		{StateAgreed, StateFunded, true},
		{StateFunded, StateDelivered, true},
		{StateDelivered, StateReleaseRequested, true},
		{StateReleaseRequested, StateReleaseConfirmed, true},
		{StateReleaseConfirmed, StateCompleted, true},

		// Disputes
		{StateFunded, StateDisputed, true},
		{StateDelivered, StateDisputed, true},
		{StateReleaseRequested, StateDisputed, true},
		{StateReleaseConfirmed, StateDisputed, true},
		{StateDisputed, StateCompleted, true},
		{StateDisputed, StateCancelled, true},

		// Cancellation paths
		{StateCreated, StateCancelled, true},
		{StateAgreed, StateCancelled, true},
		{StateFunded, StateCancelled, true},
		{StateReleaseConfirmed, StateCancelled, true},

		// Expiry
		{StateCreated, StateExpired, true},
		{StateFunded, StateExpired, true},
		{StateDelivered, StateExpired, false},
		{StateDisputed, StateExpired, false},

		// Invalid transitions
		{StateCreated, StateFunded, false},
		{StateCreated, StateReleaseConfirmed, false},
		{StateAgreed, StateDisputed, false},
		{StateDisputed, StateReleaseConfirmed, false},
		{StateCompleted, StateCancelled, false},
		{StateCancelled, StateCreated, false},
		{StateExpired, StateFunded, false},
		{"nonexistent", StateFormSubmitted, false},
		{StateCreated, "nonexistent", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			result := IsValidTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("IsValidTransition(%q, %q) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestTerminalStatesHaveNoEdges(t *testing.T) {
	for _, s := range []EscrowState{StateCompleted, StateCancelled, StateExpired} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
		if edges := OfferableEdges(s); len(edges) != 0 {
			t.Errorf("terminal state %q should have no edges, got %v", s, edges)
		}
	}
}

func TestEveryNonTerminalStateHasAnExit(t *testing.T) {
	for _, s := range AllEscrowStates {
		if s.IsTerminal() {
			continue
		}
		if len(OfferableEdges(s)) == 0 {
			t.Errorf("non-terminal state %q has no outgoing edge", s)
		}
	}
}

func TestEveryEdgeIsWellFormed(t *testing.T) {
	seen := map[string]bool{}
	for _, e := range EscrowEdges {
		if !e.From.Valid() || !e.Action.Target().Valid() {
			t.Errorf("edge %v references unknown state", e)
		}
		if e.Roles.Empty() {
			t.Errorf("edge %v has no roles", e)
		}
		key := string(e.Action) + "@" + string(e.From)
		if seen[key] {
			t.Errorf("duplicate edge %s", key)
		}
		seen[key] = true
	}
}

func TestEdgeRoles(t *testing.T) {
	tests := []struct {
		action Action
		from   EscrowState
		roles  rbac.Roles
		mutual bool
	}{
		{ActionDelivered, StateFunded, rbac.Of(rbac.RoleBuyer), false},
		{ActionFunded, StateAgreed, rbac.Of(rbac.RoleAdmin), false},
		{ActionAgreed, StateAgreementPreview, rbac.Parties, true},
		{ActionCancelled, StateAgreed, rbac.Parties, false},
		{ActionCancelled, StateFunded, rbac.Parties, true},
		{ActionCancelled, StateDisputed, rbac.Of(rbac.RoleAdmin), false},
		{ActionExpired, StateFunded, rbac.Of(rbac.RoleSystem), false},
	}
	for _, tt := range tests {
		edge, ok := FindEdge(tt.action, tt.from)
		if !ok {
			t.Fatalf("missing edge %s from %s", tt.action, tt.from)
		}
		if edge.Roles != tt.roles || edge.Mutual != tt.mutual {
			t.Errorf("edge %s from %s = %s mutual=%v, want %s mutual=%v",
				tt.action, tt.from, edge.Roles, edge.Mutual, tt.roles, tt.mutual)
		}
	}
}

func TestActionValid(t *testing.T) {
	if Action(StateCreated).Valid() {
		t.Error("CREATED is not a trigger")
	}
	if !ActionReleaseConfirmed.Valid() {
		t.Error("RELEASE_CONFIRMED is a trigger")
	}
	if Action("agree_buyer").Valid() {
		t.Error("unknown action must not be valid")
	}
}
