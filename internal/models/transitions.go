package models

import "github.com/pw-escrow/backend/internal/rbac"

// Action names a transition trigger. Its literal is the target state.
type Action string

const (
	ActionFormSubmitted    Action = Action(StateFormSubmitted)
	ActionAgreementPreview Action = Action(StateAgreementPreview)
	ActionAgreed           Action = Action(StateAgreed)
	ActionFunded           Action = Action(StateFunded)
	ActionDelivered        Action = Action(StateDelivered)
	ActionReleaseRequested Action = Action(StateReleaseRequested)
	ActionReleaseConfirmed Action = Action(StateReleaseConfirmed)
	ActionCompleted        Action = Action(StateCompleted)
	ActionDisputed         Action = Action(StateDisputed)
	ActionCancelled        Action = Action(StateCancelled)
	ActionExpired          Action = Action(StateExpired)
)

func (a Action) Target() EscrowState {
	return EscrowState(a)
}

// Valid reports whether a names at least one edge of the transition table.
func (a Action) Valid() bool {
	return len(EdgesFor(a)) > 0
}

// Edge is one legal transition: Action may fire from From when the caller
// holds one of Roles. Mutual edges commit only once both parties consented.
type Edge struct {
	Action Action
	From   EscrowState
	Roles  rbac.Roles
	Mutual bool
}

var (
	parties      = rbac.Parties
	admin        = rbac.Of(rbac.RoleAdmin)
	buyer        = rbac.Of(rbac.RoleBuyer)
	system       = rbac.Of(rbac.RoleSystem)
	partiesAdmin = rbac.Parties | rbac.Of(rbac.RoleAdmin)
)

// preFunding and postFunding split the non-terminal happy path at FUNDED.
var (
	preFunding  = []EscrowState{StateCreated, StateFormSubmitted, StateAgreementPreview, StateAgreed}
	postFunding = []EscrowState{StateFunded, StateDelivered, StateReleaseRequested, StateReleaseConfirmed}
)

// EscrowEdges is the complete transition table.
var EscrowEdges = buildEdges()

func buildEdges() []Edge {
	edges := []Edge{
		{Action: ActionFormSubmitted, From: StateCreated, Roles: parties},
		{Action: ActionAgreementPreview, From: StateFormSubmitted, Roles: parties},
		{Action: ActionAgreed, From: StateAgreementPreview, Roles: parties, Mutual: true},
		{Action: ActionFunded, From: StateAgreed, Roles: admin},
		{Action: ActionDelivered, From: StateFunded, Roles: buyer},
		{Action: ActionReleaseRequested, From: StateDelivered, Roles: parties},
		{Action: ActionReleaseConfirmed, From: StateReleaseRequested, Roles: partiesAdmin},
		{Action: ActionCompleted, From: StateReleaseConfirmed, Roles: admin},
		{Action: ActionCompleted, From: StateDisputed, Roles: admin},
		{Action: ActionCancelled, From: StateDisputed, Roles: admin},
	}
	for _, from := range postFunding {
		edges = append(edges, Edge{Action: ActionDisputed, From: from, Roles: parties})
		edges = append(edges, Edge{Action: ActionCancelled, From: from, Roles: parties, Mutual: true})
	}
	for _, from := range preFunding {
		edges = append(edges, Edge{Action: ActionCancelled, From: from, Roles: parties})
	}
	for _, from := range ExpirableStates() {
		edges = append(edges, Edge{Action: ActionExpired, From: from, Roles: system})
	}
	return edges
}

// ExpirableStates are the states an elapsed delivery deadline can expire.
func ExpirableStates() []EscrowState {
	return append(append([]EscrowState{}, preFunding...), StateFunded)
}

// FindEdge returns the edge for action fired from state.
func FindEdge(action Action, from EscrowState) (Edge, bool) {
	for _, e := range EscrowEdges {
		if e.Action == action && e.From == from {
			return e, true
		}
	}
	return Edge{}, false
}

func EdgesFor(action Action) []Edge {
	var out []Edge
	for _, e := range EscrowEdges {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

// ActionRoles is the union of roles that may fire action from any state.
func ActionRoles(action Action) rbac.Roles {
	var set rbac.Roles
	for _, e := range EdgesFor(action) {
		set |= e.Roles
	}
	return set
}

// OfferableEdges lists the edges leaving state, in table order.
func OfferableEdges(state EscrowState) []Edge {
	var out []Edge
	for _, e := range EscrowEdges {
		if e.From == state {
			out = append(out, e)
		}
	}
	return out
}

func IsValidTransition(from, to EscrowState) bool {
	_, ok := FindEdge(Action(to), from)
	return ok
}
