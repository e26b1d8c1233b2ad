package policy

import (
	"slices"

	"github.com/vamsdb/gatekeeper/internal/model"
)

// RoleSet is a set of role names.
type RoleSet map[string]struct{}

// Has reports whether name is in the set.
func (s RoleSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Slice returns the role names in sorted order.
func (s RoleSet) Slice() []string {
	out := make([]string, 0, len(s))
	for name := range s {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// RoleGraph holds role definitions, their "member of" edges and direct
// user assignments.
type RoleGraph struct {
	parents     map[string][]string
	mfaRequired map[string]bool
	assignments map[string][]string // token -> role names
}

// NewRoleGraph indexes roles and user assignments.
func NewRoleGraph(roles []model.Role, assignments []model.UserRole) *RoleGraph {
	g := &RoleGraph{
		parents:     make(map[string][]string, len(roles)),
		mfaRequired: make(map[string]bool, len(roles)),
		assignments: make(map[string][]string),
	}
	for _, r := range roles {
		if r.Name == "" {
			continue
		}
		g.parents[r.Name] = append(g.parents[r.Name], r.MemberOf...)
		if r.MFARequired {
			g.mfaRequired[r.Name] = true
		}
	}
	for _, a := range assignments {
		if a.UserID == "" || a.RoleName == "" {
			continue
		}
		g.assignments[a.UserID] = append(g.assignments[a.UserID], a.RoleName)
	}
	return g
}

// Resolve returns every role the identity holds: its direct assignments
// and asserted roles, plus everything reachable through "member of" edges.
// Roles that require MFA are skipped, along with their ancestors reached
// only through them, when the identity did not authenticate with MFA.
// Cycles in the graph terminate.
func (g *RoleGraph) Resolve(id model.Identity) RoleSet {
	var queue []string
	for _, tok := range id.Tokens() {
		queue = append(queue, g.assignments[tok]...)
	}
	queue = append(queue, id.Roles()...)

	set := make(RoleSet, len(queue))
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]

		if name == "" || set.Has(name) {
			continue
		}
		if g.mfaRequired[name] && !id.MFA() {
			continue
		}
		set[name] = struct{}{}
		queue = append(queue, g.parents[name]...)
	}
	return set
}

// Roles returns the names of every defined role in sorted order.
func (g *RoleGraph) Roles() []string {
	out := make([]string, 0, len(g.parents))
	for name := range g.parents {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Parents returns the direct "member of" edges of a role.
func (g *RoleGraph) Parents(name string) []string {
	return slices.Clone(g.parents[name])
}
