// Package policy compiles constraints, roles and static rules into a Policy
// and answers object-level and route-level authorization questions against
// it. A Policy is immutable once built and safe for concurrent use.
package policy

import (
	"fmt"
	"slices"

	"github.com/vamsdb/gatekeeper/internal/model"
	"github.com/vamsdb/gatekeeper/internal/predicate"
)

// Options configures policy compilation.
type Options struct {
	// RootRole matches every action on every object. Defaults to
	// model.DefaultRootRole.
	RootRole string
}

// Rule is one compiled authorization rule: subject may (or may not) perform
// action on objects satisfying Predicate.
type Rule struct {
	Subject   string
	Action    string
	Effect    model.Effect
	Predicate predicate.Node
	// Source names where the rule came from, e.g. "constraint:c1".
	Source string
}

func (r Rule) String() string {
	return fmt.Sprintf("%s %s %s when %s [%s]", r.Effect, r.Subject, r.Action, r.Predicate, r.Source)
}

// BuildIssue reports policy data that could not be compiled as written.
type BuildIssue struct {
	Source string
	Err    error
}

func (i BuildIssue) Error() string {
	return i.Source + ": " + i.Err.Error()
}

func (i BuildIssue) Unwrap() error { return i.Err }

// Policy is a compiled set of rules plus the role graph used to resolve
// callers.
type Policy struct {
	rules    map[string][]Rule // keyed by subject
	count    int
	graph    *RoleGraph
	rootRole string
}

// RootRole returns the configured root role name.
func (p *Policy) RootRole() string { return p.rootRole }

// Graph returns the role graph.
func (p *Policy) Graph() *RoleGraph { return p.graph }

// Len returns the number of compiled rules.
func (p *Policy) Len() int { return p.count }

// Rules returns every compiled rule ordered by subject.
func (p *Policy) Rules() []Rule {
	subjects := make([]string, 0, len(p.rules))
	for s := range p.rules {
		subjects = append(subjects, s)
	}
	slices.Sort(subjects)

	out := make([]Rule, 0, p.count)
	for _, s := range subjects {
		out = append(out, p.rules[s]...)
	}
	return out
}

// Resolve returns the transitive role set of the identity.
func (p *Policy) Resolve(id model.Identity) RoleSet {
	return p.graph.Resolve(id)
}

// IsRoot reports whether the resolved roles include the root role.
func (p *Policy) IsRoot(roles RoleSet) bool {
	return roles.Has(p.rootRole)
}

func (p *Policy) add(r Rule) {
	p.rules[r.Subject] = append(p.rules[r.Subject], r)
	p.count++
}
