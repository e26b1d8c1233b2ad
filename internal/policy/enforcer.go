package policy

import (
	"maps"
	"strings"

	"github.com/vamsdb/gatekeeper/internal/model"
)

// Reason describes why a decision was reached.
type Reason string

const (
	ReasonNoIdentity   Reason = "no identity"
	ReasonRoot         Reason = "root role"
	ReasonUnknownType  Reason = "unknown object type"
	ReasonNoMatch      Reason = "no matching rule"
	ReasonExplicitDeny Reason = "explicit deny"
	ReasonAllowed      Reason = "allowed"
)

// Decision is the outcome of an authorization check together with the
// rule that produced it, if any.
type Decision struct {
	Allowed bool
	Reason  Reason
	// Rule is the matching deny rule for explicit denials and the first
	// matching allow rule otherwise. Nil when no rule matched.
	Rule *Rule
	// Roles is the caller's resolved role set.
	Roles RoleSet
}

// Err returns nil for allowed decisions and an *UnauthorizedError
// otherwise.
func (d Decision) Err(id model.Identity, obj model.Object, action string) error {
	if d.Allowed {
		return nil
	}
	return Forbidden(d, id.Primary(), action, obj.Type())
}

// Enforce reports whether the identity may perform action on obj.
func (p *Policy) Enforce(id model.Identity, obj model.Object, action string) bool {
	return p.Decide(id, obj, action).Allowed
}

// Decide evaluates the identity against the policy. Evaluation order:
//  1. An identity with no tokens is denied.
//  2. A caller holding the root role is allowed.
//  3. Objects of an unknown type are denied.
//  4. Rules for the caller's tokens and resolved roles with a matching
//     action are evaluated; any matching deny wins.
//  5. Otherwise a matching allow allows, and no match denies.
func (p *Policy) Decide(id model.Identity, obj model.Object, action string) Decision {
	if id.Empty() {
		return Decision{Reason: ReasonNoIdentity}
	}

	roles := p.graph.Resolve(id)
	if p.IsRoot(roles) {
		return Decision{Allowed: true, Reason: ReasonRoot, Roles: roles}
	}

	typ := obj.Type()
	if !model.KnownType(typ) {
		return Decision{Reason: ReasonUnknownType, Roles: roles}
	}
	if raw := obj[model.FieldType].Str(); raw != typ {
		obj = maps.Clone(obj)
		obj[model.FieldType] = model.String(typ)
	}

	subjects := make([]string, 0, len(roles)+2)
	for _, tok := range id.Tokens() {
		subjects = append(subjects, model.UserSubject(tok))
	}
	for _, name := range roles.Slice() {
		subjects = append(subjects, model.RoleSubject(name))
	}

	var allow *Rule
	for _, subject := range subjects {
		rules := p.rules[subject]
		for i := range rules {
			r := &rules[i]
			if r.Action != action || !r.Predicate.Eval(obj) {
				continue
			}
			if r.Effect == model.EffectDeny {
				return Decision{Reason: ReasonExplicitDeny, Rule: r, Roles: roles}
			}
			if allow == nil {
				allow = r
			}
		}
	}
	if allow == nil {
		return Decision{Reason: ReasonNoMatch, Roles: roles}
	}
	return Decision{Allowed: true, Reason: ReasonAllowed, Rule: allow, Roles: roles}
}

// EnforceAPI reports whether the identity may call the HTTP route. The
// route is evaluated as an object of type route with the upper-cased
// method as the action.
func (p *Policy) EnforceAPI(id model.Identity, method, path string) bool {
	return p.DecideAPI(id, method, path).Allowed
}

// DecideAPI is the Decision form of EnforceAPI.
func (p *Policy) DecideAPI(id model.Identity, method, path string) Decision {
	method = strings.ToUpper(method)
	return p.Decide(id, model.RouteObject(method, path), method)
}

// AllowedRoutes filters web navigation routes down to those the identity
// may open. A route without a method is checked as GET.
func (p *Policy) AllowedRoutes(id model.Identity, routes []model.WebRoute) []model.WebRoute {
	out := make([]model.WebRoute, 0, len(routes))
	for _, r := range routes {
		action := strings.ToUpper(r.Method)
		if action == "" {
			action = "GET"
		}
		if p.Enforce(id, r.Object(), action) {
			out = append(out, r)
		}
	}
	return out
}
