// Package service ties policy sources to the decision points. An
// Authorizer loads policy data once per request and hands back a Session
// that answers every authorization question for that request.
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/vamsdb/gatekeeper/internal/model"
	"github.com/vamsdb/gatekeeper/internal/policy"
	"github.com/vamsdb/gatekeeper/internal/search"
	"github.com/vamsdb/gatekeeper/internal/store"
)

// Authorizer builds request sessions from a policy source.
type Authorizer struct {
	source   store.Source
	rootRole string
	logger   *slog.Logger
}

// NewAuthorizer creates an Authorizer. An empty rootRole selects
// model.DefaultRootRole; a nil logger discards output.
func NewAuthorizer(source store.Source, rootRole string, logger *slog.Logger) *Authorizer {
	if rootRole == "" {
		rootRole = model.DefaultRootRole
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Authorizer{source: source, rootRole: rootRole, logger: logger}
}

// RootRole returns the role that bypasses all checks.
func (a *Authorizer) RootRole() string { return a.rootRole }

// Policy loads and compiles the policy for the given users. With no users
// every role assignment is loaded.
func (a *Authorizer) Policy(ctx context.Context, userIDs ...string) (*policy.Policy, []model.Constraint, []policy.BuildIssue, error) {
	data, err := store.Load(ctx, a.source, userIDs...)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load policy: %w", err)
	}
	p, issues := policy.Build(data, policy.Options{RootRole: a.rootRole})
	return p, data.Constraints, issues, nil
}

// Session loads the policy relevant to id. The returned Session is
// read-only and may be shared by handlers serving the same request.
func (a *Authorizer) Session(ctx context.Context, id model.Identity) (*Session, error) {
	p, constraints, issues, err := a.Policy(ctx, id.Tokens()...)
	if err != nil {
		return nil, err
	}
	for _, issue := range issues {
		a.logger.Warn("policy rule excluded", "source", issue.Source, "error", issue.Err)
	}
	for _, c := range constraints {
		if err := search.Renderable(c); err != nil {
			a.logger.Warn("constraint excluded from search", "constraint", c.ID, "error", err)
		}
	}

	return &Session{
		identity:    id,
		policy:      p,
		constraints: constraints,
		roles:       p.Resolve(id),
		logger:      a.logger.With("user", id.Primary()),
	}, nil
}

// Session answers authorization questions for one identity.
type Session struct {
	identity    model.Identity
	policy      *policy.Policy
	constraints []model.Constraint
	roles       policy.RoleSet
	logger      *slog.Logger
}

// Identity returns the caller.
func (s *Session) Identity() model.Identity { return s.identity }

// Roles returns the caller's resolved roles, sorted.
func (s *Session) Roles() []string { return s.roles.Slice() }

// Root reports whether the caller holds the root role.
func (s *Session) Root() bool {
	return !s.identity.Empty() && s.policy.IsRoot(s.roles)
}

// Groups returns the caller tokens followed by the resolved roles.
func (s *Session) Groups() []string {
	groups := s.identity.Tokens()
	for _, r := range s.roles.Slice() {
		if !slices.Contains(groups, r) {
			groups = append(groups, r)
		}
	}
	return groups
}

// Decide evaluates action on obj.
func (s *Session) Decide(obj model.Object, action string) policy.Decision {
	d := s.policy.Decide(s.identity, obj, action)
	if !d.Allowed {
		s.logger.Debug("denied", "action", action, "object_type", obj.Type(), "reason", d.Reason)
	}
	return d
}

// Enforce reports whether the caller may perform action on obj.
func (s *Session) Enforce(obj model.Object, action string) bool {
	return s.Decide(obj, action).Allowed
}

// Require returns an *policy.UnauthorizedError when action on obj is
// denied.
func (s *Session) Require(obj model.Object, action string) error {
	err := s.Decide(obj, action).Err(s.identity, obj, action)
	if ue, ok := err.(*policy.UnauthorizedError); ok {
		s.logger.Info("unauthorized", "detail", ue.Internal())
	}
	return err
}

// DecideAPI evaluates a call to method on path.
func (s *Session) DecideAPI(method, path string) policy.Decision {
	d := s.policy.DecideAPI(s.identity, method, path)
	if !d.Allowed {
		s.logger.Debug("route denied", "method", method, "path", path, "reason", d.Reason)
	}
	return d
}

// EnforceAPI reports whether the caller may call method on path.
func (s *Session) EnforceAPI(method, path string) bool {
	return s.DecideAPI(method, path).Allowed
}

// AllowedRoutes filters routes to those the caller may navigate to.
func (s *Session) AllowedRoutes(routes []model.WebRoute) []model.WebRoute {
	return s.policy.AllowedRoutes(s.identity, routes)
}

// Filter returns the search filter for the caller. A nil filter means the
// caller is unrestricted.
func (s *Session) Filter() *search.Filter {
	if s.identity.Empty() {
		return &search.Filter{MatchNone: true}
	}
	return search.CompileFilter(s.constraints, s.Groups(), s.Root())
}

// Aggregations returns the permission-bucketed aggregation for the caller.
func (s *Session) Aggregations() search.Buckets {
	if s.identity.Empty() {
		return search.CompileAggregations(nil, nil)
	}
	return search.CompileAggregations(s.constraints, s.Groups())
}
