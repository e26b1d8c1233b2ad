package policy

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/vamsdb/gatekeeper/internal/model"
	"github.com/vamsdb/gatekeeper/internal/predicate"
)

var (
	errNoObjectType   = errors.New("constraint has no object type")
	errUnknownType    = errors.New("unknown object type")
	errNoSubject      = errors.New("permission has no subject")
	errNoAction       = errors.New("permission has no action")
	errBadRuleSubject = errors.New("rule subject must start with user:: or role::")
)

// Build compiles policy data into a Policy. Data that cannot be compiled,
// including records the source could not decode, is reported as issues
// rather than failing the build, and fails closed:
// a malformed allow rule is dropped, a malformed deny rule is kept with a
// predicate that always matches.
func Build(data model.PolicyData, opts Options) (*Policy, []BuildIssue) {
	root := opts.RootRole
	if root == "" {
		root = model.DefaultRootRole
	}
	p := &Policy{
		rules:    make(map[string][]Rule),
		graph:    NewRoleGraph(data.Roles, data.UserRoles),
		rootRole: root,
	}

	var issues []BuildIssue
	report := func(source string, err error) {
		issues = append(issues, BuildIssue{Source: source, Err: err})
	}

	for _, rec := range data.Invalid {
		report(rec.Kind+":"+rec.ID, rec.Err)
	}

	for _, c := range data.Constraints {
		// Constraints without criteria restrict nothing and grant nothing.
		if !c.HasCriteria() {
			continue
		}
		source := "constraint:" + c.ID
		pred, predErr := constraintPredicate(c)

		for _, gp := range c.GroupPermissions {
			if gp.GroupID == "" {
				report(source, errNoSubject)
				continue
			}
			p.compile(model.RoleSubject(gp.GroupID), gp.Permission, gp.PermissionType, pred, predErr, source, report)
		}
		for _, up := range c.UserPermissions {
			if up.UserID == "" {
				report(source, errNoSubject)
				continue
			}
			p.compile(model.UserSubject(up.UserID), up.Permission, up.PermissionType, pred, predErr, source, report)
		}
	}

	for i, sr := range data.Rules {
		source := "rule:" + strconv.Itoa(i)
		if !strings.HasPrefix(sr.Subject, model.UserSubjectPrefix) && !strings.HasPrefix(sr.Subject, model.RoleSubjectPrefix) {
			report(source, fmt.Errorf("%w: %q", errBadRuleSubject, sr.Subject))
			continue
		}
		pred, predErr := predicate.Parse(sr.When)
		p.compile(sr.Subject, sr.Action, sr.Effect, pred, predErr, source, report)
	}

	return p, issues
}

// compile adds one rule, applying the fail-closed handling of malformed
// effects and predicates.
func (p *Policy) compile(subject, action, effect string, pred predicate.Node, predErr error, source string, report func(string, error)) {
	if action == "" {
		report(source, errNoAction)
		return
	}

	eff, err := model.ParseEffect(effect)
	if err != nil {
		report(source, err)
		eff = model.EffectDeny
	}

	if predErr != nil {
		report(source, predErr)
		if eff != model.EffectDeny {
			return
		}
		pred = predicate.True
	}

	p.add(Rule{
		Subject:   subject,
		Action:    action,
		Effect:    eff,
		Predicate: pred,
		Source:    source,
	})
}

// constraintPredicate builds object__type = T AND <criteria>.
func constraintPredicate(c model.Constraint) (predicate.Node, error) {
	if c.ObjectType == "" {
		return nil, errNoObjectType
	}
	if !model.KnownType(c.ObjectType) {
		return nil, fmt.Errorf("%w %q", errUnknownType, c.ObjectType)
	}

	criteria, err := predicate.FromCriteria(c.CriteriaAnd, c.CriteriaOr)
	if err != nil {
		return nil, err
	}
	typ := predicate.Eq{Field: model.FieldType, Value: model.NormalizeType(c.ObjectType)}
	return predicate.And{typ, criteria}, nil
}
