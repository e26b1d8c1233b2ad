package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Constraint is an administrator-defined mapping from object criteria to
// permissions for groups and users. CriteriaAnd and CriteriaOr are
// themselves AND-combined.
type Constraint struct {
	ID               string            `json:"constraintId" yaml:"id"`
	Name             string            `json:"name" yaml:"name"`
	Description      string            `json:"description,omitempty" yaml:"description"`
	ObjectType       string            `json:"objectType,omitempty" yaml:"object_type"`
	CriteriaAnd      []Criterion       `json:"criteriaAnd,omitempty" yaml:"criteria_and"`
	CriteriaOr       []Criterion       `json:"criteriaOr,omitempty" yaml:"criteria_or"`
	GroupPermissions []GroupPermission `json:"groupPermissions,omitempty" yaml:"group_permissions"`
	UserPermissions  []UserPermission  `json:"userPermissions,omitempty" yaml:"user_permissions"`
}

// constraintAlias avoids recursion in UnmarshalJSON.
type constraintAlias Constraint

// UnmarshalJSON accepts the legacy "criteria" list and folds it into
// CriteriaAnd.
func (c *Constraint) UnmarshalJSON(data []byte) error {
	var raw struct {
		constraintAlias
		Criteria []Criterion `json:"criteria"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = Constraint(raw.constraintAlias)
	c.CriteriaAnd = append(c.CriteriaAnd, raw.Criteria...)
	return nil
}

// HasCriteria reports whether the constraint restricts anything at all.
func (c *Constraint) HasCriteria() bool {
	return len(c.CriteriaAnd) > 0 || len(c.CriteriaOr) > 0
}

// Criterion is a single field/operator/value test.
type Criterion struct {
	ID       string   `json:"id,omitempty" yaml:"id"`
	Field    string   `json:"field" yaml:"field"`
	Operator Operator `json:"operator" yaml:"operator"`
	Value    string   `json:"value" yaml:"value"`
}

// Operator is a criterion comparison operator.
type Operator string

const (
	OpEquals         Operator = "equals"
	OpContains       Operator = "contains"
	OpDoesNotContain Operator = "does_not_contain"
	OpStartsWith     Operator = "starts_with"
	OpEndsWith       Operator = "ends_with"
	OpIsOneOf        Operator = "is_one_of"
	OpIsNotOneOf     Operator = "is_not_one_of"
)

// Valid reports whether op is a known operator.
func (op Operator) Valid() bool {
	switch op {
	case OpEquals, OpContains, OpDoesNotContain, OpStartsWith, OpEndsWith, OpIsOneOf, OpIsNotOneOf:
		return true
	}
	return false
}

// SplitValues splits a delimited multi-value criterion value on commas and
// trims surrounding whitespace from each item. Empty items are dropped.
func SplitValues(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Effect is the outcome a rule contributes when it matches.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// ParseEffect parses a permission type. An empty string means allow.
func ParseEffect(s string) (Effect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "allow":
		return EffectAllow, nil
	case "deny":
		return EffectDeny, nil
	default:
		return "", fmt.Errorf("invalid permission type %q: must be allow or deny", s)
	}
}

// GroupPermission grants a permission on a constraint to a group (role).
// Permission is an action name for object-level decisions or a Level for
// search aggregation.
type GroupPermission struct {
	ID             string `json:"id,omitempty" yaml:"id"`
	GroupID        string `json:"groupId" yaml:"group_id"`
	Permission     string `json:"permission" yaml:"permission"`
	PermissionType string `json:"permissionType,omitempty" yaml:"permission_type"`
}

// UserPermission grants a permission on a constraint to a single user.
type UserPermission struct {
	ID             string `json:"id,omitempty" yaml:"id"`
	UserID         string `json:"userId" yaml:"user_id"`
	Permission     string `json:"permission" yaml:"permission"`
	PermissionType string `json:"permissionType,omitempty" yaml:"permission_type"`
}

// Level is an ordered permission level used for search aggregation buckets.
type Level int

const (
	LevelRead Level = iota + 1
	LevelEdit
	LevelAdmin
)

// Levels returns every level in ascending order.
func Levels() []Level {
	return []Level{LevelRead, LevelEdit, LevelAdmin}
}

// String returns the literal level name consumed downstream.
func (l Level) String() string {
	switch l {
	case LevelRead:
		return "Read"
	case LevelEdit:
		return "Edit"
	case LevelAdmin:
		return "Admin"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// ParseLevel parses an exact level name. Level names are case sensitive.
func ParseLevel(s string) (Level, bool) {
	switch s {
	case "Read":
		return LevelRead, true
	case "Edit":
		return LevelEdit, true
	case "Admin":
		return LevelAdmin, true
	}
	return 0, false
}

// StaticRule is a rule declared directly in policy configuration rather
// than derived from a constraint. When is a textual predicate.
type StaticRule struct {
	Subject string `json:"subject" yaml:"subject"`
	Action  string `json:"action" yaml:"action"`
	Effect  string `json:"effect,omitempty" yaml:"effect"`
	When    string `json:"when" yaml:"when"`
}

// PolicyData is everything fetched from a policy source for one request.
// Invalid lists stored records that were skipped because they could not
// be decoded.
type PolicyData struct {
	Roles       []Role
	UserRoles   []UserRole
	Constraints []Constraint
	Rules       []StaticRule
	Invalid     []InvalidRecord
}

// InvalidRecord identifies a stored record that could not be decoded.
// Kind is constraint, role, rule or user_role.
type InvalidRecord struct {
	Kind string
	ID   string
	Err  error
}

func (r InvalidRecord) Error() string {
	return fmt.Sprintf("%s %s: %v", r.Kind, r.ID, r.Err)
}

func (r InvalidRecord) Unwrap() error { return r.Err }
