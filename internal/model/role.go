package model

// Role is a named membership class. Rules written for a role apply to every
// caller that resolves to it, directly or through MemberOf edges.
type Role struct {
	Name        string   `json:"roleName" yaml:"name" db:"role_name"`
	Description string   `json:"description,omitempty" yaml:"description" db:"description"`
	Source      string   `json:"source,omitempty" yaml:"source" db:"source"`
	MFARequired bool     `json:"mfaRequired,omitempty" yaml:"mfa_required" db:"mfa_required"`
	MemberOf    []string `json:"memberOf,omitempty" yaml:"member_of"`
}

// UserRole assigns a caller token (user id or email) to a role.
type UserRole struct {
	UserID   string `json:"userId" yaml:"user_id" db:"user_id"`
	RoleName string `json:"roleName" yaml:"role_name" db:"role_name"`
}

// Subject prefixes used in rules. A rule subject is either a specific user
// token or a role name.
const (
	UserSubjectPrefix = "user::"
	RoleSubjectPrefix = "role::"
)

// UserSubject returns the rule subject for a caller token.
func UserSubject(token string) string {
	return UserSubjectPrefix + token
}

// RoleSubject returns the rule subject for a role name.
func RoleSubject(role string) string {
	return RoleSubjectPrefix + role
}

// DefaultRootRole is the role that matches every action on every object.
const DefaultRootRole = "super-admin"

// Role sources accepted for role definitions.
const RoleSourceInternal = "INTERNAL_SYSTEM"
