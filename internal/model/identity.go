package model

import (
	"maps"
	"slices"
)

// Identity describes a caller for the duration of one request. Tokens are
// equivalent names for the same caller (user id, email); Roles are role
// names asserted by the identity provider. An Identity is never mutated
// after construction.
type Identity struct {
	tokens     []string
	roles      []string
	mfa        bool
	attributes map[string]string
}

// NewIdentity builds an Identity, copying its inputs. Empty tokens and
// duplicate entries are dropped.
func NewIdentity(tokens, roles []string, mfa bool, attributes map[string]string) Identity {
	return Identity{
		tokens:     compact(tokens),
		roles:      compact(roles),
		mfa:        mfa,
		attributes: maps.Clone(attributes),
	}
}

// Tokens returns a copy of the caller tokens.
func (id Identity) Tokens() []string { return slices.Clone(id.tokens) }

// Roles returns a copy of the asserted role names.
func (id Identity) Roles() []string { return slices.Clone(id.roles) }

// MFA reports whether the caller authenticated with multi-factor auth.
func (id Identity) MFA() bool { return id.mfa }

// Attribute returns an opaque external attribute.
func (id Identity) Attribute(key string) (string, bool) {
	v, ok := id.attributes[key]
	return v, ok
}

// Empty reports whether the identity carries no tokens. An empty identity
// is denied every action.
func (id Identity) Empty() bool { return len(id.tokens) == 0 }

// Primary returns the first token, used for logging.
func (id Identity) Primary() string {
	if len(id.tokens) == 0 {
		return ""
	}
	return id.tokens[0]
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
