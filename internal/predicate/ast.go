// Package predicate implements the typed object predicates evaluated by the
// decision point. Predicates are built either from constraint criteria or by
// parsing the textual rule language used in policy files; both produce the
// same small AST, evaluated against a model.Object without any dynamic code
// execution.
//
// A field missing from the object evaluates as the empty string.
package predicate

import (
	"regexp"
	"slices"
	"strings"

	"github.com/vamsdb/gatekeeper/internal/model"
)

// Node is a predicate over an object.
type Node interface {
	Eval(obj model.Object) bool
	String() string
}

// items returns the values of field, treating a missing field as "".
func items(obj model.Object, field string) []string {
	v, ok := obj.Get(field)
	if !ok {
		return []string{""}
	}
	return v.Items()
}

// Eq matches when the field (or any list element) equals Value.
type Eq struct {
	Field string
	Value string
}

func (n Eq) Eval(obj model.Object) bool {
	return slices.Contains(items(obj, n.Field), n.Value)
}

func (n Eq) String() string {
	return n.Field + " = " + quote(n.Value)
}

// In matches when the field (or any list element) is one of Values.
type In struct {
	Field  string
	Values []string
}

func (n In) Eval(obj model.Object) bool {
	for _, v := range items(obj, n.Field) {
		if slices.Contains(n.Values, v) {
			return true
		}
	}
	return false
}

func (n In) String() string {
	quoted := make([]string, len(n.Values))
	for i, v := range n.Values {
		quoted[i] = quote(v)
	}
	return n.Field + " IN (" + strings.Join(quoted, ", ") + ")"
}

// Match matches when the field (or any list element) contains a match of
// Pattern.
type Match struct {
	Field   string
	Pattern *regexp.Regexp
}

func (n Match) Eval(obj model.Object) bool {
	for _, v := range items(obj, n.Field) {
		if n.Pattern.MatchString(v) {
			return true
		}
	}
	return false
}

func (n Match) String() string {
	return n.Field + " MATCHES " + quote(n.Pattern.String())
}

// And matches when every child matches. An empty And matches.
type And []Node

func (n And) Eval(obj model.Object) bool {
	for _, c := range n {
		if !c.Eval(obj) {
			return false
		}
	}
	return true
}

func (n And) String() string { return join(n, " AND ") }

// Or matches when any child matches. An empty Or does not match.
type Or []Node

func (n Or) Eval(obj model.Object) bool {
	for _, c := range n {
		if c.Eval(obj) {
			return true
		}
	}
	return false
}

func (n Or) String() string { return join(n, " OR ") }

// Not inverts its child.
type Not struct {
	X Node
}

func (n Not) Eval(obj model.Object) bool { return !n.X.Eval(obj) }

func (n Not) String() string { return "NOT " + n.X.String() }

// Const is a constant predicate.
type Const bool

const (
	True  Const = true
	False Const = false
)

func (n Const) Eval(model.Object) bool { return bool(n) }

func (n Const) String() string {
	if n {
		return "TRUE"
	}
	return "FALSE"
}

func join(nodes []Node, sep string) string {
	parts := make([]string, len(nodes))
	for i, c := range nodes {
		parts[i] = c.String()
	}
	return "(" + strings.Join(parts, sep) + ")"
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
