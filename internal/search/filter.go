// Package search compiles constraints into OpenSearch query_string filters
// and permission-bucketed aggregations. It never talks to a search engine
// itself; callers embed the returned JSON in their requests.
package search

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/vamsdb/gatekeeper/internal/model"
)

var (
	errNoCriteria = errors.New("constraint has no criteria")
	errOperator   = errors.New("operator not supported in search filters")
	errNoValues   = errors.New("criterion lists no values")
)

// Filter is a compiled search filter. The zero value is never returned;
// a nil *Filter means no filter applies.
type Filter struct {
	// QueryString is the query_string query. Empty when MatchNone is set.
	QueryString string
	// MatchNone is set when the caller may see nothing.
	MatchNone bool
}

type queryString struct {
	Query string `json:"query"`
}

// MarshalJSON renders {"query_string":{"query":"..."}} or {"match_none":{}}.
func (f *Filter) MarshalJSON() ([]byte, error) {
	if f.MatchNone {
		return []byte(`{"match_none":{}}`), nil
	}
	return marshal(map[string]queryString{"query_string": {Query: f.QueryString}})
}

// Query wraps the filter in a search request body: {"query": <filter>}.
// A nil filter yields nil.
func (f *Filter) Query() map[string]any {
	if f == nil {
		return nil
	}
	return map[string]any{"query": f}
}

// CompileFilter restricts a search to the documents the caller may see.
// Constraints apply when one of their allow group permissions names one of
// groups. Root callers get a nil filter, callers with no applicable
// constraint get a filter that matches nothing.
func CompileFilter(constraints []model.Constraint, groups []string, root bool) *Filter {
	if root {
		return nil
	}
	q := render(applicable(constraints, groupSet(groups), nil))
	if q == "" {
		return &Filter{MatchNone: true}
	}
	return &Filter{QueryString: q}
}

// Renderable reports why a constraint cannot be compiled into a search
// filter, or nil if it can. Constraints that fail are left out of every
// filter and aggregation.
func Renderable(c model.Constraint) error {
	if !c.HasCriteria() {
		return errNoCriteria
	}
	for _, cr := range append(append([]model.Criterion{}, c.CriteriaAnd...), c.CriteriaOr...) {
		switch cr.Operator {
		case model.OpContains, model.OpDoesNotContain:
		case model.OpIsOneOf, model.OpIsNotOneOf:
			if len(model.SplitValues(cr.Value)) == 0 {
				return fmt.Errorf("%w: %s on field %s", errNoValues, cr.Operator, cr.Field)
			}
		default:
			return fmt.Errorf("%w: %q on field %s", errOperator, cr.Operator, cr.Field)
		}
	}
	return nil
}

// applicable returns the renderable constraints granted to groups through
// an allow permission. When level is non-nil only grants of that level
// count.
func applicable(constraints []model.Constraint, groups map[string]bool, level *model.Level) []model.Constraint {
	var out []model.Constraint
	for _, c := range constraints {
		if Renderable(c) != nil {
			continue
		}
		for _, gp := range c.GroupPermissions {
			if !groups[gp.GroupID] {
				continue
			}
			if eff, err := model.ParseEffect(gp.PermissionType); err != nil || eff != model.EffectAllow {
				continue
			}
			if level != nil {
				if l, ok := model.ParseLevel(gp.Permission); !ok || l != *level {
					continue
				}
			}
			out = append(out, c)
			break
		}
	}
	return out
}

// render joins constraints with " OR ", each constraint wrapped in
// parentheses with its terms joined by " AND ".
func render(constraints []model.Constraint) string {
	parts := make([]string, 0, len(constraints))
	for _, c := range constraints {
		terms := make([]string, 0, len(c.CriteriaAnd)+1)
		for _, cr := range c.CriteriaAnd {
			terms = append(terms, term(cr))
		}
		if len(c.CriteriaOr) > 0 {
			alts := make([]string, 0, len(c.CriteriaOr))
			for _, cr := range c.CriteriaOr {
				alts = append(alts, term(cr))
			}
			terms = append(terms, "("+strings.Join(alts, " OR ")+")")
		}
		parts = append(parts, "("+strings.Join(terms, " AND ")+")")
	}
	return strings.Join(parts, " OR ")
}

func term(cr model.Criterion) string {
	switch cr.Operator {
	case model.OpContains:
		return cr.Field + ":(" + cr.Value + ")"
	case model.OpDoesNotContain:
		return "-" + cr.Field + ":(" + cr.Value + ")"
	case model.OpIsOneOf:
		return oneOf(cr)
	case model.OpIsNotOneOf:
		return "-" + oneOf(cr)
	}
	return ""
}

func oneOf(cr model.Criterion) string {
	values := model.SplitValues(cr.Value)
	for i, v := range values {
		values[i] = `"` + v + `"`
	}
	return cr.Field + ":(" + strings.Join(values, " OR ") + ")"
}

func groupSet(groups []string) map[string]bool {
	set := make(map[string]bool, len(groups))
	for _, g := range groups {
		set[g] = true
	}
	return set
}

// marshal encodes v without HTML escaping so query text is emitted as is.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Marshal encodes a filter, query or aggregation body for sending.
func Marshal(v any) ([]byte, error) {
	return marshal(v)
}
