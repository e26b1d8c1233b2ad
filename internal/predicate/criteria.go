package predicate

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/vamsdb/gatekeeper/internal/model"
)

// ErrUnknownOperator is returned for criteria with an operator outside the
// supported set.
var ErrUnknownOperator = errors.New("unknown criterion operator")

// FromCriterion converts a constraint criterion into a predicate. Criterion
// values are regular expressions; is_one_of and is_not_one_of take a
// comma-separated list of literal values.
func FromCriterion(c model.Criterion) (Node, error) {
	if err := ValidateField(c.Field); err != nil {
		return nil, err
	}

	var pattern string
	switch c.Operator {
	case model.OpEquals:
		pattern = "^(?:" + c.Value + ")$"
	case model.OpContains, model.OpDoesNotContain:
		pattern = c.Value
	case model.OpStartsWith:
		pattern = "^(?:" + c.Value + ")"
	case model.OpEndsWith:
		pattern = "(?:" + c.Value + ")$"
	case model.OpIsOneOf:
		return In{Field: c.Field, Values: model.SplitValues(c.Value)}, nil
	case model.OpIsNotOneOf:
		return Not{X: In{Field: c.Field, Values: model.SplitValues(c.Value)}}, nil
	default:
		return nil, fmt.Errorf("%w %q on field %s", ErrUnknownOperator, c.Operator, c.Field)
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid value for %s %s: %w", c.Field, c.Operator, err)
	}
	node := Match{Field: c.Field, Pattern: re}
	if c.Operator == model.OpDoesNotContain {
		return Not{X: node}, nil
	}
	return node, nil
}

// FromCriteria combines AND and OR criteria groups into one predicate:
// every criterion in and must match, and at least one criterion in or must
// match when or is non-empty.
func FromCriteria(and, or []model.Criterion) (Node, error) {
	out := make(And, 0, len(and)+1)
	for _, c := range and {
		n, err := FromCriterion(c)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}

	if len(or) > 0 {
		alts := make(Or, 0, len(or))
		for _, c := range or {
			n, err := FromCriterion(c)
			if err != nil {
				return nil, err
			}
			alts = append(alts, n)
		}
		out = append(out, alts)
	}
	return out, nil
}
