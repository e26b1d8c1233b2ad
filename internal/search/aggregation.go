package search

import (
	"bytes"

	"github.com/vamsdb/gatekeeper/internal/model"
)

// Buckets maps permission levels to the filter selecting documents held at
// that level. Only levels the caller actually holds are present.
type Buckets struct {
	filters map[model.Level]*Filter
}

// CompileAggregations builds one filter per level held by groups. A
// constraint appears at most once in a level's filter even when several
// groups grant it that level.
func CompileAggregations(constraints []model.Constraint, groups []string) Buckets {
	set := groupSet(groups)
	b := Buckets{filters: make(map[model.Level]*Filter)}
	for _, level := range model.Levels() {
		q := render(applicable(constraints, set, &level))
		if q == "" {
			continue
		}
		b.filters[level] = &Filter{QueryString: q}
	}
	return b
}

// Get returns the filter for level.
func (b Buckets) Get(level model.Level) (*Filter, bool) {
	f, ok := b.filters[level]
	return f, ok
}

// Levels returns the levels present, in ascending order.
func (b Buckets) Levels() []model.Level {
	var out []model.Level
	for _, l := range model.Levels() {
		if _, ok := b.filters[l]; ok {
			out = append(out, l)
		}
	}
	return out
}

// Len returns the number of levels present.
func (b Buckets) Len() int { return len(b.filters) }

// MarshalJSON emits the buckets keyed by level name in Read, Edit, Admin
// order.
func (b Buckets) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, l := range b.Levels() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := marshal(l.String())
		if err != nil {
			return nil, err
		}
		val, err := b.filters[l].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Aggregations returns the aggregation request body:
// {"aggs":{"permissions":{"filters":{"filters":{<Level>: ...}}}}}.
func (b Buckets) Aggregations() map[string]any {
	return map[string]any{
		"aggs": map[string]any{
			"permissions": map[string]any{
				"filters": map[string]any{
					"filters": b,
				},
			},
		},
	}
}
