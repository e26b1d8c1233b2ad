package model

import (
	"fmt"
	"strconv"
)

// Object types understood by the decision point. Objects with any other
// object__type are denied.
const (
	TypeAsset          = "asset"
	TypeDatabase       = "database"
	TypePipeline       = "pipeline"
	TypeWorkflow       = "workflow"
	TypeTag            = "tag"
	TypeTagType        = "tagType"
	TypeRole           = "role"
	TypeUserRole       = "userRole"
	TypeMetadataSchema = "metadataSchema"
	TypeRoute          = "route"
	TypeWeb            = "web"

	// typeAPI is the legacy name for TypeRoute.
	typeAPI = "api"
)

// Well-known object fields.
const (
	FieldType        = "object__type"
	FieldRoutePath   = "route__path"
	FieldRouteMethod = "route__method"
)

var knownTypes = map[string]bool{
	TypeAsset: true, TypeDatabase: true, TypePipeline: true, TypeWorkflow: true,
	TypeTag: true, TypeTagType: true, TypeRole: true, TypeUserRole: true,
	TypeMetadataSchema: true, TypeRoute: true, TypeWeb: true,
}

// NormalizeType maps legacy type names onto their current name.
func NormalizeType(t string) string {
	if t == typeAPI {
		return TypeRoute
	}
	return t
}

// KnownType reports whether t (after normalization) is a recognized
// object type.
func KnownType(t string) bool {
	return knownTypes[NormalizeType(t)]
}

// Value is a field value: a single string or a list of strings.
type Value struct {
	str    string
	list   []string
	isList bool
}

// String returns a scalar value.
func String(s string) Value { return Value{str: s} }

// List returns a list value.
func List(items ...string) Value { return Value{list: items, isList: true} }

// IsList reports whether the value is a list.
func (v Value) IsList() bool { return v.isList }

// Items returns the value as a list of strings. Scalars yield one item.
func (v Value) Items() []string {
	if v.isList {
		return v.list
	}
	return []string{v.str}
}

// Str returns the scalar value, or "" for lists.
func (v Value) Str() string { return v.str }

// Object is a typed key→value view of a record being authorized.
type Object map[string]Value

// Type returns the normalized object__type of the object.
func (o Object) Type() string {
	return NormalizeType(o[FieldType].Str())
}

// Get returns the value stored under field.
func (o Object) Get(field string) (Value, bool) {
	v, ok := o[field]
	return v, ok
}

// ObjectFromMap converts a decoded JSON record into an Object. Strings,
// numbers and booleans become scalars; lists of those become lists. Nested
// maps and nulls are skipped since no criterion can address them.
func ObjectFromMap(m map[string]any) Object {
	obj := make(Object, len(m))
	for k, raw := range m {
		switch v := raw.(type) {
		case []any:
			items := make([]string, 0, len(v))
			for _, item := range v {
				if s, ok := scalar(item); ok {
					items = append(items, s)
				}
			}
			obj[k] = List(items...)
		case []string:
			obj[k] = List(v...)
		default:
			if s, ok := scalar(v); ok {
				obj[k] = String(s)
			}
		}
	}
	return obj
}

func scalar(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case bool:
		return strconv.FormatBool(x), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case fmt.Stringer:
		return x.String(), true
	}
	return "", false
}

// RouteObject synthesizes the object used for route-level decisions.
func RouteObject(method, path string) Object {
	return Object{
		FieldType:        String(TypeRoute),
		FieldRouteMethod: String(method),
		FieldRoutePath:   String(path),
	}
}

// WebRoute is a front-end navigation route checked against "web" rules.
type WebRoute struct {
	Path   string `json:"route__path"`
	Method string `json:"method"`
}

// Object returns the object evaluated for the web route.
func (r WebRoute) Object() Object {
	return Object{
		FieldType:        String(TypeWeb),
		FieldRoutePath:   String(r.Path),
		FieldRouteMethod: String(r.Method),
	}
}
