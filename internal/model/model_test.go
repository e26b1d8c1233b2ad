package model

import (
	"encoding/json"
	"slices"
	"testing"
)

func TestConstraintLegacyCriteriaJSON(t *testing.T) {
	raw := `{
		"constraintId": "c1",
		"name": "legacy",
		"objectType": "asset",
		"criteria": [{"field": "labels", "operator": "contains", "value": "top-secret"}],
		"criteriaAnd": [{"field": "f1", "operator": "is_one_of", "value": "a, b"}],
		"groupPermissions": [{"groupId": "team1", "permission": "Read"}]
	}`

	var c Constraint
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if c.ID != "c1" || c.ObjectType != "asset" {
		t.Errorf("unexpected constraint header: %+v", c)
	}
	if len(c.CriteriaAnd) != 2 {
		t.Fatalf("CriteriaAnd len = %d, want 2", len(c.CriteriaAnd))
	}
	// criteriaAnd entries come first, legacy criteria are appended.
	if c.CriteriaAnd[0].Field != "f1" || c.CriteriaAnd[1].Field != "labels" {
		t.Errorf("unexpected criteria order: %+v", c.CriteriaAnd)
	}
	if c.CriteriaAnd[1].Operator != OpContains {
		t.Errorf("Operator = %q, want %q", c.CriteriaAnd[1].Operator, OpContains)
	}
	if !c.HasCriteria() {
		t.Error("HasCriteria() = false, want true")
	}
}

func TestOperatorValid(t *testing.T) {
	valid := []Operator{OpEquals, OpContains, OpDoesNotContain, OpStartsWith, OpEndsWith, OpIsOneOf, OpIsNotOneOf}
	for _, op := range valid {
		if !op.Valid() {
			t.Errorf("%q.Valid() = false, want true", op)
		}
	}
	for _, op := range []Operator{"", "like", "EQUALS"} {
		if op.Valid() {
			t.Errorf("%q.Valid() = true, want false", op)
		}
	}
}

func TestSplitValues(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"a, b, c", []string{"a", "b", "c"}},
		{"restricted,private,secret", []string{"restricted", "private", "secret"}},
		{"single", []string{"single"}},
		{" a ,, b ", []string{"a", "b"}},
		{"", []string{}},
	}
	for _, tt := range tests {
		got := SplitValues(tt.in)
		if !slices.Equal(got, tt.want) {
			t.Errorf("SplitValues(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseEffect(t *testing.T) {
	tests := []struct {
		in      string
		want    Effect
		wantErr bool
	}{
		{"", EffectAllow, false},
		{"allow", EffectAllow, false},
		{"Deny", EffectDeny, false},
		{"maybe", "", true},
	}
	for _, tt := range tests {
		got, err := ParseEffect(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseEffect(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseEffect(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLevels(t *testing.T) {
	names := make([]string, 0, 3)
	for _, l := range Levels() {
		names = append(names, l.String())
		parsed, ok := ParseLevel(l.String())
		if !ok || parsed != l {
			t.Errorf("ParseLevel(%q) = %v, %v", l.String(), parsed, ok)
		}
	}
	if !slices.Equal(names, []string{"Read", "Edit", "Admin"}) {
		t.Errorf("level names = %q", names)
	}
	if LevelRead >= LevelEdit || LevelEdit >= LevelAdmin {
		t.Error("levels must be ordered Read < Edit < Admin")
	}
	if _, ok := ParseLevel("read"); ok {
		t.Error("ParseLevel must be case sensitive")
	}
	if _, ok := ParseLevel("GET"); ok {
		t.Error("ParseLevel(GET) should not parse")
	}
}

func TestIdentityIsImmutable(t *testing.T) {
	tokens := []string{"alice@example.com", "alice", "", "alice"}
	roles := []string{"viewers"}
	id := NewIdentity(tokens, roles, true, map[string]string{"dept": "eng"})

	tokens[0] = "mallory"
	roles[0] = "super-admin"

	if got := id.Tokens(); !slices.Equal(got, []string{"alice@example.com", "alice"}) {
		t.Errorf("Tokens() = %q", got)
	}
	if got := id.Roles(); !slices.Equal(got, []string{"viewers"}) {
		t.Errorf("Roles() = %q", got)
	}

	out := id.Tokens()
	out[0] = "mallory"
	if id.Primary() != "alice@example.com" {
		t.Errorf("Primary() = %q after mutating returned slice", id.Primary())
	}
	if v, ok := id.Attribute("dept"); !ok || v != "eng" {
		t.Errorf("Attribute(dept) = %q, %v", v, ok)
	}
	if !id.MFA() {
		t.Error("MFA() = false, want true")
	}
}

func TestIdentityEmpty(t *testing.T) {
	if !NewIdentity(nil, []string{"super-admin"}, false, nil).Empty() {
		t.Error("identity without tokens should be empty")
	}
	if NewIdentity([]string{"bob"}, nil, false, nil).Empty() {
		t.Error("identity with a token should not be empty")
	}
}

func TestObjectFromMap(t *testing.T) {
	obj := ObjectFromMap(map[string]any{
		"object__type":    "database",
		"databaseId":      "defense-assets",
		"acl":             []any{"a@example.com", "b@example.com"},
		"assetCount":      float64(283),
		"isDistributable": true,
		"currentVersion":  map[string]any{"Version": "2"},
		"pipelineId":      nil,
	})

	if obj.Type() != TypeDatabase {
		t.Errorf("Type() = %q, want %q", obj.Type(), TypeDatabase)
	}
	acl, ok := obj.Get("acl")
	if !ok || !acl.IsList() || len(acl.Items()) != 2 {
		t.Errorf("acl = %+v, %v", acl, ok)
	}
	if v, _ := obj.Get("assetCount"); v.Str() != "283" {
		t.Errorf("assetCount = %q, want 283", v.Str())
	}
	if v, _ := obj.Get("isDistributable"); v.Str() != "true" {
		t.Errorf("isDistributable = %q, want true", v.Str())
	}
	if _, ok := obj.Get("currentVersion"); ok {
		t.Error("nested maps should be skipped")
	}
	if _, ok := obj.Get("pipelineId"); ok {
		t.Error("nulls should be skipped")
	}
}

func TestNormalizeType(t *testing.T) {
	if NormalizeType("api") != TypeRoute {
		t.Errorf("NormalizeType(api) = %q, want %q", NormalizeType("api"), TypeRoute)
	}
	if !KnownType("api") || !KnownType(TypeAsset) {
		t.Error("api and asset should be known types")
	}
	if KnownType("spaceship") || KnownType("") {
		t.Error("unknown types must not be recognized")
	}
	obj := ObjectFromMap(map[string]any{"object__type": "api"})
	if obj.Type() != TypeRoute {
		t.Errorf("Type() = %q, want %q", obj.Type(), TypeRoute)
	}
}

func TestRouteObject(t *testing.T) {
	obj := RouteObject("GET", "/pipelines")
	if obj.Type() != TypeRoute {
		t.Errorf("Type() = %q", obj.Type())
	}
	if v, _ := obj.Get(FieldRoutePath); v.Str() != "/pipelines" {
		t.Errorf("route__path = %q", v.Str())
	}
	web := WebRoute{Path: "/assets", Method: "GET"}.Object()
	if web.Type() != TypeWeb {
		t.Errorf("web Type() = %q", web.Type())
	}
}
