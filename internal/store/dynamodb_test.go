package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/vamsdb/gatekeeper/internal/model"
)

// fakeDynamoDB serves Query and Scan pages from fixed items, two items per
// page. Query matches the single key condition used by DynamoDBSource.
type fakeDynamoDB struct {
	tables  map[string][]map[string]dbtypes.AttributeValue
	queries int
	scans   int
	err     error
}

func attrS(v string) dbtypes.AttributeValue { return &dbtypes.AttributeValueMemberS{Value: v} }

// page returns the slice of items starting at the page key in start.
func page(items []map[string]dbtypes.AttributeValue, start map[string]dbtypes.AttributeValue) ([]map[string]dbtypes.AttributeValue, map[string]dbtypes.AttributeValue) {
	from := 0
	if k, ok := start["page"].(*dbtypes.AttributeValueMemberN); ok {
		from, _ = strconv.Atoi(k.Value)
	}
	to := min(from+2, len(items))
	if to == len(items) {
		return items[from:to], nil
	}
	return items[from:to], map[string]dbtypes.AttributeValue{
		"page": &dbtypes.AttributeValueMemberN{Value: strconv.Itoa(to)},
	}
}

func (f *fakeDynamoDB) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.scans++
	items, next := page(f.tables[aws.ToString(in.TableName)], in.ExclusiveStartKey)
	return &dynamodb.ScanOutput{Items: items, LastEvaluatedKey: next}, nil
}

func (f *fakeDynamoDB) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.queries++
	if aws.ToString(in.KeyConditionExpression) != "#pk = :pk" {
		return nil, fmt.Errorf("unexpected key condition %q", aws.ToString(in.KeyConditionExpression))
	}
	key := in.ExpressionAttributeNames["#pk"]
	want := in.ExpressionAttributeValues[":pk"].(*dbtypes.AttributeValueMemberS).Value

	var matched []map[string]dbtypes.AttributeValue
	for _, item := range f.tables[aws.ToString(in.TableName)] {
		if got, ok := item[key].(*dbtypes.AttributeValueMemberS); ok && got.Value == want {
			matched = append(matched, item)
		}
	}
	items, next := page(matched, in.ExclusiveStartKey)
	return &dynamodb.QueryOutput{Items: items, LastEvaluatedKey: next}, nil
}

func (f *fakeDynamoDB) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	want := in.Key["roleName"].(*dbtypes.AttributeValueMemberS).Value
	for _, item := range f.tables[aws.ToString(in.TableName)] {
		if got, ok := item["roleName"].(*dbtypes.AttributeValueMemberS); ok && got.Value == want {
			return &dynamodb.GetItemOutput{Item: item}, nil
		}
	}
	return &dynamodb.GetItemOutput{}, nil
}

func newFakeDynamoDB() *fakeDynamoDB {
	criterion := func(field, op, value string) dbtypes.AttributeValue {
		return &dbtypes.AttributeValueMemberM{Value: map[string]dbtypes.AttributeValue{
			"id": attrS("c-" + field), "field": attrS(field), "operator": attrS(op), "value": attrS(value),
		}}
	}
	groupPerm := func(group, perm string) dbtypes.AttributeValue {
		return &dbtypes.AttributeValueMemberM{Value: map[string]dbtypes.AttributeValue{
			"groupId": attrS(group), "permission": attrS(perm), "permissionType": attrS("allow"),
		}}
	}
	constraint := func(id string, legacy bool) map[string]dbtypes.AttributeValue {
		key := "criteriaAnd"
		if legacy {
			key = "criteria"
		}
		return map[string]dbtypes.AttributeValue{
			"entityType":       attrS("constraint"),
			"constraintId":     attrS(id),
			"name":             attrS(id),
			"objectType":       attrS("asset"),
			key:                &dbtypes.AttributeValueMemberL{Value: []dbtypes.AttributeValue{criterion("labels", "contains", "top-secret")}},
			"groupPermissions": &dbtypes.AttributeValueMemberL{Value: []dbtypes.AttributeValue{groupPerm("team1", "Read")}},
		}
	}

	return &fakeDynamoDB{tables: map[string][]map[string]dbtypes.AttributeValue{
		"auth": {
			constraint("c1", false),
			constraint("c2", true),
			{"entityType": attrS("rule"), "ruleId": attrS("r2"), "subject": attrS("role::team1"), "action": attrS("GET"), "when": attrS("TRUE")},
			constraint("c3", false),
			{"entityType": attrS("rule"), "ruleId": attrS("r1"), "subject": attrS("role::team2"), "action": attrS("PUT"), "effect": attrS("deny"), "when": attrS("FALSE")},
		},
		"roles": {
			{"roleName": attrS("team2"), "mfaRequired": &dbtypes.AttributeValueMemberBOOL{Value: true}, "createdOn": &dbtypes.AttributeValueMemberN{Value: "1700000000"}},
			{"roleName": attrS("team1"), "memberOf": &dbtypes.AttributeValueMemberSS{Value: []string{"team2"}}},
			{"description": attrS("broken row")},
		},
		"user-roles": {
			{"userId": attrS("alice"), "roleName": attrS("team1")},
			{"userId": attrS("bob"), "roleName": attrS("team2")},
			{"userId": attrS("carol"), "roleName": attrS("team1")},
		},
	}}
}

func newTestDynamoDBSource(t *testing.T) (*DynamoDBSource, *fakeDynamoDB) {
	t.Helper()
	fake := newFakeDynamoDB()
	src, err := NewDynamoDBSourceWithClient(fake, DynamoDBTables{Auth: "auth", Roles: "roles", UserRoles: "user-roles"})
	if err != nil {
		t.Fatalf("NewDynamoDBSourceWithClient: %v", err)
	}
	return src, fake
}

func TestDynamoDBSourceConstraints(t *testing.T) {
	src, fake := newTestDynamoDBSource(t)
	cs, err := src.ListConstraints(context.Background())
	if err != nil {
		t.Fatalf("ListConstraints: %v", err)
	}
	if len(cs) != 3 {
		t.Fatalf("got %d constraints, want 3", len(cs))
	}
	if fake.queries != 2 || fake.scans != 0 {
		t.Errorf("queries = %d, scans = %d, want 2 query pages and no scans", fake.queries, fake.scans)
	}
	for _, c := range cs {
		if len(c.CriteriaAnd) != 1 || c.CriteriaAnd[0].Operator != model.OpContains {
			t.Errorf("%s criteria = %+v", c.ID, c.CriteriaAnd)
		}
		if len(c.GroupPermissions) != 1 || c.GroupPermissions[0].Permission != "Read" {
			t.Errorf("%s permissions = %+v", c.ID, c.GroupPermissions)
		}
	}
}

func TestDynamoDBSourceSkipsUndecodable(t *testing.T) {
	src, fake := newTestDynamoDBSource(t)
	fake.tables["auth"] = append(fake.tables["auth"],
		map[string]dbtypes.AttributeValue{
			"entityType":   attrS("constraint"),
			"constraintId": attrS("bad"),
			"criteriaAnd":  attrS("labels contains secret"),
		},
		map[string]dbtypes.AttributeValue{
			"entityType": attrS("rule"),
			"ruleId":     attrS("r9"),
			"subject":    &dbtypes.AttributeValueMemberL{Value: []dbtypes.AttributeValue{attrS("role::team1")}},
		},
	)
	fake.tables["roles"] = append(fake.tables["roles"], map[string]dbtypes.AttributeValue{
		"roleName": attrS("odd"),
		"memberOf": &dbtypes.AttributeValueMemberBOOL{Value: true},
	})

	data, err := Load(context.Background(), src, "alice")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(data.Constraints) != 3 || len(data.Roles) != 2 || len(data.Rules) != 2 {
		t.Errorf("got %d constraints, %d roles, %d rules, want 3, 2, 2", len(data.Constraints), len(data.Roles), len(data.Rules))
	}

	tests := []struct {
		kind string
		id   string
	}{
		{"constraint", "bad"},
		{"role", "odd"},
		{"rule", "r9"},
	}
	if len(data.Invalid) != len(tests) {
		t.Fatalf("invalid = %+v, want %d records", data.Invalid, len(tests))
	}
	for i, tt := range tests {
		if got := data.Invalid[i]; got.Kind != tt.kind || got.ID != tt.id || got.Err == nil {
			t.Errorf("invalid[%d] = %+v, want %s %s", i, got, tt.kind, tt.id)
		}
	}
}

func TestDynamoDBSourceRoles(t *testing.T) {
	src, _ := newTestDynamoDBSource(t)
	ctx := context.Background()

	roles, err := src.ListRoles(ctx)
	if err != nil {
		t.Fatalf("ListRoles: %v", err)
	}
	if len(roles) != 2 || roles[0].Name != "team1" || roles[1].Name != "team2" {
		t.Fatalf("roles = %+v", roles)
	}
	if !slices.Equal(roles[0].MemberOf, []string{"team2"}) || !roles[1].MFARequired {
		t.Errorf("roles = %+v", roles)
	}

	r, err := src.GetRole(ctx, "team2")
	if err != nil || !r.MFARequired {
		t.Errorf("GetRole(team2) = %+v, %v", r, err)
	}
	if _, err := src.GetRole(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRole(ghost) error = %v, want ErrNotFound", err)
	}
}

func TestDynamoDBSourceUserRolesAndRules(t *testing.T) {
	src, fake := newTestDynamoDBSource(t)

	data, err := Load(context.Background(), src, "alice", "bob")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	var users []string
	for _, ur := range data.UserRoles {
		users = append(users, ur.UserID)
	}
	if !slices.Equal(users, []string{"alice", "bob"}) {
		t.Errorf("user roles = %+v", data.UserRoles)
	}

	if len(data.Rules) != 2 || data.Rules[0].Subject != "role::team2" || data.Rules[0].Effect != "deny" {
		t.Errorf("rules = %+v", data.Rules)
	}

	all, err := src.ListUserRoles(context.Background())
	if err != nil || len(all) != 3 {
		t.Errorf("ListUserRoles() = %+v, %v", all, err)
	}

	fake.queries = 0
	dup, err := src.ListUserRoles(context.Background(), "carol", "carol", "nobody")
	if err != nil || len(dup) != 1 || dup[0].RoleName != "team1" {
		t.Errorf("ListUserRoles(carol, carol, nobody) = %+v, %v", dup, err)
	}
	if fake.queries != 2 {
		t.Errorf("queries = %d, want one per distinct user", fake.queries)
	}
}

func TestDynamoDBSourceErrors(t *testing.T) {
	src, fake := newTestDynamoDBSource(t)
	fake.err = errors.New("throttled")
	if _, err := src.ListConstraints(context.Background()); err == nil {
		t.Error("expected query error")
	}
	if _, err := src.ListRoles(context.Background()); err == nil {
		t.Error("expected scan error")
	}
	if _, err := src.GetRole(context.Background(), "team1"); err == nil {
		t.Error("expected get error")
	}
	if _, err := NewDynamoDBSourceWithClient(fake, DynamoDBTables{Auth: "auth"}); err == nil {
		t.Error("expected error for missing table names")
	}
}
