package store

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/vamsdb/gatekeeper/internal/model"
)

// DynamoDBClient defines the DynamoDB operations used by the policy source.
type DynamoDBClient interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoDBTables names the tables read by DynamoDBSource.
type DynamoDBTables struct {
	// Auth holds constraints (entityType = constraint) and static rules
	// (entityType = rule). entityType is its partition key.
	Auth  string
	Roles string
	// UserRoles is partitioned by userId.
	UserRoles string
}

func (t DynamoDBTables) validate() error {
	if t.Auth == "" || t.Roles == "" || t.UserRoles == "" {
		return fmt.Errorf("dynamodb: auth, roles and user roles table names are required")
	}
	return nil
}

// Entity types stored in the auth table.
const (
	entityConstraint = "constraint"
	entityRule       = "rule"
)

// pageSize bounds each Query and Scan page.
const pageSize = 1000

// DynamoDBSource reads policy data from DynamoDB tables.
type DynamoDBSource struct {
	client DynamoDBClient
	tables DynamoDBTables
}

// NewDynamoDBSource creates a source from the default AWS configuration
// chain (environment, shared config, instance role).
func NewDynamoDBSource(ctx context.Context, region string, tables DynamoDBTables) (*DynamoDBSource, error) {
	if err := tables.validate(); err != nil {
		return nil, err
	}
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("dynamodb: load aws config: %w", err)
	}
	return NewDynamoDBSourceWithClient(dynamodb.NewFromConfig(cfg), tables)
}

// NewDynamoDBSourceWithClient creates a source over an existing client.
func NewDynamoDBSourceWithClient(client DynamoDBClient, tables DynamoDBTables) (*DynamoDBSource, error) {
	if err := tables.validate(); err != nil {
		return nil, err
	}
	return &DynamoDBSource{client: client, tables: tables}, nil
}

// Close is a no-op.
func (s *DynamoDBSource) Close() error { return nil }

// scan reads every page of a Scan.
func (s *DynamoDBSource) scan(ctx context.Context, in *dynamodb.ScanInput) ([]map[string]dbtypes.AttributeValue, error) {
	var items []map[string]dbtypes.AttributeValue
	p := dynamodb.NewScanPaginator(s.client, in, func(o *dynamodb.ScanPaginatorOptions) { o.Limit = pageSize })
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("dynamodb: scan %s: %w", aws.ToString(in.TableName), err)
		}
		items = append(items, out.Items...)
	}
	return items, nil
}

// query reads every page of a Query on a single partition key value.
func (s *DynamoDBSource) query(ctx context.Context, table, key, value string) ([]map[string]dbtypes.AttributeValue, error) {
	av, err := attributevalue.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("dynamodb: marshal %s: %w", key, err)
	}
	in := &dynamodb.QueryInput{
		TableName:                 aws.String(table),
		KeyConditionExpression:    aws.String("#pk = :pk"),
		ExpressionAttributeNames:  map[string]string{"#pk": key},
		ExpressionAttributeValues: map[string]dbtypes.AttributeValue{":pk": av},
	}

	var items []map[string]dbtypes.AttributeValue
	p := dynamodb.NewQueryPaginator(s.client, in, func(o *dynamodb.QueryPaginatorOptions) { o.Limit = pageSize })
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("dynamodb: query %s: %w", table, err)
		}
		items = append(items, out.Items...)
	}
	return items, nil
}

// decodeItem unmarshals item into dst through its json struct tags.
func decodeItem(item map[string]dbtypes.AttributeValue, dst any) error {
	return attributevalue.UnmarshalMapWithOptions(item, dst, func(o *attributevalue.DecoderOptions) {
		o.TagKey = "json"
	})
}

// itemID returns the string attribute name of item, or "" when it is
// missing or not a string.
func itemID(item map[string]dbtypes.AttributeValue, name string) string {
	var id string
	if av, ok := item[name]; ok {
		_ = attributevalue.Unmarshal(av, &id)
	}
	return id
}

// constraintItem accepts the legacy criteria attribute alongside
// criteriaAnd.
type constraintItem struct {
	model.Constraint
	Criteria []model.Criterion `json:"criteria"`
}

// ListConstraints returns every constraint in the auth table. Items that do
// not decode are skipped and reported with SkippedRecords.
func (s *DynamoDBSource) ListConstraints(ctx context.Context) ([]model.Constraint, error) {
	items, err := s.query(ctx, s.tables.Auth, "entityType", entityConstraint)
	if err != nil {
		return nil, err
	}
	out := make([]model.Constraint, 0, len(items))
	var invalid []model.InvalidRecord
	for _, item := range items {
		var c constraintItem
		if err := decodeItem(item, &c); err != nil {
			invalid = append(invalid, model.InvalidRecord{Kind: "constraint", ID: itemID(item, "constraintId"), Err: err})
			continue
		}
		c.CriteriaAnd = append(c.CriteriaAnd, c.Criteria...)
		out = append(out, c.Constraint)
	}
	return out, skipped(invalid)
}

// ListRoles returns every role ordered by name. Items without a name are
// ignored; items that do not decode are skipped and reported with
// SkippedRecords.
func (s *DynamoDBSource) ListRoles(ctx context.Context) ([]model.Role, error) {
	items, err := s.scan(ctx, &dynamodb.ScanInput{TableName: aws.String(s.tables.Roles)})
	if err != nil {
		return nil, err
	}
	out := make([]model.Role, 0, len(items))
	var invalid []model.InvalidRecord
	for _, item := range items {
		var r model.Role
		if err := decodeItem(item, &r); err != nil {
			invalid = append(invalid, model.InvalidRecord{Kind: "role", ID: itemID(item, "roleName"), Err: err})
			continue
		}
		if r.Name == "" {
			continue
		}
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b model.Role) int { return strings.Compare(a.Name, b.Name) })
	return out, skipped(invalid)
}

// GetRole returns a role by name.
func (s *DynamoDBSource) GetRole(ctx context.Context, name string) (*model.Role, error) {
	key, err := attributevalue.MarshalMap(map[string]string{"roleName": name})
	if err != nil {
		return nil, fmt.Errorf("dynamodb: marshal role key: %w", err)
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tables.Roles),
		Key:       key,
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb: get role: %w", err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}
	var r model.Role
	if err := decodeItem(out.Item, &r); err != nil {
		return nil, fmt.Errorf("dynamodb: decode role %s: %w", name, err)
	}
	return &r, nil
}

// ListUserRoles returns role assignments. With userIDs each user's
// partition is queried; without, the table is scanned.
func (s *DynamoDBSource) ListUserRoles(ctx context.Context, userIDs ...string) ([]model.UserRole, error) {
	var items []map[string]dbtypes.AttributeValue
	if len(userIDs) == 0 {
		all, err := s.scan(ctx, &dynamodb.ScanInput{TableName: aws.String(s.tables.UserRoles)})
		if err != nil {
			return nil, err
		}
		items = all
	}
	sortedIDs := slices.Clone(userIDs)
	slices.Sort(sortedIDs)
	for _, id := range slices.Compact(sortedIDs) {
		part, err := s.query(ctx, s.tables.UserRoles, "userId", id)
		if err != nil {
			return nil, err
		}
		items = append(items, part...)
	}

	out := make([]model.UserRole, 0, len(items))
	var invalid []model.InvalidRecord
	for _, item := range items {
		var ur model.UserRole
		if err := decodeItem(item, &ur); err != nil {
			invalid = append(invalid, model.InvalidRecord{Kind: "user_role", ID: itemID(item, "userId"), Err: err})
			continue
		}
		out = append(out, ur)
	}
	return out, skipped(invalid)
}

// ruleItem is a static rule stored in the auth table.
type ruleItem struct {
	ID string `json:"ruleId"`
	model.StaticRule
}

// ListRules returns static rules stored in the auth table ordered by
// ruleId. Items that do not decode are skipped and reported with
// SkippedRecords.
func (s *DynamoDBSource) ListRules(ctx context.Context) ([]model.StaticRule, error) {
	items, err := s.query(ctx, s.tables.Auth, "entityType", entityRule)
	if err != nil {
		return nil, err
	}

	rules := make([]ruleItem, 0, len(items))
	var invalid []model.InvalidRecord
	for _, item := range items {
		var r ruleItem
		if err := decodeItem(item, &r); err != nil {
			invalid = append(invalid, model.InvalidRecord{Kind: "rule", ID: itemID(item, "ruleId"), Err: err})
			continue
		}
		rules = append(rules, r)
	}
	slices.SortFunc(rules, func(a, b ruleItem) int { return strings.Compare(a.ID, b.ID) })

	out := make([]model.StaticRule, len(rules))
	for i, r := range rules {
		out[i] = r.StaticRule
	}
	return out, skipped(invalid)
}
