package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/vamsdb/gatekeeper/internal/model"
)

// sqlDrivers maps configured driver names to database/sql driver names.
var sqlDrivers = map[string]string{
	"sqlite":   "sqlite",
	"postgres": "pgx",
	"pgx":      "pgx",
	"mysql":    "mysql",
}

// SQLSource reads policy data from an externally owned SQL database.
type SQLSource struct {
	db *sqlx.DB
}

// NewSQLSource connects to the database. driver is one of sqlite,
// postgres or mysql.
func NewSQLSource(driver, dsn string) (*SQLSource, error) {
	name, ok := sqlDrivers[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	db, err := sqlx.Connect(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s connect: %w", driver, err)
	}
	if name == "sqlite" {
		db.SetMaxOpenConns(1) // an in-memory database lives on one connection
	}
	return &SQLSource{db: db}, nil
}

// NewSQLSourceFromDB wraps an open connection pool.
func NewSQLSourceFromDB(db *sqlx.DB) *SQLSource {
	return &SQLSource{db: db}
}

// DB returns the underlying connection pool.
func (s *SQLSource) DB() *sqlx.DB { return s.db }

// Close closes the underlying database connection.
func (s *SQLSource) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Roles
// ---------------------------------------------------------------------------

// roleRow maps 1:1 to the gk_roles table. member_of holds a JSON array.
type roleRow struct {
	Name        string `db:"role_name"`
	Description string `db:"description"`
	Source      string `db:"source"`
	MFARequired bool   `db:"mfa_required"`
	MemberOf    string `db:"member_of"`
}

func (r roleRow) toModel() (model.Role, error) {
	role := model.Role{
		Name:        r.Name,
		Description: r.Description,
		Source:      r.Source,
		MFARequired: r.MFARequired,
	}
	if err := unmarshalColumn(r.MemberOf, &role.MemberOf); err != nil {
		return model.Role{}, fmt.Errorf("member_of: %w", err)
	}
	return role, nil
}

const roleColumns = "role_name, description, source, mfa_required, member_of"

// ListRoles returns every role ordered by name. Rows whose member_of
// column does not decode are skipped and reported with SkippedRecords.
func (s *SQLSource) ListRoles(ctx context.Context) ([]model.Role, error) {
	var rows []roleRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT "+roleColumns+" FROM gk_roles ORDER BY role_name"); err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}

	roles := make([]model.Role, 0, len(rows))
	var invalid []model.InvalidRecord
	for _, r := range rows {
		role, err := r.toModel()
		if err != nil {
			invalid = append(invalid, model.InvalidRecord{Kind: "role", ID: r.Name, Err: err})
			continue
		}
		roles = append(roles, role)
	}
	return roles, skipped(invalid)
}

// GetRole returns a role by name.
func (s *SQLSource) GetRole(ctx context.Context, name string) (*model.Role, error) {
	var row roleRow
	q := s.db.Rebind("SELECT " + roleColumns + " FROM gk_roles WHERE role_name = ?")
	if err := s.db.GetContext(ctx, &row, q, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get role: %w", err)
	}
	role, err := row.toModel()
	if err != nil {
		return nil, fmt.Errorf("role %s: %w", name, err)
	}
	return &role, nil
}

// ListUserRoles returns role assignments, optionally limited to userIDs.
func (s *SQLSource) ListUserRoles(ctx context.Context, userIDs ...string) ([]model.UserRole, error) {
	q := "SELECT user_id, role_name FROM gk_user_roles ORDER BY user_id, role_name"
	var args []any
	if len(userIDs) > 0 {
		var err error
		q, args, err = sqlx.In("SELECT user_id, role_name FROM gk_user_roles WHERE user_id IN (?) ORDER BY user_id, role_name", userIDs)
		if err != nil {
			return nil, fmt.Errorf("build user roles query: %w", err)
		}
		q = s.db.Rebind(q)
	}

	var out []model.UserRole
	if err := s.db.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, fmt.Errorf("list user roles: %w", err)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Constraints
// ---------------------------------------------------------------------------

// constraintRow maps 1:1 to the gk_constraints table. The criteria and
// permission columns hold JSON arrays.
type constraintRow struct {
	ID               string `db:"constraint_id"`
	Name             string `db:"name"`
	Description      string `db:"description"`
	ObjectType       string `db:"object_type"`
	CriteriaAnd      string `db:"criteria_and"`
	CriteriaOr       string `db:"criteria_or"`
	GroupPermissions string `db:"group_permissions"`
	UserPermissions  string `db:"user_permissions"`
}

func (r constraintRow) toModel() (model.Constraint, error) {
	c := model.Constraint{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		ObjectType:  r.ObjectType,
	}
	cols := []struct {
		name string
		raw  string
		dst  any
	}{
		{"criteria_and", r.CriteriaAnd, &c.CriteriaAnd},
		{"criteria_or", r.CriteriaOr, &c.CriteriaOr},
		{"group_permissions", r.GroupPermissions, &c.GroupPermissions},
		{"user_permissions", r.UserPermissions, &c.UserPermissions},
	}
	for _, col := range cols {
		if err := unmarshalColumn(col.raw, col.dst); err != nil {
			return model.Constraint{}, fmt.Errorf("%s: %w", col.name, err)
		}
	}
	return c, nil
}

// ListConstraints returns every constraint ordered by id. Rows with a
// malformed JSON column are skipped and reported with SkippedRecords.
func (s *SQLSource) ListConstraints(ctx context.Context) ([]model.Constraint, error) {
	var rows []constraintRow
	const q = `SELECT constraint_id, name, description, object_type, criteria_and,
		criteria_or, group_permissions, user_permissions
		FROM gk_constraints ORDER BY constraint_id`
	if err := s.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("list constraints: %w", err)
	}

	out := make([]model.Constraint, 0, len(rows))
	var invalid []model.InvalidRecord
	for _, r := range rows {
		c, err := r.toModel()
		if err != nil {
			invalid = append(invalid, model.InvalidRecord{Kind: "constraint", ID: r.ID, Err: err})
			continue
		}
		out = append(out, c)
	}
	return out, skipped(invalid)
}

// ---------------------------------------------------------------------------
// Static rules
// ---------------------------------------------------------------------------

type ruleRow struct {
	ID        string `db:"rule_id"`
	Subject   string `db:"subject"`
	Action    string `db:"action"`
	Effect    string `db:"effect"`
	Predicate string `db:"predicate"`
}

// ListRules returns static rules ordered by id.
func (s *SQLSource) ListRules(ctx context.Context) ([]model.StaticRule, error) {
	var rows []ruleRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT rule_id, subject, action, effect, predicate FROM gk_rules ORDER BY rule_id"); err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}

	out := make([]model.StaticRule, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.StaticRule{
			Subject: r.Subject,
			Action:  r.Action,
			Effect:  r.Effect,
			When:    r.Predicate,
		})
	}
	return out, nil
}

// unmarshalColumn decodes a JSON text column. Empty columns decode to nil.
func unmarshalColumn(raw string, dst any) error {
	if raw == "" || raw == "[]" || raw == "null" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dst)
}
