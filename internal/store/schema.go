package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// schema creates the policy tables. The statements are portable across
// sqlite, postgres and mysql; list-valued columns hold JSON text and TEXT
// columns carry no defaults since mysql does not allow them.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS gk_roles (
		role_name VARCHAR(255) PRIMARY KEY,
		description TEXT NOT NULL,
		source VARCHAR(255) NOT NULL DEFAULT '',
		mfa_required BOOLEAN NOT NULL DEFAULT FALSE,
		member_of TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS gk_user_roles (
		user_id VARCHAR(255) NOT NULL,
		role_name VARCHAR(255) NOT NULL,
		PRIMARY KEY (user_id, role_name)
	)`,

	`CREATE TABLE IF NOT EXISTS gk_constraints (
		constraint_id VARCHAR(255) PRIMARY KEY,
		name VARCHAR(255) NOT NULL DEFAULT '',
		description TEXT NOT NULL,
		object_type VARCHAR(64) NOT NULL DEFAULT '',
		criteria_and TEXT NOT NULL,
		criteria_or TEXT NOT NULL,
		group_permissions TEXT NOT NULL,
		user_permissions TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS gk_rules (
		rule_id VARCHAR(255) PRIMARY KEY,
		subject VARCHAR(255) NOT NULL,
		action VARCHAR(64) NOT NULL,
		effect VARCHAR(16) NOT NULL DEFAULT 'allow',
		predicate TEXT NOT NULL
	)`,
}

// ApplySchema creates the policy tables if they do not exist. Production
// databases are owned elsewhere; this is for local development and tests.
func ApplySchema(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w\nSQL: %s", err, stmt)
		}
	}
	return nil
}
