// Package store reads policy data (constraints, roles, user role
// assignments and static rules) from the systems that own it. Every
// source is read-only.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/vamsdb/gatekeeper/internal/model"
)

// ErrNotFound is returned when a requested resource does not exist in the
// source.
var ErrNotFound = errors.New("not found")

// SkippedRecords is returned by a listing that decoded some records and
// skipped others. The records that did decode are returned with it.
type SkippedRecords []model.InvalidRecord

func (s SkippedRecords) Error() string {
	if len(s) == 1 {
		return "skipped " + s[0].Error()
	}
	return fmt.Sprintf("skipped %d records, first: %v", len(s), s[0])
}

// skipped returns recs as an error, or nil when recs is empty.
func skipped(recs []model.InvalidRecord) error {
	if len(recs) == 0 {
		return nil
	}
	return SkippedRecords(recs)
}

// Source is a read-only view of policy data.
type Source interface {
	// ListConstraints returns every constraint.
	ListConstraints(ctx context.Context) ([]model.Constraint, error)
	// ListRoles returns every role definition ordered by name.
	ListRoles(ctx context.Context) ([]model.Role, error)
	// GetRole returns a role by name or ErrNotFound.
	GetRole(ctx context.Context, name string) (*model.Role, error)
	// ListUserRoles returns the role assignments of the given users, or
	// every assignment when no user is given.
	ListUserRoles(ctx context.Context, userIDs ...string) ([]model.UserRole, error)
	// ListRules returns static rules in declaration order.
	ListRules(ctx context.Context) ([]model.StaticRule, error)
	// Close releases any resources held by the source.
	Close() error
}

// Loader is implemented by sources that can read a consistent snapshot in
// one operation.
type Loader interface {
	LoadPolicy(ctx context.Context, userIDs ...string) (model.PolicyData, error)
}

// Load fetches everything needed to build a policy for the given users.
// Sources implementing Loader are read in one operation. Records a source
// skipped with SkippedRecords are collected in PolicyData.Invalid.
func Load(ctx context.Context, src Source, userIDs ...string) (model.PolicyData, error) {
	if l, ok := src.(Loader); ok {
		return l.LoadPolicy(ctx, userIDs...)
	}

	var data model.PolicyData
	// absorb records skipped rows on data and clears the error.
	absorb := func(err error) error {
		var sr SkippedRecords
		if errors.As(err, &sr) {
			data.Invalid = append(data.Invalid, sr...)
			return nil
		}
		return err
	}

	constraints, err := src.ListConstraints(ctx)
	if err = absorb(err); err != nil {
		return model.PolicyData{}, fmt.Errorf("list constraints: %w", err)
	}
	roles, err := src.ListRoles(ctx)
	if err = absorb(err); err != nil {
		return model.PolicyData{}, fmt.Errorf("list roles: %w", err)
	}
	userRoles, err := src.ListUserRoles(ctx, userIDs...)
	if err = absorb(err); err != nil {
		return model.PolicyData{}, fmt.Errorf("list user roles: %w", err)
	}
	rules, err := src.ListRules(ctx)
	if err = absorb(err); err != nil {
		return model.PolicyData{}, fmt.Errorf("list rules: %w", err)
	}
	data.Constraints, data.Roles, data.UserRoles, data.Rules = constraints, roles, userRoles, rules
	return data, nil
}

// filterUserRoles keeps the assignments of userIDs. No userIDs keeps all.
func filterUserRoles(all []model.UserRole, userIDs []string) []model.UserRole {
	if len(userIDs) == 0 {
		return all
	}
	want := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		want[id] = true
	}
	out := make([]model.UserRole, 0, len(all))
	for _, ur := range all {
		if want[ur.UserID] {
			out = append(out, ur)
		}
	}
	return out
}
