package store

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vamsdb/gatekeeper/internal/model"
)

// PolicyFile is the on-disk layout of a YAML policy file.
type PolicyFile struct {
	Roles       []model.Role       `yaml:"roles"`
	UserRoles   []model.UserRole   `yaml:"user_roles"`
	Constraints []constraintYAML   `yaml:"constraints"`
	Rules       []model.StaticRule `yaml:"rules"`
}

// constraintYAML accepts the legacy single "criteria" list alongside
// criteria_and.
type constraintYAML struct {
	model.Constraint `yaml:",inline"`
	Criteria         []model.Criterion `yaml:"criteria"`
}

// FileSource reads policy data from a YAML file. The file is re-read on
// every call so edits take effect on the next request.
type FileSource struct {
	path string
}

// NewFileSource returns a source for the YAML file at path. The file must
// exist and parse.
func NewFileSource(path string) (*FileSource, error) {
	s := &FileSource{path: path}
	if _, err := s.read(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the policy file path.
func (s *FileSource) Path() string { return s.path }

// read parses the policy file. Environment variables referenced as
// ${VAR_NAME} are expanded before parsing.
func (s *FileSource) read() (model.PolicyData, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return model.PolicyData{}, fmt.Errorf("read policy file: %w", err)
	}

	content := os.ExpandEnv(string(raw))

	var f PolicyFile
	if err := yaml.Unmarshal([]byte(content), &f); err != nil {
		return model.PolicyData{}, fmt.Errorf("parse policy file: %w", err)
	}

	data := model.PolicyData{
		Roles:       f.Roles,
		UserRoles:   f.UserRoles,
		Rules:       f.Rules,
		Constraints: make([]model.Constraint, 0, len(f.Constraints)),
	}
	for _, c := range f.Constraints {
		con := c.Constraint
		con.CriteriaAnd = append(con.CriteriaAnd, c.Criteria...)
		data.Constraints = append(data.Constraints, con)
	}
	slices.SortFunc(data.Roles, func(a, b model.Role) int { return strings.Compare(a.Name, b.Name) })
	return data, nil
}

// LoadPolicy reads the whole file once.
func (s *FileSource) LoadPolicy(_ context.Context, userIDs ...string) (model.PolicyData, error) {
	data, err := s.read()
	if err != nil {
		return model.PolicyData{}, err
	}
	data.UserRoles = filterUserRoles(data.UserRoles, userIDs)
	return data, nil
}

// ListConstraints returns every constraint in the file.
func (s *FileSource) ListConstraints(_ context.Context) ([]model.Constraint, error) {
	data, err := s.read()
	if err != nil {
		return nil, err
	}
	return data.Constraints, nil
}

// ListRoles returns every role in the file ordered by name.
func (s *FileSource) ListRoles(_ context.Context) ([]model.Role, error) {
	data, err := s.read()
	if err != nil {
		return nil, err
	}
	return data.Roles, nil
}

// GetRole returns a role by name.
func (s *FileSource) GetRole(_ context.Context, name string) (*model.Role, error) {
	data, err := s.read()
	if err != nil {
		return nil, err
	}
	for _, r := range data.Roles {
		if r.Name == name {
			return &r, nil
		}
	}
	return nil, ErrNotFound
}

// ListUserRoles returns role assignments, optionally limited to userIDs.
func (s *FileSource) ListUserRoles(_ context.Context, userIDs ...string) ([]model.UserRole, error) {
	data, err := s.read()
	if err != nil {
		return nil, err
	}
	return filterUserRoles(data.UserRoles, userIDs), nil
}

// ListRules returns the file's static rules.
func (s *FileSource) ListRules(_ context.Context) ([]model.StaticRule, error) {
	data, err := s.read()
	if err != nil {
		return nil, err
	}
	return data.Rules, nil
}

// Close is a no-op.
func (s *FileSource) Close() error { return nil }
