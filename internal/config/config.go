// Package config loads gatekeeper settings from an optional YAML file and
// GATEKEEPER_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/vamsdb/gatekeeper/internal/model"
	"github.com/vamsdb/gatekeeper/internal/service"
	"github.com/vamsdb/gatekeeper/internal/store"
)

// EnvPrefix prefixes every environment variable override, e.g.
// GATEKEEPER_POLICY_PATH for policy.path.
const EnvPrefix = "GATEKEEPER"

// Config is the top-level gatekeeper configuration.
type Config struct {
	Policy  PolicyConfig  `mapstructure:"policy" yaml:"policy"`
	Auth    AuthConfig    `mapstructure:"auth" yaml:"auth"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// PolicyConfig selects where policy data is read from.
type PolicyConfig struct {
	RootRole string `mapstructure:"root_role" yaml:"root_role"`
	Source   string `mapstructure:"source" yaml:"source"`

	// file
	Path string `mapstructure:"path" yaml:"path"`

	// sql
	Driver string `mapstructure:"driver" yaml:"driver"`
	DSN    string `mapstructure:"dsn" yaml:"dsn"`

	// dynamodb
	Region string       `mapstructure:"region" yaml:"region"`
	Tables TablesConfig `mapstructure:"tables" yaml:"tables"`
}

// TablesConfig names the DynamoDB tables.
type TablesConfig struct {
	Auth      string `mapstructure:"auth" yaml:"auth"`
	Roles     string `mapstructure:"roles" yaml:"roles"`
	UserRoles string `mapstructure:"user_roles" yaml:"user_roles"`
}

// AuthConfig controls bearer token verification.
type AuthConfig struct {
	JWTSecret string       `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	Claims    ClaimsConfig `mapstructure:"claims" yaml:"claims"`
}

// ClaimsConfig names the token claims identities are read from.
type ClaimsConfig struct {
	Tokens string `mapstructure:"tokens" yaml:"tokens"`
	Roles  string `mapstructure:"roles" yaml:"roles"`
	MFA    string `mapstructure:"mfa" yaml:"mfa"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Policy: PolicyConfig{
			RootRole: model.DefaultRootRole,
			Source:   store.KindFile,
			Path:     "./policy.yaml",
			Driver:   "sqlite",
		},
		Auth: AuthConfig{
			Claims: ClaimsConfig{
				Tokens: service.DefaultClaims.Tokens,
				Roles:  service.DefaultClaims.Roles,
				MFA:    service.DefaultClaims.MFA,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// SetDefaults registers every key with its default so environment
// variables can override keys missing from the config file.
func SetDefaults(v *viper.Viper) {
	d := Default()
	defaults := map[string]any{
		"policy.root_role":         d.Policy.RootRole,
		"policy.source":            d.Policy.Source,
		"policy.path":              d.Policy.Path,
		"policy.driver":            d.Policy.Driver,
		"policy.dsn":               d.Policy.DSN,
		"policy.region":            d.Policy.Region,
		"policy.tables.auth":       d.Policy.Tables.Auth,
		"policy.tables.roles":      d.Policy.Tables.Roles,
		"policy.tables.user_roles": d.Policy.Tables.UserRoles,
		"auth.jwt_secret":          d.Auth.JWTSecret,
		"auth.claims.tokens":       d.Auth.Claims.Tokens,
		"auth.claims.roles":        d.Auth.Claims.Roles,
		"auth.claims.mfa":          d.Auth.Claims.MFA,
		"logging.level":            d.Logging.Level,
		"logging.format":           d.Logging.Format,
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

// NewViper returns a viper instance wired with defaults, environment
// overrides and the config file. An explicit cfgFile must exist; otherwise
// gatekeeper.yaml is looked up in the working directory and
// $HOME/.gatekeeper and may be absent.
func NewViper(cfgFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("gatekeeper")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.gatekeeper")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the selected policy source is fully configured.
func (c *Config) Validate() error {
	p := c.Policy
	switch p.Source {
	case store.KindFile:
		if p.Path == "" {
			return fmt.Errorf("config: policy.path is required for the file source")
		}
	case store.KindSQL:
		if p.DSN == "" {
			return fmt.Errorf("config: policy.dsn is required for the sql source")
		}
	case store.KindDynamoDB:
		if p.Tables.Auth == "" || p.Tables.Roles == "" || p.Tables.UserRoles == "" {
			return fmt.Errorf("config: policy.tables.auth, roles and user_roles are required for the dynamodb source")
		}
	default:
		return fmt.Errorf("config: unknown policy.source %q", p.Source)
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown logging.format %q", c.Logging.Format)
	}
	return nil
}

// StoreConfig maps the policy settings onto a store configuration.
func (p PolicyConfig) StoreConfig() store.Config {
	return store.Config{
		Kind:   p.Source,
		Path:   p.Path,
		Driver: p.Driver,
		DSN:    p.DSN,
		Region: p.Region,
		Tables: store.DynamoDBTables{
			Auth:      p.Tables.Auth,
			Roles:     p.Tables.Roles,
			UserRoles: p.Tables.UserRoles,
		},
	}
}

// ClaimNames maps the claim settings onto the token verifier's names.
func (a AuthConfig) ClaimNames() service.ClaimNames {
	return service.ClaimNames{
		Tokens: a.Claims.Tokens,
		Roles:  a.Claims.Roles,
		MFA:    a.Claims.MFA,
	}
}

// WriteDefault writes the default configuration to a YAML file.
func WriteDefault(path string) error {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
