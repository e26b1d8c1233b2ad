package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vamsdb/gatekeeper/internal/store"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func load(t *testing.T, cfgFile string) *Config {
	t.Helper()
	v, err := NewViper(cfgFile)
	if err != nil {
		t.Fatalf("NewViper: %v", err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return cfg
}

func TestLoadDefaults(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	cfg := load(t, "")

	if cfg.Policy.RootRole != "super-admin" || cfg.Policy.Source != store.KindFile || cfg.Policy.Path != "./policy.yaml" {
		t.Errorf("policy = %+v", cfg.Policy)
	}
	if cfg.Auth.Claims.Tokens != "vams:tokens" || cfg.Auth.Claims.MFA != "vams:mfaEnabled" {
		t.Errorf("claims = %+v", cfg.Auth.Claims)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeFile(t, "gatekeeper.yaml", `
policy:
  source: dynamodb
  region: us-west-2
  tables:
    auth: vams-auth
    roles: vams-roles
    user_roles: vams-user-roles
logging:
  format: json
`)
	t.Setenv("GATEKEEPER_POLICY_ROOT_ROLE", "platform-admin")
	t.Setenv("GATEKEEPER_AUTH_JWT_SECRET", "s3cret")

	cfg := load(t, path)
	if cfg.Policy.RootRole != "platform-admin" || cfg.Auth.JWTSecret != "s3cret" {
		t.Errorf("env overrides not applied: %+v %+v", cfg.Policy, cfg.Auth)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "info" {
		t.Errorf("logging = %+v", cfg.Logging)
	}

	sc := cfg.Policy.StoreConfig()
	if sc.Kind != store.KindDynamoDB || sc.Region != "us-west-2" || sc.Tables.UserRoles != "vams-user-roles" {
		t.Errorf("store config = %+v", sc)
	}
	if names := cfg.Auth.ClaimNames(); names.Roles != "vams:roles" {
		t.Errorf("claim names = %+v", names)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"unknown source", "policy:\n  source: etcd\n", "unknown policy.source"},
		{"sql without dsn", "policy:\n  source: sql\n", "policy.dsn"},
		{"dynamodb without tables", "policy:\n  source: dynamodb\n", "policy.tables"},
		{"empty path", "policy:\n  path: \"\"\n", "policy.path"},
		{"bad level", "logging:\n  level: loud\n", "logging.level"},
		{"bad format", "logging:\n  format: xml\n", "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := NewViper(writeFile(t, "gatekeeper.yaml", tt.content))
			if err != nil {
				t.Fatalf("NewViper: %v", err)
			}
			_, err = Load(v)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestNewViperMissingExplicitFile(t *testing.T) {
	if _, err := NewViper(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}

func TestWriteDefaultRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gatekeeper.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}
	cfg := load(t, path)
	if *cfg != Default() {
		t.Errorf("round trip = %+v, want %+v", *cfg, Default())
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(LoggingConfig{Level: "warn", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown", "key", "value")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected one JSON record, got %q: %v", buf.String(), err)
	}
	if rec["msg"] != "shown" || rec["key"] != "value" {
		t.Errorf("record = %v", rec)
	}

	if _, err := NewLogger(LoggingConfig{Level: "chatty"}, &buf); err == nil {
		t.Error("expected error for unknown level")
	}
}
