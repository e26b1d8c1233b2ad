package middleware

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/vamsdb/gatekeeper/internal/model"
	"github.com/vamsdb/gatekeeper/internal/service"
	"github.com/vamsdb/gatekeeper/internal/store"
)

const testSecret = "test-secret-key-for-jwt"

const testPolicy = `
roles:
  - name: viewer
user_roles:
  - user_id: alice@example.com
    role_name: viewer
constraints:
  - id: assets-read
    object_type: api
    criteria_and:
      - field: route__path
        operator: starts_with
        value: /assets
    group_permissions:
      - group_id: viewer
        permission: GET
        permission_type: allow
`

type fixture struct {
	verifier *service.TokenVerifier
	authz    *service.Authorizer
	logs     *bytes.Buffer
	logger   *slog.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte(testPolicy), 0o644); err != nil {
		t.Fatal(err)
	}
	src, err := store.NewFileSource(path)
	if err != nil {
		t.Fatalf("NewFileSource: %v", err)
	}
	verifier, err := service.NewTokenVerifier(testSecret, service.ClaimNames{})
	if err != nil {
		t.Fatalf("NewTokenVerifier: %v", err)
	}
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	return &fixture{
		verifier: verifier,
		authz:    service.NewAuthorizer(src, "", logger),
		logs:     &logs,
		logger:   logger,
	}
}

func (f *fixture) token(t *testing.T, user string) string {
	t.Helper()
	tok, err := f.verifier.Issue(model.NewIdentity([]string{user}, nil, false, nil), time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return tok
}

func (f *fixture) router() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(f.logger))
	r.Use(Authenticate(f.verifier, f.authz, f.logger))
	r.Use(Authorize(f.logger))
	ok := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }
	r.Get("/assets/{assetId}", ok)
	r.Delete("/assets/{assetId}", ok)
	r.Get("/pipelines", ok)
	return r
}

func do(h http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

// ---------------------------------------------------------------------------
// RequestID middleware tests
// ---------------------------------------------------------------------------

func TestRequestIDGeneratesUUID(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetRequestID(r.Context()) == "" {
			t.Error("expected non-empty request ID in context")
		}
		w.WriteHeader(http.StatusOK)
	}))

	rr := do(handler, "GET", "/test", "")
	// UUID v7 format check: 36 chars with dashes
	if respID := rr.Header().Get("X-Request-ID"); len(respID) != 36 {
		t.Errorf("expected UUID-length request ID, got %q", respID)
	}
}

func TestRequestIDPreservesClientID(t *testing.T) {
	clientID := "my-custom-trace-id-123"
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := GetRequestID(r.Context()); id != clientID {
			t.Errorf("expected context ID %q, got %q", clientID, id)
		}
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Request-ID", clientID)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if respID := rr.Header().Get("X-Request-ID"); respID != clientID {
		t.Errorf("expected response X-Request-ID %q, got %q", clientID, respID)
	}
}

func TestGetRequestIDEmptyContext(t *testing.T) {
	if id := GetRequestID(context.Background()); id != "" {
		t.Errorf("expected empty string, got %q", id)
	}
}

// ---------------------------------------------------------------------------
// Authentication and authorization tests
// ---------------------------------------------------------------------------

func TestAuthenticateRejects(t *testing.T) {
	f := newFixture(t)
	h := f.router()

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":        "mallory",
		"vams:roles": []string{model.DefaultRootRole},
		"exp":        time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte{})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	for name, token := range map[string]string{
		"missing":   "",
		"garbage":   "garbage.token.here",
		"empty key": forged,
	} {
		rr := do(h, "GET", "/assets/1", token)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", name, rr.Code)
		}
		if body := rr.Body.String(); body != `{"message":"Unauthorized"}` {
			t.Errorf("%s: body = %s", name, body)
		}
	}

	// A verifier without a secret accepts nothing.
	unset := Authenticate(&service.TokenVerifier{}, f.authz, f.logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be reached")
	}))
	if rr := do(unset, "GET", "/assets/1", forged); rr.Code != http.StatusUnauthorized {
		t.Errorf("unset secret: status = %d, want 401", rr.Code)
	}
}

func TestAuthorizeRoutes(t *testing.T) {
	f := newFixture(t)
	h := f.router()
	alice := f.token(t, "alice@example.com")

	tests := []struct {
		method, path string
		token        string
		want         int
	}{
		{"GET", "/assets/1", alice, http.StatusOK},
		{"DELETE", "/assets/1", alice, http.StatusForbidden},
		{"GET", "/pipelines", alice, http.StatusForbidden},
		{"GET", "/assets/1", f.token(t, "stranger@example.com"), http.StatusForbidden},
	}
	for _, tt := range tests {
		rr := do(h, tt.method, tt.path, tt.token)
		if rr.Code != tt.want {
			t.Errorf("%s %s: status = %d, want %d", tt.method, tt.path, rr.Code, tt.want)
		}
		if tt.want == http.StatusForbidden && rr.Body.String() != `{"message":"Not Authorized"}` {
			t.Errorf("%s %s: body = %s", tt.method, tt.path, rr.Body.String())
		}
	}
}

func TestAuthorizeWithoutSession(t *testing.T) {
	f := newFixture(t)
	handler := Authorize(f.logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be reached")
	}))
	if rr := do(handler, "GET", "/assets/1", ""); rr.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rr.Code)
	}
}

func TestGetSession(t *testing.T) {
	f := newFixture(t)
	var got *service.Session
	handler := Authenticate(f.verifier, f.authz, f.logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetSession(r.Context())
	}))
	do(handler, "GET", "/", f.token(t, "alice@example.com"))

	if got == nil {
		t.Fatal("expected session in context")
	}
	if roles := got.Roles(); len(roles) != 1 || roles[0] != "viewer" {
		t.Errorf("roles = %q", roles)
	}
	if GetSession(context.Background()) != nil {
		t.Error("expected nil session for empty context")
	}
}

type brokenSource struct{ store.Source }

func (brokenSource) ListConstraints(context.Context) ([]model.Constraint, error) {
	return nil, errors.New("connection refused")
}

func TestAuthenticateSourceFailure(t *testing.T) {
	f := newFixture(t)
	authz := service.NewAuthorizer(brokenSource{}, "", f.logger)
	handler := Authenticate(f.verifier, authz, f.logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be reached")
	}))
	if rr := do(handler, "GET", "/", f.token(t, "alice@example.com")); rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rr.Code)
	}
}

// ---------------------------------------------------------------------------
// Logger and rate limit tests
// ---------------------------------------------------------------------------

func TestLoggerRecordsRouteAndUser(t *testing.T) {
	f := newFixture(t)
	do(f.router(), "GET", "/assets/42", f.token(t, "alice@example.com"))

	out := f.logs.String()
	for _, want := range []string{"status=200", "route=/assets/{assetId}", "user=alice@example.com", "level=INFO"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q: %s", want, out)
		}
	}
}

func TestLoggerWarnsOnDenial(t *testing.T) {
	f := newFixture(t)
	do(f.router(), "DELETE", "/assets/42", f.token(t, "alice@example.com"))

	out := f.logs.String()
	if !strings.Contains(out, "route not authorized") || !strings.Contains(out, "level=WARN") {
		t.Errorf("expected denial logged at warn: %s", out)
	}
}

func TestRateLimit(t *testing.T) {
	handler := RateLimit(1)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	if rr := do(handler, "GET", "/", ""); rr.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rr.Code)
	}
	if rr := do(handler, "GET", "/", ""); rr.Code != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want 429", rr.Code)
	}
}
