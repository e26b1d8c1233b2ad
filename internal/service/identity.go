package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vamsdb/gatekeeper/internal/model"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrNoIdentity   = errors.New("token carries no identity")
	ErrNoSecret     = errors.New("token signing secret is empty")
)

// ClaimNames names the JWT claims an identity is read from.
type ClaimNames struct {
	Tokens string
	Roles  string
	MFA    string
}

// DefaultClaims are the claim names issued by the platform's identity
// provider.
var DefaultClaims = ClaimNames{
	Tokens: "vams:tokens",
	Roles:  "vams:roles",
	MFA:    "vams:mfaEnabled",
}

func (c ClaimNames) withDefaults() ClaimNames {
	if c.Tokens == "" {
		c.Tokens = DefaultClaims.Tokens
	}
	if c.Roles == "" {
		c.Roles = DefaultClaims.Roles
	}
	if c.MFA == "" {
		c.MFA = DefaultClaims.MFA
	}
	return c
}

// TokenVerifier turns signed bearer tokens into identities.
type TokenVerifier struct {
	secret []byte
	claims ClaimNames
}

// NewTokenVerifier creates a verifier for HMAC-signed tokens. An empty
// secret is rejected with ErrNoSecret.
func NewTokenVerifier(secret string, claims ClaimNames) (*TokenVerifier, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	return &TokenVerifier{secret: []byte(secret), claims: claims.withDefaults()}, nil
}

// Verify validates token and returns the identity it carries.
func (v *TokenVerifier) Verify(token string) (model.Identity, error) {
	if v == nil || len(v.secret) == 0 {
		return model.Identity{}, ErrInvalidToken
	}
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return model.Identity{}, ErrInvalidToken
	}
	return IdentityFromClaims(claims, v.claims)
}

// Issue signs an identity into a token valid for ttl.
func (v *TokenVerifier) Issue(id model.Identity, ttl time.Duration) (string, error) {
	if v == nil || len(v.secret) == 0 {
		return "", ErrNoSecret
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":           id.Primary(),
		"iat":           now.Unix(),
		"exp":           now.Add(ttl).Unix(),
		v.claims.Tokens: id.Tokens(),
		v.claims.Roles:  id.Roles(),
		v.claims.MFA:    id.MFA(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// ParseIdentityToken verifies token with secret using the default claim
// names.
func ParseIdentityToken(token, secret string) (model.Identity, error) {
	v, err := NewTokenVerifier(secret, DefaultClaims)
	if err != nil {
		return model.Identity{}, err
	}
	return v.Verify(token)
}

// IdentityFromClaims builds an identity from decoded claims. List claims
// may be native arrays or JSON-encoded strings. When the tokens claim is
// absent the subject is used.
func IdentityFromClaims(claims map[string]any, names ClaimNames) (model.Identity, error) {
	names = names.withDefaults()

	tokens, err := stringList(claims[names.Tokens])
	if err != nil {
		return model.Identity{}, fmt.Errorf("claim %s: %w", names.Tokens, err)
	}
	if len(tokens) == 0 {
		if sub, ok := claims["sub"].(string); ok && sub != "" {
			tokens = []string{sub}
		}
	}
	if len(tokens) == 0 {
		return model.Identity{}, ErrNoIdentity
	}

	roles, err := stringList(claims[names.Roles])
	if err != nil {
		return model.Identity{}, fmt.Errorf("claim %s: %w", names.Roles, err)
	}

	attrs := make(map[string]string)
	for k, v := range claims {
		if k == names.Tokens || k == names.Roles || k == names.MFA {
			continue
		}
		if s, ok := v.(string); ok {
			attrs[k] = s
		}
	}

	return model.NewIdentity(tokens, roles, flag(claims[names.MFA]), attrs), nil
}

func stringList(v any) ([]string, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		if t == "" {
			return nil, nil
		}
		var out []string
		if err := json.Unmarshal([]byte(t), &out); err != nil {
			// A bare string is a single entry.
			return []string{t}, nil
		}
		return out, nil
	case []string:
		return t, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("expected string, got %T", e)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected list, got %T", v)
	}
}

func flag(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(t)
		return b
	default:
		return false
	}
}
