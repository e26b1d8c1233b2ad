package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/vamsdb/gatekeeper/internal/model"
	"github.com/vamsdb/gatekeeper/internal/search"
	"github.com/vamsdb/gatekeeper/internal/service"
	"github.com/vamsdb/gatekeeper/internal/store"
)

// errDenied makes denied checks exit non-zero.
var errDenied = errors.New("not authorized")

// identityFlags describe the caller of a one-off check.
type identityFlags struct {
	users []string
	roles []string
	mfa   bool
	token string
}

func (f *identityFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&f.users, "user", "u", nil, "Caller token (user id or email); repeatable")
	cmd.Flags().StringSliceVar(&f.roles, "role", nil, "Role asserted by the identity provider; repeatable")
	cmd.Flags().BoolVar(&f.mfa, "mfa", false, "Caller authenticated with MFA")
	cmd.Flags().StringVar(&f.token, "token", "", "Signed bearer token instead of --user/--role/--mfa")
}

func (f *identityFlags) identity() (model.Identity, error) {
	if f.token != "" {
		v, err := tokenVerifier()
		if err != nil {
			return model.Identity{}, err
		}
		return v.Verify(f.token)
	}
	if len(f.users) == 0 {
		return model.Identity{}, fmt.Errorf("--user or --token is required")
	}
	return model.NewIdentity(f.users, f.roles, f.mfa, nil), nil
}

// tokenVerifier fails when auth.jwt_secret is unset.
func tokenVerifier() (*service.TokenVerifier, error) {
	v, err := service.NewTokenVerifier(appConfig.Auth.JWTSecret, appConfig.Auth.ClaimNames())
	if err != nil {
		return nil, fmt.Errorf("auth.jwt_secret is not set (GATEKEEPER_AUTH_JWT_SECRET): %w", err)
	}
	return v, nil
}

// openSource opens the configured policy source.
func openSource(ctx context.Context) (store.Source, error) {
	src, err := store.Open(ctx, appConfig.Policy.StoreConfig())
	if err != nil {
		return nil, fmt.Errorf("open policy source: %w", err)
	}
	return src, nil
}

// withSession opens the source, builds a session for the caller and runs fn.
func withSession(cmd *cobra.Command, flags *identityFlags, fn func(*service.Session) error) error {
	id, err := flags.identity()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	src, err := openSource(ctx)
	if err != nil {
		return err
	}
	defer src.Close()

	sess, err := service.NewAuthorizer(src, appConfig.Policy.RootRole, logger).Session(ctx, id)
	if err != nil {
		return err
	}
	return fn(sess)
}

// printJSON writes v as indented JSON without HTML escaping.
func printJSON(w io.Writer, v any) error {
	raw, err := search.Marshal(v)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err = buf.WriteTo(w)
	return err
}
