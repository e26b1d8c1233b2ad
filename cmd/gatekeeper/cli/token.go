package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vamsdb/gatekeeper/internal/model"
)

func newTokenCmd() *cobra.Command {
	var (
		users []string
		roles []string
		mfa   bool
		ttl   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed bearer token for testing",
		Long:  "Issue a bearer token signed with auth.jwt_secret carrying the given identity claims.",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := tokenVerifier()
			if err != nil {
				return err
			}
			if len(users) == 0 {
				return fmt.Errorf("--user is required")
			}
			tok, err := v.Issue(model.NewIdentity(users, roles, mfa, nil), ttl)
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&users, "user", "u", nil, "Caller token (user id or email); repeatable")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "Asserted role; repeatable")
	cmd.Flags().BoolVar(&mfa, "mfa", false, "Mark the caller as MFA-authenticated")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")

	return cmd
}
