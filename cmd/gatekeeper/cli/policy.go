package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vamsdb/gatekeeper/internal/search"
	"github.com/vamsdb/gatekeeper/internal/service"
	"github.com/vamsdb/gatekeeper/internal/store"
)

func newPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect the configured policy source",
		Long:  "Validate policy data and list the roles and compiled rules it defines.",
	}

	cmd.AddCommand(newPolicyValidateCmd())
	cmd.AddCommand(newPolicyRolesCmd())
	cmd.AddCommand(newPolicyRoleCmd())
	cmd.AddCommand(newPolicyRulesCmd())
	cmd.AddCommand(newPolicySchemaCmd())

	return cmd
}

// ---------- policy validate ----------

func newPolicyValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Report constraints and rules that cannot be compiled",
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := openSource(cmd.Context())
			if err != nil {
				return err
			}
			defer src.Close()

			p, constraints, issues, err := service.NewAuthorizer(src, appConfig.Policy.RootRole, logger).Policy(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			problems := len(issues)
			for _, issue := range issues {
				fmt.Fprintf(out, "excluded  %s\n", issue)
			}
			for _, c := range constraints {
				if err := search.Renderable(c); err != nil {
					fmt.Fprintf(out, "no search constraint:%s: %v\n", c.ID, err)
					problems++
				}
			}
			fmt.Fprintf(out, "%d rules compiled from %d constraints, %d problems\n", p.Len(), len(constraints), problems)
			if problems > 0 {
				return fmt.Errorf("policy has %d problems", problems)
			}
			return nil
		},
	}
}

// ---------- policy roles ----------

func newPolicyRolesCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "roles",
		Aliases: []string{"ls"},
		Short:   "List roles and their parents",
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := openSource(cmd.Context())
			if err != nil {
				return err
			}
			defer src.Close()

			roles, err := src.ListRoles(cmd.Context())
			var skipped store.SkippedRecords
			if errors.As(err, &skipped) {
				for _, rec := range skipped {
					logger.Warn("role skipped", "role", rec.ID, "error", rec.Err)
				}
			} else if err != nil {
				return fmt.Errorf("list roles: %w", err)
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), roles)
			}

			out := cmd.OutOrStdout()
			if len(roles) == 0 {
				fmt.Fprintln(out, "No roles defined.")
				return nil
			}
			fmt.Fprintf(out, "%-24s %-5s %s\n", "NAME", "MFA", "MEMBER OF")
			fmt.Fprintf(out, "%-24s %-5s %s\n", "----", "---", "---------")
			for _, r := range roles {
				mfa := "no"
				if r.MFARequired {
					mfa = "yes"
				}
				fmt.Fprintf(out, "%-24s %-5s %s\n", r.Name, mfa, strings.Join(r.MemberOf, ", "))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- policy role NAME ----------

func newPolicyRoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "role NAME",
		Short: "Show one role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := openSource(cmd.Context())
			if err != nil {
				return err
			}
			defer src.Close()

			r, err := src.GetRole(cmd.Context(), args[0])
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("role %q not found", args[0])
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), r)
		},
	}
}

// ---------- policy rules ----------

func newPolicyRulesCmd() *cobra.Command {
	var users []string

	cmd := &cobra.Command{
		Use:   "rules",
		Short: "List compiled rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := openSource(cmd.Context())
			if err != nil {
				return err
			}
			defer src.Close()

			p, _, _, err := service.NewAuthorizer(src, appConfig.Policy.RootRole, logger).Policy(cmd.Context(), users...)
			if err != nil {
				return err
			}
			for _, r := range p.Rules() {
				fmt.Fprintln(cmd.OutOrStdout(), r)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&users, "user", "u", nil, "Only load role assignments for these callers")

	return cmd
}

// ---------- policy schema ----------

func newPolicySchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Create the policy tables in the configured SQL database",
		RunE: func(cmd *cobra.Command, args []string) error {
			if appConfig.Policy.Source != store.KindSQL {
				return fmt.Errorf("policy.source is %q, not %q", appConfig.Policy.Source, store.KindSQL)
			}
			src, err := store.NewSQLSource(appConfig.Policy.Driver, appConfig.Policy.DSN)
			if err != nil {
				return err
			}
			defer src.Close()

			if err := store.ApplySchema(cmd.Context(), src.DB()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Policy tables are up to date.")
			return nil
		},
	}
}
