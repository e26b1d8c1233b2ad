package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vamsdb/gatekeeper/internal/model"
	"github.com/vamsdb/gatekeeper/internal/service"
)

// ---------- route ----------

func newRouteCmd() *cobra.Command {
	var (
		flags      identityFlags
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "route METHOD PATH",
		Short:   "Decide whether a caller may call an API route",
		Example: "  gatekeeper route GET /database/defense-assets/assets -u alice@example.com",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, &flags, func(s *service.Session) error {
				return printDecision(cmd, s.DecideAPI(args[0], args[1]), jsonOutput)
			})
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- routes ----------

func newRoutesCmd() *cobra.Command {
	var (
		flags      identityFlags
		method     string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "routes PATH...",
		Short: "List the web routes a caller may navigate to",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			routes := make([]model.WebRoute, len(args))
			for i, p := range args {
				routes[i] = model.WebRoute{Path: p, Method: method}
			}
			return withSession(cmd, &flags, func(s *service.Session) error {
				allowed := s.AllowedRoutes(routes)
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), allowed)
				}
				for _, r := range allowed {
					fmt.Fprintln(cmd.OutOrStdout(), r.Path)
				}
				return nil
			})
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&method, "method", "GET", "Navigation method")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
