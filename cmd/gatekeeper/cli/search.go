package cli

import (
	"github.com/spf13/cobra"

	"github.com/vamsdb/gatekeeper/internal/service"
)

// ---------- filter ----------

func newFilterCmd() *cobra.Command {
	var flags identityFlags

	cmd := &cobra.Command{
		Use:   "filter",
		Short: "Print the search query restricting results to what the caller may see",
		Long: `Print the OpenSearch query for the caller's constraints.

Callers holding the root role are unrestricted and get null. Callers with no
applicable constraint get a match_none query.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, &flags, func(s *service.Session) error {
				return printJSON(cmd.OutOrStdout(), s.Filter().Query())
			})
		},
	}

	flags.register(cmd)

	return cmd
}

// ---------- aggs ----------

func newAggsCmd() *cobra.Command {
	var flags identityFlags

	cmd := &cobra.Command{
		Use:   "aggs",
		Short: "Print the permission-bucketed aggregation for the caller",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, &flags, func(s *service.Session) error {
				return printJSON(cmd.OutOrStdout(), s.Aggregations().Aggregations())
			})
		},
	}

	flags.register(cmd)

	return cmd
}
