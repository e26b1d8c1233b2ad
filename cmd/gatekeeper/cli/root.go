package cli

import (
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vamsdb/gatekeeper/internal/config"
)

var (
	cfgFile string

	// Set by the root command before any subcommand runs.
	appViper  *viper.Viper
	appConfig *config.Config
	logger    *slog.Logger
)

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	return newRootCmd(version, commit, date).Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gatekeeper",
		Short: "Authorization decisions and search filters for the asset platform",
		Long: `Gatekeeper evaluates role and attribute based access policies.

It answers whether a caller may perform an action on an object or route, and
compiles the caller's data-visibility constraints into OpenSearch filters and
permission-bucketed aggregations.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./gatekeeper.yaml)")

	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newRouteCmd())
	cmd.AddCommand(newRoutesCmd())
	cmd.AddCommand(newFilterCmd())
	cmd.AddCommand(newAggsCmd())
	cmd.AddCommand(newTokenCmd())
	cmd.AddCommand(newPolicyCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))

	return cmd
}

func initConfig(cmd *cobra.Command) error {
	v, err := config.NewViper(cfgFile)
	if err != nil {
		return err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	l, err := config.NewLogger(cfg.Logging, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	appViper, appConfig, logger = v, cfg, l
	return nil
}
