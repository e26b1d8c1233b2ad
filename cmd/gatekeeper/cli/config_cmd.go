package cli

import (
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/vamsdb/gatekeeper/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage gatekeeper configuration",
		Long:  "Initialize a default configuration file or display the current effective configuration.",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

// ---------- config init ----------

func newConfigInitCmd() *cobra.Command {
	var (
		force bool
		path  string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default gatekeeper.yaml configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", path)
				}
			}
			if err := config.WriteDefault(path); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing config file")
	cmd.Flags().StringVar(&path, "path", "gatekeeper.yaml", "File to write")

	return cmd
}

// ---------- config show ----------

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the current effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if f := appViper.ConfigFileUsed(); f != "" {
				fmt.Fprintf(out, "Config file: %s\n", f)
			} else {
				fmt.Fprintln(out, "Config file: (none found, using defaults)")
			}
			fmt.Fprintln(out)

			keys := appViper.AllKeys()
			slices.Sort(keys)
			for _, k := range keys {
				v := appViper.Get(k)
				if k == "auth.jwt_secret" || k == "policy.dsn" {
					if s, _ := v.(string); s != "" {
						v = "********"
					}
				}
				fmt.Fprintf(out, "  %s: %v\n", k, v)
			}
			return nil
		},
	}
}
