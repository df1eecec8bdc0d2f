// Package cli implements the CLI adapter. Commands delegate either to the
// app layer (serve) or to the control API of a running controller.
package cli

import (
	"github.com/spf13/cobra"
)

var (
	// Version information (set at build time).
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "caravel",
		Short: "Caravel - single-host container deployment controller",
		Long: `Caravel reconciles running containers against declarative service
descriptors, health-gates every rollout, and keeps a TLS-terminating
reverse proxy routing only to healthy services.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to config file (default ./caravel.toml)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newDeployCmd())
	rootCmd.AddCommand(newRollbackCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newRoutesCmd())
	rootCmd.AddCommand(newSecretsCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// SetVersionInfo sets the version information for the CLI.
func SetVersionInfo(version, commit, date string) {
	Version = version
	Commit = commit
	BuildDate = date
}

func configPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	return path
}
