package cli

import (
	"context"

	"github.com/spf13/cobra"

	"caravel/internal/app"
)

// newServeCmd creates the serve command.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the controller",
		Long:  `Start the deployment controller, its reverse proxy and the control API.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Run(context.Background(), configPath(cmd))
		},
	}
}
