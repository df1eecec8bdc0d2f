package cli

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

// newDeployCmd creates the deploy command.
func newDeployCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deploy <service> [image]",
		Short: "Roll a service out to a new image",
		Long: `Triggers a rollout of the given service. With an image argument the
descriptor's declared image is overridden for this rollout; without one
the declared image is re-resolved and deployed.

Examples:
  caravel deploy api
  caravel deploy api registry.example.com/api:v42`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient(configPath(cmd))
			if err != nil {
				return err
			}

			image := ""
			if len(args) > 1 {
				image = args[1]
			}

			var dep deploymentView
			err = client.call(cmd.Context(), http.MethodPost, "/api/v1/deploy",
				map[string]string{"service": args[0], "image": image}, &dep)
			if err != nil {
				return err
			}

			fmt.Println("deploy succeeded")
			printDeployment(dep)
			return nil
		},
	}
}
