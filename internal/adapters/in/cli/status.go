package cli

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

// newStatusCmd creates the status command.
func newStatusCmd() *cobra.Command {
	var history bool

	cmd := &cobra.Command{
		Use:   "status <service>",
		Short: "Show the current deployment of a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient(configPath(cmd))
			if err != nil {
				return err
			}

			if history {
				var resp struct {
					Deployments []deploymentView `json:"deployments"`
				}
				if err := client.call(cmd.Context(), http.MethodGet, "/api/v1/history/"+args[0], nil, &resp); err != nil {
					return err
				}
				for i, dep := range resp.Deployments {
					if i > 0 {
						fmt.Println()
					}
					printDeployment(dep)
				}
				return nil
			}

			var dep deploymentView
			if err := client.call(cmd.Context(), http.MethodGet, "/api/v1/status/"+args[0], nil, &dep); err != nil {
				return err
			}
			printDeployment(dep)
			return nil
		},
	}

	cmd.Flags().BoolVar(&history, "history", false, "show the full deployment history")
	return cmd
}
