package cli

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

// newRollbackCmd creates the rollback command.
func newRollbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <service>",
		Short: "Roll a service back to its last healthy deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient(configPath(cmd))
			if err != nil {
				return err
			}

			var dep deploymentView
			err = client.call(cmd.Context(), http.MethodPost, "/api/v1/rollback",
				map[string]string{"service": args[0]}, &dep)
			if err != nil {
				return err
			}

			fmt.Println("rollback succeeded")
			printDeployment(dep)
			return nil
		},
	}
}
