package cli

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

// newSecretsCmd creates the secrets command group.
func newSecretsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage service-scoped secrets",
	}
	cmd.AddCommand(newSecretsSetCmd())
	cmd.AddCommand(newSecretsListCmd())
	cmd.AddCommand(newSecretsDeleteCmd())
	return cmd
}

func newSecretsSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <service> KEY=VALUE [KEY=VALUE...]",
		Short: "Set secrets for a service",
		Long: `Sets one or more secrets in a service's scope. Values are injected into
the service's containers at start time and never logged.

Example:
  caravel secrets set api DATABASE_URL=postgres://db/app API_KEY=s3cret`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			service := args[0]
			values := make(map[string]string, len(args)-1)
			for _, pair := range args[1:] {
				key, value, ok := strings.Cut(pair, "=")
				if !ok || key == "" {
					return fmt.Errorf("invalid secret %q, expected KEY=VALUE", pair)
				}
				values[key] = value
			}

			client, err := newAPIClient(configPath(cmd))
			if err != nil {
				return err
			}
			if err := client.call(cmd.Context(), http.MethodPost, "/api/v1/secrets/"+service, values, nil); err != nil {
				return err
			}

			fmt.Printf("%d secret(s) set for %s\n", len(values), service)
			return nil
		},
	}
}

func newSecretsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <service>",
		Short: "List secret keys of a service (values are never shown)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient(configPath(cmd))
			if err != nil {
				return err
			}

			var resp struct {
				Keys []string `json:"keys"`
			}
			if err := client.call(cmd.Context(), http.MethodGet, "/api/v1/secrets/"+args[0], nil, &resp); err != nil {
				return err
			}

			if len(resp.Keys) == 0 {
				fmt.Printf("no secrets for %s\n", args[0])
				return nil
			}
			for _, key := range resp.Keys {
				fmt.Println(key)
			}
			return nil
		},
	}
}

func newSecretsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <service> <key>",
		Short: "Delete one secret from a service's scope",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient(configPath(cmd))
			if err != nil {
				return err
			}
			if err := client.call(cmd.Context(), http.MethodDelete, "/api/v1/secrets/"+args[0]+"/"+args[1], nil, nil); err != nil {
				return err
			}

			fmt.Printf("secret %s deleted from %s\n", args[1], args[0])
			return nil
		},
	}
}
