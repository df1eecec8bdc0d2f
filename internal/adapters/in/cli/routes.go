package cli

import (
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// newRoutesCmd creates the routes command.
func newRoutesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "List the currently active routes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient(configPath(cmd))
			if err != nil {
				return err
			}

			var resp struct {
				Routes []routeView `json:"routes"`
			}
			if err := client.call(cmd.Context(), http.MethodGet, "/api/v1/routes", nil, &resp); err != nil {
				return err
			}

			if len(resp.Routes) == 0 {
				fmt.Println("no active routes")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "HOST\tSERVICE\tENTRYPOINT\tCERT RESOLVER")
			for _, route := range resp.Routes {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", route.Host, route.Service, route.Entrypoint, route.CertResolver)
			}
			return w.Flush()
		},
	}
}
