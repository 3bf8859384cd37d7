package commands

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/mocko-designs/gateway/internal/config"
	"github.com/mocko-designs/gateway/internal/proxy"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// NewRoutesCmd creates the routes command
func NewRoutesCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "routes",
		Short: "Print the routing table",
		Long:  "Print the gateway routing table with upstream base URLs taken from DESIGN, UPLOAD and SUBSCRIPTION",
		RunE: func(cmd *cobra.Command, args []string) error {
			routes, err := proxy.BindRoutes(proxy.DefaultRoutes(), config.UpstreamsFromEnv(), 0)
			if err != nil {
				return fmt.Errorf("failed to bind routes: %w", err)
			}

			switch output {
			case "table":
				return writeRoutesTable(cmd.OutOrStdout(), routes)
			case "yaml":
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				defer func() { _ = enc.Close() }()
				return enc.Encode(map[string][]proxy.Route{"routes": routes})
			default:
				return fmt.Errorf("unknown output format %q (want table or yaml)", output)
			}
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table or yaml")

	return cmd
}

func writeRoutesTable(out io.Writer, routes []proxy.Route) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PREFIX\tSERVICE\tUPSTREAM\tBODY\tTIMEOUT")
	for _, route := range routes {
		upstream := route.BaseURL
		if upstream == "" {
			upstream = "not configured"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", route.Prefix, route.ServiceName, upstream, route.BodyMode, route.Timeout)
	}
	return tw.Flush()
}
