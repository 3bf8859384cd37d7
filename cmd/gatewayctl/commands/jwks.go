package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/mocko-designs/gateway/internal/config"
	"github.com/mocko-designs/gateway/internal/services/oidc"
	"github.com/spf13/cobra"
)

// NewJWKSCmd creates the jwks command
func NewJWKSCmd() *cobra.Command {
	var jwksURL string
	var issuer string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "jwks",
		Short: "Fetch signing keys",
		Long:  "Fetch a JSON Web Key Set and list its key ids. With --issuer the JWKS URL is discovered from the issuer.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			client := &http.Client{Timeout: timeout}

			if issuer != "" {
				doc, err := oidc.Discover(ctx, client, issuer)
				if err != nil {
					return err
				}
				jwksURL = doc.JWKSURI
			}
			if jwksURL == "" {
				jwksURL = os.Getenv("JWKS_URL")
			}
			if jwksURL == "" {
				jwksURL = config.DefaultJWKSURL
			}

			keys, err := oidc.NewJWKSManager(oidc.WithHTTPClient(client)).GetJWKS(ctx, jwksURL)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "JWKS: %s\n", jwksURL)
			fmt.Fprintf(out, "Keys: %d\n\n", keys.Len())

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KID\tTYPE\tALG\tUSE")
			for i := 0; i < keys.Len(); i++ {
				key, ok := keys.Key(i)
				if !ok {
					continue
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", key.KeyID(), key.KeyType(), key.Algorithm(), key.KeyUsage())
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&jwksURL, "url", "", "JWKS URL (default $JWKS_URL or Google's certs endpoint)")
	cmd.Flags().StringVar(&issuer, "issuer", "", "Discover the JWKS URL from this issuer")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Request timeout")

	return cmd
}
