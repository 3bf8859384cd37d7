package commands

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mocko-designs/gateway/internal/models"
	"github.com/mocko-designs/gateway/internal/services/oidc"
	"github.com/spf13/cobra"
)

// NewInspectCmd creates the inspect command
func NewInspectCmd() *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "inspect <token>",
		Short: "Decode an ID token without verifying it",
		Long: "Decode an ID token's header and claims and report how the gateway's time checks would judge it. " +
			"The signature is NOT verified; never trust the output for anything but debugging.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			if at != "" {
				parsed, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --at: %w", err)
				}
				now = parsed
			}

			token := strings.TrimSpace(strings.TrimPrefix(args[0], "Bearer "))
			preview, err := oidc.PreviewClaims(token)
			if err != nil {
				return err
			}
			kid, err := oidc.KeyID(token)
			if err != nil {
				return err
			}

			writePreview(cmd.OutOrStdout(), preview, kid, now)
			return nil
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "Evaluate time checks at this RFC3339 instant instead of now")

	return cmd
}

func writePreview(out io.Writer, p *models.ClaimPreview, kid string, now time.Time) {
	fmt.Fprintf(out, "kid:      %s\n", orNone(kid))
	fmt.Fprintf(out, "sub:      %s\n", orNone(p.Subject))
	fmt.Fprintf(out, "iss:      %s\n", orNone(p.Issuer))
	fmt.Fprintf(out, "aud:      %s\n", orNone(strings.Join(p.Audience, ", ")))
	fmt.Fprintf(out, "iat:      %s\n", formatInstant(p.IssuedAt))
	fmt.Fprintf(out, "exp:      %s\n", formatInstant(p.ExpiresAt))
	fmt.Fprintf(out, "now:      %s\n", now.UTC().Format(time.RFC3339))
	fmt.Fprintf(out, "verdict:  %s\n", timeVerdict(p, now))
}

// timeVerdict mirrors the verifier's time window checks
func timeVerdict(p *models.ClaimPreview, now time.Time) string {
	if !p.HasExpiry() {
		return "rejected: token has no expiry"
	}

	past := now.Sub(p.ExpiresAt)
	switch {
	case past > oidc.StaleTokenThreshold:
		return fmt.Sprintf("rejected: extremely stale, expired %s ago", past.Round(time.Second))
	case past > oidc.ClockSkewTolerance:
		return fmt.Sprintf("rejected: expired %s ago", past.Round(time.Second))
	}

	if !p.IssuedAt.IsZero() {
		if early := p.IssuedAt.Sub(now); early > oidc.ClockSkewTolerance {
			return fmt.Sprintf("rejected: issued %s in the future", early.Round(time.Second))
		}
	}

	if past > 0 {
		return fmt.Sprintf("accepted within clock skew tolerance, expired %s ago", past.Round(time.Second))
	}
	return fmt.Sprintf("accepted, expires in %s", (-past).Round(time.Second))
}

func formatInstant(t time.Time) string {
	if t.IsZero() {
		return "(none)"
	}
	return fmt.Sprintf("%s (%d)", t.UTC().Format(time.RFC3339), t.Unix())
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
