package main

import (
	"fmt"
	"os"

	"github.com/mocko-designs/gateway/cmd/gatewayctl/commands"
	"github.com/spf13/cobra"
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "gatewayctl",
		Short: "Operator tool for the API gateway",
		Long:  "Inspect the gateway routing table, signing keys and ID tokens",
	}

	rootCmd.AddCommand(commands.NewRoutesCmd())
	rootCmd.AddCommand(commands.NewJWKSCmd())
	rootCmd.AddCommand(commands.NewInspectCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
