package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version é sobrescrito no build: -ldflags "-X main.Version=1.2.0".
var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "gateway",
		Short:         "Webhook ingress gateway (signature, rate limit, anti-loop, forward)",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(signCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the gateway version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	}
}
