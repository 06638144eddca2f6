// dittovault runs a multi-tenant asset storage node.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var cfgFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dittovault",
		Short: "DittoVault - sharded asset storage node",
		Long: `DittoVault stores per-owner assets and their chunks across provisioned shards.

QUICK START:

  # Write a commented default configuration:
  dittovault init

  # Run the node:
  dittovault serve

  # Derive the principal for an operator key:
  dittovault identity derive --public-key-hex <hex>

For more help on any command, use: dittovault <command> --help`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default $XDG_CONFIG_HOME/dittovault/config.yaml)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newSnapshotCmd())
	rootCmd.AddCommand(newIdentityCmd())

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "dittovault %s (commit: %s, built: %s)\n", Version, Commit, BuildTime)
		},
	}
	rootCmd.AddCommand(versionCmd)

	return rootCmd
}
