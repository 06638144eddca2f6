package main

import (
	"fmt"

	"github.com/marmos91/dittovault/pkg/config"
	"github.com/spf13/cobra"
)

var initForce bool

func newInitCmd() *cobra.Command {
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Long: `Write a commented default configuration file.

The file goes to --config when given, otherwise to the default location.`,
		Args: cobra.NoArgs,
		RunE: runInit,
	}
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite an existing file")
	return initCmd
}

func runInit(cmd *cobra.Command, args []string) error {
	path := cfgFile
	if path == "" {
		var err error
		if path, err = config.InitConfig(initForce); err != nil {
			return err
		}
	} else if err := config.InitConfigToPath(path, initForce); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
	return nil
}
