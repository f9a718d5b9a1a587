package cmd

import (
	"log"

	"github.com/josephlewis42/jobsh/core/config"
	"github.com/spf13/cobra"
)

var printDefault bool

// initCmd intializes the shell configuration
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the configuration and SSH host key in the config directory.",
	Args:  cobra.ExactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		if printDefault {
			return config.WriteDefault(cmd.OutOrStdout())
		}

		logger := log.New(cmd.ErrOrStderr(), "", 0)

		_, err := config.Initialize(cfgPath, logger)
		return err
	},
}

func init() {
	initCmd.Flags().BoolVar(&printDefault, "print", false, "print the default configuration instead of writing it")
	rootCmd.AddCommand(initCmd)
}
