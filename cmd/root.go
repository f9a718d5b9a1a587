package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"

	"github.com/josephlewis42/jobsh/core/config"
	"github.com/josephlewis42/jobsh/core/logger"
	"github.com/josephlewis42/jobsh/core/shell"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	cfgPath     string
	commandLine string

	// exitCode is the status of the last shell run by the root command.
	exitCode int
)

func loadConfig() (*config.Configuration, error) {
	configuration, err := config.Load(cfgPath)

	if errors.Is(err, fs.ErrNotExist) {
		log.Println("Couldn't load config: did you run init?")
	}

	return configuration, err
}

// openEventLog returns the configured event logger and a func to close it.
func openEventLog(configuration *config.Configuration) (*logger.Logger, func(), error) {
	if !configuration.EventLogEnabled() {
		return logger.Nop(), func() {}, nil
	}

	fd, err := configuration.OpenEventLog()
	if err != nil {
		return nil, nil, fmt.Errorf("open event log: %w", err)
	}

	eventLog := logger.NewJsonLinesLogRecorder(fd)
	return eventLog, func() {
		eventLog.Sync()
		fd.Close()
	}, nil
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "jobsh [script]",
	Short: "A job-control shell",
	Long: `jobsh runs programs and pipelines as jobs that can be stopped,
resumed and moved between the foreground and background.

With -c it runs a single line. Without a terminal, or given a script, it
reads commands one line at a time.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		configuration, err := loadConfig()
		if err != nil {
			return err
		}

		eventLog, closeLog, err := openEventLog(configuration)
		if err != nil {
			return err
		}
		defer closeLog()

		script := os.Stdin
		if len(args) == 1 {
			script, err = os.Open(args[0])
			if err != nil {
				return err
			}
			defer script.Close()
		}

		interactive := !cmd.Flags().Changed("command") && len(args) == 0 && term.IsTerminal(int(os.Stdin.Fd()))
		sh, err := shell.New(shell.Options{
			Stdin:       os.Stdin,
			Stdout:      os.Stdout,
			Stderr:      os.Stderr,
			Config:      configuration,
			Logger:      eventLog,
			Interactive: interactive,
		})
		if err != nil {
			return err
		}
		defer sh.Close()

		switch {
		case cmd.Flags().Changed("command"):
			exitCode = sh.RunCommand(commandLine)
		case sh.Interactive():
			exitCode = sh.RunInteractive()
		default:
			exitCode = sh.RunScript(script)
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
	os.Exit(exitCode)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", ".", "config path")
	rootCmd.Flags().StringVarP(&commandLine, "command", "c", "", "run a single command line and exit")
}
