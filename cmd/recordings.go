package cmd

import (
	"fmt"
	"time"

	"github.com/josephlewis42/jobsh/core/ttylog"
	"github.com/spf13/cobra"
)

var idleTimeLimit time.Duration

var recordingsCmd = &cobra.Command{
	Use:     "recordings",
	Aliases: []string{"recording"},
	Short:   "Explore recorded SSH terminal sessions.",
}

var listRecordingsCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded sessions, oldest first.",
	Args:  cobra.ExactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		config, err := loadConfig()
		if err != nil {
			return err
		}

		names, err := config.ListRecordings()
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

// playCommand replays a session at the speed it was recorded.
var playCommand = &cobra.Command{
	Use:   "play NAME",
	Short: "Replay a recorded session in the terminal.",
	Long:  `Plays a recorded interactive session back to the current terminal.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		sink := ttylog.NewClientOutput(cmd.OutOrStdout())
		return replayRecording(args[0], ttylog.NewRealTimePlayback(idleTimeLimit, sink))
	},
}

var catCommand = &cobra.Command{
	Use:   "cat NAME",
	Short: "Print full output of a recorded session.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		return replayRecording(args[0], ttylog.NewClientOutput(cmd.OutOrStdout()))
	},
}

func replayRecording(name string, sink ttylog.LogSink) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}

	fd, err := config.OpenRecording(name)
	if err != nil {
		return err
	}
	defer fd.Close()

	return ttylog.Replay(ttylog.NewAsciicastLogSource(fd), sink)
}

func init() {
	rootCmd.AddCommand(recordingsCmd)
	recordingsCmd.AddCommand(listRecordingsCmd)
	recordingsCmd.AddCommand(playCommand)
	recordingsCmd.AddCommand(catCommand)

	playCommand.Flags().DurationVarP(&idleTimeLimit, "idle-time-limit", "i", 0, "limit replayed terminal inactivity to max seconds")
}
