package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/jscraik/ralph-gold/internal/notify"
	"github.com/jscraik/ralph-gold/internal/rlog"
	"github.com/jscraik/ralph-gold/internal/supervisor"
)

var flagNotifyArgv []string

func init() {
	superviseCmd := &cobra.Command{
		Use:   "supervise",
		Short: "Run the long-running supervisor: heartbeats, rate-limit policy, notifications",
		RunE:  runSupervise,
	}
	superviseCmd.Flags().StringSliceVar(&flagNotifyArgv, "notify-argv", nil, "override argv for the Notifier backend")
	rootCmd.AddCommand(superviseCmd)
}

func runSupervise(cmd *cobra.Command, args []string) error {
	w, err := wire(flagProjectRoot)
	if err != nil {
		return err
	}
	logger := rlog.New(rlog.Verbosity(w.Config.Output.Verbosity))
	notifier := notify.New(flagNotifyArgv)

	sup := supervisor.New(w.Engine, w.Tracker, w.Config.Loop, notifier, logger, flagAgent)
	reason, runErr := sup.Run(context.Background(), nil)
	code := supervisor.ExitCode(reason, runErr)
	if runErr != nil {
		logger.Error("%v", runErr)
	} else {
		logger.Status("supervisor stopped: reason=%s", reason)
	}
	if code != 0 {
		os.Exit(code)
	}
	return nil
}
