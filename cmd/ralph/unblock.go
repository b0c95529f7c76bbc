package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jscraik/ralph-gold/internal/adaptive"
	"github.com/jscraik/ralph-gold/internal/rlog"
	"github.com/jscraik/ralph-gold/internal/state"
)

var flagUnblockAll bool

func init() {
	unblockCmd := &cobra.Command{
		Use:   "unblock [task-id]",
		Short: "List blocked tasks, or unblock one / all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runUnblock,
	}
	unblockCmd.Flags().BoolVar(&flagUnblockAll, "all", false, "unblock every blocked task")
	rootCmd.AddCommand(unblockCmd)
}

func runUnblock(cmd *cobra.Command, args []string) error {
	w, err := wire(flagProjectRoot)
	if err != nil {
		return err
	}
	logger := rlog.New(rlog.Verbosity(w.Config.Output.Verbosity))

	if len(args) == 0 && !flagUnblockAll {
		st, err := w.Store.Load()
		if err != nil {
			return err
		}
		for _, report := range adaptive.ListBlocked(st) {
			fmt.Printf("%s\t%s\t%s\tattempts=%d\tblocked_at=%s\n",
				report.TaskID, report.Classified, report.Reason, report.AttemptCount, report.BlockedAt.Format("2006-01-02T15:04:05Z"))
		}
		return nil
	}

	if flagUnblockAll {
		var unblocked []string
		if _, err := w.Store.Mutate(func(st *state.PersistentState) error {
			unblocked = adaptive.UnblockAll(st, w.Tracker, nil)
			return nil
		}); err != nil {
			return err
		}
		logger.Status("unblocked %d task(s): %v", len(unblocked), unblocked)
		return nil
	}

	taskID := args[0]
	var did bool
	if _, err := w.Store.Mutate(func(st *state.PersistentState) error {
		did = adaptive.Unblock(st, w.Tracker, taskID)
		return nil
	}); err != nil {
		return err
	}
	if did {
		logger.Status("unblocked %s", taskID)
	} else {
		logger.Warn("%s was not blocked", taskID)
	}
	return nil
}
