package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jscraik/ralph-gold/internal/rlog"
	"github.com/jscraik/ralph-gold/internal/watch"
)

var flagWatchAutoCommit bool

func init() {
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch for file changes and run gates (+ optional auto-commit)",
		RunE:  runWatch,
	}
	watchCmd.Flags().BoolVar(&flagWatchAutoCommit, "auto-commit", false, "commit after a passing gate run (overrides watch.auto_commit)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	w, err := wire(flagProjectRoot)
	if err != nil {
		return err
	}
	logger := rlog.New(rlog.Verbosity(w.Config.Output.Verbosity))

	autoCommit := w.Config.Watch.AutoCommit || flagWatchAutoCommit
	gateTimeout := time.Duration(w.Config.Loop.RunnerTimeoutSeconds) * time.Second

	cb := watch.GateCallback(w.Root, w.Config.Gates.Commands, w.Config.Gates.FailFast, gateTimeout, autoCommit, logger)
	opts := watch.Options{
		Root:      w.Root,
		Patterns:  w.Config.Watch.Patterns,
		Debounce:  time.Duration(w.Config.Watch.DebounceMs) * time.Millisecond,
		PollEvery: time.Duration(w.Config.Watch.PollSeconds) * time.Second,
	}

	logger.Status("watch: watching %s (patterns=%v, auto_commit=%v)", w.Root, opts.Patterns, autoCommit)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		if sig, ok := <-sigCh; ok {
			logger.Status("watch: received %v, stopping", sig)
			cancel()
		}
	}()

	if err := watch.Run(ctx, opts, cb); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
