package main

import (
	"context"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/jscraik/ralph-gold/internal/engine"
	"github.com/jscraik/ralph-gold/internal/parallel"
	"github.com/jscraik/ralph-gold/internal/rlog"
	"github.com/jscraik/ralph-gold/internal/state"
	"github.com/jscraik/ralph-gold/internal/tracker"
)

func init() {
	parallelCmd := &cobra.Command{
		Use:   "parallel",
		Short: "Run the parallel executor over isolated git worktrees",
		RunE:  runParallel,
	}
	rootCmd.AddCommand(parallelCmd)
}

func runParallel(cmd *cobra.Command, args []string) error {
	w, err := wire(flagProjectRoot)
	if err != nil {
		return err
	}
	logger := rlog.New(rlog.Verbosity(w.Config.Output.Verbosity))

	worktreeRoot := w.Config.Parallel.WorktreeRoot
	if !filepath.IsAbs(worktreeRoot) {
		worktreeRoot = filepath.Join(w.Root, worktreeRoot)
	}

	factory := func(workerRoot string, task state.Task) (*engine.Engine, error) {
		cfg := w.Config
		workerTrk, err := tracker.New(cfg.Tracker.Kind, workerRoot)
		if err != nil {
			return nil, err
		}
		store := state.NewStore(filepath.Join(workerRoot, ".ralph"))
		return engine.New(cfg, store, workerTrk, workerRoot), nil
	}

	warn := func(msg string) { logger.Warn("%s", msg) }

	total := len(parallel.Flatten(w.Tracker.GetParallelGroups(), w.Config.Parallel.Strategy))
	if w.Config.Parallel.MaxTasks > 0 && total > w.Config.Parallel.MaxTasks {
		total = w.Config.Parallel.MaxTasks
	}
	var bar *progressbar.ProgressBar
	if total > 0 {
		bar = progressbar.NewOptions(total,
			progressbar.OptionSetDescription("parallel workers"),
			progressbar.OptionShowCount(),
		)
	}
	onDone := func(ws state.WorkerState) {
		if bar != nil {
			_ = bar.Add(1)
		}
	}

	results, ran, err := parallel.Run(context.Background(), w.Tracker, w.Config.Parallel, factory, worktreeRoot, w.Root, flagAgent, warn, onDone)
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		logger.Warn("parallel: one or more workers failed: %v", err)
	}
	if !ran {
		logger.Status("parallel: tracker has no parallel groups, falling back to sequential loop")
		return runLoop(cmd, args)
	}

	succeeded, failed := 0, 0
	for _, r := range results {
		if r.Status == state.WorkerSuccess {
			succeeded++
		} else {
			failed++
		}
		logger.Status("worker %d task=%s status=%s worktree=%s", r.WorkerID, r.Task.ID, r.Status, r.WorktreePath)
	}
	logger.Status("parallel: %d succeeded, %d failed (merge policy: %s, merge manually with `git merge <branch>`)",
		succeeded, failed, w.Config.Parallel.MergePolicy)
	return nil
}
