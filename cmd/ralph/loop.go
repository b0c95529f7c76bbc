package main

import (
	"context"
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/jscraik/ralph-gold/internal/looprunner"
	"github.com/jscraik/ralph-gold/internal/rlog"
	"github.com/jscraik/ralph-gold/internal/state"
)

var flagMaxIterations int

func init() {
	loopCmd := &cobra.Command{
		Use:   "loop",
		Short: "Run a bounded sequential loop until a stop condition fires",
		RunE:  runLoop,
	}
	loopCmd.Flags().IntVar(&flagMaxIterations, "max-iterations", 0, "stop after this many iterations (0 = use loop.max_iterations; 0 there too = until no_progress/complete)")
	rootCmd.AddCommand(loopCmd)
}

func runLoop(cmd *cobra.Command, args []string) error {
	w, err := wire(flagProjectRoot)
	if err != nil {
		return err
	}
	logger := rlog.New(rlog.Verbosity(w.Config.Output.Verbosity))

	limit := flagMaxIterations
	if limit == 0 {
		limit = w.Config.Loop.MaxIterations
	}

	barTotal := limit
	if barTotal <= 0 {
		barTotal = -1 // unbounded: renders as a spinner
	}
	bar := progressbar.NewOptions(barTotal, progressbar.OptionSetDescription("iteration 0"))
	onIteration := func(r state.IterationResult) {
		bar.Describe(fmt.Sprintf("iteration %d (agent=%s exit=%s)", r.Iteration, r.Agent, r.ExitSignal))
		_ = bar.Add(1)
	}

	result, err := looprunner.Run(context.Background(), w.Engine, w.Tracker, w.Config.Loop, flagAgent, limit, onIteration)
	_ = bar.Finish()
	if err != nil {
		return err
	}
	logger.Status("loop stopped: reason=%s iterations=%d", result.Reason, len(result.Iterations))
	return nil
}
