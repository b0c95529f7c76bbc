// Package looprunner implements the Loop Driver (spec.md §4.H): a bounded
// sequential run over the Iteration Engine, stopping on no-progress or
// completion. It is deliberately thin — the Supervisor (internal/supervisor)
// layers heartbeats, rate-limit policy, and notifications on top of it.
package looprunner

import (
	"context"
	"time"

	"github.com/jscraik/ralph-gold/internal/config"
	"github.com/jscraik/ralph-gold/internal/engine"
	"github.com/jscraik/ralph-gold/internal/state"
	"github.com/jscraik/ralph-gold/internal/tracker"
)

// StopReason names why Run stopped.
type StopReason string

const (
	StopNoProgress StopReason = "no_progress"
	StopComplete   StopReason = "complete"
	StopExhausted  StopReason = "exhausted" // max_iterations reached with neither of the above
)

// Result summarizes a bounded loop run.
type Result struct {
	Reason     StopReason
	Iterations []state.IterationResult
}

// Run implements run_loop(root, agent, max_iterations?): it first resets the
// persisted noProgressStreak to 0, then runs iterations and checks the stop
// conditions after each one. limit <= 0 means unbounded
// (loop.max_iterations == 0, "run until a stop condition").
// onIteration, when non-nil, is invoked after every completed iteration so a
// caller can drive a live status line without waiting for Run to return.
func Run(ctx context.Context, e *engine.Engine, trk tracker.Tracker, cfg config.LoopConfig, agentName string, limit int, onIteration func(state.IterationResult)) (Result, error) {
	result := Result{Reason: StopExhausted}

	if _, err := e.Store.Mutate(func(s *state.PersistentState) error {
		s.NoProgressStreak = 0
		return nil
	}); err != nil {
		return result, err
	}

	for offset := 0; limit <= 0 || offset < limit; offset++ {
		iterResult, err := e.Run(ctx, agentName, "")
		if err != nil {
			return result, err
		}
		result.Iterations = append(result.Iterations, iterResult)
		if onIteration != nil {
			onIteration(iterResult)
		}

		if iterResult.NoProgressStreak >= cfg.NoProgressLimit && cfg.NoProgressLimit > 0 {
			result.Reason = StopNoProgress
			return result, nil
		}
		if trk.AllDone() && iterResult.EffectiveExitSignal().IsTrue() {
			result.Reason = StopComplete
			return result, nil
		}

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(time.Duration(cfg.SleepSecondsBetweenIters) * time.Second):
		}
	}

	return result, nil
}

// Resume is the original_source/resume.py supplement named in SPEC_FULL.md
// §5: given a project root's state store, report the iteration number a
// fresh Run should continue from, so a crashed or Ctrl-C'd loop picks up
// monotonic numbering instead of restarting at 1.
func Resume(store *state.Store) (nextIteration int, err error) {
	st, err := store.Load()
	if err != nil {
		return 0, err
	}
	return st.LastIteration() + 1, nil
}
