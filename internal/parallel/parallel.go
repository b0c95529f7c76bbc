// Package parallel implements the Parallel Executor (spec.md §4.K): a
// bounded worker pool that runs the Iteration Engine against isolated
// worktrees, one task per worker, with failure isolation so one worker's
// crash never takes down its siblings.
package parallel

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/jscraik/ralph-gold/internal/config"
	"github.com/jscraik/ralph-gold/internal/engine"
	"github.com/jscraik/ralph-gold/internal/state"
	"github.com/jscraik/ralph-gold/internal/tracker"
	"github.com/jscraik/ralph-gold/internal/worktree"
)

// EngineFactory builds an Engine rooted at a worktree path, wired to the
// same config and a tracker scoped to that worktree. The Parallel Executor
// never touches internal/engine's constructor directly so tests can fake
// per-worker wiring without a real git worktree.
type EngineFactory func(workerRoot string, task state.Task) (*engine.Engine, error)

// Flatten implements step 2 of spec.md §4.K: tracker.get_parallel_groups(),
// flattened in a deterministic order. strategy="group" uses the same
// ordering as "queue" in v1, per the spec's documented deferral of
// groups-sequential-tasks-parallel scheduling.
func Flatten(groups map[string][]state.Task, strategy string) []state.Task {
	_ = strategy
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	var tasks []state.Task
	for _, name := range names {
		tasks = append(tasks, groups[name]...)
	}
	return tasks
}

// Run executes the full Parallel Executor algorithm. If the tracker returns
// no groups (or none at all), Run returns (nil, false, nil): the caller
// falls back to sequential mode, per spec.md §4.K step 1. The returned error
// aggregates every failing worker's error (via go-multierror) without
// discarding any successful worker's result; per spec.md invariant 10, the
// results slice always carries one entry per task regardless of failures.
// onWorkerDone, when non-nil, is invoked once per worker as soon as it
// completes (success or failure) — callers use it to drive a progress bar
// without waiting on the final barrier.
func Run(ctx context.Context, trk tracker.Tracker, cfg config.ParallelConfig, factory EngineFactory, worktreeRoot string, repoRoot string, agentName string, warn func(string), onWorkerDone func(state.WorkerState)) ([]state.WorkerState, bool, error) {
	groups := trk.GetParallelGroups()
	if len(groups) == 0 {
		return nil, false, nil
	}

	tasks := Flatten(groups, cfg.Strategy)
	if cfg.MaxTasks > 0 && len(tasks) > cfg.MaxTasks {
		if warn != nil {
			warn(fmt.Sprintf("parallel: truncating %d tasks to max_tasks=%d", len(tasks), cfg.MaxTasks))
		}
		tasks = tasks[:cfg.MaxTasks]
	}

	if cfg.MergePolicy == "auto_merge" && warn != nil {
		warn("parallel: merge_policy=auto_merge is not implemented; degrading to manual")
	}

	maxWorkers := cfg.MaxWorkers
	if maxWorkers < 1 {
		maxWorkers = 1
	}

	results := make([]state.WorkerState, len(tasks))
	sem := make(chan struct{}, maxWorkers)
	var wg sync.WaitGroup
	var errs *multierror.Error
	var mu sync.Mutex

	for i, task := range tasks {
		wg.Add(1)
		sem <- struct{}{}
		go func(workerID int, task state.Task) {
			defer wg.Done()
			defer func() { <-sem }()
			result := runWorker(ctx, factory, worktreeRoot, repoRoot, agentName, workerID, task)
			results[workerID] = result
			if result.Status == state.WorkerFailed {
				mu.Lock()
				errs = multierror.Append(errs, fmt.Errorf("worker %d (task %s): %s", workerID, task.ID, result.Error))
				mu.Unlock()
			}
			if onWorkerDone != nil {
				onWorkerDone(result)
			}
		}(i, task)
	}
	wg.Wait()

	return results, true, errs.ErrorOrNil()
}

func runWorker(ctx context.Context, factory EngineFactory, worktreeRoot, repoRoot, agentName string, workerID int, task state.Task) state.WorkerState {
	ws := state.WorkerState{WorkerID: workerID, Task: task, StartedAt: time.Now().UTC(), Status: state.WorkerRunning}

	path, branch, err := worktree.Create(repoRoot, worktreeRoot, workerID, task.ID)
	if err != nil {
		ws.Status = state.WorkerFailed
		ws.Error = err.Error()
		ws.CompletedAt = time.Now().UTC()
		return ws
	}
	ws.WorktreePath = path
	ws.BranchName = branch

	e, err := factory(path, task)
	if err != nil {
		ws.Status = state.WorkerFailed
		ws.Error = err.Error()
		ws.CompletedAt = time.Now().UTC()
		return ws
	}

	result, err := e.Run(ctx, agentName, task.ID)
	ws.CompletedAt = time.Now().UTC()
	if err != nil {
		ws.Status = state.WorkerFailed
		ws.Error = err.Error()
		return ws
	}
	ws.Result = &result
	ws.Status = state.WorkerSuccess
	return ws
}
