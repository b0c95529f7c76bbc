// Package engine implements the Iteration Engine (spec.md §4.G): the single
// scheduler step that selects one task, builds and runs an agent subprocess,
// verifies the result against gates (and optional judge/review passes), and
// atomically updates .ralph/state.json. It is the one package every other
// driver (looprunner, supervisor, parallel) calls into; none of them touch
// the tracker, prompt, agent or gate packages directly.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/jscraik/ralph-gold/internal/adaptive"
	"github.com/jscraik/ralph-gold/internal/agent"
	"github.com/jscraik/ralph-gold/internal/config"
	"github.com/jscraik/ralph-gold/internal/gate"
	"github.com/jscraik/ralph-gold/internal/prompt"
	"github.com/jscraik/ralph-gold/internal/state"
	"github.com/jscraik/ralph-gold/internal/tracker"
)

// RateLimitExceededError is spec.md §7's RateLimitExceeded: surfaced with a
// wait hint so a caller (the Supervisor) can choose to sleep or stop.
type RateLimitExceededError struct {
	RetryAfter time.Duration
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("engine: rate limit exceeded, retry after %s", e.RetryAfter.Round(time.Second))
}

// UnknownAgentError is spec.md §7's UnknownAgent: the configured runner name
// has no argv template, fatal per invocation.
type UnknownAgentError struct{ Agent string }

func (e *UnknownAgentError) Error() string { return "engine: unknown agent " + e.Agent }

// exitSignalPattern implements spec.md §6's exit-signal protocol:
// /^EXIT_SIGNAL:\s*(true|false)\s*$/im, last match wins.
var exitSignalPattern = regexp.MustCompile(`(?im)^EXIT_SIGNAL:\s*(true|false)\s*$`)

// Engine runs one iteration at a time against a single project root. It
// holds no iteration-to-iteration memory of its own beyond what Store
// persists: every Run call reloads state fresh, per spec.md §4.H's
// shared-resource policy ("state.json is mutated only by the iteration
// engine on the main loop path").
type Engine struct {
	Config      config.Config
	Store       *state.Store
	Tracker     tracker.Tracker
	ProjectRoot string
	RalphDir    string

	judge  gate.AgentRunner
	review gate.ReviewRunner
	slo    *adaptive.SLOTracker
}

// New wires an Engine to a loaded config, a state store, and a tracker. All
// three are expected to already be constructed against the same project
// root (config.LoadConfig, state.NewStore, tracker.New). The Engine keeps
// its own SLOTracker across Run calls (one per process, not per iteration)
// so §4.L's SLO feedback loop accumulates observed durations the way the
// original_source/slo.py supplement does.
func New(cfg config.Config, store *state.Store, trk tracker.Tracker, projectRoot string) *Engine {
	runAgent := gate.RunAgent(cfg.Runners, cfg.Loop.RunnerTimeoutSeconds)
	return &Engine{
		Config:      cfg,
		Store:       store,
		Tracker:     trk,
		ProjectRoot: projectRoot,
		RalphDir:    filepath.Join(projectRoot, ".ralph"),
		judge:       runAgent,
		review:      gate.NewReviewRunner(cfg.Gates.Review, runAgent),
		slo:         adaptive.NewSLOTracker(cfg.Adaptive.SLOWindow),
	}
}

// taskDoneMarker is the narrow capability a tracker backend may optionally
// implement to mark a task done as a side effect of a completed iteration
// (the GitHub Issues backend's close/comment/relabel-on-done). File-backed
// trackers have no equivalent write — the coding agent edits their status
// directly — so this is a type assertion, not part of tracker.Tracker.
type taskDoneMarker interface {
	MarkTaskDone(id string) bool
}

// Run executes one full iteration per spec.md §4.G's 13 steps for the named
// agent. taskOverride, if non-empty, is used in place of
// tracker.ClaimNextTask() (step 2): the ID is recorded in the result even if
// the tracker does not recognize it, per the documented edge case.
func (e *Engine) Run(ctx context.Context, agentName, taskOverride string) (state.IterationResult, error) {
	// Step 1: pre-checks.
	if !isGitRepo(e.ProjectRoot) {
		return state.IterationResult{}, ErrNotAGitRepo
	}
	st, err := e.Store.Load()
	if err != nil {
		return state.IterationResult{}, fmt.Errorf("engine: load state: %w", err)
	}
	if e.Config.Loop.RateLimitPerHour > 0 {
		now := time.Now()
		kept := pruneOlderThanHour(st.Invocations, now)
		if len(kept) >= e.Config.Loop.RateLimitPerHour {
			oldest := time.UnixMilli(kept[0])
			return state.IterationResult{}, &RateLimitExceededError{RetryAfter: oldest.Add(time.Hour).Sub(now)}
		}
	}

	iteration := st.LastIteration() + 1

	// Step 2: task selection.
	var task *state.Task
	var taskID string
	if taskOverride != "" {
		taskID = taskOverride
		task = &state.Task{ID: taskOverride, Title: taskOverride}
	} else if t, ok := e.Tracker.ClaimNextTask(); ok {
		taskCopy := t
		task = &taskCopy
		taskID = t.ID
	}

	// Step 3: prompt materialization.
	promptText, err := prompt.Build(e.Config, iteration, task)
	if err != nil {
		return state.IterationResult{}, fmt.Errorf("engine: build prompt: %w", err)
	}
	promptPath := filepath.Join(e.RalphDir, fmt.Sprintf("prompt-iter%04d.txt", iteration))
	if err := state.WriteAtomicBytes(promptPath, []byte(promptText)); err != nil {
		return state.IterationResult{}, fmt.Errorf("engine: write prompt: %w", err)
	}

	// Step 4: build argv.
	runnerCfg, ok := e.Config.Runners[agentName]
	if !ok {
		return state.IterationResult{}, &UnknownAgentError{Agent: agentName}
	}
	inv := agent.BuildInvocation(agent.KindFromName(agentName), promptText, runnerCfg.Argv)

	// Step 5: capture HEAD-before.
	headBefore, err := headCommit(e.ProjectRoot)
	if err != nil {
		return state.IterationResult{}, fmt.Errorf("engine: head before: %w", err)
	}

	// Step 6: execute agent.
	logPath := filepath.Join(e.RalphDir, "logs", logFileName(iteration, agentName))
	logFile, err := createLogFile(logPath)
	if err != nil {
		return state.IterationResult{}, fmt.Errorf("engine: create log file: %w", err)
	}
	defer logFile.Close()

	// Adaptive timeout (spec.md §4.L): classify the claimed task's
	// complexity, look up its attempt count so far for the failure-scaling
	// term, and fold in the SLOTracker's chronically-tight-timeout signal
	// when adaptive.slo_enabled.
	level := adaptive.Simple
	if task != nil {
		level = adaptive.EstimateComplexity(*task)
	}
	previousFailures := 0
	if taskID != "" {
		previousFailures = st.TaskAttempts[taskID].Count
	}
	timeout := adaptive.Timeout(e.Config.Adaptive, level, previousFailures, e.Config.Loop.RunnerTimeoutSeconds, e.slo)
	result, err := agent.Run(ctx, e.ProjectRoot, inv, timeout, logFile)
	if err != nil {
		return state.IterationResult{}, fmt.Errorf("engine: agent invocation: %w", err)
	}
	e.slo.Observe(level, result.Duration)

	// Step 7: run gates.
	gatesOk := state.Absent
	if len(e.Config.Gates.Commands) > 0 {
		report := gate.Run(ctx, e.ProjectRoot, e.Config.Gates.Commands, e.Config.Gates.FailFast, timeout)
		gatesOk = state.FromBool(report.Ok)
		fmt.Fprintf(logFile, "\n--- gates ---\n%s\n", gate.Summarize(report, e.Config.Gates.OutputMode, e.Config.Gates.MaxOutputLines))
		if !report.Ok && taskID != "" {
			e.Tracker.ForceTaskOpen(taskID)
		}
	}

	// Judge and review passes read the working-tree diff before it is
	// committed; both degrade to state.Absent when disabled or unreachable,
	// never fail the iteration outright.
	workingDiff := diff(e.ProjectRoot)
	judgeOk, judgeOut, err := gate.Judge(ctx, e.ProjectRoot, e.Config.Gates.LLMJudge, workingDiff, e.judge)
	if err != nil {
		fmt.Fprintf(logFile, "\n--- judge error ---\n%s\n", err)
	} else if judgeOut != "" {
		fmt.Fprintf(logFile, "\n--- judge ---\n%s\n", judgeOut)
	}
	reviewOk, reviewOut, err := e.review.Review(ctx, e.ProjectRoot, workingDiff)
	if err != nil {
		fmt.Fprintf(logFile, "\n--- review error ---\n%s\n", err)
	} else if reviewOut != "" {
		fmt.Fprintf(logFile, "\n--- review ---\n%s\n", reviewOut)
	}

	// Step 8: capture HEAD-after and cleanness.
	headAfter, err := headCommit(e.ProjectRoot)
	if err != nil {
		return state.IterationResult{}, fmt.Errorf("engine: head after: %w", err)
	}
	repoClean, err := isRepoClean(e.ProjectRoot)
	if err != nil {
		return state.IterationResult{}, fmt.Errorf("engine: repo clean check: %w", err)
	}
	progressMade := headAfter != headBefore || !repoClean

	// Step 9: parse exit signal.
	exitSignal := parseExitSignal(result.CombinedOutput)
	if result.TimedOut {
		exitSignal = state.False
	}

	runID := uuid.New().String()
	iterResult := state.IterationResult{
		Iteration:        iteration,
		RunID:            runID,
		Agent:            agentName,
		TaskID:           taskID,
		ExitSignal:       exitSignal,
		ReturnCode:       result.ReturnCode,
		TimedOut:         result.TimedOut,
		LogPath:          logPath,
		ProgressMade:     progressMade,
		NoProgressStreak: nextNoProgressStreak(st.NoProgressStreak, progressMade),
		GatesOk:          gatesOk,
		RepoClean:        repoClean,
		JudgeOk:          judgeOk,
		ReviewOk:         reviewOk,
		DurationSeconds:  result.Duration.Seconds(),
	}
	// Step 10: effective exit signal is computed on demand by callers via
	// iterResult.EffectiveExitSignal(); nothing to store, it is derived.
	//
	// Backends that need an explicit write on completion (GitHub Issues'
	// close/comment/relabel) get it here, gated on the same effective
	// exit signal every other safety check uses.
	if taskID != "" && iterResult.EffectiveExitSignal().IsTrue() {
		if marker, ok := e.Tracker.(taskDoneMarker); ok {
			marker.MarkTaskDone(taskID)
		}
	}

	// Step 11: write receipts (the text log itself was already streamed to
	// logFile by agent.Run's tee, plus the gate/judge/review sections above).
	receipt := state.Receipt{
		Runner: state.RunnerReceipt{
			RunID:           runID,
			Argv:            inv.Argv,
			ReturnCode:      result.ReturnCode,
			TimedOut:        result.TimedOut,
			DurationSeconds: result.Duration.Seconds(),
		},
		Evidence:       state.EvidenceReceipt{CitationCount: countEvidence(result.CombinedOutput)},
		NoFilesWritten: !progressMade,
	}
	if err := state.WriteReceipt(e.RalphDir, iteration, receipt); err != nil {
		return state.IterationResult{}, fmt.Errorf("engine: write receipt: %w", err)
	}

	// Steps 12 & 13: state update plus attempts & blocking, all under one
	// atomic read-modify-write so a crash mid-update cannot desync
	// invocations/history from task_attempts/blocked_tasks.
	_, err = e.Store.Mutate(func(s *state.PersistentState) error {
		s.Invocations = append(s.Invocations, time.Now().UnixMilli())
		s.Invocations = pruneOlderThanHour(s.Invocations, time.Now())
		s.NoProgressStreak = iterResult.NoProgressStreak
		s.AppendHistory(iterResult)

		if taskID == "" {
			return nil
		}
		attempt := s.TaskAttempts[taskID]
		attempt.Count++
		s.TaskAttempts[taskID] = attempt

		taskDone := e.Tracker.IsTaskDone(taskID)
		if attempt.Count >= e.Config.Loop.MaxAttemptsPerTask && !taskDone {
			reason := fmt.Sprintf("exceeded max_attempts_per_task (%d)", e.Config.Loop.MaxAttemptsPerTask)
			e.Tracker.BlockTask(taskID, reason)
			s.BlockedTasks[taskID] = state.BlockedTask{BlockedAt: time.Now().UTC(), Reason: reason}
		}
		return nil
	})
	if err != nil {
		return state.IterationResult{}, fmt.Errorf("engine: update state: %w", err)
	}

	return iterResult, nil
}

func nextNoProgressStreak(current int, progressMade bool) int {
	if progressMade {
		return 0
	}
	return current + 1
}

func parseExitSignal(output string) state.TriState {
	matches := exitSignalPattern.FindAllStringSubmatch(output, -1)
	if len(matches) == 0 {
		return state.Absent
	}
	last := matches[len(matches)-1][1]
	if len(last) > 0 && (last[0] == 't' || last[0] == 'T') {
		return state.True
	}
	return state.False
}

func pruneOlderThanHour(invocations []int64, now time.Time) []int64 {
	cutoff := now.Add(-time.Hour).UnixMilli()
	kept := invocations[:0:0]
	for _, ts := range invocations {
		if ts >= cutoff {
			kept = append(kept, ts)
		}
	}
	return kept
}

func countEvidence(output string) int {
	var counter state.EvidenceCounter
	counter.Scan(output)
	return counter.Count()
}

func logFileName(iteration int, agentName string) string {
	return fmt.Sprintf("%s-iter%04d-%s.log", time.Now().UTC().Format("20060102T150405Z"), iteration, agentName)
}

func createLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.Create(path)
}
