package engine

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jscraik/ralph-gold/internal/config"
	"github.com/jscraik/ralph-gold/internal/state"
)

// fakeTracker is a minimal in-memory tracker.Tracker double, in the style of
// the githubissues package's fakeAPI: the engine only ever depends on the
// interface, so tests never need a real PRD file.
type fakeTracker struct {
	task         state.Task
	hasTask      bool
	done         map[string]bool
	blocked      map[string]string
	forcedOpen   []string
	reopened     bool
}

func newFakeTracker(task state.Task) *fakeTracker {
	return &fakeTracker{task: task, hasTask: true, done: map[string]bool{}, blocked: map[string]string{}}
}

func (f *fakeTracker) PeekNextTask(exclude map[string]struct{}) (state.Task, bool) { return f.task, f.hasTask }
func (f *fakeTracker) ClaimNextTask() (state.Task, bool)                          { return f.task, f.hasTask }
func (f *fakeTracker) Counts() (int, int)                                        { return 0, 1 }
func (f *fakeTracker) AllDone() bool                                             { return false }
func (f *fakeTracker) AllBlocked() bool                                          { return false }
func (f *fakeTracker) IsTaskDone(id string) bool                                 { return f.done[id] }
func (f *fakeTracker) ForceTaskOpen(id string) bool {
	f.forcedOpen = append(f.forcedOpen, id)
	f.done[id] = false
	f.reopened = true
	return true
}
func (f *fakeTracker) BlockTask(id, reason string) bool {
	f.blocked[id] = reason
	return true
}
func (f *fakeTracker) BranchName() (string, bool)                     { return "", false }
func (f *fakeTracker) GetParallelGroups() map[string][]state.Task     { return nil }

// markingTracker adds the optional taskDoneMarker capability (spec.md §4.C's
// GitHub Issues close/comment/relabel-on-done write) on top of fakeTracker,
// in the style of the githubissues package's own MarkTaskDone.
type markingTracker struct {
	*fakeTracker
	marked []string
}

func (f *markingTracker) MarkTaskDone(id string) bool {
	f.marked = append(f.marked, id)
	return true
}

func initGitRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	run("init")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("seed\n"), 0o644))
	run("add", ".")
	run("commit", "-m", "seed")
	return dir
}

func baseConfig(agentScript string) config.Config {
	cfg := config.Default()
	cfg.Runners = map[string]config.RunnerConfig{
		"test-agent": {Argv: []string{"sh", "-c", agentScript, "{prompt}"}},
	}
	cfg.Loop.RunnerTimeoutSeconds = 10
	cfg.Loop.MaxAttemptsPerTask = 3
	return cfg
}

func newEngine(t *testing.T, dir string, cfg config.Config, trk *fakeTracker) *Engine {
	t.Helper()
	store := state.NewStore(filepath.Join(dir, ".ralph"))
	return New(cfg, store, trk, dir)
}

func TestRunHappyPathSingleTaskCompletes(t *testing.T) {
	dir := initGitRepo(t)
	cfg := baseConfig(`echo "EXIT_SIGNAL: true"; touch x.txt`)
	cfg.Gates.Commands = []string{"true"}
	trk := newFakeTracker(state.Task{ID: "1", Title: "hello", Status: state.StatusOpen})

	e := newEngine(t, dir, cfg, trk)
	result, err := e.Run(context.Background(), "test-agent", "")
	require.NoError(t, err)

	require.Equal(t, 1, result.Iteration)
	require.Equal(t, "1", result.TaskID)
	require.Equal(t, state.True, result.GatesOk)
	require.True(t, result.ProgressMade)
	require.False(t, result.RepoClean, "x.txt is untracked and uncommitted")
	require.Equal(t, state.True, result.ExitSignal)
	require.Equal(t, state.False, result.EffectiveExitSignal(), "completion cannot be claimed before the tree is clean")

	st, err := e.Store.Load()
	require.NoError(t, err)
	require.Len(t, st.History, 1)
	require.Equal(t, 1, st.History[0].Iteration)
}

func TestRunGateFailureReopensTask(t *testing.T) {
	dir := initGitRepo(t)
	cfg := baseConfig(`echo "EXIT_SIGNAL: true"`)
	cfg.Gates.Commands = []string{"false"}
	trk := newFakeTracker(state.Task{ID: "A", Title: "a", Status: state.StatusDone})
	trk.done["A"] = true

	e := newEngine(t, dir, cfg, trk)
	result, err := e.Run(context.Background(), "test-agent", "")
	require.NoError(t, err)

	require.Equal(t, state.False, result.GatesOk)
	require.Equal(t, state.False, result.EffectiveExitSignal())
	require.True(t, trk.reopened)
	require.False(t, trk.IsTaskDone("A"), "gate failure must reopen the task")
}

func TestRunRateLimitExceeded(t *testing.T) {
	dir := initGitRepo(t)
	cfg := baseConfig(`echo "EXIT_SIGNAL: false"`)
	cfg.Loop.RateLimitPerHour = 2
	trk := newFakeTracker(state.Task{ID: "1", Status: state.StatusOpen})
	e := newEngine(t, dir, cfg, trk)

	_, err := e.Run(context.Background(), "test-agent", "")
	require.NoError(t, err)
	_, err = e.Run(context.Background(), "test-agent", "")
	require.NoError(t, err)

	_, err = e.Run(context.Background(), "test-agent", "")
	require.Error(t, err)
	var rateErr *RateLimitExceededError
	require.ErrorAs(t, err, &rateErr)

	st, loadErr := e.Store.Load()
	require.NoError(t, loadErr)
	require.Len(t, st.Invocations, 2, "the third, rejected attempt must not be recorded")
}

func TestRunUnknownAgentIsFatal(t *testing.T) {
	dir := initGitRepo(t)
	cfg := baseConfig(`true`)
	trk := newFakeTracker(state.Task{ID: "1", Status: state.StatusOpen})
	e := newEngine(t, dir, cfg, trk)

	_, err := e.Run(context.Background(), "nonexistent-agent", "")
	require.Error(t, err)
	var unknownErr *UnknownAgentError
	require.ErrorAs(t, err, &unknownErr)
}

func TestRunNotAGitRepoIsFatal(t *testing.T) {
	dir := t.TempDir()
	cfg := baseConfig(`true`)
	trk := newFakeTracker(state.Task{ID: "1", Status: state.StatusOpen})
	e := newEngine(t, dir, cfg, trk)

	_, err := e.Run(context.Background(), "test-agent", "")
	require.ErrorIs(t, err, ErrNotAGitRepo)
}

func TestRunTaskOverrideIsRecordedEvenIfUnrecognized(t *testing.T) {
	dir := initGitRepo(t)
	cfg := baseConfig(`echo "EXIT_SIGNAL: false"`)
	trk := newFakeTracker(state.Task{ID: "other", Status: state.StatusOpen})
	e := newEngine(t, dir, cfg, trk)

	result, err := e.Run(context.Background(), "test-agent", "ghost-task")
	require.NoError(t, err)
	require.Equal(t, "ghost-task", result.TaskID)
}

func TestRunAttemptLimitBlocksTask(t *testing.T) {
	dir := initGitRepo(t)
	cfg := baseConfig(`echo "EXIT_SIGNAL: false"`)
	cfg.Loop.MaxAttemptsPerTask = 2
	trk := newFakeTracker(state.Task{ID: "stuck", Status: state.StatusOpen})
	e := newEngine(t, dir, cfg, trk)

	_, err := e.Run(context.Background(), "test-agent", "")
	require.NoError(t, err)
	require.Empty(t, trk.blocked)

	_, err = e.Run(context.Background(), "test-agent", "")
	require.NoError(t, err)
	require.Equal(t, "exceeded max_attempts_per_task (2)", trk.blocked["stuck"])

	st, loadErr := e.Store.Load()
	require.NoError(t, loadErr)
	_, ok := st.BlockedTasks["stuck"]
	require.True(t, ok)
}

func TestRunNoProgressIncrementsStreak(t *testing.T) {
	dir := initGitRepo(t)
	cfg := baseConfig(`echo "EXIT_SIGNAL: false"`)
	trk := newFakeTracker(state.Task{ID: "1", Status: state.StatusOpen})
	e := newEngine(t, dir, cfg, trk)

	r1, err := e.Run(context.Background(), "test-agent", "")
	require.NoError(t, err)
	require.Equal(t, 1, r1.NoProgressStreak)

	r2, err := e.Run(context.Background(), "test-agent", "")
	require.NoError(t, err)
	require.Equal(t, 2, r2.NoProgressStreak)
}

func TestRunTimeoutForcesExitSignalFalse(t *testing.T) {
	dir := initGitRepo(t)
	cfg := baseConfig(`echo "EXIT_SIGNAL: true"; sleep 5`)
	cfg.Loop.RunnerTimeoutSeconds = 1
	trk := newFakeTracker(state.Task{ID: "1", Status: state.StatusOpen})
	e := newEngine(t, dir, cfg, trk)

	result, err := e.Run(context.Background(), "test-agent", "")
	require.NoError(t, err)
	require.True(t, result.TimedOut)
	require.Equal(t, state.False, result.ExitSignal, "a timed-out agent can never claim completion")
}

func TestRunWritesReceiptsAndPromptAndLog(t *testing.T) {
	dir := initGitRepo(t)
	cfg := baseConfig(`echo "EXIT_SIGNAL: false"`)
	trk := newFakeTracker(state.Task{ID: "1", Title: "hello", Status: state.StatusOpen})
	e := newEngine(t, dir, cfg, trk)

	result, err := e.Run(context.Background(), "test-agent", "")
	require.NoError(t, err)

	require.FileExists(t, filepath.Join(dir, ".ralph", "prompt-iter0001.txt"))
	require.FileExists(t, result.LogPath)
	require.FileExists(t, filepath.Join(dir, ".ralph", "receipts", "1", "runner.json"))
	require.FileExists(t, filepath.Join(dir, ".ralph", "receipts", "1", "evidence.json"))
	require.FileExists(t, filepath.Join(dir, ".ralph", "receipts", "1", "no_files_written.json"))
}

func TestParseExitSignalLastMatchWins(t *testing.T) {
	require.Equal(t, state.True, parseExitSignal("EXIT_SIGNAL: false\nnoise\nEXIT_SIGNAL: true\n"))
	require.Equal(t, state.Absent, parseExitSignal("nothing relevant"))
}

func TestRunMarksTaskDoneOnlyWhenEffectiveExitSignalTrue(t *testing.T) {
	dir := initGitRepo(t)
	cfg := baseConfig(`git add -A && git commit -m done -q && echo "EXIT_SIGNAL: true"`)
	cfg.Gates.Commands = []string{"true"}
	trk := &markingTracker{fakeTracker: newFakeTracker(state.Task{ID: "1", Title: "hello", Status: state.StatusOpen})}

	e := newEngine(t, dir, cfg, trk)
	result, err := e.Run(context.Background(), "test-agent", "")
	require.NoError(t, err)

	require.True(t, result.RepoClean)
	require.Equal(t, state.True, result.EffectiveExitSignal())
	require.Equal(t, []string{"1"}, trk.marked, "a tracker implementing taskDoneMarker must be notified once the iteration's effective exit signal is true")
}

func TestRunDoesNotMarkTaskDoneWhenGatesFail(t *testing.T) {
	dir := initGitRepo(t)
	cfg := baseConfig(`git add -A && git commit -m done -q && echo "EXIT_SIGNAL: true"`)
	cfg.Gates.Commands = []string{"false"}
	trk := &markingTracker{fakeTracker: newFakeTracker(state.Task{ID: "1", Title: "hello", Status: state.StatusOpen})}

	e := newEngine(t, dir, cfg, trk)
	_, err := e.Run(context.Background(), "test-agent", "")
	require.NoError(t, err)
	require.Empty(t, trk.marked, "a gate failure must suppress the taskDoneMarker write just like it suppresses the effective exit signal")
}

func TestRunUsesAdaptiveTimeoutForComplexTask(t *testing.T) {
	dir := initGitRepo(t)
	// A UI-heavy task (>1.0 complexity multiplier) with a 2s sleep must
	// survive under the classified adaptive timeout even though the flat
	// runner_timeout_seconds below (1s) would otherwise kill it — proving
	// engine.Run's timeout comes from adaptive.Timeout, not
	// cfg.Loop.RunnerTimeoutSeconds directly.
	cfg := baseConfig(`sleep 2; echo "EXIT_SIGNAL: false"`)
	cfg.Loop.RunnerTimeoutSeconds = 1
	cfg.Adaptive.Enabled = true
	cfg.Adaptive.MinTimeout = 1
	cfg.Adaptive.MaxTimeout = 30
	trk := newFakeTracker(state.Task{ID: "1", Title: "build the dashboard chart component view", Status: state.StatusOpen})

	e := newEngine(t, dir, cfg, trk)
	result, err := e.Run(context.Background(), "test-agent", "")
	require.NoError(t, err)
	require.False(t, result.TimedOut, "a UI_HEAVY task's 3.0x multiplier must scale the 1s base past the 2s sleep")
}

func TestPruneOlderThanHourDropsStaleEntries(t *testing.T) {
	now := time.Now()
	old := now.Add(-2 * time.Hour).UnixMilli()
	recent := now.Add(-10 * time.Minute).UnixMilli()
	kept := pruneOlderThanHour([]int64{old, recent}, now)
	require.Equal(t, []int64{recent}, kept)
}
