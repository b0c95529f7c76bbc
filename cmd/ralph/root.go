package main

import (
	"github.com/spf13/cobra"

	// Blank-imported so each tracker backend's init() registers itself
	// with the compile-time registry (internal/tracker's New dispatches
	// on tracker.kind), per spec.md §9's registry-over-plugin-loading
	// design note.
	_ "github.com/jscraik/ralph-gold/internal/tracker/beads"
	_ "github.com/jscraik/ralph-gold/internal/tracker/githubissues"
	_ "github.com/jscraik/ralph-gold/internal/tracker/jsonprd"
	_ "github.com/jscraik/ralph-gold/internal/tracker/markdown"
	_ "github.com/jscraik/ralph-gold/internal/tracker/yamlprd"
)

var (
	flagAgent       string
	flagProjectRoot string
)

var rootCmd = &cobra.Command{
	Use:   "ralph",
	Short: "Ralph-Gold: drive an AI coding agent through a bounded iterative loop",
	Long: `ralph drives an external AI coding agent through a bounded iterative
loop until its task backlog is exhausted, quality gates pass, and the agent
signals completion.

Core commands:
  loop       Run a bounded sequential loop (run_loop)
  supervise  Run the long-running supervisor (heartbeats, notifications)
  parallel   Run the parallel executor over isolated worktrees
  snapshot   Create/list/rollback/cleanup named savepoints
  unblock    List or unblock tasks the engine has blocked
  watch      Watch for file changes and run gates (+ optional auto-commit)`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagAgent, "agent", "claude", "agent name (codex|claude|copilot|...)")
	rootCmd.PersistentFlags().StringVar(&flagProjectRoot, "root", ".", "project root directory")
}

// exitCodeFor maps an error reaching main to spec.md §7's process exit code
// convention: 0 success (cobra returns nil before main ever calls this), 1
// stopped/expected non-success, 2 fatal error. Every error that escapes a
// root command is already the fatal half of that split
// (ConfigurationError, NotAGitRepoError, UnknownAgent) — the supervise
// command computes its own StopReason-based exit code internally via
// supervisor.ExitCode and never returns its "stopped" outcomes as errors.
func exitCodeFor(err error) int {
	return 2
}
