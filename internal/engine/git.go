package engine

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ErrNotAGitRepo is the engine's NotAGitRepoError (spec.md §7): raised by
// the pre-check, fatal per invocation.
var ErrNotAGitRepo = errors.New("engine: not inside a git repository")

const gitCommandTimeout = 30 * time.Second

// isGitRepo mirrors the teacher's internal/rpi.GetRepoRoot probe.
func isGitRepo(dir string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), gitCommandTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--show-toplevel")
	cmd.Dir = dir
	return cmd.Run() == nil
}

func headCommit(dir string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), gitCommandTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "HEAD")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse HEAD: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// isRepoClean reports whether the working tree has no uncommitted changes,
// via `git status --porcelain`, ignoring the engine's own .ralph/ bookkeeping
// (prompts, logs, receipts, state).
func isRepoClean(dir string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), gitCommandTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", "status", "--porcelain", "--", ".", ":!.ralph")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("git status: %w", err)
	}
	return len(strings.TrimSpace(string(out))) == 0, nil
}

// diff returns the working-tree diff against HEAD, used by the LLM judge
// and review gates.
func diff(dir string) string {
	ctx, cancel := context.WithTimeout(context.Background(), gitCommandTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", "diff", "HEAD")
	cmd.Dir = dir
	out, _ := cmd.Output()
	return string(out)
}
