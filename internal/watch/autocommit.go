package watch

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/jscraik/ralph-gold/internal/gate"
	"github.com/jscraik/ralph-gold/internal/rlog"
)

// GateCallback returns a Callback that runs cfg's gate commands after every
// settled debounce window and, when auto_commit is enabled and the gates
// pass, stages everything and commits with the
// "ralph watch: auto-commit after <path>" message spec.md §4.M names
// (<path> is the first changed path in the batch, matching the original's
// single-path commit message convention).
func GateCallback(root string, commands []string, failFast bool, gateTimeout time.Duration, autoCommit bool, logger *rlog.Logger) Callback {
	return func(changed []string) {
		if logger != nil {
			logger.Status("watch: %d file(s) changed, running gates", len(changed))
		}
		report := gate.Run(context.Background(), root, commands, failFast, gateTimeout)
		if !report.Ok {
			if logger != nil {
				logger.Warn("watch: gates failed, skipping auto-commit\n%s", gate.Summarize(report, "errors_only", 0))
			}
			return
		}
		if !autoCommit || len(changed) == 0 {
			return
		}
		if err := autoCommitChange(root, changed[0]); err != nil && logger != nil {
			logger.Warn("watch: auto-commit failed: %v", err)
		}
	}
}

func autoCommitChange(root, path string) error {
	addCmd := exec.Command("git", "add", "-A")
	addCmd.Dir = root
	if err := addCmd.Run(); err != nil {
		return fmt.Errorf("git add: %w", err)
	}

	msg := fmt.Sprintf("ralph watch: auto-commit after %s", path)
	commitCmd := exec.Command("git", "commit", "-m", msg)
	commitCmd.Dir = root
	if out, err := commitCmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git commit: %w (output: %s)", err, out)
	}
	return nil
}
